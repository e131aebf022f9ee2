package models

import (
	"errors"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// TransformMessage is the structure stored in the queue.
// Keep it simple - just enough to route the worker to the job record.
type TransformMessage struct {
	JobID   string `json:"job_id"` // References TransformJob.JobID
	OwnerID string `json:"owner_id"`
}

// QueueDelivery is a received queue message plus its delivery metadata.
// Poisoned marks a message that exhausted its receive budget; the consumer
// is expected to fail the underlying job and acknowledge the message.
type QueueDelivery struct {
	MessageID    string
	Message      TransformMessage
	ReceiveCount int
	Poisoned     bool
}
