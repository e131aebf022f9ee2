package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/muto/internal/models"
)

// QueueManager manages the persistent message queue
type QueueManager interface {
	// Enqueue adds a message to the queue
	Enqueue(ctx context.Context, msg models.TransformMessage) error

	// Receive pulls the next visible message along with an acknowledge
	// function. Returns models.ErrNoMessage when the queue is empty.
	Receive(ctx context.Context) (*models.QueueDelivery, func() error, error)

	// Extend renews the visibility lease on an in-flight message
	Extend(ctx context.Context, messageID string, duration time.Duration) error

	// Close releases queue resources
	Close() error
}
