package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/muto/internal/interfaces"
	"github.com/ternarybob/muto/internal/models"
)

// memJobStorage is an in-memory JobStorage with the same transition
// semantics as the Badger implementation
type memJobStorage struct {
	mu   sync.Mutex
	jobs map[string]*models.TransformJob
}

func newMemJobStorage() *memJobStorage {
	return &memJobStorage{jobs: make(map[string]*models.TransformJob)}
}

func (m *memJobStorage) SaveJob(ctx context.Context, job *models.TransformJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.JobID] = &copied
	return nil
}

func (m *memJobStorage) GetJob(ctx context.Context, jobID string) (*models.TransformJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *memJobStorage) ClaimJob(ctx context.Context, jobID string) (*models.TransformJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	if job.Status != models.JobStatusQueued {
		return nil, interfaces.ErrNotClaimable
	}
	job.MarkProcessing()
	copied := *job
	return &copied, nil
}

func (m *memJobStorage) CompleteJob(ctx context.Context, jobID string, result *models.TransformResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return interfaces.ErrJobTerminal
	}
	job.MarkCompleted(result)
	return nil
}

func (m *memJobStorage) FailJob(ctx context.Context, jobID string, jobErr *models.JobError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return interfaces.ErrJobTerminal
	}
	job.MarkFailed(jobErr)
	return nil
}

func (m *memJobStorage) RequeueJob(ctx context.Context, jobID string) (*models.TransformJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	if job.Status != models.JobStatusProcessing {
		return nil, interfaces.ErrNotClaimable
	}
	job.MarkRequeued()
	copied := *job
	return &copied, nil
}

func (m *memJobStorage) ListJobsByOwner(ctx context.Context, ownerID string, limit int) ([]*models.TransformJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.TransformJob
	for _, job := range m.jobs {
		if job.OwnerID == ownerID {
			copied := *job
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (m *memJobStorage) GetStaleJobs(ctx context.Context, staleAfter time.Duration) ([]*models.TransformJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	threshold := time.Now().Add(-staleAfter)
	var result []*models.TransformJob
	for _, job := range m.jobs {
		if job.Status != models.JobStatusProcessing {
			continue
		}
		if job.StartedAt != nil && job.StartedAt.Before(threshold) {
			copied := *job
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *memJobStorage) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, job := range m.jobs {
		if job.Status == status {
			count++
		}
	}
	return count, nil
}

// memQueue is an in-memory QueueManager
type memQueue struct {
	mu       sync.Mutex
	messages []models.TransformMessage
	received int
	acked    int
	extended int
}

func newMemQueue() *memQueue {
	return &memQueue{}
}

func (q *memQueue) Enqueue(ctx context.Context, msg models.TransformMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

func (q *memQueue) Receive(ctx context.Context) (*models.QueueDelivery, func() error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return nil, nil, models.ErrNoMessage
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	q.received++
	delivery := &models.QueueDelivery{
		MessageID:    msg.JobID,
		Message:      msg,
		ReceiveCount: 1,
	}
	ack := func() error {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.acked++
		return nil
	}
	return delivery, ack, nil
}

func (q *memQueue) Extend(ctx context.Context, messageID string, duration time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.extended++
	return nil
}

func (q *memQueue) Close() error { return nil }

func (q *memQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *memQueue) ackCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked
}

func (q *memQueue) extendCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.extended
}

// memDocStorage is an in-memory DocumentStorage
type memDocStorage struct {
	docs map[string]*models.Document
}

func newMemDocStorage(docs ...*models.Document) *memDocStorage {
	m := &memDocStorage{docs: make(map[string]*models.Document)}
	for _, doc := range docs {
		m.docs[doc.ID] = doc
	}
	return m
}

func (m *memDocStorage) SaveDocument(ctx context.Context, doc *models.Document) error {
	m.docs[doc.ID] = doc
	return nil
}

func (m *memDocStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return doc, nil
}

func (m *memDocStorage) DeleteDocument(ctx context.Context, id string) error {
	delete(m.docs, id)
	return nil
}

func (m *memDocStorage) ListDocumentsByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Document, error) {
	return nil, nil
}

func (m *memDocStorage) CountDocuments(ctx context.Context) (int, error) {
	return len(m.docs), nil
}

// fakePipeline returns a canned result or error
type fakePipeline struct {
	result *models.TransformResult
	err    *models.JobError
	delay  time.Duration
	runs   int
	mu     sync.Mutex
}

func (f *fakePipeline) Run(ctx context.Context, job *models.TransformJob) (*models.TransformResult, *models.JobError) {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, &models.JobError{Message: "pipeline deadline exceeded", Stage: models.StagePipeline}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}
