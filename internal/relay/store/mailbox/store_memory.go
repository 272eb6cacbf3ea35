package mailbox

import (
	"context"
	"sync"
	"time"

	"relay/internal/relay/models"
	id "relay/pkg/domain"
)

// InMemory owns pending messages keyed by recipient. The outer lock guards only
// the recipient→queue map; every read or mutation of a queue happens under that
// queue's own lock, so deposit, drain and purge linearize per recipient without
// serializing unrelated recipients.
type InMemory struct {
	mu        sync.RWMutex
	queues    map[id.IdentityID]*queue
	retention time.Duration
}

type queue struct {
	mu       sync.Mutex
	messages []models.PendingMessage
}

// NewInMemory constructs an empty mailbox with the given retention window.
// A non-positive retention falls back to models.DefaultRetention.
func NewInMemory(retention time.Duration) *InMemory {
	if retention <= 0 {
		retention = models.DefaultRetention
	}
	return &InMemory{
		queues:    make(map[id.IdentityID]*queue),
		retention: retention,
	}
}

// Retention returns the configured retention window.
func (s *InMemory) Retention() time.Duration {
	return s.retention
}

func (s *InMemory) queue(recipient id.IdentityID, create bool) *queue {
	s.mu.RLock()
	q := s.queues[recipient]
	s.mu.RUnlock()
	if q != nil || !create {
		return q
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q = s.queues[recipient]; q == nil {
		q = &queue{}
		s.queues[recipient] = q
	}
	return q
}

// Deposit appends msg to its recipient's queue. Body validation is the caller's job.
func (s *InMemory) Deposit(_ context.Context, msg models.PendingMessage) error {
	q := s.queue(msg.Recipient, true)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

// Drain atomically removes and returns every pending message for recipient in
// insertion order. Messages past retention at now are discarded, not returned.
func (s *InMemory) Drain(_ context.Context, recipient id.IdentityID, now time.Time) ([]models.PendingMessage, error) {
	q := s.queue(recipient, false)
	if q == nil {
		return nil, nil
	}

	q.mu.Lock()
	taken := q.messages
	q.messages = nil
	q.mu.Unlock()

	return s.live(taken, now), nil
}

// PurgeExpired drops messages older than the retention window across all
// recipients and returns how many were removed. Each queue is filtered under
// its own lock; no lock is held across the sweep.
func (s *InMemory) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.RLock()
	snapshot := make([]*queue, 0, len(s.queues))
	for _, q := range s.queues {
		snapshot = append(snapshot, q)
	}
	s.mu.RUnlock()

	removed := 0
	for _, q := range snapshot {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		q.mu.Lock()
		kept := s.live(q.messages, now)
		removed += len(q.messages) - len(kept)
		q.messages = kept
		q.mu.Unlock()
	}
	return removed, nil
}

// Pending returns the number of messages currently held for recipient,
// including any that have expired but not yet been purged.
func (s *InMemory) Pending(_ context.Context, recipient id.IdentityID) (int, error) {
	q := s.queue(recipient, false)
	if q == nil {
		return 0, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages), nil
}

// live returns the messages still within retention, preserving order.
func (s *InMemory) live(messages []models.PendingMessage, now time.Time) []models.PendingMessage {
	var kept []models.PendingMessage
	for _, m := range messages {
		if !m.ExpiredAt(now, s.retention) {
			kept = append(kept, m)
		}
	}
	return kept
}
