package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"smig-go/internal/smig"
)

// pollInterval is how often idle receivers look for deliverable messages.
const pollInterval = 50 * time.Millisecond

// MemoryQueue is an in-memory implementation of the Queue interface with
// at-least-once semantics: deliveries are locked for the consumer's
// lock-renewal ceiling, abandoned or expired messages become deliverable
// again, and messages exceeding the max delivery count are dead-lettered.
// Useful for tests and single-process runs; it is not durable.
type MemoryQueue struct {
	mu          sync.Mutex
	msgs        []*memMessage
	dead        []*memMessage
	maxDelivery int
}

type memMessage struct {
	id          string
	body        []byte
	delivered   int
	lockedUntil time.Time
	deadReason  string
}

// NewMemoryQueue creates a queue. maxDelivery dead-letters a message after
// that many deliveries; zero means unlimited redelivery.
func NewMemoryQueue(maxDelivery int) *MemoryQueue {
	return &MemoryQueue{maxDelivery: maxDelivery}
}

func (q *MemoryQueue) Send(_ context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, &memMessage{
		id:   uuid.New().String(),
		body: append([]byte(nil), body...),
	})
	return nil
}

func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs), nil
}

// DeadLetters returns the dead-lettered message bodies and reasons.
func (q *MemoryQueue) DeadLetters() map[string]string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]string, len(q.dead))
	for _, m := range q.dead {
		out[string(m.body)] = m.deadReason
	}
	return out
}

// Subscribe starts the receiver goroutines and returns. Handlers run until
// ctx is cancelled, at most opts.MaxConcurrent at a time.
func (q *MemoryQueue) Subscribe(ctx context.Context, opts smig.SubscribeOptions, h smig.Handler) error {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.LockRenewal <= 0 {
		opts.LockRenewal = 5 * time.Minute
	}

	sem := make(chan struct{}, opts.MaxConcurrent)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}

			msg, ok := q.next(opts.LockRenewal)
			if !ok {
				<-sem
				select {
				case <-ctx.Done():
					return
				case <-time.After(pollInterval):
				}
				continue
			}

			go func(m *memMessage) {
				defer func() { <-sem }()
				h(ctx, smig.Message{ID: m.id, Body: m.body, DeliveryCount: m.delivered}, &memActions{q: q, m: m})
			}(msg)
		}
	}()
	return nil
}

// next locks and returns the oldest deliverable message. Messages past
// their delivery budget are dead-lettered instead of delivered.
func (q *MemoryQueue) next(lock time.Duration) (*memMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for i, m := range q.msgs {
		if m.lockedUntil.After(now) {
			continue
		}
		if q.maxDelivery > 0 && m.delivered >= q.maxDelivery {
			m.deadReason = "delivery count exceeded"
			q.dead = append(q.dead, m)
			q.msgs = append(q.msgs[:i], q.msgs[i+1:]...)
			return q.nextLocked(lock, now)
		}
		m.delivered++
		m.lockedUntil = now.Add(lock)
		return m, true
	}
	return nil, false
}

// nextLocked retries next after a removal invalidated the iteration.
// Callers hold q.mu.
func (q *MemoryQueue) nextLocked(lock time.Duration, now time.Time) (*memMessage, bool) {
	for _, m := range q.msgs {
		if m.lockedUntil.After(now) {
			continue
		}
		if q.maxDelivery > 0 && m.delivered >= q.maxDelivery {
			continue // picked up on a later pass
		}
		m.delivered++
		m.lockedUntil = now.Add(lock)
		return m, true
	}
	return nil, false
}

type memActions struct {
	q *MemoryQueue
	m *memMessage
}

func (a *memActions) Complete(context.Context) error {
	a.q.mu.Lock()
	defer a.q.mu.Unlock()
	a.q.remove(a.m)
	return nil
}

func (a *memActions) Abandon(context.Context) error {
	a.q.mu.Lock()
	defer a.q.mu.Unlock()
	a.m.lockedUntil = time.Time{}
	return nil
}

func (a *memActions) DeadLetter(_ context.Context, reason string) error {
	a.q.mu.Lock()
	defer a.q.mu.Unlock()
	a.m.deadReason = reason
	a.q.dead = append(a.q.dead, a.m)
	a.q.remove(a.m)
	return nil
}

// remove deletes m from the live slice. Callers hold q.mu.
func (q *MemoryQueue) remove(m *memMessage) {
	for i, cur := range q.msgs {
		if cur == m {
			q.msgs = append(q.msgs[:i], q.msgs[i+1:]...)
			return
		}
	}
}
