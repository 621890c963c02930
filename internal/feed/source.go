// Package feed contains the change-feed sources a timeline subscribes to.
package feed

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
)

// Handler receives non-empty, ordered change batches. It is always invoked on a source
// goroutine and never from within Subscribe; batches of one subscription never overlap.
type Handler func(changes []models.Change)

// Subscription is a live query handle.
type Subscription interface {
	// Unsubscribe cancels the subscription. It is idempotent and does not wait for an
	// in-flight batch; no batch starts after it returns.
	Unsubscribe()
}

// Source opens live queries against a document store.
type Source interface {
	Subscribe(ctx context.Context, query Query, handler Handler) (Subscription, error)
}

// subscription is the delivery half shared by the sources.
type subscription struct {
	cancel  context.CancelFunc
	closed  atomic.Bool
	handler Handler
	tracker *tracker
	once    sync.Once
	onClose func()
}

func newSubscription(cancel context.CancelFunc, query Query, handler Handler) *subscription {
	return &subscription{cancel: cancel, handler: handler, tracker: newTracker(query)}
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// deliver translates raw store changes into query-relative changes and hands them to
// the handler.
func (s *subscription) deliver(raw []models.Change) {
	if s.closed.Load() {
		return
	}
	changes := s.tracker.translate(raw)
	if len(changes) == 0 || s.closed.Load() {
		return
	}
	s.handler(changes)
}

// tracker remembers which documents currently match a query so that raw document
// writes can be turned into ADDED/MODIFIED/REMOVED events relative to the query.
type tracker struct {
	query   Query
	members map[string]bool
}

func newTracker(query Query) *tracker {
	return &tracker{query: query, members: make(map[string]bool)}
}

func (t *tracker) translate(raw []models.Change) []models.Change {
	out := make([]models.Change, 0, len(raw))
	for _, change := range raw {
		member := t.members[change.EntityID]
		if change.Kind == models.Removed {
			if member {
				delete(t.members, change.EntityID)
				out = append(out, models.Change{Kind: models.Removed, EntityID: change.EntityID})
			}
			continue
		}

		matches := t.query.Matches(change.Payload)
		switch {
		case matches && member:
			out = append(out, models.Change{Kind: models.Modified, EntityID: change.EntityID, Payload: change.Payload})
		case matches:
			t.members[change.EntityID] = true
			out = append(out, models.Change{Kind: models.Added, EntityID: change.EntityID, Payload: change.Payload})
		case member:
			delete(t.members, change.EntityID)
			out = append(out, models.Change{Kind: models.Removed, EntityID: change.EntityID})
		}
	}
	return out
}

// initialBatch renders a query result as the ADDED batch a subscription starts with.
func initialBatch(query Query, docs []models.RawDocument) []models.Change {
	query.Sort(docs)
	changes := make([]models.Change, 0, len(docs))
	for _, doc := range docs {
		changes = append(changes, models.Change{Kind: models.Added, EntityID: doc.ID, Payload: doc.Fields})
	}
	return changes
}

// mailbox queues raw change batches and delivers them in order on one goroutine.
type mailbox struct {
	mu      sync.Mutex
	queue   [][]models.Change
	signal  chan struct{}
	stopped bool
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(batch []models.Change) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, batch)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// prepend puts a batch in front of everything queued so far.
func (m *mailbox) prepend(batch []models.Change) {
	m.mu.Lock()
	m.queue = append([][]models.Change{batch}, m.queue...)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) run(ctx context.Context, deliver func([]models.Change)) {
	defer func() {
		m.mu.Lock()
		m.stopped = true
		m.queue = nil
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.signal:
		}

		for {
			m.mu.Lock()
			if len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			batch := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()

			if ctx.Err() != nil {
				return
			}
			deliver(batch)
		}
	}
}
