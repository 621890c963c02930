package feed

import (
	"context"
	"fmt"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/rs/zerolog"
)

// Backend is an in-process document store that can be queried and watched.
type Backend interface {
	Find(ctx context.Context, query Query) ([]models.RawDocument, error)
	// Watch calls fn with every write to collection until the returned function is called.
	Watch(collection string, fn func(models.Change)) (cancel func())
}

// MemorySource serves live queries from an in-process Backend.
type MemorySource struct {
	backend Backend
	logger  zerolog.Logger
}

func NewMemorySource(backend Backend, logger zerolog.Logger) *MemorySource {
	return &MemorySource{
		backend: backend,
		logger:  logger.With().Str("component", "feed").Str("source", "memory").Logger(),
	}
}

// Subscribe starts watching before loading the initial result, so no write between
// the two is lost; replayed writes collapse into MODIFIED events.
func (m *MemorySource) Subscribe(ctx context.Context, query Query, handler Handler) (Subscription, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := newSubscription(cancel, query, handler)
	box := newMailbox()

	stopWatch := m.backend.Watch(query.Collection, func(change models.Change) {
		box.push([]models.Change{change})
	})
	sub.onClose = stopWatch

	docs, err := m.backend.Find(ctx, query)
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to load %s: %w", query.Key(), err)
	}
	box.prepend(initialBatch(query, docs))

	go box.run(runCtx, sub.deliver)

	m.logger.Debug().Str("query", query.Key()).Int("initial", len(docs)).Msg("subscribed")
	return sub, nil
}
