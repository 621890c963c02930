package feed

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreSource serves live queries from Firestore query snapshots.
type FirestoreSource struct {
	client *firestore.Client
	logger zerolog.Logger
}

func NewFirestoreSource(client *firestore.Client, logger zerolog.Logger) *FirestoreSource {
	return &FirestoreSource{
		client: client,
		logger: logger.With().Str("component", "feed").Str("source", "firestore").Logger(),
	}
}

// FirestoreQuery builds the native query for q.
func FirestoreQuery(client *firestore.Client, q Query) firestore.Query {
	query := client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		query = query.Where(f.Field, string(f.Op), f.Value)
	}
	if q.OrderBy != "" {
		direction := firestore.Asc
		if q.Descending {
			direction = firestore.Desc
		}
		query = query.OrderBy(q.OrderBy, direction)
	}
	return query
}

func (f *FirestoreSource) Subscribe(ctx context.Context, query Query, handler Handler) (Subscription, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := newSubscription(cancel, query, handler)
	logger := f.logger.With().Str("query", query.Key()).Logger()

	it := FirestoreQuery(f.client, query).Snapshots(runCtx)

	// Stop must not race Next, so both stay on this goroutine.
	go func() {
		defer it.Stop()

		for {
			snap, err := it.Next()
			if err != nil {
				if runCtx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
					return
				}
				logger.Error().Err(err).Msg("snapshot listener failed")
				return
			}

			changes := make([]models.Change, 0, len(snap.Changes))
			for _, change := range snap.Changes {
				changes = append(changes, models.Change{
					Kind:     firestoreKind(change.Kind),
					EntityID: change.Doc.Ref.ID,
					Payload:  change.Doc.Data(),
				})
			}
			sub.deliver(changes)
		}
	}()

	logger.Debug().Msg("subscribed")
	return sub, nil
}

func firestoreKind(kind firestore.DocumentChangeKind) models.ChangeKind {
	switch kind {
	case firestore.DocumentAdded:
		return models.Added
	case firestore.DocumentRemoved:
		return models.Removed
	default:
		return models.Modified
	}
}
