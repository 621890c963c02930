package feed_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anonto42/nano-midea/livefeed/internal/feed"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/anonto42/nano-midea/livefeed/internal/repositories"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]models.Change
}

func (r *recorder) handle(changes []models.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, changes)
}

func (r *recorder) kinds() []models.ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.ChangeKind
	for _, batch := range r.batches {
		for _, change := range batch {
			out = append(out, change.Kind)
		}
	}
	return out
}

func TestMemorySource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := repositories.NewMemoryDocumentRepository()
	source := feed.NewMemorySource(repo, zerolog.Nop())

	existing, err := repo.Create(ctx, "posts", map[string]any{"profileUid": "u1", "text": "old"})
	require.NoError(t, err)

	rec := &recorder{}
	sub, err := source.Subscribe(ctx, feed.Query{Collection: "posts"}.Where("profileUid", feed.OpEqual, "u1"), rec.handle)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.kinds()) == 1 }, time.Second, time.Millisecond)

	_, err = repo.Create(ctx, "posts", map[string]any{"profileUid": "u2", "text": "elsewhere"})
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, "posts", existing, map[string]any{"text": "edited"}, repositories.Merge))
	require.NoError(t, repo.Update(ctx, "posts", existing, map[string]any{"profileUid": "u2"}, repositories.Merge))

	require.Eventually(t, func() bool {
		kinds := rec.kinds()
		return len(kinds) == 3
	}, time.Second, time.Millisecond)
	require.Equal(t, []models.ChangeKind{models.Added, models.Modified, models.Removed}, rec.kinds())

	sub.Unsubscribe()
	sub.Unsubscribe()

	_, err = repo.Create(ctx, "posts", map[string]any{"profileUid": "u1", "text": "late"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, rec.kinds(), 3)
}

func TestMemorySource_NeverDeliversInsideSubscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := repositories.NewMemoryDocumentRepository()
	_, err := repo.Create(ctx, "replies", map[string]any{"postId": "p1", "text": "yo"})
	require.NoError(t, err)

	var (
		mu         sync.Mutex
		subscribed bool
		early      bool
	)
	mu.Lock()
	sub, err := feed.NewMemorySource(repo, zerolog.Nop()).Subscribe(ctx,
		feed.Query{Collection: "replies"}.Where("postId", feed.OpEqual, "p1"),
		func([]models.Change) {
			mu.Lock()
			defer mu.Unlock()
			early = !subscribed
		})
	require.NoError(t, err)
	subscribed = true
	mu.Unlock()
	defer sub.Unsubscribe()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.False(t, early)
}
