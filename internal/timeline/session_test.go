package timeline_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anonto42/nano-midea/livefeed/internal/feed"
	"github.com/anonto42/nano-midea/livefeed/internal/gateway"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/anonto42/nano-midea/livefeed/internal/repositories"
	"github.com/anonto42/nano-midea/livefeed/internal/timeline"
	"github.com/anonto42/nano-midea/livefeed/internal/validators"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newDeps() (timeline.Deps, *repositories.MemoryDocumentRepository) {
	docs := repositories.NewMemoryDocumentRepository()
	return timeline.Deps{
		Source:    feed.NewMemorySource(docs, zerolog.Nop()),
		Docs:      docs,
		Profiles:  repositories.NewProfileRepository(docs),
		Validator: validators.NewValidator(),
		Timeout:   time.Second,
	}, docs
}

// gatedDocs holds writes to one collection until the test releases them.
type gatedDocs struct {
	*repositories.MemoryDocumentRepository

	collection string
	entered    chan struct{}
	release    chan error
}

func newGatedDeps(collection string) (timeline.Deps, *gatedDocs) {
	deps, docs := newDeps()
	gated := &gatedDocs{
		MemoryDocumentRepository: docs,
		collection:               collection,
		entered:                  make(chan struct{}, 8),
		release:                  make(chan error, 8),
	}
	deps.Docs = gated
	deps.Timeout = 10 * time.Second
	return deps, gated
}

func (g *gatedDocs) wait(ctx context.Context, collection string) error {
	if collection != g.collection {
		return nil
	}
	g.entered <- struct{}{}
	select {
	case err := <-g.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gatedDocs) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := g.wait(ctx, collection); err != nil {
		return "", err
	}
	return g.MemoryDocumentRepository.Create(ctx, collection, fields)
}

func (g *gatedDocs) Update(ctx context.Context, collection, id string, fields map[string]any, mode repositories.WriteMode) error {
	if err := g.wait(ctx, collection); err != nil {
		return err
	}
	return g.MemoryDocumentRepository.Update(ctx, collection, id, fields, mode)
}

func seedPost(t *testing.T, docs repositories.DocumentRepository, id, author, profile string, minutes int) {
	t.Helper()

	require.NoError(t, docs.Update(context.Background(), models.PostsCollection, id, map[string]any{
		models.FieldPostAuthor:     author,
		models.FieldPostProfileUID: profile,
		models.FieldText:           "post " + id,
		models.FieldPostTimestamp:  t0.Add(time.Duration(minutes) * time.Minute),
		models.FieldPostLikeCount:  0,
	}, repositories.Replace))
}

func postIDs(posts []models.Post) []string {
	return lo.Map(posts, func(p models.Post, _ int) string { return p.ID })
}

func startSession(t *testing.T, scope timeline.Scope, principal *models.Principal, deps timeline.Deps) *timeline.Session {
	t.Helper()

	session, err := timeline.NewSession(scope, principal, deps, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, session.Start(context.Background()))
	t.Cleanup(session.Close)
	return session
}

func TestPostsQuery(t *testing.T) {
	t.Parallel()

	home := timeline.PostsQuery(timeline.Scope{Origin: timeline.OriginHome, ProfileID: "u1"}, "u1")
	require.True(t, home.Matches(map[string]any{"profileUid": "u1", "uid": "u9"}))
	require.False(t, home.Matches(map[string]any{"profileUid": "u2", "uid": "u1"}))
	require.Equal(t, "timestamp", home.OrderBy)
	require.True(t, home.Descending)

	user := timeline.PostsQuery(timeline.Scope{Origin: timeline.OriginUser, ProfileID: "u2"}, "u1")
	require.True(t, user.Matches(map[string]any{"profileUid": "u2", "uid": "u2"}))
	require.True(t, user.Matches(map[string]any{"profileUid": "u2", "uid": "u1"}))
	require.False(t, user.Matches(map[string]any{"profileUid": "u2", "uid": "u3"}))

	replies := timeline.RepliesQuery("p1")
	require.True(t, replies.Matches(map[string]any{"postId": "p1"}))
	require.False(t, replies.Descending)

	require.Error(t, timeline.Scope{Origin: "elsewhere", ProfileID: "u1"}.Validate())
	require.Error(t, timeline.Scope{Origin: timeline.OriginHome}.Validate())
}

func TestSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	home := timeline.Scope{Origin: timeline.OriginHome, ProfileID: "u1"}

	t.Run("shows the home timeline newest first", func(t *testing.T) {
		t.Parallel()

		deps, docs := newDeps()
		seedPost(t, docs, "a", "u1", "u1", 1)
		seedPost(t, docs, "b", "u3", "u1", 2)
		seedPost(t, docs, "c", "u2", "u2", 3)

		session := startSession(t, home, &models.Principal{UID: "u1"}, deps)
		require.Eventually(t, func() bool {
			return len(session.Snapshot()) == 2
		}, waitFor, tick)
		require.Equal(t, []string{"b", "a"}, postIDs(session.Snapshot()))
	})

	t.Run("created posts are confirmed by the feed", func(t *testing.T) {
		t.Parallel()

		deps, _ := newDeps()
		session := startSession(t, home, &models.Principal{UID: "u1", Username: "one"}, deps)

		gw, err := session.Gateway()
		require.NoError(t, err)
		_, handle, err := gw.CreatePost("hello", "")
		require.NoError(t, err)
		out, err := handle.Wait(ctx)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			snapshot := session.Snapshot()
			return len(snapshot) == 1 && snapshot[0].ID == out.ID && !snapshot[0].Pending && !snapshot[0].CreatedAt.Pending
		}, waitFor, tick)
	})

	t.Run("replies are attached to their post", func(t *testing.T) {
		t.Parallel()

		deps, docs := newDeps()
		seedPost(t, docs, "p1", "u1", "u1", 1)
		session := startSession(t, home, &models.Principal{UID: "u1"}, deps)
		require.Eventually(t, func() bool { return len(session.Snapshot()) == 1 }, waitFor, tick)

		gw, err := session.Gateway()
		require.NoError(t, err)
		_, handle, err := gw.CreateReply("p1", "first")
		require.NoError(t, err)
		_, err = handle.Wait(ctx)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			replies := session.Snapshot()[0].Replies
			return len(replies) == 1 && replies[0].Text == "first" && !replies[0].Pending
		}, waitFor, tick)
	})

	t.Run("like markers hydrate the viewer flag", func(t *testing.T) {
		t.Parallel()

		deps, docs := newDeps()
		seedPost(t, docs, "p1", "u2", "u1", 1)
		seedPost(t, docs, "p2", "u2", "u1", 2)
		require.NoError(t, docs.Update(ctx, models.LikesCollection("p1"), "u1", map[string]any{"userId": "u1"}, repositories.Replace))

		session := startSession(t, home, &models.Principal{UID: "u1"}, deps)
		require.Eventually(t, func() bool {
			posts := session.Snapshot()
			return len(posts) == 2 && posts[1].ID == "p1" && posts[1].ViewerHasLiked
		}, waitFor, tick)
		require.False(t, session.Snapshot()[0].ViewerHasLiked)
	})

	t.Run("principal change resubscribes", func(t *testing.T) {
		t.Parallel()

		deps, docs := newDeps()
		seedPost(t, docs, "mine", "u1", "u1", 1)
		seedPost(t, docs, "theirs", "u2", "u2", 2)

		session := startSession(t, home, &models.Principal{UID: "u1"}, deps)
		require.Eventually(t, func() bool {
			return lo.Contains(postIDs(session.Snapshot()), "mine")
		}, waitFor, tick)

		session.SetPrincipal(&models.Principal{UID: "u2"})
		require.Eventually(t, func() bool {
			ids := postIDs(session.Snapshot())
			return len(ids) == 1 && ids[0] == "theirs"
		}, waitFor, tick)
		require.Equal(t, "u2", session.Principal().UID)

		// writes to the old timeline no longer reach the view
		seedPost(t, docs, "late", "u1", "u1", 3)
		time.Sleep(50 * time.Millisecond)
		require.Equal(t, []string{"theirs"}, postIDs(session.Snapshot()))
	})

	t.Run("a settling commit of the previous viewer leaves the new view alone", func(t *testing.T) {
		t.Parallel()

		deps, docs := newGatedDeps(models.LikesCollection("p1"))
		seedPost(t, docs, "p1", "u2", "u2", 1)
		userScope := timeline.Scope{Origin: timeline.OriginUser, ProfileID: "u2"}

		session := startSession(t, userScope, &models.Principal{UID: "u1"}, deps)
		require.Eventually(t, func() bool {
			return len(session.Snapshot()) == 1
		}, waitFor, tick)

		var settled atomic.Int32
		session.OnSettled(func(gateway.Outcome, error) { settled.Add(1) })

		oldGateway, err := session.Gateway()
		require.NoError(t, err)
		handle, err := oldGateway.ToggleLike("p1")
		require.NoError(t, err)
		<-docs.entered
		require.True(t, session.Snapshot()[0].ViewerHasLiked)

		session.SetPrincipal(&models.Principal{UID: "u3"})
		require.Eventually(t, func() bool {
			posts := session.Snapshot()
			return len(posts) == 1 && !posts[0].ViewerHasLiked
		}, waitFor, tick)

		docs.release <- repositories.ErrUnavailable
		_, err = handle.Wait(ctx)
		require.ErrorIs(t, err, repositories.ErrUnavailable)

		time.Sleep(50 * time.Millisecond)
		posts := session.Snapshot()
		require.False(t, posts[0].ViewerHasLiked)
		require.Equal(t, 0, posts[0].LikeCount)
		require.Zero(t, settled.Load())

		_, err = oldGateway.ToggleLike("p1")
		require.ErrorIs(t, err, gateway.ErrClosed)

		current, err := session.Gateway()
		require.NoError(t, err)
		require.NotSame(t, oldGateway, current)
	})

	t.Run("a post created before the switch is not shown to the new viewer", func(t *testing.T) {
		t.Parallel()

		deps, docs := newGatedDeps(models.PostsCollection)
		session := startSession(t, home, &models.Principal{UID: "u1"}, deps)

		gw, err := session.Gateway()
		require.NoError(t, err)
		_, handle, err := gw.CreatePost("before the switch", "")
		require.NoError(t, err)
		<-docs.entered
		require.Len(t, session.Snapshot(), 1)

		session.SetPrincipal(&models.Principal{UID: "u3"})
		require.Eventually(t, func() bool {
			return session.Principal().UID == "u3" && len(session.Snapshot()) == 0
		}, waitFor, tick)

		docs.release <- nil
		_, err = handle.Wait(ctx)
		require.NoError(t, err)

		time.Sleep(50 * time.Millisecond)
		require.Empty(t, session.Snapshot())
	})

	t.Run("signed-in viewers get a profile document", func(t *testing.T) {
		t.Parallel()

		deps, docs := newDeps()
		startSession(t, home, &models.Principal{UID: "u1", DisplayName: "One"}, deps)

		doc, err := docs.Get(ctx, models.UsersCollection, "u1")
		require.NoError(t, err)
		require.Equal(t, "One", doc.Fields[models.FieldDisplayName])
	})

	t.Run("settled mutations are reported", func(t *testing.T) {
		t.Parallel()

		deps, _ := newDeps()
		session := startSession(t, home, &models.Principal{UID: "u1"}, deps)

		settled := make(chan gateway.Outcome, 1)
		session.OnSettled(func(out gateway.Outcome, _ error) { settled <- out })

		gw, err := session.Gateway()
		require.NoError(t, err)
		_, _, err = gw.CreatePost("hi", "")
		require.NoError(t, err)

		select {
		case out := <-settled:
			require.Equal(t, gateway.OpCreatePost, out.Op)
		case <-time.After(waitFor):
			t.Fatal("mutation never settled")
		}
	})

	t.Run("closed sessions refuse writes", func(t *testing.T) {
		t.Parallel()

		deps, _ := newDeps()
		session := startSession(t, home, &models.Principal{UID: "u1"}, deps)
		session.Close()
		session.Close()

		_, err := session.Gateway()
		require.ErrorIs(t, err, timeline.ErrClosed)
	})
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	deps, _ := newDeps()
	registry := timeline.NewRegistry()
	ctx := context.Background()

	signedIn, err := registry.Open(ctx, timeline.Scope{Origin: timeline.OriginHome, ProfileID: "u1"}, &models.Principal{UID: "u1"}, deps, zerolog.Nop())
	require.NoError(t, err)
	guest := models.Principal{UID: models.GuestPrefix + "u1", Anonymous: true}
	_, err = registry.Open(ctx, timeline.Scope{Origin: timeline.OriginUser, ProfileID: "u1"}, &guest, deps, zerolog.Nop())
	require.NoError(t, err)

	require.Equal(t, 2, registry.Len())
	require.Equal(t, []string{"u1"}, registry.ActiveViewers())

	got, ok := registry.Get(signedIn.ID())
	require.True(t, ok)
	require.Same(t, signedIn, got)

	registry.Remove(signedIn.ID())
	_, ok = registry.Get(signedIn.ID())
	require.False(t, ok)
	require.Empty(t, registry.ActiveViewers())

	registry.Close()
	require.Zero(t, registry.Len())
}
