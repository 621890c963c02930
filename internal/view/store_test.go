package view_test

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/anonto42/nano-midea/livefeed/internal/view"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) models.Timestamp {
	return models.Timestamp{Time: t0.Add(time.Duration(minutes) * time.Minute)}
}

func post(id string, minutes int) models.Post {
	return models.Post{
		Entity: models.Entity{ID: id, AuthorID: "u1", Text: "hi", CreatedAt: at(minutes)},
	}
}

func reply(id, postID string, minutes int) models.Reply {
	return models.Reply{
		Entity: models.Entity{ID: id, AuthorID: "u2", Text: "yo", CreatedAt: at(minutes)},
		PostID: postID,
	}
}

func added(posts ...models.Post) []models.PostChange {
	changes := make([]models.PostChange, 0, len(posts))
	for _, p := range posts {
		changes = append(changes, models.PostChange{Kind: models.Added, Post: p})
	}
	return changes
}

func addedReplies(replies ...models.Reply) []models.ReplyChange {
	changes := make([]models.ReplyChange, 0, len(replies))
	for _, r := range replies {
		changes = append(changes, models.ReplyChange{Kind: models.Added, Reply: r})
	}
	return changes
}

func ids(posts []models.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func newStore() *view.Store {
	return view.NewStore(zerolog.Nop())
}

func TestStore_ApplyPostBatch(t *testing.T) {
	t.Parallel()

	t.Run("adds a post with defaults", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		transitions := store.ApplyPostBatch(added(post("p1", 1)))

		require.Equal(t, []view.Transition{{PostID: "p1", Present: true}}, transitions)
		snapshot := store.Snapshot()
		require.Len(t, snapshot, 1)
		require.Equal(t, "p1", snapshot[0].ID)
		require.Equal(t, "hi", snapshot[0].Text)
		require.Equal(t, 0, snapshot[0].LikeCount)
		require.Empty(t, snapshot[0].Replies)
	})

	t.Run("applying the same ADDED twice is idempotent", func(t *testing.T) {
		t.Parallel()

		once := newStore()
		once.ApplyPostBatch(added(post("p1", 1)))

		twice := newStore()
		twice.ApplyPostBatch(added(post("p1", 1)))
		transitions := twice.ApplyPostBatch(added(post("p1", 1)))

		require.Empty(t, transitions)
		require.Equal(t, once.Snapshot(), twice.Snapshot())
	})

	t.Run("MODIFIED on an unknown id is an insert", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		transitions := store.ApplyPostBatch([]models.PostChange{{Kind: models.Modified, Post: post("p1", 1)}})

		require.Equal(t, []view.Transition{{PostID: "p1", Present: true}}, transitions)
		require.Equal(t, []string{"p1"}, ids(store.Snapshot()))
	})

	t.Run("MODIFIED keeps replies", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		store.ApplyPostBatch(added(post("p1", 1)))
		store.ApplyReplyBatch("p1", addedReplies(reply("r1", "p1", 2)))

		changed := post("p1", 1)
		changed.LikeCount = 4
		store.ApplyPostBatch([]models.PostChange{{Kind: models.Modified, Post: changed}})

		snapshot := store.Snapshot()
		require.Equal(t, 4, snapshot[0].LikeCount)
		require.Len(t, snapshot[0].Replies, 1)
	})

	t.Run("REMOVED on an unknown id is ignored", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		transitions := store.ApplyPostBatch([]models.PostChange{{Kind: models.Removed, Post: models.Post{Entity: models.Entity{ID: "nope"}}}})

		require.Empty(t, transitions)
		require.Empty(t, store.Snapshot())
	})
}

func TestStore_SnapshotOrder(t *testing.T) {
	t.Parallel()

	store := newStore()
	rng := rand.New(rand.NewPCG(1, 2))
	for batch := range 20 {
		var changes []models.PostChange
		for i := range 5 {
			id := fmt.Sprintf("p%02d", rng.IntN(30))
			kind := models.Added
			if rng.IntN(4) == 0 {
				kind = models.Removed
			}
			changes = append(changes, models.PostChange{Kind: kind, Post: post(id, rng.IntN(5)+batch*i%3)})
		}
		store.ApplyPostBatch(changes)

		snapshot := store.Snapshot()
		for i := 1; i < len(snapshot); i++ {
			prev, cur := snapshot[i-1], snapshot[i]
			if prev.CreatedAt.Time.Equal(cur.CreatedAt.Time) {
				require.Less(t, prev.ID, cur.ID)
			} else {
				require.True(t, prev.CreatedAt.Time.After(cur.CreatedAt.Time))
			}
		}
	}
}

func TestStore_ApplyReplyBatch(t *testing.T) {
	t.Parallel()

	t.Run("nests replies ascending", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		store.ApplyPostBatch(added(post("p1", 1)))
		require.True(t, store.ApplyReplyBatch("p1", addedReplies(reply("r2", "p1", 5), reply("r1", "p1", 2))))

		replies := store.Snapshot()[0].Replies
		require.Len(t, replies, 2)
		require.Equal(t, "r1", replies[0].ID)
		require.Equal(t, "r2", replies[1].ID)
		require.Equal(t, "yo", replies[0].Text)
	})

	t.Run("removed post is not resurrected by a late reply batch", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		store.ApplyPostBatch(added(post("p1", 1)))
		store.ApplyReplyBatch("p1", addedReplies(reply("r1", "p1", 2)))

		transitions := store.ApplyPostBatch([]models.PostChange{{Kind: models.Removed, Post: post("p1", 1)}})
		require.Equal(t, []view.Transition{{PostID: "p1", Present: false}}, transitions)

		require.False(t, store.ApplyReplyBatch("p1", addedReplies(reply("r2", "p1", 3))))
		require.Empty(t, store.Snapshot())
	})

	t.Run("ignores replies of another post", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		store.ApplyPostBatch(added(post("p1", 1), post("p2", 2)))
		store.ApplyReplyBatch("p1", addedReplies(reply("r1", "p2", 2)))

		for _, p := range store.Snapshot() {
			require.Empty(t, p.Replies)
		}
	})

	t.Run("removes replies", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		store.ApplyPostBatch(added(post("p1", 1)))
		store.ApplyReplyBatch("p1", addedReplies(reply("r1", "p1", 2)))
		store.ApplyReplyBatch("p1", []models.ReplyChange{{Kind: models.Removed, Reply: reply("r1", "p1", 2)}})

		require.Empty(t, store.Snapshot()[0].Replies)
	})
}

func TestStore_PendingPosts(t *testing.T) {
	t.Parallel()

	pending := func() models.Post {
		p := post("tmp", 10)
		p.ClientRef = "tmp"
		return p
	}

	t.Run("feed confirmation swaps the pending entry", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		store.InsertPendingPost(pending())
		require.True(t, store.Snapshot()[0].Pending)

		confirmed := post("real", 10)
		confirmed.ClientRef = "tmp"
		transitions := store.ApplyPostBatch(added(confirmed))

		require.Equal(t, []view.Transition{{PostID: "real", Present: true}}, transitions)
		snapshot := store.Snapshot()
		require.Equal(t, []string{"real"}, ids(snapshot))
		require.False(t, snapshot[0].Pending)
		require.False(t, store.RekeyPendingPost("tmp", "real"))
	})

	t.Run("rekeyed entry is confirmed by the feed", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		store.InsertPendingPost(pending())
		require.True(t, store.RekeyPendingPost("tmp", "real"))

		snapshot := store.Snapshot()
		require.Equal(t, []string{"real"}, ids(snapshot))
		require.True(t, snapshot[0].Pending)

		transitions := store.ApplyPostBatch(added(post("real", 10)))
		require.Equal(t, []view.Transition{{PostID: "real", Present: true}}, transitions)
		require.False(t, store.Snapshot()[0].Pending)
	})

	t.Run("pending entries take no replies from the feed", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		store.InsertPendingPost(pending())
		require.False(t, store.ApplyReplyBatch("tmp", addedReplies(reply("r1", "tmp", 11))))
	})

	t.Run("removing a pending post restores the snapshot", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		store.ApplyPostBatch(added(post("p1", 1)))
		before := store.Snapshot()

		store.InsertPendingPost(pending())
		require.True(t, store.RemovePendingPost("tmp"))
		require.Equal(t, before, store.Snapshot())
		require.False(t, store.RemovePendingPost("p1"))
	})
}

func TestStore_PendingReplies(t *testing.T) {
	t.Parallel()

	store := newStore()
	store.ApplyPostBatch(added(post("p1", 1)))

	tmp := reply("tmp", "p1", 5)
	tmp.ClientRef = "tmp"
	require.True(t, store.InsertPendingReply(tmp))
	require.False(t, store.InsertPendingReply(reply("tmp2", "missing", 5)))
	require.True(t, store.Snapshot()[0].Replies[0].Pending)

	confirmed := reply("r1", "p1", 5)
	confirmed.ClientRef = "tmp"
	store.ApplyReplyBatch("p1", addedReplies(confirmed))

	replies := store.Snapshot()[0].Replies
	require.Len(t, replies, 1)
	require.Equal(t, "r1", replies[0].ID)
	require.False(t, replies[0].Pending)
}

func TestStore_HiddenEntries(t *testing.T) {
	t.Parallel()

	store := newStore()
	store.ApplyPostBatch(added(post("p1", 1), post("p2", 2)))
	store.ApplyReplyBatch("p1", addedReplies(reply("r1", "p1", 2)))
	before := store.Snapshot()

	require.True(t, store.HidePost("p2"))
	require.Equal(t, []string{"p1"}, ids(store.Snapshot()))
	_, ok := store.Post("p2")
	require.False(t, ok)

	changed := post("p2", 2)
	changed.LikeCount = 0
	store.ApplyPostBatch([]models.PostChange{{Kind: models.Modified, Post: changed}})
	require.Equal(t, []string{"p1"}, ids(store.Snapshot()))

	require.True(t, store.HideReply("p1", "r1"))
	_, ok = store.Reply("r1")
	require.False(t, ok)

	require.True(t, store.UnhidePost("p2"))
	require.True(t, store.UnhideReply("p1", "r1"))
	require.Equal(t, before, store.Snapshot())
}

func TestStore_Likes(t *testing.T) {
	t.Parallel()

	t.Run("like then unlike returns to the initial state", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		initial := post("p1", 1)
		initial.LikeCount = 3
		store.ApplyPostBatch(added(initial))

		liked, delta, ok := store.BeginLike("p1")
		require.True(t, ok)
		require.True(t, liked)
		require.Equal(t, 1, delta)
		require.Equal(t, 4, store.Snapshot()[0].LikeCount)
		store.ConfirmLike("p1", delta, 4)

		liked, delta, ok = store.BeginLike("p1")
		require.True(t, ok)
		require.False(t, liked)
		require.Equal(t, -1, delta)
		store.ConfirmLike("p1", delta, 3)

		snapshot := store.Snapshot()
		require.Equal(t, 3, snapshot[0].LikeCount)
		require.False(t, snapshot[0].ViewerHasLiked)
	})

	t.Run("count never drops below zero", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		store.ApplyPostBatch(added(post("p1", 1)))
		store.SetViewerLiked("p1", true)

		liked, delta, _ := store.BeginLike("p1")
		require.False(t, liked)
		require.Equal(t, 0, store.Snapshot()[0].LikeCount)
		store.ConfirmLike("p1", delta, 0)
		require.Equal(t, 0, store.Snapshot()[0].LikeCount)
	})

	t.Run("rollback restores flag and count", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		store.ApplyPostBatch(added(post("p1", 1)))
		before := store.Snapshot()

		_, delta, _ := store.BeginLike("p1")
		store.SetViewerLiked("p1", false)
		require.True(t, store.Snapshot()[0].ViewerHasLiked)

		store.RollbackLike("p1", delta)
		require.Equal(t, before, store.Snapshot())
	})

	t.Run("counter echo before the ack is not counted twice", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		store.ApplyPostBatch(added(post("p1", 1)))

		_, delta, _ := store.BeginLike("p1")
		require.Equal(t, 1, store.Snapshot()[0].LikeCount)

		echoed := post("p1", 1)
		echoed.LikeCount = 1
		store.ApplyPostBatch([]models.PostChange{{Kind: models.Modified, Post: echoed}})
		require.Equal(t, 1, store.Snapshot()[0].LikeCount)

		store.ConfirmLike("p1", delta, 1)
		require.Equal(t, 1, store.Snapshot()[0].LikeCount)

		// once settled the feed owns the count again
		echoed.LikeCount = 5
		store.ApplyPostBatch([]models.PostChange{{Kind: models.Modified, Post: echoed}})
		require.Equal(t, 5, store.Snapshot()[0].LikeCount)
	})

	t.Run("viewer flag survives feed modifications", func(t *testing.T) {
		t.Parallel()

		store := newStore()
		store.ApplyPostBatch(added(post("p1", 1)))
		store.SetViewerLiked("p1", true)
		store.ApplyPostBatch([]models.PostChange{{Kind: models.Modified, Post: post("p1", 1)}})

		require.True(t, store.Snapshot()[0].ViewerHasLiked)
	})
}

func TestStore_OnViewChanged(t *testing.T) {
	t.Parallel()

	store := newStore()
	var calls atomic.Int32
	cancel := store.OnViewChanged(func() { calls.Add(1) })

	store.ApplyPostBatch(added(post("p1", 1)))
	store.ApplyReplyBatch("p1", addedReplies(reply("r1", "p1", 2)))
	store.HidePost("p1")
	require.Equal(t, int32(3), calls.Load())

	cancel()
	cancel()
	store.UnhidePost("p1")
	require.Equal(t, int32(3), calls.Load())
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	t.Parallel()

	store := newStore()
	store.ApplyPostBatch(added(post("p1", 1)))
	store.ApplyReplyBatch("p1", addedReplies(reply("r1", "p1", 2)))

	snapshot := store.Snapshot()
	snapshot[0].Text = "changed"
	snapshot[0].Replies[0].Text = "changed"

	fresh := store.Snapshot()
	require.Equal(t, "hi", fresh[0].Text)
	require.Equal(t, "yo", fresh[0].Replies[0].Text)
}

func TestStore_ConcurrentSnapshots(t *testing.T) {
	t.Parallel()

	store := newStore()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 200 {
			store.ApplyPostBatch(added(post(fmt.Sprintf("p%d", i), i)))
			store.ApplyReplyBatch(fmt.Sprintf("p%d", i), addedReplies(reply(fmt.Sprintf("r%d", i), fmt.Sprintf("p%d", i), i)))
		}
	}()

	for {
		select {
		case <-done:
			require.Len(t, store.Snapshot(), 200)
			return
		default:
			for _, p := range store.Snapshot() {
				require.LessOrEqual(t, len(p.Replies), 1)
			}
		}
	}
}
