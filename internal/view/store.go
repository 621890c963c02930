// Package view holds the in-memory projection of a timeline: posts with their nested
// replies, plus the local follow sets of the profiles a viewer has seen.
package view

import (
	"slices"
	"strings"
	"sync"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Transition reports that a post entered or left the confirmed part of the view.
type Transition struct {
	PostID  string
	Present bool
}

type postEntry struct {
	post          models.Post
	replies       []models.Reply
	hiddenReplies map[string]bool
	hidden        bool

	liked     bool
	likeDelta int
	likeOps   int
}

func (e *postEntry) render() models.Post {
	post := e.post.Clone()
	post.LikeCount = max(0, post.LikeCount+e.likeDelta)
	post.ViewerHasLiked = e.liked
	post.Replies = lo.Filter(e.replies, func(reply models.Reply, _ int) bool {
		return !e.hiddenReplies[reply.ID]
	})
	return post
}

func (e *postEntry) replyIndex(id string) int {
	return slices.IndexFunc(e.replies, func(reply models.Reply) bool { return reply.ID == id })
}

// Store is the incremental projection of one timeline. Writers are serialized by an
// internal mutex; Snapshot may run concurrently with them and always observes a whole batch.
type Store struct {
	mu        sync.RWMutex
	posts     map[string]*postEntry
	listeners listeners
	logger    zerolog.Logger
}

// NewStore creates an empty Store.
func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		posts:  make(map[string]*postEntry),
		logger: logger.With().Str("component", "view").Logger(),
	}
}

// OnViewChanged registers a callback fired after every applied batch or optimistic
// mutation. The returned function unregisters it.
func (s *Store) OnViewChanged(callback func()) func() {
	return s.listeners.add(callback)
}

// ApplyPostBatch applies a batch of post changes. ADDED and MODIFIED upsert by id,
// REMOVED deletes. The returned transitions are in batch order.
func (s *Store) ApplyPostBatch(changes []models.PostChange) []Transition {
	if len(changes) == 0 {
		return nil
	}

	s.mu.Lock()
	var transitions []Transition
	for _, change := range changes {
		switch change.Kind {
		case models.Added, models.Modified:
			if s.upsertPost(change.Post) {
				transitions = append(transitions, Transition{PostID: change.Post.ID, Present: true})
			}
		case models.Removed:
			if _, ok := s.posts[change.Post.ID]; !ok {
				changesDropped.WithLabelValues("post", "unknown_id").Inc()
				continue
			}
			delete(s.posts, change.Post.ID)
			transitions = append(transitions, Transition{PostID: change.Post.ID, Present: false})
		default:
			changesDropped.WithLabelValues("post", "unknown_kind").Inc()
			continue
		}
		changesApplied.WithLabelValues("post", change.Kind.String()).Inc()
	}
	s.mu.Unlock()

	s.listeners.notify()
	return transitions
}

// upsertPost reports whether the post became confirmed by this change.
func (s *Store) upsertPost(post models.Post) bool {
	if ref := post.ClientRef; ref != "" && ref != post.ID {
		if pending, ok := s.posts[ref]; ok && pending.post.Pending {
			delete(s.posts, ref)
		}
	}

	post.Pending = false
	post.Replies = nil
	post.ViewerHasLiked = false

	entry, ok := s.posts[post.ID]
	if !ok {
		s.posts[post.ID] = &postEntry{post: post, hiddenReplies: make(map[string]bool)}
		return true
	}

	// the base stays put while a toggle is in flight; ConfirmLike or RollbackLike settle it
	if entry.likeOps > 0 {
		post.LikeCount = entry.post.LikeCount
	}
	confirmed := entry.post.Pending
	entry.post = post
	return confirmed
}

// ApplyReplyBatch applies a batch of reply changes scoped to one post. A batch for a
// post that is not in the view is dropped and false is returned.
func (s *Store) ApplyReplyBatch(postID string, changes []models.ReplyChange) bool {
	if len(changes) == 0 {
		return true
	}

	s.mu.Lock()
	entry, ok := s.posts[postID]
	if !ok || entry.post.Pending {
		s.mu.Unlock()
		changesDropped.WithLabelValues("reply", "missing_post").Add(float64(len(changes)))
		s.logger.Debug().Str("post", postID).Int("changes", len(changes)).Msg("dropping reply batch for absent post")
		return false
	}

	for _, change := range changes {
		reply := change.Reply
		if reply.PostID != postID {
			changesDropped.WithLabelValues("reply", "foreign_post").Inc()
			continue
		}

		switch change.Kind {
		case models.Added, models.Modified:
			upsertReply(entry, reply)
		case models.Removed:
			if i := entry.replyIndex(reply.ID); i >= 0 {
				entry.replies = slices.Delete(entry.replies, i, i+1)
				delete(entry.hiddenReplies, reply.ID)
			} else {
				changesDropped.WithLabelValues("reply", "unknown_id").Inc()
				continue
			}
		default:
			changesDropped.WithLabelValues("reply", "unknown_kind").Inc()
			continue
		}
		changesApplied.WithLabelValues("reply", change.Kind.String()).Inc()
	}
	sortReplies(entry.replies)
	s.mu.Unlock()

	s.listeners.notify()
	return true
}

func upsertReply(entry *postEntry, reply models.Reply) {
	if ref := reply.ClientRef; ref != "" && ref != reply.ID {
		if i := entry.replyIndex(ref); i >= 0 && entry.replies[i].Pending {
			entry.replies = slices.Delete(entry.replies, i, i+1)
		}
	}

	reply.Pending = false
	if i := entry.replyIndex(reply.ID); i >= 0 {
		entry.replies[i] = reply
		return
	}
	entry.replies = append(entry.replies, reply)
}

// Snapshot returns a copy of the visible posts, newest first with ties broken by id.
func (s *Store) Snapshot() []models.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Post, 0, len(s.posts))
	for _, entry := range s.posts {
		if entry.hidden {
			continue
		}
		out = append(out, entry.render())
	}
	slices.SortFunc(out, func(a, b models.Post) int {
		if c := b.CreatedAt.Time.Compare(a.CreatedAt.Time); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Post returns the visible post with the given id.
func (s *Store) Post(id string) (models.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.posts[id]
	if !ok || entry.hidden {
		return models.Post{}, false
	}
	return entry.render(), true
}

// Reply returns the visible reply with the given id.
func (s *Store) Reply(id string) (models.Reply, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.posts {
		if entry.hidden || entry.hiddenReplies[id] {
			continue
		}
		if i := entry.replyIndex(id); i >= 0 {
			return entry.replies[i], true
		}
	}
	return models.Reply{}, false
}

// Reset empties the view.
func (s *Store) Reset() {
	s.mu.Lock()
	s.posts = make(map[string]*postEntry)
	s.mu.Unlock()

	s.listeners.notify()
}

func sortReplies(replies []models.Reply) {
	slices.SortFunc(replies, func(a, b models.Reply) int {
		if c := a.CreatedAt.Time.Compare(b.CreatedAt.Time); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
