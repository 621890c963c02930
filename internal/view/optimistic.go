package view

import (
	"github.com/anonto42/nano-midea/livefeed/internal/models"
)

// The methods below back the optimistic half of local mutations. Each one is a single
// writer step and fires the change listeners when it altered the view.

// InsertPendingPost shows a locally created post until the feed confirms it.
func (s *Store) InsertPendingPost(post models.Post) {
	post.Pending = true
	post.Replies = nil

	s.mu.Lock()
	s.posts[post.ID] = &postEntry{post: post, hiddenReplies: make(map[string]bool)}
	s.mu.Unlock()

	s.listeners.notify()
}

// RemovePendingPost drops a pending post. Confirmed posts are left alone.
func (s *Store) RemovePendingPost(id string) bool {
	return s.mutate(func() bool {
		entry, ok := s.posts[id]
		if !ok || !entry.post.Pending {
			return false
		}
		delete(s.posts, id)
		return true
	})
}

// RekeyPendingPost moves a pending post to the id assigned by the store. It stays
// pending until the feed delivers the document.
func (s *Store) RekeyPendingPost(tempID, id string) bool {
	return s.mutate(func() bool {
		entry, ok := s.posts[tempID]
		if !ok || !entry.post.Pending {
			return false
		}
		delete(s.posts, tempID)
		if _, exists := s.posts[id]; exists {
			return true
		}
		entry.post.ID = id
		s.posts[id] = entry
		return true
	})
}

// InsertPendingReply shows a locally created reply under its post.
func (s *Store) InsertPendingReply(reply models.Reply) bool {
	reply.Pending = true

	return s.mutate(func() bool {
		entry, ok := s.posts[reply.PostID]
		if !ok || entry.hidden || entry.post.Pending {
			return false
		}
		entry.replies = append(entry.replies, reply)
		sortReplies(entry.replies)
		return true
	})
}

// RemovePendingReply drops a pending reply.
func (s *Store) RemovePendingReply(postID, id string) bool {
	return s.mutate(func() bool {
		entry, ok := s.posts[postID]
		if !ok {
			return false
		}
		i := entry.replyIndex(id)
		if i < 0 || !entry.replies[i].Pending {
			return false
		}
		entry.replies = append(entry.replies[:i], entry.replies[i+1:]...)
		return true
	})
}

// RekeyPendingReply moves a pending reply to the id assigned by the store.
func (s *Store) RekeyPendingReply(postID, tempID, id string) bool {
	return s.mutate(func() bool {
		entry, ok := s.posts[postID]
		if !ok {
			return false
		}
		i := entry.replyIndex(tempID)
		if i < 0 || !entry.replies[i].Pending {
			return false
		}
		if entry.replyIndex(id) >= 0 {
			entry.replies = append(entry.replies[:i], entry.replies[i+1:]...)
			return true
		}
		entry.replies[i].ID = id
		sortReplies(entry.replies)
		return true
	})
}

// HidePost hides a post while its deletion is in flight.
func (s *Store) HidePost(id string) bool {
	return s.setPostHidden(id, true)
}

// UnhidePost restores a post whose deletion failed.
func (s *Store) UnhidePost(id string) bool {
	return s.setPostHidden(id, false)
}

func (s *Store) setPostHidden(id string, hidden bool) bool {
	return s.mutate(func() bool {
		entry, ok := s.posts[id]
		if !ok || entry.hidden == hidden {
			return false
		}
		entry.hidden = hidden
		return true
	})
}

// HideReply hides a reply while its deletion is in flight.
func (s *Store) HideReply(postID, id string) bool {
	return s.setReplyHidden(postID, id, true)
}

// UnhideReply restores a reply whose deletion failed.
func (s *Store) UnhideReply(postID, id string) bool {
	return s.setReplyHidden(postID, id, false)
}

func (s *Store) setReplyHidden(postID, id string, hidden bool) bool {
	return s.mutate(func() bool {
		entry, ok := s.posts[postID]
		if !ok || entry.replyIndex(id) < 0 || entry.hiddenReplies[id] == hidden {
			return false
		}
		if hidden {
			entry.hiddenReplies[id] = true
		} else {
			delete(entry.hiddenReplies, id)
		}
		return true
	})
}

// BeginLike flips the viewer's like flag and records a ±1 counter delta. It returns
// the new flag and the delta, or ok=false when the post is not visible.
func (s *Store) BeginLike(postID string) (liked bool, delta int, ok bool) {
	s.mutate(func() bool {
		entry, found := s.posts[postID]
		if !found || entry.hidden || entry.post.Pending {
			return false
		}
		entry.liked = !entry.liked
		delta = -1
		if entry.liked {
			delta = 1
		}
		entry.likeDelta += delta
		entry.likeOps++
		liked, ok = entry.liked, true
		return true
	})
	return liked, delta, ok
}

// LikeBase returns the last like count known to be stored remotely.
func (s *Store) LikeBase(postID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.posts[postID]
	if !ok {
		return 0, false
	}
	return entry.post.LikeCount, true
}

// ConfirmLike settles a like toggle whose remote writes succeeded with the given count.
func (s *Store) ConfirmLike(postID string, delta, count int) {
	s.mutate(func() bool {
		entry, ok := s.posts[postID]
		if !ok {
			return false
		}
		entry.likeDelta -= delta
		entry.likeOps = max(0, entry.likeOps-1)
		entry.post.LikeCount = max(0, count)
		return true
	})
}

// RollbackLike reverts a like toggle.
func (s *Store) RollbackLike(postID string, delta int) {
	s.mutate(func() bool {
		entry, ok := s.posts[postID]
		if !ok {
			return false
		}
		entry.likeDelta -= delta
		entry.likeOps = max(0, entry.likeOps-1)
		entry.liked = !entry.liked
		return true
	})
}

// SetViewerLiked records whether the viewer has liked a post. It is ignored while a
// toggle for that post is in flight.
func (s *Store) SetViewerLiked(postID string, liked bool) {
	s.mutate(func() bool {
		entry, ok := s.posts[postID]
		if !ok || entry.likeOps > 0 || entry.liked == liked {
			return false
		}
		entry.liked = liked
		return true
	})
}

func (s *Store) mutate(fn func() bool) bool {
	s.mu.Lock()
	changed := fn()
	s.mu.Unlock()

	if changed {
		s.listeners.notify()
	}
	return changed
}
