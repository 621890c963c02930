package gateway

import (
	"context"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/anonto42/nano-midea/livefeed/internal/projector"
	"github.com/anonto42/nano-midea/livefeed/internal/repositories"
	"github.com/anonto42/nano-midea/livefeed/pkg/async"
	"github.com/samber/lo"
)

// CreatePost shows a pending post and writes it. The returned id is temporary; the
// entry is swapped for the stored document when the feed or the write confirms it.
func (g *Gateway) CreatePost(text, imageURL string) (string, *async.JobHandle[Outcome], error) {
	viewer, err := g.viewer()
	if err != nil {
		return "", nil, err
	}
	if err := g.validator.Struct(models.CreatePostRequest{Text: text, ImageURL: imageURL}); err != nil {
		return "", nil, validationError(err)
	}

	tempID := g.newID()
	post := models.Post{
		Entity: models.Entity{
			ID:          tempID,
			AuthorID:    viewer.UID,
			Text:        text,
			CreatedAt:   g.pendingTimestamp(),
			DisplayName: viewer.DisplayName,
			Username:    viewer.Username,
			AvatarURL:   viewer.AvatarURL,
			ClientRef:   tempID,
		},
		Verified:     viewer.Verified(),
		OwnerScopeID: g.config.ScopeOwner,
		Replies:      []models.Reply{},
	}
	fields := map[string]any{
		models.FieldPostAuthor:     viewer.UID,
		models.FieldText:           text,
		models.FieldPostTimestamp:  repositories.ServerTimestamp,
		models.FieldDisplayName:    viewer.DisplayName,
		models.FieldUsername:       viewer.Username,
		models.FieldAvatar:         viewer.AvatarURL,
		models.FieldPostVerified:   viewer.Verified(),
		models.FieldPostProfileUID: g.config.ScopeOwner,
		models.FieldPostOrigin:     g.config.Origin,
		models.FieldPostLikeCount:  0,
		models.FieldClientRef:      tempID,
	}
	if imageURL != "" {
		post.ImageURL = lo.ToPtr(imageURL)
		fields[models.FieldPostImage] = imageURL
	}

	if !g.apply(func() { g.store.InsertPendingPost(post) }) {
		return "", nil, ErrClosed
	}

	handle := g.commit(OpCreatePost, []string{"post:" + tempID}, func(ctx context.Context) (Outcome, error) {
		id, err := g.docs.Create(ctx, models.PostsCollection, fields)
		if err != nil {
			g.apply(func() { g.store.RemovePendingPost(tempID) })
			return Outcome{Op: OpCreatePost, ID: tempID, Text: text}, remoteError(OpCreatePost, err, false)
		}
		g.apply(func() { g.store.RekeyPendingPost(tempID, id) })
		return Outcome{Op: OpCreatePost, ID: id}, nil
	})
	return tempID, handle, nil
}

// DeletePost hides the viewer's post and deletes it.
func (g *Gateway) DeletePost(id string) (*async.JobHandle[Outcome], error) {
	viewer, err := g.viewer()
	if err != nil {
		return nil, err
	}
	post, ok := g.store.Post(id)
	if !ok || post.Pending {
		return nil, ErrUnknownPost
	}
	if post.AuthorID != viewer.UID {
		return nil, ErrNotAuthor
	}
	var hidden bool
	if !g.apply(func() { hidden = g.store.HidePost(id) }) {
		return nil, ErrClosed
	}
	if !hidden {
		return nil, ErrUnknownPost
	}

	return g.commit(OpDeletePost, []string{"post:" + id}, func(ctx context.Context) (Outcome, error) {
		if err := g.docs.Delete(ctx, models.PostsCollection, id); err != nil {
			g.apply(func() { g.store.UnhidePost(id) })
			return Outcome{Op: OpDeletePost, ID: id}, remoteError(OpDeletePost, err, false)
		}
		return Outcome{Op: OpDeletePost, ID: id}, nil
	}), nil
}

// ToggleLike flips the viewer's like on a post. It writes the like marker first and
// the absolute counter second; the two writes are not atomic.
func (g *Gateway) ToggleLike(postID string) (*async.JobHandle[Outcome], error) {
	viewer, err := g.viewer()
	if err != nil {
		return nil, err
	}
	var (
		liked, ok bool
		delta     int
	)
	if !g.apply(func() { liked, delta, ok = g.store.BeginLike(postID) }) {
		return nil, ErrClosed
	}
	if !ok {
		return nil, ErrUnknownPost
	}

	return g.commit(OpToggleLike, []string{"like:" + postID}, func(ctx context.Context) (Outcome, error) {
		out := Outcome{Op: OpToggleLike, ID: postID}
		likes := models.LikesCollection(postID)

		var err error
		if liked {
			err = g.docs.Update(ctx, likes, viewer.UID, map[string]any{models.FieldLikeUserID: viewer.UID}, repositories.Replace)
		} else {
			err = g.docs.Delete(ctx, likes, viewer.UID)
		}
		if err != nil {
			g.apply(func() { g.store.RollbackLike(postID, delta) })
			return out, remoteError(OpToggleLike, err, false)
		}

		base, known := 0, false
		g.apply(func() { base, known = g.store.LikeBase(postID) })
		if !known {
			// detached or no longer shown: count from the stored document
			base, err = g.storedLikeCount(ctx, postID)
			if err != nil {
				return out, remoteError(OpToggleLike, err, true)
			}
		}

		count := max(0, base+delta)
		err = g.docs.Update(ctx, models.PostsCollection, postID, map[string]any{models.FieldPostLikeCount: count}, repositories.Patch)
		if err != nil {
			g.apply(func() { g.store.RollbackLike(postID, delta) })
			return out, remoteError(OpToggleLike, err, true)
		}

		g.apply(func() { g.store.ConfirmLike(postID, delta, count) })
		return out, nil
	}), nil
}

func (g *Gateway) storedLikeCount(ctx context.Context, postID string) (int, error) {
	doc, err := g.docs.Get(ctx, models.PostsCollection, postID)
	if err != nil {
		return 0, err
	}
	post, err := projector.New().ProjectPost(doc)
	if err != nil {
		return 0, err
	}
	return post.LikeCount, nil
}
