package gateway

import (
	"context"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/anonto42/nano-midea/livefeed/internal/repositories"
	"github.com/anonto42/nano-midea/livefeed/pkg/async"
)

// CreateReply shows a pending reply under a confirmed post and writes it.
func (g *Gateway) CreateReply(postID, text string) (string, *async.JobHandle[Outcome], error) {
	viewer, err := g.viewer()
	if err != nil {
		return "", nil, err
	}
	if err := g.validator.Struct(models.CreateReplyRequest{Text: text}); err != nil {
		return "", nil, validationError(err)
	}
	if post, ok := g.store.Post(postID); !ok || post.Pending {
		return "", nil, ErrUnknownPost
	}

	tempID := g.newID()
	reply := models.Reply{
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
		PostID: postID,
	}
	var inserted bool
	if !g.apply(func() { inserted = g.store.InsertPendingReply(reply) }) {
		return "", nil, ErrClosed
	}
	if !inserted {
		return "", nil, ErrUnknownPost
	}

	fields := map[string]any{
		models.FieldReplyAuthor:    viewer.UID,
		models.FieldReplyPostID:    postID,
		models.FieldText:           text,
		models.FieldReplyCreatedAt: repositories.ServerTimestamp,
		models.FieldDisplayName:    viewer.DisplayName,
		models.FieldUsername:       viewer.Username,
		models.FieldAvatar:         viewer.AvatarURL,
		models.FieldClientRef:      tempID,
	}

	handle := g.commit(OpCreateReply, []string{"reply:" + tempID}, func(ctx context.Context) (Outcome, error) {
		id, err := g.docs.Create(ctx, models.RepliesCollection, fields)
		if err != nil {
			g.apply(func() { g.store.RemovePendingReply(postID, tempID) })
			return Outcome{Op: OpCreateReply, ID: tempID, Text: text}, remoteError(OpCreateReply, err, false)
		}
		g.apply(func() { g.store.RekeyPendingReply(postID, tempID, id) })
		return Outcome{Op: OpCreateReply, ID: id}, nil
	})
	return tempID, handle, nil
}

// DeleteReply hides the viewer's reply and deletes it.
func (g *Gateway) DeleteReply(id string) (*async.JobHandle[Outcome], error) {
	viewer, err := g.viewer()
	if err != nil {
		return nil, err
	}
	reply, ok := g.store.Reply(id)
	if !ok || reply.Pending {
		return nil, ErrUnknownReply
	}
	if reply.AuthorID != viewer.UID {
		return nil, ErrNotAuthor
	}
	var hidden bool
	if !g.apply(func() { hidden = g.store.HideReply(reply.PostID, id) }) {
		return nil, ErrClosed
	}
	if !hidden {
		return nil, ErrUnknownReply
	}

	return g.commit(OpDeleteReply, []string{"reply:" + id}, func(ctx context.Context) (Outcome, error) {
		if err := g.docs.Delete(ctx, models.RepliesCollection, id); err != nil {
			g.apply(func() { g.store.UnhideReply(reply.PostID, id) })
			return Outcome{Op: OpDeleteReply, ID: id}, remoteError(OpDeleteReply, err, false)
		}
		return Outcome{Op: OpDeleteReply, ID: id}, nil
	}), nil
}
