package gateway

import (
	"context"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/anonto42/nano-midea/livefeed/internal/repositories"
	"github.com/anonto42/nano-midea/livefeed/pkg/async"
)

// SetFollow adds or removes the edge viewer -> target. The viewer's following set is
// written first and the target's followers set second, without a transaction.
func (g *Gateway) SetFollow(targetID string, following bool) (*async.JobHandle[Outcome], error) {
	viewer, err := g.viewer()
	if err != nil {
		return nil, err
	}
	if targetID == "" {
		return nil, &ValidationError{Field: "target", Message: "must not be empty"}
	}
	if targetID == viewer.UID {
		return nil, &ValidationError{Field: "target", Message: "cannot follow yourself"}
	}

	var undo func()
	if !g.apply(func() { undo = g.profiles.ApplyFollow(viewer.UID, targetID, following) }) {
		return nil, ErrClosed
	}

	setOp := repositories.ArrayRemove
	if following {
		setOp = repositories.ArrayUnion
	}

	key := "follow:" + viewer.UID + ":" + targetID
	return g.commit(OpSetFollow, []string{key}, func(ctx context.Context) (Outcome, error) {
		out := Outcome{Op: OpSetFollow, ID: targetID}

		err := g.docs.Update(ctx, models.UsersCollection, viewer.UID, map[string]any{
			models.FieldUserFollowing: setOp(targetID),
		}, repositories.Patch)
		if err != nil {
			g.apply(undo)
			return out, remoteError(OpSetFollow, err, false)
		}

		err = g.docs.Update(ctx, models.UsersCollection, targetID, map[string]any{
			models.FieldUserFollowers: setOp(viewer.UID),
		}, repositories.Patch)
		if err != nil {
			g.apply(undo)
			return out, remoteError(OpSetFollow, err, true)
		}
		return out, nil
	}), nil
}
