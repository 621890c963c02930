package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/anonto42/nano-midea/livefeed/internal/feed"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/anonto42/nano-midea/livefeed/internal/projector"
	"github.com/samber/lo"
)

// ProfileRepository reads and writes user documents on top of a DocumentRepository
type ProfileRepository struct {
	docs      DocumentRepository
	projector *projector.Projector
}

// NewProfileRepository creates a new ProfileRepository
func NewProfileRepository(docs DocumentRepository) *ProfileRepository {
	return &ProfileRepository{docs: docs, projector: projector.New()}
}

// GetProfile retrieves a user profile by uid
func (r *ProfileRepository) GetProfile(ctx context.Context, uid string) (models.Profile, error) {
	doc, err := r.docs.Get(ctx, models.UsersCollection, uid)
	if err != nil {
		return models.Profile{}, err
	}
	return r.projector.ProjectProfile(doc)
}

// EnsureProfile merges the principal's public fields into its user document,
// creating it on first sign-in
func (r *ProfileRepository) EnsureProfile(ctx context.Context, principal models.Principal) error {
	fields := map[string]any{
		models.FieldDisplayName: principal.DisplayName,
		models.FieldUsername:    principal.Username,
		models.FieldUserAvatar:  principal.AvatarURL,
	}
	if err := r.docs.Update(ctx, models.UsersCollection, principal.UID, fields, Merge); err != nil {
		return fmt.Errorf("failed to ensure profile %s: %w", principal.UID, err)
	}
	return nil
}

// AddToSet adds ids to one of the user's follow sets
func (r *ProfileRepository) AddToSet(ctx context.Context, uid, field string, ids ...string) error {
	return r.docs.Update(ctx, models.UsersCollection, uid, map[string]any{
		field: ArrayUnion(lo.ToAnySlice(ids)...),
	}, Patch)
}

// RemoveFromSet removes ids from one of the user's follow sets
func (r *ProfileRepository) RemoveFromSet(ctx context.Context, uid, field string, ids ...string) error {
	return r.docs.Update(ctx, models.UsersCollection, uid, map[string]any{
		field: ArrayRemove(lo.ToAnySlice(ids)...),
	}, Patch)
}

// ListProfiles returns every user profile ordered by uid. Malformed user documents are skipped
func (r *ProfileRepository) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	docs, err := r.docs.Find(ctx, feed.Query{Collection: models.UsersCollection})
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	profiles := make([]models.Profile, 0, len(docs))
	for _, doc := range docs {
		profile, err := r.projector.ProjectProfile(doc)
		if err != nil {
			continue
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// DeleteProfile removes the user's posts and then the user document. Follow sets that
// still name the user are left to the follow repair.
func (r *ProfileRepository) DeleteProfile(ctx context.Context, uid string) error {
	if _, err := r.docs.Get(ctx, models.UsersCollection, uid); err != nil {
		return err
	}

	posts, err := r.docs.Find(ctx, feed.Query{Collection: models.PostsCollection}.Where(models.FieldPostAuthor, feed.OpEqual, uid))
	if err != nil {
		return fmt.Errorf("failed to find posts of %s: %w", uid, err)
	}

	var errs []error
	for _, post := range posts {
		if err := r.docs.Delete(ctx, models.PostsCollection, post.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to delete posts of %s: %w", uid, err)
	}

	if err := r.docs.Delete(ctx, models.UsersCollection, uid); err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", uid, err)
	}
	return nil
}
