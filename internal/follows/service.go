// Package follows lists followers and following sets and repairs the edges that a
// failed or interrupted follow left behind.
package follows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/anonto42/nano-midea/livefeed/internal/repositories"
	"github.com/anonto42/nano-midea/livefeed/pkg/async"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var edgesRepaired = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "livefeed_follow_edges_repaired_total",
	Help: "The total number of follow edges repaired on read",
}, []string{"set", "reason"})

const (
	reasonDangling   = "dangling"
	reasonAsymmetric = "asymmetric"

	defaultConcurrency = 8
	defaultTTL         = time.Minute
)

// Set selects one of a profile's follow sets.
type Set string

const (
	Followers Set = models.FieldUserFollowers
	Following Set = models.FieldUserFollowing
)

// Profiles is the profile storage the service reads and repairs.
type Profiles interface {
	GetProfile(ctx context.Context, uid string) (models.Profile, error)
	ListProfiles(ctx context.Context) ([]models.Profile, error)
	RemoveFromSet(ctx context.Context, uid, field string, ids ...string) error
	DeleteProfile(ctx context.Context, uid string) error
}

// Service resolves follow sets into profiles. Ids that no longer resolve are removed
// from the owning set, and so is an entry whose counterpart on the other profile is
// missing: an edge only stands when both sides record it.
type Service struct {
	profiles    Profiles
	cache       *cache.Cache[models.Profile]
	ttl         time.Duration
	concurrency int
	logger      zerolog.Logger
}

func NewService(profiles Profiles, cacheStore store.StoreInterface, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		profiles:    profiles,
		cache:       cache.New[models.Profile](cacheStore),
		ttl:         ttl,
		concurrency: defaultConcurrency,
		logger:      logger.With().Str("component", "follows").Logger(),
	}
}

// ListFollowers returns the resolved profiles following uid.
func (s *Service) ListFollowers(ctx context.Context, uid string) ([]models.Profile, error) {
	return s.list(ctx, uid, Followers)
}

// ListFollowing returns the resolved profiles uid follows.
func (s *Service) ListFollowing(ctx context.Context, uid string) ([]models.Profile, error) {
	return s.list(ctx, uid, Following)
}

// Recommended returns the profiles uid does not follow yet, excluding uid itself.
func (s *Service) Recommended(ctx context.Context, uid string) ([]models.Profile, error) {
	owner, err := s.profiles.GetProfile(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", uid, err)
	}
	all, err := s.profiles.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}

	return lo.Filter(all, func(p models.Profile, _ int) bool {
		return p.ID != uid && !lo.Contains(owner.Following, p.ID)
	}), nil
}

// DeleteAccount removes the user's profile and posts. Follow sets naming the user heal
// on their next read or sweep.
func (s *Service) DeleteAccount(ctx context.Context, uid string) error {
	if err := s.profiles.DeleteProfile(ctx, uid); err != nil {
		return err
	}
	_ = s.cache.Delete(ctx, uid)
	s.logger.Info().Str("uid", uid).Msg("account deleted")
	return nil
}

// Sweep runs a read-and-repair pass over both sets of every uid.
func (s *Service) Sweep(ctx context.Context, uids []string) error {
	var errs []error
	for _, uid := range lo.Uniq(uids) {
		for _, set := range []Set{Followers, Following} {
			if _, err := s.list(ctx, uid, set); err != nil && !errors.Is(err, repositories.ErrNotFound) {
				errs = append(errs, fmt.Errorf("sweep %s of %s: %w", set, uid, err))
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

type member struct {
	id      string
	profile models.Profile
	found   bool
	failed  bool
}

func (s *Service) list(ctx context.Context, uid string, set Set) ([]models.Profile, error) {
	owner, err := s.profiles.GetProfile(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", uid, err)
	}

	ids := owner.Followers
	if set == Following {
		ids = owner.Following
	}
	ids = lo.Uniq(lo.Compact(ids))

	members, err := async.AsyncMap(ctx, ids, s.concurrency, func(ctx context.Context, id string) (member, error) {
		return s.resolve(ctx, uid, id, set), nil
	})
	if err != nil {
		return nil, err
	}

	var dangling, asymmetric []string
	result := make([]models.Profile, 0, len(members))
	for _, m := range members {
		switch {
		case m.failed:
		case !m.found:
			dangling = append(dangling, m.id)
		case set == Followers && !lo.Contains(m.profile.Following, uid):
			asymmetric = append(asymmetric, m.id)
		case set == Following && !lo.Contains(m.profile.Followers, uid):
			asymmetric = append(asymmetric, m.id)
		default:
			result = append(result, m.profile)
		}
	}

	s.removeEdges(ctx, uid, set, dangling, reasonDangling)
	s.removeEdges(ctx, uid, set, asymmetric, reasonAsymmetric)
	return result, nil
}

// resolve looks up a member of owner's set. A cached profile that disagrees with the
// owner is re-read before the edge is judged.
func (s *Service) resolve(ctx context.Context, owner, id string, set Set) member {
	if profile, err := s.cache.Get(ctx, id); err == nil && consistent(profile, owner, set) {
		return member{id: id, profile: profile, found: true}
	}

	profile, err := s.profiles.GetProfile(ctx, id)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return member{id: id}
	case err != nil:
		s.logger.Warn().Err(err).Str("uid", owner).Str("member", id).Msg("failed to resolve profile, skipped")
		return member{id: id, failed: true}
	}

	if err := s.cache.Set(ctx, id, profile, store.WithExpiration(s.ttl), store.WithCost(1)); err != nil {
		s.logger.Debug().Err(err).Str("member", id).Msg("failed to cache profile")
	}
	return member{id: id, profile: profile, found: true}
}

func consistent(profile models.Profile, owner string, set Set) bool {
	if set == Followers {
		return lo.Contains(profile.Following, owner)
	}
	return lo.Contains(profile.Followers, owner)
}

func (s *Service) removeEdges(ctx context.Context, uid string, set Set, ids []string, reason string) {
	if len(ids) == 0 {
		return
	}
	if err := s.profiles.RemoveFromSet(ctx, uid, string(set), ids...); err != nil {
		s.logger.Warn().Err(err).Str("uid", uid).Str("set", string(set)).Strs("ids", ids).Msg("failed to repair follow edges")
		return
	}
	_ = s.cache.Delete(ctx, uid)
	edgesRepaired.WithLabelValues(string(set), reason).Add(float64(len(ids)))
	s.logger.Warn().Str("uid", uid).Str("set", string(set)).Str("reason", reason).Strs("ids", ids).Msg("repaired follow edges")
}
