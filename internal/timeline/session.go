// Package timeline composes the view, the subscriptions and the mutation gateway of one
// viewer looking at one timeline.
package timeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/livefeed/internal/feed"
	"github.com/anonto42/nano-midea/livefeed/internal/gateway"
	"github.com/anonto42/nano-midea/livefeed/internal/identity"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/anonto42/nano-midea/livefeed/internal/projector"
	"github.com/anonto42/nano-midea/livefeed/internal/repositories"
	"github.com/anonto42/nano-midea/livefeed/internal/subscriptions"
	"github.com/anonto42/nano-midea/livefeed/internal/view"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("session closed")

const hydrateTimeout = 10 * time.Second

// Deps are the shared services every session is built from.
type Deps struct {
	Source    feed.Source
	Docs      repositories.DocumentRepository
	Profiles  *repositories.ProfileRepository
	Validator gateway.Validator
	Timeout   time.Duration
}

// Session is one viewer's live timeline. A principal change stops every subscription,
// clears the view and starts over with the new viewer's queries.
type Session struct {
	id        string
	scope     Scope
	deps      Deps
	identity  *identity.Provider
	store     *view.Store
	profiles  *view.Profiles
	projector *projector.Projector
	logger    zerolog.Logger

	// switchMu serializes principal switches; mu guards the fields below.
	switchMu sync.Mutex
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
	epoch    int
	manager  *subscriptions.Manager
	gateway  *gateway.Gateway

	settledMu sync.Mutex
	settledID int
	settled   map[int]func(gateway.Outcome, error)

	stopIdentity func()
}

func NewSession(scope Scope, principal *models.Principal, deps Deps, logger zerolog.Logger) (*Session, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		scope:     scope,
		deps:      deps,
		identity:  identity.NewProvider(principal),
		store:     view.NewStore(logger),
		profiles:  view.NewProfiles(),
		projector: projector.New(),
		logger:    logger.With().Str("component", "timeline").Str("session", id).Str("scope", scope.String()).Logger(),
		settled:   make(map[int]func(gateway.Outcome, error)),
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Scope() Scope { return s.scope }

func (s *Session) View() *view.Store { return s.store }

// Profiles returns the locally known profiles, including the viewer's follow sets.
func (s *Session) Profiles() *view.Profiles { return s.profiles }

// Start subscribes for the initial principal and follows later principal changes.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	s.stopIdentity = s.identity.OnPrincipalChanged(func(principal *models.Principal) {
		if err := s.switchTo(principal); err != nil && !errors.Is(err, ErrClosed) {
			s.logger.Error().Err(err).Msg("failed to switch principal")
		}
	})
	return s.switchTo(s.identity.Current())
}

// SetPrincipal changes the viewer. Nothing happens when the principal is unchanged.
func (s *Session) SetPrincipal(principal *models.Principal) {
	s.identity.Set(principal)
}

// Principal returns the current viewer, or nil.
func (s *Session) Principal() *models.Principal {
	return s.identity.Current()
}

// Snapshot returns the rendered timeline.
func (s *Session) Snapshot() []models.Post {
	return s.store.Snapshot()
}

// OnViewChanged registers a callback fired after every view change.
func (s *Session) OnViewChanged(callback func()) func() {
	return s.store.OnViewChanged(callback)
}

// OnSettled registers a callback fired whenever a mutation of this session settles.
func (s *Session) OnSettled(callback func(gateway.Outcome, error)) func() {
	s.settledMu.Lock()
	id := s.settledID
	s.settledID++
	s.settled[id] = callback
	s.settledMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.settledMu.Lock()
			delete(s.settled, id)
			s.settledMu.Unlock()
		})
	}
}

// Gateway returns the write path for the current principal.
func (s *Session) Gateway() (*gateway.Gateway, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.gateway == nil {
		return nil, ErrClosed
	}
	return s.gateway, nil
}

// State reports the state of the posts subscription.
func (s *Session) State() subscriptions.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.manager == nil {
		return subscriptions.NoSubscription
	}
	return s.manager.State()
}

// Close stops every subscription. It is idempotent.
func (s *Session) Close() {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	manager, gw := s.manager, s.gateway
	s.manager, s.gateway = nil, nil
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if s.stopIdentity != nil {
		s.stopIdentity()
	}
	if gw != nil {
		gw.Close()
	}
	if manager != nil {
		manager.Stop()
	}
	s.logger.Info().Msg("session closed")
}

func (s *Session) switchTo(principal *models.Principal) error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	oldManager, oldGateway := s.manager, s.gateway
	s.manager, s.gateway = nil, nil
	s.epoch++
	epoch := s.epoch
	ctx := s.ctx
	s.mu.Unlock()

	// the old viewer's commits may still settle; they must not reach the reset view
	if oldGateway != nil {
		oldGateway.Close()
	}
	if oldManager != nil {
		oldManager.Stop()
	}
	s.store.Reset()
	s.profiles.Reset()

	viewerUID := ""
	if principal != nil {
		viewerUID = principal.UID
	}

	gw := gateway.New(s.deps.Docs, s.store, s.profiles, s.deps.Validator, gateway.Config{
		Viewer:     principal,
		ScopeOwner: s.scope.owner(viewerUID),
		Origin:     string(s.scope.Origin),
		Timeout:    s.deps.Timeout,
		OnSettled:  s.notifySettled,
	}, s.logger)

	manager := subscriptions.New(s.deps.Source, s.store, s.projector, subscriptions.Config{
		Posts:   PostsQuery(s.scope, viewerUID),
		Replies: RepliesQuery,
		OnPostAttached: func(postID string) {
			if viewerUID != "" {
				go s.hydrateLike(epoch, viewerUID, postID)
			}
		},
	}, s.logger)

	s.mu.Lock()
	s.manager, s.gateway = manager, gw
	s.mu.Unlock()

	if principal != nil {
		s.loadProfiles(ctx, *principal)
	}

	if err := manager.Start(ctx); err != nil {
		return err
	}
	s.logger.Info().Str("viewer", viewerUID).Msg("timeline subscribed")
	return nil
}

// loadProfiles makes sure the viewer has a user document and caches the profiles whose
// follow state the timeline shows.
func (s *Session) loadProfiles(ctx context.Context, principal models.Principal) {
	if s.deps.Profiles == nil {
		return
	}
	if !principal.IsGuest() {
		if err := s.deps.Profiles.EnsureProfile(ctx, principal); err != nil {
			s.logger.Warn().Err(err).Msg("failed to ensure viewer profile")
		}
	}
	for _, uid := range []string{principal.UID, s.scope.ProfileID} {
		profile, err := s.deps.Profiles.GetProfile(ctx, uid)
		if err != nil {
			if !errors.Is(err, repositories.ErrNotFound) {
				s.logger.Warn().Err(err).Str("uid", uid).Msg("failed to load profile")
			}
			continue
		}
		s.profiles.Put(profile)
	}
}

// hydrateLike reads the viewer's like marker of a newly shown post.
func (s *Session) hydrateLike(epoch int, viewerUID, postID string) {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hydrateTimeout)
	defer cancel()

	_, err := s.deps.Docs.Get(ctx, models.LikesCollection(postID), viewerUID)
	if errors.Is(err, repositories.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("post", postID).Msg("failed to read like marker")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.epoch == epoch && !s.closed {
		s.store.SetViewerLiked(postID, true)
	}
}

func (s *Session) notifySettled(out gateway.Outcome, err error) {
	s.settledMu.Lock()
	callbacks := make([]func(gateway.Outcome, error), 0, len(s.settled))
	for _, cb := range s.settled {
		callbacks = append(callbacks, cb)
	}
	s.settledMu.Unlock()

	for _, cb := range callbacks {
		cb(out, err)
	}
}
