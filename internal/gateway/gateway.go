// Package gateway applies local write intents optimistically to a view and commits them
// to the document store, rolling the view back when the commit fails.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/anonto42/nano-midea/livefeed/internal/projector"
	"github.com/anonto42/nano-midea/livefeed/internal/repositories"
	"github.com/anonto42/nano-midea/livefeed/internal/view"
	"github.com/anonto42/nano-midea/livefeed/pkg/async"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "livefeed_mutations_total",
	Help: "The total number of committed mutations by result",
}, []string{"op", "result"})

// DefaultTimeout bounds one remote commit.
const DefaultTimeout = 15 * time.Second

// Op names a mutation.
type Op string

const (
	OpCreatePost  Op = "createPost"
	OpCreateReply Op = "createReply"
	OpDeletePost  Op = "deletePost"
	OpDeleteReply Op = "deleteReply"
	OpToggleLike  Op = "toggleLike"
	OpSetFollow   Op = "setFollow"
)

// Outcome is the settled result of a mutation. For failed creates Text carries the
// submitted text so it can be offered again.
type Outcome struct {
	Op   Op     `json:"op"`
	ID   string `json:"id"`
	Text string `json:"text,omitempty"`
}

// Validator checks request structs.
type Validator interface {
	Struct(i any) error
}

// Config carries the per-viewer context of a Gateway.
type Config struct {
	// Viewer is nil when nobody is signed in.
	Viewer *models.Principal
	// ScopeOwner is the profile new posts are published to.
	ScopeOwner string
	// Origin labels new posts with the timeline they were written from.
	Origin  string
	Timeout time.Duration
	// OnSettled is called once for every mutation after its commit settles.
	OnSettled func(Outcome, error)
}

// Gateway is the write path of one timeline session.
type Gateway struct {
	docs      repositories.DocumentRepository
	store     *view.Store
	profiles  *view.Profiles
	validator Validator
	config    Config
	seq       *async.Sequencer
	logger    zerolog.Logger

	// mu is held for reading around every view write; Close takes it for writing.
	mu     sync.RWMutex
	closed bool

	newID func() string
	now   func() time.Time
}

func New(docs repositories.DocumentRepository, store *view.Store, profiles *view.Profiles, validator Validator, config Config, logger zerolog.Logger) *Gateway {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	l := logger.With().Str("component", "gateway").Logger()
	if config.Viewer != nil {
		l = l.With().Str("viewer", config.Viewer.UID).Logger()
	}

	return &Gateway{
		docs:      docs,
		store:     store,
		profiles:  profiles,
		validator: validator,
		config:    config,
		seq:       async.NewSequencer(),
		logger:    l,
		newID:     func() string { return "local-" + uuid.NewString() },
		now:       time.Now,
	}
}

// Close detaches the gateway from its view. Commits already issued still run against the
// document store but no longer touch the view or report settlement, and new mutations
// fail with ErrClosed.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// apply runs fn against the view unless the gateway is closed.
func (g *Gateway) apply(fn func()) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return false
	}
	fn()
	return true
}

func (g *Gateway) isClosed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

func (g *Gateway) viewer() (models.Principal, error) {
	if g.isClosed() {
		return models.Principal{}, ErrClosed
	}
	if g.config.Viewer == nil {
		return models.Principal{}, ErrNoViewer
	}
	return *g.config.Viewer, nil
}

func (g *Gateway) pendingTimestamp() models.Timestamp {
	return models.Timestamp{Time: g.now(), Pending: true, Display: projector.ResolvingDisplay}
}

// commit runs fn behind earlier commits on the same keys, with the configured timeout.
func (g *Gateway) commit(op Op, keys []string, fn func(ctx context.Context) (Outcome, error)) *async.JobHandle[Outcome] {
	handle := async.Go(g.seq, keys, func(ctx context.Context) (Outcome, error) {
		ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()

		out, err := fn(ctx)
		if err != nil {
			mutationsTotal.WithLabelValues(string(op), "error").Inc()
			g.logger.Error().Err(err).Str("op", string(op)).Str("id", out.ID).Bool("retryable", IsRetryable(err)).Msg("remote commit failed, rolled back")
			return out, err
		}
		mutationsTotal.WithLabelValues(string(op), "ok").Inc()
		g.logger.Debug().Str("op", string(op)).Str("id", out.ID).Msg("remote commit settled")
		return out, nil
	})

	if g.config.OnSettled != nil {
		handle.OnDone(func(r async.Result[Outcome]) {
			if g.isClosed() {
				return
			}
			g.config.OnSettled(r.Value, r.Err)
		})
	}
	return handle
}
