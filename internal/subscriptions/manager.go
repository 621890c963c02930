// Package subscriptions owns the live queries behind one timeline view: the parent posts
// query and one replies query per post.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/anonto42/nano-midea/livefeed/internal/feed"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/anonto42/nano-midea/livefeed/internal/projector"
	"github.com/anonto42/nano-midea/livefeed/internal/view"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	childSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livefeed_child_subscriptions",
		Help: "The number of reply subscriptions by state",
	}, []string{"state"})

	recordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_records_skipped_total",
		Help: "The total number of feed records that failed projection",
	}, []string{"entity"})
)

var ErrStopped = errors.New("subscription manager stopped")

// State is the lifecycle state of a subscription.
type State int

const (
	NoSubscription State = iota
	Subscribing
	Active
	TornDown
)

func (s State) String() string {
	switch s {
	case NoSubscription:
		return "none"
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	case TornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// Config describes the queries a Manager runs.
type Config struct {
	Posts   feed.Query
	Replies func(postID string) feed.Query
	// OnPostAttached runs outside any lock whenever a post is confirmed in the view.
	OnPostAttached func(postID string)
}

type child struct {
	postID string
	state  State
	sub    feed.Subscription
}

// Manager runs the parent posts subscription and at most one replies subscription per
// post. All state changes happen under mu; the view is only written while mu is held,
// so a batch from a torn-down subscription can never reach it.
type Manager struct {
	source    feed.Source
	store     *view.Store
	projector *projector.Projector
	config    Config
	logger    zerolog.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	state    State
	parent   feed.Subscription
	children map[string]*child
}

func New(source feed.Source, store *view.Store, proj *projector.Projector, config Config, logger zerolog.Logger) *Manager {
	return &Manager{
		source:    source,
		store:     store,
		projector: proj,
		config:    config,
		logger:    logger.With().Str("component", "subscriptions").Str("query", config.Posts.Key()).Logger(),
		children:  make(map[string]*child),
	}
}

// Start opens the parent subscription. A manager can be started once.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != NoSubscription {
		m.mu.Unlock()
		return fmt.Errorf("cannot start manager in state %s", m.state)
	}
	m.state = Subscribing
	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Unlock()

	sub, err := m.source.Subscribe(ctx, m.config.Posts, m.handlePosts)
	if err != nil {
		m.mu.Lock()
		m.state = TornDown
		m.cancel()
		m.mu.Unlock()
		return fmt.Errorf("failed to subscribe to posts: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == TornDown {
		sub.Unsubscribe()
		return ErrStopped
	}
	m.parent = sub
	m.logger.Info().Msg("subscribed to posts")
	return nil
}

// Stop tears down the parent subscription and every child. It is idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state == TornDown {
		m.mu.Unlock()
		return
	}
	m.state = TornDown
	if m.cancel != nil {
		m.cancel()
	}
	parent := m.parent
	m.parent = nil
	children := m.children
	m.children = make(map[string]*child)
	for _, c := range children {
		m.transition(c, TornDown)
	}
	m.mu.Unlock()

	if parent != nil {
		parent.Unsubscribe()
	}
	for _, c := range children {
		if c.sub != nil {
			c.sub.Unsubscribe()
		}
	}
	m.logger.Info().Int("children", len(children)).Msg("torn down")
}

// State returns the parent subscription state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ChildState returns the state of the replies subscription of a post.
func (m *Manager) ChildState(postID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.children[postID]
	if !ok {
		return NoSubscription
	}
	return c.state
}

// Children returns the number of tracked reply subscriptions.
func (m *Manager) Children() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.children)
}

func (m *Manager) handlePosts(raw []models.Change) {
	changes := make([]models.PostChange, 0, len(raw))
	for _, change := range raw {
		if change.Kind == models.Removed {
			changes = append(changes, models.PostChange{Kind: models.Removed, Post: models.Post{Entity: models.Entity{ID: change.EntityID}}})
			continue
		}
		post, err := m.projector.ProjectPost(change.Document())
		if err != nil {
			recordsSkipped.WithLabelValues("post").Inc()
			m.logger.Warn().Err(err).Str("id", change.EntityID).Msg("skipping post")
			continue
		}
		changes = append(changes, models.PostChange{Kind: change.Kind, Post: post})
	}

	m.mu.Lock()
	if m.state == TornDown {
		m.mu.Unlock()
		m.logger.Debug().Int("changes", len(raw)).Msg("discarding posts batch after teardown")
		return
	}
	if m.state == Subscribing {
		m.state = Active
	}

	var attached []*child
	for _, tr := range m.store.ApplyPostBatch(changes) {
		if tr.Present {
			if _, ok := m.children[tr.PostID]; !ok {
				c := &child{postID: tr.PostID}
				m.children[tr.PostID] = c
				m.transition(c, Subscribing)
				attached = append(attached, c)
			}
			continue
		}
		if c, ok := m.children[tr.PostID]; ok {
			delete(m.children, tr.PostID)
			m.transition(c, TornDown)
			if c.sub != nil {
				c.sub.Unsubscribe()
			}
		}
	}
	ctx := m.ctx
	m.mu.Unlock()

	for _, c := range attached {
		m.subscribeChild(ctx, c)
		if m.config.OnPostAttached != nil {
			m.config.OnPostAttached(c.postID)
		}
	}
}

func (m *Manager) subscribeChild(ctx context.Context, c *child) {
	sub, err := m.source.Subscribe(ctx, m.config.Replies(c.postID), func(raw []models.Change) {
		m.handleReplies(c, raw)
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.logger.Error().Err(err).Str("post", c.postID).Msg("failed to subscribe to replies")
		if m.children[c.postID] == c {
			delete(m.children, c.postID)
		}
		m.transition(c, TornDown)
		return
	}
	if m.children[c.postID] != c || c.state == TornDown {
		sub.Unsubscribe()
		return
	}
	c.sub = sub
}

func (m *Manager) handleReplies(c *child, raw []models.Change) {
	changes := make([]models.ReplyChange, 0, len(raw))
	for _, change := range raw {
		if change.Kind == models.Removed {
			changes = append(changes, models.ReplyChange{Kind: models.Removed, Reply: models.Reply{Entity: models.Entity{ID: change.EntityID}, PostID: c.postID}})
			continue
		}
		reply, err := m.projector.ProjectReply(change.Document())
		if err != nil {
			recordsSkipped.WithLabelValues("reply").Inc()
			m.logger.Warn().Err(err).Str("id", change.EntityID).Msg("skipping reply")
			continue
		}
		changes = append(changes, models.ReplyChange{Kind: change.Kind, Reply: reply})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == TornDown || m.children[c.postID] != c || c.state == TornDown {
		m.logger.Debug().Str("post", c.postID).Msg("discarding late replies batch")
		return
	}
	if c.state == Subscribing {
		m.transition(c, Active)
	}
	m.store.ApplyReplyBatch(c.postID, changes)
}

func (m *Manager) transition(c *child, next State) {
	if c.state == next {
		return
	}
	if c.state == Subscribing || c.state == Active {
		childSubscriptions.WithLabelValues(c.state.String()).Dec()
	}
	if next == Subscribing || next == Active {
		childSubscriptions.WithLabelValues(next.String()).Inc()
	}
	c.state = next
}
