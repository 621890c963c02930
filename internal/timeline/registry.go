package timeline

import (
	"context"
	"sync"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Registry holds the open sessions of the process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Add(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID()] = session
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	return session, ok
}

// Remove closes and forgets a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		session.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ActiveViewers returns the uids of the signed-in viewers of all sessions.
func (r *Registry) ActiveViewers() []string {
	r.mu.RLock()
	sessions := lo.Values(r.sessions)
	r.mu.RUnlock()

	return lo.Uniq(lo.FilterMap(sessions, func(s *Session, _ int) (string, bool) {
		principal := s.Principal()
		if principal == nil || principal.IsGuest() {
			return "", false
		}
		return principal.UID, true
	}))
}

// Close closes every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}

// Open creates, starts and registers a session.
func (r *Registry) Open(ctx context.Context, scope Scope, principal *models.Principal, deps Deps, logger zerolog.Logger) (*Session, error) {
	session, err := NewSession(scope, principal, deps, logger)
	if err != nil {
		return nil, err
	}
	if err := session.Start(ctx); err != nil {
		session.Close()
		return nil, err
	}
	r.Add(session)
	return session, nil
}
