// Package identity tracks the current viewer of a timeline and turns Firebase ID tokens
// into principals.
package identity

import (
	"sync"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
)

// Provider holds the current principal and notifies subscribers when it changes.
// A nil principal means nobody is signed in.
type Provider struct {
	mu        sync.Mutex
	principal *models.Principal
	nextID    int
	callbacks map[int]func(*models.Principal)
}

func NewProvider(initial *models.Principal) *Provider {
	p := &Provider{callbacks: make(map[int]func(*models.Principal))}
	if initial != nil {
		principal := *initial
		p.principal = &principal
	}
	return p
}

// Current returns a copy of the current principal.
func (p *Provider) Current() *models.Principal {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.principal == nil {
		return nil
	}
	principal := *p.principal
	return &principal
}

// Set replaces the principal. Subscribers are notified only when it actually changed.
func (p *Provider) Set(principal *models.Principal) {
	p.mu.Lock()
	if samePrincipal(p.principal, principal) {
		p.mu.Unlock()
		return
	}
	if principal != nil {
		copied := *principal
		principal = &copied
	}
	p.principal = principal
	callbacks := make([]func(*models.Principal), 0, len(p.callbacks))
	for _, cb := range p.callbacks {
		callbacks = append(callbacks, cb)
	}
	p.mu.Unlock()

	for _, cb := range callbacks {
		cb(principal)
	}
}

// OnPrincipalChanged registers callback and returns a function that removes it.
func (p *Provider) OnPrincipalChanged(callback func(*models.Principal)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.callbacks[id] = callback
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.callbacks, id)
			p.mu.Unlock()
		})
	}
}

func samePrincipal(a, b *models.Principal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Guest returns the anonymous principal used for a scope nobody signed in to.
func Guest(scope string) models.Principal {
	return models.Principal{
		UID:         models.GuestPrefix + scope,
		DisplayName: "Guest",
		Username:    "guest",
		Anonymous:   true,
	}
}
