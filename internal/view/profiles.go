package view

import (
	"slices"
	"sync"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/samber/lo"
)

// Profiles caches the profiles a viewer has seen, including the local copy of their
// following/followers sets.
type Profiles struct {
	mu        sync.RWMutex
	profiles  map[string]models.Profile
	listeners listeners
}

func NewProfiles() *Profiles {
	return &Profiles{profiles: make(map[string]models.Profile)}
}

// OnChanged registers a callback fired after every local profile change.
func (p *Profiles) OnChanged(callback func()) func() {
	return p.listeners.add(callback)
}

// Put stores or replaces a profile.
func (p *Profiles) Put(profile models.Profile) {
	p.mu.Lock()
	p.profiles[profile.ID] = cloneProfile(profile)
	p.mu.Unlock()

	p.listeners.notify()
}

// Get returns a copy of the cached profile.
func (p *Profiles) Get(id string) (models.Profile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	profile, ok := p.profiles[id]
	if !ok {
		return models.Profile{}, false
	}
	return cloneProfile(profile), true
}

// IsFollowing reports whether the local copy of follower's following set contains target.
func (p *Profiles) IsFollowing(follower, target string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return lo.Contains(p.profiles[follower].Following, target)
}

// ApplyFollow adds or removes the edge follower -> target in the follower's following
// set and, if the target is cached, in its followers set. The returned function undoes
// exactly the changes that were made.
func (p *Profiles) ApplyFollow(follower, target string, following bool) func() {
	p.mu.Lock()
	viewer, ok := p.profiles[follower]
	if !ok {
		viewer = models.Profile{ID: follower}
	}
	var changedFollowing, changedFollowers bool
	viewer.Following, changedFollowing = setMembership(viewer.Following, target, following)
	p.profiles[follower] = viewer

	if profile, ok := p.profiles[target]; ok {
		profile.Followers, changedFollowers = setMembership(profile.Followers, follower, following)
		p.profiles[target] = profile
	}
	p.mu.Unlock()

	if changedFollowing || changedFollowers {
		p.listeners.notify()
	}

	return func() {
		p.mu.Lock()
		if changedFollowing {
			profile := p.profiles[follower]
			profile.Following, _ = setMembership(profile.Following, target, !following)
			p.profiles[follower] = profile
		}
		if changedFollowers {
			if profile, ok := p.profiles[target]; ok {
				profile.Followers, _ = setMembership(profile.Followers, follower, !following)
				p.profiles[target] = profile
			}
		}
		p.mu.Unlock()

		if changedFollowing || changedFollowers {
			p.listeners.notify()
		}
	}
}

// Reset drops every cached profile.
func (p *Profiles) Reset() {
	p.mu.Lock()
	p.profiles = make(map[string]models.Profile)
	p.mu.Unlock()

	p.listeners.notify()
}

func setMembership(set []string, id string, member bool) ([]string, bool) {
	has := lo.Contains(set, id)
	switch {
	case member && !has:
		return append(slices.Clone(set), id), true
	case !member && has:
		return lo.Without(set, id), true
	default:
		return set, false
	}
}

func cloneProfile(profile models.Profile) models.Profile {
	profile.Following = slices.Clone(profile.Following)
	profile.Followers = slices.Clone(profile.Followers)
	return profile
}
