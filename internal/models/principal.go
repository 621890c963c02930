package models

import "strings"

// GuestPrefix prefixes generated guest uids.
const GuestPrefix = "guest_"

// Principal is the viewer identity issued by the identity provider.
type Principal struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	AvatarURL   string `json:"avatarUrl"`
	Anonymous   bool   `json:"anonymous"`
}

// Verified reports whether the principal signed in with a real account.
func (p Principal) Verified() bool {
	return !p.Anonymous
}

// IsGuest reports whether the principal is a generated guest identity.
func (p Principal) IsGuest() bool {
	return strings.HasPrefix(p.UID, GuestPrefix)
}

// Profile is a user document with its denormalized follow sets.
type Profile struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Username    string   `json:"username"`
	AvatarURL   string   `json:"avatarUrl"`
	Following   []string `json:"following"`
	Followers   []string `json:"followers"`
}

// FollowRequest defines the request body for following or unfollowing a user
type FollowRequest struct {
	Following bool `json:"following"`
}
