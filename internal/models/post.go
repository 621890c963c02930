package models

import "time"

// Timestamp is the projected form of a store-assigned logical timestamp.
type Timestamp struct {
	Time    time.Time `json:"time"`
	Pending bool      `json:"pending"`
	Display string    `json:"display"`
}

// Entity holds the fields shared by posts and replies. The author profile fields are a
// snapshot taken at creation time and are never re-joined with the live profile.
type Entity struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"authorId"`
	Text        string    `json:"text"`
	CreatedAt   Timestamp `json:"createdAt"`
	DisplayName string    `json:"displayName"`
	Username    string    `json:"username"`
	AvatarURL   string    `json:"avatarUrl"`

	// ClientRef is the temporary id of the optimistic entity that produced this document.
	ClientRef string `json:"-"`
}

// Post represents a top-level timeline entry
type Post struct {
	Entity
	ImageURL       *string `json:"imageUrl,omitempty"`
	LikeCount      int     `json:"likeCount"`
	ViewerHasLiked bool    `json:"viewerHasLiked"`
	Verified       bool    `json:"verified"`
	OwnerScopeID   string  `json:"ownerScopeId"`
	Replies        []Reply `json:"replies"`
	Pending        bool    `json:"pending"`
}

// Reply represents a reply nested under exactly one post
type Reply struct {
	Entity
	PostID  string `json:"postId"`
	Pending bool   `json:"pending"`
}

// Clone returns a deep copy of the post.
func (p Post) Clone() Post {
	out := p
	if p.ImageURL != nil {
		image := *p.ImageURL
		out.ImageURL = &image
	}
	out.Replies = make([]Reply, len(p.Replies))
	copy(out.Replies, p.Replies)
	return out
}

// CreatePostRequest defines the request body for creating a new post
type CreatePostRequest struct {
	Text     string `json:"text" validate:"required,min=1,max=160"`
	ImageURL string `json:"image,omitempty" validate:"omitempty,url"`
}

// CreateReplyRequest defines the request body for replying to a post
type CreateReplyRequest struct {
	Text string `json:"text" validate:"required,min=1,max=280"`
}
