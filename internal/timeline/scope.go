package timeline

import (
	"fmt"

	"github.com/anonto42/nano-midea/livefeed/internal/feed"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
)

// Origin names the kind of timeline a session shows.
type Origin string

const (
	// OriginHome is the viewer's own timeline.
	OriginHome Origin = "home"
	// OriginUser is another profile's timeline as seen by the viewer.
	OriginUser Origin = "user"
)

// Scope identifies the timeline a session renders.
type Scope struct {
	Origin    Origin `json:"origin"`
	ProfileID string `json:"profileId"`
}

func (s Scope) Validate() error {
	switch s.Origin {
	case OriginHome, OriginUser:
	default:
		return fmt.Errorf("unknown timeline origin %q", s.Origin)
	}
	if s.ProfileID == "" {
		return fmt.Errorf("timeline %s needs a profile id", s.Origin)
	}
	return nil
}

func (s Scope) String() string {
	return string(s.Origin) + "/" + s.ProfileID
}

// owner returns the profile new posts in this scope are published to. Guests on a home
// timeline see the profile owner's posts.
func (s Scope) owner(viewerUID string) string {
	guest := models.Principal{UID: viewerUID}.IsGuest()
	if s.Origin == OriginHome && viewerUID != "" && !guest {
		return viewerUID
	}
	return s.ProfileID
}

// PostsQuery returns the posts a viewer sees in scope. The home timeline holds the posts
// published to the viewer's profile; a user timeline holds the posts on that profile
// written by its owner or by the viewer.
func PostsQuery(scope Scope, viewerUID string) feed.Query {
	q := feed.Query{Collection: models.PostsCollection}
	if scope.Origin == OriginHome {
		return q.Where(models.FieldPostProfileUID, feed.OpEqual, scope.owner(viewerUID)).
			Order(models.FieldPostTimestamp, true)
	}
	return q.Where(models.FieldPostProfileUID, feed.OpEqual, scope.ProfileID).
		Where(models.FieldPostAuthor, feed.OpIn, []string{scope.ProfileID, viewerUID}).
		Order(models.FieldPostTimestamp, true)
}

// RepliesQuery returns the replies of one post, oldest first.
func RepliesQuery(postID string) feed.Query {
	return feed.Query{Collection: models.RepliesCollection}.
		Where(models.FieldReplyPostID, feed.OpEqual, postID).
		Order(models.FieldReplyCreatedAt, false)
}
