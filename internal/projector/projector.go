// Package projector converts raw store documents into normalized view entities.
package projector

import (
	"errors"
	"fmt"
	"time"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/samber/lo"
)

// Kind selects the entity shape a raw document is projected into.
type Kind int

const (
	KindPost Kind = iota + 1
	KindReply
)

const (
	// DefaultLayout renders resolved timestamps.
	DefaultLayout = "2006/01/02 15:04:05"
	// ResolvingDisplay is shown until the store assigns the authoritative timestamp.
	ResolvingDisplay = "resolving..."
)

var ErrMissingField = errors.New("missing required field")

// Projector is a pure document-to-entity mapper. The zero value is not usable; use New.
type Projector struct {
	Location *time.Location
	Layout   string
	Now      func() time.Time
}

// New creates a Projector rendering timestamps in the local time zone.
func New() *Projector {
	return &Projector{Location: time.Local, Layout: DefaultLayout, Now: time.Now}
}

// ProjectEntity projects the fields shared by posts and replies.
func (p *Projector) ProjectEntity(doc models.RawDocument, kind Kind) (models.Entity, error) {
	if doc.ID == "" {
		return models.Entity{}, fmt.Errorf("%w: id", ErrMissingField)
	}

	var authorKeys []string
	var timestampKey string
	switch kind {
	case KindPost:
		authorKeys = []string{models.FieldPostAuthor, models.FieldPostAuthorAlt}
		timestampKey = models.FieldPostTimestamp
	case KindReply:
		authorKeys = []string{models.FieldReplyAuthor}
		timestampKey = models.FieldReplyCreatedAt
	default:
		return models.Entity{}, fmt.Errorf("unknown entity kind %d", kind)
	}

	author := stringField(doc.Fields, authorKeys...)
	if author == "" {
		return models.Entity{}, fmt.Errorf("%w: authorId (document %s)", ErrMissingField, doc.ID)
	}
	text, ok := doc.Fields[models.FieldText].(string)
	if !ok {
		return models.Entity{}, fmt.Errorf("%w: text (document %s)", ErrMissingField, doc.ID)
	}

	return models.Entity{
		ID:          doc.ID,
		AuthorID:    author,
		Text:        text,
		CreatedAt:   p.timestamp(doc.Fields[timestampKey]),
		DisplayName: stringField(doc.Fields, models.FieldDisplayName),
		Username:    stringField(doc.Fields, models.FieldUsername),
		AvatarURL:   stringField(doc.Fields, models.FieldAvatar),
		ClientRef:   stringField(doc.Fields, models.FieldClientRef),
	}, nil
}

// ProjectPost projects a post document. Replies start empty; they are filled by the
// post's own reply feed.
func (p *Projector) ProjectPost(doc models.RawDocument) (models.Post, error) {
	entity, err := p.ProjectEntity(doc, KindPost)
	if err != nil {
		return models.Post{}, err
	}

	post := models.Post{
		Entity:       entity,
		LikeCount:    max(0, intField(doc.Fields, models.FieldPostLikeCount)),
		OwnerScopeID: stringField(doc.Fields, models.FieldPostProfileUID),
		Replies:      []models.Reply{},
	}
	if verified, ok := doc.Fields[models.FieldPostVerified].(bool); ok {
		post.Verified = verified
	}
	if image := stringField(doc.Fields, models.FieldPostImage); image != "" {
		post.ImageURL = lo.ToPtr(image)
	}

	return post, nil
}

// ProjectReply projects a reply document.
func (p *Projector) ProjectReply(doc models.RawDocument) (models.Reply, error) {
	entity, err := p.ProjectEntity(doc, KindReply)
	if err != nil {
		return models.Reply{}, err
	}
	postID := stringField(doc.Fields, models.FieldReplyPostID)
	if postID == "" {
		return models.Reply{}, fmt.Errorf("%w: postId (document %s)", ErrMissingField, doc.ID)
	}
	return models.Reply{Entity: entity, PostID: postID}, nil
}

// ProjectProfile projects a user document. Profiles have no required fields besides the id.
func (p *Projector) ProjectProfile(doc models.RawDocument) (models.Profile, error) {
	if doc.ID == "" {
		return models.Profile{}, fmt.Errorf("%w: id", ErrMissingField)
	}
	return models.Profile{
		ID:          doc.ID,
		DisplayName: stringField(doc.Fields, models.FieldDisplayName),
		Username:    stringField(doc.Fields, models.FieldUsername),
		AvatarURL:   stringField(doc.Fields, models.FieldUserAvatar),
		Following:   stringSlice(doc.Fields[models.FieldUserFollowing]),
		Followers:   stringSlice(doc.Fields[models.FieldUserFollowers]),
	}, nil
}

func (p *Projector) timestamp(raw any) models.Timestamp {
	var t time.Time
	switch v := raw.(type) {
	case time.Time:
		t = v
	case *time.Time:
		if v != nil {
			t = *v
		}
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			t = parsed
		}
	case int64:
		t = time.UnixMilli(v)
	case float64:
		t = time.UnixMilli(int64(v))
	}

	if t.IsZero() {
		return models.Timestamp{Time: p.Now(), Pending: true, Display: ResolvingDisplay}
	}
	return models.Timestamp{Time: t, Display: t.In(p.Location).Format(p.Layout)}
}

func stringField(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := fields[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func intField(fields map[string]any, key string) int {
	switch v := fields[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func stringSlice(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return lo.Uniq(v)
	case []any:
		return lo.Uniq(lo.FilterMap(v, func(item any, _ int) (string, bool) {
			s, ok := item.(string)
			return s, ok && s != ""
		}))
	default:
		return []string{}
	}
}
