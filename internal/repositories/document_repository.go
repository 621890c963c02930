package repositories

import (
	"context"
	"errors"
	"net"
	"slices"
	"time"

	"github.com/anonto42/nano-midea/livefeed/internal/feed"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/samber/lo"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnavailable      = errors.New("document store unavailable")
)

// WriteMode selects how Update treats the stored document.
type WriteMode int

const (
	// Merge writes the given fields into the document, creating it when missing.
	Merge WriteMode = iota
	// Replace overwrites the whole document, creating it when missing.
	Replace
	// Patch writes the given fields into an existing document and fails with ErrNotFound otherwise.
	Patch
)

func (m WriteMode) String() string {
	switch m {
	case Merge:
		return "merge"
	case Replace:
		return "replace"
	case Patch:
		return "patch"
	default:
		return "unknown"
	}
}

type serverTimestamp struct{}

type arrayUnion struct{ values []any }

type arrayRemove struct{ values []any }

// ServerTimestamp is replaced by the store's clock when written.
var ServerTimestamp any = serverTimestamp{}

// ArrayUnion adds the values to an array field, skipping ones already present.
func ArrayUnion(values ...any) any { return arrayUnion{values: values} }

// ArrayRemove removes every occurrence of the values from an array field.
func ArrayRemove(values ...any) any { return arrayRemove{values: values} }

// DocumentRepository defines the interface for document store writes, point reads and
// one-shot queries
type DocumentRepository interface {
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)
	Update(ctx context.Context, collection, id string, fields map[string]any, mode WriteMode) error
	Delete(ctx context.Context, collection, id string) error
	Get(ctx context.Context, collection, id string) (models.RawDocument, error)
	Find(ctx context.Context, query feed.Query) ([]models.RawDocument, error)
}

// ApplyFields writes fields into doc, resolving the write sentinels against now. It
// returns doc for convenience; a nil doc is allocated.
func ApplyFields(doc map[string]any, fields map[string]any, now time.Time) map[string]any {
	if doc == nil {
		doc = make(map[string]any, len(fields))
	}
	for key, value := range fields {
		switch v := value.(type) {
		case serverTimestamp:
			doc[key] = now
		case arrayUnion:
			current := toAnySlice(doc[key])
			for _, item := range v.values {
				if !slices.Contains(current, item) {
					current = append(current, item)
				}
			}
			doc[key] = current
		case arrayRemove:
			doc[key] = lo.Filter(toAnySlice(doc[key]), func(item any, _ int) bool {
				return !slices.Contains(v.values, item)
			})
		default:
			doc[key] = value
		}
	}
	return doc
}

func toAnySlice(value any) []any {
	switch v := value.(type) {
	case []any:
		return slices.Clone(v)
	case []string:
		return lo.ToAnySlice(v)
	default:
		return []any{}
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		if s, ok := value.([]any); ok {
			value = slices.Clone(s)
		}
		out[key] = value
	}
	return out
}
