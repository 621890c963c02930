package models

import "fmt"

// ChangeKind is the kind of a single change-feed event.
type ChangeKind int

const (
	Added ChangeKind = iota + 1
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// RawDocument is a document as delivered by the document store.
type RawDocument struct {
	ID     string
	Fields map[string]any
}

// Change is one event of a change-feed batch. Payload is nil for removals.
type Change struct {
	Kind     ChangeKind
	EntityID string
	Payload  map[string]any
}

// Document returns the change payload as a raw document.
func (c Change) Document() RawDocument {
	return RawDocument{ID: c.EntityID, Fields: c.Payload}
}

// PostChange is a projected post change ready to be applied to a view.
type PostChange struct {
	Kind ChangeKind
	Post Post
}

// ReplyChange is a projected reply change ready to be applied to a view.
type ReplyChange struct {
	Kind  ChangeKind
	Reply Reply
}
