package domain

import "time"

// TagKind separates the two tag taxonomies.
type TagKind string

const (
	// TagKindQuestion classifies a ticket with at most one tag.
	TagKindQuestion TagKind = "question"
	// TagKindCategory groups tickets by team, many per ticket.
	TagKindCategory TagKind = "category"
)

// ParseTagKind validates a user supplied kind.
func ParseTagKind(raw string) (TagKind, bool) {
	switch TagKind(raw) {
	case TagKindQuestion, TagKindCategory:
		return TagKind(raw), true
	}
	return "", false
}

// Tag labels tickets.
type Tag struct {
	ID          int64
	Kind        TagKind
	Name        string
	CreatedByID *int64
	CreatedAt   time.Time
}
