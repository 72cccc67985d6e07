// Package store provides the document stores that back the renderer: entries
// addressed by (package, group, business id) and localizable resources
// addressed by (package, resource id).
//
// Two implementations are provided. SQLStore keeps JSON documents in SQLite
// and is the default; MongoStore keeps them in MongoDB collections. Both
// satisfy EntryStore, ResourceStore and Writer.
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/KobraKid/bestiary-sub000/pkg/entry"
)

// ErrNotFound is returned when a requested entry or resource does not exist.
var ErrNotFound = errors.New("not found")

// EntryStore looks up entries.
type EntryStore interface {
	// FindEntry returns ErrNotFound when no entry matches.
	FindEntry(ctx context.Context, pkg, group, id string) (*entry.Entry, error)
	// FindEntries returns one 1-based page of a group ordered by the sort
	// attribute path, falling back to business id order.
	FindEntries(ctx context.Context, pkg, group string, page, pageSize int, sort string) ([]*entry.Entry, error)
	CountEntries(ctx context.Context, pkg, group string) (int, error)
}

// ResourceStore looks up localizable resources.
type ResourceStore interface {
	// FindResource returns ErrNotFound when no resource matches.
	FindResource(ctx context.Context, pkg, id string) (*entry.Resource, error)
}

// Writer upserts documents. It is used by the document loader.
type Writer interface {
	PutEntry(ctx context.Context, e *entry.Entry) error
	PutResource(ctx context.Context, r *entry.Resource) error
}

// Reader is everything a renderer needs.
type Reader interface {
	EntryStore
	ResourceStore
}

// Store is the full set of operations both backends implement.
type Store interface {
	Reader
	Writer
	Close() error
}

var sortSegment = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidSortKey reports whether sort is a dot-delimited attribute path that can
// be handed to a backend query.
func ValidSortKey(sort string) bool {
	if sort == "" {
		return false
	}
	for _, seg := range strings.Split(sort, ".") {
		if !sortSegment.MatchString(seg) {
			return false
		}
	}
	return true
}

// pageOffset converts a 1-based page into a row offset.
func pageOffset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}
