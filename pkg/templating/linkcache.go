package templating

import (
	"context"
	"errors"
	"log/slog"

	"github.com/KobraKid/bestiary-sub000/pkg/entry"
	"github.com/KobraKid/bestiary-sub000/pkg/store"
)

// LinkCache memoizes link identifier lookups for one top-level render and
// every preview it expands. Absent and malformed links are cached as nil so
// each unique identifier costs at most one store call. It is not safe for
// concurrent use; each render owns its own cache.
type LinkCache struct {
	entries  store.EntryStore
	logger   *slog.Logger
	resolved map[string]*entry.Entry
	lookups  int
}

// NewLinkCache returns an empty cache reading from entries.
func NewLinkCache(entries store.EntryStore, logger *slog.Logger) *LinkCache {
	return &LinkCache{
		entries:  entries,
		logger:   logger,
		resolved: make(map[string]*entry.Entry),
	}
}

// Resolve returns the entry addressed by link within pkg, or nil when the link
// is malformed or dangling.
func (c *LinkCache) Resolve(ctx context.Context, pkg, link string) *entry.Entry {
	key := pkg + "/" + link
	if e, ok := c.resolved[key]; ok {
		return e
	}

	l, err := entry.ParseLink(link)
	if err != nil {
		c.logger.DebugContext(ctx, "Malformed link", "package", pkg, "link", link)
		c.resolved[key] = nil
		return nil
	}

	c.lookups++
	e, err := c.entries.FindEntry(ctx, pkg, l.Group, l.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.logger.DebugContext(ctx, "Dangling link", "package", pkg, "link", link)
		e = nil
	case err != nil:
		c.logger.ErrorContext(ctx, "Failed to resolve link", "package", pkg, "link", link, "error", err)
		e = nil
	}
	c.resolved[key] = e
	return e
}

// Lookups returns the number of store round trips made so far.
func (c *LinkCache) Lookups() int {
	return c.lookups
}

// Len returns the number of cached identifiers, including absent ones.
func (c *LinkCache) Len() int {
	return len(c.resolved)
}
