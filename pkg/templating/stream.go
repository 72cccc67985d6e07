package templating

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/KobraKid/bestiary-sub000/pkg/entry"
)

// PageInfo describes the page a stream covers.
type PageInfo struct {
	Page      int `json:"page"`
	PageCount int `json:"page_count"`
	PageSize  int `json:"page_size"`
	Total     int `json:"total"`
}

// RenderedEntry is one element of a page stream.
type RenderedEntry struct {
	ID    string `json:"id"`
	Page  int    `json:"page"`
	Index int    `json:"index"`
	Rendered
}

// Coordinator streams rendered pages of a group. Cancel aborts the running
// stream between entries; an entry already being rendered is finished but
// not emitted. Starting a new stream clears the flag and supersedes any
// stream still running on the same Coordinator.
type Coordinator struct {
	m         *Manager
	logger    *slog.Logger
	cancelled atomic.Bool
	gen       atomic.Uint64
}

// NewCoordinator returns a Coordinator rendering through m.
func (m *Manager) NewCoordinator() *Coordinator {
	return &Coordinator{m: m, logger: m.logger}
}

// Cancel stops the running stream before its next entry.
func (c *Coordinator) Cancel() {
	c.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called since the last stream started.
func (c *Coordinator) Cancelled() bool {
	return c.cancelled.Load()
}

func (c *Coordinator) start() uint64 {
	c.cancelled.Store(false)
	return c.gen.Add(1)
}

func (c *Coordinator) stopped(ctx context.Context, gen uint64) bool {
	return c.cancelled.Load() || c.gen.Load() != gen || ctx.Err() != nil
}

// layout computes paging for a group using the package manifest.
func (c *Coordinator) layout(ctx context.Context, pkg, group string) (PageInfo, string, error) {
	config, _ := c.m.state()
	mf := c.m.Manifest(pkg)
	info := PageInfo{PageSize: mf.GroupPageSize(group, config.PageSize)}

	total, err := c.m.store.CountEntries(ctx, pkg, group)
	if err != nil {
		return info, "", fmt.Errorf("failed to count entries of %s/%s: %w", pkg, group, err)
	}
	info.Total = total
	switch {
	case total == 0:
		info.PageCount = 0
	case info.PageSize <= 0:
		info.PageCount = 1
	default:
		info.PageCount = (total + info.PageSize - 1) / info.PageSize
	}
	return info, mf.Sort(group), nil
}

// RenderPage renders one page of a group. The page is clamped to the valid
// range. The channel is closed when the page is done, the stream is
// cancelled or ctx ends.
func (c *Coordinator) RenderPage(ctx context.Context, pkg, group string, page int, view View, lang string) (PageInfo, <-chan RenderedEntry, error) {
	gen := c.start()
	info, sort, err := c.layout(ctx, pkg, group)
	if err != nil {
		return info, nil, err
	}
	info.Page = clampPage(page, info.PageCount)

	entries, err := c.m.store.FindEntries(ctx, pkg, group, info.Page, info.PageSize, sort)
	if err != nil {
		return info, nil, fmt.Errorf("failed to load page %d of %s/%s: %w", info.Page, pkg, group, err)
	}

	out := make(chan RenderedEntry)
	go func() {
		defer close(out)
		c.emit(ctx, gen, out, info.Page, entries, view, lang)
	}()
	return info, out, nil
}

// RenderAll renders every page of a group in order, loading each page only
// after the previous one has been emitted.
func (c *Coordinator) RenderAll(ctx context.Context, pkg, group string, view View, lang string) (PageInfo, <-chan RenderedEntry, error) {
	gen := c.start()
	info, sort, err := c.layout(ctx, pkg, group)
	if err != nil {
		return info, nil, err
	}
	info.Page = clampPage(1, info.PageCount)

	out := make(chan RenderedEntry)
	go func() {
		defer close(out)
		for page := 1; page <= info.PageCount; page++ {
			if c.stopped(ctx, gen) {
				return
			}
			entries, err := c.m.store.FindEntries(ctx, pkg, group, page, info.PageSize, sort)
			if err != nil {
				c.logger.ErrorContext(ctx, "Failed to load page", "package", pkg, "group", group, "page", page, "error", err)
				return
			}
			if !c.emit(ctx, gen, out, page, entries, view, lang) {
				return
			}
		}
	}()
	return info, out, nil
}

// emit renders and sends entries, checking for cancellation before each
// render and before each send. It reports whether the page completed.
func (c *Coordinator) emit(ctx context.Context, gen uint64, out chan<- RenderedEntry, page int, entries []*entry.Entry, view View, lang string) bool {
	for i, e := range entries {
		if c.stopped(ctx, gen) {
			c.logger.DebugContext(ctx, "Page stream stopped", "page", page, "index", i)
			return false
		}
		r := c.m.RenderEntry(ctx, e, view, lang)
		if c.stopped(ctx, gen) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case out <- RenderedEntry{ID: e.ID, Page: page, Index: i, Rendered: r}:
		}
	}
	return true
}

func clampPage(page, pageCount int) int {
	if page < 1 || pageCount < 1 {
		return 1
	}
	if page > pageCount {
		return pageCount
	}
	return page
}
