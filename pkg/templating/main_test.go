package templating

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/KobraKid/bestiary-sub000/pkg/entry"
	"github.com/KobraKid/bestiary-sub000/pkg/store"
)

// memStore is an in-memory store.Reader that counts lookups.
type memStore struct {
	mu        sync.Mutex
	entries   map[string]*entry.Entry
	resources map[string]*entry.Resource
	finds     map[string]int
	pages     []int

	// onFindEntries runs before a page is returned.
	onFindEntries func(page int)
	// onFindEntry runs before a single entry lookup returns.
	onFindEntry   func(key string)
}

func newMemStore() *memStore {
	return &memStore{
		entries:   make(map[string]*entry.Entry),
		resources: make(map[string]*entry.Resource),
		finds:     make(map[string]int),
	}
}

func (s *memStore) add(pkg, group, id string, attrs map[string]any) *entry.Entry {
	e := &entry.Entry{Package: pkg, Group: group, ID: id, Attributes: entry.FromAny(attrs)}
	s.mu.Lock()
	s.entries[pkg+"/"+group+"/"+id] = e
	s.mu.Unlock()
	return e
}

func (s *memStore) addResource(pkg, id string, v any) {
	s.mu.Lock()
	s.resources[pkg+"/"+id] = &entry.Resource{Package: pkg, ID: id, Value: entry.FromAny(v)}
	s.mu.Unlock()
}

func (s *memStore) findCount(pkg, group, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds[pkg+"/"+group+"/"+id]
}

func (s *memStore) FindEntry(_ context.Context, pkg, group, id string) (*entry.Entry, error) {
	key := pkg + "/" + group + "/" + id
	s.mu.Lock()
	hook := s.onFindEntry
	s.mu.Unlock()
	if hook != nil {
		hook(key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds[key]++
	e, ok := s.entries[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e, nil
}

func (s *memStore) group(pkg, group string) []*entry.Entry {
	var out []*entry.Entry
	for _, e := range s.entries {
		if e.Package == pkg && e.Group == group {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) FindEntries(_ context.Context, pkg, group string, page, pageSize int, _ string) ([]*entry.Entry, error) {
	s.mu.Lock()
	all := s.group(pkg, group)
	s.pages = append(s.pages, page)
	hook := s.onFindEntries
	s.mu.Unlock()
	if hook != nil {
		hook(page)
	}

	if pageSize <= 0 {
		return all, nil
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, nil
	}
	end := min(start+pageSize, len(all))
	return all[start:end], nil
}

func (s *memStore) CountEntries(_ context.Context, pkg, group string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.group(pkg, group)), nil
}

func (s *memStore) FindResource(_ context.Context, pkg, id string) (*entry.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[pkg+"/"+id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestManager creates a Manager over an in-memory store and filesystem
// seeded with a small bestiary.
func setupTestManager(tb testing.TB, files fstest.MapFS, mutate ...func(*TemplateConfig)) (*Manager, *memStore) {
	tb.Helper()
	st := newMemStore()
	st.add("core", "monsters", "slime", map[string]any{
		"name":    "Slime",
		"hp":      10,
		"icon":    "slime.png",
		"element": "fire",
		"drop":    "items.potion",
		"drops":   []any{map[string]any{"name": "Potion"}, map[string]any{"name": "Ether"}},
		"stats":   map[string]any{"atk": 3, "def": 1},
		"broken":  "items.nothing",
		"garbled": "not-a-link",
	})
	st.add("core", "items", "potion", map[string]any{"name": "Potion", "heal": 25, "recipe": "items.herb"})
	st.add("core", "items", "herb", map[string]any{"name": "Herb"})
	st.addResource("core", "fire", map[string]any{"en": "Fire", "ja": "火"})
	st.addResource("core", "title", "Bestiary")
	st.addResource("core", "quote", `Tom & "Jerry's"`)

	if files == nil {
		files = fstest.MapFS{}
	}
	config := DefaultConfig()
	for _, fn := range mutate {
		fn(config)
	}
	m, err := NewManager(discardLogger(), st, config, "", WithFS(files))
	if err != nil {
		tb.Fatalf("NewManager() failed: %v", err)
	}
	return m, st
}

// renderString renders src against the slime entry.
func renderString(tb testing.TB, m *Manager, st *memStore, src string) string {
	tb.Helper()
	e, err := st.FindEntry(context.Background(), "core", "monsters", "slime")
	if err != nil {
		tb.Fatalf("slime missing: %v", err)
	}
	return m.RenderString(context.Background(), src, e, "en")
}
