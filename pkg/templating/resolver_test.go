package templating

import (
	"context"
	"testing"

	"github.com/KobraKid/bestiary-sub000/pkg/entry"
)

func TestResolvePath(t *testing.T) {
	_, st := setupTestManager(t, nil)
	ctx := context.Background()
	slime, _ := st.FindEntry(ctx, "core", "monsters", "slime")

	tests := []struct {
		path     string
		want     string
		complete bool
	}{
		{"name", "Slime", true},
		{"stats.atk", "3", true},
		{"drops.0.name", "Potion", true},
		{"stats.mp", `{"atk":3,"def":1}`, false},
		{"name.first", "Slime", false},
		{"drops.7", `[{"name":"Potion"},{"name":"Ether"}]`, false},
		{"drop->name", "Potion", true},
		{"drop->recipe->name", "Herb", true},
		{"drop->missing", `{"heal":25,"name":"Potion","recipe":"items.herb"}`, false},
		{"broken->name", "", false},
		{"garbled->name", "", false},
		{"nothing->name", "", false},
	}
	for _, tt := range tests {
		links := NewLinkCache(st, discardLogger())
		r := ResolvePath(ctx, slime, tt.path, links)
		if r.Value.String() != tt.want || r.Complete != tt.complete {
			t.Errorf("ResolvePath(%q) = (%q, %v), want (%q, %v)", tt.path, r.Value.String(), r.Complete, tt.want, tt.complete)
		}
	}
}

func TestResolvePathIsIdempotent(t *testing.T) {
	_, st := setupTestManager(t, nil)
	ctx := context.Background()
	slime, _ := st.FindEntry(ctx, "core", "monsters", "slime")
	links := NewLinkCache(st, discardLogger())

	first := ResolvePath(ctx, slime, "drop->recipe->name", links)
	second := ResolvePath(ctx, slime, "drop->recipe->name", links)
	if !first.Value.Equal(second.Value) || first.Complete != second.Complete {
		t.Errorf("resolutions differ: %v vs %v", first, second)
	}
	ResolvePath(ctx, slime, "drop->name", links)

	if n := st.findCount("core", "items", "potion"); n != 1 {
		t.Errorf("items.potion fetched %d times, want 1", n)
	}
	if n := st.findCount("core", "items", "herb"); n != 1 {
		t.Errorf("items.herb fetched %d times, want 1", n)
	}
	if links.Lookups() != 2 {
		t.Errorf("Lookups() = %d, want 2", links.Lookups())
	}
}

func TestLinkCacheCachesAbsentLinks(t *testing.T) {
	_, st := setupTestManager(t, nil)
	ctx := context.Background()
	links := NewLinkCache(st, discardLogger())

	for i := 0; i < 3; i++ {
		if e := links.Resolve(ctx, "core", "items.nothing"); e != nil {
			t.Fatalf("Resolve(items.nothing) = %v, want nil", e)
		}
		if e := links.Resolve(ctx, "core", "not-a-link"); e != nil {
			t.Fatalf("Resolve(not-a-link) = %v, want nil", e)
		}
	}
	if n := st.findCount("core", "items", "nothing"); n != 1 {
		t.Errorf("dangling link fetched %d times, want 1", n)
	}
	if links.Lookups() != 1 || links.Len() != 2 {
		t.Errorf("Lookups() = %d, Len() = %d; want 1, 2", links.Lookups(), links.Len())
	}
}

func TestLinkCacheIsScopedByPackage(t *testing.T) {
	_, st := setupTestManager(t, nil)
	st.add("dlc", "items", "potion", map[string]any{"name": "Hi-Potion"})
	ctx := context.Background()
	links := NewLinkCache(st, discardLogger())

	core := links.Resolve(ctx, "core", "items.potion")
	dlc := links.Resolve(ctx, "dlc", "items.potion")
	if core == nil || dlc == nil || core == dlc {
		t.Fatalf("expected distinct entries, got %v and %v", core, dlc)
	}
	if name, _ := dlc.Attributes.Field("name"); name.String() != "Hi-Potion" {
		t.Errorf("dlc potion name = %q", name.String())
	}
}

func TestResolvePathNilEntry(t *testing.T) {
	r := ResolvePath(context.Background(), nil, "name", nil)
	if r.Complete || !r.Value.Equal(entry.Null()) {
		t.Errorf("ResolvePath(nil) = %v", r)
	}
}
