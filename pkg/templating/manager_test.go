package templating

import (
	"context"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/KobraKid/bestiary-sub000/pkg/entry"
)

// countingFS records how often each file is opened.
type countingFS struct {
	fs.FS
	mu    sync.Mutex
	opens map[string]int
}

func (c *countingFS) Open(name string) (fs.File, error) {
	c.mu.Lock()
	if c.opens == nil {
		c.opens = make(map[string]int)
	}
	c.opens[name]++
	c.mu.Unlock()
	return c.FS.Open(name)
}

func (c *countingFS) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens[name]
}

func TestNewManager(t *testing.T) {
	m, _ := setupTestManager(t, nil)
	if m == nil {
		t.Fatal("NewManager returned nil manager")
	}
	if cfg := m.GetConfig(); cfg.EvalEngine != "expr" || cfg.DefaultLanguage != "en" {
		t.Errorf("unexpected default config: %+v", cfg)
	}

	config := DefaultConfig()
	config.EvalEngine = "cobol"
	if _, err := NewManager(discardLogger(), newMemStore(), config, "", WithFS(fstest.MapFS{})); err == nil {
		t.Error("expected NewManager to reject an unknown eval engine")
	}
}

func TestRenderCachesTriple(t *testing.T) {
	m, _ := setupTestManager(t, nil)
	var calls atomic.Int32
	key := templateKey{pkg: "core", group: "monsters", kind: KindLayout, view: ViewDetail}
	m.templates[key] = &Template{name: "counting", render: func(_ context.Context, _ *pass, e *entry.Entry) string {
		calls.Add(1)
		return "<h1>" + e.ID + "</h1>"
	}}

	ctx := context.Background()
	first := m.Render(ctx, "core", "monsters", "slime", ViewDetail, "en")
	second := m.Render(ctx, "core", "monsters", "slime", ViewDetail, "en")
	if first != second || first.Layout != "<h1>slime</h1>" {
		t.Errorf("renders differ: %+v vs %+v", first, second)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("template executed %d times, want 1", n)
	}

	// a different language is a different cache entry
	m.Render(ctx, "core", "monsters", "slime", ViewDetail, "ja")
	if n := calls.Load(); n != 2 {
		t.Errorf("template executed %d times after language change, want 2", n)
	}

	m.ClearCache()
	if len(m.templates) != 0 || len(m.renders) != 0 {
		t.Error("ClearCache() left entries behind")
	}
}

func TestRenderEntryUsesCache(t *testing.T) {
	files := fstest.MapFS{"core/monsters/any.html": {Data: []byte("{{attribute|name}}")}}
	m, st := setupTestManager(t, files)
	ctx := context.Background()
	e, _ := st.FindEntry(ctx, "core", "monsters", "slime")

	r := m.RenderEntry(ctx, e, ViewPreview, "")
	if r.Layout != "Slime" {
		t.Fatalf("RenderEntry() = %+v", r)
	}
	if _, ok := m.renders[renderKey{pkg: "core", group: "monsters", id: "slime", view: ViewPreview, lang: "en"}]; !ok {
		t.Error("RenderEntry() did not populate the render cache under the default language")
	}
}

func TestTemplateFallbackAndMissingFiles(t *testing.T) {
	cfs := &countingFS{FS: fstest.MapFS{
		"core/monsters/detail.html": {Data: []byte("detail")},
		"core/monsters/any.html":    {Data: []byte("any")},
	}}
	m, err := NewManager(discardLogger(), newMemStore(), DefaultConfig(), "", WithFS(cfs))
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	ctx := context.Background()
	e := &entry.Entry{Package: "core", Group: "monsters", ID: "x"}
	st := newPass("en", newMemStore(), discardLogger())

	if got := m.Template("core", "monsters", KindLayout, ViewDetail).execute(ctx, st, e); got != "detail" {
		t.Errorf("detail layout = %q", got)
	}
	if got := m.Template("core", "monsters", KindLayout, ViewPreview).execute(ctx, st, e); got != "any" {
		t.Errorf("preview layout should fall back to any.html, got %q", got)
	}

	for i := 0; i < 3; i++ {
		if got := m.Template("core", "monsters", KindScript, ViewDetail).execute(ctx, st, e); got != "" {
			t.Errorf("missing script = %q, want empty", got)
		}
	}
	if n := cfs.count("core/monsters/detail.js"); n != 1 {
		t.Errorf("missing file opened %d times, want 1", n)
	}
}

func TestLiveReloadBypassesCaches(t *testing.T) {
	files := fstest.MapFS{"core/monsters/detail.html": {Data: []byte("v1")}}
	m, _ := setupTestManager(t, files, func(c *TemplateConfig) { c.LiveReload = true })
	ctx := context.Background()

	if r := m.Render(ctx, "core", "monsters", "slime", ViewDetail, "en"); r.Layout != "v1" {
		t.Fatalf("first render = %q", r.Layout)
	}
	files["core/monsters/detail.html"] = &fstest.MapFile{Data: []byte("v2")}
	if r := m.Render(ctx, "core", "monsters", "slime", ViewDetail, "en"); r.Layout != "v2" {
		t.Errorf("live render = %q, want the edited template", r.Layout)
	}

	if err := m.SetConfig(DefaultConfig()); err != nil {
		t.Fatalf("SetConfig() failed: %v", err)
	}
	m.Render(ctx, "core", "monsters", "slime", ViewDetail, "en")
	files["core/monsters/detail.html"] = &fstest.MapFile{Data: []byte("v3")}
	if r := m.Render(ctx, "core", "monsters", "slime", ViewDetail, "en"); r.Layout != "v2" {
		t.Errorf("cached render = %q, want v2", r.Layout)
	}

	m.Invalidate("core", "monsters")
	if r := m.Render(ctx, "core", "monsters", "slime", ViewDetail, "en"); r.Layout != "v3" {
		t.Errorf("render after Invalidate = %q, want v3", r.Layout)
	}
}

func TestRenderMissingEntry(t *testing.T) {
	files := fstest.MapFS{"core/monsters/detail.html": {Data: []byte("never")}}
	m, _ := setupTestManager(t, files)
	if r := m.Render(context.Background(), "core", "monsters", "dragon", ViewDetail, "en"); !r.IsZero() {
		t.Errorf("Render(missing) = %+v, want empty", r)
	}
	if len(m.renders) != 0 {
		t.Error("a missing entry must not be cached")
	}
}

func TestStyleImports(t *testing.T) {
	files := fstest.MapFS{
		"core/monsters/any.css":          {Data: []byte("@import \"parts/base.css\";\n.monster { color: red; }\n")},
		"core/monsters/parts/base.css":   {Data: []byte("@import url(colors.css);\nbody { margin: 0; }")},
		"core/monsters/parts/colors.css": {Data: []byte(":root { --accent: #f00; }")},
		"core/items/any.css":             {Data: []byte("@import \"a.css\";")},
		"core/items/a.css":               {Data: []byte("@import \"any.css\";")},
	}
	m, _ := setupTestManager(t, files)
	ctx := context.Background()

	r := m.Render(ctx, "core", "monsters", "slime", ViewDetail, "en")
	want := ":root { --accent: #f00; }\nbody { margin: 0; }\n.monster { color: red; }\n"
	if r.Style != want {
		t.Errorf("Style = %q, want %q", r.Style, want)
	}

	if r = m.Render(ctx, "core", "items", "potion", ViewDetail, "en"); r.Style != "" {
		t.Errorf("an import cycle should degrade to an empty style, got %q", r.Style)
	}
}

func TestManifest(t *testing.T) {
	files := fstest.MapFS{
		"core/package.toml": {Data: []byte(`
name = "Core"
image_dir = "img"
default_language = "ja"
page_size = 10

[groups.monsters]
sort = "stats.atk"
page_size = 2
`)},
		"core/monsters/detail.html": {Data: []byte("{{image|icon}} {{resource|element}}")},
		"broken/package.toml":       {Data: []byte("image_dir = [")},
	}
	m, _ := setupTestManager(t, files)

	mf := m.Manifest("core")
	if mf.Name != "Core" || mf.Sort("monsters") != "stats.atk" || mf.GroupPageSize("monsters", 25) != 2 || mf.GroupPageSize("items", 25) != 10 {
		t.Errorf("unexpected manifest: %+v", mf)
	}
	if m.Manifest("broken").ImageDir != "images" || m.Manifest("absent").ImageDir != "images" {
		t.Error("unreadable or absent manifests should fall back to defaults")
	}

	r := m.Render(context.Background(), "core", "monsters", "slime", ViewDetail, "")
	if r.Layout != "/static/core/img/slime.png 火" {
		t.Errorf("Layout = %q, want the manifest image dir and language", r.Layout)
	}
}

func TestConcurrentRenders(t *testing.T) {
	files := fstest.MapFS{
		"core/monsters/detail.html": {Data: []byte("{{attribute|name}} drops {{preview|drop}}")},
		"core/items/preview.html":   {Data: []byte("{{attribute|name}}")},
	}
	m, _ := setupTestManager(t, files)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if j%7 == 0 {
					m.ClearCache()
				}
				r := m.Render(ctx, "core", "monsters", "slime", ViewDetail, "en")
				if r.Layout != "Slime drops Potion" {
					t.Errorf("Layout = %q", r.Layout)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestRenderString(t *testing.T) {
	m, st := setupTestManager(t, nil)
	got := renderString(t, m, st, "{{attribute|name}} ({{resource|element}})")
	if !strings.HasPrefix(got, "Slime") || got != "Slime (Fire)" {
		t.Errorf("RenderString() = %q", got)
	}
	if len(m.renders) != 0 || len(m.templates) != 0 {
		t.Error("RenderString() must not touch the caches")
	}
}

// Results of a render that overlaps a cache reset must not be stored, or the
// stale output would outlive the reset.
func TestResetDuringRenderIsNotCached(t *testing.T) {
	tests := []struct {
		name  string
		reset func(m *Manager)
	}{
		{"ClearCache", func(m *Manager) { m.ClearCache() }},
		{"Invalidate", func(m *Manager) { m.Invalidate("core", "monsters") }},
		{"InvalidatePackage", func(m *Manager) { m.InvalidatePackage("core") }},
		{"SetConfig", func(m *Manager) {
			if err := m.SetConfig(DefaultConfig()); err != nil {
				t.Errorf("SetConfig() error = %v", err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := fstest.MapFS{
				"core/monsters/detail.html": {Data: []byte("OLD {{attribute|drop->name}}")},
			}
			m, st := setupTestManager(t, files)
			ctx := context.Background()

			var once sync.Once
			st.onFindEntry = func(key string) {
				if key != "core/items/potion" {
					return
				}
				once.Do(func() {
					files["core/monsters/detail.html"] = &fstest.MapFile{Data: []byte("NEW {{attribute|drop->name}}")}
					tt.reset(m)
				})
			}

			if got := m.Render(ctx, "core", "monsters", "slime", ViewDetail, "en").Layout; got != "OLD Potion" {
				t.Fatalf("first Render() = %q, want %q", got, "OLD Potion")
			}
			if got := m.Render(ctx, "core", "monsters", "slime", ViewDetail, "en").Layout; got != "NEW Potion" {
				t.Errorf("Render() after reset = %q, want %q", got, "NEW Potion")
			}
		})
	}
}
