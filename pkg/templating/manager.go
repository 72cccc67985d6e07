package templating

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/KobraKid/bestiary-sub000/pkg/entry"
	"github.com/KobraKid/bestiary-sub000/pkg/store"
)

type templateKey struct {
	pkg   string
	group string
	kind  FileKind
	view  View
}

type renderKey struct {
	pkg   string
	group string
	id    string
	view  View
	lang  string
}

// Option customizes a Manager.
type Option func(*Manager)

// WithFS reads templates, styles and manifests from fsys instead of the packages directory.
func WithFS(fsys fs.FS) Option {
	return func(m *Manager) { m.fsys = fsys }
}

// WithStyleCompiler replaces the default @import inliner.
func WithStyleCompiler(c StyleCompiler) Option {
	return func(m *Manager) { m.styles = c }
}

// WithEvaluator fixes the evaluator used by eval directives, ignoring TemplateConfig.EvalEngine.
func WithEvaluator(e Evaluator) Option {
	return func(m *Manager) { m.fixedEvaluator = e }
}

// Manager is the central controller for rendering. It owns the compiled-template
// cache, the rendered-entry cache and the package manifests, and builds the
// interpreter that evaluates templates. All methods are concurrent-safe.
type Manager struct {
	logger      *slog.Logger
	store       store.Reader
	packagesDir string
	fsys        fs.FS
	styles      StyleCompiler

	fixedEvaluator Evaluator

	mu        sync.RWMutex
	gen       uint64
	config    *TemplateConfig
	interp    *interpreter
	templates map[templateKey]*Template
	renders   map[renderKey]Rendered
	manifests map[string]*Manifest
}

// NewManager creates a Manager reading entries and resources from st and
// templates from packagesDir, laid out as <package>/<group>/<view>.<ext>.
func NewManager(logger *slog.Logger, st store.Reader, config *TemplateConfig, packagesDir string, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config == nil {
		config = DefaultConfig()
	}
	m := &Manager{
		logger:      logger,
		store:       st,
		packagesDir: packagesDir,
		templates:   make(map[templateKey]*Template),
		renders:     make(map[renderKey]Rendered),
		manifests:   make(map[string]*Manifest),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fsys == nil {
		m.fsys = os.DirFS(packagesDir)
	}
	if m.styles == nil {
		m.styles = &ImportCompiler{FS: m.fsys}
	}

	interp, err := m.newInterpreter(config)
	if err != nil {
		return nil, err
	}
	m.config = config
	m.interp = interp

	logger.Info("Template manager initialized", "packages", packagesDir, "live_reload", config.LiveReload, "eval_engine", config.EvalEngine)
	return m, nil
}

func (m *Manager) newInterpreter(config *TemplateConfig) (*interpreter, error) {
	evaluator := m.fixedEvaluator
	if evaluator == nil {
		var err error
		if evaluator, err = NewEvaluator(config.EvalEngine); err != nil {
			return nil, err
		}
	}
	return &interpreter{
		localizer:     NewLocalizer(m.store, config.MissingResourceText, m.logger),
		evaluator:     evaluator,
		imageBase:     config.ImageBase,
		maxIterations: config.MaxIterations,
		preview:       m.renderPreview,
		imageDir:      func(pkg string) string { return m.Manifest(pkg).ImageDir },
	}, nil
}

// SetConfig applies a new configuration and clears every cache.
func (m *Manager) SetConfig(config *TemplateConfig) error {
	interp, err := m.newInterpreter(config)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.config = config
	m.interp = interp
	m.resetLocked()
	m.mu.Unlock()
	m.logger.Info("Template configuration updated", "live_reload", config.LiveReload, "eval_engine", config.EvalEngine)
	return nil
}

// GetConfig returns a copy of the current configuration.
func (m *Manager) GetConfig() TemplateConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// PackagesDir returns the directory templates are read from.
func (m *Manager) PackagesDir() string {
	return m.packagesDir
}

func (m *Manager) state() (*TemplateConfig, *interpreter) {
	config, interp, _ := m.snapshot()
	return config, interp
}

// snapshot also returns the cache generation. Results computed from a
// snapshot are only stored while the generation is unchanged.
func (m *Manager) snapshot() (*TemplateConfig, *interpreter, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config, m.interp, m.gen
}

// ClearCache empties the compiled-template and rendered-entry caches and
// forgets loaded manifests.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
	m.logger.Info("Template caches cleared")
}

func (m *Manager) resetLocked() {
	m.gen++
	m.templates = make(map[templateKey]*Template)
	m.renders = make(map[renderKey]Rendered)
	m.manifests = make(map[string]*Manifest)
}

// Invalidate drops the compiled templates of one group. Rendered entries of
// the whole package are dropped too since any of them may embed a preview of
// the group.
func (m *Manager) Invalidate(pkg, group string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	for k := range m.templates {
		if k.pkg == pkg && k.group == group {
			delete(m.templates, k)
		}
	}
	m.dropRendersLocked(pkg)
}

// InvalidatePackage drops everything cached for pkg, including its manifest.
func (m *Manager) InvalidatePackage(pkg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	for k := range m.templates {
		if k.pkg == pkg {
			delete(m.templates, k)
		}
	}
	delete(m.manifests, pkg)
	m.dropRendersLocked(pkg)
}

func (m *Manager) dropRendersLocked(pkg string) {
	for k := range m.renders {
		if k.pkg == pkg {
			delete(m.renders, k)
		}
	}
}

// Manifest returns the manifest of pkg, loading it on first use.
func (m *Manager) Manifest(pkg string) *Manifest {
	config, _, gen := m.snapshot()
	if !config.LiveReload {
		m.mu.RLock()
		mf, ok := m.manifests[pkg]
		m.mu.RUnlock()
		if ok {
			return mf
		}
	}

	mf, err := LoadManifest(m.fsys, pkg)
	if err != nil {
		m.logger.Error("Failed to load package manifest", "package", pkg, "error", err)
	}
	if !config.LiveReload {
		m.mu.Lock()
		if m.gen == gen {
			m.manifests[pkg] = mf
		}
		m.mu.Unlock()
	}
	return mf
}

// Language picks the render language: lang when set, else the package
// default, else the configured default.
func (m *Manager) Language(pkg, lang string) string {
	if lang != "" {
		return lang
	}
	if l := m.Manifest(pkg).DefaultLanguage; l != "" {
		return l
	}
	config, _ := m.state()
	return config.DefaultLanguage
}

// Template returns the compiled template for a group, compiling and caching
// it on first use. Files that do not exist yield an empty template.
func (m *Manager) Template(pkg, group string, kind FileKind, view View) *Template {
	config, interp, gen := m.snapshot()
	key := templateKey{pkg: pkg, group: group, kind: kind, view: view}
	if !config.LiveReload {
		m.mu.RLock()
		t, ok := m.templates[key]
		m.mu.RUnlock()
		if ok {
			return t
		}
	}

	t := m.compileFile(interp, key)
	if config.LiveReload {
		return t
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.templates[key]; ok {
		return existing
	}
	if m.gen == gen {
		m.templates[key] = t
	}
	return t
}

func (m *Manager) compileFile(interp *interpreter, key templateKey) *Template {
	src, name, err := m.readSource(key)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		m.logger.Debug("No template file", "package", key.pkg, "group", key.group, "kind", key.kind.String(), "view", string(key.view))
		return emptyTemplate
	case err != nil:
		m.logger.Error("Failed to read template file", "package", key.pkg, "group", key.group, "kind", key.kind.String(), "error", err)
		return emptyTemplate
	}

	if key.kind == KindStyle {
		css, err := m.styles.Compile(src, name)
		if err != nil {
			m.logger.Warn("Failed to compile style", "file", name, "error", err)
			return emptyTemplate
		}
		return staticTemplate(name, css)
	}
	m.logger.Debug("Compiled template", "file", name)
	return interp.compile(name, Parse(src))
}

// readSource reads <pkg>/<group>/<view>.<ext>, falling back to any.<ext>.
func (m *Manager) readSource(key templateKey) (string, string, error) {
	views := []View{key.view}
	if key.view != ViewAny {
		views = append(views, ViewAny)
	}
	var err error
	for _, v := range views {
		name := path.Join(key.pkg, key.group, string(v)+"."+key.kind.Ext())
		var data []byte
		data, err = fs.ReadFile(m.fsys, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", name, err
		}
		return string(data), name, nil
	}
	return "", "", err
}

// Render renders one entry. It never fails: a missing entry or broken
// template yields empty output, and problems are logged.
func (m *Manager) Render(ctx context.Context, pkg, group, id string, view View, lang string) Rendered {
	lang = m.Language(pkg, lang)
	key := renderKey{pkg: pkg, group: group, id: id, view: view, lang: lang}
	if r, ok := m.cachedRender(key); ok {
		return r
	}

	e, err := m.store.FindEntry(ctx, pkg, group, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.logger.WarnContext(ctx, "Entry not found", "package", pkg, "group", group, "id", id)
		} else {
			m.logger.ErrorContext(ctx, "Failed to load entry", "package", pkg, "group", group, "id", id, "error", err)
		}
		return Rendered{}
	}
	return m.render(ctx, e, view, lang, key)
}

// RenderEntry renders an entry that has already been loaded.
func (m *Manager) RenderEntry(ctx context.Context, e *entry.Entry, view View, lang string) Rendered {
	if e == nil {
		return Rendered{}
	}
	lang = m.Language(e.Package, lang)
	key := renderKey{pkg: e.Package, group: e.Group, id: e.ID, view: view, lang: lang}
	if r, ok := m.cachedRender(key); ok {
		return r
	}
	return m.render(ctx, e, view, lang, key)
}

func (m *Manager) cachedRender(key renderKey) (Rendered, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config.LiveReload {
		return Rendered{}, false
	}
	r, ok := m.renders[key]
	return r, ok
}

func (m *Manager) render(ctx context.Context, e *entry.Entry, view View, lang string, key renderKey) Rendered {
	_, _, gen := m.snapshot()
	st := newPass(lang, m.store, m.logger)
	st.logger.DebugContext(ctx, "Rendering entry", "package", e.Package, "entry", e.Key(), "view", string(view), "lang", lang)

	layout := m.Template(e.Package, e.Group, KindLayout, view).execute(ctx, st, e)
	script := m.Template(e.Package, e.Group, KindScript, view).execute(ctx, st, e)
	style := m.Template(e.Package, e.Group, KindStyle, view).execute(ctx, st, e)
	r := Rendered{
		Layout: layout,
		Script: joinUnique(script, st.scripts),
		Style:  joinUnique(style, st.styles),
	}
	st.logger.DebugContext(ctx, "Rendered entry", "entry", e.Key(), "links", st.links.Lookups())

	m.mu.Lock()
	if !m.config.LiveReload && m.gen == gen {
		m.renders[key] = r
	} else if m.gen != gen {
		st.logger.DebugContext(ctx, "Caches changed during render, result not cached", "entry", e.Key())
	}
	m.mu.Unlock()
	return r
}

// renderPreview expands a preview directive: the linked entry's preview
// layout is spliced in and its assets are collected on the pass.
func (m *Manager) renderPreview(ctx context.Context, st *pass, e *entry.Entry) string {
	config, _ := m.state()
	if config.MaxPreviewDepth > 0 && st.depth >= config.MaxPreviewDepth {
		st.logger.WarnContext(ctx, "Preview depth exceeded", "entry", e.Key(), "depth", st.depth)
		return ""
	}
	st.depth++
	defer func() { st.depth-- }()

	out := m.Template(e.Package, e.Group, KindLayout, ViewPreview).execute(ctx, st, e)
	style := m.Template(e.Package, e.Group, KindStyle, ViewPreview).execute(ctx, st, e)
	script := m.Template(e.Package, e.Group, KindScript, ViewPreview).execute(ctx, st, e)
	st.collect(style, script)
	return out
}

// RenderString evaluates an ad-hoc template against e without touching the caches.
func (m *Manager) RenderString(ctx context.Context, src string, e *entry.Entry, lang string) string {
	if e == nil {
		return ""
	}
	_, interp := m.state()
	st := newPass(m.Language(e.Package, lang), m.store, m.logger)
	return interp.compile("inline", Parse(src)).execute(ctx, st, e)
}

func joinUnique(first string, rest []string) string {
	parts := make([]string, 0, len(rest)+1)
	if first != "" {
		parts = append(parts, first)
	}
	for _, s := range rest {
		if s != first {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}
