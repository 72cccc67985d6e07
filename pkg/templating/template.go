package templating

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/KobraKid/bestiary-sub000/pkg/entry"
	"github.com/KobraKid/bestiary-sub000/pkg/store"
)

// View selects which layout an entry is rendered with.
type View string

const (
	ViewDetail  View = "detail"
	ViewPreview View = "preview"
	ViewAny     View = "any"
)

// ParseView maps a request parameter onto a View. Unknown values render the detail view.
func ParseView(s string) View {
	switch View(s) {
	case ViewPreview:
		return ViewPreview
	case ViewAny:
		return ViewAny
	default:
		return ViewDetail
	}
}

// FileKind is the kind of source file a template is compiled from.
type FileKind int

const (
	KindLayout FileKind = iota
	KindScript
	KindStyle
)

func (k FileKind) String() string {
	switch k {
	case KindLayout:
		return "layout"
	case KindScript:
		return "script"
	case KindStyle:
		return "style"
	default:
		return "unknown"
	}
}

// Ext returns the file extension templates of this kind are read from.
func (k FileKind) Ext() string {
	switch k {
	case KindScript:
		return "js"
	case KindStyle:
		return "css"
	default:
		return "html"
	}
}

// Rendered is the markup triple produced for one entry.
type Rendered struct {
	Layout string `json:"layout"`
	Script string `json:"script"`
	Style  string `json:"style"`
}

// IsZero reports whether nothing was rendered.
func (r Rendered) IsZero() bool {
	return r.Layout == "" && r.Script == "" && r.Style == ""
}

type renderFunc func(ctx context.Context, st *pass, e *entry.Entry) string

// Template is a compiled layout, script or style. It is safe for concurrent use.
type Template struct {
	name   string
	render renderFunc
}

func (t *Template) Name() string {
	return t.name
}

func (t *Template) execute(ctx context.Context, st *pass, e *entry.Entry) string {
	if t == nil || t.render == nil {
		return ""
	}
	return t.render(ctx, st, e)
}

// emptyTemplate stands in for files that do not exist or failed to load.
var emptyTemplate = &Template{name: "empty"}

// staticTemplate always produces text, independent of the entry.
func staticTemplate(name, text string) *Template {
	if text == "" {
		return &Template{name: name}
	}
	return &Template{name: name, render: func(context.Context, *pass, *entry.Entry) string { return text }}
}

// pass is the state shared by one top-level render and every preview it expands.
type pass struct {
	id     uuid.UUID
	lang   string
	links  *LinkCache
	depth  int
	logger *slog.Logger

	styles  []string
	scripts []string
}

func newPass(lang string, entries store.EntryStore, logger *slog.Logger) *pass {
	id := uuid.New()
	logger = logger.With("render_id", id.String())
	return &pass{
		id:     id,
		lang:   lang,
		links:  NewLinkCache(entries, logger),
		logger: logger,
	}
}

// collect records preview assets once each, in first-seen order.
func (st *pass) collect(style, script string) {
	if style != "" && !slices.Contains(st.styles, style) {
		st.styles = append(st.styles, style)
	}
	if script != "" && !slices.Contains(st.scripts, script) {
		st.scripts = append(st.scripts, script)
	}
}
