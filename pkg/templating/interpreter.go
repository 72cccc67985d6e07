package templating

import (
	"context"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/KobraKid/bestiary-sub000/pkg/entry"
)

var rangePattern = regexp.MustCompile(`^\$range\((.*)\)$`)

// interpreter evaluates parsed trees against entries. The preview and
// imageDir hooks are supplied by the Manager that owns it.
type interpreter struct {
	localizer     *Localizer
	evaluator     Evaluator
	imageBase     string
	maxIterations int

	preview  func(ctx context.Context, st *pass, e *entry.Entry) string
	imageDir func(pkg string) string
}

// compile binds a parsed tree to the interpreter.
func (in *interpreter) compile(name string, tree *Tree) *Template {
	if len(tree.Root) == 0 {
		return &Template{name: name}
	}
	return &Template{name: name, render: func(ctx context.Context, st *pass, e *entry.Entry) string {
		var b strings.Builder
		in.exec(ctx, st, e, tree.Root, &b)
		return b.String()
	}}
}

func (in *interpreter) exec(ctx context.Context, st *pass, e *entry.Entry, nodes []Node, b *strings.Builder) {
	for _, node := range nodes {
		switch n := node.(type) {
		case *TextNode:
			b.WriteString(n.Text)
		case *DirectiveNode:
			b.WriteString(in.directive(ctx, st, e, n))
		case *BlockNode:
			in.block(ctx, st, e, n, b)
		}
	}
}

// args renders each argument of d, evaluating nested directives left to right.
func (in *interpreter) args(ctx context.Context, st *pass, e *entry.Entry, d *DirectiveNode) []string {
	out := make([]string, len(d.Args))
	for i, arg := range d.Args {
		var b strings.Builder
		for _, node := range arg {
			switch n := node.(type) {
			case *TextNode:
				b.WriteString(n.Text)
			case *DirectiveNode:
				b.WriteString(in.directive(ctx, st, e, n))
			}
		}
		out[i] = strings.TrimSpace(b.String())
	}
	return out
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func (in *interpreter) directive(ctx context.Context, st *pass, e *entry.Entry, d *DirectiveNode) string {
	args := in.args(ctx, st, e, d)
	switch d.Name {
	case "attribute":
		return in.attribute(ctx, st, e, arg(args, 0))
	case "eval":
		return in.eval(ctx, st, e, arg(args, 0))
	case "image":
		return in.image(ctx, st, e, arg(args, 0), arg(args, 1) == "static")
	case "resource":
		return in.resource(ctx, st, e, arg(args, 0), arg(args, 1) == "static")
	case "preview":
		return in.previewLink(ctx, st, e, arg(args, 0))
	default:
		st.logger.DebugContext(ctx, "Ignoring directive", "directive", d.String(), "offset", d.Pos, "entry", e.Key())
		return ""
	}
}

// resolve resolves an attribute path and reports the value only when the
// whole path exists.
func (in *interpreter) resolve(ctx context.Context, st *pass, e *entry.Entry, p string) (entry.Value, bool) {
	if p == "" {
		return entry.Null(), false
	}
	r := ResolvePath(ctx, e, p, st.links)
	return r.Value, r.Complete
}

func (in *interpreter) attribute(ctx context.Context, st *pass, e *entry.Entry, p string) string {
	v, ok := in.resolve(ctx, st, e, p)
	if !ok {
		return ""
	}
	return v.String()
}

func (in *interpreter) eval(ctx context.Context, st *pass, e *entry.Entry, expression string) string {
	if expression == "" || in.evaluator == nil {
		return ""
	}
	scope, _ := e.Attributes.Interface().(map[string]any)
	if scope == nil {
		scope = map[string]any{}
	}
	n, err := in.evaluator.Evaluate(expression, scope)
	if err != nil {
		st.logger.WarnContext(ctx, "Eval failed", "entry", e.Key(), "expression", expression, "error", err)
		return ""
	}
	return entry.FormatNumber(n)
}

func (in *interpreter) image(ctx context.Context, st *pass, e *entry.Entry, name string, static bool) string {
	if !static {
		v, ok := in.resolve(ctx, st, e, name)
		if !ok {
			return ""
		}
		name = v.String()
	}
	if name == "" {
		return ""
	}
	dir := ""
	if in.imageDir != nil {
		dir = in.imageDir(e.Package)
	}
	return path.Join(in.imageBase, e.Package, dir, name)
}

func (in *interpreter) resource(ctx context.Context, st *pass, e *entry.Entry, id string, static bool) string {
	if !static {
		v, ok := in.resolve(ctx, st, e, id)
		if !ok {
			return ""
		}
		id = v.String()
	}
	if id == "" {
		return ""
	}
	return in.localizer.LocalizeHTML(ctx, e.Package, id, st.lang)
}

func (in *interpreter) previewLink(ctx context.Context, st *pass, e *entry.Entry, p string) string {
	v, ok := in.resolve(ctx, st, e, p)
	if !ok {
		return ""
	}
	link, ok := v.Str()
	if !ok {
		return ""
	}
	linked := st.links.Resolve(ctx, e.Package, link)
	if linked == nil || in.preview == nil {
		return ""
	}
	return in.preview(ctx, st, linked)
}

func (in *interpreter) block(ctx context.Context, st *pass, e *entry.Entry, n *BlockNode, b *strings.Builder) {
	args := in.args(ctx, st, e, n.Open)
	switch n.Kind() {
	case "if":
		if in.condition(ctx, st, e, args, len(n.Open.Args)) {
			in.exec(ctx, st, e, n.Body, b)
		}
	case "for":
		in.loop(ctx, st, e, args, n.Body, b)
	}
}

// condition gates an if block: truthiness without a comparison value,
// string equality with one.
func (in *interpreter) condition(ctx context.Context, st *pass, e *entry.Entry, args []string, argc int) bool {
	v, ok := in.resolve(ctx, st, e, arg(args, 0))
	if !ok {
		return false
	}
	if cmp := arg(args, 1); argc >= 2 && cmp != "" {
		return v.String() == cmp
	}
	return v.Truthy()
}

// loop repeats body, replacing [[name]] with the index for $range(N) or with
// source.index when iterating a list.
func (in *interpreter) loop(ctx context.Context, st *pass, e *entry.Entry, args []string, body []Node, b *strings.Builder) {
	name, source := arg(args, 0), arg(args, 1)
	if name == "" || source == "" {
		st.logger.DebugContext(ctx, "Incomplete for block", "entry", e.Key(), "args", args)
		return
	}

	var (
		count int
		item  func(i int) string
	)
	if m := rangePattern.FindStringSubmatch(source); m != nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
		if err != nil {
			st.logger.DebugContext(ctx, "Invalid range", "entry", e.Key(), "range", source)
			return
		}
		count = int(f)
		item = strconv.Itoa
	} else {
		v, ok := in.resolve(ctx, st, e, source)
		if !ok || v.Kind() != entry.KindList {
			return
		}
		count = v.Len()
		item = func(i int) string { return source + "." + strconv.Itoa(i) }
	}

	if in.maxIterations > 0 && count > in.maxIterations {
		st.logger.WarnContext(ctx, "Loop truncated", "entry", e.Key(), "count", count, "max", in.maxIterations)
		count = in.maxIterations
	}
	placeholder := "[[" + name + "]]"
	for i := 0; i < count; i++ {
		in.exec(ctx, st, e, substituteNodes(body, placeholder, item(i)), b)
	}
}
