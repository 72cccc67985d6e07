package templating

import (
	"strings"
)

const (
	openMarker  = "{{"
	closeMarker = "}}"
	argSep      = '|'
)

// Node is an element of a parsed template. String returns the node's source form.
type Node interface {
	String() string
	substitute(old, new string) Node
}

// Tree is a parsed template.
type Tree struct {
	Source string
	Root   []Node
}

// TextNode is literal markup copied to the output verbatim.
type TextNode struct {
	Text string
}

// Arg is one pipe-delimited directive argument. Arguments may embed directives.
type Arg []Node

// DirectiveNode is an inline directive such as {{attribute|name}}.
type DirectiveNode struct {
	Name string
	Args []Arg
	Pos  int
}

// BlockNode is an if or for directive together with the body it governs.
// Close is nil when the block was closed implicitly.
type BlockNode struct {
	Open  *DirectiveNode
	Body  []Node
	Close *DirectiveNode
}

func (t *TextNode) String() string { return t.Text }

func (t *TextNode) substitute(old, new string) Node {
	return &TextNode{Text: strings.ReplaceAll(t.Text, old, new)}
}

// String returns the source form of the argument.
func (a Arg) String() string {
	var b strings.Builder
	for _, n := range a {
		b.WriteString(n.String())
	}
	return b.String()
}

func (a Arg) substitute(old, new string) Arg {
	out := make(Arg, len(a))
	for i, n := range a {
		out[i] = n.substitute(old, new)
	}
	return out
}

func (d *DirectiveNode) String() string {
	var b strings.Builder
	b.WriteString(openMarker)
	b.WriteString(d.Name)
	for _, a := range d.Args {
		b.WriteByte(argSep)
		b.WriteString(a.String())
	}
	b.WriteString(closeMarker)
	return b.String()
}

func (d *DirectiveNode) substitute(old, new string) Node {
	out := &DirectiveNode{Name: d.Name, Pos: d.Pos, Args: make([]Arg, len(d.Args))}
	for i, a := range d.Args {
		out.Args[i] = a.substitute(old, new)
	}
	return out
}

// Arg returns the source of argument i, or "" when absent.
func (d *DirectiveNode) Arg(i int) string {
	if i < 0 || i >= len(d.Args) {
		return ""
	}
	return strings.TrimSpace(d.Args[i].String())
}

func (b *BlockNode) String() string {
	var sb strings.Builder
	sb.WriteString(b.Open.String())
	for _, n := range b.Body {
		sb.WriteString(n.String())
	}
	if b.Close != nil {
		sb.WriteString(b.Close.String())
	}
	return sb.String()
}

func (b *BlockNode) substitute(old, new string) Node {
	out := &BlockNode{
		Open:  b.Open.substitute(old, new).(*DirectiveNode),
		Body:  substituteNodes(b.Body, old, new),
		Close: b.Close,
	}
	return out
}

// Kind returns "if" or "for".
func (b *BlockNode) Kind() string {
	return blockKind(b.Open.Name)
}

func substituteNodes(nodes []Node, old, new string) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.substitute(old, new)
	}
	return out
}

// blockKind maps opener and closer names onto the block they belong to.
func blockKind(name string) string {
	switch name {
	case "if", "endif":
		return "if"
	case "for", "endfor", "repeat", "endrepeat":
		return "for"
	default:
		return ""
	}
}

func isOpener(name string) bool {
	return name == "if" || name == "for" || name == "repeat"
}

func isCloser(name string) bool {
	return name == "endif" || name == "endfor" || name == "endrepeat"
}

// closes reports whether closer ends the block opened by open. A closer
// without arguments matches any open block of its kind.
func closes(closer, open *DirectiveNode) bool {
	if blockKind(closer.Name) != blockKind(open.Name) {
		return false
	}
	return len(closer.Args) == 0 || closer.Arg(0) == open.Arg(0)
}

// parser is a recursive-descent parser over a template source. open holds the
// block openers enclosing the current position, innermost last.
type parser struct {
	src  string
	pos  int
	open []*DirectiveNode
	memo map[int]directiveResult
}

// directiveResult is the outcome of parsing the directive at one offset. It
// depends only on the input after that offset, so an unterminated directive is
// scanned once however many enclosing markers retry it.
type directiveResult struct {
	d   *DirectiveNode
	end int
	ok  bool
}

// Parse parses a template. It never fails: an unterminated {{ is kept as
// literal text, blocks left open are closed at the end of the input and
// closers that match an enclosing block close every block nested inside it.
func Parse(src string) *Tree {
	p := &parser{src: src}
	nodes, _ := p.parseList()
	return &Tree{Source: src, Root: mergeText(nodes)}
}

// parseList parses nodes until the end of input or a closer. A closer for the
// innermost open block is consumed and returned; a closer for an outer block
// is left unconsumed and nil is returned so the caller closes implicitly.
func (p *parser) parseList() ([]Node, *DirectiveNode) {
	var nodes []Node
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			nodes = append(nodes, &TextNode{Text: text.String()})
			text.Reset()
		}
	}

	for p.pos < len(p.src) {
		i := strings.Index(p.src[p.pos:], openMarker)
		if i < 0 {
			text.WriteString(p.src[p.pos:])
			p.pos = len(p.src)
			break
		}
		text.WriteString(p.src[p.pos : p.pos+i])
		start := p.pos + i
		p.pos = start + len(openMarker)

		d, ok := p.parseDirective(start)
		if !ok {
			text.WriteString(openMarker)
			p.pos = start + len(openMarker)
			continue
		}

		switch {
		case isOpener(d.Name):
			flush()
			p.open = append(p.open, d)
			body, closer := p.parseList()
			p.open = p.open[:len(p.open)-1]
			nodes = append(nodes, &BlockNode{Open: d, Body: mergeText(body), Close: closer})

		case isCloser(d.Name):
			if n := len(p.open); n > 0 && closes(d, p.open[n-1]) {
				flush()
				return nodes, d
			}
			if p.closesOuter(d) {
				flush()
				p.pos = start
				return nodes, nil
			}
			// orphan closer, kept so evaluation can report it
			flush()
			nodes = append(nodes, d)

		default:
			flush()
			nodes = append(nodes, d)
		}
	}
	flush()
	return nodes, nil
}

// closesOuter reports whether d matches any open block other than the innermost.
func (p *parser) closesOuter(d *DirectiveNode) bool {
	for i := len(p.open) - 2; i >= 0; i-- {
		if closes(d, p.open[i]) {
			return true
		}
	}
	return false
}

// parseDirective parses the directive whose opening marker begins at start;
// p.pos is just past that marker. It reports false when the input ends before
// the matching closing marker.
func (p *parser) parseDirective(start int) (*DirectiveNode, bool) {
	if r, ok := p.memo[start]; ok {
		p.pos = r.end
		return r.d, r.ok
	}
	d, ok := p.scanDirective(start)
	if p.memo == nil {
		p.memo = make(map[int]directiveResult)
	}
	p.memo[start] = directiveResult{d: d, end: p.pos, ok: ok}
	return d, ok
}

func (p *parser) scanDirective(start int) (*DirectiveNode, bool) {
	var (
		args []Arg
		cur  Arg
		text strings.Builder
	)
	flush := func() {
		if text.Len() > 0 {
			cur = append(cur, &TextNode{Text: text.String()})
			text.Reset()
		}
	}

	for p.pos < len(p.src) {
		rest := p.src[p.pos:]
		switch {
		case strings.HasPrefix(rest, closeMarker):
			flush()
			args = append(args, cur)
			p.pos += len(closeMarker)
			return newDirective(args, start), true
		case strings.HasPrefix(rest, openMarker):
			flush()
			nestedStart := p.pos
			p.pos += len(openMarker)
			nested, ok := p.parseDirective(nestedStart)
			if !ok {
				return nil, false
			}
			cur = append(cur, nested)
		case rest[0] == argSep:
			flush()
			args = append(args, cur)
			cur = nil
			p.pos++
		default:
			// copy up to the next byte that can start a marker or separator
			j := strings.IndexAny(rest, "{}|")
			if j < 0 {
				j = len(rest)
			} else if j == 0 {
				j = 1
			}
			text.WriteString(rest[:j])
			p.pos += j
		}
	}
	return nil, false
}

// newDirective splits the parsed arguments into a name and its arguments. A
// name that embeds a directive is left empty, which evaluates as unknown.
func newDirective(args []Arg, pos int) *DirectiveNode {
	d := &DirectiveNode{Pos: pos}
	if len(args) == 0 {
		return d
	}
	nameArg := args[0]
	if len(nameArg) == 1 {
		if t, ok := nameArg[0].(*TextNode); ok {
			d.Name = strings.TrimSpace(t.Text)
		}
	}
	if len(args) > 1 {
		d.Args = args[1:]
	}
	return d
}

// mergeText joins adjacent text nodes.
func mergeText(nodes []Node) []Node {
	out := nodes[:0:0]
	for _, n := range nodes {
		if t, ok := n.(*TextNode); ok && len(out) > 0 {
			if prev, ok := out[len(out)-1].(*TextNode); ok {
				out[len(out)-1] = &TextNode{Text: prev.Text + t.Text}
				continue
			}
		}
		out = append(out, n)
	}
	return out
}
