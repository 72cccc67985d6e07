package templating

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

// StyleCompiler turns a style source into plain CSS. base is the path the
// source was read from and anchors relative references.
type StyleCompiler interface {
	Compile(source, base string) (string, error)
}

var importPattern = regexp.MustCompile(`(?m)^[ \t]*@import\s+(?:url\(\s*)?["']?([^"')\s;]+)["']?\s*\)?[^;\n]*;[ \t]*$`)

// ImportCompiler inlines @import rules that reference files within fsys.
// Imports of absolute URLs are left untouched.
type ImportCompiler struct {
	FS fs.FS
}

func (c *ImportCompiler) Compile(source, base string) (string, error) {
	return c.inline(source, base, map[string]bool{base: true})
}

func (c *ImportCompiler) inline(source, base string, stack map[string]bool) (string, error) {
	var firstErr error
	out := importPattern.ReplaceAllStringFunc(source, func(rule string) string {
		if firstErr != nil {
			return rule
		}
		ref := importPattern.FindStringSubmatch(rule)[1]
		if strings.Contains(ref, "://") || strings.HasPrefix(ref, "//") {
			return rule
		}
		target := path.Join(path.Dir(base), ref)
		if stack[target] {
			firstErr = fmt.Errorf("import cycle at %s", target)
			return rule
		}
		data, err := fs.ReadFile(c.FS, target)
		if err != nil {
			firstErr = fmt.Errorf("failed to import %s from %s: %w", ref, base, err)
			return rule
		}
		stack[target] = true
		css, err := c.inline(string(data), target, stack)
		delete(stack, target)
		if err != nil {
			firstErr = err
			return rule
		}
		return strings.TrimRight(css, "\n")
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
