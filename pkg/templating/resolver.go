package templating

import (
	"context"
	"strings"

	"github.com/KobraKid/bestiary-sub000/pkg/entry"
)

const jumpMarker = "->"

// Resolution is the outcome of resolving an attribute path. When Complete is
// false traversal stopped early and Value holds the last value reached; a
// broken jump yields a null, incomplete resolution.
type Resolution struct {
	Value    entry.Value
	Complete bool
}

// Found reports whether the whole path resolved.
func (r Resolution) Found() bool {
	return r.Complete
}

// ResolvePath resolves a dot-delimited attribute path against e. A segment
// of the form left->right resolves left to a link identifier, follows it
// through links, and continues with right against the linked entry.
func ResolvePath(ctx context.Context, e *entry.Entry, path string, links *LinkCache) Resolution {
	if e == nil {
		return Resolution{}
	}
	path = strings.TrimSpace(path)

	i := strings.Index(path, jumpMarker)
	if i < 0 {
		return walk(e.Attributes, path)
	}

	left := walk(e.Attributes, path[:i])
	if !left.Complete {
		return Resolution{}
	}
	link, ok := left.Value.Str()
	if !ok {
		return Resolution{}
	}
	linked := links.Resolve(ctx, e.Package, link)
	if linked == nil {
		return Resolution{}
	}
	return ResolvePath(ctx, linked, path[i+len(jumpMarker):], links)
}

// walk consumes segments left to right, stopping at the first segment that
// does not exist.
func walk(root entry.Value, path string) Resolution {
	cur := root
	if path == "" {
		return Resolution{Value: cur, Complete: true}
	}
	for _, seg := range strings.Split(path, ".") {
		next, ok := cur.Field(seg)
		if !ok {
			return Resolution{Value: cur, Complete: false}
		}
		cur = next
	}
	return Resolution{Value: cur, Complete: true}
}
