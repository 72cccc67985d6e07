package entry

import (
	"errors"
	"strings"
)

// ErrMalformedLink is returned by ParseLink for identifiers that are not of the
// form <group>.<business-id>.
var ErrMalformedLink = errors.New("malformed link identifier")

// Entry is a single record of a group within a package. Attributes is the root
// of its attribute tree and is normally a map.
type Entry struct {
	Package    string `json:"package"`
	Group      string `json:"group"`
	ID         string `json:"id"`
	Attributes Value  `json:"attributes"`
}

// Key returns the link identifier that addresses e from within its package.
func (e *Entry) Key() string {
	return e.Group + "." + e.ID
}

// Resource is a localizable string. Value holds either a string or a map of
// language code to string.
type Resource struct {
	Package string `json:"package"`
	ID      string `json:"id"`
	Value   Value  `json:"value"`
}

// Link addresses another entry of the same package.
type Link struct {
	Group string
	ID    string
}

// String returns the identifier form of l.
func (l Link) String() string {
	return l.Group + "." + l.ID
}

// ParseLink parses a link identifier of the form <group>.<business-id>.
// Exactly two non-empty components are required.
func ParseLink(s string) (Link, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Link{}, ErrMalformedLink
	}
	return Link{Group: parts[0], ID: parts[1]}, nil
}
