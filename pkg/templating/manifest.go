package templating

import (
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/BurntSushi/toml"
)

// ManifestFile is the name of the per-package manifest.
const ManifestFile = "package.toml"

// Manifest describes a package: where its images live, its default language
// and how each group is paged and sorted.
//
//	name = "Core Bestiary"
//	image_dir = "img"
//	default_language = "en"
//	page_size = 20
//
//	[groups.monsters]
//	sort = "stats.level"
type Manifest struct {
	Name            string                   `toml:"name" json:"name"`
	ImageDir        string                   `toml:"image_dir" json:"image_dir"`
	DefaultLanguage string                   `toml:"default_language" json:"default_language"`
	PageSize        int                      `toml:"page_size" json:"page_size"`
	Groups          map[string]GroupManifest `toml:"groups" json:"groups"`
}

// GroupManifest holds per-group settings.
type GroupManifest struct {
	Title    string `toml:"title" json:"title"`
	Sort     string `toml:"sort" json:"sort"`
	PageSize int    `toml:"page_size" json:"page_size"`
}

// DefaultManifest is used for packages without a package.toml.
func DefaultManifest() *Manifest {
	return &Manifest{
		ImageDir: "images",
		Groups:   map[string]GroupManifest{},
	}
}

// LoadManifest reads <pkg>/package.toml from fsys. A missing manifest is not an error.
func LoadManifest(fsys fs.FS, pkg string) (*Manifest, error) {
	m := DefaultManifest()
	data, err := fs.ReadFile(fsys, path.Join(pkg, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("failed to read manifest for %s: %w", pkg, err)
	}
	if _, err = toml.Decode(string(data), m); err != nil {
		return DefaultManifest(), fmt.Errorf("failed to decode manifest for %s: %w", pkg, err)
	}
	if m.Groups == nil {
		m.Groups = map[string]GroupManifest{}
	}
	return m, nil
}

// Sort returns the sort key configured for group.
func (m *Manifest) Sort(group string) string {
	return m.Groups[group].Sort
}

// GroupPageSize returns the page size for group, falling back to the package
// value and then to def.
func (m *Manifest) GroupPageSize(group string, def int) int {
	if g := m.Groups[group]; g.PageSize > 0 {
		return g.PageSize
	}
	if m.PageSize > 0 {
		return m.PageSize
	}
	return def
}
