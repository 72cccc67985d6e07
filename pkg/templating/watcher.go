package templating

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates cached templates and renders when files under the
// packages directory change. It blocks until ctx is done. A change to a group
// file drops that group; a change to a package manifest drops the package.
func (m *Manager) Watch(ctx context.Context) error {
	if m.packagesDir == "" {
		return errors.New("watch requires a packages directory")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	if err = m.watchTree(w, m.packagesDir); err != nil {
		return err
	}
	m.logger.Info("Watching packages for changes", "dir", m.packagesDir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			m.handleEvent(w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.logger.Error("Watcher error", "error", err)
		}
	}
}

// watchTree adds root and every directory down to one level below the groups.
func (m *Manager) watchTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if depth(m.packagesDir, p) > 3 {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}

func depth(root, p string) int {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(filepath.ToSlash(rel), "/"))
}

func (m *Manager) handleEvent(w *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err = m.watchTree(w, ev.Name); err != nil {
				m.logger.Warn("Failed to watch new directory", "dir", ev.Name, "error", err)
			}
			return
		}
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}

	rel, err := filepath.Rel(m.packagesDir, ev.Name)
	if err != nil {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	switch len(parts) {
	case 2:
		if parts[1] == ManifestFile {
			m.logger.Info("Package manifest changed", "package", parts[0])
			m.InvalidatePackage(parts[0])
		}
	case 3:
		m.logger.Info("Template changed", "package", parts[0], "group", parts[1], "file", parts[2])
		m.Invalidate(parts[0], parts[1])
	case 4:
		// imported style fragments live one level below the group
		m.Invalidate(parts[0], parts[1])
	}
}
