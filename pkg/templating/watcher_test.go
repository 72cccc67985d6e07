package templating

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchInvalidatesGroup(t *testing.T) {
	dir := t.TempDir()
	groupDir := filepath.Join(dir, "core", "monsters")
	if err := os.MkdirAll(groupDir, 0755); err != nil {
		t.Fatalf("failed to create group dir: %v", err)
	}
	layout := filepath.Join(groupDir, "detail.html")
	if err := os.WriteFile(layout, []byte("v1 {{attribute|name}}"), 0644); err != nil {
		t.Fatalf("failed to write layout: %v", err)
	}

	st := newMemStore()
	st.add("core", "monsters", "slime", map[string]any{"name": "Slime"})
	m, err := NewManager(discardLogger(), st, DefaultConfig(), dir)
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	render := func() string {
		return m.Render(context.Background(), "core", "monsters", "slime", ViewDetail, "en").Layout
	}
	if got := render(); got != "v1 Slime" {
		t.Fatalf("first render = %q", got)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		// rewritten on every attempt in case the watcher was not ready yet
		if err = os.WriteFile(layout, []byte("v2 {{attribute|name}}"), 0644); err != nil {
			t.Fatalf("failed to rewrite layout: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		if got := render(); got == "v2 Slime" {
			return
		}
	}
	t.Errorf("render did not pick up the edited layout, got %q", render())
}
