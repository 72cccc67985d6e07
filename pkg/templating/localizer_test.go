package templating

import (
	"context"
	"testing"
)

func TestLocalize(t *testing.T) {
	_, st := setupTestManager(t, nil)
	st.addResource("core", "color", map[string]any{"de": "Farbe", "en": "Color"})
	l := NewLocalizer(st, "", discardLogger())
	ctx := context.Background()

	tests := []struct {
		id, lang string
		want     string
	}{
		{"title", "ja", "Bestiary"},
		{"fire", "en", "Fire"},
		{"fire", "ja", "火"},
		{"color", "en-US", "Color"},
		{"color", "ko", "Farbe"},
		{"color", "", "Farbe"},
		{"missing", "en", ""},
	}
	for _, tt := range tests {
		if got := l.Localize(ctx, "core", tt.id, tt.lang); got != tt.want {
			t.Errorf("Localize(%q, %q) = %q, want %q", tt.id, tt.lang, got, tt.want)
		}
	}
}

func TestLocalizeFallbackIsDeterministic(t *testing.T) {
	_, st := setupTestManager(t, nil)
	l := NewLocalizer(st, "", discardLogger())
	ctx := context.Background()

	first := l.Localize(ctx, "core", "fire", "ko")
	if first != "Fire" && first != "火" {
		t.Fatalf("Localize(fire, ko) = %q", first)
	}
	for i := 0; i < 20; i++ {
		if got := l.Localize(ctx, "core", "fire", "ko"); got != first {
			t.Fatalf("fallback changed between calls: %q then %q", first, got)
		}
	}
}

func TestLocalizeMissingMarker(t *testing.T) {
	_, st := setupTestManager(t, nil)
	l := NewLocalizer(st, UnknownStringMarker, discardLogger())
	ctx := context.Background()

	if got := l.Localize(ctx, "core", "missing", "en"); got != UnknownStringMarker {
		t.Errorf("Localize(missing) = %q, want the marker", got)
	}
	if got := l.LocalizeHTML(ctx, "core", "missing", "en"); got != "&lt;ERROR: UNKNOWN STRING&gt;" {
		t.Errorf("LocalizeHTML(missing) = %q", got)
	}
}
