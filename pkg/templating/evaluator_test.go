package templating

import (
	"testing"
)

func TestEvaluators(t *testing.T) {
	scope := map[string]any{
		"hp":    float64(10),
		"name":  "Slime",
		"stats": map[string]any{"atk": float64(3)},
	}

	tests := []struct {
		engine     string
		expression string
		want       float64
		wantErr    bool
	}{
		{"expr", "hp * 2 + 1", 21, false},
		{"expr", "hp / 4", 2.5, false},
		{"expr", "stats.atk + 1", 4, false},
		{"expr", "max(hp, 50)", 50, false},
		{"expr", "hp > 5", 1, false},
		{"expr", "hp +", 0, true},
		{"expr", "name", 0, true},
		{"expr", "hp / 0", 0, true},
		{"js", "hp * 2 + 1", 21, false},
		{"js", "Math.max(hp, stats.atk)", 10, false},
		{"js", "name.length", 5, false},
		{"js", "hp +", 0, true},
		{"js", "name", 0, true},
	}
	for _, tt := range tests {
		ev, err := NewEvaluator(tt.engine)
		if err != nil {
			t.Fatalf("NewEvaluator(%q) failed: %v", tt.engine, err)
		}
		got, err := ev.Evaluate(tt.expression, scope)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Evaluate(%q) error = %v, wantErr %v", tt.engine, tt.expression, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("%s: Evaluate(%q) = %v, want %v", tt.engine, tt.expression, got, tt.want)
		}
	}
}

func TestExprEvaluatorCachesPrograms(t *testing.T) {
	ev := NewExprEvaluator()
	for i := 0; i < 3; i++ {
		if _, err := ev.Evaluate("a + b", map[string]any{"a": float64(i), "b": float64(1)}); err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
	}
	if len(ev.programs) != 1 {
		t.Errorf("compiled %d programs, want 1", len(ev.programs))
	}
}

func TestNewEvaluatorUnknownEngine(t *testing.T) {
	if _, err := NewEvaluator("lua"); err == nil {
		t.Error("expected an error for an unknown engine")
	}
}
