package classify

import (
	"strings"
	"testing"
)

func TestClassifyDeterministic(t *testing.T) {
	c := New(1000)
	inputs := []string{
		"",
		"analyze this function for bugs",
		"create a REST endpoint and deploy it",
		strings.Repeat("optimize the hot path ", 100),
	}
	for _, in := range inputs {
		first := c.Classify(in)
		for i := 0; i < 5; i++ {
			got := c.Classify(in)
			if got != first {
				t.Fatalf("classification of %q not deterministic: %+v vs %+v", in, first, got)
			}
		}
	}
}

func TestClassifyMode(t *testing.T) {
	c := New(1000)
	tests := []struct {
		text string
		want Mode
	}{
		{"analyze the config loader", ModeAnalysis},
		{"create a new dashboard page", ModeGeneration},
		{"refactor the session store", ModeOptimization},
		{"fix the login crash", ModeAutonomous},
		{"hello there", ModeAnalysis}, // default
		// Analysis outranks generation when both families match.
		{"review and create tests", ModeAnalysis},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.text).Mode; got != tt.want {
			t.Errorf("Classify(%q).Mode = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestClassifyComplexityBounds(t *testing.T) {
	c := New(100)

	if got := c.Classify("").Complexity; got != 0 {
		t.Errorf("empty text complexity = %v, want 0", got)
	}

	// Long text with many keywords must still clamp to 1.
	loaded := strings.Repeat("analyze optimize fix create refactor test deploy ", 50)
	if got := c.Classify(loaded).Complexity; got > 1 {
		t.Errorf("complexity %v exceeds 1", got)
	}
}

func TestClassifyComplexityMonotonicInLength(t *testing.T) {
	c := New(1000)
	short := c.Classify("plain request").Complexity
	long := c.Classify(strings.Repeat("plain request ", 40)).Complexity
	if long <= short {
		t.Errorf("longer input should score higher: short=%v long=%v", short, long)
	}
}
