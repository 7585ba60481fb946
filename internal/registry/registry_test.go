package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinValid(t *testing.T) {
	r := Builtin()
	if r.Len() == 0 {
		t.Fatal("builtin registry is empty")
	}
	if r.MaxTier() != r.Len() {
		t.Fatalf("expected contiguous tiers, max=%d len=%d", r.MaxTier(), r.Len())
	}
	base := r.BaseComponents()
	if len(base) != 3 {
		t.Fatalf("expected 3 base components, got %v", base)
	}
}

func TestNewRejectsDuplicateTier(t *testing.T) {
	_, err := New(Manifest{Capabilities: []Capability{
		{ID: 1, Tier: 1, Name: "a", Category: CategoryFoundation},
		{ID: 2, Tier: 1, Name: "b", Category: CategoryFoundation},
	}})
	if err == nil || !strings.Contains(err.Error(), "duplicate tier") {
		t.Fatalf("expected duplicate tier error, got %v", err)
	}
}

func TestNewRejectsHigherTierPrerequisite(t *testing.T) {
	_, err := New(Manifest{Capabilities: []Capability{
		{ID: 1, Tier: 1, Name: "a", Category: CategoryFoundation, Prerequisites: []int{2}},
		{ID: 2, Tier: 2, Name: "b", Category: CategoryFoundation},
	}})
	if err == nil || !strings.Contains(err.Error(), "higher tier") {
		t.Fatalf("expected higher tier error, got %v", err)
	}
}

func TestNewRejectsUnknownPrerequisite(t *testing.T) {
	_, err := New(Manifest{Capabilities: []Capability{
		{ID: 1, Tier: 1, Name: "a", Category: CategoryFoundation, Prerequisites: []int{42}},
	}})
	if err == nil || !strings.Contains(err.Error(), "unknown prerequisite") {
		t.Fatalf("expected unknown prerequisite error, got %v", err)
	}
}

func TestNewRejectsBadCategory(t *testing.T) {
	_, err := New(Manifest{Capabilities: []Capability{
		{ID: 1, Tier: 1, Name: "a", Category: "legendary"},
	}})
	if err == nil || !strings.Contains(err.Error(), "category") {
		t.Fatalf("expected category error, got %v", err)
	}
}

func TestLoadManifestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	manifest := `
capabilities:
  - id: 1
    tier: 1
    name: basics
    category: foundation
  - id: 2
    tier: 2
    name: advanced-basics
    category: advanced
    prerequisites: [1]
components:
  - id: 1
    name: core
    base: true
  - id: 2
    name: aux
`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 capabilities, got %d", r.Len())
	}
	cap, ok := r.ByTier(2)
	if !ok || cap.Name != "advanced-basics" {
		t.Fatalf("unexpected tier 2 capability: %+v", cap)
	}
	if base := r.BaseComponents(); len(base) != 1 || base[0] != 1 {
		t.Fatalf("unexpected base components: %v", base)
	}
}

func TestLoadEmptyPathReturnsBuiltin(t *testing.T) {
	r, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Len() != Builtin().Len() {
		t.Fatal("expected builtin registry")
	}
}
