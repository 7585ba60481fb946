// Package registry holds the static capability and component catalog.
// It is loaded once at startup and read-only afterwards.
package registry

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Category classifies a capability as part of the base skill set or an
// advanced extension.
type Category string

const (
	CategoryFoundation Category = "foundation"
	CategoryAdvanced   Category = "advanced"
)

func (c Category) valid() bool {
	return c == CategoryFoundation || c == CategoryAdvanced
}

// Capability is one selectable unit of functionality tied to a tier.
// Prerequisites reference capability IDs at lower-or-equal tiers only.
type Capability struct {
	ID            int      `yaml:"id"`
	Tier          int      `yaml:"tier"`
	Name          string   `yaml:"name"`
	Category      Category `yaml:"category"`
	Prerequisites []int    `yaml:"prerequisites,omitempty"`
}

// Component is an internal subsystem identifier selected alongside
// capabilities for observability. Base components are always selected.
type Component struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
	Base bool   `yaml:"base,omitempty"`
}

// Registry is the immutable capability/component catalog.
type Registry struct {
	capabilities []Capability
	components   []Component

	byID   map[int]Capability
	byTier map[int]Capability
}

// Manifest is the on-disk YAML shape of the registry.
type Manifest struct {
	Capabilities []Capability `yaml:"capabilities"`
	Components   []Component  `yaml:"components"`
}

// Load reads a registry manifest from path. An empty path returns the
// built-in registry.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Builtin(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse registry manifest %s: %w", path, err)
	}

	return New(m)
}

// New validates a manifest and builds a Registry from it.
func New(m Manifest) (*Registry, error) {
	r := &Registry{
		capabilities: append([]Capability(nil), m.Capabilities...),
		components:   append([]Component(nil), m.Components...),
		byID:         make(map[int]Capability, len(m.Capabilities)),
		byTier:       make(map[int]Capability, len(m.Capabilities)),
	}

	for i, cap := range r.capabilities {
		if cap.Name == "" {
			return nil, fmt.Errorf("capability[%d]: name is required", i)
		}
		if !cap.Category.valid() {
			return nil, fmt.Errorf("capability %q: category must be foundation or advanced (got %q)", cap.Name, cap.Category)
		}
		if cap.Tier < 1 {
			return nil, fmt.Errorf("capability %q: tier must be >= 1 (got %d)", cap.Name, cap.Tier)
		}
		if _, dup := r.byID[cap.ID]; dup {
			return nil, fmt.Errorf("capability %q: duplicate id %d", cap.Name, cap.ID)
		}
		if _, dup := r.byTier[cap.Tier]; dup {
			return nil, fmt.Errorf("capability %q: duplicate tier %d", cap.Name, cap.Tier)
		}
		r.byID[cap.ID] = cap
		r.byTier[cap.Tier] = cap
	}

	// Prerequisites must exist and sit at lower-or-equal tiers.
	for _, cap := range r.capabilities {
		for _, pre := range cap.Prerequisites {
			dep, ok := r.byID[pre]
			if !ok {
				return nil, fmt.Errorf("capability %q: unknown prerequisite id %d", cap.Name, pre)
			}
			if dep.Tier > cap.Tier {
				return nil, fmt.Errorf("capability %q (tier %d): prerequisite %q is at higher tier %d",
					cap.Name, cap.Tier, dep.Name, dep.Tier)
			}
		}
	}

	seen := make(map[int]bool, len(r.components))
	for _, comp := range r.components {
		if comp.Name == "" {
			return nil, fmt.Errorf("component id %d: name is required", comp.ID)
		}
		if seen[comp.ID] {
			return nil, fmt.Errorf("component %q: duplicate id %d", comp.Name, comp.ID)
		}
		seen[comp.ID] = true
	}

	return r, nil
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	return len(r.capabilities)
}

// Capabilities returns all capabilities ordered by tier.
func (r *Registry) Capabilities() []Capability {
	out := append([]Capability(nil), r.capabilities...)
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

// Components returns all components.
func (r *Registry) Components() []Component {
	return append([]Component(nil), r.components...)
}

// BaseComponents returns the IDs of always-on components, sorted.
func (r *Registry) BaseComponents() []int {
	var out []int
	for _, c := range r.components {
		if c.Base {
			out = append(out, c.ID)
		}
	}
	sort.Ints(out)
	return out
}

// ByID looks up a capability by id.
func (r *Registry) ByID(id int) (Capability, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// ByTier looks up the capability registered at a tier.
func (r *Registry) ByTier(tier int) (Capability, bool) {
	c, ok := r.byTier[tier]
	return c, ok
}

// MaxTier returns the highest registered tier, or 0 for an empty registry.
func (r *Registry) MaxTier() int {
	max := 0
	for tier := range r.byTier {
		if tier > max {
			max = tier
		}
	}
	return max
}
