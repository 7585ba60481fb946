// Package router maps request text to a capability routing decision.
// Selection is derived from a BLAKE3 digest of the input, never from a
// randomness source: the same text against the same registry always yields
// the same decision, which keeps routing cacheable and testable.
package router

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/mknight/arbiter/internal/classify"
	"github.com/mknight/arbiter/internal/config"
	"github.com/mknight/arbiter/internal/registry"
)

// ErrEmptyRegistry is returned when routing is attempted against a registry
// with no capabilities. Callers treat this as fatal at startup.
var ErrEmptyRegistry = errors.New("router: capability registry is empty")

// Decision is the routing outcome for one request. Computed once, attached to
// the job, never mutated.
type Decision struct {
	TargetTier   int           `json:"target_tier"`
	Capabilities []int         `json:"capabilities"`
	Components   []int         `json:"components"`
	Complexity   float64       `json:"complexity"`
	Mode         classify.Mode `json:"execution_mode"`
	Score        float64       `json:"score"`
}

// Router combines the complexity classifier with band-based tier selection.
type Router struct {
	classifier *classify.Classifier
	cfg        config.RouterConfig
}

// New creates a Router from configuration. The config is assumed validated.
func New(cfg config.RouterConfig) *Router {
	return &Router{
		classifier: classify.New(cfg.LengthNorm),
		cfg:        cfg,
	}
}

// Route classifies text and selects a target tier, capability set, and
// component set from the registry.
func (r *Router) Route(text string, reg *registry.Registry) (Decision, error) {
	if reg == nil || reg.Len() == 0 {
		return Decision{}, ErrEmptyRegistry
	}

	res := r.classifier.Classify(text)
	digest := textDigest(text)

	tier, err := r.selectTier(res.Complexity, digest, reg)
	if err != nil {
		return Decision{}, err
	}

	caps := r.selectCapabilities(text, res.Complexity, tier, reg)
	comps := r.selectComponents(text, res.Complexity, reg)

	score := routingScore(tier, reg.MaxTier(), len(caps), reg.Len(), len(comps), len(reg.Components()))

	return Decision{
		TargetTier:   tier,
		Capabilities: caps,
		Components:   comps,
		Complexity:   res.Complexity,
		Mode:         res.Mode,
		Score:        score,
	}, nil
}

// selectTier picks a tier from the complexity band's range. Within the band
// the pick is digest-keyed so identical inputs land on identical tiers.
func (r *Router) selectTier(complexity float64, digest uint64, reg *registry.Registry) (int, error) {
	band, err := r.bandFor(complexity)
	if err != nil {
		return 0, err
	}

	// Registered tiers inside the band, ascending.
	var avail []int
	for _, cap := range reg.Capabilities() {
		if cap.Tier >= band.TierLow && cap.Tier <= band.TierHigh {
			avail = append(avail, cap.Tier)
		}
	}
	if len(avail) == 0 {
		// Sparse registry: fall back to the nearest registered tier below the
		// band, or the lowest overall.
		nearest := 0
		for _, cap := range reg.Capabilities() {
			if cap.Tier <= band.TierHigh && cap.Tier > nearest {
				nearest = cap.Tier
			}
		}
		if nearest == 0 {
			nearest = reg.Capabilities()[0].Tier
		}
		return nearest, nil
	}

	return avail[digest%uint64(len(avail))], nil
}

func (r *Router) bandFor(complexity float64) (config.BandConfig, error) {
	for i, b := range r.cfg.Bands {
		last := i == len(r.cfg.Bands)-1
		if complexity < b.UpTo || (last && complexity <= b.UpTo) {
			return b, nil
		}
	}
	return config.BandConfig{}, fmt.Errorf("router: no band covers complexity %v", complexity)
}

// selectCapabilities returns a deterministic sample of capability IDs sized by
// complexity. The capability at the target tier is always included.
func (r *Router) selectCapabilities(text string, complexity float64, tier int, reg *registry.Registry) []int {
	count := selectionCount(complexity, r.cfg.MaxCapabilities, reg.Len())

	picked := make(map[int]bool)
	var out []int
	if cap, ok := reg.ByTier(tier); ok {
		picked[cap.ID] = true
		out = append(out, cap.ID)
	}

	for _, cap := range rankByDigest(text, reg.Capabilities(), func(c registry.Capability) int { return c.ID }) {
		if len(out) >= count {
			break
		}
		if !picked[cap.ID] {
			picked[cap.ID] = true
			out = append(out, cap.ID)
		}
	}

	sort.Ints(out)
	return out
}

// selectComponents returns base components plus a deterministic sample of the
// rest sized by complexity.
func (r *Router) selectComponents(text string, complexity float64, reg *registry.Registry) []int {
	all := reg.Components()
	count := selectionCount(complexity, r.cfg.MaxComponents, len(all))

	picked := make(map[int]bool)
	out := reg.BaseComponents()
	for _, id := range out {
		picked[id] = true
	}
	baseLen := len(out)

	var optional []registry.Component
	for _, c := range all {
		if !picked[c.ID] {
			optional = append(optional, c)
		}
	}

	for _, c := range rankByDigest(text, optional, func(c registry.Component) int { return c.ID }) {
		if len(out) >= baseLen+count {
			break
		}
		out = append(out, c.ID)
	}

	sort.Ints(out)
	return out
}

// selectionCount derives how many entries to select from complexity.
func selectionCount(complexity float64, max, available int) int {
	count := int(math.Ceil(complexity*float64(max))) + 1
	if count > available {
		count = available
	}
	if count < 1 {
		count = 1
	}
	return count
}

// routingScore combines tier, capability, and component fractions with equal
// weight. Observability only; nothing branches on it.
func routingScore(tier, maxTier, caps, maxCaps, comps, maxComps int) float64 {
	frac := func(n, d int) float64 {
		if d <= 0 {
			return 0
		}
		return float64(n) / float64(d)
	}
	score := (frac(tier, maxTier) + frac(caps, maxCaps) + frac(comps, maxComps)) / 3
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// textDigest derives the selection key for a request.
func textDigest(text string) uint64 {
	sum := blake3.Sum256([]byte(text))
	return binary.BigEndian.Uint64(sum[:8])
}

// rankByDigest orders entries by the digest of text combined with each entry's
// id. Stable hash-based sampling: the ordering depends only on the input text
// and the registry contents.
func rankByDigest[T any](text string, entries []T, id func(T) int) []T {
	type ranked struct {
		entry T
		key   uint64
		id    int
	}
	rs := make([]ranked, 0, len(entries))
	for _, e := range entries {
		eid := id(e)
		sum := blake3.Sum256(fmt.Appendf(nil, "%s:%d", text, eid))
		rs = append(rs, ranked{entry: e, key: binary.BigEndian.Uint64(sum[:8]), id: eid})
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].key != rs[j].key {
			return rs[i].key < rs[j].key
		}
		return rs[i].id < rs[j].id
	})
	out := make([]T, len(rs))
	for i, r := range rs {
		out[i] = r.entry
	}
	return out
}
