package registry

// Builtin returns the default capability catalog. It covers the 33 knowledge
// tiers with one capability each; deployments with their own catalog supply a
// manifest file instead.
func Builtin() *Registry {
	caps := make([]Capability, 0, len(builtinNames))
	for i, name := range builtinNames {
		tier := i + 1
		cat := CategoryFoundation
		if tier > foundationTiers {
			cat = CategoryAdvanced
		}
		var prereqs []int
		if tier > 1 {
			prereqs = []int{tier - 1}
		}
		caps = append(caps, Capability{
			ID:            tier,
			Tier:          tier,
			Name:          name,
			Category:      cat,
			Prerequisites: prereqs,
		})
	}

	r, err := New(Manifest{Capabilities: caps, Components: builtinComponents})
	if err != nil {
		// The built-in catalog is fixed at compile time; a validation failure
		// here is a programming error.
		panic(err)
	}
	return r
}

// foundationTiers is the boundary between foundation and advanced capabilities.
const foundationTiers = 20

var builtinNames = []string{
	"syntax-fundamentals",
	"data-structures",
	"control-flow",
	"functions-and-modules",
	"error-handling",
	"file-io",
	"text-processing",
	"testing-basics",
	"version-control",
	"documentation",
	"networking",
	"databases",
	"concurrency",
	"cloud-infrastructure",
	"machine-learning",
	"web-services",
	"build-systems",
	"observability",
	"performance-profiling",
	"code-review",
	"refactoring",
	"static-analysis",
	"dependency-management",
	"security-auditing",
	"api-design",
	"distributed-systems",
	"schema-migration",
	"autonomous-tooling",
	"problem-decomposition",
	"strategic-planning",
	"quality-assurance",
	"self-diagnosis",
	"system-integration",
}

var builtinComponents = []Component{
	{ID: 1, Name: "intelligence", Base: true},
	{ID: 2, Name: "routing", Base: true},
	{ID: 3, Name: "orchestration", Base: true},
	{ID: 4, Name: "analysis"},
	{ID: 5, Name: "synthesis"},
	{ID: 6, Name: "repair"},
	{ID: 7, Name: "optimization"},
	{ID: 8, Name: "monitoring"},
	{ID: 9, Name: "memory"},
	{ID: 10, Name: "learning"},
}
