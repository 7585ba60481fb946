// Package classify estimates request complexity and execution mode from text.
// Classification is a pure function of its input: no state, no I/O, no
// randomness, so routing built on it is reproducible and unit-testable.
package classify

import "strings"

// Mode is the coarse execution mode attached to a job at creation.
type Mode string

const (
	ModeAnalysis     Mode = "analysis"
	ModeGeneration   Mode = "generation"
	ModeOptimization Mode = "optimization"
	ModeAutonomous   Mode = "autonomous"
)

// analysisKeywords indicate read-only inspection work.
var analysisKeywords = []string{
	"analyze",
	"analyse",
	"review",
	"inspect",
	"explain",
	"understand",
	"diagnose",
	"test",
}

// generationKeywords indicate new artifacts being produced.
var generationKeywords = []string{
	"create",
	"generate",
	"build",
	"write",
	"implement",
	"scaffold",
}

// optimizationKeywords indicate changes to existing artifacts.
var optimizationKeywords = []string{
	"optimize",
	"optimise",
	"refactor",
	"improve",
	"speed up",
	"clean up",
}

// autonomousKeywords indicate multi-step self-directed work.
var autonomousKeywords = []string{
	"fix",
	"repair",
	"heal",
	"deploy",
	"migrate",
	"autonomous",
}

// modeFamilies lists keyword families in priority order. Ties resolve to the
// earliest family checked.
var modeFamilies = []struct {
	mode     Mode
	keywords []string
}{
	{ModeAnalysis, analysisKeywords},
	{ModeGeneration, generationKeywords},
	{ModeOptimization, optimizationKeywords},
	{ModeAutonomous, autonomousKeywords},
}

// Result is the classifier output for one request.
type Result struct {
	Complexity float64
	Mode       Mode
}

// Classifier scores request text. The zero value is not usable; construct
// with New.
type Classifier struct {
	lengthNorm int
	total      int
}

// New creates a Classifier. lengthNorm is the text length that alone counts
// as full complexity on the length axis; values <= 0 fall back to 1000.
func New(lengthNorm int) *Classifier {
	if lengthNorm <= 0 {
		lengthNorm = 1000
	}
	total := 0
	for _, fam := range modeFamilies {
		total += len(fam.keywords)
	}
	return &Classifier{lengthNorm: lengthNorm, total: total}
}

// Classify returns the complexity score and execution mode for text.
// Complexity averages normalized length with domain keyword density, clamped
// to [0, 1].
func (c *Classifier) Classify(text string) Result {
	lower := strings.ToLower(text)

	matched := 0
	mode := ModeAnalysis
	modeSet := false
	for _, fam := range modeFamilies {
		for _, kw := range fam.keywords {
			if strings.Contains(lower, kw) {
				matched++
				if !modeSet {
					mode = fam.mode
					modeSet = true
				}
			}
		}
	}

	lengthScore := float64(len(text)) / float64(c.lengthNorm)
	keywordScore := float64(matched) / float64(c.total)
	complexity := clamp01((lengthScore + keywordScore) / 2)

	return Result{Complexity: complexity, Mode: mode}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
