package match

import (
	"strings"

	"ucode/internal/logging"
)

// =============================================================================
// uCODE MATCHER
// =============================================================================

// Stage identifies which matching stage produced a result.
type Stage string

const (
	StageExact Stage = "exact" // Canonical name or alias hit
	StageFuzzy Stage = "fuzzy" // Best edit-distance candidate
	StageNone  Stage = "none"  // Nothing in the catalog is close
)

// Default thresholds for interpreting confidence scores. The orchestrator
// consults these (or config overrides), the matcher itself never enforces
// policy.
const (
	DefaultAutoExecuteThreshold = 0.95
	DefaultConfirmThreshold     = 0.80
	DefaultMatchFloor           = 0.30
)

// Result is the outcome of classifying one input line against the catalog.
type Result struct {
	// Command is the canonical command name, empty when Stage is "none".
	Command string

	// Confidence is the normalized match certainty in [0,1].
	Confidence float64

	// Stage records which matching stage resolved the input.
	Stage Stage

	// Args are the remaining whitespace-separated tokens after the
	// command token.
	Args []string
}

// Matcher classifies input against a catalog with a confidence score.
type Matcher struct {
	catalog *Catalog

	// floor is the confidence below which a fuzzy result is reported
	// as stage "none".
	floor float64
}

// NewMatcher creates a matcher over the given catalog using the default
// match floor.
func NewMatcher(catalog *Catalog) *Matcher {
	return NewMatcherWithFloor(catalog, DefaultMatchFloor)
}

// NewMatcherWithFloor creates a matcher with a custom no-match floor.
func NewMatcherWithFloor(catalog *Catalog, floor float64) *Matcher {
	return &Matcher{catalog: catalog, floor: floor}
}

// Match classifies one input line.
//
// Stage A: the first whitespace token, case-folded, is looked up against
// canonical names and aliases - a hit is confidence 1.0. Stage B: the
// token is scored against every canonical name by edit distance and the
// best candidate wins. When even the best candidate scores below the
// floor the result is stage "none" with no command.
func (m *Matcher) Match(input string) Result {
	fields := strings.Fields(strings.TrimSpace(input))
	if len(fields) == 0 {
		return Result{Stage: StageNone}
	}

	token := fields[0]
	args := fields[1:]

	// Stage A: exact/alias lookup.
	if canonical, ok := m.catalog.Resolve(token); ok {
		logging.Match("exact: %q -> %s", token, canonical)
		return Result{
			Command:    canonical,
			Confidence: 1.0,
			Stage:      StageExact,
			Args:       args,
		}
	}

	// Stage B: fuzzy scoring over canonical names.
	folded := strings.ToUpper(token)
	best := ""
	bestScore := 0.0
	for _, canonical := range m.catalog.Canonicals() {
		score := Similarity(folded, canonical)
		if score > bestScore {
			best = canonical
			bestScore = score
		}
	}

	if best == "" || bestScore < m.floor {
		logging.Match("none: %q (best %.2f below floor %.2f)", token, bestScore, m.floor)
		return Result{Stage: StageNone, Confidence: bestScore, Args: args}
	}

	logging.Match("fuzzy: %q -> %s (%.2f)", token, best, bestScore)
	return Result{
		Command:    best,
		Confidence: bestScore,
		Stage:      StageFuzzy,
		Args:       args,
	}
}
