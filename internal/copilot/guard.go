package copilot

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Sentinel is the canonical model output meaning "nothing to contribute this
// round". It is never shown to the advisor and never stored in memory.
const Sentinel = "[SILENT]"

// SuppressReason explains why the guard collapsed a model output to silence.
// The empty value means the output was accepted.
type SuppressReason string

const (
	// ReasonNone marks an accepted output.
	ReasonNone SuppressReason = ""

	// ReasonEmpty marks output that was empty after trimming.
	ReasonEmpty SuppressReason = "empty"

	// ReasonSentinel marks output containing the silence sentinel.
	ReasonSentinel SuppressReason = "sentinel"

	// ReasonExactRepeat marks output equal to a prior accepted insight.
	ReasonExactRepeat SuppressReason = "exact_repeat"

	// ReasonSubstringRepeat marks output that is a proper substring of a
	// prior accepted insight, a truncated echo of something richer already
	// whispered.
	ReasonSubstringRepeat SuppressReason = "substring_repeat"

	// ReasonBadPattern marks output matching a configured refusal prefix or
	// disallowed marker.
	ReasonBadPattern SuppressReason = "bad_pattern"

	// ReasonNearDuplicate marks output too similar to a prior insight under
	// the Jaro-Winkler measure.
	ReasonNearDuplicate SuppressReason = "near_duplicate"
)

// Guard converts raw model output into either a real insight or silence.
//
// Checks run in a fixed order and short-circuit on the first match: sentinel,
// exact repeat, substring repeat, bad pattern, near duplicate. The checks
// compare against prior accepted agent turns only; suppressed output never
// enters that history, so the guard cannot poison its own reference set.
//
// A Guard is stateless and safe for concurrent use.
type Guard struct {
	badPrefixes []string
	badMarkers  []string
	similarity  float64
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithBadPrefixes replaces the refusal prefixes that force silence.
func WithBadPrefixes(prefixes ...string) GuardOption {
	return func(g *Guard) { g.badPrefixes = prefixes }
}

// WithBadMarkers replaces the markers whose presence anywhere in the output
// forces silence.
func WithBadMarkers(markers ...string) GuardOption {
	return func(g *Guard) { g.badMarkers = markers }
}

// WithSimilarityThreshold enables the near-duplicate check: output whose
// Jaro-Winkler similarity to any prior insight reaches threshold is
// suppressed. Values >= 1.0 disable the check (the default); values are
// clamped to [0, 1].
func WithSimilarityThreshold(threshold float64) GuardOption {
	return func(g *Guard) {
		if threshold < 0 {
			threshold = 0
		}
		if threshold > 1 {
			threshold = 1
		}
		g.similarity = threshold
	}
}

// NewGuard creates a Guard with the default bad-pattern set observed to leak
// from instruction-tuned models: refusals and explanatory asides.
func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{
		badPrefixes: []string{"I cannot provide"},
		badMarkers:  []string{"(Siehe oben", ": Das bedeutet"},
		similarity:  1.0,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Check filters raw model output against the prior accepted agent turns of
// the same session. It returns the trimmed insight and ReasonNone when the
// output is accepted, or the empty string and the reason it was suppressed.
func (g *Guard) Check(raw string, priorInsights []string) (string, SuppressReason) {
	out := strings.TrimSpace(raw)
	if out == "" {
		return "", ReasonEmpty
	}
	if strings.Contains(out, Sentinel) {
		return "", ReasonSentinel
	}

	for _, prior := range priorInsights {
		prior = strings.TrimSpace(prior)
		if out == prior {
			return "", ReasonExactRepeat
		}
	}
	for _, prior := range priorInsights {
		prior = strings.TrimSpace(prior)
		if out != prior && strings.Contains(prior, out) {
			return "", ReasonSubstringRepeat
		}
	}

	for _, prefix := range g.badPrefixes {
		if strings.HasPrefix(out, prefix) {
			return "", ReasonBadPattern
		}
	}
	for _, marker := range g.badMarkers {
		if strings.Contains(out, marker) {
			return "", ReasonBadPattern
		}
	}

	if g.similarity < 1.0 {
		for _, prior := range priorInsights {
			if matchr.JaroWinkler(out, strings.TrimSpace(prior), false) >= g.similarity {
				return "", ReasonNearDuplicate
			}
		}
	}

	return out, ReasonNone
}
