package evaluators

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"

	"github.com/clinigraph/verity/internal/ports"
)

var (
	_ ports.ContentMatcher = (*ContainsMatcher)(nil)
	_ ports.ContentMatcher = (*FuzzyMatcher)(nil)

	// foldCaser is a package-level Unicode case folder for performance.
	// This avoids creating a new caser for each string preparation.
	foldCaser = cases.Fold()
)

// ContainsMatcher is the default content-matching strategy: case-insensitive
// substring containment with Unicode-aware case folding.
type ContainsMatcher struct{}

// NewContainsMatcher creates the default containment matcher.
func NewContainsMatcher() *ContainsMatcher { return &ContainsMatcher{} }

// Name identifies the strategy for reports and configuration.
func (m *ContainsMatcher) Name() string { return "contains" }

// Matches reports whether text contains the phrase, ignoring case.
func (m *ContainsMatcher) Matches(text, phrase string) bool {
	return strings.Contains(foldCaser.String(text), foldCaser.String(phrase))
}

// FuzzyMatcher matches a required phrase when any window of the text is
// within a Levenshtein-derived similarity threshold of the phrase. It
// tolerates minor transcription noise in generated answers without
// accepting clinically different wording.
type FuzzyMatcher struct {
	// threshold is the minimum similarity in [0,1] for a match.
	threshold float64
}

// NewFuzzyMatcher creates a fuzzy matcher with the given similarity
// threshold. Thresholds outside [0,1] are rejected.
func NewFuzzyMatcher(threshold float64) (*FuzzyMatcher, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in [0,1], got %v", threshold)
	}
	return &FuzzyMatcher{threshold: threshold}, nil
}

// Name identifies the strategy for reports and configuration.
func (m *FuzzyMatcher) Name() string { return "fuzzy" }

// Matches reports whether any phrase-length window of the text reaches the
// similarity threshold against the phrase.
func (m *FuzzyMatcher) Matches(text, phrase string) bool {
	folded := foldCaser.String(text)
	target := foldCaser.String(phrase)

	if target == "" {
		return true
	}
	if strings.Contains(folded, target) {
		return true
	}

	textRunes := []rune(folded)
	targetLen := len([]rune(target))
	if len(textRunes) < targetLen {
		return m.similarity(folded, target) >= m.threshold
	}

	for i := 0; i+targetLen <= len(textRunes); i++ {
		window := string(textRunes[i : i+targetLen])
		if m.similarity(window, target) >= m.threshold {
			return true
		}
	}
	return false
}

// similarity converts Levenshtein distance into a [0,1] similarity score.
func (m *FuzzyMatcher) similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	distance := levenshtein.ComputeDistance(a, b)
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(distance)/float64(longest)
}
