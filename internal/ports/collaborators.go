// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"

	"github.com/clinigraph/verity/internal/domain"
)

// GraphSelection is the node/edge identifier set returned by a scoped
// structural query against the external knowledge-graph store.
type GraphSelection struct {
	// Nodes lists the matched node identifiers.
	Nodes []string `json:"nodes"`

	// Edges lists the matched edge identifiers.
	Edges []string `json:"edges"`

	// Properties carries the declared properties of matched elements,
	// keyed by identifier. Optional; used only for reporting.
	Properties map[string]map[string]string `json:"properties,omitempty"`
}

// GraphStore is the external knowledge-graph query target.
// The validator issues read-only traversal queries scoped to a layer and a
// scenario subject; it never writes to the store.
// Implementations must be safe for concurrent use.
type GraphStore interface {
	// Query returns the node/edge identifiers of the scenario's derived
	// sub-graph at the given layer.
	// Unreachable stores and timeouts must map to errors satisfying
	// IsRetryable so callers can distinguish outages from logic errors.
	Query(ctx context.Context, layer domain.Layer, subject string) (GraphSelection, error)
}

// ConceptMatch is a single semantic match from the reasoning provider.
type ConceptMatch struct {
	// ConceptID identifies the matched knowledge-graph concept.
	ConceptID string `json:"concept_id"`

	// Similarity is the embedding similarity score in [0,1].
	Similarity float64 `json:"similarity"`
}

// ReasoningProvider is the external embedding/reasoning collaborator used
// by the neural and hybrid strategies. It is a pure request/response call;
// no streaming is required.
type ReasoningProvider interface {
	// MatchConcepts returns up to topK concepts semantically matching the
	// query, ordered by descending similarity.
	MatchConcepts(ctx context.Context, query string, topK int) ([]ConceptMatch, error)
}

// GeneratedAnswer is the raw response from the answer-generation provider
// before validation.
type GeneratedAnswer struct {
	// Text is the generated answer.
	Text string `json:"text"`

	// EvidenceRefs lists the evidence ids the answer cites.
	EvidenceRefs []string `json:"evidence_refs,omitempty"`

	// Path is the ordered list of reasoning step labels the provider
	// reports having taken.
	Path []string `json:"path,omitempty"`

	// Confidence is the provider's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`
}

// AnswerProvider is the external answer-generation collaborator.
type AnswerProvider interface {
	// Generate produces an answer for the question within the scenario's
	// clinical context.
	Generate(ctx context.Context, question string, scenario *domain.Scenario) (GeneratedAnswer, error)
}

// ContentMatcher is the pluggable strategy for checking whether answer text
// covers a required phrase. Substring containment is a known weak
// heuristic, so the strategy is injectable: stronger matchers can replace
// it without touching the validator contracts.
type ContentMatcher interface {
	// Matches reports whether the text covers the required phrase.
	Matches(text, phrase string) bool

	// Name identifies the strategy for reports and configuration.
	Name() string
}
