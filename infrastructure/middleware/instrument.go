package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinigraph/verity/internal/domain"
	"github.com/clinigraph/verity/internal/ports"
)

// Compile-time interface checks.
var (
	_ ports.GraphStore        = (*InstrumentedGraphStore)(nil)
	_ ports.ReasoningProvider = (*InstrumentedReasoningProvider)(nil)
	_ ports.AnswerProvider    = (*InstrumentedAnswerProvider)(nil)
)

// InstrumentedGraphStore decorates a GraphStore with metrics and logging.
// Evaluators stay free of observability concerns; the decorators carry them.
type InstrumentedGraphStore struct {
	inner   ports.GraphStore
	metrics *ValidationMetrics
	logger  *slog.Logger
}

// InstrumentGraphStore wraps the store with call metrics and logging.
func InstrumentGraphStore(inner ports.GraphStore, metrics *ValidationMetrics, logger *slog.Logger) *InstrumentedGraphStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstrumentedGraphStore{
		inner:   inner,
		metrics: metrics,
		logger:  logger.With("collaborator", "graph-store"),
	}
}

// Query delegates to the wrapped store, recording latency and failures.
func (g *InstrumentedGraphStore) Query(ctx context.Context, layer domain.Layer, subject string) (ports.GraphSelection, error) {
	start := time.Now()
	selection, err := g.inner.Query(ctx, layer, subject)
	g.metrics.ObserveCollaborator("graph-store", time.Since(start), err, ports.IsRetryable(err))
	if err != nil {
		g.logger.WarnContext(ctx, "graph query failed",
			"layer", layer.String(), "subject", subject, "error", err)
	}
	return selection, err
}

// InstrumentedReasoningProvider decorates a ReasoningProvider with metrics
// and logging.
type InstrumentedReasoningProvider struct {
	inner   ports.ReasoningProvider
	metrics *ValidationMetrics
	logger  *slog.Logger
}

// InstrumentReasoningProvider wraps the provider with call metrics and
// logging.
func InstrumentReasoningProvider(inner ports.ReasoningProvider, metrics *ValidationMetrics, logger *slog.Logger) *InstrumentedReasoningProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstrumentedReasoningProvider{
		inner:   inner,
		metrics: metrics,
		logger:  logger.With("collaborator", "reasoning-provider"),
	}
}

// MatchConcepts delegates to the wrapped provider, recording latency and
// failures.
func (r *InstrumentedReasoningProvider) MatchConcepts(ctx context.Context, query string, topK int) ([]ports.ConceptMatch, error) {
	start := time.Now()
	matches, err := r.inner.MatchConcepts(ctx, query, topK)
	r.metrics.ObserveCollaborator("reasoning-provider", time.Since(start), err, ports.IsRetryable(err))
	if err != nil {
		r.logger.WarnContext(ctx, "concept match failed", "error", err)
	}
	return matches, err
}

// InstrumentedAnswerProvider decorates an AnswerProvider with metrics and
// logging.
type InstrumentedAnswerProvider struct {
	inner   ports.AnswerProvider
	metrics *ValidationMetrics
	logger  *slog.Logger
}

// InstrumentAnswerProvider wraps the provider with call metrics and logging.
func InstrumentAnswerProvider(inner ports.AnswerProvider, metrics *ValidationMetrics, logger *slog.Logger) *InstrumentedAnswerProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstrumentedAnswerProvider{
		inner:   inner,
		metrics: metrics,
		logger:  logger.With("collaborator", "answer-provider"),
	}
}

// Generate delegates to the wrapped provider, recording latency and
// failures.
func (a *InstrumentedAnswerProvider) Generate(ctx context.Context, question string, scenario *domain.Scenario) (ports.GeneratedAnswer, error) {
	start := time.Now()
	answer, err := a.inner.Generate(ctx, question, scenario)
	a.metrics.ObserveCollaborator("answer-provider", time.Since(start), err, ports.IsRetryable(err))
	if err != nil {
		a.logger.WarnContext(ctx, "answer generation failed",
			"scenario_id", scenario.ID, "error", err)
	}
	return answer, err
}
