package evaluators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinigraph/verity/internal/domain"
	"github.com/clinigraph/verity/internal/ports"
)

// GraphFidelityChecker validates that the four-layer knowledge
// transformation preserved semantics for a scenario. For each of the three
// ordered layer transitions it queries the external graph store for the
// scenario's derived sub-graph and scores it against the scenario's
// declared expected structure using set-overlap scoring.
//
// Aggregation is deliberately conservative: cross-layer consistency is the
// minimum transition accuracy, and a transition scoring exactly zero forces
// the overall fidelity to zero with a critical-layer-failure flag, so a
// single broken hop is never hidden by averaging.
//
// Concurrency: the checker is stateless and safe for concurrent use.
type GraphFidelityChecker struct {
	// name is the unique identifier for this checker instance.
	name string
	// config contains the validated configuration parameters.
	config GraphFidelityConfig
	// graph is the external knowledge-graph query target.
	graph ports.GraphStore
	// tracer is the OpenTelemetry tracer for observability.
	tracer trace.Tracer
}

// GraphFidelityConfig controls query budgets and aggregation tolerance.
type GraphFidelityConfig struct {
	// QueryTimeout bounds each per-transition graph query. On timeout the
	// hop is scored against an empty selection and flagged, not aborted.
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout" validate:"min=0"`

	// Tolerance bounds how far the overall fidelity may exceed the
	// weakest transition score.
	Tolerance float64 `yaml:"tolerance" json:"tolerance" validate:"min=0,max=1"`
}

// DefaultGraphFidelityConfig returns production defaults: a 100ms query
// budget matching the graph store's cost profile and a 0.25 tolerance.
func DefaultGraphFidelityConfig() GraphFidelityConfig {
	return GraphFidelityConfig{
		QueryTimeout: 100 * time.Millisecond,
		Tolerance:    0.25,
	}
}

// NewGraphFidelityChecker creates a checker over the given graph store.
// Returns ErrEmptyEvaluatorName if name is empty, ErrNilCollaborator if
// graph is nil, or a configuration validation error.
func NewGraphFidelityChecker(name string, config GraphFidelityConfig, graph ports.GraphStore) (*GraphFidelityChecker, error) {
	if name == "" {
		return nil, ErrEmptyEvaluatorName
	}
	if graph == nil {
		return nil, ErrNilCollaborator
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &GraphFidelityChecker{
		name:   name,
		config: config,
		graph:  graph,
		tracer: otel.Tracer("graph-fidelity-checker"),
	}, nil
}

// Name returns the unique identifier for this checker instance.
func (gfc *GraphFidelityChecker) Name() string { return gfc.name }

// Validate scores the scenario's three layer transitions and aggregates
// them into a GraphFidelityResult.
//
// Failure handling follows the result-object policy: a missing expected
// structure yields a non-retryable invalid-scenario failure and no queries
// are issued; an unreachable graph store yields a retryable
// graph-unavailable failure; per-query timeouts degrade the affected hop
// and set the timed-out flag but still produce a scored result.
func (gfc *GraphFidelityChecker) Validate(ctx context.Context, scenario *domain.Scenario) domain.GraphFidelityResult {
	ctx, span := gfc.tracer.Start(ctx, "GraphFidelityChecker.Validate",
		trace.WithAttributes(
			attribute.String("evaluator.id", gfc.name),
			attribute.String("scenario.id", scenario.ID),
		),
	)
	defer span.End()

	start := time.Now()
	result := domain.GraphFidelityResult{ScenarioID: scenario.ID}

	transitions := domain.Transitions()

	// Fail fast on malformed input before touching the graph store.
	for _, tr := range transitions {
		expected, ok := scenario.ExpectedStructures[tr.To]
		if !ok || expected.Empty() {
			err := fmt.Errorf("%w: no expected structure for layer %s", domain.ErrInvalidScenario, tr.To)
			span.RecordError(err)
			result.Failure = domain.NewFailure(domain.FailureInvalidScenario, err.Error())
			result.LatencyMs = time.Since(start).Milliseconds()
			return result
		}
	}

	for _, tr := range transitions {
		layerResult, err := gfc.scoreTransition(ctx, scenario, tr)
		if err != nil {
			span.RecordError(err)
			result.Failure = domain.NewFailure(domain.FailureGraphUnavailable, err.Error())
			result.LatencyMs = time.Since(start).Milliseconds()
			return result
		}
		if layerResult.TimedOut {
			result.TimedOut = true
		}
		result.Transitions = append(result.Transitions, layerResult)
	}

	gfc.aggregate(&result)
	result.LatencyMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Float64("fidelity.overall", result.Overall),
		attribute.Float64("fidelity.consistency", result.Consistency),
		attribute.Bool("fidelity.critical_layer_failure", result.CriticalLayerFailure),
		attribute.Int64("eval.latency_ms", result.LatencyMs),
	)
	return result
}

// scoreTransition queries the derived sub-graph at the destination layer
// and computes the set-overlap score against the declared structure.
func (gfc *GraphFidelityChecker) scoreTransition(ctx context.Context, scenario *domain.Scenario, tr domain.Transition) (domain.LayerResult, error) {
	expected := scenario.ExpectedStructures[tr.To]

	queryCtx := ctx
	if gfc.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, gfc.config.QueryTimeout)
		defer cancel()
	}

	selection, err := gfc.graph.Query(queryCtx, tr.To, scenario.ID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ports.ErrTimeout) {
			// A timed-out hop is scored against an empty selection so the
			// run can still report a complete assertion surface.
			lr := scoreOverlap(tr, expected, ports.GraphSelection{})
			lr.TimedOut = true
			return lr, nil
		}
		return domain.LayerResult{}, fmt.Errorf("graph query for %s failed: %w", tr, err)
	}

	return scoreOverlap(tr, expected, selection), nil
}

// scoreOverlap computes |match|/|expected| capped at 1.0 and records the
// missing identifiers as discrepancies.
func scoreOverlap(tr domain.Transition, expected domain.ExpectedStructure, selection ports.GraphSelection) domain.LayerResult {
	have := make(map[string]struct{}, len(selection.Nodes)+len(selection.Edges))
	for _, n := range selection.Nodes {
		have["node:"+n] = struct{}{}
	}
	for _, e := range selection.Edges {
		have["edge:"+e] = struct{}{}
	}

	total := len(expected.Nodes) + len(expected.Edges)
	matched := 0
	var discrepancies []string

	for _, n := range expected.Nodes {
		if _, ok := have["node:"+n]; ok {
			matched++
		} else {
			discrepancies = append(discrepancies, "node:"+n)
		}
	}
	for _, e := range expected.Edges {
		if _, ok := have["edge:"+e]; ok {
			matched++
		} else {
			discrepancies = append(discrepancies, "edge:"+e)
		}
	}

	accuracy := float64(matched) / float64(total)
	if accuracy > 1.0 {
		accuracy = 1.0
	}

	return domain.LayerResult{
		Transition:    tr,
		Accuracy:      accuracy,
		Discrepancies: discrepancies,
	}
}

// aggregate computes consistency and overall fidelity from the scored
// transitions, applying the zero floor and the tolerance cap.
func (gfc *GraphFidelityChecker) aggregate(result *domain.GraphFidelityResult) {
	if len(result.Transitions) == 0 {
		return
	}

	sum := 0.0
	minAccuracy := 1.0
	zeroHop := false
	for _, lr := range result.Transitions {
		sum += lr.Accuracy
		if lr.Accuracy < minAccuracy {
			minAccuracy = lr.Accuracy
		}
		if lr.Accuracy == 0 {
			zeroHop = true
		}
	}

	// Consistency is the minimum transition score; a single badly
	// broken hop depresses it.
	result.Consistency = minAccuracy

	overall := sum / float64(len(result.Transitions))

	// The overall score may not drift above the weakest hop by more than
	// the configured tolerance.
	if ceiling := minAccuracy + gfc.config.Tolerance; overall > ceiling {
		overall = ceiling
	}

	if zeroHop {
		// A zero hop means a transition preserved nothing; averaging
		// must not mask it.
		overall = 0
		result.CriticalLayerFailure = true
		result.Failure = domain.NewFailure(domain.FailureCriticalLayer,
			"a layer transition scored zero; overall fidelity forced to zero")
	}

	result.Overall = overall
}
