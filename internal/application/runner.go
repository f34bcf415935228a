package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/clinigraph/verity/infrastructure/evaluators"
	"github.com/clinigraph/verity/infrastructure/middleware"
	"github.com/clinigraph/verity/internal/domain"
	"github.com/clinigraph/verity/internal/ports"
)

// ScenarioSource is the slice of the scenario store the runner needs.
type ScenarioSource interface {
	Load(ctx context.Context, id string) (*domain.Scenario, error)
	List(ctx context.Context) ([]string, error)
}

// RunnerParams collects the runner's dependencies.
type RunnerParams struct {
	Store      ScenarioSource
	Graph      *evaluators.GraphFidelityChecker
	Reasoning  *evaluators.ReasoningEvaluator
	Answer     *evaluators.AnswerValidator
	Impact     *evaluators.ImpactSimulator
	Assertions *evaluators.AssertionEvaluator

	// Metrics is optional; a nil value disables metric recording.
	Metrics *middleware.ValidationMetrics

	// Logger is optional; nil falls back to slog.Default.
	Logger *slog.Logger

	// Concurrency bounds parallel scenario validation. Values below one
	// are raised to one.
	Concurrency int
}

// Runner drives full validation runs. Scenarios validate in parallel
// under a semaphore; within one scenario the four evaluators fan out
// concurrently, and assertion evaluation starts only after all four have
// delivered their results.
type Runner struct {
	store      ScenarioSource
	graph      *evaluators.GraphFidelityChecker
	reasoning  *evaluators.ReasoningEvaluator
	answer     *evaluators.AnswerValidator
	impact     *evaluators.ImpactSimulator
	assertions *evaluators.AssertionEvaluator

	metrics     *middleware.ValidationMetrics
	logger      *slog.Logger
	concurrency int64
	tracer      trace.Tracer
}

// NewRunner validates the dependency set and builds a Runner.
func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Store == nil {
		return nil, errors.New("scenario store is required")
	}
	if params.Graph == nil || params.Reasoning == nil || params.Answer == nil ||
		params.Impact == nil || params.Assertions == nil {
		return nil, errors.New("all five evaluators are required")
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	if params.Concurrency < 1 {
		params.Concurrency = 1
	}

	return &Runner{
		store:       params.Store,
		graph:       params.Graph,
		reasoning:   params.Reasoning,
		answer:      params.Answer,
		impact:      params.Impact,
		assertions:  params.Assertions,
		metrics:     params.Metrics,
		logger:      params.Logger.With("component", "runner"),
		concurrency: int64(params.Concurrency),
		tracer:      otel.Tracer("validation-runner"),
	}, nil
}

// Run validates the given scenarios and assembles the run report.
// An empty id list validates every scenario the store lists. A failure in
// one scenario never aborts the others; it is reported as that scenario's
// terminal status.
func (r *Runner) Run(ctx context.Context, ids []string) (*Report, error) {
	ctx, span := r.tracer.Start(ctx, "Runner.Run")
	defer span.End()

	if len(ids) == 0 {
		var err error
		ids, err = r.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing scenarios: %w", err)
		}
	}

	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Scenarios: make([]ScenarioReport, len(ids)),
	}
	span.SetAttributes(
		attribute.String("run.id", report.RunID),
		attribute.Int("run.scenarios", len(ids)),
	)
	r.logger.InfoContext(ctx, "validation run started",
		"run_id", report.RunID, "scenarios", len(ids))

	sem := semaphore.NewWeighted(r.concurrency)
	var wg sync.WaitGroup
	for i, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			report.Scenarios[i] = ScenarioReport{
				ScenarioID: id,
				Status:     StatusError,
				Error:      fmt.Sprintf("run cancelled: %v", err),
			}
			continue
		}
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			defer sem.Release(1)
			report.Scenarios[i] = r.runScenario(ctx, id)
		}(i, id)
	}
	wg.Wait()

	sort.Slice(report.Scenarios, func(a, b int) bool {
		return report.Scenarios[a].ScenarioID < report.Scenarios[b].ScenarioID
	})
	report.FinishedAt = time.Now().UTC()
	report.DurationMs = report.FinishedAt.Sub(report.StartedAt).Milliseconds()
	report.Totals = buildTotals(report.Scenarios)

	r.logger.InfoContext(ctx, "validation run finished",
		"run_id", report.RunID,
		"passed", report.Totals.Passed,
		"failed", report.Totals.Failed,
		"errored", report.Totals.Errored,
		"duration_ms", report.DurationMs)
	return report, nil
}

// runScenario validates one scenario end to end.
func (r *Runner) runScenario(ctx context.Context, id string) ScenarioReport {
	ctx, span := r.tracer.Start(ctx, "Runner.runScenario",
		trace.WithAttributes(attribute.String("scenario.id", id)))
	defer span.End()

	scenario, err := r.store.Load(ctx, id)
	if err != nil {
		span.RecordError(err)
		r.logger.WarnContext(ctx, "scenario load failed", "scenario_id", id, "error", err)
		return ScenarioReport{
			ScenarioID: id,
			Status:     StatusError,
			Error:      err.Error(),
			Retryable:  ports.IsRetryable(err),
		}
	}

	if r.metrics != nil {
		r.metrics.ScenarioStarted()
	}

	obs, timings := r.evaluate(ctx, scenario)
	outcomes := r.assertions.Evaluate(ctx, scenario, obs)

	sr := ScenarioReport{
		ScenarioID: scenario.ID,
		Domain:     scenario.Domain,
		Status:     statusOf(outcomes),
		Graph:      obs.Graph,
		Reasoning:  obs.Reasoning,
		Answer:     obs.Answer,
		Impacts:    obs.Impacts,
		Outcomes:   outcomes,
		TimingsMs:  timings,
	}

	if r.metrics != nil {
		r.metrics.RecordOutcomes(outcomes)
		if obs.Graph != nil && obs.Graph.CriticalLayerFailure {
			r.metrics.RecordCriticalLayerFailure()
		}
		r.metrics.ScenarioFinished(scenario.Domain, string(sr.Status))
	}
	span.SetAttributes(attribute.String("scenario.status", string(sr.Status)))
	return sr
}

// evaluate fans the four evaluators out concurrently and waits for all of
// them. Failures travel inside the result objects, never as panics or
// early returns, so the assertion surface always sees a complete set.
func (r *Runner) evaluate(ctx context.Context, scenario *domain.Scenario) (evaluators.Observations, map[string]int64) {
	var (
		obs     evaluators.Observations
		timings = make(map[string]int64, 4)
		mu      sync.Mutex
		wg      sync.WaitGroup
	)

	record := func(component string, start time.Time) {
		elapsed := time.Since(start)
		mu.Lock()
		timings[component] = elapsed.Milliseconds()
		mu.Unlock()
		if r.metrics != nil {
			r.metrics.ObserveEvaluator(component, elapsed)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		start := time.Now()
		result := r.graph.Validate(ctx, scenario)
		record("graph", start)
		mu.Lock()
		obs.Graph = &result
		mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		start := time.Now()
		results := map[domain.ReasoningStrategy]domain.ReasoningResult{
			domain.StrategySymbolic: r.reasoning.Symbolic(ctx, scenario),
			domain.StrategyNeural:   r.reasoning.Neural(ctx, scenario),
			domain.StrategyHybrid:   r.reasoning.Hybrid(ctx, scenario),
		}
		record("reasoning", start)
		mu.Lock()
		obs.Reasoning = results
		mu.Unlock()
	}()

	if question := scenarioQuestion(scenario); question != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			result := r.answer.Validate(ctx, scenario, question)
			record("answer", start)
			mu.Lock()
			obs.Answer = &result
			mu.Unlock()
		}()
	}

	if len(scenario.Changes) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			impacts := make(map[string]domain.ImpactResult, len(scenario.Changes))
			for _, change := range scenario.Changes {
				impacts[change.ID] = r.impact.Simulate(ctx, scenario, change.ID)
			}
			record("impact", start)
			mu.Lock()
			obs.Impacts = impacts
			mu.Unlock()
		}()
	}

	wg.Wait()
	return obs, timings
}

// scenarioQuestion picks the question posed to the answer provider.
func scenarioQuestion(scenario *domain.Scenario) string {
	if scenario.Question != "" {
		return scenario.Question
	}
	return scenario.Query
}
