package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinigraph/verity/internal/domain"
	"github.com/clinigraph/verity/internal/ports"
)

func newTestMetrics(t *testing.T) *ValidationMetrics {
	t.Helper()
	return NewValidationMetrics(prometheus.NewRegistry())
}

func TestValidationMetrics_ScenarioLifecycle(t *testing.T) {
	t.Parallel()

	vm := newTestMetrics(t)

	vm.ScenarioStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(vm.scenariosInFlight))

	vm.ScenarioFinished("nephrology", "passed")
	assert.Equal(t, 0.0, testutil.ToFloat64(vm.scenariosInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		vm.scenariosTotal.WithLabelValues("nephrology", "passed")))
}

func TestValidationMetrics_RecordOutcomes(t *testing.T) {
	t.Parallel()

	vm := newTestMetrics(t)
	vm.RecordOutcomes(domain.AssertionOutcomeSet{
		ScenarioID: "s",
		Outcomes: []domain.AssertionOutcome{
			{Kind: domain.KindGraph, Passed: true},
			{Kind: domain.KindGraph, Passed: false},
			{Kind: domain.KindAnswer, Passed: true},
		},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(
		vm.assertionOutcomes.WithLabelValues("graph", "passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		vm.assertionOutcomes.WithLabelValues("graph", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		vm.assertionOutcomes.WithLabelValues("answer", "passed")))
}

func TestValidationMetrics_ObserveCollaborator(t *testing.T) {
	t.Parallel()

	vm := newTestMetrics(t)

	vm.ObserveCollaborator("graph-store", 10*time.Millisecond, nil, false)
	vm.ObserveCollaborator("graph-store", 10*time.Millisecond, ports.ErrServiceUnavailable, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		vm.collaboratorCalls.WithLabelValues("graph-store", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		vm.collaboratorCalls.WithLabelValues("graph-store", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		vm.collaboratorFailures.WithLabelValues("graph-store", "true")))
}

type failingGraphStore struct{ err error }

func (f *failingGraphStore) Query(ctx context.Context, layer domain.Layer, subject string) (ports.GraphSelection, error) {
	if f.err != nil {
		return ports.GraphSelection{}, f.err
	}
	return ports.GraphSelection{Nodes: []string{"n1"}}, nil
}

func TestInstrumentedGraphStore(t *testing.T) {
	t.Parallel()

	vm := newTestMetrics(t)
	store := InstrumentGraphStore(&failingGraphStore{}, vm, nil)

	selection, err := store.Query(context.Background(), domain.LayerStructuredKnowledge, "ckd")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, selection.Nodes)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		vm.collaboratorCalls.WithLabelValues("graph-store", "ok")))

	failing := InstrumentGraphStore(&failingGraphStore{
		err: ports.NewCollaboratorError("graph-store", "query", ports.ErrTimeout),
	}, vm, nil)

	_, err = failing.Query(context.Background(), domain.LayerStructuredKnowledge, "ckd")
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		vm.collaboratorFailures.WithLabelValues("graph-store", "true")))
}
