package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFailure_Retryability(t *testing.T) {
	tests := []struct {
		code      FailureCode
		retryable bool
	}{
		{FailureGraphUnavailable, true},
		{FailureReasoningProviderUnavailable, true},
		{FailureAnswerProviderUnavailable, true},
		{FailureInvalidScenario, false},
		{FailureCriticalLayer, false},
		{FailureImpactSimulation, false},
		{FailureUnresolvedEvidence, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			f := NewFailure(tt.code, "test")
			assert.Equal(t, tt.retryable, f.Retryable,
				"collaborator outages are retryable, input and consistency errors are not")
		})
	}
}

func TestGraphFidelityResult_JSON(t *testing.T) {
	result := GraphFidelityResult{
		ScenarioID: "ckd-metformin-01",
		Transitions: []LayerResult{
			{Transition: Transition{From: LayerRawText, To: LayerStructuredKnowledge}, Accuracy: 0.9},
		},
		Consistency:          0.9,
		Overall:              0.0,
		CriticalLayerFailure: true,
		LatencyMs:            12,
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var jsonMap map[string]any
	require.NoError(t, json.Unmarshal(data, &jsonMap))

	assert.Equal(t, "ckd-metformin-01", jsonMap["scenario_id"], "JSON should use snake_case field names")
	assert.Equal(t, true, jsonMap["critical_layer_failure"])

	_, exists := jsonMap["failure"]
	assert.False(t, exists, "nil failure should be omitted")
}

func TestImpactResult_JSON_OmitEmpty(t *testing.T) {
	result := ImpactResult{
		ScenarioID: "ckd-metformin-01",
		ChangeID:   "ch-1",
		ChangeKind: ChangeAddContraindication,
		State:      SimScored,
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var jsonMap map[string]any
	require.NoError(t, json.Unmarshal(data, &jsonMap))

	assert.Equal(t, "scored", jsonMap["state"])

	_, exists := jsonMap["deltas"]
	assert.False(t, exists, "empty deltas should be omitted")
}

func TestParseReasoningStrategy(t *testing.T) {
	for _, valid := range []string{"symbolic", "neural", "hybrid"} {
		strategy, ok := ParseReasoningStrategy(valid)
		require.True(t, ok)
		assert.Equal(t, ReasoningStrategy(valid), strategy)
	}

	_, ok := ParseReasoningStrategy("quantum")
	assert.False(t, ok)
}
