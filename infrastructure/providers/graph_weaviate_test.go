package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestNewWeaviateGraph_NilClient(t *testing.T) {
	t.Parallel()

	_, err := NewWeaviateGraph(nil, nil)
	assert.Error(t, err)
}

func TestParseSelection(t *testing.T) {
	t.Parallel()

	response := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				elementClassName: []interface{}{
					map[string]interface{}{"elementId": "n-metformin", "kind": "node"},
					map[string]interface{}{"elementId": "n-egfr", "kind": "node"},
					map[string]interface{}{"elementId": "e-contraindicates", "kind": "edge"},
					map[string]interface{}{"elementId": "", "kind": "node"},
				},
			},
		},
	}

	selection, err := parseSelection(response)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n-metformin", "n-egfr"}, selection.Nodes)
	assert.ElementsMatch(t, []string{"e-contraindicates"}, selection.Edges)
}

func TestParseSelection_EmptyClass(t *testing.T) {
	t.Parallel()

	response := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{},
		},
	}

	selection, err := parseSelection(response)
	require.NoError(t, err)
	assert.Empty(t, selection.Nodes)
	assert.Empty(t, selection.Edges)
}

func TestParseSelection_MissingGetSection(t *testing.T) {
	t.Parallel()

	_, err := parseSelection(&models.GraphQLResponse{Data: map[string]models.JSONObject{}})
	assert.Error(t, err)
}
