// Package providers contains the infrastructure adapters for the external
// validation collaborators: the knowledge-graph store, the concept
// embedding index, and the answer-generation providers.
package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/clinigraph/verity/internal/domain"
	"github.com/clinigraph/verity/internal/ports"
)

// elementClassName is the Weaviate class holding knowledge-graph elements.
// Each object carries an element id, its kind (node or edge), the layer it
// belongs to, and the scenario subject it was derived for.
const elementClassName = "ClinicalElement"

// Compile-time interface check.
var _ ports.GraphStore = (*WeaviateGraph)(nil)

// WeaviateGraph adapts a Weaviate instance to the GraphStore port. The
// validator only reads: every call is a scoped GraphQL Get, never a write.
type WeaviateGraph struct {
	client *weaviate.Client
	logger *slog.Logger

	// queryLimit caps the number of elements fetched per layer query.
	queryLimit int
}

// WeaviateGraphOption customizes a WeaviateGraph.
type WeaviateGraphOption func(*WeaviateGraph)

// WithQueryLimit overrides the per-query element cap.
func WithQueryLimit(limit int) WeaviateGraphOption {
	return func(g *WeaviateGraph) {
		if limit > 0 {
			g.queryLimit = limit
		}
	}
}

// NewWeaviateGraph creates a graph-store adapter over the given client.
func NewWeaviateGraph(client *weaviate.Client, logger *slog.Logger, opts ...WeaviateGraphOption) (*WeaviateGraph, error) {
	if client == nil {
		return nil, errors.New("weaviate client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &WeaviateGraph{
		client:     client,
		logger:     logger.With("component", "weaviate_graph"),
		queryLimit: 500,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Query returns the node and edge identifiers of the subject's derived
// sub-graph at the given layer.
func (g *WeaviateGraph) Query(ctx context.Context, layer domain.Layer, subject string) (ports.GraphSelection, error) {
	whereFilter := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"layer"}).
				WithOperator(filters.Equal).
				WithValueString(layer.String()),
			filters.Where().
				WithPath([]string{"subject"}).
				WithOperator(filters.Equal).
				WithValueString(subject),
		})

	result, err := g.client.GraphQL().Get().
		WithClassName(elementClassName).
		WithFields(
			graphql.Field{Name: "elementId"},
			graphql.Field{Name: "kind"},
		).
		WithWhere(whereFilter).
		WithLimit(g.queryLimit).
		Do(ctx)
	if err != nil {
		return ports.GraphSelection{}, g.mapError(ctx, "query", err)
	}
	if len(result.Errors) > 0 {
		err := fmt.Errorf("%w: %s", ports.ErrInvalidResponse, result.Errors[0].Message)
		return ports.GraphSelection{}, ports.NewCollaboratorError("graph-store", "query", err)
	}

	selection, err := parseSelection(result)
	if err != nil {
		return ports.GraphSelection{}, ports.NewCollaboratorError("graph-store", "query", err)
	}

	g.logger.DebugContext(ctx, "graph query complete",
		"layer", layer.String(),
		"subject", subject,
		"nodes", len(selection.Nodes),
		"edges", len(selection.Edges))
	return selection, nil
}

// mapError normalizes transport failures onto the port sentinels so
// callers can classify retryability without knowing the client library.
func (g *WeaviateGraph) mapError(ctx context.Context, operation string, err error) error {
	g.logger.WarnContext(ctx, "graph store call failed", "operation", operation, "error", err)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%w: %v", ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		// Propagate cancellation untouched.
		return err
	default:
		err = fmt.Errorf("%w: %v", ports.ErrServiceUnavailable, err)
	}
	return ports.NewCollaboratorError("graph-store", operation, err)
}

// parseSelection extracts element ids from the GraphQL response shape:
// Data["Get"][class] is a list of objects with elementId and kind fields.
func parseSelection(result *models.GraphQLResponse) (ports.GraphSelection, error) {
	var selection ports.GraphSelection

	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return selection, fmt.Errorf("%w: missing Get section", ports.ErrInvalidResponse)
	}
	objects, ok := get[elementClassName].([]interface{})
	if !ok {
		// No elements for this layer/subject is a valid empty selection.
		return selection, nil
	}

	for _, raw := range objects {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := obj["elementId"].(string)
		if id == "" {
			continue
		}
		kind, _ := obj["kind"].(string)
		if kind == "edge" {
			selection.Edges = append(selection.Edges, id)
		} else {
			selection.Nodes = append(selection.Nodes, id)
		}
	}
	return selection, nil
}
