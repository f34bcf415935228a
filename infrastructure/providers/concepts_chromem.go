package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/philippgille/chromem-go"

	"github.com/clinigraph/verity/internal/ports"
)

// Compile-time interface check.
var _ ports.ReasoningProvider = (*ChromemConcepts)(nil)

// Concept is one knowledge-graph concept indexed for semantic matching.
type Concept struct {
	// ID is the knowledge-graph concept identifier.
	ID string `json:"id" yaml:"id"`

	// Description is the text embedded for similarity matching.
	Description string `json:"description" yaml:"description"`
}

// ChromemConcepts adapts an embedded chromem-go vector collection to the
// ReasoningProvider port. Concept matching is read-heavy and scenarios
// frequently share queries across strategies, so resolved matches are kept
// in a small LRU cache keyed by query and k.
type ChromemConcepts struct {
	collection *chromem.Collection
	cache      *lru.Cache[string, []ports.ConceptMatch]
	logger     *slog.Logger
}

// NewChromemConcepts creates a concept index backed by an in-memory
// chromem collection. The embedding function is injected so tests can run
// without a real embedding model.
func NewChromemConcepts(collectionName string, embed chromem.EmbeddingFunc, cacheSize int, logger *slog.Logger) (*ChromemConcepts, error) {
	if collectionName == "" {
		return nil, errors.New("collection name must not be empty")
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("creating concept collection: %w", err)
	}

	cache, err := lru.New[string, []ports.ConceptMatch](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating match cache: %w", err)
	}

	return &ChromemConcepts{
		collection: collection,
		cache:      cache,
		logger:     logger.With("component", "chromem_concepts"),
	}, nil
}

// IndexConcepts embeds and stores the given concepts. Existing documents
// with the same id are replaced.
func (c *ChromemConcepts) IndexConcepts(ctx context.Context, concepts []Concept) error {
	for _, concept := range concepts {
		if concept.ID == "" {
			return errors.New("concept id must not be empty")
		}
		err := c.collection.AddDocument(ctx, chromem.Document{
			ID:      concept.ID,
			Content: concept.Description,
		})
		if err != nil {
			return fmt.Errorf("indexing concept %s: %w", concept.ID, err)
		}
	}
	c.cache.Purge()
	return nil
}

// MatchConcepts returns up to topK concepts semantically matching the
// query, ordered by descending similarity.
func (c *ChromemConcepts) MatchConcepts(ctx context.Context, query string, topK int) ([]ports.ConceptMatch, error) {
	if topK <= 0 {
		topK = 5
	}

	key := fmt.Sprintf("%d:%s", topK, query)
	if matches, ok := c.cache.Get(key); ok {
		return matches, nil
	}

	// chromem rejects k larger than the collection size.
	if count := c.collection.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	results, err := c.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ports.NewCollaboratorError("reasoning-provider", "match_concepts",
				fmt.Errorf("%w: %v", ports.ErrTimeout, err))
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, ports.NewCollaboratorError("reasoning-provider", "match_concepts",
			fmt.Errorf("%w: %v", ports.ErrServiceUnavailable, err))
	}

	matches := make([]ports.ConceptMatch, 0, len(results))
	for _, r := range results {
		matches = append(matches, ports.ConceptMatch{
			ConceptID:  r.ID,
			Similarity: float64(r.Similarity),
		})
	}

	c.cache.Add(key, matches)
	c.logger.DebugContext(ctx, "concept match complete", "query", query, "matches", len(matches))
	return matches, nil
}
