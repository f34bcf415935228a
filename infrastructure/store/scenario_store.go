package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/clinigraph/verity/internal/domain"
)

// Store loads clinical test scenarios from a Source and caches them by id
// for the process lifetime. The cache is read-mostly: populated lazily on
// first load, safe for concurrent readers, and invalidated only by an
// explicit Reset. No TTL applies because scenarios are immutable fixtures.
type Store struct {
	// source supplies raw scenario documents.
	source Source
	// cache holds loaded scenarios keyed by id.
	// Cached scenarios MUST NOT be mutated by any caller.
	cache map[string]*domain.Scenario
	// mu provides thread-safe access to the cache.
	mu sync.RWMutex
	// sf prevents duplicate parsing when multiple goroutines request the
	// same scenario simultaneously.
	sf singleflight.Group
}

// NewStore creates a scenario store over the given source with an empty
// cache.
func NewStore(source Source) *Store {
	return &Store{
		source: source,
		cache:  make(map[string]*domain.Scenario),
	}
}

// Load returns the scenario with the given id, reading and parsing it on
// first access and serving the cached instance afterwards. Repeated loads
// of the same id return the same pointer.
//
// Load fails with domain.ErrScenarioNotFound when no document matches the
// id and with domain.ErrMalformedScenario when the document fails to parse
// or an assertion is missing a required field; malformed scenarios never
// partially load.
func (s *Store) Load(ctx context.Context, id string) (*domain.Scenario, error) {
	s.mu.RLock()
	if scenario, ok := s.cache[id]; ok {
		s.mu.RUnlock()
		return scenario, nil
	}
	s.mu.RUnlock()

	v, err, _ := s.sf.Do(id, func() (any, error) {
		// Re-check inside singleflight to handle the race between the
		// cache miss above and group execution.
		s.mu.RLock()
		if scenario, ok := s.cache[id]; ok {
			s.mu.RUnlock()
			return scenario, nil
		}
		s.mu.RUnlock()

		scenario, err := s.loadUncached(ctx, id)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cache[id] = scenario
		s.mu.Unlock()

		return scenario, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Scenario), nil
}

// LoadByDomain returns all scenarios carrying the given domain tag,
// ordered by id. The result may be empty; it is never nil on success.
// A single malformed scenario fails the whole listing so a broken fixture
// set is noticed immediately rather than silently thinning the run.
func (s *Store) LoadByDomain(ctx context.Context, domainTag string) ([]*domain.Scenario, error) {
	ids, err := s.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}

	scenarios := make([]*domain.Scenario, 0, len(ids))
	for _, id := range ids {
		scenario, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if scenario.Domain == domainTag {
			scenarios = append(scenarios, scenario)
		}
	}

	sort.Slice(scenarios, func(i, j int) bool { return scenarios[i].ID < scenarios[j].ID })
	return scenarios, nil
}

// List returns all available scenario ids in ascending order without
// loading them.
func (s *Store) List(ctx context.Context) ([]string, error) {
	return s.source.List(ctx)
}

// Reset discards the entire cache. Subsequent loads re-read from the
// source. Reset is the only invalidation path; there is no TTL.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*domain.Scenario)
}

// loadUncached reads, decodes, and converts one scenario document.
func (s *Store) loadUncached(ctx context.Context, id string) (*domain.Scenario, error) {
	data, err := s.source.Read(ctx, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewScenarioError(id, "load", domain.ErrScenarioNotFound)
		}
		return nil, domain.NewScenarioError(id, "load", err)
	}

	var doc scenarioDocument
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	// Unknown top-level sections are ignored for forward compatibility,
	// so strict field checking is intentionally not enabled here.
	if err := decoder.Decode(&doc); err != nil {
		return nil, domain.NewScenarioError(id, "parse",
			fmt.Errorf("%w: %v", domain.ErrMalformedScenario, err))
	}

	scenario, err := doc.toScenario()
	if err != nil {
		return nil, domain.NewScenarioError(id, "parse",
			fmt.Errorf("%w: %v", domain.ErrMalformedScenario, err))
	}

	if scenario.ID != id {
		return nil, domain.NewScenarioError(id, "parse",
			fmt.Errorf("%w: document id %q does not match requested id", domain.ErrMalformedScenario, scenario.ID))
	}

	return scenario, nil
}
