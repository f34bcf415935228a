// Package store provides scenario loading and caching for the validation
// framework. Scenarios are immutable fixtures: the store populates its
// cache lazily on first load and invalidates only on explicit reset.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source supplies raw scenario documents by id.
// Implementations must be safe for concurrent use.
type Source interface {
	// Read returns the raw document for the given scenario id, or
	// os.ErrNotExist-compatible error when no document exists.
	Read(ctx context.Context, id string) ([]byte, error)

	// List returns all available scenario ids in ascending order.
	List(ctx context.Context) ([]string, error)
}

// DirSource reads scenario documents from a directory of
// "<id>.yaml" files.
type DirSource struct {
	// dir is the root directory containing scenario documents.
	dir string
}

// NewDirSource creates a Source over the given directory.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: filepath.Clean(dir)}
}

// Read returns the raw YAML document for the given scenario id.
func (s *DirSource) Read(_ context.Context, id string) ([]byte, error) {
	// Reject ids that could escape the scenario directory.
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return nil, fmt.Errorf("invalid scenario id %q", id)
	}
	return os.ReadFile(filepath.Join(s.dir, id+".yaml"))
}

// List returns the ids of all ".yaml" documents in the directory,
// sorted ascending.
func (s *DirSource) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".yaml"))
	}
	sort.Strings(ids)
	return ids, nil
}

// MapSource serves scenario documents from an in-memory map.
// It exists for tests and embedded fixture sets.
type MapSource struct {
	docs map[string][]byte
}

// NewMapSource creates a Source over the given id-to-document map.
func NewMapSource(docs map[string][]byte) *MapSource {
	copied := make(map[string][]byte, len(docs))
	for id, doc := range docs {
		copied[id] = doc
	}
	return &MapSource{docs: copied}
}

// Read returns the document for the given id.
func (s *MapSource) Read(_ context.Context, id string) ([]byte, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return doc, nil
}

// List returns all ids sorted ascending.
func (s *MapSource) List(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
