package blobstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/illmade-knight/go-telemetry/pkg/pipeline"
)

// InMemoryStore is a thread-safe, map-backed blob store for tests and local
// runs. It satisfies the same contract as GCSStore.
type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{objects: make(map[string][]byte)}
}

// Fetch returns a copy of the named object's bytes.
func (s *InMemoryStore) Fetch(_ context.Context, objectName string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[objectName]
	if !ok {
		return nil, fmt.Errorf("%s: %w", objectName, pipeline.ErrObjectNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write stores a copy of data under objectName, stripping any leading slash
// to match bucket naming.
func (s *InMemoryStore) Write(_ context.Context, objectName string, data []byte) error {
	objectName = strings.TrimPrefix(objectName, "/")
	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectName] = stored
	return nil
}

// List returns the sorted names of objects under prefix.
func (s *InMemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimPrefix(prefix, "/")
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for name := range s.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
