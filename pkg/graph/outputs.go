package graph

import (
	"fmt"
	"sync"

	"github.com/zclconf/go-cty/cty"

	"github.com/bollard-dev/bollard/pkg/eval"
)

// OutputStore is the append-only map of node outputs. Each node writes
// exactly one disjoint key exactly once, so concurrent writers from
// independent DAG branches are safe. Recorded values are never
// mutated.
type OutputStore struct {
	mu     sync.RWMutex
	values eval.Outputs
}

// NewOutputStore creates an empty store.
func NewOutputStore() *OutputStore {
	return &OutputStore{values: make(eval.Outputs)}
}

// Record stores a node's outputs. Recording the same node twice is a
// programming error.
func (s *OutputStore) Record(nodeID string, values map[string]cty.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.values[nodeID]; exists {
		return fmt.Errorf("outputs for node %s already recorded", nodeID)
	}
	s.values[nodeID] = values
	return nil
}

// Get returns a node's recorded outputs.
func (s *OutputStore) Get(nodeID string) (map[string]cty.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values, found := s.values[nodeID]
	return values, found
}

// Snapshot returns a copy of the store for expression evaluation. The
// inner maps are shared but treated as immutable once recorded.
func (s *OutputStore) Snapshot() eval.Outputs {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(eval.Outputs, len(s.values))
	for id, values := range s.values {
		snapshot[id] = values
	}
	return snapshot
}
