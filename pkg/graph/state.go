package graph

import (
	"fmt"
	"sync"
	"time"
)

// NodeState is the lifecycle state of a node during an apply run.
type NodeState string

const (
	// NodeStatePending indicates the node is waiting for dependencies
	NodeStatePending NodeState = "Pending"

	// NodeStateApplying indicates the node is being applied
	NodeStateApplying NodeState = "Applying"

	// NodeStateApplied indicates the node was applied and its outputs recorded
	NodeStateApplied NodeState = "Applied"

	// NodeStateFailed indicates the node's apply failed after any retries
	NodeStateFailed NodeState = "Failed"

	// NodeStateSkipped indicates the node's guard evaluated to false,
	// or a node it depends on was skipped. Terminal, not an error.
	NodeStateSkipped NodeState = "Skipped"

	// NodeStateBlocked indicates a dependency failed, so the node was
	// never attempted. Terminal.
	NodeStateBlocked NodeState = "Blocked"
)

// terminal reports whether a state admits no further transitions.
func (s NodeState) terminal() bool {
	switch s {
	case NodeStateApplied, NodeStateFailed, NodeStateSkipped, NodeStateBlocked:
		return true
	}
	return false
}

// NodeStatus is the execution status of a single node.
type NodeStatus struct {
	// State is the current lifecycle state
	State NodeState

	// Error holds the failure or blocking reason for Failed/Blocked nodes
	Error string

	// RetryCount is the number of retry attempts performed
	RetryCount int

	// StartTime is when the node entered Applying
	StartTime *time.Time

	// EndTime is when the node reached a terminal state
	EndTime *time.Time
}

// ExecutionState tracks the state of every node in a run. Safe for
// concurrent use by the executor's workers.
type ExecutionState struct {
	mu sync.RWMutex

	nodeStates map[string]*NodeStatus
	startTime  time.Time
	endTime    *time.Time
}

// NewExecutionState creates a tracker with every node Pending.
func NewExecutionState(nodeIDs []string) *ExecutionState {
	states := make(map[string]*NodeStatus, len(nodeIDs))
	for _, id := range nodeIDs {
		states[id] = &NodeStatus{State: NodeStatePending}
	}
	return &ExecutionState{
		nodeStates: states,
		startTime:  time.Now(),
	}
}

// State returns the current state of a node.
func (es *ExecutionState) State(nodeID string) (NodeState, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	status, found := es.nodeStates[nodeID]
	if !found {
		return "", fmt.Errorf("node %s not found", nodeID)
	}
	return status.State, nil
}

// Status returns a copy of the full status of a node.
func (es *ExecutionState) Status(nodeID string) (NodeStatus, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	status, found := es.nodeStates[nodeID]
	if !found {
		return NodeStatus{}, fmt.Errorf("node %s not found", nodeID)
	}
	return *status, nil
}

// SetState transitions a node, validating the transition.
func (es *ExecutionState) SetState(nodeID string, newState NodeState) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	status, found := es.nodeStates[nodeID]
	if !found {
		return fmt.Errorf("node %s not found", nodeID)
	}
	if err := validateTransition(status.State, newState); err != nil {
		return fmt.Errorf("invalid state transition for node %s: %w", nodeID, err)
	}

	status.State = newState
	now := time.Now()
	switch {
	case newState == NodeStateApplying:
		if status.StartTime == nil {
			status.StartTime = &now
		}
	case newState.terminal():
		status.EndTime = &now
	}
	return nil
}

// Fail moves a node to Failed with the underlying error.
func (es *ExecutionState) Fail(nodeID string, err error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	status, found := es.nodeStates[nodeID]
	if !found {
		return
	}
	status.State = NodeStateFailed
	if err != nil {
		status.Error = err.Error()
	}
	now := time.Now()
	status.EndTime = &now
}

// Block moves a node to Blocked, recording which dependency caused it.
func (es *ExecutionState) Block(nodeID, depID string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	status, found := es.nodeStates[nodeID]
	if !found {
		return
	}
	status.State = NodeStateBlocked
	status.Error = fmt.Sprintf("blocked by failed dependency %s", depID)
	now := time.Now()
	status.EndTime = &now
}

// IncrementRetry bumps a node's retry counter.
func (es *ExecutionState) IncrementRetry(nodeID string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	if status, found := es.nodeStates[nodeID]; found {
		status.RetryCount++
	}
}

// NodesInState returns all node IDs currently in the given state.
func (es *ExecutionState) NodesInState(state NodeState) []string {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var nodes []string
	for id, status := range es.nodeStates {
		if status.State == state {
			nodes = append(nodes, id)
		}
	}
	return nodes
}

// AllStatuses returns a copy of every node's status.
func (es *ExecutionState) AllStatuses() map[string]NodeStatus {
	es.mu.RLock()
	defer es.mu.RUnlock()

	statuses := make(map[string]NodeStatus, len(es.nodeStates))
	for id, status := range es.nodeStates {
		statuses[id] = *status
	}
	return statuses
}

// IsComplete reports whether every node is in a terminal state.
func (es *ExecutionState) IsComplete() bool {
	es.mu.RLock()
	defer es.mu.RUnlock()

	for _, status := range es.nodeStates {
		if !status.State.terminal() {
			return false
		}
	}
	return true
}

// HasFailures reports whether any node is Failed or Blocked.
func (es *ExecutionState) HasFailures() bool {
	es.mu.RLock()
	defer es.mu.RUnlock()

	for _, status := range es.nodeStates {
		if status.State == NodeStateFailed || status.State == NodeStateBlocked {
			return true
		}
	}
	return false
}

// Summary summarizes the run.
type Summary struct {
	Total     int
	Pending   int
	Applying  int
	Applied   int
	Failed    int
	Skipped   int
	Blocked   int
	StartTime time.Time
	EndTime   *time.Time
}

// Summarize returns per-state counts for the run.
func (es *ExecutionState) Summarize() Summary {
	es.mu.RLock()
	defer es.mu.RUnlock()

	summary := Summary{
		Total:     len(es.nodeStates),
		StartTime: es.startTime,
		EndTime:   es.endTime,
	}
	for _, status := range es.nodeStates {
		switch status.State {
		case NodeStatePending:
			summary.Pending++
		case NodeStateApplying:
			summary.Applying++
		case NodeStateApplied:
			summary.Applied++
		case NodeStateFailed:
			summary.Failed++
		case NodeStateSkipped:
			summary.Skipped++
		case NodeStateBlocked:
			summary.Blocked++
		}
	}
	return summary
}

// MarkComplete records the end of the run.
func (es *ExecutionState) MarkComplete() {
	es.mu.Lock()
	defer es.mu.Unlock()

	now := time.Now()
	es.endTime = &now
}

func validateTransition(from, to NodeState) error {
	validTransitions := map[NodeState][]NodeState{
		NodeStatePending: {
			NodeStateApplying,
			NodeStateSkipped,
			NodeStateBlocked,
			NodeStateFailed,
		},
		NodeStateApplying: {
			NodeStateApplied,
			NodeStateFailed,
		},
		// Applied, Failed, Skipped and Blocked are terminal.
	}

	allowed, found := validTransitions[from]
	if !found {
		if from.terminal() {
			return fmt.Errorf("cannot transition from terminal state %s", from)
		}
		return fmt.Errorf("unknown state: %s", from)
	}
	for _, state := range allowed {
		if state == to {
			return nil
		}
	}
	return fmt.Errorf("cannot transition from %s to %s", from, to)
}
