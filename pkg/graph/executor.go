package graph

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"

	"github.com/bollard-dev/bollard/pkg/eval"
	"github.com/bollard-dev/bollard/pkg/provider"
)

// Applier applies a single node. The engine supplies an implementation
// that evaluates the node's expressions and calls the provider.
type Applier interface {
	// ShouldApply evaluates the node's guard. False means the node is
	// skipped without error and contributes no outputs.
	ShouldApply(ctx context.Context, node *Node, outs eval.Outputs) (bool, error)

	// Apply materializes the node and returns its outputs
	Apply(ctx context.Context, node *Node, outs eval.Outputs) (map[string]cty.Value, error)
}

// ExecutorConfig configures the DAG executor.
type ExecutorConfig struct {
	// MaxConcurrency bounds the number of nodes applied in parallel.
	// Default: 10
	MaxConcurrency int

	// RetryBackoffBase is the base duration for exponential backoff.
	// Default: 1 second
	RetryBackoffBase time.Duration

	// RetryBackoffMax caps the backoff duration.
	// Default: 30 seconds
	RetryBackoffMax time.Duration

	// MaxAttempts bounds provider calls per node, including the first.
	// Only transient provider errors are retried. Default: 4
	MaxAttempts int
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency:   10,
		RetryBackoffBase: 1 * time.Second,
		RetryBackoffMax:  30 * time.Second,
		MaxAttempts:      4,
	}
}

// Executor applies a DAG: independent branches run in parallel through
// a bounded worker pool, nodes on the same chain strictly sequentially.
type Executor struct {
	config  ExecutorConfig
	applier Applier
	store   *OutputStore
	logger  *zap.Logger
}

// NewExecutor creates a DAG executor.
func NewExecutor(applier Applier, store *OutputStore, logger *zap.Logger, config ExecutorConfig) *Executor {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 10
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		config:  config,
		applier: applier,
		store:   store,
		logger:  logger,
	}
}

// Execute applies the DAG in dependency order and returns the final
// state of every node. A failed node blocks its transitive dependents
// but independent branches keep going. Cancellation stops dispatching
// new nodes; in-flight provider calls run to completion so the remote
// outcome is always recorded.
func (e *Executor) Execute(ctx context.Context, dag *DAG) (*ExecutionState, error) {
	if dag == nil {
		return nil, fmt.Errorf("DAG cannot be nil")
	}

	state := NewExecutionState(dag.Order())

	for {
		if err := ctx.Err(); err != nil {
			state.MarkComplete()
			return state, err
		}

		progressed := e.propagateTerminal(dag, state)

		ready := e.findReadyNodes(dag, state)
		if len(ready) == 0 {
			if progressed {
				continue
			}
			break
		}

		p := pool.New().WithMaxGoroutines(e.config.MaxConcurrency)
		for _, nodeID := range ready {
			p.Go(func() {
				e.executeNode(ctx, dag, state, nodeID)
			})
		}
		p.Wait()
	}

	state.MarkComplete()
	return state, nil
}

// propagateTerminal marks nodes whose dependencies already decided
// their fate: Blocked when a dependency is Failed or Blocked, Skipped
// when a dependency was Skipped (conditional exclusion removes the
// whole subtree). Returns true if any node was marked.
func (e *Executor) propagateTerminal(dag *DAG, state *ExecutionState) bool {
	progressed := false
	for _, nodeID := range dag.Order() {
		nodeState, _ := state.State(nodeID)
		if nodeState != NodeStatePending {
			continue
		}

		// Scan every dependency before deciding: a failed or blocked
		// dependency blocks the node even when another dependency was
		// skipped, regardless of declaration order.
		deps, _ := dag.Dependencies(nodeID)
		var blockingDep, skippedDep string
		for _, depID := range deps {
			depState, _ := state.State(depID)
			switch depState {
			case NodeStateFailed, NodeStateBlocked:
				if blockingDep == "" {
					blockingDep = depID
				}
			case NodeStateSkipped:
				if skippedDep == "" {
					skippedDep = depID
				}
			}
		}

		switch {
		case blockingDep != "":
			state.Block(nodeID, blockingDep)
			e.logger.Warn("node blocked by failed dependency",
				zap.String("node", nodeID),
				zap.String("dependency", blockingDep))
			progressed = true
		case skippedDep != "":
			if err := state.SetState(nodeID, NodeStateSkipped); err == nil {
				e.logger.Debug("node skipped with its dependency",
					zap.String("node", nodeID),
					zap.String("dependency", skippedDep))
				progressed = true
			}
		}
	}
	return progressed
}

// findReadyNodes returns Pending nodes whose dependencies are all
// Applied, in deterministic order.
func (e *Executor) findReadyNodes(dag *DAG, state *ExecutionState) []string {
	var ready []string
	for _, nodeID := range dag.Order() {
		nodeState, _ := state.State(nodeID)
		if nodeState != NodeStatePending {
			continue
		}

		deps, _ := dag.Dependencies(nodeID)
		allApplied := true
		for _, depID := range deps {
			depState, _ := state.State(depID)
			if depState != NodeStateApplied {
				allApplied = false
				break
			}
		}
		if allApplied {
			ready = append(ready, nodeID)
		}
	}
	return ready
}

// executeNode evaluates the guard, then applies the node with bounded
// retries on transient provider errors.
func (e *Executor) executeNode(ctx context.Context, dag *DAG, state *ExecutionState, nodeID string) {
	node, found := dag.Node(nodeID)
	if !found {
		state.Fail(nodeID, fmt.Errorf("node %s not found", nodeID))
		return
	}

	outs := e.store.Snapshot()

	ok, err := e.applier.ShouldApply(ctx, node, outs)
	if err != nil {
		state.Fail(nodeID, fmt.Errorf("guard evaluation failed: %w", err))
		return
	}
	if !ok {
		if err := state.SetState(nodeID, NodeStateSkipped); err == nil {
			e.logger.Info("node skipped by guard", zap.String("node", nodeID))
		}
		return
	}

	if err := state.SetState(nodeID, NodeStateApplying); err != nil {
		state.Fail(nodeID, err)
		return
	}
	e.logger.Debug("applying node", zap.String("node", nodeID))

	var lastErr error
	for attempt := 0; attempt < e.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.backoff(attempt - 1)
			e.logger.Info("retrying node after transient error",
				zap.String("node", nodeID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				state.Fail(nodeID, fmt.Errorf("canceled while awaiting retry: %w", lastErr))
				return
			case <-time.After(delay):
			}
			state.IncrementRetry(nodeID)
		}

		// The call itself is shielded from cancellation so an in-flight
		// provider operation completes and its outcome is recorded.
		values, err := e.applier.Apply(context.WithoutCancel(ctx), node, outs)
		if err == nil {
			if err := e.store.Record(nodeID, values); err != nil {
				state.Fail(nodeID, err)
				return
			}
			if err := state.SetState(nodeID, NodeStateApplied); err != nil {
				state.Fail(nodeID, err)
				return
			}
			e.logger.Info("node applied",
				zap.String("node", nodeID),
				zap.Int("retries", attempt))
			return
		}

		lastErr = err
		if !provider.IsTransient(err) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	state.Fail(nodeID, lastErr)
	e.logger.Error("node failed", zap.String("node", nodeID), zap.Error(lastErr))
}

// backoff computes the exponential backoff for a retry attempt.
func (e *Executor) backoff(retry int) time.Duration {
	base := e.config.RetryBackoffBase
	if base <= 0 {
		base = time.Second
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(retry)))
	if e.config.RetryBackoffMax > 0 && d > e.config.RetryBackoffMax {
		d = e.config.RetryBackoffMax
	}
	return d
}
