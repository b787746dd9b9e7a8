// Package graph builds the executable dependency DAG from a
// declaration and applies it with dependency-aware parallel execution.
// It covers DAG construction from explicit and implicit references,
// the node lifecycle state machine, the append-only output store and
// the wave executor.
package graph
