package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bollard-dev/bollard/pkg/declaration"
	"github.com/bollard-dev/bollard/pkg/eval"
	"github.com/bollard-dev/bollard/pkg/graph"
)

// NodeReport is the terminal state of one node after a run.
type NodeReport struct {
	ID       string          `json:"id"`
	State    graph.NodeState `json:"state"`
	Error    string          `json:"error,omitempty"`
	Retries  int             `json:"retries,omitempty"`
	Duration time.Duration   `json:"duration,omitempty"`
}

// Report is the full outcome of an apply run. Outputs are only
// populated when every node reached Applied or Skipped; a partial run
// never publishes outputs.
type Report struct {
	RenderHash string         `json:"renderHash"`
	Nodes      []NodeReport   `json:"nodes"`
	Summary    graph.Summary  `json:"summary"`
	Outputs    map[string]any `json:"outputs,omitempty"`

	// OutputErrors records outputs that could not be evaluated on an
	// otherwise successful run, e.g. references into a skipped branch
	OutputErrors map[string]string `json:"outputErrors,omitempty"`
}

// Succeeded reports whether every node reached Applied or Skipped.
func (r *Report) Succeeded() bool {
	return r.Summary.Failed == 0 && r.Summary.Blocked == 0 &&
		r.Summary.Pending == 0 && r.Summary.Applying == 0
}

// JSON renders the report as indented JSON.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Text renders a human-readable summary, one line per node in apply
// order, followed by the published outputs.
func (r *Report) Text() string {
	var b strings.Builder
	for _, node := range r.Nodes {
		fmt.Fprintf(&b, "%-10s %s", node.State, node.ID)
		if node.Retries > 0 {
			fmt.Fprintf(&b, " (retries: %d)", node.Retries)
		}
		if node.Error != "" {
			fmt.Fprintf(&b, ": %s", node.Error)
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "\napplied %d, skipped %d, failed %d, blocked %d of %d nodes\n",
		r.Summary.Applied, r.Summary.Skipped, r.Summary.Failed, r.Summary.Blocked, r.Summary.Total)

	if len(r.Outputs) > 0 {
		b.WriteString("\noutputs:\n")
		names := make([]string, 0, len(r.Outputs))
		for name := range r.Outputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %s = %v\n", name, r.Outputs[name])
		}
	}
	return b.String()
}

func buildReport(decl *declaration.Declaration, dag *graph.DAG, state *graph.ExecutionState, store *graph.OutputStore, evaluator *eval.Evaluator) *Report {
	report := &Report{
		RenderHash: decl.RenderHash(),
		Summary:    state.Summarize(),
	}

	for _, nodeID := range dag.Order() {
		status, err := state.Status(nodeID)
		if err != nil {
			continue
		}
		node := NodeReport{
			ID:      nodeID,
			State:   status.State,
			Error:   status.Error,
			Retries: status.RetryCount,
		}
		if status.StartTime != nil && status.EndTime != nil {
			node.Duration = status.EndTime.Sub(*status.StartTime)
		}
		report.Nodes = append(report.Nodes, node)
	}

	if report.Succeeded() {
		report.Outputs, report.OutputErrors = evaluateOutputs(decl, store, evaluator)
	}
	return report
}

// evaluateOutputs resolves every output expression against the final
// output store. An output referencing a node that was skipped is
// reported in OutputErrors rather than failing the run.
func evaluateOutputs(decl *declaration.Declaration, store *graph.OutputStore, evaluator *eval.Evaluator) (map[string]any, map[string]string) {
	if len(decl.Outputs) == 0 {
		return nil, nil
	}
	outs := store.Snapshot()
	values := make(map[string]any)
	var failures map[string]string

	for i := range decl.Outputs {
		spec := &decl.Outputs[i]
		value, err := evaluator.Value(spec.Value, outs)
		if err != nil {
			if failures == nil {
				failures = make(map[string]string)
			}
			var unresolved *eval.UnresolvedReferenceError
			if errors.As(err, &unresolved) {
				failures[spec.Name] = fmt.Sprintf("references %s, which was not applied", unresolved.NodeID)
			} else {
				failures[spec.Name] = err.Error()
			}
			continue
		}
		values[spec.Name] = value
	}
	return values, failures
}
