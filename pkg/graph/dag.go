package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dominikbraun/graph"
	"github.com/hashicorp/hcl/v2"

	"github.com/bollard-dev/bollard/pkg/declaration"
)

// CycleError reports a reference cycle in the declaration, naming
// every node on the cycle. A declaration containing a cycle never
// produces a partial order.
type CycleError struct {
	// Nodes are the node IDs on the cycle, in traversal order
	Nodes []string
}

func (e *CycleError) Error() string {
	if len(e.Nodes) == 0 {
		return "cyclic dependency"
	}
	return fmt.Sprintf("cyclic dependency: %s -> %s", strings.Join(e.Nodes, " -> "), e.Nodes[0])
}

// DAG is the executable dependency graph derived from a declaration.
type DAG struct {
	graph   graph.Graph[string, string]
	nodeMap map[string]*Node
	order   []string
}

// BuildDAG derives the executable DAG from a declaration. Edges come
// from explicit depends_on lists and from implicit references found by
// scanning each node's expressions for resource.<type>.<name> variables.
// A grant whose principal is a resource's managed identity therefore
// orders after that resource, since the identity only exists once the
// resource is applied. Pure function over the declaration; fails with
// *CycleError when no valid order exists.
func BuildDAG(decl *declaration.Declaration) (*DAG, error) {
	if decl == nil {
		return nil, fmt.Errorf("declaration cannot be nil")
	}

	nodeMap := make(map[string]*Node, len(decl.Resources)+len(decl.Grants))
	for i := range decl.Resources {
		spec := &decl.Resources[i]
		nodeMap[spec.ID()] = &Node{
			ID:       spec.ID(),
			Kind:     KindResource,
			Resource: spec,
			order:    spec.Order,
		}
	}
	for i := range decl.Grants {
		spec := &decl.Grants[i]
		nodeMap[spec.ID()] = &Node{
			ID:    spec.ID(),
			Kind:  KindGrant,
			Grant: spec,
			order: spec.Order,
		}
	}

	dg := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for id := range nodeMap {
		if err := dg.AddVertex(id); err != nil {
			return nil, fmt.Errorf("failed to add node %s: %w", id, err)
		}
	}

	d := &DAG{graph: dg, nodeMap: nodeMap}

	for _, node := range nodeMap {
		deps, err := dependencyIDs(node, nodeMap)
		if err != nil {
			return nil, err
		}
		for _, depID := range deps {
			if err := d.addEdge(depID, node.ID); err != nil {
				return nil, err
			}
			node.DependsOn = append(node.DependsOn, depID)
			nodeMap[depID].DependedOnBy = append(nodeMap[depID].DependedOnBy, node.ID)
		}
	}

	// Deterministic total order: dependencies first, declaration order
	// breaking ties between unconstrained nodes.
	order, err := graph.StableTopologicalSort(dg, func(a, b string) bool {
		return nodeMap[a].order < nodeMap[b].order
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute apply order: %w", err)
	}
	d.order = order

	return d, nil
}

// dependencyIDs merges a node's explicit depends_on entries with the
// implicit references discovered in its expressions, deduplicated in
// discovery order.
func dependencyIDs(node *Node, nodeMap map[string]*Node) ([]string, error) {
	var explicit []string
	var exprs []hcl.Expression

	switch node.Kind {
	case KindResource:
		explicit = node.Resource.DependsOn
		exprs = []hcl.Expression{node.Resource.Config, node.Resource.When}
	case KindGrant:
		exprs = []hcl.Expression{
			node.Grant.Principal,
			node.Grant.PrincipalType,
			node.Grant.Scope,
			node.Grant.When,
		}
	}

	seen := make(map[string]bool)
	var deps []string

	add := func(depID string) error {
		if depID == node.ID {
			return &CycleError{Nodes: []string{node.ID}}
		}
		if _, exists := nodeMap[depID]; !exists {
			return fmt.Errorf("%s references undeclared resource %s", node.ID, depID)
		}
		if !seen[depID] {
			seen[depID] = true
			deps = append(deps, depID)
		}
		return nil
	}

	for _, depID := range explicit {
		if err := add(depID); err != nil {
			return nil, err
		}
	}

	for _, expr := range exprs {
		if expr == nil {
			continue
		}
		for _, traversal := range expr.Variables() {
			depID, ok := declaration.NodeIDForTraversal(traversal)
			if !ok {
				continue
			}
			if err := add(depID); err != nil {
				return nil, err
			}
		}
	}

	return deps, nil
}

// addEdge inserts depID -> nodeID, translating a rejected edge into a
// CycleError naming the full cycle.
func (d *DAG) addEdge(depID, nodeID string) error {
	err := d.graph.AddEdge(depID, nodeID)
	switch {
	case err == nil, errors.Is(err, graph.ErrEdgeAlreadyExists):
		return nil
	case errors.Is(err, graph.ErrEdgeCreatesCycle):
		// The rejected edge depID -> nodeID closes a cycle, so a path
		// nodeID -> ... -> depID already exists.
		cycle := d.findPath(nodeID, depID)
		if cycle == nil {
			cycle = []string{nodeID, depID}
		}
		return &CycleError{Nodes: cycle}
	default:
		return fmt.Errorf("failed to add edge %s -> %s: %w", depID, nodeID, err)
	}
}

// findPath returns the node IDs on a path from start to goal over the
// existing edges, or nil if no path exists.
func (d *DAG) findPath(start, goal string) []string {
	adjacency, err := d.graph.AdjacencyMap()
	if err != nil {
		return nil
	}

	prev := map[string]string{start: ""}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == goal {
			var path []string
			for at := goal; at != ""; at = prev[at] {
				path = append([]string{at}, path...)
				if at == start {
					break
				}
			}
			return path
		}
		for next := range adjacency[current] {
			if _, visited := prev[next]; !visited {
				prev[next] = current
				queue = append(queue, next)
			}
		}
	}
	return nil
}

// Node retrieves a node by ID.
func (d *DAG) Node(id string) (*Node, bool) {
	node, found := d.nodeMap[id]
	return node, found
}

// Order returns the topologically sorted node IDs. Every node appears
// after all of its dependencies.
func (d *DAG) Order() []string {
	return d.order
}

// Size returns the number of nodes in the DAG.
func (d *DAG) Size() int {
	return len(d.nodeMap)
}

// Dependencies returns the merged dependency IDs of the given node.
func (d *DAG) Dependencies(id string) ([]string, error) {
	node, found := d.nodeMap[id]
	if !found {
		return nil, fmt.Errorf("node %s not found", id)
	}
	return node.DependsOn, nil
}

// Dependents returns the IDs of nodes that depend on the given node.
func (d *DAG) Dependents(id string) ([]string, error) {
	node, found := d.nodeMap[id]
	if !found {
		return nil, fmt.Errorf("node %s not found", id)
	}
	return node.DependedOnBy, nil
}
