package graph

import (
	"github.com/bollard-dev/bollard/pkg/declaration"
)

// NodeKind distinguishes resource nodes from grant nodes.
type NodeKind string

const (
	// KindResource is a provisioned resource
	KindResource NodeKind = "resource"

	// KindGrant is a role assignment
	KindGrant NodeKind = "grant"
)

// Node is one schedulable unit in the DAG: a resource to provision or
// a role grant to ensure. Exactly one of Resource and Grant is set.
type Node struct {
	// ID is the unique node identifier within the graph
	ID string

	// Kind is the node kind
	Kind NodeKind

	// Resource is the declaration spec for resource nodes
	Resource *declaration.ResourceSpec

	// Grant is the declaration spec for grant nodes
	Grant *declaration.GrantSpec

	// DependsOn lists the IDs of nodes that must be applied first.
	// Merged from explicit depends_on entries and implicit references
	// discovered in the node's expressions, deduplicated.
	DependsOn []string

	// DependedOnBy lists the IDs of nodes that depend on this node
	DependedOnBy []string

	// order is the declaration position, used for tie-breaking
	order int
}
