package declaration

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
)

// PrincipalType identifies the kind of principal a grant applies to.
type PrincipalType string

const (
	PrincipalTypeUser             PrincipalType = "User"
	PrincipalTypeGroup            PrincipalType = "Group"
	PrincipalTypeServicePrincipal PrincipalType = "ServicePrincipal"
)

// IdentityNone and IdentitySystemAssigned are the supported managed
// identity modes for a resource. A resource carries at most one
// system-assigned identity; its principal_id output exists only after
// the resource is applied.
const (
	IdentityNone           = ""
	IdentitySystemAssigned = "SystemAssigned"
)

// Parameters are the external inputs a declaration is rendered against.
// An empty PrincipalID means no operator principal was supplied; grants
// guarded on it are skipped.
type Parameters struct {
	Location      string `json:"location"`
	NamePrefix    string `json:"namePrefix"`
	UniqueSuffix  string `json:"uniqueSuffix"`
	PrincipalID   string `json:"principalId"`
	PrincipalType string `json:"principalType"`
}

// ResourceSpec is one declared resource. Config and When are deferred
// expressions; they are evaluated during apply against the outputs of
// nodes earlier in the dependency order.
type ResourceSpec struct {
	// Type is the declaration resource type, e.g. "storage_account"
	Type string

	// Name is the declaration-local name of the resource
	Name string

	// Config is the configuration object expression
	Config hcl.Expression

	// Identity is the managed identity mode ("" or "SystemAssigned")
	Identity string

	// DependsOn lists node IDs from the explicit depends_on attribute
	DependsOn []string

	// When is an optional boolean guard; nil means always apply
	When hcl.Expression

	// Order is the position of this block in the declaration file,
	// used for deterministic tie-breaking in the apply order
	Order int

	// DeclRange locates the block for error reporting
	DeclRange hcl.Range
}

// ID returns the node ID for this resource within the graph.
func (r *ResourceSpec) ID() string {
	return fmt.Sprintf("resource.%s.%s", r.Type, r.Name)
}

// GrantSpec is one declared role grant: a (principal, role, scope)
// binding. Principal and Scope are deferred expressions so a grant can
// bind a resource's managed identity, which is only known once that
// resource is applied.
type GrantSpec struct {
	// Name is the declaration-local name of the grant
	Name string

	// Principal resolves to the principal object ID
	Principal hcl.Expression

	// PrincipalType resolves to User, Group or ServicePrincipal
	PrincipalType hcl.Expression

	// Role is the built-in role name, e.g. "search-index-data-contributor"
	Role string

	// Scope resolves to the resource the role is granted over
	Scope hcl.Expression

	// When is an optional boolean guard; nil means always apply
	When hcl.Expression

	// Order is the position of this block in the declaration file
	Order int

	// DeclRange locates the block for error reporting
	DeclRange hcl.Range
}

// ID returns the node ID for this grant within the graph.
func (g *GrantSpec) ID() string {
	return fmt.Sprintf("grant.%s", g.Name)
}

// OutputSpec is a named value published after a fully successful run.
type OutputSpec struct {
	Name      string
	Value     hcl.Expression
	DeclRange hcl.Range
}

// Declaration is the immutable parse product of one declaration file.
// It is never mutated during apply; the engine derives the plan, the
// node states and the output map as separate structures.
type Declaration struct {
	// Params are the resolved parameters (file defaults merged with
	// any overrides supplied at parse time)
	Params Parameters

	// Resources and Grants preserve declaration order via their Order
	// fields; order is global across both block kinds
	Resources []ResourceSpec
	Grants    []GrantSpec
	Outputs   []OutputSpec

	renderHash string
}

// RenderHash is a stable content hash of the declaration source and its
// resolved parameters, for change detection across runs.
func (d *Declaration) RenderHash() string {
	return d.renderHash
}

// Resource looks up a resource spec by type and name.
func (d *Declaration) Resource(typ, name string) (*ResourceSpec, bool) {
	for i := range d.Resources {
		if d.Resources[i].Type == typ && d.Resources[i].Name == name {
			return &d.Resources[i], true
		}
	}
	return nil, false
}

// NodeOrder maps node IDs to their declaration order.
func (d *Declaration) NodeOrder() map[string]int {
	order := make(map[string]int, len(d.Resources)+len(d.Grants))
	for i := range d.Resources {
		order[d.Resources[i].ID()] = d.Resources[i].Order
	}
	for i := range d.Grants {
		order[d.Grants[i].ID()] = d.Grants[i].Order
	}
	return order
}
