package declaration

import (
	"fmt"
)

// Validate checks the local integrity of the declaration. It runs
// before any provider call; every error it returns is fully local to
// the declaration file.
func (d *Declaration) Validate() error {
	if d.Params.Location == "" {
		return fmt.Errorf("params.location is required")
	}
	if d.Params.NamePrefix == "" {
		return fmt.Errorf("params.name_prefix is required")
	}
	if d.Params.PrincipalID != "" {
		switch PrincipalType(d.Params.PrincipalType) {
		case PrincipalTypeUser, PrincipalTypeGroup, PrincipalTypeServicePrincipal:
		default:
			return fmt.Errorf("params.principal_type must be User, Group or ServicePrincipal, got %q", d.Params.PrincipalType)
		}
	}

	nodeIDs := make(map[string]bool, len(d.Resources)+len(d.Grants))
	for i := range d.Resources {
		r := &d.Resources[i]
		if r.Type == "" || r.Name == "" {
			return fmt.Errorf("resource blocks require type and name labels")
		}
		if nodeIDs[r.ID()] {
			return fmt.Errorf("duplicate resource: %s", r.ID())
		}
		nodeIDs[r.ID()] = true
	}

	for i := range d.Grants {
		g := &d.Grants[i]
		if g.Name == "" {
			return fmt.Errorf("grant blocks require a name label")
		}
		if nodeIDs[g.ID()] {
			return fmt.Errorf("duplicate grant: %s", g.ID())
		}
		nodeIDs[g.ID()] = true
		if g.Role == "" {
			return fmt.Errorf("grant %q: role is required", g.Name)
		}
	}

	// depends_on targets must exist. Implicit references are checked
	// during DAG construction, where expression variables are scanned.
	for i := range d.Resources {
		for _, dep := range d.Resources[i].DependsOn {
			if !nodeIDs[dep] {
				return fmt.Errorf("%s depends on undeclared node %s", d.Resources[i].ID(), dep)
			}
		}
	}

	outputs := make(map[string]bool, len(d.Outputs))
	for i := range d.Outputs {
		name := d.Outputs[i].Name
		if outputs[name] {
			return fmt.Errorf("duplicate output: %s", name)
		}
		outputs[name] = true
		for _, traversal := range d.Outputs[i].Value.Variables() {
			id, ok := NodeIDForTraversal(traversal)
			if !ok {
				continue
			}
			if !nodeIDs[id] {
				return fmt.Errorf("output %q references undeclared node %s", name, id)
			}
		}
	}

	return nil
}
