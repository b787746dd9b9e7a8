package declaration

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

var rootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "params"},
		{Type: "resource", LabelNames: []string{"type", "name"}},
		{Type: "grant", LabelNames: []string{"name"}},
		{Type: "output", LabelNames: []string{"name"}},
	},
}

var resourceSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "config", Required: true},
		{Name: "identity"},
		{Name: "depends_on"},
		{Name: "when"},
	},
}

var grantSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "principal", Required: true},
		{Name: "principal_type", Required: true},
		{Name: "role", Required: true},
		{Name: "scope", Required: true},
		{Name: "when"},
	},
}

var outputSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "value", Required: true},
	},
}

// Parse parses declaration source into an immutable Declaration.
// Non-empty fields in overrides take precedence over the defaults in
// the file's params block. Expression slots (resource config, grant
// principal/scope, guards, outputs) are kept unevaluated; they are
// resolved at apply time against predecessor outputs.
func Parse(filename string, src []byte, overrides Parameters) (*Declaration, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, diags)
	}

	content, diags := file.Body.Content(rootSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid declaration %s: %w", filename, diags)
	}

	decl := &Declaration{}

	order := 0
	for _, block := range content.Blocks {
		switch block.Type {
		case "params":
			if err := parseParams(block, &decl.Params); err != nil {
				return nil, err
			}
		case "resource":
			spec, err := parseResource(block, order)
			if err != nil {
				return nil, err
			}
			decl.Resources = append(decl.Resources, *spec)
			order++
		case "grant":
			spec, err := parseGrant(block, order)
			if err != nil {
				return nil, err
			}
			decl.Grants = append(decl.Grants, *spec)
			order++
		case "output":
			attrs, diags := block.Body.Content(outputSchema)
			if diags.HasErrors() {
				return nil, fmt.Errorf("output %q: %w", block.Labels[0], diags)
			}
			decl.Outputs = append(decl.Outputs, OutputSpec{
				Name:      block.Labels[0],
				Value:     attrs.Attributes["value"].Expr,
				DeclRange: block.DefRange,
			})
		}
	}

	mergeOverrides(&decl.Params, overrides)
	decl.renderHash = computeRenderHash(src, decl.Params)

	if err := decl.Validate(); err != nil {
		return nil, err
	}
	return decl, nil
}

// ParseFile reads and parses a declaration file from disk.
func ParseFile(path string, overrides Parameters) (*Declaration, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read declaration: %w", err)
	}
	return Parse(path, src, overrides)
}

// parseParams decodes the params block. Parameter defaults must be
// literal values; everything dynamic belongs in expressions that
// reference param.<name>.
func parseParams(block *hcl.Block, params *Parameters) error {
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return fmt.Errorf("params block: %w", diags)
	}

	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return fmt.Errorf("params.%s must be a literal value: %w", name, diags)
		}
		if val.Type() != cty.String {
			return fmt.Errorf("params.%s must be a string", name)
		}
		s := val.AsString()

		switch name {
		case "location":
			params.Location = s
		case "name_prefix":
			params.NamePrefix = s
		case "unique_suffix":
			params.UniqueSuffix = s
		case "principal_id":
			params.PrincipalID = s
		case "principal_type":
			params.PrincipalType = s
		default:
			return fmt.Errorf("params block: unknown parameter %q", name)
		}
	}
	return nil
}

func parseResource(block *hcl.Block, order int) (*ResourceSpec, error) {
	typ, name := block.Labels[0], block.Labels[1]

	attrs, diags := block.Body.Content(resourceSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("resource %s.%s: %w", typ, name, diags)
	}

	spec := &ResourceSpec{
		Type:      typ,
		Name:      name,
		Config:    attrs.Attributes["config"].Expr,
		Order:     order,
		DeclRange: block.DefRange,
	}

	if attr, ok := attrs.Attributes["identity"]; ok {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() || val.Type() != cty.String {
			return nil, fmt.Errorf("resource %s.%s: identity must be a literal string", typ, name)
		}
		identity := val.AsString()
		if identity != IdentityNone && identity != IdentitySystemAssigned {
			return nil, fmt.Errorf("resource %s.%s: unsupported identity mode %q", typ, name, identity)
		}
		spec.Identity = identity
	}

	if attr, ok := attrs.Attributes["depends_on"]; ok {
		deps, err := parseDependsOn(attr.Expr)
		if err != nil {
			return nil, fmt.Errorf("resource %s.%s: %w", typ, name, err)
		}
		spec.DependsOn = deps
	}

	if attr, ok := attrs.Attributes["when"]; ok {
		spec.When = attr.Expr
	}

	return spec, nil
}

func parseGrant(block *hcl.Block, order int) (*GrantSpec, error) {
	name := block.Labels[0]

	attrs, diags := block.Body.Content(grantSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("grant %q: %w", name, diags)
	}

	roleVal, diags := attrs.Attributes["role"].Expr.Value(nil)
	if diags.HasErrors() || roleVal.Type() != cty.String {
		return nil, fmt.Errorf("grant %q: role must be a literal string", name)
	}

	spec := &GrantSpec{
		Name:          name,
		Principal:     attrs.Attributes["principal"].Expr,
		PrincipalType: attrs.Attributes["principal_type"].Expr,
		Role:          roleVal.AsString(),
		Scope:         attrs.Attributes["scope"].Expr,
		Order:         order,
		DeclRange:     block.DefRange,
	}

	if attr, ok := attrs.Attributes["when"]; ok {
		spec.When = attr.Expr
	}

	return spec, nil
}

// parseDependsOn extracts node IDs from a depends_on list. Each element
// must be a bare resource.<type>.<name> reference.
func parseDependsOn(expr hcl.Expression) ([]string, error) {
	items, diags := hcl.ExprList(expr)
	if diags.HasErrors() {
		return nil, fmt.Errorf("depends_on must be a list of resource references")
	}

	var deps []string
	for _, item := range items {
		traversal, diags := hcl.AbsTraversalForExpr(item)
		if diags.HasErrors() {
			return nil, fmt.Errorf("depends_on entries must be bare resource references")
		}
		id, ok := NodeIDForTraversal(traversal)
		if !ok {
			return nil, fmt.Errorf("depends_on entries must reference resource.<type>.<name>")
		}
		deps = append(deps, id)
	}
	return deps, nil
}

// NodeIDForTraversal maps a resource.<type>.<name>[...] traversal to the
// node ID it references. Used both for explicit depends_on entries and
// for implicit dependency discovery from expression variables.
func NodeIDForTraversal(traversal hcl.Traversal) (string, bool) {
	if len(traversal) < 3 || traversal.RootName() != "resource" {
		return "", false
	}
	typAttr, typOK := traversal[1].(hcl.TraverseAttr)
	nameAttr, nameOK := traversal[2].(hcl.TraverseAttr)
	if !typOK || !nameOK {
		return "", false
	}
	return fmt.Sprintf("resource.%s.%s", typAttr.Name, nameAttr.Name), true
}

func mergeOverrides(params *Parameters, overrides Parameters) {
	if overrides.Location != "" {
		params.Location = overrides.Location
	}
	if overrides.NamePrefix != "" {
		params.NamePrefix = overrides.NamePrefix
	}
	if overrides.UniqueSuffix != "" {
		params.UniqueSuffix = overrides.UniqueSuffix
	}
	if overrides.PrincipalID != "" {
		params.PrincipalID = overrides.PrincipalID
	}
	if overrides.PrincipalType != "" {
		params.PrincipalType = overrides.PrincipalType
	}
}
