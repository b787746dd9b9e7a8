// Package eval resolves declaration expressions against parameters and
// the outputs of already-applied nodes. Evaluation is referentially
// transparent: the same expression, parameters and outputs always
// produce the same value, and nothing here has side effects.
package eval

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/bollard-dev/bollard/pkg/declaration"
)

// Outputs maps node IDs to their recorded output values.
type Outputs map[string]map[string]cty.Value

// UnresolvedReferenceError reports an expression referencing a node
// whose outputs are not yet recorded. Given a correct apply order this
// is unreachable; it exists as a defensive check, not a recoverable
// path.
type UnresolvedReferenceError struct {
	NodeID string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("reference to %s cannot be resolved: outputs not yet recorded", e.NodeID)
}

// Evaluator resolves expressions for one declaration.
type Evaluator struct {
	params cty.Value
	funcs  map[string]function.Function
}

// New creates an evaluator bound to the declaration's parameters.
func New(params declaration.Parameters) *Evaluator {
	return &Evaluator{
		params: cty.ObjectVal(map[string]cty.Value{
			"location":       cty.StringVal(params.Location),
			"name_prefix":    cty.StringVal(params.NamePrefix),
			"unique_suffix":  cty.StringVal(params.UniqueSuffix),
			"principal_id":   cty.StringVal(params.PrincipalID),
			"principal_type": cty.StringVal(params.PrincipalType),
		}),
		funcs: Functions(),
	}
}

// Config evaluates a resource configuration expression to a plain
// option-to-value mapping.
func (e *Evaluator) Config(expr hcl.Expression, outs Outputs) (map[string]any, error) {
	val, err := e.value(expr, outs)
	if err != nil {
		return nil, err
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, fmt.Errorf("config must evaluate to an object")
	}

	config := make(map[string]any, val.LengthInt())
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		config[k.AsString()] = ctyToGo(v)
	}
	return config, nil
}

// String evaluates an expression to a string.
func (e *Evaluator) String(expr hcl.Expression, outs Outputs) (string, error) {
	val, err := e.value(expr, outs)
	if err != nil {
		return "", err
	}
	val, convErr := convert.Convert(val, cty.String)
	if convErr != nil {
		return "", fmt.Errorf("expected a string value: %w", convErr)
	}
	if val.IsNull() {
		return "", fmt.Errorf("expression produced a null value")
	}
	return val.AsString(), nil
}

// Bool evaluates a guard expression. A nil expression means the guard
// is absent and the node always applies.
func (e *Evaluator) Bool(expr hcl.Expression, outs Outputs) (bool, error) {
	if expr == nil {
		return true, nil
	}
	val, err := e.value(expr, outs)
	if err != nil {
		return false, err
	}
	val, convErr := convert.Convert(val, cty.Bool)
	if convErr != nil {
		return false, fmt.Errorf("guard must evaluate to a boolean: %w", convErr)
	}
	if val.IsNull() {
		return false, fmt.Errorf("guard produced a null value")
	}
	return val.True(), nil
}

// Value evaluates an output expression to a plain Go value.
func (e *Evaluator) Value(expr hcl.Expression, outs Outputs) (any, error) {
	val, err := e.value(expr, outs)
	if err != nil {
		return nil, err
	}
	return ctyToGo(val), nil
}

func (e *Evaluator) value(expr hcl.Expression, outs Outputs) (cty.Value, error) {
	if err := e.checkResolved(expr, outs); err != nil {
		return cty.NilVal, err
	}

	val, diags := expr.Value(e.context(outs))
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("expression evaluation failed: %w", diags)
	}
	return val, nil
}

// checkResolved verifies that every node the expression references has
// recorded outputs before evaluation is attempted.
func (e *Evaluator) checkResolved(expr hcl.Expression, outs Outputs) error {
	for _, traversal := range expr.Variables() {
		id, ok := declaration.NodeIDForTraversal(traversal)
		if !ok {
			continue
		}
		if _, found := outs[id]; !found {
			return &UnresolvedReferenceError{NodeID: id}
		}
	}
	return nil
}

// context builds the HCL evaluation context: the param object plus a
// resource.<type>.<name> tree of recorded outputs.
func (e *Evaluator) context(outs Outputs) *hcl.EvalContext {
	byType := make(map[string]map[string]cty.Value)
	for id, values := range outs {
		typ, name, ok := splitResourceID(id)
		if !ok {
			continue
		}
		if byType[typ] == nil {
			byType[typ] = make(map[string]cty.Value)
		}
		if len(values) == 0 {
			byType[typ][name] = cty.EmptyObjectVal
		} else {
			byType[typ][name] = cty.ObjectVal(values)
		}
	}

	resources := make(map[string]cty.Value, len(byType))
	for typ, names := range byType {
		resources[typ] = cty.ObjectVal(names)
	}

	resourceVal := cty.EmptyObjectVal
	if len(resources) > 0 {
		resourceVal = cty.ObjectVal(resources)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"param":    e.params,
			"resource": resourceVal,
		},
		Functions: e.funcs,
	}
}

// splitResourceID splits a resource.<type>.<name> node ID. Grant nodes
// expose no referenceable outputs and are excluded from the context.
func splitResourceID(id string) (typ, name string, ok bool) {
	parts := strings.SplitN(id, ".", 3)
	if len(parts) != 3 || parts[0] != "resource" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
