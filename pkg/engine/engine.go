// Package engine ties the pieces together: it builds the dependency
// graph from a parsed declaration, evaluates each node's expressions
// as its turn comes, and drives the provider through the executor.
package engine

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bollard-dev/bollard/pkg/binding"
	"github.com/bollard-dev/bollard/pkg/declaration"
	"github.com/bollard-dev/bollard/pkg/eval"
	"github.com/bollard-dev/bollard/pkg/graph"
	"github.com/bollard-dev/bollard/pkg/provider"
)

// Options configures an Engine.
type Options struct {
	// Executor overrides the executor configuration; the zero value
	// uses graph.DefaultExecutorConfig
	Executor graph.ExecutorConfig

	Logger *zap.Logger
}

// Engine applies declarations against a provider.
type Engine struct {
	provider provider.Provider
	resolver *binding.Resolver
	config   graph.ExecutorConfig
	logger   *zap.Logger
}

// New creates an engine backed by the given provider.
func New(p provider.Provider, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	config := opts.Executor
	if config.MaxConcurrency == 0 && config.MaxAttempts == 0 {
		config = graph.DefaultExecutorConfig()
	}
	return &Engine{
		provider: p,
		resolver: binding.NewResolver(p, logger),
		config:   config,
		logger:   logger,
	}
}

// Apply provisions every resource and ensures every grant in the
// declaration. It always returns a report describing the terminal
// state of every node; the error is non-nil when any node failed or
// the run was interrupted.
func (e *Engine) Apply(ctx context.Context, decl *declaration.Declaration) (*Report, error) {
	if err := decl.Validate(); err != nil {
		return nil, err
	}
	if err := binding.ValidateRoles(decl); err != nil {
		return nil, err
	}

	dag, err := graph.BuildDAG(decl)
	if err != nil {
		return nil, err
	}

	e.logger.Info("applying declaration",
		zap.Int("nodes", dag.Size()),
		zap.String("renderHash", decl.RenderHash()))

	store := graph.NewOutputStore()
	applier := &nodeApplier{
		evaluator: eval.New(decl.Params),
		provider:  e.provider,
		resolver:  e.resolver,
		params:    decl.Params,
	}

	executor := graph.NewExecutor(applier, store, e.logger, e.config)
	state, execErr := executor.Execute(ctx, dag)

	report := buildReport(decl, dag, state, store, applier.evaluator)

	if execErr != nil {
		return report, fmt.Errorf("apply interrupted: %w", execErr)
	}
	if state.HasFailures() {
		return report, applyError(state)
	}
	return report, nil
}

// Plan validates the declaration and returns the node IDs in the order
// they would be applied, without calling the provider.
func (e *Engine) Plan(decl *declaration.Declaration) ([]string, error) {
	if err := decl.Validate(); err != nil {
		return nil, err
	}
	if err := binding.ValidateRoles(decl); err != nil {
		return nil, err
	}
	dag, err := graph.BuildDAG(decl)
	if err != nil {
		return nil, err
	}
	return dag.Order(), nil
}

// applyError aggregates the failure reasons of every Failed node.
func applyError(state *graph.ExecutionState) error {
	var errs error
	for id, status := range state.AllStatuses() {
		if status.State == graph.NodeStateFailed {
			errs = multierr.Append(errs, fmt.Errorf("%s: %s", id, status.Error))
		}
	}
	return fmt.Errorf("apply completed with failures: %w", errs)
}

// nodeApplier evaluates a node's deferred expressions against the
// outputs accumulated so far and performs its provider call.
type nodeApplier struct {
	evaluator *eval.Evaluator
	provider  provider.Provider
	resolver  *binding.Resolver
	params    declaration.Parameters
}

var _ graph.Applier = (*nodeApplier)(nil)

func (a *nodeApplier) ShouldApply(ctx context.Context, node *graph.Node, outs eval.Outputs) (bool, error) {
	return a.evaluator.Bool(nodeWhen(node), outs)
}

func (a *nodeApplier) Apply(ctx context.Context, node *graph.Node, outs eval.Outputs) (map[string]cty.Value, error) {
	switch node.Kind {
	case graph.KindResource:
		return a.applyResource(ctx, node.Resource, outs)
	case graph.KindGrant:
		return a.applyGrant(ctx, node.Grant, outs)
	default:
		return nil, fmt.Errorf("node %s: unknown kind %q", node.ID, node.Kind)
	}
}

func (a *nodeApplier) applyResource(ctx context.Context, spec *declaration.ResourceSpec, outs eval.Outputs) (map[string]cty.Value, error) {
	config, err := a.evaluator.Config(spec.Config, outs)
	if err != nil {
		return nil, fmt.Errorf("resource %s.%s: evaluating config: %w", spec.Type, spec.Name, err)
	}
	if spec.Identity != declaration.IdentityNone {
		config["identity"] = spec.Identity
	}
	if _, ok := config["location"]; !ok && a.params.Location != "" {
		config["location"] = a.params.Location
	}

	ref := provider.ResourceRef{Type: spec.Type, Name: spec.Name}
	result, err := a.provider.ApplyResource(ctx, ref, config)
	if err != nil {
		return nil, err
	}

	values := make(map[string]cty.Value, len(result))
	for key, value := range result {
		values[key] = eval.GoToCty(value)
	}
	return values, nil
}

func (a *nodeApplier) applyGrant(ctx context.Context, spec *declaration.GrantSpec, outs eval.Outputs) (map[string]cty.Value, error) {
	principal, err := a.evaluator.String(spec.Principal, outs)
	if err != nil {
		return nil, fmt.Errorf("grant %s: evaluating principal: %w", spec.Name, err)
	}

	principalType := string(declaration.PrincipalTypeServicePrincipal)
	if spec.PrincipalType != nil {
		principalType, err = a.evaluator.String(spec.PrincipalType, outs)
		if err != nil {
			return nil, fmt.Errorf("grant %s: evaluating principal_type: %w", spec.Name, err)
		}
	}

	scopeID, err := a.scopeID(spec, outs)
	if err != nil {
		return nil, err
	}

	assignment, err := a.resolver.Resolve(spec.Name, principal, principalType, spec.Role, scopeID)
	if err != nil {
		return nil, err
	}
	status, err := a.resolver.Ensure(ctx, assignment)
	if err != nil {
		return nil, err
	}

	return map[string]cty.Value{
		"id":     cty.StringVal(assignment.ID),
		"status": cty.StringVal(string(status)),
	}, nil
}

// scopeID accepts either a resource reference, whose outputs object
// carries the identifier under "id", or a plain identifier string.
func (a *nodeApplier) scopeID(spec *declaration.GrantSpec, outs eval.Outputs) (string, error) {
	value, err := a.evaluator.Value(spec.Scope, outs)
	if err != nil {
		return "", fmt.Errorf("grant %s: evaluating scope: %w", spec.Name, err)
	}
	switch scope := value.(type) {
	case string:
		return scope, nil
	case map[string]any:
		if id, ok := scope["id"].(string); ok {
			return id, nil
		}
		return "", fmt.Errorf("grant %s: scope object has no id", spec.Name)
	default:
		return "", fmt.Errorf("grant %s: scope must be a resource reference or identifier", spec.Name)
	}
}

func nodeWhen(node *graph.Node) hcl.Expression {
	switch node.Kind {
	case graph.KindResource:
		return node.Resource.When
	case graph.KindGrant:
		return node.Grant.When
	}
	return nil
}
