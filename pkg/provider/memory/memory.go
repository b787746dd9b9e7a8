// Package memory implements an in-memory Provider that synthesizes
// plausible outputs per resource type. It backs simulated runs and the
// test suite: calls are recorded, failures can be scripted, and the
// idempotency contract matches a real provider (re-applying converges,
// an existing role assignment reports already-exists).
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/bollard-dev/bollard/pkg/declaration"
	"github.com/bollard-dev/bollard/pkg/provider"
)

const (
	subscriptionID = "00000000-0000-0000-0000-000000000000"
	resourceGroup  = "simulated"
)

// identityNamespace seeds deterministic principal IDs for simulated
// managed identities.
var identityNamespace = uuid.MustParse("9c2d7a84-33fe-47c5-9e06-7f2b1d5c8a40")

// Call records one provider invocation.
type Call struct {
	// Op is "apply" or "ensure"
	Op string

	// Target is the resource ref or assignment ID
	Target string
}

// Provider is the in-memory provider implementation.
type Provider struct {
	mu          sync.Mutex
	resources   map[string]provider.Outputs
	assignments map[string]provider.Assignment
	failures    map[string]error
	calls       []Call
}

// New creates an empty in-memory provider.
func New() *Provider {
	return &Provider{
		resources:   make(map[string]provider.Outputs),
		assignments: make(map[string]provider.Assignment),
		failures:    make(map[string]error),
	}
}

// FailWith scripts a failure for a target: a resource ref string
// ("type/name") or an assignment ID. Every call against the target
// returns err until cleared.
func (p *Provider) FailWith(target string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[target] = err
}

// ClearFailure removes a scripted failure.
func (p *Provider) ClearFailure(target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failures, target)
}

// ApplyResource synthesizes outputs for the resource. Applying the
// same resource again yields identical outputs.
func (p *Provider) ApplyResource(ctx context.Context, ref provider.ResourceRef, config map[string]any) (provider.Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, provider.NewTransient("Canceled", "apply aborted", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, Call{Op: "apply", Target: ref.String()})
	if err := p.failures[ref.String()]; err != nil {
		return nil, err
	}

	outputs := synthesize(ref, config)
	p.resources[ref.String()] = outputs
	return outputs, nil
}

// EnsureRoleAssignment records the assignment, reporting already-exists
// when an assignment with the same ID is in place.
func (p *Provider) EnsureRoleAssignment(ctx context.Context, a provider.Assignment) (provider.AssignmentStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", provider.NewTransient("Canceled", "ensure aborted", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, Call{Op: "ensure", Target: a.ID})
	if err := p.failures[a.ID]; err != nil {
		return "", err
	}

	if _, exists := p.assignments[a.ID]; exists {
		return provider.StatusAlreadyExists, nil
	}
	p.assignments[a.ID] = a
	return provider.StatusCreated, nil
}

// Applied reports whether a resource was applied.
func (p *Provider) Applied(ref provider.ResourceRef) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, found := p.resources[ref.String()]
	return found
}

// Assignments returns a copy of all recorded assignments.
func (p *Provider) Assignments() map[string]provider.Assignment {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]provider.Assignment, len(p.assignments))
	for id, a := range p.assignments {
		out[id] = a
	}
	return out
}

// Calls returns a copy of the call log.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// synthesize produces deterministic outputs for a resource type.
func synthesize(ref provider.ResourceRef, config map[string]any) provider.Outputs {
	name := ref.Name
	if n, ok := config["name"].(string); ok && n != "" {
		name = n
	}
	location, _ := config["location"].(string)

	outputs := provider.Outputs{
		"id":   resourceID(ref.Type, name),
		"name": name,
	}

	switch ref.Type {
	case "storage_account":
		outputs["endpoint"] = fmt.Sprintf("https://%s.blob.core.windows.net/", name)
	case "search_service":
		outputs["endpoint"] = fmt.Sprintf("https://%s.search.windows.net", name)
	case "cognitive_account":
		outputs["endpoint"] = fmt.Sprintf("https://%s.openai.azure.com/", name)
	case "ai_services", "ai_project":
		outputs["endpoint"] = fmt.Sprintf("https://%s.services.ai.azure.com/", name)
	case "log_analytics_workspace":
		outputs["workspace_id"] = deterministicID("workspace", name)
	case "application_insights":
		outputs["connection_string"] = fmt.Sprintf(
			"InstrumentationKey=%s;IngestionEndpoint=https://%s.in.applicationinsights.azure.com/",
			deterministicID("appinsights", name), location)
	}

	if identity, _ := config["identity"].(string); identity == declaration.IdentitySystemAssigned {
		outputs["principal_id"] = deterministicID("identity", ref.String())
	}

	return outputs
}

func resourceID(typ, name string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Memory.Sim/%s/%s",
		subscriptionID, resourceGroup, typ, name)
}

func deterministicID(kind, seed string) string {
	return uuid.NewSHA1(identityNamespace, []byte(kind+"|"+seed)).String()
}
