// Package arm provisions resources and role assignments through the
// Azure Resource Manager REST API.
package arm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.uber.org/zap"

	"github.com/bollard-dev/bollard/pkg/provider"
)

const (
	managementEndpoint = "https://management.azure.com"
	tokenScope         = "https://management.azure.com/.default"

	roleAssignmentAPIVersion = "2022-04-01"

	pollInterval = 5 * time.Second
	pollTimeout  = 30 * time.Minute
)

// Options configures the ARM provider.
type Options struct {
	SubscriptionID string
	ResourceGroup  string

	// Credential overrides the default credential chain. Nil uses
	// azidentity.NewDefaultAzureCredential.
	Credential azcore.TokenCredential

	// Transport overrides the HTTP transport, for tests.
	Transport policy.Transporter

	Logger *zap.Logger
}

// Provider applies resources and role assignments against a single
// subscription and resource group.
type Provider struct {
	subscriptionID string
	resourceGroup  string
	pipeline       runtime.Pipeline
	logger         *zap.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New builds an ARM provider. SubscriptionID and ResourceGroup are
// required.
func New(opts Options) (*Provider, error) {
	if opts.SubscriptionID == "" {
		return nil, fmt.Errorf("arm: subscription id is required")
	}
	if opts.ResourceGroup == "" {
		return nil, fmt.Errorf("arm: resource group is required")
	}

	cred := opts.Credential
	if cred == nil {
		var err error
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("arm: acquiring credential: %w", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOpts := &policy.ClientOptions{}
	if opts.Transport != nil {
		clientOpts.Transport = opts.Transport
	}
	pipeline := runtime.NewPipeline("bollard", "dev", runtime.PipelineOptions{
		PerRetry: []policy.Policy{
			runtime.NewBearerTokenPolicy(cred, []string{tokenScope}, nil),
		},
	}, clientOpts)

	return &Provider{
		subscriptionID: opts.SubscriptionID,
		resourceGroup:  opts.ResourceGroup,
		pipeline:       pipeline,
		logger:         logger,
	}, nil
}

// ApplyResource issues a PUT for the resource and polls until its
// provisioning state is terminal.
func (p *Provider) ApplyResource(ctx context.Context, ref provider.ResourceRef, config map[string]any) (provider.Outputs, error) {
	rt, ok := resourceTypes[ref.Type]
	if !ok {
		return nil, provider.NewPermanent("UnknownResourceType",
			fmt.Sprintf("no resource manager mapping for type %q", ref.Type), nil)
	}

	name, _ := config["name"].(string)
	if name == "" {
		name = ref.Name
	}

	resourceURL, err := p.resourceURL(rt, name, config)
	if err != nil {
		return nil, provider.NewPermanent("InvalidResourceConfig", err.Error(), err)
	}

	build := rt.buildBody
	if build == nil {
		build = genericBody
	}
	body := build(config)

	p.logger.Info("applying resource",
		zap.String("type", ref.Type),
		zap.String("name", name))

	respBody, err := p.put(ctx, resourceURL, rt.apiVersion, body)
	if err != nil {
		return nil, translateError(err)
	}

	respBody, err = p.pollProvisioning(ctx, resourceURL, rt.apiVersion, respBody)
	if err != nil {
		return nil, err
	}

	return extractOutputs(rt, name, respBody), nil
}

// EnsureRoleAssignment PUTs the assignment at its scope under its
// deterministic name. An existing assignment with the same name is
// reported as already present rather than an error.
func (p *Provider) EnsureRoleAssignment(ctx context.Context, a provider.Assignment) (provider.AssignmentStatus, error) {
	assignmentURL := fmt.Sprintf("%s%s/providers/Microsoft.Authorization/roleAssignments/%s",
		managementEndpoint, a.ScopeID, url.PathEscape(a.ID))

	roleDefinitionID := fmt.Sprintf("/subscriptions/%s/providers/Microsoft.Authorization/roleDefinitions/%s",
		p.subscriptionID, a.RoleDefinitionID)

	body := map[string]any{
		"properties": map[string]any{
			"roleDefinitionId": roleDefinitionID,
			"principalId":      a.PrincipalID,
			"principalType":    a.PrincipalType,
		},
	}

	p.logger.Info("ensuring role assignment",
		zap.String("assignment", a.ID),
		zap.String("scope", a.ScopeID))

	_, err := p.put(ctx, assignmentURL, roleAssignmentAPIVersion, body)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict &&
			respErr.ErrorCode == "RoleAssignmentExists" {
			return provider.StatusAlreadyExists, nil
		}
		return "", translateError(err)
	}
	return provider.StatusCreated, nil
}

func (p *Provider) resourceURL(rt resourceType, name string, config map[string]any) (string, error) {
	base := fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/%s",
		managementEndpoint, p.subscriptionID, p.resourceGroup, rt.path)
	if rt.parentKey == "" {
		return base + "/" + url.PathEscape(name), nil
	}
	parent, _ := config[rt.parentKey].(string)
	if parent == "" {
		return "", fmt.Errorf("config key %q is required for child resources", rt.parentKey)
	}
	return fmt.Sprintf("%s/%s/%s/%s",
		base, url.PathEscape(parent), rt.childPath, url.PathEscape(name)), nil
}

func (p *Provider) put(ctx context.Context, rawURL, apiVersion string, body any) (map[string]any, error) {
	req, err := runtime.NewRequest(ctx, http.MethodPut, rawURL+"?api-version="+apiVersion)
	if err != nil {
		return nil, err
	}
	if err := runtime.MarshalAsJSON(req, body); err != nil {
		return nil, err
	}
	resp, err := p.pipeline.Do(req)
	if err != nil {
		return nil, err
	}
	if !runtime.HasStatusCode(resp, http.StatusOK, http.StatusCreated, http.StatusAccepted) {
		return nil, runtime.NewResponseError(resp)
	}
	return decodeBody(resp)
}

func (p *Provider) get(ctx context.Context, rawURL, apiVersion string) (map[string]any, error) {
	req, err := runtime.NewRequest(ctx, http.MethodGet, rawURL+"?api-version="+apiVersion)
	if err != nil {
		return nil, err
	}
	resp, err := p.pipeline.Do(req)
	if err != nil {
		return nil, err
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return nil, runtime.NewResponseError(resp)
	}
	return decodeBody(resp)
}

// pollProvisioning re-reads the resource until properties.provisioningState
// is terminal. A missing provisioning state is treated as done.
func (p *Provider) pollProvisioning(ctx context.Context, rawURL, apiVersion string, body map[string]any) (map[string]any, error) {
	deadline := time.Now().Add(pollTimeout)
	for {
		state, present := lookup(body, "properties", "provisioningState")
		if !present {
			return body, nil
		}
		switch strings.ToLower(state) {
		case "succeeded", "ready":
			return body, nil
		case "failed", "canceled", "deleted":
			return nil, provider.NewPermanent("ProvisioningFailed",
				fmt.Sprintf("resource ended in provisioning state %q", state), nil)
		}

		if time.Now().After(deadline) {
			return nil, provider.NewTransient("ProvisioningTimeout",
				fmt.Sprintf("resource still in state %q after %s", state, pollTimeout), nil)
		}
		select {
		case <-ctx.Done():
			return nil, provider.NewTransient("Canceled", "polling interrupted", ctx.Err())
		case <-time.After(pollInterval):
		}

		var err error
		body, err = p.get(ctx, rawURL, apiVersion)
		if err != nil {
			return nil, translateError(err)
		}
	}
}

func extractOutputs(rt resourceType, name string, body map[string]any) provider.Outputs {
	out := provider.Outputs{"name": name}
	if id, ok := body["id"].(string); ok {
		out["id"] = id
	}
	if pid, ok := lookup(body, "identity", "principalId"); ok {
		out["principal_id"] = pid
	}
	if rt.outputs != nil {
		rt.outputs(name, body, out)
	}
	return out
}

func decodeBody(resp *http.Response) (map[string]any, error) {
	var body map[string]any
	if err := runtime.UnmarshalAsJSON(resp, &body); err != nil {
		// 202 responses from some providers carry no body.
		return map[string]any{}, nil
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}

// translateError maps pipeline failures into the provider error
// taxonomy: 408, 429 and 5xx are retryable, other HTTP failures are
// permanent, transport errors are retryable.
func translateError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.ErrorCode
		if code == "" {
			code = http.StatusText(respErr.StatusCode)
		}
		msg := fmt.Sprintf("resource manager returned %d", respErr.StatusCode)
		if transientStatus(respErr.StatusCode) {
			return provider.NewTransient(code, msg, err)
		}
		return provider.NewPermanent(code, msg, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return provider.NewTransient("Canceled", "request interrupted", err)
	}
	return provider.NewTransient("TransportError", err.Error(), err)
}

func transientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}
