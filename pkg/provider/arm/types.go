package arm

import (
	"fmt"
)

// resourceType describes how a declaration resource type maps onto the
// Azure Resource Manager surface.
type resourceType struct {
	// path is the ARM provider namespace and type,
	// e.g. "Microsoft.Storage/storageAccounts"
	path string

	// apiVersion is the ARM API version used for PUT/GET
	apiVersion string

	// parentKey, when set, names the config key holding the parent
	// resource name for child resource types
	parentKey string

	// childPath is the child collection under the parent, e.g. "deployments"
	childPath string

	// buildBody shapes the request body; nil uses genericBody
	buildBody func(config map[string]any) map[string]any

	// outputs extracts type-specific outputs from the response body;
	// nil adds nothing beyond the generic id/name/principal_id set
	outputs func(name string, body map[string]any, out map[string]any)
}

var resourceTypes = map[string]resourceType{
	"storage_account": {
		path:       "Microsoft.Storage/storageAccounts",
		apiVersion: "2023-05-01",
		outputs: func(name string, body map[string]any, out map[string]any) {
			if ep, ok := lookup(body, "properties", "primaryEndpoints", "blob"); ok {
				out["endpoint"] = ep
			}
		},
	},
	"search_service": {
		path:       "Microsoft.Search/searchServices",
		apiVersion: "2024-06-01-preview",
		outputs: func(name string, body map[string]any, out map[string]any) {
			// The search data plane endpoint is not part of the ARM
			// response; it is derived from the service name.
			out["endpoint"] = fmt.Sprintf("https://%s.search.windows.net", name)
		},
	},
	"cognitive_account": {
		path:       "Microsoft.CognitiveServices/accounts",
		apiVersion: "2024-10-01",
		outputs: func(name string, body map[string]any, out map[string]any) {
			if ep, ok := lookup(body, "properties", "endpoint"); ok {
				out["endpoint"] = ep
			}
		},
	},
	"ai_services": {
		path:       "Microsoft.CognitiveServices/accounts",
		apiVersion: "2024-10-01",
		outputs: func(name string, body map[string]any, out map[string]any) {
			if ep, ok := lookup(body, "properties", "endpoint"); ok {
				out["endpoint"] = ep
			} else {
				out["endpoint"] = fmt.Sprintf("https://%s.services.ai.azure.com/", name)
			}
		},
	},
	"ai_project": {
		path:       "Microsoft.CognitiveServices/accounts",
		apiVersion: "2025-04-01-preview",
		parentKey:  "account",
		childPath:  "projects",
	},
	"model_deployment": {
		path:       "Microsoft.CognitiveServices/accounts",
		apiVersion: "2024-10-01",
		parentKey:  "account",
		childPath:  "deployments",
		buildBody:  modelDeploymentBody,
		outputs: func(name string, body map[string]any, out map[string]any) {
			out["deployment"] = name
		},
	},
	"log_analytics_workspace": {
		path:       "Microsoft.OperationalInsights/workspaces",
		apiVersion: "2023-09-01",
		outputs: func(name string, body map[string]any, out map[string]any) {
			if id, ok := lookup(body, "properties", "customerId"); ok {
				out["workspace_id"] = id
			}
		},
	},
	"application_insights": {
		path:       "Microsoft.Insights/components",
		apiVersion: "2020-02-02",
		outputs: func(name string, body map[string]any, out map[string]any) {
			if cs, ok := lookup(body, "properties", "ConnectionString"); ok {
				out["connection_string"] = cs
			}
		},
	},
}

// topLevelKeys are config keys consumed by the envelope rather than
// copied into properties.
var topLevelKeys = map[string]bool{
	"name":     true,
	"location": true,
	"sku":      true,
	"kind":     true,
	"identity": true,
	"account":  true,
}

// genericBody shapes an ARM request envelope from a flat config map:
// location, sku, kind and identity go into their envelope slots, every
// other key into properties.
func genericBody(config map[string]any) map[string]any {
	body := make(map[string]any)
	properties := make(map[string]any)

	for key, value := range config {
		switch key {
		case "location":
			body["location"] = value
		case "sku":
			if name, ok := value.(string); ok {
				body["sku"] = map[string]any{"name": name}
			} else {
				body["sku"] = value
			}
		case "kind":
			body["kind"] = value
		case "identity":
			if mode, ok := value.(string); ok && mode != "" {
				body["identity"] = map[string]any{"type": mode}
			}
		default:
			if !topLevelKeys[key] {
				properties[key] = value
			}
		}
	}

	if len(properties) > 0 {
		body["properties"] = properties
	}
	return body
}

// modelDeploymentBody shapes a cognitive account model deployment:
// model name/format/version under properties.model, capacity as the
// sku capacity.
func modelDeploymentBody(config map[string]any) map[string]any {
	model := map[string]any{}
	if v, ok := config["model_name"]; ok {
		model["name"] = v
	}
	if v, ok := config["model_format"]; ok {
		model["format"] = v
	} else {
		model["format"] = "OpenAI"
	}
	if v, ok := config["model_version"]; ok {
		model["version"] = v
	}

	sku := map[string]any{"name": "Standard"}
	if v, ok := config["sku"].(string); ok {
		sku["name"] = v
	}
	if v, ok := config["capacity"]; ok {
		sku["capacity"] = v
	}

	return map[string]any{
		"sku": sku,
		"properties": map[string]any{
			"model": model,
		},
	}
}

// lookup walks nested string-keyed maps.
func lookup(body map[string]any, path ...string) (string, bool) {
	current := body
	for i, key := range path {
		value, found := current[key]
		if !found {
			return "", false
		}
		if i == len(path)-1 {
			s, ok := value.(string)
			return s, ok
		}
		next, ok := value.(map[string]any)
		if !ok {
			return "", false
		}
		current = next
	}
	return "", false
}
