package binding

import (
	"fmt"
	"sort"
)

// RoleDefinition is a built-in role known to the resolver.
type RoleDefinition struct {
	// Name is the declaration-facing role name
	Name string

	// ID is the platform role definition identifier
	ID string
}

// builtinRoles maps declaration role names to the platform's built-in
// role definition IDs.
var builtinRoles = map[string]RoleDefinition{
	"contributor": {
		Name: "contributor",
		ID:   "b24988ac-6180-42a0-ab88-20f7382dd24c",
	},
	"storage-blob-data-contributor": {
		Name: "storage-blob-data-contributor",
		ID:   "ba92f5b4-2d11-453d-a403-e96b0029c9fe",
	},
	"storage-blob-data-reader": {
		Name: "storage-blob-data-reader",
		ID:   "2a2b9908-6ea1-4ae2-8e65-a410df84e7d1",
	},
	"search-service-contributor": {
		Name: "search-service-contributor",
		ID:   "7ca78c08-252a-4471-8644-bb5ff32d4ba0",
	},
	"search-index-data-contributor": {
		Name: "search-index-data-contributor",
		ID:   "8ebe5a00-799e-43f5-93ac-243d3dce84a7",
	},
	"search-index-data-reader": {
		Name: "search-index-data-reader",
		ID:   "1407120a-92aa-4202-b7e9-c0e197c71c8f",
	},
	"cognitive-services-user": {
		Name: "cognitive-services-user",
		ID:   "a97b65f3-24c7-4388-baec-2e87135dc908",
	},
	"cognitive-services-openai-user": {
		Name: "cognitive-services-openai-user",
		ID:   "5e0bd9bd-7b93-4f28-af87-19fc36ad61bd",
	},
	"cognitive-services-openai-contributor": {
		Name: "cognitive-services-openai-contributor",
		ID:   "a001fd3d-188f-4b5d-821b-7da978bf7442",
	},
	"azure-ai-developer": {
		Name: "azure-ai-developer",
		ID:   "64702f94-c441-49e6-a78b-ef80e0188fee",
	},
}

// RoleByName looks up a built-in role definition.
func RoleByName(name string) (RoleDefinition, error) {
	role, found := builtinRoles[name]
	if !found {
		return RoleDefinition{}, fmt.Errorf("unknown role %q (known roles: %v)", name, roleNames())
	}
	return role, nil
}

func roleNames() []string {
	names := make([]string, 0, len(builtinRoles))
	for name := range builtinRoles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
