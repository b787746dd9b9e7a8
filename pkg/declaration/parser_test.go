package declaration

import (
	"strings"
	"testing"
)

const minimalSource = `
params {
  location    = "eastus2"
  name_prefix = "test"
}

resource "storage_account" "docs" {
  config = {
    name = format("%sdocs", param.name_prefix)
    sku  = "Standard_LRS"
  }
}

resource "search_service" "search" {
  identity = "SystemAssigned"
  config = {
    name = format("%s-search", param.name_prefix)
    sku  = "basic"
  }
}

grant "search_reads_docs" {
  principal      = resource.search_service.search.principal_id
  principal_type = "ServicePrincipal"
  role           = "storage-blob-data-reader"
  scope          = resource.storage_account.docs
}

output "endpoint" {
  value = resource.storage_account.docs.endpoint
}
`

func TestParse(t *testing.T) {
	decl, err := Parse("test.hcl", []byte(minimalSource), Parameters{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if decl.Params.Location != "eastus2" {
		t.Errorf("Location = %q, want %q", decl.Params.Location, "eastus2")
	}
	if len(decl.Resources) != 2 {
		t.Fatalf("got %d resources, want 2", len(decl.Resources))
	}
	if len(decl.Grants) != 1 {
		t.Fatalf("got %d grants, want 1", len(decl.Grants))
	}
	if len(decl.Outputs) != 1 {
		t.Fatalf("got %d outputs, want 1", len(decl.Outputs))
	}

	storage := decl.Resources[0]
	if storage.ID() != "resource.storage_account.docs" {
		t.Errorf("ID() = %q", storage.ID())
	}
	if storage.Identity != IdentityNone {
		t.Errorf("Identity = %q, want none", storage.Identity)
	}
	if decl.Resources[1].Identity != IdentitySystemAssigned {
		t.Errorf("Identity = %q, want SystemAssigned", decl.Resources[1].Identity)
	}

	grant := decl.Grants[0]
	if grant.ID() != "grant.search_reads_docs" {
		t.Errorf("grant ID() = %q", grant.ID())
	}
	if grant.Role != "storage-blob-data-reader" {
		t.Errorf("Role = %q", grant.Role)
	}

	// Declaration order is global across block kinds.
	if storage.Order != 0 || decl.Resources[1].Order != 1 || grant.Order != 2 {
		t.Errorf("orders = %d, %d, %d, want 0, 1, 2",
			storage.Order, decl.Resources[1].Order, grant.Order)
	}
}

func TestParse_Overrides(t *testing.T) {
	decl, err := Parse("test.hcl", []byte(minimalSource), Parameters{
		Location:      "westus3",
		PrincipalID:   "00000000-0000-0000-0000-000000000001",
		PrincipalType: "User",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if decl.Params.Location != "westus3" {
		t.Errorf("override lost: Location = %q", decl.Params.Location)
	}
	if decl.Params.NamePrefix != "test" {
		t.Errorf("file default lost: NamePrefix = %q", decl.Params.NamePrefix)
	}
	if decl.Params.PrincipalID == "" {
		t.Error("PrincipalID override not applied")
	}
}

func TestParse_PrincipalWithoutType(t *testing.T) {
	_, err := Parse("test.hcl", []byte(minimalSource), Parameters{
		PrincipalID: "00000000-0000-0000-0000-000000000001",
	})
	if err == nil {
		t.Fatal("Parse() accepted a principal_id with no principal_type")
	}
	if !strings.Contains(err.Error(), "principal_type") {
		t.Errorf("error = %q, want mention of principal_type", err)
	}
}

func TestParse_RenderHash(t *testing.T) {
	a, err := Parse("test.hcl", []byte(minimalSource), Parameters{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	b, err := Parse("test.hcl", []byte(minimalSource), Parameters{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if a.RenderHash() != b.RenderHash() {
		t.Error("identical inputs produced different render hashes")
	}

	c, err := Parse("test.hcl", []byte(minimalSource), Parameters{UniqueSuffix: "x"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if a.RenderHash() == c.RenderHash() {
		t.Error("different parameters produced the same render hash")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wantErr string
	}{
		{
			name: "missing config",
			source: `
params {
  location    = "eastus2"
  name_prefix = "t"
}
resource "storage_account" "docs" {
}`,
			wantErr: "config",
		},
		{
			name: "invalid identity",
			source: `
params {
  location    = "eastus2"
  name_prefix = "t"
}
resource "storage_account" "docs" {
  identity = "UserAssigned"
  config   = {}
}`,
			wantErr: "identity",
		},
		{
			name: "missing location",
			source: `
params {
  name_prefix = "t"
}
resource "storage_account" "docs" {
  config = {}
}`,
			wantErr: "location",
		},
		{
			name: "duplicate resource",
			source: `
params {
  location    = "eastus2"
  name_prefix = "t"
}
resource "storage_account" "docs" {
  config = {}
}
resource "storage_account" "docs" {
  config = {}
}`,
			wantErr: "duplicate",
		},
		{
			name: "non-literal role",
			source: `
params {
  location    = "eastus2"
  name_prefix = "t"
}
resource "storage_account" "docs" {
  config = {}
}
grant "g" {
  principal      = "p"
  principal_type = "User"
  role           = param.name_prefix
  scope          = resource.storage_account.docs
}`,
			wantErr: "role",
		},
		{
			name: "depends_on unknown node",
			source: `
params {
  location    = "eastus2"
  name_prefix = "t"
}
resource "storage_account" "docs" {
  depends_on = [resource.search_service.search]
  config     = {}
}`,
			wantErr: "undeclared",
		},
		{
			name: "output references undeclared node",
			source: `
params {
  location    = "eastus2"
  name_prefix = "t"
}
resource "storage_account" "docs" {
  config = {}
}
output "endpoint" {
  value = resource.search_service.docs.endpoint
}`,
			wantErr: `output "endpoint" references undeclared node resource.search_service.docs`,
		},
		{
			name: "unknown parameter",
			source: `
params {
  location    = "eastus2"
  name_prefix = "t"
  region      = "eastus2"
}`,
			wantErr: "region",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("test.hcl", []byte(tt.source), Parameters{})
			if err == nil {
				t.Fatal("Parse() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestNodeIDForTraversal(t *testing.T) {
	decl, err := Parse("test.hcl", []byte(minimalSource), Parameters{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	vars := decl.Grants[0].Principal.Variables()
	if len(vars) != 1 {
		t.Fatalf("got %d traversals, want 1", len(vars))
	}
	id, ok := NodeIDForTraversal(vars[0])
	if !ok {
		t.Fatal("traversal not recognized as a resource reference")
	}
	if id != "resource.search_service.search" {
		t.Errorf("node ID = %q", id)
	}

	// param references are not node references
	paramVars := decl.Resources[0].Config.Variables()
	for _, tr := range paramVars {
		if _, ok := NodeIDForTraversal(tr); ok && tr.RootName() == "param" {
			t.Errorf("param traversal wrongly mapped to a node ID")
		}
	}
}
