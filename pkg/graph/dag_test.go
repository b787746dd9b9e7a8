package graph

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/bollard-dev/bollard/pkg/declaration"
)

func mustParse(t *testing.T, source string) *declaration.Declaration {
	t.Helper()
	decl, err := declaration.Parse("test.hcl", []byte(source), declaration.Parameters{
		Location:   "eastus2",
		NamePrefix: "test",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return decl
}

func indexOf(order []string, id string) int {
	for i, nodeID := range order {
		if nodeID == id {
			return i
		}
	}
	return -1
}

func assertBefore(t *testing.T, order []string, first, second string) {
	t.Helper()
	i, j := indexOf(order, first), indexOf(order, second)
	if i < 0 || j < 0 {
		t.Fatalf("order %v missing %s or %s", order, first, second)
	}
	if i >= j {
		t.Errorf("%s at %d should precede %s at %d", first, i, second, j)
	}
}

func TestBuildDAG_LinearChain(t *testing.T) {
	decl := mustParse(t, `
resource "log_analytics_workspace" "logs" {
  config = { name = "logs" }
}
resource "application_insights" "insights" {
  config = {
    name      = "insights"
    workspace = resource.log_analytics_workspace.logs.id
  }
}
`)
	dag, err := BuildDAG(decl)
	if err != nil {
		t.Fatalf("BuildDAG() error = %v", err)
	}
	if dag.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", dag.Size())
	}
	assertBefore(t, dag.Order(), "resource.log_analytics_workspace.logs", "resource.application_insights.insights")

	deps, err := dag.Dependencies("resource.application_insights.insights")
	if err != nil {
		t.Fatalf("Dependencies() error = %v", err)
	}
	if len(deps) != 1 || deps[0] != "resource.log_analytics_workspace.logs" {
		t.Errorf("deps = %v", deps)
	}
}

func TestBuildDAG_GrantImplicitDependencies(t *testing.T) {
	decl := mustParse(t, `
resource "storage_account" "docs" {
  config = { name = "docs" }
}
resource "search_service" "search" {
  identity = "SystemAssigned"
  config   = { name = "search" }
}
grant "search_reads_docs" {
  principal      = resource.search_service.search.principal_id
  principal_type = "ServicePrincipal"
  role           = "storage-blob-data-reader"
  scope          = resource.storage_account.docs
}
`)
	dag, err := BuildDAG(decl)
	if err != nil {
		t.Fatalf("BuildDAG() error = %v", err)
	}

	// The grant orders after both the identity source and the scope.
	assertBefore(t, dag.Order(), "resource.search_service.search", "grant.search_reads_docs")
	assertBefore(t, dag.Order(), "resource.storage_account.docs", "grant.search_reads_docs")

	deps, _ := dag.Dependencies("grant.search_reads_docs")
	if len(deps) != 2 {
		t.Errorf("deps = %v, want both resources", deps)
	}

	dependents, _ := dag.Dependents("resource.storage_account.docs")
	if len(dependents) != 1 || dependents[0] != "grant.search_reads_docs" {
		t.Errorf("dependents = %v", dependents)
	}
}

func TestBuildDAG_ExplicitDependsOn(t *testing.T) {
	decl := mustParse(t, `
resource "cognitive_account" "openai" {
  config = { name = "openai" }
}
resource "model_deployment" "chat" {
  config = {
    name    = "chat"
    account = resource.cognitive_account.openai.name
  }
}
resource "model_deployment" "embedding" {
  depends_on = [resource.model_deployment.chat]
  config = {
    name    = "embedding"
    account = resource.cognitive_account.openai.name
  }
}
`)
	dag, err := BuildDAG(decl)
	if err != nil {
		t.Fatalf("BuildDAG() error = %v", err)
	}
	assertBefore(t, dag.Order(), "resource.model_deployment.chat", "resource.model_deployment.embedding")
}

func TestBuildDAG_Cycle(t *testing.T) {
	decl := mustParse(t, `
resource "storage_account" "a" {
  config = { peer = resource.search_service.b.id }
}
resource "search_service" "b" {
  config = { peer = resource.storage_account.a.id }
}
`)
	_, err := BuildDAG(decl)
	if err == nil {
		t.Fatal("BuildDAG() succeeded on a cyclic declaration")
	}

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("error = %T, want *CycleError", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "resource.storage_account.a") || !strings.Contains(msg, "resource.search_service.b") {
		t.Errorf("cycle error %q does not name both nodes", msg)
	}
}

func TestBuildDAG_SelfReference(t *testing.T) {
	decl := mustParse(t, `
resource "storage_account" "a" {
  config = { self = resource.storage_account.a.id }
}
`)
	_, err := BuildDAG(decl)
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("error = %v, want *CycleError", err)
	}
}

func TestBuildDAG_UndeclaredReference(t *testing.T) {
	decl := mustParse(t, `
resource "storage_account" "a" {
  config = { peer = resource.storage_account.missing.id }
}
`)
	_, err := BuildDAG(decl)
	if err == nil || !strings.Contains(err.Error(), "undeclared") {
		t.Errorf("error = %v, want undeclared reference error", err)
	}
}

func TestBuildDAG_DeterministicOrder(t *testing.T) {
	source := `
resource "storage_account" "c" {
  config = { name = "c" }
}
resource "storage_account" "a" {
  config = { name = "a" }
}
resource "storage_account" "b" {
  config = { name = "b" }
}
`
	want := BuildDAGOrder(t, source)

	// Unconstrained nodes tie-break on declaration order, so repeated
	// builds agree exactly.
	for i := 0; i < 20; i++ {
		got := BuildDAGOrder(t, source)
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("iteration %d: order %v, want %v", i, got, want)
			}
		}
	}
	if want[0] != "resource.storage_account.c" ||
		want[1] != "resource.storage_account.a" ||
		want[2] != "resource.storage_account.b" {
		t.Errorf("order %v does not follow declaration order", want)
	}
}

func BuildDAGOrder(t *testing.T, source string) []string {
	t.Helper()
	dag, err := BuildDAG(mustParse(t, source))
	if err != nil {
		t.Fatalf("BuildDAG() error = %v", err)
	}
	return dag.Order()
}

func TestBuildDAG_RandomDAGRespectsDependencies(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 10; trial++ {
		n := 8 + rng.Intn(8)
		var b strings.Builder
		for i := 0; i < n; i++ {
			fmt.Fprintf(&b, "resource \"storage_account\" \"n%d\" {\n  config = {\n    name = \"n%d\"\n", i, i)
			// Edges only point at earlier declarations, keeping the
			// generated graph acyclic.
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					fmt.Fprintf(&b, "    dep%d = resource.storage_account.n%d.id\n", j, j)
				}
			}
			b.WriteString("  }\n}\n")
		}

		dag, err := BuildDAG(mustParse(t, b.String()))
		if err != nil {
			t.Fatalf("trial %d: BuildDAG() error = %v", trial, err)
		}

		order := dag.Order()
		for _, nodeID := range order {
			deps, _ := dag.Dependencies(nodeID)
			for _, depID := range deps {
				if indexOf(order, depID) >= indexOf(order, nodeID) {
					t.Errorf("trial %d: %s ordered before its dependency %s", trial, nodeID, depID)
				}
			}
		}
	}
}
