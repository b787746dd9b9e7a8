package engine_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/bollard-dev/bollard/pkg/declaration"
	"github.com/bollard-dev/bollard/pkg/engine"
	"github.com/bollard-dev/bollard/pkg/graph"
	"github.com/bollard-dev/bollard/pkg/provider"
	"github.com/bollard-dev/bollard/pkg/provider/memory"
)

const stackSource = `
params {
  location    = "eastus2"
  name_prefix = "demo"
}

resource "storage_account" "docs" {
  config = {
    name = sanitizename(format("%sdocs", param.name_prefix), 24)
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

resource "cognitive_account" "openai" {
  identity = "SystemAssigned"
  config = {
    name = format("%s-openai", param.name_prefix)
    kind = "OpenAI"
    sku  = "S0"
  }
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

grant "operator_storage" {
  when           = param.principal_id != ""
  principal      = param.principal_id
  principal_type = param.principal_type
  role           = "storage-blob-data-contributor"
  scope          = resource.storage_account.docs
}

grant "search_reads_docs" {
  principal      = resource.search_service.search.principal_id
  principal_type = "ServicePrincipal"
  role           = "storage-blob-data-reader"
  scope          = resource.storage_account.docs
}

grant "search_embeds" {
  principal      = resource.search_service.search.principal_id
  principal_type = "ServicePrincipal"
  role           = "cognitive-services-openai-user"
  scope          = resource.cognitive_account.openai
}

output "storage_endpoint" {
  value = resource.storage_account.docs.endpoint
}

output "chat_deployment" {
  value = resource.model_deployment.chat.name
}
`

func parseStack(overrides declaration.Parameters) *declaration.Declaration {
	decl, err := declaration.Parse("stack.hcl", []byte(stackSource), overrides)
	Expect(err).NotTo(HaveOccurred())
	return decl
}

func nodeState(report *engine.Report, id string) graph.NodeState {
	for _, node := range report.Nodes {
		if node.ID == id {
			return node.State
		}
	}
	Fail("node " + id + " missing from report")
	return ""
}

var _ = Describe("Engine", func() {
	var (
		prov *memory.Provider
		eng  *engine.Engine
		ctx  context.Context
	)

	BeforeEach(func() {
		prov = memory.New()
		eng = engine.New(prov, engine.Options{})
		ctx = context.Background()
	})

	Context("applying a full stack", func() {
		var report *engine.Report

		BeforeEach(func() {
			var err error
			report, err = eng.Apply(ctx, parseStack(declaration.Parameters{
				PrincipalID:   "11111111-1111-1111-1111-111111111111",
				PrincipalType: "User",
			}))
			Expect(err).NotTo(HaveOccurred())
		})

		It("applies every node", func() {
			Expect(report.Succeeded()).To(BeTrue())
			Expect(report.Summary.Applied).To(Equal(8))
			Expect(prov.Applied(provider.ResourceRef{Type: "storage_account", Name: "docs"})).To(BeTrue())
			Expect(prov.Applied(provider.ResourceRef{Type: "search_service", Name: "search"})).To(BeTrue())
			Expect(prov.Assignments()).To(HaveLen(3))
		})

		It("publishes outputs", func() {
			Expect(report.Outputs).To(HaveKeyWithValue("storage_endpoint", "https://demodocs.blob.core.windows.net/"))
			Expect(report.Outputs).To(HaveKeyWithValue("chat_deployment", "chat"))
		})

		It("binds managed identities to grants", func() {
			var searchPrincipal string
			for _, a := range prov.Assignments() {
				if a.PrincipalType == "ServicePrincipal" {
					searchPrincipal = a.PrincipalID
					break
				}
			}
			Expect(searchPrincipal).NotTo(BeEmpty())

			outputs, err := prov.ApplyResource(ctx, provider.ResourceRef{Type: "search_service", Name: "search"},
				map[string]any{"name": "demo-search", "identity": "SystemAssigned"})
			Expect(err).NotTo(HaveOccurred())
			Expect(outputs["principal_id"]).To(Equal(searchPrincipal))
		})

		It("serializes model deployments", func() {
			var deployments []string
			for _, call := range prov.Calls() {
				if call.Op == "apply" && (call.Target == "model_deployment/chat" || call.Target == "model_deployment/embedding") {
					deployments = append(deployments, call.Target)
				}
			}
			Expect(deployments).To(Equal([]string{"model_deployment/chat", "model_deployment/embedding"}))
		})
	})

	Context("without an operator principal", func() {
		It("skips the guarded grant and still succeeds", func() {
			report, err := eng.Apply(ctx, parseStack(declaration.Parameters{}))
			Expect(err).NotTo(HaveOccurred())

			Expect(nodeState(report, "grant.operator_storage")).To(Equal(graph.NodeStateSkipped))
			Expect(nodeState(report, "grant.search_reads_docs")).To(Equal(graph.NodeStateApplied))
			Expect(report.Succeeded()).To(BeTrue())
			Expect(prov.Assignments()).To(HaveLen(2))
		})
	})

	Context("re-applying an unchanged declaration", func() {
		It("converges on the existing assignments", func() {
			decl := parseStack(declaration.Parameters{})

			first, err := eng.Apply(ctx, decl)
			Expect(err).NotTo(HaveOccurred())

			second, err := engine.New(prov, engine.Options{}).Apply(ctx, decl)
			Expect(err).NotTo(HaveOccurred())

			Expect(second.Succeeded()).To(BeTrue())
			Expect(prov.Assignments()).To(HaveLen(2))
			Expect(second.RenderHash).To(Equal(first.RenderHash))
		})
	})

	Context("when a resource fails", func() {
		It("blocks dependents, finishes independent branches and publishes no outputs", func() {
			prov.FailWith("storage_account/docs",
				provider.NewPermanent("QuotaExceeded", "no more storage accounts", nil))

			report, err := eng.Apply(ctx, parseStack(declaration.Parameters{}))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("QuotaExceeded"))

			Expect(nodeState(report, "resource.storage_account.docs")).To(Equal(graph.NodeStateFailed))
			Expect(nodeState(report, "grant.search_reads_docs")).To(Equal(graph.NodeStateBlocked))
			Expect(nodeState(report, "resource.cognitive_account.openai")).To(Equal(graph.NodeStateApplied))
			Expect(nodeState(report, "grant.search_embeds")).To(Equal(graph.NodeStateApplied))
			Expect(report.Outputs).To(BeEmpty())
		})
	})

	Context("with a transient provider failure", func() {
		It("retries until the failure clears", func() {
			prov.FailWith("search_service/search", provider.NewTransient("Throttled", "429", nil))

			eng = engine.New(prov, engine.Options{Executor: graph.ExecutorConfig{
				MaxConcurrency:   4,
				RetryBackoffBase: 1,
				RetryBackoffMax:  1,
				MaxAttempts:      3,
			}})

			// The failure persists, so the node exhausts its attempts.
			report, err := eng.Apply(ctx, parseStack(declaration.Parameters{}))
			Expect(err).To(HaveOccurred())
			Expect(nodeState(report, "resource.search_service.search")).To(Equal(graph.NodeStateFailed))
		})
	})

	Context("validation", func() {
		It("rejects an unknown role before any provider call", func() {
			source := `
params {
  location    = "eastus2"
  name_prefix = "demo"
}
resource "storage_account" "docs" {
  config = { name = "docs" }
}
grant "bad" {
  principal      = "p"
  principal_type = "User"
  role           = "owner-of-everything"
  scope          = resource.storage_account.docs
}
`
			decl, err := declaration.Parse("bad.hcl", []byte(source), declaration.Parameters{})
			Expect(err).NotTo(HaveOccurred())

			_, err = eng.Apply(ctx, decl)
			Expect(err).To(HaveOccurred())
			Expect(prov.Calls()).To(BeEmpty())
		})

		It("rejects a cyclic declaration", func() {
			source := `
params {
  location    = "eastus2"
  name_prefix = "demo"
}
resource "storage_account" "a" {
  config = { peer = resource.search_service.b.id }
}
resource "search_service" "b" {
  config = { peer = resource.storage_account.a.id }
}
`
			decl, err := declaration.Parse("cycle.hcl", []byte(source), declaration.Parameters{})
			Expect(err).NotTo(HaveOccurred())

			_, err = eng.Apply(ctx, decl)
			var cycleErr *graph.CycleError
			Expect(errors.As(err, &cycleErr)).To(BeTrue())
		})
	})

	Context("a hub service depending on two independent services", func() {
		const foundrySource = `
params {
  location    = "eastus2"
  name_prefix = "demo"
}
resource "storage_account" "docs" {
  config = { name = "demodocs" }
}
resource "cognitive_account" "openai" {
  config = { name = "demo-openai" }
}
resource "search_service" "search" {
  identity = "SystemAssigned"
  config   = { name = "demo-search" }
}
resource "ai_services" "foundry" {
  identity = "SystemAssigned"
  config = {
    name   = "demo-foundry"
    openai = resource.cognitive_account.openai.endpoint
    search = resource.search_service.search.endpoint
  }
}
grant "foundry_queries_search" {
  principal      = resource.ai_services.foundry.principal_id
  principal_type = "ServicePrincipal"
  role           = "search-index-data-reader"
  scope          = resource.search_service.search
}
`
		parseFoundry := func() *declaration.Declaration {
			decl, err := declaration.Parse("foundry.hcl", []byte(foundrySource), declaration.Parameters{})
			Expect(err).NotTo(HaveOccurred())
			return decl
		}

		It("applies the hub after its dependencies and its grants after the hub", func() {
			report, err := eng.Apply(ctx, parseFoundry())
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Succeeded()).To(BeTrue())

			foundryIdx := -1
			grantIdx := -1
			for i, call := range prov.Calls() {
				if call.Target == "ai_services/foundry" {
					foundryIdx = i
				}
				if call.Op == "ensure" {
					grantIdx = i
				}
			}
			Expect(foundryIdx).To(BeNumerically(">", 2), "hub applies after the independent services")
			Expect(grantIdx).To(BeNumerically(">", foundryIdx), "identity grant applies after the hub")
		})

		It("blocks only the hub when one dependency fails permanently", func() {
			prov.FailWith("search_service/search",
				provider.NewPermanent("InvalidSku", "sku not available in region", nil))

			report, err := eng.Apply(ctx, parseFoundry())
			Expect(err).To(HaveOccurred())

			Expect(nodeState(report, "resource.search_service.search")).To(Equal(graph.NodeStateFailed))
			Expect(nodeState(report, "resource.ai_services.foundry")).To(Equal(graph.NodeStateBlocked))
			Expect(nodeState(report, "grant.foundry_queries_search")).To(Equal(graph.NodeStateBlocked))
			Expect(nodeState(report, "resource.storage_account.docs")).To(Equal(graph.NodeStateApplied))
			Expect(nodeState(report, "resource.cognitive_account.openai")).To(Equal(graph.NodeStateApplied))
			Expect(report.Summary.Failed).To(Equal(1))
			Expect(report.Summary.Blocked).To(Equal(2))
		})
	})

	Context("planning", func() {
		It("orders nodes without provider calls", func() {
			order, err := eng.Plan(parseStack(declaration.Parameters{}))
			Expect(err).NotTo(HaveOccurred())
			Expect(order).To(HaveLen(8))
			Expect(prov.Calls()).To(BeEmpty())

			chat := -1
			embedding := -1
			for i, id := range order {
				switch id {
				case "resource.model_deployment.chat":
					chat = i
				case "resource.model_deployment.embedding":
					embedding = i
				}
			}
			Expect(chat).To(BeNumerically("<", embedding))
		})
	})
})
