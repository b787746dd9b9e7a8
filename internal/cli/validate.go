package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bollard-dev/bollard/pkg/declaration"
	"github.com/bollard-dev/bollard/pkg/engine"
)

func newValidateCmd() *cobra.Command {
	var (
		file   string
		params declaration.Parameters
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a declaration without applying it",
		Long: `Validate parses the declaration, checks every grant's role name and
builds the dependency graph, reporting cycles and references to
undeclared resources. No provider calls are made.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			decl, err := declaration.ParseFile(file, params)
			if err != nil {
				return err
			}

			// The provider is never called during planning.
			order, err := engine.New(nil, engine.Options{}).Plan(decl)
			if err != nil {
				return err
			}

			fmt.Printf("declaration is valid: %d nodes\n", len(order))
			for _, nodeID := range order {
				fmt.Printf("  %s\n", nodeID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "bollard.hcl", "Path to the declaration file")
	cmd.Flags().StringVar(&params.Location, "location", "validate", "Placeholder location for validation")
	cmd.Flags().StringVar(&params.NamePrefix, "name-prefix", "validate", "Placeholder name prefix for validation")

	return cmd
}
