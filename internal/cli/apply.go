package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bollard-dev/bollard/pkg/declaration"
	"github.com/bollard-dev/bollard/pkg/engine"
	"github.com/bollard-dev/bollard/pkg/graph"
	"github.com/bollard-dev/bollard/pkg/provider"
	"github.com/bollard-dev/bollard/pkg/provider/arm"
	"github.com/bollard-dev/bollard/pkg/provider/memory"
)

func newApplyCmd() *cobra.Command {
	var (
		file          string
		params        declaration.Parameters
		subscription  string
		resourceGroup string
		concurrency   int
		timeout       time.Duration
		simulate      bool
		outputFormat  string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a declaration",
		Long: `Apply provisions every resource and role grant in a declaration
file, in dependency order. Independent resources are provisioned in
parallel; a failure blocks only its dependents.

Examples:
  bollard apply -f rag.hcl --location eastus2 --name-prefix demo
  bollard apply -f rag.hcl --principal-id $(az ad signed-in-user show --query id -o tsv) --principal-type User
  bollard apply -f rag.hcl --simulate -o json`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputFormat != "text" && outputFormat != "json" {
				return fmt.Errorf("unknown output format %q (want text or json)", outputFormat)
			}

			decl, err := declaration.ParseFile(file, params)
			if err != nil {
				return err
			}

			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			var prov provider.Provider
			if simulate {
				prov = memory.New()
			} else {
				prov, err = arm.New(arm.Options{
					SubscriptionID: viper.GetString("subscription"),
					ResourceGroup:  viper.GetString("resource-group"),
					Logger:         logger,
				})
				if err != nil {
					return err
				}
			}

			config := graph.DefaultExecutorConfig()
			if concurrency > 0 {
				config.MaxConcurrency = concurrency
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			eng := engine.New(prov, engine.Options{Executor: config, Logger: logger})
			report, applyErr := eng.Apply(ctx, decl)
			if report != nil {
				if err := renderReport(report, outputFormat); err != nil {
					return err
				}
			}
			return applyErr
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "bollard.hcl", "Path to the declaration file")
	cmd.Flags().StringVar(&params.Location, "location", "", "Azure region for resources without an explicit location")
	cmd.Flags().StringVar(&params.NamePrefix, "name-prefix", "", "Prefix for generated resource names")
	cmd.Flags().StringVar(&params.UniqueSuffix, "unique-suffix", "", "Suffix seed for unique resource names")
	cmd.Flags().StringVar(&params.PrincipalID, "principal-id", "", "Object ID of the operator principal (empty skips principal-guarded grants)")
	cmd.Flags().StringVar(&params.PrincipalType, "principal-type", "", "Type of the operator principal (User, Group or ServicePrincipal)")
	cmd.Flags().StringVar(&subscription, "subscription", "", "Azure subscription ID")
	cmd.Flags().StringVar(&resourceGroup, "resource-group", "", "Azure resource group")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Maximum nodes applied in parallel (0 uses the default)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall apply timeout (0 means no timeout)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "Apply against an in-memory provider instead of Azure")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Report format (text or json)")

	_ = viper.BindPFlag("subscription", cmd.Flags().Lookup("subscription"))
	_ = viper.BindPFlag("resource-group", cmd.Flags().Lookup("resource-group"))

	return cmd
}

func renderReport(report *engine.Report, format string) error {
	if format == "json" {
		data, err := report.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, string(data))
		return err
	}
	_, err := fmt.Fprint(os.Stdout, report.Text())
	return err
}
