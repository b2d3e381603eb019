package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JaimeStill/ktru/internal/orchestrator"
	"github.com/JaimeStill/ktru/pkg/openapi"
)

func openapiCmd() *cobra.Command {
	var (
		output   string
		basePath string
		version  string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the service OpenAPI document",
		Long:  "Renders the same OpenAPI document the server exposes at /openapi.json without contacting a server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg openapi.Config
			if err := cfg.Finalize(nil); err != nil {
				return err
			}
			spec := orchestrator.Spec(&cfg, version, basePath)

			if output == "" || output == "-" {
				return openapi.WriteJSON(cmd.OutOrStdout(), spec)
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			defer f.Close()

			if err := openapi.WriteJSON(f, spec); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			return f.Close()
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "server base path")
	cmd.Flags().StringVar(&version, "version", "0.1.0", "document version")
	return cmd
}
