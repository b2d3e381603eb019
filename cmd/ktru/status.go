package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var includeProducts bool

	cmd := &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			env, err := c.Get(cmd.Context(), args[0], includeProducts)
			if err != nil {
				return err
			}
			return printJSON(env)
		},
	}

	cmd.Flags().BoolVar(&includeProducts, "products", false, "include enriched products")
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <batch-id>",
		Short: "Reconcile a batch against the provider now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			env, err := c.Reconcile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(env)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
