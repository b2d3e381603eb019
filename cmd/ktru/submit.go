package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/ktru/internal/client"
	"github.com/JaimeStill/ktru/internal/orchestrator"
	"github.com/JaimeStill/ktru/internal/products"
	"github.com/JaimeStill/ktru/internal/submit"
)

type submitOptions struct {
	chunkSize    int
	wait         bool
	pollInterval time.Duration
	outputDir    string
}

func submitCmd() *cobra.Command {
	var opts submitOptions

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Submit a JSON or JSONL product file",
		Long: `Submit products from a JSON array or JSON Lines file. Products are sent in
chunks of --chunk-size, one batch per chunk. With --wait the command polls every
batch until it completes and writes the enriched products to --output-dir.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return runSubmit(cmd.Context(), c, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 100, "products per batch")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "wait for batches to complete")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", 10*time.Second, "status poll interval when waiting")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", "output", "directory for enriched products")

	return cmd
}

func runSubmit(ctx context.Context, c *client.Client, path string, opts submitOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read products: %w", err)
	}

	list, err := products.Load(data)
	if err != nil {
		return fmt.Errorf("parse products: %w", err)
	}
	if opts.chunkSize < 1 {
		return fmt.Errorf("chunk-size must be positive")
	}

	chunks := submit.Partition(list, opts.chunkSize)
	slog.Info("submitting products", "file", path, "products", len(list), "batches", len(chunks))

	ids := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		env, err := c.Submit(ctx, chunk)
		if err != nil {
			return fmt.Errorf("submit chunk %d: %w", i, err)
		}
		slog.Info("batch submitted", "batch_id", env.BatchID, "products", env.ProductCount, "status", env.Status)
		fmt.Println(env.BatchID)
		ids = append(ids, env.BatchID)
	}

	if !opts.wait {
		return nil
	}

	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, id := range ids {
		g.Go(func() error {
			env, err := c.Wait(gctx, id, opts.pollInterval)
			if err != nil {
				return fmt.Errorf("wait %s: %w", id, err)
			}
			return writeEnvelope(opts.outputDir, env)
		})
	}

	return g.Wait()
}

func writeEnvelope(dir string, env *orchestrator.Envelope) error {
	data, err := json.MarshalIndent(env.Products, "", "  ")
	if err != nil {
		return fmt.Errorf("encode products: %w", err)
	}

	path := filepath.Join(dir, env.BatchID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	slog.Info(
		"batch saved",
		"batch_id", env.BatchID,
		"status", env.Status,
		"processed", env.ProcessedCount,
		"path", path,
	)
	return nil
}
