package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JaimeStill/ktru/internal/client"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "ktru",
		Short: "Submit products for KTRU classification",
		Long: `ktru talks to a running KTRU classification server: it submits product
files in chunks, waits for batches to complete, and saves the enriched products.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./ktru.yaml)")
	rootCmd.PersistentFlags().String("url", "http://localhost:8080/api", "API base URL")
	rootCmd.PersistentFlags().String("api-key", "", "API key sent as X-API-Key")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "HTTP request timeout")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	_ = viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(openapiCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("ktru")
		viper.SetConfigType("yaml")
	}

	// KTRU_URL, KTRU_API_KEY, KTRU_TIMEOUT
	viper.SetEnvPrefix("KTRU")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return setupLogging(viper.GetString("log_level"))
}

func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level: %s", level)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func newClient() (*client.Client, error) {
	key := viper.GetString("api_key")
	if key == "" {
		return nil, fmt.Errorf("api key required (--api-key or KTRU_API_KEY)")
	}
	return client.New(viper.GetString("url"), key, viper.GetDuration("timeout")), nil
}
