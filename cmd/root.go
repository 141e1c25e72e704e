package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmehdipour/label-dispatch/cmd/worker"
	"github.com/jmehdipour/label-dispatch/internal/config"
	"github.com/jmehdipour/label-dispatch/internal/logger"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:   "label-dispatch",
		Short: "Label Dispatch: label matching, pitch submissions and lifecycle email",
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(worker.NewWorkerCmd())
}

// loadConfig reads and validates config, then sets up the global logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Encoding)
	return cfg, nil
}
