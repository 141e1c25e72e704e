package worker

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmehdipour/label-dispatch/internal/config"
	"github.com/jmehdipour/label-dispatch/internal/logger"
)

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	// attach subcommands
	cmd.AddCommand(analyticsCmd)
	cmd.AddCommand(reconcileCmd)

	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
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
