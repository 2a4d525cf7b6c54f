package cli

import (
	"context"

	"github.com/spf13/cobra"

	"quiz-progress-service/internal/config"
	"quiz-progress-service/internal/platform/logger"
)

// NewRolloverCmd runs one window migration pass for every stored user and exits.
// Useful from an external scheduler when the in-process cron is disabled.
func NewRolloverCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rollover",
		Short: "Archive closed periods for every user once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollover(cmd.Context(), *configPath)
		},
	}
}

func runRollover(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	users, err := rt.service.Rollover(ctx)
	if err != nil {
		return err
	}
	log.Info("rollover done", "users", users)
	return nil
}
