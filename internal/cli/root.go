// Package cli defines the forumwatch cobra commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/forumwatch/internal/app"
	"github.com/JakeFAU/forumwatch/internal/config"
	"github.com/JakeFAU/forumwatch/internal/logging"
)

type appKeyType struct{}

var appKey appKeyType

// loggerFactory is replaced in tests to keep output quiet.
type loggerFactory func(development bool) (*zap.Logger, error)

func newRootCmd(newLogger loggerFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "forumwatch",
		Short: "Watches forum listings and posts new topics to Telegram.",
		Long: `forumwatch polls a fixed list of forum listing pages, detects topics that
were not present on the previous pass, and announces each one in a Telegram
chat. The last seen topic ids are persisted between runs.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a, ok := cmd.Context().Value(appKey).(*app.App)
			if !ok || a == nil {
				return
			}
			if err := a.Close(); err != nil {
				a.Logger.Warn("closing services failed", zap.Error(err))
			}
			_ = a.Logger.Sync()
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment variables override it")

	cmd.AddCommand(newRunCmd(), newOnceCmd(), newCheckCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd := newRootCmd(logging.New)
	cmd.SetErr(os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("forumwatch: %w", err)
	}
	return nil
}
