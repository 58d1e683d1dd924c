package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/forumwatch/internal/api"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll forever and serve the liveness endpoint",
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	addr := fmt.Sprintf(":%d", a.Config.Server.Port)
	server := api.NewServer(a.Logger.Named("api"))
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	serverDone := serveLiveness(serverCtx, addr, server.Handler(), a.Logger.Named("api"))

	a.Logger.Info("watching forums",
		zap.Int("forums", len(a.Config.Forums)),
		zap.Duration("interval", a.Config.Interval()),
		zap.String("fetcher_mode", a.Config.Fetcher.Mode),
		zap.String("state_backend", a.Config.State.Backend),
	)
	if err := a.Scheduler.Run(ctx); err != nil {
		return fmt.Errorf("run scheduler: %w", err)
	}
	a.Logger.Info("shutdown initiated")
	stopServer()
	return <-serverDone
}

// serveLiveness runs the HTTP responder in the background. A listener failure
// is logged and reported on the channel; polling carries on without it.
func serveLiveness(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := api.ListenAndServe(ctx, addr, handler, logger)
		if err != nil {
			logger.Error("http server stopped; polling continues", zap.Error(err))
		}
		done <- err
	}()
	return done
}
