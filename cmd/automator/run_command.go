package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/commensal-automator/internal/daemon"
	"github.com/signalsfoundry/commensal-automator/internal/observability"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the automator until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), ctx, cmd.ErrOrStderr())
		},
	}
}

func runDaemon(parent context.Context, ctx *commandContext, logOut io.Writer) error {
	signalCtx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := ctx.logger(logOut)

	shutdown, err := observability.InitTracing(signalCtx, *cfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	return d.Run(signalCtx)
}
