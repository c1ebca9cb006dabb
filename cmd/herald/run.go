package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"herald/internal/app"
)

var runDryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load messages and run the scheduler until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(ctx, cfgPath, app.Options{DryRun: runDryRun})
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			_ = a.Stop(stopCtx, app.StopFatalError)
			c()
			return err
		}

		reason := app.StopSignal
		select {
		case <-ctx.Done():
		case <-a.Done():
			reason = app.StopFatalError
		}
		stopCtx, c := context.WithTimeout(context.Background(), 15*time.Second)
		defer c()
		_ = a.Stop(stopCtx, reason)
		return a.Err()
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "log messages instead of sending them")
}
