package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/campusiq-api/internal/service"
	"github.com/noah-isme/campusiq-api/internal/wire"
	"github.com/noah-isme/campusiq-api/pkg/config"
	"github.com/noah-isme/campusiq-api/pkg/logger"
)

const drainTimeout = 10 * time.Second

type sweeper interface {
	RunEscalations(ctx context.Context) (*service.EscalationResult, error)
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "escalations",
		Short:        "Warn about and escalate overdue permission requests",
		SilenceUsage: true,
	}
	root.AddCommand(runCmd(), watchCmd())
	return root
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one sweep and print its counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *wire.App) error {
				return sweepOnce(ctx, app.Escalations, cmd.OutOrStdout())
			})
		},
	}
}

func watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sweep on an interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %s", interval)
			}
			return withApp(cmd.Context(), func(ctx context.Context, app *wire.App) error {
				return watch(ctx, app.Escalations, interval, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "time between sweeps")
	return cmd
}

// withApp loads configuration, builds the graph and keeps notification workers alive for fn.
func withApp(parent context.Context, fn func(ctx context.Context, app *wire.App) error) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := wire.Build(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer app.Close()

	app.Dispatcher.Start(context.Background())
	defer app.Dispatcher.Stop()

	runErr := fn(ctx, app)

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := app.Dispatcher.Drain(drainCtx); err != nil {
		logr.Warn("notifications left undelivered", zap.Error(err))
	}
	return runErr
}

func sweepOnce(ctx context.Context, s sweeper, out io.Writer) error {
	result, err := s.RunEscalations(ctx)
	if err != nil {
		return fmt.Errorf("escalation sweep: %w", err)
	}
	printResult(out, result)
	return nil
}

func watch(ctx context.Context, s sweeper, interval time.Duration, out io.Writer) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := sweepOnce(ctx, s, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(out, color.New(color.FgRed).Sprint(err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printResult(out io.Writer, r *service.EscalationResult) {
	stamp := time.Now().Format(time.RFC3339)
	if r.LockHeld {
		fmt.Fprintf(out, "%s %s\n", stamp, color.New(color.FgYellow).Sprint("skipped: another sweep holds the lock"))
		return
	}
	fmt.Fprintf(out, "%s warned=%s escalated=%s deferred=%d exhausted=%d repaired=%d skipped=%d failed=%s\n",
		stamp,
		color.New(color.FgCyan).Sprint(r.Warned),
		color.New(color.FgGreen).Sprint(r.Escalated),
		r.Deferred,
		r.Exhausted,
		r.Repaired,
		r.Skipped,
		failedLabel(r.Failed),
	)
}

func failedLabel(n int) string {
	if n == 0 {
		return "0"
	}
	return color.New(color.FgRed).Sprint(n)
}
