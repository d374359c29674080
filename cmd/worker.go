package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/purchase-approval/internal/reconciliation"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
}

var syncWorkerCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run vendor order reconciliation on an interval",
	Long:  `Run a reconciliation pass every --interval until interrupted. Receipt downloads for auto-linked orders run on the worker pool.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startSyncWorker(syncInterval)
	},
}

var syncInterval time.Duration

func startSyncWorker(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", interval)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := initializeDependencies(ctx)
	if err != nil {
		return err
	}
	lg := deps.Logger

	if !deps.VendorClient.Configured() {
		lg.Warn("vendor credentials not configured; sync runs will be recorded as not_configured")
	}
	lg.Info("sync worker started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := deps.Reconciliation.SyncOrders(ctx, reconciliation.SyncOptions{Trigger: reconciliation.TriggerScheduled})
		if err != nil {
			lg.Error("scheduled sync failed", "error", err)
		} else {
			lg.Info("scheduled sync finished",
				"run_id", run.ID,
				"status", run.Status,
				"processed", run.Processed,
				"matched", run.Matched)
		}

		select {
		case <-ctx.Done():
			lg.Info("received signal, shutting down sync worker")
			shutdownDone := make(chan struct{})
			go func() {
				deps.Close()
				close(shutdownDone)
			}()
			select {
			case <-shutdownDone:
				lg.Info("sync worker shutdown complete")
			case <-time.After(30 * time.Second):
				lg.Warn("shutdown timeout reached, forcing exit")
			}
			return nil
		case <-ticker.C:
		}
	}
}

func init() {
	syncWorkerCmd.Flags().DurationVar(&syncInterval, "interval", 15*time.Minute, "time between reconciliation passes")
	workerCmd.AddCommand(syncWorkerCmd)
}
