package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/purchase-approval/internal/reconciliation"
)

var (
	syncForce bool
	syncSince string
	syncWait  time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one vendor order reconciliation pass",
	Long:  `Fetch vendor orders, match them against approved purchase requests and download receipts for auto-linked orders.`,
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "re-evaluate orders that were already processed")
	syncCmd.Flags().StringVar(&syncSince, "since", "", "only orders placed on or after this date (YYYY-MM-DD)")
	syncCmd.Flags().DurationVar(&syncWait, "drain-timeout", 2*time.Minute, "how long to wait for queued receipt downloads")
}

func parseSince(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	since, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, fmt.Errorf("--since must be formatted as YYYY-MM-DD: %w", err)
	}
	return &since, nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	since, err := parseSince(syncSince)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	deps, err := initializeDependencies(ctx)
	if err != nil {
		return err
	}

	run, err := deps.Reconciliation.SyncOrders(ctx, reconciliation.SyncOptions{
		Since:   since,
		Force:   syncForce,
		Trigger: reconciliation.TriggerCLI,
	})
	drain(deps, syncWait)
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(run, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// drain lets queued receipt downloads finish before the process exits.
func drain(deps *Dependencies, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		deps.FetchPool.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		deps.Logger.Warn("receipt downloads still queued at exit", "timeout", timeout)
	}
	deps.Close()
}
