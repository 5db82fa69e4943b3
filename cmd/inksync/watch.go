package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/inksync/internal/daemon"
	"github.com/mschirtzinger/inksync/internal/dashboard"
	"github.com/mschirtzinger/inksync/internal/sync"
	"github.com/mschirtzinger/inksync/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Sync on every backup change (foreground)",
	Long: `Run a sync at startup, then watch the backup directory and sync again
whenever notebook files change. A burst of changes (a tablet backup writes
many files) is coalesced into one run after the debounce interval. A full
run also happens every --interval regardless of changes.

Runs never overlap. Press Ctrl+C to stop; a run in progress finishes the
notebooks it has started.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyRunFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return usageError{err}
		}
		debounce, _ := cmd.Flags().GetDuration("debounce")
		interval, _ := cmd.Flags().GetDuration("interval")

		var dash *dashboard.Handler
		if addr, _ := cmd.Flags().GetString("dashboard"); addr != "" {
			server := dashboard.NewServer(dashboard.Config{Addr: addr, Logger: logger})
			if err := server.Start(); err != nil {
				return err
			}
			defer server.Stop()
			fmt.Fprintf(cmd.ErrOrStderr(), "Dashboard: %s\n", ui.RenderAccent("http://"+server.Addr()))
			dash = dashboard.NewHandler(server, logger)
		}

		out := cmd.OutOrStdout()
		run := func(ctx context.Context, reason string) error {
			summary, err := runOnce(ctx, cfg, time.Time{}, dash, reason, logger)
			if err != nil {
				return err
			}
			if summary.Changed() > 0 || !summary.OK() {
				return ui.WriteSummary(out, summary, sync.FormatText)
			}
			logger.Info().Str("run_id", summary.RunID).Msg("everything in sync")
			return nil
		}

		d, err := daemon.New(cfg.BackupDir, run, daemon.Config{
			DebounceInterval: debounce,
			Interval:         interval,
			Logger:           logger,
		})
		if err != nil {
			return err
		}
		return d.Start(cmd.Context())
	},
}

func init() {
	defaults := daemon.DefaultConfig()
	f := watchCmd.Flags()
	f.Bool("dry-run", false, "plan without writing anything")
	f.Int("workers", sync.DefaultWorkers, "number of notebooks processed concurrently")
	f.Duration("debounce", defaults.DebounceInterval, "quiet time after a change before syncing")
	f.Duration("interval", defaults.Interval, "period of full runs (0 disables)")
	f.String("dashboard", "", "serve live progress on this address, e.g. localhost:8090")

	rootCmd.AddCommand(watchCmd)
}
