package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/inksync/internal/config"
	"github.com/mschirtzinger/inksync/internal/dashboard"
	"github.com/mschirtzinger/inksync/internal/lock"
	"github.com/mschirtzinger/inksync/internal/sync"
	"github.com/mschirtzinger/inksync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync all notebooks once",
	Long: `Scan the backup directory and bring the remote database in line with it.

For every notebook:
  - no remote record          create it with pages, tags and archive link
  - content changed           replace page content, archive link and tags
  - only tags changed         overwrite tags
  - nothing changed           skip

Per-notebook failures are reported in the summary and do not stop the run;
the exit status is still 0. Setup failures (configuration, remote database
unreachable, backup directory missing) exit non-zero.

Examples:
  inksync sync
  inksync sync --dry-run
  inksync sync --since "2 weeks ago" --format json
  inksync sync --dashboard localhost:8090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		switch format {
		case sync.FormatText, sync.FormatJSON, sync.FormatYAML:
		default:
			return usageError{fmt.Errorf("unknown --format %q (want text, json or yaml)", format)}
		}

		sinceFlag, _ := cmd.Flags().GetString("since")
		since, err := parseSince(sinceFlag, time.Now())
		if err != nil {
			return usageError{err}
		}
		applyRunFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return usageError{err}
		}

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

		summary, err := runOnce(cmd.Context(), cfg, since, dash, "manual", logger)
		if err != nil {
			return err
		}
		return ui.WriteSummary(cmd.OutOrStdout(), summary, format)
	},
}

// runOnce performs one complete locked run. Cancelling ctx stops new
// notebooks; the summary still covers every notebook.
func runOnce(ctx context.Context, c *config.Config, since time.Time, dash *dashboard.Handler, reason string, log zerolog.Logger) (*sync.Summary, error) {
	l, err := lock.Acquire(c.LockFile)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := l.Release(); err != nil {
			log.Warn().Err(err).Msg("failed to release lock")
		}
	}()

	client, closeRemote, err := openRemote(c, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := closeRemote(); err != nil {
			log.Warn().Err(err).Msg("failed to close remote")
		}
	}()

	if err := prepareRemote(ctx, client, c.Notion.EnsureSchema, log); err != nil {
		return nil, err
	}

	orch, err := newOrchestrator(ctx, c, client, log)
	if err != nil {
		return nil, err
	}

	opts := sync.Options{Workers: c.Workers, DryRun: c.DryRun, Since: since}
	if dash != nil {
		dash.OnRunStarted(reason)
		opts.Observer = dash
	}

	summary, err := orch.Run(ctx, opts)
	if err != nil {
		return nil, err
	}
	if dash != nil {
		dash.OnRunComplete(summary)
	}
	return summary, nil
}

// applyRunFlags copies explicitly set run flags over the configuration.
func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("dry-run") {
		c.DryRun, _ = f.GetBool("dry-run")
	}
	if f.Changed("workers") {
		c.Workers, _ = f.GetInt("workers")
	}
}

func init() {
	f := syncCmd.Flags()
	f.Bool("dry-run", false, "plan without writing anything")
	f.Int("workers", sync.DefaultWorkers, "number of notebooks processed concurrently")
	f.String("since", "", `only sync notebooks modified after this time (RFC3339, YYYY-MM-DD or "2 weeks ago")`)
	f.String("format", sync.FormatText, "summary format: text, json or yaml")
	f.String("dashboard", "", "serve live progress on this address, e.g. localhost:8090")

	rootCmd.AddCommand(syncCmd)
}
