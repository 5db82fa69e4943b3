// Command inksync mirrors reMarkable notebooks into a Notion database.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/inksync/internal/config"
	"github.com/mschirtzinger/inksync/internal/logging"
	"github.com/mschirtzinger/inksync/internal/ui"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	// exitUsage covers invalid configuration and flags.
	exitUsage = 2
)

var (
	v         *viper.Viper
	cfg       *config.Config
	logger    = zerolog.Nop()
	logCloser io.Closer

	configPath string
	verbose    bool
	noColor    bool
)

// usageError marks errors caused by bad configuration or arguments.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:   "inksync",
	Short: "Mirror reMarkable notebooks into Notion",
	Long: `inksync reads a local reMarkable backup and keeps one Notion database
record per notebook: title, tags, dates, page images with recognized text,
and a link to the archived PDF.

Each run is idempotent: unchanged notebooks are skipped, tag-only changes
patch tags, and content changes replace the page content.

Configuration comes from ` + "`inksync config init`" + `, INKSYNC_* environment
variables (NOTION_TOKEN, NOTION_DATABASE_ID, REMARKABLE_BACKUP_DIR, ... are
also honored) and flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(cmd.OutOrStdout(), noColor)

		loaded, err := config.Load(v, configPath)
		if err != nil {
			return usageError{err}
		}
		cfg = loaded

		l, closer, err := logging.New(logging.Options{
			Level:      cfg.Log.Level,
			Verbose:    verbose,
			Console:    cmd.ErrOrStderr(),
			NoColor:    noColor,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logger, logCloser = l, closer
		if file := config.File(v); file != "" {
			logger.Debug().Str("file", file).Msg("config loaded")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	v = config.New()

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default "+config.DefaultPath()+")")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")
	pf.String("backup-dir", "", "reMarkable backup directory")
	pf.String("remote", "", "remote backend: notion or sqlite")
	pf.String("log-file", "", "also write JSON logs to this file")
	bindFlag(pf.Lookup("backup-dir"), "backup_dir")
	bindFlag(pf.Lookup("remote"), "remote.backend")
	bindFlag(pf.Lookup("log-file"), "log.file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(os.Stderr, ui.RenderFail("Error: "+err.Error()))
	var usage usageError
	if errors.As(err, &usage) {
		return exitUsage
	}
	return exitError
}
