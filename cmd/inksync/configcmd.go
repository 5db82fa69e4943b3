package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/inksync/internal/config"
	"github.com/mschirtzinger/inksync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Create or inspect the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file",
	Long: `Write the effective configuration to a TOML file (default
` + config.DefaultPath() + `).

When run in a terminal, prompts for the essential settings first, starting
from the current values. Secrets are stored in the file, which is created
with mode 0600.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		noInput, _ := cmd.Flags().GetBool("no-input")

		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		if _, err := os.Stat(path); err == nil && !force && !config.Interactive(os.Stdin) {
			return usageError{fmt.Errorf("%s already exists (use --force to overwrite)", path)}
		}

		if !noInput && config.Interactive(os.Stdin) {
			if err := config.Prompt(cfg); err != nil {
				return err
			}
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.RenderPass("configuration written to "+ui.RenderAccent(path)))
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(out, ui.RenderWarn("incomplete for sync: "+err.Error()))
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		masked := cfg.Masked()
		text, err := config.Encode(&masked)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if file := config.File(v); file != "" {
			fmt.Fprintln(out, ui.RenderMuted("# "+file))
		} else {
			fmt.Fprintln(out, ui.RenderMuted("# no config file, defaults and environment only"))
		}
		fmt.Fprint(out, text)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configInitCmd.Flags().Bool("no-input", false, "do not prompt, write current values")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
