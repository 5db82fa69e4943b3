package main

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/inksync/internal/auth"
	"github.com/mschirtzinger/inksync/internal/ui"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	GroupID: "setup",
	Short:   "Authorize external services",
}

var authGoogleCmd = &cobra.Command{
	Use:   "google",
	Short: "Authorize Google Drive access for PDF archiving",
	Long: `Open the Google consent page, receive the authorization code on a local
redirect, and save the resulting token to google.token_file (mode 0600).

The token is refreshed automatically during sync.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Google.ClientID == "" || cfg.Google.ClientSecret == "" {
			return usageError{fmt.Errorf("google.client_id and google.client_secret are required (or set GOOGLE_OAUTH_CLIENT_ID and GOOGLE_OAUTH_CLIENT_SECRET)")}
		}
		noBrowser, _ := cmd.Flags().GetBool("no-browser")
		redirect, _ := cmd.Flags().GetString("redirect")

		oc := auth.GoogleConfig(cfg.Google.ClientID, cfg.Google.ClientSecret)
		if redirect != "" {
			oc.RedirectURL = redirect
		}

		open := openBrowser
		if noBrowser {
			open = nil
		}
		tok, err := auth.Authorize(cmd.Context(), oc, cmd.ErrOrStderr(), open)
		if err != nil {
			return err
		}

		store := auth.NewTokenStore(cfg.Google.TokenFile)
		if err := store.Save(tok); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderPass("Google token saved to "+store.Path()))
		return nil
	},
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

func init() {
	authGoogleCmd.Flags().Bool("no-browser", false, "print the consent URL instead of opening a browser")
	authGoogleCmd.Flags().String("redirect", auth.DefaultRedirect, "local redirect URL registered with the OAuth client")

	authCmd.AddCommand(authGoogleCmd)
	rootCmd.AddCommand(authCmd)
}
