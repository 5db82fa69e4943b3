package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/mschirtzinger/inksync/internal/archive"
	"github.com/mschirtzinger/inksync/internal/ocr"
)

// Interactive reports whether f is a terminal that can answer prompts.
func Interactive(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Prompt asks for the essential settings, starting from cfg's values, and
// updates cfg in place.
func Prompt(cfg *Config) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("reMarkable backup directory").
				Value(&cfg.BackupDir).
				Validate(requireDir),
			huh.NewSelect[string]().
				Title("Remote backend").
				Options(huh.NewOptions(RemoteNotion, RemoteSQLite)...).
				Value(&cfg.Remote.Backend),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Notion integration token").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.Notion.Token).
				Validate(required("token")),
			huh.NewInput().
				Title("Notion database ID").
				Value(&cfg.Notion.DatabaseID).
				Validate(required("database ID")),
			huh.NewConfirm().
				Title("Add missing database properties automatically?").
				Value(&cfg.Notion.EnsureSchema),
		).WithHideFunc(func() bool { return cfg.Remote.Backend != RemoteNotion }),
		huh.NewGroup(
			huh.NewInput().
				Title("Mirror database path").
				Value(&cfg.Mirror.Path).
				Validate(required("path")),
		).WithHideFunc(func() bool { return cfg.Remote.Backend != RemoteSQLite }),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Handwriting recognition").
				Options(
					huh.NewOption("Google Cloud Vision", ocr.BackendVision),
					huh.NewOption("Anthropic", ocr.BackendAnthropic),
				).
				Value(&cfg.OCR.Backend),
			huh.NewSelect[string]().
				Title("PDF archive").
				Options(
					huh.NewOption("Google Drive", archive.BackendDrive),
					huh.NewOption("Local directory", archive.BackendLocal),
					huh.NewOption("None", archive.BackendNone),
				).
				Value(&cfg.Archive.Backend),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Google Vision API key").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.OCR.VisionAPIKey),
		).WithHideFunc(func() bool { return cfg.OCR.Backend != ocr.BackendVision }),
		huh.NewGroup(
			huh.NewInput().
				Title("Anthropic API key").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.OCR.AnthropicAPIKey),
		).WithHideFunc(func() bool { return cfg.OCR.Backend != ocr.BackendAnthropic }),
		huh.NewGroup(
			huh.NewInput().
				Title("Google OAuth client ID").
				Value(&cfg.Google.ClientID),
			huh.NewInput().
				Title("Google OAuth client secret").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.Google.ClientSecret),
			huh.NewInput().
				Title("Drive folder ID (optional)").
				Value(&cfg.Google.DriveFolderID),
		).WithHideFunc(func() bool { return cfg.Archive.Backend != archive.BackendDrive }),
		huh.NewGroup(
			huh.NewInput().
				Title("Archive directory").
				Value(&cfg.Archive.Dir).
				Validate(required("directory")),
		).WithHideFunc(func() bool { return cfg.Archive.Backend != archive.BackendLocal }),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("config prompt: %w", err)
	}
	cfg.BackupDir = strings.TrimSpace(cfg.BackupDir)
	return nil
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

func requireDir(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("directory is required")
	}
	info, err := os.Stat(s)
	if err != nil {
		return fmt.Errorf("cannot read %s", s)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s)
	}
	return nil
}
