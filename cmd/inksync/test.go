package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/inksync/internal/index"
	"github.com/mschirtzinger/inksync/internal/notebook"
	"github.com/mschirtzinger/inksync/internal/ocr"
	"github.com/mschirtzinger/inksync/internal/schema"
	"github.com/mschirtzinger/inksync/internal/types"
	"github.com/mschirtzinger/inksync/internal/ui"
)

var testCmd = &cobra.Command{
	Use:     "test",
	GroupID: "setup",
	Short:   "Check connectivity and adapters",
}

var testNotionCmd = &cobra.Command{
	Use:   "notion",
	Short: "Verify the remote database and its synced fields",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateRemote(); err != nil {
			return usageError{err}
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		client, closeRemote, err := openRemote(cfg, logger)
		if err != nil {
			return err
		}
		defer closeRemote()

		if err := prepareRemote(ctx, client, cfg.Notion.EnsureSchema, logger); err != nil {
			return err
		}
		fmt.Fprintln(out, ui.RenderPass("connected to "+client.Name()+" and schema matches"))
		fmt.Fprint(out, ui.RenderMuted(schema.Describe()))

		policy := cfg.Policy()
		policy.Logger = logger
		idx, err := index.Load(ctx, client, policy, logger)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ui.RenderPass(fmt.Sprintf("%d records indexed", idx.Len())))
		if n := idx.Ignored(); n > 0 {
			fmt.Fprintln(out, ui.RenderWarn(fmt.Sprintf("%d records without a notebook key ignored", n)))
		}
		return nil
	},
}

var testBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Scan the backup directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.BackupDir == "" {
			return usageError{fmt.Errorf("backup_dir is required (or set REMARKABLE_BACKUP_DIR)")}
		}
		out := cmd.OutOrStdout()

		notebooks, problems, err := notebook.NewReader(cfg.BackupDir, logger).Scan(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ui.RenderPass(fmt.Sprintf("%d notebooks in %s", len(notebooks), cfg.BackupDir)))
		for _, nb := range notebooks {
			tags := ""
			if len(nb.Tags) > 0 {
				tags = " [" + strings.Join(nb.Tags, ", ") + "]"
			}
			fmt.Fprintf(out, "  %s %s%s\n", ui.RenderAccent(nb.Key), ui.RenderMuted(fmt.Sprintf("%d pages, %s", len(nb.Pages), nb.ModifiedAt.Format("2006-01-02 15:04"))), tags)
		}
		for _, p := range problems {
			fmt.Fprintln(out, ui.RenderWarn(p.Key+": "+p.Err.Error()))
		}
		return nil
	},
}

var testRenderCmd = &cobra.Command{
	Use:   "render FILE",
	Short: "Render one PDF page to PNG",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		output, _ := cmd.Flags().GetString("output")
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		renderer := newRenderer(cfg, logger)
		if err := renderer.Check(ctx); err != nil {
			return err
		}
		img, err := renderer.Render(ctx, types.PageSource{PDFPath: args[0], Number: page})
		if err != nil {
			return err
		}

		if output == "" {
			base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			output = fmt.Sprintf("%s-%d.png", base, page)
		}
		if err := os.WriteFile(output, img, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", output, err)
		}
		fmt.Fprintln(out, ui.RenderPass(fmt.Sprintf("page %d rendered to %s (%d bytes)", page, output, len(img))))
		return nil
	},
}

var testOCRCmd = &cobra.Command{
	Use:   "ocr FILE",
	Short: "Recognize the text of one PDF page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateOCR(); err != nil {
			return usageError{err}
		}
		page, _ := cmd.Flags().GetInt("page")
		ctx := cmd.Context()

		renderer := newRenderer(cfg, logger)
		img, err := renderer.Render(ctx, types.PageSource{PDFPath: args[0], Number: page})
		if err != nil {
			return err
		}
		recognizer, err := ocr.New(cfg.OCRSettings())
		if err != nil {
			return err
		}
		text, err := recognizer.Recognize(ctx, img)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.RenderPass(fmt.Sprintf("page %d recognized with %s", page, cfg.OCR.Backend)))
		fmt.Fprintln(out, text)
		return nil
	},
}

func init() {
	testRenderCmd.Flags().Int("page", 1, "page number (1-based)")
	testRenderCmd.Flags().StringP("output", "o", "", "output PNG (default FILE-PAGE.png)")
	testOCRCmd.Flags().Int("page", 1, "page number (1-based)")

	testCmd.AddCommand(testNotionCmd, testBackupCmd, testRenderCmd, testOCRCmd)
	rootCmd.AddCommand(testCmd)
}
