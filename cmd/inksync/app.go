package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/mschirtzinger/inksync/internal/archive"
	"github.com/mschirtzinger/inksync/internal/auth"
	"github.com/mschirtzinger/inksync/internal/config"
	"github.com/mschirtzinger/inksync/internal/notebook"
	"github.com/mschirtzinger/inksync/internal/ocr"
	"github.com/mschirtzinger/inksync/internal/remote"
	"github.com/mschirtzinger/inksync/internal/remote/mirror"
	"github.com/mschirtzinger/inksync/internal/remote/notion"
	"github.com/mschirtzinger/inksync/internal/render"
	"github.com/mschirtzinger/inksync/internal/schema"
	"github.com/mschirtzinger/inksync/internal/sync"
	"github.com/mschirtzinger/inksync/internal/types"
)

// openRemote builds the configured remote client. The returned close
// function must be called when done.
func openRemote(c *config.Config, log zerolog.Logger) (remote.Client, func() error, error) {
	switch c.Remote.Backend {
	case config.RemoteSQLite:
		db, err := mirror.Open(c.Mirror.Path, mirror.Options{}, log)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		client, err := notion.New(notion.Config{DatabaseID: c.Notion.DatabaseID}, auth.Static(c.Notion.Token), log)
		if err != nil {
			return nil, nil, err
		}
		return client, func() error { return nil }, nil
	}
}

// prepareRemote verifies the connection and the synced field schema,
// adding missing fields first when ensure is set.
func prepareRemote(ctx context.Context, client remote.Client, ensure bool, log zerolog.Logger) error {
	if err := client.Verify(ctx); err != nil {
		return fmt.Errorf("%w: %w", types.ErrRemoteUnavailable, err)
	}

	rs, err := client.Schema(ctx)
	if err != nil {
		return fmt.Errorf("failed to read database schema: %w", err)
	}
	if missing := rs.Missing(); len(missing) > 0 && ensure {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = f.Name
		}
		log.Info().Strs("fields", names).Msg("adding missing database properties")
		if err := client.EnsureSchema(ctx, missing); err != nil {
			return fmt.Errorf("failed to add database properties: %w", err)
		}
		if rs, err = client.Schema(ctx); err != nil {
			return fmt.Errorf("failed to read database schema: %w", err)
		}
	}
	return schema.Check(rs)
}

// googleTokenSource returns a refreshing token source for the Drive
// archive, built from the token saved by `inksync auth google`.
func googleTokenSource(ctx context.Context, c *config.Config, log zerolog.Logger) (oauth2.TokenSource, error) {
	oc := auth.GoogleConfig(c.Google.ClientID, c.Google.ClientSecret)
	ts, err := auth.TokenSource(ctx, oc, auth.NewTokenStore(c.Google.TokenFile), log)
	if errors.Is(err, auth.ErrNotAuthorized) {
		return nil, fmt.Errorf("%w: run `inksync auth google` first", err)
	}
	return ts, err
}

func newArchive(ctx context.Context, c *config.Config, log zerolog.Logger) (archive.Store, error) {
	var ts oauth2.TokenSource
	if c.Archive.Backend == archive.BackendDrive {
		var err error
		if ts, err = googleTokenSource(ctx, c, log); err != nil {
			return nil, err
		}
	}
	return archive.New(c.ArchiveSettings(), ts, log)
}

func newRenderer(c *config.Config, log zerolog.Logger) *render.Poppler {
	return render.New(render.Config{Binary: c.Render.Pdftoppm, DPI: c.Render.DPI}, log)
}

// newOrchestrator wires one orchestrator from the configuration. A dry run
// gets no executor collaborators since it never writes.
func newOrchestrator(ctx context.Context, c *config.Config, client remote.Client, log zerolog.Logger) (*sync.Orchestrator, error) {
	policy := c.Policy()
	policy.Logger = log

	execCfg := sync.ExecutorConfig{Client: client, Policy: policy, Logger: log}
	if !c.DryRun {
		renderer := newRenderer(c, log)
		if err := renderer.Check(ctx); err != nil {
			return nil, err
		}
		recognizer, err := ocr.New(c.OCRSettings())
		if err != nil {
			return nil, err
		}
		store, err := newArchive(ctx, c, log)
		if err != nil {
			return nil, err
		}
		execCfg.Renderer = renderer
		execCfg.Recognizer = recognizer
		execCfg.Archive = store
	}

	reader := notebook.NewReader(c.BackupDir, log)
	return sync.NewOrchestrator(reader, client, sync.NewExecutor(execCfg), policy, log), nil
}
