package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/inksync/internal/archive"
	"github.com/mschirtzinger/inksync/internal/ocr"
	"github.com/mschirtzinger/inksync/internal/remote"
	"github.com/mschirtzinger/inksync/internal/render"
	"github.com/mschirtzinger/inksync/internal/retry"
	"github.com/mschirtzinger/inksync/internal/types"
)

// Executor carries out plans against the remote backend.
type Executor struct {
	client     remote.Client
	renderer   render.Renderer
	recognizer ocr.Recognizer
	archive    archive.Store
	policy     retry.Policy
	logger     zerolog.Logger
}

// ExecutorConfig holds the collaborators of an Executor. Archive may be nil,
// in which case no archival link is written.
type ExecutorConfig struct {
	Client     remote.Client
	Renderer   render.Renderer
	Recognizer ocr.Recognizer
	Archive    archive.Store
	Policy     retry.Policy
	Logger     zerolog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	return &Executor{
		client:     cfg.Client,
		renderer:   cfg.Renderer,
		recognizer: cfg.Recognizer,
		archive:    cfg.Archive,
		policy:     cfg.Policy,
		logger:     cfg.Logger,
	}
}

// Execute applies p for nb and returns the resulting remote record. Every
// error it returns is a *types.SyncError.
//
// Content is written before tags, and the modification time is committed
// last among the content fields, so a failure part way leaves a record that
// the next run plans as stale.
func (e *Executor) Execute(ctx context.Context, nb *types.Notebook, p types.Plan) (*types.RemoteRecord, error) {
	log := e.logger.With().Str("key", nb.Key).Str("action", p.Action.String()).Logger()

	switch {
	case p.Action == types.ActionSkip:
		return p.Remote, nil
	case p.TagsOnly():
		log.Debug().Strs("tags", nb.Tags).Msg("writing tags only")
		return e.writeTags(ctx, nb, p.Remote)
	}

	pages, err := e.produce(ctx, nb)
	if err != nil {
		return nil, err
	}

	rec := p.Remote
	if p.Action == types.ActionCreate {
		rec, err = e.create(ctx, nb)
		if err != nil {
			return nil, err
		}
		log.Info().Str("id", rec.ID).Msg("created remote record")
	}

	rec, err = e.attach(ctx, nb, rec, pages)
	if err != nil {
		return nil, err
	}

	commit := remote.Patch{ModifiedAt: ptr(nb.ModifiedAt)}
	if e.archive != nil {
		link, err := retry.Value(ctx, e.policy, "archive", func(ctx context.Context) (string, error) {
			link, err := e.archive.Upload(ctx, archive.FileName(nb.Key), nb.PDFPath)
			return link, Classify(nb.Key, "archive", err)
		})
		if err != nil {
			return nil, err
		}
		commit.ArchiveURL = &link
		log.Debug().Str("link", link).Msg("archived pdf")
	}
	if rec, err = e.update(ctx, nb.Key, "commit content", rec, commit); err != nil {
		return nil, err
	}

	return e.writeTags(ctx, nb, rec)
}

// produce renders every page, then recognizes every page, keeping page
// order.
func (e *Executor) produce(ctx context.Context, nb *types.Notebook) ([]remote.PageContent, error) {
	if len(nb.Pages) == 0 {
		return nil, &types.SyncError{Key: nb.Key, Op: "render", Kind: types.ErrLocalInput, Err: fmt.Errorf("notebook has no pages")}
	}

	start := time.Now()
	pages := make([]remote.PageContent, len(nb.Pages))
	for i, src := range nb.Pages {
		img, err := retry.Value(ctx, e.policy, "render", func(ctx context.Context) ([]byte, error) {
			img, err := e.renderer.Render(ctx, src)
			return img, Classify(nb.Key, "render", err)
		})
		if err != nil {
			return nil, err
		}
		pages[i] = remote.PageContent{Number: src.Number, Image: img}
	}
	rendered := time.Since(start)

	for i := range pages {
		text, err := retry.Value(ctx, e.policy, "recognize", func(ctx context.Context) (string, error) {
			text, err := e.recognizer.Recognize(ctx, pages[i].Image)
			return text, Classify(nb.Key, "recognize", err)
		})
		if err != nil {
			return nil, err
		}
		pages[i].Text = text
	}

	e.logger.Debug().
		Str("key", nb.Key).
		Int("pages", len(pages)).
		Dur("render", rendered).
		Dur("total", time.Since(start)).
		Msg("pages rendered and recognized")
	return pages, nil
}

// create makes the record. A retry first looks the key up, so a create
// whose response was lost is not repeated. Backend queries can trail a fresh
// write, so a miss is checked once more after one backoff delay; a record
// that stays invisible longer than that is still created twice.
func (e *Executor) create(ctx context.Context, nb *types.Notebook) (*types.RemoteRecord, error) {
	attempt := 0
	var lastErr error
	return retry.Value(ctx, e.policy, "create", func(ctx context.Context) (*types.RemoteRecord, error) {
		attempt++
		if attempt > 1 {
			existing, err := e.committed(ctx, nb.Key, attempt, lastErr)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				e.logger.Warn().Str("key", nb.Key).Str("id", existing.ID).Msg("create already committed, reusing record")
				return existing, nil
			}
		}
		rec, err := e.client.Create(ctx, remote.NewRecord{
			Key:       nb.Key,
			Title:     nb.Name,
			CreatedAt: nb.CreatedAt,
		})
		if err != nil {
			lastErr = Classify(nb.Key, "create", err)
			return nil, lastErr
		}
		return rec, nil
	})
}

// committed looks for a record an earlier create attempt may have written.
func (e *Executor) committed(ctx context.Context, key string, attempt int, lastErr error) (*types.RemoteRecord, error) {
	for i := 0; i < 2; i++ {
		if i > 0 {
			if err := e.policy.Pause(ctx, attempt-1, lastErr); err != nil {
				return nil, Classify(key, "create", err)
			}
		}
		existing, err := e.client.FindByKey(ctx, key)
		if err != nil {
			return nil, Classify(key, "create", err)
		}
		if existing != nil {
			return existing, nil
		}
	}
	return nil, nil
}

// attach adds the page batch, then points the record at it. If the record
// cannot be pointed at the new batch, the batch is removed again so the next
// run does not leave it behind. The previous batch is removed afterwards;
// failing to remove either only logs a warning.
func (e *Executor) attach(ctx context.Context, nb *types.Notebook, rec *types.RemoteRecord, pages []remote.PageContent) (*types.RemoteRecord, error) {
	ref, err := retry.Value(ctx, e.policy, "attach", func(ctx context.Context) (string, error) {
		ref, err := e.client.AttachContent(ctx, rec.ID, nb.Name, pages)
		return ref, Classify(nb.Key, "attach", err)
	})
	if err != nil {
		return nil, err
	}

	old := rec.ContentRef
	count := len(pages)
	linked, err := e.update(ctx, nb.Key, "link content", rec, remote.Patch{PageCount: &count, ContentRef: &ref})
	if err != nil {
		e.removeContent(ctx, nb.Key, rec.ID, ref, "failed to remove unlinked content")
		return nil, err
	}

	if old != "" && old != ref {
		e.removeContent(ctx, nb.Key, linked.ID, old, "failed to remove previous content")
	}
	return linked, nil
}

func (e *Executor) removeContent(ctx context.Context, key, id, ref, msg string) {
	err := e.policy.Do(ctx, "delete content", func(ctx context.Context) error {
		return Classify(key, "delete content", e.client.DeleteContent(ctx, id, ref))
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("key", key).Str("ref", ref).Msg(msg)
	}
}

func (e *Executor) writeTags(ctx context.Context, nb *types.Notebook, rec *types.RemoteRecord) (*types.RemoteRecord, error) {
	if types.SameTags(rec.Tags, nb.Tags) {
		return rec, nil
	}
	tags := append([]string{}, nb.Tags...)
	return e.update(ctx, nb.Key, "write tags", rec, remote.Patch{Tags: &tags})
}

func (e *Executor) update(ctx context.Context, key, op string, rec *types.RemoteRecord, patch remote.Patch) (*types.RemoteRecord, error) {
	err := e.policy.Do(ctx, op, func(ctx context.Context) error {
		return Classify(key, op, e.client.UpdateProperties(ctx, rec.ID, patch))
	})
	if err != nil {
		return nil, err
	}
	return patch.Apply(rec), nil
}

func ptr[T any](v T) *T { return &v }
