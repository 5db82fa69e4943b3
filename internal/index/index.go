// Package index holds the point-in-time snapshot of remote records a run
// plans against.
//
// The snapshot is built once by Load and never refreshed during a run, so
// lookups are safe from any number of workers without locking. Concurrent
// edits made by other writers during a run are not observed.
package index

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/inksync/internal/remote"
	"github.com/mschirtzinger/inksync/internal/retry"
	"github.com/mschirtzinger/inksync/internal/types"
)

// Index maps notebook keys to remote records.
type Index struct {
	records map[string]*types.RemoteRecord
	ignored int
}

// New builds an index from already-fetched records. Records without a key
// are ignored; when a key repeats, the most recently modified record wins.
func New(records []*types.RemoteRecord, logger zerolog.Logger) *Index {
	idx := &Index{records: make(map[string]*types.RemoteRecord, len(records))}
	for _, rec := range records {
		idx.add(rec, logger)
	}
	return idx
}

func (idx *Index) add(rec *types.RemoteRecord, logger zerolog.Logger) {
	if rec == nil || rec.Key == "" {
		idx.ignored++
		return
	}
	prev, ok := idx.records[rec.Key]
	if !ok {
		idx.records[rec.Key] = rec
		return
	}
	keep, drop := prev, rec
	if rec.ModifiedAt.After(prev.ModifiedAt) {
		keep, drop = rec, prev
	}
	logger.Warn().
		Str("key", rec.Key).
		Str("kept", keep.ID).
		Str("ignored", drop.ID).
		Msg("duplicate remote records for one notebook")
	idx.records[rec.Key] = keep
}

// Load pages through the backend's listing until it is exhausted. Each page
// request runs under policy. Any failure that survives the retries is
// reported as types.ErrRemoteUnavailable.
func Load(ctx context.Context, client remote.Client, policy retry.Policy, logger zerolog.Logger) (*Index, error) {
	idx := &Index{records: make(map[string]*types.RemoteRecord)}

	cursor := ""
	pages := 0
	for {
		page, err := retry.Value(ctx, policy, "query", func(ctx context.Context) (*remote.Page, error) {
			p, err := client.Query(ctx, cursor)
			if err != nil {
				return nil, classifyLoad(err)
			}
			return p, nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to list %s records after %d pages: %v", types.ErrRemoteUnavailable, client.Name(), pages, err)
		}
		pages++
		for _, rec := range page.Records {
			idx.add(rec, logger)
		}
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	logger.Info().
		Str("backend", client.Name()).
		Int("records", len(idx.records)).
		Int("pages", pages).
		Int("ignored", idx.ignored).
		Msg("remote index loaded")
	return idx, nil
}

// classifyLoad marks errors that the retry policy should retry.
func classifyLoad(err error) error {
	if apiErr, ok := remote.AsAPIError(err); ok && apiErr.IsTransient() {
		return fmt.Errorf("%w: %w", types.ErrTransient, err)
	}
	return err
}

// Lookup returns the record synced from the notebook with the given key.
func (idx *Index) Lookup(key string) (*types.RemoteRecord, bool) {
	rec, ok := idx.records[key]
	return rec, ok
}

// Len returns the number of indexed keys.
func (idx *Index) Len() int {
	return len(idx.records)
}

// Ignored returns the number of records skipped for having no key.
func (idx *Index) Ignored() int {
	return idx.ignored
}

// Keys returns every indexed key in no particular order.
func (idx *Index) Keys() []string {
	keys := make([]string, 0, len(idx.records))
	for k := range idx.records {
		keys = append(keys, k)
	}
	return keys
}
