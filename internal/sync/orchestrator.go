package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/inksync/internal/index"
	"github.com/mschirtzinger/inksync/internal/notebook"
	"github.com/mschirtzinger/inksync/internal/plan"
	"github.com/mschirtzinger/inksync/internal/remote"
	"github.com/mschirtzinger/inksync/internal/retry"
	"github.com/mschirtzinger/inksync/internal/types"
)

// DefaultWorkers is the pool size used when Options.Workers is unset.
const DefaultWorkers = 4

// ReasonBeforeSince is the skip reason for notebooks filtered by Options.Since.
const ReasonBeforeSince = "before --since cutoff"

// Scanner enumerates the local notebooks of a backup.
type Scanner interface {
	Root() string
	Scan(ctx context.Context) ([]*types.Notebook, []notebook.Problem, error)
}

// Event reports progress for one notebook.
type Event struct {
	RunID  string    `json:"run_id"`
	Key    string    `json:"key"`
	Action string    `json:"action,omitempty"`
	Status Status    `json:"status"`
	Reason string    `json:"reason,omitempty"`
	Kind   string    `json:"kind,omitempty"`
	Time   time.Time `json:"time"`
}

// Observer receives events while a run is in progress. Observe is called
// from worker goroutines and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(e Event) { f(e) }

// Options control one run.
type Options struct {
	Workers int
	DryRun  bool

	// Since skips notebooks last modified before it. Zero disables.
	Since time.Time

	Observer Observer
}

// Orchestrator drives one full sync run: it loads the remote index, scans
// the backup, plans every notebook and executes the plans on a bounded
// worker pool.
type Orchestrator struct {
	scanner Scanner
	client  remote.Client
	exec    *Executor
	policy  retry.Policy
	logger  zerolog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(scanner Scanner, client remote.Client, exec *Executor, policy retry.Policy, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		scanner: scanner,
		client:  client,
		exec:    exec,
		policy:  policy,
		logger:  logger,
	}
}

// Run performs one run. It returns an error only when the run could not
// start: the remote index failed to load or the backup root could not be
// scanned. Per-notebook failures are recorded in the summary.
//
// Cancelling ctx stops new notebooks from starting; notebooks already in
// progress run to completion.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Summary, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := o.logger.With().Str("run_id", runID).Logger()

	workers := opts.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}

	idx, err := index.Load(ctx, o.client, o.policy, log)
	if err != nil {
		return nil, err
	}

	notebooks, problems, err := o.scanner.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", o.scanner.Root(), err)
	}

	t := &tally{s: Summary{
		RunID:     runID,
		Backend:   o.client.Name(),
		DryRun:    opts.DryRun,
		StartedAt: start.UTC(),
		Notebooks: len(notebooks) + len(problems),
	}}

	for _, p := range problems {
		log.Warn().Err(p.Err).Str("key", p.Key).Msg("skipping unreadable notebook")
		t.problem(p.Key, &types.SyncError{Key: p.Key, Op: "read", Kind: types.ErrLocalInput, Err: p.Err})
		o.emit(opts, Event{RunID: runID, Key: p.Key, Status: StatusSkipped, Reason: p.Err.Error(), Kind: types.KindName(types.ErrLocalInput)})
	}

	log.Info().
		Int("notebooks", len(notebooks)).
		Int("remote", idx.Len()).
		Int("workers", workers).
		Bool("dry_run", opts.DryRun).
		Msg("sync started")

	// In-flight notebooks keep running after cancellation so no record is
	// left half written.
	work := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(workers)
	for i, nb := range notebooks {
		if ctx.Err() != nil {
			for _, rest := range notebooks[i:] {
				o.cancelled(t, opts, runID, rest.Key)
			}
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				o.cancelled(t, opts, runID, nb.Key)
				return nil
			}
			o.process(work, t, opts, runID, idx, nb, log)
			return nil
		})
	}
	_ = g.Wait()

	s := t.finish(start)
	log.Info().
		Int("created", s.Created).
		Int("updated", s.Updated).
		Int("skipped", s.Skipped).
		Int("failed", s.Failed).
		Int("cancelled", s.Cancelled).
		Dur("duration", s.Duration).
		Msg("sync finished")
	return s, nil
}

func (o *Orchestrator) process(ctx context.Context, t *tally, opts Options, runID string, idx *index.Index, nb *types.Notebook, log zerolog.Logger) {
	rec, _ := idx.Lookup(nb.Key)

	if !opts.Since.IsZero() && nb.ModifiedAt.Before(opts.Since) {
		o.finishOne(t, opts, runID, Outcome{Key: nb.Key, Status: StatusSkipped, Reason: ReasonBeforeSince}, "", nil)
		return
	}

	p := plan.Plan(nb, rec)
	log.Debug().Str("key", nb.Key).Str("action", p.Action.String()).Str("reason", p.Reason).Msg("planned")

	outcome := Outcome{Key: nb.Key, Reason: p.Reason}
	switch p.Action {
	case types.ActionSkip:
		outcome.Status = StatusSkipped
		o.finishOne(t, opts, runID, outcome, p.Action.String(), nil)
		return
	case types.ActionCreate:
		outcome.Status = StatusCreated
	default:
		outcome.Status = StatusUpdated
	}

	if opts.DryRun {
		o.finishOne(t, opts, runID, outcome, p.Action.String(), nil)
		return
	}

	o.emit(opts, Event{RunID: runID, Key: nb.Key, Action: p.Action.String(), Status: StatusStarted, Reason: p.Reason})
	started := time.Now()
	if _, err := o.exec.Execute(ctx, nb, p); err != nil {
		if errors.Is(err, types.ErrLocalInput) {
			log.Warn().Err(err).Str("key", nb.Key).Msg("skipping notebook with unusable pages")
			t.problem(nb.Key, err)
			o.emit(opts, Event{
				RunID:  runID,
				Key:    nb.Key,
				Action: p.Action.String(),
				Status: StatusSkipped,
				Reason: err.Error(),
				Kind:   types.KindName(err),
			})
			return
		}
		log.Error().
			Err(err).
			Str("key", nb.Key).
			Str("kind", types.KindName(err)).
			Msg("notebook failed")
		outcome.Status = StatusFailed
		outcome.Reason = err.Error()
		o.finishOne(t, opts, runID, outcome, p.Action.String(), err)
		return
	}
	log.Info().
		Str("key", nb.Key).
		Str("action", p.Action.String()).
		Str("reason", p.Reason).
		Dur("elapsed", time.Since(started)).
		Msg("notebook synced")
	o.finishOne(t, opts, runID, outcome, p.Action.String(), nil)
}

func (o *Orchestrator) finishOne(t *tally, opts Options, runID string, out Outcome, action string, err error) {
	t.record(out, err)
	ev := Event{RunID: runID, Key: out.Key, Action: action, Status: out.Status, Reason: out.Reason}
	if err != nil {
		ev.Kind = types.KindName(err)
	}
	o.emit(opts, ev)
}

func (o *Orchestrator) cancelled(t *tally, opts Options, runID, key string) {
	o.finishOne(t, opts, runID, Outcome{Key: key, Status: StatusCancelled, Reason: "run cancelled"}, "", nil)
}

func (o *Orchestrator) emit(opts Options, ev Event) {
	if opts.Observer == nil {
		return
	}
	ev.Time = time.Now().UTC()
	opts.Observer.Observe(ev)
}

// IsFatal reports whether err from Run means the run could not start
// because the remote side is unreachable.
func IsFatal(err error) bool {
	return errors.Is(err, types.ErrRemoteUnavailable)
}
