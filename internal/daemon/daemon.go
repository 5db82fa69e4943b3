// Package daemon runs sync repeatedly while watching the backup root.
//
// The daemon:
//  1. Runs once at startup
//  2. Watches the backup root for notebook file changes
//  3. Runs again once changes have been quiet for the debounce interval
//  4. Runs periodically regardless of changes
//
// Runs never overlap. Changes seen during a run trigger one more run after
// it.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Run reasons passed to RunFunc.
const (
	ReasonStartup  = "startup"
	ReasonChange   = "change"
	ReasonPeriodic = "periodic"
)

// RunFunc performs one sync run. A returned error is logged; the daemon
// keeps going.
type RunFunc func(ctx context.Context, reason string) error

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long the backup must stay unchanged before a
	// change triggers a run. A tablet backup writes many files at once.
	DebounceInterval time.Duration

	// Interval is the period of full runs. Zero disables periodic runs.
	Interval time.Duration

	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceInterval: 5 * time.Second,
		Interval:         time.Hour,
		Logger:           zerolog.Nop(),
	}
}

// Daemon orchestrates file watching and sync runs.
type Daemon struct {
	root   string
	run    RunFunc
	config Config

	watcher *FileWatcher

	mu         sync.Mutex
	lastChange time.Time
	pending    bool
	runs       int
}

// New creates a daemon for the backup at root.
func New(root string, run RunFunc, config Config) (*Daemon, error) {
	if root == "" {
		return nil, fmt.Errorf("backup root cannot be empty")
	}
	if run == nil {
		return nil, fmt.Errorf("run function cannot be nil")
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	return &Daemon{
		root:    root,
		run:     run,
		config:  config,
		watcher: watcher,
	}, nil
}

// Start runs once, then watches and re-runs until ctx is cancelled. It
// returns nil on cancellation.
func (d *Daemon) Start(ctx context.Context) error {
	log := d.config.Logger
	log.Info().Str("root", d.root).Dur("debounce", d.config.DebounceInterval).Dur("interval", d.config.Interval).Msg("starting watch")

	if err := d.watcher.Start(d.root); err != nil {
		_ = d.watcher.Stop()
		return err
	}
	defer func() {
		if err := d.watcher.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop watcher")
		}
		log.Info().Int("runs", d.Runs()).Msg("watch stopped")
	}()

	d.runOnce(ctx, ReasonStartup)

	tick := d.config.DebounceInterval / 2
	if tick <= 0 {
		tick = d.config.DebounceInterval
	}
	debounce := time.NewTicker(tick)
	defer debounce.Stop()

	var periodic <-chan time.Time
	if d.config.Interval > 0 {
		t := time.NewTicker(d.config.Interval)
		defer t.Stop()
		periodic = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-d.watcher.Events():
			if !ok {
				return nil
			}
			log.Debug().Str("key", ev.Key).Str("path", ev.Path).Str("op", ev.Op.String()).Msg("backup changed")
			d.queueChange()

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watcher error")

		case <-debounce.C:
			if d.due(time.Now()) {
				d.runOnce(ctx, ReasonChange)
			}

		case <-periodic:
			d.runOnce(ctx, ReasonPeriodic)
		}
	}
}

func (d *Daemon) queueChange() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastChange = time.Now()
	d.pending = true
}

// due reports whether queued changes have been quiet long enough.
func (d *Daemon) due(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending && now.Sub(d.lastChange) >= d.config.DebounceInterval
}

func (d *Daemon) runOnce(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	d.mu.Lock()
	d.pending = false
	d.runs++
	d.mu.Unlock()

	start := time.Now()
	if err := d.run(ctx, reason); err != nil {
		d.config.Logger.Error().Err(err).Str("reason", reason).Msg("sync run failed")
		return
	}
	d.config.Logger.Debug().Str("reason", reason).Dur("elapsed", time.Since(start)).Msg("sync run done")
}

// Runs returns the number of runs started so far.
func (d *Daemon) Runs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}
