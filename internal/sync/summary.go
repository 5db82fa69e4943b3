package sync

import (
	"errors"
	"fmt"
	"io"
	"sort"
	stdsync "sync"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/inksync/internal/types"
)

// Summary is the outcome of one run.
type Summary struct {
	RunID     string        `json:"run_id" yaml:"run_id"`
	Backend   string        `json:"backend" yaml:"backend"`
	DryRun    bool          `json:"dry_run" yaml:"dry_run"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration_ns" yaml:"duration"`
	Notebooks int           `json:"notebooks" yaml:"notebooks"`
	Created   int           `json:"created" yaml:"created"`
	Updated   int           `json:"updated" yaml:"updated"`
	Skipped   int           `json:"skipped" yaml:"skipped"`
	Failed    int           `json:"failed" yaml:"failed"`
	Cancelled int           `json:"cancelled" yaml:"cancelled"`
	Failures  []Failure     `json:"failures" yaml:"failures"`
	Problems  []Failure     `json:"problems,omitempty" yaml:"problems,omitempty"`
	Outcomes  []Outcome     `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
}

// Failure describes why one notebook could not be synced.
type Failure struct {
	Key     string `json:"key" yaml:"key"`
	Kind    string `json:"kind" yaml:"kind"`
	Op      string `json:"op,omitempty" yaml:"op,omitempty"`
	Field   string `json:"field,omitempty" yaml:"field,omitempty"`
	Message string `json:"message" yaml:"message"`
}

// Outcome is the result for one notebook.
type Outcome struct {
	Key    string `json:"key" yaml:"key"`
	Status Status `json:"status" yaml:"status"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Status is the final state of one notebook in a run.
type Status string

// Notebook statuses.
const (
	StatusStarted   Status = "started"
	StatusCreated   Status = "created"
	StatusUpdated   Status = "updated"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// OK reports whether the run recorded no failures.
func (s *Summary) OK() bool { return s.Failed == 0 }

// Changed is the number of records created or updated.
func (s *Summary) Changed() int { return s.Created + s.Updated }

// NewFailure builds a Failure from a classified error.
func NewFailure(key string, err error) Failure {
	f := Failure{Key: key, Kind: types.KindName(err), Message: err.Error()}
	var serr *types.SyncError
	if errors.As(err, &serr) {
		f.Op = serr.Op
		f.Field = serr.Field
		if serr.Err != nil {
			f.Message = serr.Err.Error()
		}
	}
	return f
}

// tally is the run's summary accumulator. Workers report into it
// concurrently; all counters change under mu.
type tally struct {
	mu stdsync.Mutex
	s  Summary
}

func (t *tally) record(o Outcome, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch o.Status {
	case StatusCreated:
		t.s.Created++
	case StatusUpdated:
		t.s.Updated++
	case StatusSkipped:
		t.s.Skipped++
	case StatusCancelled:
		t.s.Cancelled++
	case StatusFailed:
		t.s.Failed++
		t.s.Failures = append(t.s.Failures, NewFailure(o.Key, err))
	}
	t.s.Outcomes = append(t.s.Outcomes, o)
}

// problem records a notebook that could not be read. It counts as skipped.
func (t *tally) problem(key string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Skipped++
	t.s.Problems = append(t.s.Problems, NewFailure(key, err))
	t.s.Outcomes = append(t.s.Outcomes, Outcome{Key: key, Status: StatusSkipped, Reason: err.Error()})
}

func (t *tally) finish(start time.Time) *Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.s
	s.Duration = time.Since(start)
	sort.Slice(s.Failures, func(i, j int) bool { return s.Failures[i].Key < s.Failures[j].Key })
	sort.Slice(s.Problems, func(i, j int) bool { return s.Problems[i].Key < s.Problems[j].Key })
	sort.Slice(s.Outcomes, func(i, j int) bool { return s.Outcomes[i].Key < s.Outcomes[j].Key })
	if s.Failures == nil {
		s.Failures = []Failure{}
	}
	return &s
}

// Output formats for WriteSummary.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// WriteSummary encodes s as JSON or YAML. Text output is rendered by
// package ui.
func WriteSummary(w io.Writer, s *Summary, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported summary format %q", format)
	}
}
