package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mschirtzinger/inksync/internal/sync"
)

// RenderSummary renders a run summary for humans.
func RenderSummary(s *sync.Summary) string {
	var b strings.Builder

	title := "Sync complete"
	if s.DryRun {
		title = "Dry run complete (no changes written)"
	}
	fmt.Fprintf(&b, "%s %s\n", RenderBold(title), RenderMuted(fmt.Sprintf("[%s, run %s, %s]", s.Backend, shortID(s.RunID), s.Duration.Round(time.Millisecond))))

	created, updated := "created", "updated"
	if s.DryRun {
		created, updated = "would create", "would update"
	}
	counts := []struct {
		label string
		n     int
	}{
		{"notebooks", s.Notebooks},
		{created, s.Created},
		{updated, s.Updated},
		{"skipped", s.Skipped},
		{"failed", s.Failed},
	}
	if s.Cancelled > 0 {
		counts = append(counts, struct {
			label string
			n     int
		}{"cancelled", s.Cancelled})
	}
	for _, c := range counts {
		fmt.Fprintf(&b, "  %-13s %s\n", c.label, RenderAccent(fmt.Sprint(c.n)))
	}

	if len(s.Problems) > 0 {
		b.WriteString("\n" + RenderBold("Unreadable notebooks") + "\n")
		for _, p := range s.Problems {
			fmt.Fprintf(&b, "  %s %s\n", RenderWarn(p.Key), RenderMuted(p.Message))
		}
	}

	if len(s.Failures) > 0 {
		b.WriteString("\n" + RenderBold("Failures") + "\n")
		for _, f := range s.Failures {
			detail := f.Kind
			if f.Field != "" {
				detail += ", field " + f.Field
			}
			if f.Op != "" {
				detail += ", " + f.Op
			}
			fmt.Fprintf(&b, "  %s %s\n      %s\n", RenderFail(f.Key), RenderMuted("("+detail+")"), f.Message)
		}
	} else if s.OK() {
		b.WriteString("\n" + RenderPass("all notebooks in sync") + "\n")
	}
	return b.String()
}

// WriteSummary writes s in the given format. Text goes through
// RenderSummary; json and yaml are handled by the sync package.
func WriteSummary(w io.Writer, s *sync.Summary, format string) error {
	if format == "" || format == sync.FormatText {
		_, err := io.WriteString(w, RenderSummary(s))
		return err
	}
	return sync.WriteSummary(w, s, format)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
