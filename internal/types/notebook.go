// Package types holds the data model shared by the reader, planner, executor
// and orchestrator: local notebooks, remote records and sync plans.
package types

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// PageSource identifies one page of a notebook for the renderer.
// Pages are numbered from 1 in document order.
type PageSource struct {
	PDFPath string
	Number  int
}

// Notebook is one local notebook found in the backup root.
// It is built at scan time and never modified during a run.
type Notebook struct {
	// Key is the slash-separated directory path relative to the backup root.
	// It is the identity used to match remote records across runs.
	Key string

	// Name is the notebook's display name (visibleName).
	Name string

	// Folder is the parent folder path of the notebook inside the backup root.
	Folder string

	CreatedAt  time.Time
	ModifiedAt time.Time

	// PDFPath is the archival artifact and the source of every page.
	PDFPath string

	// Pages is the ordered list of page sources.
	Pages []PageSource

	// Tags is the normalized, sorted tag set.
	Tags []string
}

// PageCount returns the number of pages in the notebook.
func (n *Notebook) PageCount() int {
	return len(n.Pages)
}

// NormalizeTime converts t to UTC and truncates it to millisecond precision,
// which is the precision both the tablet metadata and the document database
// keep. Comparing normalized values avoids spurious updates.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Millisecond)
}

// NormalizeTags returns a sorted, de-duplicated tag set in Unicode NFC form.
// Commas are replaced because multi-select option names cannot contain them.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = norm.NFC.String(strings.TrimSpace(tag))
		tag = strings.ReplaceAll(tag, ",", " ")
		tag = strings.Join(strings.Fields(tag), " ")
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// SameTags reports whether a and b contain the same tags, ignoring order,
// duplicates and normalization differences.
func SameTags(a, b []string) bool {
	na, nb := NormalizeTags(a), NormalizeTags(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}
