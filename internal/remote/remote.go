// Package remote defines the contract between the sync engine and the
// document database that holds synced notebook records.
package remote

import (
	"context"
	"time"

	"github.com/mschirtzinger/inksync/internal/schema"
	"github.com/mschirtzinger/inksync/internal/types"
)

// Page is one page of a paginated record listing.
type Page struct {
	Records    []*types.RemoteRecord
	NextCursor string
	HasMore    bool
}

// NewRecord holds the preserve-policy fields written when a record is created.
type NewRecord struct {
	Key       string
	Title     string
	CreatedAt time.Time
}

// Patch is a partial property update. Nil fields are left untouched.
type Patch struct {
	Tags       *[]string
	ModifiedAt *time.Time
	ArchiveURL *string
	PageCount  *int
	ContentRef *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Tags == nil && p.ModifiedAt == nil && p.ArchiveURL == nil && p.PageCount == nil && p.ContentRef == nil
}

// Apply returns a copy of rec with the patch applied.
func (p Patch) Apply(rec *types.RemoteRecord) *types.RemoteRecord {
	out := rec.Clone()
	if p.Tags != nil {
		out.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.ModifiedAt != nil {
		out.ModifiedAt = types.NormalizeTime(*p.ModifiedAt)
	}
	if p.ArchiveURL != nil {
		out.ArchiveURL = *p.ArchiveURL
	}
	if p.PageCount != nil {
		out.PageCount = *p.PageCount
	}
	if p.ContentRef != nil {
		out.ContentRef = *p.ContentRef
	}
	return out
}

// PageContent is the content attached for one notebook page.
type PageContent struct {
	Number int
	Image  []byte
	Text   string
}

// Client is a document-database backend.
//
// Errors returned by a Client should be *APIError values (or wrap one) so
// the executor can classify them.
type Client interface {
	// Name identifies the backend in logs.
	Name() string

	// Verify checks connectivity and credentials.
	Verify(ctx context.Context) error

	// Schema reads the database's property set.
	Schema(ctx context.Context) (schema.Remote, error)

	// EnsureSchema adds the given missing properties.
	EnsureSchema(ctx context.Context, missing []schema.Field) error

	// Query returns one page of records starting at cursor ("" for the first page).
	Query(ctx context.Context, cursor string) (*Page, error)

	// FindByKey returns the record with the given notebook key, or nil.
	FindByKey(ctx context.Context, key string) (*types.RemoteRecord, error)

	// Create creates a record holding only the preserve-policy fields.
	Create(ctx context.Context, rec NewRecord) (*types.RemoteRecord, error)

	// UpdateProperties applies a partial property update.
	UpdateProperties(ctx context.Context, id string, patch Patch) error

	// AttachContent attaches every page to record id in a single
	// all-or-nothing request and returns a reference to the new batch.
	AttachContent(ctx context.Context, id string, title string, pages []PageContent) (string, error)

	// DeleteContent removes a previously attached batch.
	DeleteContent(ctx context.Context, id string, ref string) error
}
