package types

import "time"

// RemoteRecord is the document-database representation of a synced notebook.
//
// Records are read once per run into the remote index and are only changed
// by the sync executor. This system never deletes them.
type RemoteRecord struct {
	// ID is the backend's record identifier (a Notion page ID, a mirror UUID).
	ID string

	// Key matches Notebook.Key.
	Key string

	Title      string
	CreatedAt  time.Time
	ModifiedAt time.Time
	Tags       []string

	// ArchiveURL is the durable link to the archival PDF, empty if never uploaded.
	ArchiveURL string

	// PageCount is the number of page images in the committed content batch.
	PageCount int

	// ContentRef identifies the committed content batch (a container block ID
	// for Notion). Empty when no content has been attached yet.
	ContentRef string
}

// Clone returns a deep copy of r.
func (r *RemoteRecord) Clone() *RemoteRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Tags = append([]string(nil), r.Tags...)
	return &c
}
