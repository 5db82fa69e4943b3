// Package notebook reads notebooks out of a tablet backup directory.
//
// A backup root holds one directory per notebook, optionally nested inside
// folder directories. A notebook directory contains three files sharing one
// document ID:
//
//	<id>.metadata   JSON: visibleName, createdTime, lastModified, type, deleted
//	<id>.content    JSON: tags, pageCount, pages or cPages.pages
//	<id>.pdf        the archival artifact; page n is page source n
package notebook

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

const (
	// DocumentType marks a notebook or document entry.
	DocumentType = "DocumentType"
	// CollectionType marks a folder entry; it is never synced.
	CollectionType = "CollectionType"
)

// EpochMillis is a Unix time in milliseconds. The tablet writes it either as
// a JSON string or a JSON number depending on firmware version.
type EpochMillis int64

// UnmarshalJSON accepts both "1700000000000" and 1700000000000.
func (e *EpochMillis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*e = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*e = 0
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid epoch milliseconds %q: %w", data, err)
	}
	*e = EpochMillis(n)
	return nil
}

// Time returns the timestamp as a UTC time, or the zero time for 0.
func (e EpochMillis) Time() time.Time {
	if e == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(e)).UTC()
}

// MetadataFile is the <id>.metadata document.
type MetadataFile struct {
	VisibleName  string      `json:"visibleName"`
	Type         string      `json:"type"`
	Parent       string      `json:"parent,omitempty"`
	Deleted      bool        `json:"deleted,omitempty"`
	CreatedTime  EpochMillis `json:"createdTime,omitempty"`
	LastModified EpochMillis `json:"lastModified"`
}

// Validate checks the fields a notebook needs.
func (m *MetadataFile) Validate() error {
	if m.VisibleName == "" {
		return fmt.Errorf("visibleName is required")
	}
	if m.LastModified == 0 {
		return fmt.Errorf("lastModified is required")
	}
	if m.Type != "" && m.Type != DocumentType && m.Type != CollectionType {
		return fmt.Errorf("unknown type %q", m.Type)
	}
	return nil
}

// IsNotebook reports whether the entry should be synced.
func (m *MetadataFile) IsNotebook() bool {
	return !m.Deleted && m.Type != CollectionType
}

// Tag is one entry of the content file's tag list.
type Tag struct {
	Name      string      `json:"name"`
	Timestamp EpochMillis `json:"timestamp,omitempty"`
}

// ContentFile is the <id>.content document. Only the fields needed for
// syncing are decoded.
type ContentFile struct {
	Tags      []Tag    `json:"tags,omitempty"`
	PageCount int      `json:"pageCount,omitempty"`
	Pages     []string `json:"pages,omitempty"`
	CPages    *struct {
		Pages []struct {
			ID      string `json:"id"`
			Deleted *struct {
				Value int `json:"value"`
			} `json:"deleted,omitempty"`
		} `json:"pages"`
	} `json:"cPages,omitempty"`
}

// Count returns the page count, preferring the explicit pageCount field and
// falling back to the page lists of older and newer formats.
func (c *ContentFile) Count() int {
	if c.PageCount > 0 {
		return c.PageCount
	}
	if c.CPages != nil {
		n := 0
		for _, p := range c.CPages.Pages {
			if p.Deleted != nil && p.Deleted.Value != 0 {
				continue
			}
			n++
		}
		if n > 0 {
			return n
		}
	}
	return len(c.Pages)
}

// TagNames returns the raw tag names.
func (c *ContentFile) TagNames() []string {
	names := make([]string, 0, len(c.Tags))
	for _, t := range c.Tags {
		names = append(names, t.Name)
	}
	return names
}

// ReadMetadataFile reads and validates a metadata file.
func ReadMetadataFile(path string) (*MetadataFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file %s: %w", path, err)
	}
	var m MetadataFile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse metadata file %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata file %s: %w", path, err)
	}
	return &m, nil
}

// ReadContentFile reads a content file.
func ReadContentFile(path string) (*ContentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read content file %s: %w", path, err)
	}
	var c ContentFile
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse content file %s: %w", path, err)
	}
	return &c, nil
}
