// Package schema declares the fixed set of properties a synced remote record
// carries. The remote database is checked against it once at startup.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mschirtzinger/inksync/internal/types"
)

// PropertyType is a document-database property type.
type PropertyType string

const (
	Title       PropertyType = "title"
	RichText    PropertyType = "rich_text"
	MultiSelect PropertyType = "multi_select"
	Date        PropertyType = "date"
	URL         PropertyType = "url"
	Number      PropertyType = "number"
)

// Policy states how a field is written on update.
type Policy int

const (
	// Overwrite replaces the remote value with local state.
	Overwrite Policy = iota
	// Preserve writes the value on create and never touches it afterwards.
	Preserve
)

func (p Policy) String() string {
	if p == Preserve {
		return "preserve"
	}
	return "overwrite"
}

// Property names of the synced fields. The title property keeps whatever
// name the database already uses.
const (
	KeyProperty          = "Notebook Key"
	TagsProperty         = "Tags"
	CreatedProperty      = "Created"
	ModifiedProperty     = "Last Modified"
	ModifiedMsProperty   = "Modified Ms"
	ArchiveProperty      = "PDF Link"
	PagesProperty        = "Pages"
	ContentProperty      = "Content Block"
	DefaultTitleProperty = "Name"
)

// Field is one synced property.
type Field struct {
	Name   string
	Type   PropertyType
	Policy Policy
}

// Fields is the static synced field table, excluding the title.
// ModifiedMsProperty holds the modification time in epoch milliseconds,
// because backends may store dates at a coarser precision.
var Fields = []Field{
	{Name: KeyProperty, Type: RichText, Policy: Preserve},
	{Name: TagsProperty, Type: MultiSelect, Policy: Overwrite},
	{Name: CreatedProperty, Type: Date, Policy: Preserve},
	{Name: ModifiedProperty, Type: Date, Policy: Overwrite},
	{Name: ModifiedMsProperty, Type: Number, Policy: Overwrite},
	{Name: ArchiveProperty, Type: URL, Policy: Overwrite},
	{Name: PagesProperty, Type: Number, Policy: Overwrite},
	{Name: ContentProperty, Type: RichText, Policy: Overwrite},
}

// Lookup returns the field with the given name.
func Lookup(name string) (Field, bool) {
	for _, f := range Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Remote describes the properties a remote database actually has.
type Remote struct {
	// Properties maps property name to type.
	Properties map[string]PropertyType
}

// TitleProperty returns the name of the remote title property.
func (r Remote) TitleProperty() (string, bool) {
	names := make([]string, 0, len(r.Properties))
	for name := range r.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if r.Properties[name] == Title {
			return name, true
		}
	}
	return "", false
}

// Missing returns the fields absent from the remote database.
func (r Remote) Missing() []Field {
	var missing []Field
	for _, f := range Fields {
		if _, ok := r.Properties[f.Name]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// Check verifies that every synced field exists with the declared type and
// that the database has a title property. It returns a validation
// SyncError naming the first offending field.
func Check(r Remote) error {
	if _, ok := r.TitleProperty(); !ok {
		return &types.SyncError{Op: "check schema", Kind: types.ErrValidation, Field: "title", Err: fmt.Errorf("database has no title property")}
	}
	for _, f := range Fields {
		got, ok := r.Properties[f.Name]
		if !ok {
			return &types.SyncError{Op: "check schema", Kind: types.ErrValidation, Field: f.Name, Err: fmt.Errorf("property is missing")}
		}
		if got != f.Type {
			return &types.SyncError{
				Op:    "check schema",
				Kind:  types.ErrValidation,
				Field: f.Name,
				Err:   fmt.Errorf("property has type %s, want %s", got, f.Type),
			}
		}
	}
	return nil
}

// Describe renders the field table, one field per line.
func Describe() string {
	var b strings.Builder
	for _, f := range Fields {
		fmt.Fprintf(&b, "%-14s %-13s %s\n", f.Name, f.Type, f.Policy)
	}
	return b.String()
}
