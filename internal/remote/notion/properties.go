package notion

import (
	"strings"
	"time"

	"github.com/mschirtzinger/inksync/internal/remote"
	"github.com/mschirtzinger/inksync/internal/schema"
	"github.com/mschirtzinger/inksync/internal/types"
)

// maxTextLength is the Notion limit for one rich text object.
const maxTextLength = 2000

type errorObject struct {
	Object  string `json:"object"`
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type richText struct {
	Type      string     `json:"type,omitempty"`
	Text      *textValue `json:"text,omitempty"`
	PlainText string     `json:"plain_text,omitempty"`
}

type textValue struct {
	Content string `json:"content"`
}

type selectOption struct {
	Name string `json:"name"`
}

type dateObject struct {
	Start string `json:"start"`
}

type propertyValue struct {
	Type        string         `json:"type"`
	Title       []richText     `json:"title,omitempty"`
	RichText    []richText     `json:"rich_text,omitempty"`
	MultiSelect []selectOption `json:"multi_select,omitempty"`
	Date        *dateObject    `json:"date,omitempty"`
	URL         *string        `json:"url,omitempty"`
	Number      *float64       `json:"number,omitempty"`
}

type pageObject struct {
	Object         string                   `json:"object"`
	ID             string                   `json:"id"`
	Archived       bool                     `json:"archived"`
	InTrash        bool                     `json:"in_trash"`
	LastEditedTime string                   `json:"last_edited_time"`
	Properties     map[string]propertyValue `json:"properties"`
}

type databaseProperty struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type databaseObject struct {
	ID         string                      `json:"id"`
	Title      []richText                  `json:"title"`
	Properties map[string]databaseProperty `json:"properties"`
}

func (d *databaseObject) plainTitle() string {
	return plain(d.Title)
}

type textFilter struct {
	Equals string `json:"equals"`
}

type propertyFilter struct {
	Property string      `json:"property"`
	RichText *textFilter `json:"rich_text,omitempty"`
}

type queryRequest struct {
	PageSize    int             `json:"page_size,omitempty"`
	StartCursor string          `json:"start_cursor,omitempty"`
	Filter      *propertyFilter `json:"filter,omitempty"`
}

type queryResponse struct {
	Results    []pageObject `json:"results"`
	HasMore    bool         `json:"has_more"`
	NextCursor *string      `json:"next_cursor"`
}

type parent struct {
	DatabaseID string `json:"database_id"`
}

type createPageRequest struct {
	Parent     parent         `json:"parent"`
	Properties map[string]any `json:"properties"`
}

// record decodes the synced fields of a page. Missing or mistyped
// properties decode to zero values.
func (p *pageObject) record() *types.RemoteRecord {
	rec := &types.RemoteRecord{ID: p.ID}
	var modifiedMs *float64
	for name, prop := range p.Properties {
		switch {
		case prop.Type == "title":
			rec.Title = plain(prop.Title)
		case name == schema.KeyProperty && prop.Type == "rich_text":
			rec.Key = plain(prop.RichText)
		case name == schema.TagsProperty && prop.Type == "multi_select":
			tags := make([]string, 0, len(prop.MultiSelect))
			for _, o := range prop.MultiSelect {
				tags = append(tags, o.Name)
			}
			rec.Tags = types.NormalizeTags(tags)
		case name == schema.CreatedProperty && prop.Type == "date" && prop.Date != nil:
			rec.CreatedAt = parseDate(prop.Date.Start)
		case name == schema.ModifiedProperty && prop.Type == "date" && prop.Date != nil:
			rec.ModifiedAt = parseDate(prop.Date.Start)
		case name == schema.ArchiveProperty && prop.Type == "url" && prop.URL != nil:
			rec.ArchiveURL = *prop.URL
		case name == schema.PagesProperty && prop.Type == "number" && prop.Number != nil:
			rec.PageCount = int(*prop.Number)
		case name == schema.ModifiedMsProperty && prop.Type == "number":
			modifiedMs = prop.Number
		case name == schema.ContentProperty && prop.Type == "rich_text":
			rec.ContentRef = plain(prop.RichText)
		}
	}
	// Notion keeps date properties to the minute.
	if modifiedMs != nil && *modifiedMs > 0 {
		rec.ModifiedAt = types.NormalizeTime(time.UnixMilli(int64(*modifiedMs)))
	}
	return rec
}

func plain(rt []richText) string {
	var b strings.Builder
	for _, t := range rt {
		switch {
		case t.PlainText != "":
			b.WriteString(t.PlainText)
		case t.Text != nil:
			b.WriteString(t.Text.Content)
		}
	}
	return b.String()
}

// parseDate accepts full timestamps and bare dates.
func parseDate(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return types.NormalizeTime(t)
		}
	}
	return time.Time{}
}

func formatDate(t time.Time) string {
	return types.NormalizeTime(t).Format("2006-01-02T15:04:05.000Z07:00")
}

// splitText cuts s into chunks of at most maxTextLength runes.
func splitText(s string) []string {
	if s == "" {
		return nil
	}
	var chunks []string
	runes := []rune(s)
	for len(runes) > maxTextLength {
		chunks = append(chunks, string(runes[:maxTextLength]))
		runes = runes[maxTextLength:]
	}
	return append(chunks, string(runes))
}

func textObjects(s string) []richText {
	chunks := splitText(s)
	out := make([]richText, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, richText{Type: "text", Text: &textValue{Content: c}})
	}
	return out
}

func titleValue(s string) map[string]any {
	return map[string]any{"title": textObjects(s)}
}

func richTextValue(s string) map[string]any {
	return map[string]any{"rich_text": textObjects(s)}
}

func dateValue(t time.Time) map[string]any {
	if t.IsZero() {
		return map[string]any{"date": nil}
	}
	return map[string]any{"date": dateObject{Start: formatDate(t)}}
}

func millisValue(t time.Time) map[string]any {
	if t.IsZero() {
		return map[string]any{"number": nil}
	}
	return map[string]any{"number": t.UnixMilli()}
}

func patchProperties(p remote.Patch) map[string]any {
	props := make(map[string]any)
	if p.Tags != nil {
		opts := make([]selectOption, 0, len(*p.Tags))
		for _, tag := range types.NormalizeTags(*p.Tags) {
			opts = append(opts, selectOption{Name: tag})
		}
		props[schema.TagsProperty] = map[string]any{"multi_select": opts}
	}
	if p.ModifiedAt != nil {
		props[schema.ModifiedProperty] = dateValue(*p.ModifiedAt)
		props[schema.ModifiedMsProperty] = millisValue(*p.ModifiedAt)
	}
	if p.ArchiveURL != nil {
		if *p.ArchiveURL == "" {
			props[schema.ArchiveProperty] = map[string]any{"url": nil}
		} else {
			props[schema.ArchiveProperty] = map[string]any{"url": *p.ArchiveURL}
		}
	}
	if p.PageCount != nil {
		props[schema.PagesProperty] = map[string]any{"number": *p.PageCount}
	}
	if p.ContentRef != nil {
		props[schema.ContentProperty] = richTextValue(*p.ContentRef)
	}
	return props
}

// propertySchema returns the database property definition for t.
func propertySchema(t schema.PropertyType) map[string]any {
	switch t {
	case schema.MultiSelect:
		return map[string]any{"multi_select": map[string]any{"options": []any{}}}
	case schema.Number:
		return map[string]any{"number": map[string]any{"format": "number"}}
	default:
		return map[string]any{string(t): map[string]any{}}
	}
}
