package notion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/mschirtzinger/inksync/internal/plan"
	"github.com/mschirtzinger/inksync/internal/remote"
	"github.com/mschirtzinger/inksync/internal/schema"
	"github.com/mschirtzinger/inksync/internal/types"
)

const testDatabase = "db0123"

// fakeNotion is an in-memory stand-in for the subset of the API the client uses.
type fakeNotion struct {
	mu         stdsync.Mutex
	props      map[string]string
	pages      map[string]map[string]any
	order      []string
	blocks     map[string][]string
	uploads    map[string][]byte
	nextID     int
	failAppend bool
	failStatus int
	auth       []string

	// minuteDates stores date properties truncated to the minute.
	minuteDates bool
	// loseAppend commits appended blocks, then answers with a timeout.
	loseAppend  bool
}

func newFakeNotion() *fakeNotion {
	props := map[string]string{"Name": "title"}
	for _, f := range schema.Fields {
		props[f.Name] = string(f.Type)
	}
	return &fakeNotion{
		props:   props,
		pages:   make(map[string]map[string]any),
		blocks:  make(map[string][]string),
		uploads: make(map[string][]byte),
	}
}

func (f *fakeNotion) set(fn func(f *fakeNotion)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeNotion) counts(parentID string) (uploads, children int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads), len(f.blocks[parentID])
}

func (f *fakeNotion) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"object": "error", "status": status, "code": code, "message": msg})
}

func (f *fakeNotion) router(t *testing.T) http.Handler {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			f.auth = append(f.auth, req.Header.Get("Authorization"))
			fail := f.failStatus
			f.mu.Unlock()
			if fail != 0 {
				w.Header().Set("Retry-After", "2")
				writeError(w, fail, "rate_limited", "slow down")
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.HandleFunc("/databases/{id}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if req.Method == http.MethodPatch {
			var body struct {
				Properties map[string]map[string]any `json:"properties"`
			}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			for name, def := range body.Properties {
				for typ := range def {
					f.props[name] = typ
				}
			}
		}
		props := map[string]any{}
		for name, typ := range f.props {
			props[name] = map[string]any{"id": name, "type": typ}
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": mux.Vars(req)["id"], "title": []any{map[string]any{"plain_text": "Notebooks"}}, "properties": props})
	}).Methods(http.MethodGet, http.MethodPatch)

	r.HandleFunc("/databases/{id}/query", func(w http.ResponseWriter, req *http.Request) {
		var body queryRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		f.mu.Lock()
		defer f.mu.Unlock()

		var ids []string
		for _, id := range f.order {
			if body.Filter != nil {
				if pageKey(f.pages[id]) != body.Filter.RichText.Equals {
					continue
				}
			}
			ids = append(ids, id)
		}
		start := 0
		if body.StartCursor != "" {
			start, _ = strconv.Atoi(body.StartCursor)
		}
		end := min(start+body.PageSize, len(ids))
		results := make([]any, 0)
		for _, id := range ids[start:end] {
			results = append(results, map[string]any{"object": "page", "id": id, "properties": f.pages[id]})
		}
		resp := map[string]any{"results": results, "has_more": end < len(ids), "next_cursor": nil}
		if end < len(ids) {
			resp["next_cursor"] = strconv.Itoa(end)
		}
		writeJSON(w, http.StatusOK, resp)
	}).Methods(http.MethodPost)

	r.HandleFunc("/pages", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Parent     parent                    `json:"parent"`
			Properties map[string]map[string]any `json:"properties"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, testDatabase, body.Parent.DatabaseID)
		f.mu.Lock()
		defer f.mu.Unlock()
		id := f.id("page")
		props := map[string]any{}
		for name, v := range body.Properties {
			props[name] = typed(f.props[name], v)
		}
		f.pages[id] = props
		f.order = append(f.order, id)
		writeJSON(w, http.StatusOK, map[string]any{"object": "page", "id": id, "properties": props})
	}).Methods(http.MethodPost)

	r.HandleFunc("/pages/{id}", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Properties map[string]map[string]any `json:"properties"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		f.mu.Lock()
		defer f.mu.Unlock()
		page, ok := f.pages[mux.Vars(req)["id"]]
		if !ok {
			writeError(w, http.StatusNotFound, "object_not_found", "no such page")
			return
		}
		for name, v := range body.Properties {
			typ, ok := f.props[name]
			if !ok {
				writeError(w, http.StatusBadRequest, "validation_error", name+" is not a property that exists.")
				return
			}
			page[name] = typed(typ, v)
			if typ == "date" && f.minuteDates {
				truncateDate(page[name].(map[string]any))
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"object": "page", "id": mux.Vars(req)["id"]})
	}).Methods(http.MethodPatch)

	r.HandleFunc("/file_uploads", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, FileUploadVersion, req.Header.Get("Notion-Version"))
		f.mu.Lock()
		defer f.mu.Unlock()
		id := f.id("upload")
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "pending", "upload_url": "http://" + req.Host + "/file_uploads/" + id + "/send"})
	}).Methods(http.MethodPost)

	r.HandleFunc("/file_uploads/{id}/send", func(w http.ResponseWriter, req *http.Request) {
		file, _, err := req.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.uploads[mux.Vars(req)["id"]] = data
		writeJSON(w, http.StatusOK, map[string]any{"id": mux.Vars(req)["id"], "status": "uploaded"})
	}).Methods(http.MethodPost)

	r.HandleFunc("/blocks/{id}/children", func(w http.ResponseWriter, req *http.Request) {
		var body appendRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failAppend {
			writeError(w, http.StatusBadRequest, "validation_error", "body failed validation")
			return
		}
		parentID := mux.Vars(req)["id"]
		var results []any
		for range body.Children {
			id := f.id("block")
			f.blocks[parentID] = append(f.blocks[parentID], id)
			results = append(results, map[string]any{"object": "block", "id": id})
		}
		if f.loseAppend {
			writeError(w, http.StatusGatewayTimeout, "gateway_timeout", "timed out")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}).Methods(http.MethodPatch)

	r.HandleFunc("/blocks/{id}/children", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		children := f.blocks[mux.Vars(req)["id"]]
		start, _ := strconv.Atoi(req.URL.Query().Get("start_cursor"))
		size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))
		end := min(start+size, len(children))
		results := make([]any, 0)
		for _, id := range children[start:end] {
			results = append(results, map[string]any{"object": "block", "id": id})
		}
		resp := map[string]any{"results": results, "has_more": end < len(children), "next_cursor": nil}
		if end < len(children) {
			resp["next_cursor"] = strconv.Itoa(end)
		}
		writeJSON(w, http.StatusOK, resp)
	}).Methods(http.MethodGet)

	r.HandleFunc("/blocks/{id}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := mux.Vars(req)["id"]
		for parentID, children := range f.blocks {
			for i, c := range children {
				if c == id {
					f.blocks[parentID] = append(children[:i], children[i+1:]...)
					writeJSON(w, http.StatusOK, map[string]any{"object": "block", "id": id})
					return
				}
			}
		}
		writeError(w, http.StatusNotFound, "object_not_found", "no such block")
	}).Methods(http.MethodDelete)

	return r
}

// typed turns a property write into the shape the API returns on read.
func typed(typ string, v map[string]any) map[string]any {
	out := map[string]any{"type": typ}
	for k, val := range v {
		out[k] = val
	}
	for _, k := range []string{"title", "rich_text"} {
		if items, ok := out[k].([]any); ok {
			for _, item := range items {
				m := item.(map[string]any)
				if text, ok := m["text"].(map[string]any); ok {
					m["plain_text"] = text["content"]
				}
			}
		}
	}
	return out
}

func truncateDate(prop map[string]any) {
	date, ok := prop["date"].(map[string]any)
	if !ok {
		return
	}
	start, _ := date["start"].(string)
	if ts, err := time.Parse(time.RFC3339Nano, start); err == nil {
		date["start"] = ts.Truncate(time.Minute).Format("2006-01-02T15:04:00.000Z07:00")
	}
}

func pageKey(props map[string]any) string {
	v, ok := props[schema.KeyProperty].(map[string]any)
	if !ok {
		return ""
	}
	items, _ := v["rich_text"].([]any)
	var b strings.Builder
	for _, item := range items {
		b.WriteString(item.(map[string]any)["plain_text"].(string))
	}
	return b.String()
}

func setupClient(t *testing.T) (*Client, *fakeNotion) {
	t.Helper()
	fake := newFakeNotion()
	srv := httptest.NewServer(fake.router(t))
	t.Cleanup(srv.Close)

	c, err := New(Config{DatabaseID: testDatabase, BaseURL: srv.URL}, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "secret_abc"}), zerolog.Nop())
	require.NoError(t, err)
	return c, fake
}

func TestNewValidates(t *testing.T) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "x"})
	_, err := New(Config{}, ts, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(Config{DatabaseID: "x"}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestSchemaAndEnsure(t *testing.T) {
	c, fake := setupClient(t)
	ctx := context.Background()

	fake.set(func(f *fakeNotion) { delete(f.props, schema.PagesProperty) })

	s, err := c.Schema(ctx)
	require.NoError(t, err)
	err = schema.Check(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidation)

	require.NoError(t, c.EnsureSchema(ctx, s.Missing()))
	s, err = c.Schema(ctx)
	require.NoError(t, err)
	require.NoError(t, schema.Check(s))
	require.NoError(t, c.Verify(ctx))

	fake.set(func(f *fakeNotion) {
		assert.Equal(t, "Bearer secret_abc", f.auth[0])
	})
}

func TestCreateQueryUpdate(t *testing.T) {
	c, _ := setupClient(t)
	ctx := context.Background()
	created := time.Date(2024, 1, 2, 3, 4, 5, 6000000, time.UTC)

	rec, err := c.Create(ctx, remote.NewRecord{Key: "Work/Math", Title: "Math", CreatedAt: created})
	require.NoError(t, err)
	assert.Equal(t, "Work/Math", rec.Key)
	assert.Equal(t, "Math", rec.Title)
	assert.Equal(t, created, rec.CreatedAt)
	assert.True(t, rec.ModifiedAt.IsZero())

	modified := created.Add(time.Hour)
	tags := []string{"math", "exam"}
	link := "https://drive.example/file"
	pages := 3
	ref := "block-1"
	require.NoError(t, c.UpdateProperties(ctx, rec.ID, remote.Patch{
		Tags: &tags, ModifiedAt: &modified, ArchiveURL: &link, PageCount: &pages, ContentRef: &ref,
	}))

	got, err := c.FindByKey(ctx, "Work/Math")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, []string{"exam", "math"}, got.Tags)
	assert.Equal(t, modified, got.ModifiedAt)
	assert.Equal(t, link, got.ArchiveURL)
	assert.Equal(t, 3, got.PageCount)
	assert.Equal(t, ref, got.ContentRef)

	missing, err := c.FindByKey(ctx, "Nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestModifiedTimeKeepsMilliseconds(t *testing.T) {
	c, fake := setupClient(t)
	ctx := context.Background()
	fake.set(func(f *fakeNotion) { f.minuteDates = true })

	modified := time.Date(2024, 3, 1, 9, 30, 17, 123000000, time.UTC)
	nb := &types.Notebook{
		Key:        "Work/Math",
		Name:       "Math",
		ModifiedAt: modified,
		Pages:      []types.PageSource{{Number: 1}},
	}
	rec, err := c.Create(ctx, remote.NewRecord{Key: nb.Key, Title: nb.Name})
	require.NoError(t, err)
	pages := 1
	require.NoError(t, c.UpdateProperties(ctx, rec.ID, remote.Patch{ModifiedAt: &modified, PageCount: &pages}))

	got, err := c.FindByKey(ctx, nb.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, modified, got.ModifiedAt)

	p := plan.Plan(nb, got)
	assert.Equal(t, types.ActionSkip, p.Action, p.Reason)

	fake.set(func(f *fakeNotion) {
		date := f.pages[rec.ID][schema.ModifiedProperty].(map[string]any)["date"].(map[string]any)
		assert.Equal(t, "2024-03-01T09:30:00.000Z", date["start"])
	})
}

func TestQueryPaginates(t *testing.T) {
	c, _ := setupClient(t)
	ctx := context.Background()
	for i := 0; i < 130; i++ {
		_, err := c.Create(ctx, remote.NewRecord{Key: fmt.Sprintf("nb-%03d", i), Title: "n"})
		require.NoError(t, err)
	}

	first, err := c.Query(ctx, "")
	require.NoError(t, err)
	assert.Len(t, first.Records, 100)
	assert.True(t, first.HasMore)

	second, err := c.Query(ctx, first.NextCursor)
	require.NoError(t, err)
	assert.Len(t, second.Records, 30)
	assert.False(t, second.HasMore)
}

func TestAttachAndDeleteContent(t *testing.T) {
	c, fake := setupClient(t)
	ctx := context.Background()
	rec, err := c.Create(ctx, remote.NewRecord{Key: "A", Title: "A"})
	require.NoError(t, err)

	pages := []remote.PageContent{
		{Number: 1, Image: []byte("png1"), Text: "hello"},
		{Number: 2, Image: []byte("png2"), Text: strings.Repeat("x", 4500)},
		{Number: 3, Image: []byte("png3")},
	}
	ref, err := c.AttachContent(ctx, rec.ID, "A", pages)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	uploads, children := fake.counts(rec.ID)
	assert.Equal(t, 3, uploads)
	assert.Equal(t, 1, children)

	require.NoError(t, c.DeleteContent(ctx, rec.ID, ref))
	_, children = fake.counts(rec.ID)
	assert.Zero(t, children)

	// already gone
	require.NoError(t, c.DeleteContent(ctx, rec.ID, ref))
}

func TestAttachContentAllOrNothing(t *testing.T) {
	c, fake := setupClient(t)
	ctx := context.Background()
	rec, err := c.Create(ctx, remote.NewRecord{Key: "A", Title: "A"})
	require.NoError(t, err)

	fake.set(func(f *fakeNotion) { f.failAppend = true })
	_, err = c.AttachContent(ctx, rec.ID, "A", []remote.PageContent{{Number: 1, Image: []byte("x")}})
	require.Error(t, err)
	_, children := fake.counts(rec.ID)
	assert.Zero(t, children)

	apiErr, ok := remote.AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsValidation())
}

func TestLostAppendResponseLeavesNoContent(t *testing.T) {
	c, fake := setupClient(t)
	ctx := context.Background()
	rec, err := c.Create(ctx, remote.NewRecord{Key: "A", Title: "A"})
	require.NoError(t, err)
	ref, err := c.AttachContent(ctx, rec.ID, "A", []remote.PageContent{{Number: 1, Image: []byte("old")}})
	require.NoError(t, err)

	fake.set(func(f *fakeNotion) { f.loseAppend = true })
	_, err = c.AttachContent(ctx, rec.ID, "A", []remote.PageContent{{Number: 1, Image: []byte("new")}})
	apiErr, ok := remote.AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsTransient())
	_, children := fake.counts(rec.ID)
	assert.Equal(t, 1, children, "only the earlier batch remains")

	fake.set(func(f *fakeNotion) {
		f.loseAppend = false
		assert.Equal(t, []string{ref}, f.blocks[rec.ID])
	})
	_, err = c.AttachContent(ctx, rec.ID, "A", []remote.PageContent{{Number: 1, Image: []byte("new")}})
	require.NoError(t, err)
	_, children = fake.counts(rec.ID)
	assert.Equal(t, 2, children)
}

func TestErrorMapping(t *testing.T) {
	c, fake := setupClient(t)
	ctx := context.Background()

	fake.set(func(f *fakeNotion) { f.failStatus = http.StatusTooManyRequests })
	_, err := c.Query(ctx, "")
	apiErr, ok := remote.AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsTransient())
	assert.Equal(t, 2*time.Second, apiErr.RetryAfter())

	fake.set(func(f *fakeNotion) { f.failStatus = 0 })
	bogus := "x"
	rec, err := c.Create(ctx, remote.NewRecord{Key: "A", Title: "A"})
	require.NoError(t, err)
	fake.set(func(f *fakeNotion) { delete(f.props, schema.ContentProperty) })
	err = c.UpdateProperties(ctx, rec.ID, remote.Patch{ContentRef: &bogus})
	apiErr, ok = remote.AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsValidation())
	assert.Equal(t, schema.ContentProperty, apiErr.Field)

	err = c.UpdateProperties(ctx, "missing", remote.Patch{ArchiveURL: &bogus})
	apiErr, ok = remote.AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsNotFound())
}

func TestContainersSplit(t *testing.T) {
	pages := make([]remote.PageContent, 120)
	uploads := make([]string, 120)
	for i := range pages {
		pages[i] = remote.PageContent{Number: i + 1, Text: "t"}
		uploads[i] = fmt.Sprintf("u%d", i)
	}
	blocks := containers("Big", pages, uploads)
	require.Len(t, blocks, 3)
	assert.Len(t, blocks[0].Toggle.Children, 100)
	assert.Len(t, blocks[2].Toggle.Children, 40)
	assert.Equal(t, "Big (pages 101-120)", blocks[2].Toggle.RichText[0].Text.Content)
}

func TestSplitText(t *testing.T) {
	assert.Nil(t, splitText(""))
	chunks := splitText(strings.Repeat("é", 4001))
	require.Len(t, chunks, 3)
	assert.Equal(t, 2000, len([]rune(chunks[0])))
	assert.Equal(t, 1, len([]rune(chunks[2])))
}

func TestNormalizeID(t *testing.T) {
	id := "0123456789abcdef0123456789abcdef"
	assert.Equal(t, id, normalizeID(id))
	assert.Equal(t, id, normalizeID("https://www.notion.so/team/My-Notes-"+id+"?v=abc"))
	assert.Equal(t, "a-b-c", normalizeID(" a-b-c "))
}

func TestParseDate(t *testing.T) {
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), parseDate("2024-01-02"))
	assert.Equal(t, time.Date(2024, 1, 2, 2, 4, 5, 6000000, time.UTC), parseDate("2024-01-02T03:04:05.006+01:00"))
	assert.True(t, parseDate("garbage").IsZero())
}
