// Package remotetest provides an in-memory remote.Client for tests.
package remotetest

import (
	"context"
	"fmt"
	"strconv"
	stdsync "sync"

	"github.com/mschirtzinger/inksync/internal/remote"
	"github.com/mschirtzinger/inksync/internal/schema"
	"github.com/mschirtzinger/inksync/internal/types"
)

// Operation names accepted by Fail and Calls.
const (
	OpQuery  = "query"
	OpFind   = "find"
	OpCreate = "create"
	OpUpdate = "update"
	OpAttach = "attach"
	OpDelete = "delete"
)

// Memory is a remote.Client backed by maps. It is safe for concurrent use.
type Memory struct {
	// PageSize is the number of records per Query page. Default 2.
	PageSize int

	// FindLag is the number of FindByKey calls that still miss a record
	// after it was created.
	FindLag int

	mu      stdsync.Mutex
	records []*types.RemoteRecord
	content map[string][]remote.PageContent
	failing map[string][]error
	calls   map[string]int
	lagging map[string]int
	updates []Update
	nextID  int
}

// Update is one recorded UpdateProperties call.
type Update struct {
	ID    string
	Patch remote.Patch
}

var _ remote.Client = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		PageSize: 2,
		content:  make(map[string][]remote.PageContent),
		failing:  make(map[string][]error),
		calls:    make(map[string]int),
		lagging:  make(map[string]int),
	}
}

// Seed adds records as if they had been synced earlier.
func (m *Memory) Seed(recs ...*types.RemoteRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		c := r.Clone()
		if c.ID == "" {
			m.nextID++
			c.ID = "rec-" + strconv.Itoa(m.nextID)
		}
		m.records = append(m.records, c)
	}
}

// Fail queues errors returned by the next calls of op, one per call.
func (m *Memory) Fail(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[op] = append(m.failing[op], errs...)
}

// Calls returns how many times op was called.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Updates returns every UpdateProperties call in order.
func (m *Memory) Updates() []Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Update(nil), m.updates...)
}

// Records returns copies of all records.
func (m *Memory) Records() []*types.RemoteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.RemoteRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	return out
}

// Content returns the pages of an attached batch.
func (m *Memory) Content(ref string) []remote.PageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]remote.PageContent(nil), m.content[ref]...)
}

// Batches returns the number of attached batches still present.
func (m *Memory) Batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.content)
}

// enter locks m for one call of op and returns the unlock func with any
// queued failure.
func (m *Memory) enter(op string) (func(), error) {
	m.mu.Lock()
	m.calls[op]++
	return m.mu.Unlock, m.popLocked(op)
}

func (m *Memory) popLocked(op string) error {
	queue := m.failing[op]
	if len(queue) == 0 {
		return nil
	}
	m.failing[op] = queue[1:]
	return queue[0]
}

func (m *Memory) find(id string) *types.RemoteRecord {
	for _, r := range m.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Name implements remote.Client.
func (m *Memory) Name() string { return "memory" }

// Verify implements remote.Client.
func (m *Memory) Verify(context.Context) error { return nil }

// Schema implements remote.Client.
func (m *Memory) Schema(context.Context) (schema.Remote, error) {
	props := map[string]schema.PropertyType{schema.DefaultTitleProperty: schema.Title}
	for _, f := range schema.Fields {
		props[f.Name] = f.Type
	}
	return schema.Remote{Properties: props}, nil
}

// EnsureSchema implements remote.Client.
func (m *Memory) EnsureSchema(context.Context, []schema.Field) error { return nil }

// Query implements remote.Client.
func (m *Memory) Query(_ context.Context, cursor string) (*remote.Page, error) {
	unlock, err := m.enter(OpQuery)
	defer unlock()
	if err != nil {
		return nil, err
	}
	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	size := m.PageSize
	if size < 1 {
		size = 2
	}
	end := min(start+size, len(m.records))
	page := &remote.Page{}
	for _, r := range m.records[start:end] {
		page.Records = append(page.Records, r.Clone())
	}
	if end < len(m.records) {
		page.HasMore = true
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

// FindByKey implements remote.Client.
func (m *Memory) FindByKey(_ context.Context, key string) (*types.RemoteRecord, error) {
	unlock, err := m.enter(OpFind)
	defer unlock()
	if err != nil {
		return nil, err
	}
	if m.lagging[key] > 0 {
		m.lagging[key]--
		return nil, nil
	}
	for _, r := range m.records {
		if r.Key == key {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

// Create implements remote.Client. A queued error for OpCreate wrapped by
// CommittedError is returned after the record was stored, simulating a
// response lost after the write.
func (m *Memory) Create(_ context.Context, rec remote.NewRecord) (*types.RemoteRecord, error) {
	unlock, err := m.enter(OpCreate)
	defer unlock()
	if err != nil {
		if _, ok := err.(CommittedError); !ok {
			return nil, err
		}
	}
	m.nextID++
	r := &types.RemoteRecord{
		ID:        "rec-" + strconv.Itoa(m.nextID),
		Key:       rec.Key,
		Title:     rec.Title,
		CreatedAt: types.NormalizeTime(rec.CreatedAt),
		Tags:      []string{},
	}
	m.records = append(m.records, r)
	if m.FindLag > 0 {
		m.lagging[rec.Key] = m.FindLag
	}
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// UpdateProperties implements remote.Client.
func (m *Memory) UpdateProperties(_ context.Context, id string, patch remote.Patch) error {
	unlock, err := m.enter(OpUpdate)
	defer unlock()
	if err != nil {
		return err
	}
	r := m.find(id)
	if r == nil {
		return &remote.APIError{Status: 404, Code: remote.CodeNotFound, Message: "no record " + id}
	}
	*r = *patch.Apply(r)
	m.updates = append(m.updates, Update{ID: id, Patch: patch})
	return nil
}

// AttachContent implements remote.Client.
func (m *Memory) AttachContent(_ context.Context, id string, _ string, pages []remote.PageContent) (string, error) {
	unlock, err := m.enter(OpAttach)
	defer unlock()
	if err != nil {
		return "", err
	}
	if m.find(id) == nil {
		return "", &remote.APIError{Status: 404, Code: remote.CodeNotFound, Message: "no record " + id}
	}
	m.nextID++
	ref := fmt.Sprintf("batch-%d", m.nextID)
	m.content[ref] = append([]remote.PageContent(nil), pages...)
	return ref, nil
}

// DeleteContent implements remote.Client.
func (m *Memory) DeleteContent(_ context.Context, _ string, ref string) error {
	unlock, err := m.enter(OpDelete)
	defer unlock()
	if err != nil {
		return err
	}
	delete(m.content, ref)
	return nil
}

// CommittedError is returned by Create after the record was stored.
type CommittedError struct{ Err error }

func (e CommittedError) Error() string { return e.Err.Error() }
func (e CommittedError) Unwrap() error { return e.Err }
