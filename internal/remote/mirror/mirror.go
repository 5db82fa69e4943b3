// Package mirror implements remote.Client on an embedded SQLite database.
//
// The mirror keeps the same record shape as the Notion backend: one row per
// notebook holding the synced fields, plus the attached page content. It
// serves offline runs, dry experiments against a real backup, and tests.
//
// Architecture:
//   - Database file: configured by mirror.path
//   - WAL mode: the dashboard and a running sync may read concurrently
//   - Schema: records, content tables
//   - Content batches are inserted inside one transaction, so a failed
//     attach leaves no rows behind
package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rs/zerolog"

	"github.com/mschirtzinger/inksync/internal/remote"
	"github.com/mschirtzinger/inksync/internal/schema"
	"github.com/mschirtzinger/inksync/internal/types"
)

const pageSize = 100

// DefaultMaxImageBytes matches the single-part upload limit of the hosted
// backend.
const DefaultMaxImageBytes = 20 << 20

// Options configures a mirror.
type Options struct {
	// MaxImageBytes rejects larger page images. Zero means DefaultMaxImageBytes.
	MaxImageBytes int
}

// DB is a SQLite-backed remote.Client.
type DB struct {
	conn     *sql.DB
	path     string
	maxImage int
	logger   zerolog.Logger
}

var _ remote.Client = (*DB)(nil)

// Open creates or opens the mirror database at path and initializes its
// schema.
//
// The caller MUST call Close() when done.
func Open(path string, opts Options, logger zerolog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if opts.MaxImageBytes == 0 {
		opts.MaxImageBytes = DefaultMaxImageBytes
	}

	db := &DB{
		conn:     conn,
		path:     path,
		maxImage: opts.MaxImageBytes,
		logger:   logger.With().Str("backend", "sqlite").Logger(),
	}
	if err := db.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Warn().Err(err).Msg("failed to checkpoint WAL")
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

func (db *DB) initSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS records (
	id          TEXT PRIMARY KEY,
	key         TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL DEFAULT 0,
	modified_at INTEGER NOT NULL DEFAULT 0,
	tags        TEXT NOT NULL DEFAULT '[]',
	archive_url TEXT NOT NULL DEFAULT '',
	page_count  INTEGER NOT NULL DEFAULT 0,
	content_ref TEXT NOT NULL DEFAULT '',
	seq         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_records_key ON records(key);
CREATE INDEX IF NOT EXISTS idx_records_seq ON records(seq);

CREATE TABLE IF NOT EXISTS content (
	ref       TEXT NOT NULL,
	record_id TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	page      INTEGER NOT NULL,
	image     BLOB NOT NULL,
	text      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (ref, page)
);
CREATE INDEX IF NOT EXISTS idx_content_record ON content(record_id);
`
	if _, err := db.conn.Exec(ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Name implements remote.Client.
func (db *DB) Name() string { return "sqlite" }

// Verify implements remote.Client.
func (db *DB) Verify(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Schema implements remote.Client. The mirror always has every synced field.
func (db *DB) Schema(context.Context) (schema.Remote, error) {
	props := map[string]schema.PropertyType{schema.DefaultTitleProperty: schema.Title}
	for _, f := range schema.Fields {
		props[f.Name] = f.Type
	}
	return schema.Remote{Properties: props}, nil
}

// EnsureSchema implements remote.Client.
func (db *DB) EnsureSchema(context.Context, []schema.Field) error { return nil }

const selectRecord = `SELECT id, key, title, created_at, modified_at, tags, archive_url, page_count, content_ref, seq FROM records`

// Query implements remote.Client. The cursor is the sequence number of the
// last record returned.
func (db *DB) Query(ctx context.Context, cursor string) (*remote.Page, error) {
	after := int64(0)
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, &remote.APIError{Code: remote.CodeValidation, Field: "start_cursor", Message: "invalid cursor " + strconv.Quote(cursor)}
		}
		after = n
	}

	rows, err := db.conn.QueryContext(ctx, selectRecord+` WHERE seq > ? ORDER BY seq LIMIT ?`, after, pageSize+1)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	page := &remote.Page{}
	var last int64
	for rows.Next() {
		rec, seq, err := scanRecord(rows)
		if err != nil {
			return nil, classify(err)
		}
		if len(page.Records) == pageSize {
			page.HasMore = true
			break
		}
		page.Records = append(page.Records, rec)
		last = seq
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	if page.HasMore {
		page.NextCursor = strconv.FormatInt(last, 10)
	}
	return page, nil
}

// FindByKey implements remote.Client.
func (db *DB) FindByKey(ctx context.Context, key string) (*types.RemoteRecord, error) {
	row := db.conn.QueryRowContext(ctx, selectRecord+` WHERE key = ? ORDER BY modified_at DESC, seq DESC LIMIT 1`, key)
	rec, _, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

// Create implements remote.Client.
func (db *DB) Create(ctx context.Context, rec remote.NewRecord) (*types.RemoteRecord, error) {
	if rec.Key == "" {
		return nil, &remote.APIError{Code: remote.CodeValidation, Field: schema.KeyProperty, Message: "key is required"}
	}
	out := &types.RemoteRecord{
		ID:        uuid.NewString(),
		Key:       rec.Key,
		Title:     rec.Title,
		CreatedAt: types.NormalizeTime(rec.CreatedAt),
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO records (id, key, title, created_at, seq)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM records))`,
		out.ID, out.Key, out.Title, millis(out.CreatedAt))
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// UpdateProperties implements remote.Client.
func (db *DB) UpdateProperties(ctx context.Context, id string, patch remote.Patch) error {
	if patch.Empty() {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id)
	rec, _, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &remote.APIError{Code: remote.CodeNotFound, Message: "no record " + id}
	}
	if err != nil {
		return classify(err)
	}

	rec = patch.Apply(rec)
	tags, err := json.Marshal(types.NormalizeTags(rec.Tags))
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE records
		SET modified_at = ?, tags = ?, archive_url = ?, page_count = ?, content_ref = ?
		WHERE id = ?`,
		millis(rec.ModifiedAt), string(tags), rec.ArchiveURL, rec.PageCount, rec.ContentRef, id)
	if err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// AttachContent implements remote.Client. Every page is inserted in one
// transaction; an oversized image rejects the whole batch.
func (db *DB) AttachContent(ctx context.Context, id string, _ string, pages []remote.PageContent) (string, error) {
	if len(pages) == 0 {
		return "", nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE id = ?`, id).Scan(&exists); err != nil {
		return "", classify(err)
	}
	if exists == 0 {
		return "", &remote.APIError{Code: remote.CodeNotFound, Message: "no record " + id}
	}

	ref := uuid.NewString()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO content (ref, record_id, page, image, text) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return "", classify(err)
	}
	defer stmt.Close()

	for _, p := range pages {
		if len(p.Image) > db.maxImage {
			return "", &remote.APIError{
				Code:    remote.CodeValidation,
				Message: fmt.Sprintf("page %d image is %d bytes, limit is %d", p.Number, len(p.Image), db.maxImage),
			}
		}
		if _, err := stmt.ExecContext(ctx, ref, id, p.Number, p.Image, p.Text); err != nil {
			return "", classify(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", classify(err)
	}
	return ref, nil
}

// DeleteContent implements remote.Client.
func (db *DB) DeleteContent(ctx context.Context, id string, ref string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM content WHERE record_id = ? AND ref = ?`, id, ref); err != nil {
		return classify(err)
	}
	return nil
}

// ContentPages returns the number of content rows stored for a record,
// across all batches.
func (db *DB) ContentPages(ctx context.Context, id string) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM content WHERE record_id = ?`, id).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// PageText returns the recognized text stored for one page of a batch.
func (db *DB) PageText(ctx context.Context, ref string, page int) (string, error) {
	var text string
	err := db.conn.QueryRowContext(ctx, `SELECT text FROM content WHERE ref = ? AND page = ?`, ref, page).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &remote.APIError{Code: remote.CodeNotFound, Message: fmt.Sprintf("no page %d in %s", page, ref)}
	}
	if err != nil {
		return "", classify(err)
	}
	return text, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*types.RemoteRecord, int64, error) {
	var (
		rec               types.RemoteRecord
		created, modified int64
		tags              string
		seq               int64
	)
	if err := s.Scan(&rec.ID, &rec.Key, &rec.Title, &created, &modified, &tags, &rec.ArchiveURL, &rec.PageCount, &rec.ContentRef, &seq); err != nil {
		return nil, 0, err
	}
	rec.CreatedAt = fromMillis(created)
	rec.ModifiedAt = fromMillis(modified)
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, 0, fmt.Errorf("failed to decode tags of %s: %w", rec.ID, err)
	}
	return &rec, seq, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// classify converts database errors to remote.APIError so the executor
// treats the mirror like any other backend.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return remote.NetworkError(err)
	}
	if errors.Is(err, sqlite3.BUSY) || errors.Is(err, sqlite3.LOCKED) {
		return &remote.APIError{Code: remote.CodeConflict, Message: "database is busy", Err: err}
	}
	return &remote.APIError{Code: remote.CodeInternal, Message: err.Error(), Err: err}
}
