// Package store persists symbol templates and detection runs in SQLite.
//
// Templates are kept as PNG blobs together with their nominal DPI, so a
// registry can be rebuilt at startup. Each counting run stores its per-page
// counts and every reported detection under a time-ordered UUID.
//
// The pure-Go modernc.org/sqlite driver is used, so no cgo toolchain is
// needed.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ironsheep/symbol-count-mcp/internal/detection"
)

// ErrNotFound is returned when a template or run does not exist.
var ErrNotFound = errors.New("store: not found")

// Schema creates every table the store uses.
const Schema = `
CREATE TABLE IF NOT EXISTS symbols (
    name       TEXT PRIMARY KEY,
    png        BLOB NOT NULL,
    width      INTEGER NOT NULL,
    height     INTEGER NOT NULL,
    dpi        REAL NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    id         TEXT PRIMARY KEY,
    source     TEXT NOT NULL DEFAULT '',
    pages      INTEGER NOT NULL,
    partial    INTEGER NOT NULL DEFAULT 0 CHECK(partial IN (0, 1)),
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS page_counts (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    page   INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    count  INTEGER NOT NULL,
    PRIMARY KEY (run_id, page, symbol)
);

CREATE TABLE IF NOT EXISTS detections (
    run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    page         INTEGER NOT NULL,
    symbol       TEXT NOT NULL,
    x0           REAL NOT NULL,
    y0           REAL NOT NULL,
    x1           REAL NOT NULL,
    y1           REAL NOT NULL,
    score        REAL NOT NULL,
    confidence   REAL NOT NULL,
    class        TEXT NOT NULL,
    scale        REAL NOT NULL,
    rotation     REAL NOT NULL,
    layer        TEXT NOT NULL,
    agreement    INTEGER NOT NULL,
    suppressed   INTEGER NOT NULL,
    needs_review INTEGER NOT NULL CHECK(needs_review IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_detections_run ON detections(run_id, page, symbol);
`

// Store is a SQLite-backed template and run store. It is safe for
// concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and applies the schema.
// ":memory:" gives a private in-process database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// Pragmas are per connection and an in-memory database exists only on
	// the connection that created it.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// TemplateInfo describes a stored template without its pixels.
type TemplateInfo struct {
	Name      string    `json:"name"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	DPI       float64   `json:"dpi,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PutTemplate stores t, replacing any template of the same name.
func (s *Store) PutTemplate(ctx context.Context, t *detection.Template) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, t.Image); err != nil {
		return fmt.Errorf("encode template %s: %w", t.Name, err)
	}
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO symbols (name, png, width, height, dpi, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			png = excluded.png,
			width = excluded.width,
			height = excluded.height,
			dpi = excluded.dpi,
			updated_at = excluded.updated_at`,
		t.Name, buf.Bytes(), t.Width, t.Height, t.DPI, now, now)
	if err != nil {
		return fmt.Errorf("put template %s: %w", t.Name, err)
	}
	return nil
}

// Template loads and validates one stored template.
func (s *Store) Template(ctx context.Context, name string) (*detection.Template, error) {
	img, dpi, err := s.TemplateImage(ctx, name)
	if err != nil {
		return nil, err
	}
	return detection.NewTemplate(name, img, dpi)
}

// TemplateImage returns the stored pixels and DPI of a template.
func (s *Store) TemplateImage(ctx context.Context, name string) (image.Image, float64, error) {
	var blob []byte
	var dpi float64
	err := s.db.QueryRowContext(ctx, `SELECT png, dpi FROM symbols WHERE name = ?`, name).Scan(&blob, &dpi)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("template %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("template %s: %w", name, err)
	}
	img, err := png.Decode(bytes.NewReader(blob))
	if err != nil {
		return nil, 0, fmt.Errorf("decode template %s: %w", name, err)
	}
	return img, dpi, nil
}

// TemplateNames lists stored template names in order.
func (s *Store) TemplateNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM symbols ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// ListTemplates describes every stored template, ordered by name.
func (s *Store) ListTemplates(ctx context.Context) ([]TemplateInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, width, height, dpi, created_at, updated_at FROM symbols ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	out := []TemplateInfo{}
	for rows.Next() {
		var ti TemplateInfo
		var created, updated int64
		if err := rows.Scan(&ti.Name, &ti.Width, &ti.Height, &ti.DPI, &created, &updated); err != nil {
			return nil, err
		}
		ti.CreatedAt = time.Unix(created, 0).UTC()
		ti.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, ti)
	}
	return out, rows.Err()
}

// DeleteTemplate removes a template. Deleting an unknown name returns
// ErrNotFound.
func (s *Store) DeleteTemplate(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM symbols WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete template %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %s: %w", name, ErrNotFound)
	}
	return nil
}

// LoadRegistry builds a detection registry from every stored template.
func (s *Store) LoadRegistry(ctx context.Context) (*detection.Registry, error) {
	return detection.LoadRegistry(ctx, s)
}
