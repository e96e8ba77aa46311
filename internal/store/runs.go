package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ironsheep/symbol-count-mcp/internal/detection"
)

// PageCounts holds the stored counts of one page of a run.
type PageCounts struct {
	Page   int            `json:"page"`
	Counts map[string]int `json:"counts"`
}

// RunSummary is the stored outcome of a counting run.
type RunSummary struct {
	ID         string         `json:"run_id"`
	Source     string         `json:"source,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Partial    bool           `json:"partial"`
	PageCount  int            `json:"page_count"`
	Pages      []PageCounts   `json:"pages"`
	Totals     map[string]int `json:"total_symbols"`
	Detections int            `json:"detections"`

	Confidence detection.ConfidenceSummary `json:"confidence"`
}

// SaveRun records doc under a new run id and returns the id. source is a
// free-form description of the input, typically a path.
func (s *Store) SaveRun(ctx context.Context, source string, doc *detection.DocumentResult) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("run id: %w", err)
	}
	runID := id.String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, source, pages, partial, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, source, len(doc.Pages), boolInt(doc.Partial()), s.now().Unix()); err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}

	countStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO page_counts (run_id, page, symbol, count) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}
	defer countStmt.Close()
	detStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (run_id, page, symbol, x0, y0, x1, y1, score, confidence,
			class, scale, rotation, layer, agreement, suppressed, needs_review)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}
	defer detStmt.Close()

	for _, p := range doc.Pages {
		for _, sym := range sortedKeys(p.Counts) {
			if _, err := countStmt.ExecContext(ctx, runID, p.Page, sym, p.Counts[sym]); err != nil {
				return "", fmt.Errorf("save page %d counts: %w", p.Page, err)
			}
			for _, d := range p.Detections[sym] {
				_, err := detStmt.ExecContext(ctx, runID, p.Page, sym,
					d.Box.X0, d.Box.Y0, d.Box.X1, d.Box.Y1,
					d.Score, d.Confidence, string(d.Class), d.Scale, d.Rotation,
					d.Layer.String(), d.Agreement, d.Suppressed, boolInt(d.NeedsReview))
				if err != nil {
					return "", fmt.Errorf("save page %d detections: %w", p.Page, err)
				}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}
	return runID, nil
}

// RunSummary loads the per-page and total counts of a run.
func (s *Store) RunSummary(ctx context.Context, id string) (*RunSummary, error) {
	sum := &RunSummary{ID: id, Totals: map[string]int{}, Pages: []PageCounts{}}
	var created int64
	var partial int
	err := s.db.QueryRowContext(ctx,
		`SELECT source, pages, partial, created_at FROM runs WHERE id = ?`, id).
		Scan(&sum.Source, &sum.PageCount, &partial, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	sum.CreatedAt = time.Unix(created, 0).UTC()
	sum.Partial = partial != 0

	rows, err := s.db.QueryContext(ctx,
		`SELECT page, symbol, count FROM page_counts WHERE run_id = ? ORDER BY page, symbol`, id)
	if err != nil {
		return nil, fmt.Errorf("run %s counts: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var page, count int
		var sym string
		if err := rows.Scan(&page, &sym, &count); err != nil {
			return nil, err
		}
		if n := len(sum.Pages); n == 0 || sum.Pages[n-1].Page != page {
			sum.Pages = append(sum.Pages, PageCounts{Page: page, Counts: map[string]int{}})
		}
		sum.Pages[len(sum.Pages)-1].Counts[sym] = count
		sum.Totals[sym] += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dets, err := s.runConfidences(ctx, id)
	if err != nil {
		return nil, err
	}
	sum.Detections = len(dets)
	sum.Confidence = detection.SummarizeConfidence(dets)
	return sum, nil
}

// RunDetections returns the stored detections of one page and symbol of a
// run, in the order they were reported.
func (s *Store) RunDetections(ctx context.Context, id string, page int, symbol string) ([]detection.Detection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT x0, y0, x1, y1, score, confidence, class, scale, rotation, layer,
			agreement, suppressed, needs_review
		FROM detections WHERE run_id = ? AND page = ? AND symbol = ? ORDER BY rowid`,
		id, page, symbol)
	if err != nil {
		return nil, fmt.Errorf("run %s detections: %w", id, err)
	}
	defer rows.Close()
	out := []detection.Detection{}
	for rows.Next() {
		var d detection.Detection
		var class, layer string
		var review int
		if err := rows.Scan(&d.Box.X0, &d.Box.Y0, &d.Box.X1, &d.Box.Y1, &d.Score, &d.Confidence,
			&class, &d.Scale, &d.Rotation, &layer, &d.Agreement, &d.Suppressed, &review); err != nil {
			return nil, err
		}
		if err := d.Layer.UnmarshalText([]byte(layer)); err != nil {
			return nil, fmt.Errorf("run %s: %w", id, err)
		}
		d.Symbol = symbol
		d.Class = detection.Class(class)
		d.NeedsReview = review != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

// runConfidences loads just the scoring fields of every detection of a run.
func (s *Store) runConfidences(ctx context.Context, id string) ([]detection.Detection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT confidence, class, needs_review FROM detections WHERE run_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("run %s detections: %w", id, err)
	}
	defer rows.Close()
	var out []detection.Detection
	for rows.Next() {
		var d detection.Detection
		var class string
		var review int
		if err := rows.Scan(&d.Confidence, &class, &review); err != nil {
			return nil, err
		}
		d.Class = detection.Class(class)
		d.NeedsReview = review != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
