// Package history persists benchmark runs and the sample sequence counter in
// a SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/runningwild/diskmark/pkg/engine"
	"github.com/runningwild/diskmark/pkg/report"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound  = errors.New("run not found")
	ErrAmbiguous = errors.New("run id prefix is ambiguous")
)

const (
	nextSequenceKey = "next_sequence"
	timeLayout      = "2006-01-02T15:04:05.000000000Z07:00"
)

// Store is a run history database.
type Store struct {
	db *sql.DB
}

// Summary is one row of the run listing.
type Summary struct {
	ID        string    `json:"id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Location  string    `json:"location"`
	Workload  string    `json:"workload"`
	Order     string    `json:"order"`
	Engine    string    `json:"engine"`
	NumBlocks int       `json:"num_blocks"`
	BlockSize int       `json:"block_size"`
	Samples   int       `json:"samples"`
	Workers   int       `json:"workers"`
	Cancelled bool      `json:"cancelled,omitempty"`
	Device    string    `json:"device,omitempty"`
	WriteBw   float64   `json:"write_bw,omitempty"`
	WriteIOPS int64     `json:"write_iops,omitempty"`
	ReadBw    float64   `json:"read_bw,omitempty"`
	ReadIOPS  int64     `json:"read_iops,omitempty"`
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Save records doc. Saving a run id twice replaces the earlier record.
func (s *Store) Save(ctx context.Context, doc *report.Document) error {
	run := doc.Run
	var body strings.Builder
	if err := report.Export(&body, doc); err != nil {
		return err
	}
	device := ""
	if doc.Environment != nil {
		device = doc.Environment.Device
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("replace operations: %w", err)
	}
	p := run.Params
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO runs (id, started_at, ended_at, location, workload,
		block_order, engine, num_blocks, block_size, num_samples, workers, cancelled, device, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.Start), formatTime(run.End), p.Dir,
		engine.WorkloadName(p.Workload), engine.OrderName(p.Order), engine.EngineName(p.Engine),
		p.NumBlocks, p.BlockSize, p.NumSamples, p.Workers, run.Cancelled, device, body.String())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, op := range run.Operations {
		_, err := tx.ExecContext(ctx, `INSERT INTO operations (run_id, direction, bw_avg, bw_min, bw_max,
			latency_avg_ms, iops, samples) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, engine.DirectionName(op.Direction), op.BwAvg, op.BwMin, op.BwMax,
			op.LatencyAvgMs, op.IOPS, len(op.Samples))
		if err != nil {
			return fmt.Errorf("insert %s operation: %w", engine.DirectionName(op.Direction), err)
		}
	}
	return tx.Commit()
}

// List returns up to limit runs, newest first. limit <= 0 lists every run.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT r.id, r.started_at, r.ended_at, r.location, r.workload,
		r.block_order, r.engine, r.num_blocks, r.block_size, r.num_samples, r.workers, r.cancelled, r.device,
		w.bw_avg, w.iops, rd.bw_avg, rd.iops
		FROM runs r
		LEFT JOIN operations w ON w.run_id = r.id AND w.direction = 'write'
		LEFT JOIN operations rd ON rd.run_id = r.id AND rd.direction = 'read'
		ORDER BY r.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		var start, end string
		var wbw, rbw sql.NullFloat64
		var wiops, riops sql.NullInt64
		if err := rows.Scan(&sm.ID, &start, &end, &sm.Location, &sm.Workload, &sm.Order, &sm.Engine,
			&sm.NumBlocks, &sm.BlockSize, &sm.Samples, &sm.Workers, &sm.Cancelled, &sm.Device,
			&wbw, &wiops, &rbw, &riops); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		sm.Start, sm.End = parseTime(start), parseTime(end)
		sm.WriteBw, sm.WriteIOPS = wbw.Float64, wiops.Int64
		sm.ReadBw, sm.ReadIOPS = rbw.Float64, riops.Int64
		out = append(out, sm)
	}
	return out, rows.Err()
}

// resolve maps a full id or a unique id prefix to the stored id.
func (s *Store) resolve(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs WHERE id = ? OR substr(id, 1, ?) = ? LIMIT 2`,
		id, len(id), id)
	if err != nil {
		return "", fmt.Errorf("find run: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var got string
		if err := rows.Scan(&got); err != nil {
			return "", err
		}
		if got == id {
			return got, nil
		}
		ids = append(ids, got)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return ids[0], nil
	}
	return "", fmt.Errorf("%w: %s", ErrAmbiguous, id)
}

// Get loads the stored document of a run by id or unique id prefix.
func (s *Store) Get(ctx context.Context, id string) (*report.Document, error) {
	full, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	var body string
	err = s.db.QueryRowContext(ctx, `SELECT document FROM runs WHERE id = ?`, full).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	return report.Decode(strings.NewReader(body))
}

// Delete removes a run by id or unique id prefix.
func (s *Store) Delete(ctx context.Context, id string) error {
	full, err := s.resolve(ctx, id)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE run_id = ?`, full); err != nil {
		return fmt.Errorf("delete operations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, full); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return tx.Commit()
}

// DeleteAll removes every run and reports how many there were.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM operations`); err != nil {
		return 0, fmt.Errorf("delete operations: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs`)
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

// NextSequence returns the number the next run's first sample gets.
func (s *Store) NextSequence(ctx context.Context) (uint32, error) {
	return nextSequence(ctx, s.db)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nextSequence(ctx context.Context, q queryer) (uint32, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, nextSequenceKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence: %w", err)
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil || n == 0 {
		return 1, nil
	}
	return uint32(n), nil
}

// Reserve claims n sample numbers and returns the first. The counter is
// advanced before the run starts so an interrupted run never hands out its
// numbers again.
func (s *Store) Reserve(ctx context.Context, n int) (uint32, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: reserve %d samples", engine.ErrInvalidParams, n)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	start, err := nextSequence(ctx, tx)
	if err != nil {
		return 0, err
	}
	next := uint64(start) + uint64(n)
	if next > 1<<32-1 {
		return 0, fmt.Errorf("%w: sample sequence exhausted, reset it", engine.ErrInvalidParams)
	}
	if err := setSequence(ctx, tx, uint32(next)); err != nil {
		return 0, err
	}
	return start, tx.Commit()
}

// SetNextSequence stores the number the next run starts from.
func (s *Store) SetNextSequence(ctx context.Context, v uint32) error {
	if v == 0 {
		v = 1
	}
	return setSequence(ctx, s.db, v)
}

// ResetSequence starts sample numbering over at 1.
func (s *Store) ResetSequence(ctx context.Context) error {
	return s.SetNextSequence(ctx, 1)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setSequence(ctx context.Context, e execer, v uint32) error {
	_, err := e.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, nextSequenceKey, strconv.FormatUint(uint64(v), 10))
	if err != nil {
		return fmt.Errorf("write sequence: %w", err)
	}
	return nil
}
