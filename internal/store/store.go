package store

// Package store keeps the results of assignment runs in a SQLite database
// so they can be browsed after the fact.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"peptaxa/internal/assign"
	"peptaxa/internal/taxonomy"
)

var (
	ErrRunNotFound        = errors.New("run not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	source TEXT NOT NULL,
	options BLOB NOT NULL,
	stats BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS assignments (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	peptide TEXT NOT NULL,
	proteins TEXT NOT NULL,
	blast_proteins TEXT NOT NULL,
	taxon_id INTEGER NOT NULL,
	taxon_name TEXT NOT NULL,
	taxon_rank TEXT NOT NULL,
	columns BLOB NOT NULL,
	PRIMARY KEY (run_id, peptide)
);
CREATE INDEX IF NOT EXISTS assignments_rank ON assignments(run_id, taxon_rank);
`

// Run describes one stored assignment run.
type Run struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Source    string         `json:"source"`
	Options   assign.Options `json:"options"`
	Stats     assign.Stats   `json:"stats"`
}

// Store is a SQLite-backed run store.
type Store struct {
	db   *sql.DB
	h    *taxonomy.Hierarchy
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string, h *taxonomy.Hierarchy) (*Store, error) {
	if path == "" {
		path = "peptaxa.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, h: h, path: path, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// SaveRun stores a run and all its assignments in one transaction and
// returns the stored run with its new id.
func (s *Store) SaveRun(ctx context.Context, source string, opts assign.Options, res *assign.Result) (run Run, retErr error) {
	run = Run{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC().Truncate(time.Second),
		Source:    source,
		Options:   opts,
		Stats:     res.Stats,
	}
	optsJSON, err := json.Marshal(run.Options)
	if err != nil {
		return Run{}, fmt.Errorf("encode options: %w", err)
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return Run{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs(id, created_at, source, options, stats) VALUES(?,?,?,?,?)`,
		run.ID, run.CreatedAt.Format(time.RFC3339), run.Source, optsJSON, statsJSON); err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO assignments
		(run_id, peptide, proteins, blast_proteins, taxon_id, taxon_name, taxon_rank, columns)
		VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		return Run{}, err
	}
	defer stmt.Close()
	for _, a := range res.Assignments {
		cols, err := json.Marshal(s.h.Columns(a.LCA))
		if err != nil {
			return Run{}, err
		}
		if _, err := stmt.ExecContext(ctx, run.ID, a.Peptide,
			strings.Join(a.Proteins, ";"), strings.Join(a.BlastProteins, ";"),
			a.LCA.ID, a.LCA.Name, a.LCA.Rank, cols); err != nil {
			return Run{}, fmt.Errorf("insert assignment %s: %w", a.Peptide, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Runs lists stored runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, source, options, stats FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Run returns a single run.
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, created_at, source, options, stats FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                   Run
		created             string
		optsJSON, statsJSON []byte
	)
	if err := sc.Scan(&r.ID, &created, &r.Source, &optsJSON, &statsJSON); err != nil {
		return Run{}, err
	}
	t, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: created_at: %w", r.ID, err)
	}
	r.CreatedAt = t
	if err := json.Unmarshal(optsJSON, &r.Options); err != nil {
		return Run{}, fmt.Errorf("run %s: decode options: %w", r.ID, err)
	}
	if err := json.Unmarshal(statsJSON, &r.Stats); err != nil {
		return Run{}, fmt.Errorf("run %s: decode stats: %w", r.ID, err)
	}
	return r, nil
}

// DeleteRun removes a run and its assignments.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Assignments returns the assignments of a run sorted by peptide. A non
// empty rank restricts the result to LCAs at that rank.
func (s *Store) Assignments(ctx context.Context, runID, rank string) ([]assign.Assignment, error) {
	q := `SELECT peptide, proteins, blast_proteins, columns FROM assignments WHERE run_id = ?`
	args := []any{runID}
	if rank != "" {
		q += ` AND taxon_rank = ?`
		args = append(args, rank)
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY peptide`, args...)
	if err != nil {
		return nil, fmt.Errorf("select assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []assign.Assignment
	for rows.Next() {
		a, err := s.scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Assignment returns the assignment of one peptide in a run.
func (s *Store) Assignment(ctx context.Context, runID, peptide string) (assign.Assignment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT peptide, proteins, blast_proteins, columns FROM assignments WHERE run_id = ? AND peptide = ?`,
		runID, peptide)
	a, err := s.scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return assign.Assignment{}, fmt.Errorf("%w: %s", ErrAssignmentNotFound, peptide)
	}
	return a, err
}

func (s *Store) scanAssignment(sc scanner) (assign.Assignment, error) {
	var (
		a              assign.Assignment
		proteins, hits string
		columnsJSON    []byte
		cols           []string
	)
	if err := sc.Scan(&a.Peptide, &proteins, &hits, &columnsJSON); err != nil {
		return a, err
	}
	if err := json.Unmarshal(columnsJSON, &cols); err != nil {
		return a, fmt.Errorf("peptide %s: decode columns: %w", a.Peptide, err)
	}
	t, err := s.h.ParseColumns(cols)
	if err != nil {
		return a, fmt.Errorf("peptide %s: %w", a.Peptide, err)
	}
	a.LCA = t
	a.Proteins = splitList(proteins)
	a.BlastProteins = splitList(hits)
	return a, nil
}

// RankCounts tallies a run's assignments by LCA rank, in hierarchy order
// with ranks outside the hierarchy last.
func (s *Store) RankCounts(ctx context.Context, runID string) ([]taxonomy.RankCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT taxon_rank, COUNT(*) FROM assignments WHERE run_id = ? GROUP BY taxon_rank`, runID)
	if err != nil {
		return nil, fmt.Errorf("count ranks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []taxonomy.RankCount
	for rows.Next() {
		var rc taxonomy.RankCount
		if err := rows.Scan(&rc.Rank, &rc.Count); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return s.rankKey(out[i].Rank) < s.rankKey(out[j].Rank)
	})
	return out, nil
}

func (s *Store) rankKey(rank string) int {
	if r, ok := s.h.Order(rank); ok {
		return int(r)
	}
	return taxonomy.NumRanks
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ";")
}
