package taxdb

// Package taxdb is a local copy of the NCBI taxonomy in SQLite. It can stand
// in for the remote taxonomy service: FetchBatch resolves ids to taxa with
// their lineage, built from the stored root-to-node path.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"peptaxa/internal/taxonomy"
)

// ErrTaxonNotFound is returned when an id is not in the database.
var ErrTaxonNotFound = errors.New("taxon not found")

const schema = `
CREATE TABLE IF NOT EXISTS ncbi_taxonomy (
	taxon_id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	parent_id INTEGER NOT NULL,
	rank TEXT NOT NULL,
	path TEXT NOT NULL
)`

// Node is one row of the taxonomy table.
type Node struct {
	ID       int
	ParentID int
	Rank     string
	Name     string
}

// DB wraps the taxonomy database.
type DB struct {
	db   *sql.DB
	h    *taxonomy.Hierarchy
	path string
}

// Open opens the database at path, creating the table if needed.
func Open(path string, h *taxonomy.Hierarchy) (*DB, error) {
	if path == "" {
		return nil, errors.New("taxdb: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ncbi_taxonomy: %w", err)
	}
	return &DB{db: db, h: h, path: path}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// Count returns the number of stored taxa.
func (d *DB) Count(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ncbi_taxonomy`).Scan(&n)
	return n, err
}

// Path returns the ids from the root down to id, id included.
func (d *DB) Path(ctx context.Context, id int) ([]int, error) {
	var path string
	err := d.db.QueryRowContext(ctx, `SELECT path FROM ncbi_taxonomy WHERE taxon_id = ?`, id).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrTaxonNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query path of %d: %w", id, err)
	}
	return parsePath(path)
}

func parsePath(s string) ([]int, error) {
	chunks := strings.Split(s, ";")
	out := make([]int, 0, len(chunks))
	for _, c := range chunks {
		id, err := strconv.Atoi(c)
		if err != nil {
			return nil, fmt.Errorf("bad path %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func formatPath(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ";")
}

// Nodes loads the given ids. Missing ids are absent from the result.
func (d *DB) Nodes(ctx context.Context, ids []int) (map[int]Node, error) {
	out := make(map[int]Node, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT taxon_id, name, parent_id, rank FROM ncbi_taxonomy WHERE taxon_id IN (?` +
		strings.Repeat(",?", len(ids)-1) + `)`
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query taxa: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Name, &n.ParentID, &n.Rank); err != nil {
			return nil, err
		}
		out[n.ID] = n
	}
	return out, rows.Err()
}

// TaxonWithPath builds the taxon for id with every ancestor on its path
// whose rank belongs to the hierarchy.
func (d *DB) TaxonWithPath(ctx context.Context, id int) (taxonomy.Taxon, error) {
	path, err := d.Path(ctx, id)
	if err != nil {
		return taxonomy.Taxon{}, err
	}
	nodes, err := d.Nodes(ctx, path)
	if err != nil {
		return taxonomy.Taxon{}, err
	}
	self, ok := nodes[id]
	if !ok {
		return taxonomy.Taxon{}, fmt.Errorf("%w: %d", ErrTaxonNotFound, id)
	}
	t := taxonomy.NewTaxon(d.h, self.ID, self.Name, self.Rank)
	for _, pid := range path {
		n, ok := nodes[pid]
		if !ok {
			continue
		}
		if r, ok := d.h.Order(n.Rank); ok {
			t = t.WithAncestor(r, taxonomy.Ref{ID: n.ID, Name: n.Name})
		}
	}
	return t, nil
}

// FetchBatch resolves ids like the remote taxonomy service: ids missing
// from the database are left out.
func (d *DB) FetchBatch(ctx context.Context, ids []int) ([]taxonomy.Taxon, error) {
	out := make([]taxonomy.Taxon, 0, len(ids))
	for _, id := range ids {
		t, err := d.TaxonWithPath(ctx, id)
		if errors.Is(err, ErrTaxonNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// InferLCA resolves ids through the database and returns their lowest
// common ancestor. Unknown ids are an error.
func (d *DB) InferLCA(ctx context.Context, ids []int) (taxonomy.Taxon, error) {
	taxa := make([]taxonomy.Taxon, 0, len(ids))
	for _, id := range ids {
		t, err := d.TaxonWithPath(ctx, id)
		if err != nil {
			return taxonomy.Taxon{}, err
		}
		taxa = append(taxa, t)
	}
	return taxonomy.NewLCA(d.h).Infer(taxa)
}
