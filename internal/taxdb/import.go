package taxdb

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const maxDepth = 256

// splitDump splits a taxdump line ("a\t|\tb\t|\tc\t|") into its fields.
func splitDump(line string) []string {
	line = strings.TrimSuffix(strings.TrimRight(line, "\r\n"), "\t|")
	return strings.Split(line, "\t|\t")
}

func scanDump(r io.Reader, fn func(lineNo int, fields []string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		if err := fn(n, splitDump(sc.Text())); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ReadNames returns the scientific name of every taxon in a names.dmp stream.
func ReadNames(r io.Reader) (map[int]string, error) {
	out := make(map[int]string)
	err := scanDump(r, func(lineNo int, f []string) error {
		if len(f) < 4 {
			return fmt.Errorf("names.dmp line %d: %d fields", lineNo, len(f))
		}
		if f[3] != "scientific name" {
			return nil
		}
		id, err := strconv.Atoi(f[0])
		if err != nil {
			return fmt.Errorf("names.dmp line %d: %w", lineNo, err)
		}
		out[id] = f[1]
		return nil
	})
	return out, err
}

// ReadNodes reads a nodes.dmp stream, naming nodes from names.
func ReadNodes(r io.Reader, names map[int]string) ([]Node, error) {
	var out []Node
	err := scanDump(r, func(lineNo int, f []string) error {
		if len(f) < 3 {
			return fmt.Errorf("nodes.dmp line %d: %d fields", lineNo, len(f))
		}
		id, err := strconv.Atoi(f[0])
		if err != nil {
			return fmt.Errorf("nodes.dmp line %d: %w", lineNo, err)
		}
		parent, err := strconv.Atoi(f[1])
		if err != nil {
			return fmt.Errorf("nodes.dmp line %d: %w", lineNo, err)
		}
		out = append(out, Node{ID: id, ParentID: parent, Rank: f[2], Name: names[id]})
		return nil
	})
	return out, err
}

// Paths computes the root-first path of every node. The root is the node
// that is its own parent.
func Paths(nodes []Node) (map[int][]int, error) {
	parent := make(map[int]int, len(nodes))
	for _, n := range nodes {
		parent[n.ID] = n.ParentID
	}
	paths := make(map[int][]int, len(nodes))
	var walk func(id, depth int) ([]int, error)
	walk = func(id, depth int) ([]int, error) {
		if p, ok := paths[id]; ok {
			return p, nil
		}
		if depth > maxDepth {
			return nil, fmt.Errorf("taxon %d: lineage deeper than %d, parent cycle?", id, maxDepth)
		}
		pid, ok := parent[id]
		if !ok {
			return nil, fmt.Errorf("taxon %d: unknown", id)
		}
		var path []int
		if pid == id {
			path = []int{id}
		} else {
			up, err := walk(pid, depth+1)
			if err != nil {
				return nil, err
			}
			path = make([]int, len(up), len(up)+1)
			copy(path, up)
			path = append(path, id)
		}
		paths[id] = path
		return path, nil
	}
	for _, n := range nodes {
		if _, err := walk(n.ID, 0); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// Replace swaps the table contents for nodes in one transaction.
func (d *DB) Replace(ctx context.Context, nodes []Node) (retErr error) {
	paths, err := Paths(nodes)
	if err != nil {
		return err
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM ncbi_taxonomy`); err != nil {
		return fmt.Errorf("clear ncbi_taxonomy: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ncbi_taxonomy(taxon_id, name, parent_id, rank, path) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, n := range nodes {
		if _, err := stmt.ExecContext(ctx, n.ID, n.Name, n.ParentID, n.Rank, formatPath(paths[n.ID])); err != nil {
			return fmt.Errorf("insert taxon %d: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

// Import loads a taxdump (nodes.dmp and names.dmp) into the database,
// replacing its contents, and returns the number of taxa stored.
func (d *DB) Import(ctx context.Context, nodesDmp, namesDmp io.Reader) (int, error) {
	names, err := ReadNames(namesDmp)
	if err != nil {
		return 0, err
	}
	nodes, err := ReadNodes(nodesDmp, names)
	if err != nil {
		return 0, err
	}
	if err := d.Replace(ctx, nodes); err != nil {
		return 0, err
	}
	return len(nodes), nil
}
