package abundance

// Package abundance credits the PSMs of each assigned peptide to its LCA and
// to every ancestor of it, giving a per-taxon PSM count for one experiment.

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"peptaxa/internal/assign"
	"peptaxa/internal/taxdb"
	"peptaxa/internal/taxonomy"
)

// ErrBadCount marks a PSM count row that could not be read.
var ErrBadCount = errors.New("bad psm count row")

// Node is one taxon PSMs are credited to.
type Node struct {
	ID   int    `json:"taxon_id"`
	Name string `json:"name"`
	Rank string `json:"rank"`
}

// Count is the PSM total of one taxon.
type Count struct {
	Node
	PSMs  int     `json:"psm_count"`
	Ratio float64 `json:"psm_ratio"`
}

// Result is a full rollup.
type Result struct {
	Counts []Count `json:"counts"`
	// TotalPSMs sums the PSMs of every credited peptide; ratios divide by it.
	TotalPSMs int `json:"total_psms"`
	Peptides  int `json:"peptides"`
	// Unmatched counts assigned peptides absent from the PSM table.
	Unmatched int `json:"unmatched"`
}

// Lineages resolves the taxa a peptide is credited to: its LCA and every
// ancestor of it, root included.
type Lineages interface {
	Lineage(ctx context.Context, lca taxonomy.Taxon) ([]Node, error)
}

// SlotLineages credits the ranked ancestors recorded on the LCA itself.
type SlotLineages struct {
	H *taxonomy.Hierarchy
}

func (s SlotLineages) Lineage(_ context.Context, lca taxonomy.Taxon) ([]Node, error) {
	root := taxonomy.Root()
	nodes := []Node{{ID: root.ID, Name: root.Name, Rank: root.Rank}}
	self := lca.ID == root.ID
	for _, r := range s.H.Ranks() {
		ref, ok := lca.Ancestor(r)
		if !ok || ref.ID == root.ID {
			continue
		}
		nodes = append(nodes, Node{ID: ref.ID, Name: ref.Name, Rank: s.H.Name(r)})
		if ref.ID == lca.ID {
			self = true
		}
	}
	if !self {
		nodes = append(nodes, Node{ID: lca.ID, Name: lca.Name, Rank: lca.Rank})
	}
	return nodes, nil
}

// DBLineages walks the full NCBI path, unranked nodes included. LCAs the
// database does not know fall back to Fallback when it is set.
type DBLineages struct {
	DB       *taxdb.DB
	Fallback Lineages

	cache map[int][]Node
}

func (d *DBLineages) Lineage(ctx context.Context, lca taxonomy.Taxon) ([]Node, error) {
	if nodes, ok := d.cache[lca.ID]; ok {
		return nodes, nil
	}
	path, err := d.DB.Path(ctx, lca.ID)
	if errors.Is(err, taxdb.ErrTaxonNotFound) && d.Fallback != nil {
		return d.Fallback.Lineage(ctx, lca)
	}
	if err != nil {
		return nil, err
	}
	found, err := d.DB.Nodes(ctx, path)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(path))
	for _, id := range path {
		n, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d on the path of %d", taxdb.ErrTaxonNotFound, id, lca.ID)
		}
		nodes = append(nodes, Node{ID: n.ID, Name: n.Name, Rank: n.Rank})
	}
	if d.cache == nil {
		d.cache = make(map[int][]Node)
	}
	d.cache[lca.ID] = nodes
	return nodes, nil
}

// ReadPSMCounts reads a two column table of peptide and PSM count. A first
// column of "sequence" marks a header row. A peptide listed twice keeps its
// last count.
func ReadPSMCounts(r io.Reader) (map[string]int, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	out := make(map[string]int)
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read psm counts: %w", err)
		}
		peptide := strings.TrimSpace(rec[0])
		if peptide == "" || peptide == "sequence" {
			continue
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("%w: line %d has no count", ErrBadCount, line)
		}
		n, err := strconv.Atoi(strings.TrimSpace(rec[1]))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: line %d count %q", ErrBadCount, line, rec[1])
		}
		out[peptide] = n
	}
}

// Rollup credits every assigned peptide's PSMs to each taxon of its lineage.
// Counts are sorted by PSMs, most first, then by taxon id.
func Rollup(ctx context.Context, lin Lineages, assignments []assign.Assignment, psms map[string]int) (*Result, error) {
	res := &Result{}
	counts := make(map[int]*Count)
	for _, a := range assignments {
		n, ok := psms[a.Peptide]
		if !ok {
			res.Unmatched++
			continue
		}
		nodes, err := lin.Lineage(ctx, a.LCA)
		if err != nil {
			return nil, fmt.Errorf("lineage of %s (taxon %d): %w", a.Peptide, a.LCA.ID, err)
		}
		res.Peptides++
		res.TotalPSMs += n
		seen := make(map[int]bool, len(nodes))
		for _, node := range nodes {
			if seen[node.ID] {
				continue
			}
			seen[node.ID] = true
			c, ok := counts[node.ID]
			if !ok {
				c = &Count{Node: node}
				counts[node.ID] = c
			}
			c.PSMs += n
		}
	}

	res.Counts = make([]Count, 0, len(counts))
	for _, c := range counts {
		if res.TotalPSMs > 0 {
			c.Ratio = float64(c.PSMs) / float64(res.TotalPSMs)
		}
		res.Counts = append(res.Counts, *c)
	}
	sort.Slice(res.Counts, func(i, j int) bool {
		if res.Counts[i].PSMs != res.Counts[j].PSMs {
			return res.Counts[i].PSMs > res.Counts[j].PSMs
		}
		return res.Counts[i].ID < res.Counts[j].ID
	})
	return res, nil
}

// Header is the column layout written by Write.
var Header = []string{"taxon_id", "name", "rank", "psm_count", "psm_ratio"}

// Write emits counts as a tab separated table.
func Write(w io.Writer, counts []Count) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, c := range counts {
		row := []string{
			strconv.Itoa(c.ID),
			c.Name,
			c.Rank,
			strconv.Itoa(c.PSMs),
			strconv.FormatFloat(c.Ratio, 'f', 6, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
