package report

// Package report writes and reads the per-peptide LCA table and summarizes
// it by rank.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"peptaxa/internal/assign"
	"peptaxa/internal/taxonomy"
)

const listSep = ";"

// ErrBadHeader is returned when a table does not start with the expected
// columns.
var ErrBadHeader = errors.New("unexpected lca table header")

// Header returns the table header, with the protein list columns when
// withProteins is set.
func Header(h *taxonomy.Hierarchy, withProteins bool) []string {
	out := []string{"peptide"}
	if withProteins {
		out = append(out, "proteins", "blastproteins")
	}
	return append(out, h.Header()...)
}

// Writer emits assignments as tab-separated rows.
type Writer struct {
	cw           *csv.Writer
	h            *taxonomy.Hierarchy
	withProteins bool
	wroteHeader  bool
}

func NewWriter(w io.Writer, h *taxonomy.Hierarchy, withProteins bool) *Writer {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return &Writer{cw: cw, h: h, withProteins: withProteins}
}

// Write emits one row, preceded by the header on first use.
func (w *Writer) Write(a assign.Assignment) error {
	if !w.wroteHeader {
		if err := w.cw.Write(Header(w.h, w.withProteins)); err != nil {
			return err
		}
		w.wroteHeader = true
	}
	row := []string{a.Peptide}
	if w.withProteins {
		row = append(row, strings.Join(a.Proteins, listSep), strings.Join(a.BlastProteins, listSep))
	}
	return w.cw.Write(append(row, w.h.Columns(a.LCA)...))
}

// Close writes the header if no row was written and flushes.
func (w *Writer) Close() error {
	if !w.wroteHeader {
		if err := w.cw.Write(Header(w.h, w.withProteins)); err != nil {
			return err
		}
		w.wroteHeader = true
	}
	w.cw.Flush()
	return w.cw.Error()
}

// WriteAll writes a complete table.
func WriteAll(w io.Writer, h *taxonomy.Hierarchy, assignments []assign.Assignment, withProteins bool) error {
	tw := NewWriter(w, h, withProteins)
	for _, a := range assignments {
		if err := tw.Write(a); err != nil {
			return err
		}
	}
	return tw.Close()
}

// ReadAll parses a table produced by Writer. The presence of the protein
// list columns is detected from the header.
func ReadAll(r io.Reader, h *taxonomy.Hierarchy) ([]assign.Assignment, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty input", ErrBadHeader)
	}
	if err != nil {
		return nil, err
	}
	withProteins := len(header) > 1 && header[1] == "proteins"
	want := Header(h, withProteins)
	if len(header) != len(want) {
		return nil, fmt.Errorf("%w: %d columns, expected %d", ErrBadHeader, len(header), len(want))
	}
	for i := range want {
		if header[i] != want[i] {
			return nil, fmt.Errorf("%w: column %d is %q, expected %q", ErrBadHeader, i+1, header[i], want[i])
		}
	}
	skip := 1
	if withProteins {
		skip = 3
	}

	var out []assign.Assignment
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		t, err := h.ParseColumns(rec[skip:])
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		a := assign.Assignment{Peptide: rec[0], LCA: t}
		if withProteins {
			a.Proteins = splitList(rec[1])
			a.BlastProteins = splitList(rec[2])
		}
		out = append(out, a)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, listSep)
}

// Summary counts assignments per rank.
type Summary struct {
	Total       int
	ByRank      []taxonomy.RankCount
	ByMajorRank []taxonomy.RankCount
}

func Summarize(h *taxonomy.Hierarchy, assignments []assign.Assignment) Summary {
	taxa := make([]taxonomy.Taxon, len(assignments))
	for i, a := range assignments {
		taxa[i] = a.LCA
	}
	return Summary{
		Total:       len(assignments),
		ByRank:      h.RankCounts(taxa),
		ByMajorRank: h.MajorRankCounts(taxa),
	}
}

// WriteSummary prints s as two aligned tables.
func WriteSummary(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "assigned peptides\t%d\n\n", s.Total)
	fmt.Fprintln(tw, "rank\tpeptides\t")
	for _, rc := range s.ByRank {
		fmt.Fprintf(tw, "%s\t%d\t\n", rc.Rank, rc.Count)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "major rank\tpeptides\t")
	for _, rc := range s.ByMajorRank {
		fmt.Fprintf(tw, "%s\t%d\t\n", rc.Rank, rc.Count)
	}
	return tw.Flush()
}
