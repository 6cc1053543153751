package index

// Package index reads the tab-separated lookup files the pipeline consumes:
// the observed peptide list, the peptide → protein index and the
// protein → taxon index.

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"peptaxa/internal/fasta"
)

// ErrMissingColumn is an integrity error: an index lacks a required column.
var ErrMissingColumn = errors.New("missing column")

// ReadPeptides loads the set of observed peptide sequences, one per line.
// FASTA input (first line starting with '>') is also accepted.
func ReadPeptides(r io.Reader) (map[string]struct{}, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(1)
	out := make(map[string]struct{})
	if bytes.HasPrefix(head, []byte(">")) {
		recs, err := fasta.Parse(br)
		if err != nil {
			return nil, fmt.Errorf("read peptides: %w", err)
		}
		for _, rec := range recs {
			if seq := strings.TrimSpace(rec.Sequence); seq != "" {
				out[seq] = struct{}{}
			}
		}
		return out, nil
	}
	scanner := bufio.NewScanner(br)
	for scanner.Scan() {
		if seq := strings.TrimSpace(scanner.Text()); seq != "" {
			out[seq] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read peptides: %w", err)
	}
	return out, nil
}

type tsvReader struct {
	r    *csv.Reader
	cols map[string]int
}

func newTSVReader(r io.Reader, required ...string) (*tsvReader, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, name)
		}
	}
	return &tsvReader{r: cr, cols: cols}, nil
}

// next returns the named fields of the next row, io.EOF at the end.
func (t *tsvReader) next(names ...string) ([]string, error) {
	rec, err := t.r.Read()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(names))
	for i, name := range names {
		idx := t.cols[name]
		if idx >= len(rec) {
			line, _ := t.r.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w %q", line, ErrMissingColumn, name)
		}
		out[i] = rec[idx]
	}
	return out, nil
}

// PeptideProteins links peptides to the proteins they were identified in.
type PeptideProteins struct {
	ByPeptide map[string][]string
	ByProtein map[string][]string
}

// Baits returns the union of all candidate proteins.
func (pp *PeptideProteins) Baits() map[string]struct{} {
	out := make(map[string]struct{}, len(pp.ByProtein))
	for p := range pp.ByProtein {
		out[p] = struct{}{}
	}
	return out
}

// ReadPeptideProteins reads a peptide index with columns "sequence" and
// "protein id" (a ';'-separated list), keeping only peptides in keep.
func ReadPeptideProteins(r io.Reader, keep map[string]struct{}) (*PeptideProteins, error) {
	tr, err := newTSVReader(r, "sequence", "protein id")
	if err != nil {
		return nil, fmt.Errorf("peptide index: %w", err)
	}
	pp := &PeptideProteins{
		ByPeptide: make(map[string][]string),
		ByProtein: make(map[string][]string),
	}
	for {
		fields, err := tr.next("sequence", "protein id")
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("peptide index: %w", err)
		}
		pep := strings.TrimSpace(fields[0])
		if _, ok := keep[pep]; !ok {
			continue
		}
		var proteins []string
		for _, p := range strings.Split(fields[1], ";") {
			if p = strings.TrimSpace(p); p != "" {
				proteins = append(proteins, p)
			}
		}
		pp.ByPeptide[pep] = proteins
		for _, p := range proteins {
			pp.ByProtein[p] = append(pp.ByProtein[p], pep)
		}
	}
	return pp, nil
}

// ReadProteinTaxa reads a protein index with columns "accession" and
// "taxon_id", keeping only proteins in keep (nil keeps all).
func ReadProteinTaxa(r io.Reader, keep map[string]struct{}) (map[string]int, error) {
	tr, err := newTSVReader(r, "accession", "taxon_id")
	if err != nil {
		return nil, fmt.Errorf("protein index: %w", err)
	}
	out := make(map[string]int)
	for {
		fields, err := tr.next("accession", "taxon_id")
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("protein index: %w", err)
		}
		acc := strings.TrimSpace(fields[0])
		if keep != nil {
			if _, ok := keep[acc]; !ok {
				continue
			}
		}
		id, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("protein index: accession %s: taxon_id %q: %w", acc, fields[1], err)
		}
		out[acc] = id
	}
	return out, nil
}

// WriteProteinTaxa writes an index readable by ReadProteinTaxa.
func WriteProteinTaxa(w io.Writer, accessions []string, taxa map[string]int) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write([]string{"accession", "taxon_id"}); err != nil {
		return err
	}
	for _, acc := range accessions {
		id, ok := taxa[acc]
		if !ok {
			continue
		}
		if err := cw.Write([]string{acc, strconv.Itoa(id)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
