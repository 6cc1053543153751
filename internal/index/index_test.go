package index

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func set(items ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, s := range items {
		out[s] = struct{}{}
	}
	return out
}

func TestReadPeptidesLines(t *testing.T) {
	got, err := ReadPeptides(strings.NewReader("LVNELTEFAK\n  AEFVEVTK \n\nLVNELTEFAK\n"))
	require.NoError(t, err)
	assert.Equal(t, set("LVNELTEFAK", "AEFVEVTK"), got)
}

func TestReadPeptidesFasta(t *testing.T) {
	got, err := ReadPeptides(strings.NewReader(">p1\nLVNELTEFAK\n>p2\nAEFVE\nVTK\n"))
	require.NoError(t, err)
	assert.Equal(t, set("LVNELTEFAK", "AEFVEVTK"), got)
}

func TestReadPeptideProteins(t *testing.T) {
	input := "scan\tsequence\tprotein id\n" +
		"1\tLVNELTEFAK\tcontig_1; contig_2\n" +
		"2\tAEFVEVTK\tcontig_2\n" +
		"3\tNOTOBSERVED\tcontig_9\n"
	pp, err := ReadPeptideProteins(strings.NewReader(input), set("LVNELTEFAK", "AEFVEVTK", "ABSENT"))
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"LVNELTEFAK": {"contig_1", "contig_2"},
		"AEFVEVTK":   {"contig_2"},
	}, pp.ByPeptide)
	assert.Equal(t, []string{"LVNELTEFAK", "AEFVEVTK"}, pp.ByProtein["contig_2"])
	assert.Equal(t, set("contig_1", "contig_2"), pp.Baits())
}

func TestReadPeptideProteinsMissingColumn(t *testing.T) {
	_, err := ReadPeptideProteins(strings.NewReader("sequence\tproteins\nA\tB\n"), set("A"))
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = ReadPeptideProteins(strings.NewReader("sequence\tprotein id\nA\n"), set("A"))
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestReadProteinTaxa(t *testing.T) {
	input := "accession\tname\ttaxon_id\n" +
		"P1\themoglobin\t9606\n" +
		"Q2\tx\t9598\n" +
		"Z9\tx\t562\n"
	got, err := ReadProteinTaxa(strings.NewReader(input), set("P1", "Q2", "MISSING"))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"P1": 9606, "Q2": 9598}, got)

	all, err := ReadProteinTaxa(strings.NewReader(input), nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestReadProteinTaxaErrors(t *testing.T) {
	_, err := ReadProteinTaxa(strings.NewReader("accession\tname\nP1\tx\n"), nil)
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = ReadProteinTaxa(strings.NewReader("accession\ttaxon_id\nP1\tnine\n"), nil)
	assert.Error(t, err)
}

func TestWriteProteinTaxaRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	taxa := map[string]int{"P1": 9606, "Q2": 9598}
	require.NoError(t, WriteProteinTaxa(&buf, []string{"P1", "NOPE", "Q2"}, taxa))
	assert.Equal(t, "accession\ttaxon_id\nP1\t9606\nQ2\t9598\n", buf.String())

	got, err := ReadProteinTaxa(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, taxa, got)
}
