package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peptaxa/internal/assign"
	"peptaxa/internal/taxonomy"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "results", "runs.db"), taxonomy.NewHierarchy())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func result(h *taxonomy.Hierarchy) *assign.Result {
	homo := taxonomy.NewTaxon(h, 9605, "Homo", "genus").
		WithAncestor(h.MustOrder("family"), taxonomy.Ref{ID: 9604, Name: "Hominidae"})
	sapiens := taxonomy.NewTaxon(h, 9606, "Homo sapiens", "species").
		WithAncestor(h.MustOrder("genus"), taxonomy.Ref{ID: 9605, Name: "Homo"})
	return &assign.Result{
		Assignments: []assign.Assignment{
			{Peptide: "LVNELTEFAK", Proteins: []string{"contig_1", "contig_2"}, BlastProteins: []string{"P1", "Q2"}, LCA: homo},
			{Peptide: "AEFVEVTK", Proteins: []string{"contig_2"}, BlastProteins: []string{"P1"}, LCA: sapiens},
			{Peptide: "KLVNEVTEFAK", LCA: taxonomy.Root()},
		},
		Stats: assign.Stats{Peptides: 5, PeptidesAssigned: 3, TaxaRequested: 4},
	}
}

func TestSaveAndLoadRun(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	opts := assign.DefaultOptions()
	run, err := s.SaveRun(ctx, "unipept", opts, result(s.h))
	require.NoError(t, err)
	_, err = uuid.Parse(run.ID)
	require.NoError(t, err)

	got, err := s.Run(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run, got)
	assert.Equal(t, fixed, got.CreatedAt)
	assert.Equal(t, opts, got.Options)
	assert.Equal(t, 3, got.Stats.PeptidesAssigned)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestAssignments(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	res := result(s.h)
	run, err := s.SaveRun(ctx, "sqlite", assign.DefaultOptions(), res)
	require.NoError(t, err)

	all, err := s.Assignments(ctx, run.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "AEFVEVTK", all[0].Peptide)
	assert.Equal(t, res.Assignments[1], all[0])
	assert.Nil(t, all[1].Proteins)
	assert.Equal(t, taxonomy.Root(), all[1].LCA)

	genus, err := s.Assignments(ctx, run.ID, "genus")
	require.NoError(t, err)
	require.Len(t, genus, 1)
	assert.Equal(t, res.Assignments[0], genus[0])

	one, err := s.Assignment(ctx, run.ID, "LVNELTEFAK")
	require.NoError(t, err)
	assert.Equal(t, 9605, one.LCA.ID)

	_, err = s.Assignment(ctx, run.ID, "MISSING")
	assert.ErrorIs(t, err, ErrAssignmentNotFound)
}

func TestRankCounts(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	run, err := s.SaveRun(ctx, "unipept", assign.DefaultOptions(), result(s.h))
	require.NoError(t, err)

	counts, err := s.RankCounts(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []taxonomy.RankCount{
		{Rank: "genus", Count: 1},
		{Rank: "species", Count: 1},
		{Rank: taxonomy.NoRank, Count: 1},
	}, counts)
}

func TestRunNotFound(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	_, err := s.Run(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, s.DeleteRun(ctx, "nope"), ErrRunNotFound)
}

func TestDeleteRunRemovesAssignments(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	run, err := s.SaveRun(ctx, "unipept", assign.DefaultOptions(), result(s.h))
	require.NoError(t, err)

	require.NoError(t, s.DeleteRun(ctx, run.ID))
	rest, err := s.Assignments(ctx, run.ID, "")
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestDuplicatePeptideRollsBack(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	res := result(s.h)
	res.Assignments = append(res.Assignments, res.Assignments[0])

	_, err := s.SaveRun(ctx, "unipept", assign.DefaultOptions(), res)
	require.Error(t, err)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSaveRunRejectsInfiniteOptions(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	opts := assign.DefaultOptions()
	opts.MaxBlastE = math.Inf(1)

	_, err := s.SaveRun(ctx, "unipept", opts, result(s.h))
	require.Error(t, err)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
