package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type level struct {
	rank string
	id   int
	name string
}

func build(h *Hierarchy, levels ...level) Taxon {
	last := levels[len(levels)-1]
	t := NewTaxon(h, last.id, last.name, last.rank)
	for _, l := range levels {
		t = t.WithAncestor(h.MustOrder(l.rank), Ref{ID: l.id, Name: l.name})
	}
	return t
}

func humanLike(h *Hierarchy, speciesID int, species string) Taxon {
	return build(h,
		level{"superkingdom", 2759, "Eukaryota"},
		level{"kingdom", 33208, "Metazoa"},
		level{"phylum", 7711, "Chordata"},
		level{"class", 40674, "Mammalia"},
		level{"order", 9443, "Primates"},
		level{"family", 9604, "Hominidae"},
		level{"genus", 9605, "Homo"},
		level{"species", speciesID, species},
	)
}

func TestHierarchyOrder(t *testing.T) {
	h := NewHierarchy()
	require.Len(t, h.Names(), NumRanks)

	r, ok := h.Order("superkingdom")
	require.True(t, ok)
	assert.Equal(t, Rank(0), r)

	r, ok = h.Order("forma")
	require.True(t, ok)
	assert.Equal(t, Rank(NumRanks-1), r)

	_, ok = h.Order("clade")
	assert.False(t, ok)
	assert.Panics(t, func() { h.MustOrder("clade") })
}

func TestMajorRanks(t *testing.T) {
	h := NewHierarchy()
	assert.True(t, h.IsMajor("kingdom"))
	assert.False(t, h.IsMajor("subfamily"))

	cases := map[string]string{
		"superkingdom": "superkingdom",
		"kingdom":      "superkingdom",
		"superphylum":  "phylum",
		"superclass":   "class",
		"infraorder":   "order",
		"parvorder":    "order",
		"superfamily":  "family",
		"tribe":        "family",
		"subtribe":     "family",
		"subgenus":     "genus",
		"species":      "species",
		"varietas":     "species",
		"forma":        "species",
	}
	for rank, want := range cases {
		got, err := h.MajorRankFor(rank)
		require.NoError(t, err, rank)
		assert.Equal(t, want, got, rank)
	}
	_, err := h.MajorRankFor("clade")
	assert.ErrorIs(t, err, ErrUnknownRank)

	m, err := h.MostSpecificMajorRank("subtribe")
	require.NoError(t, err)
	assert.Equal(t, "family", m)
	m, err = h.MostSpecificMajorRank("subkingdom")
	require.NoError(t, err)
	assert.Equal(t, "kingdom", m)
}

func TestValidLevel(t *testing.T) {
	h := NewHierarchy()
	v := NewValidator(h)

	assert.False(t, v.ValidLevel(5, "Anything", NoRank))
	assert.False(t, v.ValidLevel(28384, "other sequences", "superkingdom"))
	assert.False(t, v.ValidLevel(48479, "environmental samples", "genus"))
	for _, rank := range []string{"superkingdom", "genus", "species"} {
		assert.False(t, v.ValidLevel(10, "uncultured bacterium", rank), rank)
	}
	assert.False(t, v.ValidLevel(10, "marine metagenome", "species"))
	assert.False(t, v.ValidLevel(10, "Bacillus sp.", "species"))
	assert.False(t, v.ValidLevel(10, "Chlorella genomesp.", "species"))
	assert.False(t, v.ValidLevel(10, "12-proteobacterium", "species"))

	assert.True(t, v.ValidLevel(10, "strain12", "species"))
	assert.True(t, v.ValidLevel(10, "Bacillus sp.", "genus"))
	assert.True(t, v.ValidLevel(10, "12-proteobacterium", "genus"))
	assert.True(t, v.ValidLevel(9606, "Homo sapiens", "species"))
	// indicator matching is case-sensitive
	assert.True(t, v.ValidLevel(10, "Uncultured", "genus"))
}

func TestValidateAndRepair(t *testing.T) {
	h := NewHierarchy()
	v := NewValidator(h)

	t.Run("all valid", func(t *testing.T) {
		in := humanLike(h, 9606, "Homo sapiens")
		out, ok := v.ValidateAndRepair(in)
		require.True(t, ok)
		assert.Equal(t, in, out)
	})

	t.Run("only superkingdom valid", func(t *testing.T) {
		in := build(h,
			level{"superkingdom", 2, "Bacteria"},
			level{"phylum", 100, "uncultured phylum"},
			level{"genus", 101, "environmental samples"},
			level{"species", 102, "uncultured bacterium"},
		)
		out, ok := v.ValidateAndRepair(in)
		require.True(t, ok)
		assert.Equal(t, 2, out.ID)
		assert.Equal(t, "Bacteria", out.Name)
		assert.Equal(t, "superkingdom", out.Rank)
		assert.Equal(t, 1, out.Depth())
		ref, ok := out.Ancestor(0)
		require.True(t, ok)
		assert.Equal(t, Ref{ID: 2, Name: "Bacteria"}, ref)

		// input untouched
		assert.Equal(t, 4, in.Depth())
		assert.Equal(t, "species", in.Rank)
	})

	t.Run("skips invalid middle rank", func(t *testing.T) {
		in := build(h,
			level{"superkingdom", 2, "Bacteria"},
			level{"class", 1236, "Gammaproteobacteria"},
			level{"species", 201, "Escherichia coli"},
		)
		in = in.WithAncestor(h.MustOrder("order"), Ref{ID: 28384, Name: "other"})
		out, ok := v.ValidateAndRepair(in)
		require.True(t, ok)
		assert.Equal(t, "species", out.Rank)
		assert.Equal(t, 3, out.Depth())
		_, ok = out.Ancestor(h.MustOrder("order"))
		assert.False(t, ok)
	})

	t.Run("nothing valid", func(t *testing.T) {
		in := build(h,
			level{"superkingdom", 28384, "other sequences"},
			level{"species", 300, "uncultured organism"},
		)
		_, ok := v.ValidateAndRepair(in)
		assert.False(t, ok)
	})

	t.Run("no lineage", func(t *testing.T) {
		_, ok := v.ValidateAndRepair(Root())
		assert.False(t, ok)
	})
}

func TestInferSingleIsIdentity(t *testing.T) {
	h := NewHierarchy()
	e := NewLCA(h)
	in := humanLike(h, 9606, "Homo sapiens")
	out, err := e.Infer([]Taxon{in})
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// even a taxon that would not survive a multi-taxon scan
	odd := Taxon{ID: 42, Name: "odd", Rank: NoRank}
	out, err = e.Infer([]Taxon{odd})
	require.NoError(t, err)
	assert.Equal(t, odd, out)
}

func TestInferEmpty(t *testing.T) {
	_, err := NewLCA(NewHierarchy()).Infer(nil)
	assert.ErrorIs(t, err, ErrNoTaxa)
}

func TestInferSharedPhylum(t *testing.T) {
	h := NewHierarchy()
	e := NewLCA(h)
	base := []level{
		{"superkingdom", 2, "Bacteria"},
		{"phylum", 1224, "Proteobacteria"},
	}
	taxa := []Taxon{
		build(h, append(base, level{"class", 28211, "Alphaproteobacteria"})...),
		build(h, append(base, level{"class", 1236, "Gammaproteobacteria"})...),
		build(h, append(base, level{"class", 28216, "Betaproteobacteria"})...),
	}
	out, err := e.Infer(taxa)
	require.NoError(t, err)
	assert.Equal(t, "phylum", out.Rank)
	assert.Equal(t, 1224, out.ID)
	assert.Equal(t, "Proteobacteria", out.Name)
	assert.Equal(t, 2, out.Depth())
	_, ok := out.Ancestor(h.MustOrder("superkingdom"))
	assert.True(t, ok)
	_, ok = out.Ancestor(h.MustOrder("class"))
	assert.False(t, ok)
}

func TestInferGenus(t *testing.T) {
	h := NewHierarchy()
	e := NewLCA(h)
	out, err := e.Infer([]Taxon{
		humanLike(h, 9606, "Homo sapiens"),
		humanLike(h, 63221, "Homo neanderthalensis"),
	})
	require.NoError(t, err)
	assert.Equal(t, "genus", out.Rank)
	assert.Equal(t, 9605, out.ID)
	assert.Equal(t, 7, out.Depth())
}

func TestInferNothingShared(t *testing.T) {
	h := NewHierarchy()
	e := NewLCA(h)
	out, err := e.Infer([]Taxon{
		build(h, level{"superkingdom", 2, "Bacteria"}, level{"genus", 561, "Escherichia"}),
		build(h, level{"superkingdom", 2157, "Archaea"}, level{"genus", 2172, "Methanobrevibacter"}),
	})
	require.NoError(t, err)
	assert.Equal(t, Root(), out)
}

func TestInferStopsAtMissingRank(t *testing.T) {
	h := NewHierarchy()
	e := NewLCA(h)
	// the second taxon has no phylum: the rank cannot be common even though
	// the first and third agree on it
	a := build(h, level{"superkingdom", 2, "Bacteria"}, level{"phylum", 1224, "Proteobacteria"}, level{"genus", 561, "Escherichia"})
	b := build(h, level{"superkingdom", 2, "Bacteria"}, level{"genus", 561, "Escherichia"})
	c := build(h, level{"superkingdom", 2, "Bacteria"}, level{"phylum", 1224, "Proteobacteria"}, level{"genus", 561, "Escherichia"})
	out, err := e.Infer([]Taxon{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, "genus", out.Rank)
	assert.Equal(t, 561, out.ID)
	assert.Equal(t, 2, out.Depth())
	_, ok := out.Ancestor(h.MustOrder("phylum"))
	assert.False(t, ok)
}

func TestColumnsRoundTrip(t *testing.T) {
	h := NewHierarchy()
	header := h.Header()
	require.Len(t, header, NumColumns)
	assert.Equal(t, []string{"taxon_id", "taxon_name", "taxon_rank", "superkingdom_id", "superkingdom_name"}, header[:5])
	assert.Equal(t, "forma_name", header[len(header)-1])

	for _, in := range []Taxon{
		humanLike(h, 9606, "Homo sapiens"),
		build(h, level{"superkingdom", 2, "Bacteria"}, level{"species group", 5, "Bacillus cereus group"}),
		Root(),
	} {
		fields := h.Columns(in)
		require.Len(t, fields, NumColumns)
		out, err := h.ParseColumns(fields)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestParseColumnsErrors(t *testing.T) {
	h := NewHierarchy()
	_, err := h.ParseColumns([]string{"1", "root"})
	assert.Error(t, err)

	fields := h.Columns(Root())
	fields[0] = "x"
	_, err = h.ParseColumns(fields)
	assert.Error(t, err)
}

func TestRankCounts(t *testing.T) {
	h := NewHierarchy()
	taxa := []Taxon{
		humanLike(h, 9606, "Homo sapiens"),
		Root(),
		NewTaxon(h, 9605, "Homo", "genus"),
		NewTaxon(h, 9606, "Homo sapiens", "species"),
		NewTaxon(h, 207598, "Homininae", "subfamily"),
	}
	assert.Equal(t, []RankCount{
		{Rank: "subfamily", Count: 1},
		{Rank: "genus", Count: 1},
		{Rank: "species", Count: 2},
		{Rank: NoRank, Count: 1},
	}, h.RankCounts(taxa))
	assert.Equal(t, []RankCount{
		{Rank: "family", Count: 1},
		{Rank: "genus", Count: 1},
		{Rank: "species", Count: 2},
	}, h.MajorRankCounts(taxa))
}
