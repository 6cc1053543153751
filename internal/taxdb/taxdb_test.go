package taxdb

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peptaxa/internal/taxonomy"
)

const nodesDmp = `1	|	1	|	no rank	|		|
131567	|	1	|	no rank	|		|
2759	|	131567	|	superkingdom	|		|
33208	|	2759	|	kingdom	|		|
7711	|	33208	|	phylum	|		|
40674	|	7711	|	class	|		|
9443	|	40674	|	order	|		|
9604	|	9443	|	family	|		|
9605	|	9604	|	genus	|		|
9606	|	9605	|	species	|		|
63221	|	9606	|	subspecies	|		|
9596	|	9604	|	genus	|		|
9598	|	9596	|	species	|		|
2	|	131567	|	superkingdom	|		|
`

const namesDmp = `1	|	root	|		|	scientific name	|
131567	|	cellular organisms	|		|	scientific name	|
2759	|	Eukaryota	|		|	scientific name	|
2759	|	eucaryotes	|		|	genbank common name	|
33208	|	Metazoa	|		|	scientific name	|
7711	|	Chordata	|		|	scientific name	|
40674	|	Mammalia	|		|	scientific name	|
9443	|	Primates	|		|	scientific name	|
9604	|	Hominidae	|		|	scientific name	|
9605	|	Homo	|		|	scientific name	|
9606	|	Homo sapiens	|		|	scientific name	|
9606	|	human	|		|	genbank common name	|
63221	|	Homo sapiens neanderthalensis	|		|	scientific name	|
9596	|	Pan	|		|	scientific name	|
9598	|	Pan troglodytes	|		|	scientific name	|
2	|	Bacteria	|	Bacteria <bacteria>	|	scientific name	|
`

func loaded(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "ncbi.db"), taxonomy.NewHierarchy())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	n, err := d.Import(context.Background(), strings.NewReader(nodesDmp), strings.NewReader(namesDmp))
	require.NoError(t, err)
	require.Equal(t, 14, n)
	return d
}

func TestReadNamesKeepsScientific(t *testing.T) {
	names, err := ReadNames(strings.NewReader(namesDmp))
	require.NoError(t, err)
	assert.Equal(t, "Eukaryota", names[2759])
	assert.Equal(t, "Homo sapiens", names[9606])
	assert.Equal(t, "Bacteria", names[2])
}

func TestPaths(t *testing.T) {
	paths, err := Paths([]Node{{ID: 1, ParentID: 1}, {ID: 3, ParentID: 2}, {ID: 2, ParentID: 1}})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, paths[1])
	assert.Equal(t, []int{1, 2, 3}, paths[3])

	_, err = Paths([]Node{{ID: 2, ParentID: 3}, {ID: 3, ParentID: 2}})
	assert.Error(t, err)

	_, err = Paths([]Node{{ID: 2, ParentID: 7}})
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	d := loaded(t)
	ctx := context.Background()

	path, err := d.Path(ctx, 9606)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 131567, 2759, 33208, 7711, 40674, 9443, 9604, 9605, 9606}, path)

	_, err = d.Path(ctx, 424242)
	assert.ErrorIs(t, err, ErrTaxonNotFound)

	n, err := d.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 14, n)
}

func TestTaxonWithPath(t *testing.T) {
	d := loaded(t)
	h := d.h

	got, err := d.TaxonWithPath(context.Background(), 9606)
	require.NoError(t, err)
	assert.Equal(t, 9606, got.ID)
	assert.Equal(t, "Homo sapiens", got.Name)
	assert.Equal(t, "species", got.Rank)
	assert.Equal(t, 8, got.Depth())

	genus, ok := got.Ancestor(h.MustOrder("genus"))
	require.True(t, ok)
	assert.Equal(t, taxonomy.Ref{ID: 9605, Name: "Homo"}, genus)
	self, ok := got.Ancestor(h.MustOrder("species"))
	require.True(t, ok)
	assert.Equal(t, 9606, self.ID)

	root, err := d.TaxonWithPath(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "no rank", root.Rank)
	assert.Equal(t, 0, root.Depth())
}

func TestFetchBatchSkipsUnknown(t *testing.T) {
	d := loaded(t)
	got, err := d.FetchBatch(context.Background(), []int{9598, 424242, 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Pan troglodytes", got[0].Name)
	assert.Equal(t, "Bacteria", got[1].Name)
}

func TestInferLCA(t *testing.T) {
	d := loaded(t)
	ctx := context.Background()

	lca, err := d.InferLCA(ctx, []int{9606, 9598})
	require.NoError(t, err)
	assert.Equal(t, "family", lca.Rank)
	assert.Equal(t, 9604, lca.ID)

	lca, err = d.InferLCA(ctx, []int{9606, 63221})
	require.NoError(t, err)
	assert.Equal(t, 9606, lca.ID)

	lca, err = d.InferLCA(ctx, []int{9606, 2})
	require.NoError(t, err)
	assert.Equal(t, taxonomy.Root(), lca)

	_, err = d.InferLCA(ctx, []int{9606, 424242})
	assert.ErrorIs(t, err, ErrTaxonNotFound)
}

func TestImportReplaces(t *testing.T) {
	d := loaded(t)
	ctx := context.Background()
	n, err := d.Import(ctx,
		strings.NewReader("1\t|\t1\t|\tno rank\t|\n2\t|\t1\t|\tsuperkingdom\t|\n"),
		strings.NewReader("1\t|\troot\t|\t\t|\tscientific name\t|\n2\t|\tBacteria\t|\t\t|\tscientific name\t|\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := d.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
