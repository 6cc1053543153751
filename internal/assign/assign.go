package assign

// Package assign turns observed peptides into taxonomic assignments: it
// follows each peptide to its candidate proteins, their BLAST hits and the
// hits' taxa, validates those taxa and reports their lowest common ancestor.

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/log"

	"peptaxa/internal/blast"
	"peptaxa/internal/index"
	"peptaxa/internal/taxonomy"
)

const (
	DefaultMaxBlastE = 1000
	DefaultBatchSize = 500
)

// TaxonomySource resolves a batch of taxon ids to full taxa. Unknown ids
// are left out of the result.
type TaxonomySource interface {
	FetchBatch(ctx context.Context, ids []int) ([]taxonomy.Taxon, error)
}

// Options configure one run.
type Options struct {
	// MaxBlastE is the absolute e-value ceiling for a hit to be considered.
	MaxBlastE float64 `json:"max_blast_e"`
	// MaxDeltaLog10E bounds log10(e) distance from a bait's best hit.
	MaxDeltaLog10E float64 `json:"max_blast_delta_log10_e"`
	// BatchSize is the number of taxon ids per taxonomy request.
	BatchSize int `json:"taxonomy_batch_size"`
	// Validate repairs or drops taxa as each batch arrives.
	Validate bool `json:"validate_taxa"`
	// TrimAccessions reduces UniProt hit ids to bare accessions.
	TrimAccessions bool `json:"trim_accessions"`
}

// DefaultOptions mirror the command line defaults.
func DefaultOptions() Options {
	return Options{
		MaxBlastE:      DefaultMaxBlastE,
		MaxDeltaLog10E: blast.DefaultMaxDeltaLog10E,
		BatchSize:      DefaultBatchSize,
		Validate:       true,
		TrimAccessions: true,
	}
}

// Inputs are the four streams a run reads.
type Inputs struct {
	Peptides        io.Reader
	PeptideProteins io.Reader
	Blast           io.Reader
	ProteinTaxa     io.Reader
}

// Assignment is the output record for one peptide.
type Assignment struct {
	Peptide       string
	Proteins      []string
	BlastProteins []string
	LCA           taxonomy.Taxon
}

// Stats summarize a run.
type Stats struct {
	Peptides            int             `json:"peptides"`
	PeptidesInIndex     int             `json:"peptides_in_index"`
	BaitProteins        int             `json:"bait_proteins"`
	BaitsWithHits       int             `json:"baits_with_hits"`
	HitProteins         int             `json:"hit_proteins"`
	HitProteinsWithTaxa int             `json:"hit_proteins_with_taxa"`
	PeptidesWithHits    int             `json:"peptides_with_hits"`
	PeptidesWithTaxa    int             `json:"peptides_with_taxa"`
	TaxaRequested       int             `json:"taxa_requested"`
	TaxaResolved        int             `json:"taxa_resolved"`
	PeptidesAssigned    int             `json:"peptides_assigned"`
	Blast               blast.LoadStats `json:"blast"`
}

// Result is the outcome of a run; assignments are sorted by peptide.
type Result struct {
	Assignments []Assignment
	Stats       Stats
}

// Assigner runs the peptide taxonomy pipeline.
type Assigner struct {
	h         *taxonomy.Hierarchy
	validator *taxonomy.Validator
	lca       *taxonomy.LCA
	source    TaxonomySource
	opts      Options
	logger    *log.Logger
}

// New returns an assigner. Zero batch size falls back to the default.
func New(h *taxonomy.Hierarchy, source TaxonomySource, opts Options, logger *log.Logger) *Assigner {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Assigner{
		h:         h,
		validator: taxonomy.NewValidator(h),
		lca:       taxonomy.NewLCA(h),
		source:    source,
		opts:      opts,
		logger:    logger,
	}
}

// Run executes every step and returns one assignment per peptide that
// ends up with at least one valid taxon.
func (a *Assigner) Run(ctx context.Context, in Inputs) (*Result, error) {
	var stats Stats

	peptides, err := index.ReadPeptides(in.Peptides)
	if err != nil {
		return nil, err
	}
	stats.Peptides = len(peptides)
	a.logger.Info("loaded peptides", "peptides", len(peptides))

	pp, err := index.ReadPeptideProteins(in.PeptideProteins, peptides)
	if err != nil {
		return nil, err
	}
	baits := pp.Baits()
	stats.PeptidesInIndex = len(pp.ByPeptide)
	stats.BaitProteins = len(baits)
	a.logger.Info("loaded peptide index", "present", len(pp.ByPeptide), "of", len(peptides), "proteins", len(baits))

	hitMap, blastStats, err := blast.LoadHitMap(in.Blast, blast.LoadOptions{
		Baits:          baits,
		MaxE:           a.opts.MaxBlastE,
		TrimAccessions: a.opts.TrimAccessions,
	})
	if err != nil {
		return nil, err
	}
	stats.Blast = blastStats
	if blastStats.Skipped > 0 {
		a.logger.Warn("skipped unparsable blast lines", "lines", blastStats.Skipped)
	}
	accepted := a.AcceptHits(hitMap)
	hitProteins := union(accepted)
	stats.BaitsWithHits = len(accepted)
	stats.HitProteins = len(hitProteins)
	a.logger.Info("loaded blast hits", "baits", len(accepted), "hit_proteins", len(hitProteins))

	protTaxa, err := index.ReadProteinTaxa(in.ProteinTaxa, hitProteins)
	if err != nil {
		return nil, err
	}
	stats.HitProteinsWithTaxa = len(protTaxa)
	a.logger.Info("loaded protein taxa", "resolved", len(protTaxa), "of", len(hitProteins))

	pepHits, pepTaxa := Aggregate(pp, accepted, protTaxa)
	stats.PeptidesWithHits = len(pepHits)
	stats.PeptidesWithTaxa = len(pepTaxa)
	a.logger.Info("associated peptides with hits", "with_hits", len(pepHits), "with_taxa", len(pepTaxa))

	ids := taxonIDs(pepTaxa)
	stats.TaxaRequested = len(ids)
	taxa, err := a.FetchTaxa(ctx, ids)
	if err != nil {
		return nil, err
	}
	stats.TaxaResolved = len(taxa)
	a.logger.Info("fetched taxa", "requested", len(ids), "resolved", len(taxa))

	lcas, err := a.AssignLCAs(pepTaxa, taxa)
	if err != nil {
		return nil, err
	}
	stats.PeptidesAssigned = len(lcas)
	a.logger.Info("assigned lcas", "assigned", len(lcas), "of", len(pepTaxa))

	out := make([]Assignment, 0, len(lcas))
	for _, pep := range sortedKeys(lcas) {
		out = append(out, Assignment{
			Peptide:       pep,
			Proteins:      pp.ByPeptide[pep],
			BlastProteins: sortedKeys(pepHits[pep]),
			LCA:           lcas[pep],
		})
	}
	return &Result{Assignments: out, Stats: stats}, nil
}

// AcceptHits applies the relative e-value filter to every bait.
func (a *Assigner) AcceptHits(hitMap map[string][]blast.Hit) map[string]map[string]struct{} {
	f := blast.Filter{MaxDeltaLog10E: a.opts.MaxDeltaLog10E}
	out := make(map[string]map[string]struct{}, len(hitMap))
	for bait, hits := range hitMap {
		out[bait] = f.AcceptedProteins(hits)
	}
	return out
}

// Aggregate unions, per peptide, the accepted hits of its candidate
// proteins and the taxon ids of those hits. Peptides without any candidate
// protein among the baits with hits are left out of both maps; peptides
// without a resolved taxon are left out of the second.
func Aggregate(pp *index.PeptideProteins, accepted map[string]map[string]struct{}, protTaxa map[string]int) (map[string]map[string]struct{}, map[string][]int) {
	pepHits := make(map[string]map[string]struct{})
	pepTaxa := make(map[string][]int)
	for pep, proteins := range pp.ByPeptide {
		var hits map[string]struct{}
		for _, p := range proteins {
			acc, ok := accepted[p]
			if !ok {
				continue
			}
			if hits == nil {
				hits = make(map[string]struct{})
			}
			for h := range acc {
				hits[h] = struct{}{}
			}
		}
		if hits == nil {
			continue
		}
		pepHits[pep] = hits

		ids := make(map[int]struct{})
		for h := range hits {
			if id, ok := protTaxa[h]; ok {
				ids[id] = struct{}{}
			}
		}
		if len(ids) == 0 {
			continue
		}
		list := make([]int, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		sort.Ints(list)
		pepTaxa[pep] = list
	}
	return pepHits, pepTaxa
}

// FetchTaxa resolves ids through the taxonomy source in batches. With
// Validate set, each batch is validated before being merged; ids failing
// validation are dropped. An id returned by two batches is reported and the
// later record kept.
func (a *Assigner) FetchTaxa(ctx context.Context, ids []int) (map[int]taxonomy.Taxon, error) {
	size := a.opts.BatchSize
	batches := (len(ids) + size - 1) / size
	a.logger.Debug("splitting taxa into batches", "taxa", len(ids), "batches", batches, "batch_size", size)

	out := make(map[int]taxonomy.Taxon, len(ids))
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		fetched, err := a.source.FetchBatch(ctx, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("fetch taxa %d-%d of %d: %w", start, end, len(ids), err)
		}
		batch := make(map[int]taxonomy.Taxon, len(fetched))
		for _, t := range fetched {
			if a.opts.Validate {
				fixed, ok := a.validator.ValidateAndRepair(t)
				if !ok {
					a.logger.Debug("no valid taxon for id", "taxon_id", t.ID)
					continue
				}
				batch[t.ID] = fixed
				continue
			}
			batch[t.ID] = t
		}
		for id, t := range batch {
			if _, dup := out[id]; dup {
				a.logger.Debug("taxon id returned twice", "taxon_id", id)
			}
			out[id] = t
		}
	}
	return out, nil
}

// AssignLCAs validates each peptide's resolved taxa and infers their LCA.
// Unresolved ids are dropped; peptides left with no valid taxon get no
// assignment.
func (a *Assigner) AssignLCAs(pepTaxa map[string][]int, taxa map[int]taxonomy.Taxon) (map[string]taxonomy.Taxon, error) {
	out := make(map[string]taxonomy.Taxon, len(pepTaxa))
	for _, pep := range sortedKeys(pepTaxa) {
		var valid []taxonomy.Taxon
		for _, id := range pepTaxa[pep] {
			t, ok := taxa[id]
			if !ok {
				continue
			}
			fixed, ok := a.validator.ValidateAndRepair(t)
			if !ok {
				a.logger.Debug("invalid taxon", "rank", t.Rank, "name", t.Name)
				continue
			}
			if fixed.Name != t.Name {
				a.logger.Debug("validation changed taxon", "from", t.Rank+","+t.Name, "to", fixed.Rank+","+fixed.Name)
			}
			valid = append(valid, fixed)
		}
		if len(valid) == 0 {
			continue
		}
		lca, err := a.lca.Infer(valid)
		if err != nil {
			return nil, fmt.Errorf("peptide %s: %w", pep, err)
		}
		out[pep] = lca
	}
	return out, nil
}

func union(sets map[string]map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range sets {
		for k := range s {
			out[k] = struct{}{}
		}
	}
	return out
}

func taxonIDs(pepTaxa map[string][]int) []int {
	seen := make(map[int]struct{})
	for _, ids := range pepTaxa {
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
