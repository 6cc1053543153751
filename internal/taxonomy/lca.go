package taxonomy

import "errors"

// ErrNoTaxa is returned when an LCA is requested over an empty list.
var ErrNoTaxa = errors.New("no taxa")

var errNoCommonRank = errors.New("no rank common to all taxa")

// LCA infers lowest common ancestors over validated taxa.
type LCA struct {
	h *Hierarchy
}

// NewLCA returns an LCA engine over hierarchy h.
func NewLCA(h *Hierarchy) *LCA {
	return &LCA{h: h}
}

// Infer returns the most specific taxon shared by every taxon in the list,
// or Root when they agree on no rank. A single taxon is returned unchanged.
// Callers must pass taxa that went through ValidateAndRepair.
func (e *LCA) Infer(taxa []Taxon) (Taxon, error) {
	switch len(taxa) {
	case 0:
		return Taxon{}, ErrNoTaxa
	case 1:
		return taxa[0], nil
	}
	t, err := e.common(taxa)
	if errors.Is(err, errNoCommonRank) {
		return Root(), nil
	}
	return t, err
}

func (e *LCA) common(taxa []Taxon) (Taxon, error) {
	var common Lineage
	best := Rank(-1)
	for _, r := range e.h.Ranks() {
		count := 0
		var id int
		same := true
		for _, t := range taxa {
			s := t.Lineage[r]
			// stop collecting for this rank at the first taxon lacking it
			if !s.Present {
				break
			}
			if count == 0 {
				id = s.ID
			} else if s.ID != id {
				same = false
			}
			count++
		}
		if count == len(taxa) && same {
			common[r] = taxa[0].Lineage[r]
			best = r
		}
	}
	if best < 0 {
		return Taxon{}, errNoCommonRank
	}
	ref := common[best].Ref
	return Taxon{ID: ref.ID, Name: ref.Name, Rank: e.h.Name(best), Lineage: common}, nil
}
