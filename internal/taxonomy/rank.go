package taxonomy

// Package taxonomy holds the taxon model used across the pipeline: the
// fixed rank hierarchy, taxa with their per-rank lineage, validation of
// uninformative labels and lowest common ancestor inference.

import (
	"errors"
	"fmt"
	"strings"
)

// NoRank is the rank reported for nodes that sit outside the hierarchy.
const NoRank = "no rank"

// NumRanks is the size of the rank hierarchy.
const NumRanks = 28

// ErrUnknownRank is returned for rank names outside the hierarchy.
var ErrUnknownRank = errors.New("unknown rank")

var rankNames = [NumRanks]string{
	"superkingdom", "kingdom", "subkingdom",
	"superphylum", "phylum", "subphylum",
	"superclass", "class", "subclass", "infraclass",
	"superorder", "order", "suborder", "infraorder", "parvorder",
	"superfamily", "family", "subfamily",
	"tribe", "subtribe",
	"genus", "subgenus",
	"species group", "species subgroup", "species", "subspecies",
	"varietas",
	"forma",
}

var majorRankNames = []string{"superkingdom", "kingdom", "phylum", "class", "order", "family", "genus", "species"}

// Rank is a position in the hierarchy, 0 being the broadest.
type Rank int

// Hierarchy is the ordered rank list with its lookup tables. It is built
// once and shared read-only by every component that needs rank ordering.
type Hierarchy struct {
	index    map[string]Rank
	major    map[string]bool
	majorFor [NumRanks]string
}

// NewHierarchy builds the standard 28-rank hierarchy.
func NewHierarchy() *Hierarchy {
	h := &Hierarchy{
		index: make(map[string]Rank, NumRanks),
		major: make(map[string]bool, len(majorRankNames)),
	}
	for i, name := range rankNames {
		h.index[name] = Rank(i)
	}
	for _, name := range majorRankNames {
		h.major[name] = true
	}

	// bacteria carry no kingdom level in NCBI, so kingdom is folded into
	// superkingdom for bucketing
	noKingdom := make([]string, 0, len(majorRankNames)-1)
	for _, name := range majorRankNames {
		if name != "kingdom" {
			noKingdom = append(noKingdom, name)
		}
	}
	for i, name := range rankNames {
		h.majorFor[i] = majorFallback(name, noKingdom)
	}
	return h
}

func majorFallback(rank string, majors []string) string {
	for _, m := range majors {
		if m == rank {
			return m
		}
	}
	for _, m := range majors {
		if strings.Contains(rank, m) {
			return m
		}
	}
	switch {
	case rank == "kingdom":
		return "superkingdom"
	case strings.Contains(rank, "tribe"):
		return "family"
	default:
		return "species"
	}
}

// Ranks returns every rank from broadest to most specific.
func (h *Hierarchy) Ranks() []Rank {
	out := make([]Rank, NumRanks)
	for i := range out {
		out[i] = Rank(i)
	}
	return out
}

// Name returns the rank name for r.
func (h *Hierarchy) Name(r Rank) string {
	if r < 0 || int(r) >= NumRanks {
		return NoRank
	}
	return rankNames[r]
}

// Names returns the rank names in hierarchy order.
func (h *Hierarchy) Names() []string {
	out := make([]string, NumRanks)
	copy(out, rankNames[:])
	return out
}

// Order returns the position of rank in the hierarchy.
func (h *Hierarchy) Order(rank string) (Rank, bool) {
	r, ok := h.index[rank]
	return r, ok
}

// MustOrder is Order for ranks that are known to be part of the hierarchy;
// an unknown rank is a configuration error and panics.
func (h *Hierarchy) MustOrder(rank string) Rank {
	r, ok := h.index[rank]
	if !ok {
		panic(fmt.Sprintf("taxonomy: %v: %q", ErrUnknownRank, rank))
	}
	return r
}

// IsMajor reports whether rank is one of the eight major ranks.
func (h *Hierarchy) IsMajor(rank string) bool {
	return h.major[rank]
}

// MajorRankFor maps any hierarchy rank onto the major rank it is bucketed
// under.
func (h *Hierarchy) MajorRankFor(rank string) (string, error) {
	r, ok := h.index[rank]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRank, rank)
	}
	return h.majorFor[r], nil
}

// MostSpecificMajorRank walks up from rank to the nearest major rank at or
// above it.
func (h *Hierarchy) MostSpecificMajorRank(rank string) (string, error) {
	r, ok := h.index[rank]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRank, rank)
	}
	for ; r >= 0; r-- {
		if h.major[rankNames[r]] {
			return rankNames[r], nil
		}
	}
	return rankNames[0], nil
}
