package taxonomy

import "fmt"

// Ref is a lightweight reference to an ancestor node.
type Ref struct {
	ID   int
	Name string
}

// Slot holds the ancestor at one rank, if the lineage has one.
type Slot struct {
	Ref
	Present bool
}

// Lineage has one slot per hierarchy rank. It is a value type: copying a
// Taxon copies its lineage.
type Lineage [NumRanks]Slot

// Taxon is one node of the taxonomic tree together with its ancestors.
type Taxon struct {
	ID      int
	Name    string
	Rank    string
	Lineage Lineage
}

// NewTaxon builds a taxon and, when rank belongs to the hierarchy, records
// the taxon itself as the ancestor at its own rank.
func NewTaxon(h *Hierarchy, id int, name, rank string) Taxon {
	t := Taxon{ID: id, Name: name, Rank: rank}
	if r, ok := h.Order(rank); ok {
		t.Lineage[r] = Slot{Ref: Ref{ID: id, Name: name}, Present: true}
	}
	return t
}

// Root is the universal sentinel returned when taxa share no rank.
func Root() Taxon {
	return Taxon{ID: 1, Name: "root", Rank: NoRank}
}

// Ancestor returns the ancestor at rank r.
func (t Taxon) Ancestor(r Rank) (Ref, bool) {
	if r < 0 || int(r) >= NumRanks {
		return Ref{}, false
	}
	s := t.Lineage[r]
	return s.Ref, s.Present
}

// WithAncestor returns a copy of t with the ancestor at rank r set.
func (t Taxon) WithAncestor(r Rank, ref Ref) Taxon {
	t.Lineage[r] = Slot{Ref: ref, Present: true}
	return t
}

// Depth is the number of populated lineage slots.
func (t Taxon) Depth() int {
	n := 0
	for _, s := range t.Lineage {
		if s.Present {
			n++
		}
	}
	return n
}

func (t Taxon) String() string {
	return fmt.Sprintf("%s,%s (%d)", t.Rank, t.Name, t.ID)
}
