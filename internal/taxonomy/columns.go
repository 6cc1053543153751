package taxonomy

import (
	"fmt"
	"strconv"
)

// NumColumns is the width of the fixed taxon column layout.
const NumColumns = 3 + 2*NumRanks

// Header returns the column names of the taxon layout: taxon_id,
// taxon_name, taxon_rank, then {rank}_id and {rank}_name for every rank.
func (h *Hierarchy) Header() []string {
	out := make([]string, 0, NumColumns)
	out = append(out, "taxon_id", "taxon_name", "taxon_rank")
	for _, name := range rankNames {
		out = append(out, name+"_id", name+"_name")
	}
	return out
}

// Columns serializes t in the layout described by Header. Absent ranks
// produce two empty fields.
func (h *Hierarchy) Columns(t Taxon) []string {
	out := make([]string, 0, NumColumns)
	out = append(out, strconv.Itoa(t.ID), t.Name, t.Rank)
	for _, s := range t.Lineage {
		if !s.Present {
			out = append(out, "", "")
			continue
		}
		out = append(out, strconv.Itoa(s.ID), s.Name)
	}
	return out
}

// ParseColumns is the inverse of Columns.
func (h *Hierarchy) ParseColumns(fields []string) (Taxon, error) {
	if len(fields) != NumColumns {
		return Taxon{}, fmt.Errorf("taxon columns: expected %d fields, got %d", NumColumns, len(fields))
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return Taxon{}, fmt.Errorf("taxon columns: taxon_id %q: %w", fields[0], err)
	}
	t := Taxon{ID: id, Name: fields[1], Rank: fields[2]}
	for i := 0; i < NumRanks; i++ {
		idField, name := fields[3+2*i], fields[4+2*i]
		if idField == "" {
			continue
		}
		aid, err := strconv.Atoi(idField)
		if err != nil {
			return Taxon{}, fmt.Errorf("taxon columns: %s_id %q: %w", rankNames[i], idField, err)
		}
		t.Lineage[i] = Slot{Ref: Ref{ID: aid, Name: name}, Present: true}
	}
	return t, nil
}

// RankCount is the number of taxa assigned at one rank.
type RankCount struct {
	Rank  string
	Count int
}

// RankCounts tallies taxa by rank in hierarchy order. Taxa outside the
// hierarchy (root included) are reported last under their own rank name.
func (h *Hierarchy) RankCounts(taxa []Taxon) []RankCount {
	var byRank [NumRanks]int
	other := map[string]int{}
	var otherOrder []string
	for _, t := range taxa {
		if r, ok := h.Order(t.Rank); ok {
			byRank[r]++
			continue
		}
		if _, seen := other[t.Rank]; !seen {
			otherOrder = append(otherOrder, t.Rank)
		}
		other[t.Rank]++
	}
	var out []RankCount
	for i, n := range byRank {
		if n > 0 {
			out = append(out, RankCount{Rank: rankNames[i], Count: n})
		}
	}
	for _, rank := range otherOrder {
		out = append(out, RankCount{Rank: rank, Count: other[rank]})
	}
	return out
}

// MajorRankCounts buckets taxa by MajorRankFor; taxa outside the hierarchy
// are skipped.
func (h *Hierarchy) MajorRankCounts(taxa []Taxon) []RankCount {
	counts := map[string]int{}
	for _, t := range taxa {
		m, err := h.MajorRankFor(t.Rank)
		if err != nil {
			continue
		}
		counts[m]++
	}
	var out []RankCount
	for _, m := range majorRankNames {
		if counts[m] > 0 {
			out = append(out, RankCount{Rank: m, Count: counts[m]})
		}
	}
	return out
}
