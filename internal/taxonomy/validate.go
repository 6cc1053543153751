package taxonomy

import (
	"regexp"
	"strings"
)

// Lists below mirror Unipept's TaxonList.validate() so that assignments
// agree with the service's notion of an uninformative taxon.

var invalidTaxonIDs = map[int]bool{
	28384: true,
	48479: true,
}

var invalidNameIndicators = []string{
	"enrichment culture",
	"mixed culture",
	"uncultured",
	"unidentified",
	"unspecified",
	"undetermined",
	"sample",
	"metagenome",
	"library",
}

var invalidSpeciesEndings = []string{
	" sp.",
	" genomesp.",
}

// anchored at the start of the name: only species names that begin with a
// digit are rejected
var invalidSpeciesPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d`),
}

// Validator decides whether taxa carry meaningful taxonomic information.
type Validator struct {
	h *Hierarchy
}

// NewValidator returns a validator over hierarchy h.
func NewValidator(h *Hierarchy) *Validator {
	return &Validator{h: h}
}

// ValidLevel tests a single node, without looking at its lineage.
func (v *Validator) ValidLevel(id int, name, rank string) bool {
	if rank == NoRank {
		return false
	}
	if invalidTaxonIDs[id] {
		return false
	}
	for _, s := range invalidNameIndicators {
		if strings.Contains(name, s) {
			return false
		}
	}
	if rank == "species" {
		for _, s := range invalidSpeciesEndings {
			if strings.HasSuffix(name, s) {
				return false
			}
		}
		for _, re := range invalidSpeciesPatterns {
			if re.MatchString(name) {
				return false
			}
		}
	}
	return true
}

// ValidTaxon is ValidLevel applied to t itself.
func (v *Validator) ValidTaxon(t Taxon) bool {
	return v.ValidLevel(t.ID, t.Name, t.Rank)
}

// ValidateAndRepair keeps only the lineage ranks that pass ValidLevel and
// re-roots the taxon at the most specific of them. It reports false when no
// rank is valid. The input is not modified.
func (v *Validator) ValidateAndRepair(t Taxon) (Taxon, bool) {
	var kept Lineage
	lowest := Rank(-1)
	for _, r := range v.h.Ranks() {
		s := t.Lineage[r]
		if !s.Present {
			continue
		}
		if v.ValidLevel(s.ID, s.Name, v.h.Name(r)) {
			kept[r] = s
			lowest = r
		}
	}
	if lowest < 0 {
		return Taxon{}, false
	}
	ref := kept[lowest].Ref
	return Taxon{ID: ref.ID, Name: ref.Name, Rank: v.h.Name(lowest), Lineage: kept}, true
}
