package uniprot

import (
	"fmt"
	"strings"
)

// TrimAccession reduces a UniProt FASTA identifier such as
// "tr|A0A023GPI8|A0A023GPI8_CANAL" to the part of its third field before
// the first underscore ("A0A023GPI8").
func TrimAccession(protein string) (string, error) {
	chunks := strings.Split(protein, "|")
	if len(chunks) != 3 {
		return "", fmt.Errorf("invalid protein id %q", protein)
	}
	acc := chunks[2]
	if i := strings.Index(acc, "_"); i >= 0 {
		acc = acc[:i]
	}
	return acc, nil
}
