package blast

// Package blast reads tabular BLAST output (-outfmt 6) and filters the hits
// of each bait protein by e-value.

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"peptaxa/internal/uniprot"
)

// ErrMalformedLine marks a BLAST line that could not be parsed.
var ErrMalformedLine = errors.New("malformed blast line")

// tabular output: qseqid sseqid pident length mismatch gapopen qstart qend
// sstart send evalue bitscore
const (
	numColumns  = 12
	evalueIndex = 10
)

// maxLineBytes bounds one BLAST record; longer lines are skipped.
const maxLineBytes = 1024 * 1024

// Hit is one homology match of a bait protein against a reference protein.
type Hit struct {
	Bait   string
	Hit    string
	EValue float64
}

// ParseLine parses one tabular BLAST record.
func ParseLine(line string) (Hit, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(fields) < numColumns {
		return Hit{}, fmt.Errorf("%w: %d columns", ErrMalformedLine, len(fields))
	}
	e, err := strconv.ParseFloat(strings.TrimSpace(fields[evalueIndex]), 64)
	if err != nil || math.IsNaN(e) || math.IsInf(e, 0) || e < 0 {
		return Hit{}, fmt.Errorf("%w: e-value %q", ErrMalformedLine, fields[evalueIndex])
	}
	bait, hit := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])
	if bait == "" || hit == "" {
		return Hit{}, fmt.Errorf("%w: empty protein id", ErrMalformedLine)
	}
	return Hit{Bait: bait, Hit: hit, EValue: e}, nil
}

// LoadOptions restrict which hits enter the hit map.
type LoadOptions struct {
	// Baits limits the map to these bait proteins; nil keeps every bait.
	Baits map[string]struct{}
	// MaxE is the absolute e-value ceiling.
	MaxE float64
	// TrimAccessions rewrites hit ids with uniprot.TrimAccession.
	TrimAccessions bool
}

// LoadStats counts what happened to the lines of a BLAST stream.
type LoadStats struct {
	Lines     int `json:"lines"`
	Skipped   int `json:"skipped"`
	OtherBait int `json:"other_bait"`
	AboveMaxE int `json:"above_max_e"`
	Kept      int `json:"kept"`
}

// LoadHitMap reads a BLAST stream into bait protein → hits. Unparsable
// lines are counted and skipped.
func LoadHitMap(r io.Reader, opts LoadOptions) (map[string][]Hit, LoadStats, error) {
	out := make(map[string][]Hit)
	var stats LoadStats
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, tooLong, err := readLine(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read blast: %w", err)
		}
		if tooLong {
			stats.Lines++
			stats.Skipped++
			continue
		}
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		stats.Lines++
		h, err := ParseLine(line)
		if err != nil {
			stats.Skipped++
			continue
		}
		if opts.Baits != nil {
			if _, ok := opts.Baits[h.Bait]; !ok {
				stats.OtherBait++
				continue
			}
		}
		if h.EValue > opts.MaxE {
			stats.AboveMaxE++
			continue
		}
		if opts.TrimAccessions {
			acc, err := uniprot.TrimAccession(h.Hit)
			if err != nil {
				stats.Skipped++
				continue
			}
			h.Hit = acc
		}
		out[h.Bait] = append(out[h.Bait], h)
		stats.Kept++
	}
	return out, stats, nil
}

// readLine returns the next line without its terminator. A line longer than
// maxLineBytes is consumed whole and reported as tooLong.
func readLine(br *bufio.Reader) (line string, tooLong bool, err error) {
	var buf []byte
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if err == io.EOF && (len(buf) > 0 || tooLong) {
				return string(buf), tooLong, nil
			}
			return "", false, err
		}
		if !tooLong {
			if len(buf)+len(chunk) > maxLineBytes {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			return string(buf), tooLong, nil
		}
	}
}
