package main

// annotate-blast appends the taxon id of each hit protein to the lines of a
// tabular BLAST file.

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"peptaxa/internal/blast"
	"peptaxa/internal/index"
	"peptaxa/internal/logging"
	"peptaxa/internal/uniprot"
)

var version = "0.1.0"

type counts struct {
	read, written, withTaxa int
}

// annotate copies every parsable BLAST line from r to w with a trailing
// taxon id column, empty when the hit's accession has no known taxon.
func annotate(r io.Reader, w io.Writer, taxa map[string]int) (counts, error) {
	var c counts
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	bw := bufio.NewWriter(w)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c.read++
		hit, err := blast.ParseLine(line)
		if err != nil {
			continue
		}
		acc, err := uniprot.TrimAccession(hit.Hit)
		if err != nil {
			continue
		}
		taxon := ""
		if id, ok := taxa[acc]; ok {
			taxon = strconv.Itoa(id)
			c.withTaxa++
		}
		if _, err := bw.WriteString(line + "\t" + taxon + "\n"); err != nil {
			return c, err
		}
		c.written++
	}
	if err := sc.Err(); err != nil {
		return c, err
	}
	return c, bw.Flush()
}

func main() {
	blastFlag := flag.String("blast", "", "input tabular BLAST file")
	taxaFlag := flag.String("prot-taxa", "", "protein to taxon index (tsv with 'accession' and 'taxon_id')")
	outFlag := flag.String("out", "", "output file")
	logFile := flag.String("log-file", "", "also append logs to this file")
	verbose := flag.Bool("verbose", false, "enable verbose (debug) logging")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println("annotate-blast", version)
		return
	}

	logger, closeLog := logging.New(logging.Options{Prefix: "annotate-blast", File: *logFile, Verbose: *verbose})
	defer closeLog()

	if *blastFlag == "" || *taxaFlag == "" || *outFlag == "" {
		logger.Fatal("-blast, -prot-taxa and -out are required")
	}

	tf, err := os.Open(*taxaFlag)
	if err != nil {
		logger.Fatal("cannot open protein index", "path", *taxaFlag, "err", err)
	}
	taxa, err := index.ReadProteinTaxa(tf, nil)
	_ = tf.Close()
	if err != nil {
		logger.Fatal("cannot read protein index", "path", *taxaFlag, "err", err)
	}
	logger.Info("loaded protein index", "accessions", len(taxa))

	in, err := os.Open(*blastFlag)
	if err != nil {
		logger.Fatal("cannot open blast file", "path", *blastFlag, "err", err)
	}
	defer in.Close()
	out, err := os.Create(*outFlag)
	if err != nil {
		logger.Fatal("cannot create output", "path", *outFlag, "err", err)
	}

	logger.Info("processing", "path", *blastFlag)
	c, err := annotate(in, out, taxa)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		logger.Fatal("annotation failed", "err", err)
	}
	if skipped := c.read - c.written; skipped > 0 {
		logger.Warn("skipped unparsable lines", "lines", skipped)
	}
	logger.Info("done", "lines_written", c.written, "with_taxa", c.withTaxa)
}
