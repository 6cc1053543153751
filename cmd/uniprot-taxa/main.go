package main

// uniprot-taxa builds the protein to taxon index read by infer-taxa, looking
// the proteins of a UniProt FASTA file (or a plain id list) up in UniProtKB.

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"peptaxa/internal/config"
	"peptaxa/internal/fasta"
	"peptaxa/internal/index"
	"peptaxa/internal/logging"
	"peptaxa/internal/uniprot"
)

var version = "0.1.0"

// target pairs the key used in the index (the trimmed BLAST hit id) with
// the accession UniProt is queried with.
type target struct {
	key       string
	accession string
}

func readTargets(r io.Reader) ([]target, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(1)
	var out []target
	if bytes.HasPrefix(head, []byte(">")) {
		recs, err := fasta.Parse(br)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			id := rec.ID()
			key, err := uniprot.TrimAccession(id)
			if err != nil {
				continue
			}
			out = append(out, target{key: key, accession: strings.Split(id, "|")[1]})
		}
		return out, nil
	}
	sc := bufio.NewScanner(br)
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id != "" {
			out = append(out, target{key: id, accession: id})
		}
	}
	return out, sc.Err()
}

type entryFetcher interface {
	EntryMap(ctx context.Context, ids []string) (map[string]uniprot.Entry, error)
}

// resolve looks every target up and returns the keys in input order with
// the taxon of each resolved key.
func resolve(ctx context.Context, f entryFetcher, targets []target) ([]string, map[string]int, error) {
	accessions := make([]string, 0, len(targets))
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if !seen[t.accession] {
			seen[t.accession] = true
			accessions = append(accessions, t.accession)
		}
	}
	entries, err := f.EntryMap(ctx, accessions)
	if err != nil {
		return nil, nil, err
	}
	keys := make([]string, 0, len(targets))
	taxa := make(map[string]int, len(targets))
	for _, t := range targets {
		e, ok := entries[t.accession]
		if !ok || e.TaxonomyID == 0 {
			continue
		}
		if _, dup := taxa[t.key]; !dup {
			keys = append(keys, t.key)
		}
		taxa[t.key] = e.TaxonomyID
	}
	return keys, taxa, nil
}

func main() {
	configFlag := flag.String("config", "", "path to config.json (optional)")
	inFlag := flag.String("in", "", "UniProt FASTA file or one accession per line")
	outFlag := flag.String("out", "", "output protein to taxon index")
	urlFlag := flag.String("url", "", "UniProtKB REST base URL")
	batchFlag := flag.Int("batch-size", uniprot.DefaultBatchSize, "accessions per request")
	verbose := flag.Bool("verbose", false, "enable verbose (debug) logging")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println("uniprot-taxa", version)
		return
	}
	cfg, err := config.LoadConfig(*configFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(2)
	}
	if *urlFlag != "" {
		cfg.UniprotURL = *urlFlag
	}

	logger, closeLog := logging.New(logging.Options{Prefix: "uniprot-taxa", File: cfg.LogFile, Level: cfg.LogLevel, Verbose: *verbose})
	defer closeLog()

	if *inFlag == "" || *outFlag == "" {
		logger.Fatal("-in and -out are required")
	}
	f, err := os.Open(*inFlag)
	if err != nil {
		logger.Fatal("cannot open input", "path", *inFlag, "err", err)
	}
	targets, err := readTargets(f)
	_ = f.Close()
	if err != nil {
		logger.Fatal("cannot read input", "path", *inFlag, "err", err)
	}
	logger.Info("loaded proteins", "path", *inFlag, "proteins", len(targets))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := uniprot.NewClient(cfg.UniprotURL, logger)
	client.BatchSize = *batchFlag
	client.Requester.MaxRetries = cfg.MaxRetries
	keys, taxa, err := resolve(ctx, client, targets)
	if err != nil {
		logger.Fatal("uniprot lookup failed", "err", err)
	}

	out, err := os.Create(*outFlag)
	if err != nil {
		logger.Fatal("cannot create output", "path", *outFlag, "err", err)
	}
	if err := index.WriteProteinTaxa(out, keys, taxa); err != nil {
		_ = out.Close()
		logger.Fatal("failed to write index", "path", *outFlag, "err", err)
	}
	if err := out.Close(); err != nil {
		logger.Fatal("failed to write index", "path", *outFlag, "err", err)
	}
	logger.Info("wrote protein index", "path", *outFlag, "resolved", len(keys), "of", len(targets))
}
