package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"peptaxa/internal/assign"
	"peptaxa/internal/config"
	"peptaxa/internal/logging"
	"peptaxa/internal/report"
	"peptaxa/internal/store"
	"peptaxa/internal/taxdb"
	"peptaxa/internal/taxonomy"
	"peptaxa/internal/unipept"

	"github.com/charmbracelet/log"
)

// version is the program version. It can be overridden at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

func main() {
	configFlag := flag.String("config", "", "path to config.json (optional)")
	peptidesFlag := flag.String("peptides", "", "observed peptides, one per line or FASTA")
	pepIndexFlag := flag.String("pep-prot-index", "", "peptide to protein index (tsv with 'sequence' and 'protein id')")
	blastFlag := flag.String("blast", "", "tabular BLAST results of the candidate proteins")
	protTaxaFlag := flag.String("prot-taxa", "", "protein to taxon index (tsv with 'accession' and 'taxon_id')")
	outFlag := flag.String("out", "", "output LCA table ('-' for stdout)")
	maxEFlag := flag.Float64("max-e", 1000, "maximum BLAST e-value")
	maxDeltaFlag := flag.Float64("max-delta", 1000, "maximum log10(e-value) distance from a protein's best hit")
	batchFlag := flag.Int("batch-size", 500, "taxon ids per taxonomy request")
	noValidateFlag := flag.Bool("no-validate", false, "do not validate taxa as they are fetched")
	proteinsFlag := flag.Bool("include-proteins", false, "add proteins and blastproteins columns")
	noTrimFlag := flag.Bool("no-trim", false, "keep BLAST hit ids as they are instead of trimming to UniProt accessions")
	sourceFlag := flag.String("source", "", "taxonomy source: unipept or sqlite")
	taxdbFlag := flag.String("taxdb", "", "NCBI taxonomy sqlite database (source sqlite)")
	cacheFlag := flag.String("cache", "", "taxonomy cache file (default under the user cache dir)")
	noCacheFlag := flag.Bool("no-cache", false, "do not cache taxonomy lookups")
	resultsFlag := flag.String("results-db", "", "store the run in this sqlite database")
	summaryFlag := flag.Bool("summary", false, "print assignments per rank to stdout")
	verbose := flag.Bool("verbose", false, "enable verbose (debug) logging")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println("infer-taxa", version)
		return
	}

	cfg, err := config.LoadConfig(*configFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(2)
	}

	// merge CLI flags into config (flags override config when provided)
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	override := func(name string, dst *string, v string) {
		if set[name] {
			*dst = v
		}
	}
	override("peptides", &cfg.PeptidesFile, *peptidesFlag)
	override("pep-prot-index", &cfg.PepProtIndex, *pepIndexFlag)
	override("blast", &cfg.BlastFile, *blastFlag)
	override("prot-taxa", &cfg.ProtTaxonIndex, *protTaxaFlag)
	override("out", &cfg.OutputFile, *outFlag)
	override("source", &cfg.TaxonomySource, *sourceFlag)
	override("taxdb", &cfg.TaxonomyDB, *taxdbFlag)
	override("cache", &cfg.TaxonomyCachePath, *cacheFlag)
	override("results-db", &cfg.ResultsDB, *resultsFlag)
	if set["max-e"] {
		cfg.MaxBlastE = maxEFlag
	}
	if set["max-delta"] {
		cfg.MaxBlastDeltaLog10E = maxDeltaFlag
	}
	if set["batch-size"] {
		cfg.TaxonomyBatchSize = *batchFlag
	}
	if *noValidateFlag {
		v := false
		cfg.ValidateTaxa = &v
	}
	if *noTrimFlag {
		v := false
		cfg.TrimAccessions = &v
	}
	if *proteinsFlag {
		cfg.IncludeProteinIDs = true
	}

	logger, closeLog := logging.New(logging.Options{Prefix: "infer-taxa", File: cfg.LogFile, Level: cfg.LogLevel, Verbose: *verbose})
	defer closeLog()

	logger.Debug("loaded config", "peptides_file", cfg.PeptidesFile, "pep_prot_index", cfg.PepProtIndex,
		"blast_file", cfg.BlastFile, "prot_taxon_index", cfg.ProtTaxonIndex, "output_file", cfg.OutputFile,
		"taxonomy_source", cfg.TaxonomySource, "log_level", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", "err", err)
	}
	for name, path := range map[string]string{
		"peptides_file":    cfg.PeptidesFile,
		"pep_prot_index":   cfg.PepProtIndex,
		"blast_file":       cfg.BlastFile,
		"prot_taxon_index": cfg.ProtTaxonIndex,
		"output_file":      cfg.OutputFile,
	} {
		if path == "" {
			logger.Fatal("missing required input", "key", name)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	h := taxonomy.NewHierarchy()
	source, closeSource, err := openSource(cfg, h, *noCacheFlag, logger)
	if err != nil {
		logger.Fatal("cannot open taxonomy source", "source", cfg.TaxonomySource, "err", err)
	}
	defer closeSource()

	opts := assign.Options{
		MaxBlastE:      *cfg.MaxBlastE,
		MaxDeltaLog10E: *cfg.MaxBlastDeltaLog10E,
		BatchSize:      cfg.TaxonomyBatchSize,
		Validate:       *cfg.ValidateTaxa,
		TrimAccessions: *cfg.TrimAccessions,
	}
	logger.Info("starting infer-taxa", "version", version, "source", cfg.TaxonomySource,
		"max_blast_e", opts.MaxBlastE, "max_delta_log10_e", opts.MaxDeltaLog10E, "batch_size", opts.BatchSize)

	var files []*os.File
	open := func(path string) io.Reader {
		f, err := os.Open(path)
		if err != nil {
			logger.Fatal("cannot open input", "path", path, "err", err)
		}
		files = append(files, f)
		return f
	}
	in := assign.Inputs{
		Peptides:        open(cfg.PeptidesFile),
		PeptideProteins: open(cfg.PepProtIndex),
		Blast:           open(cfg.BlastFile),
		ProteinTaxa:     open(cfg.ProtTaxonIndex),
	}
	res, err := assign.New(h, source, opts, logger).Run(ctx, in)
	for _, f := range files {
		_ = f.Close()
	}
	if err != nil {
		logger.Fatal("assignment failed", "err", err)
	}

	if err := writeTable(cfg.OutputFile, h, res.Assignments, cfg.IncludeProteinIDs); err != nil {
		logger.Fatal("failed to write output", "path", cfg.OutputFile, "err", err)
	}
	logger.Info("wrote lca table", "path", cfg.OutputFile, "peptides", len(res.Assignments))

	summary := report.Summarize(h, res.Assignments)
	for _, rc := range summary.ByRank {
		logger.Debug("assignments at rank", "rank", rc.Rank, "peptides", rc.Count)
	}
	if *summaryFlag {
		if err := report.WriteSummary(os.Stdout, summary); err != nil {
			logger.Error("failed to print summary", "err", err)
		}
	}

	if cfg.ResultsDB != "" {
		st, err := store.Open(cfg.ResultsDB, h)
		if err != nil {
			logger.Fatal("cannot open results db", "path", cfg.ResultsDB, "err", err)
		}
		defer st.Close()
		run, err := st.SaveRun(ctx, cfg.TaxonomySource, opts, res)
		if err != nil {
			logger.Fatal("failed to store run", "path", cfg.ResultsDB, "err", err)
		}
		logger.Info("stored run", "id", run.ID, "path", cfg.ResultsDB)
	}
}

// openSource returns the configured taxonomy source and a func releasing it.
func openSource(cfg *config.Config, h *taxonomy.Hierarchy, noCache bool, logger *log.Logger) (assign.TaxonomySource, func(), error) {
	switch cfg.TaxonomySource {
	case config.SourceSQLite:
		db, err := taxdb.Open(cfg.TaxonomyDB, h)
		if err != nil {
			return nil, nil, err
		}
		n, err := db.Count(context.Background())
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if n == 0 {
			_ = db.Close()
			return nil, nil, fmt.Errorf("%s holds no taxa; build it with taxdb first", cfg.TaxonomyDB)
		}
		logger.Info("using local taxonomy", "path", cfg.TaxonomyDB, "taxa", n)
		return db, func() { _ = db.Close() }, nil
	default:
		c := unipept.NewClient(h, cfg.UnipeptURL, logger)
		c.Requester.MaxRetries = cfg.MaxRetries
		if noCache {
			logger.Info("using unipept", "url", c.BaseURL)
			return c, func() {}, nil
		}
		path := cfg.TaxonomyCachePath
		if path == "" {
			path = unipept.DefaultCachePath()
		}
		ttl := cfg.CacheTTL()
		if ttl == 0 {
			ttl = unipept.DefaultCacheTTL
		}
		c.Cache = unipept.NewCache(path, ttl)
		logger.Info("using unipept", "url", c.BaseURL, "cache", path, "cache_ttl", ttl)
		return c, func() {
			if err := c.Cache.Flush(); err != nil {
				logger.Warn("failed to save taxonomy cache", "path", path, "err", err)
			}
		}, nil
	}
}

func writeTable(path string, h *taxonomy.Hierarchy, assignments []assign.Assignment, withProteins bool) error {
	if strings.TrimSpace(path) == "-" {
		return report.WriteAll(os.Stdout, h, assignments, withProteins)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteAll(f, h, assignments, withProteins); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
