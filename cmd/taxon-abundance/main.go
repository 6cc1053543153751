package main

// taxon-abundance credits the PSM counts of one experiment to the LCA of
// each peptide and to all of its ancestors, writing one row per taxon.

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"peptaxa/internal/abundance"
	"peptaxa/internal/assign"
	"peptaxa/internal/config"
	"peptaxa/internal/logging"
	"peptaxa/internal/report"
	"peptaxa/internal/store"
	"peptaxa/internal/taxdb"
	"peptaxa/internal/taxonomy"
)

var version = "0.1.0"

// loadAssignments reads an LCA table, or a run of the results database when
// dbPath is set (the latest run when runID is empty).
func loadAssignments(ctx context.Context, h *taxonomy.Hierarchy, path, dbPath, runID string) ([]assign.Assignment, error) {
	if dbPath != "" {
		st, err := store.Open(dbPath, h)
		if err != nil {
			return nil, err
		}
		defer st.Close()
		if runID == "" {
			runs, err := st.Runs(ctx)
			if err != nil {
				return nil, err
			}
			if len(runs) == 0 {
				return nil, fmt.Errorf("%s holds no runs", dbPath)
			}
			runID = runs[0].ID
		}
		if _, err := st.Run(ctx, runID); err != nil {
			return nil, err
		}
		return st.Assignments(ctx, runID, "")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return report.ReadAll(f, h)
}

func writeCounts(path string, counts []abundance.Count) error {
	if path == "-" {
		return abundance.Write(os.Stdout, counts)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := abundance.Write(f, counts); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func main() {
	configFlag := flag.String("config", "", "path to config.json (optional)")
	lcaFlag := flag.String("lca", "", "LCA table written by infer-taxa (default output_file from config)")
	dbFlag := flag.String("db", "", "read assignments from this results database instead of -lca")
	runFlag := flag.String("run", "", "run id in the results database (default latest)")
	psmFlag := flag.String("psms", "", "peptide to PSM count table (default psm_counts_file from config)")
	taxdbFlag := flag.String("taxdb", "", "NCBI taxonomy sqlite database; credits unranked ancestors too")
	outFlag := flag.String("out", "", "output table, '-' for stdout (default abundance_file from config)")
	verbose := flag.Bool("verbose", false, "enable verbose (debug) logging")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println("taxon-abundance", version)
		return
	}
	cfg, err := config.LoadConfig(*configFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(2)
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["lca"] {
		cfg.OutputFile = *lcaFlag
	}
	if set["psms"] {
		cfg.PSMCountsFile = *psmFlag
	}
	if set["taxdb"] {
		cfg.TaxonomyDB = *taxdbFlag
	}
	if set["out"] {
		cfg.AbundanceFile = *outFlag
	}
	if cfg.AbundanceFile == "" {
		cfg.AbundanceFile = "-"
	}

	logger, closeLog := logging.New(logging.Options{Prefix: "taxon-abundance", File: cfg.LogFile, Level: cfg.LogLevel, Verbose: *verbose})
	defer closeLog()

	if cfg.PSMCountsFile == "" {
		logger.Fatal("missing required input", "key", "psm_counts_file")
	}
	if *dbFlag == "" && cfg.OutputFile == "" {
		logger.Fatal("missing required input", "key", "output_file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	h := taxonomy.NewHierarchy()
	as, err := loadAssignments(ctx, h, cfg.OutputFile, *dbFlag, *runFlag)
	if err != nil {
		logger.Fatal("cannot load assignments", "err", err)
	}
	logger.Info("loaded assignments", "peptides", len(as))

	f, err := os.Open(cfg.PSMCountsFile)
	if err != nil {
		logger.Fatal("cannot open psm counts", "path", cfg.PSMCountsFile, "err", err)
	}
	psms, err := abundance.ReadPSMCounts(f)
	_ = f.Close()
	if err != nil {
		logger.Fatal("cannot read psm counts", "path", cfg.PSMCountsFile, "err", err)
	}

	var lin abundance.Lineages = abundance.SlotLineages{H: h}
	if cfg.TaxonomyDB != "" && (set["taxdb"] || cfg.TaxonomySource == config.SourceSQLite) {
		db, err := taxdb.Open(cfg.TaxonomyDB, h)
		if err != nil {
			logger.Fatal("cannot open taxonomy database", "path", cfg.TaxonomyDB, "err", err)
		}
		defer db.Close()
		lin = &abundance.DBLineages{DB: db, Fallback: lin}
		logger.Info("crediting full NCBI lineages", "taxdb", cfg.TaxonomyDB)
	}

	res, err := abundance.Rollup(ctx, lin, as, psms)
	if err != nil {
		logger.Fatal("rollup failed", "err", err)
	}
	if res.Unmatched > 0 {
		logger.Warn("assigned peptides without a psm count", "peptides", res.Unmatched)
	}
	if err := writeCounts(cfg.AbundanceFile, res.Counts); err != nil {
		logger.Fatal("failed to write output", "path", cfg.AbundanceFile, "err", err)
	}
	logger.Info("wrote taxon abundance", "path", cfg.AbundanceFile, "taxa", len(res.Counts),
		"peptides", res.Peptides, "psms", res.TotalPSMs)
}
