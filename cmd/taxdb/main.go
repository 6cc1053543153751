package main

// taxdb builds the local NCBI taxonomy database from a taxdump directory
// and answers lineage and LCA queries against it.

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"peptaxa/internal/logging"
	"peptaxa/internal/taxdb"
	"peptaxa/internal/taxonomy"
)

var version = "0.1.0"

func parseIDs(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad taxon id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}

func main() {
	dbFlag := flag.String("db", "ncbi_taxonomy.db", "sqlite database path")
	dumpFlag := flag.String("dump", "", "taxdump directory holding nodes.dmp and names.dmp; rebuilds the database")
	lineageFlag := flag.String("lineage", "", "comma separated taxon ids to print with their lineage")
	lcaFlag := flag.String("lca", "", "comma separated taxon ids to print the lowest common ancestor of")
	verbose := flag.Bool("verbose", false, "enable verbose (debug) logging")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println("taxdb", version)
		return
	}

	logger, closeLog := logging.New(logging.Options{Prefix: "taxdb", Verbose: *verbose})
	defer closeLog()

	ctx := context.Background()
	h := taxonomy.NewHierarchy()
	db, err := taxdb.Open(*dbFlag, h)
	if err != nil {
		logger.Fatal("cannot open database", "path", *dbFlag, "err", err)
	}
	defer db.Close()

	if *dumpFlag != "" {
		nodes, err := os.Open(filepath.Join(*dumpFlag, "nodes.dmp"))
		if err != nil {
			logger.Fatal("cannot open nodes.dmp", "err", err)
		}
		defer nodes.Close()
		names, err := os.Open(filepath.Join(*dumpFlag, "names.dmp"))
		if err != nil {
			logger.Fatal("cannot open names.dmp", "err", err)
		}
		defer names.Close()

		start := time.Now()
		logger.Info("importing taxdump", "dir", *dumpFlag, "db", *dbFlag)
		n, err := db.Import(ctx, nodes, names)
		if err != nil {
			logger.Fatal("import failed", "err", err)
		}
		logger.Info("imported taxa", "taxa", n, "duration_ms", time.Since(start).Milliseconds())
	}

	if *lineageFlag != "" {
		ids, err := parseIDs(*lineageFlag)
		if err != nil {
			logger.Fatal("invalid -lineage", "err", err)
		}
		fmt.Println(strings.Join(h.Header(), "\t"))
		for _, id := range ids {
			t, err := db.TaxonWithPath(ctx, id)
			if err != nil {
				logger.Error("lookup failed", "taxon_id", id, "err", err)
				continue
			}
			fmt.Println(strings.Join(h.Columns(t), "\t"))
		}
	}

	if *lcaFlag != "" {
		ids, err := parseIDs(*lcaFlag)
		if err != nil {
			logger.Fatal("invalid -lca", "err", err)
		}
		lca, err := db.InferLCA(ctx, ids)
		if err != nil {
			logger.Fatal("lca failed", "err", err)
		}
		fmt.Println(lca)
	}
}
