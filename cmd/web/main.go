package main

// web serves a browser and JSON API over the runs saved by
// infer-taxa -results-db.

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"

	"peptaxa/internal/assign"
	"peptaxa/internal/config"
	"peptaxa/internal/logging"
	"peptaxa/internal/store"
	"peptaxa/internal/taxonomy"
)

var version = "0.1.0"

var pages = template.Must(template.New("runs").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>peptaxa runs</title></head>
<body>
<h1>Assignment runs</h1>
{{if .}}<table>
<tr><th>Run</th><th>Created</th><th>Source</th><th>Peptides</th><th>Assigned</th></tr>
{{range .}}<tr>
<td><a href="/runs/{{.ID}}">{{.ID}}</a></td>
<td>{{.CreatedAt.Format "2006-01-02 15:04:05"}}</td>
<td>{{.Source}}</td>
<td>{{.Stats.Peptides}}</td>
<td>{{.Stats.PeptidesAssigned}}</td>
</tr>{{end}}
</table>{{else}}<p>No runs stored yet.</p>{{end}}
</body></html>
`))

func init() {
	template.Must(pages.New("run").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>run {{.Run.ID}}</title></head>
<body>
<p><a href="/">all runs</a></p>
<h1>Run {{.Run.ID}}</h1>
<p>{{.Run.Source}} at {{.Run.CreatedAt.Format "2006-01-02 15:04:05"}}</p>
<h2>Ranks</h2>
<ul>{{range .Ranks}}<li><a href="/runs/{{$.Run.ID}}?rank={{.Rank}}">{{.Rank}}</a>: {{.Count}}</li>{{end}}</ul>
<h2>Peptides{{if .Rank}} at {{.Rank}}{{end}}</h2>
<table>
<tr><th>Peptide</th><th>Rank</th><th>Taxon</th><th>Hits</th></tr>
{{range .Assignments}}<tr><td>{{.Peptide}}</td><td>{{.Rank}}</td><td>{{.Name}} ({{.TaxonID}})</td><td>{{len .BlastProteins}}</td></tr>
{{end}}</table>
</body></html>
`))
}

// statusResponseWriter captures status and bytes written for logging
type statusResponseWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// loggingMiddleware logs each request with method, path, status, size and duration
func loggingMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusResponseWriter{ResponseWriter: w}
		next.ServeHTTP(srw, r)
		if srw.status == 0 {
			srw.status = http.StatusOK
		}
		logger.Info("request",
			"remote", r.RemoteAddr,
			"method", r.Method,
			"uri", r.URL.RequestURI(),
			"status", srw.status,
			"bytes", srw.written,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// ref is one lineage entry in API responses.
type ref struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// assignmentView is the JSON shape of an assignment. Lineage is keyed by
// rank name and holds only the populated ranks.
type assignmentView struct {
	Peptide       string         `json:"peptide"`
	Proteins      []string       `json:"proteins"`
	BlastProteins []string       `json:"blast_proteins"`
	TaxonID       int            `json:"taxon_id"`
	Name          string         `json:"taxon_name"`
	Rank          string         `json:"taxon_rank"`
	Lineage       map[string]ref `json:"lineage"`
}

type rankCount struct {
	Rank  string `json:"rank"`
	Count int    `json:"count"`
}

type server struct {
	st     *store.Store
	h      *taxonomy.Hierarchy
	logger *log.Logger
}

func (s *server) view(a assign.Assignment) assignmentView {
	v := assignmentView{
		Peptide:       a.Peptide,
		Proteins:      a.Proteins,
		BlastProteins: a.BlastProteins,
		TaxonID:       a.LCA.ID,
		Name:          a.LCA.Name,
		Rank:          a.LCA.Rank,
		Lineage:       make(map[string]ref),
	}
	if v.Proteins == nil {
		v.Proteins = []string{}
	}
	if v.BlastProteins == nil {
		v.BlastProteins = []string{}
	}
	for _, r := range s.h.Ranks() {
		if anc, ok := a.LCA.Ancestor(r); ok {
			v.Lineage[s.h.Name(r)] = ref{ID: anc.ID, Name: anc.Name}
		}
	}
	return v
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.indexHandler)
	mux.HandleFunc("GET /runs/{id}", s.runPageHandler)
	mux.HandleFunc("GET /api/runs", s.apiRunsHandler)
	mux.HandleFunc("GET /api/runs/{id}", s.apiRunHandler)
	mux.HandleFunc("DELETE /api/runs/{id}", s.apiDeleteRunHandler)
	mux.HandleFunc("GET /api/runs/{id}/ranks", s.apiRanksHandler)
	mux.HandleFunc("GET /api/runs/{id}/assignments", s.apiAssignmentsHandler)
	mux.HandleFunc("GET /api/runs/{id}/assignments/{peptide}", s.apiAssignmentHandler)
	return loggingMiddleware(s.logger, mux)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps store lookups that miss to 404 and everything else to 500.
func (s *server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrRunNotFound) || errors.Is(err, store.ErrAssignmentNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.logger.Error("store query failed", "err", err)
	http.Error(w, "failed to read results database", http.StatusInternalServerError)
}

func (s *server) indexHandler(w http.ResponseWriter, r *http.Request) {
	runs, err := s.st.Runs(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, "runs", runs); err != nil {
		s.logger.Error("render failed", "err", err)
	}
}

func (s *server) runPageHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	rank := r.URL.Query().Get("rank")
	run, err := s.st.Run(ctx, id)
	if err != nil {
		s.fail(w, err)
		return
	}
	ranks, err := s.st.RankCounts(ctx, id)
	if err != nil {
		s.fail(w, err)
		return
	}
	as, err := s.st.Assignments(ctx, id, rank)
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]assignmentView, len(as))
	for i, a := range as {
		views[i] = s.view(a)
	}
	data := struct {
		Run         store.Run
		Rank        string
		Ranks       []taxonomy.RankCount
		Assignments []assignmentView
	}{run, rank, ranks, views}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, "run", data); err != nil {
		s.logger.Error("render failed", "err", err)
	}
}

func (s *server) apiRunsHandler(w http.ResponseWriter, r *http.Request) {
	runs, err := s.st.Runs(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, runs)
}

func (s *server) apiRunHandler(w http.ResponseWriter, r *http.Request) {
	run, err := s.st.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, run)
}

func (s *server) apiDeleteRunHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.st.DeleteRun(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) apiRanksHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if _, err := s.st.Run(ctx, id); err != nil {
		s.fail(w, err)
		return
	}
	counts, err := s.st.RankCounts(ctx, id)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]rankCount, len(counts))
	for i, c := range counts {
		out[i] = rankCount{Rank: c.Rank, Count: c.Count}
	}
	writeJSON(w, out)
}

func (s *server) apiAssignmentsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if _, err := s.st.Run(ctx, id); err != nil {
		s.fail(w, err)
		return
	}
	as, err := s.st.Assignments(ctx, id, r.URL.Query().Get("rank"))
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]assignmentView, len(as))
	for i, a := range as {
		out[i] = s.view(a)
	}
	writeJSON(w, out)
}

func (s *server) apiAssignmentHandler(w http.ResponseWriter, r *http.Request) {
	a, err := s.st.Assignment(r.Context(), r.PathValue("id"), r.PathValue("peptide"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, s.view(a))
}

func main() {
	configFlag := flag.String("config", "", "path to config.json (optional)")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dbFlag := flag.String("db", "", "results database (default results_db from config)")
	verbose := flag.Bool("verbose", false, "enable verbose (debug) logging")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println("web", version)
		return
	}
	cfg, err := config.LoadConfig(*configFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(2)
	}
	if *dbFlag != "" {
		cfg.ResultsDB = *dbFlag
	}

	logger, closeLog := logging.New(logging.Options{Prefix: "web", File: cfg.LogFile, Level: cfg.LogLevel, Verbose: *verbose})
	defer closeLog()

	if cfg.ResultsDB == "" {
		logger.Fatal("-db or results_db in config is required")
	}
	h := taxonomy.NewHierarchy()
	st, err := store.Open(cfg.ResultsDB, h)
	if err != nil {
		logger.Fatal("cannot open results database", "path", cfg.ResultsDB, "err", err)
	}
	defer st.Close()

	s := &server{st: st, h: h, logger: logger}
	srv := &http.Server{Addr: *addr, Handler: s.routes(), ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving results", "addr", *addr, "db", cfg.ResultsDB)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", "err", err)
	}
}
