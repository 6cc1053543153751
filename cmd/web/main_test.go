package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"peptaxa/internal/assign"
	"peptaxa/internal/store"
	"peptaxa/internal/taxonomy"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	h := taxonomy.NewHierarchy()
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"), h)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	homo := taxonomy.NewTaxon(h, 9605, "Homo", "genus").
		WithAncestor(h.MustOrder("family"), taxonomy.Ref{ID: 9604, Name: "Hominidae"})
	res := &assign.Result{
		Assignments: []assign.Assignment{
			{Peptide: "LVNELTEFAK", Proteins: []string{"contig_1"}, BlastProteins: []string{"P1", "Q2"}, LCA: homo},
			{Peptide: "AEFVEVTK", LCA: taxonomy.Root()},
		},
		Stats: assign.Stats{Peptides: 3, PeptidesAssigned: 2},
	}
	run, err := st.SaveRun(context.Background(), "unipept", assign.DefaultOptions(), res)
	if err != nil {
		t.Fatalf("save run: %v", err)
	}

	s := &server{st: st, h: h, logger: log.New(io.Discard)}
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return ts, run.ID
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

func TestIndexListsRuns(t *testing.T) {
	ts, id := newTestServer(t)
	code, body := get(t, ts.URL+"/")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !strings.Contains(string(body), id) || !strings.Contains(string(body), "unipept") {
		t.Fatalf("index does not list the run: %s", body)
	}
}

func TestRunPage(t *testing.T) {
	ts, id := newTestServer(t)
	code, body := get(t, ts.URL+"/runs/"+id+"?rank=genus")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	page := string(body)
	if !strings.Contains(page, "LVNELTEFAK") || strings.Contains(page, "AEFVEVTK") {
		t.Fatalf("rank filter not applied: %s", page)
	}
}

func TestAPIRuns(t *testing.T) {
	ts, id := newTestServer(t)
	code, body := get(t, ts.URL+"/api/runs")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var runs []store.Run
	if err := json.Unmarshal(body, &runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != id || runs[0].Stats.PeptidesAssigned != 2 {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	code, _ = get(t, ts.URL+"/api/runs/nope")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", code)
	}
}

func TestAPIAssignments(t *testing.T) {
	ts, id := newTestServer(t)
	code, body := get(t, ts.URL+"/api/runs/"+id+"/assignments")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var all []assignmentView
	if err := json.Unmarshal(body, &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) != 2 || all[0].Peptide != "AEFVEVTK" || all[0].Rank != taxonomy.NoRank {
		t.Fatalf("unexpected assignments: %+v", all)
	}
	if len(all[0].Proteins) != 0 || all[0].Proteins == nil {
		t.Fatalf("expected empty protein list, got %#v", all[0].Proteins)
	}

	code, body = get(t, ts.URL+"/api/runs/"+id+"/assignments/LVNELTEFAK")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var one assignmentView
	if err := json.Unmarshal(body, &one); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if one.TaxonID != 9605 || one.Lineage["family"].ID != 9604 || one.Lineage["genus"].Name != "Homo" {
		t.Fatalf("unexpected assignment: %+v", one)
	}

	code, _ = get(t, ts.URL+"/api/runs/"+id+"/assignments/MISSING")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown peptide, got %d", code)
	}
	code, _ = get(t, ts.URL+"/api/runs/nope/assignments")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", code)
	}
}

func TestAPIRanksAndDelete(t *testing.T) {
	ts, id := newTestServer(t)
	code, body := get(t, ts.URL+"/api/runs/"+id+"/ranks")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var counts []rankCount
	if err := json.Unmarshal(body, &counts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(counts) != 2 || counts[0].Rank != "genus" || counts[1].Rank != taxonomy.NoRank {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/runs/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	code, _ = get(t, ts.URL+"/api/runs/"+id)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", code)
	}
}
