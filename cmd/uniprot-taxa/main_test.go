package main

import (
	"context"
	"strings"
	"testing"

	"peptaxa/internal/uniprot"
)

type fakeFetcher struct {
	entries map[string]uniprot.Entry
	asked   []string
}

func (f *fakeFetcher) EntryMap(_ context.Context, ids []string) (map[string]uniprot.Entry, error) {
	f.asked = ids
	return f.entries, nil
}

func TestReadTargetsFasta(t *testing.T) {
	in := ">tr|A0A023GPI8|A0A023GPI8_CANAL Lectin\nMKV\n>sp|P69905|HBA_HUMAN Hemoglobin\nMVL\n>local_1\nAAA\n"
	got, err := readTargets(strings.NewReader(in))
	if err != nil {
		t.Fatalf("readTargets: %v", err)
	}
	want := []target{
		{key: "A0A023GPI8", accession: "A0A023GPI8"},
		{key: "HBA", accession: "P69905"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d targets, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("target %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestReadTargetsLines(t *testing.T) {
	got, err := readTargets(strings.NewReader("P69905\n\n Q9XYZ1 \n"))
	if err != nil {
		t.Fatalf("readTargets: %v", err)
	}
	if len(got) != 2 || got[1].key != "Q9XYZ1" || got[1].accession != "Q9XYZ1" {
		t.Fatalf("unexpected targets: %+v", got)
	}
}

func TestResolve(t *testing.T) {
	f := &fakeFetcher{entries: map[string]uniprot.Entry{
		"P69905":     {Accession: "P69905", TaxonomyID: 9606},
		"A0A023GPI8": {Accession: "A0A023GPI8"},
	}}
	targets := []target{
		{key: "HBA", accession: "P69905"},
		{key: "A0A023GPI8", accession: "A0A023GPI8"},
		{key: "GONE", accession: "Q00000"},
		{key: "HBA", accession: "P69905"},
	}
	keys, taxa, err := resolve(context.Background(), f, targets)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(f.asked) != 3 {
		t.Fatalf("expected 3 distinct accessions asked, got %v", f.asked)
	}
	if len(keys) != 1 || keys[0] != "HBA" || taxa["HBA"] != 9606 {
		t.Fatalf("unexpected result: %v %v", keys, taxa)
	}
}
