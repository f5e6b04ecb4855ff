package catalog

import (
	"errors"
	"testing"
)

func TestResolve_ExactTriple(t *testing.T) {
	for _, want := range Entries() {
		q := Query{Level: want.Level, Param: want.Param, Qualifier: want.Qualifier}
		got, err := Resolve(q)
		if err != nil {
			t.Fatalf("Resolve(%v): %v", q, err)
		}
		if got.Ordinal != want.Ordinal {
			t.Errorf("Resolve(%v) = ordinal %d, want %d", q, got.Ordinal, want.Ordinal)
		}
	}
}

func TestResolve_CaseInsensitive(t *testing.T) {
	got, err := Resolve(Query{Level: "500 MB", Param: "tmp", Qualifier: "ANL"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Param != "TMP" || got.Level != "500 mb" {
		t.Errorf("unexpected entry: %+v", got)
	}
}

func TestResolve_DescriptionNarrowsAmbiguity(t *testing.T) {
	// TMP alone matches many levels; the description fragment singles
	// one out.
	got, err := Resolve(Query{Param: "TMP", Description: "925mb"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Level != "925 mb" {
		t.Errorf("expected 925 mb entry, got %+v", got)
	}
}

func TestResolve_DescriptionOnly(t *testing.T) {
	got, err := Resolve(Query{Description: "precipitable water"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Param != "PWAT" {
		t.Errorf("expected PWAT, got %+v", got)
	}
}

func TestResolve_Ambiguous(t *testing.T) {
	_, err := Resolve(Query{Param: "UGRD"})
	var ambErr *AmbiguousParameterError
	if !errors.As(err, &ambErr) {
		t.Fatalf("expected AmbiguousParameterError, got %v", err)
	}
	if len(ambErr.Matches) < 2 {
		t.Errorf("expected multiple matches, got %d", len(ambErr.Matches))
	}
}

func TestResolve_Unknown(t *testing.T) {
	_, err := Resolve(Query{Param: "XYZZY"})
	var unkErr *UnknownParameterError
	if !errors.As(err, &unkErr) {
		t.Fatalf("expected UnknownParameterError, got %v", err)
	}
}

func TestResolveMany_PreservesOrder(t *testing.T) {
	queries := []Query{
		{Level: "850 mb", Param: "TMP", Qualifier: "anl"},
		{Level: "surface", Param: "GUST", Qualifier: "anl"},
		{Level: "500 mb", Param: "HGT", Qualifier: "anl"},
	}
	entries, err := ResolveMany(queries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Param != "TMP" || entries[1].Param != "GUST" || entries[2].Param != "HGT" {
		t.Errorf("order not preserved: %+v", entries)
	}
}

func TestResolveMany_Atomic(t *testing.T) {
	queries := []Query{
		{Level: "850 mb", Param: "TMP", Qualifier: "anl"},
		{Param: "NOPE"},
	}
	entries, err := ResolveMany(queries)
	if err == nil {
		t.Fatal("expected error")
	}
	if entries != nil {
		t.Errorf("expected no partial result, got %+v", entries)
	}
}

func TestOrdinalsUniqueAndStable(t *testing.T) {
	seen := make(map[int]bool)
	for _, e := range Entries() {
		if seen[e.Ordinal] {
			t.Errorf("duplicate ordinal %d", e.Ordinal)
		}
		seen[e.Ordinal] = true
	}
}

func TestLevelsAndParams(t *testing.T) {
	if len(Levels()) == 0 || len(Params()) == 0 {
		t.Fatal("expected non-empty level and param listings")
	}
}
