package patientdb

import "testing"

func TestSearchByNameAndDiagnosis(t *testing.T) {
	store := NewSeededStore()

	byName := store.Search("smith")
	if len(byName) != 1 || byName[0].ID != "P001" {
		t.Fatalf("unexpected name search result: %+v", byName)
	}

	byDiagnosis := store.Search("asthma")
	if len(byDiagnosis) != 1 || byDiagnosis[0].ID != "P002" {
		t.Fatalf("unexpected diagnosis search result: %+v", byDiagnosis)
	}

	if got := store.Search("no such patient"); len(got) != 0 {
		t.Fatalf("expected empty result, got %+v", got)
	}
}

func TestGetAndDelete(t *testing.T) {
	store := NewSeededStore()

	if _, ok := store.Get("P005"); !ok {
		t.Fatal("expected P005 to exist")
	}

	if !store.Delete("P005") {
		t.Fatal("expected delete to succeed")
	}
	if _, ok := store.Get("P005"); ok {
		t.Fatal("expected P005 to be gone after delete")
	}
	if store.Delete("P005") {
		t.Fatal("expected second delete to report not found")
	}
}
