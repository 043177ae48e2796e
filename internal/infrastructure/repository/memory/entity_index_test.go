package memory

import (
	"testing"

	"github.com/prospectdb/prospect-stats/internal/domain/entity"
)

func TestEntityIndexUpsertAndLookup(t *testing.T) {
	t.Parallel()

	index := NewEntityIndex()
	if _, ok := index.LookupExact("michael smith|lincoln hs|2006"); ok {
		t.Fatalf("expected miss on empty index")
	}

	index.Upsert("michael smith|lincoln hs|2006", entity.CanonicalEntity{EntityUID: "abc", PrimaryDisplayName: "Michael Smith"})

	got, ok := index.LookupExact("michael smith|lincoln hs|2006")
	if !ok {
		t.Fatalf("expected hit after upsert")
	}
	if got.EntityUID != "abc" {
		t.Fatalf("unexpected entity: %+v", got)
	}
	if index.Len() != 1 {
		t.Fatalf("len = %d", index.Len())
	}

	// Re-upserting the same key replaces, never duplicates.
	index.Upsert("michael smith|lincoln hs|2006", entity.CanonicalEntity{EntityUID: "def"})
	got, _ = index.LookupExact("michael smith|lincoln hs|2006")
	if got.EntityUID != "def" {
		t.Fatalf("expected replacement, got %+v", got)
	}
	if index.Len() != 1 {
		t.Fatalf("len after replace = %d", index.Len())
	}
}

func TestEntityIndexIgnoresIncompleteEntries(t *testing.T) {
	t.Parallel()

	index := NewEntityIndex()
	index.Upsert("", entity.CanonicalEntity{EntityUID: "abc"})
	index.Upsert("some|key|", entity.CanonicalEntity{})

	if index.Len() != 0 {
		t.Fatalf("incomplete entries must be dropped, len = %d", index.Len())
	}
}
