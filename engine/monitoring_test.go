package engine

import "testing"

func TestStats(t *testing.T) {
	db := setup(t)
	ns := must(db.CreateNamespace())
	ensure(ns.AlterSchema("name: string .\nage: int ."))
	must(ns.Mutate(`{"set":[{"uid":"_:a","name":"Ada","age":36},{"uid":"_:b","name":"Bob"}]}`))
	must(ns.Query(`{"has":"name"}`))

	stats := must(db.Stats())
	if stats.Mutations != 1 || stats.Queries != 1 {
		t.Errorf("** counters = %d/%d, wanted 1/1", stats.Mutations, stats.Queries)
	}
	if len(stats.Namespaces) != 2 {
		t.Fatalf("** %d namespaces in stats, wanted default plus one", len(stats.Namespaces))
	}

	var found *NamespaceStats
	for i := range stats.Namespaces {
		if stats.Namespaces[i].ID == ns.ID() {
			found = &stats.Namespaces[i]
		}
	}
	if found == nil {
		t.Fatalf("** namespace %d missing from stats", ns.ID())
	}
	if found.Entities != 2 || found.Predicates != 2 {
		t.Errorf("** stats = %+v, wanted 2 entities and 2 predicates", found)
	}
	// name has two postings, age one; each predicate is one posting row
	if found.PostingRows != 2 {
		t.Errorf("** posting rows = %d, wanted 2", found.PostingRows)
	}
	if found.TotalSize() <= 0 {
		t.Errorf("** implausible sizes in %+v", found)
	}
}
