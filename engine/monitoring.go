package engine

import (
	"fmt"

	"go.etcd.io/bbolt"
)

// NamespaceStats reports the storage footprint of one namespace, taken from
// the underlying bucket statistics.
type NamespaceStats struct {
	ID         uint64
	Predicates int

	Entities  int
	DataSize  int
	DataAlloc int

	PostingRows  int
	PostingSize  int
	PostingAlloc int
}

func (ns *NamespaceStats) TotalSize() int {
	return ns.DataSize + ns.PostingSize
}

func (ns *NamespaceStats) TotalAlloc() int {
	return ns.DataAlloc + ns.PostingAlloc
}

// EngineStats is a point-in-time snapshot across all namespaces.
type EngineStats struct {
	Namespaces []NamespaceStats
	Mutations  uint64
	Queries    uint64
}

func (db *DB) Stats() (*EngineStats, error) {
	stats := &EngineStats{
		Mutations: db.MutationCount.Load(),
		Queries:   db.QueryCount.Load(),
	}
	err := db.view(func(tx *bbolt.Tx) error {
		return eachNamespaceRecord(tx, func(rec *nsRecord) error {
			ns, err := namespaceStats(tx, rec)
			if err != nil {
				return err
			}
			stats.Namespaces = append(stats.Namespaces, *ns)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func namespaceStats(tx *bbolt.Tx, rec *nsRecord) (*NamespaceStats, error) {
	data := tx.Bucket(dataBucketName(rec.ID))
	postings := tx.Bucket(postingBucketName(rec.ID))
	if data == nil || postings == nil {
		return nil, fmt.Errorf("%w: %d", ErrNamespaceNotFound, rec.ID)
	}

	// small buckets are stored inline in their parent, where usage shows
	// up as InlineBucketInuse instead of LeafInuse
	bs := data.Stats()
	ns := &NamespaceStats{
		ID:         rec.ID,
		Predicates: len(rec.Preds),
		Entities:   bs.KeyN,
		DataSize:   bs.LeafInuse + bs.InlineBucketInuse,
		DataAlloc:  bs.BranchAlloc + bs.LeafAlloc,
	}
	bs = postings.Stats()
	ns.PostingRows = bs.KeyN
	ns.PostingSize = bs.LeafInuse + bs.InlineBucketInuse
	ns.PostingAlloc = bs.BranchAlloc + bs.LeafAlloc
	return ns, nil
}
