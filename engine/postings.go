package engine

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"go.etcd.io/bbolt"
)

// Posting sets record which uids carry a given predicate, one roaring
// bitmap per predicate per namespace. They back has/eq query scans and the
// schema-change data check.

func loadPosting(tx *bbolt.Tx, ns uint64, pred string) *roaring64.Bitmap {
	bm := roaring64.New()
	buck := tx.Bucket(postingBucketName(ns))
	if buck == nil {
		return bm
	}
	raw := buck.Get([]byte(pred))
	if raw == nil {
		return bm
	}
	must(bm.ReadFrom(bytes.NewReader(raw)))
	return bm
}

func savePosting(tx *bbolt.Tx, ns uint64, pred string, bm *roaring64.Bitmap) error {
	buck := tx.Bucket(postingBucketName(ns))
	if buck == nil {
		return fmt.Errorf("%w: %d", ErrNamespaceNotFound, ns)
	}
	if bm.IsEmpty() {
		return buck.Delete([]byte(pred))
	}
	var out bytes.Buffer
	if _, err := bm.WriteTo(&out); err != nil {
		return err
	}
	return buck.Put([]byte(pred), out.Bytes())
}

func postingCount(tx *bbolt.Tx, ns uint64, pred string) uint64 {
	return loadPosting(tx, ns, pred).GetCardinality()
}
