package engine

import "encoding/binary"

var (
	metaBucket       = []byte("meta")
	namespacesBucket = []byte("namespaces")

	instanceKey      = []byte("instance")
	nextNamespaceKey = []byte("next_ns")
)

func u64key(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func u64val(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// dataBucketName names the per-namespace bucket of uid -> document.
func dataBucketName(ns uint64) []byte {
	return append([]byte("d"), u64key(ns)...)
}

// postingBucketName names the per-namespace bucket of predicate -> uid set.
func postingBucketName(ns uint64) []byte {
	return append([]byte("p"), u64key(ns)...)
}
