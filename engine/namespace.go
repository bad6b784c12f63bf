package engine

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// Namespace is one isolated logical database within a DB. It is a plain
// value over the namespace's stable id; all state lives in the DB.
type Namespace struct {
	db *DB
	id uint64
}

func (ns *Namespace) ID() uint64 {
	return ns.id
}

// nsRecord is the per-namespace meta document: schema and uid counter.
// Stored msgpack-encoded in the namespaces bucket.
type nsRecord struct {
	ID        uint64                `msgpack:"id"`
	CreatedAt time.Time             `msgpack:"at"`
	NextUID   uint64                `msgpack:"uid"`
	Preds     map[string]*Predicate `msgpack:"preds"`
}

func loadNamespaceRecord(tx *bbolt.Tx, id uint64) *nsRecord {
	buck := tx.Bucket(namespacesBucket)
	if buck == nil {
		return nil
	}
	raw := buck.Get(u64key(id))
	if raw == nil {
		return nil
	}
	var rec nsRecord
	ensure(msgpack.Unmarshal(raw, &rec))
	return &rec
}

func eachNamespaceRecord(tx *bbolt.Tx, f func(rec *nsRecord) error) error {
	return tx.Bucket(namespacesBucket).ForEach(func(k, raw []byte) error {
		var rec nsRecord
		ensure(msgpack.Unmarshal(raw, &rec))
		return f(&rec)
	})
}

func saveNamespaceRecord(tx *bbolt.Tx, rec *nsRecord) error {
	return tx.Bucket(namespacesBucket).Put(u64key(rec.ID), must(msgpack.Marshal(rec)))
}

func createNamespaceRecord(tx *bbolt.Tx, id uint64) error {
	rec := &nsRecord{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		NextUID:   1,
		Preds:     make(map[string]*Predicate),
	}
	if err := saveNamespaceRecord(tx, rec); err != nil {
		return err
	}
	if _, err := tx.CreateBucketIfNotExists(dataBucketName(id)); err != nil {
		return err
	}
	if _, err := tx.CreateBucketIfNotExists(postingBucketName(id)); err != nil {
		return err
	}
	return nil
}

func deleteNamespaceBuckets(tx *bbolt.Tx, id uint64) error {
	if err := tx.DeleteBucket(dataBucketName(id)); err != nil && err != bbolt.ErrBucketNotFound {
		return err
	}
	if err := tx.DeleteBucket(postingBucketName(id)); err != nil && err != bbolt.ErrBucketNotFound {
		return err
	}
	return nil
}

// CreateNamespace mints a new, empty namespace with the next id.
func (db *DB) CreateNamespace() (*Namespace, error) {
	var id uint64
	err := db.update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		id = 1
		if raw := meta.Get(nextNamespaceKey); raw != nil {
			id = u64val(raw)
		}
		if err := meta.Put(nextNamespaceKey, u64key(id+1)); err != nil {
			return err
		}
		return createNamespaceRecord(tx, id)
	})
	if err != nil {
		return nil, err
	}
	db.logger.Debug("namespace created", "ns", id)
	return &Namespace{db: db, id: id}, nil
}

// GetNamespace resolves a logical namespace id. Ids of dropped namespaces
// fail with ErrNamespaceNotFound.
func (db *DB) GetNamespace(id uint64) (*Namespace, error) {
	err := db.view(func(tx *bbolt.Tx) error {
		if loadNamespaceRecord(tx, id) == nil {
			return fmt.Errorf("%w: %d", ErrNamespaceNotFound, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Namespace{db: db, id: id}, nil
}

// DefaultNamespace returns namespace 0, which always exists while the
// engine is open.
func (db *DB) DefaultNamespace() *Namespace {
	return &Namespace{db: db, id: 0}
}

// DropAll destroys every namespace and all data, then recreates the default
// namespace. The instance stays open and usable.
func (db *DB) DropAll() error {
	return db.update(func(tx *bbolt.Tx) error {
		buck := tx.Bucket(namespacesBucket)
		c := buck.Cursor()
		var ids []uint64
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			ids = append(ids, u64val(k))
		}
		for _, id := range ids {
			if err := deleteNamespaceBuckets(tx, id); err != nil {
				return err
			}
			if err := buck.Delete(u64key(id)); err != nil {
				return err
			}
		}
		if err := tx.Bucket(metaBucket).Put(nextNamespaceKey, u64key(1)); err != nil {
			return err
		}
		return createNamespaceRecord(tx, 0)
	})
}

// DropData deletes all data held in the namespace. The namespace and its
// schema survive, and the uid counter keeps counting from where it was.
func (ns *Namespace) DropData() error {
	return ns.db.update(func(tx *bbolt.Tx) error {
		rec := loadNamespaceRecord(tx, ns.id)
		if rec == nil {
			return fmt.Errorf("%w: %d", ErrNamespaceNotFound, ns.id)
		}
		if err := deleteNamespaceBuckets(tx, ns.id); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(dataBucketName(ns.id)); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(postingBucketName(ns.id)); err != nil {
			return err
		}
		return nil
	})
}
