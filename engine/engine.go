// Package engine implements the storage engine behind the boundary: a
// multi-namespace document store on top of Bolt. The client core never
// imports its types directly; it talks to the boundary adapter in
// boundary.go.
//
// Layout:
//
// 1. A single Bolt file per data directory, plus a LOCK file held for the
// lifetime of the instance.
//
// 2. A "meta" bucket with the instance id and the namespace id counter, and
// a "namespaces" bucket with one msgpack record per namespace (schema and
// uid counter included).
//
// 3. Per-namespace data buckets (uid -> msgpack document) and posting
// buckets (predicate -> roaring bitmap of uids having that predicate).
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	ErrEmptyDataDir      = errors.New("data directory is required")
	ErrDirInUse          = errors.New("data directory is already in use by a live engine")
	ErrClosedEngine      = errors.New("engine is closed")
	ErrNamespaceNotFound = errors.New("namespace does not exist")
)

const dbFileName = "warren.db"

// openDirs enforces one live engine per data directory within this process;
// the flock extends the same rule across processes.
var (
	openDirs     = make(map[string]*DB)
	openDirsLock sync.Mutex
)

// DB is one open engine instance rooted at a data directory.
type DB struct {
	dir    string
	bdb    *bbolt.DB
	lock   *flock.Flock
	logger *slog.Logger
	isOpen atomic.Bool

	// writes are serialized above Bolt so namespace counters can be
	// assigned without read-modify-write races
	writeLock sync.Mutex

	MutationCount atomic.Uint64
	QueryCount    atomic.Uint64
}

type Options struct {
	Logger    *slog.Logger
	IsTesting bool
	MmapSize  int
}

// Open opens or creates an engine instance rooted at dir. The default
// namespace (id 0) is created on first open.
func Open(dir string, opt Options) (*DB, error) {
	if dir == "" {
		return nil, ErrEmptyDataDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if err := os.MkdirAll(abs, 0o777); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	openDirsLock.Lock()
	defer openDirsLock.Unlock()
	if _, ok := openDirs[abs]; ok {
		return nil, fmt.Errorf("engine: %w: %s", ErrDirInUse, abs)
	}

	lock := flock.New(filepath.Join(abs, "LOCK"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("engine: locking %s: %w", abs, err)
	}
	if !locked {
		return nil, fmt.Errorf("engine: %w: %s", ErrDirInUse, abs)
	}

	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(filepath.Join(abs, dbFileName), 0o666, bopt)
	if err != nil {
		ensure(lock.Unlock())
		return nil, fmt.Errorf("engine: %w", err)
	}

	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db := &DB{
		dir:    abs,
		bdb:    bdb,
		lock:   lock,
		logger: logger,
	}
	db.isOpen.Store(true)

	if err := db.update(db.initialize); err != nil {
		ensure(bdb.Close())
		ensure(lock.Unlock())
		return nil, err
	}

	openDirs[abs] = db
	logger.Debug("engine instance opened", "dir", abs)
	return db, nil
}

// initialize sets up the meta buckets and the default namespace on first
// open; it is a no-op on restart.
func (db *DB) initialize(tx *bbolt.Tx) error {
	meta, err := tx.CreateBucketIfNotExists(metaBucket)
	if err != nil {
		return err
	}
	if meta.Get(instanceKey) == nil {
		if err := meta.Put(instanceKey, []byte(uuid.NewString())); err != nil {
			return err
		}
	}
	if _, err := tx.CreateBucketIfNotExists(namespacesBucket); err != nil {
		return err
	}
	if loadNamespaceRecord(tx, 0) == nil {
		if err := createNamespaceRecord(tx, 0); err != nil {
			return err
		}
	}
	return nil
}

// InstanceID returns the uuid minted when the data directory was first
// initialized.
func (db *DB) InstanceID() (string, error) {
	var id string
	err := db.view(func(tx *bbolt.Tx) error {
		id = string(tx.Bucket(metaBucket).Get(instanceKey))
		return nil
	})
	return id, err
}

// Dir returns the absolute data directory path.
func (db *DB) Dir() string {
	return db.dir
}

// Close releases the Bolt file and the directory lock. Safe to call more
// than once; only the first call does the release.
func (db *DB) Close() {
	if !db.isOpen.CompareAndSwap(true, false) {
		return
	}

	openDirsLock.Lock()
	delete(openDirs, db.dir)
	openDirsLock.Unlock()

	if err := db.bdb.Close(); err != nil {
		panic(fmt.Errorf("engine: closing: %w", err))
	}
	ensure(db.lock.Unlock())
	db.logger.Debug("engine instance closed", "dir", db.dir)
}

func (db *DB) view(f func(tx *bbolt.Tx) error) error {
	if !db.isOpen.Load() {
		return ErrClosedEngine
	}
	return db.bdb.View(f)
}

func (db *DB) update(f func(tx *bbolt.Tx) error) error {
	db.writeLock.Lock()
	defer db.writeLock.Unlock()
	if !db.isOpen.Load() {
		return ErrClosedEngine
	}
	return db.bdb.Update(f)
}
