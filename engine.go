package warren

import (
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/warrendb/warren/boundary"
	"github.com/warrendb/warren/engine"
)

// Engine is the top-level handle to one open database instance rooted at a
// data directory. It exclusively owns its boundary handle; all namespace and
// bulk-load operations go through it.
type Engine struct {
	conn   boundary.Conn
	h      atomic.Uint64 // boundary.Handle; boundary.None once closed
	logger *slog.Logger
}

type Options struct {
	// Conn is the boundary to dial. Nil means the in-process engine.
	Conn   boundary.Conn
	Logger *slog.Logger
}

// Open opens or creates a database instance rooted at dataDir and mints the
// engine handle owned by the returned Engine. The handle is guaranteed to be
// released exactly once: on the first Close, or via a finalizer if the
// Engine becomes unreachable while still open.
func Open(dataDir string, opt Options) (*Engine, error) {
	conn := opt.Conn
	if conn == nil {
		conn = engine.Boundary()
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h, errb := conn.OpenEngine(dataDir)
	if err := takeErr("open engine", errb); err != nil {
		return nil, &OpenError{Dir: dataDir, Err: err}
	}
	if h == boundary.None {
		return nil, &OpenError{Dir: dataDir, Err: ErrHandleCreation}
	}

	e := &Engine{conn: conn, logger: logger}
	e.h.Store(uint64(h))
	runtime.SetFinalizer(e, (*Engine).Close)
	logger.Debug("engine opened", "dir", dataDir)
	return e, nil
}

// handle returns the live handle. Calling any operation on a closed Engine
// is a programming error.
func (e *Engine) handle() boundary.Handle {
	h := boundary.Handle(e.h.Load())
	if h == boundary.None {
		panic("warren: use of closed Engine")
	}
	return h
}

// CreateNamespace creates a new, empty namespace in the instance.
func (e *Engine) CreateNamespace() (*Namespace, error) {
	h, errb := e.conn.CreateNamespace(e.handle())
	nh, err := takeHandle("create namespace", h, errb)
	if err != nil {
		return nil, err
	}
	return newNamespace(e.conn, nh), nil
}

// GetNamespace resolves a previously known logical namespace id to a live
// Namespace. The id is the stable value returned by Namespace.ID, not a
// boundary handle.
func (e *Engine) GetNamespace(nsID uint64) (*Namespace, error) {
	h, errb := e.conn.GetNamespace(e.handle(), nsID)
	nh, err := takeHandle("get namespace", h, errb)
	if err != nil {
		return nil, err
	}
	return newNamespace(e.conn, nh), nil
}

// DropAll destroys all namespaces and all data in the instance. The engine
// stays open and usable for fresh namespace creation. Irreversible.
func (e *Engine) DropAll() error {
	return takeErr("drop all", e.conn.DropAll(e.handle()))
}

// Load bulk-loads a schema definition and a dataset from the given paths.
// Paths are forwarded verbatim; existence and format are the engine's
// concern.
func (e *Engine) Load(schemaPath, dataPath string) error {
	return takeErr("load", e.conn.Load(e.handle(), schemaPath, dataPath))
}

// LoadData bulk-loads data only (no schema) from a directory.
func (e *Engine) LoadData(dataDir string) error {
	return takeErr("load data", e.conn.LoadData(e.handle(), dataDir))
}

// Close releases the underlying instance. Idempotent: the handle is swapped
// to the sentinel atomically, so exactly one caller (explicit or finalizer)
// performs the release and every other call is a no-op.
func (e *Engine) Close() {
	h := boundary.Handle(e.h.Swap(uint64(boundary.None)))
	if h == boundary.None {
		return
	}
	runtime.SetFinalizer(e, nil)
	e.conn.CloseEngine(h)
	e.logger.Debug("engine closed")
}
