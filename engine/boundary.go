package engine

import (
	"encoding/json"
	"sync"

	"github.com/warrendb/warren/boundary"
)

// conn adapts the engine to the boundary call surface. Handles are plain
// counters resolved through a registry, so the client side never holds an
// engine pointer; a stale or foreign handle turns into an error buffer, not
// a crash.
type conn struct {
	alloc boundary.Allocator

	mu      sync.Mutex
	handles map[boundary.Handle]any
	next    uint64
}

var defaultConn = &conn{
	handles: make(map[boundary.Handle]any),
	next:    1,
}

// Boundary returns the in-process engine's boundary surface. All engines
// opened through it share one handle registry, mirroring a single loaded
// engine library.
func Boundary() boundary.Conn {
	return defaultConn
}

// BoundaryAllocator exposes the buffer allocator behind Boundary so tests
// can verify that every buffer handed out is eventually released.
func BoundaryAllocator() *boundary.Allocator {
	return &defaultConn.alloc
}

func (c *conn) put(v any) boundary.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := boundary.Handle(c.next)
	c.next++
	c.handles[h] = v
	return h
}

func (c *conn) engineAt(h boundary.Handle) *DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, _ := c.handles[h].(*DB)
	return db
}

func (c *conn) namespaceAt(h boundary.Handle) *Namespace {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, _ := c.handles[h].(*Namespace)
	return ns
}

// fail renders an error into a boundary-owned buffer.
func (c *conn) fail(err error) *boundary.Buf {
	return c.alloc.NewBuf(err.Error())
}

func (c *conn) OpenEngine(dataDir string) (boundary.Handle, *boundary.Buf) {
	db, err := Open(dataDir, Options{})
	if err != nil {
		return boundary.None, c.fail(err)
	}
	return c.put(db), nil
}

func (c *conn) CreateNamespace(engine boundary.Handle) (boundary.Handle, *boundary.Buf) {
	db := c.engineAt(engine)
	if db == nil {
		return boundary.None, c.fail(ErrClosedEngine)
	}
	ns, err := db.CreateNamespace()
	if err != nil {
		return boundary.None, c.fail(err)
	}
	return c.put(ns), nil
}

func (c *conn) GetNamespace(engine boundary.Handle, nsID uint64) (boundary.Handle, *boundary.Buf) {
	db := c.engineAt(engine)
	if db == nil {
		return boundary.None, c.fail(ErrClosedEngine)
	}
	ns, err := db.GetNamespace(nsID)
	if err != nil {
		return boundary.None, c.fail(err)
	}
	return c.put(ns), nil
}

func (c *conn) DropAll(engine boundary.Handle) *boundary.Buf {
	db := c.engineAt(engine)
	if db == nil {
		return c.fail(ErrClosedEngine)
	}
	if err := db.DropAll(); err != nil {
		return c.fail(err)
	}
	return nil
}

func (c *conn) Load(engine boundary.Handle, schemaPath, dataPath string) *boundary.Buf {
	db := c.engineAt(engine)
	if db == nil {
		return c.fail(ErrClosedEngine)
	}
	if err := db.Load(schemaPath, dataPath); err != nil {
		return c.fail(err)
	}
	return nil
}

func (c *conn) LoadData(engine boundary.Handle, dataDir string) *boundary.Buf {
	db := c.engineAt(engine)
	if db == nil {
		return c.fail(ErrClosedEngine)
	}
	if err := db.LoadData(dataDir); err != nil {
		return c.fail(err)
	}
	return nil
}

func (c *conn) CloseEngine(engine boundary.Handle) {
	db := c.engineAt(engine)
	if db == nil {
		return
	}
	db.Close()

	// drop the engine handle and every namespace handle minted from it,
	// so the registry does not grow for the life of the process
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, engine)
	for h, v := range c.handles {
		if ns, ok := v.(*Namespace); ok && ns.db == db {
			delete(c.handles, h)
		}
	}
}

func (c *conn) NamespaceID(ns boundary.Handle) uint64 {
	n := c.namespaceAt(ns)
	if n == nil {
		return 0
	}
	return n.ID()
}

func (c *conn) DropData(ns boundary.Handle) *boundary.Buf {
	n := c.namespaceAt(ns)
	if n == nil {
		return c.fail(ErrClosedEngine)
	}
	if err := n.DropData(); err != nil {
		return c.fail(err)
	}
	return nil
}

func (c *conn) AlterSchema(ns boundary.Handle, schema string) *boundary.Buf {
	n := c.namespaceAt(ns)
	if n == nil {
		return c.fail(ErrClosedEngine)
	}
	if err := n.AlterSchema(schema); err != nil {
		return c.fail(err)
	}
	return nil
}

func (c *conn) Mutate(ns boundary.Handle, mutations string) (*boundary.Buf, *boundary.Buf) {
	n := c.namespaceAt(ns)
	if n == nil {
		return nil, c.fail(ErrClosedEngine)
	}
	assigned, err := n.Mutate(mutations)
	if err != nil {
		return nil, c.fail(err)
	}
	if assigned == nil {
		assigned = map[string]uint64{}
	}
	payload := must(json.Marshal(assigned))
	return c.alloc.NewBuf(string(payload)), nil
}

func (c *conn) Query(ns boundary.Handle, query string) (*boundary.Buf, *boundary.Buf) {
	n := c.namespaceAt(ns)
	if n == nil {
		return nil, c.fail(ErrClosedEngine)
	}
	resp, err := n.Query(query)
	if err != nil {
		return nil, c.fail(err)
	}
	return c.alloc.NewBuf(resp), nil
}
