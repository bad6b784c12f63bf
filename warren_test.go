package warren

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/warrendb/warren/boundary"
)

// fakeConn is a scripted boundary used to exercise every branch of the
// translation layer, with its own allocator so tests can prove that each
// buffer crossing the boundary is released exactly once.
type fakeConn struct {
	alloc boundary.Allocator

	failOp        map[string]string // op name -> error message
	noHandle      bool              // handle-producing calls yield None without an error
	emptyResult   bool              // mutate/query succeed with a nil result slot
	errWithResult bool              // failures also carry an untrustworthy result payload

	mutatePayload string
	queryPayload  string

	nsID   uint64
	closes atomic.Int64
	next   atomic.Uint64
}

func newFakeConn() *fakeConn {
	c := &fakeConn{
		failOp:        make(map[string]string),
		mutatePayload: `{"a":1}`,
		queryPayload:  `{"entities":[]}`,
		nsID:          7,
	}
	c.next.Store(100)
	return c
}

func (c *fakeConn) mint() boundary.Handle {
	return boundary.Handle(c.next.Add(1))
}

func (c *fakeConn) errFor(op string) *boundary.Buf {
	if msg, ok := c.failOp[op]; ok {
		return c.alloc.NewBuf(msg)
	}
	return nil
}

func (c *fakeConn) handleCall(op string) (boundary.Handle, *boundary.Buf) {
	if errb := c.errFor(op); errb != nil {
		return boundary.None, errb
	}
	if c.noHandle {
		return boundary.None, nil
	}
	return c.mint(), nil
}

func (c *fakeConn) resultCall(op, payload string) (*boundary.Buf, *boundary.Buf) {
	if errb := c.errFor(op); errb != nil {
		if c.errWithResult {
			return c.alloc.NewBuf("junk"), errb
		}
		return nil, errb
	}
	if c.emptyResult {
		return nil, nil
	}
	return c.alloc.NewBuf(payload), nil
}

func (c *fakeConn) OpenEngine(string) (boundary.Handle, *boundary.Buf) {
	return c.handleCall("open")
}
func (c *fakeConn) CreateNamespace(boundary.Handle) (boundary.Handle, *boundary.Buf) {
	return c.handleCall("create")
}
func (c *fakeConn) GetNamespace(boundary.Handle, uint64) (boundary.Handle, *boundary.Buf) {
	return c.handleCall("get")
}
func (c *fakeConn) DropAll(boundary.Handle) *boundary.Buf  { return c.errFor("dropall") }
func (c *fakeConn) Load(boundary.Handle, string, string) *boundary.Buf {
	return c.errFor("load")
}
func (c *fakeConn) LoadData(boundary.Handle, string) *boundary.Buf { return c.errFor("loaddata") }
func (c *fakeConn) CloseEngine(boundary.Handle)                    { c.closes.Add(1) }
func (c *fakeConn) NamespaceID(boundary.Handle) uint64             { return c.nsID }
func (c *fakeConn) DropData(boundary.Handle) *boundary.Buf         { return c.errFor("dropdata") }
func (c *fakeConn) AlterSchema(boundary.Handle, string) *boundary.Buf {
	return c.errFor("alter")
}
func (c *fakeConn) Mutate(boundary.Handle, string) (*boundary.Buf, *boundary.Buf) {
	return c.resultCall("mutate", c.mutatePayload)
}
func (c *fakeConn) Query(boundary.Handle, string) (*boundary.Buf, *boundary.Buf) {
	return c.resultCall("query", c.queryPayload)
}

func openFake(t testing.TB, c *fakeConn) *Engine {
	t.Helper()
	e := must(Open("/nonexistent", Options{Conn: c}))
	t.Cleanup(e.Close)
	return e
}

func noLive(t testing.TB, c *fakeConn) {
	t.Helper()
	if n := c.alloc.Live(); n != 0 {
		t.Errorf("** %d boundary buffers still live, wanted 0", n)
	}
}

func TestOpenBoundaryError(t *testing.T) {
	c := newFakeConn()
	c.failOp["open"] = "disk on fire"

	_, err := Open("/nonexistent", Options{Conn: c})
	var oe *OpenError
	if !errors.As(err, &oe) {
		t.Fatalf("** err = %v, wanted OpenError", err)
	}
	var be *BoundaryError
	if !errors.As(oe.Err, &be) || be.Message != "disk on fire" {
		t.Errorf("** cause = %v, wanted BoundaryError with verbatim message", oe.Err)
	}
	noLive(t, c)
}

func TestOpenNoHandle(t *testing.T) {
	c := newFakeConn()
	c.noHandle = true

	_, err := Open("/nonexistent", Options{Conn: c})
	if !errors.Is(err, ErrHandleCreation) {
		t.Errorf("** err = %v, wanted ErrHandleCreation", err)
	}
	noLive(t, c)
}

func TestCloseIdempotent(t *testing.T) {
	c := newFakeConn()
	e := must(Open("/nonexistent", Options{Conn: c}))
	e.Close()
	e.Close()
	e.Close()
	if n := c.closes.Load(); n != 1 {
		t.Errorf("** CloseEngine called %d times, wanted 1", n)
	}
}

func TestCloseConcurrent(t *testing.T) {
	c := newFakeConn()
	e := must(Open("/nonexistent", Options{Conn: c}))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Close()
		}()
	}
	wg.Wait()
	if n := c.closes.Load(); n != 1 {
		t.Errorf("** CloseEngine called %d times under concurrent close, wanted 1", n)
	}
}

func TestUseAfterClosePanics(t *testing.T) {
	c := newFakeConn()
	e := must(Open("/nonexistent", Options{Conn: c}))
	e.Close()
	expectPanic(t, "CreateNamespace after Close", func() { _, _ = e.CreateNamespace() })
}

func TestCreateNamespace(t *testing.T) {
	c := newFakeConn()
	e := openFake(t, c)

	ns := must(e.CreateNamespace())
	if ns.ID() != 7 {
		t.Errorf("** ID = %d, wanted 7", ns.ID())
	}
	noLive(t, c)
}

func TestCreateNamespaceError(t *testing.T) {
	c := newFakeConn()
	c.failOp["create"] = "resource limit"
	e := openFake(t, c)

	_, err := e.CreateNamespace()
	var be *BoundaryError
	if !errors.As(err, &be) || be.Message != "resource limit" {
		t.Errorf("** err = %v, wanted BoundaryError(resource limit)", err)
	}
	noLive(t, c)
}

func TestCreateNamespaceNoHandle(t *testing.T) {
	c := newFakeConn()
	e := openFake(t, c)
	c.noHandle = true

	_, err := e.CreateNamespace()
	if !errors.Is(err, ErrHandleCreation) {
		t.Errorf("** err = %v, wanted ErrHandleCreation", err)
	}
	noLive(t, c)
}

func TestGetNamespaceError(t *testing.T) {
	c := newFakeConn()
	c.failOp["get"] = "namespace does not exist: 42"
	e := openFake(t, c)

	_, err := e.GetNamespace(42)
	var be *BoundaryError
	if !errors.As(err, &be) || be.Message != "namespace does not exist: 42" {
		t.Errorf("** err = %v, wanted verbatim engine message", err)
	}
	noLive(t, c)
}

func TestEngineOpErrors(t *testing.T) {
	c := newFakeConn()
	c.failOp["dropall"] = "nope"
	c.failOp["load"] = "bad schema file"
	c.failOp["loaddata"] = "bad dir"
	e := openFake(t, c)

	for _, err := range []error{
		e.DropAll(),
		e.Load("s", "d"),
		e.LoadData("d"),
	} {
		var be *BoundaryError
		if !errors.As(err, &be) {
			t.Errorf("** err = %v, wanted BoundaryError", err)
		}
	}
	noLive(t, c)
}

func TestMutateSuccess(t *testing.T) {
	c := newFakeConn()
	c.mutatePayload = `{"ref1": 10, "ref2": 11}`
	e := openFake(t, c)
	ns := must(e.CreateNamespace())

	res := must(ns.Mutate(`whatever`))
	deepEqual(t, res, MutationResult{"ref1": 10, "ref2": 11})
	noLive(t, c)
}

func TestMutateBoundaryError(t *testing.T) {
	c := newFakeConn()
	e := openFake(t, c)
	ns := must(e.CreateNamespace())
	c.failOp["mutate"] = "schema violation"

	res, err := ns.Mutate(`x`)
	if res != nil {
		t.Errorf("** got result %v alongside an error", res)
	}
	var be *BoundaryError
	if !errors.As(err, &be) || be.Message != "schema violation" {
		t.Errorf("** err = %v, wanted BoundaryError(schema violation)", err)
	}
	noLive(t, c)
}

func TestMutateErrorWithStrayResult(t *testing.T) {
	c := newFakeConn()
	e := openFake(t, c)
	ns := must(e.CreateNamespace())
	c.failOp["mutate"] = "conflict"
	c.errWithResult = true

	_, err := ns.Mutate(`x`)
	var be *BoundaryError
	if !errors.As(err, &be) {
		t.Errorf("** err = %v, wanted BoundaryError", err)
	}
	noLive(t, c) // the stray result buffer must have been released too
}

func TestMutateEmptyResult(t *testing.T) {
	c := newFakeConn()
	e := openFake(t, c)
	ns := must(e.CreateNamespace())
	c.emptyResult = true

	_, err := ns.Mutate(`x`)
	if !errors.Is(err, ErrEmptyResult) {
		t.Errorf("** err = %v, wanted ErrEmptyResult", err)
	}
	noLive(t, c)
}

func TestMutateDecodeError(t *testing.T) {
	c := newFakeConn()
	e := openFake(t, c)
	ns := must(e.CreateNamespace())
	c.mutatePayload = `["not","a","mapping"]`

	_, err := ns.Mutate(`x`)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Errorf("** err = %v, wanted DecodeError", err)
	}
	var be *BoundaryError
	if errors.As(err, &be) {
		t.Errorf("** decode failure surfaced as BoundaryError")
	}
	noLive(t, c)
}

func TestQuerySuccess(t *testing.T) {
	c := newFakeConn()
	c.queryPayload = `{"entities":[{"uid":"0x1"}]}`
	e := openFake(t, c)
	ns := must(e.CreateNamespace())

	resp := must(ns.Query(`q`))
	if resp != `{"entities":[{"uid":"0x1"}]}` {
		t.Errorf("** resp = %q, wanted payload passed through verbatim", resp)
	}
	noLive(t, c)
}

func TestQueryEmptyResult(t *testing.T) {
	c := newFakeConn()
	e := openFake(t, c)
	ns := must(e.CreateNamespace())
	c.emptyResult = true

	_, err := ns.Query(`q`)
	if !errors.Is(err, ErrEmptyResult) {
		t.Errorf("** err = %v, wanted ErrEmptyResult", err)
	}
	noLive(t, c)
}

func TestNamespaceOpErrors(t *testing.T) {
	c := newFakeConn()
	e := openFake(t, c)
	ns := must(e.CreateNamespace())
	c.failOp["dropdata"] = "denied"
	c.failOp["alter"] = "syntax error"

	var be *BoundaryError
	if err := ns.DropData(); !errors.As(err, &be) {
		t.Errorf("** DropData err = %v, wanted BoundaryError", err)
	}
	if err := ns.AlterSchema("x"); !errors.As(err, &be) || be.Message != "syntax error" {
		t.Errorf("** AlterSchema err = %v, wanted BoundaryError(syntax error)", err)
	}
	noLive(t, c)
}

// FuzzBufferRelease drives the translation layer through the success and
// failure branch of every buffer-carrying call and checks that no boundary
// buffer leaks and none is released twice (a double release panics).
func FuzzBufferRelease(f *testing.F) {
	f.Add(false, false, false, false, false)
	f.Add(true, false, true, false, true)
	f.Add(false, true, false, true, false)
	f.Add(true, true, true, true, true)

	f.Fuzz(func(t *testing.T, failMutate, failQuery, errWithResult, emptyResult, badPayload bool) {
		c := newFakeConn()
		if failMutate {
			c.failOp["mutate"] = "m"
		}
		if failQuery {
			c.failOp["query"] = "q"
		}
		c.errWithResult = errWithResult
		c.emptyResult = emptyResult
		if badPayload {
			c.mutatePayload = `not json`
		}

		e, err := Open("/nonexistent", Options{Conn: c})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		ns, err := e.CreateNamespace()
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		_, _ = ns.Mutate("x")
		_, _ = ns.Query("x")
		e.Close()

		if n := c.alloc.Live(); n != 0 {
			t.Errorf("** %d live buffers after ops (allocs %d)", n, c.alloc.Allocs())
		}
	})
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func expectPanic(t testing.TB, name string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("** %s did not panic", name)
		}
	}()
	f()
}
