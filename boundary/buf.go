package boundary

import (
	"fmt"
	"sync/atomic"
)

// Allocator mints Bufs and accounts for their release. The engine side of
// the boundary owns an Allocator and allocates every outgoing string payload
// from it; the client side releases them. Live reports the number of
// outstanding buffers, which tests use to prove exactly-once release on both
// the success and the failure branch of every call.
type Allocator struct {
	allocs atomic.Int64
	frees  atomic.Int64
}

// NewBuf allocates a buffer holding a copy of s.
func (a *Allocator) NewBuf(s string) *Buf {
	a.allocs.Add(1)
	return &Buf{a: a, data: []byte(s)}
}

// Live returns the number of allocated but not yet released buffers.
func (a *Allocator) Live() int64 {
	return a.allocs.Load() - a.frees.Load()
}

// Allocs returns the total number of buffers ever allocated.
func (a *Allocator) Allocs() int64 {
	return a.allocs.Load()
}

// Buf is a boundary-allocated string buffer. It models foreign memory:
// the receiver must copy the content it needs and then call Free exactly
// once. Releasing twice, or reading after release, panics.
type Buf struct {
	a     *Allocator
	data  []byte
	freed atomic.Bool
}

// String returns the buffer content. Panics if the buffer has been released.
func (b *Buf) String() string {
	if b.freed.Load() {
		panic("boundary: use of released buffer")
	}
	return string(b.data)
}

// Free releases the buffer back to its allocator. Panics on double release.
func (b *Buf) Free() {
	if !b.freed.CompareAndSwap(false, true) {
		panic("boundary: double release of buffer")
	}
	b.data = nil
	b.a.frees.Add(1)
}

// Take returns the buffer content and releases the buffer. nil is allowed
// and yields "".
func (b *Buf) Take() string {
	if b == nil {
		return ""
	}
	s := b.String()
	b.Free()
	return s
}

func (b *Buf) GoString() string {
	if b == nil {
		return "Buf(nil)"
	}
	if b.freed.Load() {
		return "Buf(released)"
	}
	return fmt.Sprintf("Buf(%q)", b.data)
}
