package bridge

import (
	"errors"

	"github.com/dop251/goja"
)

// ErrRootReleased is returned when a released root, or a root whose realm
// has been torn down, is dereferenced.
var ErrRootReleased = errors.New("bridge: root released")

// Roots is the per-realm table of engine values held by native code beyond
// a single native call. Only the engine goroutine may use it.
type Roots struct {
	entries map[uint64]goja.Value
	nextID  uint64
	closed  bool
}

// Root is a handle to one rooted engine value. Holding a Root is the only
// sanctioned way to keep an engine reference alive across calls.
type Root struct {
	table    *Roots
	id       uint64
	released bool
}

// NewRoots creates an empty root table.
func NewRoots() *Roots {
	return &Roots{entries: make(map[uint64]goja.Value)}
}

// Acquire roots v and returns its handle. After Close the returned root is
// already released.
func (rs *Roots) Acquire(v goja.Value) *Root {
	if rs.closed {
		return &Root{table: rs, released: true}
	}
	rs.nextID++
	rs.entries[rs.nextID] = v
	return &Root{table: rs, id: rs.nextID}
}

// Len returns the number of outstanding roots.
func (rs *Roots) Len() int {
	return len(rs.entries)
}

// Close drops every outstanding root. Used on realm teardown.
func (rs *Roots) Close() {
	rs.closed = true
	rs.entries = make(map[uint64]goja.Value)
}

// Closed reports whether the table has been torn down.
func (rs *Roots) Closed() bool {
	return rs.closed
}

// Value dereferences the root.
func (r *Root) Value() (goja.Value, error) {
	if r == nil || r.released {
		return nil, ErrRootReleased
	}
	v, ok := r.table.entries[r.id]
	if !ok {
		return nil, ErrRootReleased
	}
	return v, nil
}

// Released reports whether the root can no longer be dereferenced.
func (r *Root) Released() bool {
	if r == nil || r.released {
		return true
	}
	_, ok := r.table.entries[r.id]
	return !ok
}

// Release unroots the value. Safe to call more than once.
func (r *Root) Release() {
	if r == nil || r.released {
		return
	}
	r.released = true
	delete(r.table.entries, r.id)
}

// WithRoot roots v for the duration of fn. The root is released on every
// exit path, including a panic unwinding through fn.
func WithRoot(rs *Roots, v goja.Value, fn func(*Root) error) error {
	r := rs.Acquire(v)
	defer r.Release()
	return fn(r)
}
