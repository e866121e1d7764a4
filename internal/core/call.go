package core

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/executor"
)

// Func is a synchronous native function.
type Func func(c *Call) (bridge.Value, error)

// AsyncFunc validates its arguments on the engine goroutine and returns the
// work to run on the executor. A returned error rejects the promise.
type AsyncFunc func(c *Call) (executor.Work, error)

// Call carries converted arguments of a native call. Roots held by the
// arguments are released when the call returns; use Keep to hold a value
// longer.
type Call struct {
	Name string
	Args []bridge.Value
	host Host
	raw  goja.FunctionCall
}

// Arg returns argument i, or undefined when absent.
func (c *Call) Arg(i int) bridge.Value {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return bridge.Undefined()
}

// Raw returns argument i as an engine value.
func (c *Call) Raw(i int) goja.Value {
	return c.raw.Argument(i)
}

// Keep roots argument i beyond the call.
func (c *Call) Keep(i int) *bridge.Root {
	return c.host.Bridge().Roots().Acquire(c.raw.Argument(i))
}

// String returns argument i as a string, failing with TypeMismatch
// otherwise.
func (c *Call) String(i int) (string, error) {
	v := c.Arg(i)
	if v.Type() != bridge.TypeString {
		return "", bridge.TypeMismatch("%s: argument %d must be a string, got %s", c.Name, i+1, v.Type())
	}
	return v.Str(), nil
}

// OptString returns argument i as a string or def when it is nullish.
func (c *Call) OptString(i int, def string) (string, error) {
	if c.Arg(i).IsNullish() {
		return def, nil
	}
	return c.String(i)
}

// Option returns property key of object argument i.
func (c *Call) Option(i int, key string) (bridge.Value, bool) {
	v := c.Arg(i)
	if v.Type() != bridge.TypeObject {
		return bridge.Undefined(), false
	}
	return v.Get(key)
}

// Data returns argument i as bytes. Strings are UTF-8 encoded.
func (c *Call) Data(i int) ([]byte, error) {
	v := c.Arg(i)
	switch v.Type() {
	case bridge.TypeBytes:
		return v.Bytes(), nil
	case bridge.TypeString:
		return []byte(v.Str()), nil
	}
	return nil, bridge.TypeMismatch("%s: argument %d must be a string or Uint8Array, got %s", c.Name, i+1, v.Type())
}

func newCall(h Host, name string, fc goja.FunctionCall) (*Call, func(), error) {
	b := h.Bridge()
	c := &Call{Name: name, host: h, raw: fc, Args: make([]bridge.Value, len(fc.Arguments))}
	release := func() {
		for _, a := range c.Args {
			a.Release()
		}
	}
	for i, a := range fc.Arguments {
		v, err := b.ToNative(a)
		if err != nil {
			release()
			return nil, func() {}, fmt.Errorf("%s: argument %d: %w", name, i+1, err)
		}
		c.Args[i] = v
	}
	return c, release, nil
}

// WrapFunc turns fn into an engine function. Errors are thrown into script
// through the Exception Bridge.
func WrapFunc(h Host, name string, fn Func) goja.Value {
	b := h.Bridge()
	return h.Runtime().ToValue(func(fc goja.FunctionCall) goja.Value {
		c, release, err := newCall(h, name, fc)
		if err != nil {
			b.Throw(typeError(b, err))
		}
		defer release()
		res, err := fn(c)
		if err != nil {
			b.Throw(b.Capture(err))
		}
		v, err := b.ToEngine(res)
		if err != nil {
			b.Throw(b.Capture(err))
		}
		return v
	})
}

// WrapAsync turns fn into an engine function returning a promise settled
// by a pending native job.
func WrapAsync(h Host, name string, fn AsyncFunc) goja.Value {
	b := h.Bridge()
	return h.Runtime().ToValue(func(fc goja.FunctionCall) goja.Value {
		c, release, err := newCall(h, name, fc)
		if err != nil {
			return h.Rejected(typeError(b, err))
		}
		defer release()
		work, err := fn(c)
		if err != nil {
			return h.Rejected(err)
		}
		return h.Async(work)
	})
}

func typeError(b *bridge.Bridge, err error) *bridge.Failure {
	f := b.Capture(err)
	if f.Name == "" {
		f.Name = "TypeError"
	}
	return f
}
