package core

import (
	"context"
	"io"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/eventloop"
	"github.com/cryguy/runjs/internal/executor"
)

// Capability is a native module that attaches itself to a realm. In module
// mode its exports become the namespace of the built-in specifier Name; in
// script mode they are installed as a global object called Name.
type Capability interface {
	Name() string
	Register(h Host) (*Exports, error)
}

// Host is the realm handle given to capabilities. All methods must be
// called on the engine goroutine.
type Host interface {
	Runtime() *goja.Runtime
	Bridge() *bridge.Bridge
	Loop() *eventloop.Loop
	Logger() *zap.Logger
	Config() *Config
	Stdout() io.Writer
	Stderr() io.Writer

	// Context is cancelled when the realm closes.
	Context() context.Context

	// Async starts a pending native job running work on the executor and
	// returns its promise. The result is delivered through the Task Channel.
	Async(work executor.Work) goja.Value

	// Rejected returns a promise already rejected with err.
	Rejected(err error) goja.Value

	// Uncaught reports an exception thrown by a callback the host invoked
	// (timer, completion handler). It fails the run.
	Uncaught(err error)

	// RegisterCleanup adds fn to run when the realm is torn down. Cleanups
	// run in reverse registration order.
	RegisterCleanup(fn func())
}

// EngineResult may be returned by async work whose script value must be
// built on the engine goroutine (objects with methods, rooted handles).
type EngineResult func(h Host) (goja.Value, error)

// Owned is an async result that holds resources until it reaches script.
// Build runs on the engine goroutine; Dispose runs instead when the result
// is dropped because its realm was torn down.
type Owned struct {
	Build   EngineResult
	Dispose func()
}

// Globals is implemented by capabilities that also install global names
// (console, timers) regardless of mode.
type Globals interface {
	InstallGlobals(h Host, exports *Exports) error
}

// Exports is the ordered set of values a capability exposes.
type Exports struct {
	host   Host
	names  []string
	values map[string]goja.Value
}

// NewExports creates an empty export set bound to h.
func NewExports(h Host) *Exports {
	return &Exports{host: h, values: make(map[string]goja.Value)}
}

// Value exports v under name.
func (e *Exports) Value(name string, v goja.Value) *Exports {
	if _, ok := e.values[name]; !ok {
		e.names = append(e.names, name)
	}
	e.values[name] = v
	return e
}

// Raw exports a function that works on engine values directly.
func (e *Exports) Raw(name string, fn func(goja.FunctionCall) goja.Value) *Exports {
	return e.Value(name, e.host.Runtime().ToValue(fn))
}

// Func exports a synchronous native function.
func (e *Exports) Func(name string, fn Func) *Exports {
	return e.Value(name, WrapFunc(e.host, name, fn))
}

// Async exports an asynchronous native function.
func (e *Exports) Async(name string, fn AsyncFunc) *Exports {
	return e.Value(name, WrapAsync(e.host, name, fn))
}

// Names returns export names in insertion order.
func (e *Exports) Names() []string { return e.names }

// Get returns an exported value.
func (e *Exports) Get(name string) goja.Value { return e.values[name] }

// Object builds a plain object holding every export.
func (e *Exports) Object() *goja.Object {
	obj := e.host.Runtime().NewObject()
	for _, n := range e.names {
		_ = obj.Set(n, e.values[n])
	}
	return obj
}
