package loader

import (
	"github.com/dop251/goja"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/transpile"
)

// State is the lifecycle position of a module record. States only move
// forward; Errored is terminal.
type State uint8

const (
	StateFetching State = iota
	StateTranspiling
	StateCompiling
	StateLinking
	StateLinked
	StateEvaluating
	StateEvaluated
	StateErrored
)

var stateNames = [...]string{
	StateFetching:    "fetching",
	StateTranspiling: "transpiling",
	StateCompiling:   "compiling",
	StateLinking:     "linking",
	StateLinked:      "linked",
	StateEvaluating:  "evaluating",
	StateEvaluated:   "evaluated",
	StateErrored:     "errored",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Kind is how a unit is evaluated.
type Kind uint8

const (
	KindModule Kind = iota
	KindScript
	KindJSON
	KindBuiltin
)

func (k Kind) String() string {
	switch k {
	case KindScript:
		return "script"
	case KindJSON:
		return "json"
	case KindBuiltin:
		return "builtin"
	}
	return "module"
}

// SourceKind is the language of the fetched source.
type SourceKind uint8

const (
	SourceJavaScript SourceKind = iota
	SourceTypeScript
)

// Dependency is one import request of a record and the record it resolved
// to. Record is nil when resolution failed.
type Dependency struct {
	Request string
	Record  *Record
}

// Record is one program unit in the registry, identified by its canonical
// specifier.
type Record struct {
	Specifier  string
	Kind       Kind
	SourceKind SourceKind

	state   State
	failure *bridge.Failure
	deps    []Dependency
	byReq   map[string]*Record

	posMap *transpile.PositionMap
	// header is the column width of the function wrapper on line 1.
	header int
	async  bool

	fn      goja.Value
	program *goja.Program
	module  *goja.Object
	result  goja.Value

	eval    *Pending
	onStack bool
}

// State returns the current state.
func (r *Record) State() State { return r.state }

// Failure returns the cached failure of an errored record.
func (r *Record) Failure() *bridge.Failure { return r.failure }

// Dependencies returns import requests in source order.
func (r *Record) Dependencies() []Dependency { return r.deps }

// PositionMap returns the map from generated to original positions, or nil
// when the unit was compiled as written.
func (r *Record) PositionMap() *transpile.PositionMap { return r.posMap }

// Async reports whether the body uses top-level await.
func (r *Record) Async() bool { return r.async }

// Namespace returns the live exports object. It is nil before linking.
func (r *Record) Namespace() goja.Value {
	if r.module == nil {
		return nil
	}
	return r.module.Get("exports")
}

// Result returns the completion value of a script, or the namespace of a
// module.
func (r *Record) Result() goja.Value {
	if r.Kind == KindScript {
		return r.result
	}
	return r.Namespace()
}

// Evaluation returns the evaluation handle, or nil before evaluation
// started.
func (r *Record) Evaluation() *Pending { return r.eval }

// Pending tracks an evaluation that may complete after top-level await
// settles.
type Pending struct {
	done    bool
	err     error
	waiters []func(error)
}

func newPending() *Pending { return &Pending{} }

func settled(err error) *Pending { return &Pending{done: true, err: err} }

// Done reports whether evaluation finished.
func (p *Pending) Done() bool { return p.done }

// Err returns the evaluation failure once done.
func (p *Pending) Err() error { return p.err }

// OnDone calls fn when evaluation finishes, immediately if it already has.
func (p *Pending) OnDone(fn func(error)) {
	if p.done {
		fn(p.err)
		return
	}
	p.waiters = append(p.waiters, fn)
}

func (p *Pending) settle(err error) {
	if p.done {
		return
	}
	p.done = true
	p.err = err
	waiters := p.waiters
	p.waiters = nil
	for _, fn := range waiters {
		fn(err)
	}
}
