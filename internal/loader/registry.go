// Package loader resolves, fetches, transpiles, compiles, links and
// evaluates program units. A Registry holds one Record per canonical
// specifier; records move through their states exactly once and failed
// records keep their failure for every later importer.
package loader

import (
	"path/filepath"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
	"go.uber.org/zap"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/transpile"
)

// BuiltinFunc returns the namespace of the built-in module name.
type BuiltinFunc func(name string) (goja.Value, error)

const (
	moduleHeader      = "(function (exports, require, module, __filename, __dirname, " + transpile.MetaIdentifier + ") {"
	asyncModuleHeader = "(async function (exports, require, module, __filename, __dirname, " + transpile.MetaIdentifier + ") {"
)

// newModuleSource creates the module object handed to lowered code. The
// exports object stays the namespace even after module.exports is
// reassigned to a plain object, so importers in a cycle keep a live view.
const newModuleSource = `(function (exports, id) {
	var current = exports;
	var module = { id: id };
	Object.defineProperty(module, "exports", {
		enumerable: true,
		get: function () { return current; },
		set: function (v) {
			if (current === exports && v !== null && typeof v === "object" && !Array.isArray(v)) {
				Object.getOwnPropertyNames(v).forEach(function (k) {
					Object.defineProperty(exports, k, Object.getOwnPropertyDescriptor(v, k));
				});
				return;
			}
			current = v;
		}
	});
	return module;
})`

// driverSource calls back into native code from a script frame. Nested
// calls made while it runs do not drain the job queue; it drains once the
// driver returns.
const driverSource = `(function (run) { return run(); })`

// Registry owns every module record of one realm. It is not safe for
// concurrent use; all calls happen on the engine goroutine.
type Registry struct {
	vm        *goja.Runtime
	bridge    *bridge.Bridge
	resolver  *Resolver
	fetcher   Fetcher
	transform *transpile.Transformer
	builtins  BuiltinFunc
	log       *zap.Logger

	records   map[string]*Record
	order     []*Record
	newModule goja.Callable
	driver    goja.Callable
}

// NewRegistry creates a registry and installs it as the bridge's source
// mapper.
func NewRegistry(b *bridge.Bridge, resolver *Resolver, fetcher Fetcher, tr *transpile.Transformer, builtins BuiltinFunc, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		vm:        b.Runtime(),
		bridge:    b,
		resolver:  resolver,
		fetcher:   fetcher,
		transform: tr,
		builtins:  builtins,
		log:       log,
		records:   make(map[string]*Record),
	}
	b.SetMapper(r)
	return r
}

// Resolver returns the registry's resolver.
func (r *Registry) Resolver() *Resolver { return r.resolver }

// Lookup returns the record for a canonical specifier.
func (r *Registry) Lookup(specifier string) (*Record, bool) {
	rec, ok := r.records[specifier]
	return rec, ok
}

// Len returns the number of records.
func (r *Registry) Len() int { return len(r.records) }

// Records returns records in creation order.
func (r *Registry) Records() []*Record { return r.order }

// Import resolves request from referrer, loads and links the module graph
// and starts evaluation. A returned error is the failure of the record;
// when evaluation waits on top-level await the record's Evaluation is
// still pending.
func (r *Registry) Import(request, referrer string) (*Record, error) {
	return r.importAs(request, referrer, false)
}

// ImportScript is Import for a classic script entry.
func (r *Registry) ImportScript(request, referrer string) (*Record, error) {
	return r.importAs(request, referrer, true)
}

func (r *Registry) importAs(request, referrer string, script bool) (*Record, error) {
	spec, err := r.resolver.Resolve(request, referrer)
	if err != nil {
		return nil, err
	}
	kind := KindOf(spec)
	if script && kind == KindModule {
		kind = KindScript
	}
	return r.start(r.load(spec, kind))
}

// ImportSource evaluates an in-memory unit under the specifier eval:name.
// Relative imports resolve against the base directory.
func (r *Registry) ImportSource(name, source string, kind Kind) (*Record, error) {
	spec := EvalPrefix + name
	rec, ok := r.records[spec]
	if !ok {
		rec = r.newRecord(spec, kind)
		r.instantiate(rec, source)
	}
	return r.start(rec)
}

func (r *Registry) start(rec *Record) (*Record, error) {
	if rec.state == StateErrored {
		return rec, rec.failure
	}
	p, err := r.drive(rec)
	if err != nil {
		return rec, err
	}
	if p.Done() && p.Err() != nil {
		return rec, p.Err()
	}
	return rec, nil
}

// drive evaluates rec's graph through the driver.
func (r *Registry) drive(rec *Record) (*Pending, error) {
	var p *Pending
	if err := r.inScript(func() { p = r.evaluate(rec) }); err != nil {
		return nil, err
	}
	return p, nil
}

// inScript runs fn inside a single engine call, so microtasks queued by a
// module body run after every sibling body has run, or when a body
// suspends on top-level await.
func (r *Registry) inScript(fn func()) error {
	if r.driver == nil {
		v, err := r.vm.RunString(driverSource)
		if err != nil {
			return r.bridge.Capture(err)
		}
		d, ok := goja.AssertFunction(v)
		if !ok {
			return bridge.Newf(bridge.KindRuntime, "module driver is not a function")
		}
		r.driver = d
	}
	run := func(goja.FunctionCall) goja.Value {
		fn()
		return goja.Undefined()
	}
	if _, err := r.driver(goja.Undefined(), r.vm.ToValue(run)); err != nil {
		return r.bridge.Capture(err)
	}
	return nil
}

func (r *Registry) newRecord(spec string, kind Kind) *Record {
	rec := &Record{
		Specifier:  spec,
		Kind:       kind,
		SourceKind: SourceKindOf(spec),
		byReq:      make(map[string]*Record),
	}
	r.records[spec] = rec
	r.order = append(r.order, rec)
	return rec
}

func (r *Registry) setState(rec *Record, s State) {
	rec.state = s
	r.log.Debug("module state", zap.String("specifier", rec.Specifier), zap.Stringer("state", s))
}

func (r *Registry) fail(rec *Record, f *bridge.Failure) {
	if rec.state == StateErrored {
		return
	}
	rec.state = StateErrored
	rec.failure = f.Keep()
	r.log.Debug("module errored", zap.String("specifier", rec.Specifier), zap.Error(f))
	if rec.eval != nil {
		rec.eval.settle(f)
	}
}

func (r *Registry) load(spec string, kind Kind) *Record {
	if rec, ok := r.records[spec]; ok {
		return rec
	}
	rec := r.newRecord(spec, kind)
	if kind == KindBuiltin {
		r.loadBuiltin(rec)
		return rec
	}
	src, err := r.fetcher.Fetch(spec)
	if err != nil {
		f := bridge.Wrap(bridge.KindFetch, err, "cannot read %s", spec)
		f.Code = bridge.CodeOf(err)
		r.fail(rec, f.At(spec, nil))
		return rec
	}
	r.instantiate(rec, string(src))
	return rec
}

func (r *Registry) loadBuiltin(rec *Record) {
	name := rec.Specifier[len(BuiltinPrefix):]
	ns, err := r.builtins(name)
	if err != nil {
		f := r.bridge.Capture(err)
		r.fail(rec, bridge.Wrap(bridge.KindFetch, f, "loading built-in %s: %s", name, f.Message).At(rec.Specifier, nil))
		return
	}
	rec.module = r.vm.NewObject()
	_ = rec.module.Set("exports", ns)
	rec.eval = settled(nil)
	r.setState(rec, StateEvaluated)
}

func (r *Registry) instantiate(rec *Record, src string) {
	in := transpile.Input{Name: rec.Specifier, Source: src, Format: transpile.FormatModule}
	switch {
	case rec.Kind == KindJSON:
		in.Loader = transpile.LoaderJSON
	case rec.SourceKind == SourceTypeScript:
		in.Loader = transpile.LoaderTS
		r.setState(rec, StateTranspiling)
	}
	if rec.Kind == KindScript {
		in.Format = transpile.FormatScript
	}
	out, err := r.transform.Transform(in)
	if err != nil {
		r.fail(rec, r.bridge.Capture(err))
		return
	}
	rec.posMap = out.Map
	rec.async = out.Async

	r.setState(rec, StateCompiling)
	if err := r.compile(rec, out.Code); err != nil {
		r.fail(rec, err)
		return
	}

	r.setState(rec, StateLinking)
	var first *bridge.Failure
	for _, req := range out.Imports {
		spec, err := r.resolver.Resolve(req, rec.Specifier)
		if err != nil {
			rec.deps = append(rec.deps, Dependency{Request: req})
			if first == nil {
				first = r.bridge.Capture(err)
			}
			continue
		}
		dep := r.load(spec, KindOf(spec))
		rec.deps = append(rec.deps, Dependency{Request: req, Record: dep})
		rec.byReq[req] = dep
		if dep.state == StateErrored && first == nil {
			first = dep.failure
		}
	}
	if first != nil {
		r.fail(rec, bridge.Wrap(bridge.KindLink, first, "%s: dependency failed: %s", rec.Specifier, first.Message).At(rec.Specifier, nil))
		return
	}
	r.setState(rec, StateLinked)
}

func (r *Registry) compile(rec *Record, code string) *bridge.Failure {
	if rec.Kind == KindScript {
		prg, err := compileProgram(rec.Specifier, code)
		if err != nil {
			return r.bridge.SyntaxFailure(err)
		}
		rec.program = prg
		return nil
	}

	header := moduleHeader
	if rec.async {
		header = asyncModuleHeader
	}
	rec.header = len(header)
	prg, err := compileProgram(rec.Specifier, header+code+"\n})")
	if err != nil {
		return r.bridge.SyntaxFailure(err)
	}
	fn, err := r.vm.RunProgram(prg)
	if err != nil {
		return r.bridge.Capture(err)
	}
	rec.fn = fn

	module, ferr := r.moduleObject(rec.Specifier)
	if ferr != nil {
		return ferr
	}
	rec.module = module
	return nil
}

func compileProgram(name, code string) (*goja.Program, error) {
	prg, err := goja.Parse(name, code, parser.WithDisableSourceMaps)
	if err != nil {
		return nil, err
	}
	return goja.CompileAST(prg, false)
}

func (r *Registry) moduleObject(spec string) (*goja.Object, *bridge.Failure) {
	if r.newModule == nil {
		v, err := r.vm.RunString(newModuleSource)
		if err != nil {
			return nil, r.bridge.Capture(err)
		}
		fn, ok := goja.AssertFunction(v)
		if !ok {
			return nil, bridge.Newf(bridge.KindRuntime, "module factory is not a function")
		}
		r.newModule = fn
	}
	v, err := r.newModule(goja.Undefined(), r.vm.NewObject(), r.vm.ToValue(spec))
	if err != nil {
		return nil, r.bridge.Capture(err)
	}
	return v.ToObject(r.vm), nil
}

// evaluate runs rec after its dependencies, in post-order, at most once.
// A dependency that is still on the evaluation stack is part of a cycle and
// is not waited for.
func (r *Registry) evaluate(rec *Record) *Pending {
	switch rec.state {
	case StateErrored:
		if rec.eval == nil {
			rec.eval = settled(rec.failure)
		}
		return rec.eval
	case StateEvaluating, StateEvaluated:
		return rec.eval
	case StateLinked:
	default:
		return settled(bridge.Newf(bridge.KindLink, "%s is not linked (%s)", rec.Specifier, rec.state).At(rec.Specifier, nil))
	}

	r.setState(rec, StateEvaluating)
	rec.eval = newPending()
	rec.onStack = true
	defer func() { rec.onStack = false }()

	var waits []*Pending
	for _, d := range rec.deps {
		p := r.evaluate(d.Record)
		if p.Done() {
			if err := p.Err(); err != nil {
				r.fail(rec, r.bridge.Capture(err))
				return rec.eval
			}
			continue
		}
		if d.Record.onStack {
			continue
		}
		waits = append(waits, p)
	}
	if len(waits) == 0 {
		r.run(rec)
		return rec.eval
	}

	remaining := len(waits)
	for _, p := range waits {
		p.OnDone(func(err error) {
			if rec.state != StateEvaluating {
				return
			}
			if err != nil {
				r.fail(rec, r.bridge.Capture(err))
				return
			}
			remaining--
			if remaining == 0 {
				if err := r.inScript(func() { r.run(rec) }); err != nil {
					r.fail(rec, r.evalFailure(rec, err))
				}
			}
		})
	}
	return rec.eval
}

func (r *Registry) run(rec *Record) {
	if rec.Kind == KindScript {
		v, err := r.vm.RunProgram(rec.program)
		if err != nil {
			r.fail(rec, r.evalFailure(rec, err))
			return
		}
		rec.result = v
		r.finish(rec)
		return
	}

	spec := rec.Specifier
	dir := r.resolver.BaseDir()
	if filepath.IsAbs(spec) {
		dir = filepath.Dir(spec)
	}
	require := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		ns, err := r.require(rec, call.Argument(0).String())
		if err != nil {
			r.bridge.ThrowError(err)
		}
		return ns
	})
	res, err := r.bridge.Call(rec.fn, goja.Undefined(),
		rec.module.Get("exports"), require, rec.module,
		r.vm.ToValue(spec), r.vm.ToValue(dir), r.meta(rec, dir))
	if err != nil {
		r.fail(rec, r.evalFailure(rec, err))
		return
	}
	if !rec.async {
		r.finish(rec)
		return
	}
	r.whenSettled(res, func(err error) {
		if err != nil {
			r.fail(rec, r.evalFailure(rec, err))
			return
		}
		r.finish(rec)
	})
}

func (r *Registry) finish(rec *Record) {
	if rec.state != StateEvaluating {
		return
	}
	r.setState(rec, StateEvaluated)
	rec.eval.settle(nil)
}

func (r *Registry) evalFailure(rec *Record, err error) *bridge.Failure {
	f := r.bridge.Capture(err)
	if f.Kind == bridge.KindRuntime {
		f.Kind = bridge.KindEvaluation
	}
	if f.Specifier == "" {
		f.Specifier = rec.Specifier
	}
	return f
}

// whenSettled calls fn once the promise v settles. Attaching the handlers
// also marks a rejection as handled.
func (r *Registry) whenSettled(v goja.Value, fn func(error)) {
	obj, ok := v.(*goja.Object)
	if !ok {
		fn(nil)
		return
	}
	then := obj.Get("then")
	if _, ok := goja.AssertFunction(then); !ok {
		fn(nil)
		return
	}
	onFulfilled := func(goja.FunctionCall) goja.Value {
		fn(nil)
		return goja.Undefined()
	}
	onRejected := func(call goja.FunctionCall) goja.Value {
		fn(r.bridge.Rejection(call.Argument(0)))
		return goja.Undefined()
	}
	if _, err := r.bridge.Call(then, obj, r.vm.ToValue(onFulfilled), r.vm.ToValue(onRejected)); err != nil {
		fn(err)
	}
}

func (r *Registry) meta(rec *Record, dir string) goja.Value {
	meta := r.vm.NewObject()
	url := rec.Specifier
	if filepath.IsAbs(url) {
		url = FileURL(url)
	}
	_ = meta.Set("url", url)
	_ = meta.Set("filename", rec.Specifier)
	_ = meta.Set("dirname", dir)
	_ = meta.Set("main", len(r.order) > 0 && r.order[0] == rec)
	_ = meta.Set("resolve", func(call goja.FunctionCall) goja.Value {
		spec, err := r.resolver.Resolve(call.Argument(0).String(), rec.Specifier)
		if err != nil {
			r.bridge.ThrowError(err)
		}
		if filepath.IsAbs(spec) {
			spec = FileURL(spec)
		}
		return r.vm.ToValue(spec)
	})
	return meta
}

// require serves the lowered import statements of rec. Requests that were
// not linked statically (dynamic import) are loaded and evaluated on
// demand.
func (r *Registry) require(rec *Record, request string) (goja.Value, error) {
	dep, ok := rec.byReq[request]
	if !ok {
		spec, err := r.resolver.Resolve(request, rec.Specifier)
		if err != nil {
			return nil, err
		}
		dep = r.load(spec, KindOf(spec))
		rec.byReq[request] = dep
	}
	switch dep.state {
	case StateErrored:
		return nil, dep.failure
	case StateLinked:
		if p := r.evaluate(dep); p.Done() && p.Err() != nil {
			return nil, p.Err()
		}
	}
	if dep.state == StateEvaluating && !dep.onStack && !dep.eval.Done() {
		return nil, bridge.Newf(bridge.KindLink, "%s is still evaluating top-level await", dep.Specifier).At(rec.Specifier, nil)
	}
	return dep.Namespace(), nil
}

// MapPosition maps a generated position of a compiled unit back to its
// original source.
func (r *Registry) MapPosition(file string, line, column int) (bridge.Location, bool) {
	rec, ok := r.records[file]
	if !ok {
		return bridge.Location{}, false
	}
	if line == 1 && rec.header > 0 {
		column -= rec.header
		if column < 1 {
			column = 1
		}
	}
	if rec.posMap == nil {
		return bridge.Location{File: file, Line: line, Column: column}, rec.header > 0
	}
	ol, oc, ok := rec.posMap.Original(line, column)
	if !ok {
		return bridge.Location{File: file, Line: line, Column: column}, true
	}
	return bridge.Location{File: file, Line: ol, Column: oc}, true
}
