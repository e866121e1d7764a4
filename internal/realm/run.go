package realm

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/loader"
)

// RunModule loads path as the entry module and runs the event loop until
// nothing is pending. Relative paths resolve against the base directory.
func (r *Realm) RunModule(ctx context.Context, path string) error {
	spec := r.entrySpecifier(path)
	return r.runEntry(ctx, func() (*loader.Record, error) {
		return r.reg.Import(spec, "")
	})
}

// RunScript loads path as a classic script and runs the event loop.
func (r *Realm) RunScript(ctx context.Context, path string) error {
	spec := r.entrySpecifier(path)
	return r.runEntry(ctx, func() (*loader.Record, error) {
		return r.reg.ImportScript(spec, "")
	})
}

// RunSource evaluates an in-memory unit and runs the event loop.
func (r *Realm) RunSource(ctx context.Context, name, source string, kind loader.Kind) error {
	name = r.evalName(name)
	return r.runEntry(ctx, func() (*loader.Record, error) {
		return r.reg.ImportSource(name, source, kind)
	})
}

func (r *Realm) entrySpecifier(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.reg.Resolver().BaseDir(), path)
}

func (r *Realm) evalName(name string) string {
	if name == "" {
		name = "anonymous"
	}
	for {
		if _, taken := r.reg.Lookup(loader.EvalPrefix + name); !taken {
			return name
		}
		r.evalSeq++
		name = fmt.Sprintf("%s#%d", name, r.evalSeq)
	}
}

func (r *Realm) runEntry(ctx context.Context, load func() (*loader.Record, error)) error {
	if r.closed {
		return bridge.Newf(bridge.KindRealmClosed, "realm is closed")
	}
	r.loop.RunTask(func() {
		rec, err := load()
		if err != nil {
			r.loop.Stop(err)
			return
		}
		r.entry = rec.Evaluation()
		if r.entry != nil {
			r.entry.OnDone(func(err error) {
				if err != nil {
					r.loop.Stop(err)
				}
			})
		}
	})
	err := r.loop.Run(ctx)
	r.entry = nil
	if err != nil {
		r.log.Debug("run failed", zap.Error(err))
	}
	return err
}

// Eval evaluates source as a classic script, runs the loop until it
// drains and returns the completion value. A promise completion is
// awaited.
func (r *Realm) Eval(ctx context.Context, name, source string) (bridge.Value, error) {
	var (
		result  goja.Value
		settled bool
		failure error
	)
	name = r.evalName(name)
	err := r.runEntry(ctx, func() (*loader.Record, error) {
		rec, err := r.reg.ImportSource(name, source, loader.KindScript)
		if err != nil {
			return rec, err
		}
		v := rec.Result()
		obj, ok := v.(*goja.Object)
		if !ok {
			result, settled = v, true
			return rec, nil
		}
		if _, isPromise := obj.Export().(*goja.Promise); !isPromise {
			result, settled = v, true
			return rec, nil
		}
		onFulfilled := func(call goja.FunctionCall) goja.Value {
			result, settled = call.Argument(0), true
			return goja.Undefined()
		}
		onRejected := func(call goja.FunctionCall) goja.Value {
			failure, settled = r.bridge.Rejection(call.Argument(0)), true
			return goja.Undefined()
		}
		if _, err := r.bridge.Call(obj.Get("then"), obj, r.vm.ToValue(onFulfilled), r.vm.ToValue(onRejected)); err != nil {
			return rec, err
		}
		return rec, nil
	})
	if err != nil {
		return bridge.Undefined(), err
	}
	if failure != nil {
		return bridge.Undefined(), failure
	}
	if !settled {
		return bridge.Undefined(), bridge.Newf(bridge.KindEvaluation, "promise returned by %s never settled", name)
	}
	return r.bridge.ToNative(result)
}
