// Package assert provides runtime assertions that throw AssertionError.
package assert

import (
	"math"

	"github.com/dop251/goja"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/core"
	"github.com/cryguy/runjs/internal/modules/console"
)

// Capability is the assert built-in.
type Capability struct{}

// New returns the assert capability.
func New() Capability { return Capability{} }

func (Capability) Name() string { return "assert" }

func (Capability) Register(h core.Host) (*core.Exports, error) {
	a := &asserter{h: h, vm: h.Runtime(), b: h.Bridge()}
	exp := core.NewExports(h).
		Raw("ok", a.ok).
		Raw("equal", a.equal).
		Raw("equals", a.equal).
		Raw("notEqual", a.notEqual).
		Raw("deepEqual", a.deepEqual).
		Raw("throws", a.throws).
		Raw("rejects", a.rejects).
		Raw("fail", a.fail)
	return exp, nil
}

type asserter struct {
	h  core.Host
	vm *goja.Runtime
	b  *bridge.Bridge
}

// failure builds an AssertionError. A message argument replaces the
// generated description.
func (a *asserter) failure(message goja.Value, format string, args ...any) *bridge.Failure {
	f := bridge.Newf(bridge.KindRuntime, format, args...)
	if message != nil && !goja.IsUndefined(message) && !goja.IsNull(message) {
		f.Message = message.String()
	}
	f.Message = "Assertion failed: " + f.Message
	f.Name = "AssertionError"
	f.Code = "ERR_ASSERTION"
	return f
}

func (a *asserter) show(v goja.Value) string {
	nv, err := a.b.ToNative(v)
	if err != nil {
		return v.String()
	}
	defer nv.Release()
	if nv.Type() == bridge.TypeString {
		return "'" + nv.Str() + "'"
	}
	return console.Format(nv)
}

func (a *asserter) ok(call goja.FunctionCall) goja.Value {
	if !call.Argument(0).ToBoolean() {
		a.b.Throw(a.failure(call.Argument(1), "%s is not truthy", a.show(call.Argument(0))))
	}
	return goja.Undefined()
}

func (a *asserter) equal(call goja.FunctionCall) goja.Value {
	actual, expected := call.Argument(0), call.Argument(1)
	if !actual.SameAs(expected) {
		a.b.Throw(a.failure(call.Argument(2), "%s !== %s", a.show(actual), a.show(expected)))
	}
	return goja.Undefined()
}

func (a *asserter) notEqual(call goja.FunctionCall) goja.Value {
	actual, expected := call.Argument(0), call.Argument(1)
	if actual.SameAs(expected) {
		a.b.Throw(a.failure(call.Argument(2), "%s === %s", a.show(actual), a.show(expected)))
	}
	return goja.Undefined()
}

func (a *asserter) deepEqual(call goja.FunctionCall) goja.Value {
	actual, expected := call.Argument(0), call.Argument(1)
	x, err := a.b.ToNative(actual)
	if err != nil {
		a.b.Throw(a.b.Capture(err))
	}
	defer x.Release()
	y, err := a.b.ToNative(expected)
	if err != nil {
		a.b.Throw(a.b.Capture(err))
	}
	defer y.Release()
	if !DeepEqual(x, y) {
		a.b.Throw(a.failure(call.Argument(2), "%s is not deeply equal to %s", console.Format(x), console.Format(y)))
	}
	return goja.Undefined()
}

func (a *asserter) throws(call goja.FunctionCall) goja.Value {
	fn := call.Argument(0)
	if _, ok := goja.AssertFunction(fn); !ok {
		a.b.Throw(bridge.TypeMismatch("throws: argument must be a function"))
	}
	if _, err := a.b.Call(fn, goja.Undefined()); err == nil {
		a.b.Throw(a.failure(call.Argument(1), "missing expected exception"))
	}
	return goja.Undefined()
}

// rejects resolves when the promise argument (or the promise returned by a
// function argument) rejects.
func (a *asserter) rejects(call goja.FunctionCall) goja.Value {
	target := call.Argument(0)
	if _, ok := goja.AssertFunction(target); ok {
		v, err := a.b.Call(target, goja.Undefined())
		if err != nil {
			return a.h.Rejected(err)
		}
		target = v
	}
	obj, ok := target.(*goja.Object)
	if !ok {
		return a.h.Rejected(bridge.TypeMismatch("rejects: argument must be a promise or a function"))
	}
	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		return a.h.Rejected(bridge.TypeMismatch("rejects: argument must be a promise or a function"))
	}
	p, resolve, reject := a.vm.NewPromise()
	missing := a.failure(call.Argument(1), "missing expected rejection")
	onFulfilled := func(goja.FunctionCall) goja.Value {
		reject(a.b.ToEngineError(missing))
		return goja.Undefined()
	}
	onRejected := func(goja.FunctionCall) goja.Value {
		resolve(goja.Undefined())
		return goja.Undefined()
	}
	if _, err := then(obj, a.vm.ToValue(onFulfilled), a.vm.ToValue(onRejected)); err != nil {
		return a.h.Rejected(err)
	}
	return a.vm.ToValue(p)
}

func (a *asserter) fail(call goja.FunctionCall) goja.Value {
	a.b.Throw(a.failure(call.Argument(0), "failed"))
	return goja.Undefined()
}

// DeepEqual compares converted values structurally. Numbers compare with
// SameValue semantics; object key order is ignored.
func DeepEqual(x, y bridge.Value) bool {
	if x.Type() != y.Type() {
		return false
	}
	switch x.Type() {
	case bridge.TypeUndefined, bridge.TypeNull:
		return true
	case bridge.TypeBool:
		return x.Bool() == y.Bool()
	case bridge.TypeNumber:
		a, b := x.Number(), y.Number()
		if math.IsNaN(a) && math.IsNaN(b) {
			return true
		}
		return a == b && math.Signbit(a) == math.Signbit(b)
	case bridge.TypeString:
		return x.Str() == y.Str()
	case bridge.TypeBytes:
		return string(x.Bytes()) == string(y.Bytes())
	case bridge.TypeArray:
		xi, yi := x.Items(), y.Items()
		if len(xi) != len(yi) {
			return false
		}
		for i := range xi {
			if !DeepEqual(xi[i], yi[i]) {
				return false
			}
		}
		return true
	case bridge.TypeObject:
		if len(x.Keys()) != len(y.Keys()) {
			return false
		}
		for _, k := range x.Keys() {
			yv, ok := y.Get(k)
			if !ok {
				return false
			}
			xv, _ := x.Get(k)
			if !DeepEqual(xv, yv) {
				return false
			}
		}
		return true
	case bridge.TypeError:
		xe, ye := x.ErrorInfo(), y.ErrorInfo()
		return xe.Name == ye.Name && xe.Message == ye.Message
	case bridge.TypeFunction, bridge.TypePromise:
		xv, _ := x.Ref().Value()
		yv, _ := y.Ref().Value()
		return xv != nil && yv != nil && xv.SameAs(yv)
	}
	return false
}
