// Package timers provides setTimeout, setInterval, their clear functions
// and the microtask/macrotask queue functions as globals.
package timers

import (
	"math"
	"time"

	"github.com/dop251/goja"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/core"
	"github.com/cryguy/runjs/internal/eventloop"
)

// Capability is the timers built-in.
type Capability struct{}

// New returns the timers capability.
func New() Capability { return Capability{} }

func (Capability) Name() string { return "timers" }

func (Capability) Register(h core.Host) (*core.Exports, error) {
	t := &timers{h: h, vm: h.Runtime(), b: h.Bridge(), loop: h.Loop()}
	exp := core.NewExports(h).
		Raw("setTimeout", func(call goja.FunctionCall) goja.Value { return t.schedule(call, false) }).
		Raw("setInterval", func(call goja.FunctionCall) goja.Value { return t.schedule(call, true) }).
		Raw("clearTimeout", t.clear).
		Raw("clearInterval", t.clear).
		Raw("queueMicrotask", t.queueMicrotask).
		Raw("queueMacrotask", t.queueMacrotask)
	return exp, nil
}

// InstallGlobals makes every export a global.
func (Capability) InstallGlobals(h core.Host, exp *core.Exports) error {
	global := h.Runtime().GlobalObject()
	for _, name := range exp.Names() {
		if err := global.Set(name, exp.Get(name)); err != nil {
			return err
		}
	}
	return nil
}

type timers struct {
	h    core.Host
	vm   *goja.Runtime
	b    *bridge.Bridge
	loop *eventloop.Loop
}

// delay converts a millisecond argument. Missing, NaN, negative and out of
// range values mean zero; the loop applies its minimum.
func delay(v goja.Value) time.Duration {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	ms := v.ToFloat()
	if math.IsNaN(ms) || ms <= 0 || ms > math.MaxInt32 {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func (t *timers) schedule(call goja.FunctionCall, repeat bool) goja.Value {
	fn := call.Argument(0)
	if _, ok := goja.AssertFunction(fn); !ok {
		t.b.Throw(bridge.TypeMismatch("callback must be a function"))
	}
	roots := t.b.Roots()
	fnRoot := roots.Acquire(fn)
	var argRoots []*bridge.Root
	for _, a := range call.Arguments[min(2, len(call.Arguments)):] {
		argRoots = append(argRoots, roots.Acquire(a))
	}

	id := t.loop.AddTimer(eventloop.TimerSpec{
		Delay:  delay(call.Argument(1)),
		Repeat: repeat,
		Callback: func() {
			f, err := fnRoot.Value()
			if err != nil {
				return
			}
			args := make([]goja.Value, 0, len(argRoots))
			for _, r := range argRoots {
				v, err := r.Value()
				if err != nil {
					return
				}
				args = append(args, v)
			}
			if _, err := t.b.Call(f, goja.Undefined(), args...); err != nil {
				t.h.Uncaught(err)
			}
		},
		Release: func() {
			fnRoot.Release()
			for _, r := range argRoots {
				r.Release()
			}
		},
	})
	return t.vm.ToValue(id)
}

func (t *timers) clear(call goja.FunctionCall) goja.Value {
	id := call.Argument(0)
	if goja.IsUndefined(id) || goja.IsNull(id) {
		return goja.Undefined()
	}
	t.loop.ClearTimer(int(id.ToInteger()))
	return goja.Undefined()
}

func (t *timers) queueMicrotask(call goja.FunctionCall) goja.Value {
	fn := call.Argument(0)
	if _, ok := goja.AssertFunction(fn); !ok {
		t.b.Throw(bridge.TypeMismatch("queueMicrotask: callback must be a function"))
	}
	p, resolve, _ := t.vm.NewPromise()
	obj := t.vm.ToValue(p).ToObject(t.vm)
	run := func(goja.FunctionCall) goja.Value {
		if _, err := t.b.Call(fn, goja.Undefined()); err != nil {
			t.h.Uncaught(err)
		}
		return goja.Undefined()
	}
	if _, err := t.b.Call(obj.Get("then"), obj, t.vm.ToValue(run)); err != nil {
		t.b.Throw(t.b.Capture(err))
	}
	resolve(goja.Undefined())
	return goja.Undefined()
}

// queueMacrotask runs fn as its own task on the Task Channel, after the
// current task and its microtasks.
func (t *timers) queueMacrotask(call goja.FunctionCall) goja.Value {
	fn := call.Argument(0)
	if _, ok := goja.AssertFunction(fn); !ok {
		t.b.Throw(bridge.TypeMismatch("queueMacrotask: callback must be a function"))
	}
	root := t.b.Roots().Acquire(fn)
	ok := t.loop.Submit(func() {
		defer root.Release()
		f, err := root.Value()
		if err != nil {
			return
		}
		if _, err := t.b.Call(f, goja.Undefined()); err != nil {
			t.h.Uncaught(err)
		}
	})
	if !ok {
		root.Release()
	}
	return goja.Undefined()
}
