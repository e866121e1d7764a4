package bridge

import (
	"math/big"
	"strconv"

	"github.com/dop251/goja"
)

const (
	// maxDepth bounds recursion when converting nested structures.
	maxDepth = 64
	// maxItems bounds the length of a converted array.
	maxItems = 1 << 22
)

// Bridge converts values between the engine heap and native code for one
// realm. It must only be used on the engine goroutine.
type Bridge struct {
	vm     *goja.Runtime
	roots  *Roots
	mapper SourceMapper
}

// New creates a bridge for vm using roots as its root table.
func New(vm *goja.Runtime, roots *Roots) *Bridge {
	return &Bridge{vm: vm, roots: roots}
}

// SetMapper installs the position mapper used for stack traces.
func (b *Bridge) SetMapper(m SourceMapper) {
	b.mapper = m
}

func (b *Bridge) Runtime() *goja.Runtime { return b.vm }

func (b *Bridge) Roots() *Roots { return b.roots }

// ToNative converts an engine value. Symbols, BigInts, cycles and proxies
// whose traps throw fail with a TypeMismatch failure.
func (b *Bridge) ToNative(v goja.Value) (out Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = Value{}, b.recovered(r, "converting value")
		}
	}()
	return b.toNative(v, make(map[*goja.Object]bool), 0)
}

func (b *Bridge) toNative(v goja.Value, seen map[*goja.Object]bool, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, TypeMismatch("value nested deeper than %d levels", maxDepth)
	}
	if v == nil || goja.IsUndefined(v) {
		return Undefined(), nil
	}
	if goja.IsNull(v) {
		return Null(), nil
	}
	if _, ok := v.(*goja.Symbol); ok {
		return Value{}, TypeMismatch("cannot convert a symbol")
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		switch x := v.Export().(type) {
		case bool:
			return Bool(x), nil
		case int64:
			return Number(float64(x)), nil
		case float64:
			return Number(x), nil
		case string:
			return String(x), nil
		case *big.Int:
			return Value{}, TypeMismatch("cannot convert a bigint")
		}
		return String(v.String()), nil
	}

	if _, isFn := goja.AssertFunction(obj); isFn {
		return Function(b.roots.Acquire(obj)), nil
	}
	switch obj.ClassName() {
	case "Object":
		return b.objectToNative(obj, seen, depth)
	case "Error":
		return b.errorToNative(obj), nil
	case "Array":
		if seen[obj] {
			return Value{}, TypeMismatch("cannot convert a cyclic structure")
		}
		seen[obj] = true
		defer delete(seen, obj)
		n := obj.Get("length").ToInteger()
		if n > maxItems {
			return Value{}, TypeMismatch("array of length %d exceeds %d elements", n, maxItems)
		}
		items := make([]Value, 0, n)
		complete := false
		defer func() {
			if !complete {
				Array(items...).Release()
			}
		}()
		for i := int64(0); i < n; i++ {
			iv, err := b.toNative(obj.Get(strconv.FormatInt(i, 10)), seen, depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, iv)
		}
		complete = true
		return Array(items...), nil
	}
	switch exp := obj.Export().(type) {
	case *goja.Promise:
		return Promise(b.roots.Acquire(obj)), nil
	case goja.ArrayBuffer:
		return Bytes(append([]byte(nil), exp.Bytes()...)), nil
	case []byte:
		return Bytes(append([]byte(nil), exp...)), nil
	}
	return b.objectToNative(obj, seen, depth)
}

func (b *Bridge) objectToNative(obj *goja.Object, seen map[*goja.Object]bool, depth int) (Value, error) {
	if seen[obj] {
		return Value{}, TypeMismatch("cannot convert a cyclic structure")
	}
	seen[obj] = true
	defer delete(seen, obj)
	out := Object()
	complete := false
	defer func() {
		if !complete {
			out.Release()
		}
	}()
	for _, k := range obj.Keys() {
		pv, err := b.toNative(obj.Get(k), seen, depth+1)
		if err != nil {
			return Value{}, err
		}
		out.Set(k, pv)
	}
	complete = true
	return out, nil
}

func (b *Bridge) errorToNative(obj *goja.Object) Value {
	info := ErrorInfo{
		Name:    stringProp(obj, "name"),
		Message: stringProp(obj, "message"),
		Code:    stringProp(obj, "code"),
		Kind:    stringProp(obj, "kind"),
		Stack:   stringProp(obj, "stack"),
	}
	v := Error(info)
	v.ref = b.roots.Acquire(obj)
	return v
}

// ToEngine converts a native value into the engine heap.
func (b *Bridge) ToEngine(v Value) (goja.Value, error) {
	switch v.typ {
	case TypeUndefined:
		return goja.Undefined(), nil
	case TypeNull:
		return goja.Null(), nil
	case TypeBool:
		return b.vm.ToValue(v.b), nil
	case TypeNumber:
		return b.vm.ToValue(v.n), nil
	case TypeString:
		return b.vm.ToValue(v.s), nil
	case TypeBytes:
		return b.NewUint8Array(v.bytes)
	case TypeArray:
		items := make([]any, len(v.items))
		for i, it := range v.items {
			ev, err := b.ToEngine(it)
			if err != nil {
				return nil, err
			}
			items[i] = ev
		}
		return b.vm.NewArray(items...), nil
	case TypeObject:
		obj := b.vm.NewObject()
		for _, k := range v.keys {
			ev, err := b.ToEngine(v.props[k])
			if err != nil {
				return nil, err
			}
			if err := obj.Set(k, ev); err != nil {
				return nil, err
			}
		}
		return obj, nil
	case TypeFunction, TypePromise:
		return v.ref.Value()
	case TypeError:
		if v.ref != nil {
			if ev, err := v.ref.Value(); err == nil {
				return ev, nil
			}
		}
		return b.newError(v.err.Name, v.err.Message, v.err.Kind, v.err.Code, nil), nil
	}
	return nil, TypeMismatch("unknown value type %s", v.typ)
}

// NewUint8Array copies data into a fresh Uint8Array.
func (b *Bridge) NewUint8Array(data []byte) (goja.Value, error) {
	ctor, ok := goja.AssertConstructor(b.vm.Get("Uint8Array"))
	if !ok {
		return nil, Newf(KindRuntime, "Uint8Array is not a constructor")
	}
	buf := b.vm.NewArrayBuffer(append([]byte(nil), data...))
	return ctor(nil, b.vm.ToValue(buf))
}

// ToEngineAny converts Go data produced by FromGo-compatible values.
func (b *Bridge) ToEngineAny(x any) (goja.Value, error) {
	v, err := FromGo(x)
	if err != nil {
		return nil, err
	}
	return b.ToEngine(v)
}

func stringProp(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
