package bridge

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Type is the tag of a native Value.
type Type uint8

const (
	TypeUndefined Type = iota
	TypeNull
	TypeBool
	TypeNumber
	TypeString
	TypeBytes
	TypeArray
	TypeObject
	TypeFunction
	TypePromise
	TypeError
)

var typeNames = [...]string{"undefined", "null", "boolean", "number", "string", "bytes", "array", "object", "function", "promise", "error"}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// Value is the native representation of an engine value. Functions and
// promises are only meaningful while their root is held.
type Value struct {
	typ   Type
	b     bool
	n     float64
	s     string
	bytes []byte
	items []Value
	keys  []string
	props map[string]Value
	ref   *Root
	err   *ErrorInfo
}

// ErrorInfo describes an Error value.
type ErrorInfo struct {
	Name    string
	Message string
	Code    string
	Kind    string
	Stack   string
}

func Undefined() Value           { return Value{typ: TypeUndefined} }
func Null() Value                { return Value{typ: TypeNull} }
func Bool(b bool) Value          { return Value{typ: TypeBool, b: b} }
func Number(n float64) Value     { return Value{typ: TypeNumber, n: n} }
func String(s string) Value      { return Value{typ: TypeString, s: s} }
func Bytes(b []byte) Value       { return Value{typ: TypeBytes, bytes: b} }
func Array(items ...Value) Value { return Value{typ: TypeArray, items: items} }

// Object returns an empty object; add properties with Set.
func Object() Value {
	return Value{typ: TypeObject, props: make(map[string]Value)}
}

// Error returns an error value.
func Error(info ErrorInfo) Value {
	return Value{typ: TypeError, err: &info}
}

// Function wraps a rooted function.
func Function(r *Root) Value { return Value{typ: TypeFunction, ref: r} }

// Promise wraps a rooted promise.
func Promise(r *Root) Value { return Value{typ: TypePromise, ref: r} }

func (v Value) Type() Type { return v.typ }

func (v Value) IsNullish() bool { return v.typ == TypeUndefined || v.typ == TypeNull }

func (v Value) Bool() bool { return v.b }

func (v Value) Number() float64 { return v.n }

func (v Value) Str() string { return v.s }

func (v Value) Bytes() []byte { return v.bytes }

func (v Value) Items() []Value { return v.items }

// Keys returns object keys in insertion order.
func (v Value) Keys() []string { return v.keys }

// Get returns an object property.
func (v Value) Get(key string) (Value, bool) {
	p, ok := v.props[key]
	return p, ok
}

// Set adds or replaces an object property, keeping first-insertion order.
// It is a no-op on non-object values.
func (v *Value) Set(key string, p Value) {
	if v.typ != TypeObject {
		return
	}
	if _, ok := v.props[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.props[key] = p
}

// Ref returns the root of a function, promise or thrown error value.
func (v Value) Ref() *Root { return v.ref }

// Release releases every root held by v and its nested values.
func (v Value) Release() {
	v.ref.Release()
	for _, it := range v.items {
		it.Release()
	}
	for _, p := range v.props {
		p.Release()
	}
}

// ErrorInfo returns details of an error value.
func (v Value) ErrorInfo() *ErrorInfo { return v.err }

// Interface converts the value to plain Go data: nil, bool, float64, string,
// []byte, []any, map[string]any. Functions and promises become their Type.
func (v Value) Interface() any {
	switch v.typ {
	case TypeBool:
		return v.b
	case TypeNumber:
		return v.n
	case TypeString:
		return v.s
	case TypeBytes:
		return v.bytes
	case TypeArray:
		out := make([]any, len(v.items))
		for i, it := range v.items {
			out[i] = it.Interface()
		}
		return out
	case TypeObject:
		out := make(map[string]any, len(v.keys))
		for _, k := range v.keys {
			out[k] = v.props[k].Interface()
		}
		return out
	case TypeError:
		return fmt.Errorf("%s: %s", v.err.Name, v.err.Message)
	case TypeFunction, TypePromise:
		return v.typ
	}
	return nil
}

// FromGo converts plain Go data produced off the engine goroutine into a
// Value. Unsupported types fail with a TypeMismatch failure.
func FromGo(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Undefined(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		if t > 1<<53 {
			return Value{}, TypeMismatch("integer %d exceeds the safe number range", t)
		}
		return Number(float64(t)), nil
	case float32:
		return Number(float64(t)), nil
	case float64:
		return Number(t), nil
	case string:
		return String(t), nil
	case []byte:
		return Bytes(t), nil
	case time.Time:
		return Number(float64(t.UnixMilli())), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return Array(items...), nil
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			iv, err := FromGo(e)
			if err != nil {
				return Value{}, err
			}
			items[i] = iv
		}
		return Array(items...), nil
	case []Value:
		return Array(t...), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := Object()
		for _, k := range keys {
			pv, err := FromGo(t[k])
			if err != nil {
				return Value{}, err
			}
			obj.Set(k, pv)
		}
		return obj, nil
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := Object()
		for _, k := range keys {
			obj.Set(k, String(t[k]))
		}
		return obj, nil
	case *Failure:
		return Error(ErrorInfo{Name: t.Name, Message: t.Message, Code: t.Code, Kind: t.Kind.String()}), nil
	case error:
		return Error(ErrorInfo{Name: "Error", Message: t.Error()}), nil
	}
	return Value{}, TypeMismatch("unsupported Go type %T", x)
}

// IsInteger reports whether a number value holds an integral number.
func (v Value) IsInteger() bool {
	return v.typ == TypeNumber && !math.IsInf(v.n, 0) && v.n == math.Trunc(v.n)
}
