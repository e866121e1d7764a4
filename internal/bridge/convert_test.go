package bridge

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	return New(goja.New(), NewRoots())
}

func runJS(t *testing.T, b *Bridge, src string) goja.Value {
	t.Helper()
	v, err := b.Runtime().RunString(src)
	require.NoError(t, err)
	return v
}

func TestToNative_Scalars(t *testing.T) {
	b := newTestBridge(t)

	cases := []struct {
		src  string
		want Type
	}{
		{"undefined", TypeUndefined},
		{"null", TypeNull},
		{"true", TypeBool},
		{"42", TypeNumber},
		{"1.5", TypeNumber},
		{"'hi'", TypeString},
	}
	for _, tc := range cases {
		v, err := b.ToNative(runJS(t, b, tc.src))
		require.NoError(t, err, tc.src)
		assert.Equal(t, tc.want, v.Type(), tc.src)
	}

	v, err := b.ToNative(runJS(t, b, "42"))
	require.NoError(t, err)
	assert.Equal(t, 42.0, v.Number())
}

func TestToNative_ObjectKeepsKeyOrder(t *testing.T) {
	b := newTestBridge(t)

	v, err := b.ToNative(runJS(t, b, `({z: 1, a: [1, "two", null], m: {inner: true}})`))
	require.NoError(t, err)
	require.Equal(t, TypeObject, v.Type())
	assert.Equal(t, []string{"z", "a", "m"}, v.Keys())

	a, ok := v.Get("a")
	require.True(t, ok)
	require.Len(t, a.Items(), 3)
	assert.Equal(t, "two", a.Items()[1].Str())
	assert.Equal(t, TypeNull, a.Items()[2].Type())

	back, err := b.ToEngine(v)
	require.NoError(t, err)
	require.NoError(t, b.Runtime().Set("back", back))
	assert.Equal(t, `{"z":1,"a":[1,"two",null],"m":{"inner":true}}`, runJS(t, b, "JSON.stringify(back)").String())
}

func TestToNative_SymbolIsTypeMismatch(t *testing.T) {
	b := newTestBridge(t)

	_, err := b.ToNative(runJS(t, b, "Symbol('s')"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestToNative_CycleIsTypeMismatch(t *testing.T) {
	b := newTestBridge(t)

	_, err := b.ToNative(runJS(t, b, "var o = {}; o.self = o; o"))
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestToNative_ThrowingProxyIsTypeMismatch(t *testing.T) {
	b := newTestBridge(t)

	v := runJS(t, b, `new Proxy({}, { ownKeys() { throw new Error("no keys") } })`)
	_, err := b.ToNative(v)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.Contains(t, err.Error(), "no keys")
}

func TestToNative_FunctionIsRooted(t *testing.T) {
	b := newTestBridge(t)

	fn := runJS(t, b, "(function add(a, b) { return a + b })")
	v, err := b.ToNative(fn)
	require.NoError(t, err)
	require.Equal(t, TypeFunction, v.Type())
	assert.Equal(t, 1, b.Roots().Len())

	same, err := b.ToEngine(v)
	require.NoError(t, err)
	assert.True(t, same.SameAs(fn))

	res, err := b.Call(same, nil, b.Runtime().ToValue(2), b.Runtime().ToValue(3))
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.ToInteger())

	v.Ref().Release()
	_, err = b.ToEngine(v)
	assert.ErrorIs(t, err, ErrRootReleased)
}

func TestToNative_FailureReleasesPartialRoots(t *testing.T) {
	b := newTestBridge(t)

	for _, src := range []string{
		`[function () {}, function () {}, Symbol("s")]`,
		`({ a: function () {}, b: [Promise.resolve(), new Error("e")], c: Symbol("s") })`,
		`[function () {}, new Proxy({}, { ownKeys() { throw new Error("no keys") } })]`,
	} {
		_, err := b.ToNative(runJS(t, b, src))
		require.Error(t, err, src)
		assert.ErrorIs(t, err, ErrTypeMismatch, src)
		assert.Zero(t, b.Roots().Len(), src)
	}
}

func TestToNative_ArrayLengthLimit(t *testing.T) {
	b := newTestBridge(t)

	_, err := b.ToNative(runJS(t, b, "new Array(1e9)"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.Contains(t, err.Error(), "exceeds")

	v, err := b.ToNative(runJS(t, b, "new Array(3)"))
	require.NoError(t, err)
	assert.Len(t, v.Items(), 3)
}

func TestToNative_Bytes(t *testing.T) {
	b := newTestBridge(t)

	v, err := b.ToNative(runJS(t, b, "new Uint8Array([1, 2, 3])"))
	require.NoError(t, err)
	require.Equal(t, TypeBytes, v.Type())
	assert.Equal(t, []byte{1, 2, 3}, v.Bytes())

	v, err = b.ToNative(runJS(t, b, "new Uint8Array([9, 8]).buffer"))
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8}, v.Bytes())

	ev, err := b.ToEngine(Bytes([]byte{4, 5}))
	require.NoError(t, err)
	require.NoError(t, b.Runtime().Set("u8", ev))
	assert.Equal(t, "true,2,9", runJS(t, b, "[u8 instanceof Uint8Array, u8.length, u8[0] + u8[1]].join()").String())
}

func TestToNative_PromiseAndError(t *testing.T) {
	b := newTestBridge(t)

	v, err := b.ToNative(runJS(t, b, "Promise.resolve(1)"))
	require.NoError(t, err)
	assert.Equal(t, TypePromise, v.Type())

	v, err = b.ToNative(runJS(t, b, "var e = new TypeError('bad'); e.code = 'E1'; e"))
	require.NoError(t, err)
	require.Equal(t, TypeError, v.Type())
	assert.Equal(t, "TypeError", v.ErrorInfo().Name)
	assert.Equal(t, "bad", v.ErrorInfo().Message)
	assert.Equal(t, "E1", v.ErrorInfo().Code)
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(map[string]any{"b": []any{1, "x"}, "a": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, v.Keys())
	assert.Equal(t, map[string]any{"a": true, "b": []any{1.0, "x"}}, v.Interface())

	_, err = FromGo(struct{}{})
	assert.ErrorIs(t, err, ErrTypeMismatch)
}
