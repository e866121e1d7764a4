package loader

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/runjs/internal/bridge"
)

func TestResolver_Relative(t *testing.T) {
	f := NewMemoryFetcher(map[string]string{
		"/app/lib/util.ts":   "",
		"/app/lib/index.js":  "",
		"/app/data.json":     "",
		"/app/plain.js":      "",
		"/app/sub/index.mjs": "",
	})
	r := NewResolver("/app", []string{"fs", "fs/sync"}, f)

	cases := []struct {
		request, referrer, want string
	}{
		{"./plain.js", "", "/app/plain.js"},
		{"./lib/util", "/app/main.js", "/app/lib/util.ts"},
		{"./util", "/app/lib/index.js", "/app/lib/util.ts"},
		{"../data", "/app/lib/index.js", "/app/data.json"},
		{"./lib", "/app/main.js", "/app/lib/index.js"},
		{"./sub", "eval:snippet", "/app/sub/index.mjs"},
		{"/app/plain.js", "/elsewhere/x.js", "/app/plain.js"},
		{"file:///app/plain.js", "", "/app/plain.js"},
		{"./missing.js", "/app/main.js", "/app/missing.js"},
		{"fs", "/app/main.js", "builtin:fs"},
		{"fs/sync", "/app/main.js", "builtin:fs/sync"},
		{"builtin:fs", "", "builtin:fs"},
		{"runjs:fs", "", "builtin:fs"},
	}
	for _, c := range cases {
		got, err := r.Resolve(c.request, c.referrer)
		require.NoError(t, err, c.request)
		assert.Equal(t, c.want, got, c.request)
	}
}

func TestResolver_Idempotent(t *testing.T) {
	f := NewMemoryFetcher(map[string]string{"/app/lib/util.ts": ""})
	r := NewResolver("/app", nil, f)

	first, err := r.Resolve("./lib/util", "/app/main.js")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.Resolve("./lib/util", "/app/main.js")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	other, err := r.Resolve("./util.ts", "/app/lib/other.js")
	require.NoError(t, err)
	assert.Equal(t, first, other)
}

func TestResolver_Failures(t *testing.T) {
	r := NewResolver("/app", []string{"fs"}, NewMemoryFetcher(nil))

	for _, req := range []string{"lodash", "builtin:nope", ""} {
		_, err := r.Resolve(req, "/app/main.js")
		require.Error(t, err, req)
		assert.True(t, errors.Is(err, bridge.ErrResolution), req)
	}
}

func TestKinds(t *testing.T) {
	assert.Equal(t, KindJSON, KindOf("/a/b.json"))
	assert.Equal(t, KindBuiltin, KindOf("builtin:fs"))
	assert.Equal(t, KindModule, KindOf("/a/b.weird"))
	assert.Equal(t, SourceTypeScript, SourceKindOf("/a/b.ts"))
	assert.Equal(t, SourceJavaScript, SourceKindOf("/a/b.mjs"))
	assert.Equal(t, SourceJavaScript, SourceKindOf("/a/b"))
	assert.Equal(t, "file:///a/b%20c.js", FileURL("/a/b c.js"))
}
