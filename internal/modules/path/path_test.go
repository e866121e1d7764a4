package path

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/runjs/internal/core"
	"github.com/cryguy/runjs/internal/realm/realmtest"
)

func TestJoin(t *testing.T) {
	assert.Equal(t, "a/b/c", Join("a", "b", "c"))
	assert.Equal(t, "/x/y", Join("a", "/x", "y"))
	assert.Equal(t, "a/c", Join("a", "b", "..", "c"))
	assert.Equal(t, ".", Join())
}

func TestComponents(t *testing.T) {
	cases := []struct {
		path              string
		parent, name      string
		hasParent, hasNam bool
		stem, ext         string
		hasExt            bool
	}{
		{"/a/b.txt", "/a", "b.txt", true, true, "b", "txt", true},
		{"b.tar.gz", "", "b.tar.gz", true, true, "b.tar", "gz", true},
		{"/a/.bashrc", "/a", ".bashrc", true, true, ".bashrc", "", false},
		{"/a/b/", "/a", "b", true, true, "b", "", false},
		{"/", "", "", false, false, "", "", false},
		{"a/..", "a", "", true, false, "", "", false},
	}
	for _, c := range cases {
		parent, ok := Parent(c.path)
		assert.Equal(t, c.hasParent, ok, c.path)
		assert.Equal(t, c.parent, parent, c.path)

		name, ok := FileName(c.path)
		assert.Equal(t, c.hasNam, ok, c.path)
		assert.Equal(t, c.name, name, c.path)

		stem, _ := FileStem(c.path)
		assert.Equal(t, c.stem, stem, c.path)

		ext, ok := Extension(c.path)
		assert.Equal(t, c.hasExt, ok, c.path)
		assert.Equal(t, c.ext, ext, c.path)
	}
}

func TestWithFileNameAndExtension(t *testing.T) {
	assert.Equal(t, "/a/c.md", WithFileName("/a/b.txt", "c.md"))
	assert.Equal(t, "c", WithFileName("b", "c"))
	assert.Equal(t, "/a/b.md", WithExtension("/a/b.txt", "md"))
	assert.Equal(t, "/a/b.md", WithExtension("/a/b.txt", ".md"))
	assert.Equal(t, "/a/b", WithExtension("/a/b.txt", ""))
	assert.Equal(t, "/a/b.txt", WithExtension("/a/b", "txt"))
}

func TestPrefixes(t *testing.T) {
	rest, ok := StripPrefix("/usr/lib/x", "/usr")
	require.True(t, ok)
	assert.Equal(t, "lib/x", rest)

	_, ok = StripPrefix("/usr/lib", "/us")
	assert.False(t, ok)

	assert.True(t, StartsWith("/etc/passwd", "/etc"))
	assert.False(t, StartsWith("/etc/passwd", "/e"))
	assert.True(t, EndsWith("/etc/resolv.conf", "resolv.conf"))
	assert.False(t, EndsWith("/etc/resolv.conf", "conf"))
	assert.True(t, HasRoot("/x"))
	assert.False(t, HasRoot("x"))
}

func TestModule(t *testing.T) {
	h := realmtest.New(t, core.Config{BaseDir: "/srv"}, nil, New())
	v := h.MustModule(t, `
import * as path from "path";
globalThis.result = [
	path.join("a", "b"),
	path.resolve("x", "y"),
	path.fileStem("/a/b.ts"),
	path.extension("/a/b"),
	path.basename("/a/b.ts", ".ts"),
	path.dirname("/a/b.ts"),
	String(path.isAbsolute("/a")),
	path.separator,
	path.stripPrefix("/a/b/c", "/a"),
].join("|");
`)
	assert.Equal(t, "a/b|/srv/x/y|b||b|/a|true|/|b/c", v.Str())
}

func TestModule_TypeMismatch(t *testing.T) {
	h := realmtest.New(t, core.Config{}, nil, New())
	v := h.MustModule(t, `
import { join } from "path";
try { join("a", 1); } catch (e) { globalThis.result = e.name + ":" + e.kind; }
`)
	assert.Equal(t, "TypeError:TypeMismatch", v.Str())
}
