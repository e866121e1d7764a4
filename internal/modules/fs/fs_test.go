package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/runjs/internal/core"
	"github.com/cryguy/runjs/internal/realm/realmtest"
)

func newHarness(t *testing.T) (*realmtest.Harness, string) {
	t.Helper()
	dir := t.TempDir()
	return realmtest.New(t, core.Config{BaseDir: dir}, nil, New(), NewSync()), dir
}

func TestAsync_WriteReadRoundTrip(t *testing.T) {
	h, dir := newHarness(t)
	v := h.MustModule(t, `
import * as fs from "fs";
await fs.writeFile("notes.txt", "hello");
await fs.appendFile("notes.txt", " world");
const text = await fs.readFile("notes.txt", "utf8");
const raw = await fs.readFile("notes.txt");
globalThis.result = text + "|" + (raw instanceof Uint8Array) + "|" + raw.length;
`)
	assert.Equal(t, "hello world|true|11", v.Str())

	data, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestAsync_ReadMissingRejectsWithCode(t *testing.T) {
	h, _ := newHarness(t)
	v := h.MustModule(t, `
import { readFile } from "fs";
try {
	await readFile("missing.txt", { encoding: "utf8" });
	globalThis.result = "resolved";
} catch (e) {
	globalThis.result = e.code;
}
`)
	assert.Equal(t, "NotFound", v.Str())
}

func TestAsync_ValidationRejects(t *testing.T) {
	h, _ := newHarness(t)
	v := h.MustModule(t, `
import { readFile } from "fs";
const p = readFile(42);
globalThis.result = await p.then(() => "resolved", (e) => e.name + ":" + e.kind);
`)
	assert.Equal(t, "TypeError:TypeMismatch", v.Str())
}

func TestSync_DirectoryOperations(t *testing.T) {
	h, dir := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bb"), 0o644))

	v := h.MustModule(t, `
import * as fs from "fs/sync";
fs.createDir("nested/deep", { recursive: true });
fs.writeFile("nested/deep/a.txt", "a");
fs.copy("b.txt", "nested/c.txt");
fs.rename("nested/c.txt", "nested/d.txt");
const names = fs.readDir("nested").map((e) => e.name + (e.isDirectory ? "/" : ""));
const st = fs.stat("nested/d.txt");
const before = fs.exists("nested");
fs.remove("nested", { recursive: true });
globalThis.result = [names.join(","), st.size, st.isFile, typeof st.modified, before, fs.exists("nested")].join("|");
`)
	assert.Equal(t, "d.txt,deep/|2|true|number|true|false", v.Str())
}

func TestSync_Links(t *testing.T) {
	h, dir := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "target.txt"), []byte("t"), 0o644))

	v := h.MustModule(t, `
import * as fs from "fs/sync";
fs.symlink("target.txt", "alias.txt");
fs.link("target.txt", "hard.txt");
const st = fs.stat("alias.txt");
globalThis.result = [fs.readLink("alias.txt"), st.isSymlink, st.isFile, fs.readFile("hard.txt", "utf8")].join("|");
`)
	assert.Equal(t, "target.txt|true|true|t", v.Str())

	canon, err := filepath.EvalSymlinks(filepath.Join(dir, "target.txt"))
	require.NoError(t, err)
	v = h.MustModule(t, `
import { canonical } from "fs/sync";
globalThis.result = canonical("alias.txt");
`)
	assert.Equal(t, canon, v.Str())
}

func TestSync_ErrorsThrow(t *testing.T) {
	h, _ := newHarness(t)
	v := h.MustModule(t, `
import { createDir, remove } from "fs/sync";
const codes = [];
createDir("x");
try { createDir("x"); } catch (e) { codes.push(e.code); }
try { remove("nope"); } catch (e) { codes.push(e.code); }
try { createDir(""); } catch (e) { codes.push(e.kind); }
globalThis.result = codes.join(",");
`)
	assert.Equal(t, "AlreadyExists,NotFound,TypeMismatch", v.Str())
}

func TestUnsupportedEncoding(t *testing.T) {
	h, _ := newHarness(t)
	v := h.MustModule(t, `
import { readFile } from "fs/sync";
try { readFile("a", "latin1"); } catch (e) { globalThis.result = e.message; }
`)
	assert.Equal(t, `readFile: unsupported encoding "latin1"`, v.Str())
}
