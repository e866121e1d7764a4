package runjs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/loader"
)

func newRuntime(t *testing.T, cfg Config, opts ...Option) (*Runtime, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	opts = append([]Option{WithStdout(&stdout), WithStderr(&stderr)}, opts...)
	rt, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, &stdout, &stderr
}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRunFile_ModuleGraph(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "lib/greet.ts", `
export function greet(name: string): string {
	return "hello " + name;
}
`)
	write(t, dir, "main.js", `
import { greet } from "./lib/greet";
import * as path from "path";
import { readFile } from "fs";
const text = await readFile("data.txt", "utf8");
console.log(greet(text.trim()), path.extension("a.ts"));
`)
	write(t, dir, "data.txt", "world\n")

	cfg := DefaultConfig()
	cfg.BaseDir = dir
	rt, stdout, _ := newRuntime(t, cfg)
	require.NoError(t, rt.RunFile(context.Background(), "main.js"))
	assert.Equal(t, "hello world ts\n", stdout.String())
}

func TestRunFile_EvaluationFailure(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "main.ts", `
const n: number = 1;

throw new Error("boom " + n);
`)
	cfg := DefaultConfig()
	cfg.BaseDir = dir
	rt, _, _ := newRuntime(t, cfg)
	err := rt.RunFile(context.Background(), "main.ts")

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, bridge.KindEvaluation, f.Kind)
	assert.Equal(t, "boom 1", f.Message)
	require.NotNil(t, f.Location)
	assert.Equal(t, 4, f.Location.Line)
	assert.Contains(t, f.Report(), "main.ts")
}

func TestRunFile_ScriptMode(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "main.js", `
console.log(path.join("a", "b"), typeof fsSync.readFile, typeof assert.ok);
`)
	cfg := DefaultConfig()
	cfg.BaseDir = dir
	cfg.Script = true
	rt, stdout, _ := newRuntime(t, cfg)
	require.NoError(t, rt.RunFile(context.Background(), "main.js"))
	assert.Equal(t, "a/b function function\n", stdout.String())
}

func TestRunFile_UnhandledRejection(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "main.js", `Promise.reject(new TypeError("nobody listens"));`)
	cfg := DefaultConfig()
	cfg.BaseDir = dir
	rt, _, _ := newRuntime(t, cfg)

	err := rt.RunFile(context.Background(), "main.js")
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, bridge.KindUnhandledRejection, f.Kind)
	assert.Equal(t, "nobody listens", f.Message)

	cfg.UnhandledRejections = "warn"
	rt, _, stderr := newRuntime(t, cfg)
	require.NoError(t, rt.RunFile(context.Background(), "main.js"))
	assert.Contains(t, stderr.String(), "nobody listens")
}

func TestEval(t *testing.T) {
	rt, _, _ := newRuntime(t, Config{})
	v, err := rt.Eval(context.Background(), "sum", `
new Promise((resolve) => setTimeout(() => resolve([1, 2, 3].reduce((a, b) => a + b)), 1))
`)
	require.NoError(t, err)
	assert.Equal(t, float64(6), v.Number())
}

func TestRunScriptAndModuleSource(t *testing.T) {
	rt, stdout, _ := newRuntime(t, Config{}, WithFetcher(loader.NewMemoryFetcher(map[string]string{})))
	require.NoError(t, rt.RunScript(context.Background(), "s", `console.log("script", typeof require)`))
	require.NoError(t, rt.RunModule(context.Background(), "m", `
import { equal } from "assert";
equal(1, 1);
console.log("module");
`))
	assert.Equal(t, "script undefined\nmodule\n", stdout.String())
}

func TestWithCapabilities(t *testing.T) {
	rt, _, _ := newRuntime(t, Config{}, WithCapabilities())
	_, err := rt.Eval(context.Background(), "x", `typeof console`)
	require.NoError(t, err)

	err = rt.RunModule(context.Background(), "m", `import "fs";`)
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, bridge.KindLink, f.Kind)
}

func TestConcurrentRuns(t *testing.T) {
	rt, _, _ := newRuntime(t, Config{})
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := rt.Eval(context.Background(), "n", `Promise.resolve(21).then((x) => x * 2)`)
			if err == nil && v.Number() != 42 {
				err = errors.New("wrong result")
			}
			errs[i] = err
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestPersistentCache(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "main.ts", `const x: number = 2; console.log(x * 21);`)
	cfg := DefaultConfig()
	cfg.BaseDir = dir
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	require.NoError(t, os.MkdirAll(cfg.Cache.Dir, 0o755))

	for n := 0; n < 2; n++ {
		rt, stdout, _ := newRuntime(t, cfg)
		require.NoError(t, rt.RunFile(context.Background(), "main.ts"))
		assert.Equal(t, "42\n", stdout.String())
		require.NoError(t, rt.Close())
	}
}

func TestClosedRuntime(t *testing.T) {
	rt, _, _ := newRuntime(t, Config{})
	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())
	assert.ErrorIs(t, rt.RunScript(context.Background(), "x", "1"), ErrClosed)
}
