// Package realmtest builds realms for capability tests.
package realmtest

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/core"
	"github.com/cryguy/runjs/internal/loader"
	"github.com/cryguy/runjs/internal/modules/console"
	"github.com/cryguy/runjs/internal/modules/timers"
	"github.com/cryguy/runjs/internal/realm"
)

// Harness is a realm with captured console output.
type Harness struct {
	*realm.Realm
	Stdout *bytes.Buffer
	Stderr *bytes.Buffer
}

// New creates a realm with console, timers and caps. The realm is closed
// when the test ends. A nil fetcher reads the real filesystem.
func New(t testing.TB, cfg core.Config, fetcher loader.Fetcher, caps ...core.Capability) *Harness {
	t.Helper()
	h := &Harness{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	all := append([]core.Capability{console.New(), timers.New()}, caps...)
	r, err := realm.New(realm.Options{
		Config:       cfg,
		Capabilities: all,
		Fetcher:      fetcher,
		Stdout:       h.Stdout,
		Stderr:       h.Stderr,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	h.Realm = r
	return h
}

// Module evaluates a module body that stores its answer in globalThis.result
// and returns that value once the loop drains.
func (h *Harness) Module(t testing.TB, source string) (bridge.Value, error) {
	t.Helper()
	if err := h.RunSource(context.Background(), "test", source, loader.KindModule); err != nil {
		return bridge.Undefined(), err
	}
	return h.Eval(context.Background(), "result", "globalThis.result")
}

// MustModule is Module failing the test on error.
func (h *Harness) MustModule(t testing.TB, source string) bridge.Value {
	t.Helper()
	v, err := h.Module(t, source)
	require.NoError(t, err)
	return v
}
