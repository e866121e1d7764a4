// Package runjs runs JavaScript and TypeScript programs on an embedded
// engine with an event loop, an ES module loader and native built-ins.
//
// Each Run call gets a fresh realm: its own engine, module registry and
// event loop. A Runtime only holds what realms share, such as the
// transpile cache.
package runjs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/core"
	"github.com/cryguy/runjs/internal/loader"
	"github.com/cryguy/runjs/internal/modules/assert"
	"github.com/cryguy/runjs/internal/modules/console"
	"github.com/cryguy/runjs/internal/modules/fs"
	"github.com/cryguy/runjs/internal/modules/http"
	"github.com/cryguy/runjs/internal/modules/path"
	"github.com/cryguy/runjs/internal/modules/timers"
	"github.com/cryguy/runjs/internal/modules/url"
	"github.com/cryguy/runjs/internal/realm"
	"github.com/cryguy/runjs/internal/transpile"
)

// Re-exported so embedders can implement capabilities and inspect results
// without importing internal packages.
type (
	Capability = core.Capability
	Host       = core.Host
	Value      = bridge.Value
	Failure    = bridge.Failure
	Fetcher    = loader.Fetcher
)

// ErrClosed is returned by runs on a closed Runtime.
var ErrClosed = errors.New("runjs: runtime is closed")

// DefaultCapabilities returns the built-in capability table.
func DefaultCapabilities() []Capability {
	return []Capability{
		console.New(),
		timers.New(),
		assert.New(),
		fs.New(),
		fs.NewSync(),
		path.New(),
		url.New(),
		http.New(),
	}
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithCapabilities replaces the capability table.
func WithCapabilities(caps ...Capability) Option {
	return func(r *Runtime) { r.caps = caps }
}

// WithFetcher sets how module sources are read. Defaults to the
// filesystem.
func WithFetcher(f Fetcher) Option {
	return func(r *Runtime) { r.fetcher = f }
}

// WithLogger sets the runtime logger. Defaults to Logger().
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// WithStdout sets where console output goes.
func WithStdout(w io.Writer) Option {
	return func(r *Runtime) { r.stdout = w }
}

// WithStderr sets where console errors and warnings go.
func WithStderr(w io.Writer) Option {
	return func(r *Runtime) { r.stderr = w }
}

// Runtime runs programs. Runs may be issued from multiple goroutines; each
// uses its own realm.
type Runtime struct {
	cfg     Config
	caps    []Capability
	fetcher Fetcher
	log     *zap.Logger
	stdout  io.Writer
	stderr  io.Writer

	cache   transpile.Cache
	closeFn func() error
	closed  atomic.Bool
}

// New creates a Runtime. The transpile cache is opened from cfg.Cache.Dir,
// or kept in memory when it is empty.
func New(cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runjs: %w", err)
	}
	r := &Runtime{cfg: cfg, caps: DefaultCapabilities()}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = Logger()
	}

	if cfg.Cache.Dir != "" {
		c, err := transpile.OpenSQLCache(cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("runjs: opening transpile cache: %w", err)
		}
		r.cache, r.closeFn = c, c.Close
	} else {
		r.cache = transpile.NewMemoryCache()
	}
	return r, nil
}

// Close releases the transpile cache.
func (r *Runtime) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.closeFn != nil {
		return r.closeFn()
	}
	return nil
}

func (r *Runtime) newRealm() (*realm.Realm, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	return realm.New(realm.Options{
		Config:       r.cfg.coreConfig(),
		Capabilities: r.caps,
		Fetcher:      r.fetcher,
		Cache:        r.cache,
		Logger:       r.log,
		Stdout:       r.stdout,
		Stderr:       r.stderr,
	})
}

// withRealm runs fn on a fresh realm and tears it down afterwards.
func (r *Runtime) withRealm(fn func(*realm.Realm) error) (err error) {
	rl, err := r.newRealm()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rl.Close(); cerr != nil {
			r.log.Warn("realm teardown", zap.String("realm", rl.ID()), zap.Error(cerr))
		}
	}()
	return fn(rl)
}

// RunFile loads path as the entry module, or as a classic script when
// Config.Script is set, and runs until the event loop drains. The error is
// a *Failure for script failures.
func (r *Runtime) RunFile(ctx context.Context, path string) error {
	return r.withRealm(func(rl *realm.Realm) error {
		if r.cfg.Script {
			return rl.RunScript(ctx, path)
		}
		return rl.RunModule(ctx, path)
	})
}

// RunScript evaluates source as a classic script named name.
func (r *Runtime) RunScript(ctx context.Context, name, source string) error {
	return r.withRealm(func(rl *realm.Realm) error {
		return rl.RunSource(ctx, name, source, loader.KindScript)
	})
}

// RunModule evaluates source as an ES module named name. Relative imports
// resolve against the base directory.
func (r *Runtime) RunModule(ctx context.Context, name, source string) error {
	return r.withRealm(func(rl *realm.Realm) error {
		return rl.RunSource(ctx, name, source, loader.KindModule)
	})
}

// Eval evaluates source as a classic script and returns its completion
// value once the event loop drains. A promise completion is awaited.
func (r *Runtime) Eval(ctx context.Context, name, source string) (Value, error) {
	var out Value
	err := r.withRealm(func(rl *realm.Realm) error {
		v, err := rl.Eval(ctx, name, source)
		out = v
		return err
	})
	return out, err
}
