// Package realm ties one engine runtime to its module registry, event
// loop, root table and capability table. All engine work happens on the
// goroutine that calls the Run methods.
package realm

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/core"
	"github.com/cryguy/runjs/internal/eventloop"
	"github.com/cryguy/runjs/internal/executor"
	"github.com/cryguy/runjs/internal/loader"
	"github.com/cryguy/runjs/internal/transpile"
)

// Options configures a realm.
type Options struct {
	Config       core.Config
	Capabilities []core.Capability
	Fetcher      loader.Fetcher  // defaults to loader.FileFetcher
	Cache        transpile.Cache // nil disables transpile caching
	Logger       *zap.Logger
	Stdout       io.Writer
	Stderr       io.Writer
}

// Realm is one isolated execution context. It is not safe for concurrent
// use.
type Realm struct {
	id     string
	cfg    core.Config
	vm     *goja.Runtime
	roots  *bridge.Roots
	bridge *bridge.Bridge
	loop   *eventloop.Loop
	exec   *executor.Executor
	reg    *loader.Registry
	log    *zap.Logger
	stdout io.Writer
	stderr io.Writer

	caps       map[string]core.Capability
	capOrder   []string
	exports    map[string]*core.Exports
	namespaces map[string]goja.Value

	jobs       map[uint64]*job
	nextJob    uint64
	rejections *rejectionTracker
	entry      *loader.Pending
	cleanups   []func()
	evalSeq    int
	closed     bool
}

// New creates a realm and registers its capabilities.
func New(opts Options) (*Realm, error) {
	cfg := opts.Config
	cfg.Normalize()
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	seen := make(map[string]bool)
	for _, c := range opts.Capabilities {
		if seen[c.Name()] {
			return nil, fmt.Errorf("realm: capability %q registered twice", c.Name())
		}
		seen[c.Name()] = true
	}
	id := uuid.NewString()
	log = log.With(zap.String("realm", id))

	r := &Realm{
		id:         id,
		cfg:        cfg,
		vm:         goja.New(),
		roots:      bridge.NewRoots(),
		log:        log,
		stdout:     opts.Stdout,
		stderr:     opts.Stderr,
		caps:       make(map[string]core.Capability),
		exports:    make(map[string]*core.Exports),
		namespaces: make(map[string]goja.Value),
		jobs:       make(map[uint64]*job),
		rejections: newRejectionTracker(),
	}
	if r.stdout == nil {
		r.stdout = os.Stdout
	}
	if r.stderr == nil {
		r.stderr = os.Stderr
	}
	r.vm.SetPromiseRejectionTracker(r.rejections.track)
	r.bridge = bridge.New(r.vm, r.roots)
	r.loop = eventloop.New(
		eventloop.WithLogger(log.Named("loop")),
		eventloop.WithHooks(eventloop.Hooks{
			Checkpoint: r.checkpoint,
			BeforeExit: r.beforeExit,
		}),
	)
	r.exec = executor.New(cfg.MaxWorkers, log.Named("executor"))

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = loader.FileFetcher{}
	}
	var names []string
	for _, c := range opts.Capabilities {
		r.caps[c.Name()] = c
		r.capOrder = append(r.capOrder, c.Name())
		names = append(names, c.Name())
	}
	resolver := loader.NewResolver(cfg.BaseDir, names, fetcher)
	tr := transpile.New(opts.Cache, log.Named("transpile"))
	r.reg = loader.NewRegistry(r.bridge, resolver, fetcher, tr, r.builtin, log.Named("loader"))

	if err := r.installCapabilities(); err != nil {
		r.Close()
		return nil, err
	}
	log.Debug("realm created", zap.Strings("capabilities", names), zap.Bool("script", cfg.Script))
	return r, nil
}

func (r *Realm) installCapabilities() error {
	global := r.vm.GlobalObject()
	_ = global.Set("global", global)
	for _, name := range r.capOrder {
		c := r.caps[name]
		exp, err := c.Register(r)
		if err != nil {
			return fmt.Errorf("realm: registering %s: %w", name, err)
		}
		r.exports[name] = exp
		if g, ok := c.(core.Globals); ok {
			if err := g.InstallGlobals(r, exp); err != nil {
				return fmt.Errorf("realm: installing globals of %s: %w", name, err)
			}
		}
		if r.cfg.Script {
			if err := r.vm.Set(GlobalName(name), r.namespace(name)); err != nil {
				return fmt.Errorf("realm: installing %s: %w", name, err)
			}
		}
	}
	return nil
}

func (r *Realm) namespace(name string) goja.Value {
	if ns, ok := r.namespaces[name]; ok {
		return ns
	}
	ns := r.exports[name].Object()
	r.namespaces[name] = ns
	return ns
}

func (r *Realm) builtin(name string) (goja.Value, error) {
	if _, ok := r.exports[name]; !ok {
		return nil, bridge.Newf(bridge.KindResolution, "built-in %s is not registered", name)
	}
	return r.namespace(name), nil
}

// GlobalName is the global a capability is installed under in script
// mode: "fs/sync" becomes "fsSync".
func GlobalName(capability string) string {
	var b strings.Builder
	upper := false
	for _, c := range capability {
		if c == '/' || c == '-' || c == '.' {
			upper = true
			continue
		}
		if upper {
			c = unicode.ToUpper(c)
			upper = false
		}
		b.WriteRune(c)
	}
	return b.String()
}

// ID returns the realm's unique id.
func (r *Realm) ID() string { return r.id }

func (r *Realm) Runtime() *goja.Runtime            { return r.vm }
func (r *Realm) Bridge() *bridge.Bridge            { return r.bridge }
func (r *Realm) Loop() *eventloop.Loop             { return r.loop }
func (r *Realm) Logger() *zap.Logger               { return r.log }
func (r *Realm) Config() *core.Config              { return &r.cfg }
func (r *Realm) Stdout() io.Writer                 { return r.stdout }
func (r *Realm) Stderr() io.Writer                 { return r.stderr }
func (r *Realm) Context() context.Context          { return r.exec.Context() }
func (r *Realm) Registry() *loader.Registry        { return r.reg }
func (r *Realm) Roots() *bridge.Roots              { return r.roots }
func (r *Realm) Exports(name string) *core.Exports { return r.exports[name] }

// RegisterCleanup adds fn to run at teardown.
func (r *Realm) RegisterCleanup(fn func()) {
	r.cleanups = append(r.cleanups, fn)
}

// Closed reports whether the realm was torn down.
func (r *Realm) Closed() bool { return r.closed }

// Close tears the realm down: the loop stops accepting work, native jobs
// are cancelled, every root is released and cleanups run. Results of jobs
// still in flight are discarded. Safe to call more than once.
func (r *Realm) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.loop.Close()
	err := r.exec.Close(r.cfg.ShutdownTimeout)
	for id, j := range r.jobs {
		if res, ok := j.take(); ok {
			dispose(res)
		}
		j.promise.Release()
		delete(r.jobs, id)
	}
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		r.cleanups[i]()
	}
	r.cleanups = nil
	r.roots.Close()
	r.log.Debug("realm closed")
	if err != nil {
		return fmt.Errorf("realm: closing executor: %w", err)
	}
	return nil
}
