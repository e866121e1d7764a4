// Package fs provides filesystem access in two flavours: "fs", whose
// functions return promises and run on the executor, and "fs/sync", whose
// functions block the engine goroutine.
package fs

import (
	"context"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/core"
	"github.com/cryguy/runjs/internal/executor"
)

// Capability is the fs built-in.
type Capability struct {
	sync bool
}

// New returns the promise-based fs capability.
func New() Capability { return Capability{} }

// NewSync returns the blocking fs/sync capability.
func NewSync() Capability { return Capability{sync: true} }

func (c Capability) Name() string {
	if c.sync {
		return "fs/sync"
	}
	return "fs"
}

func (c Capability) Register(h core.Host) (*core.Exports, error) {
	fsys := &files{base: h.Config().BaseDir}
	exp := core.NewExports(h)
	for _, o := range fsys.ops() {
		if c.sync {
			exp.Func(o.name, blocking(h, o.prepare))
		} else {
			exp.Async(o.name, core.AsyncFunc(o.prepare))
		}
	}
	return exp, nil
}

// blocking runs prepared work on the calling goroutine.
func blocking(h core.Host, prepare func(*core.Call) (executor.Work, error)) core.Func {
	return func(c *core.Call) (bridge.Value, error) {
		work, err := prepare(c)
		if err != nil {
			return bridge.Undefined(), err
		}
		res, err := work(context.Background())
		if err != nil {
			return bridge.Undefined(), err
		}
		return bridge.FromGo(res)
	}
}
