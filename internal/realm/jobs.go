package realm

import (
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/core"
	"github.com/cryguy/runjs/internal/executor"
)

// job is a pending native job: a promise waiting for work running on the
// executor. Only the rooted promise and its settle functions live here.
type job struct {
	id      uint64
	promise *bridge.Root
	resolve func(goja.Value)
	reject  func(goja.Value)

	mu     sync.Mutex
	result any
	held   bool
}

// hold stores the result delivered by the worker.
func (j *job) hold(res any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result, j.held = res, true
}

// take returns the held result at most once.
func (j *job) take() (any, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	res, ok := j.result, j.held
	j.result, j.held = nil, false
	return res, ok
}

// dispose releases resources owned by a result that never reached script.
func dispose(res any) {
	if o, ok := res.(core.Owned); ok && o.Dispose != nil {
		o.Dispose()
	}
}

// Async runs work on the executor and returns a promise settled on the
// engine goroutine with its result. A result that arrives after the realm
// is torn down is discarded without touching the engine.
func (r *Realm) Async(work executor.Work) goja.Value {
	p, resolve, reject := r.vm.NewPromise()
	r.nextJob++
	j := &job{
		id:      r.nextJob,
		promise: r.roots.Acquire(r.vm.ToValue(p)),
		resolve: func(v goja.Value) { resolve(v) },
		reject:  func(v goja.Value) { reject(v) },
	}
	r.jobs[j.id] = j
	r.loop.Add()

	err := r.exec.Go(work, func(res any, err error) {
		j.hold(res)
		if !r.loop.Submit(func() { r.complete(j, err) }) {
			r.log.Debug("dropping job result after teardown", zap.Uint64("job", j.id))
			if res, ok := j.take(); ok {
				dispose(res)
			}
		}
	})
	if err != nil {
		delete(r.jobs, j.id)
		r.loop.Done()
		j.promise.Release()
		j.reject(r.bridge.ToEngineError(bridge.Wrap(bridge.KindRealmClosed, err, "cannot start native job")))
	}
	return r.vm.ToValue(p)
}

func (r *Realm) complete(j *job, err error) {
	res, _ := j.take()
	if _, ok := r.jobs[j.id]; !ok {
		dispose(res)
		return
	}
	delete(r.jobs, j.id)
	r.loop.Done()
	defer j.promise.Release()
	if _, perr := j.promise.Value(); perr != nil {
		dispose(res)
		return
	}

	if err != nil {
		j.reject(r.bridge.ToEngineError(r.bridge.Capture(err)))
		return
	}
	v, err := r.resultValue(res)
	if err != nil {
		j.reject(r.bridge.ToEngineError(r.bridge.Capture(err)))
		return
	}
	j.resolve(v)
}

func (r *Realm) resultValue(res any) (goja.Value, error) {
	switch x := res.(type) {
	case core.EngineResult:
		return x(r)
	case core.Owned:
		return x.Build(r)
	case goja.Value:
		return x, nil
	}
	v, err := bridge.FromGo(res)
	if err != nil {
		return nil, err
	}
	return r.bridge.ToEngine(v)
}

// Rejected returns a promise rejected with err.
func (r *Realm) Rejected(err error) goja.Value {
	p, _, reject := r.vm.NewPromise()
	reject(r.bridge.ToEngineError(r.bridge.Capture(err)))
	return r.vm.ToValue(p)
}

// Uncaught fails the run with an exception thrown from a host callback.
func (r *Realm) Uncaught(err error) {
	f := r.bridge.Capture(err)
	if f.Kind == bridge.KindRuntime {
		f.Kind = bridge.KindUncaught
	}
	r.log.Debug("uncaught exception", zap.Error(f))
	r.loop.Stop(f)
}

// Jobs returns the number of native jobs in flight.
func (r *Realm) Jobs() int { return len(r.jobs) }
