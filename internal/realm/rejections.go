package realm

import (
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/core"
)

// rejectionTracker records promises rejected without a handler. A later
// handler removes the entry again.
type rejectionTracker struct {
	pending map[*goja.Promise]struct{}
	order   []*goja.Promise
}

func newRejectionTracker() *rejectionTracker {
	return &rejectionTracker{pending: make(map[*goja.Promise]struct{})}
}

func (t *rejectionTracker) track(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		if _, ok := t.pending[p]; !ok {
			t.pending[p] = struct{}{}
			t.order = append(t.order, p)
		}
	case goja.PromiseRejectionHandle:
		delete(t.pending, p)
	}
}

// compact drops handled promises from the rejection order.
func (t *rejectionTracker) compact() {
	live := t.order[:0]
	for _, p := range t.order {
		if _, ok := t.pending[p]; ok {
			live = append(live, p)
		}
	}
	clear(t.order[len(live):])
	t.order = live
}

// take returns the still unhandled rejections in rejection order and
// resets the tracker.
func (t *rejectionTracker) take() []*goja.Promise {
	t.compact()
	out := t.order
	t.order = nil
	clear(t.pending)
	return out
}

// checkpoint runs after every task, once the microtask queue is drained.
// Rejections stay pending across tasks; a handler attached by a later task
// still counts.
func (r *Realm) checkpoint() {
	r.rejections.compact()
}

// beforeExit runs when the loop has nothing left to do. A rejection with no
// handler at this point is unhandled.
func (r *Realm) beforeExit() error {
	var first *bridge.Failure
	for _, p := range r.rejections.take() {
		f := r.bridge.Rejection(p.Result())
		f.Kind = bridge.KindUnhandledRejection
		if r.cfg.UnhandledRejections == core.RejectionsWarn {
			r.log.Warn("unhandled promise rejection", zap.Error(f))
			fmt.Fprintf(r.stderr, "Warning: unhandled promise rejection: %s\n", f.Message)
			continue
		}
		if first == nil {
			first = f
		}
	}
	if first != nil {
		return first
	}
	if r.entry != nil && !r.entry.Done() {
		return bridge.Newf(bridge.KindEvaluation, "top-level await never settled: the event loop drained while the entry module was still evaluating")
	}
	return nil
}
