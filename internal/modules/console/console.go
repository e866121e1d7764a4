// Package console provides the console global.
package console

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/core"
)

const (
	colorReset  = "\x1b[0m"
	colorYellow = "\x1b[33m"
	colorRed    = "\x1b[31m"
	colorGray   = "\x1b[90m"
)

// Capability is the console built-in.
type Capability struct{}

// New returns the console capability.
func New() Capability { return Capability{} }

func (Capability) Name() string { return "console" }

func (Capability) Register(h core.Host) (*core.Exports, error) {
	c := &console{
		h:        h,
		b:        h.Bridge(),
		stdout:   h.Stdout(),
		stderr:   h.Stderr(),
		color:    isTerminal(h.Stdout()),
		timers:   make(map[string]time.Time),
		counters: make(map[string]int),
	}
	exp := core.NewExports(h).
		Raw("log", c.level("log")).
		Raw("info", c.level("info")).
		Raw("debug", c.level("debug")).
		Raw("warn", c.level("warn")).
		Raw("error", c.level("error")).
		Raw("trace", c.trace).
		Raw("assert", c.assert).
		Raw("time", c.time).
		Raw("timeEnd", c.timeEnd).
		Raw("count", c.count).
		Raw("countReset", c.countReset)
	return exp, nil
}

// InstallGlobals installs console as a global.
func (Capability) InstallGlobals(h core.Host, exp *core.Exports) error {
	return h.Runtime().Set("console", exp.Object())
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type console struct {
	h      core.Host
	b      *bridge.Bridge
	stdout io.Writer
	stderr io.Writer
	color  bool

	mu       sync.Mutex
	timers   map[string]time.Time
	counters map[string]int
}

func (c *console) level(lvl string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		c.print(lvl, c.format(call.Arguments))
		return goja.Undefined()
	}
}

func (c *console) print(lvl, msg string) {
	w := c.stdout
	color := ""
	switch lvl {
	case "warn":
		w, color = c.stderr, colorYellow
	case "error", "trace":
		w, color = c.stderr, colorRed
	case "debug":
		color = colorGray
	}
	c.h.Logger().Debug("console", zap.String("level", lvl), zap.String("message", msg))
	if c.color && color != "" && isTerminal(w) {
		fmt.Fprintf(w, "%s%s%s\n", color, msg, colorReset)
		return
	}
	fmt.Fprintln(w, msg)
}

func (c *console) format(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = c.inspect(a)
	}
	return strings.Join(parts, " ")
}

// inspect renders one argument. Values outside the bridge subset fall back
// to the engine's string conversion.
func (c *console) inspect(v goja.Value) string {
	nv, err := c.b.ToNative(v)
	if err != nil {
		if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Array" {
			return fmt.Sprintf("Array(%d)", obj.Get("length").ToInteger())
		}
		return v.String()
	}
	defer nv.Release()
	return Format(nv)
}

func (c *console) trace(call goja.FunctionCall) goja.Value {
	msg := "Trace"
	if len(call.Arguments) > 0 {
		msg += ": " + c.format(call.Arguments)
	}
	var stack bytes.Buffer
	for _, f := range c.h.Runtime().CaptureCallStack(0, nil) {
		stack.WriteString("at ")
		f.Write(&stack)
		stack.WriteByte('\n')
	}
	for _, fr := range c.b.ParseStack(stack.String()) {
		if !fr.Native {
			msg += "\n    at " + fr.String()
		}
	}
	c.print("trace", msg)
	return goja.Undefined()
}

func (c *console) assert(call goja.FunctionCall) goja.Value {
	if call.Argument(0).ToBoolean() {
		return goja.Undefined()
	}
	msg := "Assertion failed"
	if len(call.Arguments) > 1 {
		msg += ": " + c.format(call.Arguments[1:])
	}
	c.print("error", msg)
	return goja.Undefined()
}

func label(call goja.FunctionCall) string {
	l := call.Argument(0)
	if goja.IsUndefined(l) {
		return "default"
	}
	return l.String()
}

func (c *console) time(call goja.FunctionCall) goja.Value {
	c.mu.Lock()
	c.timers[label(call)] = time.Now()
	c.mu.Unlock()
	return goja.Undefined()
}

func (c *console) timeEnd(call goja.FunctionCall) goja.Value {
	l := label(call)
	c.mu.Lock()
	start, ok := c.timers[l]
	delete(c.timers, l)
	c.mu.Unlock()
	if !ok {
		c.print("warn", fmt.Sprintf("Timer %q does not exist", l))
		return goja.Undefined()
	}
	elapsed := time.Since(start)
	c.print("log", fmt.Sprintf("%s: %.3fms", l, float64(elapsed.Microseconds())/1000))
	return goja.Undefined()
}

func (c *console) count(call goja.FunctionCall) goja.Value {
	l := label(call)
	c.mu.Lock()
	c.counters[l]++
	n := c.counters[l]
	c.mu.Unlock()
	c.print("log", fmt.Sprintf("%s: %d", l, n))
	return goja.Undefined()
}

func (c *console) countReset(call goja.FunctionCall) goja.Value {
	c.mu.Lock()
	delete(c.counters, label(call))
	c.mu.Unlock()
	return goja.Undefined()
}
