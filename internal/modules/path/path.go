// Package path provides path manipulation for the host platform's path
// syntax.
package path

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/core"
)

// Capability is the path built-in.
type Capability struct{}

// New returns the path capability.
func New() Capability { return Capability{} }

func (Capability) Name() string { return "path" }

func (Capability) Register(h core.Host) (*core.Exports, error) {
	vm := h.Runtime()
	exp := core.NewExports(h).
		Func("join", join).
		Func("resolve", resolve(h.Config().BaseDir)).
		Func("normalize", str1(filepath.Clean)).
		Func("dirname", str1(filepath.Dir)).
		Func("parent", opt1(Parent)).
		Func("basename", basename).
		Func("fileName", opt1(FileName)).
		Func("fileStem", opt1(FileStem)).
		Func("extension", opt1(Extension)).
		Func("withFileName", str2(WithFileName)).
		Func("withExtension", str2(WithExtension)).
		Func("stripPrefix", stripPrefix).
		Func("isAbsolute", pred1(filepath.IsAbs)).
		Func("isRelative", pred1(func(p string) bool { return !filepath.IsAbs(p) })).
		Func("hasRoot", pred1(HasRoot)).
		Func("startsWith", pred2(StartsWith)).
		Func("endsWith", pred2(EndsWith)).
		Value("separator", vm.ToValue(string(os.PathSeparator))).
		Value("delimiter", vm.ToValue(string(os.PathListSeparator)))
	return exp, nil
}

func str1(fn func(string) string) core.Func {
	return func(c *core.Call) (bridge.Value, error) {
		p, err := c.String(0)
		if err != nil {
			return bridge.Undefined(), err
		}
		return bridge.String(fn(p)), nil
	}
}

func str2(fn func(string, string) string) core.Func {
	return func(c *core.Call) (bridge.Value, error) {
		a, err := c.String(0)
		if err != nil {
			return bridge.Undefined(), err
		}
		b, err := c.String(1)
		if err != nil {
			return bridge.Undefined(), err
		}
		return bridge.String(fn(a, b)), nil
	}
}

// opt1 wraps a function whose missing result is null.
func opt1(fn func(string) (string, bool)) core.Func {
	return func(c *core.Call) (bridge.Value, error) {
		p, err := c.String(0)
		if err != nil {
			return bridge.Undefined(), err
		}
		if s, ok := fn(p); ok {
			return bridge.String(s), nil
		}
		return bridge.Null(), nil
	}
}

func pred1(fn func(string) bool) core.Func {
	return func(c *core.Call) (bridge.Value, error) {
		p, err := c.String(0)
		if err != nil {
			return bridge.Undefined(), err
		}
		return bridge.Bool(fn(p)), nil
	}
}

func pred2(fn func(string, string) bool) core.Func {
	return func(c *core.Call) (bridge.Value, error) {
		a, err := c.String(0)
		if err != nil {
			return bridge.Undefined(), err
		}
		b, err := c.String(1)
		if err != nil {
			return bridge.Undefined(), err
		}
		return bridge.Bool(fn(a, b)), nil
	}
}

func stringArgs(c *core.Call) ([]string, error) {
	out := make([]string, len(c.Args))
	for i := range c.Args {
		s, err := c.String(i)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func join(c *core.Call) (bridge.Value, error) {
	parts, err := stringArgs(c)
	if err != nil {
		return bridge.Undefined(), err
	}
	return bridge.String(Join(parts...)), nil
}

func resolve(base string) core.Func {
	return func(c *core.Call) (bridge.Value, error) {
		parts, err := stringArgs(c)
		if err != nil {
			return bridge.Undefined(), err
		}
		abs, err := filepath.Abs(base)
		if err != nil {
			return bridge.Undefined(), err
		}
		return bridge.String(Join(append([]string{abs}, parts...)...)), nil
	}
}

func basename(c *core.Call) (bridge.Value, error) {
	p, err := c.String(0)
	if err != nil {
		return bridge.Undefined(), err
	}
	ext, err := c.OptString(1, "")
	if err != nil {
		return bridge.Undefined(), err
	}
	b := filepath.Base(p)
	if ext != "" && b != ext {
		b = strings.TrimSuffix(b, ext)
	}
	return bridge.String(b), nil
}

func stripPrefix(c *core.Call) (bridge.Value, error) {
	p, err := c.String(0)
	if err != nil {
		return bridge.Undefined(), err
	}
	prefix, err := c.String(1)
	if err != nil {
		return bridge.Undefined(), err
	}
	rest, ok := StripPrefix(p, prefix)
	if !ok {
		return bridge.Undefined(), bridge.Newf(bridge.KindRuntime, "failed to strip prefix %q from %q", prefix, p)
	}
	return bridge.String(rest), nil
}
