package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/core"
	"github.com/cryguy/runjs/internal/executor"
)

type op struct {
	name    string
	prepare func(*core.Call) (executor.Work, error)
}

// files validates arguments on the engine goroutine and returns work that
// only touches Go values.
type files struct {
	base string
}

func (f *files) ops() []op {
	return []op{
		{"readFile", f.readFile},
		{"writeFile", f.writeFile(false)},
		{"appendFile", f.writeFile(true)},
		{"readDir", f.readDir},
		{"stat", f.stat},
		{"exists", f.exists},
		{"createDir", f.createDir},
		{"remove", f.remove},
		{"copy", f.copy},
		{"rename", f.rename},
		{"symlink", f.symlink},
		{"link", f.link},
		{"readLink", f.readLink},
		{"canonical", f.canonical},
	}
}

func (f *files) path(c *core.Call, i int) (string, error) {
	p, err := c.String(i)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", bridge.TypeMismatch("%s: path must not be empty", c.Name)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(f.base, p)
	}
	return p, nil
}

func (f *files) paths(c *core.Call) (string, string, error) {
	a, err := f.path(c, 0)
	if err != nil {
		return "", "", err
	}
	b, err := f.path(c, 1)
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}

// flag reads a boolean option from an options object argument.
func flag(c *core.Call, i int, name string) bool {
	v, ok := c.Option(i, name)
	return ok && v.Type() == bridge.TypeBool && v.Bool()
}

func (f *files) readFile(c *core.Call) (executor.Work, error) {
	p, err := f.path(c, 0)
	if err != nil {
		return nil, err
	}
	enc := ""
	switch arg := c.Arg(1); arg.Type() {
	case bridge.TypeString:
		enc = arg.Str()
	case bridge.TypeObject:
		if v, ok := arg.Get("encoding"); ok && v.Type() == bridge.TypeString {
			enc = v.Str()
		}
	}
	text := false
	switch strings.ToLower(enc) {
	case "":
	case "utf8", "utf-8":
		text = true
	default:
		return nil, bridge.TypeMismatch("readFile: unsupported encoding %q", enc)
	}
	return func(context.Context) (any, error) {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if text {
			return string(data), nil
		}
		return data, nil
	}, nil
}

func (f *files) writeFile(appendMode bool) func(*core.Call) (executor.Work, error) {
	return func(c *core.Call) (executor.Work, error) {
		p, err := f.path(c, 0)
		if err != nil {
			return nil, err
		}
		data, err := c.Data(1)
		if err != nil {
			return nil, err
		}
		data = append([]byte(nil), data...)
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if appendMode {
			flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		return func(context.Context) (any, error) {
			fh, err := os.OpenFile(p, flags, 0o644)
			if err != nil {
				return nil, err
			}
			if _, err := fh.Write(data); err != nil {
				fh.Close()
				return nil, err
			}
			return nil, fh.Close()
		}, nil
	}
}

func (f *files) readDir(c *core.Call) (executor.Work, error) {
	p, err := f.path(c, 0)
	if err != nil {
		return nil, err
	}
	return func(context.Context) (any, error) {
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		out := make([]any, len(entries))
		for i, e := range entries {
			mode := e.Type()
			out[i] = map[string]any{
				"name":        e.Name(),
				"isFile":      mode.IsRegular(),
				"isDirectory": mode.IsDir(),
				"isSymlink":   mode&os.ModeSymlink != 0,
			}
		}
		return out, nil
	}, nil
}

func (f *files) stat(c *core.Call) (executor.Work, error) {
	p, err := f.path(c, 0)
	if err != nil {
		return nil, err
	}
	return func(context.Context) (any, error) {
		li, err := os.Lstat(p)
		if err != nil {
			return nil, err
		}
		fi := li
		if li.Mode()&os.ModeSymlink != 0 {
			if target, err := os.Stat(p); err == nil {
				fi = target
			}
		}
		return map[string]any{
			"size":        fi.Size(),
			"isFile":      fi.Mode().IsRegular(),
			"isDirectory": fi.IsDir(),
			"isSymlink":   li.Mode()&os.ModeSymlink != 0,
			"mode":        int64(fi.Mode().Perm()),
			"modified":    fi.ModTime(),
		}, nil
	}, nil
}

func (f *files) exists(c *core.Call) (executor.Work, error) {
	p, err := f.path(c, 0)
	if err != nil {
		return nil, err
	}
	return func(context.Context) (any, error) {
		_, err := os.Stat(p)
		if err == nil {
			return true, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return nil, err
	}, nil
}

func (f *files) createDir(c *core.Call) (executor.Work, error) {
	p, err := f.path(c, 0)
	if err != nil {
		return nil, err
	}
	recursive := flag(c, 1, "recursive")
	return func(context.Context) (any, error) {
		if recursive {
			return nil, os.MkdirAll(p, 0o755)
		}
		return nil, os.Mkdir(p, 0o755)
	}, nil
}

func (f *files) remove(c *core.Call) (executor.Work, error) {
	p, err := f.path(c, 0)
	if err != nil {
		return nil, err
	}
	recursive := flag(c, 1, "recursive")
	return func(context.Context) (any, error) {
		if recursive {
			if _, err := os.Lstat(p); err != nil {
				return nil, err
			}
			return nil, os.RemoveAll(p)
		}
		return nil, os.Remove(p)
	}, nil
}

func (f *files) copy(c *core.Call) (executor.Work, error) {
	from, to, err := f.paths(c)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (any, error) {
		return nil, copyFile(from, to)
	}, nil
}

func copyFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()
	fi, err := src.Stat()
	if err != nil {
		return err
	}
	dst, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (f *files) rename(c *core.Call) (executor.Work, error) {
	from, to, err := f.paths(c)
	if err != nil {
		return nil, err
	}
	return func(context.Context) (any, error) {
		return nil, os.Rename(from, to)
	}, nil
}

func (f *files) symlink(c *core.Call) (executor.Work, error) {
	target, err := c.String(0)
	if err != nil {
		return nil, err
	}
	p, err := f.path(c, 1)
	if err != nil {
		return nil, err
	}
	return func(context.Context) (any, error) {
		return nil, os.Symlink(target, p)
	}, nil
}

func (f *files) link(c *core.Call) (executor.Work, error) {
	from, to, err := f.paths(c)
	if err != nil {
		return nil, err
	}
	return func(context.Context) (any, error) {
		return nil, os.Link(from, to)
	}, nil
}

func (f *files) readLink(c *core.Call) (executor.Work, error) {
	p, err := f.path(c, 0)
	if err != nil {
		return nil, err
	}
	return func(context.Context) (any, error) {
		return os.Readlink(p)
	}, nil
}

func (f *files) canonical(c *core.Call) (executor.Work, error) {
	p, err := f.path(c, 0)
	if err != nil {
		return nil, err
	}
	return func(context.Context) (any, error) {
		return filepath.EvalSymlinks(p)
	}, nil
}
