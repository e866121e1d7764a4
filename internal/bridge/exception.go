package bridge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// SourceMapper translates generated positions of a compiled unit back to
// its original source.
type SourceMapper interface {
	MapPosition(file string, line, column int) (Location, bool)
}

var (
	frameRe       = regexp.MustCompile(`^at (?:(.+?) \()?(.+):(\d+):(\d+)\(\d+\)\)?$`)
	nativeFrameRe = regexp.MustCompile(`^at (?:(.+?) \()?native\)?$`)
	parseErrRe    = regexp.MustCompile(`(?s)^(?:SyntaxError: )?(.+?): Line (\d+):(\d+) (.*)$`)
	compileErrRe  = regexp.MustCompile(`(?s)^SyntaxError: (.*) at (.+):(\d+):(\d+)$`)
)

// Capture normalizes any error returned by the engine or by native code into
// a Failure. Call it immediately after the engine reports an exception.
func (b *Bridge) Capture(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return b.fromException(ex)
	}
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		return &Failure{Kind: KindRuntime, Name: "InterruptedError", Message: fmt.Sprint(ie.Value()), Cause: err}
	}
	var se *goja.CompilerSyntaxError
	if errors.As(err, &se) {
		return b.SyntaxFailure(err)
	}
	return &Failure{Kind: KindRuntime, Message: err.Error(), Code: CodeOf(err), Cause: err}
}

// SyntaxFailure converts a parse or compile error into a CompileError with a
// mapped location.
func (b *Bridge) SyntaxFailure(err error) *Failure {
	f := &Failure{Kind: KindCompile, Name: "SyntaxError", Message: err.Error(), Cause: err}
	if m := parseErrRe.FindStringSubmatch(err.Error()); m != nil {
		f.Message = m[4]
		loc := b.mapLocation(m[1], atoi(m[2]), atoi(m[3]))
		f.Location = &loc
	} else if m := compileErrRe.FindStringSubmatch(err.Error()); m != nil {
		f.Message = m[1]
		loc := b.mapLocation(m[2], atoi(m[3]), atoi(m[4]))
		f.Location = &loc
	}
	if f.Location != nil {
		f.Specifier = f.Location.File
	}
	return f
}

func (b *Bridge) fromException(ex *goja.Exception) *Failure {
	return b.fromValue(ex.Value(), ex.String(), ex)
}

// Rejection converts a promise rejection reason into a Failure.
func (b *Bridge) Rejection(reason goja.Value) *Failure {
	f := b.fromValue(reason, "", nil)
	if f.Message == "" && reason != nil {
		f.Message = reason.String()
	}
	return f
}

func (b *Bridge) fromValue(v goja.Value, fallback string, cause error) *Failure {
	f := &Failure{Kind: KindRuntime, Cause: cause, thrown: v, roots: b.roots}
	stack := ""
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Error" {
		f.Name = stringProp(obj, "name")
		f.Message = stringProp(obj, "message")
		f.Code = stringProp(obj, "code")
		if k, ok := KindByName(stringProp(obj, "kind")); ok {
			f.Kind = k
		}
		stack = stringProp(obj, "stack")
	} else if v != nil && !goja.IsUndefined(v) {
		f.Message = v.String()
	}
	if !strings.Contains(stack, "\tat ") && fallback != "" {
		stack = fallback
	}
	f.Stack = b.ParseStack(stack)
	for _, fr := range f.Stack {
		if !fr.Native {
			loc := fr.Location
			f.Location = &loc
			f.Specifier = loc.File
			break
		}
	}
	return f
}

// ParseStack parses engine stack text into frames mapped to original
// positions.
func (b *Bridge) ParseStack(text string) []Frame {
	var frames []Frame
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "at ") {
			continue
		}
		if m := frameRe.FindStringSubmatch(line); m != nil {
			frames = append(frames, Frame{
				Function: m[1],
				Location: b.mapLocation(m[2], atoi(m[3]), atoi(m[4])),
			})
			continue
		}
		if m := nativeFrameRe.FindStringSubmatch(line); m != nil {
			frames = append(frames, Frame{Function: m[1], Native: true})
		}
	}
	return frames
}

func (b *Bridge) mapLocation(file string, line, col int) Location {
	if b.mapper != nil {
		if loc, ok := b.mapper.MapPosition(file, line, col); ok {
			return loc
		}
	}
	return Location{File: file, Line: line, Column: col}
}

// Call invokes fn and converts any exception it throws into a Failure.
func (b *Bridge) Call(fn goja.Value, this goja.Value, args ...goja.Value) (goja.Value, error) {
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, TypeMismatch("value is not a function")
	}
	if this == nil {
		this = goja.Undefined()
	}
	res, err := callable(this, args...)
	if err != nil {
		return nil, b.Capture(err)
	}
	return res, nil
}

// ToEngineError converts a failure into a script-visible value. The
// original thrown value is returned while it is still available.
func (b *Bridge) ToEngineError(f *Failure) goja.Value {
	if v := f.Thrown(); v != nil && f.roots == b.roots {
		return v
	}
	var cause goja.Value
	switch c := f.Cause.(type) {
	case nil:
	case *Failure:
		cause = b.ToEngineError(c)
	default:
		if _, ok := c.(*goja.Exception); !ok {
			cause = b.vm.ToValue(c.Error())
		}
	}
	obj := b.newError(f.Name, f.Message, f.Kind.String(), f.Code, cause)
	if o, ok := obj.(*goja.Object); ok && f.Specifier != "" {
		_ = o.Set("specifier", f.Specifier)
	}
	return obj
}

// Throw throws f into script. It must be called from a native function
// invoked by the engine.
func (b *Bridge) Throw(f *Failure) {
	panic(b.ToEngineError(f))
}

// ThrowError captures err and throws it into script.
func (b *Bridge) ThrowError(err error) {
	b.Throw(b.Capture(err))
}

func (b *Bridge) newError(name, message, kind, code string, cause goja.Value) goja.Value {
	ctorName := "Error"
	switch name {
	case "TypeError", "RangeError", "SyntaxError", "ReferenceError":
		ctorName = name
	}
	obj, err := b.vm.New(b.vm.Get(ctorName), b.vm.ToValue(message))
	if err != nil {
		return b.vm.ToValue(message)
	}
	if name != "" && name != ctorName {
		_ = obj.Set("name", name)
	}
	if kind != "" {
		_ = obj.Set("kind", kind)
	}
	if code != "" {
		_ = obj.Set("code", code)
	}
	if cause != nil {
		_ = obj.Set("cause", cause)
	}
	return obj
}

func (b *Bridge) recovered(r any, what string) *Failure {
	switch x := r.(type) {
	case *goja.Exception:
		f := b.fromException(x)
		return Wrap(KindTypeMismatch, f, "%s: %s", what, f.Message)
	case goja.Value:
		return TypeMismatch("%s: %s", what, x.String())
	}
	panic(r)
}

// KindByName maps a kind name back to its Kind.
func KindByName(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name && name != "" {
			return Kind(k), true
		}
	}
	return 0, false
}

// CodeOf classifies common native errors.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, fs.ErrNotExist):
		return "NotFound"
	case errors.Is(err, fs.ErrPermission):
		return "PermissionDenied"
	case errors.Is(err, fs.ErrExist):
		return "AlreadyExists"
	case errors.Is(err, context.DeadlineExceeded):
		return "TimedOut"
	case errors.Is(err, context.Canceled):
		return "Interrupted"
	}
	return ""
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
