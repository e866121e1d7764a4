package bridge

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// Kind classifies a Failure.
type Kind uint8

const (
	KindRuntime Kind = iota
	KindResolution
	KindFetch
	KindCompile
	KindLink
	KindEvaluation
	KindTypeMismatch
	KindUnhandledRejection
	KindUncaught
	KindRealmClosed
)

var kindNames = [...]string{
	KindRuntime:            "RuntimeFailure",
	KindResolution:         "ResolutionError",
	KindFetch:              "FetchError",
	KindCompile:            "CompileError",
	KindLink:               "LinkError",
	KindEvaluation:         "EvaluationError",
	KindTypeMismatch:       "TypeMismatch",
	KindUnhandledRejection: "UnhandledRejection",
	KindUncaught:           "UncaughtException",
	KindRealmClosed:        "RealmClosed",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Sentinels for errors.Is. A Failure matches a sentinel of the same kind.
var (
	ErrRuntime            = &Failure{Kind: KindRuntime}
	ErrResolution         = &Failure{Kind: KindResolution}
	ErrFetch              = &Failure{Kind: KindFetch}
	ErrCompile            = &Failure{Kind: KindCompile}
	ErrLink               = &Failure{Kind: KindLink}
	ErrEvaluation         = &Failure{Kind: KindEvaluation}
	ErrTypeMismatch       = &Failure{Kind: KindTypeMismatch}
	ErrUnhandledRejection = &Failure{Kind: KindUnhandledRejection}
	ErrUncaught           = &Failure{Kind: KindUncaught}
	ErrRealmClosed        = &Failure{Kind: KindRealmClosed}
)

// Location is a position in a module's original source. Line and Column are
// 1-based; zero means unknown.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	switch {
	case l.Line == 0:
		return l.File
	case l.Column == 0:
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	default:
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
}

// Frame is one stack frame, already mapped to original positions.
type Frame struct {
	Function string
	Location
	Native bool
}

func (f Frame) String() string {
	fn := f.Function
	if fn == "" {
		fn = "<anonymous>"
	}
	if f.Native {
		return fn + " (native)"
	}
	return fmt.Sprintf("%s (%s)", fn, f.Location)
}

// Failure is the single error representation shared by the engine and
// native sides of the boundary.
type Failure struct {
	Kind Kind
	// Name is the script-visible error name (TypeError, AssertionError, ...).
	Name string
	// Code is a native error category (NotFound, PermissionDenied, ...).
	Code      string
	Message   string
	Specifier string
	Location  *Location
	Stack     []Frame
	Cause     error

	// thrown is the original engine value. It is only rooted once Keep is
	// called; until then it is valid while the capturing realm is open.
	thrown goja.Value
	roots  *Roots
	kept   *Root
}

// Newf creates a failure of the given kind.
func Newf(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a failure of the given kind caused by err.
func Wrap(kind Kind, err error, format string, args ...any) *Failure {
	f := Newf(kind, format, args...)
	f.Cause = err
	return f
}

// TypeMismatch reports a value outside the supported conversion subset.
func TypeMismatch(format string, args ...any) *Failure {
	f := Newf(KindTypeMismatch, format, args...)
	f.Name = "TypeError"
	return f
}

// At sets the specifier and location and returns f.
func (f *Failure) At(specifier string, loc *Location) *Failure {
	f.Specifier = specifier
	if loc != nil {
		f.Location = loc
	}
	return f
}

// Thrown returns the original engine value, or nil when there is none or
// its realm has been torn down.
func (f *Failure) Thrown() goja.Value {
	if f.thrown == nil || f.roots == nil || f.roots.Closed() {
		return nil
	}
	if f.kept != nil && f.kept.Released() {
		return nil
	}
	return f.thrown
}

// Keep roots the thrown value for holders that outlive the current call,
// such as errored module records. Keeping twice is a no-op.
func (f *Failure) Keep() *Failure {
	if f.thrown != nil && f.roots != nil && f.kept == nil {
		f.kept = f.roots.Acquire(f.thrown)
	}
	return f
}

// Release drops the root taken by Keep.
func (f *Failure) Release() {
	f.kept.Release()
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(f.Kind.String())
	if f.Location != nil {
		b.WriteString(" at ")
		b.WriteString(f.Location.String())
	} else if f.Specifier != "" {
		b.WriteString(" in ")
		b.WriteString(f.Specifier)
	}
	b.WriteString(": ")
	b.WriteString(f.displayMessage())
	if f.Cause != nil {
		if _, ok := f.Cause.(*Failure); !ok && f.Message == "" {
			b.WriteString(f.Cause.Error())
		}
	}
	return b.String()
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// Is matches sentinels by kind.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	if t == f {
		return true
	}
	return t.Message == "" && t.Specifier == "" && t.Kind == f.Kind
}

// Report renders the failure the way the CLI prints it.
func (f *Failure) Report() string {
	var b strings.Builder
	b.WriteString("Uncaught ")
	b.WriteString(f.Kind.String())
	if f.Location != nil {
		b.WriteString(" at ")
		b.WriteString(f.Location.String())
	} else if f.Specifier != "" {
		b.WriteString(" at ")
		b.WriteString(f.Specifier)
	}
	b.WriteString(" - ")
	b.WriteString(f.displayMessage())
	for _, fr := range f.Stack {
		b.WriteString("\n    at ")
		b.WriteString(fr.String())
	}
	if cause, ok := f.Cause.(*Failure); ok {
		b.WriteString("\nCaused by: ")
		b.WriteString(strings.TrimPrefix(cause.Report(), "Uncaught "))
	}
	return b.String()
}

func (f *Failure) displayMessage() string {
	if f.Name != "" && f.Name != "Error" {
		return f.Name + ": " + f.Message
	}
	return f.Message
}
