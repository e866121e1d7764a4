package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailure_Report(t *testing.T) {
	f := &Failure{
		Kind:     KindEvaluation,
		Name:     "TypeError",
		Message:  "x is not a function",
		Location: &Location{File: "/app/main.ts", Line: 4, Column: 7},
		Stack: []Frame{
			{Function: "run", Location: Location{File: "/app/main.ts", Line: 4, Column: 7}},
			{Function: "forEach", Native: true},
		},
	}

	want := "Uncaught EvaluationError at /app/main.ts:4:7 - TypeError: x is not a function\n" +
		"    at run (/app/main.ts:4:7)\n" +
		"    at forEach (native)"
	assert.Equal(t, want, f.Report())
	assert.Equal(t, "EvaluationError at /app/main.ts:4:7: TypeError: x is not a function", f.Error())
}

func TestFailure_ReportIncludesCause(t *testing.T) {
	cause := Newf(KindFetch, "no such file").At("/app/dep.js", nil)
	f := Wrap(KindLink, cause, "dependency %q failed", "./dep.js").At("/app/main.js", nil)

	assert.Contains(t, f.Report(), "Uncaught LinkError at /app/main.js - dependency \"./dep.js\" failed")
	assert.Contains(t, f.Report(), "Caused by: FetchError at /app/dep.js - no such file")
}

func TestFailure_IsByKind(t *testing.T) {
	f := Newf(KindLink, "dep failed")
	wrapped := errors.Join(errors.New("context"), f)

	assert.True(t, errors.Is(f, ErrLink))
	assert.True(t, errors.Is(wrapped, ErrLink))
	assert.False(t, errors.Is(f, ErrFetch))

	var got *Failure
	assert.True(t, errors.As(wrapped, &got))
	assert.Same(t, f, got)
}

func TestKindByName(t *testing.T) {
	k, ok := KindByName("CompileError")
	assert.True(t, ok)
	assert.Equal(t, KindCompile, k)

	_, ok = KindByName("Nope")
	assert.False(t, ok)
}
