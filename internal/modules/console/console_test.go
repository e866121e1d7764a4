package console_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cryguy/runjs/internal/core"
	"github.com/cryguy/runjs/internal/realm/realmtest"
)

func TestLevels(t *testing.T) {
	h := realmtest.New(t, core.Config{}, nil)
	h.MustModule(t, `
console.log("a", 1, { k: [1, "s"] });
console.info("info");
console.debug("debug");
console.warn("careful");
console.error(new Error("bad"));
`)
	assert.Equal(t, "a 1 { k: [ 1, 's' ] }\ninfo\ndebug\n", h.Stdout.String())
	assert.Contains(t, h.Stderr.String(), "careful\n")
	assert.Contains(t, h.Stderr.String(), "bad")
}

func TestAssertCountTime(t *testing.T) {
	h := realmtest.New(t, core.Config{}, nil)
	h.MustModule(t, `
console.assert(true, "never");
console.assert(false, "shown", 2);
console.count();
console.count("x");
console.count();
console.countReset();
console.count();
console.time("t");
console.timeEnd("t");
console.timeEnd("missing");
`)
	assert.Equal(t, "Assertion failed: shown 2\n"+`Timer "missing" does not exist`+"\n", h.Stderr.String())
	out := h.Stdout.String()
	assert.Regexp(t, regexp.MustCompile(`^default: 1\nx: 1\ndefault: 2\ndefault: 1\nt: \d+\.\d{3}ms\n$`), out)
}

func TestTraceMapsFrames(t *testing.T) {
	h := realmtest.New(t, core.Config{}, nil)
	h.MustModule(t, `
function inner() {
	console.trace("here");
}
inner();
`)
	assert.Contains(t, h.Stderr.String(), "Trace: here\n    at inner")
}

func TestHugeSparseArray(t *testing.T) {
	h := realmtest.New(t, core.Config{}, nil)
	h.MustModule(t, `console.log(new Array(1e9), [1]);`)
	assert.Equal(t, "Array(1000000000) [ 1 ]\n", h.Stdout.String())
}
