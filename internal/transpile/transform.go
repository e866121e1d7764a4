// Package transpile turns module sources into code the engine can compile:
// TypeScript is stripped to JavaScript and ES module syntax is lowered to a
// CommonJS-shaped body that the loader wraps in a function. Every lowered
// unit carries a position map back to its original source.
package transpile

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"

	"github.com/cryguy/runjs/internal/bridge"
)

// Loader selects how the source is parsed.
type Loader uint8

const (
	LoaderJS Loader = iota
	LoaderTS
	LoaderJSON
)

func (l Loader) String() string {
	switch l {
	case LoaderTS:
		return "ts"
	case LoaderJSON:
		return "json"
	}
	return "js"
}

// Format selects the output shape.
type Format uint8

const (
	// FormatScript keeps a classic script (types are still stripped).
	FormatScript Format = iota
	// FormatModule lowers import/export to require/module.exports.
	FormatModule
)

// Input is one unit to transform.
type Input struct {
	Name   string
	Source string
	Loader Loader
	Format Format
}

// Output is the transformed unit.
type Output struct {
	Code string
	// Imports lists module requests in source order, without duplicates.
	Imports []string
	// Async reports top-level await; the body must run in an async function.
	Async bool
	// Map is nil when the source was passed through untouched.
	Map *PositionMap
}

// MetaIdentifier is the free identifier import.meta is rewritten to.
const MetaIdentifier = "__meta"

// awaitMarker stands in for a top-level await while lowering. It is valid
// wherever await is and survives lowering unchanged.
const awaitMarker = "void void void "

// paddedAwait replaces the marker in generated code without moving any
// column after it.
var paddedAwait = "await" + strings.Repeat(" ", len(awaitMarker)-len("await"))

const maxAwaitRewrites = 64

var requireRe = regexp.MustCompile(`(?m)^(?:var [\w$]+ = (?:__toESM\()?|__reExport\([\w$]+, )?require\("((?:[^"\\]|\\.)*)"\)`)

// Transformer runs esbuild transforms with an optional cache.
type Transformer struct {
	cache Cache
	log   *zap.Logger
}

// New creates a transformer. A nil cache disables caching.
func New(cache Cache, log *zap.Logger) *Transformer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transformer{cache: cache, log: log}
}

// Transform transforms in. Failures are CompileErrors located in the
// original source.
func (t *Transformer) Transform(in Input) (*Output, error) {
	if in.Loader == LoaderJS && in.Format == FormatScript {
		return &Output{Code: in.Source}, nil
	}

	key := Key(in)
	if t.cache != nil {
		if out, ok := t.cache.Get(key); ok {
			t.log.Debug("transform cache hit", zap.String("name", in.Name))
			return out, nil
		}
	}

	out, err := t.transform(in)
	if err != nil {
		return nil, err
	}
	if t.cache != nil {
		if err := t.cache.Put(key, out); err != nil {
			t.log.Warn("transform cache write failed", zap.String("name", in.Name), zap.Error(err))
		}
	}
	t.log.Debug("transformed",
		zap.String("name", in.Name),
		zap.Stringer("loader", in.Loader),
		zap.Int("bytes", len(out.Code)),
		zap.Bool("async", out.Async))
	return out, nil
}

func (t *Transformer) transform(in Input) (*Output, error) {
	opts := esbuild.TransformOptions{
		Sourcefile: in.Name,
		Sourcemap:  esbuild.SourceMapExternal,
		Target:     esbuild.ES2017,
		Platform:   esbuild.PlatformNeutral,
		LogLevel:   esbuild.LogLevelSilent,
		Supported:  map[string]bool{"dynamic-import": false},
	}
	switch in.Loader {
	case LoaderTS:
		opts.Loader = esbuild.LoaderTS
	case LoaderJSON:
		opts.Loader = esbuild.LoaderJSON
	default:
		opts.Loader = esbuild.LoaderJS
	}
	if in.Format == FormatModule {
		opts.Format = esbuild.FormatCommonJS
		opts.Define = map[string]string{"import.meta": MetaIdentifier}
	}

	src := in.Source
	async := false
	var res esbuild.TransformResult
	for attempt := 0; ; attempt++ {
		res = esbuild.Transform(src, opts)
		if len(res.Errors) == 0 {
			break
		}
		awaits := topLevelAwaits(res.Errors)
		if in.Format != FormatModule || len(awaits) == 0 || attempt == maxAwaitRewrites {
			return nil, compileFailure(in.Name, res.Errors)
		}
		rewritten, err := rewriteAwaits(in.Name, src, awaits)
		if err != nil {
			return nil, err
		}
		src = rewritten
		async = true
	}

	code := string(res.Code)
	raw := res.Map
	if async {
		code = strings.ReplaceAll(code, awaitMarker, paddedAwait)
		if len(raw) > 0 {
			var err error
			if raw, err = withAwaitMarkers(raw, awaitMarkers(src)); err != nil {
				return nil, fmt.Errorf("transpile: recording await markers for %s: %w", in.Name, err)
			}
		}
	}
	out := &Output{Code: code, Async: async}
	if in.Format == FormatModule {
		out.Imports = scanImports(code)
	}
	if len(raw) > 0 {
		pm, err := ParsePositionMap(raw)
		if err != nil {
			return nil, fmt.Errorf("transpile: parsing source map for %s: %w", in.Name, err)
		}
		out.Map = pm
	}
	return out, nil
}

func topLevelAwaits(msgs []esbuild.Message) []esbuild.Location {
	var locs []esbuild.Location
	seen := make(map[[2]int]bool)
	for _, m := range msgs {
		if !strings.HasPrefix(m.Text, "Top-level await") || m.Location == nil {
			return nil
		}
		at := [2]int{m.Location.Line, m.Location.Column}
		if !seen[at] {
			seen[at] = true
			locs = append(locs, *m.Location)
		}
	}
	return locs
}

// rewriteAwaits replaces each reported await with the marker, last first so
// earlier offsets stay valid.
func rewriteAwaits(name, src string, locs []esbuild.Location) (string, error) {
	sort.Slice(locs, func(i, j int) bool {
		if locs[i].Line != locs[j].Line {
			return locs[i].Line > locs[j].Line
		}
		return locs[i].Column > locs[j].Column
	})
	lineStarts := []int{0}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			lineStarts = append(lineStarts, i+1)
		}
	}
	for _, loc := range locs {
		if loc.Line < 1 || loc.Line > len(lineStarts) {
			return "", awaitFailure(name, loc, "cannot locate top-level await")
		}
		off := lineStarts[loc.Line-1] + loc.Column
		if off+5 > len(src) || src[off:off+5] != "await" {
			return "", awaitFailure(name, loc, "cannot locate top-level await")
		}
		if strings.HasSuffix(strings.TrimRight(src[:off], " \t"), "for") {
			return "", awaitFailure(name, loc, "top-level for await is not supported")
		}
		src = src[:off] + awaitMarker + src[off+5:]
	}
	return src, nil
}

// awaitMarkers returns the 1-based line and 0-based UTF-16 column of every
// marker in src.
func awaitMarkers(src string) [][2]int {
	var out [][2]int
	for i, line := range strings.Split(src, "\n") {
		from := 0
		for {
			j := strings.Index(line[from:], awaitMarker)
			if j < 0 {
				break
			}
			at := from + j
			out = append(out, [2]int{i + 1, len(utf16.Encode([]rune(line[:at])))})
			from = at + len(awaitMarker)
		}
	}
	return out
}

func awaitFailure(name string, loc esbuild.Location, msg string) error {
	f := bridge.Newf(bridge.KindCompile, "%s", msg)
	f.Name = "SyntaxError"
	return f.At(name, &bridge.Location{File: name, Line: loc.Line, Column: loc.Column + 1})
}

func compileFailure(name string, msgs []esbuild.Message) error {
	first := msgs[0]
	f := bridge.Newf(bridge.KindCompile, "%s", first.Text)
	f.Name = "SyntaxError"
	var loc *bridge.Location
	if first.Location != nil {
		loc = &bridge.Location{File: name, Line: first.Location.Line, Column: first.Location.Column + 1}
	}
	if len(msgs) > 1 {
		f.Message = fmt.Sprintf("%s (and %d more errors)", first.Text, len(msgs)-1)
	}
	return f.At(name, loc)
}

func scanImports(code string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range requireRe.FindAllStringSubmatch(code, -1) {
		spec, err := strconv.Unquote(`"` + m[1] + `"`)
		if err != nil {
			spec = m[1]
		}
		if !seen[spec] {
			seen[spec] = true
			out = append(out, spec)
		}
	}
	return out
}
