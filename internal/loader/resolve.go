package loader

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/cryguy/runjs/internal/bridge"
)

// Specifier prefixes for units that do not live on disk.
const (
	BuiltinPrefix = "builtin:"
	EvalPrefix    = "eval:"
)

var tryExtensions = []string{".ts", ".js", ".mjs", ".json"}

// Resolver turns import requests into canonical specifiers.
type Resolver struct {
	baseDir  string
	builtins map[string]bool
	fetcher  Fetcher
}

// NewResolver creates a resolver. Relative requests without a file
// referrer resolve against baseDir.
func NewResolver(baseDir string, builtins []string, fetcher Fetcher) *Resolver {
	if abs, err := filepath.Abs(baseDir); err == nil {
		baseDir = abs
	}
	r := &Resolver{baseDir: baseDir, builtins: make(map[string]bool), fetcher: fetcher}
	for _, b := range builtins {
		r.builtins[b] = true
	}
	return r
}

// BaseDir returns the absolute base directory.
func (r *Resolver) BaseDir() string { return r.baseDir }

// IsBuiltin reports whether name is a registered built-in.
func (r *Resolver) IsBuiltin(name string) bool { return r.builtins[name] }

// Resolve returns the canonical specifier of request imported from
// referrer. The same inputs always yield the same specifier.
func (r *Resolver) Resolve(request, referrer string) (string, error) {
	if request == "" {
		return "", r.fail(request, referrer, "empty module request")
	}
	for _, prefix := range []string{BuiltinPrefix, "runjs:"} {
		if name, ok := strings.CutPrefix(request, prefix); ok {
			if !r.builtins[name] {
				return "", r.fail(request, referrer, "unknown built-in module")
			}
			return BuiltinPrefix + name, nil
		}
	}

	var candidate string
	switch {
	case isRelative(request):
		candidate = filepath.Join(r.referrerDir(referrer), filepath.FromSlash(request))
	case filepath.IsAbs(request):
		candidate = filepath.Clean(request)
	case strings.HasPrefix(request, "file://"):
		u, err := url.Parse(request)
		if err != nil || u.Path == "" {
			return "", r.fail(request, referrer, "invalid file URL")
		}
		candidate = filepath.Clean(filepath.FromSlash(u.Path))
	case r.builtins[request]:
		return BuiltinPrefix + request, nil
	default:
		return "", r.fail(request, referrer, "bare specifiers are limited to built-in modules")
	}
	return r.lookupFile(candidate), nil
}

func (r *Resolver) lookupFile(candidate string) string {
	if r.fetcher == nil || r.fetcher.Exists(candidate) {
		return candidate
	}
	for _, ext := range tryExtensions {
		if r.fetcher.Exists(candidate + ext) {
			return candidate + ext
		}
	}
	for _, ext := range tryExtensions {
		index := filepath.Join(candidate, "index"+ext)
		if r.fetcher.Exists(index) {
			return index
		}
	}
	return candidate
}

func (r *Resolver) referrerDir(referrer string) string {
	if referrer == "" || strings.HasPrefix(referrer, EvalPrefix) || strings.HasPrefix(referrer, BuiltinPrefix) {
		return r.baseDir
	}
	return filepath.Dir(referrer)
}

func (r *Resolver) fail(request, referrer, msg string) error {
	f := bridge.Newf(bridge.KindResolution, "cannot resolve %q: %s", request, msg)
	f.Code = "NotFound"
	return f.At(referrer, nil)
}

func isRelative(request string) bool {
	return request == "." || request == ".." ||
		strings.HasPrefix(request, "./") || strings.HasPrefix(request, "../")
}

// KindOf returns how a specifier is evaluated when imported as a module.
func KindOf(specifier string) Kind {
	if strings.HasPrefix(specifier, BuiltinPrefix) {
		return KindBuiltin
	}
	if strings.EqualFold(filepath.Ext(specifier), ".json") {
		return KindJSON
	}
	return KindModule
}

// SourceKindOf maps the file extension to a source language. Unknown
// extensions are JavaScript.
func SourceKindOf(specifier string) SourceKind {
	switch strings.ToLower(filepath.Ext(specifier)) {
	case ".ts", ".mts", ".cts":
		return SourceTypeScript
	}
	return SourceJavaScript
}

// FileURL returns the file:// URL of an absolute path.
func FileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}
