// Package url provides helpers for domain names and file URLs.
package url

import (
	"net/url"
	"path/filepath"
	"strings"

	"golang.org/x/net/idna"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/core"
	"github.com/cryguy/runjs/internal/loader"
)

// Capability is the url built-in.
type Capability struct{}

func New() Capability { return Capability{} }

func (Capability) Name() string { return "url" }

func (Capability) Register(h core.Host) (*core.Exports, error) {
	base := h.Config().BaseDir
	return core.NewExports(h).
		Func("domainToASCII", func(c *core.Call) (bridge.Value, error) {
			domain, err := c.String(0)
			if err != nil {
				return bridge.Undefined(), err
			}
			strict := c.Arg(1).Type() == bridge.TypeBool && c.Arg(1).Bool()
			out, err := DomainToASCII(domain, strict)
			if err != nil {
				return bridge.Undefined(), err
			}
			return bridge.String(out), nil
		}).
		Func("domainToUnicode", func(c *core.Call) (bridge.Value, error) {
			domain, err := c.String(0)
			if err != nil {
				return bridge.Undefined(), err
			}
			out, err := DomainToUnicode(domain)
			if err != nil {
				return bridge.Undefined(), err
			}
			return bridge.String(out), nil
		}).
		Func("fileURLToPath", func(c *core.Call) (bridge.Value, error) {
			raw, err := c.String(0)
			if err != nil {
				return bridge.Undefined(), err
			}
			p, err := FileURLToPath(raw)
			if err != nil {
				return bridge.Undefined(), err
			}
			return bridge.String(p), nil
		}).
		Func("pathToFileURL", func(c *core.Call) (bridge.Value, error) {
			p, err := c.String(0)
			if err != nil {
				return bridge.Undefined(), err
			}
			if !filepath.IsAbs(p) {
				p = filepath.Join(base, p)
			}
			return bridge.String(loader.FileURL(p)), nil
		}), nil
}

// DomainToASCII converts an internationalized domain to its punycode form.
// Strict mode applies the lookup profile, which also rejects hyphen and
// label-length violations.
func DomainToASCII(domain string, strict bool) (string, error) {
	profile := idna.ToASCII
	if strict {
		profile = idna.Lookup.ToASCII
	}
	out, err := profile(domain)
	if err != nil {
		return "", invalid(domain, err)
	}
	return out, nil
}

// DomainToUnicode converts a punycode domain back to Unicode.
func DomainToUnicode(domain string) (string, error) {
	out, err := idna.ToUnicode(domain)
	if err != nil {
		return "", invalid(domain, err)
	}
	return out, nil
}

func invalid(domain string, err error) *bridge.Failure {
	f := bridge.Wrap(bridge.KindRuntime, err, "invalid domain %q: %v", domain, err)
	f.Name = "TypeError"
	f.Code = "InvalidInput"
	return f
}

// FileURLToPath returns the path of a file: URL.
func FileURLToPath(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", invalidURL(raw, err.Error())
	}
	if u.Scheme != "file" {
		return "", invalidURL(raw, "scheme must be file")
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", invalidURL(raw, "host must be empty or localhost")
	}
	if strings.Contains(u.EscapedPath(), "%2F") || strings.Contains(u.EscapedPath(), "%2f") {
		return "", invalidURL(raw, "path must not include encoded / characters")
	}
	return filepath.FromSlash(u.Path), nil
}

func invalidURL(raw, reason string) *bridge.Failure {
	f := bridge.Newf(bridge.KindRuntime, "invalid file URL %q: %s", raw, reason)
	f.Name = "TypeError"
	f.Code = "InvalidInput"
	return f
}
