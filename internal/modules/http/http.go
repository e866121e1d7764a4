// Package http is the HTTP client built-in. Requests run on the executor;
// responses are fully buffered before the promise settles.
package http

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/core"
	"github.com/cryguy/runjs/internal/executor"
)

// Capability is the http built-in.
type Capability struct{}

func New() Capability { return Capability{} }

func (Capability) Name() string { return "http" }

func (Capability) Register(h core.Host) (*core.Exports, error) {
	client, err := NewClient(h.Config().HTTP, h.Logger().Named("http"))
	if err != nil {
		return nil, err
	}
	h.RegisterCleanup(client.Close)

	send := func(req *Request) executor.Work {
		return func(ctx context.Context) (any, error) {
			resp, err := client.Do(ctx, req)
			if err != nil {
				return nil, err
			}
			return core.EngineResult(func(h core.Host) (goja.Value, error) {
				return responseObject(h, resp)
			}), nil
		}
	}
	request := func(c *core.Call) (executor.Work, error) {
		req, err := parseRequest(c, 0, "", "")
		if err != nil {
			return nil, err
		}
		if err := client.Check(req); err != nil {
			return nil, err
		}
		return send(req), nil
	}
	method := func(m string) core.AsyncFunc {
		return func(c *core.Call) (executor.Work, error) {
			u, err := c.String(0)
			if err != nil {
				return nil, err
			}
			req, err := parseRequest(c, 1, u, m)
			if err != nil {
				return nil, err
			}
			if err := client.Check(req); err != nil {
				return nil, err
			}
			return send(req), nil
		}
	}

	return core.NewExports(h).
		Async("request", request).
		Async("get", method(http.MethodGet)).
		Async("post", method(http.MethodPost)).
		Async("put", method(http.MethodPut)).
		Async("del", method(http.MethodDelete)).
		Async("websocket", dialer(client)), nil
}

// parseRequest reads an options object at argument i. url and method, when
// non-empty, override the options.
func parseRequest(c *core.Call, i int, url, method string) (*Request, error) {
	opts := c.Arg(i)
	if !opts.IsNullish() && opts.Type() != bridge.TypeObject {
		return nil, bridge.TypeMismatch("%s: options must be an object, got %s", c.Name, opts.Type())
	}
	req := &Request{URL: url, Method: method, Header: http.Header{}, Redirect: RedirectFollow}
	str := func(key string) (string, error) {
		v, ok := opts.Get(key)
		if !ok || v.IsNullish() {
			return "", nil
		}
		if v.Type() != bridge.TypeString {
			return "", bridge.TypeMismatch("%s: option %q must be a string, got %s", c.Name, key, v.Type())
		}
		return v.Str(), nil
	}
	if req.URL == "" {
		u, err := str("url")
		if err != nil {
			return nil, err
		}
		req.URL = u
	}
	if req.Method == "" {
		m, err := str("method")
		if err != nil {
			return nil, err
		}
		req.Method = strings.ToUpper(m)
		if req.Method == "" {
			req.Method = http.MethodGet
		}
	}
	redirect, err := str("redirect")
	if err != nil {
		return nil, err
	}
	if redirect != "" {
		req.Redirect = redirect
	}
	if hv, ok := opts.Get("headers"); ok && !hv.IsNullish() {
		if hv.Type() != bridge.TypeObject {
			return nil, bridge.TypeMismatch("%s: headers must be an object, got %s", c.Name, hv.Type())
		}
		for _, k := range hv.Keys() {
			v, _ := hv.Get(k)
			values := []bridge.Value{v}
			if v.Type() == bridge.TypeArray {
				values = v.Items()
			}
			for _, item := range values {
				s, ok := headerValue(item)
				if !ok {
					return nil, bridge.TypeMismatch("%s: header %q has unsupported value %s", c.Name, k, item.Type())
				}
				req.Header.Add(k, s)
			}
		}
	}
	if bv, ok := opts.Get("body"); ok && !bv.IsNullish() {
		switch bv.Type() {
		case bridge.TypeString:
			req.Body = []byte(bv.Str())
		case bridge.TypeBytes:
			req.Body = append([]byte(nil), bv.Bytes()...)
		default:
			return nil, bridge.TypeMismatch("%s: body must be a string or Uint8Array, got %s", c.Name, bv.Type())
		}
	}
	return req, nil
}

func headerValue(v bridge.Value) (string, bool) {
	switch v.Type() {
	case bridge.TypeString:
		return v.Str(), true
	case bridge.TypeNumber:
		return strconv.FormatFloat(v.Number(), 'f', -1, 64), true
	case bridge.TypeBool:
		return strconv.FormatBool(v.Bool()), true
	}
	return "", false
}

// responseObject builds the script view of resp.
func responseObject(h core.Host, resp *Response) (goja.Value, error) {
	vm := h.Runtime()
	b := h.Bridge()
	body, err := b.NewUint8Array(resp.Body)
	if err != nil {
		return nil, err
	}
	headers := vm.NewObject()
	names := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if err := headers.Set(k, resp.Header[k]); err != nil {
			return nil, err
		}
	}
	obj := vm.NewObject()
	text := string(resp.Body)
	props := []struct {
		name  string
		value any
	}{
		{"status", resp.Status},
		{"statusText", resp.StatusText},
		{"ok", resp.Status >= 200 && resp.Status < 300},
		{"url", resp.URL},
		{"redirected", resp.Redirected},
		{"headers", headers},
		{"body", body},
		{"text", func() string { return text }},
		{"json", func(goja.FunctionCall) goja.Value {
			v, err := b.Call(vm.Get("JSON").ToObject(vm).Get("parse"), goja.Undefined(), vm.ToValue(text))
			if err != nil {
				b.ThrowError(err)
			}
			return v
		}},
	}
	for _, p := range props {
		if err := obj.Set(p.name, p.value); err != nil {
			return nil, err
		}
	}
	return obj, nil
}
