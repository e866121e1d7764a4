package http

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"io"
	"net/netip"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/core"
)

func newClient(t *testing.T, mutate func(*core.HTTPConfig)) *Client {
	t.Helper()
	cfg := core.Config{HTTP: core.HTTPConfig{AllowPrivate: true}}
	if mutate != nil {
		mutate(&cfg.HTTP)
	}
	cfg.Normalize()
	c, err := NewClient(cfg.HTTP, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func get(url string) *Request {
	return &Request{URL: url, Method: http.MethodGet, Header: http.Header{}}
}

func TestCheckDestination(t *testing.T) {
	cases := map[string]bool{
		"http://localhost:8080/":         true,
		"http://API.localhost./":         true,
		"http://127.0.0.1/":              true,
		"http://10.1.2.3/":               true,
		"http://[::1]/":                  true,
		"http://[::ffff:192.168.1.1]/":   true,
		"http://169.254.169.254/latest/": true,
		"http://8.8.8.8/":                false,
		"https://example.com/x":          false,
		"not a url with no host at":      true,
	}
	for u, refused := range cases {
		err := checkDestination(u)
		if !refused {
			assert.NoError(t, err, u)
			continue
		}
		var f *bridge.Failure
		require.ErrorAs(t, err, &f, u)
		assert.Equal(t, "PermissionDenied", f.Code, u)
		assert.ErrorIs(t, err, ErrPrivateAddress, u)
	}
}

func TestBlocked(t *testing.T) {
	assert.False(t, Blocked(netip.MustParseAddr("1.1.1.1")))
	assert.False(t, Blocked(netip.MustParseAddr("2606:4700::1111")))
	assert.True(t, Blocked(netip.MustParseAddr("::ffff:10.0.0.1")))
	assert.True(t, Blocked(netip.MustParseAddr("fe80::1")))
	assert.True(t, Blocked(netip.Addr{}))
}

func TestClient_PrivateGuard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := newClient(t, func(h *core.HTTPConfig) { h.AllowPrivate = false })
	_, err := c.Do(context.Background(), get(srv.URL))
	assert.ErrorIs(t, err, ErrPrivateAddress)
	var f *bridge.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "PermissionDenied", f.Code)
}

func TestDialPublic_RefusesLoopback(t *testing.T) {
	_, err := dialPublic(context.Background(), "tcp", "localhost:80")
	var f *bridge.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "PermissionDenied", f.Code)
}

func TestClient_DecodesBodies(t *testing.T) {
	const payload = "the quick brown fox"
	encoders := map[string]func(io.Writer) io.WriteCloser{
		"gzip":    func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
		"deflate": func(w io.Writer) io.WriteCloser { return zlib.NewWriter(w) },
		"br":      func(w io.Writer) io.WriteCloser { return brotli.NewWriter(w) },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := r.URL.Query().Get("enc")
		if enc == "raw-deflate" {
			w.Header().Set("Content-Encoding", "deflate")
			fw, _ := flate.NewWriter(w, flate.DefaultCompression)
			_, _ = io.WriteString(fw, payload)
			_ = fw.Close()
			return
		}
		w.Header().Set("Content-Encoding", enc)
		zw := encoders[enc](w)
		_, _ = io.WriteString(zw, payload)
		_ = zw.Close()
	}))
	defer srv.Close()

	c := newClient(t, nil)
	for _, enc := range []string{"gzip", "deflate", "br", "raw-deflate"} {
		resp, err := c.Do(context.Background(), get(srv.URL+"/?enc="+enc))
		require.NoError(t, err, enc)
		assert.Equal(t, payload, string(resp.Body), enc)
	}
}

func TestClient_ResponseLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer srv.Close()

	c := newClient(t, func(h *core.HTTPConfig) { h.MaxResponseBytes = 16 })
	_, err := c.Do(context.Background(), get(srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 16 bytes")

	c = newClient(t, func(h *core.HTTPConfig) { h.MaxResponseBytes = 64 })
	resp, err := c.Do(context.Background(), get(srv.URL))
	require.NoError(t, err)
	assert.Len(t, resp.Body, 64)
}

func TestClient_ForbiddenHeadersDropped(t *testing.T) {
	var seen http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
	}))
	defer srv.Close()

	req := get(srv.URL)
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	req.Header.Set("X-Custom", "yes")
	_, err := newClient(t, nil).Do(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, seen.Get("X-Forwarded-For"))
	assert.Equal(t, "yes", seen.Get("X-Custom"))
	assert.Equal(t, acceptEncoding, seen.Get("Accept-Encoding"))
}

func TestClient_RedirectModes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/from", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/to", http.StatusFound)
	})
	mux.HandleFunc("/to", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "landed")
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := newClient(t, func(h *core.HTTPConfig) { h.MaxRedirects = 3 })

	resp, err := c.Do(context.Background(), get(srv.URL+"/from"))
	require.NoError(t, err)
	assert.True(t, resp.Redirected)
	assert.Equal(t, srv.URL+"/to", resp.URL)
	assert.Equal(t, "landed", string(resp.Body))

	req := get(srv.URL + "/from")
	req.Redirect = RedirectManual
	resp, err = c.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.Status)
	assert.False(t, resp.Redirected)
	assert.Equal(t, "/to", resp.Header["location"])

	req = get(srv.URL + "/from")
	req.Redirect = RedirectError
	_, err = c.Do(context.Background(), req)
	assert.Error(t, err)

	_, err = c.Do(context.Background(), get(srv.URL+"/loop"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 3 redirects")

	req = get(srv.URL)
	req.Redirect = "sideways"
	assert.Error(t, c.Check(req))
}

func TestClient_CookieJar(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie("session")
		if err != nil {
			_, _ = io.WriteString(w, "none")
			return
		}
		_, _ = io.WriteString(w, ck.Value)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newClient(t, nil)
	_, err := c.Do(context.Background(), get(srv.URL+"/set"))
	require.NoError(t, err)
	resp, err := c.Do(context.Background(), get(srv.URL+"/echo"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(resp.Body))
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newClient(t, func(h *core.HTTPConfig) { h.Timeout = 50 * time.Millisecond })
	_, err := c.Do(context.Background(), get(srv.URL))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timed out"), err.Error())
}
