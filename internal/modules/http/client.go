package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/cryguy/runjs/internal/core"
)

// Redirect modes accepted by request.
const (
	RedirectFollow = "follow"
	RedirectManual = "manual"
	RedirectError  = "error"
)

// Request is a validated outgoing request.
type Request struct {
	URL      string
	Method   string
	Header   http.Header
	Body     []byte
	Redirect string
}

// Response is a fully read response.
type Response struct {
	Status     int
	StatusText string
	Header     map[string]string
	URL        string
	Redirected bool
	Body       []byte
}

// Client performs requests for one realm. Cookies persist across requests
// of the same client.
type Client struct {
	cfg       core.HTTPConfig
	transport http.RoundTripper
	jar       http.CookieJar
	log       *zap.Logger
}

// NewClient builds a client from cfg. Unless cfg.AllowPrivate is set every
// connection goes through the private-address guard.
func NewClient(cfg core.HTTPConfig, log *zap.Logger) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("http: cookie jar: %w", err)
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DisableCompression = true
	if !cfg.AllowPrivate {
		t.DialContext = dialPublic
	}
	return &Client{cfg: cfg, transport: t, jar: jar, log: log}, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	if t, ok := c.transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

func (c *Client) httpClient(redirect string) *http.Client {
	hc := &http.Client{
		Timeout:   c.cfg.Timeout,
		Transport: c.transport,
		Jar:       c.jar,
	}
	switch redirect {
	case RedirectManual:
		hc.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	case RedirectError:
		hc.CheckRedirect = func(req *http.Request, _ []*http.Request) error {
			return fmt.Errorf("redirect to %s refused: redirect mode is %q", req.URL, RedirectError)
		}
	default:
		hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= c.cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", c.cfg.MaxRedirects)
			}
			if c.cfg.AllowPrivate {
				return nil
			}
			return checkDestination(req.URL.String())
		}
	}
	return hc
}

// Check validates req before any work is scheduled.
func (c *Client) Check(req *Request) error {
	if req.URL == "" {
		return errors.New("url is required")
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return fmt.Errorf("unsupported url %q: scheme must be http or https", req.URL)
	}
	if !c.cfg.AllowPrivate {
		if err := checkDestination(req.URL); err != nil {
			return err
		}
	}
	switch req.Redirect {
	case "", RedirectFollow, RedirectManual, RedirectError:
	default:
		return fmt.Errorf("unknown redirect mode %q", req.Redirect)
	}
	return nil
}

// Do sends req and reads the decoded body, failing when it exceeds the
// configured limit.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := c.Check(req); err != nil {
		return nil, err
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vals := range req.Header {
		if ForbiddenHeaders[strings.ToLower(k)] {
			continue
		}
		hreq.Header[k] = vals
	}
	if hreq.Header.Get("Accept-Encoding") == "" {
		hreq.Header.Set("Accept-Encoding", acceptEncoding)
	}

	resp, err := c.httpClient(req.Redirect).Do(hreq)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("%s %s: timed out: %w", req.Method, req.URL, context.DeadlineExceeded)
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	r, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	limit := c.cfg.MaxResponseBytes
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}

	out := &Response{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     make(map[string]string, len(resp.Header)),
		URL:        req.URL,
		Body:       data,
	}
	for k, vals := range resp.Header {
		out.Header[strings.ToLower(k)] = strings.Join(vals, ", ")
	}
	if resp.Request != nil && resp.Request.URL != nil {
		out.URL = resp.Request.URL.String()
	}
	out.Redirected = out.URL != req.URL
	c.log.Debug("http request",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", out.Status),
		zap.Int("bytes", len(data)))
	return out, nil
}
