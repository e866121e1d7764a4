package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/dop251/goja"

	"github.com/cryguy/runjs/internal/bridge"
	"github.com/cryguy/runjs/internal/core"
	"github.com/cryguy/runjs/internal/executor"
)

// socket is an open client connection. Reads are serialized; writes may
// run concurrently.
type socket struct {
	conn *websocket.Conn

	readMu sync.Mutex
	mu     sync.Mutex
	closed bool
}

// Message is a received frame.
type Message struct {
	Binary bool
	Data   []byte
}

// Dial opens a websocket connection through the client's transport, so the
// private-address guard and cookie jar apply to the handshake.
func (c *Client) Dial(ctx context.Context, rawURL string, header http.Header) (*websocket.Conn, error) {
	httpURL := rawURL
	switch {
	case strings.HasPrefix(rawURL, "ws://"):
		httpURL = "http://" + strings.TrimPrefix(rawURL, "ws://")
	case strings.HasPrefix(rawURL, "wss://"):
		httpURL = "https://" + strings.TrimPrefix(rawURL, "wss://")
	default:
		return nil, fmt.Errorf("unsupported websocket url %q: scheme must be ws or wss", rawURL)
	}
	if !c.cfg.AllowPrivate {
		if err := checkDestination(httpURL); err != nil {
			return nil, err
		}
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, rawURL, &websocket.DialOptions{
		HTTPClient: &http.Client{Transport: c.transport, Jar: c.jar},
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(c.cfg.MaxResponseBytes)
	return conn, nil
}

func (s *socket) send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("websocket is closed")
	}
	typ := websocket.MessageText
	if msg.Binary {
		typ = websocket.MessageBinary
	}
	return s.conn.Write(ctx, typ, msg.Data)
}

// receive returns the next message, or nil after a normal close.
func (s *socket) receive(ctx context.Context) (*Message, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	typ, data, err := s.conn.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, nil
		}
		return nil, err
	}
	return &Message{Binary: typ == websocket.MessageBinary, Data: data}, nil
}

func (s *socket) close(code websocket.StatusCode, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close(code, reason)
}

// abort drops the connection without a handshake; used at realm teardown.
func (s *socket) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		_ = s.conn.CloseNow()
	}
}

func dialer(client *Client) core.AsyncFunc {
	return func(c *core.Call) (executor.Work, error) {
		u, err := c.String(0)
		if err != nil {
			return nil, err
		}
		opts, err := parseRequest(c, 1, u, http.MethodGet)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (any, error) {
			conn, err := client.Dial(ctx, opts.URL, opts.Header)
			if err != nil {
				return nil, err
			}
			s := &socket{conn: conn}
			return core.Owned{
				Build: func(h core.Host) (goja.Value, error) {
					h.RegisterCleanup(s.abort)
					return socketObject(h, s), nil
				},
				Dispose: s.abort,
			}, nil
		}, nil
	}
}

func socketObject(h core.Host, s *socket) goja.Value {
	obj := h.Runtime().NewObject()
	_ = obj.Set("send", core.WrapAsync(h, "send", func(c *core.Call) (executor.Work, error) {
		msg := Message{Binary: c.Arg(0).Type() == bridge.TypeBytes}
		data, err := c.Data(0)
		if err != nil {
			return nil, err
		}
		msg.Data = append([]byte(nil), data...)
		return func(ctx context.Context) (any, error) {
			return nil, s.send(ctx, msg)
		}, nil
	}))
	_ = obj.Set("receive", core.WrapAsync(h, "receive", func(*core.Call) (executor.Work, error) {
		return func(ctx context.Context) (any, error) {
			msg, err := s.receive(ctx)
			if err != nil || msg == nil {
				return bridge.Null(), err
			}
			if msg.Binary {
				return msg.Data, nil
			}
			return string(msg.Data), nil
		}, nil
	}))
	_ = obj.Set("close", core.WrapAsync(h, "close", func(c *core.Call) (executor.Work, error) {
		code := websocket.StatusNormalClosure
		if v := c.Arg(0); !v.IsNullish() {
			if !v.IsInteger() {
				return nil, bridge.TypeMismatch("close: code must be an integer, got %s", v.Type())
			}
			code = websocket.StatusCode(v.Number())
		}
		reason, err := c.OptString(1, "")
		if err != nil {
			return nil, err
		}
		return func(context.Context) (any, error) {
			return nil, s.close(code, reason)
		}, nil
	}))
	return obj
}
