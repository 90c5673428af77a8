// Package wsconn implements the channel transport on top of gorilla/websocket.
package wsconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vietddude/resilink/internal/channel"
)

var (
	ErrSendBufferFull = errors.New("send buffer full")
	ErrConnClosed     = errors.New("connection closed")
)

// Config holds websocket settings.
type Config struct {
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	SendBuffer         int           `yaml:"send_buffer"`
	TokenParam         string        `yaml:"token_param"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

var DefaultConfig = Config{
	HandshakeTimeout: 10 * time.Second,
	WriteTimeout:     10 * time.Second,
	SendBuffer:       256,
	TokenParam:       "token",
}

// Transport dials websocket connections.
type Transport struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *slog.Logger
}

func NewTransport(cfg Config) *Transport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig.WriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig.SendBuffer
	}
	if cfg.TokenParam == "" {
		cfg.TokenParam = DefaultConfig.TokenParam
	}
	return &Transport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify,
			},
		},
		log: slog.Default().With("component", "wsconn"),
	}
}

// Open dials rawURL with the token as a query parameter and starts the read and write loops.
func (t *Transport) Open(ctx context.Context, rawURL, token string, h channel.Handler) (channel.Conn, error) {
	target, err := withToken(rawURL, t.cfg.TokenParam, token)
	if err != nil {
		return nil, err
	}

	ws, resp, err := t.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("authentication failed (status %d): %w", resp.StatusCode, err)
			}
			return nil, fmt.Errorf("handshake failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	c := &conn{
		ws:           ws,
		h:            h,
		out:          make(chan outbound, t.cfg.SendBuffer),
		closed:       make(chan struct{}),
		writeTimeout: t.cfg.WriteTimeout,
		log:          t.log,
	}
	ws.SetPongHandler(func(string) error {
		if h.OnPong != nil {
			h.OnPong()
		}
		return nil
	})

	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

func withToken(rawURL, param, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid channel url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid channel url scheme %q", u.Scheme)
	}
	if token != "" {
		q := u.Query()
		q.Set(param, token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

type outbound struct {
	kind int
	data []byte
}

// conn is one websocket connection. gorilla allows one concurrent writer, so every
// data and ping frame goes through writeLoop.
type conn struct {
	ws           *websocket.Conn
	h            channel.Handler
	out          chan outbound
	closed       chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	log          *slog.Logger
}

func (c *conn) Send(data []byte) error {
	return c.enqueue(outbound{kind: websocket.TextMessage, data: data})
}

func (c *conn) Ping() error {
	return c.enqueue(outbound{kind: websocket.PingMessage})
}

func (c *conn) enqueue(msg outbound) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- msg:
		return nil
	case <-c.closed:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// Close sends a normal close frame and tears the connection down. OnClose is not
// called for a local close.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing connection")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// teardown closes after a remote or I/O failure. Returns false if Close got there first.
func (c *conn) teardown() bool {
	first := false
	c.closeOnce.Do(func() {
		first = true
		close(c.closed)
		_ = c.ws.Close()
	})
	return first
}

func (c *conn) readLoop() {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			ev := closeEvent(err)
			if !c.teardown() {
				return
			}
			c.log.Debug("Read loop stopped", "code", ev.Code, "error", err)
			if c.h.OnClose != nil {
				c.h.OnClose(ev)
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if c.h.OnMessage != nil {
			c.h.OnMessage(data)
		}
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(msg.kind, msg.data); err != nil {
				c.log.Warn("Write failed", "error", err)
				// unblocks ReadMessage, which reports the close
				_ = c.ws.Close()
				return
			}
		}
	}
}

func closeEvent(err error) channel.CloseEvent {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return channel.CloseEvent{
			Clean: ce.Code == websocket.CloseNormalClosure,
			Code:  ce.Code,
			Err:   err,
		}
	}
	return channel.CloseEvent{Code: websocket.CloseAbnormalClosure, Err: err}
}
