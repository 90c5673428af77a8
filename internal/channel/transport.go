package channel

import (
	"context"
)

// CloseEvent describes how a connection ended.
type CloseEvent struct {
	// Clean is true for a normal closure initiated by the server.
	Clean bool
	Code  int
	Err   error
}

// Handler receives connection callbacks. They may run on any goroutine.
type Handler struct {
	OnMessage func(data []byte)
	OnPong    func()
	OnClose   func(ev CloseEvent)
}

// Conn is one open connection. Send and Ping queue work and do not wait for network I/O.
type Conn interface {
	Send(data []byte) error
	Ping() error
	Close() error
}

// Transport opens connections. Open returns once the handshake finished; the handler
// starts receiving callbacks right away, possibly before Open returns.
type Transport interface {
	Open(ctx context.Context, url, token string, h Handler) (Conn, error)
}

// TokenProvider supplies the bearer token for each connection attempt.
// An empty token is allowed.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
