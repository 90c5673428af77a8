package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// fakeTransport hands out fakeConns, or the next scripted error.
type fakeTransport struct {
	mu     sync.Mutex
	errs   []error
	conns  []*fakeConn
	tokens []string
	opened chan *fakeConn
}

func newFakeTransport(errs ...error) *fakeTransport {
	return &fakeTransport{errs: errs, opened: make(chan *fakeConn, 64)}
}

func (t *fakeTransport) Open(ctx context.Context, url, token string, h Handler) (Conn, error) {
	t.mu.Lock()
	t.tokens = append(t.tokens, token)
	if len(t.errs) > 0 {
		err := t.errs[0]
		t.errs = t.errs[1:]
		t.mu.Unlock()
		return nil, err
	}
	c := &fakeConn{h: h}
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	t.opened <- c
	return c, nil
}

func (t *fakeTransport) tokenList() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.tokens...)
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tokens)
}

type fakeConn struct {
	h Handler

	mu      sync.Mutex
	sent    [][]byte
	pings   int
	closed  bool
	sendErr error
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("conn closed")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("conn closed")
	}
	c.pings++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// frames decodes everything sent so far.
func (c *fakeConn) frames() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, data := range c.sent {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) framesOfType(typ string) []map[string]any {
	var out []map[string]any
	for _, f := range c.frames() {
		if f["type"] == typ {
			out = append(out, f)
		}
	}
	return out
}

// serverSends delivers a frame as if the server wrote it.
func (c *fakeConn) serverSends(frame string) {
	c.h.OnMessage([]byte(frame))
}

func (c *fakeConn) serverCloses(ev CloseEvent) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.h.OnClose(ev)
}
