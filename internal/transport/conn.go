package transport

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"
)

// ConnPort adapts a net.Conn (TCP or net.Pipe) to Port using read
// deadlines.
type ConnPort struct {
	conn net.Conn

	mu      sync.Mutex
	timeout time.Duration
}

func NewConnPort(conn net.Conn) *ConnPort {
	return &ConnPort{conn: conn}
}

func (c *ConnPort) SetReadTimeout(d time.Duration) error {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
	return nil
}

func (c *ConnPort) Read(p []byte) (int, error) {
	c.mu.Lock()
	d := c.timeout
	c.mu.Unlock()

	var deadline time.Time
	if d > 0 {
		deadline = time.Now().Add(d)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	n, err := c.conn.Read(p)
	if err != nil && isTimeout(err) {
		return n, nil
	}
	return n, err
}

func (c *ConnPort) Write(p []byte) (int, error) { return c.conn.Write(p) }

func (c *ConnPort) Close() error { return c.conn.Close() }

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
