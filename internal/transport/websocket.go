package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketPort carries serial bytes in binary WebSocket messages. A pump
// goroutine reads messages so that Read can honour the read timeout.
type WebSocketPort struct {
	conn *websocket.Conn
	in   chan []byte
	done chan struct{}

	mu      sync.Mutex
	timeout time.Duration
	buf     []byte
	err     error

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// OpenWebSocket dials a WebSocket serial bridge, with HTTP basic auth when a
// username is set.
func OpenWebSocket(ctx context.Context, wsURL string, opts Options) (*WebSocketPort, error) {
	opts = opts.withDefaults()
	dialer := websocket.Dialer{HandshakeTimeout: opts.DialTimeout}
	if opts.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	headers := http.Header{}
	if opts.Username != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}
	return NewWebSocketPort(conn), nil
}

func NewWebSocketPort(conn *websocket.Conn) *WebSocketPort {
	p := &WebSocketPort{
		conn: conn,
		in:   make(chan []byte, 16),
		done: make(chan struct{}),
	}
	go p.pump()
	return p
}

func (p *WebSocketPort) pump() {
	defer close(p.in)
	for {
		typ, data, err := p.conn.ReadMessage()
		if err != nil {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		select {
		case p.in <- data:
		case <-p.done:
			return
		}
	}
}

func (p *WebSocketPort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	p.timeout = d
	p.mu.Unlock()
	return nil
}

func (p *WebSocketPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.buf) > 0 {
		n := copy(b, p.buf)
		p.buf = p.buf[n:]
		p.mu.Unlock()
		return n, nil
	}
	d := p.timeout
	p.mu.Unlock()

	var timeout <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case data, ok := <-p.in:
		if !ok {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.err != nil {
				return 0, p.err
			}
			return 0, ErrClosed
		}
		n := copy(b, data)
		if n < len(data) {
			p.mu.Lock()
			p.buf = append(p.buf, data[n:]...)
			p.mu.Unlock()
		}
		return n, nil
	case <-timeout:
		return 0, nil
	case <-p.done:
		return 0, ErrClosed
	}
}

func (p *WebSocketPort) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *WebSocketPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.conn.Close()
	})
	return err
}
