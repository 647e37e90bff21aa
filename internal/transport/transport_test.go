package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnPortReadTimeoutReturnsNoData(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	p := NewConnPort(a)
	defer p.Close()

	require.NoError(t, p.SetReadTimeout(20*time.Millisecond))
	buf := make([]byte, 8)
	start := time.Now()
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Less(t, time.Since(start), time.Second)

	go func() { _, _ = b.Write([]byte{0xFC, 0x7A}) }()
	require.NoError(t, p.SetReadTimeout(time.Second))
	n, err = p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFC, 0x7A}, buf[:n])
}

func TestOpenTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 4)
		n, _ := c.Read(buf)
		_, _ = c.Write(buf[:n])
	}()

	p, err := Open(context.Background(), "tcp://"+ln.Addr().String(), Options{})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, p.SetReadTimeout(time.Second))

	got := readAtLeast(t, p, 3)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestOpenUnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), "udp://127.0.0.1:9", Options{})
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestWebSocketPort(t *testing.T) {
	upgrader := websocket.Upgrader{}
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			typ, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			_ = c.WriteMessage(websocket.TextMessage, []byte("ignored"))
			_ = c.WriteMessage(typ, data)
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	p, err := Open(context.Background(), url, Options{Username: "bridge", Password: "secret"})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "Basic YnJpZGdlOnNlY3JldA==", <-auth)

	require.NoError(t, p.SetReadTimeout(50*time.Millisecond))
	n, err := p.Read(make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "no data yet")

	_, err = p.Write([]byte{0xFC, 0x5A, 0x01, 0x30, 0x02, 0xCA})
	require.NoError(t, err)

	require.NoError(t, p.SetReadTimeout(time.Second))
	got := readAtLeast(t, p, 6)
	assert.Equal(t, []byte{0xFC, 0x5A, 0x01, 0x30, 0x02, 0xCA}, got)

	require.NoError(t, p.Close())
	_, err = p.Read(make([]byte, 1))
	assert.Error(t, err)
}

// readAtLeast reads in small chunks to exercise partial reads.
func readAtLeast(t *testing.T, p Port, n int) []byte {
	t.Helper()
	var out []byte
	deadline := time.Now().Add(2 * time.Second)
	buf := make([]byte, 2)
	for len(out) < n && time.Now().Before(deadline) {
		k, err := p.Read(buf)
		require.NoError(t, err)
		out = append(out, buf[:k]...)
	}
	return out
}
