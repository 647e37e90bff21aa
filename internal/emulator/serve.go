package emulator

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Agrid-Dev/heatpumpbridge/internal/protocol"
	"github.com/Agrid-Dev/heatpumpbridge/internal/transport"
)

// Run advances the room model every tick until ctx is done.
func (u *Unit) Run(ctx context.Context) error {
	ticker := time.NewTicker(u.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			u.Advance(u.tick)
		}
	}
}

// Serve answers frames arriving on conn until ctx is done or conn fails.
// conn is closed on return.
func (u *Unit) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	asm := protocol.NewAssembler()
	buf := make([]byte, 64)
	for {
		n, err := conn.Read(buf)
		for _, b := range buf[:n] {
			f, ferr := asm.Feed(b)
			if ferr != nil {
				u.log.Debug().Err(ferr).Msg("discarding bytes")
				continue
			}
			if f == nil {
				continue
			}
			reply := u.HandleFrame(f)
			if reply == nil {
				continue
			}
			if _, werr := conn.Write(reply); werr != nil {
				return werr
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

// HandleFrame decodes a raw frame and returns the raw reply, if any. Frames
// that do not decode are ignored like a real unit would.
func (u *Unit) HandleFrame(f protocol.Frame) protocol.Frame {
	m, err := protocol.Decode(f)
	if err != nil {
		u.log.Debug().Err(err).Str("frame", f.String()).Msg("ignoring frame")
		return nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	reply := u.handleLocked(m)
	if reply == nil {
		return nil
	}
	out, err := protocol.Encode(reply)
	if err != nil {
		u.log.Error().Err(err).Msg("cannot encode reply")
		return nil
	}
	if u.faults.CorruptReplies {
		out[len(out)-1] ^= 0xFF
	}
	u.frames.tx++
	return out
}

// ListenAndServe accepts TCP clients on addr, one at a time, the way a
// ser2net port behaves.
func (u *Unit) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return u.ServeListener(ctx, ln)
}

func (u *Unit) ServeListener(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer ln.Close()

	u.log.Info().Str("addr", ln.Addr().String()).Msg("emulated unit listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		u.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("client connected")
		u.resetSession()
		if err := u.Serve(ctx, conn); err != nil && ctx.Err() == nil {
			u.log.Warn().Err(err).Msg("client session ended")
		}
	}
}

func (u *Unit) resetSession() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.connected = false
}

// Pipe serves u over an in-memory connection and returns the client side.
func Pipe(ctx context.Context, u *Unit) transport.Port {
	client, server := net.Pipe()
	go func() { _ = u.Serve(ctx, newFIFOConn(server)) }()
	return transport.NewConnPort(client)
}

// fifoConn queues writes like a UART transmit buffer so a late reply the
// client is not reading yet never blocks the unit's receive side.
type fifoConn struct {
	net.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newFIFOConn(c net.Conn) *fifoConn {
	f := &fifoConn{Conn: c, out: make(chan []byte, 16), done: make(chan struct{})}
	go f.flush()
	return f
}

func (f *fifoConn) flush() {
	for {
		select {
		case p := <-f.out:
			if _, err := f.Conn.Write(p); err != nil {
				return
			}
		case <-f.done:
			return
		}
	}
}

func (f *fifoConn) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	select {
	case f.out <- cp:
		return len(p), nil
	case <-f.done:
		return 0, io.ErrClosedPipe
	}
}

func (f *fifoConn) Close() error {
	f.once.Do(func() { close(f.done) })
	return f.Conn.Close()
}

// PipeOpener returns a transport.Opener that starts a fresh pipe session on
// every call, like reopening a serial device.
func PipeOpener(ctx context.Context, u *Unit) transport.Opener {
	return func(context.Context) (transport.Port, error) {
		u.resetSession()
		return Pipe(ctx, u), nil
	}
}
