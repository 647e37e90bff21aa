// Package transport opens byte ports to a CN105 unit: a local UART, a TCP
// serial server (ser2net or the emulator) or a WebSocket serial bridge.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"go.bug.st/serial"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported port scheme")
	ErrClosed            = errors.New("port closed")
)

// DefaultBaudRate is the fixed CN105 line speed.
const DefaultBaudRate = 2400

// Port is a byte stream with bounded reads. After SetReadTimeout(d) with
// d > 0, Read returns (0, nil) when nothing arrived within d.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(d time.Duration) error
}

type Options struct {
	BaudRate    int
	DialTimeout time.Duration

	// WebSocket bridges only.
	Username           string
	Password           string
	InsecureSkipVerify bool
}

func (o Options) withDefaults() Options {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	return o
}

// Opener opens a fresh port. The link calls it on every (re)connect.
type Opener func(ctx context.Context) (Port, error)

// NewOpener returns an Opener for the given port address.
func NewOpener(addr string, opts Options) Opener {
	return func(ctx context.Context) (Port, error) {
		return Open(ctx, addr, opts)
	}
}

// Open dials addr, which is either a device path, serial:///dev/ttyX,
// tcp://host:port, ws://... or wss://...
func Open(ctx context.Context, addr string, opts Options) (Port, error) {
	opts = opts.withDefaults()
	if strings.HasPrefix(addr, "/") || !strings.Contains(addr, "://") {
		return OpenSerial(addr, opts.BaudRate)
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid port address %q: %w", addr, err)
	}
	switch u.Scheme {
	case "serial":
		return OpenSerial(u.Path, opts.BaudRate)
	case "tcp":
		d := net.Dialer{Timeout: opts.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", u.Host, err)
		}
		return NewConnPort(conn), nil
	case "ws", "wss":
		p, err := OpenWebSocket(ctx, addr, opts)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

// OpenSerial opens a UART with the CN105 framing (8 data bits, even parity,
// one stop bit).
func OpenSerial(path string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	// serial.Port already reports a read timeout as (0, nil).
	return port, nil
}

// ListSerialPorts returns the device paths the OS reports.
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
