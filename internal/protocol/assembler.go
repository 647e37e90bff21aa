package protocol

import (
	"bytes"
	"fmt"
)

// Assembler rebuilds frames from a byte stream. It never buffers more than
// MaxFrameLen bytes and drops garbage until it sees a plausible header.
type Assembler struct {
	buf     []byte
	dropped int
}

func NewAssembler() *Assembler {
	return &Assembler{buf: make([]byte, 0, MaxFrameLen)}
}

// Reset discards any partial frame.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}

// Dropped returns how many bytes were skipped while resynchronising.
func (a *Assembler) Dropped() int { return a.dropped }

// Pending returns the bytes of the partial frame currently buffered.
func (a *Assembler) Pending() []byte { return a.buf }

// Feed processes one byte. It returns a complete frame (checksum not yet
// verified) once the last byte of a frame arrives, or nil otherwise. An error
// reports an impossible length byte; assembly continues after it.
func (a *Assembler) Feed(b byte) (Frame, error) {
	a.buf = append(a.buf, b)
	if err := a.sync(); err != nil {
		return nil, err
	}
	if len(a.buf) < headerLen {
		return nil, nil
	}
	if total := headerLen + int(a.buf[4]) + 1; len(a.buf) == total {
		f := make(Frame, total)
		copy(f, a.buf)
		a.buf = a.buf[:0]
		return f, nil
	}
	return nil, nil
}

// Write feeds every byte of p and returns the frames completed along the way.
// The first length error is returned together with the frames.
func (a *Assembler) Write(p []byte) ([]Frame, error) {
	var (
		out      []Frame
		firstErr error
	)
	for _, b := range p {
		f, err := a.Feed(b)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if f != nil {
			out = append(out, f)
		}
	}
	return out, firstErr
}

// sync drops leading bytes until the buffer starts with a plausible header
// prefix.
func (a *Assembler) sync() error {
	var err error
	for len(a.buf) > 0 {
		ok, oversize := plausible(a.buf)
		if ok {
			break
		}
		if oversize && err == nil {
			err = malformed(fmt.Sprintf("length %d exceeds %d", a.buf[4], MaxDataLen), len(a.buf))
		}
		i := bytes.IndexByte(a.buf[1:], Header)
		if i < 0 {
			a.dropped += len(a.buf)
			a.buf = a.buf[:0]
			break
		}
		a.dropped += i + 1
		a.buf = append(a.buf[:0], a.buf[i+1:]...)
	}
	return err
}

func plausible(b []byte) (ok, oversize bool) {
	if b[0] != Header {
		return false, false
	}
	if len(b) > 2 && b[2] != marker1 {
		return false, false
	}
	if len(b) > 3 && b[3] != marker2 {
		return false, false
	}
	if len(b) > 4 && b[4] > MaxDataLen {
		return false, true
	}
	return true, false
}
