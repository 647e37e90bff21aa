package protocol

import (
	"encoding/hex"
	"strings"
)

// Frame is one raw, complete CN105 frame including header and checksum.
type Frame []byte

// Checksum computes the trailing byte for b, which must hold everything
// before the checksum.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return Header - sum
}

func (f Frame) Type() PacketType {
	if len(f) < 2 {
		return 0
	}
	return PacketType(f[1])
}

// Data returns the payload bytes, or nil when f is shorter than its header
// claims.
func (f Frame) Data() []byte {
	if len(f) < headerLen+1 {
		return nil
	}
	n := int(f[4])
	if len(f) < headerLen+n+1 {
		return nil
	}
	return f[headerLen : headerLen+n]
}

// String renders f as space separated hex, e.g. "fc 5a 01 30 02 ca 01 a8".
func (f Frame) String() string {
	if len(f) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(f) * 3)
	enc := hex.EncodeToString(f)
	for i := 0; i < len(enc); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(enc[i : i+2])
	}
	return sb.String()
}

func build(t PacketType, data []byte) Frame {
	f := make(Frame, headerLen+len(data)+1)
	f[0] = Header
	f[1] = byte(t)
	f[2] = marker1
	f[3] = marker2
	f[4] = byte(len(data))
	copy(f[headerLen:], data)
	f[len(f)-1] = Checksum(f[:len(f)-1])
	return f
}
