package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrChecksum         = errors.New("checksum mismatch")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnsupportedValue = errors.New("unsupported value")
)

// ChecksumError reports a frame whose trailing byte does not match.
type ChecksumError struct {
	Want byte
	Got  byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%02X, got 0x%02X", e.Want, e.Got)
}

func (e *ChecksumError) Is(target error) bool { return target == ErrChecksum }

type MalformedFrameError struct {
	Reason string
	Len    int
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame (%d bytes): %s", e.Len, e.Reason)
}

func (e *MalformedFrameError) Is(target error) bool { return target == ErrMalformedFrame }

// UnsupportedValueError is returned for enum bytes outside the known
// tables instead of guessing a default.
type UnsupportedValueError struct {
	Field string
	Value byte
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("unsupported %s value 0x%02X", e.Field, e.Value)
}

func (e *UnsupportedValueError) Is(target error) bool { return target == ErrUnsupportedValue }

func malformed(reason string, n int) error {
	return &MalformedFrameError{Reason: reason, Len: n}
}

func unsupported(field string, v byte) error {
	return &UnsupportedValueError{Field: field, Value: v}
}
