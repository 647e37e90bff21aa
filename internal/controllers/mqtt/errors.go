package mqttctrl

import "errors"

var (
	ErrNotConnected   = errors.New("mqtt not connected")
	ErrConnectTimeout = errors.New("mqtt connect timeout")
	ErrInvalidPayload = errors.New("invalid payload")
)
