package link

import "strings"

type State int

const (
	StateIdle State = iota
	StateHandshaking
	StateSynced
	StatePolling
	StateUpdating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateSynced:
		return "synced"
	case StatePolling:
		return "polling"
	case StateUpdating:
		return "updating"
	default:
		return "unknown"
	}
}

// Connected reports whether the handshake has completed.
func (s State) Connected() bool {
	return s == StateSynced || s == StatePolling || s == StateUpdating
}

// Change is a bitmask of what a poll or update modified.
type Change uint8

const (
	ChangeSettings Change = 1 << iota
	ChangeStatus
	ChangeTimers
)

func (c Change) Has(o Change) bool { return c&o != 0 }

func (c Change) String() string {
	var parts []string
	if c.Has(ChangeSettings) {
		parts = append(parts, "settings")
	}
	if c.Has(ChangeStatus) {
		parts = append(parts, "status")
	}
	if c.Has(ChangeTimers) {
		parts = append(parts, "timers")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Direction of a tapped frame.
type Direction string

const (
	DirTx Direction = "tx"
	DirRx Direction = "rx"
)
