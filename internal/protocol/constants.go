// Package protocol encodes and decodes the CN105 serial frames spoken by
// Mitsubishi indoor units.
//
// Every frame is laid out as
//
//	0xFC | type | 0x01 | 0x30 | data length | data... | checksum
//
// where checksum = (0xFC - sum of all preceding bytes) mod 256.
package protocol

// Framing
const (
	Header      byte = 0xFC
	marker1     byte = 0x01
	marker2     byte = 0x30
	headerLen        = 5
	DataLen          = 0x10
	MaxDataLen       = 0x20
	FrameLen         = headerLen + DataLen + 1
	MaxFrameLen      = headerLen + MaxDataLen + 1
)

// PacketType is the second byte of a frame.
type PacketType byte

const (
	TypeSet         PacketType = 0x41
	TypeInfoRequest PacketType = 0x42
	TypeConnect     PacketType = 0x5A
	TypeSetAck      PacketType = 0x61
	TypeInfoReply   PacketType = 0x62
	TypeConnectAck  PacketType = 0x7A
)

func (t PacketType) String() string {
	switch t {
	case TypeSet:
		return "set"
	case TypeInfoRequest:
		return "info_request"
	case TypeConnect:
		return "connect"
	case TypeSetAck:
		return "set_ack"
	case TypeInfoReply:
		return "info_reply"
	case TypeConnectAck:
		return "connect_ack"
	default:
		return "unknown"
	}
}

// InfoCode selects what an info request asks for (first data byte).
type InfoCode byte

const (
	InfoSettings InfoCode = 0x02
	InfoRoomTemp InfoCode = 0x03
	InfoTimers   InfoCode = 0x05
	InfoStatus   InfoCode = 0x06
)

// PollCodes is the order in which a full poll walks the info pages.
var PollCodes = []InfoCode{InfoSettings, InfoRoomTemp, InfoTimers, InfoStatus}

func (c InfoCode) Valid() bool {
	switch c {
	case InfoSettings, InfoRoomTemp, InfoTimers, InfoStatus:
		return true
	}
	return false
}

func (c InfoCode) String() string {
	switch c {
	case InfoSettings:
		return "settings"
	case InfoRoomTemp:
		return "room_temperature"
	case InfoTimers:
		return "timers"
	case InfoStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Set sub-commands (first data byte of a TypeSet frame).
const (
	setSettings   byte = 0x01
	setRemoteTemp byte = 0x07
)

// Change flags of a settings frame.
const (
	flagPower    byte = 0x01
	flagMode     byte = 0x02
	flagTemp     byte = 0x04
	flagFan      byte = 0x08
	flagVane     byte = 0x10
	flagWideVane byte = 0x01 // second flag byte
)

// Temperatures are carried either as a table index or as (t*2)+128.
const (
	halfDegreeOffset = 128
	setpointIndexTop = 31
	roomIndexBase    = 10
	timerResolution  = 10 // minutes per timer unit
)

// connectData is the fixed payload of the handshake request.
var connectData = []byte{0xCA, 0x01}
