package protocol

import "github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"

// Message is a decoded frame.
type Message interface {
	PacketType() PacketType
}

// Connect is the handshake request sent by the controller.
type Connect struct{}

// ConnectAck is the unit's handshake reply.
type ConnectAck struct{}

// SetAck acknowledges a settings or remote temperature write.
type SetAck struct{}

type InfoRequest struct {
	Code InfoCode
}

// SettingsUpdate writes the fields named in Fields; the others are ignored
// by the unit.
type SettingsUpdate struct {
	Settings heatpump.Settings
	Fields   heatpump.Field
}

// RemoteTemperature feeds an external room reading to the unit. A zero
// Temperature hands control back to the internal sensor.
type RemoteTemperature struct {
	Temperature float64
}

type SettingsReply struct {
	Settings heatpump.Settings
	ISee     bool
}

type RoomTemperatureReply struct {
	Temperature float64
}

type TimersReply struct {
	Timers heatpump.Timers
}

type StatusReply struct {
	Operating           bool
	CompressorFrequency int
}

func (Connect) PacketType() PacketType              { return TypeConnect }
func (ConnectAck) PacketType() PacketType           { return TypeConnectAck }
func (SetAck) PacketType() PacketType               { return TypeSetAck }
func (InfoRequest) PacketType() PacketType          { return TypeInfoRequest }
func (SettingsUpdate) PacketType() PacketType       { return TypeSet }
func (RemoteTemperature) PacketType() PacketType    { return TypeSet }
func (SettingsReply) PacketType() PacketType        { return TypeInfoReply }
func (RoomTemperatureReply) PacketType() PacketType { return TypeInfoReply }
func (TimersReply) PacketType() PacketType          { return TypeInfoReply }
func (StatusReply) PacketType() PacketType          { return TypeInfoReply }
