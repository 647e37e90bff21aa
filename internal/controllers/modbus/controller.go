package modbusctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	mbserver "github.com/tbrandon/mbserver"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
	"github.com/Agrid-Dev/heatpumpbridge/internal/link"
	"github.com/Agrid-Dev/heatpumpbridge/internal/loop"
	"github.com/Agrid-Dev/heatpumpbridge/internal/ports"
)

// Register map.
const (
	CoilPower = 0

	HoldingSetpoint = 0 // °C x100
	HoldingMin      = 1 // read-only
	HoldingMax      = 2 // read-only
	HoldingMode     = 3 // heatpump.Mode
	HoldingFan      = 4 // heatpump.FanSpeed
	HoldingVane     = 5 // heatpump.Vane
	HoldingWideVane = 6 // heatpump.WideVane
	holdingCount    = 7

	InputRoomTemperature = 0 // °C x100
	InputCompressor      = 1 // Hz
	InputOperating       = 2 // 0/1
	inputCount           = 3
)

const TemperatureScale int = 100

// Config for the Modbus controller.
type Config struct {
	DeviceID string
	Addr     string
	UnitID   byte // UnitID (Modbus slave/unit ID). Use an integer 1..247.

	// CommandTimeout bounds how long a write waits for the control loop.
	CommandTimeout time.Duration

	Log zerolog.Logger
}

type Controller struct {
	svc ports.HeatPumpService
	cfg Config
	log zerolog.Logger

	serv *mbserver.Server
}

type handler func(*mbserver.Server, mbserver.Framer) ([]byte, *mbserver.Exception)

func New(svc ports.HeatPumpService, cfg Config) (*Controller, error) {
	if cfg.UnitID == 0 {
		return nil, errors.New("modbus: UnitID is required (non-zero)")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1502"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	return &Controller{svc: svc, cfg: cfg, log: cfg.Log}, nil
}

// Run serves the register map until ctx is canceled. Reads come straight
// from the service snapshot; writes are queued to the control loop and
// answered once the unit acknowledged them.
func (c *Controller) Run(ctx context.Context) error {
	serv := mbserver.NewServer()
	c.serv = serv

	// handlers must be registered before the listener starts
	serv.RegisterFunctionHandler(1, c.readCoils)
	serv.RegisterFunctionHandler(3, readRegisters(holdingCount, c.holdingRegister))
	serv.RegisterFunctionHandler(4, readRegisters(inputCount, c.inputRegister))
	serv.RegisterFunctionHandler(5, c.writeCoil)
	serv.RegisterFunctionHandler(6, c.writeRegister)
	serv.RegisterFunctionHandler(16, c.writeRegisters)

	if err := serv.ListenTCP(c.cfg.Addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", c.cfg.Addr, err)
	}
	c.log.Info().Str("addr", c.cfg.Addr).Uint8("unit_id", c.cfg.UnitID).Msg("modbus server listening")

	<-ctx.Done()
	serv.Close()
	return ctx.Err()
}

func (c *Controller) readCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, exc := addressRange(frame.GetData(), 2000)
	if exc != nil {
		return []byte{}, exc
	}
	if start != CoilPower || qty != 1 {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	var coil byte
	if c.svc.Snapshot().Settings.Power {
		coil = 0x01
	}
	return []byte{1, coil}, &mbserver.Success
}

func (c *Controller) holdingRegister(addr int) uint16 {
	s := c.svc.Snapshot().Settings
	b := c.svc.Bounds()
	switch addr {
	case HoldingSetpoint:
		return encodeTemp(s.Temperature)
	case HoldingMin:
		return encodeTemp(b.Min)
	case HoldingMax:
		return encodeTemp(b.Max)
	case HoldingMode:
		return uint16(s.Mode)
	case HoldingFan:
		return uint16(s.Fan)
	case HoldingVane:
		return uint16(s.Vane)
	default:
		return uint16(s.WideVane)
	}
}

func (c *Controller) inputRegister(addr int) uint16 {
	st := c.svc.Snapshot().Status
	switch addr {
	case InputRoomTemperature:
		return encodeTemp(st.RoomTemperature)
	case InputCompressor:
		return uint16(max(0, min(st.CompressorFrequency, math.MaxUint16)))
	default:
		if st.Operating {
			return 1
		}
		return 0
	}
}

func readRegisters(count int, value func(addr int) uint16) handler {
	return func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		start, qty, exc := addressRange(frame.GetData(), 125)
		if exc != nil {
			return []byte{}, exc
		}
		if start+qty > count {
			return []byte{}, &mbserver.IllegalDataAddress
		}
		resp := make([]byte, 1+qty*2)
		resp[0] = byte(qty * 2)
		for i := 0; i < qty; i++ {
			binary.BigEndian.PutUint16(resp[1+i*2:], value(start+i))
		}
		return resp, &mbserver.Success
	}
}

// Write Single Coil (function 5) - power
func (c *Controller) writeCoil(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])
	if addr != CoilPower {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	var on bool
	switch value {
	case 0x0000:
	case 0xFF00:
		on = true
	default:
		return []byte{}, &mbserver.IllegalDataValue
	}
	if exc := c.submit(heatpump.Update{Power: &on}); exc != nil {
		return []byte{}, exc
	}
	// echo request (address + value)
	return append([]byte(nil), data[0:4]...), &mbserver.Success
}

// Write Single Register (function 6)
func (c *Controller) writeRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := int(binary.BigEndian.Uint16(data[0:2]))
	value := binary.BigEndian.Uint16(data[2:4])

	var u heatpump.Update
	if exc := setRegister(&u, addr, value); exc != nil {
		return []byte{}, exc
	}
	if exc := c.submit(u); exc != nil {
		return []byte{}, exc
	}
	return append([]byte(nil), data[0:4]...), &mbserver.Success
}

// Write Multiple Registers (function 16). All registers go out as one
// settings write.
func (c *Controller) writeRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	d := frame.GetData()
	if len(d) < 5 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := binary.BigEndian.Uint16(d[0:2])
	quantity := binary.BigEndian.Uint16(d[2:4])
	byteCount := int(d[4])
	if quantity == 0 || byteCount != int(quantity)*2 || len(d) < 5+byteCount {
		return []byte{}, &mbserver.IllegalDataValue
	}

	var u heatpump.Update
	for i := 0; i < int(quantity); i++ {
		val := binary.BigEndian.Uint16(d[5+i*2 : 5+i*2+2])
		if exc := setRegister(&u, int(start)+i, val); exc != nil {
			return []byte{}, exc
		}
	}
	if exc := c.submit(u); exc != nil {
		return []byte{}, exc
	}

	resp := make([]byte, 4)
	binary.BigEndian.PutUint16(resp[0:2], start)
	binary.BigEndian.PutUint16(resp[2:4], quantity)
	return resp, &mbserver.Success
}

func setRegister(u *heatpump.Update, addr int, val uint16) *mbserver.Exception {
	switch addr {
	case HoldingSetpoint:
		t := decodeTemp(val)
		u.Temperature = &t
	case HoldingMode:
		m := heatpump.Mode(val)
		if !m.Valid() {
			return &mbserver.IllegalDataValue
		}
		u.Mode = &m
	case HoldingFan:
		f := heatpump.FanSpeed(val)
		if !f.Valid() {
			return &mbserver.IllegalDataValue
		}
		u.Fan = &f
	case HoldingVane:
		v := heatpump.Vane(val)
		if !v.Valid() {
			return &mbserver.IllegalDataValue
		}
		u.Vane = &v
	case HoldingWideVane:
		w := heatpump.WideVane(val)
		if !w.Valid() {
			return &mbserver.IllegalDataValue
		}
		u.WideVane = &w
	default:
		// min/max are configuration, not unit settings
		return &mbserver.IllegalDataAddress
	}
	return nil
}

func (c *Controller) submit(u heatpump.Update) *mbserver.Exception {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CommandTimeout)
	defer cancel()

	err := ports.SubmitAndWait(ctx, c.svc, ports.Command{Update: u, Source: "modbus"})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, heatpump.ErrInvalidSetting):
		return &mbserver.IllegalDataValue
	case errors.Is(err, loop.ErrBusy), errors.Is(err, link.ErrNotSynced):
		c.log.Debug().Err(err).Msg("modbus write refused")
		return &mbserver.SlaveDeviceBusy
	default:
		c.log.Warn().Err(err).Msg("modbus write failed")
		return &mbserver.SlaveDeviceFailure
	}
}

func addressRange(data []byte, maxQty int) (start, qty int, exc *mbserver.Exception) {
	if len(data) < 4 {
		return 0, 0, &mbserver.IllegalDataValue
	}
	start = int(binary.BigEndian.Uint16(data[0:2]))
	qty = int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > maxQty {
		return 0, 0, &mbserver.IllegalDataValue
	}
	return start, qty, nil
}

func encodeTemp(v float64) uint16 {
	r := min(max(int(math.Round(v*float64(TemperatureScale))), math.MinInt16), math.MaxInt16)
	return uint16(int16(r))
}

func decodeTemp(u uint16) float64 {
	i := int16(u)
	return float64(i) / float64(TemperatureScale)
}
