package modbusctrl

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/goburrow/modbus"

	"github.com/Agrid-Dev/heatpumpbridge/internal/heatpump"
	"github.com/Agrid-Dev/heatpumpbridge/internal/link"
	"github.com/Agrid-Dev/heatpumpbridge/internal/testutil"
)

func findFreeTCPAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	a := l.Addr().String()
	_ = l.Close()
	return a
}

const startupDelay = 50 * time.Millisecond

func startController(t *testing.T) (modbus.Client, *testutil.FakeHeatPumpService) {
	t.Helper()
	fs := testutil.NewFakeHeatPumpService()
	fs.S.Settings.Temperature = 22.5
	fs.S.Status.RoomTemperature = 21.25

	addr := findFreeTCPAddr(t)
	ctrl, err := New(fs, Config{DeviceID: "dev", Addr: addr, UnitID: 1, CommandTimeout: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := t.Context()
	go func() {
		_ = ctrl.Run(ctx)
	}()
	time.Sleep(startupDelay)

	handler := modbus.NewTCPClientHandler(addr)
	handler.Timeout = 2 * time.Second
	if err := handler.Connect(); err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = handler.Close() })
	return modbus.NewClient(handler), fs
}

func TestNewRequiresUnitID(t *testing.T) {
	if _, err := New(testutil.NewFakeHeatPumpService(), Config{}); err == nil {
		t.Fatal("expected error without UnitID")
	}
}

func TestModbusReads(t *testing.T) {
	client, fs := startController(t)

	res, err := client.ReadHoldingRegisters(0, holdingCount)
	if err != nil {
		t.Fatalf("read holding: %v", err)
	}
	if len(res) != holdingCount*2 {
		t.Fatalf("expected %d bytes got %d", holdingCount*2, len(res))
	}
	get := func(b []byte, i int) uint16 { return binary.BigEndian.Uint16(b[i*2 : i*2+2]) }
	if get(res, HoldingSetpoint) != 2250 {
		t.Fatalf("setpoint mismatch: %d", get(res, HoldingSetpoint))
	}
	if get(res, HoldingMin) != 1600 || get(res, HoldingMax) != 3100 {
		t.Fatalf("bounds mismatch: %d %d", get(res, HoldingMin), get(res, HoldingMax))
	}
	if get(res, HoldingMode) != uint16(heatpump.ModeCool) {
		t.Fatalf("mode mismatch")
	}
	if get(res, HoldingWideVane) != uint16(heatpump.WideVaneCenter) {
		t.Fatalf("wide vane mismatch")
	}

	in, err := client.ReadInputRegisters(0, inputCount)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	if get(in, InputRoomTemperature) != 2125 || get(in, InputCompressor) != uint16(fs.S.Status.CompressorFrequency) || get(in, InputOperating) != 1 {
		t.Fatalf("input registers mismatch: % x", in)
	}

	coils, err := client.ReadCoils(CoilPower, 1)
	if err != nil {
		t.Fatalf("read coils: %v", err)
	}
	if len(coils) != 1 || coils[0] != 1 {
		t.Fatalf("expected power on, got % x", coils)
	}

	if _, err := client.ReadHoldingRegisters(5, 5); err == nil {
		t.Fatal("expected illegal address past the register map")
	}
}

func TestModbusWrites(t *testing.T) {
	client, fs := startController(t)

	if _, err := client.WriteSingleRegister(HoldingSetpoint, encodeTemp(25.5)); err != nil {
		t.Fatalf("write register: %v", err)
	}
	if _, err := client.WriteSingleCoil(CoilPower, 0x0000); err != nil {
		t.Fatalf("write coil: %v", err)
	}
	if _, err := client.WriteMultipleRegisters(HoldingMode, 2, []byte{0, byte(heatpump.ModeHeat), 0, byte(heatpump.Fan2)}); err != nil {
		t.Fatalf("write multiple: %v", err)
	}

	cmds := fs.Commands()
	if len(cmds) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(cmds))
	}
	if cmds[0].Update.Temperature == nil || *cmds[0].Update.Temperature != 25.5 {
		t.Fatalf("setpoint not submitted: %+v", cmds[0].Update)
	}
	if cmds[1].Update.Power == nil || *cmds[1].Update.Power {
		t.Fatalf("power off not submitted: %+v", cmds[1].Update)
	}
	u := cmds[2].Update
	if u.Mode == nil || *u.Mode != heatpump.ModeHeat || u.Fan == nil || *u.Fan != heatpump.Fan2 {
		t.Fatalf("multi write not merged into one update: %+v", u)
	}
	for _, c := range cmds {
		if c.Source != "modbus" {
			t.Fatalf("expected source modbus, got %q", c.Source)
		}
	}
}

func TestModbusWriteRejections(t *testing.T) {
	client, fs := startController(t)

	if _, err := client.WriteSingleRegister(HoldingMode, 42); err == nil {
		t.Fatal("expected invalid mode to be rejected")
	}
	if _, err := client.WriteSingleRegister(HoldingMax, 3000); err == nil {
		t.Fatal("expected read-only register to be rejected")
	}
	if len(fs.Commands()) != 0 {
		t.Fatal("rejected writes must not reach the control loop")
	}

	fs.SetResult(link.ErrAckTimeout)
	if _, err := client.WriteSingleRegister(HoldingSetpoint, encodeTemp(24)); err == nil {
		t.Fatal("expected unacknowledged write to fail")
	}
}

func TestTemperatureEncoding(t *testing.T) {
	tests := []struct {
		in   float64
		want uint16
	}{
		{22.5, 2250},
		{-5, uint16(0xFE0C)},
		{1000, 32767},
	}
	for _, tt := range tests {
		if got := encodeTemp(tt.in); got != tt.want {
			t.Fatalf("encodeTemp(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if decodeTemp(encodeTemp(-5)) != -5 {
		t.Fatal("negative temperatures must round-trip")
	}
}
