package modbus

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	mb "github.com/goburrow/modbus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breaker-monitor/internal/model"
)

func newTestGateway(t *testing.T) (*Gateway, mb.Client) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	g := NewGateway(logrus.NewEntry(logger))
	require.NoError(t, g.Server().Listen("127.0.0.1:0"))
	t.Cleanup(func() { _ = g.Close() })

	h := mb.NewTCPClientHandler(g.Server().Addr().String())
	h.Timeout = 2 * time.Second
	h.SlaveId = 1
	require.NoError(t, h.Connect())
	t.Cleanup(func() { _ = h.Close() })
	return g, mb.NewClient(h)
}

func words(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(b[i*2:])
	}
	return out
}

func TestRegistersEncoding(t *testing.T) {
	regs := Registers(model.Snapshot{
		Switch:      model.SwitchOn,
		Voltage:     model.Known(231.46),
		Frequency:   model.Known(50.02),
		Current:     model.Known(70.123),
		ActivePower: model.Known(16.2),
		PowerFactor: model.Known(0.987),
	}, 0x10001)

	assert.Equal(t, uint16(1), regs[RegSwitch])
	assert.Equal(t, uint16(2315), regs[RegVoltage])
	assert.Equal(t, uint16(500), regs[RegFrequency])
	assert.Equal(t, uint32(70123), Uint32(regs[RegCurrent], regs[RegCurrent+1]))
	assert.Equal(t, uint32(16200), Uint32(regs[RegActivePower], regs[RegActivePower+1]))
	assert.Equal(t, uint16(987), regs[RegPowerFactor])
	assert.Equal(t, uint16(0x3f), regs[RegValidMask])
	assert.Equal(t, uint16(1), regs[RegOnline])
	assert.Equal(t, uint32(0x10001), Uint32(regs[RegFault], regs[RegFault+1]))
}

func TestRegistersUnobservedAndClamped(t *testing.T) {
	regs := Registers(model.Snapshot{Voltage: model.Known(-3), Frequency: model.Known(1e9)}, 0)

	assert.Equal(t, uint16(0), regs[RegVoltage])
	assert.Equal(t, uint16(65535), regs[RegFrequency])
	assert.Equal(t, uint16(ValidVoltage|ValidFrequency), regs[RegValidMask])
	assert.Equal(t, uint16(0), regs[RegCurrent])
}

func TestGatewayServesSnapshot(t *testing.T) {
	g, client := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.Publish(ctx, model.Snapshot{
		Switch:  model.SwitchOn,
		Voltage: model.Known(230),
	}, []model.Record{{Code: "fault", Raw: float64(5)}}))

	data, err := client.ReadInputRegisters(0, registerCount)
	require.NoError(t, err)
	regs := words(data)
	assert.Equal(t, uint16(1), regs[RegSwitch])
	assert.Equal(t, uint16(2300), regs[RegVoltage])
	assert.Equal(t, uint16(ValidSwitch|ValidVoltage), regs[RegValidMask])
	assert.Equal(t, uint16(5), regs[RegFault+1])

	coils, err := client.ReadCoils(0, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(1), coils[0]&1)

	bits, err := client.ReadDiscreteInputs(0, FaultBits)
	require.NoError(t, err)
	assert.Equal(t, byte(0x05), bits[0])
}

func TestGatewayKeepsFaultUntilOffline(t *testing.T) {
	g, client := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.Publish(ctx, model.Snapshot{Switch: model.SwitchOn}, []model.Record{{Code: "fault", Raw: float64(2)}}))
	require.NoError(t, g.Publish(ctx, model.Snapshot{Switch: model.SwitchOn}, nil))
	v, err := g.Server().InputRegister(RegFault + 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), v)

	require.NoError(t, g.Publish(ctx, model.Snapshot{Switch: model.SwitchOff, Offline: true}, nil))
	data, err := client.ReadInputRegisters(RegOnline, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 0, 0}, words(data))

	coils, err := client.ReadCoils(0, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(0), coils[0]&1)
}

func TestServerRejectsOutOfRange(t *testing.T) {
	_, client := newTestGateway(t)

	_, err := client.ReadInputRegisters(registerCount-1, 2)
	require.Error(t, err)
	var mbErr *mb.ModbusError
	require.ErrorAs(t, err, &mbErr)
	assert.Equal(t, byte(exceptionIllegalDataAddr), mbErr.ExceptionCode)
}

func TestServeStopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	g := NewGateway(logrus.NewEntry(logger))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not stop")
	}
}
