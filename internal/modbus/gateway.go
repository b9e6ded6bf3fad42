package modbus

import (
	"context"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"breaker-monitor/internal/datapoint"
	"breaker-monitor/internal/model"
)

// Input register map served by the gateway.
const (
	RegSwitch      = 0
	RegVoltage     = 1 // V x10
	RegFrequency   = 2 // Hz x10
	RegCurrent     = 3 // mA, two words, high word first
	RegActivePower = 5 // W, two words
	RegPowerFactor = 7 // x1000
	RegValidMask   = 8
	RegOnline      = 9
	RegFault       = 10 // two words

	registerCount = 12
	FaultBits     = 17
)

// Bits of RegValidMask.
const (
	ValidSwitch = 1 << iota
	ValidVoltage
	ValidFrequency
	ValidCurrent
	ValidActivePower
	ValidPowerFactor
)

// Gateway mirrors each snapshot into the register tables of a Modbus server.
type Gateway struct {
	server *Server

	mu    sync.Mutex
	fault uint32
}

func NewGateway(log *logrus.Entry) *Gateway {
	return &Gateway{server: NewServer(registerCount, FaultBits, log)}
}

func (g *Gateway) Server() *Server { return g.server }

func (g *Gateway) Name() string { return "modbus" }

// Run serves the gateway on address until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context, address string) error {
	return g.server.Serve(ctx, address)
}

func (g *Gateway) Close() error {
	g.server.Close()
	return nil
}

func (g *Gateway) Publish(_ context.Context, snap model.Snapshot, recs []model.Record) error {
	g.mu.Lock()
	if snap.Offline {
		g.fault = 0
	}
	for _, r := range recs {
		if r.Code != "fault" || r.Diagnostic != nil {
			continue
		}
		if v, ok := datapoint.BitmapValue(r.Raw); ok {
			g.fault = uint32(v)
		}
	}
	fault := g.fault
	g.mu.Unlock()

	regs := Registers(snap, fault)
	g.server.Update(func(b *Banks) {
		copy(b.InputRegisters, regs)
		b.Coils[0] = snap.Switch == model.SwitchOn
		for i := 0; i < FaultBits; i++ {
			b.DiscreteInputs[i] = fault&(1<<uint(i)) != 0
		}
	})
	return nil
}

// Registers encodes a snapshot into the input register layout.
func Registers(snap model.Snapshot, fault uint32) []uint16 {
	regs := make([]uint16, registerCount)
	var mask uint16

	switch snap.Switch {
	case model.SwitchOn:
		regs[RegSwitch] = 1
		mask |= ValidSwitch
	case model.SwitchOff:
		mask |= ValidSwitch
	}
	if r := snap.Voltage; r.Valid {
		regs[RegVoltage] = scale16(r.Value, 10)
		mask |= ValidVoltage
	}
	if r := snap.Frequency; r.Valid {
		regs[RegFrequency] = scale16(r.Value, 10)
		mask |= ValidFrequency
	}
	if r := snap.Current; r.Valid {
		putUint32(regs[RegCurrent:], scale32(r.Value, 1000))
		mask |= ValidCurrent
	}
	if r := snap.ActivePower; r.Valid {
		putUint32(regs[RegActivePower:], scale32(r.Value, 1000))
		mask |= ValidActivePower
	}
	if r := snap.PowerFactor; r.Valid {
		regs[RegPowerFactor] = scale16(r.Value, 1000)
		mask |= ValidPowerFactor
	}
	regs[RegValidMask] = mask
	if !snap.Offline {
		regs[RegOnline] = 1
	}
	putUint32(regs[RegFault:], fault)
	return regs
}

// Uint32 joins a high and a low register word.
func Uint32(hi, lo uint16) uint32 { return uint32(hi)<<16 | uint32(lo) }

func putUint32(dst []uint16, v uint32) {
	dst[0] = uint16(v >> 16)
	dst[1] = uint16(v)
}

func scale16(v, factor float64) uint16 {
	return uint16(clamp(math.Round(v*factor), math.MaxUint16))
}

func scale32(v, factor float64) uint32 {
	return uint32(clamp(math.Round(v*factor), math.MaxUint32))
}

func clamp(v, limit float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
