package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	mb "github.com/goburrow/modbus"

	"breaker-monitor/internal/modbus"
)

func main() {
	var address string
	var interval time.Duration
	var once bool
	flag.StringVar(&address, "addr", ":1502", "gateway address")
	flag.DurationVar(&interval, "interval", 5*time.Second, "poll interval")
	flag.BoolVar(&once, "once", false, "read a single time and exit")
	flag.Parse()

	th := mb.NewTCPClientHandler(normalizeAddress(address))
	th.Timeout = 5 * time.Second
	th.SlaveId = 1
	if err := th.Connect(); err != nil {
		log.Fatalf("connect (tcp): %v", err)
	}
	defer th.Close()
	client := mb.NewClient(th)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := readOnce(client); err != nil {
			log.Printf("read gateway: %v", err)
		}
		if once {
			return
		}
		<-ticker.C
	}
}

func readOnce(client mb.Client) error {
	data, err := client.ReadInputRegisters(0, modbus.RegFault+2)
	if err != nil {
		return fmt.Errorf("input registers: %w", err)
	}
	regs := make([]uint16, len(data)/2)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	mask := regs[modbus.RegValidMask]

	field := func(bit uint16, v string) string {
		if mask&bit == 0 {
			return "N/A"
		}
		return v
	}
	sw := "OFF"
	if regs[modbus.RegSwitch] == 1 {
		sw = "ON"
	}
	current := modbus.Uint32(regs[modbus.RegCurrent], regs[modbus.RegCurrent+1])
	power := modbus.Uint32(regs[modbus.RegActivePower], regs[modbus.RegActivePower+1])
	fault := modbus.Uint32(regs[modbus.RegFault], regs[modbus.RegFault+1])

	fmt.Printf("online=%t switch=%s voltage=%s frequency=%s current=%s power=%s pf=%s fault=0x%05x\n",
		regs[modbus.RegOnline] == 1,
		field(modbus.ValidSwitch, sw),
		field(modbus.ValidVoltage, fmt.Sprintf("%.1fV", float64(regs[modbus.RegVoltage])/10)),
		field(modbus.ValidFrequency, fmt.Sprintf("%.1fHz", float64(regs[modbus.RegFrequency])/10)),
		field(modbus.ValidCurrent, fmt.Sprintf("%.3fA", float64(current)/1000)),
		field(modbus.ValidActivePower, fmt.Sprintf("%dW", power)),
		field(modbus.ValidPowerFactor, fmt.Sprintf("%.3f", float64(regs[modbus.RegPowerFactor])/1000)),
		fault,
	)

	coils, err := client.ReadCoils(0, 1)
	if err != nil {
		return fmt.Errorf("coil: %w", err)
	}
	fmt.Printf("switch coil=%t\n", len(coils) > 0 && coils[0]&0x01 == 0x01)
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = ":1502"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	// If it's just a port number like "1502", make it host:port
	if _, _, err := net.SplitHostPort(addr); err != nil {
		if !strings.Contains(addr, ":") {
			addr = "127.0.0.1:" + addr
		}
	}
	return addr
}
