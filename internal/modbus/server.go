package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	functionReadCoils          = 0x01
	functionReadDiscreteInputs = 0x02
	functionReadHoldingRegs    = 0x03
	functionReadInputRegs      = 0x04

	exceptionIllegalFunction = 0x01
	exceptionIllegalDataAddr = 0x02
	exceptionIllegalDataVal  = 0x03
)

var (
	errOutOfRange    = errors.New("out of range")
	errInvalidQty    = errors.New("invalid quantity")
	errInvalidPDULen = errors.New("invalid pdu length")
)

// Banks holds the four Modbus data tables.
type Banks struct {
	HoldingRegisters []uint16
	InputRegisters   []uint16
	Coils            []bool
	DiscreteInputs   []bool
}

// Server implements a minimal read-only Modbus TCP server.
type Server struct {
	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
	log       *logrus.Entry

	mu    sync.RWMutex
	banks Banks
}

// NewServer constructs a server whose tables have the given sizes.
func NewServer(registers, bits int, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		banks: Banks{
			HoldingRegisters: make([]uint16, registers),
			InputRegisters:   make([]uint16, registers),
			Coils:            make([]bool, bits),
			DiscreteInputs:   make([]bool, bits),
		},
		quit: make(chan struct{}),
		log:  log,
	}
}

// Listen starts accepting Modbus TCP connections on the provided address.
func (s *Server) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("modbus listen %s: %w", address, err)
	}
	s.listener = l
	s.log.WithField("addr", l.Addr().String()).Info("modbus gateway listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr is the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve listens on address and blocks until ctx is done.
func (s *Server) Serve(ctx context.Context, address string) error {
	if err := s.Listen(address); err != nil {
		return err
	}
	<-ctx.Done()
	s.Close()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			s.log.WithError(err).Debug("accept failed")
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	// unblock the read when the server closes
	go func() {
		select {
		case <-s.quit:
			conn.Close()
		case <-done:
		}
	}()

	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		length := binary.BigEndian.Uint16(header[4:6])
		pduLength := int(length) - 1
		if pduLength <= 0 || pduLength > 253 {
			return
		}

		unitID := header[6]
		pdu := make([]byte, pduLength)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}

		response := s.handlePDU(pdu)
		if len(response) == 0 {
			continue
		}

		binary.BigEndian.PutUint16(header[2:4], 0)
		binary.BigEndian.PutUint16(header[4:6], uint16(len(response)+1))
		header[6] = unitID

		if _, err := conn.Write(append(header, response...)); err != nil {
			return
		}
	}
}

func (s *Server) handlePDU(pdu []byte) []byte {
	if len(pdu) == 0 {
		return exceptionResponse(0, exceptionIllegalFunction)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	function := pdu[0]
	var (
		data []byte
		err  error
	)
	switch function {
	case functionReadCoils:
		data, err = readBits(s.banks.Coils, pdu)
	case functionReadDiscreteInputs:
		data, err = readBits(s.banks.DiscreteInputs, pdu)
	case functionReadHoldingRegs:
		data, err = readRegisters(s.banks.HoldingRegisters, pdu)
	case functionReadInputRegs:
		data, err = readRegisters(s.banks.InputRegisters, pdu)
	default:
		return exceptionResponse(function, exceptionIllegalFunction)
	}
	if err != nil {
		return exceptionResponse(function, errToCode(err))
	}
	return append([]byte{function, byte(len(data))}, data...)
}

func readBits(source []bool, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return nil, errInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	quantity := binary.BigEndian.Uint16(pdu[3:5])
	if quantity == 0 || quantity > 2000 {
		return nil, errInvalidQty
	}
	if int(start)+int(quantity) > len(source) {
		return nil, errOutOfRange
	}

	result := make([]byte, (int(quantity)+7)/8)
	for i := 0; i < int(quantity); i++ {
		if source[int(start)+i] {
			result[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return result, nil
}

func readRegisters(source []uint16, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return nil, errInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	quantity := binary.BigEndian.Uint16(pdu[3:5])
	if quantity == 0 || quantity > 125 {
		return nil, errInvalidQty
	}
	if int(start)+int(quantity) > len(source) {
		return nil, errOutOfRange
	}

	result := make([]byte, int(quantity)*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:(i+1)*2], source[int(start)+i])
	}
	return result, nil
}

func exceptionResponse(function byte, code byte) []byte {
	return []byte{function | 0x80, code}
}

func errToCode(err error) byte {
	switch {
	case errors.Is(err, errOutOfRange):
		return exceptionIllegalDataAddr
	case errors.Is(err, errInvalidQty), errors.Is(err, errInvalidPDULen):
		return exceptionIllegalDataVal
	default:
		return exceptionIllegalFunction
	}
}

// Close stops the server and waits for all goroutines to exit.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}

// Update applies fn to the tables under the write lock.
func (s *Server) Update(fn func(b *Banks)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.banks)
}

// InputRegister returns the input register at address.
func (s *Server) InputRegister(address uint16) (uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(address) >= len(s.banks.InputRegisters) {
		return 0, fmt.Errorf("address %d out of range", address)
	}
	return s.banks.InputRegisters[address], nil
}
