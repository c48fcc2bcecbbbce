package transport

import (
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialLink talks to an ELM327 adapter over a serial port, either a USB
// adapter or a Bluetooth one bound to an rfcomm tty by the OS.
type SerialLink struct {
	portPath string
	baudRate int

	mu     sync.Mutex
	port   serial.Port
	closed bool
	chunks chan []byte
}

// SerialConfig holds connection configuration for the serial transport.
type SerialConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// readTimeout paces the read loop; it is not a protocol deadline, the
// command channel owns those.
const readTimeout = 200 * time.Millisecond

// NewSerial creates a serial transport. 38400 baud is the ELM327 default.
func NewSerial(cfg SerialConfig) *SerialLink {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 38400
	}
	return &SerialLink{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		chunks:   make(chan []byte, chunkBacklog),
	}
}

func (s *SerialLink) Name() string { return "ELM327 (serial)" }

func (s *SerialLink) Chunks() <-chan []byte { return s.chunks }

// Connect opens the port and starts the inbound read pump.
func (s *SerialLink) Connect() error {
	mode := &serial.Mode{
		BaudRate: s.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.portPath, mode)
	if err != nil {
		return fmt.Errorf("transport: failed to open %s: %w", s.portPath, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("transport: failed to set timeout: %w", err)
	}
	port.ResetInputBuffer()

	s.mu.Lock()
	s.port = port
	s.closed = false
	s.mu.Unlock()

	log.Printf("[transport] opened %s at %d baud", s.portPath, s.baudRate)
	go s.readLoop(port)
	return nil
}

func (s *SerialLink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.port != nil {
		err := s.port.Close()
		s.port = nil
		return err
	}
	return nil
}

func (s *SerialLink) Write(p []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return fmt.Errorf("transport: not connected")
	}
	if _, err := port.Write(p); err != nil {
		return fmt.Errorf("transport: write failed: %w", err)
	}
	return nil
}

// readLoop pushes whatever the port produces into the chunk channel until
// the port is closed. Read sizes are arbitrary; reassembly is the frame
// assembler's job.
func (s *SerialLink) readLoop(port serial.Port) {
	defer close(s.chunks)
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			default:
				log.Printf("[transport] inbound backlog full, dropping %d bytes", n)
			}
		}
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				log.Printf("[transport] read loop ended: %v", err)
			}
			return
		}
	}
}
