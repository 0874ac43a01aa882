package backend

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	goserial "github.com/tarm/serial"
)

// pollInterval bounds how long a single underlying Read blocks before the
// cancellable read loop re-checks its terminate flag and deadline. This is
// the "non-blocking reads with polling" strategy named as an implementation
// option in spec.md §9, grounded on the teacher's own poll/timeout loop in
// other_examples/9dad16fb_CK6170-CalRunrilla-web__serial-com.go.go
// (readUntil: Read, sleep, re-check deadline).
const pollInterval = 20 * time.Millisecond

// serialTransport implements Transport over a 9600-8N1-raw serial line
// using github.com/tarm/serial (spec.md §4.6, §6 "Serial line settings").
type serialTransport struct {
	port      *goserial.Port
	mu        sync.Mutex
	buf       lineBuffer
	terminate atomic.Bool
}

func openSerial(device string) (*serialTransport, error) {
	cfg := &goserial.Config{
		Name:        device,
		Baud:        9600,
		Size:        8,
		Parity:      goserial.ParityNone,
		StopBits:    goserial.Stop1,
		ReadTimeout: pollInterval,
	}
	port, err := goserial.OpenPort(cfg)
	if err != nil {
		return nil, newRuntimeError("opening serial port "+device, err)
	}
	return &serialTransport{port: port}, nil
}

func (s *serialTransport) send(ctx context.Context, data []byte) error {
	n, err := s.port.Write(data)
	if err != nil {
		return newRuntimeError("writing to serial port", err)
	}
	if n != len(data) {
		return newRuntimeError("partial write to serial port", nil)
	}
	return nil
}

func (s *serialTransport) readLine(ctx context.Context, delim []byte, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminate.Store(false)

	if line, ok := s.buf.consumeLine(delim); ok {
		return line, nil
	}

	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 256)
	for {
		if s.terminate.Load() {
			s.buf.drain()
			return nil, newRuntimeError("serial readLine cancelled", errTransportCancelled)
		}
		if timeout > 0 && time.Now().After(deadline) {
			s.buf.drain()
			return nil, newRuntimeError("serial readLine timed out", errTransportTimeout)
		}
		select {
		case <-ctx.Done():
			s.buf.drain()
			return nil, newRuntimeError("serial readLine cancelled", ctx.Err())
		default:
		}
		n, err := s.port.Read(chunk)
		if n > 0 {
			s.buf.append(chunk[:n])
			if line, ok := s.buf.consumeLine(delim); ok {
				return line, nil
			}
		}
		if err != nil {
			s.buf.drain()
			return nil, newRuntimeError("reading from serial port", err)
		}
	}
}

func (s *serialTransport) readBytes(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminate.Store(false)
	deadline := time.Now().Add(timeout)

	for len(s.buf.buf) < n {
		if s.terminate.Load() {
			s.buf.drain()
			return nil, newRuntimeError("serial readBytes cancelled", errTransportCancelled)
		}
		if timeout > 0 && time.Now().After(deadline) {
			s.buf.drain()
			return nil, newRuntimeError("serial readBytes timed out", errTransportTimeout)
		}
		select {
		case <-ctx.Done():
			s.buf.drain()
			return nil, newRuntimeError("serial readBytes cancelled", ctx.Err())
		default:
		}
		chunk := make([]byte, n)
		read, err := s.port.Read(chunk)
		if read > 0 {
			s.buf.append(chunk[:read])
		}
		if err != nil {
			s.buf.drain()
			return nil, newRuntimeError("reading from serial port", err)
		}
	}
	out := append([]byte(nil), s.buf.buf[:n]...)
	s.buf.buf = s.buf.buf[n:]
	return out, nil
}

func (s *serialTransport) terminateRead() {
	s.terminate.Store(true)
}

func (s *serialTransport) close() error {
	s.terminate.Store(true)
	if err := s.port.Close(); err != nil {
		return newRuntimeError("closing serial port", err)
	}
	return nil
}
