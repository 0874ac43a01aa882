package backend

import (
	"context"
	"testing"
	"time"
)

// fakeTransport is an in-memory Transport stub: writes are recorded, reads
// are served from a queue of canned lines/bytes.
type fakeTransport struct {
	writes [][]byte
	lines  [][]byte
	bytes  [][]byte
	failAt int // index into lines at which readLine returns an error, -1 = never
}

func (f *fakeTransport) send(ctx context.Context, data []byte) error {
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) readLine(ctx context.Context, delim []byte, timeout time.Duration) ([]byte, error) {
	if f.failAt == 0 {
		return nil, newRuntimeError("fake read failure", errTransportTimeout)
	}
	if f.failAt > 0 {
		f.failAt--
	}
	if len(f.lines) == 0 {
		return nil, newRuntimeError("no more canned lines", errTransportTimeout)
	}
	line := f.lines[0]
	f.lines = f.lines[1:]
	return line, nil
}

func (f *fakeTransport) readBytes(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	if len(f.bytes) == 0 {
		return nil, newRuntimeError("no more canned bytes", errTransportTimeout)
	}
	b := f.bytes[0]
	f.bytes = f.bytes[1:]
	return b, nil
}

func (f *fakeTransport) terminateRead() {}
func (f *fakeTransport) close() error   { return nil }

func TestSendCommandAndReadLines(t *testing.T) {
	ft := &fakeTransport{failAt: -1, lines: [][]byte{[]byte("ACC 7")}}
	h := newCommandHandler(ft, "\r\n", time.Second)
	lines, err := h.sendCommandAndReadLines(context.Background(), []byte("GET ACC"), 1, DefaultDelimiter(), DefaultDelimiter())
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != "ACC 7" {
		t.Errorf("lines = %v", lines)
	}
	if string(ft.writes[0]) != "GET ACC\r\n" {
		t.Errorf("write = %q", ft.writes[0])
	}
}

func TestSendCommandAndReadLinesRejectsNoneDelimiterWithLines(t *testing.T) {
	ft := &fakeTransport{failAt: -1}
	h := newCommandHandler(ft, "\r\n", time.Second)
	_, err := h.sendCommandAndReadLines(context.Background(), []byte("GET ACC"), 1, DefaultDelimiter(), NoDelimiter())
	if _, ok := err.(*LogicError); !ok {
		t.Errorf("expected a LogicError, got %v (%T)", err, err)
	}
}

func TestSendCommandAndReadLinesAnnotatesPartial(t *testing.T) {
	ft := &fakeTransport{failAt: -1, lines: [][]byte{[]byte("line1")}}
	h := newCommandHandler(ft, "\r\n", time.Second)
	_, err := h.sendCommandAndReadLines(context.Background(), []byte("CMD"), 2, DefaultDelimiter(), DefaultDelimiter())
	re, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("expected a RuntimeError, got %T", err)
	}
	if len(re.Partial) != 1 || re.Partial[0] != "line1" {
		t.Errorf("partial = %v, want [line1]", re.Partial)
	}
}

func TestSendCommandAndReadBytes(t *testing.T) {
	ft := &fakeTransport{failAt: -1, bytes: [][]byte{{0xDE, 0xAD}}}
	h := newCommandHandler(ft, "\r\n", time.Second)
	b, err := h.sendCommandAndReadBytes(context.Background(), []byte("CMD"), 2, NoDelimiter())
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 2 || b[0] != 0xDE || b[1] != 0xAD {
		t.Errorf("bytes = %v", b)
	}
}

func TestLiteralDelimiterEmptyIsNone(t *testing.T) {
	d := LiteralDelimiter("")
	if d.Kind != DelimiterNone {
		t.Errorf("LiteralDelimiter(\"\") should resolve to DelimiterNone, got %v", d.Kind)
	}
}
