package backend

import (
	"context"
	"time"
)

// Transport is the capability set a command handler drives: send bytes,
// read one delimited line, or read exactly N bytes, each cancellable and
// timeout-bounded (spec.md §4.6, design note in §9 — a capability set
// rather than an inheritance hierarchy, with the serial/TCP variants
// pattern-matched on construction instead of subclassed).
type Transport interface {
	// send writes exactly data; a partial write is reported as an error
	// rather than silently truncated (spec.md §7).
	send(ctx context.Context, data []byte) error
	// readLine reads until delim is seen (delim is stripped from the
	// result) or timeout elapses.
	readLine(ctx context.Context, delim []byte, timeout time.Duration) ([]byte, error)
	// readBytes reads exactly n bytes or fails.
	readBytes(ctx context.Context, n int, timeout time.Duration) ([]byte, error)
	// terminateRead causes any in-flight read to return promptly with an
	// error. Idempotent; safe to call from another goroutine (spec.md §5).
	terminateRead()
	close() error
}

// errTransportTimeout and errTransportCancelled are the sentinel causes attached to
// RuntimeErrors raised by readLine/readBytes; callers use errors.Is against
// them (via Cause) to distinguish a timeout from other transport failures.
var (
	errTransportTimeout   = newTimeoutSentinel()
	errTransportCancelled = newCancelledSentinel()
)

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

func newTimeoutSentinel() error   { return sentinelError("transport: read timed out") }
func newCancelledSentinel() error { return sentinelError("transport: read cancelled") }

// lineBuffer accumulates bytes across readLine calls so that input arriving
// after a delimiter is preserved for the next call (spec.md §4.6).
type lineBuffer struct {
	buf []byte
}

// consumeLine extracts the first delim-terminated line from the
// accumulated buffer, if one is present, stripping the delimiter. ok is
// false if no complete line is buffered yet.
func (l *lineBuffer) consumeLine(delim []byte) (line []byte, ok bool) {
	if len(delim) == 0 {
		if len(l.buf) == 0 {
			return nil, false
		}
		line = l.buf
		l.buf = nil
		return line, true
	}
	idx := indexBytes(l.buf, delim)
	if idx < 0 {
		return nil, false
	}
	line = append([]byte(nil), l.buf[:idx]...)
	l.buf = append([]byte(nil), l.buf[idx+len(delim):]...)
	return line, true
}

func (l *lineBuffer) append(b []byte) {
	l.buf = append(l.buf, b...)
}

func (l *lineBuffer) drain() {
	l.buf = nil
}

func indexBytes(haystack, needle []byte) int {
	if len(needle) == 0 {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}
