package backend

import (
	"context"
	"time"
)

// DelimiterKind distinguishes the three delimiter sentinels a command
// handler accepts (spec.md §4.7).
type DelimiterKind int

const (
	// DelimiterDefault uses the command handler's own configured delimiter.
	DelimiterDefault DelimiterKind = iota
	// DelimiterNone is the empty delimiter; invalid for a read delimiter
	// when lines are being read.
	DelimiterNone
	// DelimiterLiteral uses an explicit delimiter string.
	DelimiterLiteral
)

// Delimiter is one of the three sentinels a CommandHandler call accepts for
// its write- and read-delimiter parameters.
type Delimiter struct {
	Kind  DelimiterKind
	Value string
}

func LiteralDelimiter(s string) Delimiter {
	if s == "" {
		return Delimiter{Kind: DelimiterNone}
	}
	return Delimiter{Kind: DelimiterLiteral, Value: s}
}

func DefaultDelimiter() Delimiter { return Delimiter{Kind: DelimiterDefault} }
func NoDelimiter() Delimiter      { return Delimiter{Kind: DelimiterNone} }

func (d Delimiter) resolve(handlerDefault string) string {
	switch d.Kind {
	case DelimiterDefault:
		return handlerDefault
	case DelimiterNone:
		return ""
	default:
		return d.Value
	}
}

// CommandHandler serialises one dialogue at a time over a Transport: send a
// command, then read either N lines or N raw bytes, each under the backend
// timeout (spec.md §4.7). A CommandHandler is not safe for concurrent use by
// itself — Backend's mutex is what makes that safe (spec.md §5).
type CommandHandler struct {
	transport Transport
	delimiter string
	timeout   time.Duration
}

func newCommandHandler(t Transport, delimiter string, timeout time.Duration) *CommandHandler {
	return &CommandHandler{transport: t, delimiter: delimiter, timeout: timeout}
}

// sendCommandAndReadLines writes cmd||writeDelim, then performs nLines
// sequential readLine calls, returning them with delimiters stripped. On a
// per-line timeout the lines accumulated so far are attached to the
// returned error for diagnosis (spec.md §4.7).
func (h *CommandHandler) sendCommandAndReadLines(ctx context.Context, cmd []byte, nLines int, writeDelim, readDelim Delimiter) ([]string, error) {
	if readDelim.Kind == DelimiterNone && nLines > 0 {
		return nil, newLogicError("a read delimiter of \"none\" is invalid when reading lines", nil)
	}
	if err := h.write(ctx, cmd, writeDelim); err != nil {
		return nil, err
	}
	lines := make([]string, 0, nLines)
	rd := []byte(readDelim.resolve(h.delimiter))
	for i := 0; i < nLines; i++ {
		line, err := h.transport.readLine(ctx, rd, h.timeout)
		if err != nil {
			return nil, annotatePartial(err, lines)
		}
		lines = append(lines, string(line))
	}
	return lines, nil
}

// sendCommandAndReadBytes writes cmd||writeDelim, then reads exactly nBytes
// raw bytes.
func (h *CommandHandler) sendCommandAndReadBytes(ctx context.Context, cmd []byte, nBytes int, writeDelim Delimiter) ([]byte, error) {
	if err := h.write(ctx, cmd, writeDelim); err != nil {
		return nil, err
	}
	if nBytes == 0 {
		return nil, nil
	}
	b, err := h.transport.readBytes(ctx, nBytes, h.timeout)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (h *CommandHandler) write(ctx context.Context, cmd []byte, writeDelim Delimiter) error {
	full := append(append([]byte(nil), cmd...), []byte(writeDelim.resolve(h.delimiter))...)
	if err := h.transport.send(ctx, full); err != nil {
		return err
	}
	return nil
}

func (h *CommandHandler) close() error {
	return h.transport.close()
}

func (h *CommandHandler) terminateInFlightRead() {
	h.transport.terminateRead()
}

// annotatePartial attaches lines already read to a RuntimeError so a
// caller can see how far the dialogue got before it failed.
func annotatePartial(err error, lines []string) error {
	if re, ok := err.(*RuntimeError); ok {
		re.Partial = lines
		return re
	}
	return newRuntimeErrorFor("", "command handler dialogue failed", err, lines)
}
