package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Accessor is a per-register, per-window stateful handle: it encodes a user
// buffer into a command, runs the dialogue through the owning Backend, and
// parses any response back into the buffer (spec.md §4.8). T is the user's
// scalar element type — int64, float64, or string, matching the register's
// declared data kind.
type Accessor[T any] struct {
	backend  *Backend
	register *RegisterInfo
	offset   int
	count    int

	buf     []T
	version string
	valid   bool

	encode func(T, *InteractionInfo) (string, error)
	decode func(string, *InteractionInfo) (T, error)
}

func newAccessor[T any](be *Backend, reg *RegisterInfo, offset, count int,
	encode func(T, *InteractionInfo) (string, error),
	decode func(string, *InteractionInfo) (T, error)) (*Accessor[T], error) {

	if offset < 0 || count < 0 || offset+count > int(reg.NElements) {
		return nil, newLogicErrorFor(string(reg.Path), "", fmt.Sprintf("window [%d,%d) out of range for %d element(s)", offset, offset+count, reg.NElements), nil)
	}
	return &Accessor[T]{
		backend:  be,
		register: reg,
		offset:   offset,
		count:    count,
		buf:      make([]T, count),
		encode:   encode,
		decode:   decode,
	}, nil
}

// newIntAccessor builds an Accessor[int64] for register paths typed
// decInt/hexInt/binInt.
func newIntAccessor(be *Backend, reg *RegisterInfo, offset, count int) (*Accessor[int64], error) {
	return newAccessor[int64](be, reg, offset, count, encodeInt, decodeInt)
}

// newFloatAccessor builds an Accessor[float64] for register paths typed
// decFloat/binFloat.
func newFloatAccessor(be *Backend, reg *RegisterInfo, offset, count int) (*Accessor[float64], error) {
	return newAccessor[float64](be, reg, offset, count, encodeFloat, decodeFloat)
}

// newStringAccessor builds an Accessor[string], also used internally for
// the backend's recovery probe (spec.md §4.8 "Recovery probe").
func newStringAccessor(be *Backend, reg *RegisterInfo, offset, count int) (*Accessor[string], error) {
	return newAccessor[string](be, reg, offset, count, encodeString, decodeString)
}

// Get returns the accessor's current buffered values (valid only after a
// successful Read, or after a Write of the same buffer).
func (a *Accessor[T]) Get() []T { return append([]T(nil), a.buf...) }

// Set stages values to be written on the next Write call.
func (a *Accessor[T]) Set(values []T) error {
	if len(values) != a.count {
		return newLogicErrorFor(string(a.register.Path), "write", fmt.Sprintf("expected %d value(s), got %d", a.count, len(values)), nil)
	}
	copy(a.buf, values)
	return nil
}

// Valid reports whether the buffer holds data from a successful read.
func (a *Accessor[T]) Valid() bool { return a.valid }

// VersionNumber returns the token stamped by the most recent successful
// read (spec.md §3).
func (a *Accessor[T]) VersionNumber() string { return a.version }

// Read executes the register's read dialogue (spec.md §4.8 "Read dialog"),
// acquiring the backend's mutex for the duration of the exchange.
func (a *Accessor[T]) Read(ctx context.Context) error {
	handler, delimiter, err := a.backend.acquireHandler()
	if err != nil {
		return err
	}
	defer a.backend.releaseHandler()
	return a.readLocked(ctx, handler, delimiter)
}

// readLocked performs the read dialogue assuming the backend mutex is
// already held by the caller (used directly by Backend's recovery probe).
func (a *Accessor[T]) readLocked(ctx context.Context, handler *CommandHandler, delimiter string) error {
	ii := a.register.Read
	if ii == nil {
		return newLogicErrorFor(string(a.register.Path), "read", "register is not readable", nil)
	}

	cmdBytes, err := a.renderCommand(ii, nil)
	if err != nil {
		return err
	}

	raw, err := dialogue(ctx, handler, cmdBytes, ii)
	if err != nil {
		return err
	}

	joined := joinResponse(raw, ii, delimiter)
	if !ii.ExpectsResponse() {
		a.valid = true
		a.version = uuid.NewString()
		return nil
	}

	match := ii.compiledRegex.FindStringSubmatch(joined)
	if match == nil {
		return newRuntimeErrorFor(string(a.register.Path), fmt.Sprintf("response %q did not match the expected pattern", replaceControlChars(joined)), nil, nil)
	}

	for i := 0; i < a.count; i++ {
		v, err := a.decode(match[a.offset+i+1], ii)
		if err != nil {
			return newRuntimeErrorFor(string(a.register.Path), "decoding response element", err, nil)
		}
		a.buf[i] = v
	}
	a.valid = true
	a.version = uuid.NewString()
	return nil
}

// Write executes the register's write dialogue (spec.md §4.8 "Write dialog"),
// acquiring the backend's mutex for the duration of the exchange.
func (a *Accessor[T]) Write(ctx context.Context) error {
	ii := a.register.Write
	if ii == nil {
		return newLogicErrorFor(string(a.register.Path), "write", "register is not writable", nil)
	}

	values := make([]string, a.count)
	for i, v := range a.buf {
		s, err := a.encode(v, ii)
		if err != nil {
			return newLogicErrorFor(string(a.register.Path), "write", "encoding value", err)
		}
		values[i] = s
	}

	cmdBytes, err := a.renderCommand(ii, values)
	if err != nil {
		return err
	}

	recoveryTarget := a.register.Path
	if a.register.Read == nil {
		recoveryTarget = a.backend.recoveryFallback()
	}

	handler, delimiter, err := a.backend.acquireHandler()
	if err != nil {
		return err
	}
	defer a.backend.releaseHandler()

	a.backend.setLastWrittenRegister(recoveryTarget)

	raw, err := dialogue(ctx, handler, cmdBytes, ii)
	if err != nil {
		return err
	}
	if ii.ExpectsResponse() {
		joined := joinResponse(raw, ii, delimiter)
		if ii.compiledRegex.FindStringSubmatch(joined) == nil {
			return newRuntimeErrorFor(string(a.register.Path), fmt.Sprintf("write response %q did not match the expected pattern", replaceControlChars(joined)), nil, nil)
		}
	}
	return nil
}

// renderCommand builds the wire-ready command bytes for a dialogue,
// rendering the template and, for binary interactions, translating the
// resulting hex text into raw bytes (spec.md §4.8 steps 2/2').
func (a *Accessor[T]) renderCommand(ii *InteractionInfo, values []string) ([]byte, error) {
	binding := newTemplateBinding()
	if values != nil {
		binding.set("x", values)
	}
	rendered, err := renderLiteral(string(a.register.Path), ii.Direction, ii.CommandPattern, binding, ii.CommandChecksums, ii.IsBinary)
	if err != nil {
		return nil, err
	}
	if ii.IsBinary {
		return bytesFromHex(string(rendered))
	}
	return rendered, nil
}

// dialogue runs one command/response exchange through handler according to
// ii's framing (spec.md §4.7/§4.8).
func dialogue(ctx context.Context, handler *CommandHandler, cmd []byte, ii *InteractionInfo) ([]string, error) {
	writeDelim := LiteralDelimiter(ii.CmdDelimiter)
	switch ii.Framing.Mode {
	case FramingBytes:
		b, err := handler.sendCommandAndReadBytes(ctx, cmd, int(ii.Framing.N), writeDelim)
		if err != nil {
			return nil, err
		}
		return []string{string(b)}, nil
	default:
		readDelim := LiteralDelimiter(ii.RespDelimiter)
		return handler.sendCommandAndReadLines(ctx, cmd, int(ii.Framing.N), writeDelim, readDelim)
	}
}

// joinResponse reassembles the raw lines/bytes captured by dialogue into a
// single string for regex matching (spec.md §4.8 step 4).
func joinResponse(raw []string, ii *InteractionInfo, delimiter string) string {
	if ii.Framing.Mode == FramingBytes {
		if ii.IsBinary {
			return hexFromBytes([]byte(raw[0]))
		}
		return raw[0]
	}
	if ii.IsBinary {
		encoded := make([]string, len(raw))
		for i, line := range raw {
			encoded[i] = hexFromBytes([]byte(line))
		}
		return strings.Join(encoded, ii.RespDelimiter)
	}
	return strings.Join(raw, ii.RespDelimiter)
}

// --- encode/decode functions, selected by (UserType, TransportLayerType) ---

func encodeInt(v int64, ii *InteractionInfo) (string, error) {
	switch ii.Transport {
	case TransportDecInt:
		if ii.FixedCharWidth > 0 {
			return fmt.Sprintf("%0*d", ii.FixedCharWidth, v), nil
		}
		return strconv.FormatInt(v, 10), nil
	case TransportHexInt, TransportBinInt:
		byteWidth := 0
		if ii.FixedCharWidth > 0 {
			byteWidth = (ii.FixedCharWidth + 1) / 2
		}
		b, err := binaryStrFromInt(v, byteWidth, OverflowReject)
		if err != nil {
			return "", err
		}
		s := hexFromBytes(b)
		if ii.FixedCharWidth > 0 && len(s) < ii.FixedCharWidth {
			s = strings.Repeat("0", ii.FixedCharWidth-len(s)) + s
		}
		return s, nil
	default:
		return "", newLogicError(fmt.Sprintf("integer value cannot be encoded for transport type %v", ii.Transport), nil)
	}
}

func decodeInt(s string, ii *InteractionInfo) (int64, error) {
	switch ii.Transport {
	case TransportDecInt:
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, newRuntimeError("parsing decimal integer", err)
		}
		return v, nil
	case TransportHexInt, TransportBinInt:
		b, err := bytesFromHex(s)
		if err != nil {
			return 0, err
		}
		return intFromBinaryStr(b, ii.IsSigned, false)
	default:
		return 0, newLogicError(fmt.Sprintf("integer value cannot be decoded for transport type %v", ii.Transport), nil)
	}
}

func encodeFloat(v float64, ii *InteractionInfo) (string, error) {
	switch ii.Transport {
	case TransportDecFloat:
		var s string
		if ii.FractionalBits > 0 {
			s = strconv.FormatFloat(v, 'f', ii.FractionalBits, 64)
		} else {
			s = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if ii.FixedCharWidth > 0 && len(s) < ii.FixedCharWidth {
			s = strings.Repeat(" ", ii.FixedCharWidth-len(s)) + s
		}
		return s, nil
	case TransportBinFloat:
		width := floatByteWidth(ii)
		b, err := binaryStrFromFloat(v, width)
		if err != nil {
			return "", err
		}
		return hexFromBytes(b), nil
	default:
		return "", newLogicError(fmt.Sprintf("floating value cannot be encoded for transport type %v", ii.Transport), nil)
	}
}

func decodeFloat(s string, ii *InteractionInfo) (float64, error) {
	switch ii.Transport {
	case TransportDecFloat:
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, newRuntimeError("parsing decimal float", err)
		}
		return v, nil
	case TransportBinFloat:
		b, err := bytesFromHex(s)
		if err != nil {
			return 0, err
		}
		return floatFromBinaryStr(b, floatByteWidth(ii))
	default:
		return 0, newLogicError(fmt.Sprintf("floating value cannot be decoded for transport type %v", ii.Transport), nil)
	}
}

// floatByteWidth derives the IEEE-754 width (4 or 8 bytes) for a binFloat
// interaction from its fixed character width (2 hex chars per byte),
// defaulting to single precision when unspecified.
func floatByteWidth(ii *InteractionInfo) int {
	if ii.FixedCharWidth >= 16 {
		return 8
	}
	return 4
}

func encodeString(v string, ii *InteractionInfo) (string, error) {
	if ii.Transport != TransportString {
		return "", newLogicError(fmt.Sprintf("string value cannot be encoded for transport type %v", ii.Transport), nil)
	}
	if ii.FixedCharWidth > 0 && len(v) < ii.FixedCharWidth {
		v = v + strings.Repeat(" ", ii.FixedCharWidth-len(v))
	}
	return v, nil
}

func decodeString(s string, ii *InteractionInfo) (string, error) {
	if ii.Transport != TransportString {
		return "", newLogicError(fmt.Sprintf("string value cannot be decoded for transport type %v", ii.Transport), nil)
	}
	return s, nil
}
