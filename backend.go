package backend

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// TransportKind selects which concrete Transport a backend opens (spec.md
// §6's CommandBasedTTY / CommandBasedTCP identifiers).
type TransportKind int

const (
	TransportTTY TransportKind = iota
	TransportTCP
)

// Backend owns a catalogue, a transport, and the single command handler
// that serialises every dialogue against the device (spec.md §4.9). A
// Backend's zero value is not usable; construct with Open or newBackend.
type Backend struct {
	kind      TransportKind
	primary   string // device path (TTY) or host (TCP)
	tcpPort   string
	catalogue *Catalogue
	delimiter string
	timeout   time.Duration

	defaultRecoveryRegister RegisterPath
	logger                  *log.Logger

	mu                  sync.Mutex
	handler             *CommandHandler
	lastWrittenRegister RegisterPath

	// liveHandler mirrors handler for Close, which must be able to signal
	// an in-flight dialogue to abort its blocked read without first
	// waiting on mu (mu is held for the dialogue's full duration).
	liveHandler atomic.Pointer[CommandHandler]
}

func newBackend(kind TransportKind, primary, tcpPort string, cat *Catalogue, timeout time.Duration) *Backend {
	delim := cat.delimiter
	return &Backend{
		kind:                    kind,
		primary:                 primary,
		tcpPort:                 tcpPort,
		catalogue:               cat,
		delimiter:               delim,
		timeout:                 timeout,
		defaultRecoveryRegister: cat.recovery,
		logger:                  log.New(os.Stderr, "backend: ", log.LstdFlags),
	}
}

// Open creates the transport, runs the recovery probe, and marks the
// backend functional on success (spec.md §4.9 "open()"). On failure the
// backend remains closed; a failed probe's error is returned wrapped in a
// RuntimeError whose cause is the probe's own error (spec.md §7, S7).
func (b *Backend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handler != nil {
		return newLogicError("backend is already open", nil)
	}

	var t Transport
	var err error
	switch b.kind {
	case TransportTTY:
		t, err = openSerial(b.primary)
	case TransportTCP:
		t, err = openTCP(ctx, b.primary, b.tcpPort)
	default:
		return newLogicError("unknown transport kind", nil)
	}
	if err != nil {
		return err
	}

	handler := newCommandHandler(t, b.delimiter, b.timeout)

	probeTarget := b.lastWrittenRegister
	if probeTarget == "" {
		probeTarget = b.defaultRecoveryRegister
	}
	if probeTarget != "" {
		if reg, ok := b.catalogue.Lookup(probeTarget); ok && reg.Readable() {
			acc, err := newStringAccessor(b, reg, 0, int(reg.NElements))
			if err == nil {
				// The probe takes each captured value as text, whatever the
				// register's transport layer type.
				acc.decode = func(s string, _ *InteractionInfo) (string, error) { return s, nil }
				err = acc.readLocked(ctx, handler, b.delimiter)
			}
			if err != nil {
				handler.close()
				b.logger.Printf("recovery probe against %s failed: %v", probeTarget, err)
				return newRuntimeError("recovery probe failed", err)
			}
		}
	}

	b.handler = handler
	b.liveHandler.Store(handler)
	b.logger.Printf("opened (%s)", b.endpointString())
	return nil
}

// Close drops the command handler. Accessors constructed against this
// backend remain valid objects and resume working after a subsequent Open
// (spec.md §4.9 "close()"). Close must abort any in-flight read so the
// blocked dialogue observes a failure promptly (spec.md §4.9) rather than
// waiting for mu, which that dialogue holds for its full duration: it
// signals termination via liveHandler first, then waits for mu to do the
// actual teardown.
func (b *Backend) Close() error {
	if h := b.liveHandler.Load(); h != nil {
		h.terminateInFlightRead()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handler == nil {
		return nil
	}
	err := b.handler.close()
	b.handler = nil
	b.liveHandler.Store(nil)
	b.logger.Printf("closed (%s)", b.endpointString())
	return err
}

// IsOpen reports whether the backend currently owns a live command handler.
func (b *Backend) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler != nil
}

// GetRegisterCatalogue returns a defensive copy of the backend's catalogue
// (spec.md §4.9).
func (b *Backend) GetRegisterCatalogue() *Catalogue {
	return b.catalogue.Clone()
}

// ReadDeviceInfo returns a short descriptive string identifying this
// backend instance and the device it is bound to (spec.md §4.9
// "readDeviceInfo()").
func (b *Backend) ReadDeviceInfo() string {
	state := "closed"
	if b.IsOpen() {
		state = "open"
	}
	return fmt.Sprintf("commandbus backend over %s, %d register(s), %s", b.endpointString(), len(b.catalogue.registers), state)
}

func (b *Backend) endpointString() string {
	switch b.kind {
	case TransportTTY:
		return b.primary
	case TransportTCP:
		return b.primary + ":" + b.tcpPort
	default:
		return b.primary
	}
}

// acquireHandler locks the backend's mutex and returns its live command
// handler and configured delimiter; the caller must call releaseHandler
// exactly once to unlock (spec.md §5 — one dialogue at a time per backend).
func (b *Backend) acquireHandler() (*CommandHandler, string, error) {
	b.mu.Lock()
	if b.handler == nil {
		b.mu.Unlock()
		return nil, "", newLogicError("backend is not open", nil)
	}
	return b.handler, b.delimiter, nil
}

func (b *Backend) releaseHandler() {
	b.mu.Unlock()
}

// setLastWrittenRegister records the register a write dialogue is about to
// target, for use as the next recovery probe's target. Callers must hold
// the mutex (i.e. call between acquireHandler and releaseHandler).
func (b *Backend) setLastWrittenRegister(path RegisterPath) {
	b.lastWrittenRegister = path
}

// recoveryFallback returns the register a write-only register's dialogue
// should record as lastWrittenRegister, since it cannot itself serve as a
// recovery probe target.
func (b *Backend) recoveryFallback() RegisterPath {
	return b.defaultRecoveryRegister
}

func (b *Backend) lookupRegister(path RegisterPath) (*RegisterInfo, error) {
	reg, ok := b.catalogue.Lookup(path)
	if !ok {
		return nil, newLogicErrorFor(string(path), "", "register not found in catalogue", nil)
	}
	return reg, nil
}

// scalarType bounds the user-facing value types an Accessor can hold
// (spec.md §3's integer/floating/string data kinds).
type scalarType interface {
	int64 | float64 | string
}

// AccessMode flags the directions a caller intends to use an accessor for;
// GetRegisterAccessor rejects both unknown flags and flags the register
// does not support (spec.md §7: "unknown access-mode flags", "writing to a
// read-only register (or vice versa)").
type AccessMode uint

const (
	AccessRead AccessMode = 1 << iota
	AccessWrite
)

const validAccessModes = AccessRead | AccessWrite

// GetRegisterAccessor constructs a typed accessor over count elements of
// path starting at offset, selecting encode/decode functions by both T and
// the register's declared transport layer type (spec.md §4.9
// "getRegisterAccessor(path, count, offset, accessMode)").
func GetRegisterAccessor[T scalarType](b *Backend, path RegisterPath, offset, count int, mode AccessMode) (*Accessor[T], error) {
	if mode == 0 || mode&^validAccessModes != 0 {
		return nil, newLogicErrorFor(string(path), "", "unknown access-mode flags", nil)
	}
	reg, err := b.lookupRegister(path)
	if err != nil {
		return nil, err
	}
	if mode&AccessRead != 0 && !reg.Readable() {
		return nil, newLogicErrorFor(string(path), "read", "register is not readable", nil)
	}
	if mode&AccessWrite != 0 && !reg.Writable() {
		return nil, newLogicErrorFor(string(path), "write", "register is not writable", nil)
	}

	var zero T
	switch any(zero).(type) {
	case int64:
		a, err := newIntAccessor(b, reg, offset, count)
		if err != nil {
			return nil, err
		}
		return any(a).(*Accessor[T]), nil
	case float64:
		a, err := newFloatAccessor(b, reg, offset, count)
		if err != nil {
			return nil, err
		}
		return any(a).(*Accessor[T]), nil
	case string:
		a, err := newStringAccessor(b, reg, offset, count)
		if err != nil {
			return nil, err
		}
		return any(a).(*Accessor[T]), nil
	default:
		return nil, newLogicError("unsupported accessor value type", nil)
	}
}
