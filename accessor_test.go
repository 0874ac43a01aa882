package backend

import (
	"context"
	"testing"
	"time"
)

const accessorMapFile = `{
  "mapFileFormatVersion": 2,
  "metadata": { "defaultRecoveryRegister": "/ACC", "delimiter": "\r\n" },
  "registers": {
    "/ACC": {
      "type": "decInt",
      "nElem": 1,
      "write": { "cmd": "SET ACC {{x.0}}", "nRespLines": 0 },
      "read": { "cmd": "GET ACC", "resp": "ACC {{x.0}}" }
    },
    "/WO": {
      "type": "decInt",
      "nElem": 1,
      "write": { "cmd": "PULSE {{x.0}}", "nRespLines": 0 }
    }
  }
}`

func newTestBackend(t *testing.T) (*Backend, *fakeTransport) {
	t.Helper()
	cat, err := loadCatalogue([]byte(accessorMapFile))
	if err != nil {
		t.Fatal(err)
	}
	ft := &fakeTransport{failAt: -1}
	b := newBackend(TransportTTY, "/dev/fake", "", cat, time.Second)
	b.handler = newCommandHandler(ft, b.delimiter, b.timeout)
	return b, ft
}

func TestAccessorReadDialog(t *testing.T) {
	b, ft := newTestBackend(t)
	ft.lines = [][]byte{[]byte("ACC 42")}

	acc, err := GetRegisterAccessor[int64](b, "/ACC", 0, 1, AccessRead)
	if err != nil {
		t.Fatal(err)
	}
	if err := acc.Read(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !acc.Valid() {
		t.Error("accessor should be valid after a successful read")
	}
	if got := acc.Get(); got[0] != 42 {
		t.Errorf("Get() = %v, want [42]", got)
	}
	if acc.VersionNumber() == "" {
		t.Error("expected a non-empty version token after a successful read")
	}
}

func TestAccessorReadDialogRegexMismatch(t *testing.T) {
	b, ft := newTestBackend(t)
	ft.lines = [][]byte{[]byte("GARBAGE")}

	acc, err := GetRegisterAccessor[int64](b, "/ACC", 0, 1, AccessRead)
	if err != nil {
		t.Fatal(err)
	}
	if err := acc.Read(context.Background()); err == nil {
		t.Error("expected a runtime error for a non-matching response")
	}
}

func TestAccessorWriteDialogUpdatesLastWrittenRegister(t *testing.T) {
	b, _ := newTestBackend(t)

	acc, err := GetRegisterAccessor[int64](b, "/ACC", 0, 1, AccessWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := acc.Set([]int64{7}); err != nil {
		t.Fatal(err)
	}
	if err := acc.Write(context.Background()); err != nil {
		t.Fatal(err)
	}
	if b.lastWrittenRegister != "/ACC" {
		t.Errorf("lastWrittenRegister = %q, want /ACC", b.lastWrittenRegister)
	}
}

func TestAccessorWriteOnlyRegisterFallsBackToRecoveryRegister(t *testing.T) {
	b, _ := newTestBackend(t)

	acc, err := GetRegisterAccessor[int64](b, "/WO", 0, 1, AccessWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := acc.Set([]int64{1}); err != nil {
		t.Fatal(err)
	}
	if err := acc.Write(context.Background()); err != nil {
		t.Fatal(err)
	}
	if b.lastWrittenRegister != b.defaultRecoveryRegister {
		t.Errorf("lastWrittenRegister = %q, want defaultRecoveryRegister %q", b.lastWrittenRegister, b.defaultRecoveryRegister)
	}
}

func TestAccessorWindowOutOfRangeRejected(t *testing.T) {
	b, _ := newTestBackend(t)
	if _, err := GetRegisterAccessor[int64](b, "/ACC", 0, 2, AccessRead); err == nil {
		t.Error("expected a LogicError for a window exceeding NElements")
	}
}

func TestAccessorRejectsUnknownOrMismatchedAccessMode(t *testing.T) {
	b, _ := newTestBackend(t)
	if _, err := GetRegisterAccessor[int64](b, "/ACC", 0, 1, 0); err == nil {
		t.Error("expected a LogicError for a zero access mode")
	}
	if _, err := GetRegisterAccessor[int64](b, "/ACC", 0, 1, AccessMode(8)); err == nil {
		t.Error("expected a LogicError for an unrecognised access-mode flag")
	}
	if _, err := GetRegisterAccessor[int64](b, "/WO", 0, 1, AccessRead); err == nil {
		t.Error("expected a LogicError requesting read access on a write-only register")
	}
}

func TestAccessorReadOnClosedBackendFails(t *testing.T) {
	cat, err := loadCatalogue([]byte(accessorMapFile))
	if err != nil {
		t.Fatal(err)
	}
	b := newBackend(TransportTTY, "/dev/fake", "", cat, time.Second)
	acc, err := GetRegisterAccessor[int64](b, "/ACC", 0, 1, AccessRead)
	if err != nil {
		t.Fatal(err)
	}
	if err := acc.Read(context.Background()); err == nil {
		t.Error("expected an error reading from a closed backend")
	}
}

func TestEncodeDecodeHexInt(t *testing.T) {
	ii := &InteractionInfo{Transport: TransportHexInt, FixedCharWidth: 4, IsSigned: false}
	s, err := encodeInt(255, ii)
	if err != nil {
		t.Fatal(err)
	}
	if s != "00FF" {
		t.Errorf("encodeInt = %q, want 00FF", s)
	}
	v, err := decodeInt(s, ii)
	if err != nil || v != 255 {
		t.Errorf("decodeInt(%q) = %d, %v, want 255", s, v, err)
	}
}

func TestEncodeDecodeDecIntPadded(t *testing.T) {
	ii := &InteractionInfo{Transport: TransportDecInt, FixedCharWidth: 4}
	s, err := encodeInt(7, ii)
	if err != nil {
		t.Fatal(err)
	}
	if s != "0007" {
		t.Errorf("encodeInt = %q, want 0007", s)
	}
}

func TestEncodeDecodeBinFloat(t *testing.T) {
	ii := &InteractionInfo{Transport: TransportBinFloat, FixedCharWidth: 8}
	s, err := encodeFloat(2.5, ii)
	if err != nil {
		t.Fatal(err)
	}
	v, err := decodeFloat(s, ii)
	if err != nil || v != 2.5 {
		t.Errorf("decodeFloat(%q) = %v, %v, want 2.5", s, v, err)
	}
}
