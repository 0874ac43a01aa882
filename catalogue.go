package backend

import (
	"fmt"
)

// Catalogue is the immutable, load-once mapping from register path to
// register info (spec.md §3). The zero value is not usable; construct with
// loadCatalogue.
type Catalogue struct {
	registers map[RegisterPath]*RegisterInfo
	delimiter string
	recovery  RegisterPath
}

// Lookup returns the register info for path, or ok=false if it is not in
// the catalogue.
func (c *Catalogue) Lookup(path RegisterPath) (*RegisterInfo, bool) {
	r, ok := c.registers[path]
	return r, ok
}

// Paths returns all register paths known to the catalogue, in no
// particular order.
func (c *Catalogue) Paths() []RegisterPath {
	out := make([]RegisterPath, 0, len(c.registers))
	for p := range c.registers {
		out = append(out, p)
	}
	return out
}

// Clone returns a deep-enough copy of the catalogue suitable for handing to
// a caller that must not observe later loads (there are none — catalogues
// are immutable after construction — but Backend.GetRegisterCatalogue
// still returns a Clone to keep the ownership boundary explicit, as named
// in spec.md §4.9).
func (c *Catalogue) Clone() *Catalogue {
	cp := &Catalogue{
		registers: make(map[RegisterPath]*RegisterInfo, len(c.registers)),
		delimiter: c.delimiter,
		recovery:  c.recovery,
	}
	for k, v := range c.registers {
		cp.registers[k] = v
	}
	return cp
}

// loadCatalogue parses raw map-file bytes and compiles a Catalogue (spec.md
// §4.5). Every failure here is a LogicError.
func loadCatalogue(raw []byte) (*Catalogue, error) {
	mf, err := parseMapFile(raw)
	if err != nil {
		return nil, err
	}

	metadataDelim := mf.Metadata.Delimiter
	if metadataDelim == "" {
		metadataDelim = "\r\n"
	}

	cat := &Catalogue{
		registers: make(map[RegisterPath]*RegisterInfo, len(mf.Registers)),
		delimiter: metadataDelim,
		recovery:  RegisterPath(mf.Metadata.DefaultRecoveryRegister),
	}

	for pathStr, reg := range mf.Registers {
		path := RegisterPath(pathStr)
		if !path.valid() {
			return nil, newLogicError(fmt.Sprintf("register path %q must be absolute (start with /)", pathStr), nil)
		}
		info, err := buildRegisterInfo(path, reg, metadataDelim)
		if err != nil {
			return nil, err
		}
		cat.registers[path] = info
	}

	return cat, nil
}

func buildRegisterInfo(path RegisterPath, reg mapFileRegister, metadataDelim string) (*RegisterInfo, error) {
	delim := reg.Delimiter
	if delim == "" {
		delim = metadataDelim
	}

	regDefaults := registerDefaults{
		Delim:          delim,
		Type:           reg.Type,
		Signed:         reg.Signed,
		CharacterWidth: reg.CharacterWidth,
		BitWidth:       reg.BitWidth,
		FractionalBits: reg.FractionalBits,
	}

	write, err := buildInteractionInfo(path, "write", toInteractionFields(reg.Write), regDefaults, metadataDelim)
	if err != nil {
		return nil, err
	}
	read, err := buildInteractionInfo(path, "read", toInteractionFields(reg.Read), regDefaults, metadataDelim)
	if err != nil {
		return nil, err
	}
	if write == nil && read == nil {
		return nil, newLogicError(fmt.Sprintf("register %s has neither a read nor a write command pattern", path), nil)
	}

	dataDescriptor := DataDescriptor{
		CharacterWidth: reg.CharacterWidth,
		BitWidth:       reg.BitWidth,
		FractionalBits: reg.FractionalBits,
		Signed:         reg.Signed,
	}
	if t, err := parseTransportLayerType(reg.Type); err == nil {
		dataDescriptor.Kind = kindFromTransport(t)
	}

	nElem := reg.NElem
	if nElem == 0 {
		nElem = 1
	}

	if write != nil {
		if err := write.compile(int(nElem)); err != nil {
			return nil, err
		}
	}
	if read != nil {
		if err := read.compile(int(nElem)); err != nil {
			return nil, err
		}
	}

	return &RegisterInfo{
		Path:           path,
		NElements:      nElem,
		NChannels:      1,
		DataDescriptor: dataDescriptor,
		Write:          write,
		Read:           read,
		Delimiter:      delim,
	}, nil
}

func kindFromTransport(t TransportLayerType) DataKind {
	switch t {
	case TransportDecInt, TransportHexInt, TransportBinInt:
		return KindInteger
	case TransportDecFloat, TransportBinFloat:
		return KindFloating
	case TransportString:
		return KindString
	default:
		return KindVoid
	}
}

func toInteractionFields(ia mapFileInteraction) interactionFields {
	checksums := map[int]ChecksumKind{}
	for _, entry := range ia.Checksums {
		if kind, err := parseChecksumKind(entry.Kind); err == nil {
			checksums[entry.Index] = kind
		}
	}
	return interactionFields{
		Cmd:            ia.Cmd,
		Resp:           ia.Resp,
		Delim:          ia.Delim,
		CmdDelim:       ia.CmdDelim,
		RespDelim:      ia.RespDelim,
		NRespLines:     ia.NRespLines,
		NRespBytes:     ia.NRespBytes,
		Type:           ia.Type,
		Signed:         ia.Signed,
		CharacterWidth: ia.CharacterWidth,
		BitWidth:       ia.BitWidth,
		FractionalBits: ia.FractionalBits,
		Checksums:      checksums,
	}
}
