package backend

import (
	"fmt"
	"regexp"
)

// FramingMode selects how a response is delimited (spec.md §3/§6).
type FramingMode int

const (
	FramingNone FramingMode = iota
	FramingLines
	FramingBytes
)

// Framing describes one interaction's response framing: FramingLines reads
// N has the line count (N can be 0, meaning "no response expected" but a
// command is still sent); FramingBytes reads exactly N raw bytes.
type Framing struct {
	Mode FramingMode
	N    uint
}

// InteractionInfo is a frozen, per-direction (read or write) description of
// one register's command/response dialogue (spec.md §3). Values are
// immutable once constructed by the catalogue loader.
type InteractionInfo struct {
	Register  RegisterPath
	Direction string // "read" or "write", for diagnostics only

	CommandPattern  string
	ResponsePattern string
	Framing         Framing
	CmdDelimiter    string
	RespDelimiter   string

	Transport      TransportLayerType
	IsBinary       bool
	IsSigned       bool
	FixedCharWidth int // 0 means unconstrained
	FractionalBits int // decimal places for decFloat encoding; 0 means shortest form

	CommandChecksums  []ChecksumKind
	ResponseChecksums []ChecksumKind

	compiledRegex *regexp.Regexp
	captureGroups int
}

// Enabled reports whether this direction is active: a direction is enabled
// iff its command pattern is non-empty (spec.md §3).
func (i *InteractionInfo) Enabled() bool {
	return i != nil && i.CommandPattern != ""
}

// ExpectsResponse reports whether a dialogue in this direction should parse
// a response at all.
func (i *InteractionInfo) ExpectsResponse() bool {
	return i != nil && i.ResponsePattern != ""
}

func (i *InteractionInfo) valueClass() string {
	if i.FixedCharWidth > 0 {
		return fmt.Sprintf(".{%d}", i.FixedCharWidth)
	}
	switch i.Transport {
	case TransportHexInt, TransportBinInt, TransportBinFloat:
		return "[0-9A-Fa-f]+"
	case TransportDecInt:
		if i.IsSigned {
			return "[+-]?[0-9]+"
		}
		return "[0-9]+"
	case TransportDecFloat:
		return `[+-]?[0-9]+\.?[0-9]*`
	case TransportString:
		return ".*"
	default:
		return ""
	}
}

// compile builds and stores the response regex for elementCount value
// placeholders. It is a no-op for interactions with no response pattern.
func (i *InteractionInfo) compile(elementCount int) error {
	if !i.ExpectsResponse() {
		return nil
	}
	pattern, groups, err := renderRegex(string(i.Register), i.Direction, i.ResponsePattern, elementCount, i.ResponseChecksums, i.FixedCharWidth, i.valueClass())
	if err != nil {
		return err
	}
	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return newLogicErrorFor(string(i.Register), i.Direction, "compiling response regex", err)
	}
	i.compiledRegex = re
	i.captureGroups = groups
	return nil
}

// interactionFields is the raw, as-parsed-from-JSON shape of one direction's
// map-file entry, before defaults from the register/metadata levels are
// resolved (spec.md §4.4).
type interactionFields struct {
	Cmd            string
	Resp           string
	Delim          *string
	CmdDelim       *string
	RespDelim      *string
	NRespLines     *uint
	NRespBytes     *uint
	Type           *string
	Signed         *bool
	CharacterWidth *int
	BitWidth       *int
	FractionalBits *int
	// Checksums maps a declared checksum index (as used in {{cs.i}} etc.) to
	// its algorithm, taken from the map file's "checksums" entry for this
	// direction. An index with no entry defaults to cs8.
	Checksums map[int]ChecksumKind
}

// registerDefaults holds the register-level values (with the register
// delimiter already defaulted from metadata) that buildInteractionInfo
// overrides with interaction-level fields, per the four-level precedence in
// spec.md §4.4.
type registerDefaults struct {
	Delim          string
	Type           string
	Signed         bool
	CharacterWidth int
	BitWidth       int
	FractionalBits int
}

func buildInteractionInfo(register RegisterPath, direction string, fields interactionFields, regDefaults registerDefaults, metadataDelim string) (*InteractionInfo, error) {
	if fields.Cmd == "" {
		if fields.Resp != "" {
			return nil, newLogicErrorFor(string(register), direction, "response pattern given without a command pattern", nil)
		}
		return nil, nil
	}

	typeStr := regDefaults.Type
	if fields.Type != nil {
		typeStr = *fields.Type
	}
	if typeStr == "" {
		return nil, newLogicErrorFor(string(register), direction, "missing \"type\" field", nil)
	}
	transport, err := parseTransportLayerType(typeStr)
	if err != nil {
		return nil, newLogicErrorFor(string(register), direction, err.Error(), nil)
	}

	signed := regDefaults.Signed
	if fields.Signed != nil {
		signed = *fields.Signed
	}
	charWidth := regDefaults.CharacterWidth
	if fields.CharacterWidth != nil {
		charWidth = *fields.CharacterWidth
	}
	fractionalBits := regDefaults.FractionalBits
	if fields.FractionalBits != nil {
		fractionalBits = *fields.FractionalBits
	}

	isBinary := transport.isBinary()

	cmdDelim := metadataDelim
	if regDefaults.Delim != "" {
		cmdDelim = regDefaults.Delim
	}
	respDelim := cmdDelim
	if fields.Delim != nil {
		cmdDelim, respDelim = *fields.Delim, *fields.Delim
	}
	if fields.CmdDelim != nil {
		cmdDelim = *fields.CmdDelim
	}
	if fields.RespDelim != nil {
		respDelim = *fields.RespDelim
	}
	if isBinary {
		if respDelim != "" && fields.RespDelim != nil {
			return nil, newLogicErrorFor(string(register), direction, "binary interactions must not set a response delimiter", nil)
		}
		respDelim = ""
		if fields.CmdDelim == nil && fields.Delim == nil {
			cmdDelim = ""
		}
	}

	framing := Framing{Mode: FramingLines, N: 1}
	switch {
	case fields.NRespBytes != nil:
		if *fields.NRespBytes < 1 {
			return nil, newLogicErrorFor(string(register), direction, "nRespBytes must be >= 1", nil)
		}
		framing = Framing{Mode: FramingBytes, N: *fields.NRespBytes}
	case fields.NRespLines != nil:
		framing = Framing{Mode: FramingLines, N: *fields.NRespLines}
	}

	if transport == TransportVoid {
		if fields.Resp != "" {
			return nil, newLogicErrorFor(string(register), direction, "void interactions cannot have a response pattern", nil)
		}
		if countValuePlaceholders(fields.Cmd) > 0 {
			return nil, newLogicErrorFor(string(register), direction, "void interactions cannot bind numeric values in the command pattern", nil)
		}
	}

	cmdChecksums := checksumKindsInPattern(fields.Cmd, fields.Checksums)
	respChecksums := checksumKindsInPattern(fields.Resp, fields.Checksums)
	if err := validateChecksumTopology(string(register), direction, fields.Cmd, cmdChecksums); err != nil {
		return nil, err
	}
	if err := validateChecksumTopology(string(register), direction, fields.Resp, respChecksums); err != nil {
		return nil, err
	}

	return &InteractionInfo{
		Register:          register,
		Direction:         direction,
		CommandPattern:    fields.Cmd,
		ResponsePattern:   fields.Resp,
		Framing:           framing,
		CmdDelimiter:      cmdDelim,
		RespDelimiter:     respDelim,
		Transport:         transport,
		IsBinary:          isBinary,
		IsSigned:          signed,
		FixedCharWidth:    charWidth,
		FractionalBits:    fractionalBits,
		CommandChecksums:  cmdChecksums,
		ResponseChecksums: respChecksums,
	}, nil
}

func countValuePlaceholders(pattern string) int {
	n := 0
	for i := 0; ; i++ {
		if !containsTag(pattern, "x", i) {
			break
		}
		n++
	}
	return n
}

// checksumKindsInPattern infers the ordered checksum kind list for a
// pattern from the number of declared indices, looking up each index's
// algorithm in declared (the map file's per-direction "checksums" table) and
// defaulting to cs8 when unspecified.
func checksumKindsInPattern(pattern string, declared map[int]ChecksumKind) []ChecksumKind {
	k := countChecksums(pattern)
	kinds := make([]ChecksumKind, k)
	for i := range kinds {
		if kind, ok := declared[i]; ok {
			kinds[i] = kind
		} else {
			kinds[i] = ChecksumCS8
		}
	}
	return kinds
}
