package backend

import (
	"encoding/json"
	"fmt"
	"strings"
)

const mapFileFormatVersion = 2

// mapFile is the top-level shape of a version-2 map file (spec.md §4.5).
type mapFile struct {
	MapFileFormatVersion int                        `json:"mapFileFormatVersion"`
	Metadata             mapFileMetadata            `json:"metadata"`
	Registers            map[string]mapFileRegister `json:"registers"`
}

type mapFileMetadata struct {
	DefaultRecoveryRegister string `json:"defaultRecoveryRegister"`
	Delimiter               string `json:"delimiter"`
}

type mapFileChecksumEntry struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
}

type mapFileInteraction struct {
	Cmd            string                  `json:"cmd"`
	Resp           string                  `json:"resp"`
	Delim          *string                 `json:"delimiter"`
	CmdDelim       *string                 `json:"cmdDelim"`
	RespDelim      *string                 `json:"respDelim"`
	NRespLines     *uint                   `json:"nRespLines"`
	NRespBytes     *uint                   `json:"nRespBytes"`
	Type           *string                 `json:"type"`
	Signed         *bool                   `json:"signed"`
	CharacterWidth *int                    `json:"characterWidth"`
	BitWidth       *int                    `json:"bitWidth"`
	FractionalBits *int                    `json:"fractionalBits"`
	Checksums      []mapFileChecksumEntry  `json:"checksums"`
}

type mapFileRegister struct {
	Type           string              `json:"type"`
	NElem          uint                `json:"nElem"`
	Delimiter      string              `json:"delimiter"`
	CmdDelim       string              `json:"cmdDelim"`
	RespDelim      string              `json:"respDelim"`
	CharacterWidth int                 `json:"characterWidth"`
	BitWidth       int                 `json:"bitWidth"`
	FractionalBits int                 `json:"fractionalBits"`
	Signed         bool                `json:"signed"`
	Write          mapFileInteraction  `json:"write"`
	Read           mapFileInteraction  `json:"read"`
}

// The canonical*Keys lists name the keys recognised at each JSON level; used
// to reject unknown keys case-insensitively (spec.md §4.5).
var canonicalRegisterKeys = []string{
	"type", "nElem", "delimiter", "cmdDelim", "respDelim",
	"characterWidth", "bitWidth", "fractionalBits", "signed", "write", "read",
}

var canonicalInteractionKeys = []string{
	"cmd", "resp", "delimiter", "cmdDelim", "respDelim",
	"nRespLines", "nRespBytes", "type", "signed",
	"characterWidth", "bitWidth", "fractionalBits", "checksums",
}

var canonicalTopKeys = []string{"mapFileFormatVersion", "metadata", "registers"}
var canonicalMetadataKeys = []string{"defaultRecoveryRegister", "delimiter"}

// parseMapFile validates and decodes raw map-file JSON-with-comments text
// into a mapFile. Literal NUL bytes are rejected before anything else is
// attempted (spec.md §6 — authors must use {{zero}} instead).
func parseMapFile(raw []byte) (*mapFile, error) {
	if strings.IndexByte(string(raw), 0) >= 0 {
		return nil, newLogicError("map file contains a literal NUL byte; use {{zero}} instead", nil)
	}
	stripped := stripJSONComments(raw)

	if err := checkNoUnknownOrDuplicateKeys(stripped); err != nil {
		return nil, err
	}

	var mf mapFile
	if err := json.Unmarshal(stripped, &mf); err != nil {
		return nil, newLogicError("parsing map file JSON", err)
	}
	if mf.MapFileFormatVersion != mapFileFormatVersion {
		return nil, newLogicError(fmt.Sprintf("unsupported mapFileFormatVersion %d, expected %d", mf.MapFileFormatVersion, mapFileFormatVersion), nil)
	}
	return &mf, nil
}

// stripJSONComments removes // line comments and /* */ block comments
// outside of string literals, turning the C-style-commented map file format
// (spec.md §6) into plain JSON that encoding/json can parse. No third-party
// JSON5/JSONC library appeared anywhere in the retrieved example corpus for
// this niche, so this pre-pass is hand-written against the stdlib decoder
// (see DESIGN.md).
func stripJSONComments(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			out = append(out, c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			out = append(out, c)
		case c == '/' && i+1 < len(raw) && raw[i+1] == '/':
			for i < len(raw) && raw[i] != '\n' {
				i++
			}
			out = append(out, '\n')
		case c == '/' && i+1 < len(raw) && raw[i+1] == '*':
			i += 2
			for i+1 < len(raw) && !(raw[i] == '*' && raw[i+1] == '/') {
				i++
			}
			i++
		default:
			out = append(out, c)
		}
	}
	return out
}

// checkNoUnknownOrDuplicateKeys decodes the (comment-stripped) JSON into
// generic maps and checks the top-level, metadata, register-level and
// interaction-level objects for keys outside the canonical sets and for
// sibling keys that differ only in case. Keys that are exact duplicates are
// already merged last-wins by the decoder before this check sees them, so
// they are not reported; objects below the interaction level are not
// checked.
func checkNoUnknownOrDuplicateKeys(raw []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var root interface{}
	if err := dec.Decode(&root); err != nil {
		// Malformed JSON is reported by the real Unmarshal call that follows;
		// this pass only needs to catch cases that would otherwise parse.
		return nil
	}
	obj, ok := root.(map[string]interface{})
	if !ok {
		return newLogicError("map file root must be a JSON object", nil)
	}
	if err := checkKeys("", obj, canonicalTopKeys); err != nil {
		return err
	}
	if meta, ok := obj["metadata"].(map[string]interface{}); ok {
		if err := checkKeys("metadata", meta, canonicalMetadataKeys); err != nil {
			return err
		}
	}
	registers, _ := obj["registers"].(map[string]interface{})
	for path, v := range registers {
		reg, ok := v.(map[string]interface{})
		if !ok {
			return newLogicErrorFor(path, "", "register entry must be a JSON object", nil)
		}
		if err := checkKeys(path, reg, canonicalRegisterKeys); err != nil {
			return err
		}
		for _, dir := range []string{"write", "read"} {
			if ia, ok := reg[dir].(map[string]interface{}); ok {
				if err := checkKeys(path, ia, canonicalInteractionKeys); err != nil {
					return newLogicErrorFor(path, dir, err.Error(), nil)
				}
			}
		}
	}
	return nil
}

func checkKeys(context string, obj map[string]interface{}, canonical []string) error {
	seen := map[string]string{}
	for k := range obj {
		lower := toLowerCase(k)
		if prior, dup := seen[lower]; dup {
			return newLogicError(fmt.Sprintf("%s: duplicate key %q (case-insensitive clash with %q)", context, k, prior), nil)
		}
		seen[lower] = k
		if !containsFold(canonical, k) {
			return newLogicError(fmt.Sprintf("%s: unknown key %q", context, k), nil)
		}
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if caseInsensitiveEquals(v, s) {
			return true
		}
	}
	return false
}
