package backend

import (
	"fmt"
	"strconv"
	"strings"
)

// templateBinding supplies the values substituted into a pattern by
// renderLiteral (spec.md §4.3): per-index value lists keyed by placeholder
// name ("x") and the literal zero byte. Checksum kinds are passed to
// renderLiteral separately.
type templateBinding struct {
	values map[string][]string
	zero   string
}

func newTemplateBinding() *templateBinding {
	return &templateBinding{values: map[string][]string{}, zero: "\x00"}
}

func (b *templateBinding) set(name string, values []string) *templateBinding {
	b.values[name] = values
	return b
}

// renderLiteral substitutes value placeholders and {{zero}}, then computes
// and splices any declared checksums over the substituted payload regions,
// in index order (spec.md §4.3). It returns the concrete command bytes.
func renderLiteral(register, direction, pattern string, binding *templateBinding, checksums []ChecksumKind, isBinary bool) ([]byte, error) {
	rendered, err := substitutePlaceholders(pattern, binding)
	if err != nil {
		return nil, newLogicErrorFor(register, direction, "rendering command template", err)
	}
	for _, i := range sortedIndices(len(checksums)) {
		start := indexOfTag(rendered, "csStart", i)
		end := lastIndexOfTag(rendered, "csEnd", i)
		insert := indexOfTag(rendered, "cs", i)
		if start < 0 || end < 0 || insert < 0 {
			return nil, newLogicErrorFor(register, direction, fmt.Sprintf("checksum %d tag missing after substitution", i), nil)
		}
		startTagLen := len("{{csStart." + strconv.Itoa(i) + "}}")
		payload := []byte(rendered[start+startTagLen : end])
		sum, err := (Checksumer{Kind: checksums[i], IsBinary: isBinary}).Sum(payload)
		if err != nil {
			return nil, newRuntimeErrorFor(register, "computing checksum", err, nil)
		}
		rendered = spliceTag(rendered, "cs", i, sum)
	}
	return stripStructuralTags(rendered), nil
}

func spliceTag(s, name string, i int, value string) string {
	tag := "{{" + name + "." + strconv.Itoa(i) + "}}"
	return strings.Replace(s, tag, value, 1)
}

// stripStructuralTags removes the now-redundant csStart/csEnd anchor tags
// once checksum splicing is complete; they carry no payload of their own.
func stripStructuralTags(s string) []byte {
	const maxChecksums = 16
	for i := 0; i < maxChecksums; i++ {
		s = strings.ReplaceAll(s, "{{csStart."+strconv.Itoa(i)+"}}", "")
		s = strings.ReplaceAll(s, "{{csEnd."+strconv.Itoa(i)+"}}", "")
	}
	return []byte(s)
}

func substitutePlaceholders(pattern string, binding *templateBinding) (string, error) {
	var sb strings.Builder
	i := 0
	for i < len(pattern) {
		if strings.HasPrefix(pattern[i:], "{{") {
			end := strings.Index(pattern[i:], "}}")
			if end < 0 {
				return "", newLogicError("unterminated placeholder in pattern", nil)
			}
			name := pattern[i+2 : i+end]
			repl, consumed, err := resolvePlaceholder(name, binding)
			if err != nil {
				return "", err
			}
			if consumed {
				sb.WriteString(repl)
			} else {
				sb.WriteString("{{" + name + "}}")
			}
			i += end + 2
			continue
		}
		sb.WriteByte(pattern[i])
		i++
	}
	return sb.String(), nil
}

// resolvePlaceholder returns (replacement, true, nil) for placeholders this
// pass understands ("x.i", "zero"); checksum tags (csStart.i/csEnd.i/cs.i)
// are left untouched here and spliced later by renderLiteral/renderRegex, so
// consumed=false is returned for them.
func resolvePlaceholder(name string, binding *templateBinding) (string, bool, error) {
	if name == "zero" {
		return binding.zero, true, nil
	}
	if strings.HasPrefix(name, "csStart.") || strings.HasPrefix(name, "csEnd.") || strings.HasPrefix(name, "cs.") {
		return "", false, nil
	}
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return "", false, newLogicError(fmt.Sprintf("malformed placeholder {{%s}}", name), nil)
	}
	key, idxStr := name[:dot], name[dot+1:]
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return "", false, newLogicError(fmt.Sprintf("malformed placeholder index in {{%s}}", name), nil)
	}
	values, ok := binding.values[key]
	if !ok || idx < 0 || idx >= len(values) {
		return "", false, newLogicError(fmt.Sprintf("no value bound for {{%s}}", name), nil)
	}
	return values[idx], true, nil
}

// renderRegex compiles pattern into a regular expression with one capturing
// group per occurrence of a value placeholder, plus one non-capturing class
// per checksum insertion point. The number of capture groups must equal
// elementCount (spec.md §4.3/§4.4).
func renderRegex(register, direction, pattern string, elementCount int, checksums []ChecksumKind, fixedCharWidth int, valueClass string) (string, int, error) {
	var sb strings.Builder
	groups := 0
	i := 0
	for i < len(pattern) {
		if strings.HasPrefix(pattern[i:], "{{") {
			end := strings.Index(pattern[i:], "}}")
			if end < 0 {
				return "", 0, newLogicErrorFor(register, direction, "unterminated placeholder in response pattern", nil)
			}
			name := pattern[i+2 : i+end]
			switch {
			case name == "zero":
				sb.WriteString(quoteRegexLiteral("\x00"))
			case strings.HasPrefix(name, "cs."):
				idx, err := tagIndex(name, "cs.")
				if err != nil {
					return "", 0, newLogicErrorFor(register, direction, err.Error(), nil)
				}
				if idx < 0 || idx >= len(checksums) {
					return "", 0, newLogicErrorFor(register, direction, fmt.Sprintf("checksum index %d out of range", idx), nil)
				}
				sb.WriteString("(?:" + checksums[idx].regexClass() + ")")
			case strings.HasPrefix(name, "csStart.") || strings.HasPrefix(name, "csEnd."):
				// anchors carry no text of their own in a received response
			default:
				sb.WriteString("(" + valueClass + ")")
				groups++
			}
			i += end + 2
			continue
		}
		sb.WriteString(quoteRegexRune(pattern[i]))
		i++
	}
	if groups != elementCount {
		return "", 0, newLogicErrorFor(register, direction, fmt.Sprintf("response pattern has %d value placeholder(s), register has %d element(s)", groups, elementCount), nil)
	}
	return sb.String(), groups, nil
}

func tagIndex(name, prefix string) (int, error) {
	idx, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil {
		return 0, fmt.Errorf("malformed placeholder index in {{%s}}", name)
	}
	return idx, nil
}

var regexMeta = ".^$*+?()[]{}|\\"

func quoteRegexRune(b byte) string {
	if strings.IndexByte(regexMeta, b) >= 0 {
		return "\\" + string(b)
	}
	return string(b)
}

func quoteRegexLiteral(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		sb.WriteString(quoteRegexRune(s[i]))
	}
	return sb.String()
}

// extractPayloadSnippets returns, for a rendered command/response string and
// its checksum count k, the byte range [csStart.i+1, csEnd.i) covered by each
// declared checksum (spec.md §8, testable property 5). It is exposed mainly
// for tests exercising the checksum tag topology directly.
func extractPayloadSnippets(rendered string, k int) ([][]byte, error) {
	out := make([][]byte, k)
	for i := 0; i < k; i++ {
		startTag := "{{csStart." + strconv.Itoa(i) + "}}"
		start := indexOf(rendered, startTag)
		end := lastIndexOfTag(rendered, "csEnd", i)
		if start < 0 || end < 0 {
			return nil, newLogicError(fmt.Sprintf("checksum %d tags not found", i), nil)
		}
		out[i] = []byte(rendered[start+len(startTag) : end])
	}
	return out, nil
}
