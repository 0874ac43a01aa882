package backend

import (
	"strings"
	"testing"
)

func TestRenderLiteralSubstitutesValues(t *testing.T) {
	binding := newTemplateBinding().set("x", []string{"7", "9"})
	out, err := renderLiteral("/R", "write", "SET {{x.0}},{{x.1}}\r\n", binding, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "SET 7,9\r\n" {
		t.Errorf("renderLiteral = %q", out)
	}
}

func TestRenderLiteralZeroPlaceholder(t *testing.T) {
	binding := newTemplateBinding()
	out, err := renderLiteral("/R", "write", "A{{zero}}B", binding, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "A\x00B" {
		t.Errorf("renderLiteral with {{zero}} = %q", out)
	}
}

func TestRenderLiteralSplicesChecksum(t *testing.T) {
	binding := newTemplateBinding().set("x", []string{"7"})
	pattern := "SET {{csStart.0}}{{x.0}}{{csEnd.0}},{{cs.0}}\r\n"
	out, err := renderLiteral("/R", "write", pattern, binding, []ChecksumKind{ChecksumCS8}, false)
	if err != nil {
		t.Fatal(err)
	}
	// payload is the literal bytes "7" (ASCII 0x37); textual cs8 -> decimal of
	// the hex sum.
	want := "SET 7,55\r\n"
	if string(out) != want {
		t.Errorf("renderLiteral with checksum = %q, want %q", out, want)
	}
	if strings.Contains(string(out), "{{") {
		t.Errorf("structural tags not stripped: %q", out)
	}
}

func TestRenderRegexCaptureGroupCount(t *testing.T) {
	pattern, groups, err := renderRegex("/R", "read", "VAL {{x.0}} {{x.1}}\r\n", 2, nil, 0, "[0-9]+")
	if err != nil {
		t.Fatal(err)
	}
	if groups != 2 {
		t.Errorf("groups = %d, want 2", groups)
	}
	if !strings.Contains(pattern, "([0-9]+)") {
		t.Errorf("pattern = %q, want a capture group", pattern)
	}
}

func TestRenderRegexGroupMismatchRejected(t *testing.T) {
	_, _, err := renderRegex("/R", "read", "VAL {{x.0}}\r\n", 2, nil, 0, "[0-9]+")
	if err == nil {
		t.Error("expected an error when declared element count does not match placeholder count")
	}
}

func TestExtractPayloadSnippets(t *testing.T) {
	rendered := "A{{csStart.0}}payload{{csEnd.0}}B"
	snippets, err := extractPayloadSnippets(rendered, 1)
	if err != nil {
		t.Fatal(err)
	}
	if string(snippets[0]) != "payload" {
		t.Errorf("snippet = %q, want %q", snippets[0], "payload")
	}
}
