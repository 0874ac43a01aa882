package backend

import "testing"

func TestChecksumerSumBinary(t *testing.T) {
	sum, err := (Checksumer{Kind: ChecksumCS8, IsBinary: true}).Sum([]byte("0102"))
	if err != nil {
		t.Fatal(err)
	}
	// payload bytes 0x01, 0x02 -> cs8 sum 0x03
	if sum != "03" {
		t.Errorf("cs8 sum = %q, want %q", sum, "03")
	}
}

func TestChecksumerSumTextual(t *testing.T) {
	sum, err := (Checksumer{Kind: ChecksumCS8, IsBinary: false}).Sum([]byte{0x01, 0x02})
	if err != nil {
		t.Fatal(err)
	}
	// raw payload bytes 0x01, 0x02 -> cs8 sum 0x03 -> decimal "3"
	if sum != "3" {
		t.Errorf("textual cs8 sum = %q, want %q", sum, "3")
	}
}

func TestCRCCCITT16KnownVector(t *testing.T) {
	// "123456789" is the standard CRC-16/CCITT-FALSE test vector, 0x29B1.
	got := crcCCITT16([]byte("123456789"))
	if got != 0x29B1 {
		t.Errorf("crcCCITT16 = %#04x, want 0x29b1", got)
	}
}

func TestValidateChecksumTopologyRules(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		kinds   []ChecksumKind
		wantErr bool
	}{
		{"no checksums", "{{x.0}}", nil, false},
		{"well formed", "{{csStart.0}}{{x.0}}{{csEnd.0}}{{cs.0}}", []ChecksumKind{ChecksumCS8}, false},
		{"missing csEnd", "{{csStart.0}}{{x.0}}{{cs.0}}", []ChecksumKind{ChecksumCS8}, true},
		{"end before start", "{{csEnd.0}}{{x.0}}{{csStart.0}}{{cs.0}}", []ChecksumKind{ChecksumCS8}, true},
		{"insertion inside payload", "{{csStart.0}}{{cs.0}}{{x.0}}{{csEnd.0}}", []ChecksumKind{ChecksumCS8}, true},
		{"kind count mismatch", "{{csStart.0}}{{x.0}}{{csEnd.0}}{{cs.0}}", nil, true},
		{"overlapping checksums", "{{csStart.0}}{{csStart.1}}{{x.0}}{{csEnd.0}}{{csEnd.1}}{{cs.0}}{{cs.1}}",
			[]ChecksumKind{ChecksumCS8, ChecksumCS8}, true},
		{"gap in checksum indices", "{{csStart.0}}{{x.0}}{{csEnd.0}}{{cs.0}}{{csStart.2}}{{x.1}}{{csEnd.2}}{{cs.2}}",
			[]ChecksumKind{ChecksumCS8, ChecksumCS8, ChecksumCS8}, true},
	}
	for _, c := range cases {
		err := validateChecksumTopology("/R", "write", c.pattern, c.kinds)
		if (err != nil) != c.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", c.name, err, c.wantErr)
		}
	}
}

func TestCountChecksums(t *testing.T) {
	if got := countChecksums("{{cs.0}}{{cs.1}}"); got != 2 {
		t.Errorf("countChecksums = %d, want 2", got)
	}
	if got := countChecksums("no checksums here"); got != 0 {
		t.Errorf("countChecksums = %d, want 0", got)
	}
	// cs.1 is absent: the true highest declared index is 2, so countChecksums
	// must report k=3 (not stop at the gap) for validateChecksumTopology to
	// catch it.
	if got := countChecksums("{{cs.0}}{{cs.2}}"); got != 3 {
		t.Errorf("countChecksums with a gap = %d, want 3", got)
	}
}
