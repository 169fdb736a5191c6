package checksum

import "testing"

func TestSumAndParseRoundTrip(t *testing.T) {
	c := Sum([]byte("hello\n"))
	s := c.String()
	if len(s) != HexSize {
		t.Fatalf("String() length = %d, want %d", len(s), HexSize)
	}

	parsed, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	if parsed != c {
		t.Fatalf("Parse(String()) = %v, want %v", parsed, c)
	}
}

func TestParseRejectsWrongLength(t *testing.T) {
	if _, err := Parse("abcd"); err == nil {
		t.Fatal("Parse(short string) = nil error, want error")
	}
}

func TestParseRejectsNonHex(t *testing.T) {
	bad := make([]byte, HexSize)
	for i := range bad {
		bad[i] = 'z'
	}
	if _, err := Parse(string(bad)); err == nil {
		t.Fatal("Parse(non-hex) = nil error, want error")
	}
}

func TestFanout(t *testing.T) {
	c := Sum([]byte("content"))
	s := c.String()
	if c.FanoutDir() != s[:2] {
		t.Fatalf("FanoutDir() = %q, want %q", c.FanoutDir(), s[:2])
	}
	if c.FanoutRest() != s[2:] {
		t.Fatalf("FanoutRest() = %q, want %q", c.FanoutRest(), s[2:])
	}
}

func TestAllPrefixesCovers256(t *testing.T) {
	prefixes := AllPrefixes()
	if len(prefixes) != 256 {
		t.Fatalf("AllPrefixes() has %d entries, want 256", len(prefixes))
	}
	seen := make(map[string]bool, 256)
	for _, p := range prefixes {
		if len(p) != 2 {
			t.Fatalf("prefix %q has length %d, want 2", p, len(p))
		}
		seen[p] = true
	}
	if len(seen) != 256 {
		t.Fatalf("AllPrefixes() has %d unique entries, want 256", len(seen))
	}
}

func TestPrefixMatch(t *testing.T) {
	c := MustParse("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	if !c.Prefix("0123") {
		t.Fatal("Prefix(\"0123\") = false, want true")
	}
	if c.Prefix("ffff") {
		t.Fatal("Prefix(\"ffff\") = true, want false")
	}
}

func TestZero(t *testing.T) {
	var c Checksum
	if !c.Zero() {
		t.Fatal("zero-value Checksum.Zero() = false, want true")
	}
	if Sum([]byte("x")).Zero() {
		t.Fatal("non-zero checksum reported Zero() = true")
	}
}
