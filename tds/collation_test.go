package tds

import "testing"

func TestCollationEncodeDecodeRoundTrip(t *testing.T) {
	c := Collation{LCID: 0x0409, sortFlags: 0x3, codepageBits: 0x01, SortID: 52}
	encoded := c.Encode()
	if len(encoded) != 5 {
		t.Fatalf("Encode length = %d, want 5", len(encoded))
	}
	got := ParseCollation(encoded)
	if got != c {
		t.Errorf("ParseCollation(Encode(c)) = %+v, want %+v", got, c)
	}
}

func TestParseCollationShortInputReturnsZeroValue(t *testing.T) {
	got := ParseCollation([]byte{1, 2, 3})
	if got != (Collation{}) {
		t.Errorf("ParseCollation with <5 bytes = %+v, want zero value", got)
	}
}

func TestCollationCodepageFromSortID(t *testing.T) {
	c := Collation{SortID: 51}
	if got := c.Codepage(); got != 1252 {
		t.Errorf("Codepage() for SortID 51 = %d, want 1252", got)
	}
}

func TestCollationCodepageFallsBackToLCID(t *testing.T) {
	c := Collation{LCID: 0x0411} // Japanese, SortID 0
	if got := c.Codepage(); got != 932 {
		t.Errorf("Codepage() for Japanese LCID = %d, want 932", got)
	}
}

func TestCollationIsUTF8(t *testing.T) {
	utf8 := Collation{SortID: 0, codepageBits: 0x01}
	if !utf8.IsUTF8() {
		t.Error("expected IsUTF8() true when SortID=0 and codepage bit 0x01 set")
	}
	notUTF8 := Collation{SortID: 51}
	if notUTF8.IsUTF8() {
		t.Error("expected IsUTF8() false for a legacy SortID")
	}
}

func TestDecodeVarcharASCIIPassthrough(t *testing.T) {
	c := Collation{SortID: 51} // Windows-1252
	got, err := c.DecodeVarchar([]byte("hello"))
	if err != nil {
		t.Fatalf("DecodeVarchar: %v", err)
	}
	if got != "hello" {
		t.Errorf("DecodeVarchar = %q, want %q", got, "hello")
	}
}

func TestDecodeVarcharUTF8Collation(t *testing.T) {
	c := Collation{SortID: 0, codepageBits: 0x01}
	got, err := c.DecodeVarchar([]byte("café"))
	if err != nil {
		t.Fatalf("DecodeVarchar: %v", err)
	}
	if got != "café" {
		t.Errorf("DecodeVarchar = %q, want %q", got, "café")
	}
}
