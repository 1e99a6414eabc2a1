package tds

import "testing"

func TestGUIDDecodeEncodeRoundTrip(t *testing.T) {
	// SQL Server wire layout for 12345678-1234-5678-9ABC-DEF012345678.
	wire := []byte{
		0x78, 0x56, 0x34, 0x12,
		0x34, 0x12,
		0x78, 0x56,
		0x9A, 0xBC,
		0xDE, 0xF0, 0x12, 0x34, 0x56, 0x78,
	}
	id, err := decodeGUID(wire)
	if err != nil {
		t.Fatalf("decodeGUID: %v", err)
	}
	if got, want := id.String(), "12345678-1234-5678-9abc-def012345678"; got != want {
		t.Errorf("decodeGUID().String() = %q, want %q", got, want)
	}

	back := encodeGUID(id)
	if len(back) != len(wire) {
		t.Fatalf("encodeGUID length = %d, want %d", len(back), len(wire))
	}
	for i := range wire {
		if back[i] != wire[i] {
			t.Errorf("encodeGUID byte %d = %#x, want %#x", i, back[i], wire[i])
		}
	}
}

func TestDecodeGUIDRejectsWrongLength(t *testing.T) {
	if _, err := decodeGUID([]byte{1, 2, 3}); err == nil {
		t.Fatal("decodeGUID should reject a non-16-byte value")
	}
}
