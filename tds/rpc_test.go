package tds

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestProcIDNameKnownAndUnknown(t *testing.T) {
	if got := ProcIDName(ProcIDExecuteSQL); got != "sp_executesql" {
		t.Errorf("ProcIDName(ExecuteSQL) = %q", got)
	}
	if got := ProcIDName(9999); got != "sp_unknown_9999" {
		t.Errorf("ProcIDName(9999) = %q, want sp_unknown_9999", got)
	}
}

func TestRPCRequestEncodeBuiltinProcID(t *testing.T) {
	req := RPCRequest{ProcID: ProcIDExecuteSQL, TxnDescriptor: 0}
	out, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// ALL_HEADERS is a fixed 22 bytes for a single transaction-descriptor header.
	body := out[22:]
	nameLen := binary.LittleEndian.Uint16(body[0:2])
	if nameLen != 0xFFFF {
		t.Fatalf("name length marker = 0x%04X, want 0xFFFF (builtin proc id)", nameLen)
	}
	procID := binary.LittleEndian.Uint16(body[2:4])
	if procID != ProcIDExecuteSQL {
		t.Errorf("procID = %d, want %d", procID, ProcIDExecuteSQL)
	}
}

func TestRPCRequestEncodeNamedProc(t *testing.T) {
	req := RPCRequest{ProcName: "my_proc"}
	out, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	body := out[22:]
	nameLen := binary.LittleEndian.Uint16(body[0:2])
	if int(nameLen) != len("my_proc") {
		t.Fatalf("name length = %d, want %d", nameLen, len("my_proc"))
	}
	nameBytes := body[2 : 2+int(nameLen)*2]
	if ucs2ToString(nameBytes) != "my_proc" {
		t.Errorf("name = %q", ucs2ToString(nameBytes))
	}
}

func TestParamEncodeIntValue(t *testing.T) {
	p := Param{
		Name:  "@p1",
		Type:  TypeInfo{ID: TypeIntN, Size: 4},
		Value: Scalar{Kind: ScalarInt, Int: 42},
	}
	out, err := p.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// name-length byte, name (UCS2), status flag byte, then TYPE_INFO + value.
	nameLen := int(out[0])
	if nameLen != 3 {
		t.Fatalf("name length byte = %d, want 3", nameLen)
	}
	rest := out[1+nameLen*2:]
	if rest[0] != 0 {
		t.Errorf("flags = %d, want 0", rest[0])
	}
	if SQLType(rest[1]) != TypeIntN {
		t.Errorf("type id = 0x%02X, want IntN", rest[1])
	}
	size := rest[2]
	if size != 4 {
		t.Errorf("IntN size descriptor = %d, want 4", size)
	}
	lenByte := rest[3]
	if lenByte != 4 {
		t.Errorf("value length = %d, want 4", lenByte)
	}
	got := int32(binary.LittleEndian.Uint32(rest[4:8]))
	if got != 42 {
		t.Errorf("value = %d, want 42", got)
	}
}

func TestEncodeNullValueByDiscipline(t *testing.T) {
	null := Scalar{Kind: ScalarNull}
	b, err := encodeValue(TypeInfo{ID: TypeIntN, Size: 4}, null)
	if err != nil {
		t.Fatalf("encodeValue: %v", err)
	}
	if !bytes.Equal(b, []byte{0}) {
		t.Errorf("IntN NULL encoding = %v, want [0]", b)
	}

	b, err = encodeValue(TypeInfo{ID: TypeBigVarChar, Size: 100}, null)
	if err != nil {
		t.Fatalf("encodeValue: %v", err)
	}
	if !bytes.Equal(b, []byte{0xFF, 0xFF}) {
		t.Errorf("BigVarChar NULL encoding = %v, want [FF FF]", b)
	}
}

func TestEncodeTypeInfoDecimalCarriesPrecisionScale(t *testing.T) {
	ti := TypeInfo{ID: TypeDecimalN, Size: 17, Precision: 38, Scale: 4}
	out := encodeTypeInfo(ti)
	if out[0] != byte(TypeDecimalN) {
		t.Fatalf("tag = 0x%02X", out[0])
	}
	if out[1] != 17 || out[2] != 38 || out[3] != 4 {
		t.Errorf("descriptor = %v, want [17 38 4]", out[1:4])
	}
}

func TestEncodePLPZeroLengthBodyTerminator(t *testing.T) {
	out := encodePLP(nil)
	// 8-byte length header (0) directly followed by the 4-byte terminator, no chunk.
	if len(out) != 12 {
		t.Fatalf("len(encodePLP(nil)) = %d, want 12", len(out))
	}
	if binary.LittleEndian.Uint64(out[0:8]) != 0 {
		t.Errorf("PLP length header = %d, want 0", binary.LittleEndian.Uint64(out[0:8]))
	}
	if binary.LittleEndian.Uint32(out[8:12]) != 0 {
		t.Errorf("PLP terminator = %d, want 0", binary.LittleEndian.Uint32(out[8:12]))
	}
}
