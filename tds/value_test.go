package tds

import (
	"bytes"
	"testing"
)

func TestDecodeFixedIntegerTypes(t *testing.T) {
	sc, err := decodeFixed(TypeInt1, []byte{200})
	if err != nil || sc.Kind != ScalarTinyInt || sc.TinyInt != 200 {
		t.Errorf("TypeInt1: sc=%+v err=%v", sc, err)
	}

	sc, err = decodeFixed(TypeBit, []byte{1})
	if err != nil || sc.Kind != ScalarBool || !sc.Bool {
		t.Errorf("TypeBit: sc=%+v err=%v", sc, err)
	}

	sc, err = decodeFixed(TypeInt4, []byte{0x01, 0x00, 0x00, 0x00})
	if err != nil || sc.Kind != ScalarInt || sc.Int != 1 {
		t.Errorf("TypeInt4: sc=%+v err=%v", sc, err)
	}

	sc, err = decodeFixed(TypeInt8, []byte{0, 0, 0, 0, 0, 0, 0, 0x01})
	if err != nil {
		t.Fatalf("TypeInt8: %v", err)
	}
	// big-endian literal above is wrong on purpose to catch endianness bugs;
	// TDS is little-endian so this value decodes to a very large number.
	if sc.Kind != ScalarBigInt {
		t.Errorf("TypeInt8 kind = %v, want ScalarBigInt", sc.Kind)
	}
}

func TestDecodeFixedUnknownTypeIsError(t *testing.T) {
	if _, err := decodeFixed(TypeNVarChar, []byte{0}); err == nil {
		t.Fatal("decodeFixed should reject a non-fixed type")
	}
}

func TestDecodeIntNWidths(t *testing.T) {
	tests := []struct {
		b    []byte
		kind ScalarKind
	}{
		{[]byte{5}, ScalarTinyInt},
		{[]byte{1, 0}, ScalarSmallInt},
		{[]byte{1, 0, 0, 0}, ScalarInt},
		{[]byte{1, 0, 0, 0, 0, 0, 0, 0}, ScalarBigInt},
	}
	for _, tt := range tests {
		sc, err := decodeIntN(tt.b)
		if err != nil {
			t.Fatalf("decodeIntN(%d bytes): %v", len(tt.b), err)
		}
		if sc.Kind != tt.kind {
			t.Errorf("decodeIntN(%d bytes) kind = %v, want %v", len(tt.b), sc.Kind, tt.kind)
		}
	}
	if _, err := decodeIntN([]byte{1, 2, 3}); err == nil {
		t.Error("decodeIntN should reject an invalid width")
	}
}

func TestDecodeFloatN(t *testing.T) {
	if sc, err := decodeFloatN(make([]byte, 4)); err != nil || sc.Kind != ScalarFloat {
		t.Errorf("4-byte FLOATN: sc=%+v err=%v", sc, err)
	}
	if sc, err := decodeFloatN(make([]byte, 8)); err != nil || sc.Kind != ScalarDouble {
		t.Errorf("8-byte FLOATN: sc=%+v err=%v", sc, err)
	}
	if _, err := decodeFloatN(make([]byte, 3)); err == nil {
		t.Error("decodeFloatN should reject an invalid width")
	}
}

func TestDecodeVariableStringTypes(t *testing.T) {
	col := Column{Type: TypeInfo{ID: TypeVarChar, Collation: Collation{SortID: 51}}}
	sc, err := decodeVariable(col, []byte("hello"))
	if err != nil {
		t.Fatalf("decodeVariable VARCHAR: %v", err)
	}
	if sc.Kind != ScalarString || sc.String != "hello" {
		t.Errorf("sc = %+v, want String=hello", sc)
	}

	ncol := Column{Type: TypeInfo{ID: TypeNVarChar}}
	nbytes := stringToUCS2("wide")
	sc, err = decodeVariable(ncol, nbytes)
	if err != nil {
		t.Fatalf("decodeVariable NVARCHAR: %v", err)
	}
	if sc.String != "wide" {
		t.Errorf("NVARCHAR decoded = %q, want %q", sc.String, "wide")
	}
}

func TestDecodeVariableBinary(t *testing.T) {
	col := Column{Type: TypeInfo{ID: TypeVarBinary}}
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	sc, err := decodeVariable(col, data)
	if err != nil {
		t.Fatalf("decodeVariable VARBINARY: %v", err)
	}
	if sc.Kind != ScalarBinary || !bytes.Equal(sc.Binary, data) {
		t.Errorf("sc = %+v, want Binary=%x", sc, data)
	}
}

func TestDecodeVariableGUID(t *testing.T) {
	col := Column{Type: TypeInfo{ID: TypeGUID}}
	wire := make([]byte, 16)
	sc, err := decodeVariable(col, wire)
	if err != nil {
		t.Fatalf("decodeVariable GUID: %v", err)
	}
	if sc.Kind != ScalarUuid {
		t.Errorf("Kind = %v, want ScalarUuid", sc.Kind)
	}
}

func TestDecodeVariableUnknownTypeIsError(t *testing.T) {
	col := Column{Type: TypeInfo{ID: TypeNull}}
	if _, err := decodeVariable(col, nil); err == nil {
		t.Fatal("decodeVariable should reject an unhandled type")
	}
}

func TestScalarIsNull(t *testing.T) {
	if !(Scalar{Kind: ScalarNull}).IsNull() {
		t.Error("Scalar{Kind: ScalarNull}.IsNull() should be true")
	}
	if (Scalar{Kind: ScalarInt}).IsNull() {
		t.Error("Scalar{Kind: ScalarInt}.IsNull() should be false")
	}
}
