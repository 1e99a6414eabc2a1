package tds

import (
	"encoding/binary"
	"math"
	"unicode/utf16"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ScalarKind tags which field of a Scalar is populated (spec.md §3.6).
type ScalarKind int

const (
	ScalarNull ScalarKind = iota
	ScalarBool
	ScalarTinyInt
	ScalarSmallInt
	ScalarInt
	ScalarBigInt
	ScalarFloat
	ScalarDouble
	ScalarString
	ScalarBinary
	ScalarDecimal
	ScalarUuid
	ScalarDate
	ScalarTime
	ScalarDateTime
	ScalarDateTimeOffset
	ScalarXML
	ScalarJSON
)

// Scalar is the tagged-union row value the token parser produces for
// every column, per spec.md §3.6. Only the field matching Kind is valid.
type Scalar struct {
	Kind     ScalarKind
	Bool     bool
	TinyInt  uint8
	SmallInt int16
	Int      int32
	BigInt   int64
	Float    float32
	Double   float64
	String   string
	Binary   []byte
	Decimal  decimal.Decimal
	Uuid     uuid.UUID
	Date     civil.Date
	Time     civil.Time
	DateTime civil.DateTime
	// DateTimeOffset is the UTC instant; Offset is minutes east of UTC, the
	// two together reconstruct DATETIMEOFFSET's wire-distinct pair
	// (spec.md §3.6).
	DateTimeOffset civil.DateTime
	Offset         int16
}

// IsNull reports whether this scalar represents SQL NULL.
func (s Scalar) IsNull() bool { return s.Kind == ScalarNull }

// decodeFixed decodes one of the truly fixed-length types (no length
// byte at all: TINYINT, BIT, SMALLINT, INT, BIGINT, REAL, FLOAT, SMALLDATETIME,
// DATETIME, SMALLMONEY, MONEY), per spec.md §3.3(a)/§4.4.
func decodeFixed(t SQLType, b []byte) (Scalar, error) {
	switch t {
	case TypeInt1:
		return Scalar{Kind: ScalarTinyInt, TinyInt: b[0]}, nil
	case TypeBit:
		return Scalar{Kind: ScalarBool, Bool: b[0] != 0}, nil
	case TypeInt2:
		return Scalar{Kind: ScalarSmallInt, SmallInt: int16(binary.LittleEndian.Uint16(b))}, nil
	case TypeInt4:
		return Scalar{Kind: ScalarInt, Int: int32(binary.LittleEndian.Uint32(b))}, nil
	case TypeInt8:
		return Scalar{Kind: ScalarBigInt, BigInt: int64(binary.LittleEndian.Uint64(b))}, nil
	case TypeFloat4:
		return Scalar{Kind: ScalarFloat, Float: decodeFloat32(b)}, nil
	case TypeFloat8:
		return Scalar{Kind: ScalarDouble, Double: decodeFloat64(b)}, nil
	case TypeDateTime4:
		return decodeSmallDateTime(b)
	case TypeDateTime:
		return decodeDateTime8(b)
	case TypeMoney4:
		return Scalar{Kind: ScalarDecimal, Decimal: decodeMoney4(b)}, nil
	case TypeMoney:
		return Scalar{Kind: ScalarDecimal, Decimal: decodeMoney8(b)}, nil
	default:
		return Scalar{}, &ProtocolError{Kind: KindCodec, Msg: "unhandled fixed type " + t.String()}
	}
}

func decodeFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func decodeFloat64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// decodeVariable decodes one of the types whose value follows a length
// byte/short/long/PLP header already stripped off by the token parser
// (spec.md §3.3(b)/(d), §4.4); col carries the descriptor needed for
// collation and scale.
func decodeVariable(col Column, b []byte) (Scalar, error) {
	t := col.Type.ID
	switch t {
	case TypeGUID:
		id, err := decodeGUID(b)
		if err != nil {
			return Scalar{}, err
		}
		return Scalar{Kind: ScalarUuid, Uuid: id}, nil
	case TypeIntN:
		return decodeIntN(b)
	case TypeBitN:
		return Scalar{Kind: ScalarBool, Bool: b[0] != 0}, nil
	case TypeFloatN:
		return decodeFloatN(b)
	case TypeMoneyN:
		return decodeMoneyN(b)
	case TypeDateTimeN:
		return decodeDateTimeN(b)
	case TypeDecimal, TypeDecimalN, TypeNumeric, TypeNumericN:
		d, err := decodeDecimal(b, col.Type.Scale)
		if err != nil {
			return Scalar{}, err
		}
		return Scalar{Kind: ScalarDecimal, Decimal: d}, nil
	case TypeDateN:
		return decodeDate(b)
	case TypeTimeN:
		return decodeTime(b, col.Type.Scale)
	case TypeDateTime2N:
		return decodeDateTime2(b, col.Type.Scale)
	case TypeDateTimeOffsetN:
		return decodeDateTimeOffset(b, col.Type.Scale)
	case TypeChar, TypeVarChar, TypeBigChar, TypeBigVarChar, TypeText:
		s, err := col.Type.Collation.DecodeVarchar(b)
		if err != nil {
			return Scalar{}, err
		}
		return Scalar{Kind: ScalarString, String: s}, nil
	case TypeNChar, TypeNVarChar, TypeNText:
		return Scalar{Kind: ScalarString, String: ucs2ToString(b)}, nil
	case TypeBinary, TypeVarBinary, TypeBigBinary, TypeBigVarBin, TypeImage:
		out := make([]byte, len(b))
		copy(out, b)
		return Scalar{Kind: ScalarBinary, Binary: out}, nil
	case TypeXML:
		return Scalar{Kind: ScalarXML, String: ucs2ToString(b)}, nil
	default:
		return Scalar{}, &ProtocolError{Kind: KindCodec, Msg: "unhandled variable type " + t.String()}
	}
}

func ucs2ToString(b []byte) string {
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u16))
}

// decodeIntN dispatches on the payload width left after a length byte of
// 1/2/4/8 (sizes SQL Server uses for TINYINT/SMALLINT/INT/BIGINT
// represented as nullable INTN columns).
func decodeIntN(b []byte) (Scalar, error) {
	switch len(b) {
	case 1:
		return Scalar{Kind: ScalarTinyInt, TinyInt: b[0]}, nil
	case 2:
		return Scalar{Kind: ScalarSmallInt, SmallInt: int16(binary.LittleEndian.Uint16(b))}, nil
	case 4:
		return Scalar{Kind: ScalarInt, Int: int32(binary.LittleEndian.Uint32(b))}, nil
	case 8:
		return Scalar{Kind: ScalarBigInt, BigInt: int64(binary.LittleEndian.Uint64(b))}, nil
	default:
		return Scalar{}, &ProtocolError{Kind: KindCodec, Msg: "invalid INTN width"}
	}
}

func decodeFloatN(b []byte) (Scalar, error) {
	switch len(b) {
	case 4:
		return Scalar{Kind: ScalarFloat, Float: decodeFloat32(b)}, nil
	case 8:
		return Scalar{Kind: ScalarDouble, Double: decodeFloat64(b)}, nil
	default:
		return Scalar{}, &ProtocolError{Kind: KindCodec, Msg: "invalid FLOATN width"}
	}
}
