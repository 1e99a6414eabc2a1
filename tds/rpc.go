package tds

import (
	"encoding/binary"
	"fmt"
	"math"
)

// System stored procedure IDs usable as RPC request ProcID, per
// spec.md §4.4's RPC encoding table.
const (
	ProcIDCursor          uint16 = 1
	ProcIDCursorOpen      uint16 = 2
	ProcIDCursorPrepare   uint16 = 3
	ProcIDCursorExecute   uint16 = 4
	ProcIDCursorPrepExec  uint16 = 5
	ProcIDCursorUnprepare uint16 = 6
	ProcIDCursorFetch     uint16 = 7
	ProcIDCursorOption    uint16 = 8
	ProcIDCursorClose     uint16 = 9
	ProcIDExecuteSQL      uint16 = 10
	ProcIDPrepare         uint16 = 11
	ProcIDExecute         uint16 = 12
	ProcIDPrepExec        uint16 = 13
	ProcIDPrepExecRPC     uint16 = 14
	ProcIDUnprepare       uint16 = 15
)

func ProcIDName(id uint16) string {
	switch id {
	case ProcIDCursor:
		return "sp_cursor"
	case ProcIDCursorOpen:
		return "sp_cursoropen"
	case ProcIDCursorPrepare:
		return "sp_cursorprepare"
	case ProcIDCursorExecute:
		return "sp_cursorexecute"
	case ProcIDCursorPrepExec:
		return "sp_cursorprepexec"
	case ProcIDCursorUnprepare:
		return "sp_cursorunprepare"
	case ProcIDCursorFetch:
		return "sp_cursorfetch"
	case ProcIDCursorOption:
		return "sp_cursoroption"
	case ProcIDCursorClose:
		return "sp_cursorclose"
	case ProcIDExecuteSQL:
		return "sp_executesql"
	case ProcIDPrepare:
		return "sp_prepare"
	case ProcIDExecute:
		return "sp_execute"
	case ProcIDPrepExec:
		return "sp_prepexec"
	case ProcIDPrepExecRPC:
		return "sp_prepexecrpc"
	case ProcIDUnprepare:
		return "sp_unprepare"
	default:
		return fmt.Sprintf("sp_unknown_%d", id)
	}
}

// RPC OptionFlags, per spec.md §4.4.
const (
	RPCOptionWithRecomp  uint16 = 0x0001
	RPCOptionNoMetaData  uint16 = 0x0002
	RPCOptionReuseMetaData uint16 = 0x0004
)

// Parameter status flags, per spec.md §4.4.
const (
	ParamByRefValue   uint8 = 0x01
	ParamDefaultValue uint8 = 0x02
	ParamEncrypted    uint8 = 0x08
)

// Param is one bound RPC parameter: a name, flags, its declared TYPE_INFO,
// and the value to encode.
type Param struct {
	Name  string // includes the leading '@', e.g. "@p1"
	Flags uint8
	Type  TypeInfo
	Value Scalar
	TVP   *TVP // set instead of Value for table-valued parameters
}

// RPCRequest is a client-to-server remote procedure call, used for both
// system procedures (sp_executesql, sp_prepare, ...) and named stored
// procedures (spec.md §4.4).
type RPCRequest struct {
	ProcID        uint16 // 0 when ProcName is set
	ProcName      string
	Options       uint16
	Params        []Param
	TxnDescriptor uint64
}

// Encode serializes the RPC request body: ALL_HEADERS, then either the
// built-in ProcID or a length-prefixed name, OptionFlags, then each
// parameter in turn.
func (r RPCRequest) Encode() ([]byte, error) {
	out := encodeAllHeaders(r.TxnDescriptor)

	if r.ProcName != "" {
		nameBytes := stringToUCS2(r.ProcName)
		out = append(out, be16le(uint16(len([]rune(r.ProcName))))...)
		out = append(out, nameBytes...)
	} else {
		out = append(out, be16le(0xFFFF)...)
		out = append(out, be16le(r.ProcID)...)
	}
	out = append(out, be16le(r.Options)...)

	for _, p := range r.Params {
		encoded, err := p.encode()
		if err != nil {
			return nil, err
		}
		out = append(out, encoded...)
	}
	return out, nil
}

func (p Param) encode() ([]byte, error) {
	var out []byte
	nameBytes := stringToUCS2(p.Name)
	out = append(out, byte(len([]rune(p.Name))))
	out = append(out, nameBytes...)
	out = append(out, p.Flags)

	if p.TVP != nil {
		tvpBytes, err := p.TVP.Encode()
		if err != nil {
			return nil, err
		}
		out = append(out, tvpBytes...)
		return out, nil
	}

	out = append(out, encodeTypeInfo(p.Type)...)
	valBytes, err := encodeValue(p.Type, p.Value)
	if err != nil {
		return nil, err
	}
	out = append(out, valBytes...)
	return out, nil
}

func be16le(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }

// encodeTypeInfo is the encode-side counterpart of decodeTypeInfo,
// writing the TYPE_INFO MS-TDS expects ahead of an RPC parameter's value
// or a bulk/TVP column descriptor.
func encodeTypeInfo(ti TypeInfo) []byte {
	t := ti.ID
	out := []byte{byte(t)}

	switch t {
	case TypeNull, TypeInt1, TypeBit, TypeInt2, TypeInt4, TypeInt8,
		TypeFloat4, TypeFloat8, TypeMoney, TypeMoney4, TypeDateTime, TypeDateTime4:
		// no descriptor bytes

	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN:
		out = append(out, byte(ti.Size))

	case TypeDateN:
		// no descriptor bytes

	case TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		out = append(out, ti.Scale)

	case TypeDecimal, TypeNumeric, TypeDecimalN, TypeNumericN:
		out = append(out, byte(ti.Size), ti.Precision, ti.Scale)

	case TypeGUID:
		out = append(out, byte(ti.Size))

	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		out = append(out, byte(ti.Size))
		if t == TypeChar || t == TypeVarChar {
			out = append(out, ti.Collation.Encode()...)
		}

	case TypeBigVarChar, TypeBigChar, TypeBigVarBin, TypeBigBinary, TypeNVarChar, TypeNChar:
		sz := uint16(ti.Size)
		if ti.IsMax {
			sz = 0xFFFF
		}
		out = append(out, be16le(sz)...)
		if t == TypeBigVarChar || t == TypeBigChar || t == TypeNVarChar || t == TypeNChar {
			out = append(out, ti.Collation.Encode()...)
		}

	case TypeXML:
		out = append(out, 0) // no schema collection bound

	case TypeSSVariant:
		out = append(out, be32le(ti.Size)...)

	default:
		out = append(out, be16le(uint16(ti.Size))...)
	}
	return out
}

func be32le(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }

// encodeValue writes a Scalar's length-framed body per the type's
// length discipline, the inverse of decodeColumnValue/decodeVariable.
func encodeValue(ti TypeInfo, v Scalar) ([]byte, error) {
	col := Column{Type: ti}
	if v.IsNull() {
		return encodeNull(col), nil
	}
	if size := fixedSize(ti.ID); size > 0 {
		return encodeFixedValue(ti.ID, v)
	}
	body, err := encodeVariableBody(ti, v)
	if err != nil {
		return nil, err
	}
	switch col.lengthDiscipline() {
	case LenByte:
		return append([]byte{byte(len(body))}, body...), nil
	case LenUShort:
		return append(be16le(uint16(len(body))), body...), nil
	case LenULong:
		return append(be32le(uint32(len(body))), body...), nil
	case LenPLP:
		return encodePLP(body), nil
	default:
		return nil, &ProtocolError{Kind: KindCodec, Msg: "unknown length discipline while encoding"}
	}
}

func encodeNull(col Column) []byte {
	if fixedSize(col.Type.ID) > 0 {
		return nil // fixed types are never NULL; callers should use the *N variant
	}
	switch col.lengthDiscipline() {
	case LenByte:
		return []byte{0}
	case LenUShort:
		return be16le(0xFFFF)
	case LenULong:
		return be32le(0xFFFFFFFF)
	case LenPLP:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, plpNull)
		return b
	default:
		return []byte{0}
	}
}

func encodePLP(body []byte) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, uint64(len(body)))
	if len(body) > 0 {
		out = append(out, be32le(uint32(len(body)))...)
		out = append(out, body...)
	}
	out = append(out, be32le(0)...)
	return out
}

func encodeFixedValue(t SQLType, v Scalar) ([]byte, error) {
	b := make([]byte, fixedSize(t))
	switch t {
	case TypeInt1:
		b[0] = v.TinyInt
	case TypeBit:
		if v.Bool {
			b[0] = 1
		}
	case TypeInt2:
		binary.LittleEndian.PutUint16(b, uint16(v.SmallInt))
	case TypeInt4:
		binary.LittleEndian.PutUint32(b, uint32(v.Int))
	case TypeInt8:
		binary.LittleEndian.PutUint64(b, uint64(v.BigInt))
	case TypeFloat4:
		binary.LittleEndian.PutUint32(b, math.Float32bits(v.Float))
	case TypeFloat8:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.Double))
	default:
		return nil, &ProtocolError{Kind: KindCodec, Msg: "unsupported fixed encode type " + t.String()}
	}
	return b, nil
}

func encodeVariableBody(ti TypeInfo, v Scalar) ([]byte, error) {
	switch ti.ID {
	case TypeGUID:
		return encodeGUID(v.Uuid), nil
	case TypeIntN:
		switch v.Kind {
		case ScalarTinyInt:
			return []byte{v.TinyInt}, nil
		case ScalarSmallInt:
			b := make([]byte, 2)
			binary.LittleEndian.PutUint16(b, uint16(v.SmallInt))
			return b, nil
		case ScalarInt:
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, uint32(v.Int))
			return b, nil
		default:
			b := make([]byte, 8)
			binary.LittleEndian.PutUint64(b, uint64(v.BigInt))
			return b, nil
		}
	case TypeBitN:
		if v.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case TypeFloatN:
		if v.Kind == ScalarFloat {
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, math.Float32bits(v.Float))
			return b, nil
		}
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.Double))
		return b, nil
	case TypeMoneyN:
		b := make([]byte, 8)
		mantissa := v.Decimal.Rescale(-4).Coefficient()
		binary.LittleEndian.PutUint32(b[0:4], uint32(mantissa.Int64()>>32))
		binary.LittleEndian.PutUint32(b[4:8], uint32(mantissa.Int64()))
		return b, nil
	case TypeDateTimeN:
		return encodeDateTime(v), nil
	case TypeDecimal, TypeDecimalN, TypeNumeric, TypeNumericN:
		return encodeDecimal(v.Decimal, ti.Precision, ti.Scale), nil
	case TypeDateN:
		return encodeDate(v.Date), nil
	case TypeTimeN:
		return encodeTimeTicks(v.Time, ti.Scale), nil
	case TypeDateTime2N:
		return append(encodeTimeTicks(v.DateTime.Time, ti.Scale), encodeCivilDate(v.DateTime.Date)...), nil
	case TypeDateTimeOffsetN:
		body := encodeTimeTicks(v.DateTimeOffset.Time, ti.Scale)
		body = append(body, encodeCivilDate(v.DateTimeOffset.Date)...)
		body = append(body, be16le(uint16(v.Offset))...)
		return body, nil
	case TypeChar, TypeVarChar, TypeBigChar, TypeBigVarChar, TypeText:
		return []byte(v.String), nil
	case TypeNChar, TypeNVarChar, TypeNText, TypeXML:
		return stringToUCS2(v.String), nil
	case TypeBinary, TypeVarBinary, TypeBigBinary, TypeBigVarBin, TypeImage:
		return v.Binary, nil
	default:
		return nil, &ProtocolError{Kind: KindCodec, Msg: "unhandled variable encode type " + ti.ID.String()}
	}
}
