package tds

import "fmt"

// SQLType is the wire type_id byte of a TDS TYPE_INFO, per spec.md §3.4.
type SQLType uint8

const (
	TypeNull      SQLType = 0x1F
	TypeInt1      SQLType = 0x30
	TypeBit       SQLType = 0x32
	TypeInt2      SQLType = 0x34
	TypeInt4      SQLType = 0x38
	TypeDateTime4 SQLType = 0x3A
	TypeFloat4    SQLType = 0x3B
	TypeMoney     SQLType = 0x3C
	TypeDateTime  SQLType = 0x3D
	TypeFloat8    SQLType = 0x3E
	TypeMoney4    SQLType = 0x7A
	TypeInt8      SQLType = 0x7F

	TypeGUID            SQLType = 0x24
	TypeIntN            SQLType = 0x26
	TypeDecimal         SQLType = 0x37
	TypeNumeric         SQLType = 0x3F
	TypeBitN            SQLType = 0x68
	TypeDecimalN        SQLType = 0x6A
	TypeNumericN        SQLType = 0x6C
	TypeFloatN          SQLType = 0x6D
	TypeMoneyN          SQLType = 0x6E
	TypeDateTimeN       SQLType = 0x6F
	TypeDateN           SQLType = 0x28
	TypeTimeN           SQLType = 0x29
	TypeDateTime2N      SQLType = 0x2A
	TypeDateTimeOffsetN SQLType = 0x2B

	TypeChar      SQLType = 0x2F
	TypeVarChar   SQLType = 0x27
	TypeBinary    SQLType = 0x2D
	TypeVarBinary SQLType = 0x25

	TypeBigVarBin  SQLType = 0xA5
	TypeBigVarChar SQLType = 0xA7
	TypeBigBinary  SQLType = 0xAD
	TypeBigChar    SQLType = 0xAF
	TypeNVarChar   SQLType = 0xE7
	TypeNChar      SQLType = 0xEF
	TypeXML        SQLType = 0xF1
	TypeUDT        SQLType = 0xF0

	TypeText      SQLType = 0x23
	TypeImage     SQLType = 0x22
	TypeNText     SQLType = 0x63
	TypeSSVariant SQLType = 0x62
)

func (t SQLType) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeInt1:
		return "TINYINT"
	case TypeBit, TypeBitN:
		return "BIT"
	case TypeInt2:
		return "SMALLINT"
	case TypeInt4:
		return "INT"
	case TypeInt8:
		return "BIGINT"
	case TypeIntN:
		return "INTN"
	case TypeFloat4:
		return "REAL"
	case TypeFloat8, TypeFloatN:
		return "FLOAT"
	case TypeDateTime, TypeDateTime4, TypeDateTimeN:
		return "DATETIME"
	case TypeMoney, TypeMoney4, TypeMoneyN:
		return "MONEY"
	case TypeGUID:
		return "UNIQUEIDENTIFIER"
	case TypeDateN:
		return "DATE"
	case TypeTimeN:
		return "TIME"
	case TypeDateTime2N:
		return "DATETIME2"
	case TypeDateTimeOffsetN:
		return "DATETIMEOFFSET"
	case TypeDecimal, TypeDecimalN, TypeNumeric, TypeNumericN:
		return "DECIMAL"
	case TypeChar, TypeBigChar:
		return "CHAR"
	case TypeVarChar, TypeBigVarChar:
		return "VARCHAR"
	case TypeBinary, TypeBigBinary:
		return "BINARY"
	case TypeVarBinary, TypeBigVarBin:
		return "VARBINARY"
	case TypeNVarChar:
		return "NVARCHAR"
	case TypeNChar:
		return "NCHAR"
	case TypeText:
		return "TEXT"
	case TypeNText:
		return "NTEXT"
	case TypeImage:
		return "IMAGE"
	case TypeXML:
		return "XML"
	case TypeUDT:
		return "UDT"
	case TypeSSVariant:
		return "SQL_VARIANT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// LengthDiscipline classifies how a type's ROW-token bytes are framed,
// per spec.md §3.3/§4.4.
type LengthDiscipline int

const (
	LenFixed LengthDiscipline = iota
	LenByte                   // 1-byte length, 0 = NULL for short variable types
	LenUShort                 // 2-byte length, 0xFFFF = NULL
	LenULong                  // 4-byte length, 0xFFFFFFFF = NULL
	LenPLP                    // partially-length-prefixed (chunked), 8-byte length header
)

// fixedSize returns the wire size in bytes for fixed-length types (those
// with no length byte preceding the value at all, i.e. LenFixed; not to
// be confused with their *N variants, which carry a length byte and are
// LenByte). Returns 0 for types that are not fixed.
func fixedSize(t SQLType) int {
	switch t {
	case TypeInt1, TypeBit:
		return 1
	case TypeInt2:
		return 2
	case TypeInt4, TypeFloat4, TypeDateTime4, TypeMoney4:
		return 4
	case TypeInt8, TypeFloat8, TypeDateTime, TypeMoney:
		return 8
	default:
		return 0
	}
}

// ColumnFlags bits from COLMETADATA, per spec.md §3.4.
const (
	ColFlagNullable  uint16 = 0x0001
	ColFlagCaseSen   uint16 = 0x0002
	ColFlagUpdateable uint16 = 0x0008
	ColFlagIdentity  uint16 = 0x0010
	ColFlagComputed  uint16 = 0x0020
	ColFlagFixedLenCLR uint16 = 0x0100
	ColFlagSparseColumn uint16 = 0x0400
	ColFlagEncrypted uint16 = 0x0800
	ColFlagHidden    uint16 = 0x2000
	ColFlagKey       uint16 = 0x4000
	ColFlagNullableUnknown uint16 = 0x8000
)

// TypeInfo is the type-specific descriptor portion of a column or RPC
// parameter's TYPE_INFO (spec.md §3.4/§4.4).
type TypeInfo struct {
	ID        SQLType
	Size      uint32 // declared max length; 0 for MAX types, which set IsMax instead
	Precision uint8  // DECIMAL/NUMERIC
	Scale     uint8  // DECIMAL/NUMERIC and time types
	Collation Collation
	TableName string // text/image/ntext only
	IsMax     bool   // VARCHAR(MAX)/NVARCHAR(MAX)/VARBINARY(MAX)/XML: PLP-encoded
}

// Column is one entry of a COLMETADATA token.
type Column struct {
	UserType uint32
	Flags    uint16
	Type     TypeInfo
	Name     string
}

func (c Column) Nullable() bool { return c.Flags&ColFlagNullable != 0 }

// lengthDiscipline determines which ROW-token length framing applies to
// this column's type, per spec.md §3.3(d)/§4.4.
func (c Column) lengthDiscipline() LengthDiscipline {
	t := c.Type.ID
	if fixedSize(t) > 0 {
		return LenFixed
	}
	switch t {
	case TypeGUID, TypeDecimalN, TypeNumericN, TypeBitN, TypeFloatN, TypeMoneyN,
		TypeDateTimeN, TypeDateN, TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN,
		TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		return LenByte
	case TypeBigVarBin, TypeBigVarChar, TypeBigBinary, TypeBigChar, TypeNVarChar, TypeNChar:
		if c.Type.IsMax {
			return LenPLP
		}
		return LenUShort
	case TypeXML:
		return LenPLP
	case TypeText, TypeNText, TypeImage, TypeSSVariant:
		return LenULong
	default:
		return LenByte
	}
}
