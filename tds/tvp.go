package tds

// tvpTypeID is the TYPE_INFO tag for a table-valued parameter
// (MS-TDS TVPTYPE), distinct from the scalar SQLType tags.
const tvpTypeID byte = 0xF3

const (
	tvpRowToken uint8 = 0x01
	tvpEndToken uint8 = 0x00
)

// TVPColumn describes one column of a table type, the same fields a
// COLMETADATA entry carries for a result column (spec.md §4.4).
type TVPColumn struct {
	Name string
	Type TypeInfo
}

// TVP is a table-valued parameter: a 3-part type name, its column
// schema, and the rows to send (spec.md §4.4's TVP encoding).
type TVP struct {
	Database string
	Schema   string
	TypeName string
	Columns  []TVPColumn
	Rows     [][]Scalar
}

// Encode serializes the TVP parameter body: TYPE_INFO (3-part type name
// + column metadata), then a TVP_ROW (0x01) per row with values in
// column order, terminated by TVP_END (0x00).
func (t TVP) Encode() ([]byte, error) {
	var out []byte
	out = append(out, tvpTypeID)
	out = append(out, byte(len([]rune(t.Database))))
	out = append(out, stringToUCS2(t.Database)...)
	out = append(out, byte(len([]rune(t.Schema))))
	out = append(out, stringToUCS2(t.Schema)...)
	out = append(out, byte(len([]rune(t.TypeName))))
	out = append(out, stringToUCS2(t.TypeName)...)

	out = append(out, be16le(uint16(len(t.Columns)))...)
	for _, col := range t.Columns {
		out = append(out, be32le(0)...) // UserType
		out = append(out, be16le(0)...) // Flags
		out = append(out, encodeTypeInfo(col.Type)...)
		out = append(out, byte(len([]rune(col.Name))))
		out = append(out, stringToUCS2(col.Name)...)
	}
	// No ORDER block: rows are not declared unique/ordered by this driver.

	for _, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return nil, &ProtocolError{Kind: KindCodec, Msg: "TVP row column count mismatch"}
		}
		out = append(out, tvpRowToken)
		for i, v := range row {
			b, err := encodeValue(t.Columns[i].Type, v)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
	}
	out = append(out, tvpEndToken)
	return out, nil
}
