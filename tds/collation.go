package tds

import (
	"encoding/binary"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// Collation is the 5-byte SQL collation descriptor from spec.md §3.5:
// 4 bytes of LCID + sort-id/codepage-selection bits, 1 byte of sort id.
type Collation struct {
	LCID        uint32 // low 20 bits of the 4-byte field
	sortFlags   uint8  // comparison-style flags, bits 20-23 of the 4-byte field
	codepageBits uint8 // bits 24-31 of the 4-byte field, selects the codepage table
	SortID      uint8
}

// ParseCollation decodes the 5-byte wire form.
func ParseCollation(b []byte) Collation {
	if len(b) < 5 {
		return Collation{}
	}
	v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return Collation{
		LCID:         v & 0xFFFFF,
		sortFlags:    uint8((v >> 20) & 0xF),
		codepageBits: uint8((v >> 24) & 0xFF),
		SortID:       b[4],
	}
}

// Encode serializes the collation back to its 5-byte wire form.
func (c Collation) Encode() []byte {
	v := (c.LCID & 0xFFFFF) | uint32(c.sortFlags)<<20 | uint32(c.codepageBits)<<24
	b := make([]byte, 5)
	binary.LittleEndian.PutUint32(b[0:4], v)
	b[4] = c.SortID
	return b
}

// codepageFromSortID maps the legacy sort-id byte to a Windows codepage
// number, per MS-TDS 2.2.5.1.2's table; SortID 0 means the LCID/codepage
// bits select the codepage instead (handled by codepageFromLCID).
var codepageFromSortID = map[uint8]int{
	1: 437, 2: 437, 3: 437, 4: 437, 5: 437, 6: 437, 7: 437,
	8: 850, 9: 850, 10: 850, 11: 850, 12: 850, 13: 850,
	40: 874, // Thai
	50: 1252, 51: 1252, 52: 1252, 53: 1252, 54: 1252,
	55: 1250, 56: 1250, 57: 1250, 58: 1250, 59: 1250, 60: 1250, 61: 1250,
	71: 1253, 72: 1253, 73: 1253,
	80: 1254, 81: 1254,
	89: 1255,
	104: 1256,
	145: 1257, 146: 1257, 147: 1257, 148: 1257,
}

// codepageFromLCID gives the codepage implied by common LCIDs when SortID
// is 0 (modern Windows collations encode the codepage in the LCID/sort
// bits rather than a legacy sort id). Not exhaustive: only the Chinese,
// Japanese, Korean and Thai LCIDs are recognised and every other LCID
// maps to 1252, so codepages 1250-1258 other than 1252 are reached only
// through codepageFromSortID (which has no entry for 1251 or 1258).
func codepageFromLCID(lcid uint32) int {
	switch lcid & 0xFFFF {
	case 0x0404, 0x0804, 0x0C04, 0x1004, 0x1404: // Chinese (Traditional/Simplified/HK/SG/Macau)
		if lcid&0xFFFF == 0x0804 || lcid&0xFFFF == 0x1004 {
			return 936
		}
		return 950
	case 0x0411: // Japanese
		return 932
	case 0x0412: // Korean
		return 949
	case 0x041E: // Thai
		return 874
	default:
		return 1252
	}
}

// Codepage returns the Windows codepage number this collation implies.
func (c Collation) Codepage() int {
	if c.SortID != 0 {
		if cp, ok := codepageFromSortID[c.SortID]; ok {
			return cp
		}
	}
	return codepageFromLCID(c.LCID)
}

// IsUTF8 reports whether this is one of the SQL Server 2019+ UTF-8
// collations (codepage-selection bits 0x01 set alongside SortID 0).
func (c Collation) IsUTF8() bool {
	return c.SortID == 0 && c.codepageBits&0x01 != 0
}

// decoder returns the x/text decoder for this collation's codepage, used
// to transcode VARCHAR/CHAR/TEXT bytes (spec.md §3.5/§4.4). NVARCHAR/NCHAR
// bypass this entirely — they are always UTF-16LE on the wire.
func (c Collation) decoder() *encoding.Decoder {
	if c.IsUTF8() {
		return nil // caller should treat the bytes as UTF-8 directly
	}
	switch c.Codepage() {
	case 437:
		return charmap.CodePage437.NewDecoder()
	case 850:
		return charmap.CodePage850.NewDecoder()
	case 874:
		return charmap.Windows874.NewDecoder()
	case 932:
		return japanese.ShiftJIS.NewDecoder()
	case 936:
		return simplifiedchinese.GBK.NewDecoder()
	case 949:
		return korean.EUCKR.NewDecoder()
	case 950:
		return traditionalchinese.Big5.NewDecoder()
	case 1250:
		return charmap.Windows1250.NewDecoder()
	case 1251:
		return charmap.Windows1251.NewDecoder()
	case 1252:
		return charmap.Windows1252.NewDecoder()
	case 1253:
		return charmap.Windows1253.NewDecoder()
	case 1254:
		return charmap.Windows1254.NewDecoder()
	case 1255:
		return charmap.Windows1255.NewDecoder()
	case 1256:
		return charmap.Windows1256.NewDecoder()
	case 1257:
		return charmap.Windows1257.NewDecoder()
	case 1258:
		return charmap.Windows1258.NewDecoder()
	default:
		return charmap.Windows1252.NewDecoder()
	}
}

// DecodeVarchar transcodes raw VARCHAR/CHAR/TEXT bytes to a Go string
// using this collation's codepage (or straight UTF-8 for the UTF-8
// collations).
func (c Collation) DecodeVarchar(b []byte) (string, error) {
	if dec := c.decoder(); dec != nil {
		out, err := dec.Bytes(b)
		if err != nil {
			return "", &ProtocolError{Kind: KindCodec, Msg: "transcoding VARCHAR: " + err.Error()}
		}
		return string(out), nil
	}
	return string(b), nil
}
