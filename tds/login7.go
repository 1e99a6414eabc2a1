package tds

import (
	"encoding/binary"
	"unicode/utf16"
)

// login7HeaderSize is the fixed size of the LOGIN7 header, matching the
// teacher's pkg/tds/login.go Login7HeaderSize (that package parses this
// layout from the server side; here we encode it from the client side).
const login7HeaderSize = 94

// Login7OptionFlags bits, per spec.md §4.3 / MS-TDS 2.2.6.4.
const (
	lf1UseDB     uint8 = 0x20
	lf1Database  uint8 = 0x40
	lf3Extension uint8 = 0x10
)

// Login7Request holds everything the client sends in the single Login7
// message (spec.md §4.3).
type Login7Request struct {
	TDSVersion    uint32
	PacketSize    uint32
	ClientProgVer uint32
	ClientPID     uint32
	ClientTimeZone int32
	ClientLCID    uint32

	HostName   string
	UserName   string
	Password   string // cleartext; obfuscated on encode, never stored obfuscated
	AppName    string
	ServerName string
	CtlIntName string // driver/interface name, e.g. "mssqltds"
	Language   string
	Database   string
	ClientID   [6]byte

	SSPI       []byte // raw SSPI/GSSAPI blob, embedded as-is (spec.md §6)
	AtchDBFile string
	ChangePassword string

	Features []Feature
}

// obfuscatePassword implements spec.md §4.3/§8's exact transform: each
// UTF-16LE byte is XORed with 0xA5, then its nibbles are swapped. This is
// the encode direction only — a client never needs to read a password
// back off the wire, so there is no corresponding decode here.
func obfuscatePassword(password string) []byte {
	raw := stringToUCS2(password)
	out := make([]byte, len(raw))
	for i, b := range raw {
		x := b ^ 0xA5
		out[i] = (x << 4) | (x >> 4)
	}
	return out
}

func stringToUCS2(s string) []byte {
	u16 := utf16.Encode([]rune(s))
	b := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(b[i*2:], v)
	}
	return b
}

// Encode serializes the Login7 request into the message payload MS-TDS
// defines: a fixed 94-byte header with offset/length pairs, followed by
// the variable-length fields in the order the header lists them, and
// finally the feature-extension stream.
func (r Login7Request) Encode() []byte {
	hostBytes := stringToUCS2(r.HostName)
	userBytes := stringToUCS2(r.UserName)
	passBytes := obfuscatePassword(r.Password)
	appBytes := stringToUCS2(r.AppName)
	serverBytes := stringToUCS2(r.ServerName)
	ctlBytes := stringToUCS2(r.CtlIntName)
	langBytes := stringToUCS2(r.Language)
	dbBytes := stringToUCS2(r.Database)
	atchBytes := stringToUCS2(r.AtchDBFile)
	changePassBytes := obfuscatePassword(r.ChangePassword)

	var featureBytes []byte
	if len(r.Features) > 0 {
		featureBytes = EncodeFeatureExtensions(r.Features)
	}

	offset := uint16(login7HeaderSize)
	fields := [][]byte{hostBytes, userBytes, passBytes, appBytes, serverBytes, nil /* extension offset placeholder */, ctlBytes, langBytes, dbBytes}
	// SSPI and AtchDBFile/ChangePassword come after the fixed variable
	// fields in MS-TDS's layout; offsets below are computed in that order.
	type fieldSpan struct{ offset, length uint16 }
	spanOf := func(b []byte) fieldSpan {
		s := fieldSpan{offset, uint16(len(b))}
		offset += uint16(len(b))
		return s
	}

	hostSpan := spanOf(hostBytes)
	userSpan := spanOf(userBytes)
	passSpan := spanOf(passBytes)
	appSpan := spanOf(appBytes)
	serverSpan := spanOf(serverBytes)
	extSpan := spanOf(featureBytes) // extension data lives inline; offset field points here
	ctlSpan := spanOf(ctlBytes)
	langSpan := spanOf(langBytes)
	dbSpan := spanOf(dbBytes)
	sspiSpan := spanOf(r.SSPI)
	atchSpan := spanOf(atchBytes)
	changeSpan := spanOf(changePassBytes)
	_ = fields

	totalLength := uint32(offset)

	buf := make([]byte, login7HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], totalLength)
	binary.LittleEndian.PutUint32(buf[4:8], r.TDSVersion)
	binary.LittleEndian.PutUint32(buf[8:12], r.PacketSize)
	binary.LittleEndian.PutUint32(buf[12:16], r.ClientProgVer)
	binary.LittleEndian.PutUint32(buf[16:20], r.ClientPID)
	binary.LittleEndian.PutUint32(buf[20:24], 0) // ConnectionID, unused by a fresh login

	var flags1 uint8 = lf1UseDB
	if r.Database != "" {
		flags1 |= lf1Database
	}
	var flags2 uint8
	if len(r.SSPI) > 0 {
		flags2 |= 0x80 // integrated security
	}
	var flags3 uint8
	if len(r.Features) > 0 {
		flags3 |= lf3Extension
	}

	buf[24] = flags1
	buf[25] = flags2
	buf[26] = 0 // TypeFlags: ODBC-style driver, read-write intent
	buf[27] = flags3
	binary.LittleEndian.PutUint32(buf[28:32], uint32(r.ClientTimeZone))
	binary.LittleEndian.PutUint32(buf[32:36], r.ClientLCID)

	putSpan := func(off int, s fieldSpan) {
		binary.LittleEndian.PutUint16(buf[off:off+2], s.offset)
		binary.LittleEndian.PutUint16(buf[off+2:off+4], s.length/2)
	}
	putSpan(36, hostSpan)
	putSpan(40, userSpan)
	putSpan(44, passSpan)
	putSpan(48, appSpan)
	putSpan(52, serverSpan)
	// Extension offset/length at 56..60: length here is the count of
	// FeatureExt bytes (not UCS-2 chars); per MS-TDS the "length" field
	// for ibExtension is in bytes when OptionFlags3.fExtension is set and
	// equals 4 if an extended offset DWORD is used. We encode the
	// extension data inline and point directly at it.
	binary.LittleEndian.PutUint16(buf[56:58], extSpan.offset)
	binary.LittleEndian.PutUint16(buf[58:60], extSpan.length)
	putSpan(60, ctlSpan)
	putSpan(64, langSpan)
	putSpan(68, dbSpan)
	copy(buf[72:78], r.ClientID[:])
	binary.LittleEndian.PutUint16(buf[78:80], sspiSpan.offset)
	binary.LittleEndian.PutUint16(buf[80:82], sspiSpan.length)
	putSpan(82, atchSpan)
	putSpan(86, changeSpan)
	binary.LittleEndian.PutUint32(buf[90:94], 0) // SSPILongLength: unused, blob fits in 16-bit length

	out := make([]byte, totalLength)
	copy(out, buf)
	copy(out[hostSpan.offset:], hostBytes)
	copy(out[userSpan.offset:], userBytes)
	copy(out[passSpan.offset:], passBytes)
	copy(out[appSpan.offset:], appBytes)
	copy(out[serverSpan.offset:], serverBytes)
	copy(out[extSpan.offset:], featureBytes)
	copy(out[ctlSpan.offset:], ctlBytes)
	copy(out[langSpan.offset:], langBytes)
	copy(out[dbSpan.offset:], dbBytes)
	copy(out[sspiSpan.offset:], r.SSPI)
	copy(out[atchSpan.offset:], atchBytes)
	copy(out[changeSpan.offset:], changePassBytes)

	return out
}
