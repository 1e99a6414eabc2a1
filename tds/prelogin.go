package tds

import (
	"encoding/binary"
	"fmt"
)

// TDS protocol version constants, per spec.md §1/§4.3.
const (
	VerTDS74 uint32 = 0x74000004
	VerTDS80 uint32 = 0x08000000 // strict encryption (TDS 8.0)
)

// PreLogin option token tags.
const (
	preloginVersion    uint8 = 0x00
	preloginEncryption uint8 = 0x01
	preloginInstOpt    uint8 = 0x02
	preloginThreadID   uint8 = 0x03
	preloginMARS       uint8 = 0x04
	preloginTraceID    uint8 = 0x05
	preloginFedAuth    uint8 = 0x06
	preloginNonceOpt   uint8 = 0x07
	preloginTerminator uint8 = 0xFF
)

// Encryption option byte carried in PreLogin, per spec.md §4.3's table.
const (
	EncryptByteOff    uint8 = 0x00
	EncryptByteOn     uint8 = 0x01
	EncryptByteNotSup uint8 = 0x02
	EncryptByteReq    uint8 = 0x03
	EncryptByteStrict uint8 = 0x04
)

// PreLoginRequest is the client's option table, sent first on every
// connection (cleartext in PostPreLogin mode; already inside TLS in
// Strict mode — see negotiate.go).
type PreLoginRequest struct {
	Version    uint32 // 4-byte version; Encode follows it with a zero 2-byte subbuild
	Encryption uint8
	Instance   string
	ThreadID   uint32
	MARS       bool
	TraceID    []byte // 36 bytes (GUID + activity sequence) if present
	FedAuth    bool
	Nonce      []byte // 32 bytes if present (FEDAUTH nonce)
}

type preloginOption struct {
	token  uint8
	data   []byte
}

// Encode serializes the request into the PreLogin payload format: an
// option table (tag, offset, length) terminated by 0xFF, followed by the
// option data in table order.
func (p PreLoginRequest) Encode() []byte {
	versionData := make([]byte, 6)
	binary.BigEndian.PutUint32(versionData[0:4], p.Version)
	// subbuild left zero; the core does not report a driver sub-build

	instanceData := append([]byte(p.Instance), 0)

	opts := []preloginOption{
		{preloginVersion, versionData},
		{preloginEncryption, []byte{p.Encryption}},
		{preloginInstOpt, instanceData},
		{preloginThreadID, be32(p.ThreadID)},
		{preloginMARS, []byte{boolByte(p.MARS)}},
	}
	if p.FedAuth {
		// FEDAUTHREQUIRED option body is a single byte (1 = client supports it).
		opts = append(opts, preloginOption{preloginFedAuth, []byte{1}})
	}
	if len(p.Nonce) == 32 {
		opts = append(opts, preloginOption{preloginNonceOpt, p.Nonce})
	}

	return encodePreloginOptions(opts)
}

func encodePreloginOptions(opts []preloginOption) []byte {
	headerSize := len(opts)*5 + 1
	offset := uint16(headerSize)
	header := make([]byte, 0, headerSize)
	var data []byte
	for _, o := range opts {
		header = append(header, o.token)
		header = append(header, be16(offset)...)
		header = append(header, be16(uint16(len(o.data)))...)
		data = append(data, o.data...)
		offset += uint16(len(o.data))
	}
	header = append(header, preloginTerminator)
	return append(header, data...)
}

func be16(v uint16) []byte { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); return b }
func be32(v uint32) []byte { b := make([]byte, 4); binary.BigEndian.PutUint32(b, v); return b }
func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// PreLoginResponse is the server's reply: its own version, the
// intersection encryption byte, whether the FEDAUTHREQUIRED option was
// present, and the server's nonce if it sent one.
type PreLoginResponse struct {
	Version    uint32
	Encryption uint8
	FedAuthRequired bool
	Nonce      []byte
}

// ParsePreLoginResponse parses a server PreLogin reply payload.
func ParsePreLoginResponse(data []byte) (*PreLoginResponse, error) {
	if len(data) == 0 {
		return nil, &ProtocolError{Kind: KindCodec, Msg: "empty prelogin response"}
	}

	type tableEntry struct {
		offset, length uint16
	}
	options := make(map[uint8]tableEntry)
	pos := 0
	for {
		if pos >= len(data) {
			return nil, &ProtocolError{Kind: KindCodec, Msg: "prelogin response truncated reading option table"}
		}
		tok := data[pos]
		if tok == preloginTerminator {
			pos++
			break
		}
		if pos+5 > len(data) {
			return nil, &ProtocolError{Kind: KindCodec, Msg: "prelogin response option table truncated"}
		}
		off := binary.BigEndian.Uint16(data[pos+1 : pos+3])
		ln := binary.BigEndian.Uint16(data[pos+3 : pos+5])
		options[tok] = tableEntry{off, ln}
		pos += 5
	}

	get := func(tok uint8) ([]byte, bool) {
		e, ok := options[tok]
		if !ok {
			return nil, false
		}
		if int(e.offset)+int(e.length) > len(data) {
			return nil, false
		}
		return data[e.offset : e.offset+e.length], true
	}

	resp := &PreLoginResponse{}
	if v, ok := get(preloginVersion); ok && len(v) >= 4 {
		resp.Version = binary.BigEndian.Uint32(v[0:4])
	}
	if e, ok := get(preloginEncryption); ok && len(e) == 1 {
		resp.Encryption = e[0]
	} else {
		return nil, &ProtocolError{Kind: KindCodec, Msg: "prelogin response missing ENCRYPTION option"}
	}
	if _, ok := get(preloginFedAuth); ok {
		resp.FedAuthRequired = true
	}
	if n, ok := get(preloginNonceOpt); ok {
		resp.Nonce = n
	}
	return resp, nil
}

// ResolveEncryption implements the outcome table in spec.md §4.3 for a
// client-requested mode against the server's reply byte.
func ResolveEncryption(clientMode EncryptionMode, serverByte uint8) (EncryptionMode, error) {
	switch clientMode {
	case EncryptStrict:
		// TLS was already established before PreLogin; the byte is ignored.
		return EncryptStrict, nil
	case EncryptOff:
		if serverByte == EncryptByteReq {
			return EncryptOn, nil
		}
		return EncryptOff, nil
	case EncryptOn:
		if serverByte == EncryptByteOn || serverByte == EncryptByteReq {
			return EncryptOn, nil
		}
		if serverByte == EncryptByteNotSup {
			return EncryptOff, nil
		}
		return EncryptOn, nil
	case EncryptRequired:
		if serverByte == EncryptByteNotSup {
			return 0, &EncryptionNotSupportedError{}
		}
		return EncryptOn, nil
	default:
		return 0, fmt.Errorf("tds: unknown client encryption mode %d", clientMode)
	}
}

func clientEncryptionByte(mode EncryptionMode) uint8 {
	switch mode {
	case EncryptOff:
		return EncryptByteOff
	case EncryptOn:
		return EncryptByteOn
	case EncryptRequired:
		return EncryptByteReq
	case EncryptStrict:
		return EncryptByteStrict
	default:
		return EncryptByteOff
	}
}
