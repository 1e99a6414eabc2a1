package tds

import "github.com/google/uuid"

// decodeGUID converts a 16-byte UNIQUEIDENTIFIER wire value to a
// uuid.UUID. TDS stores the first three fields (time-low, time-mid,
// time-hi-and-version) little-endian and the remaining 8 bytes (clock
// sequence + node) as-is, the reverse of RFC 4122's big-endian layout
// (spec.md §3.4).
func decodeGUID(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.UUID{}, &ProtocolError{Kind: KindCodec, Msg: "UNIQUEIDENTIFIER value must be 16 bytes"}
	}
	var out uuid.UUID
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:16])
	return out, nil
}

// encodeGUID reverses decodeGUID for binding UNIQUEIDENTIFIER RPC
// parameters and literal values.
func encodeGUID(id uuid.UUID) []byte {
	b := make([]byte, 16)
	b[0], b[1], b[2], b[3] = id[3], id[2], id[1], id[0]
	b[4], b[5] = id[5], id[4]
	b[6], b[7] = id[7], id[6]
	copy(b[8:16], id[8:])
	return b
}
