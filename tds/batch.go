package tds

import "encoding/binary"

// allHeadersTxnDescriptor is the MS-TDS header type for a transaction
// descriptor, per spec.md §4.4/§4.6.
const allHeadersTxnDescriptor uint16 = 0x0002

// encodeAllHeaders builds the ALL_HEADERS section every SQL batch and
// RPC request payload opens with: a total-length prefix followed by one
// Transaction-Descriptor header carrying the active transaction
// descriptor (0 for auto-commit) and an outstanding-request-count of 1
// (spec.md §4.4).
func encodeAllHeaders(txnDescriptor uint64) []byte {
	const headerDataLen = 8 + 4 // descriptor + outstanding request count
	const headerLen = 4 + 2 + headerDataLen
	const totalLen = 4 + headerLen

	buf := make([]byte, totalLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(totalLen))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerLen))
	binary.LittleEndian.PutUint16(buf[8:10], allHeadersTxnDescriptor)
	binary.LittleEndian.PutUint64(buf[10:18], txnDescriptor)
	binary.LittleEndian.PutUint32(buf[18:22], 1)
	return buf
}

// EncodeSQLBatch builds the payload of an SQLBatch message: ALL_HEADERS
// followed by the SQL text as UTF-16LE (spec.md §4.4).
func EncodeSQLBatch(sql string, txnDescriptor uint64) []byte {
	headers := encodeAllHeaders(txnDescriptor)
	text := stringToUCS2(sql)
	out := make([]byte, 0, len(headers)+len(text))
	out = append(out, headers...)
	out = append(out, text...)
	return out
}
