// Package tds implements a client-side protocol engine for the Tabular
// Data Stream (TDS) wire protocol spoken by Microsoft SQL Server, versions
// 7.4 through 8.0.
//
// The package owns packet framing and message reassembly, TLS negotiation
// (including the TDS 7.x PreLogin tunnel), the login/feature-negotiation
// state machine, the streaming token parser, request encoding, and
// out-of-band cancellation. Connection-string parsing, credential
// acquisition (AzureAD, Kerberos, certificates), and bulk/MARS support are
// not implemented; see SPEC_FULL.md.
package tds

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketType identifies the type of a TDS packet.
type PacketType uint8

const (
	PacketSQLBatch    PacketType = 1
	PacketRPCRequest  PacketType = 3
	PacketTabularResult PacketType = 4
	PacketAttention   PacketType = 6
	PacketBulkLoad    PacketType = 7
	PacketFedAuthToken PacketType = 8
	PacketTransMgrReq PacketType = 14
	PacketLogin7      PacketType = 16
	PacketSSPIMessage PacketType = 17
	PacketPrelogin    PacketType = 18
)

func (p PacketType) String() string {
	switch p {
	case PacketSQLBatch:
		return "SQL_BATCH"
	case PacketRPCRequest:
		return "RPC_REQUEST"
	case PacketTabularResult:
		return "TABULAR_RESULT"
	case PacketAttention:
		return "ATTENTION"
	case PacketBulkLoad:
		return "BULK_LOAD"
	case PacketFedAuthToken:
		return "FEDAUTH_TOKEN"
	case PacketTransMgrReq:
		return "TRANS_MGR_REQ"
	case PacketLogin7:
		return "LOGIN7"
	case PacketSSPIMessage:
		return "SSPI_MESSAGE"
	case PacketPrelogin:
		return "PRELOGIN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(p))
	}
}

// PacketStatus is the flags byte of a TDS packet header.
type PacketStatus uint8

const (
	StatusNormal                  PacketStatus = 0x00
	StatusEOM                     PacketStatus = 0x01
	StatusIgnore                  PacketStatus = 0x02
	StatusResetConnection         PacketStatus = 0x08
	StatusResetConnectionKeepTxn  PacketStatus = 0x10
)

// HeaderSize is the fixed size of a TDS packet header in bytes.
const HeaderSize = 8

// DefaultPacketSize is used until negotiation changes it (ENVCHANGE.PacketSize).
const DefaultPacketSize = 4096

// MaxPacketSize is the largest packet length the wire format allows.
const MaxPacketSize = 32767

// MinPacketSize is the smallest packet size a client may request.
const MinPacketSize = 512

// Header is the fixed 8-byte TDS packet header.
type Header struct {
	Type     PacketType
	Status   PacketStatus
	Length   uint16 // total length, including header; 8..=MaxPacketSize on the wire
	SPID     uint16 // server process id, echoed back, not authoritative on the client
	PacketID uint8  // per-message sequence, wraps 1..255, never 0
	Window   uint8  // always 0
}

// Packet is a single on-the-wire unit: a header plus its payload.
type Packet struct {
	Header  Header
	Payload []byte
}

func decodeHeader(b []byte) Header {
	return Header{
		Type:     PacketType(b[0]),
		Status:   PacketStatus(b[1]),
		Length:   binary.BigEndian.Uint16(b[2:4]),
		SPID:     binary.BigEndian.Uint16(b[4:6]),
		PacketID: b[6],
		Window:   b[7],
	}
}

func (h Header) encode(b []byte) {
	b[0] = byte(h.Type)
	b[1] = byte(h.Status)
	binary.BigEndian.PutUint16(b[2:4], h.Length)
	binary.BigEndian.PutUint16(b[4:6], h.SPID)
	b[6] = h.PacketID
	b[7] = h.Window
}

// PayloadLength returns the number of payload bytes implied by Length.
func (h Header) PayloadLength() int {
	if h.Length <= HeaderSize {
		return 0
	}
	return int(h.Length) - HeaderSize
}

// IsLastPacket reports whether this packet carries END_OF_MESSAGE.
func (h Header) IsLastPacket() bool {
	return h.Status&StatusEOM != 0
}

// Decoder turns a byte stream into a sequence of complete packets.
//
// It is stateful: bytes accumulate across calls to Feed until a full
// packet (header + declared length) is available, at which point Next
// returns it and consumes those bytes. This mirrors spec.md §4.1's decode
// algorithm and the teacher's buffered-reader style in tds/conn.go, but as
// an explicit accumulator so it can sit either directly on a net.Conn or
// behind the TLS-in-PreLogin tunnel of tls.go.
type Decoder struct {
	maxPacketSize int
	buf           []byte
}

// NewDecoder creates a Decoder that rejects packets over maxPacketSize
// bytes (header included). A maxPacketSize of 0 uses MaxPacketSize.
func NewDecoder(maxPacketSize int) *Decoder {
	if maxPacketSize <= 0 {
		maxPacketSize = MaxPacketSize
	}
	return &Decoder{maxPacketSize: maxPacketSize}
}

// Feed appends newly read bytes to the decoder's accumulator.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next returns the next complete packet buffered, or ok=false if more
// bytes are needed. It never blocks or reads from anything itself.
func (d *Decoder) Next() (pkt Packet, ok bool, err error) {
	if len(d.buf) < HeaderSize {
		return Packet{}, false, nil
	}
	length := binary.BigEndian.Uint16(d.buf[2:4])
	if length < HeaderSize {
		return Packet{}, false, &ProtocolError{Kind: KindCodec, Msg: fmt.Sprintf("invalid packet header: length %d < %d", length, HeaderSize)}
	}
	if int(length) > d.maxPacketSize {
		return Packet{}, false, &ProtocolError{Kind: KindCodec, Msg: fmt.Sprintf("packet too large: %d > %d", length, d.maxPacketSize)}
	}
	if len(d.buf) < int(length) {
		return Packet{}, false, nil
	}

	raw := d.buf[:length]
	hdr := decodeHeader(raw)
	payload := make([]byte, len(raw)-HeaderSize)
	copy(payload, raw[HeaderSize:])

	// Slide the remaining bytes down; cheap enough at TDS packet sizes
	// (<=32KB) and keeps the accumulator from growing unbounded.
	rest := len(d.buf) - int(length)
	copy(d.buf, d.buf[length:])
	d.buf = d.buf[:rest]

	return Packet{Header: hdr, Payload: payload}, true, nil
}

// ReadPacket reads exactly one packet from r, blocking until the header
// and full payload have arrived. It is a convenience wrapper around
// Decoder for callers that don't need to interleave reads with other
// work (the session's own read loop uses Decoder directly so it can also
// feed bytes coming off the TLS tunnel).
func ReadPacket(r io.Reader, maxPacketSize int) (Packet, error) {
	d := NewDecoder(maxPacketSize)
	chunk := make([]byte, 4096)
	for {
		if pkt, ok, err := d.Next(); err != nil {
			return Packet{}, err
		} else if ok {
			return pkt, nil
		}
		n, err := r.Read(chunk)
		if n > 0 {
			d.Feed(chunk[:n])
		}
		if err != nil {
			if pkt, ok, nerr := d.Next(); ok && nerr == nil {
				return pkt, nil
			}
			return Packet{}, err
		}
	}
}

// Encoder writes packets to an io.Writer, stamping the outgoing
// packet_id from a per-connection counter that wraps 1→255→1, never 0.
type Encoder struct {
	w             io.Writer
	packetSize    int
	nextPacketID  uint8
	spid          uint16
}

// NewEncoder creates an Encoder writing framed packets of at most
// packetSize bytes (including the 8-byte header) to w.
func NewEncoder(w io.Writer, packetSize int) *Encoder {
	if packetSize < MinPacketSize {
		packetSize = DefaultPacketSize
	}
	return &Encoder{w: w, packetSize: packetSize, nextPacketID: 1}
}

// SetPacketSize updates the negotiated packet size (ENVCHANGE.PacketSize).
func (e *Encoder) SetPacketSize(size int) {
	if size >= MinPacketSize && size <= MaxPacketSize {
		e.packetSize = size
	}
}

// PacketSize returns the currently negotiated packet size.
func (e *Encoder) PacketSize() int { return e.packetSize }

func (e *Encoder) advancePacketID() uint8 {
	id := e.nextPacketID
	e.nextPacketID++
	if e.nextPacketID == 0 {
		e.nextPacketID = 1
	}
	return id
}

// WriteMessage frames payload into one or more packets of typ, chunked to
// the negotiated packet size, and writes them to the underlying writer.
// The final chunk (possibly the only one) carries END_OF_MESSAGE. extraStatus
// is OR'd into every packet's status byte — used to set RESET_CONNECTION on
// pool checkin (spec.md §4.7) without a separate code path.
func (e *Encoder) WriteMessage(typ PacketType, payload []byte, extraStatus PacketStatus) error {
	maxPayload := e.packetSize - HeaderSize
	if maxPayload <= 0 {
		return &ProtocolError{Kind: KindCodec, Msg: "packet size too small for any payload"}
	}

	if len(payload) == 0 {
		return e.writeChunk(typ, nil, StatusEOM|extraStatus)
	}

	for off := 0; off < len(payload); off += maxPayload {
		end := off + maxPayload
		if end > len(payload) {
			end = len(payload)
		}
		status := extraStatus
		if end == len(payload) {
			status |= StatusEOM
		}
		if err := e.writeChunk(typ, payload[off:end], status); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeChunk(typ PacketType, chunk []byte, status PacketStatus) error {
	total := HeaderSize + len(chunk)
	if total > MaxPacketSize {
		return &ProtocolError{Kind: KindCodec, Msg: fmt.Sprintf("encoded packet too large: %d > %d", total, MaxPacketSize)}
	}
	hdr := Header{
		Type:     typ,
		Status:   status,
		Length:   uint16(total),
		SPID:     e.spid,
		PacketID: e.advancePacketID(),
	}
	buf := make([]byte, total)
	hdr.encode(buf[:HeaderSize])
	copy(buf[HeaderSize:], chunk)
	_, err := e.w.Write(buf)
	return err
}
