package tds

// Message is a reassembled TDS message: the concatenated payload of a
// maximal run of packets sharing one type, terminated by END_OF_MESSAGE.
type Message struct {
	Type    PacketType
	Payload []byte
}

// Reassembler collects consecutive packets of one type into Messages.
// It is per-direction (a session has one for reads) and independent of
// the token layer decoding a TabularResult message's payload.
//
// Interleaving a different packet type between a non-EOM packet and its
// EOM is illegal per spec.md §4.1 and surfaces as a Protocol error.
type Reassembler struct {
	active  bool
	typ     PacketType
	payload []byte
}

// Feed appends one packet to the in-progress message. It returns the
// completed Message and ok=true once a packet with END_OF_MESSAGE arrives.
func (r *Reassembler) Feed(pkt Packet) (Message, bool, error) {
	if !r.active {
		r.active = true
		r.typ = pkt.Header.Type
		r.payload = r.payload[:0]
	} else if pkt.Header.Type != r.typ {
		return Message{}, false, &ProtocolError{
			Kind: KindProtocol,
			Msg:  "packet type changed mid-message: started " + r.typ.String() + ", got " + pkt.Header.Type.String(),
		}
	}

	r.payload = append(r.payload, pkt.Payload...)

	if pkt.Header.IsLastPacket() {
		msg := Message{Type: r.typ, Payload: r.payload}
		r.active = false
		r.typ = 0
		r.payload = nil
		return msg, true, nil
	}
	return Message{}, false, nil
}

// Reset discards any in-progress message. Used when a session is poisoned
// and a fresh reassembler is needed after reconnecting (e.g. routing).
func (r *Reassembler) Reset() {
	r.active = false
	r.typ = 0
	r.payload = nil
}
