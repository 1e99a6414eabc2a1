package tds

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"
)

// EncryptionMode selects how PreLogin/TLS interact, per spec.md §4.2.
type EncryptionMode int

const (
	// EncryptOff: no TLS at all (loopback/dev only).
	EncryptOff EncryptionMode = iota
	// EncryptOn: TLS for handshake + login, tunneled inside PreLogin
	// packets (TDS 7.x "PostPreLogin" mode).
	EncryptOn
	// EncryptRequired: like EncryptOn but fails if the server can't encrypt.
	EncryptRequired
	// EncryptStrict: TDS 8.0 — TLS immediately, before PreLogin is even sent.
	EncryptStrict
)

// Transport owns the TCP socket for one session and, once split, hands
// out independent read and write halves so a CancelHandle can write an
// Attention packet while the owning goroutine is blocked reading a large
// result set (spec.md §5).
type Transport struct {
	netConn net.Conn

	// writeMu guards writes after Split; both the session's own encoder
	// and any CancelHandle take it briefly. It is never held across a
	// read or a result-stream poll (spec.md §5).
	writeMu sync.Mutex
	w       *bufio.Writer

	r *bufio.Reader

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Dial opens a TCP connection to addr (host:port).
func Dial(network, addr string, timeout time.Duration) (*Transport, error) {
	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return nil, &ProtocolError{Kind: KindConnectTimeout, Msg: err.Error()}
	}
	return newTransport(conn), nil
}

func newTransport(conn net.Conn) *Transport {
	return &Transport{
		netConn: conn,
		r:       bufio.NewReaderSize(conn, MaxPacketSize),
		w:       bufio.NewWriterSize(conn, MaxPacketSize),
	}
}

// NetConn returns the underlying net.Conn (used by the TLS tunnel to
// reach the raw socket directly during handshake).
func (t *Transport) NetConn() net.Conn { return t.netConn }

// UpgradeTLS replaces the transport's reader/writer with ones backed by
// an already-handshaked *tls.Conn (see tls.go), leaving netConn pointing
// at the TLS connection so subsequent Close calls tear it down too.
func (t *Transport) UpgradeTLS(tlsConn net.Conn) {
	t.netConn = tlsConn
	t.r = bufio.NewReaderSize(tlsConn, MaxPacketSize)
	t.w = bufio.NewWriterSize(tlsConn, MaxPacketSize)
}

// Close shuts down the underlying connection.
func (t *Transport) Close() error { return t.netConn.Close() }

// transportWriter indirects through t.w on every write, so an Encoder
// built from Writer() keeps working after UpgradeTLS swaps in a new
// bufio.Writer over the TLS connection.
type transportWriter struct{ t *Transport }

func (tw transportWriter) Write(b []byte) (int, error) { return tw.t.w.Write(b) }

// Writer returns a stable io.Writer for building an Encoder before the
// transport's encryption state (and therefore its underlying
// bufio.Writer) is finalized.
func (t *Transport) Writer() io.Writer { return transportWriter{t} }

// ReadHalf is the read side of a split Transport, owned exclusively by
// the session's own read loop.
type ReadHalf struct {
	t *Transport
}

// WriteHalf is the write side of a split Transport, shared (behind
// writeMu) between the session's outgoing-message writer and any
// CancelHandle minted for it.
type WriteHalf struct {
	t *Transport
}

// Split divides the transport into independently usable halves. Called
// once a session reaches Ready and a cancel handle might be requested.
func (t *Transport) Split() (ReadHalf, WriteHalf) {
	return ReadHalf{t}, WriteHalf{t}
}

// Read reads raw bytes off the socket, applying the configured read
// timeout if set.
func (rh ReadHalf) Read(b []byte) (int, error) {
	if rh.t.readTimeout > 0 {
		rh.t.netConn.SetReadDeadline(time.Now().Add(rh.t.readTimeout))
	}
	return rh.t.r.Read(b)
}

// WriteMessage writes a full TDS message (chunked by Encoder) while
// holding writeMu only for the duration of the underlying writes — never
// across a read or a caller's processing of the response.
func (wh WriteHalf) WriteMessage(enc *Encoder, typ PacketType, payload []byte, extraStatus PacketStatus) error {
	wh.t.writeMu.Lock()
	defer wh.t.writeMu.Unlock()
	if wh.t.writeTimeout > 0 {
		wh.t.netConn.SetWriteDeadline(time.Now().Add(wh.t.writeTimeout))
	}
	if err := enc.WriteMessage(typ, payload, extraStatus); err != nil {
		return err
	}
	return wh.t.w.Flush()
}

// WriteAttention sends a zero-payload Attention packet (type 0x06, EOM).
// This is the only operation a CancelHandle performs on the write half;
// it holds writeMu only long enough to stamp and flush the 8-byte frame.
func (wh WriteHalf) WriteAttention(enc *Encoder) error {
	wh.t.writeMu.Lock()
	defer wh.t.writeMu.Unlock()
	if err := enc.WriteMessage(PacketAttention, nil, 0); err != nil {
		return err
	}
	return wh.t.w.Flush()
}

// SetTimeouts configures read/write deadlines applied to each socket op.
func (t *Transport) SetTimeouts(read, write time.Duration) {
	t.readTimeout = read
	t.writeTimeout = write
}
