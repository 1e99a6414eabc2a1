package tds

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"time"
)

// TLSConfig controls certificate validation for the TLS handshake,
// per spec.md §4.2.
type TLSConfig struct {
	// ServerName is used for SNI and certificate hostname verification.
	// The connection config has no separate HostNameInCertificate setting;
	// this is the only name checked.
	ServerName string

	// TrustServerCertificate disables hostname/chain verification
	// entirely. The caller must log a warning when this is set — see
	// negotiate.go's use of this flag.
	TrustServerCertificate bool

	// RootCAs overrides the platform/Mozilla root store. Nil uses the
	// system pool.
	RootCAs *x509.CertPool
}

func (c TLSConfig) toStdlib() *tls.Config {
	return &tls.Config{
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.TrustServerCertificate,
		RootCAs:            c.RootCAs,
		MinVersion:         tls.VersionTLS12,
		// ECDSA P256/P384/P521 and RSA-PSS/PKCS1 with SHA-256/384/512 are
		// all enabled by Go's default CurvePreferences/CipherSuites at
		// MinVersion TLS 1.2; no explicit suite list is pinned so the
		// stack can pick up future-safe defaults.
	}
}

// preloginTunnelConn wraps the raw TCP socket so that, during the TDS 7.x
// "PostPreLogin" handshake, crypto/tls's record I/O is tunneled inside
// TDS PreLogin packets: each write is sent at once as one PreLogin
// message (split into several packets if it exceeds the packet size), reads consume an 8-byte TDS header and hand only the
// payload to the TLS library. Once the handshake completes the wrapper
// becomes a transparent pass-through, matching spec.md §4.2 exactly,
// inverted from the teacher's server-side tlsHandshakeConn (tds/tls.go in
// the source tree) to the client role: we write ClientHello/Finished
// wrapped and read ServerHello/Certificate wrapped, instead of the other
// way around.
type preloginTunnelConn struct {
	net.Conn
	enc  *Encoder
	done bool

	readBuf []byte
	readPos int
}

func newPreloginTunnelConn(raw net.Conn) *preloginTunnelConn {
	return &preloginTunnelConn{
		Conn: raw,
		enc:  NewEncoder(raw, DefaultPacketSize),
	}
}

// markHandshakeComplete flips the wrapper into transparent pass-through
// mode; called once tls.Conn.Handshake() returns without error.
func (c *preloginTunnelConn) markHandshakeComplete() { c.done = true }

func (c *preloginTunnelConn) Write(b []byte) (int, error) {
	if c.done {
		return c.Conn.Write(b)
	}
	if err := c.enc.WriteMessage(PacketPrelogin, b, 0); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *preloginTunnelConn) Read(b []byte) (int, error) {
	if c.done {
		return c.Conn.Read(b)
	}
	if c.readPos < len(c.readBuf) {
		n := copy(b, c.readBuf[c.readPos:])
		c.readPos += n
		return n, nil
	}

	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(c.Conn, hdr); err != nil {
		return 0, fmt.Errorf("tds: reading tunneled TLS record header: %w", err)
	}
	h := decodeHeader(hdr)
	if h.Type != PacketPrelogin && h.Type != PacketTabularResult {
		return 0, &ProtocolError{Kind: KindTLS, Msg: fmt.Sprintf("unexpected packet type 0x%02x during TLS handshake", uint8(h.Type))}
	}
	payload := make([]byte, h.PayloadLength())
	if len(payload) > 0 {
		if _, err := io.ReadFull(c.Conn, payload); err != nil {
			return 0, fmt.Errorf("tds: reading tunneled TLS record payload: %w", err)
		}
	}
	c.readBuf = payload
	c.readPos = 0
	n := copy(b, c.readBuf)
	c.readPos = n
	return n, nil
}

// NegotiateTLS performs the TLS handshake over t according to mode.
//
//   - EncryptStrict: raw TLS immediately (TDS 8.0), no tunneling.
//   - EncryptOn/EncryptRequired: the handshake's records are tunneled
//     inside PreLogin packets (TDS 7.x), after which t is upgraded to
//     carry raw (unwrapped) TDS packets over the encrypted channel.
//
// On success it calls t.UpgradeTLS with the resulting *tls.Conn.
func NegotiateTLS(t *Transport, mode EncryptionMode, cfg TLSConfig, timeout time.Duration) error {
	raw := t.NetConn()
	if timeout > 0 {
		raw.SetDeadline(time.Now().Add(timeout))
		defer raw.SetDeadline(time.Time{})
	}

	if mode == EncryptStrict {
		tlsConn := tls.Client(raw, cfg.toStdlib())
		if err := tlsConn.Handshake(); err != nil {
			return &ProtocolError{Kind: KindTLS, Msg: err.Error()}
		}
		t.UpgradeTLS(tlsConn)
		return nil
	}

	tunnel := newPreloginTunnelConn(raw)
	tlsConn := tls.Client(tunnel, cfg.toStdlib())
	if err := tlsConn.Handshake(); err != nil {
		return &ProtocolError{Kind: KindTLS, Msg: err.Error()}
	}
	tunnel.markHandshakeComplete()
	t.UpgradeTLS(tlsConn)
	return nil
}
