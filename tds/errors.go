package tds

import "fmt"

// Kind categorizes an engine-level error per spec.md §7.
type Kind int

const (
	KindNetwork Kind = iota
	KindConnectTimeout
	KindCommandTimeout
	KindProtocol
	KindCodec
	KindTLS
	KindAuth
	KindServer
	KindRouting
	KindTooManyRedirects
	KindType
	KindCancel
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindConnectTimeout:
		return "connect_timeout"
	case KindCommandTimeout:
		return "command_timeout"
	case KindProtocol:
		return "protocol"
	case KindCodec:
		return "codec"
	case KindTLS:
		return "tls"
	case KindAuth:
		return "auth"
	case KindServer:
		return "server"
	case KindRouting:
		return "routing"
	case KindTooManyRedirects:
		return "too_many_redirects"
	case KindType:
		return "type"
	case KindCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Retryable reports whether operations of this Kind may succeed on retry,
// independent of any specific server error number (see ServerError.Retryable
// for that finer-grained case).
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindConnectTimeout, KindCommandTimeout, KindRouting:
		return true
	default:
		return false
	}
}

// ProtocolError is a codec- or protocol-level fault: a malformed header,
// an unknown token tag, a declared length exceeding the remaining payload,
// or any other wire-format invariant violation. Per spec.md §7, a
// KindProtocol error poisons the owning session; KindCodec does not by
// itself (it may occur before a session exists, e.g. while dialing).
type ProtocolError struct {
	Kind Kind
	Msg  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tds: %s: %s", e.Kind, e.Msg)
}

// Retryable reports whether the underlying Kind is retryable.
func (e *ProtocolError) Retryable() bool { return e.Kind.Retryable() }

// ServerError wraps an ERROR token (spec.md §4.4) emitted by SQL Server.
// Class/severity >= 11 during login fails the handshake; mid-stream it
// does not poison the session — the session returns to Ready after the
// trailing DONE (spec.md §7).
type ServerError struct {
	Number   int32
	State    uint8
	Class    uint8
	Message  string
	ServerName string
	ProcName string
	LineNumber int32
}

func (e *ServerError) Error() string {
	if e.ProcName != "" {
		return fmt.Sprintf("mssql: %s (error %d, severity %d, state %d, procedure %s, line %d)",
			e.Message, e.Number, e.Class, e.State, e.ProcName, e.LineNumber)
	}
	return fmt.Sprintf("mssql: %s (error %d, severity %d, state %d)", e.Message, e.Number, e.Class, e.State)
}

// Retryable reports whether this specific SQL Server error number is
// transient and worth retrying with backoff, per spec.md §7's table.
func (e *ServerError) Retryable() bool {
	switch e.Number {
	case 40501, 40613, 40197, 49918, 10053, 10054, 10060, 1205:
		return true
	default:
		return false
	}
}

// IsFatal reports whether this error's severity indicates the connection
// itself should be discarded (class >= 20, per MS-TDS).
func (e *ServerError) IsFatal() bool { return e.Class >= 20 }

// InfoMessage wraps an INFO token; these never fail a request, they are
// just collected and surfaced (e.g. PRINT output, SET NOCOUNT notices).
type InfoMessage struct {
	Number     int32
	State      uint8
	Class      uint8
	Message    string
	ServerName string
	ProcName   string
	LineNumber int32
}

func (m *InfoMessage) String() string { return m.Message }

// CancelError indicates the caller invoked CancelHandle.Cancel and the
// server acknowledged with DONE.ATTN, per spec.md §7/§8.
type CancelError struct{}

func (*CancelError) Error() string { return "tds: operation cancelled" }

// RoutingError signals an ENVCHANGE.Routing token was received; the
// caller (or, internally, the negotiation state machine) must reconnect
// to Host:Port. Exceeding MaxRedirects surfaces as TooManyRedirectsError.
type RoutingError struct {
	Host string
	Port uint16
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("tds: server requested routing to %s:%d", e.Host, e.Port)
}

// TooManyRedirectsError is returned once the routing hop limit is exceeded.
type TooManyRedirectsError struct{ Limit int }

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("tds: exceeded routing redirect limit (%d)", e.Limit)
}

// Common SQL Server error numbers (login failures, encryption
// negotiation), exported for callers to compare against
// ServerError.Number; the engine itself does not branch on them. The full space of server
// error numbers is open-ended and not enumerated here; §4.4's ERROR
// token carries whatever number the server sends.
const (
	ErrNumLoginFailed        int32 = 18456
	ErrNumDatabaseNotExist   int32 = 4060
	ErrNumEncryptionRequired int32 = 20002
)

// EncryptionNotSupportedError is returned when the client requires
// encryption but the server's PreLogin response says it isn't supported.
type EncryptionNotSupportedError struct{}

func (*EncryptionNotSupportedError) Error() string {
	return "tds: client requires encryption but server does not support it"
}
