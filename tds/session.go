package tds

import (
	"fmt"
	"strconv"
	"sync"
)

// SessionState is a coarse-grained view of where a Session sits in the
// lifecycle spec.md §3.7 describes:
// Disconnected → TcpConnected → TlsNegotiated → LoggedIn → Ready ⇄ InTransaction,
// with Streaming entered for the duration of one request and Poisoned
// terminal once a protocol invariant is violated.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateReady
	StateInTransaction
	StateStreaming
	StatePoisoned
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateReady:
		return "ready"
	case StateInTransaction:
		return "in_transaction"
	case StateStreaming:
		return "streaming"
	case StatePoisoned:
		return "poisoned"
	default:
		return "unknown"
	}
}

// Session is a client-side connection to SQL Server: one TCP (or TLS)
// socket, one token parser, one prepared-statement cache, driven
// through the operations of spec.md §4.5.
type Session struct {
	mu sync.Mutex // guards state/txnDescriptor/database; never held across I/O

	conn     *NegotiatedConn
	parser   *Parser
	prepared *PreparedCache
	cancel   *CancelHandle
	log      *Logger

	state         SessionState
	txnDescriptor uint64
	database      string
	collation     Collation

	// resetPending, when set by RequestReset, flips the RESET_CONNECTION
	// status bit on the next outgoing SQLBatch/RPC message, instructing
	// the server to run sp_reset_connection atomically with that batch
	// (spec.md §4.7 checkin protocol).
	resetPending bool
}

// RequestReset arranges for the next request this session sends to
// carry the RESET_CONNECTION status bit, letting a pool recycle a
// checked-in session without a dedicated round trip.
func (s *Session) RequestReset() {
	s.mu.Lock()
	s.resetPending = true
	s.mu.Unlock()
}

func (s *Session) takeResetStatus() PacketStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resetPending {
		return 0
	}
	s.resetPending = false
	return StatusResetConnection
}

// Connect runs the negotiation state machine and returns a session in
// Ready, per spec.md §4.5's connect(config) → Session.
func Connect(cfg Config) (*Session, error) {
	nc, err := Negotiate(cfg)
	if err != nil {
		return nil, err
	}
	s := &Session{
		conn:          nc,
		parser:        NewParser(),
		prepared:      NewPreparedCache(100),
		log:           cfg.Log,
		state:         StateReady,
		txnDescriptor: nc.TxnDescriptor,
		database:      nc.Database,
		collation:     nc.Collation,
	}
	s.cancel = newCancelHandle(nc.Write, nc.Encoder)
	return s, nil
}

// CancelHandle hands out the shareable cancellation handle for this
// session (spec.md §4.5/§5). It is safe to call from any goroutine.
func (s *Session) CancelHandle() *CancelHandle { return s.cancel }

// State reports the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Database reports the currently connected database, kept current via
// ENVCHANGE.Database.
func (s *Session) Database() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.database
}

func (s *Session) poison(err error) error {
	s.mu.Lock()
	s.state = StatePoisoned
	s.mu.Unlock()
	s.log.Session().Errorf(err, "session poisoned")
	return err
}

// feedMessages returns a RowStream feed function that reads the next
// TabularResult message off the wire, rejecting any other message type
// as a protocol violation (a session only ever expects tabular results
// once logged in).
func (s *Session) feedMessages() func() ([]byte, bool, error) {
	return func() ([]byte, bool, error) {
		typ, payload, err := readMessage(s.conn.Read, s.conn.Decoder)
		if err != nil {
			return nil, false, err
		}
		if typ != PacketTabularResult {
			return nil, false, &ProtocolError{Kind: KindProtocol, Msg: fmt.Sprintf("unexpected message type 0x%02x mid-stream", uint8(typ))}
		}
		return payload, false, nil
	}
}

// applyEnvChange updates session-tracked state from an ENVCHANGE token
// observed mid-stream (not just during login): database, collation,
// packet size, the transaction descriptor, and cache invalidation on
// ResetConnection (spec.md §4.4/§4.6/§4.7).
func (s *Session) applyEnvChange(ec *EnvChangeToken) {
	switch ec.Sub {
	case EnvDatabase:
		s.mu.Lock()
		s.database = ec.NewString()
		s.mu.Unlock()
	case EnvSQLCollation:
		s.mu.Lock()
		s.collation = ParseCollation(ec.NewRaw)
		s.mu.Unlock()
	case EnvPacketSize:
		if n, err := strconv.Atoi(ec.NewString()); err == nil {
			s.conn.Encoder.SetPacketSize(n)
		}
	case EnvBeginTran:
		if len(ec.NewRaw) == 8 {
			s.mu.Lock()
			s.txnDescriptor = le64(ec.NewRaw)
			s.state = StateInTransaction
			s.mu.Unlock()
		}
	case EnvCommitTran, EnvRollbackTran:
		s.mu.Lock()
		s.txnDescriptor = 0
		if s.state == StateInTransaction {
			s.state = StateReady
		}
		s.mu.Unlock()
	case EnvResetConnAck:
		s.prepared.Reset()
	}
}

func (s *Session) currentTxnDescriptor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txnDescriptor
}

func (s *Session) beginStreaming() (SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePoisoned {
		return s.state, &ProtocolError{Kind: KindProtocol, Msg: "session is poisoned"}
	}
	prior := s.state
	s.state = StateStreaming
	return prior, nil
}

func (s *Session) endStreaming(prior SessionState) {
	s.mu.Lock()
	if s.state == StateStreaming {
		s.state = prior
		// A COMMIT/ROLLBACK run while InTransaction cleared the descriptor
		// mid-stream; the session is back in autocommit.
		if prior == StateInTransaction && s.txnDescriptor == 0 {
			s.state = StateReady
		}
	}
	s.mu.Unlock()
}

// SimpleQuery encodes text as a SQLBatch message and streams the
// resulting tokens (spec.md §4.5).
func (s *Session) SimpleQuery(text string) (*RowStream, error) {
	prior, err := s.beginStreaming()
	if err != nil {
		return nil, err
	}
	payload := EncodeSQLBatch(text, s.currentTxnDescriptor())
	if err := s.conn.Write.WriteMessage(s.conn.Encoder, PacketSQLBatch, payload, s.takeResetStatus()); err != nil {
		s.endStreaming(prior)
		return nil, s.poison(err)
	}
	return s.newStream(prior), nil
}

// newStream builds a RowStream wired to this session's parser, ENVCHANGE
// handling, and per-request teardown: acknowledging any outstanding
// CancelHandle and returning the session to prior's state once the stream
// ends, whatever the reason, except that a KindProtocol error leaves the
// session Poisoned.
func (s *Session) newStream(prior SessionState) *RowStream {
	rs := newRowStream(s.parser, s.feedMessages(), s.applyEnvChange)
	rs.onClose = func(attnAcked bool) {
		if attnAcked {
			s.cancel.acknowledged()
		}
		if pe, ok := rs.err.(*ProtocolError); ok && pe.Kind == KindProtocol {
			s.poison(rs.err)
			return
		}
		s.endStreaming(prior)
	}
	return rs
}

// Query encodes an RPC call with paramDecl and params bound by position:
// sp_execute against a cached handle when the exact (text, paramDecl)
// pair was prepared before, otherwise sp_prepexec (spec.md §4.5/§4.6).
func (s *Session) Query(text, paramDecl string, params []Param) (*RowStream, error) {
	return s.rpc(text, paramDecl, params)
}

// Execute is Query but discards rows, returning only the row count from
// the terminating DONE.
func (s *Session) Execute(text, paramDecl string, params []Param) (uint64, error) {
	rs, err := s.rpc(text, paramDecl, params)
	if err != nil {
		return 0, err
	}
	for rs.Next() {
	}
	if rs.Err() != nil {
		return 0, rs.Err()
	}
	count, _ := rs.RowCount()
	return count, nil
}

func (s *Session) rpc(text, paramDecl string, params []Param) (*RowStream, error) {
	prior, err := s.beginStreaming()
	if err != nil {
		return nil, err
	}

	req := s.buildExecRequest(text, paramDecl, params)

	payload, err := req.Encode()
	if err != nil {
		s.endStreaming(prior)
		return nil, err
	}
	if err := s.conn.Write.WriteMessage(s.conn.Encoder, PacketRPCRequest, payload, s.takeResetStatus()); err != nil {
		s.endStreaming(prior)
		return nil, s.poison(err)
	}

	return s.newStream(prior), nil
}

// buildExecRequest issues sp_execute against a cached handle when one
// exists for (text, paramDecl), otherwise sp_prepexec, which prepares
// and executes in one round trip and returns the new handle via a
// RETURNVALUE the caller's RowStream will surface — the session learns
// the handle only after draining that stream, so handle caching itself
// happens lazily in RecordPrepared, called by callers that want reuse.
func (s *Session) buildExecRequest(text, paramDecl string, params []Param) *RPCRequest {
	txn := s.currentTxnDescriptor()
	if ps, ok := s.prepared.Lookup(text, paramDecl); ok {
		handleParam := Param{Name: "@handle", Type: TypeInfo{ID: TypeInt4}, Value: Scalar{Kind: ScalarInt, Int: ps.Handle}}
		allParams := append([]Param{handleParam}, params...)
		return &RPCRequest{ProcID: ProcIDExecute, Params: allParams, TxnDescriptor: txn}
	}

	handleOutParam := Param{Name: "@handle", Flags: ParamByRefValue, Type: TypeInfo{ID: TypeInt4}, Value: Scalar{Kind: ScalarNull}}
	sqlParam := Param{Name: "@stmt", Type: TypeInfo{ID: TypeNVarChar, IsMax: false, Size: uint32(len(text) * 2)}, Value: Scalar{Kind: ScalarString, String: text}}
	paramsDeclParam := Param{Name: "@params", Type: TypeInfo{ID: TypeNVarChar, Size: uint32(len(paramDecl) * 2)}, Value: Scalar{Kind: ScalarString, String: paramDecl}}
	allParams := append([]Param{handleOutParam, sqlParam, paramsDeclParam}, params...)
	return &RPCRequest{ProcID: ProcIDPrepExec, Params: allParams, TxnDescriptor: txn}
}

// RecordPrepared caches the handle a sp_prepexec call returned (the
// caller reads it from RowStream.OutputParams after draining) so future
// calls with the same (text, paramDecl) reuse it via sp_execute,
// evicting and unpreparing the LRU victim if the cache is full.
func (s *Session) RecordPrepared(text, paramDecl string, handle int32, columns []Column) {
	evicted := s.prepared.Insert(&PreparedStatement{Handle: handle, SQL: text, ParamDecl: paramDecl, Columns: columns})
	if evicted != 0 {
		s.sendUnprepare(evicted)
	}
}

func (s *Session) sendUnprepare(handle int32) {
	req := &RPCRequest{ProcID: ProcIDUnprepare, Params: []Param{
		{Name: "@handle", Type: TypeInfo{ID: TypeInt4}, Value: Scalar{Kind: ScalarInt, Int: handle}},
	}, TxnDescriptor: s.currentTxnDescriptor()}
	payload, err := req.Encode()
	if err != nil {
		return
	}
	s.conn.Write.WriteMessage(s.conn.Encoder, PacketRPCRequest, payload, 0)
	rs := newRowStream(s.parser, s.feedMessages(), s.applyEnvChange)
	for rs.Next() {
	}
}

// execSimple runs text as a SQLBatch and drains it, discarding rows —
// used internally by Tx for COMMIT/ROLLBACK/SAVE TRANSACTION.
func (s *Session) execSimple(text string) (uint64, error) {
	rs, err := s.SimpleQuery(text)
	if err != nil {
		return 0, err
	}
	for rs.Next() {
	}
	if rs.Err() != nil {
		return 0, rs.Err()
	}
	count, _ := rs.RowCount()
	return count, nil
}

// BeginTransaction starts a transaction at the given isolation level and
// returns a handle for Commit/Rollback/Savepoint/RollbackTo.
func (s *Session) BeginTransaction(level IsolationLevel) (*Tx, error) {
	if _, err := s.execSimple("SET TRANSACTION ISOLATION LEVEL " + level.sqlText() + "; BEGIN TRANSACTION"); err != nil {
		return nil, err
	}
	return &Tx{session: s}, nil
}

// Ping runs a trivial round trip ("SELECT 1") to verify the session is
// still responsive, for the pool's test_on_checkout/test_on_checkin and
// background health checks (spec.md §4.7).
func (s *Session) Ping() error {
	_, err := s.execSimple("SELECT 1")
	return err
}

// Close sends an Attention if a request is in flight, then shuts down the
// transport (spec.md §4.5). It does not wait for or drain the server's
// acknowledgment of that Attention.
func (s *Session) Close() error {
	s.mu.Lock()
	streaming := s.state == StateStreaming
	s.mu.Unlock()
	if streaming {
		s.cancel.Cancel()
	}
	return s.conn.Transport.Close()
}
