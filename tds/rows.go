package tds

// RowStream exposes one request's results as they arrive: column
// metadata, rows, output parameters, return status, and the row count
// from the terminating DONE (spec.md §4.5).
//
// A RowStream is driven by repeatedly calling Next; it pulls already-fed
// tokens from the session's Parser and, when the buffer runs dry, asks
// its feed function for more bytes. It does not own the transport
// itself — Session.newStream constructs one per request and supplies
// the feed callback.
type RowStream struct {
	parser *Parser
	feed   func() ([]byte, bool, error) // returns next message payload, or done=true

	// onEnvChange, when set, lets the owning Session track the current
	// database/collation/transaction descriptor as ENVCHANGE tokens
	// arrive mid-stream, not just during login.
	onEnvChange func(*EnvChangeToken)

	// onClose, when set, runs exactly once when the stream ends for any
	// reason (clean exhaustion, error, or cancellation), letting the
	// owning Session release per-request state such as its streaming
	// flag and pending CancelHandle acknowledgment.
	onClose func(attnAcked bool)

	columns      []Column
	row          []Scalar
	outputs      []ReturnValueToken
	returnStatus int32
	hasStatus    bool
	rowCount     uint64
	hasCount     bool
	infos        []*InfoMessage

	done      bool
	cancelled bool
	err       error
}

func newRowStream(parser *Parser, feed func() ([]byte, bool, error), onEnvChange func(*EnvChangeToken)) *RowStream {
	return &RowStream{parser: parser, feed: feed, onEnvChange: onEnvChange}
}

// end marks the stream done, firing onClose exactly once.
func (rs *RowStream) end(attnAcked bool) {
	if rs.done {
		return
	}
	rs.done = true
	if rs.onClose != nil {
		rs.onClose(attnAcked)
	}
}

// Columns returns the most recently seen COLMETADATA, or nil before the
// first result set arrives.
func (rs *RowStream) Columns() []Column { return rs.columns }

// Row returns the values decoded by the last successful Next call.
func (rs *RowStream) Row() []Scalar { return rs.row }

// OutputParams returns every RETURNVALUE token seen so far (RPC output
// parameters and, for sp_prepexec, the prepared-handle out param).
func (rs *RowStream) OutputParams() []ReturnValueToken { return rs.outputs }

// ReturnStatus reports the RPC return status, if one was sent.
func (rs *RowStream) ReturnStatus() (int32, bool) { return rs.returnStatus, rs.hasStatus }

// RowCount reports the last non-suppressed DONE.row_count.
func (rs *RowStream) RowCount() (uint64, bool) { return rs.rowCount, rs.hasCount }

// Infos returns INFO messages collected while draining the stream (e.g.
// PRINT output, SET NOCOUNT notices); they never fail the request.
func (rs *RowStream) Infos() []*InfoMessage { return rs.infos }

// Err returns the error that ended the stream, if any — a ServerError
// for a failed statement, a CancelError if the request was cancelled,
// or a protocol/codec error.
func (rs *RowStream) Err() error { return rs.err }

// Next advances to the next ROW/NBCROW, returning false once the
// terminating DONE is observed (Err reports why, nil on clean
// exhaustion). Every call between two ROW tokens — COLMETADATA,
// ENVCHANGE, RETURNVALUE, INFO — is absorbed internally.
func (rs *RowStream) Next() bool {
	if rs.done {
		return false
	}
	for {
		tok, ok, err := rs.parser.Next()
		if err != nil {
			rs.err = err
			rs.end(false)
			return false
		}
		if !ok {
			payload, finished, ferr := rs.feed()
			if ferr != nil {
				rs.err = ferr
				rs.end(false)
				return false
			}
			if finished {
				// Feed exhausted without a terminating DONE: the caller's
				// transport loop ended the stream (e.g. connection closed).
				rs.end(false)
				return false
			}
			rs.parser.Feed(payload)
			continue
		}

		switch tok.Type {
		case TokenColMetadata:
			rs.columns = tok.Columns
		case TokenRow, TokenNBCRow:
			rs.row = tok.Row
			return true
		case TokenReturnValue:
			rs.outputs = append(rs.outputs, *tok.ReturnValue)
		case TokenReturnStatus:
			rs.returnStatus = tok.ReturnStatus
			rs.hasStatus = true
		case TokenEnvChange:
			if rs.onEnvChange != nil {
				rs.onEnvChange(tok.EnvChange)
			}
		case TokenInfo:
			rs.infos = append(rs.infos, tok.Info)
		case TokenError:
			rs.err = tok.ServerError
		case TokenDone, TokenDoneProc, TokenDoneInProc:
			if tok.Done.HasCount() {
				rs.rowCount = tok.Done.RowCount
				rs.hasCount = true
			}
			if tok.Done.IsAttnAck() {
				rs.err = &CancelError{}
				rs.end(true)
				return false
			}
			if tok.Done.More() {
				// More results follow (e.g. multiple statements in a
				// batch); keep draining rather than stopping here.
				continue
			}
			rs.end(false)
			return false
		}
	}
}
