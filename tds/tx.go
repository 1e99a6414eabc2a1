package tds

import (
	"fmt"
	"regexp"
)

// savepointName validates identifiers passed to Savepoint/RollbackTo:
// non-empty, at most 32 characters, starting with a letter or
// underscore (spec.md §4.5).
var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateSavepointName(name string) error {
	if len(name) == 0 || len(name) > 32 || !savepointName.MatchString(name) {
		return &ProtocolError{Kind: KindType, Msg: fmt.Sprintf("invalid savepoint name %q", name)}
	}
	return nil
}

// IsolationLevel selects the transaction isolation level for
// BeginTransaction.
type IsolationLevel int

const (
	IsolationReadCommitted IsolationLevel = iota
	IsolationReadUncommitted
	IsolationRepeatableRead
	IsolationSerializable
	IsolationSnapshot
)

func (l IsolationLevel) sqlText() string {
	switch l {
	case IsolationReadUncommitted:
		return "READ UNCOMMITTED"
	case IsolationRepeatableRead:
		return "REPEATABLE READ"
	case IsolationSerializable:
		return "SERIALIZABLE"
	case IsolationSnapshot:
		return "SNAPSHOT"
	default:
		return "READ COMMITTED"
	}
}

// Tx is a handle to an in-progress transaction on a Session. It holds no
// state of its own beyond a back-reference; the authoritative
// transaction descriptor lives on the Session, updated by
// ENVCHANGE.BeginTransaction/CommitTransaction/RollbackTransaction.
type Tx struct {
	session *Session
}

// Commit issues COMMIT TRANSACTION and returns the session to Ready.
func (tx *Tx) Commit() error {
	_, err := tx.session.execSimple("COMMIT TRANSACTION")
	return err
}

// Rollback issues ROLLBACK TRANSACTION and returns the session to Ready.
func (tx *Tx) Rollback() error {
	_, err := tx.session.execSimple("ROLLBACK TRANSACTION")
	return err
}

// Savepoint issues SAVE TRANSACTION <name> after validating name.
func (tx *Tx) Savepoint(name string) error {
	if err := validateSavepointName(name); err != nil {
		return err
	}
	_, err := tx.session.execSimple("SAVE TRANSACTION " + name)
	return err
}

// RollbackTo issues ROLLBACK TRANSACTION <name> to the named savepoint.
func (tx *Tx) RollbackTo(name string) error {
	if err := validateSavepointName(name); err != nil {
		return err
	}
	_, err := tx.session.execSimple("ROLLBACK TRANSACTION " + name)
	return err
}
