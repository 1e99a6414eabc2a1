package tds

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultMaxRedirects bounds the ENVCHANGE.Routing reconnect loop
// (spec.md §4.3/§7).
const DefaultMaxRedirects = 10

// AuthMethod selects which of the three authentication data shapes a
// Config carries (spec.md §6).
type AuthMethod int

const (
	AuthSQLPassword AuthMethod = iota
	AuthFedAuth
	AuthSSPI
)

// AuthData is the credential material handed to the protocol engine by
// an external collaborator (connection-string parser, AzureAD/Kerberos
// acquisition). The engine never acquires credentials itself.
type AuthData struct {
	Method AuthMethod

	Username string
	Password string

	FedAuthLibrary FedAuthLibrary
	FedAuthNonce   []byte // set by the caller once FEDAUTHINFO is seen and a token fetched

	SSPIBlob []byte
}

// Config is everything Negotiate needs to establish one session. It is
// assembled by the caller; connection-string parsing is out of scope
// (spec.md §1/§6).
type Config struct {
	Host string
	Port uint16

	Database   string
	AppName    string
	ServerName string // Login7 ServerName field
	HostName   string // client machine name

	Auth AuthData

	Encryption EncryptionMode
	TLS        TLSConfig

	PacketSize     uint32
	ClientLCID     uint32
	ClientTimeZone int32

	ConnectTimeout time.Duration
	MaxRedirects   int

	ExtraFeatures []Feature

	Log *Logger
}

func (c Config) packetSize() uint32 {
	if c.PacketSize == 0 {
		return DefaultPacketSize
	}
	return c.PacketSize
}

// NegotiatedConn is the outcome of running the PreLogin→[TLS]→Login7
// state machine once: an authenticated transport, split and ready for
// the session layer to drive, plus everything ENVCHANGE/LOGINACK
// reported along the way.
type NegotiatedConn struct {
	Transport *Transport
	Read      ReadHalf
	Write     WriteHalf
	Encoder   *Encoder
	Decoder   *Decoder // carries forward any bytes buffered past the login response

	TDSVersion uint32
	PacketSize int
	Database   string
	Collation  Collation
	Encryption EncryptionMode

	FeatureAcks   []FeatureAck
	FedAuthInfo   *FedAuthInfoToken
	TxnDescriptor uint64
}

// Negotiate runs PreLogin → [TLS] → Login7 → LoginAck, following
// ENVCHANGE.Routing redirects up to cfg.MaxRedirects hops before giving
// up with a TooManyRedirectsError (spec.md §4.3/§7).
func Negotiate(cfg Config) (*NegotiatedConn, error) {
	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}

	host, port := cfg.Host, cfg.Port
	for hop := 0; ; hop++ {
		if hop >= maxRedirects {
			return nil, &TooManyRedirectsError{Limit: maxRedirects}
		}
		conn, err := negotiateOnce(cfg, host, port)
		if err == nil {
			return conn, nil
		}
		var routed *RoutingError
		if errors.As(err, &routed) {
			cfg.Log.Negotiation().Infof("routed from %s:%d to %s:%d", host, port, routed.Host, routed.Port)
			host, port = routed.Host, routed.Port
			continue
		}
		return nil, err
	}
}

// readMessage blocks until one full reassembled message (spec.md §3.2)
// has arrived, feeding packets through a Reassembler so negotiation and
// the session layer share one definition of "type change mid-message".
func readMessage(rh ReadHalf, dec *Decoder) (PacketType, []byte, error) {
	var reassembler Reassembler
	chunk := make([]byte, 8192)
	for {
		pkt, ok, err := dec.Next()
		if err != nil {
			return 0, nil, err
		}
		if ok {
			msg, done, rerr := reassembler.Feed(pkt)
			if rerr != nil {
				return 0, nil, rerr
			}
			if done {
				return msg.Type, msg.Payload, nil
			}
			continue
		}
		n, rerr := rh.Read(chunk)
		if n > 0 {
			dec.Feed(chunk[:n])
		}
		if rerr != nil {
			return 0, nil, &ProtocolError{Kind: KindNetwork, Msg: rerr.Error()}
		}
	}
}

func negotiateOnce(cfg Config, host string, port uint16) (result *NegotiatedConn, rerr error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	log := cfg.Log.Negotiation()
	log.Infof("dialing %s", addr)

	transport, err := Dial("tcp", addr, cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr != nil {
			transport.Close()
		}
	}()

	rh, wh := transport.Split()
	enc := NewEncoder(transport.Writer(), int(DefaultPacketSize))
	dec := NewDecoder(MaxPacketSize)

	strict := cfg.Encryption == EncryptStrict
	tdsVersion := VerTDS74
	if strict {
		tdsVersion = VerTDS80
		if err := NegotiateTLS(transport, EncryptStrict, cfg.TLS, cfg.ConnectTimeout); err != nil {
			return nil, err
		}
	}

	var nonce []byte
	if cfg.Auth.Method == AuthFedAuth {
		nonce = make([]byte, 32)
		if _, err := rand.Read(nonce); err != nil {
			return nil, &ProtocolError{Kind: KindAuth, Msg: "generating fedauth nonce: " + err.Error()}
		}
	}
	preloginReq := PreLoginRequest{
		Version:    tdsVersion,
		Encryption: clientEncryptionByte(cfg.Encryption),
		ThreadID:   uint32(os.Getpid()),
		FedAuth:    cfg.Auth.Method == AuthFedAuth,
		Nonce:      nonce,
	}
	if err := wh.WriteMessage(enc, PacketPrelogin, preloginReq.Encode(), 0); err != nil {
		return nil, err
	}

	typ, payload, err := readMessage(rh, dec)
	if err != nil {
		return nil, err
	}
	if typ != PacketPrelogin && typ != PacketTabularResult {
		return nil, &ProtocolError{Kind: KindProtocol, Msg: fmt.Sprintf("unexpected message type 0x%02x replying to prelogin", uint8(typ))}
	}
	preloginResp, err := ParsePreLoginResponse(payload)
	if err != nil {
		return nil, err
	}

	negotiatedEncryption, err := ResolveEncryption(cfg.Encryption, preloginResp.Encryption)
	if err != nil {
		return nil, err
	}
	if !strict && negotiatedEncryption != EncryptOff {
		if err := NegotiateTLS(transport, negotiatedEncryption, cfg.TLS, cfg.ConnectTimeout); err != nil {
			return nil, err
		}
	}
	if cfg.TLS.TrustServerCertificate {
		log.Warnf("certificate validation disabled for %s", addr)
	}

	features := buildFeatures(cfg, preloginResp)
	login7 := Login7Request{
		TDSVersion:     tdsVersion,
		PacketSize:     cfg.packetSize(),
		ClientProgVer:  progVerUint32(),
		ClientPID:      uint32(os.Getpid()),
		ClientTimeZone: cfg.ClientTimeZone,
		ClientLCID:     cfg.ClientLCID,
		HostName:       cfg.HostName,
		AppName:        cfg.AppName,
		ServerName:     cfg.ServerName,
		CtlIntName:     "mssqltds",
		Database:       cfg.Database,
		Features:       features,
	}
	switch cfg.Auth.Method {
	case AuthSQLPassword:
		login7.UserName = cfg.Auth.Username
		login7.Password = cfg.Auth.Password
	case AuthSSPI:
		login7.SSPI = cfg.Auth.SSPIBlob
	}

	enc.SetPacketSize(int(login7.PacketSize))
	if err := wh.WriteMessage(enc, PacketLogin7, login7.Encode(), 0); err != nil {
		return nil, err
	}

	result = &NegotiatedConn{
		Transport:  transport,
		Read:       rh,
		Write:      wh,
		Encoder:    enc,
		Decoder:    dec,
		PacketSize: int(login7.PacketSize),
		Database:   cfg.Database,
		Encryption: negotiatedEncryption,
	}

	parser := NewParser()
	for {
		typ, payload, err := readMessage(rh, dec)
		if err != nil {
			return nil, err
		}
		if typ != PacketTabularResult {
			return nil, &ProtocolError{Kind: KindProtocol, Msg: fmt.Sprintf("unexpected message type 0x%02x during login", uint8(typ))}
		}
		parser.Feed(payload)

		loggedIn, routing, loginErr := processLoginTokens(parser, result, log)
		if loginErr != nil {
			return nil, loginErr
		}
		if routing != nil {
			return nil, routing
		}
		if loggedIn {
			break
		}
	}

	log.Infof("login complete: tds=0x%08x database=%q packetSize=%d", result.TDSVersion, result.Database, result.PacketSize)
	return result, nil
}

// buildFeatures assembles the Login7 feature-extension list: the
// FederatedAuthentication block when fed-auth was requested, UTF8Support
// unconditionally (every modern driver advertises it), and whatever the
// caller attached via Config.ExtraFeatures (e.g. ColumnEncryption).
func buildFeatures(cfg Config, preloginResp *PreLoginResponse) []Feature {
	var features []Feature
	if cfg.Auth.Method == AuthFedAuth {
		data := EncodeFederatedAuthentication(cfg.Auth.FedAuthLibrary, cfg.Auth.FedAuthNonce, true)
		features = append(features, Feature{ID: FeatureFederatedAuthentication, Data: data})
	}
	features = append(features, Feature{ID: FeatureUTF8Support, Data: EncodeUTF8Support()})
	features = append(features, cfg.ExtraFeatures...)
	return features
}

// processLoginTokens drains every token currently buffered in p. It
// returns loggedIn=true once the terminating DONE is observed, or a
// non-nil routing error if ENVCHANGE.Routing redirected the client
// (§4.3's routing loop, driven by Negotiate above).
func processLoginTokens(p *Parser, result *NegotiatedConn, log *CategoryLogger) (loggedIn bool, routing *RoutingError, err error) {
	for {
		tok, ok, terr := p.Next()
		if terr != nil {
			return false, nil, terr
		}
		if !ok {
			return false, nil, nil
		}

		switch tok.Type {
		case TokenEnvChange:
			if err := applyLoginEnvChange(tok.EnvChange, result); err != nil {
				return false, nil, err
			}
			if tok.EnvChange.Sub == EnvRouting {
				r, rerr := tok.EnvChange.Routing()
				if rerr != nil {
					return false, nil, rerr
				}
				return false, r, nil
			}
		case TokenLoginAck:
			result.TDSVersion = tok.LoginAck.TDSVersion
			log.Infof("LOGINACK: product=%q tdsVersion=0x%08x", tok.LoginAck.ProgName, tok.LoginAck.TDSVersion)
		case TokenFeatureExtAck:
			result.FeatureAcks = tok.FeatureAcks
		case TokenFedAuthInfo:
			result.FedAuthInfo = tok.FedAuthInfo
		case TokenError:
			if tok.ServerError.Class >= 11 {
				return false, nil, tok.ServerError
			}
		case TokenInfo:
			log.Debugf("%s", tok.Info.Message)
		case TokenDone, TokenDoneProc, TokenDoneInProc:
			if tok.Done.HasError() {
				return false, nil, &ProtocolError{Kind: KindAuth, Msg: "login failed"}
			}
			return true, nil, nil
		}
	}
}

func applyLoginEnvChange(ec *EnvChangeToken, result *NegotiatedConn) error {
	switch ec.Sub {
	case EnvDatabase:
		result.Database = ec.NewString()
	case EnvSQLCollation:
		result.Collation = ParseCollation(ec.NewRaw)
	case EnvPacketSize:
		n, err := strconv.Atoi(ec.NewString())
		if err != nil {
			return &ProtocolError{Kind: KindCodec, Msg: "malformed ENVCHANGE.PacketSize value"}
		}
		result.PacketSize = n
		result.Encoder.SetPacketSize(n)
	case EnvBeginTran:
		if len(ec.NewRaw) == 8 {
			result.TxnDescriptor = le64(ec.NewRaw)
		}
	}
	return nil
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
