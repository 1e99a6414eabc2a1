package tds

import (
	"errors"
	"net"
	"testing"
	"time"
)

// fakeServerReadMessage drains packets off conn until one full message
// (by END_OF_MESSAGE) has arrived, mirroring readMessage but over a plain
// net.Conn instead of a split Transport — this is the server side of the
// fake SQL Server these tests dial into.
func fakeServerReadMessage(conn net.Conn) (PacketType, []byte, error) {
	dec := NewDecoder(MaxPacketSize)
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
		n, err := conn.Read(chunk)
		if n > 0 {
			dec.Feed(chunk[:n])
		}
		if err != nil {
			return 0, nil, err
		}
	}
}

func encodePreloginResponse(version uint32, encryption uint8) []byte {
	versionData := make([]byte, 6)
	copy(versionData[0:4], be32(version))
	return encodePreloginOptions([]preloginOption{
		{preloginVersion, versionData},
		{preloginEncryption, []byte{encryption}},
	})
}

func encodeEnvChangeDatabaseToken(newDB, oldDB string) []byte {
	body := append([]byte{EnvDatabase}, byte(len(newDB)))
	body = append(body, stringToUCS2(newDB)...)
	body = append(body, byte(len(oldDB)))
	body = append(body, stringToUCS2(oldDB)...)
	return append(append([]byte{byte(TokenEnvChange)}, u16le(uint16(len(body)))...), body...)
}

func encodeLoginAckToken(tdsVersion uint32, progName string, progVersion uint32) []byte {
	body := append([]byte{byte(LoginAckSQL2012)}, u32le(tdsVersion)...)
	body = append(body, bVarchar(progName)...)
	body = append(body, u32le(progVersion)...)
	return append(append([]byte{byte(TokenLoginAck)}, u16le(uint16(len(body)))...), body...)
}

func encodeDoneToken(status uint16, rowCount uint64) []byte {
	buf := append([]byte{byte(TokenDone)}, u16le(status)...)
	buf = append(buf, u16le(0)...)
	buf = append(buf, u64le(rowCount)...)
	return buf
}

func encodeErrorToken(number int32, class byte, msg string) []byte {
	body := append([]byte{}, u32le(uint32(number))...)
	body = append(body, 1)     // state
	body = append(body, class) // class
	body = append(body, usVarchar(msg)...)
	body = append(body, bVarchar("fakeserver")...)
	body = append(body, bVarchar("")...)
	body = append(body, u32le(0)...)
	return append(append([]byte{byte(TokenError)}, u16le(uint16(len(body)))...), body...)
}

// runFakeLoginServer accepts one connection, completes PreLogin with
// encryption off, drains the client's Login7 message, then writes a
// TabularResult message built from tokenPayload as the login response.
func runFakeLoginServer(t *testing.T, ln net.Listener, tokenPayload []byte) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		t.Errorf("fake server accept: %v", err)
		return
	}
	defer conn.Close()

	typ, _, err := fakeServerReadMessage(conn)
	if err != nil {
		t.Errorf("fake server reading prelogin: %v", err)
		return
	}
	if typ != PacketPrelogin {
		t.Errorf("fake server: first message type = %v, want PacketPrelogin", typ)
		return
	}

	enc := NewEncoder(conn, DefaultPacketSize)
	if err := enc.WriteMessage(PacketPrelogin, encodePreloginResponse(VerTDS74, EncryptByteOff), 0); err != nil {
		t.Errorf("fake server writing prelogin response: %v", err)
		return
	}

	typ, _, err = fakeServerReadMessage(conn)
	if err != nil {
		t.Errorf("fake server reading login7: %v", err)
		return
	}
	if typ != PacketLogin7 {
		t.Errorf("fake server: second message type = %v, want PacketLogin7", typ)
		return
	}

	if err := enc.WriteMessage(PacketTabularResult, tokenPayload, 0); err != nil {
		t.Errorf("fake server writing login response: %v", err)
		return
	}
}

func TestNegotiateSucceedsAgainstFakeServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	payload := append([]byte{}, encodeEnvChangeDatabaseToken("mydb", "master")...)
	payload = append(payload, encodeLoginAckToken(VerTDS74, "Microsoft SQL Server", 0)...)
	payload = append(payload, encodeDoneToken(DoneFinal, 0)...)

	done := make(chan struct{})
	go func() { defer close(done); runFakeLoginServer(t, ln, payload) }()

	addr := ln.Addr().(*net.TCPAddr)
	cfg := Config{
		Host:           addr.IP.String(),
		Port:           uint16(addr.Port),
		Database:       "ignored-until-envchange",
		AppName:        "negotiate_test",
		Encryption:     EncryptOff,
		ConnectTimeout: 5 * time.Second,
		Auth:           AuthData{Method: AuthSQLPassword, Username: "u", Password: "p"},
	}

	nc, err := Negotiate(cfg)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	defer nc.Transport.Close()

	if nc.Database != "mydb" {
		t.Errorf("Database = %q, want %q", nc.Database, "mydb")
	}
	if nc.TDSVersion != VerTDS74 {
		t.Errorf("TDSVersion = 0x%08X, want 0x%08X", nc.TDSVersion, VerTDS74)
	}
	if nc.Encryption != EncryptOff {
		t.Errorf("Encryption = %v, want EncryptOff", nc.Encryption)
	}

	<-done
}

func TestNegotiateFailsOnLoginError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	payload := append([]byte{}, encodeErrorToken(18456, 20, "Login failed for user 'u'.")...)
	payload = append(payload, encodeDoneToken(DoneError, 0)...)

	done := make(chan struct{})
	go func() { defer close(done); runFakeLoginServer(t, ln, payload) }()

	addr := ln.Addr().(*net.TCPAddr)
	cfg := Config{
		Host:           addr.IP.String(),
		Port:           uint16(addr.Port),
		Encryption:     EncryptOff,
		ConnectTimeout: 5 * time.Second,
		Auth:           AuthData{Method: AuthSQLPassword, Username: "u", Password: "wrong"},
	}

	_, err = Negotiate(cfg)
	if err == nil {
		t.Fatal("expected Negotiate to fail on a severity>=11 ERROR token during login")
	}
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v (%T), want *ServerError", err, err)
	}
	if se.Number != 18456 {
		t.Errorf("Number = %d, want 18456", se.Number)
	}

	<-done
}
