package pool

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/ha1tch/mssqltds/tds"
)

// The fixtures below mirror tds/negotiate_test.go's fake listener +
// runFakeLoginServer pattern: a bare net.Listener stands in for SQL
// Server, and pool.Connector dials through it with a real tds.Connect so
// Acquire/Release/sweep exercise a real *tds.Session end to end, without
// needing the server-side of the protocol spec.md places out of scope.

func u16le(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func u32le(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func u64le(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func stringToUCS2(s string) []byte {
	u16 := utf16.Encode([]rune(s))
	b := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(b[i*2:], v)
	}
	return b
}

func bVarchar(s string) []byte {
	return append([]byte{byte(len(s))}, stringToUCS2(s)...)
}

func encodePreloginResponse(version uint32, encryption uint8) []byte {
	versionData := make([]byte, 6)
	binary.BigEndian.PutUint32(versionData[0:4], version)

	type opt struct {
		token uint8
		data  []byte
	}
	opts := []opt{{0x00, versionData}, {0x01, []byte{encryption}}}

	headerSize := len(opts)*5 + 1
	offset := uint16(headerSize)
	header := make([]byte, 0, headerSize)
	var data []byte
	for _, o := range opts {
		header = append(header, o.token)
		header = append(header, byte(offset>>8), byte(offset))
		header = append(header, byte(len(o.data)>>8), byte(len(o.data)))
		data = append(data, o.data...)
		offset += uint16(len(o.data))
	}
	header = append(header, 0xFF)
	return append(header, data...)
}

func encodeEnvChangeDatabaseToken(newDB, oldDB string) []byte {
	body := append([]byte{tds.EnvDatabase}, byte(len(newDB)))
	body = append(body, stringToUCS2(newDB)...)
	body = append(body, byte(len(oldDB)))
	body = append(body, stringToUCS2(oldDB)...)
	return append(append([]byte{byte(tds.TokenEnvChange)}, u16le(uint16(len(body)))...), body...)
}

func encodeLoginAckToken(tdsVersion uint32, progName string, progVersion uint32) []byte {
	body := append([]byte{byte(tds.LoginAckSQL2012)}, u32le(tdsVersion)...)
	body = append(body, bVarchar(progName)...)
	body = append(body, u32le(progVersion)...)
	return append(append([]byte{byte(tds.TokenLoginAck)}, u16le(uint16(len(body)))...), body...)
}

func encodeDoneToken(status uint16, rowCount uint64) []byte {
	buf := append([]byte{byte(tds.TokenDone)}, u16le(status)...)
	buf = append(buf, u16le(0)...)
	buf = append(buf, u64le(rowCount)...)
	return buf
}

// readFakeMessage drains conn until one full TDS message has arrived,
// the server-side counterpart of the client's read loop.
func readFakeMessage(conn net.Conn) (tds.PacketType, []byte, error) {
	dec := tds.NewDecoder(tds.MaxPacketSize)
	var reassembler tds.Reassembler
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

// fakeTDSServer accepts any number of connections, logs each in with a
// canned success response, and then answers every subsequent request
// with a DONE token — enough for Connect, Ping (health checks, both
// TestOnCheckout/TestOnCheckin and sweep's interval-based path) and
// SimpleQuery to all round-trip against a real session.
type fakeTDSServer struct {
	t  *testing.T
	ln net.Listener

	mu    sync.Mutex
	dials int
	pings int
}

func newFakeTDSServer(t *testing.T) *fakeTDSServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeTDSServer{t: t, ln: ln}
	go s.acceptLoop()
	return s
}

func (s *fakeTDSServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.dials++
		s.mu.Unlock()
		go s.serveConn(conn)
	}
}

func (s *fakeTDSServer) addr() (string, uint16) {
	a := s.ln.Addr().(*net.TCPAddr)
	return a.IP.String(), uint16(a.Port)
}

func (s *fakeTDSServer) close() { s.ln.Close() }

func (s *fakeTDSServer) serveConn(conn net.Conn) {
	defer conn.Close()

	typ, _, err := readFakeMessage(conn)
	if err != nil || typ != tds.PacketPrelogin {
		return
	}

	enc := tds.NewEncoder(conn, tds.DefaultPacketSize)
	if err := enc.WriteMessage(tds.PacketPrelogin, encodePreloginResponse(tds.VerTDS74, tds.EncryptByteOff), 0); err != nil {
		return
	}

	typ, _, err = readFakeMessage(conn)
	if err != nil || typ != tds.PacketLogin7 {
		return
	}

	loginResp := append([]byte{}, encodeEnvChangeDatabaseToken("pooldb", "master")...)
	loginResp = append(loginResp, encodeLoginAckToken(tds.VerTDS74, "Microsoft SQL Server", 0)...)
	loginResp = append(loginResp, encodeDoneToken(tds.DoneFinal, 0)...)
	if err := enc.WriteMessage(tds.PacketTabularResult, loginResp, 0); err != nil {
		return
	}

	for {
		if _, _, err := readFakeMessage(conn); err != nil {
			return
		}
		s.mu.Lock()
		s.pings++
		s.mu.Unlock()
		resp := encodeDoneToken(tds.DoneFinal, 0)
		if err := enc.WriteMessage(tds.PacketTabularResult, resp, 0); err != nil {
			return
		}
	}
}

func newTestLogger() *tds.Logger {
	return tds.NewLogger(tds.LogConfig{DefaultLevel: tds.LogOff})
}

func newTestConnector(server *fakeTDSServer, log *tds.Logger) Connector {
	return func() (*tds.Session, error) {
		host, port := server.addr()
		return tds.Connect(tds.Config{
			Host:           host,
			Port:           port,
			Database:       "pooldb",
			AppName:        "pool_test",
			Encryption:     tds.EncryptOff,
			ConnectTimeout: 5 * time.Second,
			Auth:           tds.AuthData{Method: tds.AuthSQLPassword, Username: "u", Password: "p"},
			Log:            log,
		})
	}
}

func waitForTotal(t *testing.T, p *Pool, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.Stats().Total >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pool never reached total >= %d, got %d", want, p.Stats().Total)
}

func TestPoolAcquireReleaseReusesIdleSession(t *testing.T) {
	server := newFakeTDSServer(t)
	defer server.close()

	cfg := DefaultConfig(1, 2)
	cfg.MaintenanceInterval = time.Hour
	cfg.HealthCheckInterval = time.Hour

	p, err := New(cfg, newTestConnector(server, newTestLogger()), newTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	co, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if co.Session == nil {
		t.Fatal("Acquire returned a nil Session")
	}
	stats := p.Stats()
	if stats.InUse != 1 {
		t.Errorf("InUse = %d, want 1", stats.InUse)
	}

	co.Release(nil)
	stats = p.Stats()
	if stats.InUse != 0 {
		t.Errorf("InUse after Release = %d, want 0", stats.InUse)
	}

	co2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	defer co2.Release(nil)

	server.mu.Lock()
	dials := server.dials
	server.mu.Unlock()
	if dials > 2 {
		t.Errorf("server saw %d dials, want the released session reused (<=2)", dials)
	}
}

func TestPoolAcquireBlocksAtMaxThenTimesOut(t *testing.T) {
	server := newFakeTDSServer(t)
	defer server.close()

	cfg := DefaultConfig(1, 1)
	cfg.TestOnCheckout = false
	cfg.AcquisitionTimeout = 100 * time.Millisecond
	cfg.MaintenanceInterval = time.Hour
	cfg.HealthCheckInterval = time.Hour

	p, err := New(cfg, newTestConnector(server, newTestLogger()), newTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	co, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer co.Release(nil)

	_, err = p.Acquire(ctx)
	if err == nil {
		t.Fatal("second Acquire at Max=1 with the only session held, want AcquisitionTimeoutError")
	}
	var timeoutErr *AcquisitionTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v (%T), want *AcquisitionTimeoutError", err, err)
	}
}

func TestPoolReleaseWithErrorClosesSession(t *testing.T) {
	server := newFakeTDSServer(t)
	defer server.close()

	cfg := DefaultConfig(1, 2)
	cfg.MaintenanceInterval = time.Hour
	cfg.HealthCheckInterval = time.Hour

	p, err := New(cfg, newTestConnector(server, newTestLogger()), newTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	co, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	totalBefore := p.Stats().Total
	co.Release(errTransportBroken)

	waitForCondition(t, 2*time.Second, func() bool {
		return p.Stats().Total < totalBefore
	})
}

var errTransportBroken = &tds.ProtocolError{Kind: tds.KindNetwork, Msg: "fake transport failure"}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

// TestPoolSweepHealthCheckDoesNotRaceAcquire drives sweep's health-check
// path concurrently with Acquire on a pool sized so every idle slot is a
// health-check candidate, regression-testing the pop-before-unlock fix in
// sweep: a slot sweep is mid-Ping on must never be handed to a concurrent
// Acquire as SlotInUse.
func TestPoolSweepHealthCheckDoesNotRaceAcquire(t *testing.T) {
	server := newFakeTDSServer(t)
	defer server.close()

	cfg := DefaultConfig(4, 8)
	cfg.TestOnCheckout = false
	cfg.HealthCheckInterval = time.Nanosecond // every sweep treats every idle slot as due
	cfg.MaintenanceInterval = 5 * time.Millisecond
	cfg.AcquisitionTimeout = 2 * time.Second

	log := newTestLogger()
	p, err := New(cfg, newTestConnector(server, log), log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	waitForTotal(t, p, cfg.Min, 3*time.Second)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	var seenDouble int

	// Track slots handed out concurrently: if sweep's race were still
	// present, two goroutines could both observe the same *tds.Session
	// as in-use at once, which a pool with 1 req in flight per session
	// would never otherwise allow (spec.md §5).
	var mu sync.Mutex
	inUseSessions := make(map[*tds.Session]bool)

	worker := func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			co, err := p.Acquire(ctx)
			cancel()
			if err != nil {
				continue
			}

			mu.Lock()
			if inUseSessions[co.Session] {
				seenDouble++
			}
			inUseSessions[co.Session] = true
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			delete(inUseSessions, co.Session)
			mu.Unlock()

			co.Release(nil)
		}
	}

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go worker()
	}

	time.Sleep(200 * time.Millisecond)
	close(stop)
	wg.Wait()

	if seenDouble != 0 {
		t.Fatalf("observed %d double-checkouts of the same session — sweep handed out a slot it was mid-Ping on", seenDouble)
	}
}
