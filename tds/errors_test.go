package tds

import "testing"

func TestKindRetryable(t *testing.T) {
	retryable := []Kind{KindNetwork, KindConnectTimeout, KindCommandTimeout, KindRouting}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("Kind(%s).Retryable() = false, want true", k)
		}
	}
	notRetryable := []Kind{KindProtocol, KindCodec, KindTLS, KindAuth, KindServer,
		KindTooManyRedirects, KindType, KindCancel}
	for _, k := range notRetryable {
		if k.Retryable() {
			t.Errorf("Kind(%s).Retryable() = true, want false", k)
		}
	}
}

func TestProtocolErrorRetryableDelegatesToKind(t *testing.T) {
	err := &ProtocolError{Kind: KindNetwork, Msg: "connection reset"}
	if !err.Retryable() {
		t.Error("ProtocolError{KindNetwork}.Retryable() = false, want true")
	}
	err2 := &ProtocolError{Kind: KindProtocol, Msg: "bad token"}
	if err2.Retryable() {
		t.Error("ProtocolError{KindProtocol}.Retryable() = true, want false")
	}
}

func TestServerErrorRetryableByNumber(t *testing.T) {
	transient := []int32{40501, 40613, 40197, 49918, 10053, 10054, 10060, 1205}
	for _, n := range transient {
		e := &ServerError{Number: n}
		if !e.Retryable() {
			t.Errorf("ServerError{Number: %d}.Retryable() = false, want true", n)
		}
	}
	terminal := []int32{102, 2627, 547}
	for _, n := range terminal {
		e := &ServerError{Number: n}
		if e.Retryable() {
			t.Errorf("ServerError{Number: %d}.Retryable() = true, want false", n)
		}
	}
}

func TestServerErrorIsFatalBySeverity(t *testing.T) {
	if (&ServerError{Class: 19}).IsFatal() {
		t.Error("class 19 reported fatal, want false")
	}
	if !(&ServerError{Class: 20}).IsFatal() {
		t.Error("class 20 not reported fatal, want true")
	}
}

func TestServerErrorMessageIncludesProcNameWhenPresent(t *testing.T) {
	e := &ServerError{Number: 102, Class: 15, State: 1, Message: "syntax error", ProcName: "usp_foo", LineNumber: 4}
	got := e.Error()
	if got == "" {
		t.Fatal("empty error string")
	}
	withoutProc := &ServerError{Number: 102, Class: 15, State: 1, Message: "syntax error"}
	if withoutProc.Error() == got {
		t.Error("proc-qualified and unqualified messages should differ")
	}
}

func TestCancelErrorMessage(t *testing.T) {
	var err error = &CancelError{}
	if err.Error() == "" {
		t.Fatal("empty CancelError message")
	}
}

func TestRoutingErrorMessage(t *testing.T) {
	e := &RoutingError{Host: "sql2.example.com", Port: 1433}
	msg := e.Error()
	if msg == "" {
		t.Fatal("empty RoutingError message")
	}
}
