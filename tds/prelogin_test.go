package tds

import (
	"bytes"
	"testing"
)

func TestPreLoginRequestEncodeRoundTripsViaParsePreLoginResponse(t *testing.T) {
	// PreLoginRequest.Encode and ParsePreLoginResponse share the same
	// option-table wire format; encoding a request and parsing it back as
	// if it were a response exercises the table layout end to end.
	req := PreLoginRequest{
		Version:    0x00000001,
		Encryption: EncryptByteOn,
		Instance:   "MSSQLSERVER",
		ThreadID:   42,
	}
	encoded := req.Encode()

	resp, err := ParsePreLoginResponse(encoded)
	if err != nil {
		t.Fatalf("ParsePreLoginResponse: %v", err)
	}
	if resp.Encryption != EncryptByteOn {
		t.Errorf("Encryption = %#x, want %#x", resp.Encryption, EncryptByteOn)
	}
}

func TestPreLoginRequestEncodeFedAuthAndNonce(t *testing.T) {
	nonce := bytes.Repeat([]byte{0x07}, 32)
	req := PreLoginRequest{
		Encryption: EncryptByteOn,
		FedAuth:    true,
		Nonce:      nonce,
	}
	encoded := req.Encode()

	resp, err := ParsePreLoginResponse(encoded)
	if err != nil {
		t.Fatalf("ParsePreLoginResponse: %v", err)
	}
	if !resp.FedAuthRequired {
		t.Error("expected FedAuthRequired option to round-trip as present")
	}
	if !bytes.Equal(resp.Nonce, nonce) {
		t.Errorf("Nonce = % x, want % x", resp.Nonce, nonce)
	}
}

func TestPreLoginRequestEncodeOmitsNonceWhenWrongLength(t *testing.T) {
	req := PreLoginRequest{Encryption: EncryptByteOn, Nonce: []byte{1, 2, 3}}
	encoded := req.Encode()
	resp, err := ParsePreLoginResponse(encoded)
	if err != nil {
		t.Fatalf("ParsePreLoginResponse: %v", err)
	}
	if resp.Nonce != nil {
		t.Error("a non-32-byte nonce should not be encoded as the NONCEOPT option")
	}
}

func TestParsePreLoginResponseMissingEncryptionIsError(t *testing.T) {
	opts := []preloginOption{{preloginVersion, []byte{0, 0, 0, 1, 0, 0}}}
	data := encodePreloginOptions(opts)
	if _, err := ParsePreLoginResponse(data); err == nil {
		t.Fatal("expected error when ENCRYPTION option is missing")
	}
}

func TestParsePreLoginResponseEmptyIsError(t *testing.T) {
	if _, err := ParsePreLoginResponse(nil); err == nil {
		t.Fatal("expected error for empty prelogin response")
	}
}

func TestParsePreLoginResponseTruncatedTableIsError(t *testing.T) {
	if _, err := ParsePreLoginResponse([]byte{preloginVersion, 0, 9}); err == nil {
		t.Fatal("expected error for truncated option table entry")
	}
}

func TestResolveEncryptionStrictIgnoresServerByte(t *testing.T) {
	got, err := ResolveEncryption(EncryptStrict, EncryptByteNotSup)
	if err != nil {
		t.Fatalf("ResolveEncryption: %v", err)
	}
	if got != EncryptStrict {
		t.Errorf("got %v, want EncryptStrict regardless of server byte", got)
	}
}

func TestResolveEncryptionRequiredButNotSupportedIsError(t *testing.T) {
	_, err := ResolveEncryption(EncryptRequired, EncryptByteNotSup)
	if err == nil {
		t.Fatal("expected EncryptionNotSupportedError when required but server can't")
	}
	if _, ok := err.(*EncryptionNotSupportedError); !ok {
		t.Errorf("error type = %T, want *EncryptionNotSupportedError", err)
	}
}

func TestResolveEncryptionOffUpgradesWhenServerRequires(t *testing.T) {
	got, err := ResolveEncryption(EncryptOff, EncryptByteReq)
	if err != nil {
		t.Fatalf("ResolveEncryption: %v", err)
	}
	if got != EncryptOn {
		t.Errorf("got %v, want EncryptOn when server requires encryption", got)
	}
}

func TestResolveEncryptionOnDowngradesWhenServerUnsupported(t *testing.T) {
	got, err := ResolveEncryption(EncryptOn, EncryptByteNotSup)
	if err != nil {
		t.Fatalf("ResolveEncryption: %v", err)
	}
	if got != EncryptOff {
		t.Errorf("got %v, want EncryptOff when server can't support encryption", got)
	}
}

func TestClientEncryptionByteMapping(t *testing.T) {
	tests := []struct {
		mode EncryptionMode
		want uint8
	}{
		{EncryptOff, EncryptByteOff},
		{EncryptOn, EncryptByteOn},
		{EncryptRequired, EncryptByteReq},
		{EncryptStrict, EncryptByteStrict},
	}
	for _, tt := range tests {
		if got := clientEncryptionByte(tt.mode); got != tt.want {
			t.Errorf("clientEncryptionByte(%v) = %#x, want %#x", tt.mode, got, tt.want)
		}
	}
}
