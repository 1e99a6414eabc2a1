package tds

import "encoding/binary"

// FeatureID identifies a Login7 feature-extension block, per spec.md §4.3.
type FeatureID uint8

const (
	FeatureSessionRecovery       FeatureID = 0x01
	FeatureFederatedAuthentication FeatureID = 0x02
	FeatureColumnEncryption      FeatureID = 0x04
	FeatureGlobalTransactions    FeatureID = 0x05
	FeatureAzureSQLSupport       FeatureID = 0x08
	FeatureDataClassification    FeatureID = 0x09
	FeatureUTF8Support           FeatureID = 0x0A
	FeatureSQLDNSCaching         FeatureID = 0x0B

	featureTerminator uint8 = 0xFF
)

// FedAuthLibrary identifies which mechanism produced a FedAuth token,
// carried in the FederatedAuthentication feature block per spec.md §6.
type FedAuthLibrary uint8

const (
	FedAuthLibADAL          FedAuthLibrary = 1
	FedAuthLibSecurityToken FedAuthLibrary = 2
	FedAuthLibMSAL          FedAuthLibrary = 3
)

// Feature is one block to encode into the Login7 extension stream.
type Feature struct {
	ID   FeatureID
	Data []byte
}

// EncodeFederatedAuthentication builds the FEDAUTH feature-extension
// data block: 1 byte options (library id shifted left by one, bit 0x01 =
// fed-auth echo requested), optionally followed by the nonce. No workflow
// byte or non-interactive flag is written.
func EncodeFederatedAuthentication(lib FedAuthLibrary, nonce []byte, echo bool) []byte {
	var options uint8 = uint8(lib) << 1
	if echo {
		options |= 0x01
	}
	buf := []byte{options}
	if len(nonce) > 0 {
		buf = append(buf, nonce...)
	}
	return buf
}

// EncodeUTF8Support builds the (empty-bodied) UTF8Support feature block.
func EncodeUTF8Support() []byte { return nil }

// EncodeColumnEncryption builds the Always-Encrypted column-encryption
// feature block: 1 byte encryption version the client supports.
func EncodeColumnEncryption(version uint8) []byte { return []byte{version} }

// EncodeFeatureExtensions concatenates feature blocks into the
// length-prefixed, 0xFF-terminated stream Login7 appends after its fixed
// body (spec.md §4.3).
func EncodeFeatureExtensions(features []Feature) []byte {
	var buf []byte
	for _, f := range features {
		buf = append(buf, byte(f.ID))
		lenBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBytes, uint32(len(f.Data)))
		buf = append(buf, lenBytes...)
		buf = append(buf, f.Data...)
	}
	buf = append(buf, featureTerminator)
	return buf
}

// FeatureAck records what the server acknowledged from the
// FEATUREEXTACK token (spec.md §4.3/§4.4).
type FeatureAck struct {
	ID   FeatureID
	Data []byte
}
