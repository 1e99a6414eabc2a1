package tds

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// decimalSign bytes, per MS-TDS 2.2.5.5.3: 0 means negative, 1 positive.
const (
	decimalSignNeg byte = 0
	decimalSignPos byte = 1
)

// decodeDecimal parses a DECIMALN/NUMERICN value body: 1 sign byte
// followed by up to four little-endian uint32 mantissa limbs (the limb
// count is implied by the declared storage size, spec.md §3.4/§4.4).
func decodeDecimal(b []byte, scale uint8) (decimal.Decimal, error) {
	if len(b) == 0 {
		return decimal.Zero, nil
	}
	if len(b) < 1 || (len(b)-1)%4 != 0 {
		return decimal.Decimal{}, &ProtocolError{Kind: KindCodec, Msg: "malformed DECIMAL value length"}
	}
	sign := b[0]
	mantissa := new(big.Int)
	limbs := (len(b) - 1) / 4
	for i := limbs - 1; i >= 0; i-- {
		off := 1 + i*4
		limb := uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
		mantissa.Lsh(mantissa, 32)
		mantissa.Or(mantissa, big.NewInt(int64(limb)))
	}
	if sign == decimalSignNeg {
		mantissa.Neg(mantissa)
	}
	return decimal.NewFromBigInt(mantissa, -int32(scale)), nil
}

// encodeDecimal serializes a decimal.Decimal into the DECIMALN/NUMERICN
// wire body at the given precision/scale, used when binding RPC
// parameters (spec.md §4.3 parameter encoding).
func encodeDecimal(d decimal.Decimal, precision, scale uint8) []byte {
	rescaled := d.Rescale(-int32(scale))
	mantissa := new(big.Int).Set(rescaled.Coefficient())
	sign := decimalSignPos
	if mantissa.Sign() < 0 {
		sign = decimalSignNeg
		mantissa.Neg(mantissa)
	}

	limbs := decimalLimbCount(precision)
	out := make([]byte, 1+limbs*4)
	out[0] = sign

	bytes := mantissa.Bytes() // big-endian
	for i := 0; i < len(bytes) && i/4 < limbs; i++ {
		srcIdx := len(bytes) - 1 - i
		limbIdx := i / 4
		shift := uint(i % 4)
		out[1+limbIdx*4+int(shift)] = bytes[srcIdx]
	}
	return out
}

// decimalLimbCount returns how many 4-byte mantissa limbs a DECIMAL of
// the given precision occupies on the wire, per MS-TDS 2.2.5.5.3's table.
func decimalLimbCount(precision uint8) int {
	switch {
	case precision <= 9:
		return 1
	case precision <= 19:
		return 2
	case precision <= 28:
		return 3
	default:
		return 4
	}
}
