package tds

import (
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
)

// sqlEpoch is the day zero for DATETIME/SMALLDATETIME day counts
// (spec.md §4.4, same epoch the teacher's encodeDatetime uses).
var sqlEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// civilEpoch is day zero (0001-01-01) for the 3-byte day counts DATE,
// DATETIME2 and DATETIMEOFFSET use.
var civilEpoch = civil.Date{Year: 1, Month: time.January, Day: 1}

func decodeSmallDateTime(b []byte) (Scalar, error) {
	days := int16(le16(b[0:2]))
	minutes := le16(b[2:4])
	t := sqlEpoch.AddDate(0, 0, int(days)).Add(time.Duration(minutes) * time.Minute)
	return Scalar{Kind: ScalarDateTime, DateTime: civilFromTime(t)}, nil
}

func decodeDateTime8(b []byte) (Scalar, error) {
	days := int32(le32(b[0:4]))
	ticks := int32(le32(b[4:8])) // 1/300th second
	t := sqlEpoch.AddDate(0, 0, int(days)).Add(time.Duration(ticks) * time.Second / 300)
	return Scalar{Kind: ScalarDateTime, DateTime: civilFromTime(t)}, nil
}

func decodeDateTimeN(b []byte) (Scalar, error) {
	switch len(b) {
	case 4:
		return decodeSmallDateTime(b)
	case 8:
		return decodeDateTime8(b)
	default:
		return Scalar{}, &ProtocolError{Kind: KindCodec, Msg: "invalid DATETIMEN width"}
	}
}

func decodeDate(b []byte) (Scalar, error) {
	if len(b) != 3 {
		return Scalar{}, &ProtocolError{Kind: KindCodec, Msg: "DATE value must be 3 bytes"}
	}
	days := le24(b)
	d := addDays(civilEpoch, int(days))
	return Scalar{Kind: ScalarDate, Date: d}, nil
}

// timeByteLen returns how many wire bytes TIME/DATETIME2/DATETIMEOFFSET's
// time component occupies for a given declared scale, per MS-TDS 2.2.5.5.1.8.
func timeByteLen(scale uint8) int {
	switch {
	case scale <= 2:
		return 3
	case scale <= 4:
		return 4
	default:
		return 5
	}
}

// decodeTimeTicks reads the scale-width ticks field and converts to a
// time.Duration since midnight. Ticks are units of 10^-scale seconds.
func decodeTimeTicks(b []byte, scale uint8) time.Duration {
	var ticks uint64
	for i := len(b) - 1; i >= 0; i-- {
		ticks = ticks<<8 | uint64(b[i])
	}
	nsPerTick := int64(1)
	for i := uint8(0); i < 9-scale; i++ {
		nsPerTick *= 10
	}
	return time.Duration(ticks) * time.Duration(nsPerTick)
}

func decodeTime(b []byte, scale uint8) (Scalar, error) {
	want := timeByteLen(scale)
	if len(b) != want {
		return Scalar{}, &ProtocolError{Kind: KindCodec, Msg: "TIME value length does not match declared scale"}
	}
	d := decodeTimeTicks(b, scale)
	return Scalar{Kind: ScalarTime, Time: civilTimeFromDuration(d)}, nil
}

func decodeDateTime2(b []byte, scale uint8) (Scalar, error) {
	timeLen := timeByteLen(scale)
	if len(b) != timeLen+3 {
		return Scalar{}, &ProtocolError{Kind: KindCodec, Msg: "DATETIME2 value length does not match declared scale"}
	}
	d := decodeTimeTicks(b[:timeLen], scale)
	days := le24(b[timeLen:])
	date := addDays(civilEpoch, int(days))
	return Scalar{Kind: ScalarDateTime, DateTime: civil.DateTime{Date: date, Time: civilTimeFromDuration(d)}}, nil
}

func decodeDateTimeOffset(b []byte, scale uint8) (Scalar, error) {
	timeLen := timeByteLen(scale)
	if len(b) != timeLen+3+2 {
		return Scalar{}, &ProtocolError{Kind: KindCodec, Msg: "DATETIMEOFFSET value length does not match declared scale"}
	}
	d := decodeTimeTicks(b[:timeLen], scale)
	days := le24(b[timeLen : timeLen+3])
	offsetMinutes := int16(le16(b[timeLen+3 : timeLen+5]))
	date := addDays(civilEpoch, int(days))
	dt := civil.DateTime{Date: date, Time: civilTimeFromDuration(d)}
	return Scalar{Kind: ScalarDateTimeOffset, DateTimeOffset: dt, Offset: offsetMinutes}, nil
}

// Money (MONEY/SMALLMONEY) is a scaled integer with 4 implied decimal
// places, per spec.md §4.4; SMALLMONEY is a single 4-byte signed value,
// MONEY is two 4-byte halves (high then low) forming a 64-bit value.
func decodeMoney4(b []byte) decimal.Decimal {
	v := int32(le32(b))
	return decimal.New(int64(v), -4)
}

func decodeMoney8(b []byte) decimal.Decimal {
	high := int32(le32(b[0:4]))
	low := uint32(le32(b[4:8]))
	v := int64(high)<<32 | int64(low)
	return decimal.New(v, -4)
}

func decodeMoneyN(b []byte) (Scalar, error) {
	switch len(b) {
	case 4:
		return Scalar{Kind: ScalarDecimal, Decimal: decodeMoney4(b)}, nil
	case 8:
		return Scalar{Kind: ScalarDecimal, Decimal: decodeMoney8(b)}, nil
	default:
		return Scalar{}, &ProtocolError{Kind: KindCodec, Msg: "invalid MONEYN width"}
	}
}

// encodeDateTime serializes a civil.DateTime into the 8-byte DATETIME
// wire form (days since 1900-01-01 + 1/300th-second ticks since
// midnight), the inverse of decodeDateTime8.
func encodeDateTime(v Scalar) []byte {
	t := v.DateTime.In(time.UTC)
	days := int32(t.Sub(sqlEpoch).Hours() / 24)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	ticks := int32(t.Sub(midnight).Seconds() * 300)
	b := make([]byte, 8)
	putLE32(b[0:4], uint32(days))
	putLE32(b[4:8], uint32(ticks))
	return b
}

// encodeDate / encodeCivilDate serialize a civil.Date into the 3-byte
// day count since 0001-01-01 that DATE, DATETIME2 and DATETIMEOFFSET use.
func encodeDate(d civil.Date) []byte { return encodeCivilDate(d) }

func encodeCivilDate(d civil.Date) []byte {
	days := daysSinceCivilEpoch(d)
	b := make([]byte, 3)
	b[0] = byte(days)
	b[1] = byte(days >> 8)
	b[2] = byte(days >> 16)
	return b
}

func daysSinceCivilEpoch(d civil.Date) int32 {
	secs := d.In(time.UTC).Unix() - civilEpoch.In(time.UTC).Unix()
	return int32(secs / 86400)
}

// encodeTimeTicks serializes a civil.Time into the scale-width ticks
// field TIME/DATETIME2/DATETIMEOFFSET use, the inverse of
// decodeTimeTicks.
func encodeTimeTicks(t civil.Time, scale uint8) []byte {
	ns := int64(t.Hour)*int64(time.Hour) + int64(t.Minute)*int64(time.Minute) +
		int64(t.Second)*int64(time.Second) + int64(t.Nanosecond)
	nsPerTick := int64(1)
	for i := uint8(0); i < 9-scale; i++ {
		nsPerTick *= 10
	}
	ticks := uint64(ns / nsPerTick)
	n := timeByteLen(scale)
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = byte(ticks)
		ticks >>= 8
	}
	return b
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le24(b []byte) uint32 { return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func civilFromTime(t time.Time) civil.DateTime {
	return civil.DateTimeOf(t)
}

func civilTimeFromDuration(d time.Duration) civil.Time {
	ns := d.Nanoseconds()
	h := ns / int64(time.Hour)
	ns -= h * int64(time.Hour)
	m := ns / int64(time.Minute)
	ns -= m * int64(time.Minute)
	s := ns / int64(time.Second)
	ns -= s * int64(time.Second)
	return civil.Time{Hour: int(h), Minute: int(m), Second: int(s), Nanosecond: int(ns)}
}

func addDays(d civil.Date, days int) civil.Date {
	return d.AddDays(days)
}
