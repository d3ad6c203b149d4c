package rfc5444

import (
	"math"
	"time"
)

// TimeConstant is the C of RFC 5497, 1/1024 s.
const TimeConstant = time.Second / 1024

func decodeTimeSeconds(code uint8) float64 {
	b := int(code >> 3)
	a := float64(code & 0x07)
	return (1 + a/8) * math.Ldexp(1, b) / 1024
}

// DecodeTime converts an RFC 5497 time code to a duration.
func DecodeTime(code uint8) time.Duration {
	return time.Duration(decodeTimeSeconds(code) * float64(time.Second))
}

// EncodeTime returns the smallest time code whose value is not less than d.
// Durations beyond the largest representable value saturate.
func EncodeTime(d time.Duration) uint8 {
	want := d.Seconds()
	for c := 0; c < 256; c++ {
		if decodeTimeSeconds(uint8(c)) >= want {
			return uint8(c)
		}
	}
	return 255
}

// TimeTLV builds a single-valued INTERVAL_TIME or VALIDITY_TIME message TLV.
func TimeTLV(typ uint8, d time.Duration) TLV {
	return TLV{Type: typ, Value: []byte{EncodeTime(d)}}
}

// TimeValue reads the duration of a time TLV. A multi-byte value (a time TLV
// with hop-count thresholds) is read by its first code.
func TimeValue(t TLV) (time.Duration, bool) {
	if len(t.Value) == 0 {
		return 0, false
	}
	return DecodeTime(t.Value[0]), true
}
