package rfc5444

import (
	"encoding/binary"
)

const (
	MinMetric uint32 = 1
	MaxMetric uint32 = 16776960
)

// LINK_METRIC type extensions
const (
	LinkMetricTypeDAT uint8 = 1
)

// LINK_METRIC kind flags, stored in the top nibble of the value.
const (
	MetricLinkIn  uint8 = 0x8
	MetricLinkOut uint8 = 0x4
	MetricNbrIn   uint8 = 0x2
	MetricNbrOut  uint8 = 0x1
)

// DecodeMetric expands a 12-bit compressed metric.
func DecodeMetric(c uint16) uint32 {
	a := uint32(c>>8) & 0x0f
	b := uint32(c & 0xff)
	return ((257 + b) << a) - 256
}

// EncodeMetric compresses m, rounding up to the next representable value.
func EncodeMetric(m uint32) uint16 {
	if m <= MinMetric {
		return 0
	}
	if m >= MaxMetric {
		return 0x0fff
	}
	for a := uint32(0); a < 16; a++ {
		// smallest b with (257+b)<<a - 256 >= m
		need := m + 256
		q := (need + (1 << a) - 1) >> a
		if q < 257 {
			q = 257
		}
		if q-257 <= 255 {
			return uint16(a<<8 | (q - 257))
		}
	}
	return 0x0fff
}

// MetricTLV builds the value of a LINK_METRIC address TLV.
func MetricTLV(kind uint8, m uint32) TLV {
	v := uint16(kind&0x0f)<<12 | EncodeMetric(m)
	return TLV{Type: AddrTLVLinkMetric, HasExt: true, TypeExt: LinkMetricTypeDAT, Value: binary.BigEndian.AppendUint16(nil, v)}
}

// MetricValue decodes a LINK_METRIC TLV value into its kind flags and metric.
func MetricValue(t TLV) (kind uint8, m uint32, ok bool) {
	if len(t.Value) != 2 {
		return 0, 0, false
	}
	v := binary.BigEndian.Uint16(t.Value)
	return uint8(v >> 12), DecodeMetric(v & 0x0fff), true
}
