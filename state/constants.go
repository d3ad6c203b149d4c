package state

import (
	"net/netip"
	"time"
)

// RFC 6130 §5 parameters and daemon tunables. They are variables so tests can shrink them.
var (
	HelloInterval    = time.Second * 2
	HelloHoldTime    = 3 * HelloInterval // H_HOLD_TIME
	LinkHoldTime     = 3 * HelloInterval // L_HOLD_TIME
	NeighborHoldTime = 3 * HelloInterval // N_HOLD_TIME
	MetricInterval   = time.Second * 1
	// HousekeepingInterval bounds how late an expired tuple is noticed when nothing else wakes the core.
	HousekeepingInterval = time.Second * 1

	// DAT
	DATMemory             = 64
	DATHelloTimeoutFactor = 1.2
	DATSeqnoRestartDetect = uint16(256)
	DATMinBitrate         = uint64(1000)
	DATMaximumLoss        = uint64(8) // cap on transmissions per received packet

	DefaultMaxPayload = 1280 - 40 - 8 // IPv6 minimum MTU minus IPv6 and UDP headers
	MinMaxPayload     = 64

	// transport
	ManetPort         = 269
	ManetGroupV4      = netip.MustParseAddr("224.0.0.109")
	ManetGroupV6      = netip.MustParseAddr("ff02::6d")
	PacketDedupWindow = time.Second * 3
	MaxDatagramSize   = 65535

	InspectFlushDelay = time.Second * 10
)
