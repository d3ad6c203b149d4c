// Package rfc5444 implements the generalized MANET packet/message format
// (RFC 5444) together with the time (RFC 5497) and link metric (RFC 7181)
// value encodings used by neighbourhood discovery.
package rfc5444

import (
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every decoding error.
var ErrMalformed = errors.New("malformed rfc5444 data")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

const Version = 0

// packet header flags
const (
	pHasSeqNum = 0x08
	pHasTLV    = 0x04
)

// message header flags
const (
	mHasOrig     = 0x80
	mHasHopLimit = 0x40
	mHasHopCount = 0x20
	mHasSeqNum   = 0x10
)

// tlv flags
const (
	tHasTypeExt     = 0x80
	tHasSingleIndex = 0x40
	tHasMultiIndex  = 0x20
	tHasValue       = 0x10
	tHasExtLen      = 0x08
	tIsMultiValue   = 0x04
)

// address block flags
const (
	aHasHead          = 0x80
	aHasFullTail      = 0x40
	aHasZeroTail      = 0x20
	aHasSinglePrefLen = 0x10
	aHasMultiPrefLen  = 0x08
)

// NHDP message and TLV types (RFC 6130, RFC 5497, RFC 7181).
const (
	MsgTypeHello uint8 = 0

	MsgTLVIntervalTime uint8 = 0
	MsgTLVValidityTime uint8 = 1

	AddrTLVLocalIf     uint8 = 2
	AddrTLVLinkStatus  uint8 = 3
	AddrTLVOtherNeighb uint8 = 4
	AddrTLVLinkMetric  uint8 = 7
)

// LOCAL_IF values
const (
	LocalIfThisIf  uint8 = 0
	LocalIfOtherIf uint8 = 1
)

// LINK_STATUS values
const (
	LinkStatusLost      uint8 = 0
	LinkStatusSymmetric uint8 = 1
	LinkStatusHeard     uint8 = 2
)

// OTHER_NEIGHB values
const (
	OtherNeighbLost      uint8 = 0
	OtherNeighbSymmetric uint8 = 1
)

// Packet is a decoded RFC 5444 packet.
type Packet struct {
	HasSeqNum bool
	SeqNum    uint16
	TLVs      []TLV
	Messages  []Message
}

// Message is a decoded RFC 5444 message.
type Message struct {
	Type        uint8
	AddrLen     int
	Originator  []byte
	HasHopLimit bool
	HopLimit    uint8
	HasHopCount bool
	HopCount    uint8
	HasSeqNum   bool
	SeqNum      uint16
	TLVs        []TLV
	AddrBlocks  []AddrBlock
}

// TLV is a packet or message TLV.
type TLV struct {
	Type    uint8
	HasExt  bool
	TypeExt uint8
	Value   []byte
}

// AddrBlock is an address block with its TLV block.
type AddrBlock struct {
	Addrs [][]byte
	// PrefixLens is either empty (full length), a single shared length or one per address.
	PrefixLens []uint8
	TLVs       []AddrTLV
}

// AddrTLV is a TLV attached to the addresses Start..Stop (inclusive) of its block.
type AddrTLV struct {
	TLV
	Start, Stop int
	// MultiValue splits Value evenly between the covered addresses.
	MultiValue bool
}

// ValueFor returns the value that applies to address index i of the block.
func (t *AddrTLV) ValueFor(i int) []byte {
	if !t.MultiValue {
		return t.Value
	}
	n := t.Stop - t.Start + 1
	sz := len(t.Value) / n
	off := (i - t.Start) * sz
	return t.Value[off : off+sz]
}

// Covers reports whether the TLV applies to address index i.
func (t *AddrTLV) Covers(i int) bool {
	return i >= t.Start && i <= t.Stop
}

// FindTLVs returns all TLVs of the given type.
func FindTLVs(tlvs []TLV, typ uint8) []TLV {
	var out []TLV
	for _, t := range tlvs {
		if t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

// AddrEntry is one address together with the TLVs that apply to it, the
// flattened view used by readers and writers of HELLO messages.
type AddrEntry struct {
	Addr      []byte
	PrefixLen uint8
	TLVs      []TLV
}

// Entries flattens the address blocks of a message, one entry per address
// occurrence in wire order.
func (m *Message) Entries() []AddrEntry {
	var out []AddrEntry
	for bi := range m.AddrBlocks {
		blk := &m.AddrBlocks[bi]
		for i, a := range blk.Addrs {
			e := AddrEntry{Addr: a, PrefixLen: uint8(8 * len(a))}
			switch len(blk.PrefixLens) {
			case 0:
			case 1:
				e.PrefixLen = blk.PrefixLens[0]
			default:
				e.PrefixLen = blk.PrefixLens[i]
			}
			for ti := range blk.TLVs {
				t := &blk.TLVs[ti]
				if !t.Covers(i) {
					continue
				}
				e.TLVs = append(e.TLVs, TLV{Type: t.Type, HasExt: t.HasExt, TypeExt: t.TypeExt, Value: t.ValueFor(i)})
			}
			out = append(out, e)
		}
	}
	return out
}
