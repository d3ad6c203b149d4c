package rfc5444

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
)

var ErrTooLarge = errors.New("rfc5444 field too large")

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) put(b []byte) {
	w.buf = append(w.buf, b...)
}

// Encode serializes a packet.
func Encode(p *Packet) ([]byte, error) {
	w := &writer{}
	hdr := uint8(Version << 4)
	if p.HasSeqNum {
		hdr |= pHasSeqNum
	}
	if len(p.TLVs) > 0 {
		hdr |= pHasTLV
	}
	w.u8(hdr)
	if p.HasSeqNum {
		w.u16(p.SeqNum)
	}
	if len(p.TLVs) > 0 {
		if err := encodeTLVBlock(w, p.TLVs); err != nil {
			return nil, err
		}
	}
	for i := range p.Messages {
		if err := encodeMessage(w, &p.Messages[i]); err != nil {
			return nil, err
		}
	}
	return w.buf, nil
}

func encodeMessage(w *writer, m *Message) error {
	if m.AddrLen < 1 || m.AddrLen > 16 {
		return fmt.Errorf("%w: address length %d", ErrTooLarge, m.AddrLen)
	}
	start := len(w.buf)
	flags := uint8(m.AddrLen - 1)
	if m.Originator != nil {
		if len(m.Originator) != m.AddrLen {
			return fmt.Errorf("originator length %d does not match %d", len(m.Originator), m.AddrLen)
		}
		flags |= mHasOrig
	}
	if m.HasHopLimit {
		flags |= mHasHopLimit
	}
	if m.HasHopCount {
		flags |= mHasHopCount
	}
	if m.HasSeqNum {
		flags |= mHasSeqNum
	}
	w.u8(m.Type)
	w.u8(flags)
	w.u16(0) // size, patched below
	if m.Originator != nil {
		w.put(m.Originator)
	}
	if m.HasHopLimit {
		w.u8(m.HopLimit)
	}
	if m.HasHopCount {
		w.u8(m.HopCount)
	}
	if m.HasSeqNum {
		w.u16(m.SeqNum)
	}
	if err := encodeTLVBlock(w, m.TLVs); err != nil {
		return err
	}
	for i := range m.AddrBlocks {
		if err := encodeAddrBlock(w, &m.AddrBlocks[i], m.AddrLen); err != nil {
			return err
		}
	}
	size := len(w.buf) - start
	if size > 0xffff {
		return fmt.Errorf("%w: message of %d bytes", ErrTooLarge, size)
	}
	binary.BigEndian.PutUint16(w.buf[start+2:], uint16(size))
	return nil
}

func encodeTLVBlock(w *writer, tlvs []TLV) error {
	ats := make([]AddrTLV, len(tlvs))
	for i, t := range tlvs {
		ats[i] = AddrTLV{TLV: t, Start: 0, Stop: 0}
	}
	return encodeTLVs(w, ats, 0)
}

// encodeTLVs writes a TLV block. numAddr is zero for packet and message
// blocks, where no index fields are written.
func encodeTLVs(w *writer, tlvs []AddrTLV, numAddr int) error {
	lenAt := len(w.buf)
	w.u16(0)
	for _, t := range tlvs {
		var flags uint8
		if t.HasExt {
			flags |= tHasTypeExt
		}
		indexed := numAddr > 0 && !(t.Start == 0 && t.Stop == numAddr-1)
		if numAddr > 0 && (t.Start < 0 || t.Stop >= numAddr || t.Start > t.Stop) {
			return fmt.Errorf("tlv %d index range %d..%d outside %d addresses", t.Type, t.Start, t.Stop, numAddr)
		}
		multi := false
		if indexed {
			if t.Start == t.Stop && !t.MultiValue {
				flags |= tHasSingleIndex
			} else {
				flags |= tHasMultiIndex
				multi = true
			}
		}
		if t.MultiValue {
			if !indexed {
				// a full-range multivalue still needs explicit indexes
				flags |= tHasMultiIndex
				multi = true
			}
			flags |= tIsMultiValue
		}
		if len(t.Value) > 0 {
			flags |= tHasValue
			if len(t.Value) > 0xff {
				flags |= tHasExtLen
			}
		}
		if len(t.Value) > 0xffff {
			return fmt.Errorf("%w: tlv %d value of %d bytes", ErrTooLarge, t.Type, len(t.Value))
		}
		w.u8(t.Type)
		w.u8(flags)
		if t.HasExt {
			w.u8(t.TypeExt)
		}
		switch {
		case multi:
			w.u8(uint8(t.Start))
			w.u8(uint8(t.Stop))
		case flags&tHasSingleIndex != 0:
			w.u8(uint8(t.Start))
		}
		if flags&tHasValue != 0 {
			if flags&tHasExtLen != 0 {
				w.u16(uint16(len(t.Value)))
			} else {
				w.u8(uint8(len(t.Value)))
			}
			w.put(t.Value)
		}
	}
	n := len(w.buf) - lenAt - 2
	if n > 0xffff {
		return fmt.Errorf("%w: tlv block of %d bytes", ErrTooLarge, n)
	}
	binary.BigEndian.PutUint16(w.buf[lenAt:], uint16(n))
	return nil
}

func commonHead(addrs [][]byte) int {
	n := len(addrs[0])
	for _, a := range addrs[1:] {
		i := 0
		for i < n && a[i] == addrs[0][i] {
			i++
		}
		n = i
	}
	return n
}

func commonTail(addrs [][]byte, limit int) int {
	l := len(addrs[0])
	n := 0
	for n < limit {
		c := addrs[0][l-1-n]
		same := true
		for _, a := range addrs[1:] {
			if a[l-1-n] != c {
				same = false
				break
			}
		}
		if !same {
			break
		}
		n++
	}
	return n
}

func encodeAddrBlock(w *writer, b *AddrBlock, addrLen int) error {
	n := len(b.Addrs)
	if n == 0 || n > 255 {
		return fmt.Errorf("%w: address block with %d addresses", ErrTooLarge, n)
	}
	for _, a := range b.Addrs {
		if len(a) != addrLen {
			return fmt.Errorf("address length %d does not match %d", len(a), addrLen)
		}
	}
	head, tail := 0, 0
	if n > 1 {
		head = commonHead(b.Addrs)
		if head == addrLen {
			head = addrLen - 1
		}
		tail = commonTail(b.Addrs, addrLen-head-1)
	}
	zeroTail := tail > 0 && bytes.Count(b.Addrs[0][addrLen-tail:], []byte{0}) == tail

	var flags uint8
	if head > 0 {
		flags |= aHasHead
	}
	if tail > 0 {
		if zeroTail {
			flags |= aHasZeroTail
		} else {
			flags |= aHasFullTail
		}
	}
	switch len(b.PrefixLens) {
	case 0:
	case 1:
		flags |= aHasSinglePrefLen
	default:
		if len(b.PrefixLens) != n {
			return fmt.Errorf("%d prefix lengths for %d addresses", len(b.PrefixLens), n)
		}
		flags |= aHasMultiPrefLen
	}
	w.u8(uint8(n))
	w.u8(flags)
	if head > 0 {
		w.u8(uint8(head))
		w.put(b.Addrs[0][:head])
	}
	if tail > 0 {
		w.u8(uint8(tail))
		if !zeroTail {
			w.put(b.Addrs[0][addrLen-tail:])
		}
	}
	for _, a := range b.Addrs {
		w.put(a[head : addrLen-tail])
	}
	w.put(b.PrefixLens)

	tlvs := slices.Clone(b.TLVs)
	slices.SortStableFunc(tlvs, func(x, y AddrTLV) int {
		if x.Type != y.Type {
			return int(x.Type) - int(y.Type)
		}
		if x.TypeExt != y.TypeExt {
			return int(x.TypeExt) - int(y.TypeExt)
		}
		return x.Start - y.Start
	})
	return encodeTLVs(w, tlvs, n)
}
