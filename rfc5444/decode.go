package rfc5444

import (
	"encoding/binary"
)

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) u8(what string) (uint8, error) {
	if r.remaining() < 1 {
		return 0, malformed("truncated %s", what)
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) u16(what string) (uint16, error) {
	if r.remaining() < 2 {
		return 0, malformed("truncated %s", what)
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) bytes(n int, what string) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, malformed("truncated %s", what)
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v, nil
}

// Decode parses a packet. Returned slices alias buf.
func Decode(buf []byte) (*Packet, error) {
	r := &reader{buf: buf}
	hdr, err := r.u8("packet header")
	if err != nil {
		return nil, err
	}
	if hdr>>4 != Version {
		return nil, malformed("unsupported version %d", hdr>>4)
	}
	p := &Packet{}
	if hdr&pHasSeqNum != 0 {
		p.HasSeqNum = true
		if p.SeqNum, err = r.u16("packet seqnum"); err != nil {
			return nil, err
		}
	}
	if hdr&pHasTLV != 0 {
		if p.TLVs, err = decodeTLVBlock(r, "packet"); err != nil {
			return nil, err
		}
	}
	for r.remaining() > 0 {
		m, err := decodeMessage(r)
		if err != nil {
			return nil, err
		}
		p.Messages = append(p.Messages, *m)
	}
	return p, nil
}

// PeekSeqNum reads the packet sequence number without decoding the packet.
func PeekSeqNum(buf []byte) (uint16, bool) {
	if len(buf) < 3 || buf[0]>>4 != Version || buf[0]&pHasSeqNum == 0 {
		return 0, false
	}
	return uint16(buf[1])<<8 | uint16(buf[2]), true
}

func decodeMessage(outer *reader) (*Message, error) {
	start := outer.off
	typ, err := outer.u8("message type")
	if err != nil {
		return nil, err
	}
	flags, err := outer.u8("message flags")
	if err != nil {
		return nil, err
	}
	size, err := outer.u16("message size")
	if err != nil {
		return nil, err
	}
	if int(size) < 4 || start+int(size) > len(outer.buf) {
		return nil, malformed("bad message size %d", size)
	}
	r := &reader{buf: outer.buf[:start+int(size)], off: outer.off}
	outer.off = start + int(size)

	m := &Message{Type: typ, AddrLen: int(flags&0x0f) + 1}
	if flags&mHasOrig != 0 {
		if m.Originator, err = r.bytes(m.AddrLen, "originator"); err != nil {
			return nil, err
		}
	}
	if flags&mHasHopLimit != 0 {
		m.HasHopLimit = true
		if m.HopLimit, err = r.u8("hop limit"); err != nil {
			return nil, err
		}
	}
	if flags&mHasHopCount != 0 {
		m.HasHopCount = true
		if m.HopCount, err = r.u8("hop count"); err != nil {
			return nil, err
		}
	}
	if flags&mHasSeqNum != 0 {
		m.HasSeqNum = true
		if m.SeqNum, err = r.u16("message seqnum"); err != nil {
			return nil, err
		}
	}
	if m.TLVs, err = decodeTLVBlock(r, "message"); err != nil {
		return nil, err
	}
	for r.remaining() > 0 {
		blk, err := decodeAddrBlock(r, m.AddrLen)
		if err != nil {
			return nil, err
		}
		m.AddrBlocks = append(m.AddrBlocks, *blk)
	}
	return m, nil
}

// rawTLV is a TLV before its index fields are checked against a block.
type rawTLV struct {
	AddrTLV
	indexed bool
}

func decodeTLVs(r *reader, what string) ([]rawTLV, error) {
	n, err := r.u16(what + " tlv block length")
	if err != nil {
		return nil, err
	}
	body, err := r.bytes(int(n), what+" tlv block")
	if err != nil {
		return nil, err
	}
	br := &reader{buf: body}
	var out []rawTLV
	for br.remaining() > 0 {
		var t rawTLV
		if t.Type, err = br.u8("tlv type"); err != nil {
			return nil, err
		}
		flags, err := br.u8("tlv flags")
		if err != nil {
			return nil, err
		}
		if flags&tHasTypeExt != 0 {
			t.HasExt = true
			if t.TypeExt, err = br.u8("tlv type ext"); err != nil {
				return nil, err
			}
		}
		switch {
		case flags&tHasSingleIndex != 0 && flags&tHasMultiIndex != 0:
			return nil, malformed("tlv %d has both index flags", t.Type)
		case flags&tHasSingleIndex != 0:
			idx, err := br.u8("tlv index")
			if err != nil {
				return nil, err
			}
			t.indexed = true
			t.Start, t.Stop = int(idx), int(idx)
		case flags&tHasMultiIndex != 0:
			a, err := br.u8("tlv index start")
			if err != nil {
				return nil, err
			}
			b, err := br.u8("tlv index stop")
			if err != nil {
				return nil, err
			}
			if b < a {
				return nil, malformed("tlv %d index range %d..%d", t.Type, a, b)
			}
			t.indexed = true
			t.Start, t.Stop = int(a), int(b)
		}
		if flags&tHasValue != 0 {
			var l int
			if flags&tHasExtLen != 0 {
				v, err := br.u16("tlv length")
				if err != nil {
					return nil, err
				}
				l = int(v)
			} else {
				v, err := br.u8("tlv length")
				if err != nil {
					return nil, err
				}
				l = int(v)
			}
			if t.Value, err = br.bytes(l, "tlv value"); err != nil {
				return nil, err
			}
		} else if flags&tHasExtLen != 0 {
			return nil, malformed("tlv %d has length flag without value", t.Type)
		}
		if flags&tIsMultiValue != 0 {
			if flags&tHasMultiIndex == 0 || flags&tHasValue == 0 {
				return nil, malformed("tlv %d multivalue without index range", t.Type)
			}
			n := t.Stop - t.Start + 1
			if len(t.Value)%n != 0 {
				return nil, malformed("tlv %d multivalue length %d not divisible by %d", t.Type, len(t.Value), n)
			}
			t.MultiValue = true
		}
		out = append(out, t)
	}
	return out, nil
}

func decodeTLVBlock(r *reader, what string) ([]TLV, error) {
	raw, err := decodeTLVs(r, what)
	if err != nil {
		return nil, err
	}
	out := make([]TLV, 0, len(raw))
	for _, t := range raw {
		if t.indexed || t.MultiValue {
			return nil, malformed("%s tlv %d carries an index", what, t.Type)
		}
		out = append(out, t.TLV)
	}
	return out, nil
}

func decodeAddrBlock(r *reader, addrLen int) (*AddrBlock, error) {
	num, err := r.u8("address count")
	if err != nil {
		return nil, err
	}
	if num == 0 {
		return nil, malformed("empty address block")
	}
	flags, err := r.u8("address block flags")
	if err != nil {
		return nil, err
	}
	var head, tail []byte
	if flags&aHasHead != 0 {
		hl, err := r.u8("head length")
		if err != nil {
			return nil, err
		}
		if head, err = r.bytes(int(hl), "head"); err != nil {
			return nil, err
		}
	}
	switch {
	case flags&aHasFullTail != 0 && flags&aHasZeroTail != 0:
		return nil, malformed("address block has both tail flags")
	case flags&aHasFullTail != 0:
		tl, err := r.u8("tail length")
		if err != nil {
			return nil, err
		}
		if tail, err = r.bytes(int(tl), "tail"); err != nil {
			return nil, err
		}
	case flags&aHasZeroTail != 0:
		tl, err := r.u8("tail length")
		if err != nil {
			return nil, err
		}
		tail = make([]byte, tl)
	}
	mid := addrLen - len(head) - len(tail)
	if mid < 0 {
		return nil, malformed("head %d + tail %d exceed address length %d", len(head), len(tail), addrLen)
	}
	blk := &AddrBlock{Addrs: make([][]byte, num)}
	for i := range blk.Addrs {
		m, err := r.bytes(mid, "address mid")
		if err != nil {
			return nil, err
		}
		a := make([]byte, 0, addrLen)
		a = append(a, head...)
		a = append(a, m...)
		a = append(a, tail...)
		blk.Addrs[i] = a
	}
	switch {
	case flags&aHasSinglePrefLen != 0 && flags&aHasMultiPrefLen != 0:
		return nil, malformed("address block has both prefix length flags")
	case flags&aHasSinglePrefLen != 0:
		pl, err := r.u8("prefix length")
		if err != nil {
			return nil, err
		}
		blk.PrefixLens = []uint8{pl}
	case flags&aHasMultiPrefLen != 0:
		pls, err := r.bytes(int(num), "prefix lengths")
		if err != nil {
			return nil, err
		}
		blk.PrefixLens = append([]uint8(nil), pls...)
	}
	for _, pl := range blk.PrefixLens {
		if int(pl) > 8*addrLen {
			return nil, malformed("prefix length %d exceeds %d bits", pl, 8*addrLen)
		}
	}
	raw, err := decodeTLVs(r, "address")
	if err != nil {
		return nil, err
	}
	for _, t := range raw {
		if !t.indexed {
			t.Start, t.Stop = 0, int(num)-1
		}
		if t.Stop >= int(num) {
			return nil, malformed("address tlv %d index %d out of %d", t.Type, t.Stop, num)
		}
		blk.TLVs = append(blk.TLVs, t.AddrTLV)
	}
	return blk, nil
}
