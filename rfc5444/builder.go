package rfc5444

import (
	"bytes"
	"slices"
)

const maxBlockAddrs = 255

type tlvKey struct {
	typ    uint8
	hasExt bool
	ext    uint8
	// nth tells apart repeated TLVs of one type on the same address
	nth int
}

func keyOf(t TLV) tlvKey {
	return tlvKey{typ: t.Type, hasExt: t.HasExt, ext: t.TypeExt}
}

// keysOf returns the keys of the TLVs of e, in order.
func keysOf(e AddrEntry) []tlvKey {
	keys := make([]tlvKey, len(e.TLVs))
	for i, t := range e.TLVs {
		k := keyOf(t)
		for _, prev := range keys[:i] {
			if prev.typ == k.typ && prev.hasExt == k.hasExt && prev.ext == k.ext {
				k.nth++
			}
		}
		keys[i] = k
	}
	return keys
}

// signature orders entries so that addresses sharing TLVs end up adjacent.
func signature(e AddrEntry) []byte {
	tlvs := slices.Clone(e.TLVs)
	slices.SortFunc(tlvs, func(x, y TLV) int {
		if x.Type != y.Type {
			return int(x.Type) - int(y.Type)
		}
		return int(x.TypeExt) - int(y.TypeExt)
	})
	var b []byte
	for _, t := range tlvs {
		b = append(b, t.Type, t.TypeExt, uint8(len(t.Value)))
		b = append(b, t.Value...)
	}
	return b
}

// BuildAddrBlocks packs address entries into address blocks. Entries with
// identical TLVs are grouped so each TLV covers a contiguous index range.
// Entries are expected to carry addresses of one length.
func BuildAddrBlocks(entries []AddrEntry) []AddrBlock {
	if len(entries) == 0 {
		return nil
	}
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(x, y AddrEntry) int {
		if c := bytes.Compare(signature(x), signature(y)); c != 0 {
			return c
		}
		return bytes.Compare(x.Addr, y.Addr)
	})
	var out []AddrBlock
	for len(sorted) > 0 {
		n := min(len(sorted), maxBlockAddrs)
		out = append(out, buildBlock(sorted[:n]))
		sorted = sorted[n:]
	}
	return out
}

func buildBlock(entries []AddrEntry) AddrBlock {
	blk := AddrBlock{Addrs: make([][]byte, len(entries))}
	full := true
	same := true
	for i, e := range entries {
		blk.Addrs[i] = e.Addr
		if e.PrefixLen != 0 && int(e.PrefixLen) != 8*len(e.Addr) {
			full = false
		}
		if e.PrefixLen != entries[0].PrefixLen {
			same = false
		}
	}
	if !full {
		if same {
			blk.PrefixLens = []uint8{entries[0].PrefixLen}
		} else {
			blk.PrefixLens = make([]uint8, len(entries))
			for i, e := range entries {
				blk.PrefixLens[i] = e.PrefixLen
				if e.PrefixLen == 0 {
					blk.PrefixLens[i] = uint8(8 * len(e.Addr))
				}
			}
		}
	}

	var keys []tlvKey
	entryKeys := make([][]tlvKey, len(entries))
	for i, e := range entries {
		entryKeys[i] = keysOf(e)
		for _, k := range entryKeys[i] {
			if !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	for _, k := range keys {
		var cur *AddrTLV
		for i, e := range entries {
			var val []byte
			found := false
			for j, ek := range entryKeys[i] {
				if ek == k {
					val, found = e.TLVs[j].Value, true
					break
				}
			}
			if !found {
				cur = nil
				continue
			}
			if cur != nil && cur.Stop == i-1 && bytes.Equal(cur.Value, val) {
				cur.Stop = i
				continue
			}
			blk.TLVs = append(blk.TLVs, AddrTLV{
				TLV:   TLV{Type: k.typ, HasExt: k.hasExt, TypeExt: k.ext, Value: val},
				Start: i,
				Stop:  i,
			})
			cur = &blk.TLVs[len(blk.TLVs)-1]
		}
	}
	return blk
}
