package core

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/nhdp/rfc5444"
	"github.com/encodeous/nhdp/state"
	"github.com/encodeous/nhdp/store"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// validity is exactly representable as an RFC 5497 time code.
const validity = 6 * time.Second

var cmpAddr = cmp.Comparer(func(a, b store.Addr) bool { return a == b })

func newTestCore(t *testing.T, mut func(cfg *state.Config)) (*Core, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(epoch)
	return newTestCoreWithClock(t, clk, nil, mut), clk
}

func newTestCoreWithClock(t *testing.T, clk clock.Clock, tr Transport, mut func(cfg *state.Config)) *Core {
	t.Helper()
	cfg := state.Config{Name: "test"}
	if mut != nil {
		mut(&cfg)
	}
	c, err := New(cfg, Options{Clock: clk, Transport: tr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func addr(s string) store.Addr {
	return store.MustParseAddr(s)
}

func entry(a string, tlvs ...rfc5444.TLV) rfc5444.AddrEntry {
	return rfc5444.AddrEntry{Addr: addr(a).Bytes(), TLVs: tlvs}
}

func tlv(typ, v uint8) rfc5444.TLV {
	return rfc5444.TLV{Type: typ, Value: []byte{v}}
}

func thisIf(a string) rfc5444.AddrEntry {
	return entry(a, tlv(rfc5444.AddrTLVLocalIf, rfc5444.LocalIfThisIf))
}

func otherIf(a string) rfc5444.AddrEntry {
	return entry(a, tlv(rfc5444.AddrTLVLocalIf, rfc5444.LocalIfOtherIf))
}

func linkStatus(a string, v uint8, extra ...rfc5444.TLV) rfc5444.AddrEntry {
	return entry(a, append([]rfc5444.TLV{tlv(rfc5444.AddrTLVLinkStatus, v)}, extra...)...)
}

func otherNeighb(a string, v uint8, extra ...rfc5444.TLV) rfc5444.AddrEntry {
	return entry(a, append([]rfc5444.TLV{tlv(rfc5444.AddrTLVOtherNeighb, v)}, extra...)...)
}

// helloMsg is an IPv4 HELLO with the usual message TLVs.
func helloMsg(validity, interval time.Duration, entries ...rfc5444.AddrEntry) rfc5444.Message {
	m := rfc5444.Message{
		Type:        rfc5444.MsgTypeHello,
		AddrLen:     4,
		HasHopLimit: true,
		HopLimit:    1,
		TLVs:        []rfc5444.TLV{rfc5444.TimeTLV(rfc5444.MsgTLVValidityTime, validity)},
		AddrBlocks:  rfc5444.BuildAddrBlocks(entries),
	}
	if interval > 0 {
		m.TLVs = append(m.TLVs, rfc5444.TimeTLV(rfc5444.MsgTLVIntervalTime, interval))
	}
	return m
}

func encodePkt(t *testing.T, seq uint16, msgs ...rfc5444.Message) []byte {
	t.Helper()
	buf, err := rfc5444.Encode(&rfc5444.Packet{HasSeqNum: true, SeqNum: seq, Messages: msgs})
	require.NoError(t, err)
	return buf
}

func helloPkt(t *testing.T, seq uint16, validity time.Duration, entries ...rfc5444.AddrEntry) []byte {
	t.Helper()
	return encodePkt(t, seq, helloMsg(validity, 2*time.Second, entries...))
}

// deliver hands pkt to the core and fails the test on a drop.
func deliver(t *testing.T, c *Core, iface, src string, pkt []byte) {
	t.Helper()
	var s store.Addr
	if src != "" {
		s = addr(src)
	}
	_, err := c.HandlePacket(iface, s, pkt)
	require.NoError(t, err)
	audit(t, c)
}

func register(t *testing.T, c *Core, iface, a string) {
	t.Helper()
	require.NoError(t, c.RegisterInterface(iface, addr(a), InterfaceOpts{}))
}

func findLink(c *Core, iface, a string) *LinkInfo {
	for _, l := range c.Links(iface) {
		for _, x := range l.Addrs {
			if x == addr(a) {
				return &l
			}
		}
	}
	return nil
}

func findNeighbor(c *Core, a string) *NeighborInfo {
	for _, nb := range c.Neighbors() {
		for _, x := range nb.Addrs {
			if x == addr(a) {
				return &nb
			}
		}
	}
	return nil
}

// audit checks the structural invariants of every information base: usage
// counts match the table references, no transient state survives an entry
// point, cached link status matches the derived one and the neighbour set is
// consistent with the links.
func audit(t *testing.T, c *Core) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()

	want := make(map[store.Handle]int)
	count := func(hs ...store.Handle) {
		for _, h := range hs {
			want[h]++
		}
	}
	for _, i := range c.ifaces {
		count(i.addrs...)
		for _, l := range i.links {
			count(l.addrs...)
			assert.NotEmpty(t, l.addrs, "link tuple without addresses")
			assert.Equal(t, l.derive(now), l.status, "cached status of %v", c.addrs(l.addrs))
			assert.NotEqual(t, StatusUnknown, l.status)
			assert.True(t, l.exp.After(now), "expired link tuple %v", c.addrs(l.addrs))
			if assert.NotNil(t, l.nb, "link %v has no neighbour", c.addrs(l.addrs)) {
				assert.Contains(t, c.neighbors, l.nb)
			}
			if len(l.twoHop) > 0 {
				assert.Equal(t, StatusSymmetric, l.status, "2-hop tuples on a non-symmetric link")
			}
			for _, th := range l.twoHop {
				count(th.addr)
				assert.Same(t, l, th.link)
			}
		}
	}
	seen := make(map[store.Handle]bool)
	for _, nb := range c.neighbors {
		count(nb.addrs...)
		assert.Equal(t, c.hasSymmetricLink(nb), nb.symmetric, "symmetric flag of %v", c.addrs(nb.addrs))
		assert.True(t, c.hasLink(nb), "neighbour %v without link", c.addrs(nb.addrs))
		for _, h := range nb.addrs {
			assert.False(t, seen[h], "address %s in two neighbour tuples", c.addr(h))
			seen[h] = true
		}
	}
	for _, lt := range c.lost {
		count(lt.addr)
		for _, nb := range c.neighbors {
			if nb.symmetric {
				assert.NotContains(t, nb.addrs, lt.addr, "lost address %s of a symmetric neighbour", c.addr(lt.addr))
			}
		}
	}

	got := make(map[store.Handle]int)
	c.store.Each(func(h store.Handle, a store.Addr, refs int) {
		got[h] = refs
		assert.False(t, c.store.Transient(h), "transient reference left on %s", a)
		assert.Zero(t, c.store.Flags(h), "flags left on %s", a)
	})
	assert.Equal(t, want, got, "usage counts")
}

// decoded maps every address of a HELLO to the TLVs attached to it.
func decoded(t *testing.T, pkt []byte) (*rfc5444.Packet, map[store.Addr][]rfc5444.TLV) {
	t.Helper()
	p, err := rfc5444.Decode(pkt)
	require.NoError(t, err)
	require.Len(t, p.Messages, 1)
	out := make(map[store.Addr][]rfc5444.TLV)
	for _, e := range p.Messages[0].Entries() {
		a := store.AddrFrom(e.Addr)
		out[a] = append(out[a], e.TLVs...)
	}
	return p, out
}

// captureTransport records sent packets.
type captureTransport struct {
	pkts [][]byte
	err  error
}

func (c *captureTransport) Send(_ context.Context, _ string, pkt []byte) error {
	if c.err != nil {
		return c.err
	}
	c.pkts = append(c.pkts, append([]byte(nil), pkt...))
	return nil
}

func diffInfo(a, b any) string {
	return cmp.Diff(a, b, cmpAddr)
}
