package core

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/encodeous/nhdp/perf"
	"github.com/encodeous/nhdp/rfc5444"
	"github.com/encodeous/nhdp/store"
)

// SendHello generates the HELLOs of iface and hands them to the transport.
// Transport failures are logged and counted; the next periodic HELLO recovers
// from them. It returns when the next HELLO is due.
func (c *Core) SendHello(ctx context.Context, iface string) (time.Time, error) {
	pkts, next, err := c.buildHellos(iface)
	if err != nil {
		return next, err
	}
	if c.transport == nil {
		return next, nil
	}
	for _, pkt := range pkts {
		if err := c.transport.Send(ctx, iface, pkt); err != nil {
			perf.SendFailures.Add(1)
			c.log.Warn("failed to send hello", "iface", iface, "err", err)
			continue
		}
		perf.HellosSent.Add(1)
		perf.SentBytes.Add(float64(len(pkt)))
		perf.HelloSize.Add(float64(len(pkt)))
	}
	return next, nil
}

// helloContent is the address entries of one HELLO message. Every address
// family of an interface gets its own message.
type helloContent struct {
	addrLen   int
	mandatory []rfc5444.AddrEntry
	optional  []rfc5444.AddrEntry
}

// buildHellos fills and encodes the HELLOs of one interface under the lock.
// The messages of all address families share one packet when it fits the
// interface's max payload. Otherwise each family is split on its own.
func (c *Core) buildHellos(id string) ([][]byte, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, time.Time{}, ErrClosed
	}
	i := c.iface(id)
	if i == nil {
		return nil, time.Time{}, fmt.Errorf("%w: %s", ErrUnknownInterface, id)
	}
	if i.passive {
		return nil, time.Time{}, fmt.Errorf("%w: %s", ErrPassiveInterface, id)
	}
	now := c.clk.Now()
	next := now.Add(i.opts.HelloInterval)
	if len(i.addrs) == 0 {
		return nil, next, nil
	}

	c.updateStatus(now)
	defer c.store.ResetTransient(true)

	var msgs []helloContent
	for _, h := range i.addrs {
		n := c.addr(h).Len()
		if slices.ContainsFunc(msgs, func(m helloContent) bool { return m.addrLen == n }) {
			continue
		}
		msgs = append(msgs, helloContent{
			addrLen:   n,
			mandatory: c.fillLocal(i, n),
			optional:  append(c.fillLinks(i, n), c.fillNeighbors(n, now)...),
		})
	}

	if len(msgs) > 1 {
		full := make([]rfc5444.Message, len(msgs))
		for k, m := range msgs {
			full[k] = c.helloMessage(i, m.addrLen, slices.Concat(m.mandatory, m.optional))
		}
		buf, err := rfc5444.Encode(c.helloPacket(i, full...))
		if err == nil && len(buf) <= i.opts.MaxPayload {
			i.seqno++
			return [][]byte{buf}, next, nil
		}
	}

	var pkts [][]byte
	for _, m := range msgs {
		optional := m.optional
		for {
			n, pkt, err := c.packHello(i, m.addrLen, m.mandatory, optional)
			if err != nil {
				return nil, next, err
			}
			pkts = append(pkts, pkt)
			optional = optional[n:]
			if len(optional) == 0 {
				break
			}
		}
	}
	return pkts, next, nil
}

// fillLocal emits every local address: THIS_IF for i, OTHER_IF for the other
// interfaces, passive ones included.
func (c *Core) fillLocal(i *Interface, addrLen int) []rfc5444.AddrEntry {
	var out []rfc5444.AddrEntry
	emit := func(h store.Handle, v uint8) {
		a := c.addr(h)
		if a.Len() != addrLen || c.store.Flags(h).Has(flagEmitted) {
			return
		}
		_ = c.store.Mark(h, flagEmitted)
		out = append(out, rfc5444.AddrEntry{
			Addr: a.Bytes(),
			TLVs: []rfc5444.TLV{{Type: rfc5444.AddrTLVLocalIf, Value: []byte{v}}},
		})
	}
	for _, h := range i.addrs {
		emit(h, rfc5444.LocalIfThisIf)
	}
	for _, o := range c.ifaces {
		if o == i {
			continue
		}
		for _, h := range o.addrs {
			emit(h, rfc5444.LocalIfOtherIf)
		}
	}
	return out
}

func linkStatusValue(s LinkStatus) (uint8, bool) {
	switch s {
	case StatusSymmetric:
		return rfc5444.LinkStatusSymmetric, true
	case StatusHeard:
		return rfc5444.LinkStatusHeard, true
	case StatusLost:
		return rfc5444.LinkStatusLost, true
	default:
		return 0, false
	}
}

// fillLinks emits the addresses of every advertised link of i with its status.
func (c *Core) fillLinks(i *Interface, addrLen int) []rfc5444.AddrEntry {
	var out []rfc5444.AddrEntry
	for _, l := range i.links {
		v, ok := linkStatusValue(l.status)
		if !ok {
			continue
		}
		for _, h := range l.addrs {
			a := c.addr(h)
			if a.Len() != addrLen || c.store.Flags(h).Has(flagEmitted) {
				continue
			}
			_ = c.store.Mark(h, flagEmitted)
			e := rfc5444.AddrEntry{
				Addr: a.Bytes(),
				TLVs: []rfc5444.TLV{{Type: rfc5444.AddrTLVLinkStatus, Value: []byte{v}}},
			}
			if c.metric.Advertised() && l.status != StatusLost {
				e.TLVs = append(e.TLVs, rfc5444.MetricTLV(rfc5444.MetricLinkIn, l.metricIn))
			}
			out = append(out, e)
		}
	}
	return out
}

// fillNeighbors emits the symmetric and lost neighbour addresses not already
// covered by a link. Expired lost tuples are dropped first.
func (c *Core) fillNeighbors(addrLen int, now time.Time) []rfc5444.AddrEntry {
	c.expireLost(now)
	var out []rfc5444.AddrEntry
	emit := func(h store.Handle, v uint8, tlvs ...rfc5444.TLV) {
		a := c.addr(h)
		if a.Len() != addrLen || c.store.Flags(h).Has(flagEmitted) {
			return
		}
		_ = c.store.Mark(h, flagEmitted)
		out = append(out, rfc5444.AddrEntry{
			Addr: a.Bytes(),
			TLVs: append([]rfc5444.TLV{{Type: rfc5444.AddrTLVOtherNeighb, Value: []byte{v}}}, tlvs...),
		})
	}
	for _, nb := range c.neighbors {
		if !nb.symmetric {
			continue
		}
		var extra []rfc5444.TLV
		if c.metric.Advertised() {
			extra = append(extra, rfc5444.MetricTLV(rfc5444.MetricNbrIn, nb.metricIn))
		}
		for _, h := range nb.addrs {
			emit(h, rfc5444.OtherNeighbSymmetric, extra...)
		}
	}
	for _, t := range c.lost {
		emit(t.addr, rfc5444.OtherNeighbLost)
	}
	return out
}

func (c *Core) helloMessage(i *Interface, addrLen int, entries []rfc5444.AddrEntry) rfc5444.Message {
	return rfc5444.Message{
		Type:        rfc5444.MsgTypeHello,
		AddrLen:     addrLen,
		HasHopLimit: true,
		HopLimit:    1,
		TLVs: []rfc5444.TLV{
			rfc5444.TimeTLV(rfc5444.MsgTLVValidityTime, i.opts.HoldTime),
			rfc5444.TimeTLV(rfc5444.MsgTLVIntervalTime, i.opts.HelloInterval),
		},
		AddrBlocks: rfc5444.BuildAddrBlocks(entries),
	}
}

func (c *Core) helloPacket(i *Interface, msgs ...rfc5444.Message) *rfc5444.Packet {
	return &rfc5444.Packet{
		HasSeqNum: true,
		SeqNum:    i.seqno,
		Messages:  msgs,
	}
}

// packHello encodes the mandatory entries with the longest prefix of optional
// that fits into the max payload, and reports how many optional entries it
// consumed. An entry that does not fit even on its own is left out.
func (c *Core) packHello(i *Interface, addrLen int, mandatory, optional []rfc5444.AddrEntry) (int, []byte, error) {
	encode := func(n int) ([]byte, error) {
		entries := make([]rfc5444.AddrEntry, 0, len(mandatory)+n)
		entries = append(entries, mandatory...)
		entries = append(entries, optional[:n]...)
		return rfc5444.Encode(c.helloPacket(i, c.helloMessage(i, addrLen, entries)))
	}

	skipped := 0
	for {
		buf, err := encode(len(optional))
		if err == nil && len(buf) <= i.opts.MaxPayload {
			i.seqno++
			return skipped + len(optional), buf, nil
		}
		if len(optional) == 0 {
			if err == nil {
				err = fmt.Errorf("local addresses of %s need %d bytes, max payload is %d", i.id, len(buf), i.opts.MaxPayload)
			}
			return 0, nil, err
		}
		// largest n that still fits
		n := sort.Search(len(optional), func(n int) bool {
			b, err := encode(n + 1)
			return err != nil || len(b) > i.opts.MaxPayload
		})
		if n > 0 {
			buf, err = encode(n)
			if err != nil {
				return 0, nil, err
			}
			i.seqno++
			return skipped + n, buf, nil
		}
		perf.EntriesOmitted.Add(1)
		c.log.Warn("address does not fit into a hello", "iface", i.id, "addr", store.AddrFrom(optional[0].Addr), "max_payload", i.opts.MaxPayload)
		optional = optional[1:]
		skipped++
	}
}
