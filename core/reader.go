package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/encodeous/nhdp/perf"
	"github.com/encodeous/nhdp/rfc5444"
	"github.com/encodeous/nhdp/store"
	"go.uber.org/multierr"
)

// ErrDropped matches every *DropError.
var ErrDropped = errors.New("hello dropped")

type DropReason uint8

const (
	DropMalformed DropReason = iota
	DropUnknownInterface
	DropPassiveInterface
	DropValidityTime
	DropIntervalTime
	DropHopLimit
	DropHopCount
	DropTLVCardinality
	DropTLVValue
	DropConflict
	DropAddressCollision
	DropNoSender
	DropExhausted
)

var dropNames = [...]string{
	DropMalformed:        "malformed packet",
	DropUnknownInterface: "unknown interface",
	DropPassiveInterface: "passive interface",
	DropValidityTime:     "bad VALIDITY_TIME",
	DropIntervalTime:     "bad INTERVAL_TIME",
	DropHopLimit:         "hop limit is not 1",
	DropHopCount:         "hop count is not 0",
	DropTLVCardinality:   "repeated address TLV",
	DropTLVValue:         "bad address TLV value",
	DropConflict:         "conflicting address TLVs",
	DropAddressCollision: "neighbour claims a local address",
	DropNoSender:         "no sending address",
	DropExhausted:        "resources exhausted",
}

func (r DropReason) String() string {
	if int(r) < len(dropNames) {
		return dropNames[r]
	}
	return fmt.Sprintf("drop(%d)", r)
}

// DropError reports a HELLO (or a whole packet) that was discarded without
// touching the information bases.
type DropError struct {
	Reason DropReason
	Addr   store.Addr
	Err    error
}

func (e *DropError) Error() string {
	msg := "hello dropped: " + e.Reason.String()
	if e.Addr.IsValid() {
		msg += " (" + e.Addr.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DropError) Is(target error) bool {
	return target == ErrDropped
}

func (e *DropError) Unwrap() error {
	return e.Err
}

func drop(reason DropReason, addr store.Addr, err error) error {
	return &DropError{Reason: reason, Addr: addr, Err: err}
}

// addrTLVs gathers the NHDP TLVs attached to one address over all the address
// blocks of a message.
type addrTLVs struct {
	addr        store.Addr
	localIf     []uint8
	linkStatus  []uint8
	otherNeighb []uint8
	metrics     []rfc5444.TLV
}

// hello is the classified content of one accepted HELLO.
type hello struct {
	validity time.Duration
	interval time.Duration

	thisIf  []store.Handle
	nbAddrs []store.Handle
	sym     []store.Handle
	rem     []store.Handle

	isSym, isLost bool
	outgoing      uint32
	twoHopMetrics twoHopMetrics
}

// HandlePacket processes a packet received on iface from the link-layer or IP
// source src. Every HELLO in the packet is handled on its own; the returned
// error joins the reasons of the HELLOs that were dropped. The returned time
// is the next table expiry.
func (c *Core) HandlePacket(iface string, src store.Addr, buf []byte) (time.Time, error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		perf.DispatchLatency.Add(float64(time.Since(start).Microseconds()))
	}()
	perf.RecvBytes.Add(float64(len(buf)))

	now := c.clk.Now()
	if c.closed {
		return time.Time{}, ErrClosed
	}
	i := c.iface(iface)
	if i == nil {
		perf.HellosDropped.Add(1)
		return c.nextExpiry(now), drop(DropUnknownInterface, store.Addr{}, errors.New(iface))
	}
	if i.passive {
		perf.HellosDropped.Add(1)
		return c.nextExpiry(now), drop(DropPassiveInterface, store.Addr{}, errors.New(iface))
	}
	pkt, err := rfc5444.Decode(buf)
	if err != nil {
		perf.HellosDropped.Add(1)
		c.log.Debug("dropped packet", "iface", iface, "src", src, "err", err)
		return c.nextExpiry(now), drop(DropMalformed, store.Addr{}, err)
	}

	var errs error
	for mi := range pkt.Messages {
		msg := &pkt.Messages[mi]
		if msg.Type != rfc5444.MsgTypeHello {
			continue
		}
		perf.HellosReceived.Add(1)
		if err := c.handleHello(i, src, pkt, msg, now); err != nil {
			perf.HellosDropped.Add(1)
			c.log.Debug("dropped hello", "iface", iface, "src", src, "err", err)
			errs = multierr.Append(errs, err)
		}
	}
	return c.nextExpiry(now), errs
}

func (c *Core) handleHello(i *Interface, src store.Addr, pkt *rfc5444.Packet, msg *rfc5444.Message, now time.Time) error {
	defer c.store.ResetTransient(false)

	h, err := c.parseHello(i, src, msg)
	if err != nil {
		return err
	}

	c.updateStatus(now)
	if err := c.checkCapacity(i, h); err != nil {
		return err
	}

	nb, removed := c.nibProcessHello(h.nbAddrs, now)
	if len(removed) > 0 {
		c.log.Debug("neighbor dropped addresses", "addrs", removed)
	}
	l := c.iibProcessHello(i, h.thisIf, nb, h.validity, h.isSym, h.isLost, now)
	if l == nil {
		return nil
	}
	c.updateTwoHopSet(l, h.sym, h.rem, h.twoHopMetrics, h.validity, now)
	c.metric.ProcessMessage(l, h.interval, now)
	c.metric.ProcessPacket(l, h.outgoing, pkt.SeqNum, pkt.HasSeqNum, now)
	if l.nb != nil {
		c.deriveNeighborMetric(l.nb)
	}
	return nil
}

// parseHello validates msg and classifies its addresses. It only takes
// transient store references, released by the caller's reset.
func (c *Core) parseHello(i *Interface, src store.Addr, msg *rfc5444.Message) (*hello, error) {
	if msg.HasHopLimit && msg.HopLimit != 1 {
		return nil, drop(DropHopLimit, store.Addr{}, fmt.Errorf("hop limit %d", msg.HopLimit))
	}
	if msg.HasHopCount && msg.HopCount != 0 {
		return nil, drop(DropHopCount, store.Addr{}, fmt.Errorf("hop count %d", msg.HopCount))
	}

	h := &hello{twoHopMetrics: make(twoHopMetrics)}
	validity := msgTimeTLVs(msg.TLVs, rfc5444.MsgTLVValidityTime)
	if len(validity) != 1 {
		return nil, drop(DropValidityTime, store.Addr{}, fmt.Errorf("%d VALIDITY_TIME TLVs", len(validity)))
	}
	d, ok := rfc5444.TimeValue(validity[0])
	if !ok || d <= 0 {
		return nil, drop(DropValidityTime, store.Addr{}, nil)
	}
	h.validity = d
	interval := msgTimeTLVs(msg.TLVs, rfc5444.MsgTLVIntervalTime)
	switch len(interval) {
	case 0:
	case 1:
		if h.interval, ok = rfc5444.TimeValue(interval[0]); !ok {
			return nil, drop(DropIntervalTime, store.Addr{}, nil)
		}
	default:
		return nil, drop(DropIntervalTime, store.Addr{}, fmt.Errorf("%d INTERVAL_TIME TLVs", len(interval)))
	}

	addrs, err := collectAddrTLVs(msg)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if err := c.classify(i, a, h); err != nil {
			return nil, err
		}
	}

	if len(h.thisIf) == 0 {
		if !src.IsValid() {
			return nil, drop(DropNoSender, store.Addr{}, nil)
		}
		if c.isLocal(i, src) != NotLocal {
			return nil, drop(DropAddressCollision, src, nil)
		}
		hd, err := c.store.Classify(src, flagThisIf)
		if err != nil {
			return nil, drop(DropExhausted, src, err)
		}
		h.thisIf = append(h.thisIf, hd)
		if !containsHandle(h.nbAddrs, hd) {
			h.nbAddrs = append(h.nbAddrs, hd)
		}
	}
	return h, nil
}

func msgTimeTLVs(tlvs []rfc5444.TLV, typ uint8) []rfc5444.TLV {
	var out []rfc5444.TLV
	for _, t := range rfc5444.FindTLVs(tlvs, typ) {
		if t.HasExt && t.TypeExt != 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}

// collectAddrTLVs merges the TLVs of every occurrence of an address and checks
// their cardinality and values. Addresses keep their first-seen order.
func collectAddrTLVs(msg *rfc5444.Message) ([]*addrTLVs, error) {
	var order []*addrTLVs
	byAddr := make(map[store.Addr]*addrTLVs)
	for _, e := range msg.Entries() {
		a := store.AddrFrom(e.Addr)
		at := byAddr[a]
		if at == nil {
			at = &addrTLVs{addr: a}
			byAddr[a] = at
			order = append(order, at)
		}
		for _, t := range e.TLVs {
			if t.HasExt && t.Type != rfc5444.AddrTLVLinkMetric && t.TypeExt != 0 {
				continue
			}
			switch t.Type {
			case rfc5444.AddrTLVLocalIf:
				if len(t.Value) != 1 {
					return nil, drop(DropTLVValue, a, fmt.Errorf("LOCAL_IF length %d", len(t.Value)))
				}
				at.localIf = append(at.localIf, t.Value[0])
			case rfc5444.AddrTLVLinkStatus:
				if len(t.Value) != 1 {
					return nil, drop(DropTLVValue, a, fmt.Errorf("LINK_STATUS length %d", len(t.Value)))
				}
				at.linkStatus = append(at.linkStatus, t.Value[0])
			case rfc5444.AddrTLVOtherNeighb:
				if len(t.Value) != 1 {
					return nil, drop(DropTLVValue, a, fmt.Errorf("OTHER_NEIGHB length %d", len(t.Value)))
				}
				at.otherNeighb = append(at.otherNeighb, t.Value[0])
			case rfc5444.AddrTLVLinkMetric:
				if t.HasExt && t.TypeExt == rfc5444.LinkMetricTypeDAT {
					at.metrics = append(at.metrics, t)
				}
			}
		}
	}
	for _, at := range order {
		if err := at.validate(); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (at *addrTLVs) validate() error {
	if len(at.localIf) > 1 || len(at.linkStatus) > 1 || len(at.otherNeighb) > 1 {
		return drop(DropTLVCardinality, at.addr, nil)
	}
	if len(at.localIf) == 1 && (len(at.linkStatus) == 1 || len(at.otherNeighb) == 1) {
		return drop(DropConflict, at.addr, errors.New("LOCAL_IF with LINK_STATUS or OTHER_NEIGHB"))
	}
	if len(at.localIf) == 1 && at.localIf[0] > rfc5444.LocalIfOtherIf {
		return drop(DropTLVValue, at.addr, fmt.Errorf("LOCAL_IF %d", at.localIf[0]))
	}
	if len(at.linkStatus) == 1 && at.linkStatus[0] > rfc5444.LinkStatusHeard {
		return drop(DropTLVValue, at.addr, fmt.Errorf("LINK_STATUS %d", at.linkStatus[0]))
	}
	if len(at.otherNeighb) == 1 && at.otherNeighb[0] > rfc5444.OtherNeighbSymmetric {
		return drop(DropTLVValue, at.addr, fmt.Errorf("OTHER_NEIGHB %d", at.otherNeighb[0]))
	}
	if at.hasLinkStatus(rfc5444.LinkStatusSymmetric) && at.hasOtherNeighb(rfc5444.OtherNeighbLost) {
		return drop(DropConflict, at.addr, errors.New("LINK_STATUS=SYMMETRIC with OTHER_NEIGHB=LOST"))
	}
	// one LINK_METRIC per kind; a single TLV may carry several kinds
	var seen uint8
	for _, t := range at.metrics {
		kind, _, ok := rfc5444.MetricValue(t)
		if !ok {
			return drop(DropTLVValue, at.addr, errors.New("LINK_METRIC length"))
		}
		if kind&seen != 0 {
			return drop(DropTLVCardinality, at.addr, fmt.Errorf("LINK_METRIC kind %#x repeated", kind&seen))
		}
		seen |= kind
	}
	return nil
}

func (at *addrTLVs) hasLinkStatus(v uint8) bool {
	return len(at.linkStatus) == 1 && at.linkStatus[0] == v
}

func (at *addrTLVs) hasOtherNeighb(v uint8) bool {
	return len(at.otherNeighb) == 1 && at.otherNeighb[0] == v
}

// metric returns the value of the LINK_METRIC carrying any of the kinds in mask.
func (at *addrTLVs) metric(mask uint8) (m uint32, ok bool) {
	for _, t := range at.metrics {
		if kind, v, _ := rfc5444.MetricValue(t); kind&mask != 0 {
			return v, true
		}
	}
	return 0, false
}

// classify sorts one advertised address into the hello. Our own addresses are
// only read for the status of our link towards the sender.
func (c *Core) classify(i *Interface, at *addrTLVs, h *hello) error {
	local := c.isLocal(i, at.addr)
	if len(at.localIf) == 1 {
		if local != NotLocal {
			return drop(DropAddressCollision, at.addr, nil)
		}
		flag := flagOtherIf
		if at.localIf[0] == rfc5444.LocalIfThisIf {
			flag = flagThisIf
		}
		hd, err := c.store.Classify(at.addr, flag)
		if err != nil {
			return drop(DropExhausted, at.addr, err)
		}
		if flag == flagThisIf {
			h.thisIf = append(h.thisIf, hd)
		}
		h.nbAddrs = append(h.nbAddrs, hd)
		return nil
	}

	switch local {
	case LocalToThisIf:
		switch {
		case at.hasLinkStatus(rfc5444.LinkStatusLost):
			h.isLost = true
		case at.hasLinkStatus(rfc5444.LinkStatusSymmetric), at.hasLinkStatus(rfc5444.LinkStatusHeard):
			h.isSym = true
		}
		if m, ok := at.metric(rfc5444.MetricLinkIn); ok {
			h.outgoing = m
		}
		return nil
	case LocalToOtherIf:
		return nil
	}

	var flag store.Flags
	switch {
	case at.hasLinkStatus(rfc5444.LinkStatusSymmetric), at.hasOtherNeighb(rfc5444.OtherNeighbSymmetric):
		flag = flagTwoHopSym
	case len(at.linkStatus) == 1, at.hasOtherNeighb(rfc5444.OtherNeighbLost):
		flag = flagTwoHopRem
	default:
		return nil
	}
	hd, err := c.store.Classify(at.addr, flag)
	if err != nil {
		return drop(DropExhausted, at.addr, err)
	}
	if flag == flagTwoHopSym {
		h.sym = append(h.sym, hd)
		in, hasIn := at.metric(rfc5444.MetricLinkIn | rfc5444.MetricNbrIn)
		out, hasOut := at.metric(rfc5444.MetricLinkOut | rfc5444.MetricNbrOut)
		if hasIn || hasOut {
			h.twoHopMetrics[hd] = advertisedMetric{in: in, out: out}
		}
	} else {
		h.rem = append(h.rem, hd)
	}
	return nil
}

// checkCapacity refuses a HELLO that would need a new tuple in a full table.
func (c *Core) checkCapacity(i *Interface, h *hello) error {
	if limit := c.cfg.MaxLinkTuples; limit > 0 && len(i.links) >= limit {
		known := false
		for _, l := range i.links {
			if intersects(l.addrs, h.thisIf) {
				known = true
				break
			}
		}
		if !known {
			return drop(DropExhausted, c.addr(h.thisIf[0]), fmt.Errorf("%w: %d link tuples on %s", ErrTableFull, limit, i.id))
		}
	}
	if limit := c.cfg.MaxNeighbors; limit > 0 && len(c.neighbors) >= limit {
		known := false
		for _, nb := range c.neighbors {
			if intersects(nb.addrs, h.nbAddrs) {
				known = true
				break
			}
		}
		if !known {
			return drop(DropExhausted, c.addr(h.thisIf[0]), fmt.Errorf("%w: %d neighbors", ErrTableFull, limit))
		}
	}
	return nil
}
