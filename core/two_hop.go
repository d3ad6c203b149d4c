package core

import (
	"slices"
	"time"

	"github.com/encodeous/nhdp/store"
)

// TwoHopTuple is a symmetric neighbour of a neighbour, reachable through link.
type TwoHopTuple struct {
	link      *LinkTuple
	addr      store.Handle
	exp       time.Time
	metricIn  uint32
	metricOut uint32
}

// advertisedMetric is a LINK_METRIC received for an address. Zero means absent.
type advertisedMetric struct {
	in, out uint32
}

type twoHopMetrics map[store.Handle]advertisedMetric

// updateTwoHopSet refreshes the 2-hop tuples of a symmetric link from the
// addresses its neighbour advertised as symmetric (sym) or lost/heard (rem).
func (c *Core) updateTwoHopSet(l *LinkTuple, sym, rem []store.Handle, metrics twoHopMetrics, validity time.Duration, now time.Time) {
	if l.status != StatusSymmetric {
		return
	}
	for _, h := range sym {
		if l.nb != nil && containsHandle(l.nb.addrs, h) {
			continue
		}
		if c.isLocalHandle(l.iface, h) != NotLocal {
			continue
		}
		t := findTwoHop(l, h)
		if t == nil {
			c.acquire(h)
			t = &TwoHopTuple{link: l, addr: h, metricIn: c.metric.Initial(), metricOut: c.metric.Initial()}
			l.twoHop = append(l.twoHop, t)
			c.log.Debug("added 2-hop tuple", "iface", l.iface.id, "via", c.addrs(l.addrs), "addr", c.addr(h))
			c.emit(EventTwoHopAdded, l.iface.id, []store.Addr{c.addr(h)})
		}
		t.exp = now.Add(validity)
		if m, ok := metrics[h]; ok {
			if m.in != 0 {
				t.metricIn = m.in
			}
			if m.out != 0 {
				t.metricOut = m.out
			}
		}
	}
	for _, h := range rem {
		if t := findTwoHop(l, h); t != nil {
			c.removeTwoHop(t)
		}
	}
	// addresses now known to belong to the neighbour itself
	if l.nb != nil {
		for _, t := range slices.Clone(l.twoHop) {
			if containsHandle(l.nb.addrs, t.addr) {
				c.removeTwoHop(t)
			}
		}
	}
}

func findTwoHop(l *LinkTuple, h store.Handle) *TwoHopTuple {
	for _, t := range l.twoHop {
		if t.addr == h {
			return t
		}
	}
	return nil
}

func (c *Core) removeTwoHop(t *TwoHopTuple) {
	l := t.link
	idx := slices.Index(l.twoHop, t)
	if idx < 0 {
		return
	}
	l.twoHop = slices.Delete(l.twoHop, idx, idx+1)
	a := c.addr(t.addr)
	c.release(t.addr)
	c.log.Debug("removed 2-hop tuple", "iface", l.iface.id, "addr", a)
	c.emit(EventTwoHopRemoved, l.iface.id, []store.Addr{a})
}

func (c *Core) clearTwoHop(l *LinkTuple) {
	for len(l.twoHop) > 0 {
		c.removeTwoHop(l.twoHop[len(l.twoHop)-1])
	}
}

func (c *Core) expireTwoHop(l *LinkTuple, now time.Time) {
	for _, t := range slices.Clone(l.twoHop) {
		if !t.exp.After(now) {
			c.removeTwoHop(t)
		}
	}
}

// TwoHopInfo is a read-only copy of a 2-hop tuple.
type TwoHopInfo struct {
	Interface string
	Via       []store.Addr
	Addr      store.Addr
	Exp       time.Time
	MetricIn  uint32
	MetricOut uint32
}

// TwoHops returns a snapshot of the 2-hop set of iface.
func (c *Core) TwoHops(iface string) []TwoHopInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.iface(iface)
	if i == nil {
		return nil
	}
	var out []TwoHopInfo
	for _, l := range i.links {
		for _, t := range l.twoHop {
			out = append(out, TwoHopInfo{
				Interface: i.id,
				Via:       c.addrs(l.addrs),
				Addr:      c.addr(t.addr),
				Exp:       t.exp,
				MetricIn:  t.metricIn,
				MetricOut: t.metricOut,
			})
		}
	}
	return out
}
