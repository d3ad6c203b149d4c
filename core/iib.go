package core

import (
	"slices"
	"time"

	"github.com/encodeous/nhdp/store"
)

type LinkStatus uint8

const (
	StatusUnknown LinkStatus = iota
	StatusPending
	StatusHeard
	StatusSymmetric
	StatusLost
)

func (s LinkStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusHeard:
		return "HEARD"
	case StatusSymmetric:
		return "SYMMETRIC"
	case StatusLost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// LinkTuple is one entry of an interface's Link Set.
type LinkTuple struct {
	iface   *Interface
	addrs   []store.Handle
	heard   time.Time
	sym     time.Time
	exp     time.Time
	pending bool
	lost    bool
	status  LinkStatus
	nb      *NeighborTuple
	twoHop  []*TwoHopTuple

	metricIn  uint32
	metricOut uint32
	quality   linkQuality

	seq uint64
}

func deriveStatus(now time.Time, pending, lost bool, sym, heard time.Time) LinkStatus {
	switch {
	case pending:
		return StatusPending
	case lost:
		return StatusLost
	case sym.After(now):
		return StatusSymmetric
	case heard.After(now):
		return StatusHeard
	default:
		return StatusUnknown
	}
}

func (l *LinkTuple) derive(now time.Time) LinkStatus {
	return deriveStatus(now, l.pending, l.lost, l.sym, l.heard)
}

// iibProcessHello applies a HELLO received on iface from the neighbour whose
// sending interface carries sendAddrs. Every link tuple of iface sharing an
// address with sendAddrs collapses into the oldest one. It returns nil if the
// tuple did not survive the update.
func (c *Core) iibProcessHello(iface *Interface, sendAddrs []store.Handle, nb *NeighborTuple, validity time.Duration, isSym, isLost bool, now time.Time) *LinkTuple {
	var matches []*LinkTuple
	for _, l := range iface.links {
		if intersects(l.addrs, sendAddrs) {
			matches = append(matches, l)
		}
	}

	var l *LinkTuple
	var orphans []*NeighborTuple
	if len(matches) == 0 {
		l = &LinkTuple{
			iface:     iface,
			exp:       now.Add(validity),
			pending:   c.metric.Deferred(),
			status:    StatusPending,
			metricIn:  c.metric.Initial(),
			metricOut: c.metric.Initial(),
			seq:       c.nextSeq(),
		}
		c.metric.InitLink(l, now)
		iface.links = append(iface.links, l)
	} else {
		l = matches[0]
		for _, dup := range matches[1:] {
			c.log.Debug("collapsing link tuple", "iface", iface.id, "addrs", c.addrs(dup.addrs))
			if old := c.detachLink(dup); old != nil && !slices.Contains(orphans, old) {
				orphans = append(orphans, old)
			}
		}
	}

	for _, h := range sendAddrs {
		c.acquire(h)
	}
	for _, h := range l.addrs {
		c.release(h)
	}
	l.addrs = slices.Clone(sendAddrs)

	wasSym := l.status == StatusSymmetric
	if isLost {
		l.sym = time.Time{}
		if wasSym {
			l.exp = now.Add(c.cfg.LinkHoldTime)
		}
	} else if isSym {
		l.sym = now.Add(validity)
		l.exp = l.sym.Add(c.cfg.LinkHoldTime)
	}
	l.heard = laterOf(now.Add(validity), l.sym)
	l.exp = laterOf(l.exp, l.heard.Add(c.cfg.LinkHoldTime))

	c.relinkNeighbor(l, nb, now)
	alive := c.refreshLinkStatus(l, now)
	for _, o := range orphans {
		if slices.Contains(c.neighbors, o) {
			c.neighborLostLink(o, now)
		}
	}
	if !alive {
		return nil
	}
	return l
}

// relinkNeighbor points l at nb and keeps the symmetric flag of both the old
// and the new neighbour consistent with their links.
func (c *Core) relinkNeighbor(l *LinkTuple, nb *NeighborTuple, now time.Time) {
	old := l.nb
	l.nb = nb
	if nb != nil && l.status == StatusSymmetric {
		c.setSymmetric(nb)
	}
	if old == nil || old == nb {
		return
	}
	c.neighborLostLink(old, now)
}

// neighborLostLink is called after a link stopped being symmetric or stopped
// referencing nb.
func (c *Core) neighborLostLink(nb *NeighborTuple, now time.Time) {
	if nb.symmetric && !c.hasSymmetricLink(nb) {
		c.resetSymmetric(nb, now)
	}
	if !c.hasLink(nb) {
		c.removeNeighbor(nb)
	}
}

func (c *Core) hasLink(nb *NeighborTuple) bool {
	for _, i := range c.ifaces {
		for _, l := range i.links {
			if l.nb == nb {
				return true
			}
		}
	}
	return false
}

func (c *Core) hasSymmetricLink(nb *NeighborTuple) bool {
	for _, i := range c.ifaces {
		for _, l := range i.links {
			if l.nb == nb && l.status == StatusSymmetric {
				return true
			}
		}
	}
	return false
}

// refreshLinkStatus recomputes the cached status and applies the cascades of
// a transition. It reports false when the tuple was removed.
func (c *Core) refreshLinkStatus(l *LinkTuple, now time.Time) bool {
	if !l.exp.After(now) {
		c.removeLink(l, now)
		return false
	}
	old := l.status
	next := l.derive(now)
	if next == old {
		return true
	}
	l.status = next
	c.log.Debug("link status changed", "iface", l.iface.id, "addrs", c.addrs(l.addrs), "from", old, "to", next)

	if old == StatusSymmetric {
		c.clearTwoHop(l)
		if l.nb != nil {
			c.neighborLostLink(l.nb, now)
		}
	}
	switch next {
	case StatusSymmetric:
		if l.nb != nil {
			c.setSymmetric(l.nb)
		}
		c.emit(EventLinkSymmetric, l.iface.id, c.addrs(l.addrs))
	case StatusHeard:
		c.emit(EventLinkHeard, l.iface.id, c.addrs(l.addrs))
	case StatusLost:
		c.emit(EventLinkLost, l.iface.id, c.addrs(l.addrs))
	case StatusUnknown:
		c.removeLink(l, now)
		return false
	}
	return true
}

// removeLink deletes l with all its 2-hop tuples, and its neighbour when no
// other link references it.
func (c *Core) removeLink(l *LinkTuple, now time.Time) {
	if nb := c.detachLink(l); nb != nil {
		c.neighborLostLink(nb, now)
	}
}

// detachLink deletes l without touching its neighbour tuple, which is returned.
func (c *Core) detachLink(l *LinkTuple) *NeighborTuple {
	iface := l.iface
	idx := slices.Index(iface.links, l)
	if idx < 0 {
		return nil
	}
	iface.links = slices.Delete(iface.links, idx, idx+1)
	c.clearTwoHop(l)
	addrs := c.addrs(l.addrs)
	for _, h := range l.addrs {
		c.release(h)
	}
	l.addrs = nil
	l.status = StatusUnknown
	nb := l.nb
	l.nb = nil
	c.log.Debug("removed link tuple", "iface", iface.id, "addrs", addrs)
	c.emit(EventLinkRemoved, iface.id, addrs)
	return nb
}

// updateStatus applies every expiry due at now.
func (c *Core) updateStatus(now time.Time) {
	for _, i := range c.ifaces {
		for _, l := range slices.Clone(i.links) {
			if !slices.Contains(i.links, l) {
				continue
			}
			if !c.refreshLinkStatus(l, now) {
				continue
			}
			c.expireTwoHop(l, now)
		}
	}
	c.expireLost(now)
}

// Housekeeping applies pending expiries and returns the next one, or the zero
// time when no tuple is waiting to change.
func (c *Core) Housekeeping() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	c.updateStatus(now)
	return c.nextExpiry(now)
}

func (c *Core) nextExpiry(now time.Time) time.Time {
	var next time.Time
	consider := func(t time.Time) {
		if t.After(now) {
			next = earliest(next, t)
		}
	}
	for _, i := range c.ifaces {
		for _, l := range i.links {
			consider(l.exp)
			consider(l.sym)
			consider(l.heard)
			for _, t := range l.twoHop {
				consider(t.exp)
			}
		}
	}
	for _, t := range c.lost {
		consider(t.exp)
	}
	return next
}

// Links returns a snapshot of the link set of iface.
func (c *Core) Links(iface string) []LinkInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.iface(iface)
	if i == nil {
		return nil
	}
	out := make([]LinkInfo, 0, len(i.links))
	for _, l := range i.links {
		out = append(out, c.linkInfo(l))
	}
	return out
}

// LinkInfo is a read-only copy of a link tuple.
type LinkInfo struct {
	Interface string
	Addrs     []store.Addr
	Status    LinkStatus
	Heard     time.Time
	Sym       time.Time
	Exp       time.Time
	Pending   bool
	Lost      bool
	MetricIn  uint32
	MetricOut uint32
	Neighbor  []store.Addr
	TwoHop    []store.Addr
}

func (c *Core) linkInfo(l *LinkTuple) LinkInfo {
	li := LinkInfo{
		Interface: l.iface.id,
		Addrs:     c.addrs(l.addrs),
		Status:    l.status,
		Heard:     l.heard,
		Sym:       l.sym,
		Exp:       l.exp,
		Pending:   l.pending,
		Lost:      l.lost,
		MetricIn:  l.metricIn,
		MetricOut: l.metricOut,
	}
	if l.nb != nil {
		li.Neighbor = c.addrs(l.nb.addrs)
	}
	for _, t := range l.twoHop {
		li.TwoHop = append(li.TwoHop, c.addr(t.addr))
	}
	return li
}
