package core

import (
	"slices"
	"time"

	"github.com/encodeous/nhdp/store"
)

// NeighborTuple aggregates every address of one neighbour, across all its interfaces.
type NeighborTuple struct {
	addrs     []store.Handle
	symmetric bool
	metricIn  uint32
	metricOut uint32
	seq       uint64
}

// LostTuple advertises a recently desymmetrised neighbour address.
type LostTuple struct {
	addr store.Handle
	exp  time.Time
}

// nibProcessHello finds the neighbour tuple for a HELLO advertising addrs.
// All tuples sharing an address collapse into the oldest. The survivor's
// address set becomes addrs; addresses dropped from a symmetric tuple are
// recorded as lost and returned.
func (c *Core) nibProcessHello(addrs []store.Handle, now time.Time) (*NeighborTuple, []store.Addr) {
	var matches []*NeighborTuple
	for _, nb := range c.neighbors {
		if intersects(nb.addrs, addrs) {
			matches = append(matches, nb)
		}
	}
	if len(matches) == 0 {
		nb := &NeighborTuple{
			metricIn:  c.metric.Initial(),
			metricOut: c.metric.Initial(),
			seq:       c.nextSeq(),
		}
		for _, h := range addrs {
			c.acquire(h)
		}
		nb.addrs = slices.Clone(addrs)
		c.neighbors = append(c.neighbors, nb)
		c.log.Debug("added neighbor tuple", "addrs", c.addrs(addrs))
		c.emit(EventNeighborAdded, "", c.addrs(addrs))
		return nb, nil
	}

	survivor := matches[0]
	for _, h := range addrs {
		c.acquire(h)
	}
	var removed []store.Addr
	for _, nb := range matches {
		for _, h := range nb.addrs {
			if !containsHandle(addrs, h) {
				a := c.addr(h)
				if !slices.Contains(removed, a) {
					removed = append(removed, a)
				}
				if nb.symmetric {
					c.addLost(h, now)
				}
			}
			c.release(h)
		}
		nb.addrs = nil
		if nb == survivor {
			continue
		}
		c.log.Debug("merging neighbor tuple", "into", survivor.seq, "from", nb.seq)
		survivor.symmetric = survivor.symmetric || nb.symmetric
		survivor.metricIn = min(survivor.metricIn, nb.metricIn)
		survivor.metricOut = min(survivor.metricOut, nb.metricOut)
		for _, i := range c.ifaces {
			for _, l := range i.links {
				if l.nb == nb {
					l.nb = survivor
				}
			}
		}
		c.neighbors = slices.DeleteFunc(c.neighbors, func(x *NeighborTuple) bool { return x == nb })
		c.emit(EventNeighborRemoved, "", nil)
	}
	survivor.addrs = slices.Clone(addrs)
	if survivor.symmetric {
		c.clearLost(survivor.addrs)
	}
	return survivor, removed
}

// setSymmetric marks nb symmetric and forgets the lost entries of its addresses.
func (c *Core) setSymmetric(nb *NeighborTuple) {
	if nb.symmetric {
		return
	}
	nb.symmetric = true
	c.clearLost(nb.addrs)
	c.log.Debug("neighbor became symmetric", "addrs", c.addrs(nb.addrs))
	c.emit(EventNeighborSymmetric, "", c.addrs(nb.addrs))
}

// resetSymmetric clears the symmetric flag and records every address as lost.
func (c *Core) resetSymmetric(nb *NeighborTuple, now time.Time) {
	if !nb.symmetric {
		return
	}
	nb.symmetric = false
	for _, h := range nb.addrs {
		c.addLost(h, now)
	}
	c.log.Debug("neighbor lost symmetry", "addrs", c.addrs(nb.addrs))
	c.emit(EventNeighborAsymmetric, "", c.addrs(nb.addrs))
}

func (c *Core) removeNeighbor(nb *NeighborTuple) {
	idx := slices.Index(c.neighbors, nb)
	if idx < 0 {
		return
	}
	c.neighbors = slices.Delete(c.neighbors, idx, idx+1)
	addrs := c.addrs(nb.addrs)
	for _, h := range nb.addrs {
		c.release(h)
	}
	nb.addrs = nil
	c.log.Debug("removed neighbor tuple", "addrs", addrs)
	c.emit(EventNeighborRemoved, "", addrs)
}

func (c *Core) addLost(h store.Handle, now time.Time) {
	exp := now.Add(c.cfg.NeighborHoldTime)
	for _, t := range c.lost {
		if t.addr == h {
			t.exp = exp
			return
		}
	}
	c.acquire(h)
	c.lost = append(c.lost, &LostTuple{addr: h, exp: exp})
}

func (c *Core) clearLost(addrs []store.Handle) {
	c.lost = slices.DeleteFunc(c.lost, func(t *LostTuple) bool {
		if containsHandle(addrs, t.addr) {
			c.release(t.addr)
			return true
		}
		return false
	})
}

func (c *Core) expireLost(now time.Time) {
	c.lost = slices.DeleteFunc(c.lost, func(t *LostTuple) bool {
		if !t.exp.After(now) {
			c.release(t.addr)
			return true
		}
		return false
	})
}

// NeighborInfo is a read-only copy of a neighbour tuple.
type NeighborInfo struct {
	Addrs     []store.Addr
	Symmetric bool
	MetricIn  uint32
	MetricOut uint32
}

// LostInfo is a read-only copy of a lost neighbour tuple.
type LostInfo struct {
	Addr store.Addr
	Exp  time.Time
}

func (c *Core) Neighbors() []NeighborInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]NeighborInfo, 0, len(c.neighbors))
	for _, nb := range c.neighbors {
		out = append(out, NeighborInfo{
			Addrs:     c.addrs(nb.addrs),
			Symmetric: nb.symmetric,
			MetricIn:  nb.metricIn,
			MetricOut: nb.metricOut,
		})
	}
	return out
}

func (c *Core) LostNeighbors() []LostInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LostInfo, 0, len(c.lost))
	for _, t := range c.lost {
		out = append(out, LostInfo{Addr: c.addr(t.addr), Exp: t.exp})
	}
	return out
}
