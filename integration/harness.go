//go:build integration

package integration

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/nhdp/core"
	"github.com/encodeous/nhdp/mock"
	"github.com/encodeous/nhdp/state"
	"github.com/encodeous/nhdp/store"
	"github.com/encodeous/tint"
)

// Node is one running NHDP instance of a harness.
type Node struct {
	Cfg   state.Config
	Core  *core.Core
	Sched *core.Scheduler
	Ep    *mock.Endpoint
}

// Addr returns the address of the node on the broadcast link named link.
func (n *Node) Addr(link string) store.Addr {
	for _, ic := range n.Cfg.Interfaces {
		if ic.Name == link {
			return ic.Addresses[0]
		}
	}
	panic(fmt.Sprintf("%s is not attached to %s", n.Cfg.Name, link))
}

// VirtualHarness runs a set of nodes over an in-memory network, driven by a
// shared mock clock.
type VirtualHarness struct {
	Clock   *clock.Mock
	Net     *mock.Network
	Edges   []mock.Edge
	Nodes   []*Node
	Context context.Context
	Cancel  context.CancelCauseFunc
	Verbose bool
}

func NewHarness(edges []mock.Edge, cfgs []state.Config) *VirtualHarness {
	v := &VirtualHarness{
		Clock: clock.NewMock(),
		Net:   mock.NewNetwork(),
		Edges: edges,
	}
	v.Clock.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	for _, cfg := range cfgs {
		v.Nodes = append(v.Nodes, &Node{Cfg: cfg})
	}
	return v
}

func (v *VirtualHarness) Node(name string) *Node {
	idx := slices.IndexFunc(v.Nodes, func(n *Node) bool {
		return n.Cfg.Name == name
	})
	if idx == -1 {
		panic(fmt.Sprintf("no node named %s", name))
	}
	return v.Nodes[idx]
}

func (v *VirtualHarness) logger(name string) *slog.Logger {
	level := slog.LevelWarn
	if v.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:        level,
		CustomPrefix: name,
	}))
}

// Start brings up every node and arms its scheduler.
func (v *VirtualHarness) Start() error {
	v.Context, v.Cancel = context.WithCancelCause(context.Background())
	for _, n := range v.Nodes {
		n.Ep = v.Net.Endpoint(n.Cfg.Name)
		c, err := core.New(n.Cfg, core.Options{
			Clock:     v.Clock,
			Log:       v.logger(n.Cfg.Name),
			Transport: n.Ep,
		})
		if err != nil {
			return err
		}
		n.Core = c
		n.Sched = core.NewScheduler(v.Context, c)
		sched := n.Sched
		n.Ep.SetHandler(func(iface string, src store.Addr, buf []byte) {
			_ = sched.Deliver(iface, src, buf)
		})
		err = core.Configure(c, n.Cfg, func(name string) error {
			n.Ep.Attach(name, name, n.Addr(name))
			return nil
		})
		if err != nil {
			return err
		}
	}
	for _, n := range v.Nodes {
		n.Sched.Start()
	}
	return nil
}

func (v *VirtualHarness) Stop() {
	v.Cancel(fmt.Errorf("stopping harness"))
	for _, n := range v.Nodes {
		if n.Sched != nil {
			n.Sched.Stop()
		}
		if n.Core != nil {
			_ = n.Core.Close()
		}
	}
}

// Step advances the shared clock.
func (v *VirtualHarness) Step(d time.Duration) {
	v.Clock.Add(d)
}

func (v *VirtualHarness) SetDown(e mock.Edge, down bool) {
	v.Net.SetDown(e.LinkName(), down)
}

func (v *VirtualHarness) SetLoss(e mock.Edge, p float64) {
	v.Net.SetLoss(e.LinkName(), p)
}

// Symmetric reports whether from has a symmetric link to to over e.
func (v *VirtualHarness) Symmetric(e mock.Edge, from, to string) bool {
	l := v.link(e, from, to)
	return l != nil && l.Status == core.StatusSymmetric
}

// Linked reports whether from has any link tuple towards to over e.
func (v *VirtualHarness) Linked(e mock.Edge, from, to string) bool {
	return v.link(e, from, to) != nil
}

func (v *VirtualHarness) link(e mock.Edge, from, to string) *core.LinkInfo {
	peer := v.Node(to).Addr(e.LinkName())
	for _, l := range v.Node(from).Core.Links(e.LinkName()) {
		if slices.Contains(l.Addrs, peer) {
			return &l
		}
	}
	return nil
}

// LinkMetricIn returns the incoming metric of from's link to to over e, or
// zero without a link.
func (v *VirtualHarness) LinkMetricIn(e mock.Edge, from, to string) uint32 {
	if l := v.link(e, from, to); l != nil {
		return l.MetricIn
	}
	return 0
}

// HasTwoHop reports whether a 2-hop tuple for a exists on any interface of name.
func (v *VirtualHarness) HasTwoHop(name string, a store.Addr) bool {
	n := v.Node(name)
	for _, ic := range n.Cfg.Interfaces {
		for _, t := range n.Core.TwoHops(ic.Name) {
			if t.Addr == a {
				return true
			}
		}
	}
	return false
}

// Converged reports whether every live edge is symmetric from both sides
// and every node knows each neighbour of its neighbours through a 2-hop tuple.
func (v *VirtualHarness) Converged(down ...mock.Edge) bool {
	live := slices.DeleteFunc(slices.Clone(v.Edges), func(e mock.Edge) bool {
		return slices.Contains(down, e)
	})
	for _, e := range live {
		if !v.Symmetric(e, e.V1, e.V2) || !v.Symmetric(e, e.V2, e.V1) {
			return false
		}
	}
	for _, e := range live {
		for _, pair := range [][2]string{{e.V1, e.V2}, {e.V2, e.V1}} {
			self, mid := pair[0], pair[1]
			for _, f := range live {
				if f == e || (f.V1 != mid && f.V2 != mid) {
					continue
				}
				far := f.V1
				if far == mid {
					far = f.V2
				}
				if far == self {
					continue
				}
				if !v.HasTwoHop(self, v.Node(far).Addr(f.LinkName())) {
					return false
				}
			}
		}
	}
	return true
}

// Forgotten reports whether neither end of e has a link tuple for the other.
func (v *VirtualHarness) Forgotten(e mock.Edge) bool {
	return !v.Linked(e, e.V1, e.V2) && !v.Linked(e, e.V2, e.V1)
}
