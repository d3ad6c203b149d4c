package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/encodeous/nhdp/rfc5444"
	"github.com/encodeous/nhdp/state"
	"github.com/encodeous/nhdp/store"
	"github.com/stretchr/testify/require"
)

var (
	localAddrs = map[string]string{"wlan0": "10.0.0.1", "wlan1": "10.0.1.1"}
	validities = []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 6 * time.Second}
)

// randomHello builds a well formed HELLO from a neighbour whose addresses are
// drawn from a small pool, so neighbours often renumber and merge.
func randomHello(t *testing.T, r *rand.Rand, iface string, pool []string) ([]byte, store.Addr) {
	perm := r.Perm(len(pool))
	own := perm[:1+r.IntN(3)]
	rest := perm[len(own):]

	var entries []rfc5444.AddrEntry
	var src store.Addr
	if r.IntN(4) == 0 {
		// sender only known from the source address
		src = addr(pool[own[0]])
	} else {
		entries = append(entries, thisIf(pool[own[0]]))
	}
	for _, i := range own[1:] {
		entries = append(entries, otherIf(pool[i]))
	}
	switch r.IntN(4) {
	case 0:
		entries = append(entries, linkStatus(localAddrs[iface], rfc5444.LinkStatusSymmetric))
	case 1:
		entries = append(entries, linkStatus(localAddrs[iface], rfc5444.LinkStatusHeard))
	case 2:
		entries = append(entries, linkStatus(localAddrs[iface], rfc5444.LinkStatusLost))
	}
	for _, i := range rest[:r.IntN(min(4, len(rest)))] {
		switch r.IntN(5) {
		case 0:
			entries = append(entries, linkStatus(pool[i], rfc5444.LinkStatusSymmetric))
		case 1:
			entries = append(entries, linkStatus(pool[i], rfc5444.LinkStatusHeard))
		case 2:
			entries = append(entries, linkStatus(pool[i], rfc5444.LinkStatusLost))
		case 3:
			entries = append(entries, otherNeighb(pool[i], rfc5444.OtherNeighbSymmetric))
		default:
			entries = append(entries, otherNeighb(pool[i], rfc5444.OtherNeighbLost))
		}
	}
	if r.IntN(8) == 0 {
		// our other interface, echoed back
		for id, a := range localAddrs {
			if id != iface {
				entries = append(entries, otherNeighb(a, rfc5444.OtherNeighbSymmetric))
			}
		}
	}
	v := validities[r.IntN(len(validities))]
	return encodePkt(t, uint16(r.IntN(1<<16)), helloMsg(v, v/2, entries...)), src
}

func TestRandomizedInvariants(t *testing.T) {
	pool := make([]string, 10)
	for i := range pool {
		pool[i] = fmt.Sprintf("10.0.2.%d", i+1)
	}
	for _, kind := range []state.MetricKind{state.MetricHopCount, state.MetricDAT} {
		t.Run(string(kind), func(t *testing.T) {
			r := rand.New(rand.NewPCG(6130, uint64(len(kind))))
			c, clk := newTestCore(t, func(cfg *state.Config) {
				cfg.Metric = kind
				cfg.LinkHoldTime = 2 * time.Second
				cfg.NeighborHoldTime = 2 * time.Second
				cfg.DAT.Memory = 4
			})
			c.transport = &captureTransport{}
			for id, a := range localAddrs {
				register(t, c, id, a)
			}

			for step := 0; step < 3000; step++ {
				clk.Add(time.Duration(r.IntN(1500)) * time.Millisecond)
				c.Housekeeping()
				audit(t, c)

				ifaces := c.Interfaces()
				iface := ifaces[r.IntN(len(ifaces))]
				switch op := r.IntN(10); {
				case op < 6:
					pkt, src := randomHello(t, r, iface, pool)
					_, err := c.HandlePacket(iface, src, pkt)
					require.True(t, err == nil || errors.Is(err, ErrDropped), "step %d: %v", step, err)
				case op < 8:
					_, err := c.SendHello(context.Background(), iface)
					require.NoError(t, err)
				case op < 9:
					c.RefreshMetrics()
				default:
					if r.IntN(5) == 0 {
						require.NoError(t, c.DeregisterInterface(iface))
						audit(t, c)
						register(t, c, iface, localAddrs[iface])
					}
				}
				audit(t, c)
				if t.Failed() {
					t.Fatalf("invariant broken at step %d\n%s", step, c.Inspect())
				}
			}
		})
	}
}
