package mock

import (
	"context"
	"testing"

	"github.com/encodeous/nhdp/state"
	"github.com/encodeous/nhdp/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockCfgIsValid(t *testing.T) {
	edges, cfgs := MockCfg(state.MetricDAT)
	require.Len(t, cfgs, 5)
	seen := make(map[store.Addr]string)
	for _, cfg := range cfgs {
		require.NoError(t, state.ConfigValidator(&cfg), cfg.Name)
		assert.Equal(t, state.MetricDAT, cfg.Metric)
		for _, ic := range cfg.Interfaces {
			for _, a := range ic.Addresses {
				_, dup := seen[a]
				assert.False(t, dup, "%s reused by %s", a, cfg.Name)
				seen[a] = cfg.Name
			}
		}
	}
	n := 0
	for _, cfg := range cfgs {
		n += len(cfg.Interfaces)
	}
	assert.Equal(t, 2*len(edges), n, "one interface per edge end")
}

type recv struct {
	iface string
	src   store.Addr
	buf   []byte
}

func collect(ep *Endpoint) *[]recv {
	var got []recv
	ep.SetHandler(func(iface string, src store.Addr, buf []byte) {
		got = append(got, recv{iface, src, buf})
	})
	return &got
}

func TestNetworkBroadcast(t *testing.T) {
	n := NewNetwork()
	a, b, c := n.Endpoint("a"), n.Endpoint("b"), n.Endpoint("c")
	a.Attach("wlan0", "lan", NodeAddr(0, 0))
	b.Attach("wlan0", "lan", NodeAddr(1, 0))
	c.Attach("wlan0", "other", NodeAddr(2, 0))
	ga, gb, gc := collect(a), collect(b), collect(c)

	require.NoError(t, a.Send(context.Background(), "wlan0", []byte{1, 2, 3}))
	assert.Empty(t, *ga, "no loopback")
	require.Len(t, *gb, 1)
	assert.Equal(t, recv{"wlan0", NodeAddr(0, 0), []byte{1, 2, 3}}, (*gb)[0])
	assert.Empty(t, *gc)
	assert.Len(t, a.SentPackets(), 1)

	assert.ErrorIs(t, a.Send(context.Background(), "wlan9", nil), ErrNotAttached)

	n.SetDown("lan", true)
	require.NoError(t, a.Send(context.Background(), "wlan0", []byte{4}))
	assert.Len(t, *gb, 1)
	n.SetDown("lan", false)

	n.SetLoss("lan", 1)
	require.NoError(t, a.Send(context.Background(), "wlan0", []byte{5}))
	assert.Len(t, *gb, 1)
	n.SetLoss("lan", 0)

	b.Detach("wlan0")
	require.NoError(t, a.Send(context.Background(), "wlan0", []byte{6}))
	assert.Len(t, *gb, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Send(ctx, "wlan0", nil), context.Canceled)
}
