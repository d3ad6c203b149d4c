package core

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/nhdp/rfc5444"
	"github.com/encodeous/nhdp/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func datCore(t *testing.T, mut func(cfg *state.Config)) (*Core, *clock.Mock) {
	c, clk := newTestCore(t, func(cfg *state.Config) {
		cfg.Metric = state.MetricDAT
		if mut != nil {
			mut(cfg)
		}
	})
	register(t, c, "wlan0", "10.0.0.1")
	return c, clk
}

func TestNewMetric(t *testing.T) {
	m, err := NewMetric(&state.Config{})
	require.NoError(t, err)
	assert.Equal(t, state.MetricHopCount, m.Kind())
	assert.False(t, m.Advertised())

	m, err = NewMetric(&state.Config{Metric: state.MetricDAT})
	require.NoError(t, err)
	assert.Equal(t, state.MetricDAT, m.Kind())
	assert.Equal(t, rfc5444.MaxMetric, m.Initial())

	_, err = NewMetric(&state.Config{Metric: "etx"})
	assert.Error(t, err)
}

func TestHopCount(t *testing.T) {
	c, _ := newTestCore(t, nil)
	register(t, c, "wlan0", "10.0.0.1")
	deliver(t, c, "wlan0", "", symHello(t, 0))
	c.RefreshMetrics()
	l := findLink(c, "wlan0", "10.0.0.2")
	require.NotNil(t, l)
	assert.Equal(t, uint32(1), l.MetricIn)
	assert.Equal(t, uint32(1), l.MetricOut)
	nb := findNeighbor(c, "10.0.0.2")
	assert.Equal(t, uint32(1), nb.MetricIn)
}

func TestDATLoss(t *testing.T) {
	c, clk := datCore(t, nil)
	seq := uint16(0)
	step := func() {
		deliver(t, c, "wlan0", "", symHello(t, seq))
		clk.Add(time.Second)
		c.RefreshMetrics()
		audit(t, c)
	}
	for ; seq < 10; seq++ {
		step()
	}
	// 10 of 10 received at the minimum bitrate
	assert.Equal(t, uint32(16777), findLink(c, "wlan0", "10.0.0.2").MetricIn)
	assert.Equal(t, uint32(16777), findNeighbor(c, "10.0.0.2").MetricIn)

	// every other packet lost: 14 of 18 received
	for seq = 11; seq < 19; seq += 2 {
		step()
	}
	assert.Equal(t, uint32(21570), findLink(c, "wlan0", "10.0.0.2").MetricIn)

	// a sequence number jump past the restart threshold resets the history
	seq = 17 + 300
	step()
	assert.Equal(t, uint32(16777), findLink(c, "wlan0", "10.0.0.2").MetricIn)
}

func TestDATLinkLost(t *testing.T) {
	c, clk := datCore(t, func(cfg *state.Config) {
		cfg.DAT.Memory = 2
	})
	pkt := func(seq uint16) []byte {
		return encodePkt(t, seq, helloMsg(validity, time.Second,
			thisIf("10.0.0.2"),
			linkStatus("10.0.0.1", rfc5444.LinkStatusSymmetric),
		))
	}
	deliver(t, c, "wlan0", "", pkt(0))
	for range 3 {
		clk.Add(time.Second)
		c.RefreshMetrics()
		audit(t, c)
	}
	l := findLink(c, "wlan0", "10.0.0.2")
	require.NotNil(t, l)
	assert.True(t, l.Lost)
	assert.Equal(t, StatusLost, l.Status)
	assert.Equal(t, rfc5444.MaxMetric, l.MetricIn)
	assert.False(t, findNeighbor(c, "10.0.0.2").Symmetric)

	// reception resumes
	clk.Add(500 * time.Millisecond)
	deliver(t, c, "wlan0", "", pkt(1))
	assert.Equal(t, StatusLost, findLink(c, "wlan0", "10.0.0.2").Status)
	clk.Add(500 * time.Millisecond)
	c.RefreshMetrics()
	audit(t, c)
	l = findLink(c, "wlan0", "10.0.0.2")
	assert.False(t, l.Lost)
	assert.Equal(t, StatusSymmetric, l.Status)
	assert.True(t, findNeighbor(c, "10.0.0.2").Symmetric)
}

func TestDATAdvertisedMetrics(t *testing.T) {
	c, _ := datCore(t, nil)
	pkt := func(seq uint16) []byte {
		return helloPkt(t, seq, validity,
			thisIf("10.0.0.2"),
			linkStatus("10.0.0.1", rfc5444.LinkStatusSymmetric, rfc5444.MetricTLV(rfc5444.MetricLinkIn, 5000)),
			otherNeighb("10.0.0.3", rfc5444.OtherNeighbSymmetric, rfc5444.MetricTLV(rfc5444.MetricNbrIn, 7000)),
		)
	}
	deliver(t, c, "wlan0", "", pkt(0))
	// 2-hop neighbours are only recorded over a symmetric link
	c.RefreshMetrics()
	audit(t, c)
	deliver(t, c, "wlan0", "", pkt(1))
	out := rfc5444.DecodeMetric(rfc5444.EncodeMetric(5000))
	assert.Equal(t, out, findLink(c, "wlan0", "10.0.0.2").MetricOut)
	assert.Equal(t, out, findNeighbor(c, "10.0.0.2").MetricOut)

	th := c.TwoHops("wlan0")
	require.Len(t, th, 1)
	assert.Equal(t, rfc5444.DecodeMetric(rfc5444.EncodeMetric(7000)), th[0].MetricIn)
	assert.Equal(t, rfc5444.MaxMetric, th[0].MetricOut)
}

func TestDATLinkPendingUntilRefresh(t *testing.T) {
	c, clk := datCore(t, nil)
	deliver(t, c, "wlan0", "", symHello(t, 0))
	l := findLink(c, "wlan0", "10.0.0.2")
	require.NotNil(t, l)
	assert.True(t, l.Pending)
	assert.Equal(t, StatusPending, l.Status)
	assert.False(t, findNeighbor(c, "10.0.0.2").Symmetric)

	// still pending after further HELLOs
	deliver(t, c, "wlan0", "", symHello(t, 1))
	assert.Equal(t, StatusPending, findLink(c, "wlan0", "10.0.0.2").Status)

	clk.Add(c.cfg.MetricInterval)
	c.RefreshMetrics()
	audit(t, c)
	l = findLink(c, "wlan0", "10.0.0.2")
	require.NotNil(t, l)
	assert.False(t, l.Pending)
	assert.Equal(t, StatusSymmetric, l.Status)
	assert.Less(t, l.MetricIn, rfc5444.MaxMetric)
	assert.True(t, findNeighbor(c, "10.0.0.2").Symmetric)
}

func TestDATLossIsCapped(t *testing.T) {
	c, clk := datCore(t, nil)
	deliver(t, c, "wlan0", "", symHello(t, 0))
	clk.Add(time.Second)
	c.RefreshMetrics()

	// 19 packets lost: 2 of 21 received
	deliver(t, c, "wlan0", "", symHello(t, 20))
	clk.Add(time.Second)
	c.RefreshMetrics()
	audit(t, c)

	l := findLink(c, "wlan0", "10.0.0.2")
	require.NotNil(t, l)
	// 8 transmissions per packet at the minimum bitrate
	assert.Equal(t, uint32(134217), l.MetricIn)
	assert.False(t, l.Lost)
	assert.Equal(t, StatusSymmetric, l.Status)

	c, clk = datCore(t, func(cfg *state.Config) {
		cfg.DAT.MaxLoss = 32
	})
	deliver(t, c, "wlan0", "", symHello(t, 0))
	clk.Add(time.Second)
	c.RefreshMetrics()
	deliver(t, c, "wlan0", "", symHello(t, 20))
	clk.Add(time.Second)
	c.RefreshMetrics()
	assert.Equal(t, uint32(176160), findLink(c, "wlan0", "10.0.0.2").MetricIn)
}

func TestMetricCodecBounds(t *testing.T) {
	for _, m := range []uint32{rfc5444.MinMetric, 2, 300, 16777, 21570, 1 << 20, rfc5444.MaxMetric} {
		got := rfc5444.DecodeMetric(rfc5444.EncodeMetric(m))
		assert.GreaterOrEqual(t, got, m, "compression rounds up")
		assert.LessOrEqual(t, got, rfc5444.MaxMetric)
	}
}
