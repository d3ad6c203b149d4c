package core

import (
	"fmt"
	"time"

	"github.com/encodeous/nhdp/perf"
	"github.com/encodeous/nhdp/rfc5444"
	"github.com/encodeous/nhdp/state"
)

// Metric estimates the cost of a link. It is chosen once per core.
type Metric interface {
	Kind() state.MetricKind
	// Initial is the metric of a link nothing is known about yet.
	Initial() uint32
	// Advertised reports whether metrics are carried in HELLOs.
	Advertised() bool
	// Deferred reports whether new links stay pending until the first Refresh.
	Deferred() bool
	InitLink(l *LinkTuple, now time.Time)
	// ProcessMessage records the INTERVAL_TIME declared by a HELLO, zero if absent.
	ProcessMessage(l *LinkTuple, interval time.Duration, now time.Time)
	// ProcessPacket records a received packet. outgoing is the metric the
	// neighbour measured for our transmissions, zero if not advertised.
	ProcessPacket(l *LinkTuple, outgoing uint32, seqno uint16, hasSeq bool, now time.Time)
	// Refresh runs once per metric interval and updates metricIn and the lost flag.
	Refresh(l *LinkTuple, now time.Time)
}

func NewMetric(cfg *state.Config) (Metric, error) {
	switch cfg.Metric {
	case state.MetricHopCount, "":
		return HopCount{}, nil
	case state.MetricDAT:
		return NewDirectionalAirtime(cfg.DAT), nil
	default:
		return nil, fmt.Errorf("unknown metric %q", cfg.Metric)
	}
}

// HopCount rates every link 1.
type HopCount struct{}

func (HopCount) Kind() state.MetricKind { return state.MetricHopCount }
func (HopCount) Initial() uint32        { return 1 }
func (HopCount) Advertised() bool       { return false }
func (HopCount) Deferred() bool         { return false }

func (HopCount) InitLink(*LinkTuple, time.Time)                            {}
func (HopCount) ProcessMessage(*LinkTuple, time.Duration, time.Time)       {}
func (HopCount) ProcessPacket(*LinkTuple, uint32, uint16, bool, time.Time) {}

func (HopCount) Refresh(l *LinkTuple, _ time.Time) {
	l.metricIn, l.metricOut = 1, 1
}

// linkQuality is the per-link state of the directional airtime metric: a ring
// of received/expected packet counts, one slot per refresh interval.
type linkQuality struct {
	received []uint32
	total    []uint32
	pos      int
	lastSeq  uint16
	hasSeq   bool
	interval time.Duration
	lastPkt  time.Time
	missed   int
}

// DirectionalAirtime implements DAT: the expected transmission count, from
// packet loss over a sliding window, scaled by the link bitrate.
type DirectionalAirtime struct {
	cfg     state.DATCfg
	bitrate uint64
}

const datScale = 1 << 24

// maxMissed bounds the HELLO timeouts accounted between two packets.
const maxMissed = 255

func NewDirectionalAirtime(cfg state.DATCfg) *DirectionalAirtime {
	if cfg.Memory <= 0 {
		cfg.Memory = state.DATMemory
	}
	if cfg.TimeoutFactor < 1 {
		cfg.TimeoutFactor = state.DATHelloTimeoutFactor
	}
	if cfg.RestartDetect == 0 {
		cfg.RestartDetect = state.DATSeqnoRestartDetect
	}
	if cfg.MinBitrate == 0 {
		cfg.MinBitrate = state.DATMinBitrate
	}
	if cfg.MaxLoss == 0 {
		cfg.MaxLoss = state.DATMaximumLoss
	}
	return &DirectionalAirtime{cfg: cfg, bitrate: max(cfg.DefaultBitrate, cfg.MinBitrate)}
}

func (d *DirectionalAirtime) Kind() state.MetricKind { return state.MetricDAT }
func (d *DirectionalAirtime) Initial() uint32        { return rfc5444.MaxMetric }
func (d *DirectionalAirtime) Advertised() bool       { return true }
func (d *DirectionalAirtime) Deferred() bool         { return true }

func (d *DirectionalAirtime) InitLink(l *LinkTuple, now time.Time) {
	l.quality = linkQuality{
		received: make([]uint32, d.cfg.Memory),
		total:    make([]uint32, d.cfg.Memory),
	}
}

func (d *DirectionalAirtime) ProcessMessage(l *LinkTuple, interval time.Duration, now time.Time) {
	if interval > 0 {
		l.quality.interval = interval
	}
}

func (d *DirectionalAirtime) ProcessPacket(l *LinkTuple, outgoing uint32, seqno uint16, hasSeq bool, now time.Time) {
	q := &l.quality
	if outgoing != 0 {
		l.metricOut = outgoing
	}
	missed := q.missed
	q.lastPkt = now
	q.missed = 0
	switch {
	case !hasSeq || !q.hasSeq:
		q.received[q.pos]++
		q.total[q.pos]++
	default:
		diff := seqno - q.lastSeq
		switch {
		case diff == 0:
			// duplicate packet
		case diff >= d.cfg.RestartDetect:
			// the neighbour restarted its sequence numbers
			clear(q.received)
			clear(q.total)
			q.received[q.pos] = 1
			q.total[q.pos] = 1
		default:
			q.received[q.pos]++
			counted := min(uint16(missed), diff-1)
			q.total[q.pos] += uint32(diff - counted)
		}
	}
	if hasSeq {
		q.lastSeq = seqno
		q.hasSeq = true
	}
}

func (d *DirectionalAirtime) Refresh(l *LinkTuple, now time.Time) {
	q := &l.quality
	if len(q.total) == 0 {
		return
	}
	if q.interval > 0 && !q.lastPkt.IsZero() {
		timeout := time.Duration(float64(q.interval) * d.cfg.TimeoutFactor)
		for q.missed < maxMissed && now.Sub(q.lastPkt) > timeout*time.Duration(q.missed+1) {
			q.total[q.pos]++
			q.missed++
			perf.HellosMissed.Add(1)
		}
	}
	var recv, total uint64
	for i := range q.total {
		recv += uint64(q.received[i])
		total += uint64(q.total[i])
	}
	switch {
	case total == 0:
	case recv == 0:
		l.metricIn = rfc5444.MaxMetric
	default:
		loss := min(total*datScale/recv, d.cfg.MaxLoss*datScale)
		m := loss / d.bitrate
		l.metricIn = uint32(min(max(m, uint64(rfc5444.MinMetric)), uint64(rfc5444.MaxMetric)))
	}
	l.lost = l.metricIn >= rfc5444.MaxMetric && total > 0

	q.pos = (q.pos + 1) % len(q.total)
	q.received[q.pos] = 0
	q.total[q.pos] = 0
}

// RefreshMetrics runs the periodic metric update over every link and
// propagates the best link metric to each neighbour. It returns when it
// should run next.
func (c *Core) RefreshMetrics() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	c.refreshAllMetrics(now)
	return now.Add(c.cfg.MetricInterval)
}

func (c *Core) refreshAllMetrics(now time.Time) {
	for _, i := range c.ifaces {
		for _, l := range append([]*LinkTuple(nil), i.links...) {
			wasLost := l.lost
			c.metric.Refresh(l, now)
			if l.pending {
				c.log.Debug("link metric known", "iface", i.id, "addrs", c.addrs(l.addrs), "metric", l.metricIn)
				l.pending = false
			}
			if l.lost != wasLost {
				c.log.Debug("link quality changed", "iface", i.id, "addrs", c.addrs(l.addrs), "lost", l.lost, "metric", l.metricIn)
			}
			c.refreshLinkStatus(l, now)
		}
	}
	for _, nb := range c.neighbors {
		c.deriveNeighborMetric(nb)
	}
}

// deriveNeighborMetric sets the neighbour metrics to the best of its links.
func (c *Core) deriveNeighborMetric(nb *NeighborTuple) {
	in, out := c.metric.Initial(), c.metric.Initial()
	found := false
	for _, i := range c.ifaces {
		for _, l := range i.links {
			if l.nb != nb {
				continue
			}
			found = true
			in = min(in, l.metricIn)
			out = min(out, l.metricOut)
		}
	}
	if found {
		nb.metricIn, nb.metricOut = in, out
	}
}
