package core

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/nhdp/state"
	"github.com/encodeous/nhdp/store"
)

// Scheduler drives a Core: one HELLO timer per MANET interface, one metric
// refresh timer and one housekeeping timer. Every timer is re-armed from the
// deadline its entry point returns.
type Scheduler struct {
	core *Core
	clk  clock.Clock
	ctx  context.Context

	// Jitter returns the random advance of a HELLO before its deadline.
	Jitter func(interval time.Duration) time.Duration

	mu       sync.Mutex
	hello    map[string]*clock.Timer
	metric   *clock.Timer
	house    *clock.Timer
	houseAt  time.Time
	stopped  bool
	inflight sync.WaitGroup
}

// helloJitter is RFC 5148 jitter of up to a quarter of the interval.
func helloJitter(interval time.Duration) time.Duration {
	if interval < 4 {
		return 0
	}
	return rand.N(interval / 4)
}

func NewScheduler(ctx context.Context, c *Core) *Scheduler {
	return &Scheduler{
		core:   c,
		clk:    c.Clock(),
		ctx:    ctx,
		Jitter: helloJitter,
		hello:  make(map[string]*clock.Timer),
	}
}

// Start arms the metric and housekeeping timers and a HELLO timer for every
// registered MANET interface. The first HELLOs go out immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	cfg := s.core.Config()
	s.metric = s.clk.AfterFunc(cfg.MetricInterval, s.refreshMetrics)
	s.houseAt = s.clk.Now().Add(state.HousekeepingInterval)
	s.house = s.clk.AfterFunc(state.HousekeepingInterval, s.housekeeping)
	for _, id := range s.core.Interfaces() {
		if !s.core.IsPassive(id) {
			s.armHello(id, 0)
		}
	}
}

// AddInterface registers a MANET interface with the core and starts its HELLOs.
func (s *Scheduler) AddInterface(id string, addr store.Addr, opts InterfaceOpts) error {
	if err := s.core.RegisterInterface(id, addr, opts); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.armHello(id, 0)
	}
	return nil
}

// RemoveInterface cancels the HELLO timer of id and deregisters it.
func (s *Scheduler) RemoveInterface(id string) error {
	s.mu.Lock()
	if t, ok := s.hello[id]; ok {
		t.Stop()
		delete(s.hello, id)
	}
	s.mu.Unlock()
	return s.core.DeregisterInterface(id)
}

// Deliver hands a received packet to the core and pulls the housekeeping
// timer forward when the packet created an earlier expiry.
func (s *Scheduler) Deliver(iface string, src store.Addr, buf []byte) error {
	next, err := s.core.HandlePacket(iface, src, buf)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped && s.house != nil && !next.IsZero() && next.Before(s.houseAt) {
		// a timer that already fired is re-armed by its own callback
		if s.house.Stop() {
			s.houseAt = next
			s.house.Reset(max(next.Sub(s.clk.Now()), 0))
		}
	}
	return err
}

// Stop cancels every timer and waits for running callbacks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.hello {
		t.Stop()
		delete(s.hello, id)
	}
	if s.metric != nil {
		s.metric.Stop()
	}
	if s.house != nil {
		s.house.Stop()
	}
	s.mu.Unlock()
	s.inflight.Wait()
}

// enter registers a running callback; it fails once the scheduler is stopped.
func (s *Scheduler) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Scheduler) armHello(id string, d time.Duration) {
	if t, ok := s.hello[id]; ok {
		t.Stop()
	}
	s.hello[id] = s.clk.AfterFunc(d, func() { s.sendHello(id) })
}

func (s *Scheduler) sendHello(id string) {
	if !s.enter() {
		return
	}
	defer s.inflight.Done()
	next, err := s.core.SendHello(s.ctx, id)
	if err != nil {
		s.core.log.Debug("hello not sent", "iface", id, "err", err)
		if next.IsZero() {
			// the interface is gone
			return
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, ok := s.hello[id]; !ok {
		return
	}
	now := s.clk.Now()
	d := next.Sub(now)
	if s.Jitter != nil {
		d -= s.Jitter(d)
	}
	s.armHello(id, max(d, 0))
}

func (s *Scheduler) refreshMetrics() {
	if !s.enter() {
		return
	}
	defer s.inflight.Done()
	next := s.core.RefreshMetrics()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.metric = s.clk.AfterFunc(max(next.Sub(s.clk.Now()), 0), s.refreshMetrics)
	}
}

func (s *Scheduler) housekeeping() {
	if !s.enter() {
		return
	}
	defer s.inflight.Done()
	next := s.core.Housekeeping()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	now := s.clk.Now()
	fallback := now.Add(state.HousekeepingInterval)
	if next.IsZero() || next.After(fallback) {
		next = fallback
	}
	s.houseAt = next
	s.house = s.clk.AfterFunc(max(next.Sub(now), 0), s.housekeeping)
}
