// Package core implements RFC 6130 neighbourhood discovery: the local,
// interface and neighbour information bases, and the HELLO reader and writer
// that maintain them.
//
// A Core is a single mutual exclusion domain. Every exported method takes the
// lock for its whole mutation and returns the time at which the core next
// needs to be woken, so the caller owns all timers.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-broadcast"
	"github.com/encodeous/nhdp/state"
	"github.com/encodeous/nhdp/store"
)

var (
	ErrTableFull          = errors.New("tuple table is full")
	ErrDuplicateInterface = errors.New("interface already registered")
	ErrUnknownInterface   = errors.New("unknown interface")
	ErrPassiveInterface   = errors.New("interface is passive")
	ErrAddressInUse       = errors.New("address is already local to another interface")
	ErrClosed             = errors.New("core is closed")
)

// Transport hands an encoded packet to the link for broadcast on iface.
type Transport interface {
	Send(ctx context.Context, iface string, pkt []byte) error
}

// address classification flags, valid for the duration of one HELLO
const (
	flagThisIf store.Flags = 1 << iota
	flagOtherIf
	flagTwoHopSym
	flagTwoHopRem
	flagEmitted
)

type Options struct {
	Clock     clock.Clock
	Log       *slog.Logger
	Transport Transport
}

type Core struct {
	mu sync.Mutex

	clk       clock.Clock
	log       *slog.Logger
	transport Transport
	cfg       state.Config
	metric    Metric

	store     *store.Store
	ifaces    []*Interface
	neighbors []*NeighborTuple
	lost      []*LostTuple
	seq       uint64

	trace  broadcast.Broadcaster
	closed bool
}

// New creates an empty core. Interfaces are added through the registration methods.
func New(cfg state.Config, opts Options) (*Core, error) {
	cfg.ApplyDefaults()
	m, err := NewMetric(&cfg)
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Core{
		clk:       opts.Clock,
		log:       opts.Log,
		transport: opts.Transport,
		cfg:       cfg,
		metric:    m,
		store:     store.New(cfg.StoreCapacity),
		trace:     broadcast.NewBroadcaster(1024),
	}, nil
}

// Close releases the event stream. Further calls return ErrClosed.
func (c *Core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.trace.Close()
}

func (c *Core) Clock() clock.Clock {
	return c.clk
}

func (c *Core) Config() state.Config {
	return c.cfg
}

func (c *Core) nextSeq() uint64 {
	c.seq++
	return c.seq
}

func (c *Core) addr(h store.Handle) store.Addr {
	return c.store.Addr(h)
}

func (c *Core) addrs(hs []store.Handle) []store.Addr {
	out := make([]store.Addr, len(hs))
	for i, h := range hs {
		out[i] = c.store.Addr(h)
	}
	return out
}

// release drops a table reference. A failure means the reference count
// bookkeeping is broken, which must never be silently ignored.
func (c *Core) release(h store.Handle) {
	if err := c.store.Release(h); err != nil {
		panic(fmt.Sprintf("releasing %s: %v", h, err))
	}
}

func (c *Core) acquire(h store.Handle) {
	if err := c.store.Acquire(h); err != nil {
		panic(fmt.Sprintf("acquiring %s: %v", h, err))
	}
}

func (c *Core) iface(id string) *Interface {
	for _, i := range c.ifaces {
		if i.id == id {
			return i
		}
	}
	return nil
}

func containsHandle(hs []store.Handle, h store.Handle) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}

func intersects(a, b []store.Handle) bool {
	for _, h := range a {
		if containsHandle(b, h) {
			return true
		}
	}
	return false
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// earliest returns the earliest non-zero time.
func earliest(ts ...time.Time) time.Time {
	var out time.Time
	for _, t := range ts {
		if t.IsZero() {
			continue
		}
		if out.IsZero() || t.Before(out) {
			out = t
		}
	}
	return out
}
