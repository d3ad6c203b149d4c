package core

import (
	"fmt"
	"slices"
	"time"

	"github.com/encodeous/nhdp/state"
	"github.com/encodeous/nhdp/store"
)

type Locality uint8

const (
	NotLocal Locality = iota
	LocalToThisIf
	LocalToOtherIf
)

func (l Locality) String() string {
	switch l {
	case LocalToThisIf:
		return "this-if"
	case LocalToOtherIf:
		return "other-if"
	default:
		return "not-local"
	}
}

type InterfaceOpts struct {
	MaxPayload    int
	HelloInterval time.Duration
	HoldTime      time.Duration
}

func (o *InterfaceOpts) applyDefaults() {
	if o.MaxPayload == 0 {
		o.MaxPayload = state.DefaultMaxPayload
	}
	if o.HelloInterval == 0 {
		o.HelloInterval = state.HelloInterval
	}
	if o.HoldTime == 0 {
		o.HoldTime = state.HelloHoldTime
	}
}

// Interface is a Local Information Base entry together with the link set
// learned on it. Passive interfaces only carry addresses.
type Interface struct {
	id      string
	passive bool
	opts    InterfaceOpts
	addrs   []store.Handle
	links   []*LinkTuple
	seqno   uint16
}

func (i *Interface) ID() string {
	return i.id
}

func (i *Interface) Passive() bool {
	return i.passive
}

// RegisterInterface adds a MANET interface with its first local address.
func (c *Core) RegisterInterface(id string, addr store.Addr, opts InterfaceOpts) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.iface(id) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateInterface, id)
	}
	opts.applyDefaults()
	if opts.HoldTime < opts.HelloInterval {
		return fmt.Errorf("interface %s: hold time %s is shorter than hello interval %s", id, opts.HoldTime, opts.HelloInterval)
	}
	if opts.MaxPayload < state.MinMaxPayload {
		return fmt.Errorf("interface %s: max payload %d is below %d", id, opts.MaxPayload, state.MinMaxPayload)
	}
	if err := c.checkUnowned(id, addr); err != nil {
		return err
	}
	h, err := c.store.GetOrCreate(addr)
	if err != nil {
		return err
	}
	c.ifaces = append(c.ifaces, &Interface{id: id, opts: opts, addrs: []store.Handle{h}})
	c.log.Debug("registered interface", "iface", id, "addr", addr)
	return nil
}

// RegisterPassiveAddress adds addr to a non-MANET interface, creating it on first use.
func (c *Core) RegisterPassiveAddress(id string, addr store.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	i := c.iface(id)
	if i != nil && !i.passive {
		return fmt.Errorf("%w: %s is a MANET interface", ErrDuplicateInterface, id)
	}
	if i == nil {
		i = &Interface{id: id, passive: true}
		c.ifaces = append(c.ifaces, i)
	}
	return c.addAddress(i, addr)
}

// AddLocalAddress adds another address to a registered interface. Adding an
// address that is already present is a no-op.
func (c *Core) AddLocalAddress(id string, addr store.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	i := c.iface(id)
	if i == nil {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, id)
	}
	return c.addAddress(i, addr)
}

func (c *Core) addAddress(i *Interface, addr store.Addr) error {
	if h, ok := c.store.Lookup(addr); ok && containsHandle(i.addrs, h) {
		return nil
	}
	if err := c.checkUnowned(i.id, addr); err != nil {
		return err
	}
	h, err := c.store.GetOrCreate(addr)
	if err != nil {
		return err
	}
	i.addrs = append(i.addrs, h)
	c.log.Debug("added local address", "iface", i.id, "addr", addr)
	return nil
}

func (c *Core) checkUnowned(id string, addr store.Addr) error {
	if !addr.IsValid() {
		return store.ErrInvalidAddr
	}
	h, ok := c.store.Lookup(addr)
	if !ok {
		return nil
	}
	for _, i := range c.ifaces {
		if i.id != id && containsHandle(i.addrs, h) {
			return fmt.Errorf("%w: %s on %s", ErrAddressInUse, addr, i.id)
		}
	}
	return nil
}

// DeregisterInterface forgets an interface, its addresses and every link learned on it.
func (c *Core) DeregisterInterface(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.iface(id)
	if i == nil {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, id)
	}
	now := c.clk.Now()
	for _, l := range slices.Clone(i.links) {
		c.removeLink(l, now)
	}
	for _, h := range i.addrs {
		c.release(h)
	}
	i.addrs = nil
	c.ifaces = slices.DeleteFunc(c.ifaces, func(x *Interface) bool { return x == i })
	c.log.Debug("deregistered interface", "iface", id)
	return nil
}

// IsLocal reports whether addr is one of our own addresses, relative to iface.
func (c *Core) IsLocal(iface string, addr store.Addr) Locality {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLocal(c.iface(iface), addr)
}

func (c *Core) isLocal(this *Interface, addr store.Addr) Locality {
	h, ok := c.store.Lookup(addr)
	if !ok {
		return NotLocal
	}
	return c.isLocalHandle(this, h)
}

func (c *Core) isLocalHandle(this *Interface, h store.Handle) Locality {
	for _, i := range c.ifaces {
		if !containsHandle(i.addrs, h) {
			continue
		}
		if i == this {
			return LocalToThisIf
		}
		return LocalToOtherIf
	}
	return NotLocal
}

// Interfaces lists the registered interface ids in registration order.
func (c *Core) Interfaces() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.ifaces))
	for _, i := range c.ifaces {
		out = append(out, i.id)
	}
	return out
}

// LocalAddrs returns the addresses of iface.
func (c *Core) LocalAddrs(iface string) []store.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.iface(iface)
	if i == nil {
		return nil
	}
	return c.addrs(i.addrs)
}

// IsPassive reports whether id is a registered non-MANET interface.
func (c *Core) IsPassive(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.iface(id)
	return i != nil && i.passive
}
