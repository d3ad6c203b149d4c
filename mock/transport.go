package mock

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/encodeous/nhdp/store"
)

var ErrNotAttached = errors.New("interface is not attached to a link")

// Handler receives a packet broadcast on the link an interface is attached to.
type Handler func(iface string, src store.Addr, buf []byte)

type attachment struct {
	ep    *Endpoint
	iface string
	src   store.Addr
}

// Network is an in-memory set of broadcast links. Delivery is synchronous
// and never loops a packet back to its sender.
type Network struct {
	mu    sync.RWMutex
	links map[string][]attachment
	loss  map[string]float64
	down  map[string]bool
}

func NewNetwork() *Network {
	return &Network{
		links: make(map[string][]attachment),
		loss:  make(map[string]float64),
		down:  make(map[string]bool),
	}
}

// Endpoint is the transport of one node.
type Endpoint struct {
	net     *Network
	Name    string
	mu      sync.RWMutex
	handler Handler
	ifaces  map[string]string // iface -> link
	Sent    [][]byte
}

func (n *Network) Endpoint(name string) *Endpoint {
	return &Endpoint{net: n, Name: name, ifaces: make(map[string]string)}
}

// Attach puts iface of e on link. Packets it sends carry src as their source.
func (e *Endpoint) Attach(iface, link string, src store.Addr) {
	e.mu.Lock()
	e.ifaces[iface] = link
	e.mu.Unlock()
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	e.net.links[link] = append(e.net.links[link], attachment{ep: e, iface: iface, src: src})
}

func (e *Endpoint) Detach(iface string) {
	e.mu.Lock()
	link, ok := e.ifaces[iface]
	delete(e.ifaces, iface)
	e.mu.Unlock()
	if !ok {
		return
	}
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	e.net.links[link] = slices.DeleteFunc(e.net.links[link], func(a attachment) bool {
		return a.ep == e && a.iface == iface
	})
}

func (e *Endpoint) SetHandler(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// SetLoss drops packets on link with probability p.
func (n *Network) SetLoss(link string, p float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loss[link] = p
}

// SetDown cuts a link without detaching its interfaces.
func (n *Network) SetDown(link string, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[link] = down
}

func (e *Endpoint) Send(ctx context.Context, iface string, pkt []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	link, ok := e.ifaces[iface]
	if ok {
		e.Sent = append(e.Sent, slices.Clone(pkt))
	}
	e.mu.Unlock()
	if !ok {
		return ErrNotAttached
	}

	e.net.mu.RLock()
	members := slices.Clone(e.net.links[link])
	loss := e.net.loss[link]
	down := e.net.down[link]
	e.net.mu.RUnlock()
	if down {
		return nil
	}

	var src store.Addr
	for _, m := range members {
		if m.ep == e && m.iface == iface {
			src = m.src
		}
	}
	for _, m := range members {
		if m.ep == e {
			continue
		}
		if loss > 0 && rand.Float64() < loss {
			continue
		}
		m.ep.mu.RLock()
		h := m.ep.handler
		m.ep.mu.RUnlock()
		if h != nil {
			h(m.iface, src, slices.Clone(pkt))
		}
	}
	return nil
}

// SentPackets returns a copy of everything e has sent.
func (e *Endpoint) SentPackets() [][]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.Sent)
}
