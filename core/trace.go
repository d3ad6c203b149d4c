package core

import (
	"fmt"
	"time"

	"github.com/encodeous/nhdp/store"
)

type EventKind uint8

const (
	EventLinkHeard EventKind = iota
	EventLinkSymmetric
	EventLinkLost
	EventLinkRemoved
	EventNeighborAdded
	EventNeighborSymmetric
	EventNeighborAsymmetric
	EventNeighborRemoved
	EventTwoHopAdded
	EventTwoHopRemoved
)

var eventNames = [...]string{
	EventLinkHeard:          "link-heard",
	EventLinkSymmetric:      "link-symmetric",
	EventLinkLost:           "link-lost",
	EventLinkRemoved:        "link-removed",
	EventNeighborAdded:      "neighbor-added",
	EventNeighborSymmetric:  "neighbor-symmetric",
	EventNeighborAsymmetric: "neighbor-asymmetric",
	EventNeighborRemoved:    "neighbor-removed",
	EventTwoHopAdded:        "2hop-added",
	EventTwoHopRemoved:      "2hop-removed",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("event(%d)", k)
}

// Event is a change to the information bases. Interface is empty for
// node-wide (neighbour set) events.
type Event struct {
	Kind      EventKind
	Interface string
	Addrs     []store.Addr
	Time      time.Time
}

func (e Event) String() string {
	if e.Interface == "" {
		return fmt.Sprintf("%s %v", e.Kind, e.Addrs)
	}
	return fmt.Sprintf("%s %s %v", e.Kind, e.Interface, e.Addrs)
}

// Subscribe registers ch for every future Event. The channel must be drained;
// events are dropped while the internal buffer is full.
func (c *Core) Subscribe(ch chan<- interface{}) {
	c.trace.Register(ch)
}

func (c *Core) Unsubscribe(ch chan<- interface{}) {
	c.trace.Unregister(ch)
}

func (c *Core) emit(kind EventKind, iface string, addrs []store.Addr) {
	if c.closed {
		return
	}
	c.trace.TrySubmit(Event{Kind: kind, Interface: iface, Addrs: addrs, Time: c.clk.Now()})
}
