package core

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/encodeous/nhdp/store"
)

// Inspect renders every information base as text.
func (c *Core) Inspect() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	sb := strings.Builder{}

	sb.WriteString("Interfaces:\n")
	for _, i := range c.ifaces {
		kind := "manet"
		if i.passive {
			kind = "passive"
		}
		sb.WriteString(fmt.Sprintf(" - %s (%s) %s\n", i.id, kind, fmtAddrs(c.addrs(i.addrs))))
		if i.passive {
			continue
		}
		sb.WriteString("   Links:\n")
		if len(i.links) == 0 {
			sb.WriteString("    (none)\n")
		}
		for _, l := range i.links {
			sb.WriteString(fmt.Sprintf("    - %s %s exp %s in=%d out=%d\n",
				fmtAddrs(c.addrs(l.addrs)), l.status, remaining(l.exp, now), l.metricIn, l.metricOut))
			rt := make([]string, 0, len(l.twoHop))
			for _, t := range l.twoHop {
				rt = append(rt, fmt.Sprintf("      > %s exp %s in=%d out=%d", c.addr(t.addr), remaining(t.exp, now), t.metricIn, t.metricOut))
			}
			slices.Sort(rt)
			for _, r := range rt {
				sb.WriteString(r + "\n")
			}
		}
	}

	sb.WriteString("\n\nNeighbours:\n")
	rt := make([]string, 0, len(c.neighbors))
	for _, nb := range c.neighbors {
		sym := "asym"
		if nb.symmetric {
			sym = "sym"
		}
		rt = append(rt, fmt.Sprintf(" - %s %s in=%d out=%d", fmtAddrs(c.addrs(nb.addrs)), sym, nb.metricIn, nb.metricOut))
	}
	slices.Sort(rt)
	if len(rt) == 0 {
		rt = append(rt, " (none)")
	}
	sb.WriteString(strings.Join(rt, "\n") + "\n")

	sb.WriteString("\n\nLost Neighbours:\n")
	rt = rt[:0]
	for _, t := range c.lost {
		rt = append(rt, fmt.Sprintf(" - %s expires %s", c.addr(t.addr), remaining(t.exp, now)))
	}
	slices.Sort(rt)
	if len(rt) == 0 {
		rt = append(rt, " (none)")
	}
	sb.WriteString(strings.Join(rt, "\n") + "\n")

	sb.WriteString(fmt.Sprintf("\n\nAddress Store: %d records\n", c.store.Len()))
	return sb.String()
}

// ServeHTTP writes Inspect, so a core can be mounted on a debug mux.
func (c *Core) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(c.Inspect()))
}

func fmtAddrs(as []store.Addr) string {
	s := make([]string, len(as))
	for i, a := range as {
		s[i] = a.String()
	}
	return "[" + strings.Join(s, " ") + "]"
}

func remaining(t, now time.Time) string {
	return fmt.Sprintf("%.2fs", t.Sub(now).Seconds())
}
