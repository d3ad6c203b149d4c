package mock

import (
	"fmt"
	"time"

	"github.com/encodeous/nhdp/state"
	"github.com/encodeous/nhdp/store"
)

// Edge is a shared broadcast link between two nodes.
type Edge struct {
	V1, V2 string
}

// LinkName is the name of the broadcast domain of an edge.
func (e Edge) LinkName() string {
	return e.V1 + "-" + e.V2
}

// NodeAddr is the deterministic IPv4 address of node idx on its link-th interface.
func NodeAddr(idx, link int) store.Addr {
	return store.MustParseAddr(fmt.Sprintf("10.%d.%d.1", idx+1, link+1))
}

// MockCfg returns the five node topology used by the tests: one MANET
// interface per edge, with fast timers.
func MockCfg(metric state.MetricKind) ([]Edge, []state.Config) {
	names := []string{
		"bob",
		"jeb",
		"kat",
		"eve",
		"ada",
	}
	edges := []Edge{
		{"bob", "jeb"},
		{"bob", "kat"},
		{"jeb", "kat"},
		{"kat", "ada"},
		{"kat", "eve"},
		{"eve", "ada"},
	}
	return edges, TopologyCfg(names, edges, metric)
}

// TopologyCfg builds one config per node, with an interface for every edge it is part of.
func TopologyCfg(names []string, edges []Edge, metric state.MetricKind) []state.Config {
	cfgs := make([]state.Config, 0, len(names))
	for i, name := range names {
		cfg := state.Config{
			Name:             name,
			Metric:           metric,
			LinkHoldTime:     300 * time.Millisecond,
			NeighborHoldTime: 300 * time.Millisecond,
			MetricInterval:   50 * time.Millisecond,
		}
		n := 0
		for _, e := range edges {
			if e.V1 != name && e.V2 != name {
				continue
			}
			cfg.Interfaces = append(cfg.Interfaces, state.InterfaceCfg{
				Name:          e.LinkName(),
				Addresses:     []store.Addr{NodeAddr(i, n)},
				HelloInterval: 100 * time.Millisecond,
				HoldTime:      300 * time.Millisecond,
			})
			n++
		}
		cfg.ApplyDefaults()
		cfgs = append(cfgs, cfg)
	}
	return cfgs
}
