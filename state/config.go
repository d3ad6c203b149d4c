package state

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/encodeous/nhdp/store"
	"github.com/goccy/go-yaml"
)

type MetricKind string

const (
	MetricHopCount MetricKind = "hopcount"
	MetricDAT      MetricKind = "dat"
)

// InterfaceCfg is one local interface. Passive interfaces only contribute
// their addresses to HELLOs sent on the MANET interfaces.
type InterfaceCfg struct {
	Name          string
	Addresses     []store.Addr
	Passive       bool          `yaml:",omitempty"`
	HelloInterval time.Duration `yaml:"hello_interval,omitempty"`
	HoldTime      time.Duration `yaml:"hold_time,omitempty"`   // advertised VALIDITY_TIME
	MaxPayload    int           `yaml:"max_payload,omitempty"` // largest packet handed to the transport
}

type DATCfg struct {
	Memory         int     `yaml:",omitempty"`                // number of refresh intervals remembered
	TimeoutFactor  float64 `yaml:"timeout_factor,omitempty"`  // a HELLO is lost after interval*factor
	RestartDetect  uint16  `yaml:"restart_detect,omitempty"`  // seqno gap treated as a neighbour restart
	MinBitrate     uint64  `yaml:"min_bitrate,omitempty"`     // bits/s
	DefaultBitrate uint64  `yaml:"default_bitrate,omitempty"` // assumed link speed when unknown
	MaxLoss        uint64  `yaml:"max_loss,omitempty"`        // loss ratio above which a link costs no more
}

type TransportCfg struct {
	Port           int            `yaml:",omitempty"`
	GroupV4        netip.Addr     `yaml:"group_v4"`
	GroupV6        netip.Addr     `yaml:"group_v6"`
	DisableIPv4    bool           `yaml:"disable_ipv4,omitempty"`
	DisableIPv6    bool           `yaml:"disable_ipv6,omitempty"`
	AcceptPrefixes []netip.Prefix `yaml:"accept_prefixes,omitempty"` // if not empty, packets from other sources are ignored
	DedupWindow    time.Duration  `yaml:"dedup_window,omitempty"`
}

// Config is the node-level configuration of nhdpd.
type Config struct {
	Name             string
	Metric           MetricKind    `yaml:",omitempty"`
	DAT              DATCfg        `yaml:"dat,omitempty"`
	LinkHoldTime     time.Duration `yaml:"link_hold_time,omitempty"`
	NeighborHoldTime time.Duration `yaml:"neighbor_hold_time,omitempty"`
	MetricInterval   time.Duration `yaml:"metric_interval,omitempty"`
	StoreCapacity    int           `yaml:"store_capacity,omitempty"`  // address records, 0 is unbounded
	MaxLinkTuples    int           `yaml:"max_link_tuples,omitempty"` // per interface, 0 is unbounded
	MaxNeighbors     int           `yaml:"max_neighbors,omitempty"`   // 0 is unbounded
	LogPath          string        `yaml:"log_path,omitempty"`        // if not empty, nhdpd will also write to this file
	Transport        TransportCfg  `yaml:",omitempty"`
	Interfaces       []InterfaceCfg
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Metric == "" {
		c.Metric = MetricHopCount
	}
	if c.LinkHoldTime == 0 {
		c.LinkHoldTime = LinkHoldTime
	}
	if c.NeighborHoldTime == 0 {
		c.NeighborHoldTime = NeighborHoldTime
	}
	if c.MetricInterval == 0 {
		c.MetricInterval = MetricInterval
	}
	if c.DAT.Memory == 0 {
		c.DAT.Memory = DATMemory
	}
	if c.DAT.TimeoutFactor == 0 {
		c.DAT.TimeoutFactor = DATHelloTimeoutFactor
	}
	if c.DAT.RestartDetect == 0 {
		c.DAT.RestartDetect = DATSeqnoRestartDetect
	}
	if c.DAT.MinBitrate == 0 {
		c.DAT.MinBitrate = DATMinBitrate
	}
	if c.DAT.MaxLoss == 0 {
		c.DAT.MaxLoss = DATMaximumLoss
	}
	if c.DAT.DefaultBitrate == 0 {
		c.DAT.DefaultBitrate = c.DAT.MinBitrate
	}
	if c.Transport.Port == 0 {
		c.Transport.Port = ManetPort
	}
	if !c.Transport.GroupV4.IsValid() {
		c.Transport.GroupV4 = ManetGroupV4
	}
	if !c.Transport.GroupV6.IsValid() {
		c.Transport.GroupV6 = ManetGroupV6
	}
	if c.Transport.DedupWindow == 0 {
		c.Transport.DedupWindow = PacketDedupWindow
	}
	for i := range c.Interfaces {
		c.Interfaces[i].ApplyDefaults()
	}
}

func (i *InterfaceCfg) ApplyDefaults() {
	if i.Passive {
		return
	}
	if i.HelloInterval == 0 {
		i.HelloInterval = HelloInterval
	}
	if i.HoldTime == 0 {
		i.HoldTime = HelloHoldTime
	}
	if i.MaxPayload == 0 {
		i.MaxPayload = DefaultMaxPayload
	}
}

// DefaultConfig returns a config with a single MANET interface and every default applied.
func DefaultConfig(name string, ifName string, addr store.Addr) Config {
	c := Config{
		Name: name,
		Interfaces: []InterfaceCfg{{
			Name:      ifName,
			Addresses: []store.Addr{addr},
		}},
	}
	c.ApplyDefaults()
	return c
}

// ReadConfig loads, defaults and validates a config file.
func ReadConfig(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	err = yaml.Unmarshal(file, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	err = ConfigValidator(&cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func WriteConfig(path string, cfg *Config) error {
	bytes, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, bytes, 0600)
}

// Interface returns the config of the named interface.
func (c *Config) Interface(name string) (*InterfaceCfg, bool) {
	for i := range c.Interfaces {
		if c.Interfaces[i].Name == name {
			return &c.Interfaces[i], true
		}
	}
	return nil, false
}
