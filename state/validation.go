package state

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
)

var namePattern, _ = regexp.Compile("^[0-9a-z._-]+$")

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func InterfaceConfigValidator(i *InterfaceCfg) error {
	if i.Name == "" || len(i.Name) > 64 {
		return fmt.Errorf("interface name %q is invalid", i.Name)
	}
	if len(i.Addresses) == 0 {
		return fmt.Errorf("interface %s has no addresses", i.Name)
	}
	seen := make(map[string]bool)
	for _, a := range i.Addresses {
		if !a.IsValid() {
			return fmt.Errorf("interface %s has an invalid address", i.Name)
		}
		if seen[a.String()] {
			return fmt.Errorf("interface %s lists %s twice", i.Name, a)
		}
		seen[a.String()] = true
	}
	if i.Passive {
		return nil
	}
	if i.HelloInterval <= 0 {
		return fmt.Errorf("interface %s: hello_interval must be positive", i.Name)
	}
	if i.HoldTime < i.HelloInterval {
		return fmt.Errorf("interface %s: hold_time %s is shorter than hello_interval %s", i.Name, i.HoldTime, i.HelloInterval)
	}
	if i.MaxPayload < MinMaxPayload || i.MaxPayload > MaxDatagramSize {
		return fmt.Errorf("interface %s: max_payload %d not in [%d, %d]", i.Name, i.MaxPayload, MinMaxPayload, MaxDatagramSize)
	}
	return nil
}

func ConfigValidator(cfg *Config) error {
	err := NameValidator(cfg.Name)
	if err != nil {
		return err
	}
	switch cfg.Metric {
	case MetricHopCount, MetricDAT:
	default:
		return fmt.Errorf("unknown metric %q, expected %q or %q", cfg.Metric, MetricHopCount, MetricDAT)
	}
	if cfg.LinkHoldTime <= 0 || cfg.NeighborHoldTime <= 0 || cfg.MetricInterval <= 0 {
		return fmt.Errorf("hold times and metric_interval must be positive")
	}
	if cfg.DAT.Memory <= 0 || cfg.DAT.TimeoutFactor < 1 || cfg.DAT.MinBitrate == 0 {
		return fmt.Errorf("dat: memory must be positive, timeout_factor >= 1 and min_bitrate non zero")
	}
	if cfg.StoreCapacity < 0 || cfg.MaxLinkTuples < 0 || cfg.MaxNeighbors < 0 {
		return fmt.Errorf("capacities must not be negative")
	}
	if cfg.Transport.Port <= 0 || cfg.Transport.Port > 0xffff {
		return fmt.Errorf("transport port %d is invalid", cfg.Transport.Port)
	}
	if !cfg.Transport.GroupV4.Is4() || !cfg.Transport.GroupV4.IsMulticast() {
		return fmt.Errorf("group_v4 %s is not an IPv4 multicast address", cfg.Transport.GroupV4)
	}
	if !cfg.Transport.GroupV6.Is6() || !cfg.Transport.GroupV6.IsMulticast() {
		return fmt.Errorf("group_v6 %s is not an IPv6 multicast address", cfg.Transport.GroupV6)
	}
	names := make(map[string]bool)
	owner := make(map[string]string)
	manet := 0
	for idx := range cfg.Interfaces {
		i := &cfg.Interfaces[idx]
		if err := InterfaceConfigValidator(i); err != nil {
			return err
		}
		if names[i.Name] {
			return fmt.Errorf("duplicate interface %s", i.Name)
		}
		names[i.Name] = true
		for _, a := range i.Addresses {
			if o, ok := owner[a.String()]; ok {
				return fmt.Errorf("address %s is assigned to both %s and %s", a, o, i.Name)
			}
			owner[a.String()] = i.Name
		}
		if !i.Passive {
			manet++
		}
	}
	if manet == 0 {
		return fmt.Errorf("at least one non-passive interface is required")
	}
	return nil
}
