package state

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/encodeous/nhdp/store"
	"github.com/stretchr/testify/assert"
)

func TestNameValidator_Valid(t *testing.T) {
	assert.NoError(t, NameValidator("1"))
	assert.NoError(t, NameValidator("ab_cd"))
	assert.NoError(t, NameValidator("abcd-a.com"))
}

func TestNameValidator_Invalid(t *testing.T) {
	assert.Error(t, NameValidator("1A"))
	assert.Error(t, NameValidator("node name"))
	assert.Error(t, NameValidator(""))
	assert.Error(t, NameValidator("\t"))
	assert.Error(t, NameValidator("abcd-a.com\\hi"))
	assert.Error(t, NameValidator(strings.Repeat("a", 200)))
}

func validConfig() Config {
	return DefaultConfig("node", "wlan0", store.MustParseAddr("10.0.0.1"))
}

func TestConfigValidator(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"default", func(c *Config) {}, true},
		{"unknown metric", func(c *Config) { c.Metric = "etx" }, false},
		{"hold shorter than interval", func(c *Config) {
			c.Interfaces[0].HoldTime = time.Second
			c.Interfaces[0].HelloInterval = 2 * time.Second
		}, false},
		{"tiny payload", func(c *Config) { c.Interfaces[0].MaxPayload = 10 }, false},
		{"no addresses", func(c *Config) { c.Interfaces[0].Addresses = nil }, false},
		{"duplicate address", func(c *Config) {
			c.Interfaces[0].Addresses = append(c.Interfaces[0].Addresses, store.MustParseAddr("10.0.0.1"))
		}, false},
		{"address on two interfaces", func(c *Config) {
			c.Interfaces = append(c.Interfaces, InterfaceCfg{Name: "eth0", Passive: true, Addresses: []store.Addr{store.MustParseAddr("10.0.0.1")}})
		}, false},
		{"duplicate interface", func(c *Config) {
			c.Interfaces = append(c.Interfaces, InterfaceCfg{Name: "wlan0", Passive: true, Addresses: []store.Addr{store.MustParseAddr("10.0.0.2")}})
		}, false},
		{"only passive", func(c *Config) { c.Interfaces[0].Passive = true }, false},
		{"passive extra", func(c *Config) {
			c.Interfaces = append(c.Interfaces, InterfaceCfg{Name: "eth0", Passive: true, Addresses: []store.Addr{store.MustParseAddr("192.168.0.1")}})
		}, true},
		{"negative capacity", func(c *Config) { c.MaxNeighbors = -1 }, false},
		{"unicast group", func(c *Config) { c.Transport.GroupV6 = netip.MustParseAddr("fe80::1") }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := ConfigValidator(&c)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
