package state

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/encodeous/nhdp/store"
	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
name: node-a
metric: dat
link_hold_time: 9s
dat:
  min_bitrate: 2000
transport:
  accept_prefixes:
    - fe80::/10
interfaces:
  - name: wlan0
    addresses:
      - fe80::1
      - 10.0.0.1
    hello_interval: 1s
    hold_time: 3s
  - name: eth0
    passive: true
    addresses:
      - 192.168.1.1
`

func TestReadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(p, []byte(sampleConfig), 0600))

	cfg, err := ReadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "node-a", cfg.Name)
	assert.Equal(t, MetricDAT, cfg.Metric)
	assert.Equal(t, 9*time.Second, cfg.LinkHoldTime)
	assert.Equal(t, NeighborHoldTime, cfg.NeighborHoldTime)
	assert.Equal(t, uint64(2000), cfg.DAT.MinBitrate)
	assert.Equal(t, DATMemory, cfg.DAT.Memory)
	assert.Equal(t, ManetPort, cfg.Transport.Port)
	assert.Equal(t, ManetGroupV6, cfg.Transport.GroupV6)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("fe80::/10")}, cfg.Transport.AcceptPrefixes)

	require.Len(t, cfg.Interfaces, 2)
	wlan, ok := cfg.Interface("wlan0")
	require.True(t, ok)
	assert.Equal(t, []store.Addr{store.MustParseAddr("fe80::1"), store.MustParseAddr("10.0.0.1")}, wlan.Addresses)
	assert.Equal(t, time.Second, wlan.HelloInterval)
	assert.Equal(t, 3*time.Second, wlan.HoldTime)
	assert.Equal(t, DefaultMaxPayload, wlan.MaxPayload)

	eth, ok := cfg.Interface("eth0")
	require.True(t, ok)
	assert.True(t, eth.Passive)
	assert.Zero(t, eth.HelloInterval)
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig("node-b", "wlan0", store.MustParseAddr("ll:2a"))
	out, err := yaml.Marshal(&cfg)
	require.NoError(t, err)

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, cfg, back)
	assert.NoError(t, ConfigValidator(&back))
}

func TestWrittenConfigNamesGroups(t *testing.T) {
	cfg := DefaultConfig("node-d", "wlan0", store.MustParseAddr("fe80::d"))
	out, err := yaml.Marshal(&cfg)
	require.NoError(t, err)
	assert.Regexp(t, `group_v4: "?224\.0\.0\.109`, string(out))
	assert.Regexp(t, `group_v6: "?ff02::6d`, string(out))

	cfg.Transport.GroupV4 = netip.MustParseAddr("239.1.2.3")
	p := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, WriteConfig(p, &cfg))
	got, err := ReadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("239.1.2.3"), got.Transport.GroupV4)
	assert.Equal(t, ManetGroupV6, got.Transport.GroupV6)
}

func TestWriteConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "node.yaml")
	cfg := DefaultConfig("node-c", "wlan0", store.MustParseAddr("fe80::c"))
	require.NoError(t, WriteConfig(p, &cfg))
	got, err := ReadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, cfg, *got)
}

func TestReadConfig_Invalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(p, []byte("name: Bad Name\ninterfaces: []\n"), 0600))
	_, err := ReadConfig(p)
	assert.Error(t, err)

	_, err = ReadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
