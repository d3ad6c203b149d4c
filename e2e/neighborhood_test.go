//go:build e2e

package e2e

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func symmetricPattern(ip string) string {
	return `event=link-symmetric .*` + regexp.QuoteMeta(ip)
}

func TestNeighborhood(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	t.Parallel()

	h := NewHarness(t, "172.30.0.0/24", "172.30.0.1")
	dir := h.SetupTestDir()

	ips := map[string]string{
		"node1": "172.30.0.10",
		"node2": "172.30.0.11",
		"node3": "172.30.0.12",
	}
	var specs []NodeSpec
	for name, ip := range ips {
		specs = append(specs, NodeSpec{Name: name, IP: ip, ConfigPath: h.WriteConfig(dir, NodeConfig(name, ip))})
	}
	h.StartNodes(specs...)

	t.Log("Waiting for symmetric links...")
	for name := range ips {
		for peer, ip := range ips {
			if peer != name {
				h.WaitForLog(name, symmetricPattern(ip))
			}
		}
	}

	out := h.Inspect("node1")
	t.Logf("node1 tables:\n%s", out)
	assert.Contains(t, out, "[172.30.0.11] sym")
	assert.Contains(t, out, "[172.30.0.12] sym")
	// every neighbour reports the others as symmetric, so they are 2-hop neighbours as well
	assert.Regexp(t, `> 172\.30\.0\.12 `, out)
}

func TestNeighborLeaves(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	t.Parallel()

	h := NewHarness(t, "172.30.1.0/24", "172.30.1.1")
	dir := h.SetupTestDir()

	h.StartNodes(
		NodeSpec{Name: "node1", IP: "172.30.1.10", ConfigPath: h.WriteConfig(dir, NodeConfig("node1", "172.30.1.10"))},
		NodeSpec{Name: "node2", IP: "172.30.1.11", ConfigPath: h.WriteConfig(dir, NodeConfig("node2", "172.30.1.11"))},
	)
	h.WaitForLog("node1", symmetricPattern("172.30.1.11"))

	h.Stop("node2")
	h.WaitForLog("node1", `event=link-removed .*172\.30\.1\.11`)
	h.WaitForLog("node1", `event=neighbor-removed .*172\.30\.1\.11`)

	out := h.Inspect("node1")
	assert.NotContains(t, out, "[172.30.1.11]")
}

func TestJSONLogFile(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	t.Parallel()

	h := NewHarness(t, "172.30.2.0/24", "172.30.2.1")
	dir := h.SetupTestDir()

	h.StartNodes(
		NodeSpec{Name: "node1", IP: "172.30.2.10", ConfigPath: h.WriteConfig(dir, NodeConfig("node1", "172.30.2.10")),
			Args: []string{"--json", "--log", "/var/log/nhdpd/nhdpd.log"}},
		NodeSpec{Name: "node2", IP: "172.30.2.11", ConfigPath: h.WriteConfig(dir, NodeConfig("node2", "172.30.2.11"))},
	)
	h.WaitForLog("node1", symmetricPattern("172.30.2.11"))

	out, _, err := h.Exec("node1", []string{"cat", "/var/log/nhdpd/nhdpd.log"})
	require.NoError(t, err)
	found := false
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), "line %q is not json", line)
		if rec["msg"] == "neighbourhood changed" && rec["event"] == "link-symmetric" {
			found = true
		}
	}
	assert.True(t, found, "no link-symmetric record in\n%s", out)
}
