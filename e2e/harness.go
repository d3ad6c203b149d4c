//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/encodeous/nhdp/state"
	"github.com/encodeous/nhdp/store"
	"github.com/testcontainers/testcontainers-go"
	tcnetwork "github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	ImageName   = "nhdpd-debug:latest"
	DebugAddr   = "127.0.0.1:6060"
	WaitTimeout = 2 * time.Minute
)

// Harness runs nhdpd containers on one docker bridge network, which is a
// single MANET link for all of them.
type Harness struct {
	t          *testing.T
	mu         sync.Mutex
	ctx        context.Context
	Network    *testcontainers.DockerNetwork
	Nodes      map[string]testcontainers.Container
	LogManager *LogManager
	RootDir    string
	Subnet     string
	Gateway    string
}

func findRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find project root")
		}
		dir = parent
	}
}

// NewHarness creates the network of a test. Every test uses its own subnet.
func NewHarness(t *testing.T, subnet, gateway string) *Harness {
	ctx := context.Background()
	rootDir, err := findRoot()
	if err != nil {
		t.Fatal(err)
	}
	nw, err := tcnetwork.New(ctx,
		tcnetwork.WithAttachable(),
		tcnetwork.WithDriver("bridge"),
		tcnetwork.WithIPAM(&network.IPAM{
			Driver: "default",
			Config: []network.IPAMConfig{
				{
					Subnet:  subnet,
					Gateway: gateway,
				},
			},
		}))
	if err != nil {
		t.Fatal(err)
	}
	h := &Harness{
		t:          t,
		ctx:        ctx,
		Network:    nw,
		Nodes:      make(map[string]testcontainers.Container),
		LogManager: NewLogManager(),
		RootDir:    rootDir,
		Subnet:     subnet,
		Gateway:    gateway,
	}
	t.Cleanup(h.Cleanup)
	return h
}

// NodeConfig returns a config with eth0 as the only MANET interface and
// timers short enough for a test to converge within seconds.
func NodeConfig(name, ip string) state.Config {
	return state.Config{
		Name:             name,
		LinkHoldTime:     1500 * time.Millisecond,
		NeighborHoldTime: 1500 * time.Millisecond,
		Transport: state.TransportCfg{
			DisableIPv6: true,
		},
		Interfaces: []state.InterfaceCfg{{
			Name:          "eth0",
			Addresses:     []store.Addr{store.MustParseAddr(ip)},
			HelloInterval: 500 * time.Millisecond,
			HoldTime:      1500 * time.Millisecond,
		}},
	}
}

type NodeSpec struct {
	Name       string
	IP         string
	ConfigPath string
	// Args are appended to the default run command.
	Args []string
}

func (h *Harness) StartNodes(specs ...NodeSpec) {
	var wg sync.WaitGroup
	for _, spec := range specs {
		wg.Go(func() {
			h.StartNode(spec)
		})
	}
	wg.Wait()
}

func (h *Harness) StartNode(spec NodeSpec) testcontainers.Container {
	h.t.Logf("Starting node %s at %s", spec.Name, spec.IP)
	req := testcontainers.ContainerRequest{
		Image:    ImageName,
		Networks: []string{h.Network.Name},
		NetworkAliases: map[string][]string{
			h.Network.Name: {spec.Name},
		},
		Files: []testcontainers.ContainerFile{
			{
				HostFilePath:      spec.ConfigPath,
				ContainerFilePath: "/app/config/node.yaml",
				FileMode:          0644,
			},
		},
		Cmd:        append([]string{"-c", "/app/config/node.yaml", "run", "-v", "--debug", DebugAddr}, spec.Args...),
		WaitingFor: wait.ForLog("nhdpd has been initialized").WithStartupTimeout(30 * time.Second),
		HostConfigModifier: func(hostConfig *container.HostConfig) {
			hostConfig.CapAdd = []string{"NET_ADMIN"}
		},
		EndpointSettingsModifier: func(m map[string]*network.EndpointSettings) {
			if s, ok := m[h.Network.Name]; ok {
				s.IPAMConfig = &network.EndpointIPAMConfig{
					IPv4Address: spec.IP,
				}
			}
		},
		LogConsumerCfg: &testcontainers.LogConsumerConfig{
			Consumers: []testcontainers.LogConsumer{
				&UnifiedLogConsumer{Node: spec.Name, Manager: h.LogManager},
			},
		},
		Name: h.t.Name() + "-" + spec.Name,
	}
	cont, err := testcontainers.GenericContainer(h.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		h.t.Fatalf("failed to start container %s: %v", spec.Name, err)
	}
	h.mu.Lock()
	h.Nodes[spec.Name] = cont
	h.mu.Unlock()
	return cont
}

// WaitForLog blocks until pattern matches the log of node, including lines
// written before the call.
func (h *Harness) WaitForLog(node string, pattern string) {
	h.waitFor(node, pattern, false)
}

// WaitForNewLog only matches lines written after the call.
func (h *Harness) WaitForNewLog(node string, pattern string) {
	h.waitFor(node, pattern, true)
}

func (h *Harness) waitFor(node string, pattern string, fresh bool) {
	h.t.Helper()
	// tint writes to stderr
	sub, err := h.LogManager.Subscribe(node, SourceStderr, pattern, fresh)
	if err != nil {
		h.t.Fatalf("failed to subscribe: %v", err)
	}
	defer h.LogManager.Unsubscribe(sub)

	select {
	case <-sub.MatchCh:
	case <-time.After(WaitTimeout):
		h.PrintLogs(node)
		h.t.Fatalf("timed out waiting for pattern %q in node %s", pattern, node)
	case <-h.ctx.Done():
		h.t.Fatal("context canceled")
	}
}

func (h *Harness) node(name string) testcontainers.Container {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.Nodes[name]
	if !ok {
		h.t.Fatalf("node %s not found", name)
	}
	return c
}

func (h *Harness) Exec(name string, cmd []string) (string, string, error) {
	code, r, err := h.node(name).Exec(h.ctx, cmd)
	if err != nil {
		return "", "", err
	}
	stdoutBuf := new(bytes.Buffer)
	stderrBuf := new(bytes.Buffer)
	if _, err = stdcopy.StdCopy(stdoutBuf, stderrBuf, r); err != nil {
		return "", "", fmt.Errorf("failed to copy output: %w", err)
	}
	stdout := StripAnsi(stdoutBuf.String())
	stderr := StripAnsi(stderrBuf.String())
	if code != 0 {
		return stdout, stderr, fmt.Errorf("command exited with code %d: %s\nStderr: %s", code, stdout, stderr)
	}
	return stdout, stderr, nil
}

// Inspect runs nhdpd inspect inside node against its debug server.
func (h *Harness) Inspect(name string) string {
	out, _, err := h.Exec(name, []string{"nhdpd", "inspect", "--debug", DebugAddr})
	if err != nil {
		h.t.Fatalf("inspect on %s failed: %v", name, err)
	}
	return out
}

func (h *Harness) PrintLogs(name string) {
	r, err := h.node(name).Logs(h.ctx)
	if err != nil {
		h.t.Logf("failed to get logs for %s: %v", name, err)
		return
	}
	defer r.Close()
	buf := new(bytes.Buffer)
	_, _ = io.Copy(buf, r)
	h.t.Logf("Logs for %s:\n%s", name, StripAnsi(buf.String()))
}

func (h *Harness) Stop(name string) {
	timeout := 5 * time.Second
	if err := h.node(name).Stop(h.ctx, &timeout); err != nil {
		h.t.Fatalf("failed to stop %s: %v", name, err)
	}
}

func (h *Harness) Cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, c := range h.Nodes {
		if err := c.Terminate(h.ctx); err != nil {
			h.t.Logf("failed to terminate container %s: %v", name, err)
		}
	}
	if err := h.Network.Remove(context.Background()); err != nil {
		h.t.Logf("failed to remove network: %v", err)
	}
}

// SetupTestDir creates a directory for the current test run
func (h *Harness) SetupTestDir() string {
	dir := filepath.Join(h.RootDir, "e2e", "runs", h.t.Name())
	_ = os.RemoveAll(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		h.t.Fatal(err)
	}
	return dir
}

// WriteConfig writes cfg as YAML into dir.
func (h *Harness) WriteConfig(dir string, cfg state.Config) string {
	path := filepath.Join(dir, cfg.Name+".yaml")
	if err := state.WriteConfig(path, &cfg); err != nil {
		h.t.Fatal(err)
	}
	return path
}
