//go:build integration

package integration

import (
	"testing"
	"time"

	"github.com/encodeous/nhdp/mock"
	"github.com/encodeous/nhdp/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func startHarness(t *testing.T, metric state.MetricKind) *VirtualHarness {
	t.Helper()
	edges, cfgs := mock.MockCfg(metric)
	vh := NewHarness(edges, cfgs)
	require.NoError(t, vh.Start())
	t.Cleanup(vh.Stop)
	return vh
}

func (v *VirtualHarness) eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		v.Step(50 * time.Millisecond)
		return cond()
	}, 20*time.Second, 2*time.Millisecond, msg)
}

func TestMeshConverges(t *testing.T) {
	opt := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, opt) })

	for _, metric := range []state.MetricKind{state.MetricHopCount, state.MetricDAT} {
		t.Run(string(metric), func(t *testing.T) {
			vh := startHarness(t, metric)
			vh.eventually(t, func() bool { return vh.Converged() }, "mesh did not converge")

			kat := vh.Node("kat")
			assert.Len(t, kat.Core.Neighbors(), 4)
			for _, nb := range kat.Core.Neighbors() {
				assert.True(t, nb.Symmetric)
			}
			// jeb is both a neighbour of bob and a neighbour of bob's neighbour kat
			assert.True(t, vh.HasTwoHop("bob", vh.Node("jeb").Addr("jeb-kat")))
			assert.False(t, vh.HasTwoHop("bob", vh.Node("bob").Addr("bob-jeb")))
		})
	}
}

func TestPartitionHeals(t *testing.T) {
	opt := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, opt) })

	vh := startHarness(t, state.MetricHopCount)
	vh.eventually(t, func() bool { return vh.Converged() }, "mesh did not converge")

	// isolate eve and ada from kat
	cut := []mock.Edge{{"kat", "ada"}, {"kat", "eve"}}
	for _, e := range cut {
		vh.SetDown(e, true)
	}
	vh.eventually(t, func() bool {
		return vh.Forgotten(cut[0]) && vh.Forgotten(cut[1]) &&
			!vh.HasTwoHop("bob", vh.Node("eve").Addr("kat-eve")) &&
			!vh.HasTwoHop("bob", vh.Node("ada").Addr("kat-ada"))
	}, "cut links were not forgotten")
	assert.True(t, vh.Converged(cut...))
	assert.Len(t, vh.Node("kat").Core.Neighbors(), 2)
	assert.Len(t, vh.Node("eve").Core.Neighbors(), 1)

	for _, e := range cut {
		vh.SetDown(e, false)
	}
	vh.eventually(t, func() bool { return vh.Converged() }, "mesh did not heal")
}

func TestLossyMeshConverges(t *testing.T) {
	opt := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, opt) })

	vh := startHarness(t, state.MetricHopCount)
	for _, e := range vh.Edges {
		vh.SetLoss(e, 0.2)
	}
	vh.eventually(t, func() bool { return vh.Converged() }, "lossy mesh did not converge")
}

func TestLossRaisesDATMetric(t *testing.T) {
	opt := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, opt) })

	vh := startHarness(t, state.MetricDAT)
	lossy := mock.Edge{V1: "kat", V2: "eve"}
	clean := mock.Edge{V1: "bob", V2: "kat"}
	vh.SetLoss(lossy, 0.3)

	vh.eventually(t, func() bool {
		in := vh.LinkMetricIn(lossy, "kat", "eve")
		ref := vh.LinkMetricIn(clean, "kat", "bob")
		return in != 0 && ref != 0 && in > ref
	}, "lossy link is not more expensive")
}
