package kg

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemMetricsRequests(t *testing.T) {
	m := NewInMemMetrics()

	m.RecordRequest("get", "/stats", 200, 12)
	m.RecordRequest("GET", "/stats", 200, 4)
	m.RecordRequest("GET", "/stats", 500, 40)
	m.RecordRequest("POST", "/build", 202, 1500)

	snap := m.Snapshot()

	stats, ok := snap.RouteStats["GET /stats"]
	require.True(t, ok, "method should be upper-cased into the key")
	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, int64(1), stats.ErrorCount)
	assert.Equal(t, int64(56), stats.LatencySumMS)
	assert.Equal(t, int64(4), stats.LatencyMinMS)
	assert.Equal(t, int64(40), stats.LatencyMaxMS)

	assert.Equal(t, int64(1), snap.RouteStats["POST /build"].Count)
	assert.Len(t, snap.RecentRequests, 4)
	assert.Equal(t, "GET", snap.RecentRequests[0].Method)
}

func TestInMemMetricsRecentRingBuffer(t *testing.T) {
	m := NewInMemMetrics()

	for i := 0; i < metricsRecentCapacity+25; i++ {
		m.RecordRequest("GET", fmt.Sprintf("/runs/%d", i), 200, 1)
	}

	snap := m.Snapshot()
	require.Len(t, snap.RecentRequests, metricsRecentCapacity)
	// oldest surviving entry is the 26th request
	assert.Equal(t, "/runs/25", snap.RecentRequests[0].Path)
	assert.Equal(t, fmt.Sprintf("/runs/%d", metricsRecentCapacity+24),
		snap.RecentRequests[len(snap.RecentRequests)-1].Path)
}

func TestInMemMetricsPhases(t *testing.T) {
	m := NewInMemMetrics()

	m.RecordPhase(PhaseSchemaGenerated, 30, nil)
	m.RecordPhase(PhaseSchemaGenerated, 70, nil)
	m.RecordPhase(PhaseDomainGraphBuilt, 400, errors.New("connection refused"))

	snap := m.Snapshot()

	schema := snap.PhaseStats[string(PhaseSchemaGenerated)]
	assert.Equal(t, int64(2), schema.Count)
	assert.Equal(t, int64(0), schema.ErrorCount)
	assert.Equal(t, int64(100), schema.LatencySumMS)
	assert.Equal(t, int64(70), schema.LatencyMaxMS)

	domain := snap.PhaseStats[string(PhaseDomainGraphBuilt)]
	assert.Equal(t, int64(1), domain.ErrorCount)
}

func TestInMemMetricsBuilds(t *testing.T) {
	m := NewInMemMetrics()

	m.RecordBuild("supply-chain", 9000, 120, 340, nil)
	m.RecordBuild("supply-chain", 7000, 5, 10, errors.New("reset failed"))
	m.RecordBuild("  ", 100, 1, 1, nil)

	snap := m.Snapshot()

	builds := snap.BuildStats["supply-chain"]
	assert.Equal(t, int64(2), builds.Count)
	assert.Equal(t, int64(1), builds.ErrorCount)
	assert.Equal(t, int64(125), builds.TotalNodes)
	assert.Equal(t, int64(350), builds.TotalRelationships)
	assert.Equal(t, int64(9000), builds.LatencyMaxMS)

	_, ok := snap.BuildStats["default"]
	assert.True(t, ok, "blank dataset IDs normalize to default")
}

func TestInMemMetricsSnapshotIsolation(t *testing.T) {
	m := NewInMemMetrics()
	m.RecordRequest("GET", "/healthz", 200, 1)

	snap := m.Snapshot()
	snap.RouteStats["GET /healthz"] = RouteStats{Count: 999}

	again := m.Snapshot()
	assert.Equal(t, int64(1), again.RouteStats["GET /healthz"].Count,
		"mutating a snapshot must not affect recorded data")
	assert.False(t, again.StartTime.IsZero())
}

func TestNoopMetrics(t *testing.T) {
	var m Metrics = NoopMetrics{}
	m.RecordRequest("GET", "/stats", 200, 1)
	m.RecordPhase(PhaseComplete, 1, nil)
	m.RecordBuild("ds", 1, 1, 1, nil)
	assert.Empty(t, m.Snapshot().RouteStats)
}
