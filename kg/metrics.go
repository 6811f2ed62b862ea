package kg

import (
	"runtime"
	"strings"
	"sync"
	"time"
)

// Metrics records pipeline and HTTP activity for the /metrics endpoint.
type Metrics interface {
	RecordRequest(method, path string, status int, latencyMS int64)
	RecordPhase(phase Phase, latencyMS int64, err error)
	RecordBuild(datasetID string, latencyMS int64, nodes, relationships int64, err error)
	Snapshot() MetricsSnapshot
}

type RouteStats struct {
	Count        int64 `json:"count"`
	ErrorCount   int64 `json:"error_count"`
	LatencySumMS int64 `json:"latency_sum_ms"`
	LatencyMinMS int64 `json:"latency_min_ms"`
	LatencyMaxMS int64 `json:"latency_max_ms"`
}

type PhaseStats struct {
	Count        int64 `json:"count"`
	ErrorCount   int64 `json:"error_count"`
	LatencySumMS int64 `json:"latency_sum_ms"`
	LatencyMaxMS int64 `json:"latency_max_ms"`
}

type BuildStats struct {
	Count              int64 `json:"count"`
	ErrorCount         int64 `json:"error_count"`
	LatencySumMS       int64 `json:"latency_sum_ms"`
	LatencyMaxMS       int64 `json:"latency_max_ms"`
	TotalNodes         int64 `json:"total_nodes"`
	TotalRelationships int64 `json:"total_relationships"`
}

type RecentRequest struct {
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

type RuntimeStats struct {
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	Goroutines     int    `json:"goroutines"`
	NumGC          uint32 `json:"num_gc"`
	GCPauseNS      uint64 `json:"gc_pause_ns"`
}

type MetricsSnapshot struct {
	RouteStats     map[string]RouteStats `json:"route_stats"`
	PhaseStats     map[string]PhaseStats `json:"phase_stats"`
	BuildStats     map[string]BuildStats `json:"build_stats"`
	RecentRequests []RecentRequest       `json:"recent_requests"`
	Runtime        RuntimeStats          `json:"runtime"`
	UptimeSeconds  int64                 `json:"uptime_seconds"`
	StartTime      time.Time             `json:"start_time"`
}

// noop implementation: used when metrics are disabled.
type NoopMetrics struct{}

func (NoopMetrics) RecordRequest(method, path string, status int, latencyMS int64) {}

func (NoopMetrics) RecordPhase(phase Phase, latencyMS int64, err error) {}

func (NoopMetrics) RecordBuild(datasetID string, latencyMS int64, nodes, relationships int64, err error) {
}

func (NoopMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{}
}

const metricsRecentCapacity = 200

// in-memory implementation: records metrics into local maps and a ring
// buffer of recent requests.
type InMemMetrics struct {
	mu sync.Mutex

	routeStats map[string]RouteStats
	phaseStats map[string]PhaseStats
	buildStats map[string]BuildStats

	recent      []RecentRequest
	recentNext  int
	recentCount int

	startTime time.Time
}

func NewInMemMetrics() *InMemMetrics {
	return &InMemMetrics{
		routeStats: make(map[string]RouteStats),
		phaseStats: make(map[string]PhaseStats),
		buildStats: make(map[string]BuildStats),
		recent:     make([]RecentRequest, metricsRecentCapacity),
		startTime:  time.Now().UTC(),
	}
}

func (m *InMemMetrics) RecordRequest(method, path string, status int, latencyMS int64) {
	if m == nil {
		return
	}

	method = strings.TrimSpace(strings.ToUpper(method))
	path = strings.TrimSpace(path)
	if method == "" {
		method = "UNKNOWN"
	}
	if path == "" {
		path = "/"
	}
	if latencyMS < 0 {
		latencyMS = 0
	}

	key := method + " " + path

	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.routeStats[key]
	v.Count++
	if status >= 400 {
		v.ErrorCount++
	}
	v.LatencySumMS += latencyMS
	if v.Count == 1 || latencyMS < v.LatencyMinMS {
		v.LatencyMinMS = latencyMS
	}
	if latencyMS > v.LatencyMaxMS {
		v.LatencyMaxMS = latencyMS
	}
	m.routeStats[key] = v

	m.appendRecentLocked(RecentRequest{
		Method:    method,
		Path:      path,
		Status:    status,
		LatencyMS: latencyMS,
		Timestamp: time.Now().UTC(),
	})
}

func (m *InMemMetrics) RecordPhase(phase Phase, latencyMS int64, err error) {
	if m == nil {
		return
	}
	if latencyMS < 0 {
		latencyMS = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.phaseStats[string(phase)]
	v.Count++
	if err != nil {
		v.ErrorCount++
	}
	v.LatencySumMS += latencyMS
	if latencyMS > v.LatencyMaxMS {
		v.LatencyMaxMS = latencyMS
	}
	m.phaseStats[string(phase)] = v
}

func (m *InMemMetrics) RecordBuild(datasetID string, latencyMS int64, nodes, relationships int64, err error) {
	if m == nil {
		return
	}
	datasetID = normalizeMetricsDatasetID(datasetID)
	if latencyMS < 0 {
		latencyMS = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.buildStats[datasetID]
	v.Count++
	if err != nil {
		v.ErrorCount++
	}
	v.LatencySumMS += latencyMS
	if latencyMS > v.LatencyMaxMS {
		v.LatencyMaxMS = latencyMS
	}
	v.TotalNodes += nodes
	v.TotalRelationships += relationships
	m.buildStats[datasetID] = v
}

func (m *InMemMetrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}

	m.mu.Lock()
	out := MetricsSnapshot{
		RouteStats:     copyMap(m.routeStats),
		PhaseStats:     copyMap(m.phaseStats),
		BuildStats:     copyMap(m.buildStats),
		RecentRequests: m.recentSnapshotLocked(),
		StartTime:      m.startTime,
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
	}
	m.mu.Unlock()

	// read mem stats outside the lock: runtime.ReadMemStats stops the world
	// and holding m.mu during that pause would block all record calls.
	var rt runtime.MemStats
	runtime.ReadMemStats(&rt)
	out.Runtime = RuntimeStats{
		HeapAllocBytes: rt.HeapAlloc,
		Goroutines:     runtime.NumGoroutine(),
		NumGC:          rt.NumGC,
		GCPauseNS:      rt.PauseTotalNs,
	}

	return out
}

func (m *InMemMetrics) appendRecentLocked(entry RecentRequest) {
	m.recent[m.recentNext] = entry
	m.recentNext = (m.recentNext + 1) % len(m.recent)
	if m.recentCount < len(m.recent) {
		m.recentCount++
	}
}

func (m *InMemMetrics) recentSnapshotLocked() []RecentRequest {
	if m.recentCount == 0 {
		return []RecentRequest{}
	}
	out := make([]RecentRequest, 0, m.recentCount)
	start := (m.recentNext - m.recentCount + len(m.recent)) % len(m.recent)
	for i := 0; i < m.recentCount; i++ {
		idx := (start + i) % len(m.recent)
		out = append(out, m.recent[idx])
	}
	return out
}

func normalizeMetricsDatasetID(datasetID string) string {
	datasetID = strings.TrimSpace(datasetID)
	if datasetID == "" {
		return "default"
	}
	return datasetID
}

// copyMap returns a shallow copy of a map with string keys.
func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
