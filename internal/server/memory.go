package server

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sort"
	"time"

	"leak-sentinel/internal/config"
	"leak-sentinel/internal/heapstat"
)

// Fixed probe-side thresholds. The classifier tables are configurable;
// these drive the free-text advice in the response only.
const (
	highUsageRSSMB     = 512
	criticalRSSMB      = 1024
	utilizationLimit   = 80
	objectCountLimit   = 100000
	topObjectTypeLimit = 10
)

// MemoryResponse is the GET /memory body. The driver decodes this
// shape back into a heapstat.Snapshot.
type MemoryResponse struct {
	Timestamp      string          `json:"timestamp"`
	Memory         MemorySection   `json:"memory"`
	Heap           *HeapSection    `json:"heap"`
	LeakIndicators []string        `json:"leakIndicators"`
	Snapshot       *SnapshotResult `json:"snapshot,omitempty"`
}

type MemorySection struct {
	Usage UsageMB `json:"usage"`
	Trend Trend   `json:"trend"`
}

// UsageMB reports process memory in integer-rounded megabytes.
type UsageMB struct {
	RSS          uint64 `json:"rss"`
	HeapUsed     uint64 `json:"heapUsed"`
	HeapTotal    uint64 `json:"heapTotal"`
	External     uint64 `json:"external"`
	ArrayBuffers uint64 `json:"arrayBuffers"`
}

type Trend struct {
	HeapUtilization int      `json:"heapUtilization"`
	HighUsage       bool     `json:"highUsage"`
	Recommendations []string `json:"recommendations"`
}

type HeapSection struct {
	HeapSizeBytes        uint64            `json:"heapSizeBytes"`
	HeapCapacityBytes    uint64            `json:"heapCapacityBytes"`
	ExtraMemoryBytes     uint64            `json:"extraMemoryBytes"`
	HeapSizeMB           uint64            `json:"heapSizeMB"`
	HeapCapacityMB       uint64            `json:"heapCapacityMB"`
	ExtraMemoryMB        uint64            `json:"extraMemoryMB"`
	ObjectCount          uint64            `json:"objectCount"`
	ProtectedObjectCount uint64            `json:"protectedObjectCount"`
	ObjectTypeCounts     map[string]uint64 `json:"objectTypeCounts"`
	TopObjectTypes       []TypeCount       `json:"topObjectTypes"`
	HTTPObjects          map[string]uint64 `json:"httpObjects"`
}

type TypeCount struct {
	Type  string `json:"type"`
	Count uint64 `json:"count"`
}

type SnapshotResult struct {
	Created   bool   `json:"created"`
	Filename  string `json:"filename,omitempty"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Stub points for tests.
var (
	collectSnapshot  = func(c *heapstat.Collector) (heapstat.Snapshot, error) { return c.Collect() }
	writeHeapProfile = pprof.WriteHeapProfile
)

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	snap, err := collectSnapshot(s.collector)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:     "memory stats unavailable",
			Message:   err.Error(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	resp := BuildMemoryResponse(snap, s.cfg)
	if r.URL.Query().Get("snapshot") == "true" {
		result := writeSnapshotFile(s.cfg.SnapshotDir, time.Now())
		resp.Snapshot = &result
	}

	writeJSON(w, http.StatusOK, resp)
}

// BuildMemoryResponse shapes a snapshot into the probe body. Pure.
func BuildMemoryResponse(snap heapstat.Snapshot, cfg *config.Config) MemoryResponse {
	usage := UsageMB{
		RSS:          megabytes(snap.Process.RSSBytes),
		HeapUsed:     megabytes(snap.Process.HeapUsedBytes),
		HeapTotal:    megabytes(snap.Process.HeapTotalBytes),
		External:     megabytes(snap.Process.ExternalBytes),
		ArrayBuffers: megabytes(snap.Process.OffHeapBytes),
	}

	var objectCount uint64
	var heap *HeapSection
	if snap.Heap != nil {
		objectCount = snap.Heap.ObjectCount
		heap = buildHeapSection(*snap.Heap, cfg)
	}

	resp := MemoryResponse{
		Timestamp: snap.Timestamp.UTC().Format(time.RFC3339),
		Memory: MemorySection{
			Usage: usage,
			Trend: buildTrend(usage, objectCount),
		},
		Heap: heap,
	}
	if snap.Heap != nil {
		resp.LeakIndicators = leakIndicators(snap.Heap.ObjectTypeCounts, cfg.Indicators)
	}
	return resp
}

func buildHeapSection(stats heapstat.Stats, cfg *config.Config) *HeapSection {
	sec := &HeapSection{
		HeapSizeBytes:        stats.HeapSizeBytes,
		HeapCapacityBytes:    stats.HeapCapacityBytes,
		ExtraMemoryBytes:     stats.ExtraMemoryBytes,
		HeapSizeMB:           megabytes(stats.HeapSizeBytes),
		HeapCapacityMB:       megabytes(stats.HeapCapacityBytes),
		ExtraMemoryMB:        megabytes(stats.ExtraMemoryBytes),
		ObjectCount:          stats.ObjectCount,
		ProtectedObjectCount: stats.ProtectedObjectCount,
		ObjectTypeCounts:     stats.ObjectTypeCounts,
		HTTPObjects:          make(map[string]uint64, 3),
	}

	// Deterministic input order for the ranking: name order, then
	// stable sort by count.
	entries := make([]TypeCount, 0, len(stats.ObjectTypeCounts))
	names := make([]string, 0, len(stats.ObjectTypeCounts))
	for name := range stats.ObjectTypeCounts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entries = append(entries, TypeCount{Type: name, Count: stats.ObjectTypeCounts[name]})
	}
	sec.TopObjectTypes = RankObjectTypes(entries, topObjectTypeLimit)

	for _, name := range []string{config.TypeHTTPHeader, config.TypeHTTPResponse, config.TypeHTTPRequest} {
		sec.HTTPObjects[name] = stats.ObjectTypeCounts[name]
	}
	return sec
}

// RankObjectTypes orders entries by count descending, keeping input
// order for ties, and truncates to limit.
func RankObjectTypes(entries []TypeCount, limit int) []TypeCount {
	ranked := make([]TypeCount, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Count > ranked[j].Count })
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func buildTrend(usage UsageMB, objectCount uint64) Trend {
	trend := Trend{
		HeapUtilization: heapUtilization(usage.HeapUsed, usage.HeapTotal),
		HighUsage:       usage.RSS > highUsageRSSMB,
		Recommendations: []string{},
	}
	if trend.HeapUtilization > utilizationLimit {
		trend.Recommendations = append(trend.Recommendations, "heap utilization high - investigate leaks")
	}
	if usage.RSS > criticalRSSMB {
		trend.Recommendations = append(trend.Recommendations, "rss above 1024MB - consider a restart or memory limit")
	}
	if objectCount > objectCountLimit {
		trend.Recommendations = append(trend.Recommendations, "object count high - inspect object growth")
	}
	return trend
}

func heapUtilization(usedMB, totalMB uint64) int {
	if totalMB == 0 {
		return 0
	}
	return int(math.Round(float64(usedMB) / float64(totalMB) * 100))
}

func leakIndicators(counts map[string]uint64, indicators []config.Indicator) []string {
	var out []string
	for _, ind := range indicators {
		if n := counts[ind.Type]; n > ind.Limit {
			out = append(out, fmt.Sprintf("%s count %d exceeds %d - possible leak", ind.Type, n, ind.Limit))
		}
	}
	return out
}

// writeSnapshotFile dumps a heap profile under dir. Failures are
// reported in the result, never as a request error.
func writeSnapshotFile(dir string, now time.Time) SnapshotResult {
	result := SnapshotResult{Timestamp: now.UTC().Format(time.RFC3339)}

	if err := os.MkdirAll(dir, 0755); err != nil {
		result.Error = err.Error()
		return result
	}

	name := fmt.Sprintf("heap-%d.pprof", now.Unix())
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer f.Close()

	if err := writeHeapProfile(f); err != nil {
		result.Error = err.Error()
		os.Remove(path)
		return result
	}

	result.Created = true
	result.Filename = name
	return result
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func megabytes(b uint64) uint64 {
	return uint64(math.Round(float64(b) / (1024 * 1024)))
}
