package driver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"leak-sentinel/internal/config"
	"leak-sentinel/internal/leakcheck"
	"leak-sentinel/internal/server"
)

// fakeTarget serves scripted probe bodies and counts health hits.
type fakeTarget struct {
	mu         sync.Mutex
	healthHits int
	probes     int
	bodies     []server.MemoryResponse
	healthCode int
}

func (f *fakeTarget) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.healthHits++
		code := f.healthCode
		f.mu.Unlock()
		if code == 0 {
			code = http.StatusOK
		}
		w.WriteHeader(code)
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("/memory", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		idx := f.probes
		if idx >= len(f.bodies) {
			idx = len(f.bodies) - 1
		}
		f.probes++
		body := f.bodies[idx]
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
	return mux
}

func probeBody(ts time.Time, counts map[string]uint64) server.MemoryResponse {
	body := server.MemoryResponse{
		Timestamp: ts.UTC().Format(time.RFC3339),
		Memory: server.MemorySection{
			Usage: server.UsageMB{RSS: 100, HeapUsed: 40, HeapTotal: 64, External: 8, ArrayBuffers: 1},
		},
	}
	if counts != nil {
		var total uint64
		for _, n := range counts {
			total += n
		}
		body.Heap = &server.HeapSection{
			HeapSizeBytes:     40 << 20,
			HeapCapacityBytes: 64 << 20,
			ObjectCount:       total,
			ObjectTypeCounts:  counts,
		}
	}
	return body
}

func testDriver(t *testing.T, target *fakeTarget, requests int) *Driver {
	t.Helper()

	ts := httptest.NewServer(target.handler())
	t.Cleanup(ts.Close)

	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.TargetURL = ts.URL
	cfg.RequestCount = requests

	return New(cfg)
}

func TestRunClassifiesCriticalLeak(t *testing.T) {
	base := time.Now()
	target := &fakeTarget{
		bodies: []server.MemoryResponse{
			probeBody(base, map[string]uint64{config.TypeHTTPHeader: 54, config.TypeHTTPResponse: 50}),
			probeBody(base.Add(time.Second), map[string]uint64{config.TypeHTTPHeader: 1338, config.TypeHTTPResponse: 1334}),
			probeBody(base.Add(2*time.Second), map[string]uint64{config.TypeHTTPHeader: 1338, config.TypeHTTPResponse: 1334}),
		},
	}

	d := testDriver(t, target, 10)
	var slept time.Duration
	d.sleep = func(dur time.Duration) { slept = dur }

	m, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if target.healthHits != 10 {
		t.Fatalf("expected exactly 10 health requests, got %d", target.healthHits)
	}
	if slept != 120*time.Second {
		t.Fatalf("expected the configured settle wait, got %v", slept)
	}
	if m.BurstDelta.Objects[config.TypeHTTPHeader] != 1284 {
		t.Fatalf("unexpected burst delta: %+v", m.BurstDelta.Objects)
	}
	if m.Burst.Overall != leakcheck.SeverityCritical {
		t.Fatalf("expected critical burst severity, got %s", m.Burst.Overall)
	}
	if m.Settle.Overall != leakcheck.SeverityNone {
		t.Fatalf("expected quiet settle phase, got %s", m.Settle.Overall)
	}
	if ExitCode(m) != 3 {
		t.Fatalf("unexpected exit code: %d", ExitCode(m))
	}
}

func TestRunWithoutHeapStats(t *testing.T) {
	base := time.Now()
	target := &fakeTarget{
		bodies: []server.MemoryResponse{
			probeBody(base, nil),
			probeBody(base.Add(time.Second), nil),
			probeBody(base.Add(2*time.Second), nil),
		},
	}

	d := testDriver(t, target, 5)
	d.sleep = func(time.Duration) {}

	m, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.HeapAvailable() {
		t.Fatalf("heap stats should be absent")
	}
	if ExitCode(m) != 0 {
		t.Fatalf("absent heap stats must exit 0, got %d", ExitCode(m))
	}

	var buf bytes.Buffer
	Render(&buf, m, false)
	scanner := bufio.NewScanner(&buf)
	if !scanner.Scan() {
		t.Fatalf("no report output")
	}
	var line struct {
		Type      string `json:"type"`
		HeapStats bool   `json:"heapStats"`
	}
	if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
		t.Fatalf("decode report line: %v", err)
	}
	if line.Type != "load" || line.HeapStats {
		t.Fatalf("unexpected load line: %+v", line)
	}
	if scanner.Scan() {
		t.Fatalf("severity sections must be omitted without heap stats: %s", scanner.Text())
	}
}

func TestRunAbortsOnFailedHealthRequest(t *testing.T) {
	base := time.Now()
	target := &fakeTarget{
		healthCode: http.StatusInternalServerError,
		bodies:     []server.MemoryResponse{probeBody(base, nil)},
	}

	d := testDriver(t, target, 5)
	d.sleep = func(time.Duration) {}

	if _, err := d.Run(context.Background()); err == nil {
		t.Fatalf("expected the measurement to abort")
	}
	if target.healthHits != 1 {
		t.Fatalf("first failing request must stop the burst, got %d hits", target.healthHits)
	}
}

func TestSnapshotFromResponseRoundTrip(t *testing.T) {
	ts := time.Now().Truncate(time.Second)
	body := probeBody(ts, map[string]uint64{config.TypeHTTPHeader: 7})

	snap := SnapshotFromResponse(body)
	if !snap.Timestamp.Equal(ts.UTC().Truncate(time.Second)) {
		t.Fatalf("timestamp mismatch: %v vs %v", snap.Timestamp, ts)
	}
	if snap.Process.RSSBytes != 100<<20 {
		t.Fatalf("unexpected rss: %d", snap.Process.RSSBytes)
	}
	if snap.Heap == nil || snap.Heap.ObjectTypeCounts[config.TypeHTTPHeader] != 7 {
		t.Fatalf("heap counts lost: %+v", snap.Heap)
	}
}

func TestRenderNDJSONClassificationLines(t *testing.T) {
	base := time.Now()
	target := &fakeTarget{
		bodies: []server.MemoryResponse{
			probeBody(base, map[string]uint64{config.TypeHTTPHeader: 0}),
			probeBody(base.Add(time.Second), map[string]uint64{config.TypeHTTPHeader: 1000}),
			probeBody(base.Add(2*time.Second), map[string]uint64{config.TypeHTTPHeader: 1000}),
		},
	}

	d := testDriver(t, target, 10)
	d.sleep = func(time.Duration) {}

	m, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var buf bytes.Buffer
	Render(&buf, m, false)

	var types []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line struct {
			Type     string `json:"type"`
			Severity string `json:"severity"`
			Phase    string `json:"phase"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		if line.Phase == "burst" && line.Severity != "critical" {
			t.Fatalf("burst line should be critical: %+v", line)
		}
		types = append(types, line.Type)
	}
	want := []string{"load", "classification", "classification", "overall"}
	if len(types) != len(want) {
		t.Fatalf("unexpected lines: %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("line %d: got %s want %s", i, types[i], want[i])
		}
	}
}
