package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"leak-sentinel/internal/config"
	"leak-sentinel/internal/heapstat"
	"leak-sentinel/internal/leakcheck"
	"leak-sentinel/internal/logging"
	"leak-sentinel/internal/server"
)

// Driver runs one measurement: baseline probe, request burst, post-load
// probe, settle wait, delayed probe. Strictly sequential so growth is
// attributable to request count alone.
type Driver struct {
	cfg        *config.Config
	client     *http.Client
	classifier *leakcheck.Classifier
	log        *logging.Logger

	// sleep is replaceable so tests skip the settle wait.
	sleep func(time.Duration)
}

func New(cfg *config.Config) *Driver {
	return &Driver{
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.RequestTimeout()},
		classifier: leakcheck.NewClassifier(cfg),
		sleep:      time.Sleep,
	}
}

// SetLogger attaches the NDJSON measurement log. Optional.
func (d *Driver) SetLogger(l *logging.Logger) {
	d.log = l
}

// Measurement is the full outcome of one run.
type Measurement struct {
	Baseline heapstat.Snapshot
	PostLoad heapstat.Snapshot
	Delayed  heapstat.Snapshot

	RequestCount int
	LoadDuration time.Duration

	BurstDelta  leakcheck.DeltaReport
	SettleDelta leakcheck.DeltaReport
	Burst       leakcheck.Classification
	Settle      leakcheck.Classification
}

// Overall is the maximum severity across both phases.
func (m *Measurement) Overall() leakcheck.Severity {
	if m.Settle.Overall > m.Burst.Overall {
		return m.Settle.Overall
	}
	return m.Burst.Overall
}

// HeapAvailable reports whether object-level stats were present.
func (m *Measurement) HeapAvailable() bool {
	return m.BurstDelta.HeapAvailable
}

// Run executes the measurement. Any failing step aborts the whole run.
func (d *Driver) Run(ctx context.Context) (*Measurement, error) {
	m := &Measurement{RequestCount: d.cfg.RequestCount}

	var err error
	if m.Baseline, err = d.probe(ctx); err != nil {
		return nil, fmt.Errorf("baseline probe: %w", err)
	}
	d.logSnapshot("baseline", m.Baseline)

	if m.LoadDuration, err = d.burst(ctx); err != nil {
		return nil, fmt.Errorf("load burst: %w", err)
	}

	if m.PostLoad, err = d.probe(ctx); err != nil {
		return nil, fmt.Errorf("post-load probe: %w", err)
	}
	d.logSnapshot("post_load", m.PostLoad)

	m.BurstDelta = leakcheck.Diff(m.Baseline, m.PostLoad)
	m.Burst = d.classifier.ClassifyBurst(m.BurstDelta)
	d.logClassification("burst", m.BurstDelta, m.Burst)

	d.sleep(d.cfg.SettleWait())

	if m.Delayed, err = d.probe(ctx); err != nil {
		return nil, fmt.Errorf("delayed probe: %w", err)
	}
	d.logSnapshot("delayed", m.Delayed)

	m.SettleDelta = leakcheck.Diff(m.PostLoad, m.Delayed)
	m.Settle = d.classifier.ClassifySettle(m.SettleDelta)
	d.logClassification("settle", m.SettleDelta, m.Settle)

	return m, nil
}

func (d *Driver) probe(ctx context.Context) (heapstat.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.TargetURL+"/memory", nil)
	if err != nil {
		return heapstat.Snapshot{}, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return heapstat.Snapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return heapstat.Snapshot{}, fmt.Errorf("probe returned %d", resp.StatusCode)
	}

	var body server.MemoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return heapstat.Snapshot{}, fmt.Errorf("decode probe body: %w", err)
	}

	return SnapshotFromResponse(body), nil
}

func (d *Driver) burst(ctx context.Context) (time.Duration, error) {
	url := d.cfg.TargetURL + "/health"
	start := time.Now()

	for i := 0; i < d.cfg.RequestCount; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, err
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return 0, fmt.Errorf("request %d: %w", i+1, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("request %d: status %d", i+1, resp.StatusCode)
		}
	}

	return time.Since(start), nil
}

// SnapshotFromResponse reconstructs a snapshot from the probe body.
// Memory fields come back at MB precision; heap figures are exact.
func SnapshotFromResponse(body server.MemoryResponse) heapstat.Snapshot {
	ts, err := time.Parse(time.RFC3339, body.Timestamp)
	if err != nil {
		ts = time.Now()
	}

	snap := heapstat.Snapshot{
		Timestamp: ts,
		Process: heapstat.ProcessMemory{
			RSSBytes:       body.Memory.Usage.RSS << 20,
			HeapUsedBytes:  body.Memory.Usage.HeapUsed << 20,
			HeapTotalBytes: body.Memory.Usage.HeapTotal << 20,
			ExternalBytes:  body.Memory.Usage.External << 20,
			OffHeapBytes:   body.Memory.Usage.ArrayBuffers << 20,
		},
	}

	if body.Heap != nil {
		snap.Heap = &heapstat.Stats{
			HeapSizeBytes:        body.Heap.HeapSizeBytes,
			HeapCapacityBytes:    body.Heap.HeapCapacityBytes,
			ExtraMemoryBytes:     body.Heap.ExtraMemoryBytes,
			ObjectCount:          body.Heap.ObjectCount,
			ProtectedObjectCount: body.Heap.ProtectedObjectCount,
			ObjectTypeCounts:     body.Heap.ObjectTypeCounts,
		}
	}
	return snap
}

// ExitCode maps the overall severity to the process exit code.
func ExitCode(m *Measurement) int {
	switch m.Overall() {
	case leakcheck.SeverityCritical:
		return 3
	case leakcheck.SeverityModerate:
		return 2
	default:
		return 0
	}
}

func (d *Driver) logSnapshot(phase string, snap heapstat.Snapshot) {
	if d.log == nil {
		return
	}
	_ = d.log.LogSnapshot(phase, snap)
}

func (d *Driver) logClassification(phase string, delta leakcheck.DeltaReport, cls leakcheck.Classification) {
	if d.log == nil {
		return
	}
	_ = d.log.LogClassification(phase, delta, cls)
}
