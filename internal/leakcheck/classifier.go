package leakcheck

import (
	"fmt"
	"time"

	"leak-sentinel/internal/config"
	"leak-sentinel/internal/heapstat"
)

// Severity classifies a delta against the configured thresholds.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityModerate
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityModerate:
		return "moderate"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

// MemoryDelta holds per-field differences of the process memory view,
// in bytes. Negative values mean the field shrank.
type MemoryDelta struct {
	RSSBytes       int64
	HeapUsedBytes  int64
	HeapTotalBytes int64
	ExternalBytes  int64
}

// DeltaReport is the difference between two snapshots.
type DeltaReport struct {
	Interval time.Duration

	Memory MemoryDelta

	// Objects maps tracked type name to live-count delta. Nil when
	// heap introspection was absent on either side.
	Objects       map[string]int64
	HeapAvailable bool
}

// Diff computes the per-field difference between two snapshots. Object
// deltas cover the union of both type-count sets; a type missing on one
// side counts as zero there.
func Diff(before, after heapstat.Snapshot) DeltaReport {
	d := DeltaReport{
		Interval: after.Timestamp.Sub(before.Timestamp),
		Memory: MemoryDelta{
			RSSBytes:       int64(after.Process.RSSBytes) - int64(before.Process.RSSBytes),
			HeapUsedBytes:  int64(after.Process.HeapUsedBytes) - int64(before.Process.HeapUsedBytes),
			HeapTotalBytes: int64(after.Process.HeapTotalBytes) - int64(before.Process.HeapTotalBytes),
			ExternalBytes:  int64(after.Process.ExternalBytes) - int64(before.Process.ExternalBytes),
		},
	}

	if before.Heap == nil || after.Heap == nil {
		return d
	}

	d.HeapAvailable = true
	d.Objects = make(map[string]int64, len(after.Heap.ObjectTypeCounts))
	for name, n := range after.Heap.ObjectTypeCounts {
		d.Objects[name] = int64(n)
	}
	for name, n := range before.Heap.ObjectTypeCounts {
		d.Objects[name] -= int64(n)
	}
	return d
}

// Finding is one tracked type that exceeded a threshold.
type Finding struct {
	Type     string
	Delta    int64
	Severity Severity
	Reason   string
}

// Classification is the outcome of checking one delta against one
// threshold tier. Overall is the maximum of the two family results.
type Classification struct {
	HTTP     Severity
	General  Severity
	Overall  Severity
	Findings []Finding
}

// Classifier applies the configured threshold tables to delta reports.
type Classifier struct {
	cfg *config.Config
}

func NewClassifier(cfg *config.Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// ClassifyBurst checks growth attributable to the request burst.
func (c *Classifier) ClassifyBurst(d DeltaReport) Classification {
	return classifyTier(d, c.cfg.Thresholds.Burst)
}

// ClassifySettle checks growth observed with zero concurrent load.
func (c *Classifier) ClassifySettle(d DeltaReport) Classification {
	return classifyTier(d, c.cfg.Thresholds.Settle)
}

func classifyTier(d DeltaReport, tier config.TierThresholds) Classification {
	var cls Classification
	if !d.HeapAvailable {
		return cls
	}

	cls.HTTP, cls.Findings = classifyFamily(d, tier.HTTP, cls.Findings)
	cls.General, cls.Findings = classifyFamily(d, tier.General, cls.Findings)
	cls.Overall = maxSeverity(cls.HTTP, cls.General)
	return cls
}

func classifyFamily(d DeltaReport, thresholds []config.TypeThreshold, findings []Finding) (Severity, []Finding) {
	family := SeverityNone
	for _, th := range thresholds {
		delta, ok := d.Objects[th.Type]
		if !ok {
			// Metric absent on both sides: skip this check.
			continue
		}

		sev := SeverityNone
		switch {
		case delta > th.Critical:
			sev = SeverityCritical
		case delta > th.Moderate:
			sev = SeverityModerate
		}
		if sev == SeverityNone {
			continue
		}

		limit := th.Moderate
		if sev == SeverityCritical {
			limit = th.Critical
		}
		findings = append(findings, Finding{
			Type:     th.Type,
			Delta:    delta,
			Severity: sev,
			Reason:   fmt.Sprintf("%s grew by %d (threshold %d)", th.Type, delta, limit),
		})
		family = maxSeverity(family, sev)
	}
	return family, findings
}

func maxSeverity(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}

// LeakRates divides each tracked object delta by the request count,
// giving leaked objects per request.
func LeakRates(d DeltaReport, requests int) map[string]float64 {
	if !d.HeapAvailable || requests <= 0 {
		return nil
	}
	rates := make(map[string]float64, len(d.Objects))
	for name, delta := range d.Objects {
		rates[name] = float64(delta) / float64(requests)
	}
	return rates
}
