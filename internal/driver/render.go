package driver

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"leak-sentinel/internal/heapstat"
	"leak-sentinel/internal/leakcheck"
)

// Render writes the measurement report. Pretty output is tabwriter
// tables for a terminal; otherwise NDJSON lines for scripts.
func Render(w io.Writer, m *Measurement, pretty bool) {
	if !pretty {
		renderNDJSON(w, m)
		return
	}

	fmt.Fprintf(w, "leak-sentinel measurement: %d requests in %v\n\n", m.RequestCount, m.LoadDuration)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tRSS(MB)\tHEAP USED(MB)\tHEAP TOTAL(MB)\tOBJECTS")
	writeSnapshotRow(tw, "baseline", m.Baseline)
	writeSnapshotRow(tw, "post-load", m.PostLoad)
	writeSnapshotRow(tw, "delayed", m.Delayed)
	tw.Flush()

	if !m.HeapAvailable() {
		fmt.Fprintln(w, "\nHeap object statistics unavailable; severity not classified.")
		return
	}

	renderPhase(w, "Burst (baseline -> post-load)", m.BurstDelta, m.Burst)
	rates := leakcheck.LeakRates(m.BurstDelta, m.RequestCount)
	if len(rates) > 0 {
		fmt.Fprintln(w, "\nLeak rate per request:")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TYPE\tDELTA\tRATE")
		for _, name := range sortedKeys(rates) {
			fmt.Fprintf(tw, "%s\t%+d\t%.3f\n", name, m.BurstDelta.Objects[name], rates[name])
		}
		tw.Flush()
	}

	renderPhase(w, "Settle (post-load -> delayed, no load)", m.SettleDelta, m.Settle)

	fmt.Fprintf(w, "\nOverall severity: %s\n", m.Overall())
}

func writeSnapshotRow(tw *tabwriter.Writer, phase string, snap heapstat.Snapshot) {
	objects := "n/a"
	if snap.Heap != nil {
		objects = fmt.Sprintf("%d", snap.Heap.ObjectCount)
	}
	fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n",
		phase,
		snap.Process.RSSBytes>>20,
		snap.Process.HeapUsedBytes>>20,
		snap.Process.HeapTotalBytes>>20,
		objects)
}

func renderPhase(w io.Writer, title string, delta leakcheck.DeltaReport, cls leakcheck.Classification) {
	fmt.Fprintf(w, "\n%s: severity %s (http=%s, general=%s)\n", title, cls.Overall, cls.HTTP, cls.General)
	if len(cls.Findings) == 0 {
		fmt.Fprintln(w, "No thresholds exceeded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tDELTA\tSEVERITY")
	for _, f := range cls.Findings {
		fmt.Fprintf(tw, "%s\t%+d\t%s\n", f.Type, f.Delta, f.Severity)
	}
	tw.Flush()
}

type summaryLine struct {
	Type         string             `json:"type"`
	Phase        string             `json:"phase,omitempty"`
	Severity     string             `json:"severity,omitempty"`
	Objects      map[string]int64   `json:"objects,omitempty"`
	LeakRates    map[string]float64 `json:"leakRates,omitempty"`
	RequestCount int                `json:"requestCount,omitempty"`
	DurationMs   int64              `json:"durationMs,omitempty"`
	Overall      string             `json:"overall,omitempty"`
	HeapStats    bool               `json:"heapStats"`
}

func renderNDJSON(w io.Writer, m *Measurement) {
	enc := json.NewEncoder(w)

	_ = enc.Encode(summaryLine{
		Type:         "load",
		RequestCount: m.RequestCount,
		DurationMs:   m.LoadDuration.Milliseconds(),
		HeapStats:    m.HeapAvailable(),
	})

	if !m.HeapAvailable() {
		return
	}

	_ = enc.Encode(summaryLine{
		Type:      "classification",
		Phase:     "burst",
		Severity:  m.Burst.Overall.String(),
		Objects:   m.BurstDelta.Objects,
		LeakRates: leakcheck.LeakRates(m.BurstDelta, m.RequestCount),
		HeapStats: true,
	})
	_ = enc.Encode(summaryLine{
		Type:      "classification",
		Phase:     "settle",
		Severity:  m.Settle.Overall.String(),
		Objects:   m.SettleDelta.Objects,
		HeapStats: true,
	})
	_ = enc.Encode(summaryLine{
		Type:      "overall",
		Overall:   m.Overall().String(),
		HeapStats: true,
	})
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
