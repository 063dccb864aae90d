package heapstat

import (
	"fmt"
	"runtime"
	"time"
)

// Collector captures Snapshots of the current process.
type Collector struct {
	intro Introspector
}

func NewCollector(intro Introspector) *Collector {
	if intro == nil {
		intro = Unavailable()
	}
	return &Collector{intro: intro}
}

// Collect captures a Snapshot. Process memory is mandatory; the heap
// section is best-effort and left nil when introspection is absent.
func (c *Collector) Collect() (Snapshot, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	rss, err := residentSetBytes()
	if err != nil {
		return Snapshot{}, fmt.Errorf("rss: %w", err)
	}

	snap := Snapshot{
		Timestamp: time.Now(),
		Process: ProcessMemory{
			RSSBytes:       rss,
			HeapUsedBytes:  ms.HeapAlloc,
			HeapTotalBytes: ms.HeapSys,
			ExternalBytes:  ms.Sys - ms.HeapSys,
			OffHeapBytes:   ms.StackSys,
		},
	}

	if stats, ok := c.intro.TryGetStats(); ok {
		snap.Heap = &stats
	}

	return snap, nil
}
