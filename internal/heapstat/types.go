package heapstat

import "time"

// ProcessMemory is the OS/runtime view of the process footprint, in bytes.
type ProcessMemory struct {
	RSSBytes       uint64
	HeapUsedBytes  uint64
	HeapTotalBytes uint64
	ExternalBytes  uint64
	OffHeapBytes   uint64
}

// Stats is the optional heap-introspection payload. Absent on runtimes
// (or builds) that do not expose object-level accounting.
type Stats struct {
	HeapSizeBytes        uint64
	HeapCapacityBytes    uint64
	ExtraMemoryBytes     uint64
	ObjectCount          uint64
	ProtectedObjectCount uint64
	ObjectTypeCounts     map[string]uint64
}

// Snapshot is a point-in-time capture. Immutable once collected.
type Snapshot struct {
	Timestamp time.Time
	Process   ProcessMemory
	Heap      *Stats
}

// ObjectCount returns the live count for one tracked type, and whether
// heap introspection supplied it at all.
func (s Snapshot) ObjectCount(typeName string) (uint64, bool) {
	if s.Heap == nil {
		return 0, false
	}
	n, ok := s.Heap.ObjectTypeCounts[typeName]
	return n, ok
}
