package heapstat

import "runtime"

// Introspector is the capability probe for object-level heap
// statistics. Callers check the bool and never branch further on
// availability.
type Introspector interface {
	TryGetStats() (Stats, bool)
}

type registryIntrospector struct {
	reg *Registry
}

// NewIntrospector returns an Introspector backed by the live-object
// registry plus runtime heap accounting.
func NewIntrospector(reg *Registry) Introspector {
	return registryIntrospector{reg: reg}
}

func (ri registryIntrospector) TryGetStats() (Stats, bool) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return Stats{
		HeapSizeBytes:        ms.HeapAlloc,
		HeapCapacityBytes:    ms.HeapSys,
		ExtraMemoryBytes:     ms.Sys - ms.HeapSys,
		ObjectCount:          ms.HeapObjects,
		ProtectedObjectCount: ri.reg.Live(),
		ObjectTypeCounts:     ri.reg.Counts(),
	}, true
}

type noIntrospector struct{}

func (noIntrospector) TryGetStats() (Stats, bool) { return Stats{}, false }

// Unavailable returns the absent variant of the capability.
func Unavailable() Introspector { return noIntrospector{} }
