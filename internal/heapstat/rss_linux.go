//go:build linux

package heapstat

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// residentSetBytes returns the RSS of the current process. getrusage
// reports the peak, so /proc/self/statm is preferred; getrusage is the
// fallback when /proc is not mounted.
func residentSetBytes() (uint64, error) {
	if rss, err := statmRSSBytes(); err == nil {
		return rss, nil
	}

	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, fmt.Errorf("getrusage: %w", err)
	}
	// ru_maxrss is in kilobytes on Linux.
	return uint64(ru.Maxrss) * 1024, nil
}

func statmRSSBytes() (uint64, error) {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, fmt.Errorf("unexpected statm format")
	}
	rssPages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, err
	}
	return rssPages * uint64(os.Getpagesize()), nil
}
