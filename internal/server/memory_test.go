package server

import (
	"testing"

	"leak-sentinel/internal/config"
)

func TestHeapUtilizationRounding(t *testing.T) {
	for _, tc := range []struct {
		used, total uint64
		want        int
	}{
		{0, 0, 0},
		{50, 100, 50},
		{805, 1000, 81},
		{804, 1000, 80},
		{100, 100, 100},
	} {
		if got := heapUtilization(tc.used, tc.total); got != tc.want {
			t.Fatalf("heapUtilization(%d, %d) = %d, want %d", tc.used, tc.total, got, tc.want)
		}
	}
}

func TestBuildTrendRecommendations(t *testing.T) {
	trend := buildTrend(UsageMB{RSS: 100, HeapUsed: 80, HeapTotal: 100}, 0)
	if trend.HeapUtilization != 80 {
		t.Fatalf("unexpected utilization: %d", trend.HeapUtilization)
	}
	if len(trend.Recommendations) != 0 {
		t.Fatalf("utilization 80 must not trigger advice: %v", trend.Recommendations)
	}
	if trend.HighUsage {
		t.Fatalf("rss 100 should not be high usage")
	}

	trend = buildTrend(UsageMB{RSS: 513, HeapUsed: 81, HeapTotal: 100}, 0)
	if !trend.HighUsage {
		t.Fatalf("rss 513 should be high usage")
	}
	if len(trend.Recommendations) != 1 || trend.Recommendations[0] != "heap utilization high - investigate leaks" {
		t.Fatalf("utilization 81 should trigger leak advice: %v", trend.Recommendations)
	}

	trend = buildTrend(UsageMB{RSS: 1025, HeapUsed: 10, HeapTotal: 100}, 100001)
	if len(trend.Recommendations) != 2 {
		t.Fatalf("rss and object-count advice expected: %v", trend.Recommendations)
	}
}

func TestRankObjectTypes(t *testing.T) {
	entries := []TypeCount{
		{Type: "a", Count: 5},
		{Type: "b", Count: 9},
		{Type: "c", Count: 5},
		{Type: "d", Count: 1},
	}

	ranked := RankObjectTypes(entries, 10)
	if len(ranked) != 4 {
		t.Fatalf("unexpected length: %d", len(ranked))
	}
	if ranked[0].Type != "b" {
		t.Fatalf("expected b first, got %s", ranked[0].Type)
	}
	// Tie between a and c keeps input order.
	if ranked[1].Type != "a" || ranked[2].Type != "c" {
		t.Fatalf("tie order not preserved: %+v", ranked)
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Count > ranked[i-1].Count {
			t.Fatalf("not sorted descending: %+v", ranked)
		}
	}
}

func TestRankObjectTypesTruncates(t *testing.T) {
	entries := make([]TypeCount, 15)
	for i := range entries {
		entries[i] = TypeCount{Type: string(rune('a' + i)), Count: uint64(i)}
	}

	ranked := RankObjectTypes(entries, 10)
	if len(ranked) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(ranked))
	}
	if ranked[0].Count != 14 {
		t.Fatalf("expected highest count first, got %d", ranked[0].Count)
	}
}

func TestLeakIndicators(t *testing.T) {
	indicators := []config.Indicator{
		{Type: config.TypeHTTPHeader, Limit: 100},
		{Type: config.TypeHTTPRequest, Limit: 1000},
	}

	if out := leakIndicators(map[string]uint64{config.TypeHTTPHeader: 100}, indicators); out != nil {
		t.Fatalf("limit is exclusive, expected nil: %v", out)
	}

	out := leakIndicators(map[string]uint64{
		config.TypeHTTPHeader:  101,
		config.TypeHTTPRequest: 5,
	}, indicators)
	if len(out) != 1 {
		t.Fatalf("expected one indicator: %v", out)
	}
	if out[0] != "http.header count 101 exceeds 100 - possible leak" {
		t.Fatalf("unexpected indicator text: %s", out[0])
	}
}

func TestMegabytesRounds(t *testing.T) {
	if got := megabytes(1 << 20); got != 1 {
		t.Fatalf("1MiB -> %d", got)
	}
	if got := megabytes(1<<20 + 1<<19); got != 2 {
		t.Fatalf("1.5MiB should round to 2, got %d", got)
	}
	if got := megabytes(1 << 19); got != 1 {
		t.Fatalf("0.5MiB should round to 1, got %d", got)
	}
}
