package feedback

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/kafka"
)

const maxLatencySamples = 10000

type Stats struct {
	TotalQueries      int64         `json:"total_queries"`
	ZeroResultCount   int64         `json:"zero_result_count"`
	MissingRecords    int64         `json:"missing_records"`
	AvgLatencyMs      float64       `json:"avg_latency_ms"`
	P50LatencyMs      int64         `json:"p50_latency_ms"`
	P95LatencyMs      int64         `json:"p95_latency_ms"`
	P99LatencyMs      int64         `json:"p99_latency_ms"`
	TopQueries        []PrefixCount `json:"top_queries"`
	ZeroResultQueries []PrefixCount `json:"zero_result_queries"`
	QueriesPerMinute  float64       `json:"queries_per_minute"`
}

type PrefixCount struct {
	Prefixes string `json:"prefixes"`
	Count    int64  `json:"count"`
}

// Aggregator keeps running popularity statistics over query events. It
// implements Tracker so it can be fed directly when Kafka is off.
type Aggregator struct {
	mu          sync.RWMutex
	total       int64
	zero        int64
	missing     int64
	latencies   []int64
	next        int
	queryCounts map[string]int64
	zeroCounts  map[string]int64
	startTime   time.Time
	now         func() time.Time
	logger      *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:   make([]int64, 0, 1024),
		queryCounts: make(map[string]int64),
		zeroCounts:  make(map[string]int64),
		startTime:   time.Now(),
		now:         time.Now,
		logger:      slog.Default().With("component", "query-aggregator"),
	}
}

// HandleQueryEvent returns a MessageHandler feeding agg from the query-events
// topic. Undecodable messages are logged and skipped.
func HandleQueryEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[QueryEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode query event", "error", err)
			return nil
		}
		agg.Track(event)
		return nil
	}
}

func (a *Aggregator) Track(event QueryEvent) {
	query := strings.Join(event.Prefixes, " ")

	a.mu.Lock()
	defer a.mu.Unlock()
	a.total++
	a.missing += int64(event.Missing)
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % maxLatencySamples
	}
	if query == "" {
		return
	}
	a.queryCounts[query]++
	if event.Returned == 0 {
		a.zero++
		a.zeroCounts[query]++
	}
}

func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := Stats{
		TotalQueries:    a.total,
		ZeroResultCount: a.zero,
		MissingRecords:  a.missing,
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroCounts, 10)
	if elapsed := a.now().Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalQueries) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count, then by prefixes so equal counts list stably.
func topN(counts map[string]int64, n int) []PrefixCount {
	result := make([]PrefixCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, PrefixCount{Prefixes: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Prefixes < result[j].Prefixes
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
