// Package feedback moves relevance signals in and out of the prefix index:
// score bumps consumed from Kafka, and query events published to Kafka and
// aggregated into popularity statistics.
package feedback

import "time"

// BumpEvent asks for a record's score to be raised. When Name is empty the
// stored record's name is used. A zero Delta means the index default.
type BumpEvent struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name,omitempty"`
	Delta float64 `json:"delta,omitempty"`
}

type QueryEvent struct {
	Prefixes  []string  `json:"prefixes"`
	Returned  int       `json:"returned"`
	Missing   int       `json:"missing"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Tracker accepts query events without blocking the caller.
type Tracker interface {
	Track(event QueryEvent)
}
