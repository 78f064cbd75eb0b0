// Package health reports whether the search service can answer queries. Each
// dependency registers a Check; the Checker runs them in parallel and serves
// the combined Report on the liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Status represents the health state of a component or the system overall.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// severity orders statuses so the worst one wins.
func (s Status) severity() int {
	switch s {
	case StatusDown:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// readyTimeout bounds a whole readiness run.
const readyTimeout = 5 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth holds the result of a single component check.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is the aggregated result of all component checks.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Checker holds the registered checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
	logger *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]Check),
		logger: slog.Default().With("component", "health"),
	}
}

// Register adds or replaces the check called name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

type namedResult struct {
	name   string
	result ComponentHealth
}

// Run executes every check concurrently. The report carries the worst
// component status.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	results := make(chan namedResult, len(c.checks))
	for name, check := range c.checks {
		go func(name string, check Check) {
			start := time.Now()
			res := check(ctx)
			res.Latency = time.Since(start).Round(time.Millisecond).String()
			results <- namedResult{name, res}
		}(name, check)
	}
	n := len(c.checks)
	c.mu.RUnlock()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, n),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for i := 0; i < n; i++ {
		r := <-results
		report.Components[r.name] = r.result
		if r.result.Status.severity() > report.Status.severity() {
			report.Status = r.result.Status
		}
	}
	return report
}

// Pinger is satisfied by the Redis and Postgres clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports down when p cannot be reached. A nil p reports degraded
// with the given message, for optional dependencies left unconfigured.
func PingCheck(p Pinger, unconfigured string) Check {
	return func(ctx context.Context) ComponentHealth {
		if p == nil {
			return ComponentHealth{Status: StatusDegraded, Message: unconfigured}
		}
		if err := p.Ping(ctx); err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// HashLen is satisfied by the Redis client.
type HashLen interface {
	HLen(ctx context.Context, key string) (int64, error)
}

// IndexCheck reports how many records are stored under dataKey. An empty
// hash, as before the first catalogue load, is degraded: every query would
// come back empty.
func IndexCheck(h HashLen, dataKey string) Check {
	return func(ctx context.Context) ComponentHealth {
		n, err := h.HLen(ctx, dataKey)
		if err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		if n == 0 {
			return ComponentHealth{Status: StatusDegraded, Message: "no records loaded under " + dataKey}
		}
		return ComponentHealth{Status: StatusUp, Message: fmt.Sprintf("%d records", n)}
	}
}

// LiveHandler answers liveness probes. It never touches dependencies.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.write(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers readiness probes. Degraded components still serve
// traffic; only a component that is down fails the probe.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		report := c.Run(ctx)
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		c.write(w, status, report)
	}
}

func (c *Checker) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		c.logger.Error("failed to write health response", "error", err)
	}
}
