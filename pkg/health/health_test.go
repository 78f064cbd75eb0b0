package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestRunAggregatesWorstStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   Status
	}{
		{"all up", map[string]Check{"redis": PingCheck(pinger{}, "")}, StatusUp},
		{"degraded", map[string]Check{
			"redis":    PingCheck(pinger{}, ""),
			"postgres": PingCheck(nil, "not configured"),
		}, StatusDegraded},
		{"down", map[string]Check{
			"redis":    PingCheck(pinger{err: errors.New("connection refused")}, ""),
			"postgres": PingCheck(nil, "not configured"),
		}, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for name, check := range tt.checks {
				c.Register(name, check)
			}
			report := c.Run(context.Background())
			if report.Status != tt.want {
				t.Errorf("status = %s, want %s", report.Status, tt.want)
			}
			if len(report.Components) != len(tt.checks) {
				t.Errorf("components = %d, want %d", len(report.Components), len(tt.checks))
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("redis", PingCheck(pinger{err: errors.New("down")}, ""))
	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.Components["redis"].Message != "down" {
		t.Errorf("redis message = %q", report.Components["redis"].Message)
	}
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

type hashLen struct {
	n   int64
	err error
}

func (h hashLen) HLen(context.Context, string) (int64, error) { return h.n, h.err }

func TestIndexCheck(t *testing.T) {
	tests := []struct {
		name string
		h    hashLen
		want Status
	}{
		{"loaded", hashLen{n: 10}, StatusUp},
		{"empty", hashLen{}, StatusDegraded},
		{"unreachable", hashLen{err: errors.New("connection refused")}, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IndexCheck(tt.h, "index-data")(context.Background())
			if got.Status != tt.want {
				t.Errorf("status = %s (%s), want %s", got.Status, got.Message, tt.want)
			}
		})
	}
}

func TestReadyHandlerServesWhileDegraded(t *testing.T) {
	c := NewChecker()
	c.Register("redis", PingCheck(pinger{}, ""))
	c.Register("index", IndexCheck(hashLen{}, "index-data"))
	c.Register("postgres", PingCheck(nil, "not configured"))
	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusDegraded {
		t.Errorf("report status = %s, want degraded", report.Status)
	}
}
