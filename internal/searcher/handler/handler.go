// Package handler exposes the prefix index over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/feedback"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/middleware"
)

const maxBodyBytes = 1 << 16

type Index interface {
	FindByPrefixes(ctx context.Context, prefixes []string) ([]*search.Record, error)
	BumpScore(ctx context.Context, name string, id int64, delta float64) error
	BumpRecord(ctx context.Context, id int64, delta float64) (*search.Record, error)
	ClearAndReload(ctx context.Context, records []search.Record) error
	InvalidateIntersections(ctx context.Context) (int64, error)
	DefaultBump() float64
}

type Handler struct {
	index   Index
	source  catalog.Source
	tracker feedback.Tracker
	stats   *feedback.Aggregator
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option customises a Handler.
type Option func(*Handler)

// WithTracker reports every answered query to t.
func WithTracker(t feedback.Tracker) Option {
	return func(h *Handler) { h.tracker = t }
}

// WithStats serves agg's snapshot on Stats.
func WithStats(agg *feedback.Aggregator) Option {
	return func(h *Handler) { h.stats = agg }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func New(index Index, source catalog.Source, opts ...Option) *Handler {
	h := &Handler{
		index:  index,
		source: source,
		logger: slog.Default().With("component", "search-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type route struct {
	method, path string
	serve        func(*Handler, http.ResponseWriter, *http.Request)
}

var routes = []route{
	{http.MethodGet, "/api/v1/search", (*Handler).Search},
	{http.MethodPost, "/api/v1/records/bump", (*Handler).Bump},
	{http.MethodPost, "/api/v1/reload", (*Handler).Reload},
	{http.MethodPost, "/api/v1/cache/invalidate", (*Handler).InvalidateCache},
	{http.MethodGet, "/api/v1/stats", (*Handler).Stats},
}

// Register mounts the handler's routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	for _, rt := range routes {
		serve := rt.serve
		mux.HandleFunc(rt.method+" "+rt.path, func(w http.ResponseWriter, r *http.Request) {
			serve(h, w, r)
		})
	}
}

// Paths lists the URL paths Register mounts.
func Paths() []string {
	paths := make([]string, len(routes))
	for i, rt := range routes {
		paths[i] = rt.path
	}
	return paths
}

type SearchResponse struct {
	Prefixes []string         `json:"prefixes"`
	Count    int              `json:"count"`
	Missing  int              `json:"missing"`
	Results  []*search.Record `json:"results"`
}

// Search answers GET /api/v1/search. Prefixes come from repeated or
// comma-separated "prefix" parameters and from whitespace-separated "q".
// Records that vanished from storage are returned as null entries.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	raw := queryPrefixes(r)
	if len(raw) == 0 {
		h.writeError(w, http.StatusBadRequest, "query parameter 'prefix' or 'q' is required")
		return
	}
	prefixes := search.NormalizePrefixes(raw)

	results, err := h.index.FindByPrefixes(ctx, prefixes)
	if err != nil {
		log.Error("prefix search failed", "prefixes", prefixes, "error", err)
		h.writeAppError(w, err, "search failed")
		return
	}

	missing := 0
	for _, rec := range results {
		if rec == nil {
			missing++
		}
	}
	latency := time.Since(start)
	log.Info("search completed",
		"prefixes", prefixes,
		"returned", len(results),
		"missing", missing,
		"latency_ms", latency.Milliseconds(),
	)
	if h.tracker != nil {
		h.tracker.Track(feedback.QueryEvent{
			Prefixes:  prefixes,
			Returned:  len(results),
			Missing:   missing,
			LatencyMs: latency.Milliseconds(),
			Timestamp: time.Now().UTC(),
			RequestID: middleware.GetRequestID(ctx),
		})
	}

	h.writeJSON(w, http.StatusOK, SearchResponse{
		Prefixes: prefixes,
		Count:    len(results),
		Missing:  missing,
		Results:  results,
	})
}

type bumpRequest struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Delta float64 `json:"delta"`
}

// Bump answers POST /api/v1/records/bump. Without a name the stored record's
// name decides which prefixes are bumped.
func (h *Handler) Bump(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req bumpRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID <= 0 {
		h.writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	if req.Delta == 0 {
		req.Delta = h.index.DefaultBump()
	}

	var err error
	if req.Name != "" {
		err = h.index.BumpScore(ctx, req.Name, req.ID, req.Delta)
	} else {
		var rec *search.Record
		rec, err = h.index.BumpRecord(ctx, req.ID, req.Delta)
		if rec != nil {
			req.Name = rec.Name
		}
	}
	if err != nil {
		logger.FromContext(ctx).Warn("bump failed", "id", req.ID, "error", err)
		h.writeAppError(w, err, "bump failed")
		return
	}
	if h.metrics != nil {
		h.metrics.ScoreBumpsTotal.WithLabelValues("api").Inc()
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":     req.ID,
		"name":   req.Name,
		"delta":  req.Delta,
		"status": "bumped",
	})
}

// Reload answers POST /api/v1/reload by rebuilding the index from the
// catalogue source.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.source == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no catalogue source configured")
		return
	}
	records, err := h.source.Records(ctx)
	if err != nil {
		h.logger.Error("loading catalogue failed", "error", err)
		h.writeAppError(w, err, "loading catalogue failed")
		return
	}
	if err := h.index.ClearAndReload(ctx, records); err != nil {
		h.logger.Error("reload failed", "error", err)
		h.writeAppError(w, err, "reload failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "reloaded",
		"records": len(records),
	})
}

// InvalidateCache answers POST /api/v1/cache/invalidate by dropping every
// cached intersection.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.index.InvalidateIntersections(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeAppError(w, err, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "invalidated",
		"deleted": deleted,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.stats.Stats())
}

func queryPrefixes(r *http.Request) []string {
	values := r.URL.Query()
	var out []string
	for _, v := range values["prefix"] {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	if q := strings.TrimSpace(values.Get("q")); q != "" {
		out = append(out, q)
	}
	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError maps err to a status code. Client errors echo err; server
// errors answer with fallback so store details stay in the logs.
func (h *Handler) writeAppError(w http.ResponseWriter, err error, fallback string) {
	status := apperrors.HTTPStatusCode(err)
	if status < http.StatusInternalServerError {
		h.writeError(w, status, err.Error())
		return
	}
	h.writeError(w, status, fallback)
}
