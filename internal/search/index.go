// Package search implements a prefix index over stored records. Every word of
// a record's name registers the record id in one sorted set per prefix; a
// query intersects the sets of its prefixes, caches the intersection for a
// bounded time and returns the records ordered by summed score.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/prefix"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

// DefaultBump is the score increment applied when none is given.
const DefaultBump = 1.0

// DefaultIntersectionTTL bounds how long a cached intersection is served.
const DefaultIntersectionTTL = 7200 * time.Second

// Index maintains and queries the prefix sets. It keeps no state of its own
// beyond the stores, so it is safe for concurrent use.
type Index struct {
	records     RecordStore
	sets        ScoredSetStore
	keys        Keys
	ttl         time.Duration
	defaultBump float64
	metrics     *metrics.Metrics
	group       singleflight.Group
	logger      *slog.Logger
}

// Option customises an Index.
type Option func(*Index)

// WithMetrics records query and indexing activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(idx *Index) { idx.metrics = m }
}

// New creates an Index over the given stores. Zero values in cfg fall back to
// the "index-data"/"index-root" layout and a two hour intersection TTL.
func New(records RecordStore, sets ScoredSetStore, cfg config.SearchConfig, opts ...Option) *Index {
	idx := &Index{
		records:     records,
		sets:        sets,
		keys:        Keys{Data: cfg.DataKey, Root: cfg.IndexRoot},
		ttl:         cfg.IntersectionTTL,
		defaultBump: cfg.DefaultBump,
		logger:      slog.Default().With("component", "prefix-index"),
	}
	if idx.keys.Data == "" {
		idx.keys.Data = "index-data"
	}
	if idx.keys.Root == "" {
		idx.keys.Root = "index-root"
	}
	if idx.ttl <= 0 {
		idx.ttl = DefaultIntersectionTTL
	}
	if idx.defaultBump <= 0 {
		idx.defaultBump = DefaultBump
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Keys returns the key layout in use.
func (idx *Index) Keys() Keys {
	return idx.keys
}

// DefaultBump returns the configured increment for BumpScore callers that do
// not choose one.
func (idx *Index) DefaultBump() float64 {
	return idx.defaultBump
}

// RegisterRecord adds id with score 0 to the set of every prefix of name.
// Scores already accumulated are left alone, so registering twice is a no-op.
func (idx *Index) RegisterRecord(ctx context.Context, name string, id int64) error {
	prefixes := prefix.For(name)
	if len(prefixes) == 0 {
		return nil
	}
	if err := idx.sets.ZAddNX(ctx, member(id), idx.keys.Prefixes(prefixes)...); err != nil {
		return fmt.Errorf("registering record %d: %w", id, err)
	}
	if idx.metrics != nil {
		idx.metrics.RecordsIndexedTotal.Inc()
	}
	idx.logger.Debug("record registered", "id", id, "prefixes", len(prefixes))
	return nil
}

// BumpScore raises id's score by delta under every prefix of name. Sets the
// id is missing from gain it with score delta.
func (idx *Index) BumpScore(ctx context.Context, name string, id int64, delta float64) error {
	if delta <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "score delta must be positive, got %v", delta)
	}
	prefixes := prefix.For(name)
	if len(prefixes) == 0 {
		return nil
	}
	if err := idx.sets.ZIncrBy(ctx, member(id), delta, idx.keys.Prefixes(prefixes)...); err != nil {
		return fmt.Errorf("bumping score of record %d: %w", id, err)
	}
	logger.FromContext(ctx).Debug("score bumped", "component", "prefix-index", "id", id, "delta", delta)
	return nil
}

// BumpRecord looks up the stored record for id and bumps it under the
// prefixes of its current name.
func (idx *Index) BumpRecord(ctx context.Context, id int64, delta float64) (*Record, error) {
	rec, err := idx.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := idx.BumpScore(ctx, rec.Name, id, delta); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get fetches a single stored record.
func (idx *Index) Get(ctx context.Context, id int64) (*Record, error) {
	field := member(id)
	raw, err := idx.records.HMGet(ctx, idx.keys.Data, field)
	if err != nil {
		return nil, fmt.Errorf("loading record %d: %w", id, err)
	}
	if len(raw) == 0 || raw[0] == nil {
		return nil, fmt.Errorf("record %d: %w", id, apperrors.ErrRecordNotFound)
	}
	return decodeRecord(field, raw[0])
}

// AddRecords stores each record and registers it under its prefixes.
func (idx *Index) AddRecords(ctx context.Context, records []Record) error {
	for _, r := range records {
		data, err := encodeRecord(r)
		if err != nil {
			return err
		}
		if err := idx.records.HSet(ctx, idx.keys.Data, r.Field(), data); err != nil {
			return fmt.Errorf("storing record %d: %w", r.ID, err)
		}
		if err := idx.RegisterRecord(ctx, r.Name, r.ID); err != nil {
			return err
		}
	}
	return nil
}

// ClearAndReload wipes every stored record, prefix set and cached
// intersection, then adds records from scratch.
func (idx *Index) ClearAndReload(ctx context.Context, records []Record) error {
	if err := idx.records.Del(ctx, idx.keys.Data); err != nil {
		return fmt.Errorf("clearing records: %w", err)
	}
	deleted, err := idx.sets.FlushByPattern(ctx, idx.keys.IndexPattern())
	if err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}
	if idx.metrics != nil {
		idx.metrics.IndexResetsTotal.Inc()
	}
	if err := idx.AddRecords(ctx, records); err != nil {
		return err
	}
	idx.logger.Info("index reloaded", "records", len(records), "keys_deleted", deleted)
	return nil
}

// InvalidateIntersections drops every cached intersection so the next query
// of each prefix combination is recomputed from the prefix sets.
func (idx *Index) InvalidateIntersections(ctx context.Context) (int64, error) {
	deleted, err := idx.sets.FlushByPattern(ctx, idx.keys.IntersectionPattern())
	if err != nil {
		return 0, fmt.Errorf("invalidating intersections: %w", err)
	}
	idx.logger.Info("intersections invalidated", "deleted", deleted)
	return deleted, nil
}

// Rename moves id from the prefix sets of oldName to those of newName and
// updates the stored record when there is one. Accumulated scores survive
// under prefixes both names share. Cached intersections keep the old
// membership until they expire.
func (idx *Index) Rename(ctx context.Context, id int64, oldName, newName string) error {
	oldPrefixes := prefix.For(oldName)
	newPrefixes := prefix.For(newName)
	stale := difference(oldPrefixes, newPrefixes)
	fresh := difference(newPrefixes, oldPrefixes)

	m := member(id)
	if len(stale) > 0 {
		if err := idx.sets.ZRem(ctx, m, idx.keys.Prefixes(stale)...); err != nil {
			return fmt.Errorf("retracting record %d: %w", id, err)
		}
	}
	if len(fresh) > 0 {
		if err := idx.sets.ZAddNX(ctx, m, idx.keys.Prefixes(fresh)...); err != nil {
			return fmt.Errorf("registering record %d: %w", id, err)
		}
	}

	rec, err := idx.Get(ctx, id)
	switch {
	case errors.Is(err, apperrors.ErrRecordNotFound):
		return nil
	case err != nil:
		return err
	}
	rec.Name = newName
	data, err := encodeRecord(*rec)
	if err != nil {
		return err
	}
	if err := idx.records.HSet(ctx, idx.keys.Data, rec.Field(), data); err != nil {
		return fmt.Errorf("storing record %d: %w", id, err)
	}
	idx.logger.Info("record renamed", "id", id, "retracted", len(stale), "added", len(fresh))
	return nil
}

// FindByPrefixes returns the records present under every given prefix,
// highest summed score first. Ids whose record is gone come back as nil
// entries. A record that fails to decode fails the whole call with
// errors.ErrMalformedRecord.
func (idx *Index) FindByPrefixes(ctx context.Context, prefixes []string) ([]*Record, error) {
	start := time.Now()
	normalized := NormalizePrefixes(prefixes)
	if len(normalized) == 0 {
		idx.observe("empty", start, 0)
		return []*Record{}, nil
	}

	// The flight outlives any single caller; each caller stops waiting on its
	// own ctx.
	key := idx.keys.Composite(normalized)
	flight := context.WithoutCancel(ctx)
	ch := idx.group.DoChan(key, func() (interface{}, error) {
		return idx.find(flight, key, normalized)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		idx.observe("error", start, 0)
		return nil, fmt.Errorf("prefix query %v: %w", normalized, ctx.Err())
	}
	if res.Err != nil {
		idx.observe("error", start, 0)
		logger.FromContext(ctx).Error("prefix query failed", "component", "prefix-index", "prefixes", normalized, "error", res.Err)
		return nil, res.Err
	}
	if res.Shared && idx.metrics != nil {
		idx.metrics.SharedQueriesTotal.Inc()
	}

	results := append([]*Record(nil), res.Val.([]*Record)...)
	resultType := "hit"
	if len(results) == 0 {
		resultType = "zero_result"
	}
	idx.observe(resultType, start, len(results))
	return results, nil
}

func (idx *Index) find(ctx context.Context, key string, prefixes []string) ([]*Record, error) {
	n, err := idx.sets.ZInterStore(ctx, key, idx.keys.Prefixes(prefixes))
	if err != nil {
		return nil, fmt.Errorf("intersecting %v: %w", prefixes, err)
	}
	if n == 0 {
		return []*Record{}, nil
	}
	if err := idx.sets.Expire(ctx, key, idx.ttl); err != nil {
		return nil, fmt.Errorf("expiring %s: %w", key, err)
	}

	ids, err := idx.sets.ZRevRange(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	if len(ids) == 0 {
		return []*Record{}, nil
	}

	raw, err := idx.records.HMGet(ctx, idx.keys.Data, ids...)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	results := make([]*Record, len(ids))
	missing := 0
	for i, data := range raw {
		if data == nil {
			missing++
			continue
		}
		rec, err := decodeRecord(ids[i], data)
		if err != nil {
			return nil, err
		}
		results[i] = rec
	}
	if missing > 0 {
		if idx.metrics != nil {
			idx.metrics.MissingRecordsTotal.Add(float64(missing))
		}
		idx.logger.Warn("indexed ids without records", "key", key, "missing", missing)
	}
	return results, nil
}

func (idx *Index) observe(resultType string, start time.Time, n int) {
	if idx.metrics == nil {
		return
	}
	idx.metrics.PrefixQueriesTotal.WithLabelValues(resultType).Inc()
	idx.metrics.PrefixQueryLatency.Observe(time.Since(start).Seconds())
	if resultType != "error" {
		idx.metrics.PrefixQueryResults.Observe(float64(n))
	}
}

// NormalizePrefixes lower-cases the query, splits elements on whitespace,
// drops duplicates and sorts, so equal prefix sets share one composite key.
func NormalizePrefixes(prefixes []string) []string {
	seen := make(map[string]struct{}, len(prefixes))
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		for _, f := range strings.Fields(strings.ToLower(p)) {
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

func difference(a, b []string) []string {
	exclude := make(map[string]struct{}, len(b))
	for _, s := range b {
		exclude[s] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, s := range a {
		if _, ok := exclude[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}
