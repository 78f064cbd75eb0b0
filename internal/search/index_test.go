package search_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/prefix"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/search"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// backend is the miniredis server behind an index under test.
type backend struct {
	store *pkgredis.Client
	mr    *miniredis.Miniredis
}

func (b backend) advance(d time.Duration) { b.mr.FastForward(d) }

// scores reports member's score in the sorted set at key.
func (b backend) scores(key, member string) (float64, bool) {
	score, ok, _ := b.store.ZScore(context.Background(), key, member)
	return score, ok
}

func newBackend(t *testing.T) backend {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := pkgredis.NewClient(config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("connecting to miniredis: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return backend{store: c, mr: mr}
}

func withIndex(t *testing.T, fn func(t *testing.T, b backend, idx *search.Index)) {
	t.Helper()
	b := newBackend(t)
	fn(t, b, search.New(b.store, b.store, config.Default().Search))
}

func loadSample(t *testing.T, idx *search.Index) {
	t.Helper()
	if err := idx.ClearAndReload(context.Background(), catalog.SampleMovies()); err != nil {
		t.Fatalf("ClearAndReload: %v", err)
	}
}

func ids(t *testing.T, records []*search.Record) []int64 {
	t.Helper()
	out := make([]int64, 0, len(records))
	for _, r := range records {
		if r == nil {
			t.Fatalf("unexpected hole in %v", records)
		}
		out = append(out, r.ID)
	}
	return out
}

func sortedIDs(t *testing.T, records []*search.Record) []int64 {
	out := ids(t, records)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFindByPrefixesSampleQueries(t *testing.T) {
	withIndex(t, func(t *testing.T, b backend, idx *search.Index) {
		loadSample(t, idx)
		ctx := context.Background()

		tests := []struct {
			prefixes []string
			want     []int64
		}{
			{[]string{"kil"}, []int64{1, 3, 4, 5}},
			{[]string{"dar"}, []int64{9, 10}},
			{[]string{"ki", "bi"}, []int64{1, 4, 5}},
			{[]string{"bi", "ki"}, []int64{1, 4, 5}},
			{[]string{"KI BI"}, []int64{1, 4, 5}},
			{[]string{"the", "ri"}, []int64{10}},
			{[]string{"zz"}, []int64{}},
			{[]string{"k"}, []int64{}},
		}
		for _, tt := range tests {
			got, err := idx.FindByPrefixes(ctx, tt.prefixes)
			if err != nil {
				t.Fatalf("FindByPrefixes(%v): %v", tt.prefixes, err)
			}
			if g := sortedIDs(t, got); !equalIDs(g, tt.want) {
				t.Errorf("FindByPrefixes(%v) = %v, want %v", tt.prefixes, g, tt.want)
			}
		}
	})
}

func TestEveryPrefixFindsItsRecord(t *testing.T) {
	withIndex(t, func(t *testing.T, b backend, idx *search.Index) {
		loadSample(t, idx)
		ctx := context.Background()
		for _, r := range catalog.SampleMovies() {
			for _, p := range prefix.Generate(r.Name) {
				got, err := idx.FindByPrefixes(ctx, []string{p})
				if err != nil {
					t.Fatalf("FindByPrefixes(%q): %v", p, err)
				}
				found := false
				for _, id := range ids(t, got) {
					if id == r.ID {
						found = true
					}
				}
				if !found {
					t.Errorf("record %d (%q) missing under prefix %q", r.ID, r.Name, p)
				}
			}
		}
	})
}

func TestRegisterRecordIsIdempotent(t *testing.T) {
	withIndex(t, func(t *testing.T, b backend, idx *search.Index) {
		loadSample(t, idx)
		ctx := context.Background()
		keys := idx.Keys()
		if err := idx.RegisterRecord(ctx, "Kill Bill", 1); err != nil {
			t.Fatal(err)
		}
		if score, ok := b.scores(keys.Prefix("kil"), "1"); !ok || score != 0 {
			t.Errorf("score after double registration = %v (ok=%v), want 0", score, ok)
		}

		if err := idx.BumpScore(ctx, "Kill Bill", 1, 2); err != nil {
			t.Fatal(err)
		}
		if err := idx.RegisterRecord(ctx, "Kill Bill", 1); err != nil {
			t.Fatal(err)
		}
		if score, _ := b.scores(keys.Prefix("kil"), "1"); score != 2 {
			t.Errorf("registration clobbered bumped score: got %v, want 2", score)
		}
	})
}

func TestBumpScoreRaisesRank(t *testing.T) {
	withIndex(t, func(t *testing.T, b backend, idx *search.Index) {
		loadSample(t, idx)
		ctx := context.Background()

		if err := idx.BumpScore(ctx, "Kill Bill 2", 5, search.DefaultBump); err != nil {
			t.Fatalf("BumpScore: %v", err)
		}
		got, err := idx.FindByPrefixes(ctx, []string{"ki", "bi"})
		if err != nil {
			t.Fatal(err)
		}
		order := ids(t, got)
		if len(order) != 3 || order[0] != 5 {
			t.Fatalf("expected id 5 first after bump, got %v", order)
		}
		// Two prefix sets each contribute the bump.
		if score, _ := b.scores(idx.Keys().Composite([]string{"bi", "ki"}), "5"); score != 2 {
			t.Errorf("intersection score = %v, want 2", score)
		}

		if err := idx.BumpScore(ctx, "Killer Elite", 3, 5); err != nil {
			t.Fatal(err)
		}
		got, err = idx.FindByPrefixes(ctx, []string{"kil"})
		if err != nil {
			t.Fatal(err)
		}
		if order := ids(t, got); order[0] != 3 || order[1] != 5 {
			t.Errorf("rank after second bump = %v, want 3 then 5 first", order)
		}
	})
}

func TestBumpScoreCreatesAbsentMember(t *testing.T) {
	withIndex(t, func(t *testing.T, b backend, idx *search.Index) {
		ctx := context.Background()
		if err := idx.BumpScore(ctx, "Heat", 42, 3); err != nil {
			t.Fatal(err)
		}
		if score, ok := b.scores(idx.Keys().Prefix("heat"), "42"); !ok || score != 3 {
			t.Errorf("score = %v (ok=%v), want 3", score, ok)
		}
		// Indexed but never stored: a hole, not an error.
		got, err := idx.FindByPrefixes(ctx, []string{"he"})
		if err != nil {
			t.Fatalf("FindByPrefixes: %v", err)
		}
		if len(got) != 1 || got[0] != nil {
			t.Errorf("expected a single nil hole, got %v", got)
		}
	})
}

func TestBumpScoreRejectsNonPositiveDelta(t *testing.T) {
	withIndex(t, func(t *testing.T, b backend, idx *search.Index) {
		err := idx.BumpScore(context.Background(), "Kill Bill", 1, 0)
		if !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestBumpRecord(t *testing.T) {
	withIndex(t, func(t *testing.T, b backend, idx *search.Index) {
		loadSample(t, idx)
		ctx := context.Background()
		rec, err := idx.BumpRecord(ctx, 9, 4)
		if err != nil {
			t.Fatalf("BumpRecord: %v", err)
		}
		if rec.Name != "The Dark Knight" {
			t.Errorf("bumped %q", rec.Name)
		}
		if score, _ := b.scores(idx.Keys().Prefix("knight"), "9"); score != 4 {
			t.Errorf("score = %v, want 4", score)
		}
		if _, err := idx.BumpRecord(ctx, 404, 1); !errors.Is(err, apperrors.ErrRecordNotFound) {
			t.Errorf("expected ErrRecordNotFound, got %v", err)
		}
	})
}

func TestEmptyPrefixListReturnsEmpty(t *testing.T) {
	withIndex(t, func(t *testing.T, b backend, idx *search.Index) {
		loadSample(t, idx)
		for _, in := range [][]string{nil, {}, {"", "  "}} {
			got, err := idx.FindByPrefixes(context.Background(), in)
			if err != nil {
				t.Fatalf("FindByPrefixes(%q): %v", in, err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("FindByPrefixes(%q) = %v, want empty non-nil", in, got)
			}
		}
	})
}

func TestIntersectionExpires(t *testing.T) {
	withIndex(t, func(t *testing.T, b backend, idx *search.Index) {
		loadSample(t, idx)
		ctx := context.Background()
		if _, err := idx.FindByPrefixes(ctx, []string{"ki", "bi"}); err != nil {
			t.Fatal(err)
		}
		composite := idx.Keys().Composite([]string{"bi", "ki"})
		if _, ok := b.scores(composite, "1"); !ok {
			t.Fatal("intersection was not stored")
		}

		b.advance(search.DefaultIntersectionTTL - time.Second)
		if _, ok := b.scores(composite, "1"); !ok {
			t.Fatal("intersection expired early")
		}
		b.advance(2 * time.Second)
		if _, ok := b.scores(composite, "1"); ok {
			t.Fatal("intersection outlived its TTL")
		}
		if _, ok := b.scores(idx.Keys().Prefix("ki"), "1"); !ok {
			t.Fatal("prefix sets must not expire")
		}

		got, err := idx.FindByPrefixes(ctx, []string{"ki", "bi"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Errorf("recomputed intersection has %d records, want 3", len(got))
		}
	})
}

func TestMissingRecordIsHole(t *testing.T) {
	withIndex(t, func(t *testing.T, b backend, idx *search.Index) {
		loadSample(t, idx)
		ctx := context.Background()
		if err := idx.BumpScore(ctx, "Kill Bill 2", 5, 1); err != nil {
			t.Fatal(err)
		}
		if err := b.store.Del(ctx, idx.Keys().Data); err != nil {
			t.Fatal(err)
		}
		if err := b.store.HSet(ctx, idx.Keys().Data, "1", []byte(`{"id":1,"name":"Kill Bill","year":2003}`)); err != nil {
			t.Fatal(err)
		}
		got, err := idx.FindByPrefixes(ctx, []string{"kill"})
		if err != nil {
			t.Fatalf("FindByPrefixes: %v", err)
		}
		// kill matches Kill Bill, Killer Elite and Kill Bill 2; only 1 is stored.
		if len(got) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(got))
		}
		if got[0] != nil {
			t.Errorf("expected hole for bumped id 5 first, got %+v", got[0])
		}
		present := 0
		for _, r := range got {
			if r != nil {
				present++
				if r.ID != 1 {
					t.Errorf("unexpected record %+v", r)
				}
			}
		}
		if present != 1 {
			t.Errorf("expected exactly one stored record, got %d", present)
		}
	})
}

func TestMalformedRecordAbortsQuery(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":    "{oops",
		"wrong type":  `{"id":"three","name":"Killer Elite","year":2011}`,
		"id mismatch": `{"id":99,"name":"Killer Elite","year":2011}`,
		"json null":   "null",
	} {
		t.Run(name, func(t *testing.T) {
			withIndex(t, func(t *testing.T, b backend, idx *search.Index) {
				loadSample(t, idx)
				ctx := context.Background()
				if err := b.store.HSet(ctx, idx.Keys().Data, "3", []byte(payload)); err != nil {
					t.Fatal(err)
				}
				got, err := idx.FindByPrefixes(ctx, []string{"kil"})
				if !errors.Is(err, apperrors.ErrMalformedRecord) {
					t.Fatalf("expected ErrMalformedRecord, got %v", err)
				}
				if got != nil {
					t.Errorf("expected no partial results, got %v", got)
				}
			})
		})
	}
}

func TestRename(t *testing.T) {
	withIndex(t, func(t *testing.T, b backend, idx *search.Index) {
		loadSample(t, idx)
		ctx := context.Background()
		if err := idx.BumpScore(ctx, "Kill Bill", 1, 3); err != nil {
			t.Fatal(err)
		}
		if err := idx.Rename(ctx, 1, "Kill Bill", "Kill Bonnie"); err != nil {
			t.Fatalf("Rename: %v", err)
		}
		keys := idx.Keys()
		if _, ok := b.scores(keys.Prefix("bil"), "1"); ok {
			t.Error("stale prefix bil still lists record 1")
		}
		if _, ok := b.scores(keys.Prefix("bonnie"), "1"); !ok {
			t.Error("new prefix bonnie does not list record 1")
		}
		if score, _ := b.scores(keys.Prefix("kill"), "1"); score != 3 {
			t.Errorf("shared prefix lost its score: %v", score)
		}
		// "bi" was a prefix of Bill but not of Bonnie.
		if _, ok := b.scores(keys.Prefix("bi"), "1"); ok {
			t.Error("stale prefix bi still lists record 1")
		}
		rec, err := idx.Get(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Name != "Kill Bonnie" || rec.Year != 2003 {
			t.Errorf("stored record = %+v", rec)
		}

		// Renaming an index-only id leaves the record hash alone.
		if err := idx.Rename(ctx, 77, "Ghost", "Ghostbusters"); err != nil {
			t.Fatalf("Rename without record: %v", err)
		}
		if _, err := idx.Get(ctx, 77); !errors.Is(err, apperrors.ErrRecordNotFound) {
			t.Errorf("expected ErrRecordNotFound, got %v", err)
		}
	})
}

func TestClearAndReloadDropsOldMembership(t *testing.T) {
	withIndex(t, func(t *testing.T, b backend, idx *search.Index) {
		loadSample(t, idx)
		ctx := context.Background()
		if _, err := idx.FindByPrefixes(ctx, []string{"ki", "bi"}); err != nil {
			t.Fatal(err)
		}
		fresh := []search.Record{{ID: 11, Name: "Heat", Year: 1995}}
		if err := idx.ClearAndReload(ctx, fresh); err != nil {
			t.Fatalf("ClearAndReload: %v", err)
		}
		got, err := idx.FindByPrefixes(ctx, []string{"ki"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("old records survived reload: %v", ids(t, got))
		}
		if _, ok := b.scores(idx.Keys().Composite([]string{"bi", "ki"}), "1"); ok {
			t.Error("cached intersection survived reload")
		}
		if _, err := idx.Get(ctx, 1); !errors.Is(err, apperrors.ErrRecordNotFound) {
			t.Errorf("record 1 survived reload: %v", err)
		}
		got, err = idx.FindByPrefixes(ctx, []string{"hea"})
		if err != nil {
			t.Fatal(err)
		}
		if g := ids(t, got); !equalIDs(g, []int64{11}) {
			t.Errorf("FindByPrefixes(hea) = %v, want [11]", g)
		}
	})
}

func TestStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := pkgredis.NewClient(config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	idx := search.New(c, c, config.Default().Search)
	loadSample(t, idx)

	mr.Close()
	_, err = idx.FindByPrefixes(context.Background(), []string{"kil"})
	if !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	err = idx.RegisterRecord(context.Background(), "Heat", 11)
	if !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	b := newBackend(t)
	idx := search.New(b.store, b.store, config.Default().Search, search.WithMetrics(m))
	loadSample(t, idx)
	ctx := context.Background()

	if _, err := idx.FindByPrefixes(ctx, []string{"kil"}); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.FindByPrefixes(ctx, []string{"zz"}); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.FindByPrefixes(ctx, nil); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(m.PrefixQueriesTotal.WithLabelValues("hit")); got != 1 {
		t.Errorf("hit queries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PrefixQueriesTotal.WithLabelValues("zero_result")); got != 1 {
		t.Errorf("zero_result queries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PrefixQueriesTotal.WithLabelValues("empty")); got != 1 {
		t.Errorf("empty queries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RecordsIndexedTotal); got != 10 {
		t.Errorf("records indexed = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.IndexResetsTotal); got != 1 {
		t.Errorf("index resets = %v, want 1", got)
	}
}

func TestNormalizePrefixes(t *testing.T) {
	got := search.NormalizePrefixes([]string{"Ki", "bi ki", "", "BI"})
	want := []string{"bi", "ki"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("NormalizePrefixes = %v, want %v", got, want)
	}
}

func TestCompositeKeyNeverCollidesWithPrefixKey(t *testing.T) {
	keys := search.Keys{Data: "index-data", Root: "index-root"}
	for _, p := range prefix.Generate("and andes kil") {
		if keys.Composite([]string{p}) == keys.Prefix(p) {
			t.Errorf("composite key for %q equals its prefix key", p)
		}
		if keys.Composite([]string{"ki"}) == keys.Prefix(p) {
			t.Errorf("prefix %q collides with a composite key", p)
		}
	}
	if keys.IndexPattern() != "index-root:*" {
		t.Errorf("IndexPattern = %q", keys.IndexPattern())
	}
	if got := (search.Keys{Root: "a*b"}).IndexPattern(); got != `a\*b:*` {
		t.Errorf("IndexPattern did not escape glob chars: %q", got)
	}
}

func TestInvalidateIntersections(t *testing.T) {
	withIndex(t, func(t *testing.T, b backend, idx *search.Index) {
		loadSample(t, idx)
		ctx := context.Background()
		if err := idx.AddRecords(ctx, []search.Record{{ID: 11, Name: "And Justice for All", Year: 1979}}); err != nil {
			t.Fatal(err)
		}
		for _, q := range [][]string{{"ki", "bi"}, {"and"}} {
			if _, err := idx.FindByPrefixes(ctx, q); err != nil {
				t.Fatal(err)
			}
		}

		deleted, err := idx.InvalidateIntersections(ctx)
		if err != nil {
			t.Fatalf("InvalidateIntersections: %v", err)
		}
		if deleted != 2 {
			t.Errorf("deleted %d keys, want 2", deleted)
		}
		if _, ok := b.scores(idx.Keys().Composite([]string{"bi", "ki"}), "1"); ok {
			t.Error("intersection survived invalidation")
		}
		if _, ok := b.scores(idx.Keys().Prefix("and"), "11"); !ok {
			t.Error("prefix set \"and\" must not be treated as an intersection")
		}
	})
	if got := (search.Keys{Root: "index-root"}).IntersectionPattern(); got != "index-root:and *" {
		t.Errorf("IntersectionPattern = %q", got)
	}
}

// stallingStore holds ZInterStore until release is closed.
type stallingStore struct {
	search.Store
	entered chan struct{}
	release chan struct{}
}

func (s *stallingStore) ZInterStore(ctx context.Context, dest string, keys []string) (int64, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.ZInterStore(ctx, dest, keys)
}

func TestCanceledCallerDoesNotFailSharedQuery(t *testing.T) {
	withIndex(t, func(t *testing.T, b backend, idx *search.Index) {
		loadSample(t, idx)
		stall := &stallingStore{
			Store:   b.store,
			entered: make(chan struct{}, 2),
			release: make(chan struct{}),
		}
		shared := search.New(stall, stall, config.Default().Search)

		first, cancel := context.WithCancel(context.Background())
		defer cancel()
		firstErr := make(chan error, 1)
		go func() {
			_, err := shared.FindByPrefixes(first, []string{"kil"})
			firstErr <- err
		}()
		<-stall.entered

		type result struct {
			records []*search.Record
			err     error
		}
		second := make(chan result, 1)
		go func() {
			records, err := shared.FindByPrefixes(context.Background(), []string{"kil"})
			second <- result{records, err}
		}()
		time.Sleep(50 * time.Millisecond)

		cancel()
		select {
		case err := <-firstErr:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("canceled caller got %v, want context.Canceled", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("canceled caller kept waiting on the shared query")
		}

		close(stall.release)
		select {
		case res := <-second:
			if res.err != nil {
				t.Fatalf("live caller failed: %v", res.err)
			}
			if g := sortedIDs(t, res.records); !equalIDs(g, []int64{1, 3, 4, 5}) {
				t.Errorf("live caller got %v, want [1 3 4 5]", g)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("live caller never returned")
		}
	})
}
