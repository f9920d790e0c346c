package engine

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/oracle"
	"github.com/rushteam/recserve/pkg/logging"
)

// stubRanker 按用户下标返回固定结果
type stubRanker struct {
	out map[int][]int
	err error
}

func (s *stubRanker) Name() string { return "stub" }

func (s *stubRanker) Rank(_ context.Context, userIdx int, _ core.InteractionRow, _ int) ([]int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.out[userIdx], nil
}

// rawStub 模拟输出形态不可控的打分模型
type rawStub struct{ out any }

func (r rawStub) Name() string { return "raw-stub" }

func (r rawStub) Recommend(context.Context, int, core.InteractionRow, int, bool) (any, error) {
	return r.out, nil
}

// newBundle 构造 users {10,11}、items {100..104}、fallback [104,103,102,101,100] 的模型包。
// 用户 10 交互过 102 和 103，用户 11 交互过 100。
func newBundle(t *testing.T, ranker core.Ranker, popular []int64) *core.Bundle {
	t.Helper()
	users, err := core.NewIDIndex([]int64{10, 11})
	require.NoError(t, err)
	items, err := core.NewIDIndex([]int64{100, 101, 102, 103, 104})
	require.NoError(t, err)
	m, err := core.NewInteractionMatrix(2, 5, []core.Interaction{
		{User: 0, Item: 2, Weight: 1},
		{User: 0, Item: 3, Weight: 2},
		{User: 1, Item: 0, Weight: 5},
	})
	require.NoError(t, err)
	if popular == nil {
		popular = []int64{104, 103, 102, 101, 100}
	}
	return &core.Bundle{
		Version:      "test",
		OracleKind:   "stub",
		Ranker:       ranker,
		Interactions: m,
		Users:        users,
		Items:        items,
		Popular:      popular,
	}
}

func newEngine(t *testing.T, b *core.Bundle) (*Engine, *Metrics) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	e := New(WithMetrics(metrics), WithLogger(logging.NewTestLogger(&bytes.Buffer{})))
	require.NoError(t, e.Load(b))
	return e, metrics
}

func TestRecommend_Scenario(t *testing.T) {
	ranker := &stubRanker{out: map[int][]int{0: {1, 0}}}
	e, _ := newEngine(t, newBundle(t, ranker, nil))
	ctx := context.Background()

	got, err := e.Recommend(ctx, 999, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{104, 103, 102, 101, 100}, got)

	got, err = e.Recommend(ctx, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{101, 100, 104}, got)
}

func TestRecommend_Paths(t *testing.T) {
	tests := []struct {
		name       string
		ranker     core.Ranker
		user       int64
		n          int
		want       []int64
		wantPath   Path
		wantPadded int
	}{
		{
			name:     "cold start",
			ranker:   &stubRanker{},
			user:     42,
			n:        2,
			want:     []int64{104, 103},
			wantPath: PathColdStart,
		},
		{
			name:     "personalized",
			ranker:   &stubRanker{out: map[int][]int{0: {4, 1, 0}}},
			user:     10,
			n:        3,
			want:     []int64{104, 101, 100},
			wantPath: PathPersonalized,
		},
		{
			name:     "oracle returns more than n",
			ranker:   &stubRanker{out: map[int][]int{0: {4, 1, 0}}},
			user:     10,
			n:        2,
			want:     []int64{104, 101},
			wantPath: PathPersonalized,
		},
		{
			name:       "padding skips ids already present",
			ranker:     &stubRanker{out: map[int][]int{1: {4}}},
			user:       11,
			n:          3,
			want:       []int64{104, 103, 102},
			wantPath:   PathPadded,
			wantPadded: 2,
		},
		{
			name:       "empty oracle output",
			ranker:     &stubRanker{out: map[int][]int{}},
			user:       10,
			n:          2,
			want:       []int64{104, 103},
			wantPath:   PathPadded,
			wantPadded: 2,
		},
		{
			name:     "ranker error",
			ranker:   &stubRanker{err: errors.New("boom")},
			user:     10,
			n:        3,
			want:     []int64{104, 103, 102},
			wantPath: PathDegraded,
		},
		{
			name:     "malformed oracle output",
			ranker:   oracle.NewAdapter("raw", rawStub{out: "not a list"}),
			user:     10,
			n:        4,
			want:     []int64{104, 103, 102, 101},
			wantPath: PathDegraded,
		},
		{
			name:       "unknown and duplicate indices dropped",
			ranker:     &stubRanker{out: map[int][]int{0: {1, 99, 1, 0}}},
			user:       10,
			n:          3,
			want:       []int64{101, 100, 104},
			wantPath:   PathPadded,
			wantPadded: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(t, newBundle(t, tt.ranker, nil))
			rec, err := e.RecommendDetailed(context.Background(), tt.user, tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Items)
			assert.Equal(t, tt.wantPath, rec.Path)
			assert.Equal(t, tt.wantPadded, rec.Padded)
			assert.Equal(t, tt.user, rec.UserID)
		})
	}
}

func TestRecommend_Properties(t *testing.T) {
	model, err := oracle.NewFactorModel(
		[][]float32{{1, 0}, {0, 1}},
		[][]float32{{0.9, 0.1}, {0.8, 0.2}, {0.7, 0.3}, {0.6, 0.4}, {0.5, 0.5}},
	)
	require.NoError(t, err)
	b := newBundle(t, oracle.NewAdapter(oracle.KindFactor, model), nil)
	e, _ := newEngine(t, b)
	ctx := context.Background()

	for _, user := range []int64{10, 11, 999} {
		for n := 1; n <= len(b.Popular); n++ {
			rec, err := e.RecommendDetailed(ctx, user, n)
			require.NoError(t, err)
			assert.Len(t, rec.Items, n, "user %d n %d", user, n)

			again, err := e.Recommend(ctx, user, n)
			require.NoError(t, err)
			assert.Equal(t, rec.Items, again, "idempotent")

			seen := map[int64]bool{}
			for _, id := range rec.Items {
				assert.False(t, seen[id], "duplicate %d", id)
				seen[id] = true
			}

			idx, known := b.Users.Index(user)
			if !known {
				assert.Equal(t, b.Popular[:n], rec.Items)
				continue
			}
			// 非补齐部分不能包含用户交互过的物品
			row := b.Interactions.Row(idx)
			for _, id := range rec.Items[:len(rec.Items)-rec.Padded] {
				itemIdx, _ := b.Items.Index(id)
				assert.False(t, row.Contains(itemIdx), "user %d got interacted item %d", user, id)
			}
		}
	}
}

func TestRecommend_ShortFallback(t *testing.T) {
	e, _ := newEngine(t, newBundle(t, &stubRanker{}, []int64{104, 103, 102}))
	ctx := context.Background()

	got, err := e.Recommend(ctx, 999, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{104, 103, 102}, got)

	got, err = e.Recommend(ctx, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{104, 103, 102}, got)
}

func TestRecommend_ResultIsCopy(t *testing.T) {
	b := newBundle(t, &stubRanker{}, nil)
	e, _ := newEngine(t, b)

	got, err := e.Recommend(context.Background(), 999, 2)
	require.NoError(t, err)
	got[0] = -1
	assert.Equal(t, int64(104), b.Popular[0])
}

func TestRecommend_Errors(t *testing.T) {
	e := New(WithMetrics(NewMetrics(prometheus.NewRegistry())))
	_, err := e.Recommend(context.Background(), 10, 3)
	assert.ErrorIs(t, err, core.ErrNotLoaded)
	assert.True(t, core.IsNotLoaded(err))

	require.NoError(t, e.Load(newBundle(t, &stubRanker{}, nil)))
	for _, n := range []int{0, -1} {
		_, err = e.Recommend(context.Background(), 10, n)
		assert.ErrorIs(t, err, core.ErrInvalidCount)
		assert.True(t, core.IsInvalidInput(err))
	}
}

func TestLoad(t *testing.T) {
	e := New(WithMetrics(NewMetrics(prometheus.NewRegistry())))
	assert.False(t, e.Loaded())
	_, ok := e.Stats()
	assert.False(t, ok)

	bad := newBundle(t, &stubRanker{}, nil)
	bad.Popular = nil
	assert.ErrorIs(t, e.Load(bad), core.ErrInvalidBundle)
	assert.False(t, e.Loaded())

	require.NoError(t, e.Load(newBundle(t, &stubRanker{}, nil)))
	assert.True(t, e.Loaded())
	assert.ErrorIs(t, e.Load(newBundle(t, &stubRanker{}, nil)), core.ErrAlreadyLoaded)

	st, ok := e.Stats()
	require.True(t, ok)
	assert.Equal(t, core.BundleStats{Version: "test", Oracle: "stub", Users: 2, Items: 5, NNZ: 3, Fallback: 5}, st)
}

func TestEnsureLoaded_Once(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	e := New(WithMetrics(metrics))

	var calls atomic.Int32
	loader := LoaderFunc(func(context.Context) (*core.Bundle, error) {
		calls.Add(1)
		return newBundle(t, &stubRanker{}, nil), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.EnsureLoaded(context.Background(), loader))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, e.Loaded())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BundleLoaded))
}

func TestEnsureLoaded_RetryAfterFailure(t *testing.T) {
	e := New(WithMetrics(NewMetrics(prometheus.NewRegistry())))
	boom := errors.New("storage unavailable")

	err := e.EnsureLoaded(context.Background(), LoaderFunc(func(context.Context) (*core.Bundle, error) {
		return nil, boom
	}))
	assert.ErrorIs(t, err, boom)
	assert.False(t, e.Loaded())

	_, err = e.Recommend(context.Background(), 10, 1)
	assert.ErrorIs(t, err, core.ErrNotLoaded)

	err = e.EnsureLoaded(context.Background(), LoaderFunc(func(context.Context) (*core.Bundle, error) {
		return newBundle(t, &stubRanker{}, nil), nil
	}))
	require.NoError(t, err)
	assert.True(t, e.Loaded())
}

func TestRecommend_Metrics(t *testing.T) {
	ranker := &stubRanker{out: map[int][]int{0: {1}}}
	e, m := newEngine(t, newBundle(t, ranker, nil))
	ctx := context.Background()

	_, err := e.Recommend(ctx, 999, 2)
	require.NoError(t, err)
	_, err = e.Recommend(ctx, 10, 3)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues(string(PathColdStart))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues(string(PathPadded))))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Padding))

	ranker.err = core.ErrOracleOutputUnrecognized
	_, err = e.Recommend(ctx, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OracleAnomalies.WithLabelValues("unrecognized_output")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues(string(PathDegraded))))
}

func TestRecommend_Concurrent(t *testing.T) {
	ranker := &stubRanker{out: map[int][]int{0: {1, 0}, 1: {4, 3}}}
	e, _ := newEngine(t, newBundle(t, ranker, nil))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := []int64{10, 11, 999}[i%3]
			got, err := e.Recommend(context.Background(), user, 3)
			assert.NoError(t, err)
			assert.Len(t, got, 3)
		}(i)
	}
	wg.Wait()
}
