package cache

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/engine"
	"github.com/rushteam/recserve/oracle"
	"github.com/rushteam/recserve/pkg/logging"
	"github.com/rushteam/recserve/store"
)

type fakeEngine struct {
	calls   atomic.Int32
	loaded  bool
	version string
	release chan struct{}
}

func (f *fakeEngine) RecommendDetailed(_ context.Context, userID int64, n int) (engine.Recommendation, error) {
	if !f.loaded {
		return engine.Recommendation{}, core.ErrNotLoaded
	}
	if n <= 0 {
		return engine.Recommendation{}, core.ErrInvalidCount
	}
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	items := make([]int64, n)
	for i := range items {
		items[i] = userID*100 + int64(i)
	}
	return engine.Recommendation{UserID: userID, Items: items, Path: engine.PathPersonalized}, nil
}

func (f *fakeEngine) Loaded() bool { return f.loaded }

func (f *fakeEngine) Stats() (core.BundleStats, bool) {
	return core.BundleStats{Version: f.version}, f.loaded
}

// brokenStore 的所有操作都失败
type brokenStore struct{ calls atomic.Int32 }

func (b *brokenStore) Name() string { return "broken" }
func (b *brokenStore) Get(context.Context, string) ([]byte, error) {
	b.calls.Add(1)
	return nil, errors.New("connection refused")
}
func (b *brokenStore) Set(context.Context, string, []byte, ...int) error {
	b.calls.Add(1)
	return errors.New("connection refused")
}
func (b *brokenStore) Delete(context.Context, string) error { return nil }
func (b *brokenStore) BatchGet(context.Context, []string) (map[string][]byte, error) {
	return nil, errors.New("connection refused")
}
func (b *brokenStore) BatchSet(context.Context, map[string][]byte, ...int) error {
	return errors.New("connection refused")
}
func (b *brokenStore) Close() error { return nil }

func newRecommender(t *testing.T, eng Engine, s core.Store, cfg Config) (*Recommender, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(eng, s, cfg, WithRegisterer(reg)), reg
}

func TestKey(t *testing.T) {
	assert.Equal(t, "rec:v1:10:5", Key("v1", 10, 5))
}

func TestRecommender_HitAndMiss(t *testing.T) {
	eng := &fakeEngine{loaded: true, version: "v1"}
	mem := store.NewMemoryStore()
	defer mem.Close()
	r, _ := newRecommender(t, eng, mem, DefaultConfig())
	ctx := context.Background()

	first, err := r.RecommendDetailed(ctx, 7, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{700, 701, 702}, first.Items)

	second, err := r.RecommendDetailed(ctx, 7, 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), eng.calls.Load())

	_, err = mem.Get(ctx, Key("v1", 7, 3))
	require.NoError(t, err)

	// 不同 n 是不同的 key
	items, err := r.Recommend(ctx, 7, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{700, 701}, items)
	assert.Equal(t, int32(2), eng.calls.Load())

	assert.Equal(t, float64(1), testutil.ToFloat64(r.results.WithLabelValues(resultHit)))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.results.WithLabelValues(resultMiss)))
}

func TestRecommender_VersionChangeMisses(t *testing.T) {
	eng := &fakeEngine{loaded: true, version: "v1"}
	mem := store.NewMemoryStore()
	defer mem.Close()
	r, _ := newRecommender(t, eng, mem, DefaultConfig())
	ctx := context.Background()

	_, err := r.Recommend(ctx, 1, 2)
	require.NoError(t, err)
	eng.version = "v2"
	_, err = r.Recommend(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(2), eng.calls.Load())
}

func TestRecommender_ErrorsPassThrough(t *testing.T) {
	mem := store.NewMemoryStore()
	defer mem.Close()

	r, _ := newRecommender(t, &fakeEngine{}, mem, DefaultConfig())
	_, err := r.Recommend(context.Background(), 1, 2)
	assert.ErrorIs(t, err, core.ErrNotLoaded)

	r, _ = newRecommender(t, &fakeEngine{loaded: true}, mem, DefaultConfig())
	_, err = r.Recommend(context.Background(), 1, 0)
	assert.ErrorIs(t, err, core.ErrInvalidCount)
	assert.Equal(t, 0, mem.Len())
}

func TestRecommender_CorruptEntry(t *testing.T) {
	eng := &fakeEngine{loaded: true, version: "v1"}
	mem := store.NewMemoryStore()
	defer mem.Close()
	require.NoError(t, mem.Set(context.Background(), Key("v1", 3, 1), []byte("{not json")))

	r, _ := newRecommender(t, eng, mem, DefaultConfig())
	items, err := r.Recommend(context.Background(), 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{300}, items)
	assert.Equal(t, int32(1), eng.calls.Load())
}

func TestRecommender_BreakerOpens(t *testing.T) {
	eng := &fakeEngine{loaded: true, version: "v1"}
	broken := &brokenStore{}
	r, _ := newRecommender(t, eng, broken, Config{FailureThreshold: 2, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		items, err := r.Recommend(ctx, 9, 2)
		require.NoError(t, err, "cache failures must not fail requests")
		assert.Equal(t, []int64{900, 901}, items)
	}
	assert.Equal(t, int32(5), eng.calls.Load())
	// 第一次 Get 失败，第二次 Get 失败后熔断；之后不再访问存储
	assert.Equal(t, int32(2), broken.calls.Load())
	assert.Equal(t, float64(3), testutil.ToFloat64(r.results.WithLabelValues(resultBypass)))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.results.WithLabelValues(resultError)))
}

func TestRecommender_CoalescesConcurrentMisses(t *testing.T) {
	eng := &fakeEngine{loaded: true, version: "v1", release: make(chan struct{})}
	mem := store.NewMemoryStore()
	defer mem.Close()
	r, _ := newRecommender(t, eng, mem, DefaultConfig())

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]int64, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			items, err := r.Recommend(context.Background(), 4, 3)
			assert.NoError(t, err)
			results[i] = items
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(eng.release)
	wg.Wait()

	assert.Equal(t, int32(1), eng.calls.Load())
	for _, items := range results {
		assert.Equal(t, []int64{400, 401, 402}, items)
	}
	// 每个调用方拿到独立的切片
	results[0][0] = -1
	assert.Equal(t, int64(400), results[1][0])
}

// flakyRanker 在 fail 为 true 时返回错误，否则推荐下标 [1, 2]
type flakyRanker struct{ fail atomic.Bool }

func (f *flakyRanker) Name() string { return "flaky" }

func (f *flakyRanker) Rank(context.Context, int, core.InteractionRow, int) ([]int, error) {
	if f.fail.Load() {
		return nil, errors.New("model backend unavailable")
	}
	return []int{1, 2}, nil
}

// loadedEngine 构造 users {10}、items {100,101,102}、fallback [102,101,100] 的真实引擎
func loadedEngine(t *testing.T, ranker core.Ranker) *engine.Engine {
	t.Helper()
	users, err := core.NewIDIndex([]int64{10})
	require.NoError(t, err)
	items, err := core.NewIDIndex([]int64{100, 101, 102})
	require.NoError(t, err)
	m, err := core.NewInteractionMatrix(1, 3, []core.Interaction{{User: 0, Item: 0, Weight: 1}})
	require.NoError(t, err)

	eng := engine.New(
		engine.WithLogger(logging.NewTestLogger(io.Discard)),
		engine.WithMetrics(engine.NewMetrics(prometheus.NewRegistry())),
	)
	require.NoError(t, eng.Load(&core.Bundle{
		Version:      "v1",
		OracleKind:   "test",
		Ranker:       ranker,
		Interactions: m,
		Users:        users,
		Items:        items,
		Popular:      []int64{102, 101, 100},
	}))
	return eng
}

func TestRecommender_DegradedResultNotCached(t *testing.T) {
	ranker := &flakyRanker{}
	ranker.fail.Store(true)
	mem := store.NewMemoryStore()
	defer mem.Close()
	r, _ := newRecommender(t, loadedEngine(t, ranker), mem, DefaultConfig())
	ctx := context.Background()

	rec, err := r.RecommendDetailed(ctx, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, engine.PathDegraded, rec.Path)
	assert.Equal(t, []int64{102, 101}, rec.Items)
	assert.Equal(t, 0, mem.Len(), "degraded result must not be written")

	ranker.fail.Store(false)
	rec, err = r.RecommendDetailed(ctx, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, engine.PathPersonalized, rec.Path)
	assert.Equal(t, []int64{101, 102}, rec.Items)
	assert.Equal(t, 1, mem.Len())
}

func TestRecommender_CancelledCallerDoesNotPoisonKey(t *testing.T) {
	model, err := oracle.NewFactorModel(
		[][]float32{{1, 0}},
		[][]float32{{.1, .1}, {.9, .2}, {.5, .5}},
	)
	require.NoError(t, err)
	eng := loadedEngine(t, oracle.NewAdapter(oracle.KindFactor, model))

	// 直接调用引擎时，已取消的 ctx 会让打分失败并降级
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	direct, err := eng.RecommendDetailed(cancelled, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, engine.PathDegraded, direct.Path)

	mem := store.NewMemoryStore()
	defer mem.Close()
	r, _ := newRecommender(t, eng, mem, DefaultConfig())

	first, err := r.RecommendDetailed(cancelled, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, engine.PathPersonalized, first.Path)
	assert.Equal(t, []int64{101, 102}, first.Items)

	later, err := r.RecommendDetailed(context.Background(), 10, 2)
	require.NoError(t, err)
	assert.Equal(t, first, later)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.results.WithLabelValues(resultHit)))
}
