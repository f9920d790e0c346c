// Package engine 是在线推荐引擎：持有已加载的模型包，回答 TopN 推荐请求。
//
// 请求路径：
//   - 未知用户：直接返回热门兜底的前 n 个（冷启动）
//   - 已知用户：用户下标 → 交互行 → Ranker 打分 → 下标翻译为物品 ID → 不足 n 时用热门补齐
//   - Ranker 失败或输出无法识别：记录告警与指标，降级为热门兜底的前 n 个
//
// 加载完成后引擎只读，Recommend 不加锁，可被任意数量的 goroutine 并发调用。
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pkg/logging"
)

// DefaultCount 是调用方未指定数量时的默认推荐数。
const DefaultCount = 5

// Path 表示一次推荐请求走过的服务路径。
type Path string

const (
	PathColdStart    Path = "cold_start"   // 未知用户，热门兜底
	PathPersonalized Path = "personalized" // 打分模型结果，无需补齐
	PathPadded       Path = "padded"       // 打分模型结果不足 n，热门补齐
	PathDegraded     Path = "degraded"     // 打分模型失败，热门兜底
)

// Recommendation 是带路径信息的推荐结果。
type Recommendation struct {
	UserID int64   `json:"user_id"`
	Items  []int64 `json:"items"`
	Path   Path    `json:"path"`
	Padded int     `json:"padded"` // 补齐使用的热门物品数
}

// Loader 产出一个模型包，bundle.Loader 实现了该接口。
type Loader interface {
	Load(ctx context.Context) (*core.Bundle, error)
}

// LoaderFunc 把函数适配为 Loader
type LoaderFunc func(ctx context.Context) (*core.Bundle, error)

func (f LoaderFunc) Load(ctx context.Context) (*core.Bundle, error) { return f(ctx) }

// Engine 是推荐引擎。零值不可用，需通过 New 创建。
type Engine struct {
	bundle  atomic.Pointer[core.Bundle]
	mu      sync.Mutex // 串行化加载
	logger  zerolog.Logger
	metrics *Metrics
}

// Option 引擎配置项
type Option func(*Engine)

// WithLogger 设置引擎日志
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics 设置引擎指标
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New 创建处于未加载状态的引擎。
func New(opts ...Option) *Engine {
	e := &Engine{logger: logging.WithComponent("engine")}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e
}

// Load 校验并安装模型包。Loaded 是终态，重复调用返回 core.ErrAlreadyLoaded。
func (e *Engine) Load(b *core.Bundle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.install(b)
}

// EnsureLoaded 保证模型包只被加载一次。
//
// 检查与加载在同一个临界区内完成：并发调用者会阻塞到首次加载结束。
// 已加载时直接返回 nil；加载失败时引擎保持未加载状态，并返回错误，后续调用可重试。
func (e *Engine) EnsureLoaded(ctx context.Context, loader Loader) error {
	if e.bundle.Load() != nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bundle.Load() != nil {
		return nil
	}
	start := time.Now()
	b, err := loader.Load(ctx)
	if err != nil {
		e.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("bundle load failed")
		return fmt.Errorf("engine: load bundle: %w", err)
	}
	return e.install(b)
}

func (e *Engine) install(b *core.Bundle) error {
	if e.bundle.Load() != nil {
		return core.ErrAlreadyLoaded
	}
	if err := b.Validate(); err != nil {
		return err
	}
	e.bundle.Store(b)
	e.metrics.BundleLoaded.Set(1)

	st := b.Stats()
	e.logger.Info().
		Str("version", st.Version).
		Str("oracle", b.Ranker.Name()).
		Int("users", st.Users).
		Int("items", st.Items).
		Int("nnz", st.NNZ).
		Int("fallback", st.Fallback).
		Msg("bundle loaded")
	return nil
}

// Loaded 报告引擎是否已加载模型包
func (e *Engine) Loaded() bool { return e.bundle.Load() != nil }

// Stats 返回已加载模型包的统计信息
func (e *Engine) Stats() (core.BundleStats, bool) {
	b := e.bundle.Load()
	if b == nil {
		return core.BundleStats{}, false
	}
	return b.Stats(), true
}

// Recommend 为 userID 返回最多 n 个物品 ID，按推荐顺序排列。
func (e *Engine) Recommend(ctx context.Context, userID int64, n int) ([]int64, error) {
	rec, err := e.RecommendDetailed(ctx, userID, n)
	if err != nil {
		return nil, err
	}
	return rec.Items, nil
}

// RecommendDetailed 与 Recommend 相同，额外返回服务路径和补齐数量。
//
// 结果长度为 n；只有当热门兜底本身不足以提供 n 个不重复物品时才会更短，这种情况不是错误。
func (e *Engine) RecommendDetailed(ctx context.Context, userID int64, n int) (Recommendation, error) {
	b := e.bundle.Load()
	if b == nil {
		return Recommendation{}, core.ErrNotLoaded
	}
	if n <= 0 {
		return Recommendation{}, core.ErrInvalidCount
	}

	start := time.Now()
	rec := e.recommend(ctx, b, userID, n)
	e.metrics.Duration.Observe(time.Since(start).Seconds())
	e.metrics.Requests.WithLabelValues(string(rec.Path)).Inc()
	if rec.Padded > 0 {
		e.metrics.Padding.Add(float64(rec.Padded))
	}
	if len(rec.Items) < n {
		logging.With(ctx, e.logger).Warn().
			Int64("user_id", userID).
			Int("n", n).
			Int("returned", len(rec.Items)).
			Int("fallback", len(b.Popular)).
			Msg("fallback too short to fill request")
	}
	return rec, nil
}

func (e *Engine) recommend(ctx context.Context, b *core.Bundle, userID int64, n int) Recommendation {
	rec := Recommendation{UserID: userID}

	userIdx, known := b.Users.Index(userID)
	if !known {
		rec.Path = PathColdStart
		rec.Items = head(b.Popular, n)
		return rec
	}

	indices, err := b.Ranker.Rank(ctx, userIdx, b.Interactions.Row(userIdx), n)
	if err != nil {
		reason := "error"
		if core.IsUnrecognizedOutput(err) {
			reason = "unrecognized_output"
		}
		e.metrics.OracleAnomalies.WithLabelValues(reason).Inc()
		logging.With(ctx, e.logger).Warn().
			Err(err).
			Int64("user_id", userID).
			Str("ranker", b.Ranker.Name()).
			Str("reason", reason).
			Msg("ranker failed, serving popularity fallback")
		rec.Path = PathDegraded
		rec.Items = head(b.Popular, n)
		return rec
	}

	items, seen := e.translate(ctx, b, indices, n)
	padded := 0
	if len(items) < n {
		before := len(items)
		items = pad(items, seen, b.Popular, n)
		padded = len(items) - before
	}

	rec.Items = items
	rec.Padded = padded
	rec.Path = PathPersonalized
	if padded > 0 {
		rec.Path = PathPadded
		logging.With(ctx, e.logger).Debug().
			Int64("user_id", userID).
			Int("padded", padded).
			Msg("padded personalized result with popular items")
	}
	return rec
}

// translate 把 Ranker 返回的物品下标翻译为物品 ID，保持顺序并截断到 n。
// 越界下标和重复下标被丢弃并计入异常指标。
func (e *Engine) translate(ctx context.Context, b *core.Bundle, indices []int, n int) ([]int64, map[int64]struct{}) {
	items := make([]int64, 0, n)
	seen := make(map[int64]struct{}, n)
	for _, idx := range indices {
		if len(items) == n {
			break
		}
		id, ok := b.Items.ID(idx)
		if !ok {
			e.metrics.OracleAnomalies.WithLabelValues("unknown_index").Inc()
			logging.With(ctx, e.logger).Warn().Int("index", idx).Msg("ranker returned unknown item index")
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		items = append(items, id)
	}
	return items, seen
}

// pad 按热门顺序补齐到 n，跳过结果中已有的物品。
func pad(items []int64, seen map[int64]struct{}, popular []int64, n int) []int64 {
	for _, id := range popular {
		if len(items) >= n {
			break
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		items = append(items, id)
	}
	return items
}

// head 返回 popular[:n] 的副本，调用方可以安全修改。
func head(popular []int64, n int) []int64 {
	if n > len(popular) {
		n = len(popular)
	}
	out := make([]int64, n)
	copy(out, popular[:n])
	return out
}
