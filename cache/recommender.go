// Package cache 为推荐引擎提供结果缓存。
//
// key 格式为 rec:{bundle 版本}:{user_id}:{n}，新模型包上线后版本号变化，旧缓存自然失效。
// 缓存只是加速手段：存储后端故障时熔断并直接回源引擎，请求不会因为缓存失败而失败。
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/engine"
	"github.com/rushteam/recserve/pkg/logging"
)

// Engine 是被缓存的推荐引擎能力，*engine.Engine 实现了该接口。
type Engine interface {
	RecommendDetailed(ctx context.Context, userID int64, n int) (engine.Recommendation, error)
	Loaded() bool
	Stats() (core.BundleStats, bool)
}

// Config 缓存配置
type Config struct {
	TTL time.Duration // 缓存有效期，<= 0 表示不过期（依赖版本号失效）

	// 熔断：连续失败 FailureThreshold 次后熔断 OpenTimeout，期间绕过缓存
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{TTL: 10 * time.Minute, FailureThreshold: 5, OpenTimeout: 30 * time.Second}
}

// 缓存查询结果（metrics 标签）
const (
	resultHit    = "hit"
	resultMiss   = "miss"
	resultError  = "error"
	resultBypass = "bypass"
)

// Recommender 是带缓存的推荐引擎。
type Recommender struct {
	engine  Engine
	store   core.Store
	ttl     int
	breaker *gobreaker.CircuitBreaker[[]byte]
	group   singleflight.Group
	logger  zerolog.Logger
	results *prometheus.CounterVec
}

// Option 配置项
type Option func(*Recommender)

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option {
	return func(r *Recommender) { r.logger = l }
}

// WithRegisterer 把缓存指标注册到 reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Recommender) { r.results = newResultsCounter(reg) }
}

// New 创建带缓存的推荐引擎
func New(eng Engine, s core.Store, cfg Config, opts ...Option) *Recommender {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultConfig().OpenTimeout
	}
	r := &Recommender{
		engine: eng,
		store:  s,
		ttl:    int(cfg.TTL / time.Second),
		logger: logging.WithComponent("cache"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.results == nil {
		r.results = newResultsCounter(nil)
	}

	threshold := cfg.FailureThreshold
	r.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "cache." + s.Name(),
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("cache circuit breaker state changed")
		},
	})
	return r
}

func newResultsCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	return promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "recserve_cache_requests_total",
			Help: "Total number of recommendation cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss", "error", "bypass"
	)
}

// Key 返回缓存 key
func Key(version string, userID int64, n int) string {
	return fmt.Sprintf("rec:%s:%d:%d", version, userID, n)
}

// entry 是缓存值（JSON）
type entry struct {
	Items  []int64     `json:"items"`
	Path   engine.Path `json:"path"`
	Padded int         `json:"padded,omitempty"`
}

func (r *Recommender) Loaded() bool                    { return r.engine.Loaded() }
func (r *Recommender) Stats() (core.BundleStats, bool) { return r.engine.Stats() }

// Recommend 返回推荐物品 ID
func (r *Recommender) Recommend(ctx context.Context, userID int64, n int) ([]int64, error) {
	rec, err := r.RecommendDetailed(ctx, userID, n)
	if err != nil {
		return nil, err
	}
	return rec.Items, nil
}

// RecommendDetailed 先查缓存，未命中时回源引擎并回写；同一 key 的并发未命中只回源一次。
func (r *Recommender) RecommendDetailed(ctx context.Context, userID int64, n int) (engine.Recommendation, error) {
	st, loaded := r.engine.Stats()
	if !loaded || n <= 0 {
		// 错误路径交给引擎返回（ErrNotLoaded / ErrInvalidCount）
		return r.engine.RecommendDetailed(ctx, userID, n)
	}
	key := Key(st.Version, userID, n)

	raw, err := r.breaker.Execute(func() ([]byte, error) {
		v, err := r.store.Get(ctx, key)
		if core.IsStoreNotFound(err) {
			return nil, nil
		}
		return v, err
	})
	switch {
	case err != nil:
		result := resultError
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = resultBypass
		}
		r.results.WithLabelValues(result).Inc()
		logging.With(ctx, r.logger).Debug().Err(err).Str("key", key).Msg("cache read failed, bypassing")
		return r.engine.RecommendDetailed(ctx, userID, n)
	case raw != nil:
		var e entry
		if err := json.Unmarshal(raw, &e); err == nil {
			r.results.WithLabelValues(resultHit).Inc()
			return engine.Recommendation{UserID: userID, Items: e.Items, Path: e.Path, Padded: e.Padded}, nil
		}
		logging.With(ctx, r.logger).Warn().Str("key", key).Msg("corrupt cache entry, recomputing")
	}

	r.results.WithLabelValues(resultMiss).Inc()
	// 回源结果由同一 key 的所有并发调用方共享，不能被第一个调用方的取消打断
	shared := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(key, func() (any, error) {
		rec, err := r.engine.RecommendDetailed(shared, userID, n)
		if err != nil {
			return engine.Recommendation{}, err
		}
		// 降级结果只是临时兜底，不写缓存
		if rec.Path != engine.PathDegraded {
			r.write(shared, key, rec)
		}
		return rec, nil
	})
	if err != nil {
		return engine.Recommendation{}, err
	}
	rec := v.(engine.Recommendation)
	rec.Items = append([]int64(nil), rec.Items...)
	return rec, nil
}

func (r *Recommender) write(ctx context.Context, key string, rec engine.Recommendation) {
	data, err := json.Marshal(entry{Items: rec.Items, Path: rec.Path, Padded: rec.Padded})
	if err != nil {
		return
	}
	_, err = r.breaker.Execute(func() ([]byte, error) {
		return nil, r.store.Set(ctx, key, data, r.ttl)
	})
	if err != nil {
		logging.With(ctx, r.logger).Debug().Err(err).Str("key", key).Msg("cache write failed")
	}
}
