// Package server 是推荐引擎的 HTTP 边界：解析请求、映射错误码、暴露健康检查与指标。
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/engine"
	"github.com/rushteam/recserve/pkg/logging"
)

// Recommender 是 HTTP 层依赖的推荐能力，*engine.Engine 与 *cache.Recommender 均实现了该接口。
type Recommender interface {
	RecommendDetailed(ctx context.Context, userID int64, n int) (engine.Recommendation, error)
	Loaded() bool
	Stats() (core.BundleStats, bool)
}

// Config HTTP 层参数
type Config struct {
	DefaultCount int           // 未指定 n 时的推荐数量
	MaxCount     int           // n 的上限
	RateLimit    int           // 每个 IP 每个窗口的请求数，0 表示不限流
	RateWindow   time.Duration // 限流窗口
}

// Server 是推荐服务的 HTTP handler 集合
type Server struct {
	rec      Recommender
	cfg      Config
	logger   zerolog.Logger
	gatherer prometheus.Gatherer
}

// Option 配置项
type Option func(*Server)

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer 设置 /metrics 暴露的指标来源，默认 prometheus.DefaultGatherer
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New 创建 Server
func New(rec Recommender, cfg Config, opts ...Option) *Server {
	if cfg.DefaultCount <= 0 {
		cfg.DefaultCount = engine.DefaultCount
	}
	if cfg.MaxCount < cfg.DefaultCount {
		cfg.MaxCount = cfg.DefaultCount
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	s := &Server{
		rec:      rec,
		cfg:      cfg,
		logger:   logging.WithComponent("server"),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler 返回路由
//
//	GET|POST /api/recommend  推荐
//	GET      /api/bundle     已加载模型包统计
//	GET      /healthz        存活检查
//	GET      /readyz         就绪检查（模型包加载完成前 503）
//	GET      /metrics        Prometheus 指标
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(httprate.Limit(s.cfg.RateLimit, s.cfg.RateWindow, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Use(s.accessLog)
		r.Get("/recommend", s.handleRecommend)
		r.Post("/recommend", s.handleRecommend)
		r.Get("/bundle", s.handleBundle)
	})
	return r
}

// requestID 读取或生成 X-Request-ID，并放入 context 供日志使用
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.With(r.Context(), s.logger).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !s.rec.Loaded() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleBundle(w http.ResponseWriter, _ *http.Request) {
	st, ok := s.rec.Stats()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "not ready", core.ErrNotLoaded.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}
