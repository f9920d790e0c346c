package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/rushteam/recserve/engine"
	"github.com/rushteam/recserve/pkg/logging"
)

// HTTPServer 是 *http.Server 的生命周期方法
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService 把 HTTPServer 包装为 suture.Service。
// ctx 取消时在 shutdownTimeout 内优雅关闭。
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService 创建 HTTPService，shutdownTimeout <= 0 时为 10s
func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

// Warmer 是可被预热的引擎
type Warmer interface {
	EnsureLoaded(ctx context.Context, loader engine.Loader) error
}

// LoaderService 在后台预热引擎。加载失败时返回错误由 supervisor 退避重启，
// 成功后返回 suture.ErrDoNotRestart。
type LoaderService struct {
	engine  Warmer
	loader  engine.Loader
	timeout time.Duration
	logger  zerolog.Logger
}

// NewLoaderService 创建 LoaderService，timeout 为单次加载的超时，<= 0 不限时
func NewLoaderService(e Warmer, loader engine.Loader, timeout time.Duration) *LoaderService {
	return &LoaderService{
		engine:  e,
		loader:  loader,
		timeout: timeout,
		logger:  logging.WithComponent("loader"),
	}
}

func (l *LoaderService) Serve(ctx context.Context) error {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := l.engine.EnsureLoaded(ctx, l.loader); err != nil {
		l.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("warm-up failed, will retry")
		return err
	}
	l.logger.Info().Dur("elapsed", time.Since(start)).Msg("warm-up complete")
	return suture.ErrDoNotRestart
}

func (l *LoaderService) String() string { return "bundle-loader" }

// NewSupervisor 创建根 supervisor，supervisor 事件写入 zerolog
func NewSupervisor(name string, logger zerolog.Logger) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook: func(ev suture.Event) {
			logger.Warn().Fields(ev.Map()).Msg(ev.String())
		},
		FailureDecay:     30,
		FailureThreshold: 5,
		FailureBackoff:   5 * time.Second,
		Timeout:          15 * time.Second,
	})
}
