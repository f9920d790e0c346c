package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// GenerateRequestID 生成新的请求 ID
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithRequestID 把请求 ID 放入 context
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext 读取请求 ID，不存在时返回空串
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx 返回带 request_id 的全局 Logger
func Ctx(ctx context.Context) *zerolog.Logger {
	return With(ctx, Logger())
}

// With 在 base 上附加 ctx 中的 request_id，返回值可直接链式调用 Info()/Warn() 等
func With(ctx context.Context, base zerolog.Logger) *zerolog.Logger {
	if id := RequestIDFromContext(ctx); id != "" {
		l := base.With().Str("request_id", id).Logger()
		return &l
	}
	return &base
}
