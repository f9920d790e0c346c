// Package store 提供 core.Store 的实现：内存、Redis、Badger。
//
// 接口定义在 core 包，此包只包含实现和按名称打开后端的注册表：
//
//	s, err := store.Open(ctx, store.Config{Backend: "redis", Redis: store.RedisConfig{Addr: "localhost:6379"}})
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rushteam/recserve/core"
)

// 内置后端名称
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// Config 是打开存储后端所需的全部配置
type Config struct {
	Backend string
	Redis   RedisConfig
	Badger  BadgerConfig
}

// Opener 根据配置打开一种存储后端
type Opener func(ctx context.Context, cfg Config) (core.Store, error)

var (
	openers   = make(map[string]Opener)
	openersMu sync.RWMutex
)

func init() {
	Register(BackendMemory, func(context.Context, Config) (core.Store, error) {
		return NewMemoryStore(), nil
	})
	Register(BackendRedis, func(ctx context.Context, cfg Config) (core.Store, error) {
		return NewRedisStore(ctx, cfg.Redis)
	})
	Register(BackendBadger, func(_ context.Context, cfg Config) (core.Store, error) {
		return NewBadgerStore(cfg.Badger)
	})
}

// Register 注册一种存储后端，同名后端会被覆盖。
func Register(name string, opener Opener) {
	if name == "" || opener == nil {
		return
	}
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[name] = opener
}

// SupportedBackends 返回已注册的后端名称（排序），用于错误提示与配置校验。
func SupportedBackends() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	names := make([]string, 0, len(openers))
	for n := range openers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open 按 cfg.Backend 打开存储后端
func Open(ctx context.Context, cfg Config) (core.Store, error) {
	openersMu.RLock()
	opener, ok := openers[cfg.Backend]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: backend %q (supported: %v)", core.ErrStoreNotSupported, cfg.Backend, SupportedBackends())
	}
	return opener(ctx, cfg)
}
