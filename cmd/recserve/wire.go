package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rushteam/recserve/bundle"
	"github.com/rushteam/recserve/config"
	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/engine"
	"github.com/rushteam/recserve/store"
)

// newLoader 按 bundle.source × bundle.format 组装模型包加载器
func newLoader(cfg *config.Config) (engine.Loader, error) {
	guard, err := bundle.NewGuard(cfg.Bundle.Guard)
	if err != nil {
		return nil, err
	}

	var src bundle.Source
	name := ""
	switch cfg.Bundle.Source {
	case "file":
		if cfg.Bundle.Format == "archive" {
			src = bundle.NewFileSource(filepath.Dir(cfg.Bundle.Path))
			name = filepath.Base(cfg.Bundle.Path)
		} else {
			src = bundle.NewFileSource(cfg.Bundle.Path)
		}
	case "s3":
		oc := bundle.ObjectConfig{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			UseSSL:          cfg.S3.UseSSL,
		}
		if cfg.Bundle.Format == "archive" {
			name = cfg.Bundle.Path
		} else {
			oc.Prefix = cfg.Bundle.Path
		}
		if src, err = bundle.NewObjectSource(oc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown bundle source %q", cfg.Bundle.Source)
	}

	if cfg.Bundle.Format == "archive" {
		return &bundle.ArchiveLoader{Source: src, Name: name, Guard: guard}, nil
	}
	return bundle.NewLoader(src, guard), nil
}

// openCache 打开结果缓存存储，backend 为 none 时返回 nil
func openCache(ctx context.Context, cfg config.CacheConfig) (core.Store, error) {
	if cfg.Backend == "" || cfg.Backend == "none" {
		return nil, nil
	}
	return store.Open(ctx, store.Config{
		Backend: cfg.Backend,
		Redis: store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		Badger: store.BadgerConfig{
			Dir:      cfg.Badger.Dir,
			InMemory: cfg.Badger.InMemory,
		},
	})
}

// loadLocal 从本地路径加载模型包：目录按目录格式，文件按归档格式
func loadLocal(ctx context.Context, path string) (*core.Bundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return bundle.NewLoader(bundle.NewFileSource(path), nil).Load(ctx)
	}
	l := &bundle.ArchiveLoader{
		Source: bundle.NewFileSource(filepath.Dir(path)),
		Name:   filepath.Base(path),
	}
	return l.Load(ctx)
}
