// Package config 加载 recserve 的运行配置。
//
// 配置分三层，优先级从低到高：
//  1. 代码中的默认值
//  2. YAML 配置文件（显式路径、CONFIG_PATH 或默认路径 recserve.yaml）
//  3. 环境变量：RECSERVE_ 前缀，双下划线表示嵌套，例如
//     RECSERVE_SERVER__ADDR=:9090、RECSERVE_CACHE__REDIS__ADDR=redis:6379
//
// 当前目录下的 .env 文件会在读取环境变量前被加载（不覆盖已有环境变量）。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix 是环境变量前缀
	EnvPrefix = "RECSERVE_"
	// ConfigPathEnvVar 指定配置文件路径的环境变量
	ConfigPathEnvVar = "CONFIG_PATH"
)

// DefaultConfigPaths 是未显式指定时依次查找的配置文件
var DefaultConfigPaths = []string{
	"recserve.yaml",
	"recserve.yml",
	"/etc/recserve/recserve.yaml",
}

// Config 是全部配置
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Bundle    BundleConfig    `koanf:"bundle"`
	S3        S3Config        `koanf:"s3"`
	Cache     CacheConfig     `koanf:"cache"`
	Log       LogConfig       `koanf:"log"`
	Recommend RecommendConfig `koanf:"recommend"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`
	RateLimit       int           `koanf:"rate_limit" validate:"gte=0"` // 每个 IP 每个窗口的请求数，0 表示不限流
	RateWindow      time.Duration `koanf:"rate_window" validate:"gt=0"`
}

// BundleConfig 模型包来源
type BundleConfig struct {
	Source      string        `koanf:"source" validate:"oneof=file s3"`
	Format      string        `koanf:"format" validate:"oneof=dir archive"`
	Path        string        `koanf:"path" validate:"required"` // 目录 / 归档文件；s3 时为对象前缀 / 对象 key
	Guard       string        `koanf:"guard"`                    // CEL 表达式，例如 bundle.fallback >= 20
	LoadTimeout time.Duration `koanf:"load_timeout" validate:"gt=0"`
}

// S3Config 对象存储配置，bundle.source=s3 时使用
type S3Config struct {
	Endpoint        string `koanf:"endpoint"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	Region          string `koanf:"region"`
	Bucket          string `koanf:"bucket"`
	UseSSL          bool   `koanf:"use_ssl"`
}

// CacheConfig 推荐结果缓存配置
type CacheConfig struct {
	Backend          string        `koanf:"backend" validate:"oneof=none memory redis badger"`
	TTL              time.Duration `koanf:"ttl" validate:"gte=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gte=1"`
	OpenTimeout      time.Duration `koanf:"open_timeout" validate:"gt=0"`
	Redis            RedisConfig   `koanf:"redis"`
	Badger           BadgerConfig  `koanf:"badger"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
}

// BadgerConfig Badger 配置
type BadgerConfig struct {
	Dir      string `koanf:"dir"`
	InMemory bool   `koanf:"in_memory"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// RecommendConfig 推荐请求参数
type RecommendConfig struct {
	DefaultCount int `koanf:"default_count" validate:"gte=1"`
	MaxCount     int `koanf:"max_count" validate:"gtefield=DefaultCount"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       0,
			RateWindow:      time.Minute,
		},
		Bundle: BundleConfig{
			Source:      "file",
			Format:      "dir",
			Path:        "./artifacts",
			LoadTimeout: 2 * time.Minute,
		},
		Cache: CacheConfig{
			Backend:          "none",
			TTL:              10 * time.Minute,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			Redis:            RedisConfig{Addr: "localhost:6379"},
			Badger:           BadgerConfig{Dir: "./data/cache"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Recommend: RecommendConfig{
			DefaultCount: 5,
			MaxCount:     100,
		},
	}
}

// Load 按 默认值 → 配置文件 → 环境变量 的顺序加载配置并校验。
// path 为空时使用 CONFIG_PATH 或 DefaultConfigPaths 中第一个存在的文件，都不存在则跳过文件层。
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransformFunc: RECSERVE_CACHE__REDIS__ADDR -> cache.redis.addr
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 校验字段取值以及字段之间的依赖关系
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	var errs []error
	if c.Bundle.Source == "s3" {
		if c.S3.Endpoint == "" {
			errs = append(errs, errors.New("s3.endpoint is required when bundle.source is s3"))
		}
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3.bucket is required when bundle.source is s3"))
		}
	}
	switch c.Cache.Backend {
	case "redis":
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required when cache.backend is redis"))
		}
	case "badger":
		if c.Cache.Badger.Dir == "" && !c.Cache.Badger.InMemory {
			errs = append(errs, errors.New("cache.badger.dir is required when cache.backend is badger"))
		}
	}
	return errors.Join(errs...)
}
