package bundle

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Source 是模型包部件的读取来源。
//
// 实现：
//   - FileSource：本地目录
//   - ObjectSource：S3 兼容的对象存储（MinIO、AWS S3、各云厂商 S3 网关）
//
// 部件不存在时返回的错误满足 errors.Is(err, fs.ErrNotExist)。
type Source interface {
	// Open 打开名为 name 的部件（相对于模型包根目录）
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// String 返回来源描述（用于日志）
	String() string
}

// FileSource 从本地目录读取部件
type FileSource struct {
	Dir string
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

func (s *FileSource) String() string { return "file://" + s.Dir }

func (s *FileSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkPartName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.Dir, filepath.FromSlash(name)))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// ObjectConfig 对象存储连接配置
type ObjectConfig struct {
	Endpoint        string // host:port 或 URL，URL 为 https 时自动开启 TLS
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	Prefix          string // 模型包根目录，例如 "bundles/2026-10-01"
	UseSSL          bool
}

// ObjectSource 从 S3 兼容对象存储读取部件
type ObjectSource struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObjectSource 创建对象存储来源
func NewObjectSource(cfg ObjectConfig) (*ObjectSource, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object source: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object source: bucket is required")
	}

	endpoint, useSSL := cfg.Endpoint, cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	// 空凭证即匿名访问
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object source: create client: %w", err)
	}
	return &ObjectSource{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *ObjectSource) String() string {
	return "s3://" + path.Join(s.bucket, s.prefix)
}

func (s *ObjectSource) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Open 读取对象。minio 的 GetObject 是惰性的，这里先 Stat 一次以便尽早暴露 NoSuchKey。
func (s *ObjectSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := checkPartName(name); err != nil {
		return nil, err
	}
	key := s.key(name)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyObjectError(key, err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, classifyObjectError(key, err)
	}
	return obj, nil
}

// checkPartName 要求部件名是模型包根目录内的相对路径，不能以 / 开头或包含 ..
func checkPartName(name string) error {
	if !fs.ValidPath(name) || name == "." {
		return fmt.Errorf("%w: invalid part name %q", fs.ErrInvalid, name)
	}
	return nil
}

func classifyObjectError(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("object %s: %w", key, fs.ErrNotExist)
	}
	return fmt.Errorf("object %s: %w", key, err)
}

var (
	_ Source = (*FileSource)(nil)
	_ Source = (*ObjectSource)(nil)
)
