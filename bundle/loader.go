package bundle

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/oracle"
	"github.com/rushteam/recserve/pkg/logging"
)

// Loader 从 Source 加载目录格式的模型包，实现 engine.Loader。
type Loader struct {
	Source   Source
	Manifest string // manifest 文件名，默认 ManifestName
	Guard    *Guard
	Logger   zerolog.Logger
}

// NewLoader 创建加载器
func NewLoader(src Source, guard *Guard) *Loader {
	return &Loader{
		Source:   src,
		Manifest: ManifestName,
		Guard:    guard,
		Logger:   logging.WithComponent("bundle"),
	}
}

// Load 读取 manifest，并发拉取并解码三个部件，组装后依次做一致性校验与 Guard 校验。
func (l *Loader) Load(ctx context.Context) (*core.Bundle, error) {
	start := time.Now()
	name := l.Manifest
	if name == "" {
		name = ManifestName
	}

	var m Manifest
	if err := l.read(ctx, name, func(r io.Reader) (err error) {
		m, err = ReadManifest(r)
		return err
	}); err != nil {
		return nil, err
	}

	var (
		md     Metadata
		matrix *core.InteractionMatrix
		ranker *oracle.Adapter
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return l.read(egCtx, m.Parts.Metadata, func(r io.Reader) (err error) {
			md, err = decodeMetadata(r)
			return err
		})
	})
	eg.Go(func() error {
		return l.read(egCtx, m.Parts.Interactions, func(r io.Reader) (err error) {
			matrix, err = decodeInteractions(r)
			return err
		})
	})
	eg.Go(func() error {
		return l.read(egCtx, m.Parts.Model, func(r io.Reader) (err error) {
			ranker, err = oracle.Decode(m.Oracle, r)
			return err
		})
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	b, err := assemble(m, md, matrix, ranker)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", l.Source, err)
	}
	if err := l.Guard.Check(b.Stats()); err != nil {
		return nil, err
	}

	l.Logger.Info().
		Str("source", l.Source.String()).
		Str("version", b.Version).
		Dur("elapsed", time.Since(start)).
		Msg("bundle decoded")
	return b, nil
}

func (l *Loader) read(ctx context.Context, name string, decode func(io.Reader) error) error {
	rc, err := l.Source.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("bundle %s: %w", l.Source, err)
	}
	defer rc.Close()
	if err := decode(rc); err != nil {
		return fmt.Errorf("bundle %s: part %s: %w", l.Source, name, err)
	}
	return nil
}

// ArchiveLoader 从单个归档文件加载模型包，实现 engine.Loader。
type ArchiveLoader struct {
	Source Source
	Name   string // 归档文件名
	Guard  *Guard
}

func (l *ArchiveLoader) Load(ctx context.Context) (*core.Bundle, error) {
	rc, err := l.Source.Open(ctx, l.Name)
	if err != nil {
		return nil, fmt.Errorf("bundle archive: %w", err)
	}
	defer rc.Close()

	b, err := ReadArchive(rc)
	if err != nil {
		return nil, err
	}
	if err := l.Guard.Check(b.Stats()); err != nil {
		return nil, err
	}
	return b, nil
}
