package bundle

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/oracle"
)

// ArchiveMeta 是归档文件头，无需解压即可读取。
type ArchiveMeta struct {
	Manifest Manifest
	Stats    core.BundleStats
	Checksum string // 未压缩 payload 的 SHA-256
}

// archiveFile 是归档文件的 gob 结构
type archiveFile struct {
	Meta           ArchiveMeta
	CompressedData []byte
}

// archivePayload 是 gzip 压缩前的内容
type archivePayload struct {
	Metadata     Metadata
	Interactions core.InteractionMatrix
	Model        []byte
}

// WriteArchive 将模型包编码为单个归档。
func WriteArchive(w io.Writer, b *core.Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	adapter, err := adapterOf(b)
	if err != nil {
		return err
	}

	var model bytes.Buffer
	if err := oracle.Encode(adapter.Kind(), &model, adapter.Unwrap()); err != nil {
		return fmt.Errorf("encode model: %w", err)
	}

	var raw bytes.Buffer
	payload := archivePayload{
		Metadata:     metadataOf(b),
		Interactions: *b.Interactions,
		Model:        model.Bytes(),
	}
	if err := gob.NewEncoder(&raw).Encode(payload); err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	sum := sha256.Sum256(raw.Bytes())

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(raw.Bytes()); err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}

	file := archiveFile{
		Meta: ArchiveMeta{
			Manifest: manifestOf(b, adapter.Kind()),
			Stats:    b.Stats(),
			Checksum: hex.EncodeToString(sum[:]),
		},
		CompressedData: compressed.Bytes(),
	}
	return gob.NewEncoder(w).Encode(file)
}

// ReadArchive 解码归档并校验 checksum 与一致性。
func ReadArchive(r io.Reader) (*core.Bundle, error) {
	var file archiveFile
	if err := gob.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(file.CompressedData))
	if err != nil {
		return nil, fmt.Errorf("decompress archive: %w", err)
	}
	defer func() { _ = gzr.Close() }()
	raw, err := io.ReadAll(gzr)
	if err != nil {
		return nil, fmt.Errorf("decompress archive: %w", err)
	}

	sum := sha256.Sum256(raw)
	if checksum := hex.EncodeToString(sum[:]); checksum != file.Meta.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch: expected %s, got %s", core.ErrInvalidBundle, file.Meta.Checksum, checksum)
	}

	var payload archivePayload
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	m := file.Meta.Manifest.withDefaults()
	ranker, err := oracle.Decode(m.Oracle, bytes.NewReader(payload.Model))
	if err != nil {
		return nil, err
	}
	return assemble(m, payload.Metadata, &payload.Interactions, ranker)
}

// ReadArchiveMeta 只读取归档文件头
func ReadArchiveMeta(r io.Reader) (ArchiveMeta, error) {
	var file archiveFile
	if err := gob.NewDecoder(r).Decode(&file); err != nil {
		return ArchiveMeta{}, fmt.Errorf("decode archive: %w", err)
	}
	return file.Meta, nil
}

// WriteDir 将模型包按目录格式写入 dir（manifest.yaml + 三个部件）。
func WriteDir(dir string, b *core.Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	adapter, err := adapterOf(b)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	m := manifestOf(b, adapter.Kind())
	writers := []struct {
		name  string
		write func(io.Writer) error
	}{
		{m.Parts.Metadata, func(w io.Writer) error { return encodeMetadata(w, metadataOf(b)) }},
		{m.Parts.Interactions, func(w io.Writer) error { return encodeInteractions(w, b.Interactions) }},
		{m.Parts.Model, func(w io.Writer) error { return oracle.Encode(adapter.Kind(), w, adapter.Unwrap()) }},
		{ManifestName, func(w io.Writer) error { return WriteManifest(w, m) }},
	}
	for _, part := range writers {
		if err := writeFile(filepath.Join(dir, part.name), part.write); err != nil {
			return fmt.Errorf("write %s: %w", part.name, err)
		}
	}
	return nil
}

// WriteArchiveFile 写归档到文件，先写临时文件再 rename，避免读到半个归档。
func WriteArchiveFile(path string, b *core.Bundle) error {
	return writeFile(path, func(w io.Writer) error { return WriteArchive(w, b) })
}

func writeFile(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func manifestOf(b *core.Bundle, kind string) Manifest {
	return Manifest{
		Version:   b.Version,
		CreatedAt: b.CreatedAt,
		Oracle:    kind,
	}.withDefaults()
}
