// Package bundle 负责模型包的编解码与加载。
//
// 支持两种格式：
//   - 目录格式：manifest.yaml + 独立的部件文件（打分模型、元数据、交互矩阵），
//     可以放在本地目录（FileSource）或对象存储（ObjectSource）
//   - 归档格式：单个 gob 文件，内含 gzip 压缩的全部部件和 SHA-256 校验和
//
// 加载流程：读取 manifest → 并发拉取部件 → 解码 → 一致性校验 → Guard 表达式校验。
package bundle

import (
	"encoding/gob"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/oracle"
)

// 默认文件名
const (
	ManifestName            = "manifest.yaml"
	DefaultModelPart        = "model.gob"
	DefaultMetadataPart     = "metadata.json"
	DefaultInteractionsPart = "interactions.gob"
)

// Manifest 描述目录格式模型包的组成。
//
// 示例：
//
//	version: "2026-10-01"
//	created_at: 2026-10-01T03:00:00Z
//	oracle: factor
//	parts:
//	  model: model.gob
//	  metadata: metadata.json
//	  interactions: interactions.gob
type Manifest struct {
	Version   string    `yaml:"version"`
	CreatedAt time.Time `yaml:"created_at"`
	Oracle    string    `yaml:"oracle"`
	Parts     Parts     `yaml:"parts"`
}

// Parts 是各部件的文件名（相对于模型包根目录）
type Parts struct {
	Model        string `yaml:"model"`
	Metadata     string `yaml:"metadata"`
	Interactions string `yaml:"interactions"`
}

// Metadata 是 ID 映射与热门兜底，user_ids / item_ids 按下标顺序（即升序）排列。
type Metadata struct {
	UserIDs []int64 `json:"user_ids"`
	ItemIDs []int64 `json:"item_ids"`
	Popular []int64 `json:"popular"`
}

// withDefaults 补齐未填写的部件名
func (m Manifest) withDefaults() Manifest {
	if m.Oracle == "" {
		m.Oracle = oracle.KindFactor
	}
	if m.Parts.Model == "" {
		m.Parts.Model = DefaultModelPart
	}
	if m.Parts.Metadata == "" {
		m.Parts.Metadata = DefaultMetadataPart
	}
	if m.Parts.Interactions == "" {
		m.Parts.Interactions = DefaultInteractionsPart
	}
	return m
}

// ReadManifest 解析 manifest.yaml
func ReadManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m.withDefaults(), nil
}

// WriteManifest 写出 manifest.yaml
func WriteManifest(w io.Writer, m Manifest) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m.withDefaults()); err != nil {
		return err
	}
	return enc.Close()
}

func decodeMetadata(r io.Reader) (Metadata, error) {
	var md Metadata
	if err := json.NewDecoder(r).Decode(&md); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return md, nil
}

func encodeMetadata(w io.Writer, md Metadata) error {
	return json.NewEncoder(w).Encode(md)
}

func decodeInteractions(r io.Reader) (*core.InteractionMatrix, error) {
	var m core.InteractionMatrix
	if err := gob.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode interactions: %w", err)
	}
	return &m, nil
}

func encodeInteractions(w io.Writer, m *core.InteractionMatrix) error {
	return gob.NewEncoder(w).Encode(m)
}

// assemble 把解码后的部件组装为模型包并校验一致性。
func assemble(m Manifest, md Metadata, matrix *core.InteractionMatrix, ranker *oracle.Adapter) (*core.Bundle, error) {
	users, err := indexFromMetadata("user_ids", md.UserIDs)
	if err != nil {
		return nil, err
	}
	items, err := indexFromMetadata("item_ids", md.ItemIDs)
	if err != nil {
		return nil, err
	}

	b := &core.Bundle{
		Version:      m.Version,
		CreatedAt:    m.CreatedAt,
		OracleKind:   m.Oracle,
		Ranker:       ranker,
		Interactions: matrix,
		Users:        users,
		Items:        items,
		Popular:      md.Popular,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// indexFromMetadata 要求 ids 严格升序，否则下标与训练时不一致。
func indexFromMetadata(field string, ids []int64) (*core.IDIndex, error) {
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			return nil, fmt.Errorf("%w: metadata %s not strictly ascending at %d", core.ErrInvalidBundle, field, i)
		}
	}
	return core.NewIDIndex(ids)
}

// metadataOf 从模型包导出元数据部件
func metadataOf(b *core.Bundle) Metadata {
	return Metadata{
		UserIDs: b.Users.IDs(),
		ItemIDs: b.Items.IDs(),
		Popular: append([]int64(nil), b.Popular...),
	}
}

// adapterOf 取出可编码的打分模型
func adapterOf(b *core.Bundle) (*oracle.Adapter, error) {
	a, ok := b.Ranker.(*oracle.Adapter)
	if !ok {
		return nil, fmt.Errorf("ranker %T cannot be serialized", b.Ranker)
	}
	return a, nil
}
