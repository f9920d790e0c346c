package core

import (
	"fmt"
	"time"
)

// Bundle 是离线训练产出的一组模型包，作为整体原子加载、整体替换。
//
// 四个组成部分：
//   - Ranker：训练好的打分模型
//   - Interactions：用户-物品交互矩阵（CSR）
//   - Users / Items：外部 ID 与稠密下标的映射
//   - Popular：按全量交互量排序的热门物品 ID（冷启动与补齐兜底）
//
// 加载后引擎不会修改其中任何内容。
type Bundle struct {
	Version    string
	CreatedAt  time.Time
	OracleKind string

	Ranker       Ranker
	Interactions *InteractionMatrix
	Users        *IDIndex
	Items        *IDIndex
	Popular      []int64
}

// BundleStats 是模型包的规模统计，用于日志、加载校验（Guard）和 inspect 命令。
type BundleStats struct {
	Version  string `json:"version"`
	Oracle   string `json:"oracle"`
	Users    int    `json:"users"`
	Items    int    `json:"items"`
	NNZ      int    `json:"nnz"`
	Fallback int    `json:"fallback"`
}

// Validate 检查各部分之间的一致性。
func (b *Bundle) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: bundle is nil", ErrInvalidBundle)
	}
	if b.Ranker == nil {
		return fmt.Errorf("%w: ranker is nil", ErrInvalidBundle)
	}
	if b.Users == nil || b.Items == nil {
		return fmt.Errorf("%w: id index is nil", ErrInvalidBundle)
	}
	if err := b.Interactions.Validate(); err != nil {
		return err
	}
	if b.Users.Len() != b.Interactions.Rows() {
		return fmt.Errorf("%w: %d users but matrix has %d rows", ErrInvalidBundle, b.Users.Len(), b.Interactions.Rows())
	}
	if b.Items.Len() != b.Interactions.Cols() {
		return fmt.Errorf("%w: %d items but matrix has %d cols", ErrInvalidBundle, b.Items.Len(), b.Interactions.Cols())
	}
	if len(b.Popular) == 0 {
		return fmt.Errorf("%w: popularity fallback is empty", ErrInvalidBundle)
	}
	seen := make(map[int64]struct{}, len(b.Popular))
	for _, id := range b.Popular {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate fallback item %d", ErrInvalidBundle, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Stats 返回模型包规模统计。
func (b *Bundle) Stats() BundleStats {
	st := BundleStats{
		Version:  b.Version,
		Oracle:   b.OracleKind,
		Users:    b.Users.Len(),
		Items:    b.Items.Len(),
		Fallback: len(b.Popular),
	}
	if b.Interactions != nil {
		st.NNZ = b.Interactions.NNZ()
	}
	return st
}
