package oracle

import (
	"context"

	"github.com/rushteam/recserve/core"
)

// Adapter 把 RawOracle 包装为 core.Ranker。
// 调用时始终开启 filterLiked（排除已交互物品），并通过 Normalize 归一化输出。
type Adapter struct {
	raw  RawOracle
	kind string
}

// NewAdapter 创建适配器，kind 为注册表中的模型类型（用于重新编码模型包）。
func NewAdapter(kind string, raw RawOracle) *Adapter {
	return &Adapter{raw: raw, kind: kind}
}

func (a *Adapter) Name() string { return a.raw.Name() }

// Kind 返回模型类型。
func (a *Adapter) Kind() string { return a.kind }

// Unwrap 返回被包装的原始模型。
func (a *Adapter) Unwrap() RawOracle { return a.raw }

func (a *Adapter) Rank(ctx context.Context, userIdx int, row core.InteractionRow, n int) ([]int, error) {
	raw, err := a.raw.Recommend(ctx, userIdx, row, n, true)
	if err != nil {
		return nil, err
	}
	return Normalize(raw)
}

var _ core.Ranker = (*Adapter)(nil)
