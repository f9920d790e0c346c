package oracle

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/rushteam/recserve/core"
)

// FactorModel 是基于隐因子（Latent Factor）的打分模型，例如 ALS / MF 的训练产物。
//
// 核心思想：用户-物品交互矩阵被分解为用户隐向量和物品隐向量
// 预测分数 = 用户隐向量 · 物品隐向量
//
// 工程特征：
//   - 离线训练，在线查表 + 点积
//   - 计算复杂度：O(物品数 × 因子数)，无需超时控制
//   - 只读访问固定的因子矩阵，可并发调用
//
// 输出为 Result（平行数组），按分数降序；分数相同时下标小者在前。
type FactorModel struct {
	UserFactors [][]float32
	ItemFactors [][]float32
}

// NewFactorModel 创建隐因子模型并校验维度。
func NewFactorModel(userFactors, itemFactors [][]float32) (*FactorModel, error) {
	m := &FactorModel{UserFactors: userFactors, ItemFactors: itemFactors}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *FactorModel) Name() string { return "oracle.factor" }

// Factors 返回隐向量维度。
func (m *FactorModel) Factors() int {
	if len(m.ItemFactors) == 0 {
		return 0
	}
	return len(m.ItemFactors[0])
}

// Validate 检查所有隐向量维度一致。
func (m *FactorModel) Validate() error {
	if len(m.ItemFactors) == 0 {
		return fmt.Errorf("%w: factor model has no item factors", core.ErrInvalidBundle)
	}
	dim := len(m.ItemFactors[0])
	if dim == 0 {
		return fmt.Errorf("%w: factor model has zero factors", core.ErrInvalidBundle)
	}
	for i, v := range m.ItemFactors {
		if len(v) != dim {
			return fmt.Errorf("%w: item %d has %d factors, want %d", core.ErrInvalidBundle, i, len(v), dim)
		}
	}
	for u, v := range m.UserFactors {
		if len(v) != dim {
			return fmt.Errorf("%w: user %d has %d factors, want %d", core.ErrInvalidBundle, u, len(v), dim)
		}
	}
	return nil
}

// Recommend 计算用户对所有物品的分数并返回 TopN。
func (m *FactorModel) Recommend(ctx context.Context, userIdx int, row core.InteractionRow, n int, filterLiked bool) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userIdx < 0 || userIdx >= len(m.UserFactors) {
		return nil, fmt.Errorf("oracle.factor: user index %d outside [0,%d)", userIdx, len(m.UserFactors))
	}
	if n <= 0 {
		return Result{IDs: []int{}, Scores: []float32{}}, nil
	}

	userVector := m.UserFactors[userIdx]
	h := make(topN, 0, n)
	for item, itemVector := range m.ItemFactors {
		if filterLiked && row.Contains(item) {
			continue
		}
		cand := Pair{Index: item, Score: dotProduct(userVector, itemVector)}
		if len(h) < n {
			heap.Push(&h, cand)
			continue
		}
		if better(cand, h[0]) {
			h[0] = cand
			heap.Fix(&h, 0)
		}
	}

	// 小顶堆依次弹出得到升序，倒序填充即为降序
	res := Result{IDs: make([]int, len(h)), Scores: make([]float32, len(h))}
	for i := len(h) - 1; i >= 0; i-- {
		p := heap.Pop(&h).(Pair)
		res.IDs[i] = p.Index
		res.Scores[i] = p.Score
	}
	return res, nil
}

// dotProduct 计算两个向量的点积
func dotProduct(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// better 判断 a 是否应排在 b 之前：分数高者优先，分数相同时下标小者优先。
func better(a, b Pair) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Index < b.Index
}

// topN 是以"最差候选"为堆顶的小顶堆。
type topN []Pair

func (h topN) Len() int           { return len(h) }
func (h topN) Less(i, j int) bool { return better(h[j], h[i]) }
func (h topN) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *topN) Push(x any)        { *h = append(*h, x.(Pair)) }
func (h *topN) Pop() any {
	old := *h
	last := old[len(old)-1]
	*h = old[:len(old)-1]
	return last
}

var _ RawOracle = (*FactorModel)(nil)
