// Package oracle 包含打分模型（scoring oracle）的具体实现与适配层。
//
// 具体模型实现 RawOracle，输出形态不做强类型约束（平行数组、下标列表、
// (下标, 分数) 对等）；Adapter 负责把任意输出归一化为 core.Ranker 约定的
// 有序下标序列，引擎本身不做形态探测。
package oracle

import (
	"context"

	"github.com/rushteam/recserve/core"
)

// RawOracle 是具体打分模型的最小抽象。
//
// Recommend 返回值可以是以下任意形态（见 Normalize）：
//   - Result / *Result：平行数组 IDs + Scores
//   - []Pair：(下标, 分数) 对
//   - []int / []int32 / []int64 / []float32 / []float64：下标列表
//   - [][]float64 / [][]float32 / [][]int / [][2]float64 / [][2]float32：n×2，第 0 列为下标
//   - []any：元素为数字或 (下标, 分数) 对
type RawOracle interface {
	Name() string
	Recommend(ctx context.Context, userIdx int, row core.InteractionRow, n int, filterLiked bool) (any, error)
}

// Pair 是一个 (物品下标, 分数) 对。
type Pair struct {
	Index int
	Score float32
}

// Result 是平行数组形式的打分结果，IDs 按分数降序排列。
type Result struct {
	IDs    []int
	Scores []float32
}
