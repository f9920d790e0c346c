package core

import "context"

// Ranker 是打分模型（scoring oracle）暴露给引擎的能力接口。
//
// 设计原则：
//   - 定义在领域层（core），由适配层（oracle）实现
//   - 引擎只看到干净的、按分数降序排列的物品下标序列
//   - 输出形态的探测与归一化属于适配层职责，不在引擎内
//
// 约定：
//   - 返回的下标不包含 row 中已交互过的物品
//   - 返回数量 <= n，不足时由引擎使用热门兜底补齐
//   - 输出无法识别时返回 ErrOracleOutputUnrecognized，引擎会降级为热门兜底
//   - 实现必须支持并发只读调用
type Ranker interface {
	// Name 返回打分模型名称（用于日志/监控）
	Name() string

	// Rank 为用户下标 userIdx 返回 TopN 物品下标
	Rank(ctx context.Context, userIdx int, row InteractionRow, n int) ([]int, error)
}
