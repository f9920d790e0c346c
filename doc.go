// Package recserve 是一个协同过滤推荐服务。
//
// 设计要点：
// - Bundle-first: 打分模型、交互矩阵、ID 映射与热门兜底作为一个模型包整体原子加载
// - Popularity-backed: 冷启动、模型异常、个性化结果不足时都由热门兜底，推荐接口不因模型问题报错
// - Oracle 可替换: 打分模型输出经 oracle 层归一化，引擎只依赖 core.Ranker
package recserve

import (
	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/engine"
)

// 轻量 facade：便于用户直接 import "recserve" 使用核心抽象。
type (
	Engine         = engine.Engine
	Recommendation = engine.Recommendation
	Bundle         = core.Bundle
	Ranker         = core.Ranker
)

// NewEngine 创建一个尚未加载模型包的引擎
func NewEngine(opts ...engine.Option) *Engine { return engine.New(opts...) }
