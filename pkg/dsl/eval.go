// Package dsl 提供基于 CEL (Common Expression Language) 的布尔表达式求值。
//
// 用于模型包加载校验（bundle guard）等需要"运营可配置规则"的地方，例如：
//   - `bundle.fallback >= 5` → 热门兜底至少 5 个，保证默认请求不会被截短
//   - `bundle.users > 1000 && bundle.nnz > 10000` → 拒绝规模异常的模型包
//   - `bundle.version.startsWith("2026")` → 版本号约束
package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// initCELEnv 初始化 CEL 环境，定义变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("bundle", cel.DynType),
	)
}

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Program 是编译后的表达式，可被并发多次求值。
type Program struct {
	expr string
	prg  cel.Program
}

// Compile 编译表达式。空表达式返回 nil Program，求值恒为 true。
func Compile(expr string) (*Program, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	return &Program{expr: expr, prg: prg}, nil
}

// String 返回原始表达式
func (p *Program) String() string {
	if p == nil {
		return ""
	}
	return p.expr
}

// Evaluate 用 vars 执行表达式，返回布尔结果。
// 访问不存在的 key 会返回错误。
func (p *Program) Evaluate(vars map[string]any) (bool, error) {
	if p == nil {
		return true, nil
	}
	out, _, err := p.prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}

// Eval 编译并执行一次表达式
func Eval(expr string, vars map[string]any) (bool, error) {
	p, err := Compile(expr)
	if err != nil {
		return false, err
	}
	return p.Evaluate(vars)
}
