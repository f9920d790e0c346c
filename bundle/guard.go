package bundle

import (
	"fmt"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pkg/dsl"
)

// Guard 是模型包加载前的运营校验规则（CEL 表达式）。
//
// 可用变量：bundle.users / bundle.items / bundle.nnz / bundle.fallback（int）、bundle.version（string）。
// 例如 `bundle.fallback >= 20` 保证热门兜底足以填满最大请求数量。
type Guard struct {
	program *dsl.Program
}

// NewGuard 编译表达式，空表达式的 Guard 接受所有模型包。
func NewGuard(expr string) (*Guard, error) {
	p, err := dsl.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("bundle guard: %w", err)
	}
	return &Guard{program: p}, nil
}

// String 返回表达式
func (g *Guard) String() string {
	if g == nil {
		return ""
	}
	return g.program.String()
}

// Check 校验模型包统计信息，不满足时返回 core.ErrInvalidBundle。
func (g *Guard) Check(st core.BundleStats) error {
	if g == nil || g.program == nil {
		return nil
	}
	ok, err := g.program.Evaluate(map[string]any{
		"bundle": map[string]any{
			"version":  st.Version,
			"oracle":   st.Oracle,
			"users":    int64(st.Users),
			"items":    int64(st.Items),
			"nnz":      int64(st.NNZ),
			"fallback": int64(st.Fallback),
		},
	})
	if err != nil {
		return fmt.Errorf("bundle guard %q: %w", g.String(), err)
	}
	if !ok {
		return fmt.Errorf("%w: rejected by guard %q", core.ErrInvalidBundle, g.String())
	}
	return nil
}
