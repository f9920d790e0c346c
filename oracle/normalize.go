package oracle

import (
	"fmt"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/pkg/conv"
)

// Normalize 将打分模型的原始输出归一化为有序物品下标序列，保持原有顺序。
//
// 无法识别的形态、非整数下标、负数下标都返回 core.ErrOracleOutputUnrecognized；
// 空输出返回空序列（不是错误，由引擎补齐）。
func Normalize(raw any) ([]int, error) {
	switch v := raw.(type) {
	case Result:
		return normalizeResult(v)
	case *Result:
		if v == nil {
			return nil, unrecognized("nil *Result")
		}
		return normalizeResult(*v)
	case []Pair:
		out := make([]int, 0, len(v))
		for _, p := range v {
			if p.Index < 0 {
				return nil, unrecognized("negative index %d", p.Index)
			}
			out = append(out, p.Index)
		}
		return out, nil
	case []int:
		return strict(v, intIndex)
	case []int32:
		return strict(v, func(x int32) (int, bool) { return conv.ToIndex(x) })
	case []int64:
		return strict(v, func(x int64) (int, bool) { return conv.ToIndex(x) })
	case []float32:
		return strict(v, func(x float32) (int, bool) { return conv.ToIndex(x) })
	case []float64:
		return strict(v, func(x float64) (int, bool) { return conv.ToIndex(x) })
	case [][]float64:
		return firstColumn(v, func(x float64) (int, bool) { return conv.ToIndex(x) })
	case [][]float32:
		return firstColumn(v, func(x float32) (int, bool) { return conv.ToIndex(x) })
	case [][]int:
		return firstColumn(v, intIndex)
	case [][2]float64:
		return strict(v, func(p [2]float64) (int, bool) { return conv.ToIndex(p[0]) })
	case [][2]float32:
		return strict(v, func(p [2]float32) (int, bool) { return conv.ToIndex(p[0]) })
	case []any:
		return normalizeAny(v)
	case nil:
		return nil, unrecognized("nil output")
	default:
		return nil, unrecognized("type %T", raw)
	}
}

func normalizeResult(r Result) ([]int, error) {
	if r.Scores != nil && len(r.Scores) != len(r.IDs) {
		return nil, unrecognized("parallel arrays length mismatch: %d ids, %d scores", len(r.IDs), len(r.Scores))
	}
	return strict(r.IDs, intIndex)
}

func intIndex(i int) (int, bool) { return i, i >= 0 }

// normalizeAny 以首个元素判断 []any 的形态：数字列表或 (下标, 分数) 对列表。
func normalizeAny(v []any) ([]int, error) {
	if len(v) == 0 {
		return []int{}, nil
	}
	if _, ok := conv.ToFloat64(v[0]); ok {
		return strict(v, conv.ToIndex)
	}
	return strict(v, func(e any) (int, bool) {
		switch pair := e.(type) {
		case []any:
			if len(pair) < 2 {
				return 0, false
			}
			return conv.ToIndex(pair[0])
		case []float64:
			if len(pair) < 2 {
				return 0, false
			}
			return conv.ToIndex(pair[0])
		case Pair:
			return pair.Index, pair.Index >= 0
		default:
			return 0, false
		}
	})
}

func firstColumn[T any](rows [][]T, convert func(T) (int, bool)) ([]int, error) {
	return strict(rows, func(row []T) (int, bool) {
		if len(row) < 2 {
			return 0, false
		}
		return convert(row[0])
	})
}

func strict[T any](s []T, convert func(T) (int, bool)) ([]int, error) {
	out, ok := conv.ConvertSliceStrict(s, convert)
	if !ok {
		return nil, unrecognized("element of %T is not a valid index", s)
	}
	return out, nil
}

func unrecognized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrOracleOutputUnrecognized, fmt.Sprintf(format, args...))
}
