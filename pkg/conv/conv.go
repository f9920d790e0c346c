// Package conv 提供类型转换、slice 转换等泛型工具，用于简化各模块中的重复逻辑。
package conv

import "math"

// ToFloat64 将 any 转为 float64。
// 支持 float64、float32、int、int64、int32；bool 视为 1.0/0.0。
func ToFloat64(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case bool:
		if val {
			return 1.0, true
		}
		return 0.0, true
	default:
		return 0, false
	}
}

// ToInt 将 any 转为 int。
// 支持 int、int64、int32、uint32、float64、float32；浮点数必须是整数值（如 3.0），否则返回 false。
func ToInt(v any) (int, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case int32:
		return int(val), true
	case uint32:
		return int(val), true
	case float64:
		return floatToInt(val)
	case float32:
		return floatToInt(float64(val))
	default:
		return 0, false
	}
}

// ToIndex 将 any 转为非负下标，规则同 ToInt。
func ToIndex(v any) (int, bool) {
	i, ok := ToInt(v)
	if !ok || i < 0 {
		return 0, false
	}
	return i, true
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// ConvertSlice 将 []T 按 convert 转为 []U，convert 返回 false 的元素被跳过。
func ConvertSlice[T, U any](s []T, convert func(T) (U, bool)) []U {
	if s == nil {
		return nil
	}
	out := make([]U, 0, len(s))
	for _, v := range s {
		if u, ok := convert(v); ok {
			out = append(out, u)
		}
	}
	return out
}

// ConvertSliceStrict 将 []T 按 convert 转为 []U，任一元素转换失败时返回 (nil, false)。
func ConvertSliceStrict[T, U any](s []T, convert func(T) (U, bool)) ([]U, bool) {
	out := make([]U, 0, len(s))
	for _, v := range s {
		u, ok := convert(v)
		if !ok {
			return nil, false
		}
		out = append(out, u)
	}
	return out, true
}
