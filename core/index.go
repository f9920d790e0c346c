package core

import (
	"fmt"
	"sort"
)

// IDIndex 是外部 ID 与稠密下标之间的双向映射。
//
// 下标从 0 开始连续分配，按外部 ID 升序排列（与离线训练时 sorted(unique(ids)) 一致）。
// 构造后不可修改，可以被任意多个 goroutine 并发读取。
type IDIndex struct {
	ids   []int64       // 下标 -> 外部 ID
	index map[int64]int // 外部 ID -> 下标
}

// NewIDIndex 根据观测到的外部 ID 构建映射，ids 无需有序，但不能重复。
func NewIDIndex(ids []int64) (*IDIndex, error) {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := make(map[int64]int, len(sorted))
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			return nil, fmt.Errorf("%w: duplicate id %d", ErrInvalidBundle, id)
		}
		index[id] = i
	}
	return &IDIndex{ids: sorted, index: index}, nil
}

// Index 返回外部 ID 对应的稠密下标，不在映射中时 ok 为 false（模型外 ID）。
func (x *IDIndex) Index(id int64) (int, bool) {
	if x == nil {
		return 0, false
	}
	idx, ok := x.index[id]
	return idx, ok
}

// ID 返回下标对应的外部 ID。
func (x *IDIndex) ID(idx int) (int64, bool) {
	if x == nil || idx < 0 || idx >= len(x.ids) {
		return 0, false
	}
	return x.ids[idx], true
}

// Len 返回映射大小。
func (x *IDIndex) Len() int {
	if x == nil {
		return 0
	}
	return len(x.ids)
}

// IDs 返回按下标排列的外部 ID 副本。
func (x *IDIndex) IDs() []int64 {
	if x == nil {
		return nil
	}
	out := make([]int64, len(x.ids))
	copy(out, x.ids)
	return out
}
