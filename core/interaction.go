package core

import (
	"fmt"
	"sort"
)

// Interaction 是一条 (用户下标, 物品下标, 权重) 三元组，权重可以是点击次数、时长等。
type Interaction struct {
	User   int
	Item   int
	Weight float32
}

// InteractionMatrix 是按行压缩（CSR）的用户-物品交互矩阵。
//
// 行为用户下标，列为物品下标。训练时用于拟合打分模型，
// 在线时用于确定用户已交互过的物品（推荐结果需排除）。
// 字段导出仅为了 gob 编解码，构造后视为只读。
type InteractionMatrix struct {
	NumRows int
	NumCols int
	IndPtr  []int     // 长度 NumRows+1，第 u 行数据位于 [IndPtr[u], IndPtr[u+1])
	Indices []int     // 列下标，行内升序
	Data    []float32 // 与 Indices 一一对应的权重
}

// InteractionRow 是矩阵中某个用户的一行（只读视图，与矩阵共享底层数组）。
type InteractionRow struct {
	Items   []int
	Weights []float32
}

// Len 返回该行非零元素个数。
func (r InteractionRow) Len() int { return len(r.Items) }

// Contains 判断该行是否包含物品下标 item（Items 行内升序，二分查找）。
func (r InteractionRow) Contains(item int) bool {
	i := sort.SearchInts(r.Items, item)
	return i < len(r.Items) && r.Items[i] == item
}

// NewInteractionMatrix 由三元组构建 CSR 矩阵，同一 (user, item) 的权重累加。
func NewInteractionMatrix(rows, cols int, triplets []Interaction) (*InteractionMatrix, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("%w: negative shape %dx%d", ErrInvalidBundle, rows, cols)
	}

	perRow := make([]map[int]float32, rows)
	for _, t := range triplets {
		if t.User < 0 || t.User >= rows || t.Item < 0 || t.Item >= cols {
			return nil, fmt.Errorf("%w: interaction (%d,%d) outside %dx%d", ErrInvalidBundle, t.User, t.Item, rows, cols)
		}
		if perRow[t.User] == nil {
			perRow[t.User] = make(map[int]float32)
		}
		perRow[t.User][t.Item] += t.Weight
	}

	m := &InteractionMatrix{
		NumRows: rows,
		NumCols: cols,
		IndPtr:  make([]int, rows+1),
	}
	for u, items := range perRow {
		keys := make([]int, 0, len(items))
		for it := range items {
			keys = append(keys, it)
		}
		sort.Ints(keys)
		for _, it := range keys {
			m.Indices = append(m.Indices, it)
			m.Data = append(m.Data, items[it])
		}
		m.IndPtr[u+1] = len(m.Indices)
	}
	return m, nil
}

// Rows 返回行数（用户数）。
func (m *InteractionMatrix) Rows() int { return m.NumRows }

// Cols 返回列数（物品数）。
func (m *InteractionMatrix) Cols() int { return m.NumCols }

// NNZ 返回非零元素个数。
func (m *InteractionMatrix) NNZ() int { return len(m.Indices) }

// Row 返回第 u 行，越界时返回空行。
func (m *InteractionMatrix) Row(u int) InteractionRow {
	if m == nil || u < 0 || u >= m.NumRows {
		return InteractionRow{}
	}
	start, end := m.IndPtr[u], m.IndPtr[u+1]
	return InteractionRow{
		Items:   m.Indices[start:end:end],
		Weights: m.Data[start:end:end],
	}
}

// Validate 检查 CSR 结构是否自洽（解码外部数据后调用）。
func (m *InteractionMatrix) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: interaction matrix is nil", ErrInvalidBundle)
	}
	if len(m.IndPtr) != m.NumRows+1 {
		return fmt.Errorf("%w: indptr length %d, want %d", ErrInvalidBundle, len(m.IndPtr), m.NumRows+1)
	}
	if len(m.Indices) != len(m.Data) {
		return fmt.Errorf("%w: indices/data length mismatch", ErrInvalidBundle)
	}
	if m.IndPtr[0] != 0 || m.IndPtr[m.NumRows] != len(m.Indices) {
		return fmt.Errorf("%w: indptr bounds do not cover data", ErrInvalidBundle)
	}
	for u := 0; u < m.NumRows; u++ {
		start, end := m.IndPtr[u], m.IndPtr[u+1]
		if start > end || end > len(m.Indices) {
			return fmt.Errorf("%w: indptr decreasing at row %d", ErrInvalidBundle, u)
		}
		for k := start; k < end; k++ {
			c := m.Indices[k]
			if c < 0 || c >= m.NumCols {
				return fmt.Errorf("%w: column %d outside [0,%d) at row %d", ErrInvalidBundle, c, m.NumCols, u)
			}
			if k > start && m.Indices[k-1] >= c {
				return fmt.Errorf("%w: columns not strictly ascending at row %d", ErrInvalidBundle, u)
			}
		}
	}
	return nil
}
