package bundle

import (
	"fmt"
	"sort"
	"time"

	"github.com/rushteam/recserve/core"
	"github.com/rushteam/recserve/oracle"
)

// Triplet 是一条以外部 ID 表示的交互记录
type Triplet struct {
	UserID int64
	ItemID int64
	Weight float32
}

// BuildInput 是组装模型包的输入。打分模型由离线训练产出，这里只负责组装。
type BuildInput struct {
	Version      string
	CreatedAt    time.Time
	Interactions []Triplet
	// Oracle 的用户/物品下标须与按 ID 升序分配的下标一致
	Oracle     oracle.RawOracle
	OracleKind string
	// PopularLimit 限制热门兜底长度，<= 0 表示保留全部物品
	PopularLimit int
}

// Build 由交互记录组装模型包：
//   - 用户、物品 ID 去重后升序分配下标
//   - 交互矩阵为 CSR，同一 (用户, 物品) 权重累加
//   - 热门兜底按物品总交互量降序，交互量相同按物品 ID 升序
func Build(in BuildInput) (*core.Bundle, error) {
	if in.Oracle == nil {
		return nil, fmt.Errorf("%w: oracle is required", core.ErrInvalidBundle)
	}
	if len(in.Interactions) == 0 {
		return nil, fmt.Errorf("%w: no interactions", core.ErrInvalidBundle)
	}

	userSet := make(map[int64]struct{})
	itemVolume := make(map[int64]float64)
	for _, t := range in.Interactions {
		userSet[t.UserID] = struct{}{}
		itemVolume[t.ItemID] += float64(t.Weight)
	}
	users, err := core.NewIDIndex(keys(userSet))
	if err != nil {
		return nil, err
	}
	itemIDs := make([]int64, 0, len(itemVolume))
	for id := range itemVolume {
		itemIDs = append(itemIDs, id)
	}
	items, err := core.NewIDIndex(itemIDs)
	if err != nil {
		return nil, err
	}

	triplets := make([]core.Interaction, 0, len(in.Interactions))
	for _, t := range in.Interactions {
		u, _ := users.Index(t.UserID)
		i, _ := items.Index(t.ItemID)
		triplets = append(triplets, core.Interaction{User: u, Item: i, Weight: t.Weight})
	}
	matrix, err := core.NewInteractionMatrix(users.Len(), items.Len(), triplets)
	if err != nil {
		return nil, err
	}

	kind := in.OracleKind
	if kind == "" {
		kind = oracle.KindFactor
	}
	b := &core.Bundle{
		Version:      in.Version,
		CreatedAt:    in.CreatedAt,
		OracleKind:   kind,
		Ranker:       oracle.NewAdapter(kind, in.Oracle),
		Interactions: matrix,
		Users:        users,
		Items:        items,
		Popular:      Popularity(itemVolume, in.PopularLimit),
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Popularity 按交互量降序排列物品 ID，交互量相同按 ID 升序；limit <= 0 不截断。
func Popularity(volume map[int64]float64, limit int) []int64 {
	ids := make([]int64, 0, len(volume))
	for id := range volume {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		vi, vj := volume[ids[i]], volume[ids[j]]
		if vi != vj {
			return vi > vj
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

func keys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
