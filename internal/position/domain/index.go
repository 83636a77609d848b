package domain

import "context"

// Summary 头寸读模型摘要，价格更新时用于圈定需要重估的头寸。
type Summary struct {
	PositionID string
	OwnerID    string
	Status     Status
	Assets     []string
}

// Index 头寸索引（读模型）。与事件流最终一致，仅用于筛选，
// 权威状态始终来自聚合重放。
type Index interface {
	Save(ctx context.Context, summary Summary) error
	ListOpenByAsset(ctx context.Context, asset string) ([]string, error)
	ListOpen(ctx context.Context) ([]string, error)
}
