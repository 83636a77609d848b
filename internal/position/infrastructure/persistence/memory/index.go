// Package memory 提供头寸索引的进程内实现，用于测试与本地运行。
package memory

import (
	"context"
	"sync"

	"github.com/wyfcoding/ledgercore/internal/position/domain"
)

// Index 内存头寸索引。
type Index struct {
	mu        sync.RWMutex
	summaries map[string]domain.Summary
}

// NewIndex 创建空索引。
func NewIndex() *Index {
	return &Index{summaries: make(map[string]domain.Summary)}
}

func (i *Index) Save(ctx context.Context, summary domain.Summary) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.summaries[summary.PositionID] = summary
	return nil
}

func (i *Index) ListOpenByAsset(ctx context.Context, asset string) ([]string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	var ids []string
	for id, summary := range i.summaries {
		if summary.Status == domain.StatusClosed {
			continue
		}
		for _, a := range summary.Assets {
			if a == asset {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids, nil
}

func (i *Index) ListOpen(ctx context.Context) ([]string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	var ids []string
	for id, summary := range i.summaries {
		if summary.Status != domain.StatusClosed {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

var _ domain.Index = (*Index)(nil)
