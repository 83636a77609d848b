// Package redis 提供 saga 步骤幂等标记的 Redis 实现。
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wyfcoding/ledgercore/pkg/saga"
)

type markerStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMarkerStore 创建基于 Redis 的步骤幂等标记存储。
// ttl 覆盖 saga 的最长生命周期即可，到期后实例早已终结归档。
func NewMarkerStore(client *redis.Client, ttl time.Duration) saga.MarkerStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &markerStore{client: client, ttl: ttl}
}

func key(sagaID string, stepIndex int) string {
	return fmt.Sprintf("saga:step:%s:%d", sagaID, stepIndex)
}

func (s *markerStore) MarkExecuted(ctx context.Context, sagaID string, stepIndex int) error {
	return s.client.Set(ctx, key(sagaID, stepIndex), "1", s.ttl).Err()
}

func (s *markerStore) IsExecuted(ctx context.Context, sagaID string, stepIndex int) (bool, error) {
	n, err := s.client.Exists(ctx, key(sagaID, stepIndex)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
