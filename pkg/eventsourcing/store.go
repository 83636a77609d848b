package eventsourcing

import (
	"context"
	"errors"
)

// ErrConcurrencyConflict 追加事件时 expectedVersion 与存储尾部不一致。
// 调用方应重新加载聚合并重放业务操作后重试。
var ErrConcurrencyConflict = errors.New("concurrency conflict: aggregate version mismatch")

// ErrAggregateNotFound 聚合不存在（无任何事件）。
var ErrAggregateNotFound = errors.New("aggregate not found")

// EventStore 追加式事件存储契约。
// Save 必须原子地校验 expectedVersion 等于当前尾部版本，否则返回 ErrConcurrencyConflict。
type EventStore interface {
	Save(ctx context.Context, aggregateID string, events []DomainEvent, expectedVersion int64) error
	Load(ctx context.Context, aggregateID string) ([]DomainEvent, error)
	LoadFrom(ctx context.Context, aggregateID string, fromVersion int64) ([]DomainEvent, error)
}

// SnapshotStore 快照存储契约，用于加速聚合重建。
type SnapshotStore interface {
	Save(ctx context.Context, aggregateID string, version int64, state []byte) error
	// Load 返回最新快照。无快照时 found 为 false 且不视为错误。
	Load(ctx context.Context, aggregateID string) (version int64, state []byte, found bool, err error)
}
