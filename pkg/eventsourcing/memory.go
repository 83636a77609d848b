package eventsourcing

import (
	"context"
	"sync"
)

// MemoryEventStore 进程内事件存储，用于测试与本地运行。
// 与持久实现遵循同一乐观并发语义。
type MemoryEventStore struct {
	mu      sync.RWMutex
	streams map[string][]DomainEvent
}

// NewMemoryEventStore 创建内存事件存储。
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{streams: make(map[string][]DomainEvent)}
}

// Save 原子校验尾部版本后追加事件。
func (s *MemoryEventStore) Save(ctx context.Context, aggregateID string, events []DomainEvent, expectedVersion int64) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[aggregateID]
	current := int64(0)
	if n := len(stream); n > 0 {
		current = stream[n-1].Version()
	}
	if current != expectedVersion {
		return ErrConcurrencyConflict
	}
	s.streams[aggregateID] = append(stream, events...)
	return nil
}

// Load 返回聚合的全部事件。
func (s *MemoryEventStore) Load(ctx context.Context, aggregateID string) ([]DomainEvent, error) {
	return s.LoadFrom(ctx, aggregateID, 1)
}

// LoadFrom 返回版本不小于 fromVersion 的事件。
func (s *MemoryEventStore) LoadFrom(ctx context.Context, aggregateID string, fromVersion int64) ([]DomainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[aggregateID]
	out := make([]DomainEvent, 0, len(stream))
	for _, event := range stream {
		if event.Version() >= fromVersion {
			out = append(out, event)
		}
	}
	return out, nil
}

// MemorySnapshotStore 进程内快照存储。
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]memorySnapshot
}

type memorySnapshot struct {
	version int64
	state   []byte
}

// NewMemorySnapshotStore 创建内存快照存储。
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string]memorySnapshot)}
}

// Save 保存快照，仅保留最新版本。
func (s *MemorySnapshotStore) Save(ctx context.Context, aggregateID string, version int64, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.snaps[aggregateID]; ok && existing.version >= version {
		return nil
	}
	cloned := make([]byte, len(state))
	copy(cloned, state)
	s.snaps[aggregateID] = memorySnapshot{version: version, state: cloned}
	return nil
}

// Load 返回最新快照。
func (s *MemorySnapshotStore) Load(ctx context.Context, aggregateID string) (int64, []byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[aggregateID]
	if !ok {
		return 0, nil, false, nil
	}
	return snap.version, snap.state, true, nil
}
