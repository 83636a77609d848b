// Package mysql 提供事件存储与快照存储的 GORM 实现。
package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/ledgercore/pkg/eventsourcing"
)

// EventPO 事件持久化对象。(aggregate_id, version) 唯一索引既是存储约束，
// 也是乐观并发冲突的最终防线。
type EventPO struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	AggregateID string `gorm:"column:aggregate_id;type:varchar(64);uniqueIndex:uk_aggregate_version,priority:1;not null"`
	Version     int64  `gorm:"column:version;uniqueIndex:uk_aggregate_version,priority:2;not null"`
	EventType   string `gorm:"column:event_type;type:varchar(64);not null"`
	Payload     string `gorm:"column:payload;type:json;not null"`
	OccurredAt  int64  `gorm:"column:occurred_at;not null"`
	CreatedAt   time.Time
}

func (EventPO) TableName() string { return "ledger_events" }

type eventStore struct {
	db       *gorm.DB
	registry *eventsourcing.EventRegistry
}

// NewEventStore 创建基于 MySQL 的事件存储。registry 用于按事件类型反序列化。
func NewEventStore(db *gorm.DB, registry *eventsourcing.EventRegistry) eventsourcing.EventStore {
	return &eventStore{db: db, registry: registry}
}

func (s *eventStore) Save(ctx context.Context, aggregateID string, events []eventsourcing.DomainEvent, expectedVersion int64) error {
	if len(events) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int64
		if err := tx.Model(&EventPO{}).
			Where("aggregate_id = ?", aggregateID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&current).Error; err != nil {
			return err
		}
		if current != expectedVersion {
			return eventsourcing.ErrConcurrencyConflict
		}

		pos := make([]*EventPO, 0, len(events))
		for _, event := range events {
			payload, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("marshal event %s: %w", event.EventType(), err)
			}
			pos = append(pos, &EventPO{
				AggregateID: aggregateID,
				Version:     event.Version(),
				EventType:   event.EventType(),
				Payload:     string(payload),
				OccurredAt:  event.OccurredAt().UnixNano(),
			})
		}
		return tx.Create(&pos).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// 两个写入者同时通过了版本检查时，唯一索引兜底。
		return eventsourcing.ErrConcurrencyConflict
	}
	return err
}

func (s *eventStore) Load(ctx context.Context, aggregateID string) ([]eventsourcing.DomainEvent, error) {
	return s.LoadFrom(ctx, aggregateID, 1)
}

func (s *eventStore) LoadFrom(ctx context.Context, aggregateID string, fromVersion int64) ([]eventsourcing.DomainEvent, error) {
	var pos []EventPO
	if err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND version >= ?", aggregateID, fromVersion).
		Order("version ASC").
		Find(&pos).Error; err != nil {
		return nil, err
	}

	events := make([]eventsourcing.DomainEvent, 0, len(pos))
	for _, po := range pos {
		event, err := s.registry.New(po.EventType)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(po.Payload), event); err != nil {
			return nil, fmt.Errorf("unmarshal event %s v%d: %w", po.EventType, po.Version, err)
		}
		event.SetVersion(po.Version)
		events = append(events, event)
	}
	return events, nil
}

// SnapshotPO 快照持久化对象，每个聚合仅保留最新一行。
type SnapshotPO struct {
	AggregateID string `gorm:"column:aggregate_id;type:varchar(64);primaryKey"`
	Version     int64  `gorm:"column:version;not null"`
	State       string `gorm:"column:state;type:json;not null"`
	UpdatedAt   time.Time
}

func (SnapshotPO) TableName() string { return "ledger_snapshots" }

type snapshotStore struct {
	db *gorm.DB
}

// NewSnapshotStore 创建基于 MySQL 的快照存储。
func NewSnapshotStore(db *gorm.DB) eventsourcing.SnapshotStore {
	return &snapshotStore{db: db}
}

func (s *snapshotStore) Save(ctx context.Context, aggregateID string, version int64, state []byte) error {
	po := &SnapshotPO{AggregateID: aggregateID, Version: version, State: string(state)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "aggregate_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "state", "updated_at"}),
	}).Create(po).Error
}

func (s *snapshotStore) Load(ctx context.Context, aggregateID string) (int64, []byte, bool, error) {
	var po SnapshotPO
	err := s.db.WithContext(ctx).Where("aggregate_id = ?", aggregateID).First(&po).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	return po.Version, []byte(po.State), true, nil
}
