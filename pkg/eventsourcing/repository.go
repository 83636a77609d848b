package eventsourcing

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshotter 可选实现。聚合实现该接口后，Repository 会按间隔保存物化快照，
// 并在加载时用快照 + 尾部事件重建，避免全量重放。
type Snapshotter interface {
	SnapshotState() ([]byte, error)
	RestoreSnapshot(version int64, state []byte) error
}

type replayer interface {
	Replay(agg Aggregate, events []DomainEvent) error
}

// Repository 聚合仓储：封装 retrieve（快照 + 尾部重放）与 persist
// （以当前版本作为 expectedVersion 原子追加未提交事件）。
type Repository struct {
	events        EventStore
	snapshots     SnapshotStore
	snapshotEvery int64

	appended  prometheus.Counter
	conflicts prometheus.Counter
}

// NewRepository 创建聚合仓储。snapshotEvery <= 0 表示关闭快照。
func NewRepository(events EventStore, snapshots SnapshotStore, snapshotEvery int64) *Repository {
	return &Repository{
		events:        events,
		snapshots:     snapshots,
		snapshotEvery: snapshotEvery,
	}
}

// Instrument 挂接追加事件数与并发冲突数指标。
func (r *Repository) Instrument(appended, conflicts prometheus.Counter) *Repository {
	r.appended = appended
	r.conflicts = conflicts
	return r
}

// Load 重建聚合：先加载最新快照，再重放版本大于快照版本的尾部事件。
// 聚合不存在时返回 ErrAggregateNotFound。
func (r *Repository) Load(ctx context.Context, aggregateID string, agg Aggregate) error {
	rep, ok := agg.(replayer)
	if !ok {
		return fmt.Errorf("eventsourcing: aggregate %T does not embed AggregateBase", agg)
	}

	fromVersion := int64(0)
	if snap, ok := agg.(Snapshotter); ok && r.snapshots != nil {
		version, state, found, err := r.snapshots.Load(ctx, aggregateID)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		if found {
			if err := snap.RestoreSnapshot(version, state); err != nil {
				return fmt.Errorf("restore snapshot: %w", err)
			}
			fromVersion = version
		}
	}

	var (
		tail []DomainEvent
		err  error
	)
	if fromVersion > 0 {
		tail, err = r.events.LoadFrom(ctx, aggregateID, fromVersion+1)
	} else {
		tail, err = r.events.Load(ctx, aggregateID)
	}
	if err != nil {
		return err
	}
	if fromVersion == 0 && len(tail) == 0 {
		return ErrAggregateNotFound
	}
	return rep.Replay(agg, tail)
}

// Save 持久化聚合的未提交事件。expectedVersion 取加载时的版本，
// 若存储尾部已被并发推进则返回 ErrConcurrencyConflict，由调用方重载重试。
func (r *Repository) Save(ctx context.Context, agg Aggregate) error {
	base, ok := agg.(interface {
		Uncommitted() []DomainEvent
		ClearUncommitted()
	})
	if !ok {
		return fmt.Errorf("eventsourcing: aggregate %T does not embed AggregateBase", agg)
	}

	events := base.Uncommitted()
	if len(events) == 0 {
		return nil
	}

	expectedVersion := agg.CurrentVersion() - int64(len(events))
	if err := r.events.Save(ctx, agg.AggregateID(), events, expectedVersion); err != nil {
		if r.conflicts != nil && errors.Is(err, ErrConcurrencyConflict) {
			r.conflicts.Inc()
		}
		return err
	}
	if r.appended != nil {
		r.appended.Add(float64(len(events)))
	}
	base.ClearUncommitted()

	r.maybeSnapshot(ctx, agg, expectedVersion)
	return nil
}

// maybeSnapshot 在版本跨过快照间隔时保存快照。快照失败只影响重建速度，
// 不影响正确性，因此不向上传播。
func (r *Repository) maybeSnapshot(ctx context.Context, agg Aggregate, oldVersion int64) {
	if r.snapshotEvery <= 0 || r.snapshots == nil {
		return
	}
	snap, ok := agg.(Snapshotter)
	if !ok {
		return
	}
	newVersion := agg.CurrentVersion()
	if newVersion/r.snapshotEvery == oldVersion/r.snapshotEvery {
		return
	}
	state, err := snap.SnapshotState()
	if err != nil {
		return
	}
	_ = r.snapshots.Save(ctx, agg.AggregateID(), newVersion, state)
}
