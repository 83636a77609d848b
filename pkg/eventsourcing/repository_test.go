package eventsourcing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testEventIncremented = "counter.incremented"

type counterIncremented struct {
	BaseEvent
	CounterID string    `json:"counter_id"`
	Amount    int64     `json:"amount"`
	At        time.Time `json:"at"`
}

func (e *counterIncremented) EventType() string     { return testEventIncremented }
func (e *counterIncremented) AggregateID() string   { return e.CounterID }
func (e *counterIncremented) OccurredAt() time.Time { return e.At }

// counter 测试用最小聚合。
type counter struct {
	AggregateBase
	Total int64
}

func newCounter(id string) *counter {
	return &counter{AggregateBase: AggregateBase{ID: id}}
}

func (c *counter) Increment(amount int64) error {
	return c.Record(c, &counterIncremented{CounterID: c.ID, Amount: amount, At: time.Now()})
}

func (c *counter) Apply(event DomainEvent) error {
	switch e := event.(type) {
	case *counterIncremented:
		c.Total += e.Amount
	}
	return nil
}

type counterState struct {
	Total int64 `json:"total"`
}

func (c *counter) SnapshotState() ([]byte, error) {
	return json.Marshal(counterState{Total: c.Total})
}

func (c *counter) RestoreSnapshot(version int64, state []byte) error {
	var s counterState
	if err := json.Unmarshal(state, &s); err != nil {
		return err
	}
	c.Total = s.Total
	c.Ver = version
	return nil
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryEventStore(), nil, 0)

	c := newCounter("CNT-1")
	require.NoError(t, c.Increment(3))
	require.NoError(t, c.Increment(4))
	require.NoError(t, repo.Save(ctx, c))
	require.Empty(t, c.Uncommitted())

	loaded := newCounter("CNT-1")
	require.NoError(t, repo.Load(ctx, "CNT-1", loaded))
	require.Equal(t, int64(7), loaded.Total)
	require.Equal(t, int64(2), loaded.CurrentVersion())
}

func TestLoadMissingAggregate(t *testing.T) {
	repo := NewRepository(NewMemoryEventStore(), nil, 0)
	err := repo.Load(context.Background(), "CNT-404", newCounter("CNT-404"))
	require.ErrorIs(t, err, ErrAggregateNotFound)
}

func TestSaveWithoutChangesIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryEventStore(), nil, 0)

	c := newCounter("CNT-1")
	require.NoError(t, repo.Save(ctx, c))
	require.ErrorIs(t, repo.Load(ctx, "CNT-1", newCounter("CNT-1")), ErrAggregateNotFound)
}

func TestConcurrentSaveConflicts(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryEventStore(), nil, 0)

	c := newCounter("CNT-1")
	require.NoError(t, c.Increment(1))
	require.NoError(t, repo.Save(ctx, c))

	// 两个副本从同一版本出发，后写者必须冲突。
	a := newCounter("CNT-1")
	require.NoError(t, repo.Load(ctx, "CNT-1", a))
	b := newCounter("CNT-1")
	require.NoError(t, repo.Load(ctx, "CNT-1", b))

	require.NoError(t, a.Increment(10))
	require.NoError(t, repo.Save(ctx, a))

	require.NoError(t, b.Increment(20))
	require.ErrorIs(t, repo.Save(ctx, b), ErrConcurrencyConflict)

	// 重载后重试成功。
	retry := newCounter("CNT-1")
	require.NoError(t, repo.Load(ctx, "CNT-1", retry))
	require.NoError(t, retry.Increment(20))
	require.NoError(t, repo.Save(ctx, retry))

	final := newCounter("CNT-1")
	require.NoError(t, repo.Load(ctx, "CNT-1", final))
	require.Equal(t, int64(31), final.Total)
}

func TestSnapshotCadence(t *testing.T) {
	ctx := context.Background()
	snapshots := NewMemorySnapshotStore()
	repo := NewRepository(NewMemoryEventStore(), snapshots, 5)

	c := newCounter("CNT-1")
	for i := 0; i < 4; i++ {
		require.NoError(t, c.Increment(1))
	}
	require.NoError(t, repo.Save(ctx, c))

	// 版本 4 未跨过间隔，不产生快照。
	_, _, found, err := snapshots.Load(ctx, "CNT-1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.Increment(1))
	require.NoError(t, c.Increment(1))
	require.NoError(t, repo.Save(ctx, c))

	version, _, found, err := snapshots.Load(ctx, "CNT-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(6), version)

	loaded := newCounter("CNT-1")
	require.NoError(t, repo.Load(ctx, "CNT-1", loaded))
	require.Equal(t, int64(6), loaded.Total)
	require.Equal(t, int64(6), loaded.CurrentVersion())
}

func TestSnapshotPlusTailRebuild(t *testing.T) {
	ctx := context.Background()
	events := NewMemoryEventStore()
	snapshots := NewMemorySnapshotStore()
	repo := NewRepository(events, snapshots, 3)

	c := newCounter("CNT-1")
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, c.Increment(i))
		require.NoError(t, repo.Save(ctx, c))
	}

	// 快照停在版本 3，版本 4 和 5 从事件尾部补齐。
	version, _, found, err := snapshots.Load(ctx, "CNT-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(3), version)

	loaded := newCounter("CNT-1")
	require.NoError(t, repo.Load(ctx, "CNT-1", loaded))
	require.Equal(t, int64(15), loaded.Total)
	require.Equal(t, int64(5), loaded.CurrentVersion())
}

func TestRegistryDispatch(t *testing.T) {
	registry := NewEventRegistry().
		Register(testEventIncremented, func() DomainEvent { return &counterIncremented{} })

	event, err := registry.New(testEventIncremented)
	require.NoError(t, err)
	require.IsType(t, &counterIncremented{}, event)

	_, err = registry.New("counter.unknown")
	require.Error(t, err)

	require.Panics(t, func() {
		registry.Register(testEventIncremented, func() DomainEvent { return &counterIncremented{} })
	})
}

func TestRegistryMerge(t *testing.T) {
	a := NewEventRegistry().
		Register("a.happened", func() DomainEvent { return &counterIncremented{} })
	b := NewEventRegistry().
		Register("b.happened", func() DomainEvent { return &counterIncremented{} })

	merged := NewEventRegistry().Merge(a, b)
	_, err := merged.New("a.happened")
	require.NoError(t, err)
	_, err = merged.New("b.happened")
	require.NoError(t, err)

	require.Panics(t, func() { merged.Merge(a) })
}
