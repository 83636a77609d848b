package eventsourcing

// Aggregate 聚合契约。聚合状态只能通过按版本顺序重放自身事件得到，
// Apply 内部通过事件类型查表分发，禁止任何绕过事件的直接修改。
type Aggregate interface {
	AggregateID() string
	CurrentVersion() int64
	Apply(event DomainEvent) error
}

// AggregateBase 聚合根公共实现：维护当前版本与未提交事件缓冲。
// 领域聚合内嵌该结构，业务方法通过 Record 记录新事件。
type AggregateBase struct {
	ID          string
	Ver         int64
	uncommitted []DomainEvent
}

// AggregateID 返回聚合标识。
func (b *AggregateBase) AggregateID() string { return b.ID }

// CurrentVersion 返回已应用的最新事件版本，0 表示尚无事件。
func (b *AggregateBase) CurrentVersion() int64 { return b.Ver }

// Uncommitted 返回尚未持久化的事件缓冲。
func (b *AggregateBase) Uncommitted() []DomainEvent { return b.uncommitted }

// ClearUncommitted 在事件成功持久化后清空缓冲。
func (b *AggregateBase) ClearUncommitted() { b.uncommitted = nil }

// Record 给事件分配下一个版本号，应用到聚合状态并加入未提交缓冲。
// Apply 失败时不推进版本、不缓冲，保证聚合状态与事件流一致。
func (b *AggregateBase) Record(agg Aggregate, event DomainEvent) error {
	event.SetVersion(b.Ver + 1)
	if err := agg.Apply(event); err != nil {
		return err
	}
	b.Ver++
	b.uncommitted = append(b.uncommitted, event)
	return nil
}

// Replay 按顺序把历史事件应用到聚合上，用于从事件流重建状态。
func (b *AggregateBase) Replay(agg Aggregate, events []DomainEvent) error {
	for _, event := range events {
		if err := agg.Apply(event); err != nil {
			return err
		}
		b.Ver = event.Version()
	}
	return nil
}
