// Package eventsourcing 提供事件溯源基础设施：领域事件契约、聚合根、
// 事件存储与快照存储接口，以及基于版本号的乐观并发控制。
package eventsourcing

import (
	"fmt"
	"time"
)

// DomainEvent 领域事件契约。事件一旦追加即不可变，
// 版本号在单个聚合内严格递增且无空洞。
type DomainEvent interface {
	EventType() string
	AggregateID() string
	Version() int64
	SetVersion(v int64)
	OccurredAt() time.Time
}

// BaseEvent 事件公共字段，领域事件通过内嵌复用版本管理。
type BaseEvent struct {
	Ver int64 `json:"version"`
}

// Version 返回事件在聚合内的版本号。
func (b *BaseEvent) Version() int64 { return b.Ver }

// SetVersion 由聚合根在记录事件时分配版本号。
func (b *BaseEvent) SetVersion(v int64) { b.Ver = v }

// EventFactory 按事件类型构造零值事件实例，用于反序列化。
type EventFactory func() DomainEvent

// EventRegistry 事件类型注册表。事件通过显式注册分发，不做反射派发。
type EventRegistry struct {
	factories map[string]EventFactory
}

// NewEventRegistry 创建空注册表。
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{factories: make(map[string]EventFactory)}
}

// Register 注册一个事件类型。重复注册同名类型视为编程错误，直接 panic。
func (r *EventRegistry) Register(eventType string, factory EventFactory) *EventRegistry {
	if _, ok := r.factories[eventType]; ok {
		panic(fmt.Sprintf("eventsourcing: event type %q already registered", eventType))
	}
	r.factories[eventType] = factory
	return r
}

// Merge 把另一个注册表的全部事件类型并入当前注册表，
// 用于多个限界上下文共用同一个事件存储。类型冲突同样 panic。
func (r *EventRegistry) Merge(others ...*EventRegistry) *EventRegistry {
	for _, other := range others {
		for eventType, factory := range other.factories {
			r.Register(eventType, factory)
		}
	}
	return r
}

// New 按类型构造事件实例。
func (r *EventRegistry) New(eventType string) (DomainEvent, error) {
	factory, ok := r.factories[eventType]
	if !ok {
		return nil, fmt.Errorf("eventsourcing: unknown event type %q", eventType)
	}
	return factory(), nil
}
