package saga

import (
	"context"
	"sync"
	"time"
)

// Status saga 实例状态。
type Status string

const (
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusFailed       Status = "failed"
)

// 补偿日志条目结果。
const (
	// OutcomeReleased 正向动作已成功撤销（锁已释放、记录已回滚）。
	OutcomeReleased = "released"
	// OutcomeFailed 补偿动作执行失败。
	OutcomeFailed = "compensation_failed"
	// OutcomeManual 该步骤无法自动撤销，需要人工介入。
	OutcomeManual = "manual_intervention_required"
)

// CompensationEntry 单条补偿记录，携带支撑人工排障的上下文。
type CompensationEntry struct {
	Step    string    `json:"step"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// State saga 实例的持久化状态。值语义传递，每个步骤完成后落盘，
// 崩溃的 worker 可以据此从最后一个完成的步骤恢复。
type State struct {
	SagaID          string              `json:"saga_id"`
	Name            string              `json:"name"`
	Status          Status              `json:"status"`
	CurrentStep     int                 `json:"current_step"`
	CompensationLog []CompensationEntry `json:"compensation_log,omitempty"`
	Error           string              `json:"error,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// StateStore saga 状态存储契约。
type StateStore interface {
	Save(ctx context.Context, state *State) error
	Load(ctx context.Context, sagaID string) (*State, error)
}

// MarkerStore 步骤幂等标记存储。队列按至少一次投递，
// 重复调度的步骤通过 (sagaID, stepIndex) 标记去重。
type MarkerStore interface {
	MarkExecuted(ctx context.Context, sagaID string, stepIndex int) error
	IsExecuted(ctx context.Context, sagaID string, stepIndex int) (bool, error)
}

// MemoryStateStore 进程内状态存储，用于测试。
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryStateStore 创建内存状态存储。
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

func (s *MemoryStateStore) Save(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.SagaID] = *state
	return nil
}

func (s *MemoryStateStore) Load(ctx context.Context, sagaID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[sagaID]
	if !ok {
		return nil, nil
	}
	copied := state
	return &copied, nil
}

// MemoryMarkerStore 进程内幂等标记存储，用于测试。
type MemoryMarkerStore struct {
	mu      sync.RWMutex
	markers map[string]map[int]bool
}

// NewMemoryMarkerStore 创建内存标记存储。
func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{markers: make(map[string]map[int]bool)}
}

func (s *MemoryMarkerStore) MarkExecuted(ctx context.Context, sagaID string, stepIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markers[sagaID] == nil {
		s.markers[sagaID] = make(map[int]bool)
	}
	s.markers[sagaID][stepIndex] = true
	return nil
}

func (s *MemoryMarkerStore) IsExecuted(ctx context.Context, sagaID string, stepIndex int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markers[sagaID][stepIndex], nil
}
