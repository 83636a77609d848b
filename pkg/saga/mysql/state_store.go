// Package mysql 提供 saga 状态存储的 GORM 实现。
package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/ledgercore/pkg/saga"
)

// SagaStatePO saga 状态持久化对象。
type SagaStatePO struct {
	SagaID          string `gorm:"column:saga_id;type:varchar(64);primaryKey"`
	Name            string `gorm:"column:name;type:varchar(64);index;not null"`
	Status          string `gorm:"column:status;type:varchar(16);index;not null"`
	CurrentStep     int    `gorm:"column:current_step;not null"`
	CompensationLog string `gorm:"column:compensation_log;type:json"`
	Error           string `gorm:"column:error;type:varchar(1024)"`
	UpdatedAt       time.Time
}

func (SagaStatePO) TableName() string { return "saga_states" }

type stateStore struct {
	db *gorm.DB
}

// NewStateStore 创建基于 MySQL 的 saga 状态存储。
func NewStateStore(db *gorm.DB) saga.StateStore {
	return &stateStore{db: db}
}

func (s *stateStore) Save(ctx context.Context, state *saga.State) error {
	logJSON, err := json.Marshal(state.CompensationLog)
	if err != nil {
		return err
	}
	po := &SagaStatePO{
		SagaID:          state.SagaID,
		Name:            state.Name,
		Status:          string(state.Status),
		CurrentStep:     state.CurrentStep,
		CompensationLog: string(logJSON),
		Error:           state.Error,
		UpdatedAt:       state.UpdatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "saga_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "current_step", "compensation_log", "error", "updated_at",
		}),
	}).Create(po).Error
}

func (s *stateStore) Load(ctx context.Context, sagaID string) (*saga.State, error) {
	var po SagaStatePO
	err := s.db.WithContext(ctx).Where("saga_id = ?", sagaID).First(&po).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &saga.State{
		SagaID:      po.SagaID,
		Name:        po.Name,
		Status:      saga.Status(po.Status),
		CurrentStep: po.CurrentStep,
		Error:       po.Error,
		UpdatedAt:   po.UpdatedAt,
	}
	if po.CompensationLog != "" {
		if err := json.Unmarshal([]byte(po.CompensationLog), &state.CompensationLog); err != nil {
			return nil, err
		}
	}
	return state, nil
}
