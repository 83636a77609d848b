// Package mysql 实现头寸读模型索引的 GORM 存储。
package mysql

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/ledgercore/internal/position/domain"
)

// PositionPO 头寸摘要持久化对象。
type PositionPO struct {
	PositionID string `gorm:"column:position_id;type:varchar(64);primaryKey"`
	OwnerID    string `gorm:"column:owner_id;type:varchar(64);index;not null"`
	Status     string `gorm:"column:status;type:varchar(16);index;not null"`
	UpdatedAt  time.Time
}

func (PositionPO) TableName() string { return "position_index" }

// PositionAssetPO 头寸持有资产，价格更新按资产圈定头寸。
type PositionAssetPO struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	PositionID string `gorm:"column:position_id;type:varchar(64);uniqueIndex:uk_position_asset,priority:1;not null"`
	Asset      string `gorm:"column:asset;type:varchar(16);uniqueIndex:uk_position_asset,priority:2;index;not null"`
}

func (PositionAssetPO) TableName() string { return "position_index_assets" }

type index struct {
	db *gorm.DB
}

// NewIndex 创建基于 MySQL 的头寸索引。
func NewIndex(db *gorm.DB) domain.Index {
	return &index{db: db}
}

func (i *index) Save(ctx context.Context, summary domain.Summary) error {
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		po := &PositionPO{
			PositionID: summary.PositionID,
			OwnerID:    summary.OwnerID,
			Status:     string(summary.Status),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "position_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner_id", "status", "updated_at"}),
		}).Create(po).Error
		if err != nil {
			return err
		}

		if err := tx.Where("position_id = ?", summary.PositionID).Delete(&PositionAssetPO{}).Error; err != nil {
			return err
		}
		if len(summary.Assets) == 0 {
			return nil
		}
		assets := make([]*PositionAssetPO, 0, len(summary.Assets))
		for _, asset := range summary.Assets {
			assets = append(assets, &PositionAssetPO{PositionID: summary.PositionID, Asset: asset})
		}
		return tx.Create(&assets).Error
	})
}

func (i *index) ListOpenByAsset(ctx context.Context, asset string) ([]string, error) {
	var ids []string
	err := i.db.WithContext(ctx).
		Model(&PositionPO{}).
		Joins("JOIN position_index_assets ON position_index_assets.position_id = position_index.position_id").
		Where("position_index_assets.asset = ? AND position_index.status <> ?", asset, string(domain.StatusClosed)).
		Pluck("position_index.position_id", &ids).Error
	return ids, err
}

func (i *index) ListOpen(ctx context.Context) ([]string, error) {
	var ids []string
	err := i.db.WithContext(ctx).
		Model(&PositionPO{}).
		Where("status <> ?", string(domain.StatusClosed)).
		Pluck("position_id", &ids).Error
	return ids, err
}
