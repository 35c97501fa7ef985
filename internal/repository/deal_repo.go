package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyerfyer/deal-ai/internal/models"
	"gorm.io/gorm"
)

// dealRepository 交易仓储实现
type dealRepository struct {
	db *gorm.DB // 数据库连接
}

// NewDealRepository 使用指定的数据库连接创建交易仓储实例
func NewDealRepository(db *gorm.DB) DealRepository {
	return &dealRepository{db: db}
}

// Create 创建交易记录
func (r *dealRepository) Create(ctx context.Context, deal *models.ParsedDeal) error {
	if deal.DealID == "" {
		return errors.New("deal ID cannot be empty")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.ParsedDeal{}).Where("deal_id = ?", deal.DealID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", models.ErrDealExists, deal.DealID)
		}

		if err := tx.Create(deal).Error; err != nil {
			// 并发插入时由主键约束兜底
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: %s", models.ErrDealExists, deal.DealID)
			}
			return err
		}
		return nil
	})
}

// Update 更新交易记录
func (r *dealRepository) Update(ctx context.Context, deal *models.ParsedDeal) error {
	if deal.DealID == "" {
		return errors.New("deal ID cannot be empty")
	}

	result := r.db.WithContext(ctx).Model(deal).
		Select("data", "folder_id", "status", "num_documents", "num_failed", "error", "updated_at").
		Updates(deal)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrDealNotFound, deal.DealID)
	}
	return nil
}

// GetByID 根据ID获取交易
func (r *dealRepository) GetByID(ctx context.Context, id string) (*models.ParsedDeal, error) {
	var deal models.ParsedDeal
	err := r.db.WithContext(ctx).Where("deal_id = ?", id).First(&deal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrDealNotFound, id)
		}
		return nil, err
	}
	return &deal, nil
}

// List 列出交易列表，支持分页和筛选
func (r *dealRepository) List(ctx context.Context, offset, limit int, filter DealFilter) ([]*models.ParsedDeal, int64, error) {
	var deals []*models.ParsedDeal
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ParsedDeal{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.FolderID != "" {
		query = query.Where("folder_id = ?", filter.FolderID)
	}

	// 获取总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if offset < 0 {
		offset = 0
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Order("created_at DESC").Order("deal_id DESC").Offset(offset).Find(&deals).Error
	if err != nil {
		return nil, 0, err
	}
	return deals, total, nil
}

// UpdateStatus 更新交易状态
func (r *dealRepository) UpdateStatus(ctx context.Context, id string, status models.DealStatus, errorMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %s", models.ErrInvalidDealStatus, status)
	}

	result := r.db.WithContext(ctx).Model(&models.ParsedDeal{}).
		Where("deal_id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"error":      errorMsg,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrDealNotFound, id)
	}
	return nil
}

// Delete 删除交易
func (r *dealRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("deal_id = ?", id).Delete(&models.ParsedDeal{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrDealNotFound, id)
	}
	return nil
}

// isDuplicateKey 判断是否为主键冲突
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
