package repository

import (
	"context"

	"github.com/fyerfyer/deal-ai/internal/models"
)

// DealFilter 交易列表筛选条件，空字段表示不过滤
type DealFilter struct {
	Status   models.DealStatus
	FolderID string
}

// DealRepository 交易仓储接口
// 负责解析结果的存储和检索
type DealRepository interface {
	// Create 创建交易记录，deal_id已存在时返回models.ErrDealExists
	Create(ctx context.Context, deal *models.ParsedDeal) error

	// Update 更新交易记录
	Update(ctx context.Context, deal *models.ParsedDeal) error

	// GetByID 根据ID获取交易，不存在时返回models.ErrDealNotFound
	GetByID(ctx context.Context, id string) (*models.ParsedDeal, error)

	// List 按创建时间倒序列出交易，返回当前页和总数
	List(ctx context.Context, offset, limit int, filter DealFilter) ([]*models.ParsedDeal, int64, error)

	// UpdateStatus 更新交易状态
	UpdateStatus(ctx context.Context, id string, status models.DealStatus, errorMsg string) error

	// Delete 删除交易
	Delete(ctx context.Context, id string) error
}
