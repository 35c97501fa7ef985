package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fyerfyer/deal-ai/internal/models"
	"github.com/fyerfyer/deal-ai/internal/repository"
	"github.com/sirupsen/logrus"
)

// ErrInvalidTransition 非法的状态转换
var ErrInvalidTransition = errors.New("invalid state transition")

// DealStatusManager 交易状态管理器
// 负责异步处理时交易记录的生命周期状态
type DealStatusManager struct {
	repo   repository.DealRepository // 交易仓储接口
	logger *logrus.Logger            // 日志记录器
	mu     sync.Mutex                // 互斥锁，保证状态转换的原子性
}

// NewDealStatusManager 创建交易状态管理器
func NewDealStatusManager(repo repository.DealRepository, logger *logrus.Logger) *DealStatusManager {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	return &DealStatusManager{
		repo:   repo,
		logger: logger,
	}
}

// MarkAsPending 创建一条等待处理的交易记录
func (m *DealStatusManager) MarkAsPending(ctx context.Context, dealID, folderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"deal_id":   dealID,
		"folder_id": folderID,
	}).Info("Marking deal as pending")

	deal := &models.ParsedDeal{
		DealID:   dealID,
		FolderID: folderID,
		Status:   models.DealStatusPending,
	}
	if err := deal.SetData(&models.DealData{DealID: dealID, Documents: []models.ParsedDocument{}}); err != nil {
		return err
	}
	return m.repo.Create(ctx, deal)
}

// MarkAsProcessing 将交易标记为处理中
func (m *DealStatusManager) MarkAsProcessing(ctx context.Context, dealID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deal, err := m.repo.GetByID(ctx, dealID)
	if err != nil {
		return fmt.Errorf("failed to get deal: %w", err)
	}

	if err := m.ValidateStateTransition(deal.Status, models.DealStatusProcessing); err != nil {
		return fmt.Errorf("deal %s: %w", dealID, err)
	}

	m.logger.WithField("deal_id", dealID).Info("Marking deal as processing")
	return m.repo.UpdateStatus(ctx, dealID, models.DealStatusProcessing, "")
}

// MarkAsCompleted 写入解析结果并结束处理
// 所有文件都失败时记为failed
func (m *DealStatusManager) MarkAsCompleted(ctx context.Context, result *BatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deal, err := m.repo.GetByID(ctx, result.DealID)
	if err != nil {
		return fmt.Errorf("failed to get deal: %w", err)
	}

	status := result.Status()
	if err := m.ValidateStateTransition(deal.Status, status); err != nil {
		return fmt.Errorf("deal %s: %w", result.DealID, err)
	}

	if err := deal.SetData(result.DealData()); err != nil {
		return err
	}
	deal.Status = status
	deal.NumFailed = len(result.Failures)
	deal.Error = result.ErrorSummary()

	m.logger.WithFields(logrus.Fields{
		"deal_id":       result.DealID,
		"num_documents": deal.NumDocuments,
		"num_failed":    deal.NumFailed,
		"outcome":       result.Outcome(),
	}).Info("Marking deal as completed")

	return m.repo.Update(ctx, deal)
}

// MarkAsFailed 将交易标记为失败
func (m *DealStatusManager) MarkAsFailed(ctx context.Context, dealID string, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.repo.GetByID(ctx, dealID); err != nil {
		return fmt.Errorf("failed to get deal: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"deal_id": dealID,
		"error":   errorMsg,
	}).Error("Marking deal as failed")

	return m.repo.UpdateStatus(ctx, dealID, models.DealStatusFailed, errorMsg)
}

// GetStatus 获取交易当前状态
func (m *DealStatusManager) GetStatus(ctx context.Context, dealID string) (models.DealStatus, error) {
	deal, err := m.repo.GetByID(ctx, dealID)
	if err != nil {
		return "", fmt.Errorf("failed to get deal status: %w", err)
	}
	return deal.Status, nil
}

// ValidateStateTransition 验证状态转换的有效性
func (m *DealStatusManager) ValidateStateTransition(from, to models.DealStatus) error {
	validTransitions := map[models.DealStatus][]models.DealStatus{
		models.DealStatusPending: {
			models.DealStatusProcessing,
			models.DealStatusFailed,
		},
		models.DealStatusProcessing: {
			models.DealStatusProcessing, // worker重试
			models.DealStatusCompleted,
			models.DealStatusFailed,
		},
		// 终态
		models.DealStatusCompleted: {},
		models.DealStatusFailed:    {models.DealStatusProcessing}, // 允许重试
	}

	for _, validTo := range validTransitions[from] {
		if validTo == to {
			return nil
		}
	}
	return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, from, to)
}
