package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyerfyer/deal-ai/internal/models"
	"github.com/fyerfyer/deal-ai/internal/source"
	"github.com/fyerfyer/deal-ai/pkg/taskqueue"
	"github.com/sirupsen/logrus"
)

// DealTaskHandler 异步交易处理任务的处理器
type DealTaskHandler struct {
	service *DealService
	logger  *logrus.Logger
}

// NewDealTaskHandler 创建任务处理器
func NewDealTaskHandler(service *DealService, logger *logrus.Logger) *DealTaskHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &DealTaskHandler{service: service, logger: logger}
}

// GetTaskTypes 实现taskqueue.Handler接口
func (h *DealTaskHandler) GetTaskTypes() []taskqueue.TaskType {
	return []taskqueue.TaskType{taskqueue.TaskDealProcess}
}

// ProcessTask 实现taskqueue.Handler接口
func (h *DealTaskHandler) ProcessTask(ctx context.Context, task *taskqueue.Task) (interface{}, error) {
	var payload taskqueue.DealProcessPayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, err
	}
	if payload.DealID == "" {
		payload.DealID = task.DealID
	}
	if payload.DealID == "" || payload.FolderID == "" {
		return nil, fmt.Errorf("%w: deal_id and folder_id are required", taskqueue.ErrInvalidPayload)
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"deal_id":   payload.DealID,
		"folder_id": payload.FolderID,
		"attempt":   task.Attempts,
	}).Info("Processing deal task")

	result, err := h.service.ProcessDealWithID(ctx, payload.DealID, payload.FolderID)
	if err != nil {
		if isPermanent(err) {
			return nil, fmt.Errorf("%w: %v", taskqueue.ErrPermanent, err)
		}
		return nil, err
	}

	return taskqueue.DealProcessResult{
		DealID:       result.DealID,
		NumDocuments: len(result.Documents),
		NumFailed:    len(result.Failures),
		Outcome:      string(result.Outcome()),
	}, nil
}

// isPermanent 重试也不会成功的错误
func isPermanent(err error) bool {
	var listErr *source.ListError
	return errors.Is(err, models.ErrNoFiles) ||
		errors.Is(err, models.ErrDealNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.As(err, &listErr)
}
