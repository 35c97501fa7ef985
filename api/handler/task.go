package handler

import (
	"net/http"

	"github.com/fyerfyer/deal-ai/api/middleware"
	"github.com/fyerfyer/deal-ai/api/model"
	"github.com/fyerfyer/deal-ai/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TaskHandler 处理任务相关的API请求
type TaskHandler struct {
	dealService *services.DealService
	logger      *logrus.Logger
}

// NewTaskHandler 创建新的任务处理器
func NewTaskHandler(dealService *services.DealService) *TaskHandler {
	return &TaskHandler{
		dealService: dealService,
		logger:      middleware.GetLogger(),
	}
}

// GetTaskStatus 获取任务状态
// GET /api/tasks/:id
func (h *TaskHandler) GetTaskStatus(c *gin.Context) {
	taskID := c.Param("id")
	if taskID == "" {
		middleware.HandleError(c, middleware.NewValidationError("Task ID is required"))
		return
	}

	info, err := h.dealService.GetTask(c.Request.Context(), taskID)
	if err != nil {
		h.logger.WithError(err).WithField("task_id", taskID).Debug("Failed to get task")
		middleware.HandleError(c, toAppError(err))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(info))
}
