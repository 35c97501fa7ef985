package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fyerfyer/deal-ai/api/middleware"
	"github.com/fyerfyer/deal-ai/api/model"
	"github.com/fyerfyer/deal-ai/internal/document"
	"github.com/fyerfyer/deal-ai/internal/models"
	"github.com/fyerfyer/deal-ai/internal/services"
	"github.com/fyerfyer/deal-ai/internal/source"
	"github.com/fyerfyer/deal-ai/pkg/taskqueue"
	"github.com/gin-gonic/gin"
)

// toAppError 把服务层错误转换为带HTTP状态码的应用错误
func toAppError(err error) middleware.AppError {
	var listErr *source.ListError
	var appErr middleware.AppError

	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, models.ErrInvalidFolderID):
		return middleware.NewValidationError(err.Error())
	case errors.As(err, &listErr):
		return middleware.NewBusinessError(fmt.Sprintf("Error listing Drive folder: %v", listErr.Err))
	case errors.Is(err, models.ErrNoFiles):
		return middleware.NewNotFoundError("No files found in the specified folder.")
	case errors.Is(err, models.ErrDealExists):
		return middleware.NewConflictError(err.Error())
	case errors.Is(err, models.ErrDealNotFound):
		return middleware.NewNotFoundError(err.Error())
	case errors.Is(err, document.ErrInvalidChunkConfig):
		return middleware.NewValidationError(err.Error())
	case errors.Is(err, taskqueue.ErrTaskNotFound), errors.Is(err, services.ErrQueueDisabled):
		return middleware.NewNotFoundError(err.Error())
	default:
		return middleware.NewInternalError("Internal server error", err.Error())
	}
}

// abortWithDetail 根路径接口沿用{"detail": "..."}格式的错误响应
func abortWithDetail(c *gin.Context, err error) {
	appErr := toAppError(err)
	message := appErr.Message
	if appErr.Code >= http.StatusInternalServerError {
		message = err.Error()
	}

	entry := middleware.GetLogger().WithError(err).WithField(middleware.FieldPath, c.Request.URL.Path)
	if appErr.Code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}
	c.AbortWithStatusJSON(appErr.Code, model.DetailResponse{Detail: message})
}
