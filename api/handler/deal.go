package handler

import (
	"net/http"

	"github.com/fyerfyer/deal-ai/api/middleware"
	"github.com/fyerfyer/deal-ai/api/model"
	"github.com/fyerfyer/deal-ai/internal/document"
	"github.com/fyerfyer/deal-ai/internal/models"
	"github.com/fyerfyer/deal-ai/internal/repository"
	"github.com/fyerfyer/deal-ai/internal/services"
	"github.com/fyerfyer/deal-ai/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DealHandler 处理交易相关的API请求
type DealHandler struct {
	dealService   *services.DealService   // 交易服务
	chunkDefaults document.SplitterConfig // 分块预览的默认参数
	logger        *logrus.Logger          // 日志记录器
}

// DealHandlerOption 交易处理器配置选项
type DealHandlerOption func(*DealHandler)

// WithChunkDefaults 设置分块预览未指定参数时使用的配置
func WithChunkDefaults(cfg document.SplitterConfig) DealHandlerOption {
	return func(h *DealHandler) {
		h.chunkDefaults = cfg
	}
}

// NewDealHandler 创建新的交易处理器
func NewDealHandler(dealService *services.DealService, opts ...DealHandlerOption) *DealHandler {
	h := &DealHandler{
		dealService:   dealService,
		chunkDefaults: document.DefaultSplitterConfig(),
		logger:        middleware.GetLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ProcessDeal 列举并解析文件夹中的所有文件
// POST /process-deal
func (h *DealHandler) ProcessDeal(c *gin.Context) {
	var req model.ProcessDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid process deal request")
		c.JSON(http.StatusBadRequest, model.DetailResponse{Detail: "folder_id is required"})
		return
	}

	if req.Async {
		h.enqueueDeal(c, req.FolderID)
		return
	}

	result, err := h.dealService.ProcessDeal(c.Request.Context(), req.FolderID)
	if err != nil {
		abortWithDetail(c, err)
		return
	}

	resp := model.ProcessDealResponse{
		DealID:       result.DealID,
		FolderID:     result.FolderID,
		NumDocuments: len(result.Documents),
		NumParsed:    len(result.Documents),
		ParsedFiles:  make([]string, 0, len(result.Documents)),
		Failed:       make([]string, 0, len(result.Failures)),
		Outcome:      string(result.Outcome()),
	}
	for _, doc := range result.Documents {
		resp.ParsedFiles = append(resp.ParsedFiles, doc.Filename)
	}
	for _, f := range result.Failures {
		resp.Failed = append(resp.Failed, f.Name+": "+f.Error)
	}

	h.logger.WithFields(logrus.Fields{
		middleware.FieldDealID: resp.DealID,
		"parsed":               resp.NumParsed,
		"failed":               len(resp.Failed),
		"outcome":              resp.Outcome,
	}).Info("Deal processed")

	c.JSON(http.StatusOK, resp)
}

// enqueueDeal 提交异步处理任务
func (h *DealHandler) enqueueDeal(c *gin.Context, folderID string) {
	if !h.dealService.AsyncEnabled() {
		c.JSON(http.StatusBadRequest, model.DetailResponse{Detail: "async processing is not enabled"})
		return
	}

	dealID, taskID, err := h.dealService.EnqueueDeal(c.Request.Context(), folderID)
	if err != nil {
		abortWithDetail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, model.AsyncProcessResponse{
		DealID: dealID,
		TaskID: taskID,
		Status: string(taskqueue.StatusPending),
	})
}

// ListDeals 获取交易列表
// GET /api/deals
func (h *DealHandler) ListDeals(c *gin.Context) {
	var req model.DealListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("Invalid query parameters", err.Error()))
		return
	}

	page, pageSize := req.GetPage(), req.GetPageSize()
	filter := repository.DealFilter{
		Status:   models.DealStatus(req.Status),
		FolderID: req.FolderID,
	}

	deals, total, err := h.dealService.ListDeals(c.Request.Context(), page, pageSize, filter)
	if err != nil {
		middleware.HandleError(c, toAppError(err))
		return
	}

	resp := model.DealListResponse{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Deals:    make([]model.DealInfo, 0, len(deals)),
	}
	for _, deal := range deals {
		resp.Deals = append(resp.Deals, toDealInfo(deal))
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// GetDeal 获取交易的解析结果
// GET /api/deals/:id
func (h *DealHandler) GetDeal(c *gin.Context) {
	var uri model.DealURIRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("Deal ID is required"))
		return
	}

	data, err := h.dealService.GetDealData(c.Request.Context(), uri.ID)
	if err != nil {
		middleware.HandleError(c, toAppError(err))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(data))
}

// DeleteDeal 删除交易
// DELETE /api/deals/:id
func (h *DealHandler) DeleteDeal(c *gin.Context) {
	var uri model.DealURIRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("Deal ID is required"))
		return
	}

	if err := h.dealService.DeleteDeal(c.Request.Context(), uri.ID); err != nil {
		middleware.HandleError(c, toAppError(err))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.DealDeleteResponse{
		Success: true,
		DealID:  uri.ID,
	}))
}

// GetChunks 按分块配置预览交易文档的文本窗口
// GET /api/deals/:id/chunks?chunk_size=1000&overlap=200
func (h *DealHandler) GetChunks(c *gin.Context) {
	var uri model.DealURIRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("Deal ID is required"))
		return
	}

	var req model.ChunkRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("Invalid chunk parameters", err.Error()))
		return
	}

	chunkSize, overlap := h.chunkDefaults.ChunkSize, h.chunkDefaults.ChunkOverlap
	if req.ChunkSize != nil {
		chunkSize = *req.ChunkSize
	}
	if req.Overlap != nil {
		overlap = *req.Overlap
	}

	docs, err := h.dealService.ChunkDeal(c.Request.Context(), uri.ID, chunkSize, overlap)
	if err != nil {
		middleware.HandleError(c, toAppError(err))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ChunksResponse{
		DealID:    uri.ID,
		ChunkSize: chunkSize,
		Overlap:   overlap,
		Documents: docs,
	}))
}

func toDealInfo(deal *models.ParsedDeal) model.DealInfo {
	return model.DealInfo{
		DealID:       deal.DealID,
		FolderID:     deal.FolderID,
		Status:       string(deal.Status),
		NumDocuments: deal.NumDocuments,
		NumFailed:    deal.NumFailed,
		Error:        deal.Error,
		CreatedAt:    deal.CreatedAt,
		UpdatedAt:    deal.UpdatedAt,
	}
}
