package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/fyerfyer/deal-ai/api/middleware"
	"github.com/fyerfyer/deal-ai/api/model"
	"github.com/fyerfyer/deal-ai/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ChatHandler 处理聊天和报告请求
type ChatHandler struct {
	chatService *services.ChatService
	logger      *logrus.Logger
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(chatService *services.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		logger:      middleware.GetLogger(),
	}
}

// Chat 聊天接口，请求体可以为空
// POST /chat, GET /chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			h.logger.WithError(err).Warn("Invalid chat request")
			c.JSON(http.StatusBadRequest, model.DetailResponse{Detail: "invalid chat request body"})
			return
		}
	} else {
		req.DealID = c.Query("deal_id")
		req.Message = c.Query("message")
	}

	c.JSON(http.StatusOK, model.ChatResponse{
		Reply: h.chatService.Reply(c.Request.Context(), req.DealID, req.Message),
	})
}

// Report 交易报告
// GET /report/:deal_id
func (h *ChatHandler) Report(c *gin.Context) {
	dealID := c.Param("deal_id")
	c.JSON(http.StatusOK, model.ReportResponse{
		Report: h.chatService.Report(c.Request.Context(), dealID),
	})
}
