package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

const (
	// PlaceholderChatReply 聊天接口的固定回复
	PlaceholderChatReply = "This is still a placeholder chat response."
	// placeholderReportFormat 报告接口的固定回复模板
	placeholderReportFormat = "This is still a placeholder report for %s."
)

// ChatService 聊天和报告服务
// LLM接入之前只返回固定文本
type ChatService struct {
	logger *logrus.Logger
}

// ChatOption 聊天服务配置选项
type ChatOption func(*ChatService)

// NewChatService 创建聊天服务实例
func NewChatService(opts ...ChatOption) *ChatService {
	service := &ChatService{
		logger: logrus.New(),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service
}

// WithChatLogger 设置日志记录器
func WithChatLogger(logger *logrus.Logger) ChatOption {
	return func(s *ChatService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Reply 回复聊天消息
func (s *ChatService) Reply(ctx context.Context, dealID, message string) string {
	s.logger.WithFields(logrus.Fields{
		"deal_id":     dealID,
		"message_len": len(message),
	}).Debug("Chat request received")
	return PlaceholderChatReply
}

// Report 生成交易报告
func (s *ChatService) Report(ctx context.Context, dealID string) string {
	s.logger.WithField("deal_id", dealID).Debug("Report request received")
	return fmt.Sprintf(placeholderReportFormat, dealID)
}
