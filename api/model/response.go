package model

import (
	"time"

	"github.com/fyerfyer/deal-ai/internal/services"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// DetailResponse 根路径接口使用的错误响应
type DetailResponse struct {
	Detail string `json:"detail"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status string `json:"status"`
}

// ProcessDealResponse 同步处理交易的响应
type ProcessDealResponse struct {
	DealID       string   `json:"deal_id"`       // 交易ID
	FolderID     string   `json:"folder_id"`     // 文件夹ID
	NumDocuments int      `json:"num_documents"` // 成功解析的文档数
	NumParsed    int      `json:"num_parsed"`    // 同num_documents
	ParsedFiles  []string `json:"parsed_files"`  // 成功解析的文件名
	Failed       []string `json:"failed"`        // 失败文件，格式为"名称: 错误"
	Outcome      string   `json:"outcome"`       // succeeded / partial / failed
}

// AsyncProcessResponse 异步处理交易的响应
type AsyncProcessResponse struct {
	DealID string `json:"deal_id"`
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// DealInfo 交易概要信息
type DealInfo struct {
	DealID       string    `json:"deal_id"`
	FolderID     string    `json:"folder_id"`
	Status       string    `json:"status"`
	NumDocuments int       `json:"num_documents"`
	NumFailed    int       `json:"num_failed"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DealListResponse 交易列表响应
type DealListResponse struct {
	Total    int64      `json:"total"`     // 总数量
	Page     int        `json:"page"`      // 当前页码
	PageSize int        `json:"page_size"` // 每页大小
	Deals    []DealInfo `json:"deals"`     // 交易列表
}

// DealDeleteResponse 交易删除响应
type DealDeleteResponse struct {
	Success bool   `json:"success"`
	DealID  string `json:"deal_id"`
}

// ChunksResponse 分块预览响应
type ChunksResponse struct {
	DealID    string                    `json:"deal_id"`
	ChunkSize int                       `json:"chunk_size"`
	Overlap   int                       `json:"overlap"`
	Documents []services.DocumentChunks `json:"documents"`
}

// ChatResponse 聊天响应
type ChatResponse struct {
	Reply string `json:"reply"`
}

// ReportResponse 报告响应
type ReportResponse struct {
	Report string `json:"report"`
}
