package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskDealProcess 交易文件夹处理任务
	TaskDealProcess TaskType = "deal_process"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`           // 任务唯一标识符
	Type        TaskType        `json:"type"`         // 任务类型
	DealID      string          `json:"deal_id"`      // 关联的交易ID
	Status      TaskStatus      `json:"status"`       // 任务状态
	Payload     json.RawMessage `json:"payload"`      // 任务载荷数据
	Result      json.RawMessage `json:"result"`       // 任务结果数据
	Error       string          `json:"error"`        // 错误信息（如果处理失败）
	CreatedAt   time.Time       `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time      `json:"started_at"`   // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"` // 完成时间
	Attempts    int             `json:"attempts"`     // 尝试次数
	MaxRetries  int             `json:"max_retries"`  // 最大重试次数
}

// Finished 任务是否已结束
func (t *Task) Finished() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// DealProcessPayload 交易处理任务载荷
type DealProcessPayload struct {
	DealID   string `json:"deal_id"`   // 预先分配的交易ID
	FolderID string `json:"folder_id"` // 来源文件夹ID
}

// DealProcessResult 交易处理任务结果
type DealProcessResult struct {
	DealID       string `json:"deal_id"`       // 交易ID
	NumDocuments int    `json:"num_documents"` // 成功解析的文档数
	NumFailed    int    `json:"num_failed"`    // 失败的文件数
	Outcome      string `json:"outcome"`       // succeeded / partial / failed
}
