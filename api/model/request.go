package model

// 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为10，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// ProcessDealRequest 处理交易文件夹请求
type ProcessDealRequest struct {
	FolderID string `json:"folder_id" binding:"required"` // Drive文件夹ID或存储目录
	Async    bool   `json:"async"`                        // 是否通过任务队列异步处理
}

// DealListRequest 交易列表请求
type DealListRequest struct {
	PaginationRequest
	Status   string `form:"status" binding:"omitempty,oneof=pending processing completed failed"` // 状态过滤
	FolderID string `form:"folder_id"`                                                          // 文件夹过滤
}

// DealURIRequest 路径中的交易ID
type DealURIRequest struct {
	ID string `uri:"id" binding:"required"`
}

// ChunkRequest 分块预览参数，未提供时使用默认值
type ChunkRequest struct {
	ChunkSize *int `form:"chunk_size"`
	Overlap   *int `form:"overlap"`
}

// ChatRequest 聊天请求，目前所有字段都是可选的
type ChatRequest struct {
	DealID  string `json:"deal_id"`
	Message string `json:"message"`
}
