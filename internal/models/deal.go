package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DealStatus 交易处理状态
type DealStatus string

const (
	// DealStatusPending 已入队，等待处理
	DealStatusPending DealStatus = "pending"
	// DealStatusProcessing 处理中
	DealStatusProcessing DealStatus = "processing"
	// DealStatusCompleted 处理完成（可能部分文件失败）
	DealStatusCompleted DealStatus = "completed"
	// DealStatusFailed 全部文件失败或流程出错
	DealStatusFailed DealStatus = "failed"
)

// Valid 检查状态取值
func (s DealStatus) Valid() bool {
	switch s {
	case DealStatusPending, DealStatusProcessing, DealStatusCompleted, DealStatusFailed:
		return true
	}
	return false
}

// ParsedDeal 交易数据模型
// 每个处理过的文件夹对应一条记录，解析结果以JSON存储
type ParsedDeal struct {
	DealID       string         `gorm:"primaryKey;type:text"` // 交易ID，主键
	Data         datatypes.JSON `gorm:"not null"`             // DealData的JSON
	FolderID     string         `gorm:"index"`                // 来源文件夹ID
	Status       DealStatus     `gorm:"size:20;index"`        // 处理状态
	NumDocuments int            `gorm:"not null;default:0"`   // 成功解析的文档数
	NumFailed    int            `gorm:"not null;default:0"`   // 失败的文件数
	Error        string         `gorm:"type:text"`            // 错误信息
	CreatedAt    time.Time      `gorm:"not null;index"`       // 创建时间
	UpdatedAt    time.Time      `gorm:"not null"`             // 更新时间
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (d *ParsedDeal) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if len(d.Data) == 0 {
		d.Data = datatypes.JSON(`{}`)
	}
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (d *ParsedDeal) BeforeUpdate(tx *gorm.DB) (err error) {
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// TableName 明确指定表名
func (ParsedDeal) TableName() string {
	return "parsed_deals"
}

// SetData 序列化DealData并写入Data字段
func (d *ParsedDeal) SetData(data *DealData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal deal data: %w", err)
	}
	d.Data = datatypes.JSON(raw)
	d.NumDocuments = len(data.Documents)
	return nil
}

// Payload 反序列化Data字段
func (d *ParsedDeal) Payload() (*DealData, error) {
	data := &DealData{DealID: d.DealID, Documents: []ParsedDocument{}}
	if len(d.Data) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(d.Data, data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deal data: %w", err)
	}
	if data.DealID == "" {
		data.DealID = d.DealID
	}
	if data.Documents == nil {
		data.Documents = []ParsedDocument{}
	}
	return data, nil
}
