package models

import (
	"encoding/json"
)

// CashflowEntry 现金流条目
type CashflowEntry struct {
	Period  string  `json:"period" validate:"required"` // 期间，例如 "2023-Q4" 或 "2023-12-31"
	EBITDA  float64 `json:"ebitda" validate:"gte=0"`    // EBITDA，不能为负
	Revenue float64 `json:"revenue"`                    // 收入
	Opex    float64 `json:"opex"`                       // 运营支出
}

// DebtInstrument 债务工具
type DebtInstrument struct {
	Name         string  `json:"name" validate:"required"` // 名称
	Amount       float64 `json:"amount"`                   // 金额
	InterestRate float64 `json:"interest_rate"`            // 利率
}

// Table 解析出的表格，每行是列名到值的映射
type Table struct {
	Sheet string              `json:"sheet"`
	Rows  []map[string]string `json:"rows"`
}

// ParsedDocument 单个源文件解析后的标准化记录
type ParsedDocument struct {
	Filename     string           `json:"filename"`
	FileID       string           `json:"file_id"`
	Text         string           `json:"text"`
	Tables       []Table          `json:"tables"`
	Cashflow     []CashflowEntry  `json:"cashflow"`
	DebtSchedule []DebtInstrument `json:"debt_schedule"`
}

// NewParsedDocument 创建空的解析记录
func NewParsedDocument(filename, fileID string) *ParsedDocument {
	return &ParsedDocument{
		Filename:     filename,
		FileID:       fileID,
		Tables:       []Table{},
		Cashflow:     []CashflowEntry{},
		DebtSchedule: []DebtInstrument{},
	}
}

// MarshalJSON 保证列表字段序列化为[]而不是null
func (d ParsedDocument) MarshalJSON() ([]byte, error) {
	type alias ParsedDocument
	if d.Tables == nil {
		d.Tables = []Table{}
	}
	if d.Cashflow == nil {
		d.Cashflow = []CashflowEntry{}
	}
	if d.DebtSchedule == nil {
		d.DebtSchedule = []DebtInstrument{}
	}
	return json.Marshal(alias(d))
}

// DealData 每个交易持久化的JSON内容
type DealData struct {
	DealID    string           `json:"deal_id"`
	Documents []ParsedDocument `json:"documents"`
}
