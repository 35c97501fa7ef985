package document

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/fyerfyer/deal-ai/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// MimeTypeXlsx Excel文档的MIME类型，Google表格也导出为该格式
const MimeTypeXlsx = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SpreadsheetParser XLSX解析器
// 每个工作表转换为一个表格，首行作为列名
type SpreadsheetParser struct {
	validate *validator.Validate
	logger   *logrus.Logger
}

// SpreadsheetOption 表格解析器配置选项
type SpreadsheetOption func(*SpreadsheetParser)

// WithSpreadsheetLogger 设置日志记录器
func WithSpreadsheetLogger(logger *logrus.Logger) SpreadsheetOption {
	return func(p *SpreadsheetParser) {
		p.logger = logger
	}
}

// NewSpreadsheetParser 创建表格解析器
func NewSpreadsheetParser(opts ...SpreadsheetOption) *SpreadsheetParser {
	p := &SpreadsheetParser{
		validate: validator.New(),
		logger:   logrus.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseBytes 解析所有工作表
func (p *SpreadsheetParser) ParseBytes(ctx context.Context, data []byte, name string) (*models.ParsedDocument, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	doc := models.NewParsedDocument(name, "")
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}

		table := models.Table{Sheet: sheet, Rows: sheetRecords(rows)}
		doc.Tables = append(doc.Tables, table)

		switch sheetKind(sheet) {
		case sheetCashflow:
			doc.Cashflow = append(doc.Cashflow, p.extractCashflow(name, table)...)
		case sheetDebt:
			doc.DebtSchedule = append(doc.DebtSchedule, p.extractDebt(name, table)...)
		}
	}

	return doc, nil
}

// sheetRecords 把行数据转换为列名到值的映射
// 缺失的单元格为空字符串，全空的行被跳过
func sheetRecords(rows [][]string) []map[string]string {
	records := []map[string]string{}
	if len(rows) == 0 {
		return records
	}

	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	header := headerNames(rows[0], width)

	for _, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		record := make(map[string]string, width)
		for i, col := range header {
			value := ""
			if i < len(row) {
				value = strings.TrimSpace(row[i])
			}
			record[col] = value
		}
		records = append(records, record)
	}
	return records
}

// headerNames 生成列名：空列名为"Unnamed: i"，重复列名追加".n"
func headerNames(first []string, width int) []string {
	names := make([]string, width)
	seen := make(map[string]int, width)
	for i := 0; i < width; i++ {
		name := ""
		if i < len(first) {
			name = strings.TrimSpace(first[i])
		}
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n+1)
		} else {
			seen[name] = 0
		}
		names[i] = name
	}
	return names
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
