package document

import (
	"bytes"
	"context"
	"fmt"

	"code.sajari.com/docconv/v2"
	"github.com/fyerfyer/deal-ai/internal/models"
)

// MimeTypeDocx Word文档的MIME类型，Google文档也导出为该格式
const MimeTypeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// WordParser DOCX文档解析器
type WordParser struct{}

// NewWordParser 创建Word解析器
func NewWordParser() *WordParser {
	return &WordParser{}
}

// ParseBytes 提取段落文本
func (p *WordParser) ParseBytes(ctx context.Context, data []byte, name string) (*models.ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := docconv.Convert(bytes.NewReader(data), MimeTypeDocx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to convert word document: %v", err)
	}

	doc := models.NewParsedDocument(name, "")
	doc.Text = result.Body
	return doc, nil
}
