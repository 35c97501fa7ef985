package document

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/fyerfyer/deal-ai/internal/models"
)

// PlainTextParser 纯文本解析器
type PlainTextParser struct{}

// NewPlainTextParser 创建一个新的纯文本解析器
func NewPlainTextParser() *PlainTextParser {
	return &PlainTextParser{}
}

// ParseBytes 按UTF-8读取文本，非法字节替换为U+FFFD
func (p *PlainTextParser) ParseBytes(ctx context.Context, data []byte, name string) (*models.ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}

	doc := models.NewParsedDocument(name, "")
	doc.Text = text
	return doc, nil
}
