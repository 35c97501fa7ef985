package document

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fyerfyer/deal-ai/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrUnsupportedFormat 没有对应格式的解析器
var ErrUnsupportedFormat = errors.New("unsupported document type")

// Parser 文档解析器接口
// 负责将下载的文件内容转换为标准化的解析记录
type Parser interface {
	// Parse 解析单个文件，filename和file_id总是取自file
	Parse(ctx context.Context, file models.FileMeta, blob models.Blob) (*models.ParsedDocument, error)
}

// FormatParser 单一格式的解析器
type FormatParser interface {
	// ParseBytes 解析文件内容，name用于日志和错误信息
	ParseBytes(ctx context.Context, data []byte, name string) (*models.ParsedDocument, error)
}

// ContentType 表示文档的内容类型
type ContentType string

const (
	// Folder 文件夹，不下载不解析
	Folder ContentType = "folder"
	// PDF 文档类型
	PDF ContentType = "pdf"
	// Spreadsheet 电子表格
	Spreadsheet ContentType = "spreadsheet"
	// Word 文档
	Word ContentType = "word"
	// Markdown 文档类型
	Markdown ContentType = "markdown"
	// PlainText 纯文本类型
	PlainText ContentType = "plaintext"
	// Unknown 未知类型
	Unknown ContentType = "unknown"
)

// DetectContentType 先看MIME类型再看扩展名，第一个匹配的规则生效
func DetectContentType(mimeType, name string) ContentType {
	mimeType = strings.ToLower(mimeType)
	ext := strings.ToLower(filepath.Ext(name))

	switch {
	case mimeType == models.MimeTypeFolder:
		return Folder
	case mimeType == "application/pdf" || ext == ".pdf":
		return PDF
	case strings.Contains(mimeType, "spreadsheet") || ext == ".xlsx" || ext == ".xls":
		return Spreadsheet
	case strings.Contains(mimeType, "document") || ext == ".docx" || ext == ".docm":
		return Word
	case mimeType == "text/markdown" || ext == ".md" || ext == ".markdown":
		return Markdown
	case mimeType == "text/plain" || ext == ".txt" || ext == ".csv":
		return PlainText
	default:
		return Unknown
	}
}

// DocumentParser 按内容类型分发到各格式解析器
type DocumentParser struct {
	parsers map[ContentType]FormatParser
	logger  *logrus.Logger
}

// ParserOption 解析器配置选项
type ParserOption func(*DocumentParser)

// WithFormatParser 替换或注册某一类型的解析器
func WithFormatParser(ct ContentType, p FormatParser) ParserOption {
	return func(d *DocumentParser) {
		d.parsers[ct] = p
	}
}

// WithParserLogger 设置日志记录器
func WithParserLogger(logger *logrus.Logger) ParserOption {
	return func(d *DocumentParser) {
		d.logger = logger
	}
}

// NewDocumentParser 创建默认的文档解析器
func NewDocumentParser(opts ...ParserOption) *DocumentParser {
	d := &DocumentParser{
		parsers: make(map[ContentType]FormatParser),
		logger:  logrus.New(),
	}
	for _, opt := range opts {
		opt(d)
	}

	defaults := map[ContentType]FormatParser{
		PDF:         NewPDFParser(WithPDFLogger(d.logger)),
		Spreadsheet: NewSpreadsheetParser(WithSpreadsheetLogger(d.logger)),
		Word:        NewWordParser(),
		Markdown:    NewMarkdownParser(),
		PlainText:   NewPlainTextParser(),
	}
	for ct, p := range defaults {
		if _, ok := d.parsers[ct]; !ok {
			d.parsers[ct] = p
		}
	}
	return d
}

// NeedsDownload 文件夹条目不需要下载
func (d *DocumentParser) NeedsDownload(file models.FileMeta) bool {
	return DetectContentType(file.MimeType, file.Name) != Folder
}

// Parse 实现Parser接口
func (d *DocumentParser) Parse(ctx context.Context, file models.FileMeta, blob models.Blob) (*models.ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mimeType := blob.MimeType
	if mimeType == "" {
		mimeType = file.MimeType
	}
	if file.IsFolder() {
		mimeType = file.MimeType
	}
	ct := DetectContentType(mimeType, file.Name)

	logger := d.logger.WithFields(logrus.Fields{
		"file_id":      file.ID,
		"file_name":    file.Name,
		"content_type": ct,
	})

	if ct == Folder || ct == Unknown {
		logger.Debug("No parser for file, returning empty record")
		return models.NewParsedDocument(file.Name, file.ID), nil
	}

	p, ok := d.parsers[ct]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ct)
	}

	doc, err := p.ParseBytes(ctx, blob.Data, file.Name)
	if err != nil {
		// DOCX解析失败时返回空记录，其他格式计为失败
		if ct == Word {
			logger.WithError(err).Warn("Failed to parse word document, returning empty record")
			return models.NewParsedDocument(file.Name, file.ID), nil
		}
		return nil, fmt.Errorf("failed to parse %s: %w", file.Name, err)
	}

	doc.Filename = file.Name
	doc.FileID = file.ID
	logger.WithField("text_length", len(doc.Text)).Debug("File parsed")
	return doc, nil
}
