package document

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fyerfyer/deal-ai/internal/models"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"
)

// PDFParser PDF文档解析器
// 优先按页提取纯文本，失败时回退到pdfcpu提取内容流
type PDFParser struct {
	logger *logrus.Logger
}

// PDFOption PDF解析器选项
type PDFOption func(*PDFParser)

// WithPDFLogger 设置日志记录器
func WithPDFLogger(logger *logrus.Logger) PDFOption {
	return func(p *PDFParser) {
		p.logger = logger
	}
}

// NewPDFParser 创建一个新的PDF解析器
func NewPDFParser(opts ...PDFOption) *PDFParser {
	p := &PDFParser{logger: logrus.New()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseBytes 解析PDF内容
func (p *PDFParser) ParseBytes(ctx context.Context, data []byte, name string) (*models.ParsedDocument, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty pdf content")
	}

	method := "text"
	text, err := p.extractText(ctx, data)
	if err != nil || strings.TrimSpace(text) == "" {
		fallback, ferr := p.extractContent(data)
		if ferr != nil {
			if err != nil {
				return nil, fmt.Errorf("failed to read pdf: %w", err)
			}
			return nil, fmt.Errorf("failed to extract pdf content: %w", ferr)
		}
		text = fallback
		method = "content_stream"
	}

	fields := logrus.Fields{
		"file":   name,
		"method": method,
		"chars":  len([]rune(text)),
	}
	if pages, err := p.PageCount(data); err == nil {
		fields["pages"] = pages
	}
	p.logger.WithFields(fields).Debug("PDF parsed")

	doc := models.NewParsedDocument(name, "")
	doc.Text = text
	return doc, nil
}

// PageCount 返回PDF页数
func (p *PDFParser) PageCount(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	return api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
}

// extractText 逐页提取纯文本，页之间不加分隔
// pdf库在结构损坏时会panic，这里转换为错误
func (p *PDFParser) extractText(ctx context.Context, data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		sb.WriteString(content)
	}
	return sb.String(), nil
}

// extractContent 使用pdfcpu把每页内容流写到临时目录，再从中取出文本操作数
func (p *PDFParser) extractContent(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	tmpDir, err := os.MkdirTemp("", "pdfcpu_extract_")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	input := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write temp pdf: %v", err)
	}

	outDir := filepath.Join(tmpDir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	if err := api.ExtractContentFile(input, outDir, nil, model.NewDefaultConfiguration()); err != nil {
		return "", err
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", fmt.Errorf("failed to read extracted content dir: %v", err)
	}
	// 按页码排序，page_10排在page_2之后
	sort.SliceStable(entries, func(i, j int) bool {
		return pageNumber(entries[i].Name()) < pageNumber(entries[j].Name())
	})

	var sb strings.Builder
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(outDir, e.Name()))
		if err != nil {
			continue
		}
		pageText := strings.TrimSpace(contentStreamText(raw))
		if pageText == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(pageText)
	}

	result := strings.TrimSpace(sb.String())
	if result == "" {
		return "", fmt.Errorf("no text content found in PDF")
	}
	return result, nil
}

var pageNumberPattern = regexp.MustCompile(`(\d+)\.txt$`)

// pageNumber 从pdfcpu输出文件名中取页码，取不到时排在最后
func pageNumber(name string) int {
	m := pageNumberPattern.FindStringSubmatch(name)
	if m == nil {
		return math.MaxInt
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return math.MaxInt
	}
	return n
}

// contentStreamText 从内容流中取出字符串操作数
// Tj/TJ的字符串直接拼接，换行类操作符(T*, Td, TD, ', ", ET)输出换行
func contentStreamText(stream []byte) string {
	var sb strings.Builder
	pending := false
	newline := func() {
		if pending {
			sb.WriteByte('\n')
			pending = false
		}
	}

	for i := 0; i < len(stream); {
		c := stream[i]
		switch {
		case c == '(':
			s, next := readLiteralString(stream, i)
			sb.WriteString(s)
			pending = pending || s != ""
			i = next
		case c == '<' && i+1 < len(stream) && stream[i+1] == '<':
			// 字典
			i += 2
		case c == '<':
			s, next := readHexString(stream, i)
			sb.WriteString(s)
			pending = pending || s != ""
			i = next
		case c == '%':
			for i < len(stream) && stream[i] != '\n' && stream[i] != '\r' {
				i++
			}
		case isRegularChar(c):
			j := i
			for j < len(stream) && isRegularChar(stream[j]) {
				j++
			}
			switch string(stream[i:j]) {
			case "T*", "Td", "TD", "'", "\"", "ET":
				newline()
			}
			i = j
		default:
			i++
		}
	}
	return sb.String()
}

// readLiteralString 读取(...)字符串，支持嵌套括号和转义
func readLiteralString(stream []byte, start int) (string, int) {
	var sb strings.Builder
	depth := 0
	for i := start; i < len(stream); i++ {
		c := stream[i]
		switch c {
		case '\\':
			if i+1 >= len(stream) {
				return sb.String(), len(stream)
			}
			i++
			switch e := stream[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
				// 行延续
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for k := 0; k < 2 && i+1 < len(stream) && stream[i+1] >= '0' && stream[i+1] <= '7'; k++ {
						i++
						v = v*8 + int(stream[i]-'0')
					}
					sb.WriteByte(byte(v))
				} else {
					sb.WriteByte(e)
				}
			}
		case '(':
			if depth > 0 {
				sb.WriteByte(c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), len(stream)
}

// readHexString 读取<...>十六进制字符串
func readHexString(stream []byte, start int) (string, int) {
	end := bytes.IndexByte(stream[start:], '>')
	if end < 0 {
		return "", len(stream)
	}
	digits := strings.Map(func(r rune) rune {
		if strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return r
		}
		return -1
	}, string(stream[start+1:start+end]))
	if len(digits)%2 == 1 {
		digits += "0"
	}
	decoded, err := hex.DecodeString(digits)
	if err != nil {
		return "", start + end + 1
	}
	return string(decoded), start + end + 1
}

func isRegularChar(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0,
		'(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return false
	}
	return true
}
