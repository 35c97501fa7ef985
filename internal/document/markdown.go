package document

import (
	"context"
	"fmt"
	stdhtml "html"
	"strings"

	"github.com/fyerfyer/deal-ai/internal/models"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownParser Markdown文档解析器
type MarkdownParser struct {
	extensions parser.Extensions
}

// NewMarkdownParser 创建新的Markdown解析器
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{extensions: parser.CommonExtensions | parser.AutoHeadingIDs}
}

// ParseBytes 先渲染为HTML再去掉标签得到纯文本
func (p *MarkdownParser) ParseBytes(ctx context.Context, data []byte, name string) (*models.ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 解析器不能复用，每次新建
	doc := parser.NewWithExtensions(p.extensions).Parse(data)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	rendered := markdown.Render(doc, renderer)

	parsed := models.NewParsedDocument(name, "")
	parsed.Text = extractTextFromHTML(string(rendered))
	return parsed, nil
}

// extractTextFromHTML 从HTML中提取纯文本
func extractTextFromHTML(content string) string {
	// 替换常见的HTML元素为换行符
	replacements := []struct {
		Old string
		New string
	}{
		{"<br>", "\n"},
		{"<br/>", "\n"},
		{"<br />", "\n"},
		{"</p>", "\n\n"},
		{"<li>", "- "},
		{"</li>", "\n"},
		{"</ul>", "\n"},
		{"</ol>", "\n"},
		{"</tr>", "\n"},
		{"</td>", " "},
		{"</th>", " "},
	}
	for level := 1; level <= 6; level++ {
		replacements = append(replacements, struct {
			Old string
			New string
		}{fmt.Sprintf("</h%d>", level), "\n\n"})
	}

	result := content
	for _, r := range replacements {
		result = strings.ReplaceAll(result, r.Old, r.New)
	}

	// 移除所有HTML标签
	for {
		start := strings.Index(result, "<")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], ">")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+1:]
	}

	return normalizeWhitespace(stdhtml.UnescapeString(result))
}

// normalizeWhitespace 行内空白合并为单个空格，连续空行最多保留一个
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
