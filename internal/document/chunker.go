package document

import (
	"errors"
	"fmt"
)

const (
	// DefaultChunkSize 默认窗口大小（字符数）
	DefaultChunkSize = 1000
	// DefaultChunkOverlap 默认相邻窗口重叠字符数
	DefaultChunkOverlap = 200
)

// ErrInvalidChunkConfig 分块配置无效
var ErrInvalidChunkConfig = errors.New("invalid chunk configuration")

// ConfigurationError 分块参数违反 0 <= overlap < chunkSize 约束
type ConfigurationError struct {
	ChunkSize int    // 窗口大小
	Overlap   int    // 重叠大小
	Reason    string // 具体原因
}

// Error 实现error接口
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid chunk configuration (chunk_size=%d, overlap=%d): %s",
		e.ChunkSize, e.Overlap, e.Reason)
}

// Is 使 errors.Is(err, ErrInvalidChunkConfig) 成立
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidChunkConfig
}

// Chunk 文本窗口
type Chunk struct {
	Index int    `json:"index"` // 窗口序号
	Start int    `json:"start"` // 起始字符偏移
	Text  string `json:"text"`  // 窗口文本
}

// ValidateChunkConfig 校验分块参数
func ValidateChunkConfig(chunkSize, overlap int) error {
	switch {
	case chunkSize <= 0:
		return &ConfigurationError{ChunkSize: chunkSize, Overlap: overlap, Reason: "chunk_size must be positive"}
	case overlap < 0:
		return &ConfigurationError{ChunkSize: chunkSize, Overlap: overlap, Reason: "overlap must not be negative"}
	case overlap >= chunkSize:
		return &ConfigurationError{ChunkSize: chunkSize, Overlap: overlap, Reason: "overlap must be smaller than chunk_size"}
	}
	return nil
}

// ChunkText 按固定窗口切分文本，相邻窗口重叠overlap个字符
// 长度按Unicode字符计算，最后一个窗口可能短于chunkSize
func ChunkText(text string, chunkSize, overlap int) ([]string, error) {
	chunks, err := ChunkWithOffsets(text, chunkSize, overlap)
	if err != nil {
		return nil, err
	}

	result := make([]string, len(chunks))
	for i, c := range chunks {
		result[i] = c.Text
	}
	return result, nil
}

// ChunkWithOffsets 与ChunkText相同，但同时返回每个窗口的序号和起始偏移
func ChunkWithOffsets(text string, chunkSize, overlap int) ([]Chunk, error) {
	if err := ValidateChunkConfig(chunkSize, overlap); err != nil {
		return nil, err
	}

	runes := []rune(text)
	step := chunkSize - overlap
	chunks := make([]Chunk, 0, estimateChunks(len(runes), step))

	for start := 0; start < len(runes); start += step {
		// 用剩余长度比较，避免start+chunkSize溢出
		remaining := len(runes) - start
		end := start + min(chunkSize, remaining)
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Start: start,
			Text:  string(runes[start:end]),
		})
		if step >= remaining {
			break
		}
	}

	return chunks, nil
}

// estimateChunks 预估窗口数量
func estimateChunks(length, step int) int {
	if length == 0 {
		return 0
	}
	if step >= length {
		return 1
	}
	return (length-1)/step + 1
}

// SplitterConfig 分段器配置
type SplitterConfig struct {
	ChunkSize    int // 分块大小（按字符数）
	ChunkOverlap int // 分块重叠大小（字符数）
	MaxChunks    int // 最大分块数量（0表示不限制）
}

// DefaultSplitterConfig 返回默认分段器配置
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		MaxChunks:    0,
	}
}

// Splitter 文本分段器接口
// 负责将长文本分割成带偏移的窗口
type Splitter interface {
	// Split 将文本分割成段落
	Split(text string) ([]Chunk, error)
}

// TextSplitter 基于滑动窗口的分段器
type TextSplitter struct {
	config SplitterConfig
}

// NewTextSplitter 创建新的文本分段器，配置非法时返回ConfigurationError
func NewTextSplitter(config SplitterConfig) (*TextSplitter, error) {
	if err := ValidateChunkConfig(config.ChunkSize, config.ChunkOverlap); err != nil {
		return nil, err
	}
	return &TextSplitter{config: config}, nil
}

// Config 返回分段器配置
func (s *TextSplitter) Config() SplitterConfig {
	return s.config
}

// Split 将文本分割成窗口
func (s *TextSplitter) Split(text string) ([]Chunk, error) {
	chunks, err := ChunkWithOffsets(text, s.config.ChunkSize, s.config.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	// 应用最大分块数量限制
	if s.config.MaxChunks > 0 && len(chunks) > s.config.MaxChunks {
		chunks = chunks[:s.config.MaxChunks]
	}
	return chunks, nil
}
