package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyerfyer/deal-ai/internal/models"
)

// ErrTooLarge 文件超过下载上限
var ErrTooLarge = errors.New("file exceeds download limit")

// Source 交易文件夹来源
// 列举文件夹中的文件并下载单个文件内容
type Source interface {
	// ListFiles 列出文件夹下未删除的直接子项
	ListFiles(ctx context.Context, folderID string) ([]models.FileMeta, error)

	// Download 下载文件内容，原生文档会被导出为可解析的格式
	Download(ctx context.Context, file models.FileMeta) (models.Blob, error)
}

// ListError 列举文件夹失败
type ListError struct {
	FolderID string
	Err      error
}

// Error 实现error接口
func (e *ListError) Error() string {
	return fmt.Sprintf("failed to list folder %s: %v", e.FolderID, e.Err)
}

// Unwrap 返回底层错误
func (e *ListError) Unwrap() error {
	return e.Err
}
