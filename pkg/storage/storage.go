package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrNotFound 文件不存在
var ErrNotFound = errors.New("file not found")

// FileInfo 文件元数据结构
type FileInfo struct {
	Key      string // 存储路径，使用"/"分隔，同时作为文件ID
	Name     string // 文件名
	Size     int64  // 文件大小(字节)
	MimeType string // 文件MIME类型
	IsDir    bool   // 是否为目录（前缀）
}

// Storage 文件存储接口
// 交易文件夹对应一个目录或对象前缀，可以有不同实现(本地文件系统、MinIO等)
type Storage interface {
	// Save 保存文件到指定路径
	Save(ctx context.Context, key string, reader io.Reader) (FileInfo, error)

	// Get 获取文件内容
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete 删除文件
	Delete(ctx context.Context, key string) error

	// List 列出目录下的直接子项，子目录以IsDir标记
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	// Exists 检查文件是否存在
	Exists(ctx context.Context, key string) (bool, error)
}

// CleanKey 规范化存储路径，去掉开头的"/"并拒绝跳出根目录的路径
func CleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", errors.New("empty storage key")
	}
	return cleaned, nil
}

// cleanPrefix 规范化目录前缀，空前缀表示根目录
func cleanPrefix(prefix string) string {
	cleaned := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(prefix, "\\", "/")), "/")
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// MimeTypeByName 简单根据文件扩展名判断MIME类型
func MimeTypeByName(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".doc":
		return "application/msword"
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".csv":
		return "text/csv"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
