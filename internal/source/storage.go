package source

import (
	"context"
	"fmt"
	"io"

	"github.com/fyerfyer/deal-ai/internal/models"
	"github.com/fyerfyer/deal-ai/pkg/storage"
)

// StorageSource 以对象存储中的目录作为交易文件夹
// 文件夹ID为目录路径，文件ID为对象路径
type StorageSource struct {
	store       storage.Storage
	maxDownload int64
}

// NewStorageSource 创建基于对象存储的来源，maxDownload<=0表示不限制
func NewStorageSource(store storage.Storage, maxDownload int64) *StorageSource {
	return &StorageSource{store: store, maxDownload: maxDownload}
}

// ListFiles 实现Source接口
func (s *StorageSource) ListFiles(ctx context.Context, folderID string) ([]models.FileMeta, error) {
	infos, err := s.store.List(ctx, folderID)
	if err != nil {
		return nil, &ListError{FolderID: folderID, Err: err}
	}

	files := make([]models.FileMeta, 0, len(infos))
	for _, info := range infos {
		meta := models.FileMeta{ID: info.Key, Name: info.Name, MimeType: info.MimeType}
		if info.IsDir {
			meta.MimeType = models.MimeTypeFolder
		}
		files = append(files, meta)
	}
	return files, nil
}

// Download 实现Source接口
func (s *StorageSource) Download(ctx context.Context, file models.FileMeta) (models.Blob, error) {
	if file.IsFolder() {
		return models.Blob{MimeType: file.MimeType}, nil
	}

	r, err := s.store.Get(ctx, file.ID)
	if err != nil {
		return models.Blob{}, err
	}
	defer r.Close()

	data, err := readLimited(r, s.maxDownload)
	if err != nil {
		return models.Blob{}, fmt.Errorf("failed to read %s: %w", file.ID, err)
	}
	return models.Blob{Data: data, MimeType: file.MimeType}, nil
}

// readLimited 读取全部内容，超过limit时返回ErrTooLarge
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}
