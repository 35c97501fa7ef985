package models

// MimeTypeFolder Google Drive文件夹的MIME类型
const MimeTypeFolder = "application/vnd.google-apps.folder"

// FileMeta 文件夹列举结果中的一项
type FileMeta struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
}

// IsFolder 是否为文件夹
func (f FileMeta) IsFolder() bool {
	return f.MimeType == MimeTypeFolder
}

// Blob 下载得到的文件内容
// MimeType 为实际内容的类型，导出的Google文档与原始MimeType不同
type Blob struct {
	Data     []byte
	MimeType string
}
