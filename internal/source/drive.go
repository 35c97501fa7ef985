package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fyerfyer/deal-ai/internal/models"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Google原生文档的MIME类型
const (
	mimeGoogleDoc    = "application/vnd.google-apps.document"
	mimeGoogleSheet  = "application/vnd.google-apps.spreadsheet"
	mimeGoogleSlides = "application/vnd.google-apps.presentation"
	mimeGooglePrefix = "application/vnd.google-apps."
)

// 原生文档的导出格式
var exportFormats = map[string]string{
	mimeGoogleDoc:    "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	mimeGoogleSheet:  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	mimeGoogleSlides: "text/plain",
}

const listFields = "nextPageToken, files(id, name, mimeType)"

// DriveConfig Google Drive配置
type DriveConfig struct {
	CredentialsFile string        // 服务账号JSON文件
	Endpoint        string        // 自定义API地址，设置后不做认证
	PageSize        int64         // 每页文件数
	MaxRetries      uint64        // 临时错误的最大重试次数
	RetryBaseDelay  time.Duration // 指数退避的初始间隔
	MaxDownloadSize int64         // 单个文件下载上限（字节）
}

// NewDriveService 创建只读的Drive客户端
func NewDriveService(ctx context.Context, cfg DriveConfig) (*drive.Service, error) {
	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts,
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(drive.DriveReadonlyScope))
	default:
		// 使用默认凭据
		opts = append(opts, option.WithScopes(drive.DriveReadonlyScope))
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return svc, nil
}

// DriveSource Google Drive文件夹来源
type DriveSource struct {
	svc    *drive.Service
	cfg    DriveConfig
	logger *logrus.Logger
}

// DriveOption Drive来源配置选项
type DriveOption func(*DriveSource)

// WithDriveLogger 设置日志记录器
func WithDriveLogger(logger *logrus.Logger) DriveOption {
	return func(d *DriveSource) {
		d.logger = logger
	}
}

// NewDriveSource 创建Drive来源
func NewDriveSource(svc *drive.Service, cfg DriveConfig, opts ...DriveOption) *DriveSource {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}

	d := &DriveSource{
		svc:    svc,
		cfg:    cfg,
		logger: logrus.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ListFiles 列出文件夹下未删除的文件，跟随nextPageToken直到最后一页
func (d *DriveSource) ListFiles(ctx context.Context, folderID string) ([]models.FileMeta, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false", escapeQuery(folderID))

	var files []models.FileMeta
	pageToken := ""
	for {
		var resp *drive.FileList
		err := d.withRetry(ctx, "list", func(ctx context.Context) error {
			call := d.svc.Files.List().
				Q(query).
				Spaces("drive").
				Fields(listFields).
				PageSize(d.cfg.PageSize).
				SupportsAllDrives(true).
				IncludeItemsFromAllDrives(true).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			return nil, &ListError{FolderID: folderID, Err: err}
		}

		for _, f := range resp.Files {
			files = append(files, models.FileMeta{ID: f.Id, Name: f.Name, MimeType: f.MimeType})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	d.logger.WithFields(logrus.Fields{
		"folder_id": folderID,
		"files":     len(files),
	}).Debug("Listed drive folder")
	return files, nil
}

// Download 下载文件，原生文档按exportFormats导出
func (d *DriveSource) Download(ctx context.Context, file models.FileMeta) (models.Blob, error) {
	if file.IsFolder() {
		return models.Blob{MimeType: file.MimeType}, nil
	}

	exportMime, native := exportFormats[file.MimeType]
	if !native && strings.HasPrefix(file.MimeType, mimeGooglePrefix) {
		// 表单、绘图等没有可解析的导出格式
		d.logger.WithFields(logrus.Fields{
			"file_id":   file.ID,
			"mime_type": file.MimeType,
		}).Info("Skipping download of unsupported native file")
		return models.Blob{MimeType: file.MimeType}, nil
	}

	var data []byte
	err := d.withRetry(ctx, "download", func(ctx context.Context) error {
		var (
			resp *http.Response
			err  error
		)
		if native {
			resp, err = d.svc.Files.Export(file.ID, exportMime).Context(ctx).Download()
		} else {
			resp, err = d.svc.Files.Get(file.ID).SupportsAllDrives(true).Context(ctx).Download()
		}
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err = readLimited(resp.Body, d.cfg.MaxDownloadSize)
		return err
	})
	if err != nil {
		return models.Blob{}, fmt.Errorf("failed to download %s: %w", file.Name, err)
	}

	mimeType := file.MimeType
	if native {
		mimeType = exportMime
	}
	return models.Blob{Data: data, MimeType: mimeType}, nil
}

// withRetry 对5xx和429错误按指数退避重试
func (d *DriveSource) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(d.cfg.MaxRetries, retry.NewExponential(d.cfg.RetryBaseDelay))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && isTransient(err) {
			d.logger.WithFields(logrus.Fields{
				"operation": op,
				"attempt":   attempt,
			}).WithError(err).Warn("Transient drive error, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
}

// isTransient 判断是否为可重试的错误
func isTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return false
}

// escapeQuery 转义查询字符串中的单引号和反斜杠
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
