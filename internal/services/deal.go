package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/fyerfyer/deal-ai/internal/cache"
	"github.com/fyerfyer/deal-ai/internal/document"
	"github.com/fyerfyer/deal-ai/internal/metrics"
	"github.com/fyerfyer/deal-ai/internal/models"
	"github.com/fyerfyer/deal-ai/internal/repository"
	"github.com/fyerfyer/deal-ai/internal/source"
	"github.com/fyerfyer/deal-ai/pkg/storage"
	"github.com/fyerfyer/deal-ai/pkg/taskqueue"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrQueueDisabled 未配置任务队列
var ErrQueueDisabled = errors.New("task queue is not enabled")

// Outcome 批处理结果分类
type Outcome string

const (
	// OutcomeSucceeded 所有文件都解析成功
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomePartial 部分文件失败
	OutcomePartial Outcome = "partial"
	// OutcomeFailed 所有文件都失败
	OutcomeFailed Outcome = "failed"
)

// FileFailure 单个文件处理失败的记录
type FileFailure struct {
	FileID string `json:"file_id"`
	Name   string `json:"name"`
	Error  string `json:"error"`
}

// BatchResult 一次交易处理的结果
// Documents和Failures都按文件列举顺序排列
type BatchResult struct {
	DealID    string                  `json:"deal_id"`
	FolderID  string                  `json:"folder_id"`
	NumFiles  int                     `json:"num_files"`
	Documents []models.ParsedDocument `json:"documents"`
	Failures  []FileFailure           `json:"failures"`
}

// Outcome 根据成功和失败数量分类
func (r *BatchResult) Outcome() Outcome {
	switch {
	case len(r.Failures) == 0:
		return OutcomeSucceeded
	case len(r.Documents) == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// Status 对应的交易记录状态
func (r *BatchResult) Status() models.DealStatus {
	if r.Outcome() == OutcomeFailed {
		return models.DealStatusFailed
	}
	return models.DealStatusCompleted
}

// DealData 转换为持久化的JSON结构
func (r *BatchResult) DealData() *models.DealData {
	return &models.DealData{DealID: r.DealID, Documents: r.Documents}
}

// ErrorSummary 汇总失败文件的错误信息
func (r *BatchResult) ErrorSummary() string {
	if len(r.Failures) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Name, f.Error))
	}
	return fmt.Sprintf("%d of %d files failed: %s", len(r.Failures), r.NumFiles, strings.Join(parts, "; "))
}

// DocumentChunks 单个文档的分块结果
type DocumentChunks struct {
	FileID   string           `json:"file_id"`
	Filename string           `json:"filename"`
	Chunks   []document.Chunk `json:"chunks"`
}

// DealService 交易服务
// 负责协调文件列举、下载、解析和结果持久化
type DealService struct {
	source      source.Source             // 文件夹来源
	parser      document.Parser           // 文档解析器
	repo        repository.DealRepository // 交易仓储
	status      *DealStatusManager        // 状态管理器
	cache       cache.Cache               // 交易数据缓存
	cacheTTL    time.Duration             // 缓存过期时间
	archive     storage.Storage           // 原始文件归档
	taskQueue   taskqueue.Queue           // 任务队列
	metrics     *metrics.Metrics          // 指标
	concurrency int                       // 单个交易内的并发文件数
	now         func() time.Time          // 时钟，用于生成交易ID
	logger      *logrus.Logger            // 日志记录器
}

// DealOption 交易服务配置选项
type DealOption func(*DealService)

// NewDealService 创建交易服务
func NewDealService(src source.Source, parser document.Parser, repo repository.DealRepository, opts ...DealOption) *DealService {
	srv := &DealService{
		source:      src,
		parser:      parser,
		repo:        repo,
		cacheTTL:    10 * time.Minute,
		concurrency: 4,
		now:         time.Now,
		logger:      logrus.New(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	if srv.status == nil {
		srv.status = NewDealStatusManager(repo, srv.logger)
	}
	return srv
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) DealOption {
	return func(s *DealService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCache 设置交易数据缓存
func WithCache(c cache.Cache, ttl time.Duration) DealOption {
	return func(s *DealService) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithArchive 设置原始文件归档存储
func WithArchive(store storage.Storage) DealOption {
	return func(s *DealService) {
		s.archive = store
	}
}

// WithTaskQueue 设置任务队列
func WithTaskQueue(queue taskqueue.Queue) DealOption {
	return func(s *DealService) {
		s.taskQueue = queue
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Metrics) DealOption {
	return func(s *DealService) {
		s.metrics = m
	}
}

// WithConcurrency 设置单个交易内的并发文件数
func WithConcurrency(n int) DealOption {
	return func(s *DealService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithStatusManager 设置状态管理器
func WithStatusManager(manager *DealStatusManager) DealOption {
	return func(s *DealService) {
		s.status = manager
	}
}

// WithClock 设置时钟
func WithClock(now func() time.Time) DealOption {
	return func(s *DealService) {
		if now != nil {
			s.now = now
		}
	}
}

// AsyncEnabled 是否可以异步处理
func (s *DealService) AsyncEnabled() bool {
	return s.taskQueue != nil
}

// NewDealID 生成交易ID: deal_<folderID>_<unix秒>
func (s *DealService) NewDealID(folderID string) string {
	return fmt.Sprintf("deal_%s_%d", folderID, s.now().Unix())
}

// ProcessDeal 同步处理一个文件夹
// 单个文件失败不会中断批处理，失败信息记录在BatchResult中
func (s *DealService) ProcessDeal(ctx context.Context, folderID string) (*BatchResult, error) {
	folderID = strings.TrimSpace(folderID)
	if folderID == "" {
		return nil, models.ErrInvalidFolderID
	}

	start := time.Now()
	dealID := s.NewDealID(folderID)
	log := s.logger.WithFields(logrus.Fields{"deal_id": dealID, "folder_id": folderID})
	log.Info("Processing deal")

	result, err := s.collect(ctx, dealID, folderID)
	if err != nil {
		log.WithError(err).Warn("Failed to collect deal documents")
		return nil, err
	}

	deal := &models.ParsedDeal{
		DealID:    dealID,
		FolderID:  folderID,
		Status:    result.Status(),
		NumFailed: len(result.Failures),
		Error:     result.ErrorSummary(),
	}
	if err := deal.SetData(result.DealData()); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, deal); err != nil {
		return nil, fmt.Errorf("failed to save deal: %w", err)
	}

	s.finish(ctx, result, time.Since(start))
	return result, nil
}

// ProcessDealWithID 处理已经创建了pending记录的交易，由异步任务调用
func (s *DealService) ProcessDealWithID(ctx context.Context, dealID, folderID string) (*BatchResult, error) {
	start := time.Now()
	if err := s.status.MarkAsProcessing(ctx, dealID); err != nil {
		return nil, err
	}

	result, err := s.collect(ctx, dealID, folderID)
	if err != nil {
		if markErr := s.status.MarkAsFailed(context.WithoutCancel(ctx), dealID, err.Error()); markErr != nil {
			s.logger.WithError(markErr).WithField("deal_id", dealID).Error("Failed to mark deal as failed")
		}
		s.invalidate(ctx, dealID)
		return nil, err
	}

	if err := s.status.MarkAsCompleted(ctx, result); err != nil {
		return nil, err
	}

	s.finish(ctx, result, time.Since(start))
	return result, nil
}

// EnqueueDeal 创建pending记录并提交异步处理任务
func (s *DealService) EnqueueDeal(ctx context.Context, folderID string) (dealID string, taskID string, err error) {
	if s.taskQueue == nil {
		return "", "", ErrQueueDisabled
	}
	folderID = strings.TrimSpace(folderID)
	if folderID == "" {
		return "", "", models.ErrInvalidFolderID
	}

	dealID = s.NewDealID(folderID)
	if err := s.status.MarkAsPending(ctx, dealID, folderID); err != nil {
		return "", "", err
	}

	payload := taskqueue.DealProcessPayload{DealID: dealID, FolderID: folderID}
	taskID, err = s.taskQueue.Enqueue(ctx, taskqueue.TaskDealProcess, dealID, payload)
	if err != nil {
		if markErr := s.status.MarkAsFailed(ctx, dealID, err.Error()); markErr != nil {
			s.logger.WithError(markErr).WithField("deal_id", dealID).Error("Failed to mark deal as failed")
		}
		return "", "", fmt.Errorf("failed to enqueue deal: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"deal_id": dealID,
		"task_id": taskID,
	}).Info("Deal processing task enqueued")
	return dealID, taskID, nil
}

// GetDeal 获取交易记录，优先读取缓存
func (s *DealService) GetDeal(ctx context.Context, dealID string) (*models.ParsedDeal, error) {
	key := cache.DealKey(dealID)
	if s.cache != nil {
		if raw, found, err := s.cache.Get(ctx, key); err == nil && found {
			var deal models.ParsedDeal
			if err := json.Unmarshal([]byte(raw), &deal); err == nil {
				return &deal, nil
			}
			s.logger.WithField("deal_id", dealID).Warn("Dropping corrupt cache entry")
		}
	}

	deal, err := s.repo.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}

	// 只缓存处理结束的交易
	if s.cache != nil && (deal.Status == models.DealStatusCompleted || deal.Status == models.DealStatusFailed) {
		if raw, err := json.Marshal(deal); err == nil {
			if err := s.cache.Set(ctx, key, string(raw), s.cacheTTL); err != nil {
				s.logger.WithError(err).WithField("deal_id", dealID).Warn("Failed to cache deal")
			}
		}
	}
	return deal, nil
}

// GetDealData 获取交易的解析结果
func (s *DealService) GetDealData(ctx context.Context, dealID string) (*models.DealData, error) {
	deal, err := s.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	return deal.Payload()
}

// ListDeals 分页列出交易
func (s *DealService) ListDeals(ctx context.Context, page, pageSize int, filter repository.DealFilter) ([]*models.ParsedDeal, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return s.repo.List(ctx, (page-1)*pageSize, pageSize, filter)
}

// DeleteDeal 删除交易记录以及相关任务和归档文件
func (s *DealService) DeleteDeal(ctx context.Context, dealID string) error {
	if err := s.repo.Delete(ctx, dealID); err != nil {
		return err
	}
	s.invalidate(ctx, dealID)

	log := s.logger.WithField("deal_id", dealID)
	if s.taskQueue != nil {
		tasks, err := s.taskQueue.GetTasksByDeal(ctx, dealID)
		if err != nil {
			log.WithError(err).Warn("Failed to list deal tasks")
		}
		for _, task := range tasks {
			if err := s.taskQueue.DeleteTask(ctx, task.ID); err != nil && !errors.Is(err, taskqueue.ErrTaskNotFound) {
				log.WithError(err).WithField("task_id", task.ID).Warn("Failed to delete deal task")
			}
		}
	}

	if s.archive != nil {
		if err := s.archive.Delete(ctx, dealID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.WithError(err).Warn("Failed to delete archived files")
		}
	}

	log.Info("Deal deleted")
	return nil
}

// ChunkDeal 将交易中每个文档的文本切分为窗口
func (s *DealService) ChunkDeal(ctx context.Context, dealID string, chunkSize, overlap int) ([]DocumentChunks, error) {
	if err := document.ValidateChunkConfig(chunkSize, overlap); err != nil {
		return nil, err
	}

	data, err := s.GetDealData(ctx, dealID)
	if err != nil {
		return nil, err
	}

	result := make([]DocumentChunks, 0, len(data.Documents))
	for _, doc := range data.Documents {
		chunks, err := document.ChunkWithOffsets(doc.Text, chunkSize, overlap)
		if err != nil {
			return nil, err
		}
		result = append(result, DocumentChunks{
			FileID:   doc.FileID,
			Filename: doc.Filename,
			Chunks:   chunks,
		})
	}
	return result, nil
}

// GetTask 获取异步任务信息
func (s *DealService) GetTask(ctx context.Context, taskID string) (*taskqueue.TaskInfo, error) {
	if s.taskQueue == nil {
		return nil, ErrQueueDisabled
	}
	task, err := s.taskQueue.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return taskqueue.NewTaskInfo(task), nil
}

// collect 列举并解析文件夹中的所有文件
func (s *DealService) collect(ctx context.Context, dealID, folderID string) (*BatchResult, error) {
	files, err := s.source.ListFiles(ctx, folderID)
	if err != nil {
		var listErr *source.ListError
		if !errors.As(err, &listErr) {
			err = &source.ListError{FolderID: folderID, Err: err}
		}
		return nil, err
	}
	if len(files) == 0 {
		return nil, models.ErrNoFiles
	}

	docs := make([]*models.ParsedDocument, len(files))
	errs := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, file := range files {
		g.Go(func() error {
			// 单个文件失败只记录，不取消其他文件
			defer func() {
				if r := recover(); r != nil {
					docs[i], errs[i] = nil, fmt.Errorf("panic while processing file: %v", r)
				}
			}()
			docs[i], errs[i] = s.processFile(gctx, dealID, i, file)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &BatchResult{
		DealID:    dealID,
		FolderID:  folderID,
		NumFiles:  len(files),
		Documents: make([]models.ParsedDocument, 0, len(files)),
		Failures:  []FileFailure{},
	}
	for i, file := range files {
		if errs[i] != nil {
			s.logger.WithFields(logrus.Fields{
				"deal_id": dealID,
				"file_id": file.ID,
				"name":    file.Name,
			}).WithError(errs[i]).Warn("Failed to process file")
			result.Failures = append(result.Failures, FileFailure{FileID: file.ID, Name: file.Name, Error: errs[i].Error()})
			continue
		}
		result.Documents = append(result.Documents, *docs[i])
	}
	return result, nil
}

// downloadDecider 由解析器决定条目是否需要下载
type downloadDecider interface {
	NeedsDownload(file models.FileMeta) bool
}

// needsDownload 解析器未实现downloadDecider时只跳过文件夹
func (s *DealService) needsDownload(file models.FileMeta) bool {
	if d, ok := s.parser.(downloadDecider); ok {
		return d.NeedsDownload(file)
	}
	return !file.IsFolder()
}

// processFile 下载并解析单个文件，不需要下载的条目直接交给解析器
func (s *DealService) processFile(ctx context.Context, dealID string, index int, file models.FileMeta) (*models.ParsedDocument, error) {
	if !s.needsDownload(file) {
		return s.parser.Parse(ctx, file, models.Blob{})
	}

	blob, err := s.source.Download(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}

	if s.archive != nil && len(blob.Data) > 0 {
		s.archiveFile(ctx, dealID, index, file, blob)
	}

	doc, err := s.parser.Parse(ctx, file, blob)
	if err != nil {
		return nil, fmt.Errorf("parse failed: %w", err)
	}
	return doc, nil
}

// archiveFile 将原始文件保存到<deal_id>/下，失败只记录日志
func (s *DealService) archiveFile(ctx context.Context, dealID string, index int, file models.FileMeta, blob models.Blob) {
	name := path.Base(strings.ReplaceAll(file.Name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	key := path.Join(dealID, fmt.Sprintf("%03d_%s", index, name))

	if _, err := s.archive.Save(ctx, key, bytes.NewReader(blob.Data)); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"deal_id": dealID,
			"key":     key,
		}).Warn("Failed to archive raw file")
	}
}

// finish 记录指标并清理缓存
func (s *DealService) finish(ctx context.Context, result *BatchResult, elapsed time.Duration) {
	outcome := result.Outcome()
	s.metrics.ObserveDeal(string(outcome), len(result.Documents), len(result.Failures), elapsed)
	s.invalidate(ctx, result.DealID)

	s.logger.WithFields(logrus.Fields{
		"deal_id":       result.DealID,
		"num_documents": len(result.Documents),
		"num_failed":    len(result.Failures),
		"outcome":       outcome,
		"elapsed":       elapsed.String(),
	}).Info("Deal processed")
}

func (s *DealService) invalidate(ctx context.Context, dealID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.DealKey(dealID)); err != nil {
		s.logger.WithError(err).WithField("deal_id", dealID).Warn("Failed to invalidate deal cache")
	}
}
