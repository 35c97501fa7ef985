package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyerfyer/deal-ai/internal/cache"
	"github.com/fyerfyer/deal-ai/internal/document"
	"github.com/fyerfyer/deal-ai/internal/metrics"
	"github.com/fyerfyer/deal-ai/internal/models"
	"github.com/fyerfyer/deal-ai/internal/repository"
	"github.com/fyerfyer/deal-ai/internal/source"
	"github.com/fyerfyer/deal-ai/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1700000000, 0)

func fixedClock() time.Time { return fixedNow }

// dealFolder 一个包含成功、文件夹和失败条目的文件夹
func dealFolder() *fakeSource {
	src := newFakeSource()
	src.add("folder-1", models.FileMeta{ID: "f1", Name: "notes.txt", MimeType: "text/plain"}, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	src.add("folder-1", models.FileMeta{ID: "f2", Name: "Legal", MimeType: models.MimeTypeFolder}, "")
	src.add("folder-1", models.FileMeta{ID: "f3", Name: "broken.pdf", MimeType: "application/pdf"}, "not a pdf")
	src.add("folder-1", models.FileMeta{ID: "f4", Name: "missing.txt", MimeType: "text/plain"}, "")
	src.downloadErrs["f4"] = errors.New("permission denied")
	return src
}

func newTestService(t *testing.T, src source.Source, opts ...DealOption) (*DealService, repository.DealRepository) {
	repo := newTestRepo(t)
	opts = append([]DealOption{WithLogger(quietLogger()), WithClock(fixedClock)}, opts...)
	return NewDealService(src, document.NewDocumentParser(), repo, opts...), repo
}

func TestBatchResultOutcome(t *testing.T) {
	doc := *models.NewParsedDocument("a.txt", "a")
	failure := FileFailure{FileID: "b", Name: "b.pdf", Error: "boom"}

	tests := []struct {
		name     string
		result   BatchResult
		expected Outcome
		status   models.DealStatus
	}{
		{"all parsed", BatchResult{Documents: []models.ParsedDocument{doc}}, OutcomeSucceeded, models.DealStatusCompleted},
		{"some failed", BatchResult{Documents: []models.ParsedDocument{doc}, Failures: []FileFailure{failure}}, OutcomePartial, models.DealStatusCompleted},
		{"all failed", BatchResult{Failures: []FileFailure{failure}}, OutcomeFailed, models.DealStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.Outcome())
			assert.Equal(t, tt.status, tt.result.Status())
		})
	}

	r := BatchResult{NumFiles: 2, Documents: []models.ParsedDocument{doc}, Failures: []FileFailure{failure}}
	assert.Equal(t, "1 of 2 files failed: b.pdf: boom", r.ErrorSummary())
}

func TestDealService_ProcessDeal(t *testing.T) {
	archive, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	svc, repo := newTestService(t, dealFolder(), WithArchive(archive), WithMetrics(metrics.New()), WithConcurrency(2))
	ctx := context.Background()

	result, err := svc.ProcessDeal(ctx, "folder-1")
	require.NoError(t, err)

	assert.Equal(t, "deal_folder-1_1700000000", result.DealID)
	assert.Equal(t, 4, result.NumFiles)
	assert.Equal(t, OutcomePartial, result.Outcome())

	// 保持列举顺序
	require.Len(t, result.Documents, 2)
	assert.Equal(t, "notes.txt", result.Documents[0].Filename)
	assert.Equal(t, "ABCDEFGHIJKLMNOPQRSTUVWXYZ", result.Documents[0].Text)
	assert.Equal(t, "Legal", result.Documents[1].Filename)
	assert.Empty(t, result.Documents[1].Text)

	require.Len(t, result.Failures, 2)
	assert.Equal(t, "f3", result.Failures[0].FileID)
	assert.Contains(t, result.Failures[0].Error, "parse failed")
	assert.Equal(t, "f4", result.Failures[1].FileID)
	assert.Contains(t, result.Failures[1].Error, "permission denied")

	saved, err := repo.GetByID(ctx, result.DealID)
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCompleted, saved.Status)
	assert.Equal(t, "folder-1", saved.FolderID)
	assert.Equal(t, 2, saved.NumDocuments)
	assert.Equal(t, 2, saved.NumFailed)
	assert.Contains(t, saved.Error, "2 of 4 files failed")

	payload, err := saved.Payload()
	require.NoError(t, err)
	assert.Equal(t, result.DealID, payload.DealID)
	assert.Len(t, payload.Documents, 2)

	// 下载成功的原始文件被归档
	exists, err := archive.Exists(ctx, result.DealID+"/000_notes.txt")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = archive.Exists(ctx, result.DealID+"/002_broken.pdf")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDealService_ProcessDealErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty folder id", func(t *testing.T) {
		svc, _ := newTestService(t, newFakeSource())
		_, err := svc.ProcessDeal(ctx, "  ")
		assert.ErrorIs(t, err, models.ErrInvalidFolderID)
	})

	t.Run("list failure", func(t *testing.T) {
		src := newFakeSource()
		src.listErr = errors.New("folder not found")
		svc, _ := newTestService(t, src)

		_, err := svc.ProcessDeal(ctx, "nope")
		var listErr *source.ListError
		require.True(t, errors.As(err, &listErr))
		assert.Equal(t, "nope", listErr.FolderID)
	})

	t.Run("no files", func(t *testing.T) {
		svc, repo := newTestService(t, newFakeSource())
		_, err := svc.ProcessDeal(ctx, "empty")
		assert.ErrorIs(t, err, models.ErrNoFiles)

		_, total, err := repo.List(ctx, 0, 10, repository.DealFilter{})
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("duplicate deal id", func(t *testing.T) {
		svc, _ := newTestService(t, dealFolder())
		_, err := svc.ProcessDeal(ctx, "folder-1")
		require.NoError(t, err)

		_, err = svc.ProcessDeal(ctx, "folder-1")
		assert.ErrorIs(t, err, models.ErrDealExists)
	})

	t.Run("every file fails", func(t *testing.T) {
		src := newFakeSource()
		src.add("bad", models.FileMeta{ID: "x", Name: "x.pdf", MimeType: "application/pdf"}, "garbage")
		svc, repo := newTestService(t, src)

		result, err := svc.ProcessDeal(ctx, "bad")
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, result.Outcome())
		assert.Empty(t, result.Documents)

		saved, err := repo.GetByID(ctx, result.DealID)
		require.NoError(t, err)
		assert.Equal(t, models.DealStatusFailed, saved.Status)
	})

	t.Run("cancelled context", func(t *testing.T) {
		svc, _ := newTestService(t, dealFolder())
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := svc.ProcessDeal(cctx, "folder-1")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDealService_GetDealCached(t *testing.T) {
	memCache, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	svc, repo := newTestService(t, dealFolder(), WithCache(memCache, time.Minute))
	ctx := context.Background()

	result, err := svc.ProcessDeal(ctx, "folder-1")
	require.NoError(t, err)

	deal, err := svc.GetDeal(ctx, result.DealID)
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCompleted, deal.Status)

	_, found, err := memCache.Get(ctx, cache.DealKey(result.DealID))
	require.NoError(t, err)
	assert.True(t, found)

	// 绕过服务删除记录，缓存仍然命中
	require.NoError(t, repo.Delete(ctx, result.DealID))
	data, err := svc.GetDealData(ctx, result.DealID)
	require.NoError(t, err)
	assert.Len(t, data.Documents, 2)

	_, err = svc.GetDeal(ctx, "deal_unknown")
	assert.ErrorIs(t, err, models.ErrDealNotFound)
}

func TestDealService_ListAndDelete(t *testing.T) {
	archive, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)
	memCache, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)
	queue := newFakeQueue()

	src := dealFolder()
	src.add("folder-2", models.FileMeta{ID: "g1", Name: "memo.txt", MimeType: "text/plain"}, "memo")
	svc, _ := newTestService(t, src, WithArchive(archive), WithCache(memCache, 0), WithTaskQueue(queue))
	ctx := context.Background()

	first, err := svc.ProcessDeal(ctx, "folder-1")
	require.NoError(t, err)
	_, err = svc.ProcessDeal(ctx, "folder-2")
	require.NoError(t, err)

	deals, total, err := svc.ListDeals(ctx, 1, 10, repository.DealFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, deals, 2)

	deals, total, err = svc.ListDeals(ctx, 0, 0, repository.DealFilter{FolderID: "folder-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, deals, 1)
	assert.Equal(t, "folder-2", deals[0].FolderID)

	_, err = svc.GetDeal(ctx, first.DealID)
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, "deal_process", first.DealID, nil)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDeal(ctx, first.DealID))

	_, err = svc.GetDeal(ctx, first.DealID)
	assert.ErrorIs(t, err, models.ErrDealNotFound)

	tasks, err := queue.GetTasksByDeal(ctx, first.DealID)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	exists, err := archive.Exists(ctx, first.DealID)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, svc.DeleteDeal(ctx, first.DealID), models.ErrDealNotFound)
}

func TestDealService_ChunkDeal(t *testing.T) {
	svc, _ := newTestService(t, dealFolder())
	ctx := context.Background()

	result, err := svc.ProcessDeal(ctx, "folder-1")
	require.NoError(t, err)

	docs, err := svc.ChunkDeal(ctx, result.DealID, 10, 4)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "f1", docs[0].FileID)
	texts := make([]string, 0, len(docs[0].Chunks))
	for _, c := range docs[0].Chunks {
		texts = append(texts, c.Text)
	}
	assert.Equal(t, []string{"ABCDEFGHIJ", "GHIJKLMNOP", "MNOPQRSTUV", "STUVWXYZ", "YZ"}, texts)
	assert.Equal(t, 6, docs[0].Chunks[1].Start)

	// 文件夹条目没有文本
	assert.Empty(t, docs[1].Chunks)

	_, err = svc.ChunkDeal(ctx, result.DealID, 10, 10)
	assert.ErrorIs(t, err, document.ErrInvalidChunkConfig)

	_, err = svc.ChunkDeal(ctx, "deal_missing", 10, 2)
	assert.ErrorIs(t, err, models.ErrDealNotFound)
}

func TestDealService_EnqueueDeal(t *testing.T) {
	ctx := context.Background()

	t.Run("queue disabled", func(t *testing.T) {
		svc, _ := newTestService(t, dealFolder())
		assert.False(t, svc.AsyncEnabled())
		_, _, err := svc.EnqueueDeal(ctx, "folder-1")
		assert.ErrorIs(t, err, ErrQueueDisabled)

		_, err = svc.GetTask(ctx, "t")
		assert.ErrorIs(t, err, ErrQueueDisabled)
	})

	t.Run("creates pending deal and task", func(t *testing.T) {
		queue := newFakeQueue()
		svc, repo := newTestService(t, dealFolder(), WithTaskQueue(queue))

		dealID, taskID, err := svc.EnqueueDeal(ctx, "folder-1")
		require.NoError(t, err)
		assert.Equal(t, "deal_folder-1_1700000000", dealID)

		saved, err := repo.GetByID(ctx, dealID)
		require.NoError(t, err)
		assert.Equal(t, models.DealStatusPending, saved.Status)

		info, err := svc.GetTask(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, dealID, info.DealID)
	})

	t.Run("enqueue failure marks deal failed", func(t *testing.T) {
		queue := newFakeQueue()
		queue.enqueueErr = errors.New("redis down")
		svc, repo := newTestService(t, dealFolder(), WithTaskQueue(queue))

		_, _, err := svc.EnqueueDeal(ctx, "folder-1")
		require.Error(t, err)

		saved, err := repo.GetByID(ctx, "deal_folder-1_1700000000")
		require.NoError(t, err)
		assert.Equal(t, models.DealStatusFailed, saved.Status)
		assert.Equal(t, "redis down", saved.Error)
	})
}

func TestDealService_ProcessDealWithID(t *testing.T) {
	ctx := context.Background()
	queue := newFakeQueue()
	svc, repo := newTestService(t, dealFolder(), WithTaskQueue(queue))

	dealID, _, err := svc.EnqueueDeal(ctx, "folder-1")
	require.NoError(t, err)

	result, err := svc.ProcessDealWithID(ctx, dealID, "folder-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, result.Outcome())

	saved, err := repo.GetByID(ctx, dealID)
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCompleted, saved.Status)
	assert.Equal(t, 2, saved.NumDocuments)

	// 已完成的交易不能再次处理
	_, err = svc.ProcessDealWithID(ctx, dealID, "folder-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// 列举失败时记录错误
	dealID2 := "deal_empty_1"
	require.NoError(t, svc.status.MarkAsPending(ctx, dealID2, "empty"))
	_, err = svc.ProcessDealWithID(ctx, dealID2, "empty")
	assert.ErrorIs(t, err, models.ErrNoFiles)

	saved, err = repo.GetByID(ctx, dealID2)
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusFailed, saved.Status)
	assert.Equal(t, models.ErrNoFiles.Error(), saved.Error)
}

// panickingParser 对指定文件名panic，其余交给默认解析器
type panickingParser struct {
	document.Parser
	name string
}

func (p panickingParser) Parse(ctx context.Context, file models.FileMeta, blob models.Blob) (*models.ParsedDocument, error) {
	if file.Name == p.name {
		panic("corrupt xref table")
	}
	return p.Parser.Parse(ctx, file, blob)
}

// skippingParser 指定文件不需要下载
type skippingParser struct {
	document.Parser
	skip string
}

func (p skippingParser) NeedsDownload(file models.FileMeta) bool {
	return file.Name != p.skip
}

func TestDealService_ParserPanicBecomesFailure(t *testing.T) {
	src := newFakeSource()
	src.add("folder-1", models.FileMeta{ID: "f1", Name: "notes.txt", MimeType: "text/plain"}, "hello")
	src.add("folder-1", models.FileMeta{ID: "f2", Name: "bad.pdf", MimeType: "application/pdf"}, "%PDF-1.4")

	svc := NewDealService(src, panickingParser{Parser: document.NewDocumentParser(), name: "bad.pdf"},
		newTestRepo(t), WithLogger(quietLogger()), WithClock(fixedClock), WithConcurrency(2))

	result, err := svc.ProcessDeal(context.Background(), "folder-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, result.Outcome())
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "notes.txt", result.Documents[0].Filename)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "f2", result.Failures[0].FileID)
	assert.Contains(t, result.Failures[0].Error, "corrupt xref table")
}

func TestDealService_ParserDecidesDownload(t *testing.T) {
	src := newFakeSource()
	src.add("folder-1", models.FileMeta{ID: "f1", Name: "shortcut.lnk", MimeType: "application/octet-stream"}, "")
	src.downloadErrs["f1"] = errors.New("download not allowed")

	svc := NewDealService(src, skippingParser{Parser: document.NewDocumentParser(), skip: "shortcut.lnk"},
		newTestRepo(t), WithLogger(quietLogger()), WithClock(fixedClock))

	result, err := svc.ProcessDeal(context.Background(), "folder-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, result.Outcome())
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "shortcut.lnk", result.Documents[0].Filename)
	assert.Empty(t, result.Documents[0].Text)
}
