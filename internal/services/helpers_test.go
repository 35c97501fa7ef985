package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fyerfyer/deal-ai/internal/database"
	"github.com/fyerfyer/deal-ai/internal/models"
	"github.com/fyerfyer/deal-ai/internal/repository"
	"github.com/fyerfyer/deal-ai/pkg/taskqueue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB 创建独立的内存数据库
func setupTestDB(t *testing.T) *gorm.DB {
	dbName := fmt.Sprintf("file:services_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func newTestRepo(t *testing.T) repository.DealRepository {
	return repository.NewDealRepository(setupTestDB(t))
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// fakeSource 内存中的文件夹来源
type fakeSource struct {
	folders      map[string][]models.FileMeta
	blobs        map[string]models.Blob
	listErr      error
	downloadErrs map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		folders:      make(map[string][]models.FileMeta),
		blobs:        make(map[string]models.Blob),
		downloadErrs: make(map[string]error),
	}
}

func (s *fakeSource) add(folder string, file models.FileMeta, data string) {
	s.folders[folder] = append(s.folders[folder], file)
	if !file.IsFolder() {
		s.blobs[file.ID] = models.Blob{Data: []byte(data), MimeType: file.MimeType}
	}
}

func (s *fakeSource) ListFiles(ctx context.Context, folderID string) ([]models.FileMeta, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.folders[folderID], nil
}

func (s *fakeSource) Download(ctx context.Context, file models.FileMeta) (models.Blob, error) {
	if err, ok := s.downloadErrs[file.ID]; ok {
		return models.Blob{}, err
	}
	blob, ok := s.blobs[file.ID]
	if !ok {
		return models.Blob{}, errors.New("file not found")
	}
	return blob, nil
}

// fakeQueue 内存任务队列
type fakeQueue struct {
	mu         sync.Mutex
	tasks      map[string]*taskqueue.Task
	enqueueErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{tasks: make(map[string]*taskqueue.Task)}
}

func (q *fakeQueue) Enqueue(ctx context.Context, taskType taskqueue.TaskType, dealID string, payload interface{}) (string, error) {
	if q.enqueueErr != nil {
		return "", q.enqueueErr
	}
	raw, err := taskqueue.MarshalPayload(payload)
	if err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	task := &taskqueue.Task{
		ID:        uuid.New().String(),
		Type:      taskType,
		DealID:    dealID,
		Status:    taskqueue.StatusPending,
		Payload:   raw,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	q.tasks[task.ID] = task
	return task.ID, nil
}

func (q *fakeQueue) EnqueueIn(ctx context.Context, taskType taskqueue.TaskType, dealID string, payload interface{}, delay time.Duration) (string, error) {
	return q.Enqueue(ctx, taskType, dealID, payload)
}

func (q *fakeQueue) GetTask(ctx context.Context, taskID string) (*taskqueue.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[taskID]
	if !ok {
		return nil, taskqueue.ErrTaskNotFound
	}
	copied := *task
	return &copied, nil
}

func (q *fakeQueue) GetTasksByDeal(ctx context.Context, dealID string) ([]*taskqueue.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var tasks []*taskqueue.Task
	for _, task := range q.tasks {
		if task.DealID == dealID {
			copied := *task
			tasks = append(tasks, &copied)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

func (q *fakeQueue) DeleteTask(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.tasks[taskID]; !ok {
		return taskqueue.ErrTaskNotFound
	}
	delete(q.tasks, taskID)
	return nil
}

func (q *fakeQueue) UpdateTaskStatus(ctx context.Context, taskID string, status taskqueue.TaskStatus, result interface{}, errorMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[taskID]
	if !ok {
		return taskqueue.ErrTaskNotFound
	}
	task.Status = status
	task.Error = errorMsg
	return nil
}

func (q *fakeQueue) NotifyTaskUpdate(ctx context.Context, taskID string) error { return nil }

func (q *fakeQueue) Close() error { return nil }
