package taskqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupQueue 使用miniredis创建队列实例
func setupQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	queue, err := NewRedisQueue(&Config{
		RedisAddr:   mr.Addr(),
		Concurrency: 2,
		RetryLimit:  2,
		RetryDelay:  time.Second,
		TaskTimeout: time.Minute,
	}, WithQueueLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = queue.Close() })
	return queue, mr
}

func TestNewRedisQueue(t *testing.T) {
	queue, _ := setupQueue(t)
	assert.NotNil(t, queue)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := NewRedisQueue(&Config{RedisAddr: addr})
	assert.Error(t, err)
}

func TestRedisQueue_Enqueue(t *testing.T) {
	queue, mr := setupQueue(t)
	ctx := context.Background()

	payload := DealProcessPayload{DealID: "deal_folder_1", FolderID: "folder"}
	taskID, err := queue.Enqueue(ctx, TaskDealProcess, payload.DealID, payload)
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, TaskDealProcess, task.Type)
	assert.Equal(t, "deal_folder_1", task.DealID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, 2, task.MaxRetries)

	var decoded DealProcessPayload
	require.NoError(t, UnmarshalPayload(task.Payload, &decoded))
	assert.Equal(t, payload, decoded)

	// 任务记录带过期时间
	assert.True(t, mr.TTL(taskKeyPrefix+taskID) > 0)

	// asynq中以相同ID排队
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer inspector.Close()
	info, err := inspector.GetTaskInfo(defaultQueueName, taskID)
	require.NoError(t, err)
	assert.Equal(t, string(TaskDealProcess), info.Type)
	assert.Equal(t, taskID, string(info.Payload))
}

func TestRedisQueue_EnqueueIn(t *testing.T) {
	queue, mr := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.EnqueueIn(ctx, TaskDealProcess, "deal_later", DealProcessPayload{DealID: "deal_later"}, time.Hour)
	require.NoError(t, err)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer inspector.Close()
	info, err := inspector.GetTaskInfo(defaultQueueName, taskID)
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStateScheduled, info.State)
}

func TestRedisQueue_GetTaskNotFound(t *testing.T) {
	queue, _ := setupQueue(t)

	_, err := queue.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRedisQueue_GetTasksByDeal(t *testing.T) {
	queue, _ := setupQueue(t)
	ctx := context.Background()

	first, err := queue.Enqueue(ctx, TaskDealProcess, "deal_a", nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := queue.Enqueue(ctx, TaskDealProcess, "deal_a", nil)
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, TaskDealProcess, "deal_b", nil)
	require.NoError(t, err)

	tasks, err := queue.GetTasksByDeal(ctx, "deal_a")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, first, tasks[0].ID)
	assert.Equal(t, second, tasks[1].ID)

	tasks, err = queue.GetTasksByDeal(ctx, "deal_none")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRedisQueue_UpdateTaskStatus(t *testing.T) {
	queue, _ := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskDealProcess, "deal_s", nil)
	require.NoError(t, err)

	require.NoError(t, queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""))
	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.NotNil(t, task.StartedAt)
	assert.Nil(t, task.CompletedAt)

	result := DealProcessResult{DealID: "deal_s", NumDocuments: 3, NumFailed: 1, Outcome: "partial"}
	require.NoError(t, queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, ""))
	task, err = queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.NotNil(t, task.CompletedAt)

	var decoded DealProcessResult
	require.NoError(t, UnmarshalPayload(task.Result, &decoded))
	assert.Equal(t, result, decoded)

	info := NewTaskInfo(task)
	assert.Equal(t, 100.0, info.Progress)
	assert.Equal(t, "deal_s", info.DealID)

	assert.ErrorIs(t, queue.UpdateTaskStatus(ctx, "missing", StatusFailed, nil, "x"), ErrTaskNotFound)
}

func TestRedisQueue_DeleteTask(t *testing.T) {
	queue, mr := setupQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskDealProcess, "deal_d", nil)
	require.NoError(t, err)

	require.NoError(t, queue.DeleteTask(ctx, taskID))
	_, err = queue.GetTask(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	tasks, err := queue.GetTasksByDeal(ctx, "deal_d")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer inspector.Close()
	_, err = inspector.GetTaskInfo(defaultQueueName, taskID)
	assert.Error(t, err)

	assert.ErrorIs(t, queue.DeleteTask(ctx, taskID), ErrTaskNotFound)
}

func TestRedisQueue_NotifyTaskUpdate(t *testing.T) {
	queue, mr := setupQueue(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sub := client.Subscribe(ctx, taskStatusChannelPrefix+"task-1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, queue.NotifyTaskUpdate(ctx, "task-1"))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "updated", msg.Payload)
}

func TestNewQueueFactory(t *testing.T) {
	mr := miniredis.RunT(t)

	queue, err := NewQueue("redis", &Config{RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisQueue{}, queue)
	_ = queue.Close()

	_, err = NewQueue("unknown", DefaultConfig())
	assert.Error(t, err)
}

// mockHandler 记录调用并返回预设结果
type mockHandler struct {
	result interface{}
	err    error
	calls  int
}

func (h *mockHandler) ProcessTask(ctx context.Context, task *Task) (interface{}, error) {
	h.calls++
	return h.result, h.err
}

func (h *mockHandler) GetTaskTypes() []TaskType {
	return []TaskType{TaskDealProcess}
}

func newTestWorker(queue *RedisQueue, handler Handler) *RedisWorker {
	w := NewRedisWorker(queue, nil)
	w.RegisterHandler(TaskDealProcess, handler)
	return w
}

func TestRedisWorker_ProcessTask(t *testing.T) {
	queue, _ := setupQueue(t)
	ctx := context.Background()

	t.Run("success stores result", func(t *testing.T) {
		handler := &mockHandler{result: DealProcessResult{DealID: "deal_w", NumDocuments: 2, Outcome: "succeeded"}}
		w := newTestWorker(queue, handler)

		taskID, err := queue.Enqueue(ctx, TaskDealProcess, "deal_w", DealProcessPayload{DealID: "deal_w"})
		require.NoError(t, err)

		require.NoError(t, w.processTask(ctx, asynq.NewTask(string(TaskDealProcess), []byte(taskID))))
		assert.Equal(t, 1, handler.calls)

		task, err := queue.GetTask(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, task.Status)
		assert.Equal(t, 1, task.Attempts)

		var result DealProcessResult
		require.NoError(t, UnmarshalPayload(task.Result, &result))
		assert.Equal(t, 2, result.NumDocuments)
	})

	t.Run("handler failure marks task failed", func(t *testing.T) {
		handler := &mockHandler{err: errors.New("drive unavailable")}
		w := newTestWorker(queue, handler)

		taskID, err := queue.Enqueue(ctx, TaskDealProcess, "deal_f", nil)
		require.NoError(t, err)

		err = w.processTask(ctx, asynq.NewTask(string(TaskDealProcess), []byte(taskID)))
		assert.Error(t, err)

		task, err := queue.GetTask(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, task.Status)
		assert.Equal(t, "drive unavailable", task.Error)
	})

	t.Run("invalid payload skips retry", func(t *testing.T) {
		handler := &mockHandler{err: ErrInvalidPayload}
		w := newTestWorker(queue, handler)

		taskID, err := queue.Enqueue(ctx, TaskDealProcess, "deal_p", nil)
		require.NoError(t, err)

		err = w.processTask(ctx, asynq.NewTask(string(TaskDealProcess), []byte(taskID)))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("deleted task skips retry", func(t *testing.T) {
		handler := &mockHandler{}
		w := newTestWorker(queue, handler)

		err := w.processTask(ctx, asynq.NewTask(string(TaskDealProcess), []byte("gone")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
		assert.Zero(t, handler.calls)
	})

	t.Run("unknown task type", func(t *testing.T) {
		w := newTestWorker(queue, &mockHandler{})
		err := w.processTask(ctx, asynq.NewTask("other", []byte("x")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})
}

func TestSortTasks(t *testing.T) {
	now := time.Now()
	tasks := []*Task{
		{ID: "c", CreatedAt: now.Add(time.Second)},
		{ID: "b", CreatedAt: now},
		{ID: "a", CreatedAt: now},
	}
	sortTasks(tasks)
	assert.Equal(t, "a", tasks[0].ID)
	assert.Equal(t, "b", tasks[1].ID)
	assert.Equal(t, "c", tasks[2].ID)
}
