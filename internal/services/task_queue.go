package services

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/trackflow/trackflow/internal/config"
	"github.com/trackflow/trackflow/pkg/logger"
)

const (
	TaskTypeSync = "sync:execute"
)

// SyncTask carries a background sync job. The payload is only the operation
// id; the worker reloads everything else from the store so a job survives a
// process restart in Redis mode.
type SyncTask struct {
	OperationID string `json:"operation_id"`
}

// TaskQueue dispatches background sync operations.
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(task *SyncTask) error
	// IsAsync returns true if queue processes tasks on a separate worker
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// NewTaskQueue picks the queue implementation from config: Redis-backed
// asynq when enabled and reachable, otherwise an in-process goroutine queue.
func NewTaskQueue(cfg *config.Config) TaskQueue {
	if cfg.Redis.Enabled {
		queue, err := NewAsyncQueue(&cfg.Redis)
		if err != nil {
			logger.Warnf("[TaskQueue] Redis unavailable, falling back to inline mode: %v", err)
			return NewInlineQueue()
		}
		logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
		return queue
	}
	logger.Infof("[TaskQueue] Inline queue initialized (Redis disabled)")
	return NewInlineQueue()
}

// AsyncQueue implements TaskQueue using asynq (Redis-based).
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a new Redis-based async queue.
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	// Verify the connection up front so startup can fall back cleanly.
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

// Enqueue adds a sync task to the async queue.
func (q *AsyncQueue) Enqueue(task *SyncTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeSync, payload)
	// MaxRetry 0: a failed sync is terminal and never retried automatically;
	// the failure is recorded on the operation for the user to see.
	info, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Task enqueued: id=%s, operation=%s", info.ID, task.OperationID)
	return nil
}

// IsAsync returns true for async queue.
func (q *AsyncQueue) IsAsync() bool {
	return true
}

// Close closes the async queue client.
func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// InlineQueue implements TaskQueue in-process: each task runs on its own
// goroutine. Sufficient for single-instance deployments without Redis.
type InlineQueue struct {
	processor func(context.Context, *SyncTask) error
}

// NewInlineQueue creates a new in-process queue.
func NewInlineQueue() *InlineQueue {
	return &InlineQueue{}
}

// SetProcessor sets the function that executes tasks.
func (q *InlineQueue) SetProcessor(processor func(context.Context, *SyncTask) error) {
	q.processor = processor
}

// Enqueue runs the task on a detached goroutine so the triggering request
// returns immediately.
func (q *InlineQueue) Enqueue(task *SyncTask) error {
	if q.processor == nil {
		logger.Warnf("[InlineQueue] no processor set, task %s dropped", task.OperationID)
		return nil
	}

	go func() {
		if err := q.processor(context.Background(), task); err != nil {
			logger.Errorf("[InlineQueue] task %s failed: %v", task.OperationID, err)
		}
	}()

	return nil
}

// IsAsync returns false for the in-process queue.
func (q *InlineQueue) IsAsync() bool {
	return false
}

// Close is a no-op for the in-process queue.
func (q *InlineQueue) Close() error {
	return nil
}
