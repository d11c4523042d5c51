package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"cfdb/internal/model"
)

const (
	taskKeyPrefix = "sync:task:"
	taskLatestKey = "sync:latest"
	taskTTL       = 24 * time.Hour
)

// TaskRepository keeps sync task status records. Records expire after a
// day; the lock document in the store remains the durable source of
// truth for mutual exclusion.
type TaskRepository interface {
	Save(ctx context.Context, task *model.SyncTask) error
	Get(ctx context.Context, taskID string) (*model.SyncTask, error)
	Latest(ctx context.Context) (*model.SyncTask, error)
}

type taskRepository struct {
	rdb *redis.Client
}

// NewTaskRepository creates a TaskRepository over the given Redis client.
func NewTaskRepository(rdb *redis.Client) TaskRepository {
	return &taskRepository{rdb: rdb}
}

func (r *taskRepository) Save(ctx context.Context, task *model.SyncTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, taskKeyPrefix+task.ID, payload, taskTTL)
	pipe.Set(ctx, taskLatestKey, task.ID, taskTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save sync task %s: %w", task.ID, err)
	}
	return nil
}

func (r *taskRepository) Get(ctx context.Context, taskID string) (*model.SyncTask, error) {
	payload, err := r.rdb.Get(ctx, taskKeyPrefix+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var task model.SyncTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) Latest(ctx context.Context) (*model.SyncTask, error) {
	taskID, err := r.rdb.Get(ctx, taskLatestKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, taskID)
}
