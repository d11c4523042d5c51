package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"cfdb/internal/model"
)

// StaleLockThreshold is how long a held lock may run before another
// request is allowed to steal it. Covers orphaned locks left behind by
// a crashed process.
const StaleLockThreshold = time.Hour

// Cutover wait bounds: how long a query will pause on an active cutover,
// and how often it re-checks the lock document.
const (
	CutoverWaitTimeout  = 60 * time.Second
	CutoverPollInterval = 100 * time.Millisecond
)

// LockRepository manages the singleton ingest lock document.
type LockRepository interface {
	// EnsureLock provisions the inert lock document if it does not exist.
	EnsureLock(ctx context.Context) error
	// TryAcquire atomically claims the lock for taskID. Returns false
	// without error when another task holds a fresh lock.
	TryAcquire(ctx context.Context, taskID string, dccNames []string) (bool, error)
	// Release marks the lock inactive if taskID still owns it.
	Release(ctx context.Context, taskID string) error
	// Get reads the current lock state.
	Get(ctx context.Context) (*model.SyncLock, error)
	// AcquireCutover raises the cutover lock while dccName's live records
	// are being swapped. Not contended: only the sync-lock holder calls it.
	AcquireCutover(ctx context.Context, dccName string) error
	// ReleaseCutover lowers the cutover lock.
	ReleaseCutover(ctx context.Context) error
	// WaitForCutover blocks until no cutover is in progress, polling the
	// lock document. Returns an error after CutoverWaitTimeout.
	WaitForCutover(ctx context.Context) error
}

type lockRepository struct {
	db *mongo.Database
}

// NewLockRepository creates a LockRepository over the given database.
func NewLockRepository(db *mongo.Database) LockRepository {
	return &lockRepository{db: db}
}

func (r *lockRepository) coll() *mongo.Collection {
	return r.db.Collection(model.CollLocks)
}

func (r *lockRepository) EnsureLock(ctx context.Context) error {
	_, err := r.coll().UpdateOne(ctx,
		bson.D{{Key: "_id", Value: model.SyncLockID}},
		bson.D{{Key: "$setOnInsert", Value: bson.D{{Key: "active", Value: false}}}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *lockRepository) TryAcquire(ctx context.Context, taskID string, dccNames []string) (bool, error) {
	staleBefore := time.Now().UTC().Add(-StaleLockThreshold)

	// Claim succeeds when the lock is free, missing its flag, or stale.
	filter := bson.D{
		{Key: "_id", Value: model.SyncLockID},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "active", Value: false}},
			bson.D{{Key: "active", Value: bson.D{{Key: "$exists", Value: false}}}},
			bson.D{{Key: "started_at", Value: bson.D{{Key: "$lt", Value: staleBefore}}}},
		}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "active", Value: true},
		{Key: "task_id", Value: taskID},
		{Key: "dcc_names", Value: dccNames},
		{Key: "started_at", Value: time.Now().UTC()},
		{Key: "completed_at", Value: nil},
	}}}

	var updated model.SyncLock
	err := r.coll().FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		// A duplicate key error means two requests raced the upsert and
		// the other one won; treat it the same as a held lock.
		if mongo.IsDuplicateKeyError(err) || errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}
	return updated.TaskID == taskID, nil
}

func (r *lockRepository) Release(ctx context.Context, taskID string) error {
	_, err := r.coll().UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: model.SyncLockID},
			{Key: "task_id", Value: taskID},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "active", Value: false},
			{Key: "completed_at", Value: time.Now().UTC()},
		}}},
	)
	return err
}

func (r *lockRepository) AcquireCutover(ctx context.Context, dccName string) error {
	_, err := r.coll().UpdateOne(ctx,
		bson.D{{Key: "_id", Value: model.CutoverLockID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "active", Value: true},
			{Key: "dcc", Value: dccName},
			{Key: "started_at", Value: time.Now().UTC()},
		}}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *lockRepository) ReleaseCutover(ctx context.Context) error {
	_, err := r.coll().UpdateOne(ctx,
		bson.D{{Key: "_id", Value: model.CutoverLockID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "active", Value: false},
			{Key: "completed_at", Value: time.Now().UTC()},
		}}},
	)
	return err
}

func (r *lockRepository) WaitForCutover(ctx context.Context) error {
	deadline := time.Now().Add(CutoverWaitTimeout)
	for {
		var lock model.SyncLock
		err := r.coll().FindOne(ctx, bson.D{{Key: "_id", Value: model.CutoverLockID}}).Decode(&lock)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil
		}
		if err != nil {
			return err
		}
		if !lock.Active {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("cutover lock held for more than %s", CutoverWaitTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(CutoverPollInterval):
		}
	}
}

func (r *lockRepository) Get(ctx context.Context) (*model.SyncLock, error) {
	var lock model.SyncLock
	err := r.coll().FindOne(ctx, bson.D{{Key: "_id", Value: model.SyncLockID}}).Decode(&lock)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}
