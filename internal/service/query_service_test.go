package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"cfdb/internal/apperr"
	"cfdb/internal/catalog"
	"cfdb/internal/model"
)

// queryFilesRepo returns canned aggregation results and records call order
// against a shared event log.
type queryFilesRepo struct {
	mu      sync.Mutex
	events  []string
	results []bson.M
}

func (r *queryFilesRepo) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *queryFilesRepo) Aggregate(ctx context.Context, pipeline []bson.D) ([]bson.M, error) {
	r.record("aggregate")
	return r.results, nil
}

func (r *queryFilesRepo) FindFileByKey(ctx context.Context, idNamespace, localID string) (*model.File, error) {
	return nil, nil
}

func (r *queryFilesRepo) FindDCCByAbbreviation(ctx context.Context, abbreviation string) (*model.DCC, error) {
	return nil, nil
}

func (r *queryFilesRepo) ParseID(id string) (bson.D, error) {
	return bson.D{{Key: "_id", Value: id}}, nil
}

// orderedLocks is a lock repository whose cutover wait logs into the file
// repo's event stream.
type orderedLocks struct {
	memLockRepo
	repo    *queryFilesRepo
	waitErr error
}

func (l *orderedLocks) WaitForCutover(ctx context.Context) error {
	l.repo.record("wait")
	return l.waitErr
}

func TestFilesWaitsForCutoverBeforeReading(t *testing.T) {
	repo := &queryFilesRepo{results: []bson.M{{"filename": "a.bam"}}}
	locks := &orderedLocks{repo: repo}
	svc := NewQueryService(repo, locks, catalog.Default())

	results, err := svc.Files(context.Background(), nil, nil, 0, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, []string{"wait", "aggregate"}, repo.events)
}

func TestFilesCutoverWaitTimeoutSurfaces(t *testing.T) {
	repo := &queryFilesRepo{}
	locks := &orderedLocks{repo: repo, waitErr: errors.New("cutover lock held too long")}
	svc := NewQueryService(repo, locks, catalog.Default())

	_, err := svc.Files(context.Background(), nil, nil, 0, 10)
	require.True(t, apperr.Is(err, apperr.Timeout))
	require.NotContains(t, repo.events, "aggregate")
}

func TestFileWaitsForCutoverBeforeReading(t *testing.T) {
	repo := &queryFilesRepo{results: []bson.M{{"filename": "a.bam"}}}
	locks := &orderedLocks{repo: repo}
	svc := NewQueryService(repo, locks, catalog.Default())

	doc, err := svc.File(context.Background(), "abc", nil)
	require.NoError(t, err)
	require.Equal(t, "a.bam", doc["filename"])
	require.Equal(t, []string{"wait", "aggregate"}, repo.events)
}

func TestQueryBlocksWhileCutoverHeld(t *testing.T) {
	repo := &queryFilesRepo{results: []bson.M{}}
	locks := &memLockRepo{}
	require.NoError(t, locks.AcquireCutover(context.Background(), "hubmap"))
	svc := NewQueryService(repo, locks, catalog.Default())

	done := make(chan error, 1)
	go func() {
		_, err := svc.Files(context.Background(), nil, nil, 0, 10)
		done <- err
	}()

	// The query must still be parked while the swap is in progress.
	select {
	case <-done:
		t.Fatal("query returned while cutover lock was held")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, locks.ReleaseCutover(context.Background()))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("query did not resume after cutover release")
	}
}
