package service

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"cfdb/internal/apperr"
	"cfdb/internal/materialize"
	"cfdb/internal/model"
	"cfdb/internal/registry"
	"cfdb/internal/repository"
	"cfdb/pkg/kafka"
	"cfdb/pkg/log"
	"cfdb/pkg/storage"
)

// SyncService serializes ingestion batches. At most one batch runs
// system-wide; within a batch each DCC ingests independently and a failure
// in one never blocks or rolls back another.
type SyncService interface {
	// Trigger accepts a new batch for the given DCCs (empty = all) and
	// starts it in the background. Conflict when a batch is already running.
	Trigger(ctx context.Context, dccNames []string) (*model.SyncTask, error)
	// Status returns the task record, or the most recent one when taskID is
	// empty. Nil when nothing is on record.
	Status(ctx context.Context, taskID string) (*model.SyncTask, error)
	// Lock reads the current batch lock state.
	Lock(ctx context.Context) (*model.SyncLock, error)
}

type syncService struct {
	locks    repository.LockRepository
	tasks    repository.TaskRepository
	ingest   repository.IngestRepository
	fetcher  materialize.Client
	registry *registry.Registry

	// cutoverMu serializes cutovers across the batch's DCC goroutines; the
	// cutover lock document is a single flag, so one DCC releasing it must
	// not unblock readers while another is mid-swap.
	cutoverMu sync.Mutex
}

// NewSyncService creates a SyncService.
func NewSyncService(locks repository.LockRepository, tasks repository.TaskRepository, ingest repository.IngestRepository, fetcher materialize.Client, reg *registry.Registry) SyncService {
	return &syncService{
		locks:    locks,
		tasks:    tasks,
		ingest:   ingest,
		fetcher:  fetcher,
		registry: reg,
	}
}

func (s *syncService) Trigger(ctx context.Context, dccNames []string) (*model.SyncTask, error) {
	// 1. Resolve the target DCCs; an unknown name rejects the whole request
	// before any work starts.
	if len(dccNames) == 0 {
		dccNames = s.registry.Names()
	}
	targets := make([]registry.DCC, 0, len(dccNames))
	names := make([]string, 0, len(dccNames))
	for _, name := range dccNames {
		dcc, err := s.registry.Get(name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, dcc)
		names = append(names, dcc.Name)
	}

	// 2. Claim the batch-wide lock.
	taskID := primitive.NewObjectID().Hex()
	acquired, err := s.locks.TryAcquire(ctx, taskID, names)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamError, err, "acquiring sync lock")
	}
	if !acquired {
		return nil, apperr.New(apperr.Conflict, "a sync is already in progress")
	}

	// 3. Record the accepted task and fan out in the background. The batch
	// outlives this request, so it runs on its own context.
	task := &model.SyncTask{
		ID:        taskID,
		DCCNames:  names,
		Status:    model.TaskRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.tasks.Save(ctx, task); err != nil {
		log.Errorf("[SyncService] failed to record task %s: %v", taskID, err)
	}

	go s.run(context.Background(), *task, targets)
	log.Infof("[SyncService] accepted sync %s for DCCs %v", taskID, names)
	return task, nil
}

func (s *syncService) Status(ctx context.Context, taskID string) (*model.SyncTask, error) {
	if taskID == "" {
		return s.tasks.Latest(ctx)
	}
	return s.tasks.Get(ctx, taskID)
}

func (s *syncService) Lock(ctx context.Context) (*model.SyncLock, error) {
	return s.locks.Get(ctx)
}

// run executes one accepted batch: concurrent per-DCC ingestion, then lock
// release once every task has finished. It works on its own copy of the task
// record; the accepted one already went back to the caller.
func (s *syncService) run(ctx context.Context, task model.SyncTask, targets []registry.DCC) {
	defer func() {
		if err := s.locks.Release(ctx, task.ID); err != nil {
			log.Errorf("[SyncService] failed to release lock for %s: %v", task.ID, err)
		}
	}()

	var (
		mu      sync.Mutex
		results []model.DCCResult
		wg      sync.WaitGroup
	)
	for _, dcc := range targets {
		wg.Add(1)
		go func(dcc registry.DCC) {
			defer wg.Done()
			result := s.ingestDCC(ctx, task.ID, dcc)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(dcc)
	}
	wg.Wait()

	// The batch completes even when member DCCs fail; it only reports failed
	// when nothing succeeded.
	status := model.TaskFailed
	for _, r := range results {
		if r.Status == model.TaskCompleted {
			status = model.TaskCompleted
			break
		}
	}
	now := time.Now().UTC()
	task.Status = status
	task.CompletedAt = &now
	task.Results = results
	if err := s.tasks.Save(ctx, &task); err != nil {
		log.Errorf("[SyncService] failed to record results for %s: %v", task.ID, err)
	}
	log.Infof("[SyncService] sync %s finished with status %s", task.ID, status)
}

// ingestDCC runs one DCC's ingestion: fetch, archive, stage, cut over. Any
// failure leaves that DCC's live records untouched.
func (s *syncService) ingestDCC(ctx context.Context, taskID string, dcc registry.DCC) model.DCCResult {
	kafka.EmitIngestEvent(ctx, kafka.IngestEvent{TaskID: taskID, DCC: dcc.Name, Status: "started"})

	fail := func(err error) model.DCCResult {
		log.Errorf("[SyncService] ingestion for %s failed: %v", dcc.Name, err)
		kafka.EmitIngestEvent(ctx, kafka.IngestEvent{TaskID: taskID, DCC: dcc.Name, Status: "failed", Error: err.Error()})
		return model.DCCResult{DCC: dcc.Name, Status: model.TaskFailed, Error: err.Error(), FinishedAt: time.Now().UTC()}
	}

	// 1. Fetch the normalized datapackage from the materializer.
	pkg, err := s.fetcher.Fetch(ctx, dcc)
	if err != nil {
		return fail(err)
	}
	log.Infof("[SyncService] fetched datapackage for %s: %d records", dcc.Name, pkg.Records())

	// 2. Archive the raw payload; archiving is best-effort and never fails
	// the ingestion.
	if err := storage.ArchiveDatapackage(ctx, pkg.Submission, pkg.Raw); err != nil {
		log.Warnf("[SyncService] failed to archive datapackage for %s: %v", dcc.Name, err)
	}

	// 3. Stage every known table, then cut the submission over. The cutover
	// lock pauses metadata queries while the live rows are swapped, so no
	// reader sees the submission deleted but not yet re-inserted.
	staged := make([]string, 0, len(model.EntityCollections))
	for _, table := range model.EntityCollections {
		rows, ok := pkg.Tables[table]
		if !ok {
			continue
		}
		if _, err := s.ingest.LoadStaging(ctx, table, pkg.Submission, rows); err != nil {
			s.cleanupStaging(ctx, pkg.Submission, staged)
			return fail(err)
		}
		staged = append(staged, table)
	}
	s.cutoverMu.Lock()
	if err := s.locks.AcquireCutover(ctx, dcc.Name); err != nil {
		s.cutoverMu.Unlock()
		s.cleanupStaging(ctx, pkg.Submission, staged)
		return fail(err)
	}
	err = s.ingest.Cutover(ctx, pkg.Submission, staged)
	if relErr := s.locks.ReleaseCutover(ctx); relErr != nil {
		log.Errorf("[SyncService] failed to release cutover lock for %s: %v", dcc.Name, relErr)
	}
	s.cutoverMu.Unlock()
	if err != nil {
		s.cleanupStaging(ctx, pkg.Submission, staged)
		return fail(err)
	}
	s.cleanupStaging(ctx, pkg.Submission, staged)

	kafka.EmitIngestEvent(ctx, kafka.IngestEvent{TaskID: taskID, DCC: dcc.Name, Status: "completed", Records: pkg.Records()})
	log.Infof("[SyncService] ingestion for %s completed", dcc.Name)
	return model.DCCResult{DCC: dcc.Name, Status: model.TaskCompleted, Records: pkg.Records(), FinishedAt: time.Now().UTC()}
}

func (s *syncService) cleanupStaging(ctx context.Context, submission string, tables []string) {
	if err := s.ingest.DropStaging(ctx, submission, tables); err != nil {
		log.Warnf("[SyncService] failed to drop staging collections for %s: %v", submission, err)
	}
}
