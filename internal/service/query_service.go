package service

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"cfdb/internal/apperr"
	"cfdb/internal/catalog"
	"cfdb/internal/filter"
	"cfdb/internal/query"
	"cfdb/internal/repository"
	"cfdb/pkg/log"
)

// QueryService answers metadata queries over the aggregated catalog.
type QueryService interface {
	// Files runs a paginated, filtered files query. rawFilter is the decoded
	// JSON filter (nil for none); shape names the relationships the caller's
	// selection asks for.
	Files(ctx context.Context, rawFilter interface{}, shape map[string]bool, page, pageSize int) ([]bson.M, error)
	// File fetches a single file by its opaque identifier.
	File(ctx context.Context, id string, shape map[string]bool) (bson.M, error)
}

type queryService struct {
	files repository.FileRepository
	locks repository.LockRepository
	cat   *catalog.Catalog
}

// NewQueryService creates a QueryService.
func NewQueryService(files repository.FileRepository, locks repository.LockRepository, cat *catalog.Catalog) QueryService {
	return &queryService{files: files, locks: locks, cat: cat}
}

// waitForCutover holds the query until no live-record swap is in progress.
// An ingestion cutover deletes a submission's rows before re-inserting them;
// reading through that window would surface a half-replaced DCC.
func (s *queryService) waitForCutover(ctx context.Context) error {
	if err := s.locks.WaitForCutover(ctx); err != nil {
		log.Errorf("[QueryService] cutover wait failed: %v", err)
		return apperr.Wrap(apperr.Timeout, err, "waiting for ingestion cutover")
	}
	return nil
}

func (s *queryService) Files(ctx context.Context, rawFilter interface{}, shape map[string]bool, page, pageSize int) ([]bson.M, error) {
	// 1. Compile the filter into an expression tree over store paths.
	node, touched, err := filter.Compile(filter.Parse(rawFilter), s.cat)
	if err != nil {
		return nil, err
	}

	// 2. A relationship is joined when the filter constrains it or the
	// caller asked for it in the output.
	rels := map[string]bool{}
	for name := range touched {
		rels[name] = true
	}
	for name := range shape {
		rels[name] = true
	}

	// 3. Plan and run the aggregation, pausing on any in-flight cutover.
	pipeline, err := query.Plan(node, rels, page, pageSize, s.cat)
	if err != nil {
		return nil, err
	}
	if err := s.waitForCutover(ctx); err != nil {
		return nil, err
	}
	results, err := s.files.Aggregate(ctx, pipeline)
	if err != nil {
		log.Errorf("[QueryService] files aggregation failed: %v", err)
		return nil, apperr.Wrap(apperr.UpstreamError, err, "querying files")
	}
	if results == nil {
		results = []bson.M{}
	}
	return results, nil
}

func (s *queryService) File(ctx context.Context, id string, shape map[string]bool) (bson.M, error) {
	match, err := s.files.ParseID(id)
	if err != nil {
		return nil, err
	}
	pipeline := query.PlanOne(match, shape, s.cat)
	if err := s.waitForCutover(ctx); err != nil {
		return nil, err
	}
	results, err := s.files.Aggregate(ctx, pipeline)
	if err != nil {
		log.Errorf("[QueryService] file lookup failed: %v", err)
		return nil, apperr.Wrap(apperr.UpstreamError, err, "querying file %s", id)
	}
	if len(results) == 0 {
		return nil, apperr.New(apperr.NotFound, "file %q not found", id)
	}
	return results[0], nil
}
