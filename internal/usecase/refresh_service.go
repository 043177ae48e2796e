package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/prospectdb/prospect-stats/internal/domain/snapshot"
	"github.com/prospectdb/prospect-stats/internal/domain/source"
	"github.com/prospectdb/prospect-stats/internal/platform/cache"
	"github.com/prospectdb/prospect-stats/internal/platform/logging"
)

const (
	refreshStatusSuccess = "success"
	refreshStatusFailed  = "failed"
	refreshStatusSkipped = "skipped"

	defaultRefreshWorkers = 4
	maxRefreshWorkers     = 16
)

type RefreshInput struct {
	Queries    []source.QueryRequest
	MaxWorkers int
	// Invalidate drops cached entries for each query first so the warm
	// pass reaches upstream instead of re-reading the cache.
	Invalidate bool
	// DryRun validates and counts without querying anything.
	DryRun bool
}

type RefreshResult struct {
	TaskCount    int                 `json:"task_count"`
	SuccessCount int                 `json:"success_count"`
	FailedCount  int                 `json:"failed_count"`
	SkippedCount int                 `json:"skipped_count"`
	WorkerCount  int                 `json:"worker_count"`
	Tasks        []RefreshTaskResult `json:"tasks"`
}

type RefreshTaskResult struct {
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	Entities   int    `json:"entities"`
	Sources    int    `json:"sources"`
	DurationMs int64  `json:"duration_ms"`
	Message    string `json:"message,omitempty"`
}

// RefreshService re-runs a batch of queries through the aggregator on a
// bounded worker pool, typically to warm caches before traffic or after
// an invalidation.
type RefreshService struct {
	aggregator *AggregatorService
	store      *cache.Store
	registry   *source.Registry
	logger     *logging.Logger

	// snapshots optionally persists each warmed response for export
	// consumers; nil skips persistence entirely.
	snapshots    snapshot.Repository
	snapshotKeep int
}

func NewRefreshService(aggregator *AggregatorService, store *cache.Store, registry *source.Registry, logger *logging.Logger) *RefreshService {
	if logger == nil {
		logger = logging.Default()
	}
	return &RefreshService{
		aggregator: aggregator,
		store:      store,
		registry:   registry,
		logger:     logger,
	}
}

// WithSnapshotRepository enables snapshot persistence: every successful
// refresh task writes its response keyed by the query fingerprint, and
// each run prunes old captures down to keepPerQuery per fingerprint.
func (s *RefreshService) WithSnapshotRepository(repo snapshot.Repository, keepPerQuery int) *RefreshService {
	if keepPerQuery < 1 {
		keepPerQuery = 1
	}
	s.snapshots = repo
	s.snapshotKeep = keepPerQuery
	return s
}

func (s *RefreshService) Run(ctx context.Context, input RefreshInput) (RefreshResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.RefreshService.Run")
	defer span.End()

	if len(input.Queries) == 0 {
		return RefreshResult{}, fmt.Errorf("%w: refresh requires at least one query", ErrInvalidInput)
	}
	for i, req := range input.Queries {
		if err := req.Validate(); err != nil {
			return RefreshResult{}, fmt.Errorf("%w: query %d: %v", ErrInvalidInput, i, err)
		}
	}

	workerCount := input.MaxWorkers
	if workerCount < 1 {
		workerCount = defaultRefreshWorkers
	}
	if workerCount > maxRefreshWorkers {
		workerCount = maxRefreshWorkers
	}
	if workerCount > len(input.Queries) {
		workerCount = len(input.Queries)
	}

	result := RefreshResult{
		TaskCount:   len(input.Queries),
		WorkerCount: workerCount,
		Tasks:       make([]RefreshTaskResult, len(input.Queries)),
	}

	if input.DryRun {
		for i, req := range input.Queries {
			result.Tasks[i] = RefreshTaskResult{Kind: string(req.Kind), Status: refreshStatusSkipped, Message: "dry run"}
		}
		result.SkippedCount = len(input.Queries)
		return result, nil
	}

	pool, err := ants.NewPool(workerCount)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("%w: create refresh pool: %v", ErrDependencyUnavailable, err)
	}
	defer pool.Release()

	var succeeded, failed atomic.Int64
	done := make(chan struct{}, len(input.Queries))

	for i, req := range input.Queries {
		i, req := i, req
		submitErr := pool.Submit(func() {
			defer func() { done <- struct{}{} }()
			result.Tasks[i] = s.runTask(ctx, req, input.Invalidate)
			if result.Tasks[i].Status == refreshStatusSuccess {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
		})
		if submitErr != nil {
			result.Tasks[i] = RefreshTaskResult{Kind: string(req.Kind), Status: refreshStatusFailed, Message: submitErr.Error()}
			failed.Add(1)
			done <- struct{}{}
		}
	}

	for range input.Queries {
		<-done
	}

	result.SuccessCount = int(succeeded.Load())
	result.FailedCount = int(failed.Load())

	if s.snapshots != nil && result.SuccessCount > 0 {
		if deleted, pruneErr := s.snapshots.Prune(ctx, s.snapshotKeep); pruneErr != nil {
			s.logger.WarnContext(ctx, "snapshot prune failed", "error", pruneErr)
		} else if deleted > 0 {
			s.logger.DebugContext(ctx, "snapshots pruned", "deleted", deleted, "keep", s.snapshotKeep)
		}
	}

	s.logger.InfoContext(ctx, "refresh finished",
		"tasks", result.TaskCount,
		"succeeded", result.SuccessCount,
		"failed", result.FailedCount,
		"workers", result.WorkerCount,
	)

	return result, nil
}

func (s *RefreshService) runTask(ctx context.Context, req source.QueryRequest, invalidate bool) RefreshTaskResult {
	started := time.Now()

	if invalidate {
		for _, key := range s.registry.Keys() {
			s.store.Invalidate(ctx, req.CacheKey(key))
		}
	}

	response, err := s.aggregator.Query(ctx, req)
	task := RefreshTaskResult{
		Kind:       string(req.Kind),
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		task.Status = refreshStatusFailed
		task.Message = err.Error()
		return task
	}

	task.Status = refreshStatusSuccess
	task.Entities = len(response.Entities)
	task.Sources = len(response.Manifest)

	if s.snapshots != nil {
		s.persistSnapshot(ctx, req, response)
	}

	return task
}

// persistSnapshot is best-effort: a failed write degrades the export
// surface, not the refresh itself.
func (s *RefreshService) persistSnapshot(ctx context.Context, req source.QueryRequest, response AggregateResponse) {
	snap := snapshot.Snapshot{
		QueryFingerprint: req.Fingerprint(),
		QueryKind:        req.Kind,
		Entities:         response.Entities,
		Manifest:         response.Manifest,
		CapturedAt:       time.Now(),
	}
	if _, err := s.snapshots.Save(ctx, snap); err != nil {
		s.logger.WarnContext(ctx, "snapshot save failed",
			"fingerprint", snap.QueryFingerprint,
			"error", err,
		)
	}
}
