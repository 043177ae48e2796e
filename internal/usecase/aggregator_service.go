package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/prospectdb/prospect-stats/internal/domain/entity"
	"github.com/prospectdb/prospect-stats/internal/domain/identity"
	"github.com/prospectdb/prospect-stats/internal/domain/source"
	"github.com/prospectdb/prospect-stats/internal/platform/cache"
	"github.com/prospectdb/prospect-stats/internal/platform/logging"
	"github.com/prospectdb/prospect-stats/internal/platform/ratelimit"
	"github.com/prospectdb/prospect-stats/internal/platform/resilience"
)

const defaultLeaderboardLimit = 25

// AggregateResponse is the merged answer to one logical query. The
// manifest always lists every targeted source exactly once, in
// registration order, so callers can tell "no data exists" from "some
// sources failed".
type AggregateResponse struct {
	Entities []entity.CanonicalEntity `json:"entities"`
	Manifest []source.Result          `json:"manifest"`
}

type AggregatorConfig struct {
	// QueryDeadline bounds one whole fan-out. Tasks still running at the
	// deadline are reported TimedOut and detached.
	QueryDeadline time.Duration
	// DefaultTTL applies per query kind when a descriptor carries none.
	DefaultTTL source.CacheTTL
	// Breaker configures the per-source health breakers that let the
	// aggregator skip sources that keep failing.
	Breaker resilience.CircuitBreakerConfig
}

func NormalizeAggregatorConfig(cfg AggregatorConfig) AggregatorConfig {
	if cfg.QueryDeadline <= 0 {
		cfg.QueryDeadline = 10 * time.Second
	}
	if cfg.DefaultTTL.Search <= 0 {
		cfg.DefaultTTL.Search = 30 * time.Minute
	}
	if cfg.DefaultTTL.EntityStats <= 0 {
		cfg.DefaultTTL.EntityStats = time.Hour
	}
	if cfg.DefaultTTL.Leaderboard <= 0 {
		cfg.DefaultTTL.Leaderboard = 2 * time.Hour
	}
	cfg.Breaker = resilience.NormalizeCircuitBreakerConfig(cfg.Breaker)
	return cfg
}

// AggregatorService fans one query out to every targeted source, joins
// the partial results, and dedupes them into canonical entities. One
// source failing never fails the query.
type AggregatorService struct {
	cfg      AggregatorConfig
	registry *source.Registry
	limiter  *ratelimit.Limiter
	store    *cache.Store
	resolver *identity.Resolver
	breakers map[string]*resilience.CircuitBreaker
	logger   *logging.Logger
}

func NewAggregatorService(
	cfg AggregatorConfig,
	registry *source.Registry,
	limiter *ratelimit.Limiter,
	store *cache.Store,
	resolver *identity.Resolver,
	logger *logging.Logger,
) *AggregatorService {
	if logger == nil {
		logger = logging.Default()
	}
	cfg = NormalizeAggregatorConfig(cfg)

	breakers := make(map[string]*resilience.CircuitBreaker, registry.Len())
	for _, key := range registry.Keys() {
		breakers[key] = resilience.NewCircuitBreaker(
			cfg.Breaker.FailureThreshold,
			cfg.Breaker.OpenTimeout,
			cfg.Breaker.HalfOpenMaxReq,
		)
	}

	return &AggregatorService{
		cfg:      cfg,
		registry: registry,
		limiter:  limiter,
		store:    store,
		resolver: resolver,
		breakers: breakers,
		logger:   logger,
	}
}

// Query answers one logical request. Only a malformed request or an empty
// target set is a query-level error; everything else degrades into
// manifest entries.
func (s *AggregatorService) Query(ctx context.Context, req source.QueryRequest) (AggregateResponse, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.AggregatorService.Query")
	defer span.End()

	if err := req.Validate(); err != nil {
		return AggregateResponse{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	targets, err := s.targetSources(req)
	if err != nil {
		return AggregateResponse{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryDeadline)
	defer cancel()

	manifest := s.fanOut(queryCtx, targets, req)

	observations := make([]identity.Observation, 0, 64)
	for _, result := range manifest {
		if result.Status != source.StatusOK {
			continue
		}
		for _, record := range result.Records {
			observations = append(observations, identity.Observation{
				Record:    record,
				FetchedAt: result.FetchedAt,
			})
		}
	}

	entities := s.resolver.Dedupe(ctx, observations)
	rankEntities(entities)

	s.logger.InfoContext(ctx, "aggregate query served",
		"kind", string(req.Kind),
		"sources", len(targets),
		"entities", len(entities),
	)

	return AggregateResponse{Entities: entities, Manifest: manifest}, nil
}

// fanOut launches one task per target and joins them. Every slot in the
// returned manifest is filled: a task that outruns the deadline leaves a
// TimedOut entry behind and keeps running detached.
func (s *AggregatorService) fanOut(ctx context.Context, targets []source.Registered, req source.QueryRequest) []source.Result {
	results := make([]source.Result, len(targets))

	var wg conc.WaitGroup
	for i, target := range targets {
		i, target := i, target
		wg.Go(func() {
			results[i] = s.querySource(ctx, target, req)
		})
	}
	wg.Wait()

	return results
}

// querySource bounds one source task by ctx. The fetch body runs in its
// own goroutine so a stuck upstream is detached at the deadline instead
// of holding the join hostage; the cache still settles the detached fetch
// for any single-flight waiters.
func (s *AggregatorService) querySource(ctx context.Context, target source.Registered, req source.QueryRequest) source.Result {
	started := time.Now()
	outcome := &breakerOutcome{breaker: s.breakers[target.Descriptor.Key]}
	out := make(chan source.Result, 1)
	go func() {
		out <- s.fetchSource(ctx, target, req, started, outcome)
	}()

	select {
	case result := <-out:
		return result
	case <-ctx.Done():
		outcome.failure()
		return source.Result{
			SourceKey:   target.Descriptor.Key,
			Status:      source.StatusTimedOut,
			ErrorDetail: "query deadline exceeded",
			FetchedAt:   time.Now(),
			LatencyMs:   time.Since(started).Milliseconds(),
		}
	}
}

func (s *AggregatorService) fetchSource(ctx context.Context, target source.Registered, req source.QueryRequest, started time.Time, outcome *breakerOutcome) source.Result {
	key := target.Descriptor.Key
	result := source.Result{SourceKey: key}

	finish := func() source.Result {
		result.LatencyMs = time.Since(started).Milliseconds()
		if result.FetchedAt.IsZero() {
			result.FetchedAt = time.Now()
		}
		return result
	}

	if breaker := s.breakers[key]; breaker != nil {
		if err := breaker.Allow(); err != nil {
			outcome.skip()
			result.Status = source.StatusError
			result.ErrorDetail = "source unhealthy: " + err.Error()
			return finish()
		}
	}

	if err := s.limiter.Acquire(ctx, key); err != nil {
		// Could not get a token before the deadline. Explicitly
		// rate-limited, never silent starvation. Token starvation is
		// local, so the breaker permit goes back uncounted.
		outcome.abandon()
		result.Status = source.StatusRateLimited
		result.ErrorDetail = "rate limit wait aborted: " + err.Error()
		return finish()
	}

	ttl := target.Descriptor.DefaultTTL.For(req.Kind)
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL.For(req.Kind)
	}

	value, fromCache, err := s.store.GetOrFetch(ctx, req.CacheKey(key), ttl, func(fetchCtx context.Context) (any, error) {
		records, fetchErr := callSource(fetchCtx, target.Source, req)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return cachedFetch{Records: records, FetchedAt: time.Now()}, nil
	})
	if err != nil {
		outcome.failure()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			result.Status = source.StatusTimedOut
		} else {
			result.Status = source.StatusError
		}
		result.ErrorDetail = err.Error()
		return finish()
	}

	payload, _ := value.(cachedFetch)
	result.FetchedAt = payload.FetchedAt
	result.FromCache = fromCache
	if len(payload.Records) == 0 {
		result.Status = source.StatusEmpty
	} else {
		result.Status = source.StatusOK
		result.Records = payload.Records
	}
	outcome.success()

	return finish()
}

// breakerOutcome settles one task's breaker accounting exactly once. A
// task can finish twice, once via the deadline path and once when the
// detached fetch settles, and must not count twice against the failure
// threshold or leak a half-open permit.
type breakerOutcome struct {
	once    sync.Once
	breaker *resilience.CircuitBreaker
}

func (o *breakerOutcome) success() {
	o.once.Do(func() {
		if o.breaker != nil {
			o.breaker.RecordSuccess()
		}
	})
}

func (o *breakerOutcome) failure() {
	o.once.Do(func() {
		if o.breaker != nil {
			o.breaker.RecordFailure()
		}
	})
}

// abandon frees the task's half-open permit without counting an outcome.
func (o *breakerOutcome) abandon() {
	o.once.Do(func() {
		if o.breaker != nil {
			o.breaker.Release()
		}
	})
}

// skip settles the task with no breaker interaction, for paths that
// never took a permit.
func (o *breakerOutcome) skip() {
	o.once.Do(func() {})
}

type cachedFetch struct {
	Records   []source.RawEntityRecord
	FetchedAt time.Time
}

// callSource dispatches one query kind to the matching source operation.
// A panicking adapter is converted into an error like any other failure.
func callSource(ctx context.Context, src source.Source, req source.QueryRequest) (records []source.RawEntityRecord, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			records = nil
			err = fmt.Errorf("source panicked: %v", rec)
		}
	}()

	switch req.Kind {
	case source.KindSearch:
		return src.SearchEntities(ctx, req.Parameters)
	case source.KindEntityStats:
		record, statErr := src.GetEntityStats(ctx, req.Parameters["entityId"], req.Parameters["season"])
		if statErr != nil {
			return nil, statErr
		}
		if record == nil {
			return nil, nil
		}
		return []source.RawEntityRecord{*record}, nil
	case source.KindLeaderboard:
		limit := defaultLeaderboardLimit
		if raw := strings.TrimSpace(req.Parameters["limit"]); raw != "" {
			parsed, parseErr := strconv.Atoi(raw)
			if parseErr != nil || parsed < 1 {
				return nil, fmt.Errorf("invalid leaderboard limit %q", raw)
			}
			limit = parsed
		}
		return src.GetLeaderboard(ctx, req.Parameters["stat"], req.Parameters["season"], limit)
	default:
		return nil, fmt.Errorf("unsupported query kind %q", req.Kind)
	}
}

func (s *AggregatorService) targetSources(req source.QueryRequest) ([]source.Registered, error) {
	if len(req.RequestedSources) == 0 {
		targets := s.registry.All()
		if len(targets) == 0 {
			return nil, fmt.Errorf("%w: no sources registered", ErrNoSourcesAvailable)
		}
		return targets, nil
	}

	requested := make(map[string]struct{}, len(req.RequestedSources))
	for _, key := range req.RequestedSources {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := s.registry.Get(key); !ok {
			return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidInput, key)
		}
		requested[key] = struct{}{}
	}
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: no sources requested", ErrNoSourcesAvailable)
	}

	// Keep registration order regardless of the order keys arrived in.
	targets := make([]source.Registered, 0, len(requested))
	for _, reg := range s.registry.All() {
		if _, ok := requested[reg.Descriptor.Key]; ok {
			targets = append(targets, reg)
		}
	}

	return targets, nil
}

// BreakerState exposes one source's health breaker for status surfaces.
func (s *AggregatorService) BreakerState(sourceKey string) (resilience.CircuitState, bool) {
	breaker, ok := s.breakers[sourceKey]
	if !ok {
		return "", false
	}
	return breaker.State(), true
}

// rankEntities orders merged entities for clients: broadest corroboration
// first, then confidence, then name.
func rankEntities(entities []entity.CanonicalEntity) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if len(a.MergedFrom) != len(b.MergedFrom) {
			return len(a.MergedFrom) > len(b.MergedFrom)
		}
		if a.MatchConfidence != b.MatchConfidence {
			return a.MatchConfidence > b.MatchConfidence
		}
		return a.PrimaryDisplayName < b.PrimaryDisplayName
	})
}
