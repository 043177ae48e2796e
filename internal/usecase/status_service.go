package usecase

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/prospectdb/prospect-stats/internal/domain/source"
	"github.com/prospectdb/prospect-stats/internal/platform/logging"
	"github.com/prospectdb/prospect-stats/internal/platform/ratelimit"
)

const healthProbeTimeout = 3 * time.Second

// SourceStatus is one registered source's operational view: identity,
// bucket occupancy, breaker state, and an optional live health probe.
type SourceStatus struct {
	SourceKey    string                    `json:"sourceKey"`
	DisplayName  string                    `json:"displayName"`
	SharedBucket bool                      `json:"sharedBucket"`
	Bucket       *ratelimit.BucketSnapshot `json:"bucket,omitempty"`
	BreakerState string                    `json:"breakerState,omitempty"`
	Healthy      *bool                     `json:"healthy,omitempty"`
}

// SourceStatusService backs the sources status endpoint.
type SourceStatusService struct {
	registry   *source.Registry
	limiter    *ratelimit.Limiter
	aggregator *AggregatorService
	logger     *logging.Logger
}

func NewSourceStatusService(registry *source.Registry, limiter *ratelimit.Limiter, aggregator *AggregatorService, logger *logging.Logger) *SourceStatusService {
	if logger == nil {
		logger = logging.Default()
	}
	return &SourceStatusService{
		registry:   registry,
		limiter:    limiter,
		aggregator: aggregator,
		logger:     logger,
	}
}

// List reports every registered source in registration order. With
// probeHealth set it fans health checks out concurrently, each bounded
// by its own short timeout.
func (s *SourceStatusService) List(ctx context.Context, probeHealth bool) []SourceStatus {
	ctx, span := startUsecaseSpan(ctx, "usecase.SourceStatusService.List")
	defer span.End()

	registered := s.registry.All()
	out := make([]SourceStatus, len(registered))

	var wg conc.WaitGroup
	for i, reg := range registered {
		i, reg := i, reg
		wg.Go(func() {
			status := SourceStatus{
				SourceKey:    reg.Descriptor.Key,
				DisplayName:  reg.Descriptor.DisplayName,
				SharedBucket: reg.Descriptor.RateLimit == nil,
			}

			bucketKey := reg.Descriptor.Key
			if status.SharedBucket {
				bucketKey = ratelimit.DefaultSourceKey
			}
			if snapshot, ok := s.limiter.Snapshot(bucketKey); ok {
				status.Bucket = &snapshot
			}

			if state, ok := s.aggregator.BreakerState(reg.Descriptor.Key); ok {
				status.BreakerState = string(state)
			}

			if probeHealth {
				probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
				healthy := reg.Source.HealthCheck(probeCtx) == nil
				cancel()
				status.Healthy = &healthy
			}

			out[i] = status
		})
	}
	wg.Wait()

	return out
}
