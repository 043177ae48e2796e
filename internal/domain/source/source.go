package source

import "context"

// Source is one pluggable upstream adapter. Implementations live outside
// this module (one per site) and only promise the shape of what they
// return and how they fail; any error is classified by the caller, never
// propagated raw.
type Source interface {
	SearchEntities(ctx context.Context, params map[string]string) ([]RawEntityRecord, error)
	GetEntityStats(ctx context.Context, entityID, season string) (*RawEntityRecord, error)
	GetLeaderboard(ctx context.Context, statName, season string, limit int) ([]RawEntityRecord, error)
	HealthCheck(ctx context.Context) error
}

// Factory builds a Source from its descriptor at registration time.
type Factory func(Descriptor) (Source, error)
