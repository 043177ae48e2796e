package source

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"
)

// QueryKind selects which source operation a logical query maps to.
type QueryKind string

const (
	KindSearch      QueryKind = "search"
	KindEntityStats QueryKind = "entityStats"
	KindLeaderboard QueryKind = "leaderboard"
)

var AllKinds = map[QueryKind]struct{}{
	KindSearch:      {},
	KindEntityStats: {},
	KindLeaderboard: {},
}

// RateLimitSpec is the outbound budget for one source.
type RateLimitSpec struct {
	RatePerSec    float64
	BurstCapacity int
}

// CacheTTL holds per-kind freshness for one source's results.
type CacheTTL struct {
	Search      time.Duration
	EntityStats time.Duration
	Leaderboard time.Duration
}

func (c CacheTTL) For(kind QueryKind) time.Duration {
	switch kind {
	case KindSearch:
		return c.Search
	case KindEntityStats:
		return c.EntityStats
	case KindLeaderboard:
		return c.Leaderboard
	default:
		return 0
	}
}

// Descriptor identifies one pluggable source. Created at registration,
// immutable for the process lifetime.
type Descriptor struct {
	Key         string
	DisplayName string
	// RateLimit nil means the source draws from the shared default bucket.
	RateLimit  *RateLimitSpec
	DefaultTTL CacheTTL
}

func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Key) == "" {
		return fmt.Errorf("source key is required")
	}
	if strings.ContainsAny(d.Key, " |") {
		return fmt.Errorf("source key %q must not contain spaces or pipes", d.Key)
	}
	if strings.TrimSpace(d.DisplayName) == "" {
		return fmt.Errorf("source %q display name is required", d.Key)
	}
	if d.RateLimit != nil {
		if d.RateLimit.RatePerSec <= 0 {
			return fmt.Errorf("source %q rate must be > 0", d.Key)
		}
		if d.RateLimit.BurstCapacity < 1 {
			return fmt.Errorf("source %q burst capacity must be >= 1", d.Key)
		}
	}

	return nil
}

// QueryRequest is one logical query fanned out across sources.
type QueryRequest struct {
	Kind       QueryKind
	Parameters map[string]string
	// RequestedSources empty means every registered source.
	RequestedSources []string
}

func (q QueryRequest) Validate() error {
	if _, ok := AllKinds[q.Kind]; !ok {
		return fmt.Errorf("invalid query kind: %q", q.Kind)
	}

	switch q.Kind {
	case KindSearch:
		if strings.TrimSpace(q.Parameters["name"]) == "" {
			return fmt.Errorf("search requires a name parameter")
		}
	case KindEntityStats:
		if strings.TrimSpace(q.Parameters["entityId"]) == "" {
			return fmt.Errorf("entityStats requires an entityId parameter")
		}
	case KindLeaderboard:
		if strings.TrimSpace(q.Parameters["stat"]) == "" {
			return fmt.Errorf("leaderboard requires a stat parameter")
		}
	}

	return nil
}

// CacheKey returns the deterministic cache key for this query against one
// source: an fnv-64a of sourceKey, kind, and the sorted parameter pairs.
func (q QueryRequest) CacheKey(sourceKey string) string {
	keys := make([]string, 0, len(q.Parameters))
	for k := range q.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	_, _ = h.Write([]byte(sourceKey))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(q.Kind))
	for _, k := range keys {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{'='})
		_, _ = h.Write([]byte(q.Parameters[k]))
	}

	return fmt.Sprintf("query:%s:%s:%x", sourceKey, q.Kind, h.Sum64())
}

// Fingerprint identifies the logical query independent of any one source:
// kind, sorted parameters, and the sorted requested-source set.
func (q QueryRequest) Fingerprint() string {
	keys := make([]string, 0, len(q.Parameters))
	for k := range q.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	requested := append([]string(nil), q.RequestedSources...)
	sort.Strings(requested)

	h := fnv.New64a()
	_, _ = h.Write([]byte(q.Kind))
	for _, k := range keys {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{'='})
		_, _ = h.Write([]byte(q.Parameters[k]))
	}
	_, _ = h.Write([]byte{0, 0})
	for _, key := range requested {
		_, _ = h.Write([]byte(key))
		_, _ = h.Write([]byte{0})
	}

	return fmt.Sprintf("%s:%x", q.Kind, h.Sum64())
}

// Status classifies the outcome of querying one source.
type Status string

const (
	StatusOK          Status = "Ok"
	StatusEmpty       Status = "Empty"
	StatusError       Status = "Error"
	StatusRateLimited Status = "RateLimited"
	StatusTimedOut    Status = "TimedOut"
)

// Result is the outcome of one source for one query. Records is non-empty
// only when Status is Ok; failed or empty outcomes never contribute
// records downstream.
type Result struct {
	SourceKey   string            `json:"sourceKey"`
	Status      Status            `json:"status"`
	Records     []RawEntityRecord `json:"records,omitempty"`
	ErrorDetail string            `json:"errorDetail,omitempty"`
	FetchedAt   time.Time         `json:"fetchedAt"`
	FromCache   bool              `json:"fromCache"`
	LatencyMs   int64             `json:"latencyMs"`
}

// RawEntityRecord is one entity as a single source saw it. Never mutated
// after creation; merges copy.
type RawEntityRecord struct {
	SourceKey       string            `json:"sourceKey"`
	DisplayName     string            `json:"displayName"`
	NormalizedName  string            `json:"normalizedName"`
	AffiliationName string            `json:"affiliationName"`
	BirthDate       *time.Time        `json:"birthDate,omitempty"`
	HeightInches    *int              `json:"heightInches,omitempty"`
	RegionCode      string            `json:"regionCode,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// BirthYear reports the record's birth year when a birth date is present.
func (r RawEntityRecord) BirthYear() (int, bool) {
	if r.BirthDate == nil {
		return 0, false
	}
	return r.BirthDate.Year(), true
}

// AttributeCount scores completeness for display-name precedence.
func (r RawEntityRecord) AttributeCount() int {
	n := 0
	if strings.TrimSpace(r.DisplayName) != "" {
		n++
	}
	if strings.TrimSpace(r.AffiliationName) != "" {
		n++
	}
	if r.BirthDate != nil {
		n++
	}
	if r.HeightInches != nil {
		n++
	}
	if strings.TrimSpace(r.RegionCode) != "" {
		n++
	}
	return n + len(r.Attributes)
}
