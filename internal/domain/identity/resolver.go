package identity

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/prospectdb/prospect-stats/internal/domain/entity"
	"github.com/prospectdb/prospect-stats/internal/domain/source"
	"github.com/prospectdb/prospect-stats/internal/platform/logging"
)

// ErrUnidentifiable marks a record whose name normalizes to nothing.
// Such records pass through unmerged; silence never earns an identity.
var ErrUnidentifiable = errors.New("record has no usable name")

// Observation pairs a raw record with the moment its source result was
// fetched, which breaks display-name ties deterministically.
type Observation struct {
	Record    source.RawEntityRecord
	FetchedAt time.Time
}

// EntityIndex remembers resolved entities across queries keyed by their
// exact identity key.
type EntityIndex interface {
	LookupExact(key string) (entity.CanonicalEntity, bool)
	Upsert(key string, e entity.CanonicalEntity)
	Len() int
}

// Resolver decides whether records from different sources describe the
// same real person, and assigns stable UIDs.
type Resolver struct {
	cfg    MatcherConfig
	index  EntityIndex
	logger *logging.Logger
}

func NewResolver(cfg MatcherConfig, index EntityIndex, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{
		cfg:    NormalizeMatcherConfig(cfg),
		index:  index,
		logger: logger,
	}
}

// Resolve assigns record a stable UID. Identical inputs always resolve to
// the identical UID.
func (r *Resolver) Resolve(record source.RawEntityRecord) (string, float64, error) {
	normalized := withNormalizedFields(record)
	if normalized.NormalizedName == "" {
		return "", 0, ErrUnidentifiable
	}

	if r.index != nil {
		if known, ok := r.index.LookupExact(exactKey(normalized)); ok {
			return known.EntityUID, 1.0, nil
		}
	}

	year, _ := normalized.BirthYear()
	return MintUID(normalized.NormalizedName, normalized.AffiliationName, year, normalized.SourceKey), 1.0, nil
}

type cluster struct {
	uid        string
	confidence float64
	members    []Observation
	// candidateOf marks a weak-match candidate that must stay unmerged.
	candidateOf string
}

// Dedupe folds one query's records from every source into canonical
// entities. Matching is tiered and the first matching tier wins: exact
// key, then strong fuzzy, then weak fuzzy (candidate only). Records from
// the same source never merge with each other, and a cluster's UID is
// fixed when the cluster is created.
func (r *Resolver) Dedupe(ctx context.Context, observations []Observation) []entity.CanonicalEntity {
	ordered := make([]Observation, len(observations))
	copy(ordered, observations)
	for i := range ordered {
		ordered[i].Record = withNormalizedFields(ordered[i].Record)
	}
	// Deterministic intake order: dedupe output must not depend on the
	// completion order of concurrent source fetches.
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Record, ordered[j].Record
		if a.SourceKey != b.SourceKey {
			return a.SourceKey < b.SourceKey
		}
		if a.NormalizedName != b.NormalizedName {
			return a.NormalizedName < b.NormalizedName
		}
		return a.DisplayName < b.DisplayName
	})

	var clusters []*cluster
	var passthrough []entity.CanonicalEntity

	for _, obs := range ordered {
		if obs.Record.NormalizedName == "" {
			passthrough = append(passthrough, entity.CanonicalEntity{
				PrimaryDisplayName: obs.Record.DisplayName,
				MergedFrom: []entity.MergedRecord{
					{SourceKey: obs.Record.SourceKey, Record: obs.Record},
				},
			})
			continue
		}

		best, bestTier, bestConfidence := r.bestMatch(clusters, obs.Record)
		switch bestTier {
		case tierExact, tierStrong:
			best.members = append(best.members, obs)
			if bestConfidence < best.confidence {
				best.confidence = bestConfidence
			}
			r.logger.InfoContext(ctx, "entity merge",
				"entity_uid", best.uid,
				"source_key", obs.Record.SourceKey,
				"display_name", obs.Record.DisplayName,
				"confidence", bestConfidence,
			)
		case tierWeak:
			c := r.newCluster(obs)
			c.candidateOf = best.uid
			c.confidence = bestConfidence
			clusters = append(clusters, c)
		default:
			clusters = append(clusters, r.newCluster(obs))
		}
	}

	out := make([]entity.CanonicalEntity, 0, len(clusters)+len(passthrough))
	for _, c := range clusters {
		resolved := r.finalize(c)
		out = append(out, resolved)
		if r.index != nil && c.candidateOf == "" {
			r.index.Upsert(clusterExactKey(c), resolved)
		}
	}
	out = append(out, passthrough...)

	return out
}

// bestMatch evaluates record against every existing cluster and returns
// the strongest eligible tier. Clusters already holding a record from the
// same source are ineligible, as are weak-match candidate clusters.
func (r *Resolver) bestMatch(clusters []*cluster, record source.RawEntityRecord) (*cluster, matchTier, float64) {
	var best *cluster
	bestTier := tierNone
	bestConfidence := 0.0

	for _, c := range clusters {
		if c.candidateOf != "" || c.hasSource(record.SourceKey) {
			continue
		}
		for _, member := range c.members {
			tier, confidence := r.cfg.evaluate(member.Record, record)
			if tier > bestTier || (tier == bestTier && confidence > bestConfidence) {
				best, bestTier, bestConfidence = c, tier, confidence
			}
		}
	}

	return best, bestTier, bestConfidence
}

func (r *Resolver) newCluster(seed Observation) *cluster {
	year, _ := seed.Record.BirthYear()
	return &cluster{
		uid:        MintUID(seed.Record.NormalizedName, seed.Record.AffiliationName, year, seed.Record.SourceKey),
		confidence: 1.0,
		members:    []Observation{seed},
	}
}

// finalize builds the immutable output entity. Primary display name goes
// to the most complete record; ties break on the most recent fetch, then
// on source key so the choice is reproducible.
func (r *Resolver) finalize(c *cluster) entity.CanonicalEntity {
	primary := c.members[0]
	for _, m := range c.members[1:] {
		switch {
		case m.Record.AttributeCount() > primary.Record.AttributeCount():
			primary = m
		case m.Record.AttributeCount() == primary.Record.AttributeCount():
			if m.FetchedAt.After(primary.FetchedAt) {
				primary = m
			} else if m.FetchedAt.Equal(primary.FetchedAt) && m.Record.SourceKey < primary.Record.SourceKey {
				primary = m
			}
		}
	}

	merged := make([]entity.MergedRecord, 0, len(c.members))
	for _, m := range c.members {
		merged = append(merged, entity.MergedRecord{SourceKey: m.Record.SourceKey, Record: m.Record})
	}

	return entity.CanonicalEntity{
		EntityUID:          c.uid,
		PrimaryDisplayName: primary.Record.DisplayName,
		MatchConfidence:    c.confidence,
		MergedFrom:         merged,
		CandidateOf:        c.candidateOf,
	}
}

func (c *cluster) hasSource(sourceKey string) bool {
	for _, m := range c.members {
		if m.Record.SourceKey == sourceKey {
			return true
		}
	}
	return false
}

func withNormalizedFields(record source.RawEntityRecord) source.RawEntityRecord {
	if record.NormalizedName == "" {
		record.NormalizedName = entity.NormalizeName(record.DisplayName)
	}
	record.AffiliationName = entity.NormalizeAffiliation(record.AffiliationName)
	return record
}

func exactKey(record source.RawEntityRecord) string {
	year := ""
	if y, ok := record.BirthYear(); ok {
		year = strconv.Itoa(y)
	}
	return record.NormalizedName + "|" + record.AffiliationName + "|" + year
}

func clusterExactKey(c *cluster) string {
	return exactKey(c.members[0].Record)
}
