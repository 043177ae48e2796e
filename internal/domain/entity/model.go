package entity

import (
	"github.com/prospectdb/prospect-stats/internal/domain/source"
)

// MergedRecord is one source's contribution to a canonical entity, kept
// for provenance.
type MergedRecord struct {
	SourceKey string                 `json:"sourceKey"`
	Record    source.RawEntityRecord `json:"record"`
}

// CanonicalEntity is the deduplicated output unit. It is recomputed, not
// mutated, whenever records fold in; the UID assigned at creation is never
// swapped silently.
type CanonicalEntity struct {
	EntityUID          string `json:"entityUID"`
	PrimaryDisplayName string `json:"primaryDisplayName"`
	// MatchConfidence is the confidence that every contributing record
	// describes the same real person: the minimum over all merges that
	// built this entity.
	MatchConfidence float64        `json:"matchConfidence"`
	MergedFrom      []MergedRecord `json:"mergedFrom"`
	// CandidateOf links a weak-match candidate to the entity it may
	// duplicate. Candidates are surfaced for review, never auto-merged.
	CandidateOf string `json:"candidateOf,omitempty"`
}

// SourceKeys lists contributing sources in merge order.
func (e CanonicalEntity) SourceKeys() []string {
	out := make([]string, 0, len(e.MergedFrom))
	for _, m := range e.MergedFrom {
		out = append(out, m.SourceKey)
	}
	return out
}

// HasSource reports whether a record from sourceKey already contributed.
// Records from one source never merge with each other.
func (e CanonicalEntity) HasSource(sourceKey string) bool {
	for _, m := range e.MergedFrom {
		if m.SourceKey == sourceKey {
			return true
		}
	}
	return false
}
