package snapshot

import (
	"strings"
	"time"

	"github.com/prospectdb/prospect-stats/internal/domain/entity"
	"github.com/prospectdb/prospect-stats/internal/domain/source"
)

// Snapshot is one captured aggregate response keyed by the query
// fingerprint that produced it. Downstream export pipelines read the
// latest snapshot per fingerprint instead of re-querying sources.
type Snapshot struct {
	ID               int64
	QueryFingerprint string
	QueryKind        source.QueryKind
	Entities         []entity.CanonicalEntity
	Manifest         []source.Result
	CapturedAt       time.Time
}

func (s Snapshot) Validate() error {
	if strings.TrimSpace(s.QueryFingerprint) == "" {
		return ErrMissingFingerprint
	}
	if strings.TrimSpace(string(s.QueryKind)) == "" {
		return ErrMissingKind
	}
	return nil
}
