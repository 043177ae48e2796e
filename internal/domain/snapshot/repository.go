package snapshot

import (
	"context"
	"errors"
)

var (
	ErrNotFound           = errors.New("snapshot not found")
	ErrMissingFingerprint = errors.New("snapshot query fingerprint is required")
	ErrMissingKind        = errors.New("snapshot query kind is required")
)

type Repository interface {
	Save(ctx context.Context, snap Snapshot) (int64, error)
	LatestByFingerprint(ctx context.Context, fingerprint string) (Snapshot, error)
	Prune(ctx context.Context, keepPerFingerprint int) (int64, error)
}
