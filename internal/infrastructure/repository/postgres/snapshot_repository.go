package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/jmoiron/sqlx"

	"github.com/prospectdb/prospect-stats/internal/domain/entity"
	"github.com/prospectdb/prospect-stats/internal/domain/snapshot"
	"github.com/prospectdb/prospect-stats/internal/domain/source"
)

type SnapshotRepository struct {
	db *sqlx.DB
}

func NewSnapshotRepository(db *sqlx.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) Save(ctx context.Context, snap snapshot.Snapshot) (int64, error) {
	if err := snap.Validate(); err != nil {
		return 0, fmt.Errorf("validate snapshot fingerprint=%s: %w", snap.QueryFingerprint, err)
	}

	entitiesJSON, err := sonic.MarshalString(snap.Entities)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot entities fingerprint=%s: %w", snap.QueryFingerprint, err)
	}
	manifestJSON, err := sonic.MarshalString(snap.Manifest)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot manifest fingerprint=%s: %w", snap.QueryFingerprint, err)
	}

	capturedAt := snap.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	insertModel := snapshotInsertModel{
		QueryFingerprint: strings.TrimSpace(snap.QueryFingerprint),
		QueryKind:        string(snap.QueryKind),
		Entities:         entitiesJSON,
		Manifest:         manifestJSON,
		EntityCount:      len(snap.Entities),
		SourceCount:      len(snap.Manifest),
		CapturedAt:       capturedAt.UTC(),
	}

	rows, err := r.db.NamedQueryContext(ctx, `INSERT INTO aggregate_snapshots (
    query_fingerprint,
    query_kind,
    entities,
    manifest,
    entity_count,
    source_count,
    captured_at
) VALUES (
    :query_fingerprint,
    :query_kind,
    :entities,
    :manifest,
    :entity_count,
    :source_count,
    :captured_at
) RETURNING id`, insertModel)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot fingerprint=%s: %w", snap.QueryFingerprint, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var id int64
	if !rows.Next() {
		return 0, fmt.Errorf("insert snapshot fingerprint=%s: no id returned", snap.QueryFingerprint)
	}
	if err := rows.Scan(&id); err != nil {
		return 0, fmt.Errorf("scan snapshot id fingerprint=%s: %w", snap.QueryFingerprint, err)
	}

	return id, nil
}

func (r *SnapshotRepository) LatestByFingerprint(ctx context.Context, fingerprint string) (snapshot.Snapshot, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return snapshot.Snapshot{}, snapshot.ErrMissingFingerprint
	}

	var row snapshotRowModel
	err := r.db.GetContext(ctx, &row, `SELECT
    id,
    query_fingerprint,
    query_kind,
    entities,
    manifest,
    entity_count,
    source_count,
    captured_at
FROM aggregate_snapshots
WHERE query_fingerprint = $1
ORDER BY captured_at DESC, id DESC
LIMIT 1`, fingerprint)
	if err != nil {
		if isNotFound(err) {
			return snapshot.Snapshot{}, snapshot.ErrNotFound
		}
		return snapshot.Snapshot{}, fmt.Errorf("select latest snapshot fingerprint=%s: %w", fingerprint, err)
	}

	return decodeSnapshotRow(row)
}

// Prune keeps the newest keepPerFingerprint rows per fingerprint and
// deletes the rest. Export consumers only read the latest row, so old
// captures are pure bloat.
func (r *SnapshotRepository) Prune(ctx context.Context, keepPerFingerprint int) (int64, error) {
	if keepPerFingerprint < 1 {
		keepPerFingerprint = 1
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM aggregate_snapshots
WHERE id IN (
    SELECT id FROM (
        SELECT id, ROW_NUMBER() OVER (
            PARTITION BY query_fingerprint
            ORDER BY captured_at DESC, id DESC
        ) AS rank
        FROM aggregate_snapshots
    ) ranked
    WHERE ranked.rank > $1
)`, keepPerFingerprint)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots keep=%d: %w", keepPerFingerprint, err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune snapshots rows affected: %w", err)
	}
	return deleted, nil
}

func decodeSnapshotRow(row snapshotRowModel) (snapshot.Snapshot, error) {
	snap := snapshot.Snapshot{
		ID:               row.ID,
		QueryFingerprint: row.QueryFingerprint,
		QueryKind:        source.QueryKind(row.QueryKind),
		CapturedAt:       row.CapturedAt,
	}

	if row.Entities != "" {
		var entities []entity.CanonicalEntity
		if err := sonic.UnmarshalString(row.Entities, &entities); err != nil {
			return snapshot.Snapshot{}, fmt.Errorf("decode snapshot entities id=%d: %w", row.ID, err)
		}
		snap.Entities = entities
	}
	if row.Manifest != "" {
		var manifest []source.Result
		if err := sonic.UnmarshalString(row.Manifest, &manifest); err != nil {
			return snapshot.Snapshot{}, fmt.Errorf("decode snapshot manifest id=%d: %w", row.ID, err)
		}
		snap.Manifest = manifest
	}

	return snap, nil
}
