package postgres

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	sonic "github.com/bytedance/sonic"

	"github.com/prospectdb/prospect-stats/internal/domain/entity"
	"github.com/prospectdb/prospect-stats/internal/domain/source"
)

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	if !isNotFound(sql.ErrNoRows) {
		t.Fatalf("sql.ErrNoRows must classify as not found")
	}
	if !isNotFound(fmt.Errorf("wrap: %w", sql.ErrNoRows)) {
		t.Fatalf("wrapped sql.ErrNoRows must classify as not found")
	}
	if isNotFound(fmt.Errorf("connection refused")) {
		t.Fatalf("unrelated errors must not classify as not found")
	}
	if isNotFound(nil) {
		t.Fatalf("nil must not classify as not found")
	}
}

func TestDecodeSnapshotRow(t *testing.T) {
	t.Parallel()

	entities := []entity.CanonicalEntity{{
		EntityUID:          "abc123",
		PrimaryDisplayName: "Michael Smith",
		MatchConfidence:    0.9,
	}}
	manifest := []source.Result{{
		SourceKey: "maxpreps",
		Status:    source.StatusOK,
	}}

	entitiesJSON, err := sonic.MarshalString(entities)
	if err != nil {
		t.Fatalf("encode entities: %v", err)
	}
	manifestJSON, err := sonic.MarshalString(manifest)
	if err != nil {
		t.Fatalf("encode manifest: %v", err)
	}

	capturedAt := time.Date(2026, time.August, 30, 10, 0, 0, 0, time.UTC)
	row := snapshotRowModel{
		ID:               7,
		QueryFingerprint: "search:deadbeef",
		QueryKind:        "search",
		Entities:         entitiesJSON,
		Manifest:         manifestJSON,
		EntityCount:      1,
		SourceCount:      1,
		CapturedAt:       capturedAt,
	}

	snap, err := decodeSnapshotRow(row)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.ID != 7 || snap.QueryFingerprint != "search:deadbeef" {
		t.Fatalf("unexpected snapshot identity: %+v", snap)
	}
	if snap.QueryKind != source.KindSearch {
		t.Fatalf("kind = %q", snap.QueryKind)
	}
	if len(snap.Entities) != 1 || snap.Entities[0].EntityUID != "abc123" {
		t.Fatalf("unexpected entities: %+v", snap.Entities)
	}
	if len(snap.Manifest) != 1 || snap.Manifest[0].SourceKey != "maxpreps" {
		t.Fatalf("unexpected manifest: %+v", snap.Manifest)
	}
	if !snap.CapturedAt.Equal(capturedAt) {
		t.Fatalf("captured at = %v", snap.CapturedAt)
	}
}

func TestDecodeSnapshotRowEmptyPayloads(t *testing.T) {
	t.Parallel()

	snap, err := decodeSnapshotRow(snapshotRowModel{ID: 1, QueryFingerprint: "search:0", QueryKind: "search"})
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if snap.Entities != nil || snap.Manifest != nil {
		t.Fatalf("expected nil payloads, got %+v", snap)
	}
}

func TestDecodeSnapshotRowRejectsBadJSON(t *testing.T) {
	t.Parallel()

	if _, err := decodeSnapshotRow(snapshotRowModel{ID: 1, Entities: "not-json"}); err == nil {
		t.Fatalf("expected decode error for malformed entities")
	}
	if _, err := decodeSnapshotRow(snapshotRowModel{ID: 1, Manifest: "not-json"}); err == nil {
		t.Fatalf("expected decode error for malformed manifest")
	}
}
