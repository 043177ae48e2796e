package postgres

import "time"

type snapshotInsertModel struct {
	QueryFingerprint string    `db:"query_fingerprint"`
	QueryKind        string    `db:"query_kind"`
	Entities         string    `db:"entities"`
	Manifest         string    `db:"manifest"`
	EntityCount      int       `db:"entity_count"`
	SourceCount      int       `db:"source_count"`
	CapturedAt       time.Time `db:"captured_at"`
}

type snapshotRowModel struct {
	ID               int64     `db:"id"`
	QueryFingerprint string    `db:"query_fingerprint"`
	QueryKind        string    `db:"query_kind"`
	Entities         string    `db:"entities"`
	Manifest         string    `db:"manifest"`
	EntityCount      int       `db:"entity_count"`
	SourceCount      int       `db:"source_count"`
	CapturedAt       time.Time `db:"captured_at"`
}
