package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ossianwinter/replayd/internal/domain"
)

// GetCheckpoint returns the checkpoint for a stream, or nil when the
// stream has never synced.
func (db *DB) GetCheckpoint(stream string) (*domain.SyncCheckpoint, error) {
	query := `SELECT * FROM sync_checkpoints WHERE stream = ?`

	var cp domain.SyncCheckpoint
	err := db.Get(&cp, query, stream)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (db *DB) ListCheckpoints() ([]*domain.SyncCheckpoint, error) {
	var cps []*domain.SyncCheckpoint
	err := db.Select(&cps, `SELECT * FROM sync_checkpoints ORDER BY stream ASC`)
	return cps, err
}

// AcquireRunning flips a stream to running with compare-and-set semantics:
// it succeeds only if the stream is not already running, or if a running
// row has not been touched within lease (a crashed run left it behind).
// The acquired flag is false when another run holds the stream. Chunk
// bounds and cursor are preserved so a resumed run can pick up mid-chunk.
func (db *DB) AcquireRunning(stream, runID string, lease time.Duration) (*domain.SyncCheckpoint, bool, error) {
	now := time.Now().UTC()

	_, err := db.Exec(`INSERT OR IGNORE INTO sync_checkpoints (stream, status, updated_at) VALUES (?, 'idle', ?)`,
		stream, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure checkpoint row: %w", err)
	}

	result, err := db.Exec(`UPDATE sync_checkpoints
		SET status = ?, last_run_id = ?, last_error = NULL, started_at = ?, updated_at = ?
		WHERE stream = ? AND (status != 'running' OR updated_at <= ?)`,
		domain.SyncStatusRunning, runID, now, now, stream, now.Add(-lease))
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire checkpoint: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if rows == 0 {
		return nil, false, nil
	}

	cp, err := db.GetCheckpoint(stream)
	if err != nil {
		return nil, false, err
	}
	return cp, true, nil
}

// ResetRunCounters zeroes the per-run counters. Called when a run starts
// fresh rather than resuming an interrupted chunk.
func (db *DB) ResetRunCounters(stream string) error {
	_, err := db.Exec(`UPDATE sync_checkpoints
		SET pages_fetched = 0, events_ingested = 0, duplicates_skipped = 0, malformed_skipped = 0, updated_at = ?
		WHERE stream = ?`, time.Now().UTC(), stream)
	return err
}

// BeginChunk records the bounds of the chunk about to be ingested and
// clears any stale cursor.
func (db *DB) BeginChunk(stream string, chunkStart, chunkEnd time.Time) error {
	_, err := db.Exec(`UPDATE sync_checkpoints
		SET chunk_start = ?, chunk_end = ?, cursor = '', updated_at = ?
		WHERE stream = ?`, chunkStart.UTC(), chunkEnd.UTC(), time.Now().UTC(), stream)
	return err
}

// PageStats carries per-page ingestion counts into the checkpoint row.
type PageStats struct {
	Ingested   int
	Duplicates int
	Malformed  int
}

// SavePageCursor persists the upstream cursor after a fully ingested page,
// so a crash resumes at the next page rather than the chunk start.
func (db *DB) SavePageCursor(stream, cursor string, stats PageStats) error {
	_, err := db.Exec(`UPDATE sync_checkpoints
		SET cursor = ?,
			pages_fetched = pages_fetched + 1,
			events_ingested = events_ingested + ?,
			duplicates_skipped = duplicates_skipped + ?,
			malformed_skipped = malformed_skipped + ?,
			updated_at = ?
		WHERE stream = ?`,
		cursor, stats.Ingested, stats.Duplicates, stats.Malformed, time.Now().UTC(), stream)
	return err
}

// CompleteChunk advances the completed window end and clears the in-flight
// chunk state. Status stays running; the caller decides when the whole
// sync is done.
func (db *DB) CompleteChunk(stream string, windowEnd time.Time) error {
	_, err := db.Exec(`UPDATE sync_checkpoints
		SET last_completed = ?, chunk_start = NULL, chunk_end = NULL, cursor = '', updated_at = ?
		WHERE stream = ?`, windowEnd.UTC(), time.Now().UTC(), stream)
	return err
}

// MarkIdle records a fully successful sync.
func (db *DB) MarkIdle(stream string) error {
	now := time.Now().UTC()
	_, err := db.Exec(`UPDATE sync_checkpoints
		SET status = ?, last_error = NULL, last_success_at = ?, updated_at = ?
		WHERE stream = ?`, domain.SyncStatusIdle, now, now, stream)
	return err
}

// MarkError records a failed sync, leaving chunk state in place for resume.
func (db *DB) MarkError(stream, message string) error {
	_, err := db.Exec(`UPDATE sync_checkpoints
		SET status = ?, last_error = ?, updated_at = ?
		WHERE stream = ?`, domain.SyncStatusError, message, time.Now().UTC(), stream)
	return err
}

// TouchCheckpoint refreshes updated_at so a long-running sync keeps its
// lease against stale-running takeover.
func (db *DB) TouchCheckpoint(stream string) error {
	_, err := db.Exec(`UPDATE sync_checkpoints SET updated_at = ? WHERE stream = ?`,
		time.Now().UTC(), stream)
	return err
}
