package store

import (
	"time"

	"github.com/ossianwinter/replayd/internal/domain"
)

// RecordPlaylistUpdate upserts the status row after a successful publish.
func (db *DB) RecordPlaylistUpdate(def domain.PlaylistDefinition, currentSize int) error {
	_, err := db.Exec(`INSERT INTO playlist_statuses (type, external_id, configured_size, current_size, last_updated, last_error)
		VALUES (?, ?, ?, ?, ?, NULL)
		ON CONFLICT(type) DO UPDATE SET
			external_id = excluded.external_id,
			configured_size = excluded.configured_size,
			current_size = excluded.current_size,
			last_updated = excluded.last_updated,
			last_error = NULL`,
		def.Type, def.ExternalID, def.Size, currentSize, time.Now().UTC())
	return err
}

// RecordPlaylistError upserts the status row after a failed publish,
// keeping the last known size and update time.
func (db *DB) RecordPlaylistError(def domain.PlaylistDefinition, message string) error {
	_, err := db.Exec(`INSERT INTO playlist_statuses (type, external_id, configured_size, current_size, last_error)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(type) DO UPDATE SET
			external_id = excluded.external_id,
			configured_size = excluded.configured_size,
			last_error = excluded.last_error`,
		def.Type, def.ExternalID, def.Size, message)
	return err
}

func (db *DB) ListPlaylistStatuses() ([]*domain.PlaylistStatus, error) {
	var statuses []*domain.PlaylistStatus
	err := db.Select(&statuses, `SELECT * FROM playlist_statuses ORDER BY type ASC`)
	return statuses, err
}
