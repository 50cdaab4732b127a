package domain

import (
	"strings"
	"time"
)

// Artist is a canonical artist row. Identity is the normalized name;
// the stored name keeps the casing of the first observed play.
type Artist struct {
	ID         int64  `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	NameKey    string `json:"-" db:"name_key"`
	ExternalID string `json:"external_id,omitempty" db:"external_id"`
}

// Album is a canonical album row, unique per (artist, normalized title).
type Album struct {
	ID         int64  `json:"id" db:"id"`
	ArtistID   int64  `json:"artist_id" db:"artist_id"`
	Title      string `json:"title" db:"title"`
	TitleKey   string `json:"-" db:"title_key"`
	ExternalID string `json:"external_id,omitempty" db:"external_id"`
}

// Track is a canonical track row, unique per (artist, album-or-none,
// normalized title). ExternalID is empty until resolved against the
// playlist provider; only resolved tracks are publishable.
type Track struct {
	ID         int64  `json:"id" db:"id"`
	ArtistID   int64  `json:"artist_id" db:"artist_id"`
	AlbumID    *int64 `json:"album_id,omitempty" db:"album_id"`
	Title      string `json:"title" db:"title"`
	TitleKey   string `json:"-" db:"title_key"`
	ExternalID string `json:"external_id,omitempty" db:"external_id"`
	Duration   int    `json:"duration,omitempty" db:"duration"`
}

// PlayEvent is one scrobble. Rows are immutable and unique on
// (track_id, played_at); re-ingesting the same window is a no-op.
type PlayEvent struct {
	ID         int64     `json:"id" db:"id"`
	TrackID    int64     `json:"track_id" db:"track_id"`
	PlayedAt   time.Time `json:"played_at" db:"played_at"`
	Source     string    `json:"source" db:"source"`
	InsertedAt time.Time `json:"inserted_at" db:"inserted_at"`
}

type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusRunning SyncStatus = "running"
	SyncStatusError   SyncStatus = "error"
)

// SyncCheckpoint records per-stream ingestion progress. The running
// status doubles as the mutual-exclusion flag for the stream.
type SyncCheckpoint struct {
	Stream            string     `json:"stream" db:"stream"`
	Status            SyncStatus `json:"status" db:"status"`
	ChunkStart        *time.Time `json:"chunk_start,omitempty" db:"chunk_start"`
	ChunkEnd          *time.Time `json:"chunk_end,omitempty" db:"chunk_end"`
	Cursor            string     `json:"cursor,omitempty" db:"cursor"`
	LastCompleted     *time.Time `json:"last_completed,omitempty" db:"last_completed"`
	LastError         *string    `json:"last_error,omitempty" db:"last_error"`
	LastRunID         string     `json:"last_run_id,omitempty" db:"last_run_id"`
	PagesFetched      int        `json:"pages_fetched" db:"pages_fetched"`
	EventsIngested    int        `json:"events_ingested" db:"events_ingested"`
	DuplicatesSkipped int        `json:"duplicates_skipped" db:"duplicates_skipped"`
	MalformedSkipped  int        `json:"malformed_skipped" db:"malformed_skipped"`
	StartedAt         *time.Time `json:"started_at,omitempty" db:"started_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	LastSuccessAt     *time.Time `json:"last_success_at,omitempty" db:"last_success_at"`
}

type PlaylistType string

const (
	PlaylistMostPlayed      PlaylistType = "most-played"
	PlaylistRecentFavorites PlaylistType = "recent-favorites"
	PlaylistBinged          PlaylistType = "binged"
)

// PlaylistDefinition is read-only configuration for one curated playlist.
type PlaylistDefinition struct {
	Type          PlaylistType `json:"type" toml:"type"`
	Name          string       `json:"name" toml:"name"`
	ExternalID    string       `json:"external_id" toml:"external_id"`
	Size          int          `json:"size" toml:"size"`
	WindowDays    int          `json:"window_days,omitempty" toml:"window_days"`
	MinDailyPlays int          `json:"min_daily_plays,omitempty" toml:"min_daily_plays"`
}

// Selection is one curated playlist entry, ordered by rank.
type Selection struct {
	TrackID    int64     `json:"track_id" db:"track_id"`
	Title      string    `json:"title" db:"title"`
	Artist     string    `json:"artist" db:"artist"`
	ExternalID string    `json:"external_id,omitempty" db:"external_id"`
	PlayCount  int       `json:"play_count" db:"play_count"`
	LastPlayed time.Time `json:"last_played" db:"last_played"`
}

// PlaylistStatus is the persisted outcome of the last publish cycle.
type PlaylistStatus struct {
	Type           PlaylistType `json:"type" db:"type"`
	ExternalID     string       `json:"external_id" db:"external_id"`
	ConfiguredSize int          `json:"configured_size" db:"configured_size"`
	CurrentSize    int          `json:"current_size" db:"current_size"`
	LastUpdated    *time.Time   `json:"last_updated,omitempty" db:"last_updated"`
	LastError      *string      `json:"last_error,omitempty" db:"last_error"`
}

// NormalizeKey derives the identity key used for dedup: surrounding
// whitespace trimmed, inner runs collapsed, case-folded. Display values
// keep their original casing.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
