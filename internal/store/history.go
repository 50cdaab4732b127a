package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/ossianwinter/replayd/internal/domain"
)

// UpsertArtist returns the canonical artist row for a name, creating it on
// first sight. A non-empty externalID is attached if the row lacks one.
func (db *DB) UpsertArtist(name, externalID string) (*domain.Artist, error) {
	key := domain.NormalizeKey(name)
	if key == "" {
		return nil, fmt.Errorf("artist name is empty")
	}

	query := `INSERT INTO artists (name, name_key, external_id)
		VALUES (?, ?, ?)
		ON CONFLICT(name_key) DO UPDATE SET
			external_id = CASE
				WHEN artists.external_id = '' AND excluded.external_id != '' THEN excluded.external_id
				ELSE artists.external_id
			END
		RETURNING id, name, name_key, external_id`

	var artist domain.Artist
	if err := db.Get(&artist, query, strings.TrimSpace(name), key, externalID); err != nil {
		return nil, fmt.Errorf("failed to upsert artist %q: %w", name, err)
	}
	return &artist, nil
}

// UpsertAlbum returns the canonical album row for (artist, title).
func (db *DB) UpsertAlbum(artistID int64, title, externalID string) (*domain.Album, error) {
	key := domain.NormalizeKey(title)
	if key == "" {
		return nil, fmt.Errorf("album title is empty")
	}

	query := `INSERT INTO albums (artist_id, title, title_key, external_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(artist_id, title_key) DO UPDATE SET
			external_id = CASE
				WHEN albums.external_id = '' AND excluded.external_id != '' THEN excluded.external_id
				ELSE albums.external_id
			END
		RETURNING id, artist_id, title, title_key, external_id`

	var album domain.Album
	if err := db.Get(&album, query, artistID, strings.TrimSpace(title), key, externalID); err != nil {
		return nil, fmt.Errorf("failed to upsert album %q: %w", title, err)
	}
	return &album, nil
}

// UpsertTrack returns the canonical track row for (artist, album-or-none,
// title). External id and duration are filled in when first known.
func (db *DB) UpsertTrack(artistID int64, albumID *int64, title, externalID string, duration int) (*domain.Track, error) {
	key := domain.NormalizeKey(title)
	if key == "" {
		return nil, fmt.Errorf("track title is empty")
	}

	fillColumns := `
			external_id = CASE
				WHEN tracks.external_id = '' AND excluded.external_id != '' THEN excluded.external_id
				ELSE tracks.external_id
			END,
			duration = CASE
				WHEN tracks.duration = 0 AND excluded.duration != 0 THEN excluded.duration
				ELSE tracks.duration
			END`
	returning := ` RETURNING id, artist_id, album_id, title, title_key, external_id, duration`

	var query string
	if albumID != nil {
		query = `INSERT INTO tracks (artist_id, album_id, title, title_key, external_id, duration)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(artist_id, album_id, title_key) WHERE album_id IS NOT NULL DO UPDATE SET` +
			fillColumns + returning
	} else {
		query = `INSERT INTO tracks (artist_id, album_id, title, title_key, external_id, duration)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(artist_id, title_key) WHERE album_id IS NULL DO UPDATE SET` +
			fillColumns + returning
	}

	var track domain.Track
	if err := db.Get(&track, query, artistID, albumID, strings.TrimSpace(title), key, externalID, duration); err != nil {
		return nil, fmt.Errorf("failed to upsert track %q: %w", title, err)
	}
	return &track, nil
}

// InsertPlayEventIfAbsent records one scrobble. It reports whether a new
// row was inserted; an existing (track, played_at) pair is left untouched.
func (db *DB) InsertPlayEventIfAbsent(trackID int64, playedAt time.Time, source string) (bool, error) {
	query := `INSERT OR IGNORE INTO play_events (track_id, played_at, source, inserted_at)
		VALUES (?, ?, ?, ?)`

	result, err := db.Exec(query, trackID, playedAt.UTC(), source, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert play event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// UpdateTrackExternalID attaches a lazily resolved provider id.
func (db *DB) UpdateTrackExternalID(trackID int64, externalID string) error {
	result, err := db.Exec(`UPDATE tracks SET external_id = ? WHERE id = ?`, externalID, trackID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("track with id %d not found", trackID)
	}
	return nil
}

// PlayFilters narrows QueryPlaysInWindow.
type PlayFilters struct {
	ArtistID int64
	Source   string
}

func (db *DB) QueryPlaysInWindow(start, end time.Time, filters PlayFilters) ([]*domain.PlayEvent, error) {
	query := `SELECT p.id, p.track_id, p.played_at, p.source, p.inserted_at
		FROM play_events p`
	args := []interface{}{}

	where := []string{"p.played_at >= ?", "p.played_at < ?"}
	if filters.ArtistID != 0 {
		query += ` JOIN tracks t ON t.id = p.track_id`
		where = append(where, "t.artist_id = ?")
	}
	args = append(args, start.UTC(), end.UTC())
	if filters.ArtistID != 0 {
		args = append(args, filters.ArtistID)
	}
	if filters.Source != "" {
		where = append(where, "p.source = ?")
		args = append(args, filters.Source)
	}

	query += " WHERE " + strings.Join(where, " AND ") + " ORDER BY p.played_at ASC"

	var plays []*domain.PlayEvent
	err := db.Select(&plays, query, args...)
	return plays, err
}

// selectionRow carries aggregate results; last_played loses its column
// decltype inside MAX() so it arrives as text and is parsed in Go.
type selectionRow struct {
	TrackID    int64  `db:"track_id"`
	Title      string `db:"title"`
	Artist     string `db:"artist"`
	ExternalID string `db:"external_id"`
	PlayCount  int    `db:"play_count"`
	LastPlayed string `db:"last_played"`
}

func (r selectionRow) toSelection() (domain.Selection, error) {
	last, err := parseDBTime(r.LastPlayed)
	if err != nil {
		return domain.Selection{}, err
	}
	return domain.Selection{
		TrackID:    r.TrackID,
		Title:      r.Title,
		Artist:     r.Artist,
		ExternalID: r.ExternalID,
		PlayCount:  r.PlayCount,
		LastPlayed: last,
	}, nil
}

// TopTracks ranks tracks by play count within [start, end), ties broken by
// most recent play, then artist and title for a stable order.
func (db *DB) TopTracks(start, end time.Time, limit int) ([]domain.Selection, error) {
	query := `SELECT t.id AS track_id, t.title, a.name AS artist, t.external_id,
			COUNT(p.id) AS play_count, MAX(p.played_at) AS last_played
		FROM play_events p
		JOIN tracks t ON t.id = p.track_id
		JOIN artists a ON a.id = t.artist_id
		WHERE p.played_at >= ? AND p.played_at < ?
		GROUP BY t.id
		ORDER BY play_count DESC, last_played DESC, artist ASC, t.title ASC
		LIMIT ?`

	var rows []selectionRow
	if err := db.Select(&rows, query, start.UTC(), end.UTC(), limit); err != nil {
		return nil, err
	}
	return toSelections(rows)
}

// ArtistPlays is one TopArtists result.
type ArtistPlays struct {
	ArtistID   int64  `db:"artist_id"`
	Name       string `db:"name"`
	ExternalID string `db:"external_id"`
	PlayCount  int    `db:"play_count"`
}

func (db *DB) TopArtists(start, end time.Time, limit int) ([]ArtistPlays, error) {
	query := `SELECT a.id AS artist_id, a.name, a.external_id, COUNT(p.id) AS play_count
		FROM play_events p
		JOIN tracks t ON t.id = p.track_id
		JOIN artists a ON a.id = t.artist_id
		WHERE p.played_at >= ? AND p.played_at < ?
		GROUP BY a.id
		ORDER BY play_count DESC, a.name ASC
		LIMIT ?`

	var rows []ArtistPlays
	err := db.Select(&rows, query, start.UTC(), end.UTC(), limit)
	return rows, err
}

// DailyPlays is one (track, calendar day) aggregate.
type DailyPlays struct {
	TrackID int64  `db:"track_id"`
	Day     string `db:"day"`
	Count   int    `db:"count"`
}

func (db *DB) PlaysPerTrackPerDay(start, end time.Time) ([]DailyPlays, error) {
	query := `SELECT track_id, date(played_at) AS day, COUNT(*) AS count
		FROM play_events
		WHERE played_at >= ? AND played_at < ?
		GROUP BY track_id, date(played_at)
		ORDER BY track_id ASC, day ASC`

	var rows []DailyPlays
	err := db.Select(&rows, query, start.UTC(), end.UTC())
	return rows, err
}

// BingedTracks returns tracks with at least one calendar day of minDaily or
// more plays within [start, end), ranked by their best single-day count,
// ties broken by the most recent qualifying day.
func (db *DB) BingedTracks(start, end time.Time, minDaily, limit int) ([]domain.Selection, error) {
	query := `WITH daily AS (
			SELECT track_id, date(played_at) AS day, COUNT(*) AS cnt, MAX(played_at) AS latest
			FROM play_events
			WHERE played_at >= ? AND played_at < ?
			GROUP BY track_id, date(played_at)
			HAVING COUNT(*) >= ?
		)
		SELECT t.id AS track_id, t.title, a.name AS artist, t.external_id,
			MAX(d.cnt) AS play_count, MAX(d.latest) AS last_played
		FROM daily d
		JOIN tracks t ON t.id = d.track_id
		JOIN artists a ON a.id = t.artist_id
		GROUP BY t.id
		ORDER BY play_count DESC, last_played DESC, artist ASC, t.title ASC
		LIMIT ?`

	var rows []selectionRow
	if err := db.Select(&rows, query, start.UTC(), end.UTC(), minDaily, limit); err != nil {
		return nil, err
	}
	return toSelections(rows)
}

// UnresolvedTrack is a track without a provider id, ranked by popularity.
type UnresolvedTrack struct {
	ID        int64  `db:"id"`
	Title     string `db:"title"`
	Artist    string `db:"artist"`
	Album     string `db:"album"`
	PlayCount int    `db:"play_count"`
}

// TracksMissingExternalID lists the most played tracks still lacking a
// provider id, so resolution effort goes to tracks that matter.
func (db *DB) TracksMissingExternalID(limit int) ([]UnresolvedTrack, error) {
	query := `SELECT t.id, t.title, a.name AS artist, COALESCE(al.title, '') AS album,
			COUNT(p.id) AS play_count
		FROM tracks t
		JOIN artists a ON a.id = t.artist_id
		LEFT JOIN albums al ON al.id = t.album_id
		LEFT JOIN play_events p ON p.track_id = t.id
		WHERE t.external_id = ''
		GROUP BY t.id
		ORDER BY play_count DESC, a.name ASC, t.title ASC
		LIMIT ?`

	var rows []UnresolvedTrack
	err := db.Select(&rows, query, limit)
	return rows, err
}

func (db *DB) CountPlayEvents() (int64, error) {
	var count int64
	err := db.Get(&count, `SELECT COUNT(*) FROM play_events`)
	return count, err
}

// OldestPlay returns the earliest played_at in the store, or nil when the
// history is empty.
func (db *DB) OldestPlay() (*time.Time, error) {
	return db.playBoundary(`SELECT MIN(played_at) FROM play_events`)
}

// NewestPlay returns the latest played_at in the store, or nil when the
// history is empty.
func (db *DB) NewestPlay() (*time.Time, error) {
	return db.playBoundary(`SELECT MAX(played_at) FROM play_events`)
}

func (db *DB) playBoundary(query string) (*time.Time, error) {
	var raw *string
	if err := db.Get(&raw, query); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	t, err := parseDBTime(*raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func toSelections(rows []selectionRow) ([]domain.Selection, error) {
	selections := make([]domain.Selection, 0, len(rows))
	for _, row := range rows {
		sel, err := row.toSelection()
		if err != nil {
			return nil, err
		}
		selections = append(selections, sel)
	}
	return selections, nil
}

var dbTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDBTime(s string) (time.Time, error) {
	for _, layout := range dbTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time value %q", s)
}
