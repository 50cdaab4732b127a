package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ossianwinter/replayd/internal/domain"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() {
		if cErr := db.Close(); cErr != nil {
			t.Logf("db.Close error: %v", cErr)
		}
	})
	return db
}

// mustTrack creates artist/album/track rows for a play fixture.
func mustTrack(t *testing.T, db *DB, artist, album, title string) *domain.Track {
	t.Helper()
	a, err := db.UpsertArtist(artist, "")
	if err != nil {
		t.Fatalf("UpsertArtist failed: %v", err)
	}
	var albumID *int64
	if album != "" {
		al, err := db.UpsertAlbum(a.ID, album, "")
		if err != nil {
			t.Fatalf("UpsertAlbum failed: %v", err)
		}
		albumID = &al.ID
	}
	track, err := db.UpsertTrack(a.ID, albumID, title, "", 0)
	if err != nil {
		t.Fatalf("UpsertTrack failed: %v", err)
	}
	return track
}

func mustPlay(t *testing.T, db *DB, trackID int64, playedAt time.Time) {
	t.Helper()
	if _, err := db.InsertPlayEventIfAbsent(trackID, playedAt, "scrobble"); err != nil {
		t.Fatalf("InsertPlayEventIfAbsent failed: %v", err)
	}
}

func TestUpsertArtist(t *testing.T) {
	db := setupTestDB(t)

	first, err := db.UpsertArtist("Radiohead", "")
	if err != nil {
		t.Fatalf("UpsertArtist failed: %v", err)
	}
	if first.ID == 0 {
		t.Error("Expected artist ID to be set")
	}
	if first.Name != "Radiohead" {
		t.Errorf("Expected canonical name Radiohead, got %s", first.Name)
	}

	// Same identity under different whitespace/casing reuses the row
	second, err := db.UpsertArtist("  radiohead ", "sp-artist-1")
	if err != nil {
		t.Fatalf("UpsertArtist failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected same artist row, got %d and %d", first.ID, second.ID)
	}
	if second.Name != "Radiohead" {
		t.Errorf("Expected original casing preserved, got %s", second.Name)
	}
	if second.ExternalID != "sp-artist-1" {
		t.Errorf("Expected external id attached, got %q", second.ExternalID)
	}

	// An already attached external id is not overwritten
	third, err := db.UpsertArtist("Radiohead", "sp-artist-other")
	if err != nil {
		t.Fatalf("UpsertArtist failed: %v", err)
	}
	if third.ExternalID != "sp-artist-1" {
		t.Errorf("Expected external id to stay sp-artist-1, got %q", third.ExternalID)
	}

	if _, err := db.UpsertArtist("   ", ""); err == nil {
		t.Error("Expected error for empty artist name")
	}
}

func TestUpsertTrackIdentity(t *testing.T) {
	db := setupTestDB(t)

	artist, _ := db.UpsertArtist("The National", "")
	album, _ := db.UpsertAlbum(artist.ID, "Boxer", "")

	withAlbum, err := db.UpsertTrack(artist.ID, &album.ID, "Fake Empire", "", 0)
	if err != nil {
		t.Fatalf("UpsertTrack failed: %v", err)
	}
	again, err := db.UpsertTrack(artist.ID, &album.ID, " fake  empire ", "sp-1", 205)
	if err != nil {
		t.Fatalf("UpsertTrack failed: %v", err)
	}
	if again.ID != withAlbum.ID {
		t.Errorf("Expected same track row, got %d and %d", withAlbum.ID, again.ID)
	}
	if again.ExternalID != "sp-1" || again.Duration != 205 {
		t.Errorf("Expected external id and duration filled in, got %+v", again)
	}

	// Same title without an album is a distinct identity
	noAlbum, err := db.UpsertTrack(artist.ID, nil, "Fake Empire", "", 0)
	if err != nil {
		t.Fatalf("UpsertTrack failed: %v", err)
	}
	if noAlbum.ID == withAlbum.ID {
		t.Error("Expected album-less track to be a separate row")
	}
	noAlbumAgain, err := db.UpsertTrack(artist.ID, nil, "FAKE EMPIRE", "", 0)
	if err != nil {
		t.Fatalf("UpsertTrack failed: %v", err)
	}
	if noAlbumAgain.ID != noAlbum.ID {
		t.Error("Expected album-less track upsert to be idempotent")
	}
}

func TestInsertPlayEventIfAbsent(t *testing.T) {
	db := setupTestDB(t)
	track := mustTrack(t, db, "Kate Bush", "Hounds of Love", "Cloudbusting")
	playedAt := time.Date(2026, 5, 1, 12, 30, 0, 0, time.UTC)

	inserted, err := db.InsertPlayEventIfAbsent(track.ID, playedAt, "scrobble")
	if err != nil {
		t.Fatalf("InsertPlayEventIfAbsent failed: %v", err)
	}
	if !inserted {
		t.Error("Expected first insert to report true")
	}

	inserted, err = db.InsertPlayEventIfAbsent(track.ID, playedAt, "scrobble")
	if err != nil {
		t.Fatalf("InsertPlayEventIfAbsent failed: %v", err)
	}
	if inserted {
		t.Error("Expected duplicate insert to report false")
	}

	count, err := db.CountPlayEvents()
	if err != nil {
		t.Fatalf("CountPlayEvents failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 play event, got %d", count)
	}
}

func TestQueryPlaysInWindow(t *testing.T) {
	db := setupTestDB(t)
	track := mustTrack(t, db, "MGMT", "", "Kids")
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		mustPlay(t, db, track.ID, base.Add(time.Duration(i)*24*time.Hour))
	}

	plays, err := db.QueryPlaysInWindow(base.Add(24*time.Hour), base.Add(3*24*time.Hour), PlayFilters{})
	if err != nil {
		t.Fatalf("QueryPlaysInWindow failed: %v", err)
	}
	if len(plays) != 2 {
		t.Fatalf("Expected 2 plays in window, got %d", len(plays))
	}
	if !plays[0].PlayedAt.Before(plays[1].PlayedAt) {
		t.Error("Expected plays ordered by played_at ascending")
	}

	filtered, err := db.QueryPlaysInWindow(base, base.Add(10*24*time.Hour), PlayFilters{ArtistID: track.ArtistID, Source: "scrobble"})
	if err != nil {
		t.Fatalf("QueryPlaysInWindow with filters failed: %v", err)
	}
	if len(filtered) != 5 {
		t.Errorf("Expected 5 filtered plays, got %d", len(filtered))
	}
}

func TestTopTracksOrdering(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	heavy := mustTrack(t, db, "Artist A", "", "Heavy Rotation")
	tied := mustTrack(t, db, "Artist B", "", "Tied But Newer")
	light := mustTrack(t, db, "Artist C", "", "One Spin")

	for i := 0; i < 3; i++ {
		mustPlay(t, db, heavy.ID, base.Add(time.Duration(i)*time.Hour))
	}
	for i := 0; i < 3; i++ {
		mustPlay(t, db, tied.ID, base.Add(time.Duration(i)*time.Hour+30*time.Minute))
	}
	mustPlay(t, db, light.ID, base)

	top, err := db.TopTracks(base.Add(-time.Hour), base.Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("TopTracks failed: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("Expected 3 tracks, got %d", len(top))
	}
	// Equal counts: the more recently played track wins the tie
	if top[0].TrackID != tied.ID {
		t.Errorf("Expected tie broken by recency, got track %d first", top[0].TrackID)
	}
	if top[1].TrackID != heavy.ID || top[2].TrackID != light.ID {
		t.Errorf("Unexpected order: %+v", top)
	}
	if top[0].PlayCount != 3 {
		t.Errorf("Expected play count 3, got %d", top[0].PlayCount)
	}

	// Limit is honored
	top, err = db.TopTracks(base.Add(-time.Hour), base.Add(24*time.Hour), 1)
	if err != nil {
		t.Fatalf("TopTracks failed: %v", err)
	}
	if len(top) != 1 {
		t.Errorf("Expected 1 track with limit 1, got %d", len(top))
	}
}

func TestTopTracksEmptyStore(t *testing.T) {
	db := setupTestDB(t)

	top, err := db.TopTracks(time.Unix(0, 0), time.Now(), 50)
	if err != nil {
		t.Fatalf("TopTracks failed: %v", err)
	}
	if len(top) != 0 {
		t.Errorf("Expected empty result, got %d", len(top))
	}
}

func TestTopArtists(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	first := mustTrack(t, db, "Big Artist", "", "Song One")
	second := mustTrack(t, db, "Big Artist", "", "Song Two")
	other := mustTrack(t, db, "Small Artist", "", "Song Three")

	mustPlay(t, db, first.ID, base)
	mustPlay(t, db, second.ID, base.Add(time.Hour))
	mustPlay(t, db, other.ID, base.Add(2*time.Hour))

	artists, err := db.TopArtists(base.Add(-time.Hour), base.Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("TopArtists failed: %v", err)
	}
	if len(artists) != 2 {
		t.Fatalf("Expected 2 artists, got %d", len(artists))
	}
	if artists[0].Name != "Big Artist" || artists[0].PlayCount != 2 {
		t.Errorf("Unexpected top artist: %+v", artists[0])
	}
}

func TestBingedTracks(t *testing.T) {
	db := setupTestDB(t)
	day := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

	// Played 1, 2 and 3 times across three days: qualifies at threshold 3
	binged := mustTrack(t, db, "Binge Artist", "", "On Repeat")
	mustPlay(t, db, binged.ID, day)
	for i := 0; i < 2; i++ {
		mustPlay(t, db, binged.ID, day.Add(24*time.Hour+time.Duration(i)*time.Hour))
	}
	for i := 0; i < 3; i++ {
		mustPlay(t, db, binged.ID, day.Add(48*time.Hour+time.Duration(i)*time.Hour))
	}

	// Max two plays on any single day: does not qualify
	casual := mustTrack(t, db, "Casual Artist", "", "Sometimes")
	mustPlay(t, db, casual.ID, day)
	mustPlay(t, db, casual.ID, day.Add(time.Hour))

	results, err := db.BingedTracks(day.Add(-24*time.Hour), day.Add(7*24*time.Hour), 3, 10)
	if err != nil {
		t.Fatalf("BingedTracks failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 binged track, got %d", len(results))
	}
	if results[0].TrackID != binged.ID {
		t.Errorf("Expected track %d, got %d", binged.ID, results[0].TrackID)
	}
	if results[0].PlayCount != 3 {
		t.Errorf("Expected best single-day count 3, got %d", results[0].PlayCount)
	}
}

func TestPlaysPerTrackPerDay(t *testing.T) {
	db := setupTestDB(t)
	day := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	track := mustTrack(t, db, "Daily Artist", "", "Daily Song")

	mustPlay(t, db, track.ID, day)
	mustPlay(t, db, track.ID, day.Add(2*time.Hour))
	mustPlay(t, db, track.ID, day.Add(26*time.Hour))

	rows, err := db.PlaysPerTrackPerDay(day.Add(-time.Hour), day.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("PlaysPerTrackPerDay failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 daily rows, got %d", len(rows))
	}
	if rows[0].Day != "2026-05-10" || rows[0].Count != 2 {
		t.Errorf("Unexpected first row: %+v", rows[0])
	}
	if rows[1].Day != "2026-05-11" || rows[1].Count != 1 {
		t.Errorf("Unexpected second row: %+v", rows[1])
	}
}

func TestTracksMissingExternalID(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	popular := mustTrack(t, db, "Popular", "Album", "Unresolved Hit")
	rare := mustTrack(t, db, "Rare", "", "Unresolved B-Side")
	resolved := mustTrack(t, db, "Done", "", "Already Resolved")

	for i := 0; i < 3; i++ {
		mustPlay(t, db, popular.ID, base.Add(time.Duration(i)*time.Hour))
	}
	mustPlay(t, db, rare.ID, base)
	mustPlay(t, db, resolved.ID, base)

	if err := db.UpdateTrackExternalID(resolved.ID, "sp-done"); err != nil {
		t.Fatalf("UpdateTrackExternalID failed: %v", err)
	}

	missing, err := db.TracksMissingExternalID(10)
	if err != nil {
		t.Fatalf("TracksMissingExternalID failed: %v", err)
	}
	if len(missing) != 2 {
		t.Fatalf("Expected 2 unresolved tracks, got %d", len(missing))
	}
	if missing[0].ID != popular.ID || missing[0].PlayCount != 3 {
		t.Errorf("Expected most played unresolved track first, got %+v", missing[0])
	}
	if missing[0].Album != "Album" {
		t.Errorf("Expected album name carried through, got %q", missing[0].Album)
	}

	if err := db.UpdateTrackExternalID(99999, "sp-x"); err == nil {
		t.Error("Expected error for unknown track id")
	}
}

func TestOldestPlay(t *testing.T) {
	db := setupTestDB(t)

	oldest, err := db.OldestPlay()
	if err != nil {
		t.Fatalf("OldestPlay failed: %v", err)
	}
	if oldest != nil {
		t.Errorf("Expected nil for empty store, got %v", oldest)
	}

	track := mustTrack(t, db, "First", "", "Play")
	first := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	mustPlay(t, db, track.ID, first)
	mustPlay(t, db, track.ID, first.Add(time.Hour))

	oldest, err = db.OldestPlay()
	if err != nil {
		t.Fatalf("OldestPlay failed: %v", err)
	}
	if oldest == nil || !oldest.Equal(first) {
		t.Errorf("Expected oldest play %v, got %v", first, oldest)
	}

	newest, err := db.NewestPlay()
	if err != nil {
		t.Fatalf("NewestPlay failed: %v", err)
	}
	if newest == nil || !newest.Equal(first.Add(time.Hour)) {
		t.Errorf("Expected newest play %v, got %v", first.Add(time.Hour), newest)
	}
}
