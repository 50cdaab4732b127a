package publisher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ossianwinter/replayd/internal/domain"
	"github.com/ossianwinter/replayd/internal/logger"
	"github.com/ossianwinter/replayd/internal/store"
)

// fakeProvider keeps playlists in memory and applies operations the way
// the real service would, so tests can assert on the final order.
type fakeProvider struct {
	playlists map[string][]string
	searches  map[string]string
	addCalls  int
	delCalls  int
	failAdd   bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		playlists: make(map[string][]string),
		searches:  make(map[string]string),
	}
}

func (f *fakeProvider) GetPlaylistTracks(_ context.Context, playlistID string) ([]string, error) {
	return append([]string(nil), f.playlists[playlistID]...), nil
}

func (f *fakeProvider) AddTracks(_ context.Context, playlistID string, trackIDs []string, position int) error {
	f.addCalls++
	if f.failAdd {
		return errors.New("add rejected")
	}
	current := f.playlists[playlistID]
	if position > len(current) {
		position = len(current)
	}
	updated := make([]string, 0, len(current)+len(trackIDs))
	updated = append(updated, current[:position]...)
	updated = append(updated, trackIDs...)
	updated = append(updated, current[position:]...)
	f.playlists[playlistID] = updated
	return nil
}

func (f *fakeProvider) RemoveTracks(_ context.Context, playlistID string, trackIDs []string) error {
	f.delCalls++
	gone := make(map[string]bool, len(trackIDs))
	for _, id := range trackIDs {
		gone[id] = true
	}
	var remaining []string
	for _, id := range f.playlists[playlistID] {
		if !gone[id] {
			remaining = append(remaining, id)
		}
	}
	f.playlists[playlistID] = remaining
	return nil
}

func (f *fakeProvider) SearchTrack(_ context.Context, title, artist, _ string) (string, error) {
	return f.searches[artist+"|"+title], nil
}

func setupPublisher(t *testing.T) (*Publisher, *fakeProvider, *store.DB) {
	t.Helper()
	db, err := store.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() {
		if cErr := db.Close(); cErr != nil {
			t.Logf("db.Close error: %v", cErr)
		}
	})
	fake := newFakeProvider()
	return NewPublisher(db, fake, logger.Default()), fake, db
}

func selections(ids ...string) []domain.Selection {
	out := make([]domain.Selection, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Selection{ExternalID: id, Title: id})
	}
	return out
}

func testDef() domain.PlaylistDefinition {
	return domain.PlaylistDefinition{
		Type:       domain.PlaylistMostPlayed,
		Name:       "Most Played",
		ExternalID: "pl-1",
		Size:       10,
	}
}

func TestPublishFillsEmptyPlaylist(t *testing.T) {
	pub, fake, _ := setupPublisher(t)

	diff, err := pub.Publish(context.Background(), testDef(), selections("a", "b", "c"))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if diff.Added != 3 || diff.Removed != 0 || diff.Moved != 0 {
		t.Errorf("Unexpected diff: %+v", diff)
	}
	got := fake.playlists["pl-1"]
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Unexpected playlist contents: %v", got)
	}
}

func TestPublishIsIdempotent(t *testing.T) {
	pub, fake, _ := setupPublisher(t)
	fake.playlists["pl-1"] = []string{"a", "b", "c"}

	diff, err := pub.Publish(context.Background(), testDef(), selections("a", "b", "c"))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if diff.Added != 0 || diff.Removed != 0 || diff.Moved != 0 {
		t.Errorf("Expected no-op diff, got %+v", diff)
	}
	if fake.addCalls != 0 || fake.delCalls != 0 {
		t.Errorf("Expected no provider writes, got %d adds and %d removes", fake.addCalls, fake.delCalls)
	}
}

func TestPublishRemovesStaleTracks(t *testing.T) {
	pub, fake, _ := setupPublisher(t)
	fake.playlists["pl-1"] = []string{"a", "stale", "b"}

	diff, err := pub.Publish(context.Background(), testDef(), selections("a", "b"))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if diff.Removed != 1 || diff.Added != 0 || diff.Moved != 0 {
		t.Errorf("Unexpected diff: %+v", diff)
	}
	got := fake.playlists["pl-1"]
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Unexpected playlist contents: %v", got)
	}
}

func TestPublishReordersWithMoves(t *testing.T) {
	pub, fake, _ := setupPublisher(t)
	fake.playlists["pl-1"] = []string{"c", "a", "b"}

	diff, err := pub.Publish(context.Background(), testDef(), selections("a", "b", "c"))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	// a,b stay in relative order; only c moves
	if diff.Moved != 1 || diff.Added != 0 || diff.Removed != 0 {
		t.Errorf("Unexpected diff: %+v", diff)
	}
	got := fake.playlists["pl-1"]
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Unexpected playlist contents: %v", got)
	}
}

func TestPublishMixedChanges(t *testing.T) {
	pub, fake, _ := setupPublisher(t)
	fake.playlists["pl-1"] = []string{"x", "b", "a"}

	diff, err := pub.Publish(context.Background(), testDef(), selections("a", "b", "c"))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if diff.Removed != 1 || diff.Added != 1 || diff.Moved != 1 {
		t.Errorf("Unexpected diff: %+v", diff)
	}
	got := fake.playlists["pl-1"]
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Unexpected playlist contents: %v", got)
	}
}

func TestPublishDedupesDuplicateEntries(t *testing.T) {
	pub, fake, _ := setupPublisher(t)
	fake.playlists["pl-1"] = []string{"a", "a", "b"}

	diff, err := pub.Publish(context.Background(), testDef(), selections("a", "b"))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	// Removing the duplicate wipes both copies of a, so a is re-inserted
	if diff.Removed != 1 || diff.Moved != 1 || diff.Added != 0 {
		t.Errorf("Unexpected diff: %+v", diff)
	}
	got := fake.playlists["pl-1"]
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Unexpected playlist contents: %v", got)
	}
}

func TestPublishSkipsUnresolvedTracks(t *testing.T) {
	pub, fake, _ := setupPublisher(t)

	desired := []domain.Selection{
		{ExternalID: "a", Title: "Resolved"},
		{ExternalID: "", Title: "Unresolved"},
		{ExternalID: "b", Title: "Also Resolved"},
	}
	diff, err := pub.Publish(context.Background(), testDef(), desired)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if diff.Size != 2 || diff.Added != 2 {
		t.Errorf("Unexpected diff: %+v", diff)
	}
	got := fake.playlists["pl-1"]
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Unexpected playlist contents: %v", got)
	}
}

func TestPublishRecordsStatus(t *testing.T) {
	pub, _, db := setupPublisher(t)

	if _, err := pub.Publish(context.Background(), testDef(), selections("a", "b")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	statuses, err := db.ListPlaylistStatuses()
	if err != nil {
		t.Fatalf("ListPlaylistStatuses failed: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("Expected 1 status row, got %d", len(statuses))
	}
	status := statuses[0]
	if status.Type != domain.PlaylistMostPlayed || status.CurrentSize != 2 {
		t.Errorf("Unexpected status: %+v", status)
	}
	if status.LastUpdated == nil {
		t.Error("Expected last_updated to be set")
	}
	if status.LastError != nil {
		t.Errorf("Expected no error, got %q", *status.LastError)
	}
}

func TestPublishRecordsError(t *testing.T) {
	pub, fake, db := setupPublisher(t)
	fake.failAdd = true

	if _, err := pub.Publish(context.Background(), testDef(), selections("a")); err == nil {
		t.Fatal("Expected publish error")
	}

	statuses, err := db.ListPlaylistStatuses()
	if err != nil {
		t.Fatalf("ListPlaylistStatuses failed: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("Expected 1 status row, got %d", len(statuses))
	}
	if statuses[0].LastError == nil {
		t.Error("Expected last_error to be recorded")
	}
}

func TestResolveMissing(t *testing.T) {
	pub, fake, db := setupPublisher(t)

	artist, err := db.UpsertArtist("Kate Bush", "")
	if err != nil {
		t.Fatalf("UpsertArtist failed: %v", err)
	}
	if _, err := db.UpsertTrack(artist.ID, nil, "Cloudbusting", "", 0); err != nil {
		t.Fatalf("UpsertTrack failed: %v", err)
	}
	if _, err := db.UpsertTrack(artist.ID, nil, "Obscure B-Side", "", 0); err != nil {
		t.Fatalf("UpsertTrack failed: %v", err)
	}
	fake.searches["Kate Bush|Cloudbusting"] = "sp-track-1"

	resolved, err := pub.ResolveMissing(context.Background())
	if err != nil {
		t.Fatalf("ResolveMissing failed: %v", err)
	}
	if resolved != 1 {
		t.Errorf("Expected 1 resolved track, got %d", resolved)
	}

	unresolved, err := db.TracksMissingExternalID(10)
	if err != nil {
		t.Fatalf("TracksMissingExternalID failed: %v", err)
	}
	if len(unresolved) != 1 || unresolved[0].Title != "Obscure B-Side" {
		t.Errorf("Unexpected unresolved tracks: %+v", unresolved)
	}
}
