package store

const Schema = `
CREATE TABLE IF NOT EXISTS artists (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL UNIQUE,
	external_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS albums (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	artist_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	title_key TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',

	FOREIGN KEY (artist_id) REFERENCES artists(id),
	UNIQUE (artist_id, title_key)
);

CREATE TABLE IF NOT EXISTS tracks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	artist_id INTEGER NOT NULL,
	album_id INTEGER,
	title TEXT NOT NULL,
	title_key TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	duration INTEGER NOT NULL DEFAULT 0,

	FOREIGN KEY (artist_id) REFERENCES artists(id),
	FOREIGN KEY (album_id) REFERENCES albums(id)
);

-- Track identity is (artist, album, title) with album optional, so the
-- album-less variant needs its own unique index.
CREATE UNIQUE INDEX IF NOT EXISTS idx_tracks_identity
	ON tracks(artist_id, album_id, title_key) WHERE album_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_tracks_identity_no_album
	ON tracks(artist_id, title_key) WHERE album_id IS NULL;
CREATE INDEX IF NOT EXISTS idx_tracks_external_id ON tracks(external_id);

CREATE TABLE IF NOT EXISTS play_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	track_id INTEGER NOT NULL,
	played_at DATETIME NOT NULL,
	source TEXT NOT NULL,
	inserted_at DATETIME DEFAULT CURRENT_TIMESTAMP,

	FOREIGN KEY (track_id) REFERENCES tracks(id),
	UNIQUE (track_id, played_at)
);

CREATE INDEX IF NOT EXISTS idx_play_events_played_at ON play_events(played_at);
CREATE INDEX IF NOT EXISTS idx_play_events_track_played ON play_events(track_id, played_at);

CREATE TABLE IF NOT EXISTS sync_checkpoints (
	stream TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'idle',
	chunk_start DATETIME,
	chunk_end DATETIME,
	cursor TEXT NOT NULL DEFAULT '',
	last_completed DATETIME,
	last_error TEXT,
	last_run_id TEXT NOT NULL DEFAULT '',
	pages_fetched INTEGER NOT NULL DEFAULT 0,
	events_ingested INTEGER NOT NULL DEFAULT 0,
	duplicates_skipped INTEGER NOT NULL DEFAULT 0,
	malformed_skipped INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_success_at DATETIME
);

CREATE TABLE IF NOT EXISTS playlist_statuses (
	type TEXT PRIMARY KEY,
	external_id TEXT NOT NULL,
	configured_size INTEGER NOT NULL,
	current_size INTEGER NOT NULL DEFAULT 0,
	last_updated DATETIME,
	last_error TEXT
);
`
