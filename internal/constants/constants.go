// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort           = "8080"
	DefaultDBPath         = "replayd.db"
	DefaultPlaylistsPath  = "playlists.toml"
	DefaultSourceURL      = "https://ws.audioscrobbler.com/2.0/"
	DefaultProviderURL    = "https://api.spotify.com/v1"
	DefaultSyncInterval   = 5 * time.Minute
	DefaultHTTPTimeout    = 30 * time.Second
	DefaultRetryCount     = 5
	DefaultRetryBase      = 1 * time.Second
	DefaultRetryMax       = 30 * time.Second
	DefaultRequestsPerSec = 4.0
)

// Sync streams and chunking
const (
	StreamScrobbles      = "scrobbles"
	DefaultPageSize      = 200
	DefaultChunkOverlap  = 5 * time.Minute
	DefaultRunningLease  = 10 * time.Minute
	DefaultResolverBatch = 50
)

// Playlist defaults
const (
	DefaultPlaylistSize    = 50
	DefaultFavoritesWindow = 30 // days
	DefaultBingeMinPlays   = 3
	ProviderPageSize       = 100
)

// Event sources
const (
	SourceScrobbleAPI = "scrobble"
)
