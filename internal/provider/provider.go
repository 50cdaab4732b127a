// Package provider talks to the external playlist service. The engine
// only depends on the Provider interface; the resty client below is the
// production implementation.
package provider

import (
	"context"
	"fmt"
)

// Provider is the external playlist surface consumed by the publisher and
// the track resolver. Track ids are the provider's own identifiers.
type Provider interface {
	// GetPlaylistTracks returns the playlist's current contents in order.
	GetPlaylistTracks(ctx context.Context, playlistID string) ([]string, error)
	// AddTracks inserts tracks at position (0-based) preserving their order.
	AddTracks(ctx context.Context, playlistID string, trackIDs []string, position int) error
	// RemoveTracks removes every occurrence of the given tracks.
	RemoveTracks(ctx context.Context, playlistID string, trackIDs []string) error
	// SearchTrack resolves a track to a provider id; empty when no match.
	SearchTrack(ctx context.Context, title, artist, album string) (string, error)
}

// Error describes a failed provider call.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("playlist provider http %d: %s", e.StatusCode, e.Message)
}
