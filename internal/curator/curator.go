// Package curator computes playlist memberships from the local play
// history. It never talks to the network; publishing the result is the
// publisher's job.
package curator

import (
	"fmt"
	"time"

	"github.com/ossianwinter/replayd/internal/constants"
	"github.com/ossianwinter/replayd/internal/domain"
	"github.com/ossianwinter/replayd/internal/logger"
	"github.com/ossianwinter/replayd/internal/store"
)

type Curator struct {
	db  *store.DB
	log *logger.Logger
}

func NewCurator(db *store.DB, log *logger.Logger) *Curator {
	return &Curator{
		db:  db,
		log: log.WithComponent("curator"),
	}
}

// ComputeMembership returns the desired contents of one playlist at the
// given instant, best rank first. Fewer qualifying tracks than the
// configured size is not an error; the list is simply shorter.
func (c *Curator) ComputeMembership(def domain.PlaylistDefinition, now time.Time) ([]domain.Selection, error) {
	size := def.Size
	if size <= 0 {
		size = constants.DefaultPlaylistSize
	}
	windowDays := def.WindowDays
	if windowDays <= 0 {
		windowDays = constants.DefaultFavoritesWindow
	}
	now = now.UTC()

	var (
		selections []domain.Selection
		err        error
	)
	switch def.Type {
	case domain.PlaylistMostPlayed:
		selections, err = c.db.TopTracks(time.Unix(0, 0).UTC(), now, size)
	case domain.PlaylistRecentFavorites:
		selections, err = c.db.TopTracks(now.AddDate(0, 0, -windowDays), now, size)
	case domain.PlaylistBinged:
		minDaily := def.MinDailyPlays
		if minDaily <= 0 {
			minDaily = constants.DefaultBingeMinPlays
		}
		selections, err = c.db.BingedTracks(now.AddDate(0, 0, -windowDays), now, minDaily, size)
	default:
		return nil, fmt.Errorf("unknown playlist type %q", def.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compute %s membership: %w", def.Type, err)
	}

	c.log.Debug("Computed playlist membership",
		"type", def.Type,
		"tracks", len(selections),
		"size", size)
	return selections, nil
}
