// Package publisher pushes curated memberships to the playlist provider.
// It diffs desired contents against what the provider already holds and
// issues the smallest set of add, remove, and move operations, so a cycle
// with no listening changes touches nothing.
package publisher

import (
	"context"
	"fmt"

	"github.com/ossianwinter/replayd/internal/constants"
	"github.com/ossianwinter/replayd/internal/domain"
	"github.com/ossianwinter/replayd/internal/logger"
	"github.com/ossianwinter/replayd/internal/provider"
	"github.com/ossianwinter/replayd/internal/store"
)

type Publisher struct {
	db       *store.DB
	provider provider.Provider
	log      *logger.Logger
}

func NewPublisher(db *store.DB, p provider.Provider, log *logger.Logger) *Publisher {
	return &Publisher{
		db:       db,
		provider: p,
		log:      log.WithComponent("publisher"),
	}
}

// Diff summarizes what one Publish changed on the provider.
type Diff struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Moved   int `json:"moved"`
	Size    int `json:"size"`
}

// Publish makes the provider playlist match the desired selections.
// Unresolved tracks (no provider id) are skipped, not failed on. The
// outcome, success or error, lands in the playlist status row.
func (p *Publisher) Publish(ctx context.Context, def domain.PlaylistDefinition, desired []domain.Selection) (*Diff, error) {
	diff, err := p.reconcile(ctx, def, desired)
	if err != nil {
		if sErr := p.db.RecordPlaylistError(def, err.Error()); sErr != nil {
			p.log.Error("Failed to record playlist error", "type", def.Type, "error", sErr)
		}
		return nil, err
	}

	if err := p.db.RecordPlaylistUpdate(def, diff.Size); err != nil {
		return nil, fmt.Errorf("failed to record playlist update: %w", err)
	}

	p.log.Info("Published playlist",
		"type", def.Type,
		"size", diff.Size,
		"added", diff.Added,
		"removed", diff.Removed,
		"moved", diff.Moved)
	return diff, nil
}

func (p *Publisher) reconcile(ctx context.Context, def domain.PlaylistDefinition, desired []domain.Selection) (*Diff, error) {
	log := p.log.WithPlaylist(string(def.Type))

	desiredIDs := make([]string, 0, len(desired))
	seen := make(map[string]bool, len(desired))
	skipped := 0
	for _, sel := range desired {
		if sel.ExternalID == "" {
			skipped++
			continue
		}
		if seen[sel.ExternalID] {
			continue
		}
		seen[sel.ExternalID] = true
		desiredIDs = append(desiredIDs, sel.ExternalID)
	}
	if skipped > 0 {
		log.Warn("Skipping unresolved tracks", "count", skipped)
	}

	current, err := p.provider.GetPlaylistTracks(ctx, def.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist contents: %w", err)
	}

	diff := &Diff{Size: len(desiredIDs)}

	// Drop everything the playlist should no longer hold.
	var toRemove []string
	removing := make(map[string]bool, len(current))
	kept := make([]string, 0, len(current))
	inCurrent := make(map[string]bool, len(current))
	for _, id := range current {
		if !seen[id] || inCurrent[id] {
			if !removing[id] {
				toRemove = append(toRemove, id)
				removing[id] = true
			}
			diff.Removed++
			continue
		}
		inCurrent[id] = true
		kept = append(kept, id)
	}

	// Of the kept tracks, those outside the longest run already in desired
	// order have to move: remove now, re-insert below. The provider drops
	// every occurrence of a removed id, so a desired track whose duplicate
	// is being removed loses its kept copy too and must be re-inserted.
	stable := stableSubsequence(kept, desiredIDs)
	for _, id := range kept {
		if removing[id] {
			delete(stable, id)
		}
	}
	for _, id := range kept {
		if stable[id] {
			continue
		}
		if !removing[id] {
			toRemove = append(toRemove, id)
			removing[id] = true
		}
		diff.Moved++
	}
	if len(toRemove) > 0 {
		if err := p.provider.RemoveTracks(ctx, def.ExternalID, toRemove); err != nil {
			return nil, fmt.Errorf("failed to remove tracks: %w", err)
		}
	}

	// Insert missing and moved tracks left to right. Every desired track
	// before an insertion point is already in place, so the desired index
	// is the live position.
	var run []string
	runStart := 0
	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		if err := p.provider.AddTracks(ctx, def.ExternalID, run, runStart); err != nil {
			return fmt.Errorf("failed to add tracks: %w", err)
		}
		run = nil
		return nil
	}
	for i, id := range desiredIDs {
		if stable[id] {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if len(run) == 0 {
			runStart = i
		}
		run = append(run, id)
		if !inCurrent[id] {
			diff.Added++
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return diff, nil
}

// stableSubsequence reports which kept ids can stay in place: the longest
// subsequence of kept that appears in desired order. Everything else is
// cheaper to move than to shuffle around.
func stableSubsequence(kept, desired []string) map[string]bool {
	rank := make(map[string]int, len(desired))
	for i, id := range desired {
		rank[id] = i
	}

	ranks := make([]int, len(kept))
	for i, id := range kept {
		ranks[i] = rank[id]
	}

	// Longest increasing subsequence over the desired ranks.
	prev := make([]int, len(ranks))
	tailIdx := []int{}
	for i, r := range ranks {
		lo, hi := 0, len(tailIdx)
		for lo < hi {
			mid := (lo + hi) / 2
			if ranks[tailIdx[mid]] < r {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			prev[i] = tailIdx[lo-1]
		} else {
			prev[i] = -1
		}
		if lo == len(tailIdx) {
			tailIdx = append(tailIdx, i)
		} else {
			tailIdx[lo] = i
		}
	}

	stable := make(map[string]bool, len(tailIdx))
	if len(tailIdx) == 0 {
		return stable
	}
	for i := tailIdx[len(tailIdx)-1]; i >= 0; i = prev[i] {
		stable[kept[i]] = true
		if prev[i] == -1 {
			break
		}
	}
	return stable
}

// ResolveMissing looks up provider ids for the most played tracks that
// still lack one. Lookups that find nothing are logged and skipped; a
// track stays unresolved until a later cycle finds it.
func (p *Publisher) ResolveMissing(ctx context.Context) (int, error) {
	tracks, err := p.db.TracksMissingExternalID(constants.DefaultResolverBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list unresolved tracks: %w", err)
	}

	resolved := 0
	for _, track := range tracks {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}

		id, err := p.provider.SearchTrack(ctx, track.Title, track.Artist, track.Album)
		if err != nil {
			p.log.Warn("Track search failed",
				"track", track.Title,
				"artist", track.Artist,
				"error", err)
			continue
		}
		if id == "" {
			p.log.Debug("No provider match", "track", track.Title, "artist", track.Artist)
			continue
		}

		if err := p.db.UpdateTrackExternalID(track.ID, id); err != nil {
			return resolved, fmt.Errorf("failed to save resolved id: %w", err)
		}
		resolved++
	}

	if resolved > 0 {
		p.log.Info("Resolved provider ids", "resolved", resolved, "candidates", len(tracks))
	}
	return resolved, nil
}
