// Package ingest pulls listening history from the scrobble source into
// the local store. Progress is checkpointed after every page, so a crash
// or restart resumes where the last run stopped instead of refetching.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/ossianwinter/replayd/internal/constants"
	"github.com/ossianwinter/replayd/internal/domain"
	"github.com/ossianwinter/replayd/internal/logger"
	"github.com/ossianwinter/replayd/internal/scrobble"
	"github.com/ossianwinter/replayd/internal/store"
)

// ErrAlreadyRunning is returned when a sync is requested for a stream
// that another run currently holds.
var ErrAlreadyRunning = errors.New("sync already running for stream")

// Mode selects how much history a sync covers.
type Mode string

const (
	// ModeIncremental fetches from shortly before the last completed
	// window up to now.
	ModeIncremental Mode = "incremental"
	// ModeFull fetches the whole account history in month-sized chunks.
	ModeFull Mode = "full"
)

type Engine struct {
	db     *store.DB
	source scrobble.Source
	log    *logger.Logger

	retryCount int
	retryBase  time.Duration
	retryMax   time.Duration
	overlap    time.Duration
	lease      time.Duration
}

func NewEngine(db *store.DB, source scrobble.Source, log *logger.Logger) *Engine {
	return &Engine{
		db:         db,
		source:     source,
		log:        log.WithComponent("ingest"),
		retryCount: constants.DefaultRetryCount,
		retryBase:  constants.DefaultRetryBase,
		retryMax:   constants.DefaultRetryMax,
		overlap:    constants.DefaultChunkOverlap,
		lease:      constants.DefaultRunningLease,
	}
}

// Status returns the stream's checkpoint, or nil when it has never synced.
func (e *Engine) Status(stream string) (*domain.SyncCheckpoint, error) {
	return e.db.GetCheckpoint(stream)
}

// Sync runs one ingestion pass over the stream. Only one run per stream
// proceeds at a time; concurrent callers get ErrAlreadyRunning. A run that
// finds an interrupted chunk in the checkpoint resumes it, cursor and all,
// before covering the rest of the requested range.
func (e *Engine) Sync(ctx context.Context, stream string, mode Mode) (*domain.SyncCheckpoint, error) {
	runID := uuid.NewString()
	log := e.log.WithStream(stream, runID)

	cp, acquired, err := e.db.AcquireRunning(stream, runID, e.lease)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire stream %s: %w", stream, err)
	}
	if !acquired {
		return nil, ErrAlreadyRunning
	}

	now := time.Now().UTC()
	plan, err := e.plan(ctx, cp, mode, now)
	if err != nil {
		e.fail(log, stream, err)
		return nil, err
	}

	if !plan.resuming {
		if err := e.db.ResetRunCounters(stream); err != nil {
			e.fail(log, stream, err)
			return nil, err
		}
	}

	log.Info("Starting sync",
		"mode", mode,
		"chunks", len(plan.chunks),
		"resuming", plan.resuming)

	for i, chunk := range plan.chunks {
		if err := ctx.Err(); err != nil {
			e.fail(log, stream, err)
			return nil, err
		}

		cursor := ""
		if plan.resuming && i == 0 {
			cursor = plan.cursor
		} else {
			if err := e.db.BeginChunk(stream, chunk.Start, chunk.End); err != nil {
				e.fail(log, stream, err)
				return nil, err
			}
		}

		if err := e.ingestChunk(ctx, log, stream, chunk, cursor); err != nil {
			e.fail(log, stream, err)
			return nil, err
		}

		if err := e.db.CompleteChunk(stream, chunk.End); err != nil {
			e.fail(log, stream, err)
			return nil, err
		}
	}

	if err := e.db.MarkIdle(stream); err != nil {
		return nil, err
	}

	final, err := e.db.GetCheckpoint(stream)
	if err != nil {
		return nil, err
	}
	log.Info("Sync complete",
		"pages", final.PagesFetched,
		"ingested", final.EventsIngested,
		"duplicates", final.DuplicatesSkipped,
		"malformed", final.MalformedSkipped)
	return final, nil
}

type syncPlan struct {
	chunks   []scrobble.Window
	cursor   string
	resuming bool
}

// plan decides which windows this run covers. An interrupted chunk left
// in the checkpoint always comes first, picked up at its saved cursor.
func (e *Engine) plan(ctx context.Context, cp *domain.SyncCheckpoint, mode Mode, now time.Time) (*syncPlan, error) {
	plan := &syncPlan{}

	resumeEnd := time.Time{}
	if cp != nil && cp.ChunkStart != nil && cp.ChunkEnd != nil {
		plan.chunks = append(plan.chunks, scrobble.Window{Start: cp.ChunkStart.UTC(), End: cp.ChunkEnd.UTC()})
		plan.cursor = cp.Cursor
		plan.resuming = true
		resumeEnd = cp.ChunkEnd.UTC()
	}

	// First ever sync covers everything regardless of the requested mode.
	if mode == ModeIncremental && (cp == nil || cp.LastCompleted == nil) && !plan.resuming {
		mode = ModeFull
	}

	switch mode {
	case ModeIncremental:
		start := resumeEnd
		if start.IsZero() {
			start = cp.LastCompleted.UTC().Add(-e.overlap)
		}
		if start.Before(now) {
			plan.chunks = append(plan.chunks, scrobble.Window{Start: start, End: now})
		}
	case ModeFull:
		start := resumeEnd
		if start.IsZero() {
			from, err := e.historyStart(ctx)
			if err != nil {
				return nil, err
			}
			start = from
		}
		plan.chunks = append(plan.chunks, monthlyChunks(start, now)...)
	default:
		return nil, fmt.Errorf("unknown sync mode %q", mode)
	}
	return plan, nil
}

// historyStart picks where a full-history sync begins: the account's
// registration date, or the oldest stored play when the account endpoint
// is unavailable.
func (e *Engine) historyStart(ctx context.Context) (time.Time, error) {
	info, err := e.source.UserInfo(ctx)
	if err == nil {
		return info.RegisteredAt.UTC(), nil
	}

	oldest, dbErr := e.db.OldestPlay()
	if dbErr == nil && oldest != nil {
		e.log.Warn("Account info unavailable, starting from oldest stored play",
			"oldest", oldest.UTC().Format(time.RFC3339),
			"error", err)
		return oldest.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("failed to fetch account info: %w", err)
}

// monthlyChunks splits [start, end) on calendar month boundaries. Small
// windows keep upstream page counts bounded and make resume cheap.
func monthlyChunks(start, end time.Time) []scrobble.Window {
	var chunks []scrobble.Window
	for start.Before(end) {
		next := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		if next.After(end) {
			next = end
		}
		chunks = append(chunks, scrobble.Window{Start: start, End: next})
		start = next
	}
	return chunks
}

func (e *Engine) ingestChunk(ctx context.Context, log *logger.Logger, stream string, window scrobble.Window, cursor string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := e.fetchPage(ctx, log, stream, window, cursor)
		if err != nil {
			return err
		}

		stats := store.PageStats{Malformed: page.Malformed}
		for _, event := range page.Events {
			inserted, err := e.ingestEvent(event)
			if err != nil {
				return err
			}
			if inserted {
				stats.Ingested++
			} else {
				stats.Duplicates++
			}
		}

		if err := e.db.SavePageCursor(stream, page.NextCursor, stats); err != nil {
			return err
		}
		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}

func (e *Engine) ingestEvent(event scrobble.RawEvent) (bool, error) {
	artist, err := e.db.UpsertArtist(event.Artist, "")
	if err != nil {
		return false, err
	}

	var albumID *int64
	if event.Album != "" {
		album, err := e.db.UpsertAlbum(artist.ID, event.Album, "")
		if err != nil {
			return false, err
		}
		albumID = &album.ID
	}

	track, err := e.db.UpsertTrack(artist.ID, albumID, event.Track, "", 0)
	if err != nil {
		return false, err
	}

	return e.db.InsertPlayEventIfAbsent(track.ID, event.PlayedAt, constants.SourceScrobbleAPI)
}

// fetchPage retries transient upstream failures with exponential backoff
// and jitter. A rate-limit response waits at least the upstream-requested
// interval. Permanent failures surface immediately.
func (e *Engine) fetchPage(ctx context.Context, log *logger.Logger, stream string, window scrobble.Window, cursor string) (*scrobble.Page, error) {
	var lastErr error
	for attempt := 0; attempt <= e.retryCount; attempt++ {
		if attempt > 0 {
			wait := e.backoff(attempt, lastErr)
			log.Warn("Retrying page fetch",
				"attempt", attempt,
				"wait", wait.String(),
				"error", lastErr)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			// Long waits must not look like a crashed run.
			if err := e.db.TouchCheckpoint(stream); err != nil {
				return nil, err
			}
		}

		page, err := e.source.FetchPage(ctx, window, cursor)
		if err == nil {
			return page, nil
		}
		if !scrobble.IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("page fetch failed after %d retries: %w", e.retryCount, lastErr)
}

func (e *Engine) backoff(attempt int, err error) time.Duration {
	wait := e.retryBase << (attempt - 1)
	if wait > e.retryMax {
		wait = e.retryMax
	}
	wait += time.Duration(rand.Int63n(int64(e.retryBase)))
	if after := scrobble.RetryAfter(err); after > wait {
		wait = after
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) fail(log *logger.Logger, stream string, err error) {
	log.Error("Sync failed", "error", err)
	if mErr := e.db.MarkError(stream, err.Error()); mErr != nil {
		log.Error("Failed to record sync error", "error", mErr)
	}
}
