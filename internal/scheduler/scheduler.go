// Package scheduler drives the periodic sync-and-publish cycle and gates
// manually triggered runs so only one cycle works at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ossianwinter/replayd/internal/constants"
	"github.com/ossianwinter/replayd/internal/curator"
	"github.com/ossianwinter/replayd/internal/domain"
	"github.com/ossianwinter/replayd/internal/ingest"
	"github.com/ossianwinter/replayd/internal/logger"
	"github.com/ossianwinter/replayd/internal/publisher"
)

// ErrBusy is returned when a trigger arrives while a cycle is running.
var ErrBusy = errors.New("a sync cycle is already running")

// CycleResult is the outcome of the most recent cycle.
type CycleResult struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Mode       string    `json:"mode"`
	Error      string    `json:"error,omitempty"`
}

type Scheduler struct {
	engine    *ingest.Engine
	curator   *curator.Curator
	publisher *publisher.Publisher
	playlists []domain.PlaylistDefinition
	interval  time.Duration
	log       *logger.Logger

	busy chan struct{}

	mu      sync.Mutex
	lastRun *CycleResult

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(engine *ingest.Engine, cur *curator.Curator, pub *publisher.Publisher,
	playlists []domain.PlaylistDefinition, interval time.Duration, log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		engine:    engine,
		curator:   cur,
		publisher: pub,
		playlists: playlists,
		interval:  interval,
		log:       log.WithComponent("scheduler"),
		busy:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the periodic loop. The first cycle runs immediately.
func (s *Scheduler) Start() {
	s.log.Info("Starting scheduler", "interval", s.interval.String())
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels the running cycle, if any, and waits for it to finish.
// Cancellation happens under the same lock TriggerSync registers under,
// so no new cycle goroutine can start once Wait begins.
func (s *Scheduler) Stop() {
	s.log.Info("Stopping scheduler")
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	if err := s.runCycle(s.ctx, ingest.ModeIncremental); err != nil && !errors.Is(err, ErrBusy) {
		s.log.Error("Sync cycle failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			err := s.runCycle(s.ctx, ingest.ModeIncremental)
			if errors.Is(err, ErrBusy) {
				s.log.Warn("Skipping scheduled cycle, previous still running")
			} else if err != nil {
				s.log.Error("Sync cycle failed", "error", err)
			}
		}
	}
}

// TriggerSync starts a cycle in the requested mode without waiting for
// the next tick. The cycle runs in the background; ErrBusy means one is
// already in flight.
func (s *Scheduler) TriggerSync(mode ingest.Mode) error {
	select {
	case s.busy <- struct{}{}:
	default:
		return ErrBusy
	}

	s.mu.Lock()
	if err := s.ctx.Err(); err != nil {
		s.mu.Unlock()
		<-s.busy
		return err
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() { <-s.busy }()
		if err := s.cycle(s.ctx, mode); err != nil {
			s.log.Error("Triggered cycle failed", "mode", mode, "error", err)
		}
	}()
	return nil
}

// TriggerPlaylist recomputes and publishes a single playlist right away.
func (s *Scheduler) TriggerPlaylist(ctx context.Context, playlistType domain.PlaylistType) (*publisher.Diff, error) {
	select {
	case s.busy <- struct{}{}:
	default:
		return nil, ErrBusy
	}
	defer func() { <-s.busy }()

	for _, def := range s.playlists {
		if def.Type != playlistType {
			continue
		}
		if _, err := s.publisher.ResolveMissing(ctx); err != nil {
			return nil, err
		}
		return s.refreshPlaylist(ctx, def)
	}
	return nil, fmt.Errorf("no playlist configured with type %q", playlistType)
}

// LastRun returns the most recent cycle outcome, or nil before any cycle.
func (s *Scheduler) LastRun() *CycleResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return nil
	}
	run := *s.lastRun
	return &run
}

func (s *Scheduler) runCycle(ctx context.Context, mode ingest.Mode) error {
	select {
	case s.busy <- struct{}{}:
	default:
		return ErrBusy
	}
	defer func() { <-s.busy }()
	return s.cycle(ctx, mode)
}

// cycle is one full pass: ingest new plays, resolve provider ids, then
// republish every configured playlist. Per-playlist failures are logged
// and do not stop the rest of the cycle.
func (s *Scheduler) cycle(ctx context.Context, mode ingest.Mode) error {
	result := CycleResult{StartedAt: time.Now().UTC(), Mode: string(mode)}
	err := s.doCycle(ctx, mode)
	result.FinishedAt = time.Now().UTC()
	if err != nil {
		result.Error = err.Error()
	}

	s.mu.Lock()
	s.lastRun = &result
	s.mu.Unlock()
	return err
}

func (s *Scheduler) doCycle(ctx context.Context, mode ingest.Mode) error {
	if _, err := s.engine.Sync(ctx, constants.StreamScrobbles, mode); err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	if _, err := s.publisher.ResolveMissing(ctx); err != nil {
		return fmt.Errorf("id resolution failed: %w", err)
	}

	var failed int
	for _, def := range s.playlists {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.refreshPlaylist(ctx, def); err != nil {
			failed++
			s.log.Error("Playlist refresh failed", "type", def.Type, "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d playlists failed to refresh", failed, len(s.playlists))
	}
	return nil
}

func (s *Scheduler) refreshPlaylist(ctx context.Context, def domain.PlaylistDefinition) (*publisher.Diff, error) {
	selections, err := s.curator.ComputeMembership(def, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return s.publisher.Publish(ctx, def, selections)
}
