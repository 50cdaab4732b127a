// Package handlers exposes the JSON API: sync status and triggers, and
// playlist status and refresh.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ossianwinter/replayd/internal/constants"
	"github.com/ossianwinter/replayd/internal/domain"
	"github.com/ossianwinter/replayd/internal/ingest"
	"github.com/ossianwinter/replayd/internal/logger"
	"github.com/ossianwinter/replayd/internal/scheduler"
	"github.com/ossianwinter/replayd/internal/store"
)

type Handler struct {
	DB           *store.DB
	Scheduler    *scheduler.Scheduler
	PlaylistDefs []domain.PlaylistDefinition
	Logger       *logger.Logger
}

func NewHandler(db *store.DB, sched *scheduler.Scheduler, playlists []domain.PlaylistDefinition, log *logger.Logger) *Handler {
	return &Handler{
		DB:           db,
		Scheduler:    sched,
		PlaylistDefs: playlists,
		Logger:       log.WithComponent("api"),
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.DB.Ping(); err != nil {
		h.respondError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status reports every sync checkpoint, every playlist status, and the
// outcome of the last cycle in one payload.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := h.DB.ListCheckpoints()
	if err != nil {
		h.Logger.Error("Failed to list checkpoints", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load sync status")
		return
	}
	statuses, err := h.DB.ListPlaylistStatuses()
	if err != nil {
		h.Logger.Error("Failed to list playlist statuses", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load playlist status")
		return
	}
	history, err := h.historySummary()
	if err != nil {
		h.Logger.Error("Failed to summarize history", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load history summary")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sync":      checkpoints,
		"playlists": statuses,
		"history":   history,
		"last_run":  h.Scheduler.LastRun(),
	})
}

type historySummary struct {
	PlayCount  int64      `json:"play_count"`
	OldestPlay *time.Time `json:"oldest_play,omitempty"`
	NewestPlay *time.Time `json:"newest_play,omitempty"`
}

func (h *Handler) historySummary() (*historySummary, error) {
	count, err := h.DB.CountPlayEvents()
	if err != nil {
		return nil, err
	}
	oldest, err := h.DB.OldestPlay()
	if err != nil {
		return nil, err
	}
	newest, err := h.DB.NewestPlay()
	if err != nil {
		return nil, err
	}
	return &historySummary{PlayCount: count, OldestPlay: oldest, NewestPlay: newest}, nil
}

func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	if stream != constants.StreamScrobbles {
		h.respondError(w, http.StatusNotFound, "unknown stream")
		return
	}

	cp, err := h.DB.GetCheckpoint(stream)
	if err != nil {
		h.Logger.Error("Failed to load checkpoint", "stream", stream, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load sync status")
		return
	}
	if cp == nil {
		h.respondJSON(w, http.StatusOK, map[string]interface{}{
			"stream": stream,
			"status": domain.SyncStatusIdle,
		})
		return
	}
	h.respondJSON(w, http.StatusOK, cp)
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	h.triggerSync(w, r, ingest.ModeIncremental)
}

func (h *Handler) TriggerFullSync(w http.ResponseWriter, r *http.Request) {
	h.triggerSync(w, r, ingest.ModeFull)
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request, mode ingest.Mode) {
	stream := chi.URLParam(r, "stream")
	if stream != constants.StreamScrobbles {
		h.respondError(w, http.StatusNotFound, "unknown stream")
		return
	}

	if err := h.Scheduler.TriggerSync(mode); err != nil {
		if errors.Is(err, scheduler.ErrBusy) {
			h.respondError(w, http.StatusConflict, "sync already running")
			return
		}
		h.Logger.Error("Failed to trigger sync", "stream", stream, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to start sync")
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{
		"stream": stream,
		"mode":   string(mode),
		"status": "started",
	})
}

// Playlists returns the configured definitions joined with their last
// publish outcome.
func (h *Handler) Playlists(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.DB.ListPlaylistStatuses()
	if err != nil {
		h.Logger.Error("Failed to list playlist statuses", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load playlists")
		return
	}

	byType := make(map[domain.PlaylistType]*domain.PlaylistStatus, len(statuses))
	for _, status := range statuses {
		byType[status.Type] = status
	}

	type playlistView struct {
		Definition domain.PlaylistDefinition `json:"definition"`
		Status     *domain.PlaylistStatus    `json:"status,omitempty"`
	}
	views := make([]playlistView, 0, len(h.PlaylistDefs))
	for _, def := range h.PlaylistDefs {
		views = append(views, playlistView{Definition: def, Status: byType[def.Type]})
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"playlists": views})
}

func (h *Handler) UpdatePlaylist(w http.ResponseWriter, r *http.Request) {
	playlistType := domain.PlaylistType(chi.URLParam(r, "type"))

	configured := false
	for _, def := range h.PlaylistDefs {
		if def.Type == playlistType {
			configured = true
			break
		}
	}
	if !configured {
		h.respondError(w, http.StatusNotFound, "unknown playlist type")
		return
	}

	diff, err := h.Scheduler.TriggerPlaylist(r.Context(), playlistType)
	if err != nil {
		if errors.Is(err, scheduler.ErrBusy) {
			h.respondError(w, http.StatusConflict, "a sync cycle is already running")
			return
		}
		h.Logger.Error("Failed to update playlist", "type", playlistType, "error", err)
		h.respondError(w, http.StatusInternalServerError, "playlist update failed")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"type": playlistType,
		"diff": diff,
	})
}
