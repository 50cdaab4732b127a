package handlers

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)

		r.Route("/sync/{stream}", func(r chi.Router) {
			r.Get("/", h.SyncStatus)
			r.Post("/", h.TriggerSync)
			r.Post("/full", h.TriggerFullSync)
		})

		r.Route("/playlists", func(r chi.Router) {
			r.Get("/", h.Playlists)
			r.Post("/{type}/update", h.UpdatePlaylist)
		})
	})
}
