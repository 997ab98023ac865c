package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		r.Get("/stats", apiHandler.StatsHandler)
		r.Get("/settings/options", apiHandler.SettingsOptionsHandler)

		r.Post("/conversations", apiHandler.CreateConversationHandler)
		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Get("/", apiHandler.GetConversationHandler)
			r.Delete("/", apiHandler.DeleteConversationHandler)
			r.Post("/messages", apiHandler.PostMessageHandler)
			r.Patch("/settings", apiHandler.UpdateSettingsHandler)
		})
	})

	return r
}
