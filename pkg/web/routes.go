package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (wb *Web) Routes() http.Handler {
	r := chi.NewRouter()

	// public: liveness and auth bootstrap
	r.Get("/health", wb.handleHealth)
	r.Get("/version", wb.handleGetVersion)
	r.Post("/login", wb.handleLogin)
	r.Post("/register", wb.handleRegister)

	r.Group(func(r chi.Router) {
		r.Use(wb.authMiddleware)

		r.Post("/logout", wb.handleLogout)
		r.Post("/refresh-token", wb.handleRefreshAPIToken)

		r.Route("/torrents", func(r chi.Router) {
			r.Get("/", wb.handleGetTorrents)
			r.Post("/scan", wb.handleScan)
			r.Post("/reinject", wb.handleReinject)
			r.Delete("/{id}", wb.handleDeleteTorrent)
		})

		r.Route("/symlinks", func(r chi.Router) {
			r.Get("/broken", wb.handleGetSymlinks)
			r.Post("/scan", wb.handleSymlinkScan)
		})

		r.Get("/stats", wb.handleStats)

		if wb.hub != nil {
			r.Get("/events", wb.hub.ServeHTTP)
		}
	})

	return r
}
