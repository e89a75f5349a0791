package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Current user
		r.Get("/users/me", s.HandleGetCurrentUser)

		// Gateway lifecycle
		r.Route("/gateway", func(r chi.Router) {
			r.Get("/info", s.HandleGatewayInfo)
			r.Get("/pairing", s.HandleGetPairing)
			r.Post("/pairing", s.HandleStartPairing)
			r.Post("/reboot", s.HandleReboot)
		})

		// Polled state
		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/", s.HandleListSnapshots)
			r.Get("/{category}", s.HandleGetSnapshot)
		})

		// Commands
		r.Route("/commands", func(r chi.Router) {
			r.Post("/", s.HandleDispatchCommand)
			r.Get("/pending", s.HandleListPending)
		})

		// Live snapshot stream
		r.Get("/ws", s.HandleWebSocket)
	})
}
