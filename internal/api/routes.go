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

		r.Get("/me", s.HandleGetCurrentUser)

		// Dongles
		r.Route("/dongles", func(r chi.Router) {
			r.Get("/", s.HandleListDongles)
			r.Get("/live", s.HandleLiveDongles)
			r.Route("/{imei}", func(r chi.Router) {
				r.Get("/", s.HandleGetDongle)
				r.Get("/state", s.HandleGetDongleState)
				r.Post("/sms", s.HandleSendSMS)
				r.Post("/ussd", s.HandleSendUSSD)
			})
		})

		// Events
		r.Get("/events", s.HandleListEvents)

		// Raw manager commands
		r.With(s.adminMiddleware).Post("/ami/command", s.HandleAMICommand)
	})
}
