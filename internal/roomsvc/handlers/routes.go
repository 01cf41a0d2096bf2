package handlers

import (
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"
)

const requestTimeout = 60 * time.Second

func (h *Handler) SetRoutes(r chi.Router) {
	r.Get("/health", h.HealthHandler)

	r.Route("/v1", func(r chi.Router) {

		// public routes here
		r.Route("/rooms", func(r chi.Router) {
			r.With(middleware.Timeout(requestTimeout)).Post("/", h.CreateRoom)

			r.Route("/{code}", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(middleware.Timeout(requestTimeout))
					r.Get("/", h.GetRoom)
					r.Post("/join", h.JoinRoom)
					r.Post("/submit", h.SubmitAllocation)
					r.Delete("/players/{playerID}", h.LeaveRoom)
				})

				// streams outlive the request timeout
				r.Get("/events", h.StreamEvents)
				r.Get("/ws", h.HandleWebSocket)
			})
		})

		// Secure routes, only mounted with a signing key
		if h.tokenAuth == nil {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(h.tokenAuth))
			r.Use(jwtauth.Authenticator)

			r.Get("/ops/health", h.OpsHealthHandler)
			r.Get("/ops/stats", h.StatsHandler)
		})
	})
}

// InitAuth must run before SetRoutes. An empty key leaves the ops routes
// unmounted, since HS256 with an empty key accepts tokens anyone can sign.
func (h *Handler) InitAuth(jwtKey string) {
	if jwtKey == "" {
		log.Warn("JWT_SECRET_KEY is not set, ops routes are disabled")
		return
	}
	h.tokenAuth = jwtauth.New("HS256", []byte(jwtKey), nil)

	expirationTime := time.Now().Add(7 * 24 * time.Hour).Unix()

	_, tokenString, err := h.tokenAuth.Encode(map[string]interface{}{
		"service_id": h.opts.InstanceID,
		"exp":        expirationTime,
	})
	if err != nil {
		log.Errorf("unable to issue ops token: %v", err)
		return
	}

	// For debugging only
	log.Debugf("DEBUG: ops JWT for testing expires soon : %s", tokenString)
}
