package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/loksaikotini/EduCast/internal/auth"
	"github.com/loksaikotini/EduCast/internal/handlers"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Meetings   *handlers.MeetingHandler
	Classrooms *handlers.ClassroomHandler
	Sockets    *handlers.WebSocketHandler
	Verifier   *auth.Verifier
}

func NewRouter(h Handlers, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/api/v1/healthz", h.Meetings.Health)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.Verifier))

		r.Route("/api/meetings", func(r chi.Router) {
			r.Post("/new", h.Meetings.NewCode)
			r.Get("/ice-servers", h.Meetings.ICEServers)
			r.Get("/check/{code}", h.Meetings.Check)
			r.Get("/{code}/participants", h.Meetings.Participants)
		})
		r.Get("/api/classroom/{code}/messages", h.Classrooms.Messages)
	})

	// sockets authenticate themselves so a failed upgrade gets the same 401 body
	r.Route("/ws", func(r chi.Router) {
		r.Get("/video-meeting", h.Sockets.ServeMeeting)
		r.Get("/classroom-chat", h.Sockets.ServeClassroomChat)
	})

	return r
}
