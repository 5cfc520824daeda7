package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

func NewRouter(h *Handler, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	// Public routes
	r.Get("/", h.HealthHandler)
	r.Get("/health", h.HealthHandler)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.SignupHandler)
		r.Post("/login", h.LoginHandler)
	})

	// User-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", h.CreateConversationHandler)
			r.Get("/", h.ListConversationsHandler)
			r.Get("/{conversationID}/messages", h.ListMessagesHandler)
			r.Patch("/{conversationID}", h.RenameConversationHandler)
			r.Delete("/{conversationID}", h.DeleteConversationHandler)
		})

		r.Post("/generate/stream", h.GenerateStreamHandler)
		r.Post("/upload", h.UploadHandler)
	})

	return r
}
