package fakeassistant

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-tavern/voiceclient/pkg/utils"
)

// Handler wires the assistant routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.opts.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireToken)

		protected.Get("/voices", s.handleVoices)
		protected.Post("/upload-data", s.handleUpload)
		protected.Post("/set-context", s.handleSetContext)
		protected.Get("/ws/audio", s.handleAudio)
	})

	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" && utils.BearerToken(r) != s.opts.Token {
			utils.RespondError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
