package http

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/library-service/cmd/api/library"
)

type ServerConfig struct {
	Port   int
	APIKey string
}

// NewServer builds the router. Read endpoints are open; every write
// endpoint sits behind the API key middleware, so an unauthenticated
// request is rejected before any service call happens.
func NewServer(config ServerConfig, h *LibraryHandler) *http.Server {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", health)

	r.Route("/authors", func(r chi.Router) {
		r.Get("/", h.listAuthors)
		r.Get("/{id}", h.getAuthor)
		r.Group(func(r chi.Router) {
			r.Use(RequireAPIKey(config.APIKey))
			r.Post("/", h.createAuthor)
			r.Delete("/{id}", h.deleteAuthor)
		})
	})

	r.Route("/books", func(r chi.Router) {
		r.Get("/", h.listBooks)
		r.Get("/{id}", h.getBook)
		r.Group(func(r chi.Router) {
			r.Use(RequireAPIKey(config.APIKey))
			r.Post("/", h.createBook)
			r.Put("/{id}", h.updateBook)
			r.Post("/{id}/loan", h.loanBook)
		})
	})

	r.Route("/loans", func(r chi.Router) {
		r.Get("/", h.listLoans)
		r.Group(func(r chi.Router) {
			r.Use(RequireAPIKey(config.APIKey))
			r.Post("/{id}/return", h.returnLoan)
		})
	})

	server := http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &server
}

// RequireAPIKey checks the X-API-Key header: missing key means the caller
// did not authenticate at all (401), a wrong key means access is denied
// (403). Either way the request never reaches the core.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				responseJSON(w, http.StatusUnauthorized, library.ErrResponseAPIKeyMissing)
				return
			}
			if apiKey != key {
				responseJSON(w, http.StatusForbidden, library.ErrResponseAPIKeyInvalid)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

/* Reports the service is up. */
func health(w http.ResponseWriter, r *http.Request) {
	responseJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "library-api"})
}

/* Writes a JSON response into a http.ResponseWriter. */
func responseJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		log.Println(err)
	}
}
