// Package devserver is an in-memory development backend for the client. It serves the
// REST API and the push event stream the client consumes, so the whole stack can run
// and be tested locally.
package devserver

import (
	_ "embed"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-playground/validator/v10"
	"github.com/vadimbarashkov/url-shortener-client/internal/config"
	"github.com/vadimbarashkov/url-shortener-client/internal/records"
	"github.com/vadimbarashkov/url-shortener-client/pkg/middleware/recoverer"

	httpSwagger "github.com/swaggo/http-swagger"
)

//go:embed docs/swagger.yml
var swaggerDoc []byte

type Option func(*Server)

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithBcryptCost lowers the password hashing cost, typically in tests.
func WithBcryptCost(cost int) Option {
	return func(s *Server) {
		s.bcryptCost = cost
	}
}

type Server struct {
	logger     *httplog.Logger
	now        func() time.Time
	bcryptCost int
	store      *Store
	tokens     *Tokens
	hub        *Hub
	validate   *validator.Validate
}

func New(cfg config.DevServer, logger *httplog.Logger, opts ...Option) *Server {
	s := &Server{
		logger: logger,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	now := func() time.Time { return s.now() }

	s.store = NewStore(cfg.ShortCodeLength, now)
	if s.bcryptCost > 0 {
		s.store.bcryptCst = s.bcryptCost
	}
	s.tokens = NewTokens(cfg.JWTSecret, cfg.TokenTTL, now)
	s.hub = NewHub(s.tokens, s.store.Stats, logger.Logger)
	s.validate = records.NewValidator(now)

	return s
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Close disconnects every push client.
func (s *Server) Close() {
	s.hub.Close()
}

// Router returns the HTTP handler serving the REST API, the push stream at /ws and short
// code redirects.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"POST", "GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           84600,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(s.logger))
	r.Use(recoverer.New(s.logger.Logger))

	r.Get("/health", handlePing)

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/swagger.yml"),
	))

	r.Get("/docs/swagger.yml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(swaggerDoc)
	})

	r.Get("/ws", s.hub.ServeHTTP)
	r.Get("/{code}", s.redirect)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/local", s.login)
		r.Post("/auth/local/register", s.register)

		r.With(s.authenticate).Get("/users/me", s.me)

		r.Route("/short-urls", func(r chi.Router) {
			r.Get("/check/{code}", s.checkAvailability)
			r.Post("/{code}/click", s.recordClick)

			r.Group(func(r chi.Router) {
				r.Use(s.authenticate)

				r.Get("/", s.listURLs)
				r.Post("/", s.createURL)
				r.Delete("/{id}", s.deleteURL)
				r.Get("/{id}/analytics", s.analytics)
			})
		})
	})

	return r
}

var _ http.Handler = (*Hub)(nil)
