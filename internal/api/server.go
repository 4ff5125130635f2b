// Package api provides the HTTP API of the dirwatch host: health, watch
// inspection and control, journal queries and the live event stream.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/listenupapp/dirwatch/internal/http/response"
	"github.com/listenupapp/dirwatch/internal/journal"
	"github.com/listenupapp/dirwatch/internal/sse"
	"github.com/listenupapp/dirwatch/internal/watchset"
)

// Version is reported in the OpenAPI document.
const Version = "1.0.0"

// ChangeLister answers journal queries.
type ChangeLister interface {
	List(ctx context.Context, q journal.Query) ([]journal.Entry, error)
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	watches    *watchset.Set
	journal    ChangeLister
	sseManager *sse.Manager
	router     *chi.Mux
	api        huma.API
	logger     *slog.Logger
}

// Options configures a Server. Journal and SSEManager may be nil.
type Options struct {
	Watches     *watchset.Set
	Journal     ChangeLister
	SSEManager  *sse.Manager
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(opts Options) *Server {
	s := &Server{
		watches:    opts.Watches,
		journal:    opts.Journal,
		sseManager: opts.SSEManager,
		router:     chi.NewRouter(),
		logger:     opts.Logger,
	}

	s.setupMiddleware(opts.CORSOrigins)

	humaConfig := huma.DefaultConfig("dirwatch API", Version)
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.registerHealthRoutes()
	s.registerWatchRoutes()
	s.registerChangeRoutes()

	if s.sseManager != nil {
		s.router.Get("/api/v1/events", sse.NewHandler(s.sseManager, s.logger).ServeHTTP)
	}

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "no route for "+r.URL.Path, s.logger)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.MethodNotAllowed(w, s.logger)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API returns the huma API, for tests and OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware(origins []string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)

	if len(origins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
			MaxAge:         300,
		}))
	}
}
