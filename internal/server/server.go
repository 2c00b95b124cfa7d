// Package server provides the HTTP API for the design index.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/feedback"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/pkg/utils"
)

// WatchService manages drop folders at runtime.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, ingestExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the design index API.
type Server struct {
	retriever *search.Retriever
	indexer   *indexer.Indexer
	feedback  *feedback.Processor
	storage   storage.Storage
	config    *config.Config
	logger    *zap.Logger
	validate  *validator.Validate

	watch      WatchService
	configPath string
	configMu   sync.Mutex

	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWatch enables the drop-folder routes. When configPath is set, changes
// to the watched directories are saved back to the config file.
func WithWatch(watch WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = watch
		s.configPath = configPath
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(
	retriever *search.Retriever,
	idx *indexer.Indexer,
	fb *feedback.Processor,
	store storage.Storage,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		retriever: retriever,
		indexer:   idx,
		feedback:  fb,
		storage:   store,
		config:    cfg,
		logger:    utils.OrNop(logger),
		validate:  validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)

		r.Post("/slides/similar", s.handleFindSimilar)
		r.Post("/slides/suggest-next", s.handleSuggestNext)
		r.Post("/slides/best", s.handleBestDesign)
		r.Get("/slides/{id}/context", s.handleSlideContext)

		r.Get("/chunks/{kind}/{id}", s.handleGetChunk)
		r.Post("/enrichment/{kind}/{id}", s.handleUpsertEnrichment)

		r.Get("/decks", s.handleListDecks)
		r.Post("/decks", s.handleIngestDeck)
		r.Delete("/decks/{id}", s.handlePurgeDeck)

		r.Post("/feedback/keep", s.handleKeep)
		r.Post("/feedback/edit", s.handleEdit)
		r.Post("/feedback/regen", s.handleRegen)

		r.Get("/phrases", s.handleLookupPhrase)
		r.Post("/phrases", s.handlePhraseHit)

		r.Get("/review", s.handleReviewQueue)
		r.Delete("/review/{id}", s.handleResolveReview)

		r.Get("/status", s.handleStatus)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequest(route, status)
		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
