package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
)

const maxTreeBytes = 8 << 20

type similarRequest struct {
	Section *models.Section `json:"section" validate:"-"`
	ID      string          `json:"id,omitempty"`
	Limit   int             `json:"limit,omitempty" validate:"min=0"`
}

type suggestNextRequest struct {
	Sequence []models.SectionType `json:"sequence"`
	Limit    int                  `json:"limit,omitempty" validate:"min=0"`
}

type bestDesignRequest struct {
	Type     models.SectionType `json:"type" validate:"required"`
	Topic    string             `json:"topic,omitempty"`
	Audience string             `json:"audience,omitempty"`
}

type keepRequest struct {
	SlideID        string    `json:"slide_id" validate:"required"`
	QueryEmbedding []float32 `json:"query_embedding,omitempty"`
}

type editRequest struct {
	SlideID string          `json:"slide_id" validate:"required"`
	Section *models.Section `json:"section" validate:"-"`
}

type regenRequest struct {
	SlideID string `json:"slide_id" validate:"required"`
}

type phraseRequest struct {
	Phrase    string `json:"phrase" validate:"required"`
	MatchedID string `json:"matched_id" validate:"required"`
}

type watchAddRequest struct {
	Path string `json:"path" validate:"required"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if !s.decode(w, r, &query) {
		return
	}
	s.logger.Debug("Search request",
		zap.String("query", query.Query),
		zap.String("granularity", string(query.Granularity)),
		zap.Int("limit", query.Limit))
	resp, err := s.retriever.Search(r.Context(), &query)
	if err != nil {
		s.respondErr(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFindSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.retriever.FindSimilarSlides(r.Context(), req.Section, req.ID, req.Limit)
	if err != nil {
		s.respondErr(w, "find similar", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSuggestNext(w http.ResponseWriter, r *http.Request) {
	var req suggestNextRequest
	if !s.decode(w, r, &req) {
		return
	}
	suggestions, err := s.retriever.SuggestNextSlide(r.Context(), req.Sequence, req.Limit)
	if err != nil {
		s.respondErr(w, "suggest next", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (s *Server) handleBestDesign(w http.ResponseWriter, r *http.Request) {
	var req bestDesignRequest
	if !s.decode(w, r, &req) {
		return
	}
	slide, err := s.retriever.GetBestDesignFor(r.Context(), req.Type, req.Topic, req.Audience)
	if err != nil {
		s.respondErr(w, "best design", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"slide": slide})
}

func (s *Server) handleSlideContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sc, err := s.retriever.GetSlideContext(r.Context(), id)
	if err != nil {
		s.respondErr(w, "slide context", err)
		return
	}
	if sc == nil {
		s.respondError(w, http.StatusNotFound, "slide not found")
		return
	}
	s.respondJSON(w, http.StatusOK, sc)
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindParam(w, r)
	if !ok {
		return
	}
	rec, err := s.storage.Get(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, "get chunk", err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpsertEnrichment(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindParam(w, r)
	if !ok {
		return
	}
	var fields models.Enrichment
	if !s.decode(w, r, &fields) {
		return
	}
	if fields.Embedding != nil && len(fields.Embedding) != s.storage.EmbeddingDim() {
		s.respondError(w, http.StatusBadRequest,
			fmt.Sprintf("embedding has %d dimensions, index has %d", len(fields.Embedding), s.storage.EmbeddingDim()))
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.storage.UpsertEnrichment(r.Context(), kind, id, &fields); err != nil {
		s.respondErr(w, "upsert enrichment", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "enriched"})
}

func (s *Server) handleListDecks(w http.ResponseWriter, r *http.Request) {
	raw := make(map[string]any)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			raw[key] = values[0]
		}
	}
	filters, err := search.CompileFilters(models.KindDeck, raw)
	if err != nil {
		s.respondErr(w, "list decks", err)
		return
	}
	decks, err := s.storage.ListDecks(r.Context(), filters)
	if err != nil {
		s.respondErr(w, "list decks", err)
		return
	}
	if decks == nil {
		decks = []*models.DeckRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"decks": decks, "total": len(decks)})
}

// handleIngestDeck accepts a tree as JSON or, for any other content type, YAML.
func (s *Server) handleIngestDeck(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxTreeBytes))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	name := "tree.yaml"
	if strings.Contains(r.Header.Get("Content-Type"), "json") {
		name = "tree.json"
	}
	tree, err := indexer.LoadTree(data, name)
	if err != nil {
		s.respondErr(w, "ingest", err)
		return
	}
	res, err := s.indexer.IngestTree(r.Context(), tree, indexer.Source{})
	if err != nil {
		s.respondErr(w, "ingest", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handlePurgeDeck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.indexer.Purge(r.Context(), id); err != nil {
		s.respondErr(w, "purge", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "purged"})
}

func (s *Server) handleKeep(w http.ResponseWriter, r *http.Request) {
	var req keepRequest
	if !s.decode(w, r, &req) {
		return
	}
	counters, err := s.feedback.RecordKeep(r.Context(), req.SlideID, req.QueryEmbedding)
	if err != nil {
		s.respondErr(w, "keep", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"slide_id": req.SlideID, "counters": counters})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !s.decode(w, r, &req) {
		return
	}
	g, err := s.feedback.RecordEdit(r.Context(), req.SlideID, req.Section)
	if err != nil {
		s.respondErr(w, "edit", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{
		"deck_id":      g.Deck.ID,
		"slide_id":     g.Slides[0].ID,
		"derived_from": req.SlideID,
		"elements":     len(g.Elements),
	})
}

func (s *Server) handleRegen(w http.ResponseWriter, r *http.Request) {
	var req regenRequest
	if !s.decode(w, r, &req) {
		return
	}
	counters, flagged, err := s.feedback.RecordRegen(r.Context(), req.SlideID)
	if err != nil {
		s.respondErr(w, "regen", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"slide_id": req.SlideID,
		"counters": counters,
		"flagged":  flagged,
	})
}

func (s *Server) handlePhraseHit(w http.ResponseWriter, r *http.Request) {
	var req phraseRequest
	if !s.decode(w, r, &req) {
		return
	}
	trigger, err := s.feedback.RecordPhraseHit(r.Context(), req.Phrase, req.MatchedID)
	if err != nil {
		s.respondErr(w, "phrase hit", err)
		return
	}
	s.respondJSON(w, http.StatusOK, trigger)
}

func (s *Server) handleLookupPhrase(w http.ResponseWriter, r *http.Request) {
	phrase := r.URL.Query().Get("q")
	if phrase == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	trigger, err := s.feedback.LookupPhrase(r.Context(), phrase)
	if err != nil {
		s.respondErr(w, "lookup phrase", err)
		return
	}
	if trigger == nil {
		s.respondError(w, http.StatusNotFound, "no trigger for phrase")
		return
	}
	s.respondJSON(w, http.StatusOK, trigger)
}

func (s *Server) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	slides, err := s.storage.ListFlaggedForReview(r.Context(), limit)
	if err != nil {
		s.respondErr(w, "review queue", err)
		return
	}
	if slides == nil {
		slides = []*models.SlideRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"slides": slides, "total": len(slides)})
}

func (s *Server) handleResolveReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.feedback.ResolveReview(r.Context(), id); err != nil {
		s.respondErr(w, "resolve review", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"slide_id": id, "status": "resolved"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.Stats(r.Context())
	if err != nil {
		s.respondErr(w, "status", err)
		return
	}
	configInfo := map[string]any{"embedding_dimensions": s.storage.EmbeddingDim()}
	if s.config != nil {
		configInfo["embedding_backend"] = s.config.Embedding.Backend
		configInfo["database_path"] = s.config.Storage.DatabasePath
		configInfo["default_granularity"] = s.config.Search.DefaultGranularity
		configInfo["weights"] = s.config.Search.Weights
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"stats": stats, "config": configInfo})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, _ *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"directories": s.watch.Directories()})
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if !s.decode(w, r, &req) {
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondErr(w, "watch add", err)
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	ingestExisting := req.Sync == nil || *req.Sync
	if err := s.watch.AddDirectory(abs, ingestExisting); err != nil {
		s.respondErr(w, "watch add", err)
		return
	}
	s.saveWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.respondErr(w, "watch remove", err)
		return
	}
	s.saveWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) saveWatchDirectories() {
	if s.configPath == "" || s.config == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("Failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) kindParam(w http.ResponseWriter, r *http.Request) (models.ChunkKind, bool) {
	kind := models.ChunkKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown kind %q", kind))
		return "", false
	}
	return kind, true
}

// decode reads a JSON body into v and validates its struct tags. On failure
// it writes a 400 and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if !errors.As(err, &invalid) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return false
		}
	}
	return true
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case models.IsValidation(err), models.IsQuery(err):
		return http.StatusBadRequest
	case models.IsIntegrity(err):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case models.IsEmbeddingUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
	} else {
		s.logger.Debug("Request rejected", zap.String("op", op), zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
