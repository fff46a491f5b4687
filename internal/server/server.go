// Package server provides the read-only HTTP API over the catalog.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/raphaelgruber/kindred-go/internal/db"
	"github.com/raphaelgruber/kindred-go/internal/models"
)

// Store is the read surface the server exposes. *db.Client satisfies it.
type Store interface {
	GetGame(ctx context.Context, gameID int64) (*models.Game, error)
	Nearest(ctx context.Context, embedding []float32, limit int, minScore float64) ([]db.NearestRow, error)
	CountGames(ctx context.Context) (int, error)
}

// Server serves stored games and their suggestion lists as JSON. It never
// writes; ingestion and refresh stay with the CLI and job workers, so any
// number of these can run behind a load balancer.
type Server struct {
	store   Store
	logger  *slog.Logger
	version string
	http    *http.Server
}

func New(addr, version string, store Store, logger *slog.Logger) *Server {
	s := &Server{
		store:   store,
		logger:  logger,
		version: version,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /games/{id}", s.handleGame)
	mux.HandleFunc("GET /games/{id}/similar", s.handleSimilar)
	mux.HandleFunc("GET /games/{id}/nearest", s.handleNearest)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      LoggingMiddleware(logger)(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Run starts the server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// Handler returns the configured handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountGames(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"games":   count,
	})
}

// gameResponse is the public shape of a game row. The raw embedding stays
// internal.
type gameResponse struct {
	GameID     int64               `json:"game_id"`
	Title      string              `json:"title"`
	ShortText  *string             `json:"short_text,omitempty"`
	URL        *string             `json:"url,omitempty"`
	CoverURL   *string             `json:"cover_url,omitempty"`
	Tags       []string            `json:"tags,omitempty"`
	Developers []string            `json:"developers,omitempty"`
	EntryType  *string             `json:"entry_type,omitempty"`
	Suggested  []models.Suggestion `json:"suggested,omitempty"`
}

func toGameResponse(g *models.Game) gameResponse {
	return gameResponse{
		GameID:     g.GameID,
		Title:      g.Title,
		ShortText:  g.ShortText,
		URL:        g.URL,
		CoverURL:   g.CoverURL,
		Tags:       g.Tags,
		Developers: g.Developers,
		EntryType:  g.EntryType,
		Suggested:  g.Suggested,
	}
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	game, ok := s.loadGame(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toGameResponse(game))
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	game, ok := s.loadGame(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"game_id":   game.GameID,
		"title":     game.Title,
		"suggested": game.Suggested,
	})
}

func (s *Server) handleNearest(w http.ResponseWriter, r *http.Request) {
	game, ok := s.loadGame(w, r)
	if !ok {
		return
	}
	if len(game.Embedding) == 0 {
		writeError(w, http.StatusConflict, "game has no facet embedding yet")
		return
	}

	limit := queryInt(r, "limit", 10)
	minScore := queryFloat(r, "min_score", 0.3)

	rows, err := s.store.Nearest(r.Context(), game.Embedding, limit+1, minScore)
	if err != nil {
		s.logger.Error("nearest query failed", "game_id", game.GameID, "error", err)
		writeError(w, http.StatusInternalServerError, "nearest query failed")
		return
	}

	// The probe game is its own nearest neighbor.
	out := make([]db.NearestRow, 0, len(rows))
	for _, row := range rows {
		if row.GameID == game.GameID {
			continue
		}
		out = append(out, row)
		if len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"game_id": game.GameID,
		"nearest": out,
	})
}

// loadGame parses the id path value and loads the row, writing the error
// response itself on failure.
func (s *Server) loadGame(w http.ResponseWriter, r *http.Request) (*models.Game, bool) {
	gameID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return nil, false
	}

	game, err := s.store.GetGame(r.Context(), gameID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, false
		}
		s.logger.Error("game lookup failed", "game_id", gameID, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return nil, false
	}
	if game == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("game %d not found", gameID))
		return nil, false
	}
	return game, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func queryFloat(r *http.Request, key string, fallback float64) float64 {
	if v := r.URL.Query().Get(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
