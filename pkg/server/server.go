// Package server provides the HTTP API over the catalog and syncer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/anorvell/dealwatch/internal/store"
	"github.com/anorvell/dealwatch/internal/syncer"
	"github.com/anorvell/dealwatch/pkg/report"
)

// Server provides the HTTP API.
type Server struct {
	store  store.Store
	agg    *report.Aggregator
	syncer *syncer.Syncer
	port   int
	log    zerolog.Logger
}

// New creates a new HTTP server.
func New(s store.Store, agg *report.Aggregator, sy *syncer.Syncer, port int, log zerolog.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:  s,
		agg:    agg,
		syncer: sy,
		port:   port,
		log:    log.With().Str("component", "server").Logger(),
	}
}

// Handler returns the routed handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/deals", s.handleDeals)
	mux.HandleFunc("/api/v1/games/{id}", s.handleGame)
	mux.HandleFunc("/api/v1/sync", s.handleSync)
	mux.HandleFunc("/api/v1/sync/status", s.handleSyncStatus)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info().Str("addr", addr).Msg("dealwatch server listening")
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var f report.Filter
	q := r.URL.Query()
	f.OnSale = q.Get("on_sale") == "true"
	f.Search = q.Get("search")
	if md := q.Get("min_discount"); md != "" {
		n, err := strconv.Atoi(md)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "min_discount must be an integer"})
			return
		}
		f.MinDiscount = n
	}

	rows, err := s.agg.Deals(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	// As in the CLI, a zero or negative limit means no limit.
	if lim := q.Get("limit"); lim != "" {
		if n, err := strconv.Atoi(lim); err == nil && n > 0 && n < len(rows) {
			rows = rows[:n]
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  rows,
		"count": len(rows),
	})
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	appID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid app id"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		detail, err := s.agg.ItemDetail(r.Context(), appID)
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "game not tracked"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case http.MethodDelete:
		err := s.store.DeleteItem(r.Context(), appID)
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "game not tracked"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": appID})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if s.syncer.Status().Running {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "sync already in flight"})
		return
	}

	// The sync outlives the request; poll /api/v1/sync/status for progress.
	go func() {
		if _, err := s.syncer.Run(context.Background()); err != nil &&
			!errors.Is(err, syncer.ErrSyncInFlight) {
			s.log.Error().Err(err).Msg("background sync failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, s.syncer.Status())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	stats, err := s.agg.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
