// Package httpapi exposes the dashboard's JSON endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/HenryHeth/mission-control-sub000/internal/billing"
	"github.com/HenryHeth/mission-control-sub000/internal/historic"
	"github.com/HenryHeth/mission-control-sub000/internal/memfiles"
	"github.com/HenryHeth/mission-control-sub000/internal/presence"
	"github.com/HenryHeth/mission-control-sub000/internal/snapshot"
)

// HistoricSource is the slice of the aggregation service the handlers use.
type HistoricSource interface {
	Historic(ctx context.Context, year int, includeRecurring bool) (*historic.Aggregate, error)
}

// SnapshotStore persists and recalls last-known-good aggregates. May be
// absent.
type SnapshotStore interface {
	Save(agg *historic.Aggregate, savedAt time.Time) error
	Load(year int, includeRecurring bool) (*historic.Aggregate, time.Time, error)
}

// Server holds the wired dependencies for the HTTP surface.
type Server struct {
	historic      HistoricSource
	snapshots     SnapshotStore
	presenceFiles presence.FileSet
	providers     []billing.Provider
	memoryDir     string
	allowedEmails map[string]struct{}
	logger        *slog.Logger

	ready atomic.Bool
	now   func() time.Time
}

// Options configures a Server. AllowedEmails empty means no auth check.
type Options struct {
	Historic      HistoricSource
	Snapshots     SnapshotStore
	PresenceFiles presence.FileSet
	Providers     []billing.Provider
	MemoryDir     string
	AllowedEmails []string
}

// NewServer creates a Server; call SetReady once startup completes.
func NewServer(opts Options, logger *slog.Logger) *Server {
	var allowed map[string]struct{}
	if len(opts.AllowedEmails) > 0 {
		allowed = make(map[string]struct{}, len(opts.AllowedEmails))
		for _, email := range opts.AllowedEmails {
			allowed[email] = struct{}{}
		}
	}
	return &Server{
		historic:      opts.Historic,
		snapshots:     opts.Snapshots,
		presenceFiles: opts.PresenceFiles,
		providers:     opts.Providers,
		memoryDir:     opts.MemoryDir,
		allowedEmails: allowed,
		logger:        logger,
		now:           time.Now,
	}
}

// SetReady marks the server ready for traffic.
func (s *Server) SetReady() {
	s.ready.Store(true)
}

// Router wires all routes with logging, recovery, and compression.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/health/ready", s.handleReady).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.allowlistMiddleware)
	api.HandleFunc("/historic/{year:[0-9]+}", s.handleHistoric).Methods("GET")
	api.HandleFunc("/heartbeat", s.handleHeartbeat).Methods("GET")
	api.HandleFunc("/spend", s.handleSpend).Methods("GET")
	api.HandleFunc("/memory", s.handleMemory).Methods("GET")

	var h http.Handler = r
	h = handlers.CompressHandler(h)
	h = s.requestIDMiddleware(h)
	h = s.loggingMiddleware(h)
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NOT_READY"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// historicResponse wraps an aggregate with staleness markers when it was
// served from the snapshot store instead of a live computation.
type historicResponse struct {
	*historic.Aggregate
	Stale   bool   `json:"stale,omitempty"`
	SavedAt string `json:"savedAt,omitempty"`
}

func (s *Server) handleHistoric(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(mux.Vars(r)["year"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid year")
		return
	}
	includeRecurring := false
	switch r.URL.Query().Get("recurring") {
	case "1", "true":
		includeRecurring = true
	}

	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	agg, err := s.historic.Historic(ctx, year, includeRecurring)
	if err == nil {
		if s.snapshots != nil {
			if saveErr := s.snapshots.Save(agg, s.now()); saveErr != nil {
				s.logger.Warn("snapshot save failed", "year", year, "error", saveErr)
			}
		}
		s.writeJSON(w, http.StatusOK, historicResponse{Aggregate: agg})
		return
	}

	s.logger.Error("historic aggregation failed", "year", year, "error", err)

	// Degrade to the last-known-good view when one exists; otherwise the
	// upstream error surfaces with its message intact.
	if s.snapshots != nil {
		if stale, savedAt, loadErr := s.snapshots.Load(year, includeRecurring); loadErr == nil {
			s.writeJSON(w, http.StatusOK, historicResponse{
				Aggregate: stale,
				Stale:     true,
				SavedAt:   savedAt.UTC().Format(time.RFC3339),
			})
			return
		} else if !errors.Is(loadErr, snapshot.ErrNotFound) {
			s.logger.Warn("snapshot load failed", "year", year, "error", loadErr)
		}
	}
	s.writeError(w, http.StatusBadGateway, err.Error())
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	src := presence.LoadSources(s.presenceFiles, s.logger)
	result := presence.Reconstruct(s.now(), src)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), billing.DefaultTimeout)
	defer cancel()
	s.writeJSON(w, http.StatusOK, billing.FetchAll(ctx, s.providers, s.logger))
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	files, err := memfiles.Scan(s.memoryDir)
	if err != nil {
		s.logger.Error("memory scan failed", "dir", s.memoryDir, "error", err)
		s.writeError(w, http.StatusInternalServerError, "memory scan failed")
		return
	}
	if files == nil {
		files = []memfiles.FileInfo{}
	}
	s.writeJSON(w, http.StatusOK, files)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
