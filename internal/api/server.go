// Package api exposes the HTTP control surface for a running tracking
// engine: live track inspection, tuning parameters, metrics, and the
// cooperative stop control.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/platewatch-data/platewatch/internal/config"
	"github.com/platewatch-data/platewatch/internal/monitoring"
	"github.com/platewatch-data/platewatch/internal/version"
	"github.com/platewatch-data/platewatch/internal/vision"
)

var logs = monitoring.Streams("[api] ")

// Server serves the control API for one engine process.
type Server struct {
	router  chi.Router
	tracker *vision.Tracker
	stop    *vision.StopCell
	metrics *vision.Metrics
	tuning  *config.TuningConfig

	// tuningPath, when set, is where POST /api/params persists updated
	// tuning. Updates take effect on the next run; the live pipeline's
	// parameters are immutable for reproducibility.
	tuningPath string
}

// Config wires a Server's collaborators.
type Config struct {
	Tracker    *vision.Tracker
	Stop       *vision.StopCell
	Metrics    *vision.Metrics // optional
	Tuning     *config.TuningConfig
	TuningPath string
}

// NewServer builds the router and its handlers.
func NewServer(cfg Config) *Server {
	s := &Server{
		tracker:    cfg.Tracker,
		stop:       cfg.Stop,
		metrics:    cfg.Metrics,
		tuning:     cfg.Tuning,
		tuningPath: cfg.TuningPath,
	}
	if s.tuning == nil {
		s.tuning = config.EmptyTuningConfig()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/tracks", s.handleListTracks)
		r.Get("/tracks/{id}", s.handleGetTrack)
		r.Get("/params", s.handleGetParams)
		r.Post("/params", s.handleSetParams)
		r.Post("/stop", s.handleStop)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logs.Diagf("encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleListTracks returns the live track snapshots. ?state=confirmed
// restricts to confirmed tracks.
func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	var tracks []vision.TrackView
	switch r.URL.Query().Get("state") {
	case "":
		tracks = s.tracker.Snapshot()
	case string(vision.TrackConfirmed):
		tracks = s.tracker.ConfirmedSnapshot()
	default:
		s.writeJSONError(w, http.StatusBadRequest, "unknown state filter")
		return
	}
	if tracks == nil {
		tracks = []vision.TrackView{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(tracks),
		"tracks": tracks,
	})
}

func (s *Server) handleGetTrack(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid track id")
		return
	}
	view, ok := s.tracker.View(vision.TrackID(id))
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("track %d not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tuning.Effective())
}

// handleSetParams validates a tuning document and persists it for the next
// run. The live run keeps its parameters so results stay reproducible.
func (s *Server) handleSetParams(w http.ResponseWriter, r *http.Request) {
	if s.tuningPath == "" {
		s.writeJSONError(w, http.StatusConflict, "no tuning file configured")
		return
	}

	var tuning config.TuningConfig
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&tuning); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := tuning.Validate(); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := json.MarshalIndent(&tuning, "", "  ")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.WriteFile(s.tuningPath, data, 0o644); err != nil {
		logs.Opsf("write tuning file: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to persist tuning")
		return
	}

	logs.Opsf("tuning updated via API, takes effect next run")
	s.writeJSON(w, http.StatusAccepted, tuning.Effective())
}

// handleStop sets the stop cell; the pipeline halts at the next frame
// boundary.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.stop.Stop()
	logs.Opsf("stop requested via API")
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}
