package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/platewatch-data/platewatch/internal/config"
	"github.com/platewatch-data/platewatch/internal/vision"
)

func testServer(t *testing.T) (*Server, *vision.Tracker, *vision.StopCell) {
	t.Helper()
	cfg := vision.DefaultTrackerConfig()
	cfg.ConfirmationHits = 2
	tracker := vision.NewTracker(cfg)
	stop := vision.NewStopCell()
	server := NewServer(Config{
		Tracker: tracker,
		Stop:    stop,
		Tuning:  config.EmptyTuningConfig(),
	})
	return server, tracker, stop
}

func seedTrack(t *testing.T, tracker *vision.Tracker, frames int) vision.TrackID {
	t.Helper()
	obs := vision.Observation{
		Detection:  vision.Detection{Box: vision.Rect{X: 100, Y: 100, W: 40, H: 20}, Confidence: 0.9},
		Appearance: vision.AppearanceVector{1, 0, 0},
	}
	for frame := 0; frame < frames; frame++ {
		if _, err := tracker.Update(frame, []vision.Observation{obs}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	snap := tracker.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("seeded %d tracks, want 1", len(snap))
	}
	return snap[0].ID
}

func doRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	server, _, _ := testServer(t)
	rec := doRequest(t, server, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListTracks(t *testing.T) {
	server, tracker, _ := testServer(t)
	seedTrack(t, tracker, 1) // tentative only

	rec := doRequest(t, server, http.MethodGet, "/api/tracks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Count  int                `json:"count"`
		Tracks []vision.TrackView `json:"tracks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || len(resp.Tracks) != 1 {
		t.Fatalf("count = %d, tracks = %d", resp.Count, len(resp.Tracks))
	}

	// Tentative tracks are excluded from the confirmed filter.
	rec = doRequest(t, server, http.MethodGet, "/api/tracks?state=confirmed", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 0 {
		t.Fatalf("confirmed count = %d, want 0", resp.Count)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/tracks?state=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus filter status = %d, want 400", rec.Code)
	}
}

func TestGetTrack(t *testing.T) {
	server, tracker, _ := testServer(t)
	id := seedTrack(t, tracker, 3)

	rec := doRequest(t, server, http.MethodGet, "/api/tracks/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var view vision.TrackView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ID != id || view.State != vision.TrackConfirmed || view.Hits != 3 {
		t.Fatalf("view = %+v", view)
	}

	if rec := doRequest(t, server, http.MethodGet, "/api/tracks/999", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing track status = %d, want 404", rec.Code)
	}
	if rec := doRequest(t, server, http.MethodGet, "/api/tracks/abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", rec.Code)
	}
}

func TestGetParamsReturnsEffectiveValues(t *testing.T) {
	server, _, _ := testServer(t)
	rec := doRequest(t, server, http.MethodGet, "/api/params", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var params config.EffectiveTuning
	if err := json.Unmarshal(rec.Body.Bytes(), &params); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if params.DetectionThreshold != 0.5 || params.MaxAge != 60 || params.ConfirmationHits != 10 {
		t.Fatalf("defaults not applied: %+v", params)
	}
}

func TestSetParamsPersists(t *testing.T) {
	tuningPath := filepath.Join(t.TempDir(), "tuning.json")
	tracker := vision.NewTracker(vision.DefaultTrackerConfig())
	server := NewServer(Config{
		Tracker:    tracker,
		Stop:       vision.NewStopCell(),
		Tuning:     config.EmptyTuningConfig(),
		TuningPath: tuningPath,
	})

	rec := doRequest(t, server, http.MethodPost, "/api/params", `{"max_age": 90}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	loaded, err := config.LoadTuningConfig(tuningPath)
	if err != nil {
		t.Fatalf("reload persisted tuning: %v", err)
	}
	if loaded.GetMaxAge() != 90 {
		t.Fatalf("persisted max_age = %d, want 90", loaded.GetMaxAge())
	}
	// Unset fields keep defaults.
	if loaded.GetConfirmationHits() != 10 {
		t.Fatalf("persisted confirmation_hits = %d, want default 10", loaded.GetConfirmationHits())
	}
}

func TestSetParamsRejectsInvalid(t *testing.T) {
	tuningPath := filepath.Join(t.TempDir(), "tuning.json")
	server := NewServer(Config{
		Tracker:    vision.NewTracker(vision.DefaultTrackerConfig()),
		Stop:       vision.NewStopCell(),
		TuningPath: tuningPath,
	})

	cases := []struct {
		name string
		body string
	}{
		{"negative max_age", `{"max_age": -1}`},
		{"unknown field", `{"bogus_knob": 1}`},
		{"not json", `max_age=90`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, server, http.MethodPost, "/api/params", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
			if _, err := os.Stat(tuningPath); !os.IsNotExist(err) {
				t.Fatal("invalid tuning was persisted")
			}
		})
	}
}

func TestSetParamsWithoutTuningPath(t *testing.T) {
	server, _, _ := testServer(t)
	rec := doRequest(t, server, http.MethodPost, "/api/params", `{"max_age": 90}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestStopSetsCell(t *testing.T) {
	server, _, stop := testServer(t)
	rec := doRequest(t, server, http.MethodPost, "/api/stop", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if !stop.Stopped() {
		t.Fatal("stop cell not set")
	}
}
