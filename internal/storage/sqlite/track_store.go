// Package sqlite persists tracking runs, tracks, observations and readings
// behind the pipeline's PersistenceSink interface.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platewatch-data/platewatch/internal/db"
	"github.com/platewatch-data/platewatch/internal/vision"
)

// TrackStore writes one run's pipeline output to sqlite. Create one per run
// with BeginRun; the store is bound to that run's id for its lifetime.
type TrackStore struct {
	db    *db.DB
	runID string
}

// BeginRun inserts a new run row and returns a store bound to it. source
// describes where frames come from (a replay path, a device name);
// tuningJSON is the effective tuning for reproducibility.
func BeginRun(database *db.DB, source, tuningJSON string) (*TrackStore, error) {
	runID := uuid.NewString()
	_, err := database.Exec(
		`INSERT INTO runs (run_id, started_at, source, tuning_json) VALUES (?, ?, ?, ?)`,
		runID, time.Now().UTC(), source, tuningJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &TrackStore{db: database, runID: runID}, nil
}

// OpenRun returns a store bound to an existing run id, for tools that
// append to or inspect a finished run.
func OpenRun(database *db.DB, runID string) *TrackStore {
	return &TrackStore{db: database, runID: runID}
}

// RunID returns the run this store writes under.
func (s *TrackStore) RunID() string { return s.runID }

// PersistTrack inserts or updates the track's summary row. Later writes for
// the same track win; the deleted-state flush at end of life is final.
func (s *TrackStore) PersistTrack(view vision.TrackView) error {
	var bestText sql.NullString
	var bestConf sql.NullFloat64
	if view.BestReading != nil {
		bestText = sql.NullString{String: view.BestReading.Text, Valid: true}
		bestConf = sql.NullFloat64{Float64: view.BestReading.Confidence, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO tracks (
			run_id, track_id, track_state,
			first_frame, last_frame, hits, age,
			box_x, box_y, box_w, box_h,
			best_text, best_confidence, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, track_id) DO UPDATE SET
			track_state = excluded.track_state,
			last_frame = excluded.last_frame,
			hits = excluded.hits,
			age = excluded.age,
			box_x = excluded.box_x,
			box_y = excluded.box_y,
			box_w = excluded.box_w,
			box_h = excluded.box_h,
			best_text = excluded.best_text,
			best_confidence = excluded.best_confidence,
			updated_at = excluded.updated_at
	`,
		s.runID, int64(view.ID), string(view.State),
		view.FirstFrame, view.LastFrame, view.Hits, view.Age,
		view.Box.X, view.Box.Y, view.Box.W, view.Box.H,
		bestText, bestConf, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert track %d: %w", view.ID, err)
	}
	return nil
}

// PersistObservation records a matched-frame measurement for the track.
// Duplicate (track, frame) pairs are ignored so replays are idempotent.
func (s *TrackStore) PersistObservation(view vision.TrackView, frameIndex int) error {
	_, err := s.db.Exec(`
		INSERT INTO track_obs (run_id, track_id, frame_index, box_x, box_y, box_w, box_h)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, track_id, frame_index) DO NOTHING
	`,
		s.runID, int64(view.ID), frameIndex,
		view.Box.X, view.Box.Y, view.Box.W, view.Box.H,
	)
	if err != nil {
		return fmt.Errorf("insert observation for track %d frame %d: %w", view.ID, frameIndex, err)
	}
	return nil
}

// PersistReading appends an accepted best reading to the run's reading log.
func (s *TrackStore) PersistReading(id vision.TrackID, r vision.Reading, frameIndex int) error {
	_, err := s.db.Exec(`
		INSERT INTO readings (run_id, track_id, frame_index, text, confidence)
		VALUES (?, ?, ?, ?, ?)
	`,
		s.runID, int64(id), frameIndex, r.Text, r.Confidence,
	)
	if err != nil {
		return fmt.Errorf("insert reading for track %d: %w", id, err)
	}
	return nil
}

// TrackRecord is one persisted track summary row.
type TrackRecord struct {
	RunID          string
	TrackID        int64
	State          string
	FirstFrame     int
	LastFrame      int
	Hits           int
	Age            int
	Box            vision.Rect
	BestText       string
	BestConfidence float64
	HasReading     bool
}

// QueryTracks returns the run's track summaries ordered by track id.
func (s *TrackStore) QueryTracks() ([]TrackRecord, error) {
	rows, err := s.db.Query(`
		SELECT track_id, track_state, first_frame, last_frame, hits, age,
		       box_x, box_y, box_w, box_h, best_text, best_confidence
		FROM tracks
		WHERE run_id = ?
		ORDER BY track_id
	`, s.runID)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var records []TrackRecord
	for rows.Next() {
		rec := TrackRecord{RunID: s.runID}
		var bestText sql.NullString
		var bestConf sql.NullFloat64
		err := rows.Scan(
			&rec.TrackID, &rec.State, &rec.FirstFrame, &rec.LastFrame,
			&rec.Hits, &rec.Age,
			&rec.Box.X, &rec.Box.Y, &rec.Box.W, &rec.Box.H,
			&bestText, &bestConf,
		)
		if err != nil {
			return nil, fmt.Errorf("scan track row: %w", err)
		}
		if bestText.Valid {
			rec.BestText = bestText.String
			rec.BestConfidence = bestConf.Float64
			rec.HasReading = true
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ObservationPoint is one matched-frame position of a track.
type ObservationPoint struct {
	FrameIndex int
	Box        vision.Rect
}

// QueryObservations returns a track's matched positions in frame order.
func (s *TrackStore) QueryObservations(trackID int64) ([]ObservationPoint, error) {
	rows, err := s.db.Query(`
		SELECT frame_index, box_x, box_y, box_w, box_h
		FROM track_obs
		WHERE run_id = ? AND track_id = ?
		ORDER BY frame_index
	`, s.runID, trackID)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var points []ObservationPoint
	for rows.Next() {
		var p ObservationPoint
		if err := rows.Scan(&p.FrameIndex, &p.Box.X, &p.Box.Y, &p.Box.W, &p.Box.H); err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// ReadingRecord is one accepted reading event.
type ReadingRecord struct {
	TrackID    int64
	FrameIndex int
	Text       string
	Confidence float64
}

// QueryReadings returns the run's accepted readings in acceptance order.
func (s *TrackStore) QueryReadings() ([]ReadingRecord, error) {
	rows, err := s.db.Query(`
		SELECT track_id, frame_index, text, confidence
		FROM readings
		WHERE run_id = ?
		ORDER BY reading_id
	`, s.runID)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var records []ReadingRecord
	for rows.Next() {
		var r ReadingRecord
		if err := rows.Scan(&r.TrackID, &r.FrameIndex, &r.Text, &r.Confidence); err != nil {
			return nil, fmt.Errorf("scan reading row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListRuns returns the run ids present in the database, newest first.
func ListRuns(database *db.DB) ([]string, error) {
	rows, err := database.Query(`SELECT run_id FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
