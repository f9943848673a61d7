package vision

import (
	"sort"
	"sync"

	"github.com/platewatch-data/platewatch/internal/config"
)

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackTentative TrackState = "tentative" // New track, needs confirmation
	TrackConfirmed TrackState = "confirmed" // Stable track with sufficient history
	TrackDeleted   TrackState = "deleted"   // Track marked for removal
)

// TrackID identifies a track. IDs are assigned at tentative creation,
// strictly increasing, and never reused for the process lifetime.
type TrackID int64

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	ConfirmationHits          int     // Total matches needed to confirm a tentative track
	MaxAge                    int     // Consecutive missed frames tolerated before deletion
	MaxTracks                 int     // Maximum number of concurrent tracks
	CosineDistanceThreshold   float64 // Appearance eligibility gate for association
	SpatialCostWeight         float64 // Weight of the IoU-complement term in the cost
	TrajectoryCapacity        int     // Maximum trajectory points retained per track
	AppearanceHistoryCapacity int     // Maximum appearance vectors retained per track
}

// DefaultTrackerConfig returns the default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfigFromTuning(config.EmptyTuningConfig())
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		ConfirmationHits:          cfg.GetConfirmationHits(),
		MaxAge:                    cfg.GetMaxAge(),
		MaxTracks:                 cfg.GetMaxTracks(),
		CosineDistanceThreshold:   cfg.GetCosineDistanceThreshold(),
		SpatialCostWeight:         cfg.GetSpatialCostWeight(),
		TrajectoryCapacity:        cfg.GetTrajectoryCapacity(),
		AppearanceHistoryCapacity: cfg.GetAppearanceHistoryCapacity(),
	}
}

// TrajectoryPoint is one past bounding-box centre of a track.
type TrajectoryPoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	FrameIndex int     `json:"frame"`
}

// Track is a persistent identity assigned to one physical object across
// frames. Tracks are owned exclusively by the Tracker; no other component
// holds a mutable reference across frames.
type Track struct {
	ID    TrackID
	State TrackState

	// Box is the current predicted or observed bounding box.
	Box Rect

	// Lifecycle counters. Age counts consecutive frames since the last
	// successful match and resets to zero on match; Hits counts total
	// matches since creation and only increases.
	Age  int
	Hits int

	FirstFrame     int // frame index at tentative creation
	LastMatchFrame int // frame index of the most recent match

	// Per-frame centre velocity estimated from the last two matches,
	// used to predict the box position during occlusion.
	vx, vy float64

	// Centre of the last observed (not predicted) box, the reference
	// point for the next velocity estimate.
	lastObsX, lastObsY float64

	gallery    *appearanceGallery
	Trajectory []TrajectoryPoint

	// Best is the highest-confidence recognition accepted so far, nil
	// until a reading clears the recognition threshold.
	Best *Reading
}

// predict advances the track's box by its estimated velocity. Called once
// per frame for every live track before association.
func (tr *Track) predict() {
	if tr.vx != 0 || tr.vy != 0 {
		tr.Box = tr.Box.Translate(tr.vx, tr.vy)
	}
}

// TrackView is an immutable per-frame snapshot of one track, safe to hand
// to rendering, alerting and persistence collaborators.
type TrackView struct {
	ID          TrackID           `json:"id"`
	State       TrackState        `json:"state"`
	Box         Rect              `json:"box"`
	Age         int               `json:"age"`
	Hits        int               `json:"hits"`
	FirstFrame  int               `json:"first_frame"`
	LastFrame   int               `json:"last_frame"`
	Trajectory  []TrajectoryPoint `json:"trajectory"`
	BestReading *Reading          `json:"best_reading,omitempty"`
}

// Tracker is the track store and lifecycle manager. It applies the
// association outcome to the live track set once per frame: matched tracks
// are extended, missed tracks age, aged-out tracks are deleted, and
// unmatched detections seed new tentative tracks.
//
// All methods are safe for concurrent use, but Update and Sweep must be
// driven by exactly one frame's logic at a time.
type Tracker struct {
	mu     sync.RWMutex
	tracks map[TrackID]*Track
	nextID TrackID
	config TrackerConfig
}

// NewTracker creates a tracker with the specified configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		tracks: make(map[TrackID]*Track),
		nextID: 1,
		config: cfg,
	}
}

// Observation pairs a detection with its appearance embedding for one
// frame's association pass.
type Observation struct {
	Detection  Detection
	Appearance AppearanceVector
}

// Update processes one frame of observations: predicts live tracks,
// associates observations to them, applies match/miss lifecycle
// transitions, and seeds new tentative tracks from unmatched observations.
//
// It returns the IDs of tracks matched this frame (for recognition) and an
// error only on an assignment invariant violation, which is fatal.
func (t *Tracker) Update(frameIndex int, observations []Observation) ([]TrackID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Step 1: predict all live tracks to the current frame.
	for _, track := range t.tracks {
		if track.State != TrackDeleted {
			track.predict()
		}
	}

	// Step 2: associate observations to tracks.
	assignments, trackIDs, err := t.associate(observations)
	if err != nil {
		return nil, err
	}

	// Step 3: apply matches.
	matched := make(map[TrackID]bool, len(observations))
	matchedIDs := make([]TrackID, 0, len(observations))
	for obsIdx, col := range assignments {
		if col < 0 {
			continue
		}
		id := trackIDs[col]
		t.applyMatch(t.tracks[id], observations[obsIdx], frameIndex)
		matched[id] = true
		matchedIDs = append(matchedIDs, id)
	}

	// Step 4: age unmatched tracks; delete those that exceed MaxAge.
	for _, track := range t.tracks {
		if matched[track.ID] || track.State == TrackDeleted {
			continue
		}
		track.Age++
		if track.Age > t.config.MaxAge {
			track.State = TrackDeleted
		}
	}

	// Step 5: seed new tentative tracks from unmatched observations.
	for obsIdx, col := range assignments {
		if col >= 0 {
			continue
		}
		if len(t.tracks) >= t.config.MaxTracks {
			break
		}
		t.initTrack(observations[obsIdx], frameIndex)
	}

	sort.Slice(matchedIDs, func(i, j int) bool { return matchedIDs[i] < matchedIDs[j] })
	return matchedIDs, nil
}

// applyMatch extends a track with a matched observation.
func (t *Tracker) applyMatch(track *Track, obs Observation, frameIndex int) {
	newX, newY := obs.Detection.Box.Center()

	// Velocity from observed centre displacement over the frame gap since
	// the last match. The reference is the previous observation, never the
	// predicted box, so a well-tracked object keeps a stable estimate and
	// occlusion-bridging matches do not inflate it.
	if gap := frameIndex - track.LastMatchFrame; gap > 0 && track.Hits > 0 {
		track.vx = (newX - track.lastObsX) / float64(gap)
		track.vy = (newY - track.lastObsY) / float64(gap)
	}

	track.Box = obs.Detection.Box
	track.lastObsX, track.lastObsY = newX, newY
	track.Hits++
	track.Age = 0
	track.LastMatchFrame = frameIndex
	track.gallery.append(obs.Appearance)

	track.Trajectory = append(track.Trajectory, TrajectoryPoint{X: newX, Y: newY, FrameIndex: frameIndex})
	if len(track.Trajectory) > t.config.TrajectoryCapacity {
		track.Trajectory = track.Trajectory[len(track.Trajectory)-t.config.TrajectoryCapacity:]
	}

	if track.State == TrackTentative && track.Hits >= t.config.ConfirmationHits {
		track.State = TrackConfirmed
	}
}

// initTrack creates a new tentative track from an unmatched observation.
func (t *Tracker) initTrack(obs Observation, frameIndex int) *Track {
	id := t.nextID
	t.nextID++

	cx, cy := obs.Detection.Box.Center()
	track := &Track{
		ID:             id,
		State:          TrackTentative,
		Box:            obs.Detection.Box,
		Hits:           1,
		Age:            0,
		FirstFrame:     frameIndex,
		LastMatchFrame: frameIndex,
		lastObsX:       cx,
		lastObsY:       cy,
		gallery:        newAppearanceGallery(t.config.AppearanceHistoryCapacity),
		Trajectory:     []TrajectoryPoint{{X: cx, Y: cy, FrameIndex: frameIndex}},
	}
	track.gallery.append(obs.Appearance)

	if track.State == TrackTentative && track.Hits >= t.config.ConfirmationHits {
		track.State = TrackConfirmed
	}

	t.tracks[id] = track
	return track
}

// ObserveReading feeds one recognition reading to a track's aggregator. Only
// confirmed tracks accept readings; the accepted reading is monotonic in
// confidence for the track's lifetime. Returns true when the reading was
// accepted as the new best.
func (t *Tracker) ObserveReading(id TrackID, r Reading, minConfidence float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	track, ok := t.tracks[id]
	if !ok || track.State != TrackConfirmed {
		return false
	}
	updated := ReduceBestReading(track.Best, r, minConfidence)
	if updated == track.Best {
		return false
	}
	track.Best = updated
	return true
}

// Sweep removes deleted tracks from the store and returns their final
// snapshots. Called once at the end of each frame; a deleted track is never
// matched again and its ID is never reassigned.
func (t *Tracker) Sweep() []TrackView {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []TrackView
	for id, track := range t.tracks {
		if track.State == TrackDeleted {
			removed = append(removed, t.viewOf(track))
			delete(t.tracks, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed
}

// Terminate marks every live track Deleted and removes it from the store,
// returning the final snapshots ordered by ascending ID. Used when the
// frame stream ends.
func (t *Tracker) Terminate() []TrackView {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := make([]TrackView, 0, len(t.tracks))
	for id, track := range t.tracks {
		track.State = TrackDeleted
		removed = append(removed, t.viewOf(track))
		delete(t.tracks, id)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed
}

// LastAssignedID returns the highest track ID handed out so far, or zero if
// no track has ever been created.
func (t *Tracker) LastAssignedID() TrackID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextID - 1
}

// Snapshot returns per-frame copies of every track in the store, ordered by
// ascending ID.
func (t *Tracker) Snapshot() []TrackView {
	t.mu.RLock()
	defer t.mu.RUnlock()

	views := make([]TrackView, 0, len(t.tracks))
	for _, track := range t.tracks {
		views = append(views, t.viewOf(track))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// ConfirmedSnapshot returns copies of the confirmed tracks only.
func (t *Tracker) ConfirmedSnapshot() []TrackView {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var views []TrackView
	for _, track := range t.tracks {
		if track.State == TrackConfirmed {
			views = append(views, t.viewOf(track))
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// View returns a snapshot of one track, or false when it is not in the store.
func (t *Tracker) View(id TrackID) (TrackView, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	track, ok := t.tracks[id]
	if !ok {
		return TrackView{}, false
	}
	return t.viewOf(track), true
}

// Counts returns the number of tracks per lifecycle state.
func (t *Tracker) Counts() (total, tentative, confirmed, deleted int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, track := range t.tracks {
		total++
		switch track.State {
		case TrackTentative:
			tentative++
		case TrackConfirmed:
			confirmed++
		case TrackDeleted:
			deleted++
		}
	}
	return
}

// viewOf builds a deep-copied snapshot. Caller holds the lock.
func (t *Tracker) viewOf(track *Track) TrackView {
	trajectory := make([]TrajectoryPoint, len(track.Trajectory))
	copy(trajectory, track.Trajectory)

	var best *Reading
	if track.Best != nil {
		cp := *track.Best
		best = &cp
	}

	return TrackView{
		ID:          track.ID,
		State:       track.State,
		Box:         track.Box,
		Age:         track.Age,
		Hits:        track.Hits,
		FirstFrame:  track.FirstFrame,
		LastFrame:   track.LastMatchFrame,
		Trajectory:  trajectory,
		BestReading: best,
	}
}
