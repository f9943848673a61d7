package vision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/platewatch-data/platewatch/internal/monitoring"
)

var logs = monitoring.Streams("[vision] ")

// StopCell is the shared, thread-safe stop signal. The pipeline checks it
// once per frame boundary; there is no mid-frame cancellation. Collaborators
// (the HTTP surface, signal handlers) hold a reference and call Stop.
type StopCell struct {
	flag atomic.Bool
}

// NewStopCell returns an unset stop cell.
func NewStopCell() *StopCell {
	return &StopCell{}
}

// Stop requests a cooperative stop at the next frame boundary.
func (c *StopCell) Stop() { c.flag.Store(true) }

// Stopped reports whether a stop has been requested.
func (c *StopCell) Stopped() bool { return c.flag.Load() }

// Reset clears the cell so a pipeline can be restarted.
func (c *StopCell) Reset() { c.flag.Store(false) }

// FrameSource supplies frames to the pipeline one at a time. Next returns
// io.EOF when the stream ends. Sources may read ahead internally, but the
// frame handed out is owned by the pipeline until the next call.
type FrameSource interface {
	Next() (*Frame, error)
}

// PersistenceSink writes pipeline outputs (tracks, observations, readings)
// to storage. It is an adapter, not a domain layer; the sqlite
// implementation lives in internal/storage/sqlite.
type PersistenceSink interface {
	// PersistTrack writes or updates a track record from its snapshot.
	PersistTrack(view TrackView) error
	// PersistObservation writes a single matched-frame observation.
	PersistObservation(view TrackView, frameIndex int) error
	// PersistReading records an accepted best reading for a track.
	PersistReading(id TrackID, r Reading, frameIndex int) error
}

// PipelineConfig holds the collaborators and policy for a Pipeline.
type PipelineConfig struct {
	Detector   *DetectionAdapter
	Embedder   Embedder
	Recognizer Recognizer // optional: nil disables recognition
	Tracker    *Tracker
	Sink       PersistenceSink // optional
	Metrics    *Metrics        // optional
	Stop       *StopCell       // optional: Run creates one if nil

	// RecognitionThreshold is the minimum confidence for a reading to be
	// considered at all.
	RecognitionThreshold float64

	// MaxDetectionFailures is the consecutive detector failure count at
	// which the pipeline escalates from a diag entry to an ops warning.
	// A single transient failure never aborts the stream.
	MaxDetectionFailures int

	// OnFrame, when non-nil, receives the post-frame track snapshot. This
	// is the hook for rendering and alerting collaborators.
	OnFrame func(frameIndex int, tracks []TrackView)
}

// Pipeline drives the per-frame sequence: detect, extract appearance,
// associate, update lifecycle, recognize, aggregate. Frames are strictly
// sequential; the track store is touched by exactly one frame's logic at a
// time.
type Pipeline struct {
	cfg           PipelineConfig
	stop          *StopCell
	failureStreak int
	lastAllocated TrackID
}

// NewPipeline validates the configuration and returns a pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Detector == nil {
		return nil, errors.New("pipeline: detector is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("pipeline: embedder is required")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("pipeline: tracker is required")
	}
	if cfg.MaxDetectionFailures < 1 {
		cfg.MaxDetectionFailures = 30
	}
	stop := cfg.Stop
	if stop == nil {
		stop = NewStopCell()
	}
	return &Pipeline{cfg: cfg, stop: stop}, nil
}

// Stop returns the pipeline's stop cell.
func (p *Pipeline) Stop() *StopCell { return p.stop }

// Run processes frames from the source until it is exhausted, the context
// is cancelled, or the stop cell is set. On normal termination all live
// tracks are explicitly deleted and flushed to the sink. Only an assignment
// invariant violation or a source error aborts with an error.
func (p *Pipeline) Run(ctx context.Context, source FrameSource) error {
	for {
		// Stop conditions are checked once per frame boundary only.
		if p.stop.Stopped() {
			logs.Diagf("stop requested, terminating after %d tracks live", p.liveCount())
			break
		}
		select {
		case <-ctx.Done():
			logs.Diagf("context cancelled, terminating")
			p.terminate()
			return ctx.Err()
		default:
		}

		frame, err := source.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			p.terminate()
			return fmt.Errorf("frame source: %w", err)
		}

		if _, err := p.Step(frame); err != nil {
			return err
		}
	}

	p.terminate()
	return nil
}

// Step runs one frame through the full pipeline and returns the resulting
// track snapshot. An error is returned only for fatal invariant violations;
// detector and recognizer failures degrade to an emptier frame.
func (p *Pipeline) Step(frame *Frame) ([]TrackView, error) {
	start := time.Now()

	detections := p.detect(frame)
	observations := p.embed(frame, detections)

	matchedIDs, err := p.cfg.Tracker.Update(frame.Index, observations)
	if err != nil {
		// A malformed matching means identities can no longer be trusted;
		// abort loudly rather than corrupt them silently.
		logs.Opsf("frame %d: fatal: %v", frame.Index, err)
		return nil, fmt.Errorf("frame %d: %w", frame.Index, err)
	}

	p.recognize(frame, matchedIDs)

	// Tracks that transitioned to Deleted this frame leave the store now;
	// their ids are never reassigned.
	removed := p.cfg.Tracker.Sweep()
	p.persist(frame.Index, matchedIDs, removed)

	snapshot := p.cfg.Tracker.Snapshot()
	p.record(frame, detections, removed, time.Since(start))

	if p.cfg.OnFrame != nil {
		p.cfg.OnFrame(frame.Index, snapshot)
	}
	return snapshot, nil
}

// detect runs the detection adapter, degrading gracefully on failure: the
// frame is treated as detection-empty and the pipeline continues. Repeated
// consecutive failures escalate to the ops stream.
func (p *Pipeline) detect(frame *Frame) []Detection {
	detections, err := p.cfg.Detector.Detect(frame)
	if err != nil {
		p.failureStreak++
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.detectionFailuresTotal.Inc()
		}
		if p.failureStreak == p.cfg.MaxDetectionFailures {
			logs.Opsf("detector failed on %d consecutive frames (latest frame %d): %v",
				p.failureStreak, frame.Index, err)
		} else {
			logs.Diagf("frame %d: detection failed, treating as empty: %v", frame.Index, err)
		}
		return nil
	}
	p.failureStreak = 0
	return detections
}

// embed turns detections into observations, discarding those whose crop
// region is degenerate or whose embedding fails. Only the single detection
// is dropped, never the frame.
func (p *Pipeline) embed(frame *Frame, detections []Detection) []Observation {
	observations := make([]Observation, 0, len(detections))
	for _, det := range detections {
		if err := ValidateRegion(frame, det.Box); err != nil {
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.invalidRegionsTotal.Inc()
			}
			logs.Tracef("frame %d: dropping detection with invalid region %+v", frame.Index, det.Box)
			continue
		}
		vec, err := p.cfg.Embedder.Embed(frame, det.Box)
		if err != nil {
			if errors.Is(err, ErrInvalidRegion) {
				if p.cfg.Metrics != nil {
					p.cfg.Metrics.invalidRegionsTotal.Inc()
				}
				logs.Tracef("frame %d: embedder rejected region %+v", frame.Index, det.Box)
			} else {
				logs.Opsf("frame %d: embedding failed, dropping detection: %v", frame.Index, err)
			}
			continue
		}
		observations = append(observations, Observation{Detection: det, Appearance: vec})
	}
	return observations
}

// recognize runs OCR over the confirmed tracks matched this frame and feeds
// the readings to the per-track aggregator. Tentative tracks are skipped:
// they are not yet stable enough to justify recognition cost.
func (p *Pipeline) recognize(frame *Frame, matchedIDs []TrackID) {
	if p.cfg.Recognizer == nil {
		return
	}
	for _, id := range matchedIDs {
		view, ok := p.cfg.Tracker.View(id)
		if !ok || view.State != TrackConfirmed {
			continue
		}
		reading, err := p.cfg.Recognizer.Recognize(frame, view.Box)
		if err != nil {
			logs.Diagf("frame %d: recognition failed for track %d: %v", frame.Index, id, err)
			continue
		}
		if p.cfg.Tracker.ObserveReading(id, reading, p.cfg.RecognitionThreshold) {
			logs.Diagf("frame %d: track %d best reading now %q (%.3f)",
				frame.Index, id, reading.Text, reading.Confidence)
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.readingsAcceptedTotal.Inc()
			}
			if p.cfg.Sink != nil {
				if err := p.cfg.Sink.PersistReading(id, reading, frame.Index); err != nil {
					logs.Opsf("persist reading for track %d: %v", id, err)
				}
			}
		}
	}
}

// persist flushes confirmed-track state, matched observations and removed
// tracks to the sink. Persistence errors are logged, never fatal: the live
// store remains authoritative for the run.
func (p *Pipeline) persist(frameIndex int, matchedIDs []TrackID, removed []TrackView) {
	if p.cfg.Sink == nil {
		return
	}

	matched := make(map[TrackID]bool, len(matchedIDs))
	for _, id := range matchedIDs {
		matched[id] = true
	}

	for _, view := range p.cfg.Tracker.ConfirmedSnapshot() {
		if err := p.cfg.Sink.PersistTrack(view); err != nil {
			logs.Opsf("persist track %d: %v", view.ID, err)
			continue
		}
		// Only matched frames carry a real measurement; coasting positions
		// are predictions and would contaminate the observation log.
		if matched[view.ID] {
			if err := p.cfg.Sink.PersistObservation(view, frameIndex); err != nil {
				logs.Opsf("persist observation for track %d: %v", view.ID, err)
			}
		}
	}

	for _, view := range removed {
		if err := p.cfg.Sink.PersistTrack(view); err != nil {
			logs.Opsf("persist removed track %d: %v", view.ID, err)
		}
	}
}

// record updates metrics and trace logging for a completed frame.
func (p *Pipeline) record(frame *Frame, detections []Detection, removed []TrackView, elapsed time.Duration) {
	total, tentative, confirmed, _ := p.cfg.Tracker.Counts()
	logs.Tracef("frame %d: %d detections, %d tracks (%d tentative, %d confirmed), %d removed, %s",
		frame.Index, len(detections), total, tentative, confirmed, len(removed), elapsed)

	if p.cfg.Metrics == nil {
		return
	}
	m := p.cfg.Metrics
	m.framesTotal.Inc()
	m.detectionsTotal.Add(float64(len(detections)))
	m.tracksDeletedTotal.Add(float64(len(removed)))
	m.liveTracks.Set(float64(total))
	m.confirmedTracks.Set(float64(confirmed))
	m.frameSeconds.Observe(elapsed.Seconds())

	allocated := p.cfg.Tracker.LastAssignedID()
	if allocated > p.lastAllocated {
		m.tracksCreatedTotal.Add(float64(allocated - p.lastAllocated))
		p.lastAllocated = allocated
	}
}

// terminate deletes every live track and flushes the final snapshots.
func (p *Pipeline) terminate() {
	removed := p.cfg.Tracker.Terminate()
	if p.cfg.Sink != nil {
		for _, view := range removed {
			if err := p.cfg.Sink.PersistTrack(view); err != nil {
				logs.Opsf("persist terminated track %d: %v", view.ID, err)
			}
		}
	}
	logs.Diagf("pipeline terminated, %d tracks flushed", len(removed))
}

func (p *Pipeline) liveCount() int {
	total, _, _, _ := p.cfg.Tracker.Counts()
	return total
}
