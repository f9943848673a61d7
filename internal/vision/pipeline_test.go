package vision

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// scriptDetector returns a fixed detection list per frame index, or a
// scripted error.
type scriptDetector struct {
	detections map[int][]Detection
	failures   map[int]error
}

func (d *scriptDetector) Detect(frame *Frame) ([]Detection, error) {
	if err := d.failures[frame.Index]; err != nil {
		return nil, err
	}
	return d.detections[frame.Index], nil
}

// constEmbedder returns the same vector for every region, so all
// observations of the single scripted object re-identify.
type constEmbedder struct {
	vec AppearanceVector
}

func (e *constEmbedder) Embed(frame *Frame, box Rect) (AppearanceVector, error) {
	if err := ValidateRegion(frame, box); err != nil {
		return nil, err
	}
	return e.vec, nil
}

// scriptRecognizer returns a fixed reading per frame index.
type scriptRecognizer struct {
	readings map[int]Reading
}

func (r *scriptRecognizer) Recognize(frame *Frame, box Rect) (Reading, error) {
	return r.readings[frame.Index], nil
}

// sliceSource yields pre-built frames in order, then io.EOF.
type sliceSource struct {
	frames []*Frame
	pos    int
}

func (s *sliceSource) Next() (*Frame, error) {
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func makeFrames(n int) []*Frame {
	frames := make([]*Frame, n)
	for i := range frames {
		frames[i] = &Frame{Index: i, Width: 640, Height: 480}
	}
	return frames
}

// recordingSink captures everything the pipeline persists.
type recordingSink struct {
	tracks       []TrackView
	observations []int // frame indexes
	readings     []Reading
}

func (s *recordingSink) PersistTrack(view TrackView) error {
	s.tracks = append(s.tracks, view)
	return nil
}

func (s *recordingSink) PersistObservation(view TrackView, frameIndex int) error {
	s.observations = append(s.observations, frameIndex)
	return nil
}

func (s *recordingSink) PersistReading(id TrackID, r Reading, frameIndex int) error {
	s.readings = append(s.readings, r)
	return nil
}

func testPipelineConfig(det Detector, threshold float64) PipelineConfig {
	cfg := testTrackerConfig()
	cfg.ConfirmationHits = 3
	return PipelineConfig{
		Detector:             NewDetectionAdapter(det, threshold),
		Embedder:             &constEmbedder{vec: AppearanceVector{1, 0, 0}},
		Tracker:              NewTracker(cfg),
		RecognitionThreshold: 0.02,
	}
}

func singleObjectScript(frames int) *scriptDetector {
	det := &scriptDetector{detections: map[int][]Detection{}, failures: map[int]error{}}
	for i := 0; i < frames; i++ {
		det.detections[i] = []Detection{
			{Box: Rect{X: float64(100 + i), Y: 100, W: 40, H: 20}, Confidence: 0.9},
		}
	}
	return det
}

func TestPipelineTracksSingleObject(t *testing.T) {
	det := singleObjectScript(6)
	pcfg := testPipelineConfig(det, 0.5)
	sink := &recordingSink{}
	pcfg.Sink = sink
	var lastSnapshot []TrackView
	pcfg.OnFrame = func(frameIndex int, tracks []TrackView) {
		lastSnapshot = tracks
	}

	p, err := NewPipeline(pcfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if err := p.Run(context.Background(), &sliceSource{frames: makeFrames(6)}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(lastSnapshot) != 1 {
		t.Fatalf("final snapshot holds %d tracks, want 1", len(lastSnapshot))
	}
	track := lastSnapshot[0]
	if track.State != TrackConfirmed {
		t.Fatalf("track state = %q, want confirmed after 6 hits", track.State)
	}
	if track.Hits != 6 {
		t.Fatalf("track hits = %d, want 6", track.Hits)
	}

	// EOF terminates the run: the sink's last record for the track must be
	// its deleted flush.
	last := sink.tracks[len(sink.tracks)-1]
	if last.ID != track.ID || last.State != TrackDeleted {
		t.Fatalf("final persisted record = %+v, want deleted track %d", last, track.ID)
	}
	// Matched confirmed frames each produce one observation: confirmed at
	// hit 3 (frame 2), so frames 2..5.
	if diff := cmp.Diff([]int{2, 3, 4, 5}, sink.observations); diff != "" {
		t.Fatalf("observation frames mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelineConfidenceFilter(t *testing.T) {
	det := &scriptDetector{detections: map[int][]Detection{
		0: {
			{Box: Rect{X: 10, Y: 10, W: 40, H: 20}, Confidence: 0.9},
			{Box: Rect{X: 200, Y: 10, W: 40, H: 20}, Confidence: 0.5},  // at threshold: dropped
			{Box: Rect{X: 400, Y: 10, W: 40, H: 20}, Confidence: 0.49}, // below: dropped
		},
	}}
	pcfg := testPipelineConfig(det, 0.5)
	p, err := NewPipeline(pcfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	snapshot, err := p.Step(&Frame{Index: 0, Width: 640, Height: 480})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("%d tracks created, want 1 (threshold is exclusive)", len(snapshot))
	}
}

func TestPipelineDetectionFailureTolerated(t *testing.T) {
	det := singleObjectScript(5)
	det.failures[2] = errors.New("model crashed")
	delete(det.detections, 2)

	pcfg := testPipelineConfig(det, 0.5)
	pcfg.MaxDetectionFailures = 3
	p, err := NewPipeline(pcfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if err := p.Run(context.Background(), &sliceSource{frames: makeFrames(5)}); err != nil {
		t.Fatalf("Run aborted on a transient detection failure: %v", err)
	}
	// The failed frame counted as a miss, not a reset: 4 hits, 1 aged frame
	// recovered.
	if id := pcfg.Tracker.LastAssignedID(); id != 1 {
		t.Fatalf("detector failure spawned extra tracks, last ID = %d", id)
	}
}

func TestPipelineDropsInvalidRegions(t *testing.T) {
	det := &scriptDetector{detections: map[int][]Detection{
		0: {
			{Box: Rect{X: 10, Y: 10, W: 40, H: 20}, Confidence: 0.9},
			{Box: Rect{X: 5000, Y: 5000, W: 40, H: 20}, Confidence: 0.9}, // outside frame
			{Box: Rect{X: 10, Y: 200, W: 0, H: 20}, Confidence: 0.9},     // degenerate
		},
	}}
	pcfg := testPipelineConfig(det, 0.5)
	p, err := NewPipeline(pcfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	snapshot, err := p.Step(&Frame{Index: 0, Width: 640, Height: 480})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("%d tracks created, want 1 (invalid regions dropped)", len(snapshot))
	}
}

func TestPipelineRecognitionAggregates(t *testing.T) {
	det := singleObjectScript(6)
	rec := &scriptRecognizer{readings: map[int]Reading{
		2: {Text: "KJF-9371", Confidence: 0.30},
		3: {Text: "KJF-937I", Confidence: 0.10}, // lower: ignored
		4: {Text: "KJF-9371", Confidence: 0.55},
		5: {Text: "XYZ-0000", Confidence: 0.01}, // below threshold: ignored
	}}
	pcfg := testPipelineConfig(det, 0.5)
	pcfg.Recognizer = rec
	sink := &recordingSink{}
	pcfg.Sink = sink
	var lastSnapshot []TrackView
	pcfg.OnFrame = func(frameIndex int, tracks []TrackView) { lastSnapshot = tracks }

	p, err := NewPipeline(pcfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if err := p.Run(context.Background(), &sliceSource{frames: makeFrames(6)}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	best := lastSnapshot[0].BestReading
	if best == nil || best.Text != "KJF-9371" || best.Confidence != 0.55 {
		t.Fatalf("best reading = %+v, want KJF-9371 @ 0.55", best)
	}
	// Only the two accepted readings reach the sink.
	want := []Reading{
		{Text: "KJF-9371", Confidence: 0.30},
		{Text: "KJF-9371", Confidence: 0.55},
	}
	if diff := cmp.Diff(want, sink.readings); diff != "" {
		t.Fatalf("persisted readings mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelineStopCellHaltsAtFrameBoundary(t *testing.T) {
	det := singleObjectScript(10)
	pcfg := testPipelineConfig(det, 0.5)
	frames := 0
	pcfg.OnFrame = func(frameIndex int, tracks []TrackView) {
		frames++
		if frames == 3 {
			pcfg.Stop.Stop()
		}
	}
	pcfg.Stop = NewStopCell()

	p, err := NewPipeline(pcfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	source := &sliceSource{frames: makeFrames(10)}
	if err := p.Run(context.Background(), source); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if frames != 3 {
		t.Fatalf("processed %d frames after stop at 3", frames)
	}
	if total, _, _, _ := pcfg.Tracker.Counts(); total != 0 {
		t.Fatalf("tracks not flushed on stop: %d live", total)
	}
}

func TestPipelineReplayIsDeterministic(t *testing.T) {
	run := func() ([]TrackView, []TrackView) {
		det := &scriptDetector{detections: map[int][]Detection{}, failures: map[int]error{}}
		for i := 0; i < 8; i++ {
			det.detections[i] = []Detection{
				{Box: Rect{X: float64(100 + 3*i), Y: 100, W: 40, H: 20}, Confidence: 0.9},
				{Box: Rect{X: float64(400 - 2*i), Y: 300, W: 40, H: 20}, Confidence: 0.8},
			}
		}
		pcfg := testPipelineConfig(det, 0.5)
		sink := &recordingSink{}
		pcfg.Sink = sink
		var last []TrackView
		pcfg.OnFrame = func(frameIndex int, tracks []TrackView) { last = tracks }

		p, err := NewPipeline(pcfg)
		if err != nil {
			t.Fatalf("NewPipeline: %v", err)
		}
		if err := p.Run(context.Background(), &sliceSource{frames: makeFrames(8)}); err != nil {
			t.Fatalf("Run: %v", err)
		}
		return last, sink.tracks
	}

	snapA, persistedA := run()
	snapB, persistedB := run()
	if diff := cmp.Diff(snapA, snapB); diff != "" {
		t.Fatalf("replay snapshots differ:\n%s", diff)
	}
	if diff := cmp.Diff(persistedA, persistedB); diff != "" {
		t.Fatalf("replay persisted records differ:\n%s", diff)
	}
}
