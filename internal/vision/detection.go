package vision

import (
	"errors"
	"fmt"
)

// ErrDetectionFailure marks an external detector error. The pipeline treats
// a failed frame as detection-empty rather than aborting the stream.
var ErrDetectionFailure = errors.New("detection failure")

// Detection is a single candidate box produced by the detector for one
// frame. Detections are ephemeral: consumed and discarded within the same
// frame cycle.
type Detection struct {
	Box        Rect
	Confidence float64 // in [0, 1]
	FrameIndex int
}

// Detector is the external detection model boundary. Implementations return
// raw candidate boxes with confidence for a frame; errors indicate the model
// itself failed, not an empty frame.
type Detector interface {
	Detect(frame *Frame) ([]Detection, error)
}

// DetectionAdapter wraps a Detector and filters its output by a confidence
// threshold. Candidates at or below the threshold never leave the adapter.
type DetectionAdapter struct {
	model     Detector
	threshold float64
}

// NewDetectionAdapter returns an adapter over the given model.
func NewDetectionAdapter(model Detector, threshold float64) *DetectionAdapter {
	return &DetectionAdapter{model: model, threshold: threshold}
}

// Detect runs the model on the frame and returns the detections whose
// confidence exceeds the configured threshold, stamped with the frame index.
// Model errors are wrapped with ErrDetectionFailure.
func (a *DetectionAdapter) Detect(frame *Frame) ([]Detection, error) {
	raw, err := a.model.Detect(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectionFailure, err)
	}

	detections := make([]Detection, 0, len(raw))
	for _, d := range raw {
		if d.Confidence <= a.threshold {
			continue
		}
		d.FrameIndex = frame.Index
		detections = append(detections, d)
	}
	return detections, nil
}
