package vision

// Reading is one text recognition result with its confidence.
type Reading struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognizer is the external text recognition boundary. Implementations run
// OCR over the cropped box and return the single best reading for it.
// Errors indicate the model failed; an empty-text reading with zero
// confidence is a valid "nothing legible" result.
type Recognizer interface {
	Recognize(frame *Frame, box Rect) (Reading, error)
}

// ReduceBestReading is the monotonic best-so-far reducer for a track's
// recognition history. The candidate replaces best only when its confidence
// exceeds minConfidence AND strictly exceeds the current best. A track's
// accepted confidence therefore never decreases over its lifetime; ties keep
// the first-accepted text.
func ReduceBestReading(best *Reading, candidate Reading, minConfidence float64) *Reading {
	if candidate.Confidence <= minConfidence {
		return best
	}
	if best != nil && candidate.Confidence <= best.Confidence {
		return best
	}
	cp := candidate
	return &cp
}
