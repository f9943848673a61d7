package vision

import (
	"errors"

	"gonum.org/v1/gonum/floats"
)

// ErrInvalidRegion marks a degenerate or out-of-frame crop region. The
// pipeline discards the offending detection, never the whole frame.
var ErrInvalidRegion = errors.New("invalid region")

// AppearanceVector is a fixed-length embedding derived from a detection's
// cropped pixels, used for re-identification. The length is a model-defined
// constant; all vectors produced by one Embedder share it.
type AppearanceVector []float64

// Embedder is the external re-identification model boundary. Embed must be
// deterministic given identical input pixels and must return
// ErrInvalidRegion for degenerate or fully out-of-frame boxes.
type Embedder interface {
	Embed(frame *Frame, box Rect) (AppearanceVector, error)
}

// ValidateRegion checks that a box is usable as a crop of the frame. It
// returns ErrInvalidRegion for zero-area boxes and boxes that lie entirely
// outside the frame. Partially out-of-frame boxes are valid; embedders are
// expected to clamp them.
func ValidateRegion(frame *Frame, box Rect) error {
	if box.Empty() {
		return ErrInvalidRegion
	}
	if box.ClampTo(frame.Width, frame.Height).Empty() {
		return ErrInvalidRegion
	}
	return nil
}

// CosineDistance returns 1 − cosine similarity of a and b, in [0, 2].
// Mismatched lengths and zero vectors yield the maximum distance so such
// pairs never associate.
func CosineDistance(a, b AppearanceVector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - floats.Dot(a, b)/(na*nb)
}

// appearanceGallery is a fixed-capacity ring of a track's recent appearance
// vectors. Appending at capacity evicts the oldest entry.
type appearanceGallery struct {
	vectors  []AppearanceVector
	capacity int
	start    int // index of the oldest entry once full
}

func newAppearanceGallery(capacity int) *appearanceGallery {
	if capacity < 1 {
		capacity = 1
	}
	return &appearanceGallery{
		vectors:  make([]AppearanceVector, 0, capacity),
		capacity: capacity,
	}
}

// append stores a copy of v, evicting the oldest vector at capacity.
func (g *appearanceGallery) append(v AppearanceVector) {
	cp := make(AppearanceVector, len(v))
	copy(cp, v)
	if len(g.vectors) < g.capacity {
		g.vectors = append(g.vectors, cp)
		return
	}
	g.vectors[g.start] = cp
	g.start = (g.start + 1) % g.capacity
}

func (g *appearanceGallery) len() int {
	return len(g.vectors)
}

// minDistance returns the minimum cosine distance between v and any vector
// in the gallery. An empty gallery yields the maximum distance.
func (g *appearanceGallery) minDistance(v AppearanceVector) float64 {
	best := 2.0
	for _, gv := range g.vectors {
		if d := CosineDistance(gv, v); d < best {
			best = d
		}
	}
	return best
}
