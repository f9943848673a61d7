// Package vision implements the multi-object tracking and recognition
// aggregation engine: detection adapters, appearance embedding, the track
// store with its lifecycle state machine, detection-to-track association,
// and the per-frame pipeline that drives them.
package vision

// Frame is one decoded video frame: a raw pixel buffer plus dimensions.
// The buffer is owned by the frame source and is only valid for the
// duration of the frame's pipeline step.
type Frame struct {
	Index  int // sequence number within the stream, starting at 0
	Width  int
	Height int
	Pixels []byte // packed RGB, len = Width*Height*3
}

// Rect is an axis-aligned bounding box in pixel space. X,Y is the top-left
// corner; W,H extend right and down.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the rectangle area in square pixels.
func (r Rect) Area() float64 {
	if r.W <= 0 || r.H <= 0 {
		return 0
	}
	return r.W * r.H
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Center returns the rectangle's centre point.
func (r Rect) Center() (x, y float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

// Translate returns the rectangle shifted by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

// Intersect returns the overlapping region of two rectangles. The result is
// empty when they do not overlap.
func (r Rect) Intersect(o Rect) Rect {
	x1 := max(r.X, o.X)
	y1 := max(r.Y, o.Y)
	x2 := min(r.X+r.W, o.X+o.W)
	y2 := min(r.Y+r.H, o.Y+o.H)
	if x2 <= x1 || y2 <= y1 {
		return Rect{}
	}
	return Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// IoU returns the intersection-over-union of two rectangles in [0, 1].
func IoU(a, b Rect) float64 {
	inter := a.Intersect(b).Area()
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// ClampTo clips the rectangle to frame bounds (width × height). The result
// may be empty when the rectangle lies fully outside the frame.
func (r Rect) ClampTo(width, height int) Rect {
	x1 := max(r.X, 0)
	y1 := max(r.Y, 0)
	x2 := min(r.X+r.W, float64(width))
	y2 := min(r.Y+r.H, float64(height))
	if x2 <= x1 || y2 <= y1 {
		return Rect{}
	}
	return Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}
