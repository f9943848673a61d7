// Package replay drives the pipeline from a JSONL script instead of live
// models, for development and regression runs. Each line is one frame with
// its scripted detections, appearance vectors and readings, so a run over
// the same script is fully deterministic.
package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/platewatch-data/platewatch/internal/vision"
)

// scriptDetection is one scripted detection with everything the stubbed
// models need to answer about it.
type scriptDetection struct {
	Box        vision.Rect     `json:"box"`
	Confidence float64         `json:"confidence"`
	Appearance []float64       `json:"appearance"`
	Reading    *readingPayload `json:"reading,omitempty"`
}

type readingPayload struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// scriptFrame is one line of the script file.
type scriptFrame struct {
	Frame      int               `json:"frame"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Detections []scriptDetection `json:"detections"`
	DetectFail bool              `json:"detect_fail,omitempty"`
}

// Script is a parsed replay file. It hands out the stubbed model boundaries
// and the frame source for one pipeline run; a script may be replayed any
// number of times via fresh Source calls.
type Script struct {
	frames []scriptFrame

	// byFrame maps a frame index to its position in frames, built once at
	// parse time so per-frame model lookups stay O(1).
	byFrame map[int]int
}

// Load parses a JSONL script file. Blank lines are skipped; any malformed
// line aborts the load with its line number.
func Load(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay script: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a JSONL script from r.
func Parse(r io.Reader) (*Script, error) {
	var frames []scriptFrame
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var frame scriptFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, fmt.Errorf("replay script line %d: %w", line, err)
		}
		if frame.Width <= 0 || frame.Height <= 0 {
			return nil, fmt.Errorf("replay script line %d: frame %d has no dimensions", line, frame.Frame)
		}
		frames = append(frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay script: %w", err)
	}

	byFrame := make(map[int]int, len(frames))
	for pos, f := range frames {
		if _, dup := byFrame[f.Frame]; dup {
			return nil, fmt.Errorf("replay script: duplicate frame %d", f.Frame)
		}
		byFrame[f.Frame] = pos
	}
	return &Script{frames: frames, byFrame: byFrame}, nil
}

// Frames returns the number of scripted frames.
func (s *Script) Frames() int { return len(s.frames) }

// byIndex returns the scripted frame for a frame index, if present.
func (s *Script) byIndex(index int) (scriptFrame, bool) {
	pos, ok := s.byFrame[index]
	if !ok {
		return scriptFrame{}, false
	}
	return s.frames[pos], true
}

// Source returns a fresh FrameSource that yields the scripted frames in
// file order, then io.EOF.
func (s *Script) Source() vision.FrameSource {
	return &source{script: s}
}

type source struct {
	script *Script
	pos    int
}

func (src *source) Next() (*vision.Frame, error) {
	if src.pos >= len(src.script.frames) {
		return nil, io.EOF
	}
	f := src.script.frames[src.pos]
	src.pos++
	return &vision.Frame{Index: f.Frame, Width: f.Width, Height: f.Height}, nil
}

// Detector returns the scripted detection model.
func (s *Script) Detector() vision.Detector { return detector{script: s} }

type detector struct {
	script *Script
}

func (d detector) Detect(frame *vision.Frame) ([]vision.Detection, error) {
	sf, ok := d.script.byIndex(frame.Index)
	if !ok {
		return nil, nil
	}
	if sf.DetectFail {
		return nil, fmt.Errorf("scripted failure on frame %d", frame.Index)
	}
	detections := make([]vision.Detection, 0, len(sf.Detections))
	for _, det := range sf.Detections {
		detections = append(detections, vision.Detection{
			Box:        det.Box,
			Confidence: det.Confidence,
		})
	}
	return detections, nil
}

// Embedder returns the scripted appearance model. Embeddings are looked up
// by exact box match within the frame; a box the script never produced
// yields an error, since the pipeline only ever embeds detector output.
func (s *Script) Embedder() vision.Embedder { return embedder{script: s} }

type embedder struct {
	script *Script
}

func (e embedder) Embed(frame *vision.Frame, box vision.Rect) (vision.AppearanceVector, error) {
	if err := vision.ValidateRegion(frame, box); err != nil {
		return nil, err
	}
	sf, ok := e.script.byIndex(frame.Index)
	if ok {
		for _, det := range sf.Detections {
			if det.Box == box {
				return vision.AppearanceVector(det.Appearance), nil
			}
		}
	}
	return nil, fmt.Errorf("no scripted appearance for frame %d box %+v", frame.Index, box)
}

// Recognizer returns the scripted text recognition model. A box without a
// scripted reading answers "nothing legible" rather than an error.
func (s *Script) Recognizer() vision.Recognizer { return recognizer{script: s} }

type recognizer struct {
	script *Script
}

func (r recognizer) Recognize(frame *vision.Frame, box vision.Rect) (vision.Reading, error) {
	sf, ok := r.script.byIndex(frame.Index)
	if ok {
		for _, det := range sf.Detections {
			if det.Box == box && det.Reading != nil {
				return vision.Reading{Text: det.Reading.Text, Confidence: det.Reading.Confidence}, nil
			}
		}
	}
	return vision.Reading{}, nil
}
