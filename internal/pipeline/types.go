package pipeline

import (
	"time"
)

// FrameData represents a captured video frame
type FrameData struct {
	Data      []byte    // JPEG frame data
	Seq       uint64    // Frame sequence number
	Timestamp time.Time // Capture timestamp
	Width     int       // Frame width (0 if unknown)
	Height    int       // Frame height (0 if unknown)
}

// BBox is a bounding box in pixel coordinates of the source frame
type BBox struct {
	X0 int `json:"x0"` // Left
	Y0 int `json:"y0"` // Top
	X1 int `json:"x1"` // Right
	Y1 int `json:"y1"` // Bottom
}

// Width of the box in pixels
func (b BBox) Width() int { return b.X1 - b.X0 }

// Height of the box in pixels
func (b BBox) Height() int { return b.Y1 - b.Y0 }

// Detection is one recognised object instance. Never mutated after creation.
type Detection struct {
	Label      string  `json:"label"`
	BBox       BBox    `json:"bbox"`
	Confidence float32 `json:"confidence"` // [0-1]
}

// Batch is the output of one detection cycle
type Batch struct {
	Seq         uint64      `json:"seq"`
	Timestamp   time.Time   `json:"timestamp"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Detections  []Detection `json:"detections"`
	InferenceMs float32     `json:"inference_ms"`
	Frame       []byte      `json:"-"` // source JPEG, kept for overlay rendering
}

// Filter returns the detections matching label with confidence strictly above threshold
func (b *Batch) Filter(label string, threshold float32) []Detection {
	if b == nil {
		return nil
	}
	var out []Detection
	for _, d := range b.Detections {
		if d.Label == label && d.Confidence > threshold {
			out = append(out, d)
		}
	}
	return out
}

// RawOutput is the model output before normalisation: one list of rows per
// class id, each row is [y0, x0, y1, x1, score] with coordinates in [0,1].
type RawOutput struct {
	Classes     [][][]float32
	InferenceMs float32
}

// CaptureStats contains frame capture statistics
type CaptureStats struct {
	FramesCaptured uint64
	FramesDropped  uint64
	CaptureErrors  uint64
	Restarts       uint64
	LastFrameTime  int64 // Unix timestamp
}
