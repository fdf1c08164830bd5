package motion

import (
	"image"
	"time"
)

// MotionBox describes one candidate moving region in frame coordinates.
// Boxes are recomputed every frame and never mutated after creation.
type MotionBox struct {
	X      int
	Y      int
	Width  int
	Height int

	// Area is the enclosed contour area in pixels, which can be smaller
	// than Width*Height for irregular shapes.
	Area float64

	// Confidence is the pixel density of the contour within its bounding
	// box, in [0,1]. Solid moving objects score high, sparse noise low.
	Confidence float64
}

// Center returns the midpoint of the box
func (b MotionBox) Center() image.Point {
	return image.Pt(b.X+b.Width/2, b.Y+b.Height/2)
}

// Rect returns the box as an image.Rectangle
func (b MotionBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Snapshot is the per-frame output contract of the detection pipeline.
// Confidence here is the scene-level aggregate, distinct from per-box
// confidence.
type Snapshot struct {
	Boxes          []MotionBox
	Confidence     float64
	MotionDetected bool
	Timestamp      time.Time
	FrameCount     int64
	FPS            float64
}

// Status is a point-in-time read of the engine, safe to call from any
// thread. It is always a copy, never a view into live state.
type Status struct {
	MotionDetected bool
	Confidence     float64
	MotionBoxCount int
	LastMotionTime time.Time
	Active         bool
	FPS            float64
}
