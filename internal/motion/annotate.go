package motion

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"
)

// Box colors are tiered by per-box confidence for quick visual triage.
var (
	colorHighConfidence   = color.RGBA{R: 255, G: 255, B: 0}   // yellow, > 0.8
	colorMediumConfidence = color.RGBA{R: 0, G: 255, B: 255}   // cyan, > 0.5
	colorLowConfidence    = color.RGBA{R: 255, G: 0, B: 255}   // magenta
	colorActive           = color.RGBA{R: 0, G: 255, B: 0}     // status text, motion
	colorIdle             = color.RGBA{R: 128, G: 128, B: 128} // status text, no motion
	colorOverlayBG        = color.RGBA{}
	colorOverlayBorder    = color.RGBA{R: 255, G: 255, B: 255}
	colorOverlayText      = color.RGBA{R: 255, G: 255, B: 255}
)

func boxColor(confidence float64) color.RGBA {
	switch {
	case confidence > 0.8:
		return colorHighConfidence
	case confidence > 0.5:
		return colorMediumConfidence
	default:
		return colorLowConfidence
	}
}

// drawMotionBoxes draws the candidate regions onto the frame in place,
// each with its index, confidence label and center point.
func drawMotionBoxes(frame *gocv.Mat, boxes []MotionBox) {
	for i, box := range boxes {
		c := boxColor(box.Confidence)

		gocv.Rectangle(frame, box.Rect(), c, 3)

		label := fmt.Sprintf("MOTION-%d: %.2f", i+1, box.Confidence)
		gocv.PutText(frame, label, image.Pt(box.X, box.Y-10),
			gocv.FontHersheySimplex, 0.6, c, 2)

		gocv.Circle(frame, box.Center(), 4, c, -1)
	}
}

// statusOverlay captures everything the on-frame status panel displays
type statusOverlay struct {
	detected         bool
	confidence       float64
	objectCount      int
	fps              float64
	confirmRemaining time.Duration
	confirming       bool
	clearRemaining   time.Duration
	clearing         bool
}

func (o statusOverlay) statusLine() string {
	status := "NO MOTION"
	if o.detected {
		status = "MOTION DETECTED"
	}
	switch {
	case o.confirming:
		return fmt.Sprintf("%s (Confirming: %.1fs)", status, o.confirmRemaining.Seconds())
	case o.clearing:
		return fmt.Sprintf("%s (Clearing in: %.1fs)", status, o.clearRemaining.Seconds())
	default:
		return status
	}
}

// drawStatusOverlay renders the status panel in the frame's top-left
// corner: stable state with any pending hysteresis countdown, scene
// confidence, moving object count, and FPS.
func drawStatusOverlay(frame *gocv.Mat, o statusOverlay) {
	panel := image.Rect(10, 10, 500, 100)
	gocv.Rectangle(frame, panel, colorOverlayBG, -1)
	gocv.Rectangle(frame, panel, colorOverlayBorder, 2)

	statusColor := colorIdle
	if o.detected {
		statusColor = colorActive
	}
	gocv.PutText(frame, o.statusLine(), image.Pt(20, 35),
		gocv.FontHersheySimplex, 0.7, statusColor, 2)

	detail := fmt.Sprintf("Confidence: %.3f | Moving Objects: %d", o.confidence, o.objectCount)
	gocv.PutText(frame, detail, image.Pt(20, 60),
		gocv.FontHersheySimplex, 0.5, colorOverlayText, 1)

	gocv.PutText(frame, fmt.Sprintf("FPS: %.1f", o.fps), image.Pt(20, 80),
		gocv.FontHersheySimplex, 0.5, colorOverlayText, 1)
}
