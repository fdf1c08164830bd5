package motion

import (
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mirrorglass/mirrorcam/internal/config"
)

// Engine is the motion detection pipeline: stabilizer, background model,
// blob extractor and hysteresis state machine behind a single facade.
// ProcessFrame is the one public entry point, called once per captured
// frame from the capture worker; all other methods are safe to call from
// any goroutine and only ever touch published copies of the state.
type Engine struct {
	cfg    config.MotionConfig
	logger *zap.Logger

	stabilizer *stabilizer
	background *backgroundModel
	blobs      blobExtractor
	dispatcher *Dispatcher

	now func() time.Time

	mu     sync.Mutex
	active bool
	state  *stateMachine

	currentBoxes      []MotionBox
	currentConfidence float64

	frameCount int64
	fps        float64
	fpsFrames  int
	fpsMark    time.Time
}

// NewEngine creates a detection engine from the given configuration
func NewEngine(cfg config.MotionConfig, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid motion config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("motion")

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		dispatcher: NewDispatcher(logger),
		now:        time.Now,
	}
	e.stabilizer = newStabilizer(&e.cfg, logger)
	e.background = newBackgroundModel(&e.cfg, logger)
	e.blobs = blobExtractor{cfg: &e.cfg}
	e.state = newStateMachine(cfg.DetectionDelay, cfg.ClearDelay, e.now)
	e.fpsMark = e.now()

	return e, nil
}

// StartDetection activates frame processing. The state machine and
// counters are reset so a restarted engine begins cold.
func (e *Engine) StartDetection() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		return
	}
	e.active = true
	e.state.reset()
	e.currentBoxes = nil
	e.currentConfidence = 0
	e.frameCount = 0
	e.fpsFrames = 0
	e.fps = 0
	e.fpsMark = e.now()

	e.logger.Info("Motion detection started")
}

// StopDetection deactivates processing. ProcessFrame becomes a no-op
// passthrough until the next StartDetection.
func (e *Engine) StopDetection() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		return
	}
	e.active = false
	e.logger.Info("Motion detection stopped")
}

// IsActive reports whether detection is running
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// ProcessFrame runs one frame through the full pipeline and returns an
// annotated copy together with the per-frame snapshot. The input frame is
// never mutated. When detection is inactive the frame passes through
// unprocessed with a well-formed empty snapshot.
func (e *Engine) ProcessFrame(frame gocv.Mat) (gocv.Mat, Snapshot) {
	e.mu.Lock()
	if !e.active {
		snap := e.emptySnapshotLocked()
		e.mu.Unlock()
		return frame.Clone(), snap
	}

	annotated, snap, previous, transitioned := e.processLocked(frame)
	e.mu.Unlock()

	// Listener fan-out happens outside the engine lock so listeners may
	// read engine status without deadlocking.
	if transitioned {
		e.dispatcher.Notify(previous, snap.MotionDetected)
	}
	return annotated, snap
}

// processLocked holds the per-frame pipeline. A panic from any stage is
// absorbed here: the frame degrades to an unannotated passthrough with an
// empty snapshot, and the loop keeps running.
func (e *Engine) processLocked(frame gocv.Mat) (annotated gocv.Mat, snap Snapshot, previous, transitioned bool) {
	done := false
	defer func() {
		if r := recover(); r != nil && !done {
			e.logger.Error("Frame processing failed, degrading to passthrough",
				zap.Any("error", r))
			annotated = frame.Clone()
			snap = e.emptySnapshotLocked()
			previous, transitioned = false, false
		}
	}()

	e.tickFPSLocked()

	working := frame
	if e.cfg.StabilizationEnabled {
		if stabilized, warped := e.stabilizer.apply(frame); warped {
			defer stabilized.Close()
			working = stabilized
		}
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(working, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred,
		image.Pt(e.cfg.BlurSize, e.cfg.BlurSize), 0, 0, gocv.BorderDefault)

	mask := gocv.NewMat()
	defer mask.Close()
	e.background.classify(blurred, &mask)

	boxes := e.blobs.extract(mask)
	confidence := sceneConfidence(boxes, mask.Sum().Val1, working.Cols()*working.Rows())

	significant := e.hasSignificantMotion(boxes, confidence)
	previous = e.state.motionDetected
	detected, changed := e.state.observe(significant)
	transitioned = changed

	e.currentBoxes = boxes
	e.currentConfidence = confidence

	if transitioned {
		if detected {
			e.logger.Info("Motion confirmed",
				zap.Float64("confidence", confidence),
				zap.Int("boxes", len(boxes)))
		} else {
			e.logger.Info("Motion cleared",
				zap.Duration("clear_delay", e.cfg.ClearDelay))
		}
	}

	// The single per-episode notification rides the confirm transition.
	if transitioned && detected && e.state.shouldNotify() {
		e.state.markNotified()
	}

	annotated = working.Clone()
	drawMotionBoxes(&annotated, boxes)
	drawStatusOverlay(&annotated, e.overlayLocked(detected, confidence, len(boxes)))

	snap = Snapshot{
		Boxes:          boxes,
		Confidence:     confidence,
		MotionDetected: detected,
		Timestamp:      e.now(),
		FrameCount:     e.frameCount,
		FPS:            e.fps,
	}
	done = true
	return annotated, snap, previous, transitioned
}

// hasSignificantMotion is the per-frame significance gate. The total-area
// floor is a hard gate applied every frame, not subject to hysteresis.
func (e *Engine) hasSignificantMotion(boxes []MotionBox, confidence float64) bool {
	if len(boxes) == 0 || confidence <= e.cfg.ConfidenceThreshold {
		return false
	}
	return totalArea(boxes) >= e.cfg.MinTotalArea
}

func (e *Engine) overlayLocked(detected bool, confidence float64, objects int) statusOverlay {
	o := statusOverlay{
		detected:    detected,
		confidence:  confidence,
		objectCount: objects,
		fps:         e.fps,
	}
	o.confirmRemaining, o.confirming = e.state.pendingConfirm()
	o.clearRemaining, o.clearing = e.state.pendingClear()
	return o
}

func (e *Engine) tickFPSLocked() {
	e.frameCount++
	e.fpsFrames++

	now := e.now()
	if elapsed := now.Sub(e.fpsMark); elapsed >= time.Second {
		e.fps = float64(e.fpsFrames) / elapsed.Seconds()
		e.fpsFrames = 0
		e.fpsMark = now
	}
}

func (e *Engine) emptySnapshotLocked() Snapshot {
	return Snapshot{
		Boxes:     []MotionBox{},
		Timestamp: e.now(),
	}
}

// Status returns a point-in-time copy of the engine state, safe to call
// from any goroutine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Status{
		MotionDetected: e.state.motionDetected,
		Confidence:     e.currentConfidence,
		MotionBoxCount: len(e.currentBoxes),
		LastMotionTime: e.state.lastMotionTime,
		Active:         e.active,
		FPS:            e.fps,
	}
}

// UpdateSensitivity retunes the background model at runtime. Effective
// from the next processed frame.
func (e *Engine) UpdateSensitivity(sensitivity float64) {
	e.background.setSensitivity(sensitivity)
}

// AddStateListener registers a listener for motion state transitions
func (e *Engine) AddStateListener(l StateListener) {
	e.dispatcher.Add(l)
}

// RemoveStateListener unregisters a previously added listener
func (e *Engine) RemoveStateListener(l StateListener) {
	e.dispatcher.Remove(l)
}

// Close stops detection and releases pipeline resources. The listener
// registry is cleared; the engine cannot be reused afterwards.
func (e *Engine) Close() {
	e.StopDetection()
	e.dispatcher.Clear()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.stabilizer.Close()
	e.background.Close()
	e.logger.Info("Motion engine closed")
}
