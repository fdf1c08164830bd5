package motion

import (
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/mirrorglass/mirrorcam/internal/config"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.NewDefaultConfig().Motion
	e, err := NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func testFrame() gocv.Mat {
	return gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cfg := config.NewDefaultConfig().Motion
	cfg.BlurSize = 4
	if _, err := NewEngine(cfg, nil); err == nil {
		t.Fatalf("expected error for even blur kernel")
	}
}

func TestProcessFrameInactivePassthrough(t *testing.T) {
	e := newTestEngine(t)

	frame := testFrame()
	defer frame.Close()

	annotated, snap := e.ProcessFrame(frame)
	defer annotated.Close()

	if snap.MotionDetected {
		t.Fatalf("inactive engine reported motion")
	}
	if snap.Boxes == nil || len(snap.Boxes) != 0 {
		t.Fatalf("inactive snapshot boxes = %v, want empty non-nil slice", snap.Boxes)
	}
	if snap.FrameCount != 0 {
		t.Fatalf("inactive engine counted frames: %d", snap.FrameCount)
	}
	if snap.Timestamp.IsZero() {
		t.Fatalf("inactive snapshot missing timestamp")
	}
	if annotated.Empty() || annotated.Cols() != frame.Cols() || annotated.Rows() != frame.Rows() {
		t.Fatalf("passthrough frame has wrong shape")
	}
}

func TestStartStopDetection(t *testing.T) {
	e := newTestEngine(t)

	if e.IsActive() {
		t.Fatalf("engine active before StartDetection")
	}
	e.StartDetection()
	e.StartDetection() // second call is a no-op
	if !e.IsActive() {
		t.Fatalf("engine not active after StartDetection")
	}
	e.StopDetection()
	if e.IsActive() {
		t.Fatalf("engine active after StopDetection")
	}
}

func TestProcessFrameCountsAndHoldsConfirmDelay(t *testing.T) {
	e := newTestEngine(t)
	e.StartDetection()

	frame := testFrame()
	defer frame.Close()

	// Whatever the background model makes of the first frames, the state
	// cannot confirm inside the 2s hysteresis window, and this loop runs
	// in well under 2s.
	var last Snapshot
	for i := 0; i < 5; i++ {
		annotated, snap := e.ProcessFrame(frame)
		annotated.Close()
		if snap.MotionDetected {
			t.Fatalf("motion confirmed on frame %d, inside the confirm delay", i)
		}
		last = snap
	}
	if last.FrameCount != 5 {
		t.Fatalf("frame count = %d, want 5", last.FrameCount)
	}

	status := e.Status()
	if !status.Active {
		t.Fatalf("status reports inactive engine")
	}
	if status.MotionDetected {
		t.Fatalf("status reports motion inside the confirm delay")
	}
}

func TestRestartResetsCounters(t *testing.T) {
	e := newTestEngine(t)
	e.StartDetection()

	frame := testFrame()
	defer frame.Close()

	for i := 0; i < 3; i++ {
		annotated, _ := e.ProcessFrame(frame)
		annotated.Close()
	}

	e.StopDetection()
	e.StartDetection()

	annotated, snap := e.ProcessFrame(frame)
	annotated.Close()
	if snap.FrameCount != 1 {
		t.Fatalf("frame count after restart = %d, want 1", snap.FrameCount)
	}
}

func TestUpdateSensitivityWhileProcessing(t *testing.T) {
	e := newTestEngine(t)
	e.StartDetection()

	frame := testFrame()
	defer frame.Close()

	annotated, _ := e.ProcessFrame(frame)
	annotated.Close()

	e.UpdateSensitivity(0.8)

	annotated, snap := e.ProcessFrame(frame)
	annotated.Close()
	if snap.FrameCount != 2 {
		t.Fatalf("processing broken after sensitivity update")
	}
}

func TestListenersSilentWithoutTransition(t *testing.T) {
	e := newTestEngine(t)

	notified := 0
	fn := StateListenerFunc(func(previous, current bool) { notified++ })
	e.AddStateListener(&fn)

	e.StartDetection()
	frame := testFrame()
	defer frame.Close()
	for i := 0; i < 5; i++ {
		annotated, _ := e.ProcessFrame(frame)
		annotated.Close()
	}
	if notified != 0 {
		t.Fatalf("listener invoked %d times with no state transition", notified)
	}

	e.RemoveStateListener(&fn)
}

func TestEmptySnapshotShape(t *testing.T) {
	e := newTestEngine(t)

	snap := e.emptySnapshotLocked()
	if snap.Boxes == nil || len(snap.Boxes) != 0 || snap.MotionDetected || snap.Confidence != 0 {
		t.Fatalf("malformed empty snapshot: %+v", snap)
	}
}

func TestSignificanceGate(t *testing.T) {
	e := newTestEngine(t)

	boxes := []MotionBox{{Area: 400}}
	tests := []struct {
		name       string
		boxes      []MotionBox
		confidence float64
		want       bool
	}{
		{"no boxes", nil, 0.9, false},
		{"confidence at threshold", boxes, 0.02, false},
		{"confidence above threshold", boxes, 0.03, true},
		{"total area below floor", []MotionBox{{Area: 299}}, 0.5, false},
		{"total area exactly at floor", []MotionBox{{Area: 300}}, 0.5, true},
		{"area floor met across boxes", []MotionBox{{Area: 150}, {Area: 150}}, 0.5, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := e.hasSignificantMotion(tc.boxes, tc.confidence); got != tc.want {
				t.Fatalf("hasSignificantMotion = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStatusCopiesLastMotionTime(t *testing.T) {
	e := newTestEngine(t)

	mark := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	e.mu.Lock()
	e.state.lastMotionTime = mark
	e.mu.Unlock()

	if got := e.Status().LastMotionTime; !got.Equal(mark) {
		t.Fatalf("status last motion time = %v, want %v", got, mark)
	}
}
