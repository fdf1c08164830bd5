package motion

import (
	"testing"
	"time"
)

const frameInterval = 40 * time.Millisecond // nominal 25fps

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

// feedFrames drives n frames of the given signal through the machine at
// the nominal frame rate and returns how many transitions were committed.
func feedFrames(sm *stateMachine, clock *fakeClock, signal bool, n int) int {
	transitions := 0
	for i := 0; i < n; i++ {
		if _, changed := sm.observe(signal); changed {
			transitions++
		}
		clock.advance(frameInterval)
	}
	return transitions
}

func newTestMachine(clock *fakeClock) *stateMachine {
	return newStateMachine(2*time.Second, 10*time.Second, clock.now)
}

func TestConfirmAfterContinuousMotion(t *testing.T) {
	clock := newFakeClock()
	sm := newTestMachine(clock)

	// 70 frames at 25fps is 2.8s of continuous motion. The first 50
	// frames span < 2s, so detection must stay false through frame 49
	// and flip exactly once when the delay elapses at frame 50.
	transitionFrame := -1
	for i := 0; i < 70; i++ {
		detected, changed := sm.observe(true)
		if changed {
			if transitionFrame != -1 {
				t.Fatalf("second transition at frame %d, first was at %d", i, transitionFrame)
			}
			transitionFrame = i
			if !detected {
				t.Fatalf("confirm transition reported detected=false")
			}
		}
		if i < 50 && detected {
			t.Fatalf("motion reported at frame %d, before the 2s confirm delay", i)
		}
		if i >= 50 && !detected {
			t.Fatalf("motion not reported at frame %d, after the confirm delay", i)
		}
		clock.advance(frameInterval)
	}

	if transitionFrame != 50 {
		t.Fatalf("transition at frame %d, want 50", transitionFrame)
	}
}

func TestSingleFalseFrameResetsConfirmTimer(t *testing.T) {
	clock := newFakeClock()
	sm := newTestMachine(clock)

	// 1.88s of motion, one still frame, then motion again: the still
	// frame must reset the confirming timer with no partial credit.
	feedFrames(sm, clock, true, 47)
	feedFrames(sm, clock, false, 1)

	for i := 0; i < 50; i++ {
		detected, _ := sm.observe(true)
		if detected {
			t.Fatalf("motion confirmed %v after timer reset, want a full 2s run", time.Duration(i)*frameInterval)
		}
		clock.advance(frameInterval)
	}

	detected, changed := sm.observe(true)
	if !detected || !changed {
		t.Fatalf("motion not confirmed after full continuous run (detected=%v changed=%v)", detected, changed)
	}
}

func confirmMotion(t *testing.T, sm *stateMachine, clock *fakeClock) {
	t.Helper()
	if n := feedFrames(sm, clock, true, 60); n != 1 {
		t.Fatalf("expected exactly one confirm transition, got %d", n)
	}
	if !sm.motionDetected {
		t.Fatalf("machine not active after confirm")
	}
}

func TestClearInertiaBridgesGaps(t *testing.T) {
	clock := newFakeClock()
	sm := newTestMachine(clock)
	confirmMotion(t, sm, clock)

	// 6s gap, 10 frames of motion, another 6s gap: no single still span
	// reaches the 10s clear delay, so the state must hold throughout.
	if n := feedFrames(sm, clock, false, 150); n != 0 {
		t.Fatalf("state changed during first 6s gap")
	}
	if n := feedFrames(sm, clock, true, 10); n != 0 {
		t.Fatalf("state changed during motion burst")
	}
	if n := feedFrames(sm, clock, false, 150); n != 0 {
		t.Fatalf("state changed during second 6s gap")
	}
	if !sm.motionDetected {
		t.Fatalf("motion state dropped despite no 10s still span")
	}

	// Extend the second gap until a continuous 10s elapses: the clear
	// lands at frame 250 of the uninterrupted still span.
	transitions := feedFrames(sm, clock, false, 110)
	if transitions != 1 {
		t.Fatalf("expected exactly one clear transition, got %d", transitions)
	}
	if sm.motionDetected {
		t.Fatalf("machine still active after clear delay elapsed")
	}
}

func TestClearAfterContinuousStillness(t *testing.T) {
	clock := newFakeClock()
	sm := newTestMachine(clock)
	confirmMotion(t, sm, clock)

	// 10s at 25fps is 250 frames; the clear must land exactly when the
	// still span reaches the delay and not before.
	for i := 0; i < 300; i++ {
		detected, changed := sm.observe(false)
		elapsed := time.Duration(i) * frameInterval
		if elapsed < 10*time.Second && !detected {
			t.Fatalf("cleared early at %v", elapsed)
		}
		if elapsed >= 10*time.Second && detected {
			t.Fatalf("still active at %v", elapsed)
		}
		if changed && detected {
			t.Fatalf("unexpected confirm transition during stillness")
		}
		clock.advance(frameInterval)
	}
	if sm.motionDetected {
		t.Fatalf("not cleared after 10s of stillness")
	}
}

func TestSingleNotificationPerEpisode(t *testing.T) {
	clock := newFakeClock()
	sm := newTestMachine(clock)

	became := 0
	cleared := 0
	drive := func(signal bool, frames int) {
		for i := 0; i < frames; i++ {
			detected, changed := sm.observe(signal)
			if changed && detected && sm.shouldNotify() {
				became++
				sm.markNotified()
			}
			if changed && !detected {
				cleared++
			}
			clock.advance(frameInterval)
		}
	}

	// Full episode: confirm, hold active, clear.
	drive(true, 200)
	drive(false, 300)
	if became != 1 {
		t.Fatalf("became-active notifications = %d, want 1", became)
	}
	if cleared != 1 {
		t.Fatalf("became-inactive notifications = %d, want 1", cleared)
	}

	// A second episode must notify again: the flag resets on transitions.
	drive(true, 200)
	if became != 2 {
		t.Fatalf("second episode notifications = %d, want 2", became)
	}
}

func TestTimersNeverBothSet(t *testing.T) {
	clock := newFakeClock()
	sm := newTestMachine(clock)

	// Alternate signal in irregular bursts and verify the invariant
	// after every frame.
	pattern := []struct {
		signal bool
		frames int
	}{
		{true, 30}, {false, 3}, {true, 90}, {false, 150},
		{true, 5}, {false, 260}, {true, 70}, {false, 300},
	}
	for _, p := range pattern {
		for i := 0; i < p.frames; i++ {
			sm.observe(p.signal)
			if !sm.motionStart.IsZero() && !sm.noMotionStart.IsZero() {
				t.Fatalf("both hysteresis timers set simultaneously")
			}
			clock.advance(frameInterval)
		}
	}
}

func TestPendingCountdowns(t *testing.T) {
	clock := newFakeClock()
	sm := newTestMachine(clock)

	if _, ok := sm.pendingConfirm(); ok {
		t.Fatalf("pending confirm reported on a fresh machine")
	}

	sm.observe(true)
	clock.advance(500 * time.Millisecond)
	remaining, ok := sm.pendingConfirm()
	if !ok {
		t.Fatalf("no pending confirm while confirming")
	}
	if remaining != 1500*time.Millisecond {
		t.Fatalf("confirm remaining = %v, want 1.5s", remaining)
	}

	confirmMotion(t, sm, clock)
	if _, ok := sm.pendingConfirm(); ok {
		t.Fatalf("pending confirm reported while active")
	}

	sm.observe(false)
	clock.advance(4 * time.Second)
	remaining, ok = sm.pendingClear()
	if !ok {
		t.Fatalf("no pending clear while clearing")
	}
	if remaining != 6*time.Second {
		t.Fatalf("clear remaining = %v, want 6s", remaining)
	}

	// Motion returning cancels the clearing timer outright.
	sm.observe(true)
	if _, ok := sm.pendingClear(); ok {
		t.Fatalf("pending clear survived a motion frame")
	}
	if !sm.motionDetected {
		t.Fatalf("state dropped when motion returned within the clear window")
	}
}

func TestResetReturnsToInitialState(t *testing.T) {
	clock := newFakeClock()
	sm := newTestMachine(clock)
	confirmMotion(t, sm, clock)

	sm.reset()
	if sm.motionDetected || !sm.motionStart.IsZero() || !sm.noMotionStart.IsZero() || sm.notificationSent {
		t.Fatalf("reset left residual state: %+v", sm)
	}
}
