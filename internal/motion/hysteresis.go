package motion

import (
	"time"
)

// stateMachine applies asymmetric hysteresis to the raw per-frame motion
// signal: motion must be continuously present for confirmDelay before the
// state flips active, and continuously absent for clearDelay before it
// flips back. Brief gaps in either direction reset the opposing timer so
// there is no partial credit.
//
// Owned exclusively by the engine's processing goroutine; not safe for
// concurrent use on its own.
type stateMachine struct {
	confirmDelay time.Duration
	clearDelay   time.Duration
	now          func() time.Time

	motionDetected bool

	// motionStart and noMotionStart are never both set. A zero value
	// means the corresponding timer is not running.
	motionStart   time.Time
	noMotionStart time.Time

	notificationSent bool
	lastMotionTime   time.Time
}

func newStateMachine(confirmDelay, clearDelay time.Duration, now func() time.Time) *stateMachine {
	if now == nil {
		now = time.Now
	}
	return &stateMachine{
		confirmDelay: confirmDelay,
		clearDelay:   clearDelay,
		now:          now,
	}
}

// observe feeds one frame's significance signal through the hysteresis
// logic. It returns the stable motion state and whether this frame
// committed a transition.
func (sm *stateMachine) observe(significant bool) (detected, transitioned bool) {
	current := sm.now()

	if significant {
		sm.lastMotionTime = current

		if sm.motionStart.IsZero() {
			sm.motionStart = current
		}
		sm.noMotionStart = time.Time{}

		if !sm.motionDetected && current.Sub(sm.motionStart) >= sm.confirmDelay {
			sm.motionDetected = true
			sm.notificationSent = false
			return true, true
		}
		return sm.motionDetected, false
	}

	// A single frame without motion resets the confirming timer outright.
	sm.motionStart = time.Time{}

	if sm.motionDetected && sm.noMotionStart.IsZero() {
		sm.noMotionStart = current
	}

	if sm.motionDetected && !sm.noMotionStart.IsZero() &&
		current.Sub(sm.noMotionStart) >= sm.clearDelay {
		sm.motionDetected = false
		sm.noMotionStart = time.Time{}
		sm.notificationSent = false
		return false, true
	}

	return sm.motionDetected, false
}

// shouldNotify reports whether the current active episode still owes its
// single notification.
func (sm *stateMachine) shouldNotify() bool {
	return sm.motionDetected && !sm.notificationSent
}

func (sm *stateMachine) markNotified() {
	sm.notificationSent = true
}

// pendingConfirm returns the time remaining until an in-progress
// confirmation commits, and whether one is in progress.
func (sm *stateMachine) pendingConfirm() (time.Duration, bool) {
	if sm.motionDetected || sm.motionStart.IsZero() {
		return 0, false
	}
	remaining := sm.confirmDelay - sm.now().Sub(sm.motionStart)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// pendingClear returns the time remaining until an in-progress clear
// commits, and whether one is in progress.
func (sm *stateMachine) pendingClear() (time.Duration, bool) {
	if !sm.motionDetected || sm.noMotionStart.IsZero() {
		return 0, false
	}
	remaining := sm.clearDelay - sm.now().Sub(sm.noMotionStart)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// reset returns the machine to its initial state
func (sm *stateMachine) reset() {
	sm.motionDetected = false
	sm.motionStart = time.Time{}
	sm.noMotionStart = time.Time{}
	sm.notificationSent = false
}
