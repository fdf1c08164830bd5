package motion

import (
	"sync"

	"go.uber.org/zap"
)

// StateListener receives committed motion state transitions. Listeners are
// invoked synchronously in registration order; delivery is not retried on
// failure.
type StateListener interface {
	MotionStateChanged(previous, current bool)
}

// StateListenerFunc adapts a plain function to the StateListener interface.
// Register the pointer, and keep it around if you intend to unregister.
type StateListenerFunc func(previous, current bool)

// MotionStateChanged implements StateListener
func (f *StateListenerFunc) MotionStateChanged(previous, current bool) {
	(*f)(previous, current)
}

// Dispatcher fans out state transitions to registered listeners. The
// registry is the one structure mutated from outside the capture worker,
// so registration and notification are both safe to call concurrently.
type Dispatcher struct {
	mu        sync.Mutex
	listeners []StateListener
	logger    *zap.Logger
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger.Named("dispatcher")}
}

// Add registers a listener. Registering the same listener twice is a no-op.
func (d *Dispatcher) Add(l StateListener) {
	if l == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.listeners {
		if existing == l {
			return
		}
	}
	d.listeners = append(d.listeners, l)
	d.logger.Debug("Listener registered", zap.Int("listeners", len(d.listeners)))
}

// Remove unregisters a listener by identity
func (d *Dispatcher) Remove(l StateListener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, existing := range d.listeners {
		if existing == l {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			d.logger.Debug("Listener removed", zap.Int("listeners", len(d.listeners)))
			return
		}
	}
}

// Notify invokes every listener with the given transition. Iteration runs
// over a stable copy so listeners may register or remove themselves during
// delivery, and a panic in one listener never reaches the others or the
// caller.
func (d *Dispatcher) Notify(previous, current bool) {
	d.mu.Lock()
	snapshot := make([]StateListener, len(d.listeners))
	copy(snapshot, d.listeners)
	d.mu.Unlock()

	for _, l := range snapshot {
		d.invoke(l, previous, current)
	}
}

func (d *Dispatcher) invoke(l StateListener, previous, current bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Listener panicked during state change delivery",
				zap.Bool("previous", previous),
				zap.Bool("current", current),
				zap.Any("panic", r))
		}
	}()
	l.MotionStateChanged(previous, current)
}

// Len returns the number of registered listeners
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

// Clear drops all registered listeners. Called on engine shutdown.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = nil
}
