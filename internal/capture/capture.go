package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mirrorglass/mirrorcam/internal/config"
	"github.com/mirrorglass/mirrorcam/internal/motion"
)

// FrameConsumer receives each processed frame synchronously on the
// capture goroutine. The Mat is borrowed for the duration of the call;
// consumers that need to keep it must clone.
type FrameConsumer interface {
	ConsumeFrame(frame gocv.Mat, snap motion.Snapshot)
}

// WorkerStats tracks capture loop counters
type WorkerStats struct {
	TotalFrames   int64
	ReadFailures  int64
	LastFrameTime time.Time
}

// Worker owns the camera device and the single processing goroutine that
// pulls frames and pushes each one through the detection engine before
// reading the next. Outside readers only ever see published copies.
type Worker struct {
	cfg    config.CameraConfig
	engine *motion.Engine
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	isRunning atomic.Bool

	consumerMu sync.Mutex
	consumers  []FrameConsumer

	// latest published frame/state, read by the UI side
	publishMu   sync.Mutex
	latestFrame gocv.Mat
	latestSnap  motion.Snapshot

	stats struct {
		totalFrames   atomic.Int64
		readFailures  atomic.Int64
		lastFrameTime atomic.Value // time.Time
	}
}

// NewWorker creates a capture worker bound to the given engine
func NewWorker(ctx context.Context, cfg config.CameraConfig, engine *motion.Engine, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	wCtx, cancel := context.WithCancel(ctx)

	w := &Worker{
		cfg:         cfg,
		engine:      engine,
		logger:      logger.Named("capture"),
		ctx:         wCtx,
		cancel:      cancel,
		latestFrame: gocv.NewMat(),
	}
	w.stats.lastFrameTime.Store(time.Time{})
	return w
}

// AddConsumer registers a frame consumer. Typically called during wiring,
// before Start, but safe at any time.
func (w *Worker) AddConsumer(c FrameConsumer) {
	if c == nil {
		return
	}
	w.consumerMu.Lock()
	defer w.consumerMu.Unlock()
	w.consumers = append(w.consumers, c)
}

// Start opens the camera device and begins the capture loop. The device
// open is retried with exponential backoff in case the camera is still
// enumerating at boot.
func (w *Worker) Start() error {
	if !w.isRunning.CompareAndSwap(false, true) {
		return nil
	}

	device, err := w.openDevice()
	if err != nil {
		w.isRunning.Store(false)
		return fmt.Errorf("open camera %q: %w", w.cfg.DeviceID, err)
	}

	w.wg.Add(1)
	go w.loop(device)

	w.logger.Info("Capture started",
		zap.String("device", w.cfg.DeviceID),
		zap.Int("width", w.cfg.Width),
		zap.Int("height", w.cfg.Height))
	return nil
}

func (w *Worker) openDevice() (*gocv.VideoCapture, error) {
	var device *gocv.VideoCapture

	op := func() error {
		var err error
		device, err = gocv.OpenVideoCapture(w.cfg.DeviceID)
		if err != nil {
			w.logger.Warn("Camera not available, retrying", zap.Error(err))
			return err
		}
		return nil
	}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = 500 * time.Millisecond
	ebo.MaxInterval = 10 * time.Second

	var policy backoff.BackOff = ebo
	if w.cfg.OpenRetryMax > 0 {
		policy = backoff.WithMaxRetries(ebo, w.cfg.OpenRetryMax)
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, w.ctx)); err != nil {
		return nil, err
	}

	device.Set(gocv.VideoCaptureFrameWidth, float64(w.cfg.Width))
	device.Set(gocv.VideoCaptureFrameHeight, float64(w.cfg.Height))
	device.Set(gocv.VideoCaptureFPS, w.cfg.FrameRate)
	return device, nil
}

// loop is the dedicated worker: read, process, publish, repeat. The stop
// flag is polled once per iteration; each frame runs the whole pipeline
// to completion before the next read.
func (w *Worker) loop(device *gocv.VideoCapture) {
	defer w.wg.Done()
	defer w.cleanup(device)

	frame := gocv.NewMat()
	defer frame.Close()

	consecutiveFailures := 0

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Info("Capture loop stopping")
			return
		default:
		}

		if ok := device.Read(&frame); !ok || frame.Empty() {
			consecutiveFailures++
			w.stats.readFailures.Add(1)

			// Persistent read failure is pipeline-fatal: end the loop,
			// release the device, signal inactivity through the status.
			if w.cfg.MaxReadFailures > 0 && consecutiveFailures >= w.cfg.MaxReadFailures {
				w.logger.Error("Camera read failed repeatedly, ending capture",
					zap.Int("consecutive_failures", consecutiveFailures))
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		consecutiveFailures = 0

		w.stats.totalFrames.Add(1)
		w.stats.lastFrameTime.Store(time.Now())

		annotated, snap := w.engine.ProcessFrame(frame)
		w.fanOut(annotated, snap)
		w.publish(annotated, snap)
	}
}

func (w *Worker) fanOut(annotated gocv.Mat, snap motion.Snapshot) {
	w.consumerMu.Lock()
	consumers := make([]FrameConsumer, len(w.consumers))
	copy(consumers, w.consumers)
	w.consumerMu.Unlock()

	for _, c := range consumers {
		c.ConsumeFrame(annotated, snap)
	}
}

// publish takes ownership of the annotated frame and swaps it in as the
// latest published copy for outside readers.
func (w *Worker) publish(annotated gocv.Mat, snap motion.Snapshot) {
	w.publishMu.Lock()
	old := w.latestFrame
	w.latestFrame = annotated
	w.latestSnap = snap
	w.publishMu.Unlock()

	old.Close()
}

// LatestSnapshot returns the most recently published snapshot
func (w *Worker) LatestSnapshot() motion.Snapshot {
	w.publishMu.Lock()
	defer w.publishMu.Unlock()
	return w.latestSnap
}

// LatestFrame returns a clone of the most recently published annotated
// frame, or false if nothing has been captured yet. The caller owns the
// returned Mat.
func (w *Worker) LatestFrame() (gocv.Mat, bool) {
	w.publishMu.Lock()
	defer w.publishMu.Unlock()

	if w.latestFrame.Empty() {
		return gocv.Mat{}, false
	}
	return w.latestFrame.Clone(), true
}

// Stop cancels the loop and waits for it to exit
func (w *Worker) Stop() {
	if !w.isRunning.Load() {
		return
	}
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Capture stopped cleanly")
	case <-time.After(5 * time.Second):
		w.logger.Warn("Capture stop timed out")
	}
}

func (w *Worker) cleanup(device *gocv.VideoCapture) {
	if err := device.Close(); err != nil {
		w.logger.Warn("Error closing camera device", zap.Error(err))
	}
	w.isRunning.Store(false)
	w.logger.Info("Capture resources released")
}

// IsRunning reports whether the capture loop is alive
func (w *Worker) IsRunning() bool {
	return w.isRunning.Load()
}

// Stats returns current capture counters
func (w *Worker) Stats() WorkerStats {
	lastTime, _ := w.stats.lastFrameTime.Load().(time.Time)
	return WorkerStats{
		TotalFrames:   w.stats.totalFrames.Load(),
		ReadFailures:  w.stats.readFailures.Load(),
		LastFrameTime: lastTime,
	}
}
