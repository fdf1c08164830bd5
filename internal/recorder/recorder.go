package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mirrorglass/mirrorcam/internal/config"
	"github.com/mirrorglass/mirrorcam/internal/motion"
)

// ClipStatus represents the state of a recorded clip
type ClipStatus string

const (
	ClipStatusRecording ClipStatus = "recording"
	ClipStatusCompleted ClipStatus = "completed"
	ClipStatusDiscarded ClipStatus = "discarded"
	ClipStatusFailed    ClipStatus = "failed"
)

// Clip describes one motion-triggered recording
type Clip struct {
	ID             string
	Path           string
	Codec          string
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FrameCount     int64
	PeakConfidence float64
	Status         ClipStatus
	StorageKey     string
}

// Metrics tracks recorder counters
type Metrics struct {
	ClipsStarted   int64
	ClipsCompleted int64
	ClipsDiscarded int64
	ClipsFailed    int64
	TotalDuration  time.Duration
}

// Recorder turns confirmed motion episodes into video clips. It hangs off
// the detection engine as a state listener (clip boundaries) and off the
// capture worker as a frame consumer (clip content), so it never reaches
// into the pipeline's internals.
//
// The video writer is opened lazily on the first frame of an episode,
// since the frame dimensions are only known then.
type Recorder struct {
	cfg       config.RecordingConfig
	frameRate float64
	logger    *zap.Logger

	mu      sync.Mutex
	current *Clip
	writer  *gocv.VideoWriter
	pending []*Clip

	metrics Metrics
}

// New creates a clip recorder writing into cfg.OutputDir
func New(cfg config.RecordingConfig, frameRate float64, logger *zap.Logger) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Recorder{
		cfg:       cfg,
		frameRate: frameRate,
		logger:    logger.Named("recorder"),
	}, nil
}

// MotionStateChanged implements motion.StateListener. A confirm transition
// opens a new clip; a clear transition finalizes it.
func (r *Recorder) MotionStateChanged(previous, current bool) {
	switch {
	case current && !previous:
		r.startClip()
	case previous && !current:
		r.finishClip("motion cleared")
	}
}

func (r *Recorder) startClip() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return
	}

	now := time.Now()
	id := uuid.New().String()
	name := fmt.Sprintf("motion_%s_%s.mp4", now.Format("20060102_150405"), id[:8])

	r.current = &Clip{
		ID:        id,
		Path:      filepath.Join(r.cfg.OutputDir, name),
		StartTime: now,
		Status:    ClipStatusRecording,
	}
	r.metrics.ClipsStarted++

	r.logger.Info("Clip started",
		zap.String("clip_id", id),
		zap.String("path", r.current.Path))
}

// ConsumeFrame implements capture.FrameConsumer. Frames are written only
// while an episode is open; the borrowed Mat is written synchronously and
// never retained.
func (r *Recorder) ConsumeFrame(frame gocv.Mat, snap motion.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return
	}

	if r.writer == nil {
		if err := r.openWriterLocked(frame); err != nil {
			r.logger.Error("Failed to open clip writer, dropping clip", zap.Error(err))
			r.current.Status = ClipStatusFailed
			r.metrics.ClipsFailed++
			r.current = nil
			return
		}
	}

	if err := r.writer.Write(frame); err != nil {
		r.logger.Warn("Failed to write clip frame", zap.Error(err))
		return
	}
	r.current.FrameCount++
	if snap.Confidence > r.current.PeakConfidence {
		r.current.PeakConfidence = snap.Confidence
	}

	// Cap runaway episodes; the next confirm starts a fresh clip.
	if time.Since(r.current.StartTime) > r.cfg.MaxClipTime {
		r.logger.Warn("Clip exceeded max duration, finalizing",
			zap.String("clip_id", r.current.ID),
			zap.Duration("max", r.cfg.MaxClipTime))
		r.finishClipLocked("max duration")
	}
}

// openWriterLocked tries the configured codecs in order until one opens
func (r *Recorder) openWriterLocked(frame gocv.Mat) error {
	var lastErr error
	for _, codec := range r.cfg.Codecs {
		writer, err := gocv.VideoWriterFile(r.current.Path, codec,
			r.frameRate, frame.Cols(), frame.Rows(), true)
		if err == nil {
			r.writer = writer
			r.current.Codec = codec
			r.logger.Debug("Clip writer opened",
				zap.String("codec", codec),
				zap.Int("width", frame.Cols()),
				zap.Int("height", frame.Rows()))
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("no codec could open %s: %w", r.current.Path, lastErr)
}

func (r *Recorder) finishClip(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishClipLocked(reason)
}

func (r *Recorder) finishClipLocked(reason string) {
	clip := r.current
	if clip == nil {
		return
	}
	r.current = nil

	if r.writer != nil {
		if err := r.writer.Close(); err != nil {
			r.logger.Warn("Error closing clip writer", zap.Error(err))
		}
		r.writer = nil
	}

	clip.EndTime = time.Now()
	clip.Duration = clip.EndTime.Sub(clip.StartTime)

	// Episodes that never produced a frame, or ended under the floor,
	// count as false positives and come off the disk.
	if clip.FrameCount == 0 || clip.Duration < r.cfg.MinClipTime {
		clip.Status = ClipStatusDiscarded
		r.metrics.ClipsDiscarded++
		if err := os.Remove(clip.Path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("Failed to remove discarded clip", zap.Error(err))
		}
		r.logger.Info("Clip discarded",
			zap.String("clip_id", clip.ID),
			zap.Duration("duration", clip.Duration),
			zap.String("reason", reason))
		return
	}

	clip.Status = ClipStatusCompleted
	r.metrics.ClipsCompleted++
	r.metrics.TotalDuration += clip.Duration
	r.pending = append(r.pending, clip)

	r.logger.Info("Clip completed",
		zap.String("clip_id", clip.ID),
		zap.Duration("duration", clip.Duration),
		zap.Int64("frames", clip.FrameCount),
		zap.Float64("peak_confidence", clip.PeakConfidence),
		zap.String("reason", reason))
}

// PendingClips returns completed clips awaiting upload and clears the
// queue
func (r *Recorder) PendingClips() []*Clip {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]*Clip, len(r.pending))
	copy(result, r.pending)
	r.pending = r.pending[:0]
	return result
}

// IsRecording reports whether a clip is currently open
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// GetMetrics returns a copy of the recorder counters
func (r *Recorder) GetMetrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

// Close finalizes any open clip and stops the recorder
func (r *Recorder) Close() {
	r.finishClip("shutdown")
}
