package recorder

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mirrorglass/mirrorcam/internal/recorder/storage"
)

// ClipUploader pushes a local clip into object storage
type ClipUploader interface {
	Upload(ctx context.Context, localPath, key string) error
}

// EpisodeLogger persists completed motion episodes
type EpisodeLogger interface {
	SaveEpisode(ctx context.Context, ep *storage.MotionEpisode) error
}

// Archiver drains the recorder's completed-clip queue on an interval,
// uploading clips and logging episodes. Either backend may be nil, in
// which case that half is skipped; with both nil the archiver only logs
// clip completion locally.
type Archiver struct {
	recorder *Recorder
	uploader ClipUploader
	episodes EpisodeLogger
	interval time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewArchiver wires the recorder to its storage backends
func NewArchiver(ctx context.Context, r *Recorder, uploader ClipUploader, episodes EpisodeLogger, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	aCtx, cancel := context.WithCancel(ctx)
	return &Archiver{
		recorder: r,
		uploader: uploader,
		episodes: episodes,
		interval: 10 * time.Second,
		logger:   logger.Named("archiver"),
		ctx:      aCtx,
		cancel:   cancel,
	}
}

// Start begins the drain loop
func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.loop()
}

func (a *Archiver) loop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			// Final drain on a fresh context so a clip finished during
			// shutdown still lands.
			finalCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			a.drain(finalCtx)
			cancel()
			return
		case <-ticker.C:
			a.drain(a.ctx)
		}
	}
}

func (a *Archiver) drain(ctx context.Context) {
	for _, clip := range a.recorder.PendingClips() {
		a.archive(ctx, clip)
	}
}

func (a *Archiver) archive(ctx context.Context, clip *Clip) {
	if a.uploader != nil {
		key := storage.ObjectKey(clip.StartTime, clip.Path)
		if err := a.uploader.Upload(ctx, clip.Path, key); err != nil {
			a.logger.Error("Clip upload failed, keeping local copy",
				zap.String("clip_id", clip.ID),
				zap.Error(err))
		} else {
			clip.StorageKey = key
		}
	}

	if a.episodes != nil {
		ep := &storage.MotionEpisode{
			ID:             clip.ID,
			StartedAt:      clip.StartTime,
			EndedAt:        sql.NullTime{Time: clip.EndTime, Valid: !clip.EndTime.IsZero()},
			DurationSecs:   clip.Duration.Seconds(),
			PeakConfidence: clip.PeakConfidence,
			FrameCount:     clip.FrameCount,
			ClipKey:        clip.StorageKey,
		}
		if err := a.episodes.SaveEpisode(ctx, ep); err != nil {
			a.logger.Error("Episode log write failed",
				zap.String("clip_id", clip.ID),
				zap.Error(err))
		}
	}
}

// Stop ends the drain loop after one final sweep
func (a *Archiver) Stop() {
	a.cancel()
	a.wg.Wait()
}
