package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mirrorglass/mirrorcam/internal/recorder/storage"
)

type fakeUploader struct {
	keys []string
	err  error
}

func (f *fakeUploader) Upload(ctx context.Context, localPath, key string) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	return nil
}

type fakeEpisodeLog struct {
	episodes []*storage.MotionEpisode
	err      error
}

func (f *fakeEpisodeLog) SaveEpisode(ctx context.Context, ep *storage.MotionEpisode) error {
	if f.err != nil {
		return f.err
	}
	f.episodes = append(f.episodes, ep)
	return nil
}

func queueClip(r *Recorder, clip *Clip) {
	r.mu.Lock()
	r.pending = append(r.pending, clip)
	r.mu.Unlock()
}

func testClip() *Clip {
	start := time.Date(2025, 4, 12, 9, 15, 0, 0, time.UTC)
	return &Clip{
		ID:             "11111111-2222-3333-4444-555555555555",
		Path:           "/tmp/motion_20250412_091500_11111111.mp4",
		StartTime:      start,
		EndTime:        start.Add(8 * time.Second),
		Duration:       8 * time.Second,
		FrameCount:     240,
		PeakConfidence: 0.61,
		Status:         ClipStatusCompleted,
	}
}

func TestArchiverUploadsAndLogs(t *testing.T) {
	r := newTestRecorder(t)
	up := &fakeUploader{}
	log := &fakeEpisodeLog{}
	a := NewArchiver(context.Background(), r, up, log, nil)
	defer a.Stop()

	clip := testClip()
	queueClip(r, clip)
	a.drain(context.Background())

	if len(up.keys) != 1 {
		t.Fatalf("uploads = %d, want 1", len(up.keys))
	}
	wantKey := storage.ObjectKey(clip.StartTime, clip.Path)
	if up.keys[0] != wantKey {
		t.Fatalf("upload key = %q, want %q", up.keys[0], wantKey)
	}
	if clip.StorageKey != wantKey {
		t.Fatalf("clip storage key = %q, want %q", clip.StorageKey, wantKey)
	}

	if len(log.episodes) != 1 {
		t.Fatalf("episodes logged = %d, want 1", len(log.episodes))
	}
	ep := log.episodes[0]
	if ep.ID != clip.ID || ep.ClipKey != wantKey || ep.FrameCount != 240 {
		t.Fatalf("episode fields = %+v", ep)
	}
	if !ep.EndedAt.Valid || !ep.EndedAt.Time.Equal(clip.EndTime) {
		t.Fatalf("episode end time = %+v", ep.EndedAt)
	}
	if ep.DurationSecs != 8 {
		t.Fatalf("episode duration = %v, want 8", ep.DurationSecs)
	}
}

func TestArchiverUploadFailureStillLogsEpisode(t *testing.T) {
	r := newTestRecorder(t)
	up := &fakeUploader{err: errors.New("endpoint unreachable")}
	log := &fakeEpisodeLog{}
	a := NewArchiver(context.Background(), r, up, log, nil)
	defer a.Stop()

	clip := testClip()
	queueClip(r, clip)
	a.drain(context.Background())

	if clip.StorageKey != "" {
		t.Fatalf("storage key set despite failed upload: %q", clip.StorageKey)
	}
	if len(log.episodes) != 1 {
		t.Fatalf("episode not logged after failed upload")
	}
	if log.episodes[0].ClipKey != "" {
		t.Fatalf("episode references a key that was never written: %q", log.episodes[0].ClipKey)
	}
}

func TestArchiverNilBackends(t *testing.T) {
	r := newTestRecorder(t)
	a := NewArchiver(context.Background(), r, nil, nil, nil)
	defer a.Stop()

	queueClip(r, testClip())
	a.drain(context.Background())

	// Nothing to assert beyond the absence of a panic; the queue is gone.
	if pending := r.PendingClips(); len(pending) != 0 {
		t.Fatalf("queue not drained with nil backends")
	}
}

func TestArchiverStopDrainsQueue(t *testing.T) {
	r := newTestRecorder(t)
	up := &fakeUploader{}
	a := NewArchiver(context.Background(), r, up, nil, nil)

	a.Start()
	queueClip(r, testClip())
	a.Stop()

	if len(up.keys) != 1 {
		t.Fatalf("final drain missed the queued clip, uploads = %d", len(up.keys))
	}
}
