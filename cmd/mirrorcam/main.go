package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mirrorglass/mirrorcam/internal/capture"
	"github.com/mirrorglass/mirrorcam/internal/config"
	"github.com/mirrorglass/mirrorcam/internal/mirrorlink"
	"github.com/mirrorglass/mirrorcam/internal/motion"
	"github.com/mirrorglass/mirrorcam/internal/recorder"
	"github.com/mirrorglass/mirrorcam/internal/recorder/storage"
)

// Application holds all wired components
type Application struct {
	cfg    *config.Config
	logger *zap.Logger

	engine    *motion.Engine
	worker    *capture.Worker
	recorder  *recorder.Recorder
	archiver  *recorder.Archiver
	eventLog  *storage.EventLog
	publisher *mirrorlink.Publisher
}

func main() {
	cfg := config.NewDefaultConfig()

	var dev bool
	var sensitivity float64

	flag.StringVar(&cfg.Camera.DeviceID, "device", cfg.Camera.DeviceID, "camera device index or video file path")
	flag.IntVar(&cfg.Camera.Width, "width", cfg.Camera.Width, "capture width")
	flag.IntVar(&cfg.Camera.Height, "height", cfg.Camera.Height, "capture height")
	flag.Float64Var(&cfg.Camera.FrameRate, "fps", cfg.Camera.FrameRate, "capture frame rate")
	flag.StringVar(&cfg.Recording.OutputDir, "out", cfg.Recording.OutputDir, "clip output directory")
	flag.BoolVar(&cfg.Recording.Enabled, "record", cfg.Recording.Enabled, "record clips on motion")
	flag.BoolVar(&cfg.MirrorLink.Enabled, "mirror", cfg.MirrorLink.Enabled, "push status to the mirror appliance")
	flag.StringVar(&cfg.MirrorLink.URL, "mirror-url", cfg.MirrorLink.URL, "mirror appliance websocket URL")
	flag.StringVar(&cfg.Storage.MinIOEndpoint, "minio", cfg.Storage.MinIOEndpoint, "MinIO endpoint for clip upload (empty = disabled)")
	flag.StringVar(&cfg.Storage.MinIOAccessKey, "minio-access-key", cfg.Storage.MinIOAccessKey, "MinIO access key")
	flag.StringVar(&cfg.Storage.MinIOSecretKey, "minio-secret-key", cfg.Storage.MinIOSecretKey, "MinIO secret key")
	flag.StringVar(&cfg.Storage.PostgresDSN, "events-dsn", cfg.Storage.PostgresDSN, "PostgreSQL DSN for the motion event log (empty = disabled)")
	flag.Float64Var(&sensitivity, "sensitivity", 0, "initial detection sensitivity in [0.1, 0.9] (0 = config default)")
	flag.BoolVar(&dev, "dev", false, "development logging")
	flag.Parse()

	logger := buildLogger(dev)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build application", zap.Error(err))
	}
	defer app.Shutdown()

	if sensitivity > 0 {
		app.engine.UpdateSensitivity(sensitivity)
	}

	if err := app.Run(ctx); err != nil {
		logger.Fatal("Runtime failure", zap.Error(err))
	}
}

func buildLogger(dev bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func newApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	app := &Application{cfg: cfg, logger: logger}

	engine, err := motion.NewEngine(cfg.Motion, logger)
	if err != nil {
		return nil, fmt.Errorf("create motion engine: %w", err)
	}
	app.engine = engine

	app.worker = capture.NewWorker(ctx, cfg.Camera, engine, logger)

	if cfg.Recording.Enabled {
		rec, err := recorder.New(cfg.Recording, cfg.Camera.FrameRate, logger)
		if err != nil {
			return nil, fmt.Errorf("create recorder: %w", err)
		}
		app.recorder = rec
		engine.AddStateListener(rec)
		app.worker.AddConsumer(rec)

		var uploader recorder.ClipUploader
		if cfg.Storage.MinIOEndpoint != "" {
			store, err := storage.NewClipStore(ctx, cfg.Storage)
			if err != nil {
				return nil, fmt.Errorf("create clip store: %w", err)
			}
			uploader = store
		}

		var episodes recorder.EpisodeLogger
		if cfg.Storage.PostgresDSN != "" {
			eventLog, err := storage.NewEventLog(ctx, cfg.Storage.PostgresDSN)
			if err != nil {
				return nil, fmt.Errorf("create event log: %w", err)
			}
			app.eventLog = eventLog
			episodes = eventLog
		}

		app.archiver = recorder.NewArchiver(ctx, rec, uploader, episodes, logger)
	}

	if cfg.MirrorLink.Enabled {
		app.publisher = mirrorlink.NewPublisher(ctx, cfg.MirrorLink, engine, logger)
		engine.AddStateListener(app.publisher)
	}

	return app, nil
}

// Run starts every component and blocks until shutdown or camera loss
func (app *Application) Run(ctx context.Context) error {
	app.engine.StartDetection()

	if app.archiver != nil {
		app.archiver.Start()
	}
	if app.publisher != nil {
		app.publisher.Start()
	}
	if err := app.worker.Start(); err != nil {
		return err
	}

	statusTicker := time.NewTicker(30 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			app.logger.Info("Shutdown requested")
			return nil
		case <-statusTicker.C:
			st := app.engine.Status()
			ws := app.worker.Stats()
			app.logger.Info("Status",
				zap.Bool("motion", st.MotionDetected),
				zap.Float64("confidence", st.Confidence),
				zap.Int("objects", st.MotionBoxCount),
				zap.Float64("fps", st.FPS),
				zap.Int64("frames", ws.TotalFrames),
				zap.Int64("read_failures", ws.ReadFailures))

			// Camera loss ends the capture loop; treat it as fatal here.
			if !app.worker.IsRunning() {
				return fmt.Errorf("capture loop exited")
			}
		}
	}
}

// Shutdown stops components in reverse dependency order
func (app *Application) Shutdown() {
	app.worker.Stop()
	app.engine.StopDetection()

	if app.recorder != nil {
		app.recorder.Close()
	}
	if app.archiver != nil {
		app.archiver.Stop()
	}
	if app.publisher != nil {
		app.publisher.Stop()
	}
	if app.eventLog != nil {
		app.eventLog.Close()
	}
	app.engine.Close()
	app.logger.Info("Shutdown complete")
}
