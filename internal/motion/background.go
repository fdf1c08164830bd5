package motion

import (
	"image"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mirrorglass/mirrorcam/internal/config"
)

// shadowCutoff separates hard foreground from the subtractor's shadow
// marker value (127). Shadows are detected but treated as non-motion.
const shadowCutoff = 200

// backgroundModel wraps the adaptive MOG2 background subtractor together
// with the morphological cleanup pass. The subtractor's statistics are
// owned by the capture worker; sensitivity updates arriving from other
// goroutines are applied as an atomic swap of the whole subtractor so the
// model is never observed mid-update.
type backgroundModel struct {
	cfg    *config.MotionConfig
	logger *zap.Logger

	mu     sync.Mutex
	mog2   gocv.BackgroundSubtractorMOG2
	kernel gocv.Mat
}

func newBackgroundModel(cfg *config.MotionConfig, logger *zap.Logger) *backgroundModel {
	return &backgroundModel{
		cfg:    cfg,
		logger: logger.Named("background"),
		mog2: gocv.NewBackgroundSubtractorMOG2WithParams(
			cfg.History, cfg.VarThreshold, cfg.DetectShadows),
		kernel: gocv.GetStructuringElement(gocv.MorphEllipse,
			image.Pt(cfg.MorphSize, cfg.MorphSize)),
	}
}

// classify writes the cleaned foreground mask for a blurred grayscale
// frame into dst. Shadow pixels are thresholded out, then an open-then-
// close pass removes single-pixel sensor noise. The kernel is kept small
// so weak motion signals survive the cleanup.
func (b *backgroundModel) classify(blurred gocv.Mat, dst *gocv.Mat) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.mog2.Apply(blurred, dst)

	gocv.Threshold(*dst, dst, shadowCutoff, 255, gocv.ThresholdBinary)
	gocv.MorphologyEx(*dst, dst, gocv.MorphOpen, b.kernel)
	gocv.MorphologyEx(*dst, dst, gocv.MorphClose, b.kernel)
}

// setSensitivity rebuilds the subtractor with a variance threshold derived
// from the operator-facing sensitivity value. gocv exposes no runtime
// threshold setter, so the swap replaces the subtractor wholesale; the
// model re-learns the scene over the next history window.
func (b *backgroundModel) setSensitivity(sensitivity float64) {
	varThreshold := config.SensitivityVarThreshold(sensitivity)

	replacement := gocv.NewBackgroundSubtractorMOG2WithParams(
		b.cfg.History, varThreshold, b.cfg.DetectShadows)

	b.mu.Lock()
	old := b.mog2
	b.mog2 = replacement
	b.mu.Unlock()

	if err := old.Close(); err != nil {
		b.logger.Warn("Failed to close replaced subtractor", zap.Error(err))
	}

	b.logger.Info("Sensitivity updated",
		zap.Float64("sensitivity", sensitivity),
		zap.Float64("var_threshold", varThreshold))
}

func (b *backgroundModel) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.mog2.Close(); err != nil {
		b.logger.Warn("Failed to close background subtractor", zap.Error(err))
	}
	b.kernel.Close()
}
