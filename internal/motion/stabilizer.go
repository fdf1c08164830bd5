package motion

import (
	"image"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mirrorglass/mirrorcam/internal/config"
)

// stabilizer cancels small inter-frame camera displacement (wind,
// vibration) before background modeling. It tracks corner features from
// the previous frame's luminance into the current one, fits a partial
// affine transform, and warps the current frame by its inverse.
//
// Every failure path degrades to passing the frame through untouched;
// stabilization is never allowed to take the pipeline down with it.
type stabilizer struct {
	cfg    *config.MotionConfig
	logger *zap.Logger

	prevGray gocv.Mat
}

func newStabilizer(cfg *config.MotionConfig, logger *zap.Logger) *stabilizer {
	return &stabilizer{
		cfg:      cfg,
		logger:   logger.Named("stabilizer"),
		prevGray: gocv.NewMat(),
	}
}

// apply returns the stabilized frame and true when compensation was
// performed, in which case the caller owns the returned Mat. On cold
// start or any failure it returns the input frame unmodified and false.
// The stored luminance grid is updated on every path.
func (s *stabilizer) apply(frame gocv.Mat) (gocv.Mat, bool) {
	gray := gocv.NewMat()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

	if s.prevGray.Empty() {
		s.prevGray.Close()
		s.prevGray = gray
		return frame, false
	}

	warped, ok := s.compensate(frame, gray)

	s.prevGray.Close()
	s.prevGray = gray
	return warped, ok
}

// compensate estimates and cancels the camera motion between prevGray and
// gray. OpenCV signals bad input by panicking across cgo, so the whole
// estimation is fenced with a recover that falls back to passthrough.
func (s *stabilizer) compensate(frame, gray gocv.Mat) (result gocv.Mat, ok bool) {
	result, ok = frame, false

	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Stabilization failed, passing frame through",
				zap.Any("error", r))
			result, ok = frame, false
		}
	}()

	corners := gocv.NewMat()
	defer corners.Close()
	gocv.GoodFeaturesToTrack(s.prevGray, &corners,
		s.cfg.MaxCorners, s.cfg.CornerQuality, s.cfg.CornerMinDistance)

	if corners.Rows() <= s.cfg.MinTrackedPoints {
		return frame, false
	}

	next := gocv.NewMat()
	defer next.Close()
	status := gocv.NewMat()
	defer status.Close()
	trackErr := gocv.NewMat()
	defer trackErr.Close()

	gocv.CalcOpticalFlowPyrLK(s.prevGray, gray, corners, next, &status, &trackErr)

	prevPts := make([]gocv.Point2f, 0, corners.Rows())
	currPts := make([]gocv.Point2f, 0, corners.Rows())
	for i := 0; i < corners.Rows() && i < status.Rows(); i++ {
		if status.GetUCharAt(i, 0) != 1 {
			continue
		}
		p := corners.GetVecfAt(i, 0)
		n := next.GetVecfAt(i, 0)
		prevPts = append(prevPts, gocv.Point2f{X: p[0], Y: p[1]})
		currPts = append(currPts, gocv.Point2f{X: n[0], Y: n[1]})
	}

	if len(prevPts) <= s.cfg.MinTrackedPoints {
		return frame, false
	}

	fromVec := gocv.NewPoint2fVectorFromPoints(prevPts)
	defer fromVec.Close()
	toVec := gocv.NewPoint2fVectorFromPoints(currPts)
	defer toVec.Close()

	transform := gocv.EstimateAffinePartial2D(fromVec, toVec)
	defer transform.Close()
	if transform.Empty() {
		return frame, false
	}

	inverse := gocv.NewMat()
	defer inverse.Close()
	gocv.InvertAffineTransform(transform, &inverse)

	stabilized := gocv.NewMat()
	gocv.WarpAffine(frame, &stabilized, inverse, image.Pt(frame.Cols(), frame.Rows()))
	return stabilized, true
}

func (s *stabilizer) Close() {
	s.prevGray.Close()
}
