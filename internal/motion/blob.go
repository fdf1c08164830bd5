package motion

import (
	"image"
	"sort"

	"gocv.io/x/gocv"

	"github.com/mirrorglass/mirrorcam/internal/config"
)

// blobExtractor converts a foreground mask into a filtered set of
// candidate motion regions.
type blobExtractor struct {
	cfg *config.MotionConfig
}

type contourCandidate struct {
	area float64
	rect image.Rectangle
}

// extract finds external contours in the mask, keeps the largest
// candidates, and filters out degenerate slivers. An empty mask yields an
// empty slice, never an error.
func (e *blobExtractor) extract(mask gocv.Mat) []MotionBox {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	candidates := make([]contourCandidate, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		candidates = append(candidates, contourCandidate{
			area: gocv.ContourArea(c),
			rect: gocv.BoundingRect(c),
		})
	}

	return filterCandidates(candidates, e.cfg)
}

// filterCandidates applies the area, dimension and aspect-ratio filters to
// raw contour candidates, largest areas first, keeping at most MaxObjects.
// Split out from extract so the filtering boundaries are testable without
// building masks.
func filterCandidates(candidates []contourCandidate, cfg *config.MotionConfig) []MotionBox {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].area > candidates[j].area
	})

	if len(candidates) > cfg.MaxObjects {
		candidates = candidates[:cfg.MaxObjects]
	}

	boxes := make([]MotionBox, 0, len(candidates))
	for _, c := range candidates {
		if box, ok := boxFromCandidate(c, cfg); ok {
			boxes = append(boxes, box)
		}
	}
	return boxes
}

// boxFromCandidate builds a MotionBox from one contour, rejecting it when
// it falls outside the configured bounds. Area exactly at the floor is
// accepted; aspect ratios exactly at either bound are accepted.
func boxFromCandidate(c contourCandidate, cfg *config.MotionConfig) (MotionBox, bool) {
	if c.area < cfg.MinContourArea {
		return MotionBox{}, false
	}

	w := c.rect.Dx()
	h := c.rect.Dy()
	if w < cfg.MinBoxDim || h < cfg.MinBoxDim {
		return MotionBox{}, false
	}

	aspect := float64(w) / float64(h)
	if aspect < cfg.MinAspectRatio || aspect > cfg.MaxAspectRatio {
		return MotionBox{}, false
	}

	confidence := c.area / float64(w*h)
	if confidence > 1 {
		confidence = 1
	}

	return MotionBox{
		X:          c.rect.Min.X,
		Y:          c.rect.Min.Y,
		Width:      w,
		Height:     h,
		Area:       c.area,
		Confidence: confidence,
	}, true
}

// totalArea sums the contour areas of all boxes
func totalArea(boxes []MotionBox) float64 {
	var sum float64
	for _, b := range boxes {
		sum += b.Area
	}
	return sum
}

// sceneConfidence aggregates per-frame motion evidence into a single
// score in [0,1]: 60% weight on how much of the frame the boxes cover,
// 40% on the average intensity of the foreground mask.
func sceneConfidence(boxes []MotionBox, maskSum float64, frameArea int) float64 {
	if len(boxes) == 0 || frameArea <= 0 {
		return 0
	}

	areaRatio := totalArea(boxes) / float64(frameArea)
	if areaRatio > 1 {
		areaRatio = 1
	}

	intensity := maskSum / (float64(frameArea) * 255)

	confidence := areaRatio*0.6 + intensity*0.4
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
