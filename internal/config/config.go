package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration
type Config struct {
	Camera     CameraConfig
	Motion     MotionConfig
	Recording  RecordingConfig
	Storage    StorageConfig
	MirrorLink MirrorLinkConfig
}

// CameraConfig describes the capture device
type CameraConfig struct {
	// DeviceID is the index passed to the video capture backend.
	// A file path also works, which is handy for replaying clips in tests.
	DeviceID  string
	Width     int
	Height    int
	FrameRate float64

	// OpenRetryMax bounds the exponential backoff when the device
	// is not available at startup. 0 means retry forever.
	OpenRetryMax    uint64
	MaxReadFailures int
}

// MotionConfig consolidates every tunable of the detection pipeline.
// The defaults are deliberately sensitive: the targets are people and
// pets that can be low-contrast against the background in dim light.
type MotionConfig struct {
	// Background subtractor
	History       int
	VarThreshold  float64
	DetectShadows bool

	// Pre-processing
	BlurSize  int // Gaussian blur kernel, must be odd
	MorphSize int // structuring element for open/close cleanup

	// Blob extraction
	MinContourArea float64
	MaxObjects     int
	MinBoxDim      int
	MinAspectRatio float64
	MaxAspectRatio float64

	// Per-frame significance gate
	ConfidenceThreshold float64
	MinTotalArea        float64

	// Hysteresis
	DetectionDelay time.Duration // continuous motion required to confirm
	ClearDelay     time.Duration // continuous stillness required to clear

	// Stabilization
	StabilizationEnabled bool
	MaxCorners           int
	CornerQuality        float64
	CornerMinDistance    float64
	MinTrackedPoints     int
}

// RecordingConfig controls the motion-triggered clip recorder
type RecordingConfig struct {
	Enabled     bool
	OutputDir   string
	Codecs      []string // fourcc candidates, tried in order
	MinClipTime time.Duration
	MaxClipTime time.Duration
}

// StorageConfig gathers the optional clip upload and event log backends.
// Either backend is disabled when its address/endpoint is empty.
type StorageConfig struct {
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
	UploadRetries  int

	PostgresDSN string
}

// MirrorLinkConfig points at the mirror appliance's status endpoint
type MirrorLinkConfig struct {
	Enabled           bool
	URL               string // e.g. ws://192.168.1.100:8080/api/control
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
}

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		Camera: CameraConfig{
			DeviceID:        "0",
			Width:           640,
			Height:          480,
			FrameRate:       30,
			OpenRetryMax:    10,
			MaxReadFailures: 30,
		},
		Motion: MotionConfig{
			History:       500,
			VarThreshold:  16, // lower than the OpenCV default for sensitivity
			DetectShadows: true,

			BlurSize:  15,
			MorphSize: 2,

			MinContourArea: 200,
			MaxObjects:     10,
			MinBoxDim:      10,
			MinAspectRatio: 0.1,
			MaxAspectRatio: 10,

			ConfidenceThreshold: 0.02,
			MinTotalArea:        300,

			DetectionDelay: 2 * time.Second,
			ClearDelay:     10 * time.Second,

			StabilizationEnabled: true,
			MaxCorners:           200,
			CornerQuality:        0.01,
			CornerMinDistance:    30,
			MinTrackedPoints:     10,
		},
		Recording: RecordingConfig{
			Enabled:     true,
			OutputDir:   "recordings",
			Codecs:      []string{"avc1", "mp4v", "MJPG"},
			MinClipTime: 3 * time.Second,
			MaxClipTime: 5 * time.Minute,
		},
		Storage: StorageConfig{
			MinIOBucket:   "mirrorcam-clips",
			UploadRetries: 3,
		},
		MirrorLink: MirrorLinkConfig{
			URL:               "ws://192.168.1.100:8080/api/control",
			HeartbeatInterval: 5 * time.Second,
			WriteTimeout:      3 * time.Second,
		},
	}
}

// Validate range-checks every tunable before the pipeline is built
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera dimensions %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FrameRate <= 0 {
		return fmt.Errorf("camera frame rate must be positive, got %v", c.Camera.FrameRate)
	}
	if err := c.Motion.Validate(); err != nil {
		return fmt.Errorf("motion config: %w", err)
	}
	if c.Recording.Enabled {
		if c.Recording.OutputDir == "" {
			return fmt.Errorf("recording output directory is empty")
		}
		if len(c.Recording.Codecs) == 0 {
			return fmt.Errorf("no recording codecs configured")
		}
		if c.Recording.MinClipTime < 0 || c.Recording.MaxClipTime <= 0 {
			return fmt.Errorf("invalid clip duration bounds [%v, %v]",
				c.Recording.MinClipTime, c.Recording.MaxClipTime)
		}
	}
	if c.MirrorLink.Enabled && c.MirrorLink.URL == "" {
		return fmt.Errorf("mirrorlink enabled without a URL")
	}
	return nil
}

// Validate checks the motion tunables against their documented ranges
func (m *MotionConfig) Validate() error {
	if m.History <= 0 {
		return fmt.Errorf("background history must be positive, got %d", m.History)
	}
	if m.VarThreshold <= 0 {
		return fmt.Errorf("variance threshold must be positive, got %v", m.VarThreshold)
	}
	if m.BlurSize < 1 || m.BlurSize%2 == 0 {
		return fmt.Errorf("blur size must be a positive odd number, got %d", m.BlurSize)
	}
	if m.MorphSize < 1 {
		return fmt.Errorf("morphological kernel size must be positive, got %d", m.MorphSize)
	}
	if m.MinContourArea < 0 {
		return fmt.Errorf("minimum contour area must not be negative, got %v", m.MinContourArea)
	}
	if m.MaxObjects <= 0 {
		return fmt.Errorf("max objects must be positive, got %d", m.MaxObjects)
	}
	if m.MinAspectRatio <= 0 || m.MaxAspectRatio <= m.MinAspectRatio {
		return fmt.Errorf("invalid aspect ratio bounds [%v, %v]", m.MinAspectRatio, m.MaxAspectRatio)
	}
	if m.ConfidenceThreshold < 0 || m.ConfidenceThreshold >= 1 {
		return fmt.Errorf("confidence threshold must be in [0,1), got %v", m.ConfidenceThreshold)
	}
	if m.DetectionDelay <= 0 || m.ClearDelay <= 0 {
		return fmt.Errorf("hysteresis delays must be positive, got confirm=%v clear=%v",
			m.DetectionDelay, m.ClearDelay)
	}
	if m.StabilizationEnabled {
		if m.MaxCorners <= 0 || m.MinTrackedPoints <= 0 {
			return fmt.Errorf("invalid stabilizer corner counts max=%d min=%d",
				m.MaxCorners, m.MinTrackedPoints)
		}
		if m.CornerQuality <= 0 || m.CornerQuality >= 1 {
			return fmt.Errorf("corner quality must be in (0,1), got %v", m.CornerQuality)
		}
	}
	return nil
}

// SensitivityVarThreshold maps an operator-facing sensitivity in [0.1, 0.9]
// onto the background subtractor's variance threshold. Out-of-range values
// are clamped rather than rejected so a slider can never break detection.
func SensitivityVarThreshold(sensitivity float64) float64 {
	if sensitivity < 0.1 {
		sensitivity = 0.1
	}
	if sensitivity > 0.9 {
		sensitivity = 0.9
	}
	return sensitivity * 100
}
