package replay

import (
	"github.com/hazyhaar/horosreplay/replay/internal/config"
	"github.com/hazyhaar/horosreplay/replay/internal/encoder"
	"github.com/hazyhaar/horosreplay/replay/internal/recorder"
	"github.com/hazyhaar/horosreplay/replay/internal/segment"
)

// Config is the recorder configuration. Re-exported from internal.
type Config = config.Config

// RecorderConfig controls serialization and mutation batching.
type RecorderConfig = config.RecorderConfig

// SegmentConfig bounds segments.
type SegmentConfig = config.SegmentConfig

// ThrottleConfig sets the windows of the sampled sources.
type ThrottleConfig = config.ThrottleConfig

// FrustrationConfig sets the rage and dead click policy.
type FrustrationConfig = config.FrustrationConfig

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return config.Default()
}

func controllerConfig(c *Config, sessionID, viewID string) recorder.Config {
	return recorder.Config{
		DefaultLevel:        c.PrivacyLevel(),
		ActionNameAttribute: c.Recorder.ActionNameAttribute,
		MaxMutationBatch:    c.Recorder.MaxMutationBatch,
		Segment: segment.Limits{
			MaxDuration: c.Segment.MaxDuration,
			MaxBytes:    c.Segment.MaxBytes,
		},
		Encoders: encoder.Options{
			Throttle: encoder.Throttle{
				Scroll:         c.Throttle.Scroll,
				MouseMove:      c.Throttle.MouseMove,
				ViewportResize: c.Throttle.ViewportResize,
			},
			Frustration: encoder.FrustrationOptions{
				RageClickCount:    c.Frustration.RageClickCount,
				RageClickWindow:   c.Frustration.RageClickWindow,
				RageClickDistance: c.Frustration.RageClickDistance,
				DeadClickTimeout:  c.Frustration.DeadClickTimeout,
			},
		},
		SessionID: sessionID,
		ViewID:    viewID,
	}
}
