// Package config handles recorder configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/horosreplay/replay/internal/privacy"
)

// Config is the top-level configuration.
type Config struct {
	Recorder    RecorderConfig    `yaml:"recorder"`
	Segment     SegmentConfig     `yaml:"segment"`
	Throttle    ThrottleConfig    `yaml:"throttle"`
	Frustration FrustrationConfig `yaml:"frustration"`
	Browser     BrowserConfig     `yaml:"browser"`
	Sinks       []SinkConfig      `yaml:"sinks"`
}

// RecorderConfig controls serialization and mutation batching.
type RecorderConfig struct {
	DefaultPrivacyLevel string        `yaml:"default_privacy_level"` // allow | mask | mask-user-input | hidden
	ActionNameAttribute string        `yaml:"action_name_attribute"`
	TickInterval        time.Duration `yaml:"tick_interval"`
	MaxMutationBatch    int           `yaml:"max_mutation_batch"`
}

// SegmentConfig bounds segments.
type SegmentConfig struct {
	MaxDuration time.Duration `yaml:"max_duration"`
	MaxBytes    int           `yaml:"max_bytes"`
}

// ThrottleConfig sets the trailing windows of sampled sources.
type ThrottleConfig struct {
	Scroll         time.Duration `yaml:"scroll"`
	MouseMove      time.Duration `yaml:"mouse_move"`
	ViewportResize time.Duration `yaml:"viewport_resize"`
}

// FrustrationConfig sets the rage and dead click policy.
type FrustrationConfig struct {
	RageClickCount    int           `yaml:"rage_click_count"`
	RageClickWindow   time.Duration `yaml:"rage_click_window"`
	RageClickDistance float64       `yaml:"rage_click_distance"`
	DeadClickTimeout  time.Duration `yaml:"dead_click_timeout"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | sqlite
	Path string `yaml:"path"` // sqlite

	// webhook
	URL     string `yaml:"url"`
	Gzip    bool   `yaml:"gzip"`
	Retries int    `yaml:"retries"` // 0 means the sink default
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero fields. An absent privacy level means mask.
func (c *Config) ApplyDefaults() {
	if c.Recorder.DefaultPrivacyLevel == "" {
		c.Recorder.DefaultPrivacyLevel = privacy.Mask.String()
	}
	if c.Recorder.TickInterval <= 0 {
		c.Recorder.TickInterval = 50 * time.Millisecond
	}
	if c.Recorder.MaxMutationBatch <= 0 {
		c.Recorder.MaxMutationBatch = 10_000
	}
	if c.Segment.MaxDuration <= 0 {
		c.Segment.MaxDuration = 5 * time.Second
	}
	if c.Segment.MaxBytes <= 0 {
		c.Segment.MaxBytes = 256 << 10
	}
	if c.Throttle.Scroll <= 0 {
		c.Throttle.Scroll = 100 * time.Millisecond
	}
	if c.Throttle.MouseMove <= 0 {
		c.Throttle.MouseMove = 50 * time.Millisecond
	}
	if c.Throttle.ViewportResize <= 0 {
		c.Throttle.ViewportResize = 200 * time.Millisecond
	}
	if c.Frustration.RageClickCount <= 0 {
		c.Frustration.RageClickCount = 4
	}
	if c.Frustration.RageClickWindow <= 0 {
		c.Frustration.RageClickWindow = time.Second
	}
	if c.Frustration.RageClickDistance <= 0 {
		c.Frustration.RageClickDistance = 100
	}
	if c.Frustration.DeadClickTimeout <= 0 {
		c.Frustration.DeadClickTimeout = 100 * time.Millisecond
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
}

// PrivacyLevel returns the parsed default privacy level.
func (c *Config) PrivacyLevel() privacy.Level {
	l, err := privacy.ParseLevel(c.Recorder.DefaultPrivacyLevel)
	if err != nil {
		return privacy.Mask
	}
	return l
}

// Validate rejects settings no component can honour.
func (c *Config) Validate() error {
	if _, err := privacy.ParseLevel(c.Recorder.DefaultPrivacyLevel); err != nil {
		return fmt.Errorf("config: recorder.default_privacy_level: %w", err)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs url", i)
			}
		case "sqlite":
			if s.Path == "" {
				return fmt.Errorf("config: sinks[%d]: sqlite needs path", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth: unknown mode %q", c.Browser.Stealth)
	}
	return nil
}
