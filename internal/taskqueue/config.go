package taskqueue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the per-key lane configuration. It is copied into the lane on
// registration and never mutated afterwards.
type Config struct {
	// MaxConcurrent is recorded and reported but not enforced: a lane
	// always runs one processor call at a time.
	MaxConcurrent int
	// ProcessingDelay is slept before each item is handed to the processor.
	ProcessingDelay time.Duration
	// MaxQueueSize bounds the number of pending items.
	MaxQueueSize int
	// Timeout is the per-item processing deadline.
	Timeout time.Duration
}

// DefaultConfig returns the queue-wide defaults used when no WithDefaults
// option is given.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   1,
		ProcessingDelay: time.Second,
		MaxQueueSize:    100,
		Timeout:         30 * time.Second,
	}
}

// ConfigOption overrides a single field of a lane configuration.
type ConfigOption func(*Config)

func WithMaxConcurrent(n int) ConfigOption {
	return func(c *Config) { c.MaxConcurrent = n }
}

func WithProcessingDelay(d time.Duration) ConfigOption {
	return func(c *Config) { c.ProcessingDelay = d }
}

func WithMaxQueueSize(n int) ConfigOption {
	return func(c *Config) { c.MaxQueueSize = n }
}

func WithTimeout(d time.Duration) ConfigOption {
	return func(c *Config) { c.Timeout = d }
}

// WithConfig replaces every field at once.
func WithConfig(cfg Config) ConfigOption {
	return func(c *Config) { *c = cfg }
}

// merge applies opts on top of base and clamps out-of-range values back to
// base (or to the package defaults when base itself is invalid).
func merge(base Config, opts ...ConfigOption) Config {
	base = base.normalize(DefaultConfig())
	cfg := base
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg.normalize(base)
}

func (c Config) normalize(fallback Config) Config {
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = fallback.MaxConcurrent
	}
	if c.ProcessingDelay < 0 {
		c.ProcessingDelay = 0
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = fallback.MaxQueueSize
	}
	if c.Timeout <= 0 {
		c.Timeout = fallback.Timeout
	}
	return c
}

type configJSON struct {
	MaxConcurrent   int   `json:"maxConcurrent"`
	ProcessingDelay int64 `json:"processingDelay"`
	MaxQueueSize    int   `json:"maxQueueSize"`
	Timeout         int64 `json:"timeout"`
}

// MarshalJSON encodes durations as integer milliseconds.
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(configJSON{
		MaxConcurrent:   c.MaxConcurrent,
		ProcessingDelay: c.ProcessingDelay.Milliseconds(),
		MaxQueueSize:    c.MaxQueueSize,
		Timeout:         c.Timeout.Milliseconds(),
	})
}

func (c *Config) UnmarshalJSON(b []byte) error {
	var raw configJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = Config{
		MaxConcurrent:   raw.MaxConcurrent,
		ProcessingDelay: time.Duration(raw.ProcessingDelay) * time.Millisecond,
		MaxQueueSize:    raw.MaxQueueSize,
		Timeout:         time.Duration(raw.Timeout) * time.Millisecond,
	}
	return nil
}

// ConfigView is the human-oriented rendering returned by ConfigSummary.
type ConfigView struct {
	MaxConcurrent   int    `json:"maxConcurrent"`
	ProcessingDelay string `json:"processingDelay"`
	MaxQueueSize    int    `json:"maxQueueSize"`
	Timeout         string `json:"timeout"`
}

func (c Config) View() ConfigView {
	return ConfigView{
		MaxConcurrent:   c.MaxConcurrent,
		ProcessingDelay: fmt.Sprintf("%dms", c.ProcessingDelay.Milliseconds()),
		MaxQueueSize:    c.MaxQueueSize,
		Timeout:         fmt.Sprintf("%dms", c.Timeout.Milliseconds()),
	}
}
