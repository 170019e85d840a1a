package config

import "time"

// RankerConfig configures the incremental ranker and its debouncer.
type RankerConfig struct {
	// DebounceWindow is how long a burst of reflection changes is allowed
	// to settle before an adjustment runs (default: 150ms)
	DebounceWindow string `yaml:"debounce_window"`

	// ApplyTimeout bounds a single adjustment from submit to apply
	// (default: 2s)
	ApplyTimeout string `yaml:"apply_timeout"`
}

// DefaultRankerConfig returns ranker defaults.
func DefaultRankerConfig() RankerConfig {
	return RankerConfig{
		DebounceWindow: "150ms",
		ApplyTimeout:   "2s",
	}
}

func (c *RankerConfig) applyDefaults() {
	def := DefaultRankerConfig()
	if c.DebounceWindow == "" {
		c.DebounceWindow = def.DebounceWindow
	}
	if c.ApplyTimeout == "" {
		c.ApplyTimeout = def.ApplyTimeout
	}
}

// DebounceWindowDuration parses the debounce window, falling back to the
// default on a malformed value.
func (c *RankerConfig) DebounceWindowDuration() time.Duration {
	d, err := time.ParseDuration(c.DebounceWindow)
	if err != nil || d <= 0 {
		return 150 * time.Millisecond
	}
	return d
}

// ApplyTimeoutDuration parses the apply timeout, falling back to the
// default on a malformed value.
func (c *RankerConfig) ApplyTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ApplyTimeout)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}
