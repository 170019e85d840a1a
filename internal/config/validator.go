package config

import "time"

// ValidatorConfig configures the evaluator-optimizer loop.
type ValidatorConfig struct {
	// MaxRepairs caps repair iterations before the best candidate is
	// accepted as needs-review (default: 2)
	MaxRepairs int `yaml:"max_repairs"`

	// CallTimeout bounds one planner call inside the loop (default: 120s)
	CallTimeout string `yaml:"call_timeout"`
}

// DefaultValidatorConfig returns validator defaults.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxRepairs:  2,
		CallTimeout: "120s",
	}
}

func (c *ValidatorConfig) applyDefaults() {
	def := DefaultValidatorConfig()
	if c.MaxRepairs == 0 {
		c.MaxRepairs = def.MaxRepairs
	}
	if c.CallTimeout == "" {
		c.CallTimeout = def.CallTimeout
	}
}

// CallTimeoutDuration parses the call timeout, falling back to the
// default on a malformed value.
func (c *ValidatorConfig) CallTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.CallTimeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// PlannerConfig configures the external generative planner.
type PlannerConfig struct {
	// Provider selects the planner backend: genai or none (default: genai)
	Provider string `yaml:"provider"`

	// APIKey is normally supplied via TASKLOOM_API_KEY or GEMINI_API_KEY
	APIKey string `yaml:"api_key"`

	// Model is the generation model (default: gemini-2.0-flash)
	Model string `yaml:"model"`

	// Timeout bounds one completion call (default: 120s)
	Timeout string `yaml:"timeout"`
}

// DefaultPlannerConfig returns planner defaults.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Provider: "genai",
		Model:    "gemini-2.0-flash",
		Timeout:  "120s",
	}
}

func (c *PlannerConfig) applyDefaults() {
	def := DefaultPlannerConfig()
	if c.Provider == "" {
		c.Provider = def.Provider
	}
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Timeout == "" {
		c.Timeout = def.Timeout
	}
}

// TimeoutDuration parses the planner timeout, falling back to the default
// on a malformed value.
func (c *PlannerConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}
