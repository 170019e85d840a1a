package config

// DetectorConfig configures the four gap indicators.
type DetectorConfig struct {
	// TimeMultiple fires the time indicator when the combined effort of an
	// adjacent pair exceeds this multiple of the plan's per-task median
	// (default: 3.0)
	TimeMultiple float64 `yaml:"time_multiple"`

	// CategoryWindow is how many positions either side of a pair are
	// searched for an intermediate action category (default: 2)
	CategoryWindow int `yaml:"category_window"`

	// SkillFloor is the minimum topical-term similarity below which the
	// skill indicator fires (default: 0.2)
	SkillFloor float64 `yaml:"skill_floor"`

	// MaxHops bounds the transitive path search for the dependency
	// indicator (default: 3)
	MaxHops int `yaml:"max_hops"`
}

// DefaultDetectorConfig returns sensible detection thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		TimeMultiple:   3.0,
		CategoryWindow: 2,
		SkillFloor:     0.2,
		MaxHops:        3,
	}
}

func (c *DetectorConfig) applyDefaults() {
	def := DefaultDetectorConfig()
	if c.TimeMultiple == 0 {
		c.TimeMultiple = def.TimeMultiple
	}
	if c.CategoryWindow == 0 {
		c.CategoryWindow = def.CategoryWindow
	}
	if c.SkillFloor == 0 {
		c.SkillFloor = def.SkillFloor
	}
	if c.MaxHops == 0 {
		c.MaxHops = def.MaxHops
	}
}

// BridgingConfig configures bridging-task candidate generation.
type BridgingConfig struct {
	// MaxParallel bounds concurrent candidate-generation calls to the
	// external generator (default: 4)
	MaxParallel int `yaml:"max_parallel"`

	// DefaultEffortHours is assigned when the generator returns no
	// estimate (default: 2)
	DefaultEffortHours int `yaml:"default_effort_hours"`
}

// DefaultBridgingConfig returns bridging defaults.
func DefaultBridgingConfig() BridgingConfig {
	return BridgingConfig{
		MaxParallel:        4,
		DefaultEffortHours: 2,
	}
}

func (c *BridgingConfig) applyDefaults() {
	def := DefaultBridgingConfig()
	if c.MaxParallel == 0 {
		c.MaxParallel = def.MaxParallel
	}
	if c.DefaultEffortHours == 0 {
		c.DefaultEffortHours = def.DefaultEffortHours
	}
}
