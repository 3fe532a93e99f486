package dualdrain

import (
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config holds the named parameters of a coupled run. Times are in seconds.
type Config struct {
	Dt           float64 `yaml:"dt"`            // coupling step
	TimeConstant float64 `yaml:"time_constant"` // smoothing window; 0 disables smoothing
	StartTime    float64 `yaml:"start_time"`
	FinalTime    float64 `yaml:"final_time"`
	Warmup       float64 `yaml:"warmup"` // exchange is suppressed for this long after StartTime

	Clamp        bool    `yaml:"clamp"`         // limit surface removals to the region volume
	SafetyFactor float64 `yaml:"safety_factor"` // fraction of the region volume that may be removed in a step

	Realized bool `yaml:"realized_exchange"` // force the surface with what the network accepted rather than what was commanded

	DriftTolerance float64 `yaml:"drift_tolerance"` // m³
	GrowthWindow   int     `yaml:"growth_window"`
	TimeTolerance  float64 `yaml:"time_tolerance"`
	MaxSubsteps    int     `yaml:"max_substeps"`

	Points     []PointConfig `yaml:"points"`
	Injections []Injection   `yaml:"injections"`
}

// PointConfig describes one exchange point. Invert defaults to the junction invert
// and Threshold to Area/WeirLength when left out.
type PointConfig struct {
	Name       string   `yaml:"name"`
	Region     string   `yaml:"region"`
	Junction   string   `yaml:"junction"`
	Convention string   `yaml:"convention"` // "into_surface" (default) or "into_network"
	Area       float64  `yaml:"area"`
	WeirLength float64  `yaml:"weir_length"`
	Invert     *float64 `yaml:"invert"`
	FreeWeir   float64  `yaml:"free_weir"`
	SubWeir    float64  `yaml:"submerged_weir"`
	Orifice    float64  `yaml:"orifice"`
	Threshold  *float64 `yaml:"threshold"`
}

// Injection is a constant external inflow [m³/s] applied to a surface region
type Injection struct {
	Region string  `yaml:"region"`
	Rate   float64 `yaml:"rate"`
}

// envOverrides are the scalar settings that may be replaced from the environment
type envOverrides struct {
	Dt             float64 `env:"DUALDRAIN_DT"`
	TimeConstant   float64 `env:"DUALDRAIN_TIME_CONSTANT"`
	FinalTime      float64 `env:"DUALDRAIN_FINAL_TIME"`
	Warmup         float64 `env:"DUALDRAIN_WARMUP"`
	Clamp          bool    `env:"DUALDRAIN_CLAMP"`
	Realized       bool    `env:"DUALDRAIN_REALIZED_EXCHANGE"`
	DriftTolerance float64 `env:"DUALDRAIN_DRIFT_TOLERANCE"`
}

// DefaultConfig returns the settings used for anything a configuration file leaves out
func DefaultConfig() Config {
	return Config{
		Dt:             1.,
		TimeConstant:   10.,
		FinalTime:      60.,
		Clamp:          true,
		SafetyFactor:   1.,
		DriftTolerance: 1.,
		GrowthWindow:   10,
		MaxSubsteps:    100,
	}
}

// LoadConfig reads a YAML configuration over the defaults, then applies environment overrides
func LoadConfig(fp string) (Config, error) {
	b, err := os.ReadFile(fp)
	if err != nil {
		return Config{}, fmt.Errorf("LoadConfig: %w", err)
	}
	return ParseConfig(b)
}

// ParseConfig is LoadConfig on an in-memory document
func ParseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("ParseConfig: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, fmt.Errorf("ParseConfig: %w", err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	ov := envOverrides{
		Dt:             c.Dt,
		TimeConstant:   c.TimeConstant,
		FinalTime:      c.FinalTime,
		Warmup:         c.Warmup,
		Clamp:          c.Clamp,
		Realized:       c.Realized,
		DriftTolerance: c.DriftTolerance,
	}
	if err := envdecode.Decode(&ov); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return err
	}
	c.Dt, c.TimeConstant, c.FinalTime, c.Warmup = ov.Dt, ov.TimeConstant, ov.FinalTime, ov.Warmup
	c.Clamp, c.Realized, c.DriftTolerance = ov.Clamp, ov.Realized, ov.DriftTolerance
	return nil
}

func (c *Config) fillDefaults() {
	if c.SafetyFactor == 0. {
		c.SafetyFactor = 1.
	}
	if c.GrowthWindow == 0 {
		c.GrowthWindow = 10
	}
	if c.MaxSubsteps == 0 {
		c.MaxSubsteps = 100
	}
	if c.TimeTolerance == 0. {
		c.TimeTolerance = 1e-6 * c.Dt
	}
}

// Validate checks run settings, collecting every problem found. Opening geometry is
// checked separately when the coupler builds its exchange points.
func (c *Config) Validate() error {
	var errs *multierror.Error
	bad := func(format string, a ...interface{}) {
		errs = multierror.Append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, a...)...))
	}
	if c.Dt <= 0. {
		bad("dt = %g must be positive", c.Dt)
	}
	if c.TimeConstant != 0. && c.TimeConstant < c.Dt {
		bad("time_constant = %g must be 0 or at least dt = %g", c.TimeConstant, c.Dt)
	}
	if c.FinalTime <= c.StartTime {
		bad("final_time = %g must follow start_time = %g", c.FinalTime, c.StartTime)
	}
	if c.Warmup < 0. {
		bad("warmup = %g is negative", c.Warmup)
	}
	if c.SafetyFactor <= 0. || c.SafetyFactor > 1. {
		bad("safety_factor = %g outside (0,1]", c.SafetyFactor)
	}
	if c.DriftTolerance < 0. {
		bad("drift_tolerance = %g is negative", c.DriftTolerance)
	}
	if c.MaxSubsteps < 1 {
		bad("max_substeps = %d must be at least 1", c.MaxSubsteps)
	}
	if len(c.Points) == 0 {
		bad("no exchange points")
	}

	names := make(map[string]bool, len(c.Points))
	for i, p := range c.Points {
		if p.Name == "" {
			bad("point %d has no name", i)
		} else if names[p.Name] {
			bad("duplicate point name %q", p.Name)
		}
		names[p.Name] = true
		if p.Region == "" || p.Junction == "" {
			bad("point %q needs both a region and a junction", p.Name)
		}
		if _, err := parseConvention(p.Convention); err != nil {
			bad("point %q: %v", p.Name, err)
		}
	}
	for i, j := range c.Injections {
		if j.Region == "" {
			bad("injection %d has no region", i)
		}
	}
	return errs.ErrorOrNil()
}
