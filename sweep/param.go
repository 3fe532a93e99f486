package sweep

import (
	"fmt"

	"github.com/maseology/dualdrain"
	"github.com/maseology/mmaths"
)

// Param is a coupling setting varied over [Lo, Hi]. Log spaces samples
// logarithmically.
type Param struct {
	Name string  `yaml:"name"`
	Lo   float64 `yaml:"lo"`
	Hi   float64 `yaml:"hi"`
	Log  bool    `yaml:"log"`
}

// Value maps a unit sample to the parameter range
func (p Param) Value(u float64) float64 {
	if p.Log {
		return mmaths.LogLinearTransform(p.Lo, p.Hi, u)
	}
	return mmaths.LinearTransform(p.Lo, p.Hi, u)
}

// Names understood by Apply. Point settings are applied to every exchange point.
var Names = []string{"time_constant", "warmup", "safety_factor", "free_weir", "submerged_weir", "orifice", "threshold"}

// Apply returns a copy of cfg with parameter values x set
func Apply(cfg dualdrain.Config, ps []Param, x []float64) (dualdrain.Config, error) {
	if len(ps) != len(x) {
		return cfg, fmt.Errorf("sweep.Apply: %d parameters, %d values", len(ps), len(x))
	}
	pts := make([]dualdrain.PointConfig, len(cfg.Points))
	copy(pts, cfg.Points)
	cfg.Points = pts
	for i, p := range ps {
		v := x[i]
		switch p.Name {
		case "time_constant":
			if v < cfg.Dt {
				v = 0. // below one step the filter is off
			}
			cfg.TimeConstant = v
		case "warmup":
			cfg.Warmup = v
		case "safety_factor":
			cfg.SafetyFactor = v
		case "free_weir", "submerged_weir", "orifice", "threshold":
			for j := range cfg.Points {
				pc := &cfg.Points[j]
				switch p.Name {
				case "free_weir":
					pc.FreeWeir = v
				case "submerged_weir":
					pc.SubWeir = v
				case "orifice":
					pc.Orifice = v
				case "threshold":
					th := v
					pc.Threshold = &th
				}
			}
		default:
			return cfg, fmt.Errorf("sweep.Apply: unknown parameter %q", p.Name)
		}
	}
	return cfg, nil
}
