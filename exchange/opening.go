package exchange

import (
	"errors"
	"fmt"
)

// gravitational acceleration [m/s²]
const grav = 9.80665

// ErrInvalidGeometry is returned for openings with non-positive area or weir length
var ErrInvalidGeometry = errors.New("exchange: invalid opening geometry")

// Opening describes the hydraulic connection between a surface region and a
// network junction: a grate/manhole of plan area A [m²] with a weir crest of
// length L [m] set at elevation Invert [m].
type Opening struct {
	Area, WeirLength, Invert float64
	Cfw, Csw, Co             float64 // free-weir, submerged-weir and orifice coefficients
	Threshold                float64 // surface depth [m] above which the opening acts as an orifice
}

// NewOpening validates geometry and coefficients. A nil threshold defaults to
// the characteristic depth of the opening, A/L.
func NewOpening(area, weirLength, invert, cfw, csw, co float64, threshold *float64) (Opening, error) {
	if area <= 0. {
		return Opening{}, fmt.Errorf("%w: area = %g", ErrInvalidGeometry, area)
	}
	if weirLength <= 0. {
		return Opening{}, fmt.Errorf("%w: weir length = %g", ErrInvalidGeometry, weirLength)
	}
	if cfw < 0. || csw < 0. || co < 0. {
		return Opening{}, fmt.Errorf("%w: negative coefficient (free weir %g, submerged weir %g, orifice %g)", ErrInvalidGeometry, cfw, csw, co)
	}
	o := Opening{
		Area:       area,
		WeirLength: weirLength,
		Invert:     invert,
		Cfw:        cfw,
		Csw:        csw,
		Co:         co,
		Threshold:  area / weirLength,
	}
	if threshold != nil {
		if *threshold < 0. {
			return Opening{}, fmt.Errorf("%w: submergence threshold = %g", ErrInvalidGeometry, *threshold)
		}
		o.Threshold = *threshold
	}
	return o, nil
}
