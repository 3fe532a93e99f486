// Package bucket is a storage-cell surface model: each region is a flat-bottomed
// reservoir that cascades its mobile storage at a linear rate to a downstream
// region, or out of the domain. It is a stand-in for a 2-D surface solver in
// demos, sweeps and tests, not a shallow-water model.
package bucket

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnknownRegion is returned when a region name is not in the domain
	ErrUnknownRegion = errors.New("bucket: unknown region")

	// ErrBackward is returned when asked to advance to a time already passed
	ErrBackward = errors.New("bucket: cannot advance backward")
)

// Region describes one storage cell
type Region struct {
	Name   string  `yaml:"name"`
	Area   float64 `yaml:"area"`   // plan area [m²]
	Bed    float64 `yaml:"bed"`    // bed elevation [m]
	Depth0 float64 `yaml:"depth0"` // initial depth [m]
	Down   string  `yaml:"down"`   // downstream region; empty drains out of the domain
	K      float64 `yaml:"k"`      // cascade coefficient [1/s]
	Store  float64 `yaml:"store"`  // depression storage [m] held back from the cascade
}

// res simple linear reservoir
type res struct {
	sto float64 // [m³]
	cap float64 // depression storage [m³]
}

// overflow adds p, returning what could not be removed when storage would go negative
func (r *res) overflow(p float64) float64 {
	r.sto += p
	if r.sto < 0. {
		d := r.sto
		r.sto = 0.
		return d
	}
	return 0.
}

// mobile is the volume above depression storage
func (r *res) mobile() float64 { return math.Max(r.sto-r.cap, 0.) }

type cell struct {
	Region
	res
	dn   int     // downstream index, -1 for the domain boundary
	rate float64 // imposed vertical rate [m³/s]
}

// Domain is a set of cascading storage cells
type Domain struct {
	c       []cell
	xr      map[string]int
	t, dtmx float64
	bflux   float64 // cumulative boundary flux, positive inward
	deficit float64 // cumulative removal requested from empty cells
}

// New builds a domain starting at t0. dtmax bounds the internal step; 0 selects 1 s.
func New(regions []Region, t0, dtmax float64) (*Domain, error) {
	if dtmax <= 0. {
		dtmax = 1.
	}
	d := &Domain{
		c:    make([]cell, len(regions)),
		xr:   make(map[string]int, len(regions)),
		t:    t0,
		dtmx: dtmax,
	}
	for i, r := range regions {
		if r.Area <= 0. {
			return nil, fmt.Errorf("bucket.New: region %q has area %g", r.Name, r.Area)
		}
		if _, ok := d.xr[r.Name]; ok {
			return nil, fmt.Errorf("bucket.New: duplicate region %q", r.Name)
		}
		if r.K < 0. || r.Depth0 < 0. || r.Store < 0. {
			return nil, fmt.Errorf("bucket.New: region %q has negative parameters", r.Name)
		}
		d.xr[r.Name] = i
		d.c[i] = cell{Region: r, res: res{sto: r.Depth0 * r.Area, cap: r.Store * r.Area}, dn: -1}
	}
	for i, r := range regions {
		if r.Down == "" {
			continue
		}
		j, ok := d.xr[r.Down]
		if !ok {
			return nil, fmt.Errorf("bucket.New: region %q drains to %w %q", r.Name, ErrUnknownRegion, r.Down)
		}
		if j == i {
			return nil, fmt.Errorf("bucket.New: region %q drains to itself", r.Name)
		}
		d.c[i].dn = j
	}
	return d, nil
}

func (d *Domain) get(region string) *cell {
	if i, ok := d.xr[region]; ok {
		return &d.c[i]
	}
	return nil
}

// Time is the current model time
func (d *Domain) Time() float64 { return d.t }

// Deficit is the cumulative volume requested from cells that had run dry
func (d *Domain) Deficit() float64 { return -d.deficit }

func (d *Domain) AverageDepth(region string) float64 {
	if c := d.get(region); c != nil {
		return c.sto / c.Area
	}
	return 0.
}

func (d *Domain) AverageStage(region string) float64 {
	if c := d.get(region); c != nil {
		return c.Bed + c.sto/c.Area
	}
	return 0.
}

func (d *Domain) RegionVolume(region string) float64 {
	if c := d.get(region); c != nil {
		return c.sto
	}
	return 0.
}

func (d *Domain) BoundaryFluxIntegral() float64 { return d.bflux }

func (d *Domain) WaterVolume() float64 {
	v := 0.
	for _, c := range d.c {
		v += c.sto
	}
	return v
}

// SetRate imposes a vertical rate [m³/s] on region until changed; unknown regions are ignored
func (d *Domain) SetRate(region string, rate float64) {
	if c := d.get(region); c != nil {
		c.rate = rate
	}
}

// Advance steps the cascade to until and returns it
func (d *Domain) Advance(until float64) (float64, error) {
	if math.IsNaN(until) || until < d.t {
		return d.t, fmt.Errorf("%w: t = %g, until = %g", ErrBackward, d.t, until)
	}
	q := make([]float64, len(d.c))
	for d.t < until {
		h := math.Min(d.dtmx, until-d.t)
		for i := range d.c {
			d.deficit += d.c[i].overflow(d.c[i].rate * h)
		}
		for i, c := range d.c {
			q[i] = c.mobile() * math.Min(c.K*h, 1.) // explicit, bounded by the mobile volume
		}
		for i := range d.c {
			d.c[i].sto -= q[i]
			if j := d.c[i].dn; j >= 0 {
				d.c[j].sto += q[i]
			} else {
				d.bflux -= q[i]
			}
		}
		if until-d.t <= d.dtmx {
			d.t = until
		} else {
			d.t += h
		}
	}
	return d.t, nil
}
