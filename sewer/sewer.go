// Package sewer is a small junction/conduit network model. Junctions are
// prismatic storage nodes; conduits pass flow in proportion to the head
// difference across them; outfalls discharge freely. Volume pushed past a
// junction's rim and pond depth is reported as flooding and leaves the network. It stands in
// for a 1-D dynamic-wave engine in demos, sweeps and tests.
package sewer

import (
	"errors"
	"fmt"
	"math"

	"github.com/maseology/dualdrain"
)

var (
	// ErrUnknownNode is returned when a conduit names a node that does not exist
	ErrUnknownNode = errors.New("sewer: unknown node")

	// ErrUnstable is returned when the routing produces a non-finite state
	ErrUnstable = errors.New("sewer: routing unstable")
)

// Junction is a storage node
type Junction struct {
	Name     string  `yaml:"name"`
	Invert   float64 `yaml:"invert"`    // [m]
	MaxDepth float64 `yaml:"max_depth"` // invert to rim [m]
	Crown    float64 `yaml:"crown"`     // depth above which the junction is surcharged; 0 selects MaxDepth
	Area     float64 `yaml:"area"`      // plan storage area [m²]
	Depth0   float64 `yaml:"depth0"`
	Pond     float64 `yaml:"pond"`      // pressure head [m] the junction can hold above its rim before flooding
}

// Conduit links two nodes; To may name an outfall
type Conduit struct {
	Name string  `yaml:"name"`
	From string  `yaml:"from"`
	To   string  `yaml:"to"`
	K    float64 `yaml:"k"` // conveyance [m²/s]: flow per metre of head difference
}

// Outfall is a free-discharge terminal node
type Outfall struct {
	Name   string  `yaml:"name"`
	Invert float64 `yaml:"invert"`
}

// Layout is the full network description
type Layout struct {
	Junctions []Junction `yaml:"junctions"`
	Conduits  []Conduit  `yaml:"conduits"`
	Outfalls  []Outfall  `yaml:"outfalls"`
}

type node struct {
	Junction
	vol      float64 // [m³]
	lat      float64 // generated inflow [m³/s]
	vlat     float64 // cumulative applied lateral inflow [m³]
	vflood   float64 // cumulative flooding [m³]
	qin, qou float64 // last substep conduit inflow and outflow [m³/s]
}

func (n *node) depth() float64 { return n.vol / n.Area }
func (n *node) head() float64  { return n.Invert + n.depth() }

type link struct {
	Conduit
	fr, to int // to < 0 indexes outfalls as -1-i
}

// Network routes flow through junctions and conduits with an explicit scheme
type Network struct {
	n       []node
	l       []link
	o       []Outfall
	xr      map[string]int
	t, dtmx float64
	stride  float64 // largest time advanced per Advance call; 0 is unbounded
	vout    float64
}

// Option configures a Network
type Option func(*Network)

// WithStride makes every Advance call yield after at most s seconds, the way a
// variable-step routing engine returns before the requested horizon
func WithStride(s float64) Option { return func(nw *Network) { nw.stride = s } }

// New builds a network starting at t0. dtmax bounds the internal routing step; 0 selects .5 s.
func New(lay Layout, t0, dtmax float64, opts ...Option) (*Network, error) {
	if dtmax <= 0. {
		dtmax = .5
	}
	nw := &Network{
		n:    make([]node, len(lay.Junctions)),
		l:    make([]link, len(lay.Conduits)),
		o:    lay.Outfalls,
		xr:   make(map[string]int, len(lay.Junctions)),
		t:    t0,
		dtmx: dtmax,
	}
	for i, j := range lay.Junctions {
		if j.Area <= 0. || j.MaxDepth <= 0. {
			return nil, fmt.Errorf("sewer.New: junction %q needs positive area and max depth", j.Name)
		}
		if _, ok := nw.xr[j.Name]; ok {
			return nil, fmt.Errorf("sewer.New: duplicate junction %q", j.Name)
		}
		if j.Crown <= 0. || j.Crown > j.MaxDepth {
			j.Crown = j.MaxDepth
		}
		if j.Pond < 0. {
			return nil, fmt.Errorf("sewer.New: junction %q has negative pond depth", j.Name)
		}
		if j.Depth0 > j.MaxDepth+j.Pond {
			j.Depth0 = j.MaxDepth + j.Pond
		}
		nw.xr[j.Name] = i
		nw.n[i] = node{Junction: j, vol: math.Max(j.Depth0, 0.) * j.Area}
	}
	xo := make(map[string]int, len(lay.Outfalls))
	for i, o := range lay.Outfalls {
		xo[o.Name] = i
	}
	for i, c := range lay.Conduits {
		if c.K < 0. {
			return nil, fmt.Errorf("sewer.New: conduit %q has negative conveyance", c.Name)
		}
		fr, ok := nw.xr[c.From]
		if !ok {
			return nil, fmt.Errorf("sewer.New: conduit %q: %w %q", c.Name, ErrUnknownNode, c.From)
		}
		to, ok := nw.xr[c.To]
		if !ok {
			o, ok := xo[c.To]
			if !ok {
				return nil, fmt.Errorf("sewer.New: conduit %q: %w %q", c.Name, ErrUnknownNode, c.To)
			}
			to = -1 - o
		}
		nw.l[i] = link{Conduit: c, fr: fr, to: to}
	}
	for _, o := range opts {
		o(nw)
	}
	return nw, nil
}

func (nw *Network) get(junction string) *node {
	if i, ok := nw.xr[junction]; ok {
		return &nw.n[i]
	}
	return nil
}

// Time is the current routing time
func (nw *Network) Time() float64 { return nw.t }

func (nw *Network) Head(junction string) float64 {
	if n := nw.get(junction); n != nil {
		return n.head()
	}
	return 0.
}

func (nw *Network) InvertElevation(junction string) float64 {
	if n := nw.get(junction); n != nil {
		return n.Invert
	}
	return 0.
}

func (nw *Network) SurchargeDepth(junction string) float64 {
	if n := nw.get(junction); n != nil {
		return math.Max(n.depth()-n.Crown, 0.)
	}
	return 0.
}

func (nw *Network) Statistics(junction string) dualdrain.JunctionStats {
	n := nw.get(junction)
	if n == nil {
		return dualdrain.JunctionStats{}
	}
	return dualdrain.JunctionStats{
		LateralInflowVolume: n.vlat,
		FloodingVolume:      n.vflood,
		TotalInflow:         n.qin + math.Max(n.lat, 0.),
		TotalOutflow:        n.qou + math.Max(-n.lat, 0.),
	}
}

func (nw *Network) Volume() float64 {
	v := 0.
	for _, n := range nw.n {
		v += n.vol
	}
	return v
}

func (nw *Network) OutfallVolume() float64 { return nw.vout }

// GeneratedInflow imposes a lateral inflow [m³/s] until changed; negative withdraws
func (nw *Network) GeneratedInflow(junction string, rate float64) {
	if n := nw.get(junction); n != nil {
		n.lat = rate
	}
}

// Advance routes for dt, or for the stride when one is set, and returns the time reached
func (nw *Network) Advance(dt float64) (float64, error) {
	if dt <= 0. || math.IsNaN(dt) {
		return nw.t, nil
	}
	if nw.stride > 0. && dt > nw.stride {
		dt = nw.stride
	}
	until := nw.t + dt
	q := make([]float64, len(nw.l))
	for nw.t < until {
		h := math.Min(nw.dtmx, until-nw.t)
		nw.route(h, q)
		if v := nw.Volume(); math.IsNaN(v) || math.IsInf(v, 0) {
			return nw.t, fmt.Errorf("%w at t = %g", ErrUnstable, nw.t)
		}
		if until-nw.t <= nw.dtmx {
			nw.t = until
		} else {
			nw.t += h
		}
	}
	return nw.t, nil
}

func (nw *Network) route(h float64, q []float64) {
	// lateral inflow; withdrawals limited to stored volume
	for i := range nw.n {
		n := &nw.n[i]
		v := n.lat * h
		if n.vol+v < 0. {
			v = -n.vol
		}
		n.vol += v
		n.vlat += v
		n.qin, n.qou = 0., 0.
	}

	// conduit flows from the heads at the start of the substep
	for i, l := range nw.l {
		hf := nw.n[l.fr].head()
		var ht float64
		if l.to >= 0 {
			ht = nw.n[l.to].head()
		} else {
			ht = nw.o[-1-l.to].Invert
		}
		q[i] = l.K * (hf - ht)
	}

	// limit each node's total outflow to its volume
	out := make([]float64, len(nw.n))
	for i, l := range nw.l {
		if q[i] > 0. {
			out[l.fr] += q[i] * h
		} else if l.to >= 0 {
			out[l.to] -= q[i] * h
		}
	}
	for i, l := range nw.l {
		var src int
		if q[i] > 0. {
			src = l.fr
		} else if l.to >= 0 {
			src = l.to
		} else {
			q[i] = 0. // outfalls do not backflow
			continue
		}
		if out[src] > nw.n[src].vol {
			q[i] *= nw.n[src].vol / out[src]
		}
	}

	for i, l := range nw.l {
		v := q[i] * h
		nw.n[l.fr].vol -= v
		if q[i] > 0. {
			nw.n[l.fr].qou += q[i]
		} else {
			nw.n[l.fr].qin -= q[i]
		}
		if l.to >= 0 {
			nw.n[l.to].vol += v
			if q[i] > 0. {
				nw.n[l.to].qin += q[i]
			} else {
				nw.n[l.to].qou -= q[i]
			}
		} else {
			nw.vout += v
		}
	}

	// spill above the rim and pond
	for i := range nw.n {
		n := &nw.n[i]
		if n.vol < 0. {
			n.vol = 0. // round-off from the proportional limiter
		}
		if vmx := (n.MaxDepth + n.Pond) * n.Area; n.vol > vmx {
			n.vflood += n.vol - vmx
			n.vol = vmx
		}
	}
}
