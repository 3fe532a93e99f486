package dualdrain

import (
	"fmt"

	"github.com/maseology/dualdrain/exchange"
)

// Convention fixes what a positive flow at an exchange point means
type Convention int

const (
	IntoSurface Convention = iota // positive flow surcharges from the junction onto the surface
	IntoNetwork                   // positive flow drains from the surface into the junction
)

func (c Convention) String() string {
	if c == IntoNetwork {
		return "into_network"
	}
	return "into_surface"
}

// signed converts between network-to-surface positive flows and the point convention.
// It is its own inverse.
func (c Convention) signed(q float64) float64 {
	if c == IntoNetwork {
		return -q
	}
	return q
}

func parseConvention(s string) (Convention, error) {
	switch s {
	case "", "into_surface":
		return IntoSurface, nil
	case "into_network":
		return IntoNetwork, nil
	}
	return 0, fmt.Errorf("unknown sign convention %q", s)
}

// ExchangePoint pairs a surface region with a network junction through an opening
type ExchangePoint struct {
	Name, Region, Junction string
	Opening                exchange.Opening
	Sign                   Convention

	prev       float64 // smoothed flow carried between steps, point convention
	clamps     int
	qcmd, qrlz []float64 // commanded and realised surface forcing series
	vcmd, vrlz float64   // cumulative volumes to the surface
}

// Smoothed returns the smoothing state, in the point convention
func (p *ExchangePoint) Smoothed() float64 { return p.prev }

func newExchangePoint(pc PointConfig, net Network) (*ExchangePoint, error) {
	sgn, err := parseConvention(pc.Convention)
	if err != nil {
		return nil, &GeometryError{Point: pc.Name, Err: err}
	}
	inv := net.InvertElevation(pc.Junction)
	if pc.Invert != nil {
		inv = *pc.Invert
	}
	o, err := exchange.NewOpening(pc.Area, pc.WeirLength, inv, pc.FreeWeir, pc.SubWeir, pc.Orifice, pc.Threshold)
	if err != nil {
		return nil, &GeometryError{Point: pc.Name, Err: err}
	}
	return &ExchangePoint{
		Name:     pc.Name,
		Region:   pc.Region,
		Junction: pc.Junction,
		Opening:  o,
		Sign:     sgn,
	}, nil
}

// group gathers the exchange points forcing one surface region or one junction.
// Solvers take a single rate per name, so point flows are summed over a group.
type group struct {
	name       string
	pts        []int
	cum, flood float64 // junctions: last cumulative exchange (flooding less lateral inflow) and flooding volumes
}

// groupBy collects point indices by key, in order of first appearance
func groupBy(pts []*ExchangePoint, key func(*ExchangePoint) string) []*group {
	var gs []*group
	ix := make(map[string]*group)
	for i, p := range pts {
		k := key(p)
		g, ok := ix[k]
		if !ok {
			g = &group{name: k}
			ix[k] = g
			gs = append(gs, g)
		}
		g.pts = append(g.pts, i)
	}
	return gs
}
