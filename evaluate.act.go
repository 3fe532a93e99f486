package dualdrain

import (
	"fmt"
	"math"
	"time"
)

// act forces and advances both solvers to target: the network first, with the decided
// flows, then the surface, with either the decided or the realised flows. Points that
// share a junction or a region force it with the sum of their flows.
func (c *Coupler) act(target, dt float64) error {
	for _, g := range c.junctions {
		in := 0.
		for _, i := range g.pts {
			in -= c.q[i]
		}
		c.net.GeneratedInflow(g.name, in)
	}

	if err := c.advanceNetwork(target); err != nil {
		return err
	}

	c.vflood = 0.
	for _, g := range c.junctions {
		st := c.net.Statistics(g.name)
		cum := st.FloodingVolume - st.LateralInflowVolume
		c.split(g, (cum-g.cum)/dt)
		c.vflood += st.FloodingVolume - g.flood
		g.cum, g.flood = cum, st.FloodingVolume
	}

	rate := make(map[string]float64, len(c.regions))
	c.vinj = 0.
	for _, j := range c.cfg.Injections {
		rate[j.Region] += j.Rate
		c.vinj += j.Rate * dt
	}
	for i, p := range c.pts {
		q := c.q[i]
		if c.cfg.Realized {
			q = c.qr[i]
		}
		rate[p.Region] += q
		c.rec[i].Realized = p.Sign.signed(c.qr[i])
	}
	for _, g := range c.regions {
		c.sfc.SetRate(g.name, rate[g.name])
	}

	return c.advanceSurface(target)
}

// split shares the realised exchange q at a junction among its points in proportion
// to their decided flows, or evenly when those cancel
func (c *Coupler) split(g *group, q float64) {
	if len(g.pts) == 1 {
		c.qr[g.pts[0]] = q
		return
	}
	sum := 0.
	for _, i := range g.pts {
		sum += c.q[i]
	}
	for _, i := range g.pts {
		if sum != 0. {
			c.qr[i] = q * c.q[i] / sum
		} else {
			c.qr[i] = q / float64(len(g.pts))
		}
	}
}

func (c *Coupler) advanceNetwork(target float64) error {
	fail := func(err error) error {
		return &AdvanceError{Solver: "network", Step: c.k + 1, Time: c.t, Target: target, Reached: c.tn, Err: err}
	}
	for i := 0; target-c.tn > c.cfg.TimeTolerance; i++ {
		if i == c.cfg.MaxSubsteps {
			return fail(fmt.Errorf("target not reached after %d requests", i))
		}
		tt := time.Now()
		r, err := c.net.Advance(target - c.tn)
		c.timeAdvance("network", tt)
		if err != nil {
			return fail(err)
		}
		if r <= c.tn {
			return fail(fmt.Errorf("no progress from t=%g", c.tn))
		}
		c.tn = r
	}
	if c.tn-target > c.cfg.TimeTolerance {
		return fail(fmt.Errorf("overshot by %g", c.tn-target))
	}
	return nil
}

func (c *Coupler) advanceSurface(target float64) error {
	ts := c.t
	fail := func(err error) error {
		return &AdvanceError{Solver: "surface", Step: c.k + 1, Time: c.t, Target: target, Reached: ts, Err: err}
	}
	for i := 0; target-ts > c.cfg.TimeTolerance; i++ {
		if i == c.cfg.MaxSubsteps {
			return fail(fmt.Errorf("target not reached after %d requests", i))
		}
		tt := time.Now()
		r, err := c.sfc.Advance(target)
		c.timeAdvance("surface", tt)
		if err != nil {
			return fail(err)
		}
		if r <= ts || math.IsNaN(r) {
			return fail(fmt.Errorf("no progress from t=%g", ts))
		}
		ts = r
	}
	if ts-target > c.cfg.TimeTolerance {
		return fail(fmt.Errorf("overshot by %g", ts-target))
	}
	c.t = target
	c.tn = target
	return nil
}

func (c *Coupler) timeAdvance(solver string, since time.Time) {
	if c.mtr != nil {
		c.mtr.advance.WithLabelValues(solver).Observe(time.Since(since).Seconds())
	}
}
