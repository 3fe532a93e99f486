package dualdrain

import (
	"github.com/maseology/dualdrain/exchange"
	"github.com/sirupsen/logrus"
)

// decide computes, smooths and limits the exchange flow at every point. Flows in
// c.q are network-to-surface positive regardless of the point convention.
func (c *Coupler) decide(dt float64) {
	warm := c.t-c.cfg.StartTime < c.cfg.Warmup // the two solvers have yet to settle
	c.rec = make([]PointRecord, len(c.pts))
	for i, p := range c.pts {
		f := exchange.Compute(c.ns[i].Head, c.ss[i].Depth, p.Opening)
		c.rec[i] = PointRecord{Name: p.Name, Regime: f.Regime, Dh: f.Dh, Raw: p.Sign.signed(f.Q)}
		c.q[i] = 0.
		if !warm {
			c.rec[i].Smoothed = exchange.Smooth(c.rec[i].Raw, p.prev, dt, c.cfg.TimeConstant)
			c.q[i] = p.Sign.signed(c.rec[i].Smoothed)
		}
	}
	if c.cfg.Clamp && !warm {
		for _, g := range c.regions {
			c.limit(g, dt)
		}
	}
	for i, p := range c.pts {
		p.prev = p.Sign.signed(c.q[i])
		c.rec[i].Commanded = p.prev
	}
}

// limit scales back every point draining region g, so that together they remove no
// more than the safety fraction of the region volume within dt
func (c *Coupler) limit(g *group, dt float64) {
	if len(g.pts) == 0 {
		return
	}
	out := 0.
	for _, i := range g.pts {
		if c.q[i] < 0. {
			out += c.q[i]
		}
	}
	if out == 0. {
		return
	}
	vol := c.ss[g.pts[0]].Volume
	lim, ok := exchange.Clamp(out, c.cfg.SafetyFactor*vol, dt)
	if ok {
		return
	}
	f := lim / out
	for _, i := range g.pts {
		if c.q[i] >= 0. {
			continue
		}
		p, req := c.pts[i], c.q[i]
		c.q[i] *= f
		c.rec[i].Clamped = true
		p.clamps++
		c.log.WithFields(logrus.Fields{
			"point":     p.Name,
			"region":    g.name,
			"step":      c.k + 1,
			"requested": p.Sign.signed(req),
			"limited":   p.Sign.signed(c.q[i]),
			"available": vol,
		}).Warn("exchange limited to available surface volume")
	}
}
