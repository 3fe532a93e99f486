package dualdrain

// sense snapshots both solvers at every exchange point
func (c *Coupler) sense() {
	for i, p := range c.pts {
		c.ss[i] = senseSurface(c.sfc, p.Region)
		c.ns[i] = senseNetwork(c.net, p.Junction)
	}
}
