package dualdrain

// account feeds post-advance volumes to the ledger and the per-point series
func (c *Coupler) account(dt float64) {
	bf := c.sfc.BoundaryFluxIntegral()
	c.ldg.AddFlooding(c.vflood)
	c.ldg.Update(c.t,
		c.sfc.WaterVolume(),
		c.net.Volume(),
		c.net.OutfallVolume()-c.outfall0,
		c.vinj,
		bf-c.bflux,
	)
	c.bflux = bf

	for i, p := range c.pts {
		p.qcmd = append(p.qcmd, c.q[i])
		p.qrlz = append(p.qrlz, c.qr[i])
		p.vcmd += c.q[i] * dt
		p.vrlz += c.qr[i] * dt
	}
}
