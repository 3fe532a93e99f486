package exchange

import "math"

// Flow is an instantaneous exchange rate [m³/s] tagged with the regime that produced it.
// Q > 0 moves water from the network onto the surface.
type Flow struct {
	Regime Regime
	Q      float64
	Dh     float64 // driving head difference, network head less surface stage [m]
}

// Compute returns the exchange flow through opening o given the junction head and the
// average surface depth above the opening invert.
//
//	Δh = head − (invert + depth)
//
// The regime is an orifice when the surface depth exceeds the submergence threshold,
// otherwise a weir: submerged when the downstream side stands above the crest, free
// when it does not. No time integration is done here; limiting a removal to the
// volume available within a step is left to the caller.
func Compute(networkHead, surfaceDepth float64, o Opening) Flow {
	d := math.Max(surfaceDepth, 0.)
	dh := networkHead - (o.Invert + d)
	if dh == 0. || (dh < 0. && d <= 0.) { // nothing to drive flow, or a dry surface source
		return Flow{Regime: None, Dh: dh}
	}

	hn := math.Max(networkHead-o.Invert, 0.) // network water over the crest
	hu, hd := d, hn                          // upstream and downstream depths over the crest
	if dh > 0. {
		hu, hd = hn, d
	}

	adh := math.Abs(dh)
	var f Flow
	switch {
	case d > o.Threshold:
		f = Flow{Regime: Orifice, Q: o.Co * o.Area * math.Sqrt(2.*grav*adh)}
	case hd > 0.:
		f = Flow{Regime: SubmergedWeir, Q: o.Csw * o.WeirLength * hu * math.Sqrt(2.*grav*adh)}
	default:
		h := math.Min(adh, hu)
		f = Flow{Regime: FreeWeir, Q: o.Cfw * o.WeirLength * math.Pow(h, 1.5)}
	}
	if dh < 0. {
		f.Q = -f.Q
	}
	f.Dh = dh
	return f
}

// ComputeAll evaluates Compute for every opening; heads and depths are indexed alongside ops.
func ComputeAll(ops []Opening, heads, depths []float64) []Flow {
	out := make([]Flow, len(ops))
	for i, o := range ops {
		out[i] = Compute(heads[i], depths[i], o)
	}
	return out
}
