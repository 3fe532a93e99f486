package exchange

// Smooth is a first-order exponential moving average with averaging window tau [s]
// sampled every dt [s]:
//
//	((tau - dt)*prev + dt*raw) / tau
//
// tau == dt returns raw; tau <= 0 switches smoothing off.
func Smooth(raw, prev, dt, tau float64) float64 {
	if tau <= 0. {
		return raw
	}
	return ((tau-dt)*prev + dt*raw) / tau
}
