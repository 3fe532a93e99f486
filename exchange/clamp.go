package exchange

import "math"

// Clamp limits the magnitude of removal rate q so that no more than available [m³]
// is extracted over dt [s]. The sign of q is preserved; ok is false when q was limited.
func Clamp(q, available, dt float64) (clamped float64, ok bool) {
	if dt <= 0. {
		return q, true
	}
	qmax := math.Max(available, 0.) / dt
	if math.Abs(q) <= qmax {
		return q, true
	}
	return math.Copysign(qmax, q), false
}
