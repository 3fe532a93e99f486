// Package ledger keeps the running volume account of a coupled surface/network run.
// It is a monitoring sink: nothing it holds is fed back into either solver.
package ledger

import "math"

// Sample is one entry of the loss time series
type Sample struct {
	T, Loss float64
}

// Ledger accumulates volumes [m³] across both solvers. The conservation identity is
//
//	surface + network + outfall = baseline + injected + boundary
//
// and Loss returns the right-hand side less the left.
type Ledger struct {
	baseline                  float64 // volume stored in both solvers when the ledger was opened
	injected, boundary, flood float64 // cumulative
	surface, network, outfall float64 // latest state
	samples                   []Sample
}

// New opens a ledger given the initial surface and network stored volumes
func New(surface0, network0 float64) *Ledger {
	return &Ledger{
		baseline: surface0 + network0,
		surface:  surface0,
		network:  network0,
	}
}

// Update records post-step state at time t. injectedInc and boundaryInc are the
// volumes added over the step by external injection and across the surface domain
// boundary (positive into the domain).
func (l *Ledger) Update(t, surfaceVol, networkVol, outfallVol, injectedInc, boundaryInc float64) {
	l.surface, l.network, l.outfall = surfaceVol, networkVol, outfallVol
	l.injected += injectedInc
	l.boundary += boundaryInc
	l.samples = append(l.samples, Sample{T: t, Loss: l.Loss()})
}

// AddFlooding accumulates junction flooding volume; reported only, flooding moves water
// between the two solvers and does not enter the identity.
func (l *Ledger) AddFlooding(v float64) { l.flood += v }

// Loss is the volume unaccounted for
func (l *Ledger) Loss() float64 {
	return l.baseline + l.injected + l.boundary - (l.surface + l.network + l.outfall)
}

func (l *Ledger) Injected() float64 { return l.injected }
func (l *Ledger) Boundary() float64 { return l.boundary }
func (l *Ledger) Flooding() float64 { return l.flood }
func (l *Ledger) Baseline() float64 { return l.baseline }

// Samples returns a copy of the loss series
func (l *Ledger) Samples() []Sample {
	out := make([]Sample, len(l.samples))
	copy(out, l.samples)
	return out
}

// Report summarises the ledger at the end of a run
type Report struct {
	Baseline, Injected, Boundary, Flooding float64
	Surface, Network, Outfall              float64
	FinalLoss, MaxAbsLoss                  float64
	Growing, Drift                         bool
	Samples                                int
}

// Diagnose reports the ledger state. Drift is set when |loss| exceeds tol; Growing when
// |loss| has risen monotonically over the last window samples and exceeds tol, which
// points at a coupling or unit defect rather than discretisation error.
func (l *Ledger) Diagnose(tol float64, window int) Report {
	r := Report{
		Baseline:  l.baseline,
		Injected:  l.injected,
		Boundary:  l.boundary,
		Flooding:  l.flood,
		Surface:   l.surface,
		Network:   l.network,
		Outfall:   l.outfall,
		FinalLoss: l.Loss(),
		Samples:   len(l.samples),
	}
	for _, s := range l.samples {
		if a := math.Abs(s.Loss); a > r.MaxAbsLoss {
			r.MaxAbsLoss = a
		}
	}
	r.Drift = math.Abs(r.FinalLoss) > tol
	r.Growing = l.growing(tol, window)
	return r
}

func (l *Ledger) growing(tol float64, window int) bool {
	n := len(l.samples)
	if window < 2 || n < window {
		return false
	}
	s := l.samples[n-window:]
	for i := 1; i < len(s); i++ {
		if math.Abs(s[i].Loss) <= math.Abs(s[i-1].Loss) {
			return false
		}
	}
	return math.Abs(s[len(s)-1].Loss) > tol
}
