package sweep

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/maseology/glbopt"
	"github.com/sirupsen/logrus"
)

// penalty scores runs that failed, so the optimiser steers away from them
const penalty = 1e10

// Calibrated is the outcome of a calibration
type Calibrated struct {
	U, X   []float64
	Score  float64
	Evals  int64
	Result Result // rerun at the optimum
}

// Calibrate searches the parameter space for the lowest score: SCE-UA for two
// or more parameters, a Fibonacci search for one. ncomplex defaults to GOMAXPROCS.
func (s *Sweeper) Calibrate(ctx context.Context, ncomplex int) (Calibrated, error) {
	p := len(s.Params)
	if p < 1 {
		return Calibrated{}, fmt.Errorf("sweep.Calibrate: no parameters")
	}
	if s.Scenario == nil {
		return Calibrated{}, fmt.Errorf("sweep.Calibrate: no scenario")
	}
	if ncomplex < 1 {
		ncomplex = runtime.GOMAXPROCS(0)
	}

	var nev int64
	gen := func(u []float64) float64 {
		k := int(atomic.AddInt64(&nev, 1))
		if ctx.Err() != nil {
			return penalty
		}
		r := s.evaluate(ctx, k, append([]float64(nil), u...))
		if r.Err != nil {
			return penalty
		}
		return r.Score
	}

	var (
		uFinal []float64
		score  float64
	)
	if p == 1 {
		u, f := glbopt.Fibonacci(gen)
		uFinal, score = []float64{u}, f
	} else {
		uFinal, score = glbopt.SCE(ncomplex, p, s.rng(), gen, s.Progress)
	}
	if err := ctx.Err(); err != nil {
		return Calibrated{}, err
	}

	c := Calibrated{U: uFinal, X: make([]float64, p), Score: score, Evals: atomic.LoadInt64(&nev)}
	for j, pr := range s.Params {
		c.X[j] = pr.Value(uFinal[j])
	}
	c.Result = s.evaluate(ctx, 0, uFinal)
	f := logrus.Fields{"evals": c.Evals, "score": score}
	for j, pr := range s.Params {
		f[pr.Name] = c.X[j]
	}
	s.logger().WithFields(f).Info("calibration complete")
	return c, c.Result.Err
}
