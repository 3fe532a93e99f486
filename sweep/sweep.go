// Package sweep runs many independent coupled simulations over a parameter
// space: a Latin-hypercube sweep, or an SCE-UA calibration against an objective.
package sweep

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/maseology/dualdrain"
	"github.com/maseology/mmio"
	"github.com/maseology/montecarlo/smpln"
	mrg63k3a "github.com/maseology/pnrg/MRG63k3a"
	"github.com/sirupsen/logrus"
)

// Scenario builds a fresh pair of solvers for one job; jobs never share solvers
type Scenario func() (dualdrain.Surface, dualdrain.Network, error)

// Objective scores a finished run; lower is better
type Objective func(dualdrain.Report) float64

// Result is one evaluated sample
type Result struct {
	K      int
	U, X   []float64 // unit sample and parameter values
	Report dualdrain.Report
	Score  float64
	Err    error
}

// Sweeper holds what every job shares: a base configuration, the varied
// parameters and a way to build solvers
type Sweeper struct {
	Base     dualdrain.Config
	Params   []Param
	Scenario Scenario
	Score    Objective // defaults to ConservationScore
	Workers  int       // defaults to GOMAXPROCS
	Seed     int64     // 0 seeds from the clock
	Progress bool
	Log      *logrus.Entry
}

// ConservationScore is the final ledger loss plus the mean commanded/realised RMSE
func ConservationScore(r dualdrain.Report) float64 {
	s := 0.
	for _, p := range r.Points {
		s += p.RMSE
	}
	if len(r.Points) > 0 {
		s /= float64(len(r.Points))
	}
	return math.Abs(r.Ledger.FinalLoss) + s
}

func (s *Sweeper) rng() *rand.Rand {
	rng := rand.New(mrg63k3a.New())
	if s.Seed == 0 {
		rng.Seed(time.Now().UnixNano())
	} else {
		rng.Seed(s.Seed)
	}
	return rng
}

func (s *Sweeper) logger() *logrus.Entry {
	if s.Log == nil {
		return logrus.WithField("component", "sweep")
	}
	return s.Log
}

func (s *Sweeper) score(r dualdrain.Report) float64 {
	if s.Score == nil {
		return ConservationScore(r)
	}
	return s.Score(r)
}

// evaluate runs one job to completion on its own solvers
func (s *Sweeper) evaluate(ctx context.Context, k int, u []float64) Result {
	res := Result{K: k, U: u, X: make([]float64, len(u)), Score: math.Inf(1)}
	for j, p := range s.Params {
		res.X[j] = p.Value(u[j])
	}
	cfg, err := Apply(s.Base, s.Params, res.X)
	if err != nil {
		res.Err = err
		return res
	}
	sfc, net, err := s.Scenario()
	if err != nil {
		res.Err = fmt.Errorf("sample %d: %w", k, err)
		return res
	}
	c, err := dualdrain.NewCoupler(cfg, sfc, net, dualdrain.WithLogger(s.logger().WithField("sample", k)))
	if err != nil {
		res.Err = fmt.Errorf("sample %d: %w", k, err)
		return res
	}
	if res.Report, err = c.Run(ctx); err != nil {
		res.Err = fmt.Errorf("sample %d: %w", k, err)
		return res
	}
	res.Score = s.score(res.Report)
	return res
}

// Run evaluates n Latin-hypercube samples with a bounded worker pool. Results
// are returned in sample order; failed samples carry their error.
func (s *Sweeper) Run(ctx context.Context, n int) ([]Result, error) {
	p := len(s.Params)
	if n < 1 || p < 1 {
		return nil, fmt.Errorf("sweep.Run: need samples and parameters (n=%d, p=%d)", n, p)
	}
	if s.Scenario == nil {
		return nil, fmt.Errorf("sweep.Run: no scenario")
	}
	nwrkrs := s.Workers
	if nwrkrs < 1 {
		nwrkrs = runtime.GOMAXPROCS(0)
	}

	sp := smpln.NewLHC(s.rng(), n, p, false)

	var bar *uiprogress.Bar
	if s.Progress {
		uiprogress.Start()
		bar = uiprogress.AddBar(n).AppendCompleted().PrependElapsed()
		defer uiprogress.Stop()
	}

	jobs := make(chan int, n)
	out := make([]Result, n)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for w := 0; w < nwrkrs; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range jobs {
				u := make([]float64, p)
				for j := 0; j < p; j++ {
					u[j] = sp.U[j][k]
				}
				out[k] = s.evaluate(ctx, k, u)
				if bar != nil {
					mu.Lock()
					bar.Incr()
					mu.Unlock()
				}
			}
		}()
	}
	for k := 0; k < n; k++ {
		jobs <- k
	}
	close(jobs)
	wg.Wait()

	nfail := 0
	for _, r := range out {
		if r.Err != nil {
			nfail++
			s.logger().WithError(r.Err).WithField("sample", r.K).Warn("sample failed")
		}
	}
	s.logger().WithFields(logrus.Fields{"samples": n, "failed": nfail, "workers": nwrkrs}).Info("sweep complete")
	return out, ctx.Err()
}

// Best returns the lowest-scoring successful result
func Best(rs []Result) (Result, bool) {
	ib := -1
	for i, r := range rs {
		if r.Err == nil && (ib < 0 || r.Score < rs[ib].Score) {
			ib = i
		}
	}
	if ib < 0 {
		return Result{}, false
	}
	return rs[ib], true
}

// WriteResults saves the sample space and scores, one line per sample
func WriteResults(fp string, ps []Param, rs []Result) {
	lns := make([]string, 0, len(rs)+1)
	h := "k"
	for _, p := range ps {
		h += "," + p.Name
	}
	lns = append(lns, h+",score,loss,steps,error")
	for _, r := range rs {
		l := fmt.Sprint(r.K)
		for _, x := range r.X {
			l += fmt.Sprintf(",%f", x)
		}
		e := ""
		if r.Err != nil {
			e = fmt.Sprintf("%q", r.Err.Error())
		}
		l += fmt.Sprintf(",%g,%g,%d,%s", r.Score, r.Report.Ledger.FinalLoss, r.Report.Steps, e)
		lns = append(lns, l)
	}
	mmio.WriteLines(fp, lns)
}
