package dualdrain

import (
	"context"
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"
	"github.com/maseology/dualdrain/exchange"
	"github.com/maseology/dualdrain/ledger"
	"github.com/maseology/objfunc"
	"github.com/sirupsen/logrus"
)

// Observer receives a record after every completed coupling step
type Observer interface {
	Observe(StepRecord) error
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(StepRecord) error

func (f ObserverFunc) Observe(r StepRecord) error { return f(r) }

// PointRecord is one exchange point's share of a step. Flows are in the point's convention.
type PointRecord struct {
	Name      string
	Regime    exchange.Regime
	Dh        float64 // network head less surface stage
	Raw       float64
	Smoothed  float64
	Commanded float64
	Realized  float64
	Clamped   bool
}

// StepRecord summarises a completed coupling step
type StepRecord struct {
	Step   int
	Time   float64
	Loss   float64
	Points []PointRecord
}

// PointReport is the end-of-run account of one exchange point. Volumes are m³ moved
// onto the surface; RMSE compares commanded with realised rates.
type PointReport struct {
	Name                string
	Commanded, Realized float64
	RMSE                float64
	Clamps              int
}

// Report is returned when a run ends
type Report struct {
	Steps  int
	Time   float64
	Ledger ledger.Report
	Points []PointReport
	Drift  error // *DriftError when the ledger closed outside tolerance, otherwise nil
}

// Option configures a Coupler
type Option func(*Coupler)

// WithLogger sets the log entry the coupler writes through
func WithLogger(l *logrus.Entry) Option { return func(c *Coupler) { c.log = l } }

// WithMetrics reports step telemetry to m
func WithMetrics(m *Metrics) Option { return func(c *Coupler) { c.mtr = m } }

// WithObserver adds a step observer
func WithObserver(o Observer) Option { return func(c *Coupler) { c.obs = append(c.obs, o) } }

// Coupler steps a surface and a network solver in lockstep, exchanging water through
// its exchange points. It owns all smoothing and ledger state; it is not safe for
// concurrent use, but independent couplers share nothing.
type Coupler struct {
	cfg Config
	sfc Surface
	net Network
	pts []*ExchangePoint
	ldg *ledger.Ledger
	log *logrus.Entry
	mtr *Metrics
	obs []Observer

	k               int     // completed steps
	t, tn           float64 // surface and network time
	bflux, outfall0 float64
	ss              []SurfaceState
	ns              []NetworkState
	q, qr           []float64 // decided and realised flows, network-to-surface positive
	rec             []PointRecord
	vinj, vflood    float64  // injected and flooded volume over the current step
	regions         []*group // exchange regions, then injection-only regions
	junctions       []*group
	failed          error // latched advance failure
}

// NewCoupler validates cfg, builds the exchange points and opens the volume ledger
// against the solvers' current state. Geometry problems fail here, before any step.
func NewCoupler(cfg Config, sfc Surface, net Network, opts ...Option) (*Coupler, error) {
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var errs *multierror.Error
	pts := make([]*ExchangePoint, 0, len(cfg.Points))
	for _, pc := range cfg.Points {
		p, err := newExchangePoint(pc, net)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		pts = append(pts, p)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	n := len(pts)
	c := &Coupler{
		cfg:      cfg,
		sfc:      sfc,
		net:      net,
		pts:      pts,
		ldg:      ledger.New(sfc.WaterVolume(), net.Volume()),
		log:      logrus.NewEntry(logrus.StandardLogger()).WithField("component", "dualdrain"),
		t:        cfg.StartTime,
		tn:       cfg.StartTime,
		bflux:    sfc.BoundaryFluxIntegral(),
		outfall0: net.OutfallVolume(),
		ss:       make([]SurfaceState, n),
		ns:       make([]NetworkState, n),
		q:        make([]float64, n),
		qr:       make([]float64, n),
	}
	c.regions = groupBy(pts, func(p *ExchangePoint) string { return p.Region })
	for _, j := range cfg.Injections {
		if !hasGroup(c.regions, j.Region) {
			c.regions = append(c.regions, &group{name: j.Region})
		}
	}
	c.junctions = groupBy(pts, func(p *ExchangePoint) string { return p.Junction })
	for _, g := range c.junctions {
		st := net.Statistics(g.name)
		g.cum, g.flood = st.FloodingVolume-st.LateralInflowVolume, st.FloodingVolume
	}
	for _, o := range opts {
		o(c)
	}
	if c.mtr != nil {
		c.mtr.register(pts)
	}
	c.log.WithFields(logrus.Fields{
		"points":   n,
		"dt":       cfg.Dt,
		"tau":      cfg.TimeConstant,
		"final":    cfg.FinalTime,
		"baseline": c.ldg.Baseline(),
	}).Info("coupler ready")
	return c, nil
}

// Time is the current coupled simulation time
func (c *Coupler) Time() float64 { return c.t }

// Steps is the number of completed coupling steps
func (c *Coupler) Steps() int { return c.k }

// Done reports whether the final time has been reached
func (c *Coupler) Done() bool { return c.t >= c.cfg.FinalTime-c.cfg.TimeTolerance }

// Points returns the exchange points; callers must not use them while a step is running
func (c *Coupler) Points() []*ExchangePoint { return c.pts }

// Samples returns the ledger loss series
func (c *Coupler) Samples() []ledger.Sample { return c.ldg.Samples() }

// Step performs one sense, decide, act and account cycle. An error leaves the coupled
// state inconsistent: the run must be abandoned, and every later call returns the
// same error.
func (c *Coupler) Step() (StepRecord, error) {
	if c.failed != nil {
		return StepRecord{}, c.failed
	}
	if c.Done() {
		return StepRecord{}, fmt.Errorf("%w: final time %g already reached", ErrInvalidConfig, c.cfg.FinalTime)
	}
	target := c.cfg.StartTime + float64(c.k+1)*c.cfg.Dt
	if target > c.cfg.FinalTime {
		target = c.cfg.FinalTime
	}
	dt := target - c.t

	c.sense()
	c.decide(dt)
	if err := c.act(target, dt); err != nil {
		c.failed = err
		if c.mtr != nil {
			c.mtr.failures.Inc()
		}
		return StepRecord{}, err
	}
	c.account(dt)
	c.k++

	rec := StepRecord{Step: c.k, Time: c.t, Loss: c.ldg.Loss(), Points: c.rec}
	c.rec = nil
	c.observe(rec)
	return rec, nil
}

// Run steps to the final time. ctx is consulted between steps only; a step, once
// started, always completes or fails the run.
func (c *Coupler) Run(ctx context.Context) (Report, error) {
	for !c.Done() {
		if err := ctx.Err(); err != nil {
			return c.Report(), err
		}
		if _, err := c.Step(); err != nil {
			c.log.WithError(err).WithField("step", c.k+1).Error("coupled run halted")
			return c.Report(), err
		}
	}
	r := c.Report()
	l := c.log.WithFields(logrus.Fields{
		"steps":    r.Steps,
		"t":        r.Time,
		"loss":     r.Ledger.FinalLoss,
		"injected": r.Ledger.Injected,
	})
	if r.Drift != nil {
		l.WithError(r.Drift).Warn("run complete with conservation drift")
	} else {
		l.Info("run complete")
	}
	return r, nil
}

// Report summarises the run so far
func (c *Coupler) Report() Report {
	lr := c.ldg.Diagnose(c.cfg.DriftTolerance, c.cfg.GrowthWindow)
	r := Report{
		Steps:  c.k,
		Time:   c.t,
		Ledger: lr,
		Points: make([]PointReport, len(c.pts)),
	}
	for i, p := range c.pts {
		r.Points[i] = PointReport{
			Name:      p.Name,
			Commanded: p.vcmd,
			Realized:  p.vrlz,
			Clamps:    p.clamps,
		}
		if len(p.qcmd) > 0 {
			r.Points[i].RMSE = objfunc.RMSE(p.qcmd, p.qrlz)
		}
	}
	if lr.Drift {
		r.Drift = &DriftError{Loss: lr.FinalLoss, Tolerance: c.cfg.DriftTolerance, Growing: lr.Growing}
	}
	return r
}

func (c *Coupler) observe(rec StepRecord) {
	if c.mtr != nil {
		c.mtr.observe(rec)
	}
	for _, o := range c.obs {
		if err := o.Observe(rec); err != nil {
			c.log.WithError(err).WithField("step", rec.Step).Warn("step observer failed")
		}
	}
	if c.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		c.log.WithFields(logrus.Fields{"step": rec.Step, "t": rec.Time, "loss": rec.Loss}).Debug("coupling step")
	}
	if math.IsNaN(rec.Loss) {
		c.log.WithField("step", rec.Step).Warn("volume ledger is NaN")
	}
}

func hasGroup(gs []*group, name string) bool {
	for _, g := range gs {
		if g.name == name {
			return true
		}
	}
	return false
}
