package dualdrain

import (
	"context"
	"errors"
	"testing"

	"github.com/maseology/dualdrain/exchange"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 { return &v }

// literalPoint is a single free-weir inlet: L=2, A=2, Cfw=1.6, threshold 0, invert 0
func literalPoint() PointConfig {
	return PointConfig{
		Name:       "P1",
		Region:     "r1",
		Junction:   "J1",
		Area:       2.,
		WeirLength: 2.,
		Invert:     fp(0.),
		FreeWeir:   1.6,
		SubWeir:    1.,
		Orifice:    .6,
		Threshold:  fp(0.),
	}
}

func testConfig(final float64, pts ...PointConfig) Config {
	cfg := DefaultConfig()
	cfg.FinalTime = final
	cfg.Points = pts
	return cfg
}

func newTestCoupler(t *testing.T, cfg Config, sfc Surface, net Network, opts ...Option) (*Coupler, *test.Hook) {
	t.Helper()
	l, hook := test.NewNullLogger()
	c, err := NewCoupler(cfg, sfc, net, append([]Option{WithLogger(logrus.NewEntry(l))}, opts...)...)
	require.NoError(t, err)
	return c, hook
}

func TestZeroSolversTrackInjection(t *testing.T) {
	cfg := testConfig(5., literalPoint())
	cfg.Injections = []Injection{{Region: "r2", Rate: .5}}
	c, _ := newTestCoupler(t, cfg, newFakeSurface(false), newFakeNetwork(false))

	r, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, r.Steps)
	assert.InDelta(t, 5., r.Time, 1e-12)
	assert.InDelta(t, 2.5, r.Ledger.Injected, 1e-12)
	assert.InDelta(t, 2.5, r.Ledger.FinalLoss, 1e-12)

	require.Error(t, r.Drift)
	assert.ErrorIs(t, r.Drift, ErrConservationDrift)
	var de *DriftError
	require.ErrorAs(t, r.Drift, &de)
	assert.InDelta(t, 2.5, de.Loss, 1e-12)

	ss := c.Samples()
	require.Len(t, ss, 5)
	for i, s := range ss {
		assert.InDelta(t, .5*float64(i+1), s.Loss, 1e-12)
	}
}

func TestLiteralFreeWeirStep(t *testing.T) {
	sfc, net := newFakeSurface(false), newFakeNetwork(false)
	net.head["J1"] = 1.
	c, _ := newTestCoupler(t, testConfig(10., literalPoint()), sfc, net)

	rec, err := c.Step()
	require.NoError(t, err)
	require.Len(t, rec.Points, 1)
	p := rec.Points[0]
	assert.Equal(t, exchange.FreeWeir, p.Regime)
	assert.InDelta(t, 1., p.Dh, 1e-12)
	assert.InDelta(t, 3.2, p.Raw, 1e-12)
	assert.InDelta(t, .32, p.Smoothed, 1e-12)
	assert.InDelta(t, .32, p.Commanded, 1e-12)
	assert.InDelta(t, .32, c.Points()[0].Smoothed(), 1e-12)

	// network gives up the commanded flow, surface receives it
	assert.InDelta(t, -.32, net.lat["J1"], 1e-12)
	assert.InDelta(t, .32, sfc.rate["r1"], 1e-12)

	rec, err = c.Step()
	require.NoError(t, err)
	assert.InDelta(t, (9.*.32+3.2)/10., rec.Points[0].Smoothed, 1e-12)
}

func TestIntoNetworkConvention(t *testing.T) {
	pc := literalPoint()
	pc.Convention = "into_network"
	net := newFakeNetwork(false)
	net.head["J1"] = 1.
	c, _ := newTestCoupler(t, testConfig(10., pc), newFakeSurface(false), net)

	rec, err := c.Step()
	require.NoError(t, err)
	assert.InDelta(t, -3.2, rec.Points[0].Raw, 1e-12)
	assert.InDelta(t, -.32, rec.Points[0].Commanded, 1e-12)
	assert.InDelta(t, -.32, c.Points()[0].Smoothed(), 1e-12)
	assert.InDelta(t, -.32, net.lat["J1"], 1e-12)
}

func TestInvalidGeometryFailsAtSetup(t *testing.T) {
	bad := literalPoint()
	bad.Name, bad.Area = "P2", 0.
	worse := literalPoint()
	worse.Name, worse.WeirLength = "P3", -1.

	_, err := NewCoupler(testConfig(10., literalPoint(), bad, worse), newFakeSurface(false), newFakeNetwork(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
	assert.ErrorIs(t, err, exchange.ErrInvalidGeometry)
	var ge *GeometryError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "P2", ge.Point)
	assert.Contains(t, err.Error(), "P3")
}

func TestInvalidConfigFailsAtSetup(t *testing.T) {
	cfg := testConfig(10., literalPoint())
	cfg.Dt = 0.
	_, err := NewCoupler(cfg, newFakeSurface(false), newFakeNetwork(false))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNetworkAdvanceFailureHalts(t *testing.T) {
	boom := errors.New("boom")
	sfc, net := newFakeSurface(false), newFakeNetwork(false)
	c, _ := newTestCoupler(t, testConfig(10., literalPoint()), sfc, net)
	_, err := c.Step()
	require.NoError(t, err)

	net.fail = boom
	r, err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSolverAdvance)
	assert.ErrorIs(t, err, boom)
	var ae *AdvanceError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "network", ae.Solver)
	assert.Equal(t, 2, ae.Step)
	assert.InDelta(t, 2., ae.Target, 1e-12)
	assert.Equal(t, 1, r.Steps)
	assert.Equal(t, 1, sfc.calls, "surface must not advance once the network has failed")
}

func TestSurfaceAdvanceFailureHalts(t *testing.T) {
	sfc := newFakeSurface(false)
	sfc.fail = errors.New("cfl violated")
	c, _ := newTestCoupler(t, testConfig(10., literalPoint()), sfc, newFakeNetwork(false))
	_, err := c.Step()
	var ae *AdvanceError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "surface", ae.Solver)
	assert.ErrorIs(t, err, ErrSolverAdvance)
}

func TestStalledNetworkHalts(t *testing.T) {
	net := newFakeNetwork(false)
	net.stall = true
	c, _ := newTestCoupler(t, testConfig(10., literalPoint()), newFakeSurface(false), net)
	_, err := c.Step()
	assert.ErrorIs(t, err, ErrSolverAdvance)
	assert.Equal(t, 1, net.calls)
}

func TestPartialAdvanceIsReconciled(t *testing.T) {
	sfc, net := newFakeSurface(false), newFakeNetwork(false)
	net.stride, sfc.stride = .3, .45
	c, _ := newTestCoupler(t, testConfig(3., literalPoint()), sfc, net)

	_, err := c.Step()
	require.NoError(t, err)
	assert.Equal(t, 4, net.calls)
	assert.Equal(t, 3, sfc.calls)
	assert.Equal(t, 1., c.Time())

	r, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, r.Steps)
	assert.Equal(t, 3., r.Time)
}

func TestMaxSubstepsBoundsRequests(t *testing.T) {
	net := newFakeNetwork(false)
	net.stride = .1
	cfg := testConfig(3., literalPoint())
	cfg.MaxSubsteps = 5
	c, _ := newTestCoupler(t, cfg, newFakeSurface(false), net)
	_, err := c.Step()
	assert.ErrorIs(t, err, ErrSolverAdvance)
	assert.Equal(t, 5, net.calls)
}

func TestWarmupSuppressesExchange(t *testing.T) {
	net := newFakeNetwork(false)
	net.head["J1"] = 1.
	cfg := testConfig(10., literalPoint())
	cfg.Warmup = 3.
	c, _ := newTestCoupler(t, cfg, newFakeSurface(false), net)

	for k := 0; k < 3; k++ {
		rec, err := c.Step()
		require.NoError(t, err)
		assert.InDelta(t, 3.2, rec.Points[0].Raw, 1e-12)
		assert.Zero(t, rec.Points[0].Commanded)
		assert.Zero(t, c.Points()[0].Smoothed())
		assert.Zero(t, net.lat["J1"])
	}
	rec, err := c.Step()
	require.NoError(t, err)
	assert.InDelta(t, .32, rec.Points[0].Commanded, 1e-12)
}

func TestClampLimitsSurfaceRemoval(t *testing.T) {
	pc := literalPoint()
	pc.Threshold = fp(5.)
	sfc, net := newFakeSurface(false), newFakeNetwork(false)
	sfc.depth["r1"], sfc.vol["r1"] = 1., .5
	net.head["J1"] = -10.
	cfg := testConfig(10., pc)
	cfg.TimeConstant = 0.
	m := NewMetrics("")
	c, hook := newTestCoupler(t, cfg, sfc, net, WithMetrics(m))

	rec, err := c.Step()
	require.NoError(t, err)
	p := rec.Points[0]
	assert.Equal(t, exchange.FreeWeir, p.Regime)
	assert.InDelta(t, -3.2, p.Raw, 1e-12)
	assert.InDelta(t, -3.2, p.Smoothed, 1e-12)
	assert.InDelta(t, -.5, p.Commanded, 1e-12)
	assert.True(t, p.Clamped)
	assert.InDelta(t, .5, net.lat["J1"], 1e-12)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "P1", hook.LastEntry().Data["point"])
	assert.Equal(t, 1, c.Report().Points[0].Clamps)
}

func TestClampDisabled(t *testing.T) {
	pc := literalPoint()
	pc.Threshold = fp(5.)
	sfc, net := newFakeSurface(false), newFakeNetwork(false)
	sfc.depth["r1"], sfc.vol["r1"] = 1., .5
	net.head["J1"] = -10.
	cfg := testConfig(10., pc)
	cfg.TimeConstant, cfg.Clamp = 0., false
	c, _ := newTestCoupler(t, cfg, sfc, net)
	rec, err := c.Step()
	require.NoError(t, err)
	assert.InDelta(t, -3.2, rec.Points[0].Commanded, 1e-12)
	assert.False(t, rec.Points[0].Clamped)
}

func TestIdealSolversConserveVolume(t *testing.T) {
	sfc, net := newFakeSurface(true), newFakeNetwork(true)
	sfc.vol["r1"], sfc.vol["r2"] = 50., 10.
	net.vol = 20.
	net.head["J1"] = 1.
	cfg := testConfig(40., literalPoint())
	cfg.Injections = []Injection{{Region: "r2", Rate: .25}}
	c, _ := newTestCoupler(t, cfg, sfc, net)

	r, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 80., r.Ledger.Baseline, 1e-12)
	assert.InDelta(t, 10., r.Ledger.Injected, 1e-12)
	assert.InDelta(t, 0., r.Ledger.FinalLoss, 1e-9)
	assert.NoError(t, r.Drift)
	require.Len(t, r.Points, 1)
	assert.InDelta(t, r.Points[0].Commanded, r.Points[0].Realized, 1e-9)
	assert.InDelta(t, 0., r.Points[0].RMSE, 1e-9)
}

func TestRealizedExchangeForcesSurface(t *testing.T) {
	sfc, net := newFakeSurface(true), newFakeNetwork(true)
	net.head["J1"] = 1.
	net.accept = .5
	cfg := testConfig(10., literalPoint())
	cfg.Realized = true
	c, _ := newTestCoupler(t, cfg, sfc, net)

	rec, err := c.Step()
	require.NoError(t, err)
	p := rec.Points[0]
	assert.InDelta(t, .32, p.Commanded, 1e-12)
	assert.InDelta(t, .16, p.Realized, 1e-12)
	assert.InDelta(t, .16, sfc.rate["r1"], 1e-12)
	assert.InDelta(t, 0., c.Report().Ledger.FinalLoss, 1e-12)
}

func TestPartialFinalStep(t *testing.T) {
	cfg := testConfig(2.5, literalPoint())
	cfg.Injections = []Injection{{Region: "r2", Rate: 1.}}
	c, _ := newTestCoupler(t, cfg, newFakeSurface(false), newFakeNetwork(false))
	r, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, r.Steps)
	assert.Equal(t, 2.5, r.Time)
	assert.InDelta(t, 2.5, r.Ledger.Injected, 1e-12)

	_, err = c.Step()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestObserversAndCancellation(t *testing.T) {
	var got []int
	obs := ObserverFunc(func(r StepRecord) error {
		got = append(got, r.Step)
		if r.Step == 2 {
			return errors.New("sink full")
		}
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	stop := ObserverFunc(func(r StepRecord) error {
		if r.Step == 3 {
			cancel()
		}
		return nil
	})
	c, hook := newTestCoupler(t, testConfig(10., literalPoint()), newFakeSurface(false), newFakeNetwork(false), WithObserver(obs), WithObserver(stop))

	r, err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, r.Steps)
	assert.Equal(t, []int{1, 2, 3}, got)

	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["step"] == 2 {
			warned = true
		}
	}
	assert.True(t, warned)
}

// sharedPoints puts two inlets on region r1 (junctions J1 and J2) and a third,
// on region r2, into J2 as well
func sharedPoints() []PointConfig {
	a, b, d := literalPoint(), literalPoint(), literalPoint()
	b.Name, b.Junction = "P2", "J2"
	d.Name, d.Region, d.Junction = "P3", "r2", "J2"
	return []PointConfig{a, b, d}
}

func TestSharedRegionAndJunctionConserveVolume(t *testing.T) {
	sfc, net := newFakeSurface(true), newFakeNetwork(true)
	sfc.vol["r1"], sfc.vol["r2"] = 50., 50.
	net.vol = 100.
	net.head["J1"], net.head["J2"] = 1., 1.
	cfg := testConfig(5., sharedPoints()...)
	cfg.Injections = []Injection{{Region: "r1", Rate: .1}}
	c, _ := newTestCoupler(t, cfg, sfc, net)

	rec, err := c.Step()
	require.NoError(t, err)
	for _, p := range rec.Points {
		assert.InDelta(t, .32, p.Commanded, 1e-12, p.Name)
		assert.InDelta(t, .32, p.Realized, 1e-12, p.Name)
	}
	assert.InDelta(t, .74, sfc.rate["r1"], 1e-12, "both inlets and the injection force r1")
	assert.InDelta(t, .32, sfc.rate["r2"], 1e-12)
	assert.InDelta(t, -.32, net.lat["J1"], 1e-12)
	assert.InDelta(t, -.64, net.lat["J2"], 1e-12, "both inlets feed J2")

	r, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, .5, r.Ledger.Injected, 1e-12)
	assert.InDelta(t, 0., r.Ledger.FinalLoss, 1e-9)
	assert.NoError(t, r.Drift)
	for _, p := range r.Points {
		assert.InDelta(t, p.Commanded, p.Realized, 1e-9, p.Name)
	}
}

func TestSharedJunctionSplitsRealizedExchange(t *testing.T) {
	sfc, net := newFakeSurface(true), newFakeNetwork(true)
	net.head["J1"], net.head["J2"] = 1., 1.
	net.accept = .5
	pts := sharedPoints()
	pts[2].FreeWeir = 3.2 // P3 commands twice as much as P2
	cfg := testConfig(5., pts...)
	cfg.Realized = true
	c, _ := newTestCoupler(t, cfg, sfc, net)

	rec, err := c.Step()
	require.NoError(t, err)
	assert.InDelta(t, .32, rec.Points[1].Commanded, 1e-12)
	assert.InDelta(t, .64, rec.Points[2].Commanded, 1e-12)
	assert.InDelta(t, .16, rec.Points[1].Realized, 1e-12)
	assert.InDelta(t, .32, rec.Points[2].Realized, 1e-12)
	assert.InDelta(t, .32, sfc.rate["r1"], 1e-12)
	assert.InDelta(t, .32, sfc.rate["r2"], 1e-12)

	r, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0., r.Ledger.FinalLoss, 1e-9)
}

func TestClampSharesRegionVolume(t *testing.T) {
	pts := sharedPoints()[:2]
	for i := range pts {
		pts[i].Threshold = fp(5.)
	}
	sfc, net := newFakeSurface(false), newFakeNetwork(false)
	sfc.depth["r1"], sfc.vol["r1"] = 1., .5
	net.head["J1"], net.head["J2"] = -10., -10.
	cfg := testConfig(10., pts...)
	cfg.TimeConstant = 0.
	c, hook := newTestCoupler(t, cfg, sfc, net)

	rec, err := c.Step()
	require.NoError(t, err)
	for _, p := range rec.Points {
		assert.InDelta(t, -3.2, p.Smoothed, 1e-12, p.Name)
		assert.InDelta(t, -.25, p.Commanded, 1e-12, p.Name)
		assert.True(t, p.Clamped, p.Name)
	}
	assert.InDelta(t, .25, net.lat["J1"], 1e-12)
	assert.InDelta(t, .25, net.lat["J2"], 1e-12)
	assert.InDelta(t, -.5, sfc.rate["r1"], 1e-12, "together the inlets remove no more than the region holds")
	warns := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warns++
		}
	}
	assert.Equal(t, 2, warns, "one warning per limited inlet")
	for _, p := range c.Report().Points {
		assert.Equal(t, 1, p.Clamps)
	}
}

func TestFailedStepIsLatched(t *testing.T) {
	boom := errors.New("boom")
	net := newFakeNetwork(false)
	net.fail = boom
	c, _ := newTestCoupler(t, testConfig(10., literalPoint()), newFakeSurface(false), net)

	_, err := c.Step()
	require.ErrorIs(t, err, ErrSolverAdvance)
	calls := net.calls

	net.fail = nil
	_, again := c.Step()
	assert.ErrorIs(t, again, ErrSolverAdvance)
	assert.ErrorIs(t, again, boom)
	assert.Equal(t, calls, net.calls, "a failed coupler must not advance the solvers again")
	assert.Zero(t, c.Steps())

	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}
