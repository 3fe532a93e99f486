package dualdrain

import "math"

// fakeSurface reports fixed depths. When ideal, imposed rates change region
// volumes exactly; otherwise it holds nothing and ignores them.
type fakeSurface struct {
	depth  map[string]float64
	vol    map[string]float64
	rate   map[string]float64
	t      float64
	ideal  bool
	stride float64
	fail   error
	calls  int
}

func newFakeSurface(ideal bool) *fakeSurface {
	return &fakeSurface{
		depth: map[string]float64{},
		vol:   map[string]float64{},
		rate:  map[string]float64{},
		ideal: ideal,
	}
}

func (s *fakeSurface) AverageDepth(r string) float64 { return s.depth[r] }
func (s *fakeSurface) AverageStage(r string) float64 { return s.depth[r] }
func (s *fakeSurface) RegionVolume(r string) float64 { return s.vol[r] }
func (s *fakeSurface) BoundaryFluxIntegral() float64 { return 0. }
func (s *fakeSurface) SetRate(r string, q float64)   { s.rate[r] = q }

func (s *fakeSurface) WaterVolume() float64 {
	v := 0.
	for _, x := range s.vol {
		v += x
	}
	return v
}

func (s *fakeSurface) Advance(until float64) (float64, error) {
	s.calls++
	if s.fail != nil {
		return s.t, s.fail
	}
	next := until
	if s.stride > 0. {
		next = math.Min(until, s.t+s.stride)
	}
	if s.ideal {
		for r, q := range s.rate {
			s.vol[r] += q * (next - s.t)
		}
	}
	s.t = next
	return s.t, nil
}

// fakeNetwork holds fixed heads. When ideal, it takes up the fraction accept of
// every generated inflow into its volume and lateral statistics.
type fakeNetwork struct {
	head   map[string]float64
	inv    map[string]float64
	lat    map[string]float64
	vlat   map[string]float64
	vol    float64
	t      float64
	ideal  bool
	accept float64
	stride float64
	stall  bool
	fail   error
	calls  int
}

func newFakeNetwork(ideal bool) *fakeNetwork {
	return &fakeNetwork{
		head:   map[string]float64{},
		inv:    map[string]float64{},
		lat:    map[string]float64{},
		vlat:   map[string]float64{},
		ideal:  ideal,
		accept: 1.,
	}
}

func (n *fakeNetwork) Head(j string) float64            { return n.head[j] }
func (n *fakeNetwork) InvertElevation(j string) float64 { return n.inv[j] }
func (n *fakeNetwork) SurchargeDepth(string) float64    { return 0. }
func (n *fakeNetwork) Volume() float64                  { return n.vol }
func (n *fakeNetwork) OutfallVolume() float64           { return 0. }
func (n *fakeNetwork) GeneratedInflow(j string, q float64) {
	n.lat[j] = q
}

func (n *fakeNetwork) Statistics(j string) JunctionStats {
	return JunctionStats{LateralInflowVolume: n.vlat[j]}
}

func (n *fakeNetwork) Advance(dt float64) (float64, error) {
	n.calls++
	if n.fail != nil {
		return n.t, n.fail
	}
	if n.stall {
		return n.t, nil
	}
	if n.stride > 0. {
		dt = math.Min(dt, n.stride)
	}
	if n.ideal {
		for j, q := range n.lat {
			v := n.accept * q * dt
			n.vlat[j] += v
			n.vol += v
		}
	}
	n.t += dt
	return n.t, nil
}
