package dualdrain

// Surface is the 2-D overland solver as seen by the coupler. Regions are the
// surface areas draining to/from an opening. Rates are volumetric [m³/s],
// positive adding water to the surface.
type Surface interface {
	AverageDepth(region string) float64
	AverageStage(region string) float64
	RegionVolume(region string) float64
	BoundaryFluxIntegral() float64 // cumulative volume through the domain boundary, positive inward
	WaterVolume() float64
	SetRate(region string, rate float64) // replaces the region's previous rate
	Advance(until float64) (float64, error) // evolve to the yield time until; returns the time reached
}

// JunctionStats are a junction's cumulative statistics [m³] and instantaneous flows [m³/s]
type JunctionStats struct {
	LateralInflowVolume, FloodingVolume float64
	TotalInflow, TotalOutflow           float64
}

// Network is the 1-D pipe network solver as seen by the coupler. Generated inflow
// is volumetric [m³/s], positive into the junction.
type Network interface {
	Head(junction string) float64
	InvertElevation(junction string) float64
	SurchargeDepth(junction string) float64
	Statistics(junction string) JunctionStats
	Volume() float64        // link + node stored volume
	OutfallVolume() float64 // cumulative discharge through outfalls
	GeneratedInflow(junction string, rate float64) // replaces the junction's previous inflow
	Advance(dt float64) (float64, error) // route for dt; returns the time reached
}

// SurfaceState is the surface snapshot at one exchange point
type SurfaceState struct {
	Depth, Stage, Volume float64
}

// NetworkState is the network snapshot at one exchange point
type NetworkState struct {
	Head, Invert, Surcharge float64
	JunctionStats
}

func senseSurface(s Surface, region string) SurfaceState {
	return SurfaceState{
		Depth:  s.AverageDepth(region),
		Stage:  s.AverageStage(region),
		Volume: s.RegionVolume(region),
	}
}

func senseNetwork(n Network, junction string) NetworkState {
	return NetworkState{
		Head:          n.Head(junction),
		Invert:        n.InvertElevation(junction),
		Surcharge:     n.SurchargeDepth(junction),
		JunctionStats: n.Statistics(junction),
	}
}
