package dualdrain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidGeometry flags an exchange point with unusable opening geometry
	ErrInvalidGeometry = errors.New("dualdrain: invalid exchange geometry")

	// ErrInvalidConfig flags configuration that cannot drive a coupled run
	ErrInvalidConfig = errors.New("dualdrain: invalid configuration")

	// ErrSolverAdvance indicates a solver could not reach the coupling time; the run is unrecoverable
	ErrSolverAdvance = errors.New("dualdrain: solver failed to advance")

	// ErrConservationDrift indicates the volume ledger closed outside tolerance
	ErrConservationDrift = errors.New("dualdrain: conservation drift")
)

// GeometryError names the exchange point and field at fault
type GeometryError struct {
	Point string
	Err   error
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("exchange point %q: %v", e.Point, e.Err)
}

func (e *GeometryError) Unwrap() []error { return []error{ErrInvalidGeometry, e.Err} }

// AdvanceError records where in the run a solver failed
type AdvanceError struct {
	Solver                string // "surface" or "network"
	Step                  int
	Time, Target, Reached float64
	Err                   error
}

func (e *AdvanceError) Error() string {
	return fmt.Sprintf("%s solver, step %d (t=%g): requested %g, reached %g: %v", e.Solver, e.Step, e.Time, e.Target, e.Reached, e.Err)
}

func (e *AdvanceError) Unwrap() []error { return []error{ErrSolverAdvance, e.Err} }

// DriftError is the end-of-run conservation diagnostic
type DriftError struct {
	Loss, Tolerance float64
	Growing         bool
}

func (e *DriftError) Error() string {
	s := fmt.Sprintf("volume loss %.6g m³ exceeds tolerance %.6g m³", e.Loss, e.Tolerance)
	if e.Growing {
		s += " and is still growing"
	}
	return s
}

func (e *DriftError) Unwrap() error { return ErrConservationDrift }
