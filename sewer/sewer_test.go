package sewer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(t *testing.T, opts ...Option) *Network {
	nw, err := New(Layout{
		Junctions: []Junction{
			{Name: "J1", Invert: 8., MaxDepth: 2., Area: 4., Depth0: .5},
			{Name: "J2", Invert: 7., MaxDepth: 2., Area: 4., Pond: .5},
		},
		Conduits: []Conduit{
			{Name: "C1", From: "J1", To: "J2", K: .5},
			{Name: "C2", From: "J2", To: "OF", K: .5},
		},
		Outfalls: []Outfall{{Name: "OF", Invert: 6.}},
	}, 0., .25, opts...)
	require.NoError(t, err)
	return nw
}

func TestNewRejectsBadLayout(t *testing.T) {
	_, err := New(Layout{Junctions: []Junction{{Name: "J", Area: 0., MaxDepth: 1.}}}, 0., 1.)
	assert.Error(t, err)
	_, err = New(Layout{
		Junctions: []Junction{{Name: "J", Area: 1., MaxDepth: 1.}},
		Conduits:  []Conduit{{Name: "C", From: "J", To: "X", K: 1.}},
	}, 0., 1.)
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestQueries(t *testing.T) {
	nw := line(t)
	assert.InDelta(t, 8.5, nw.Head("J1"), 1e-12)
	assert.Equal(t, 8., nw.InvertElevation("J1"))
	assert.Zero(t, nw.SurchargeDepth("J1"))
	assert.InDelta(t, 2., nw.Volume(), 1e-12)
}

func TestAdvanceConservesVolume(t *testing.T) {
	nw := line(t)
	v0 := nw.Volume()
	nw.GeneratedInflow("J1", .4)
	tt, err := nw.Advance(30.)
	require.NoError(t, err)
	assert.Equal(t, 30., tt)

	st1, st2 := nw.Statistics("J1"), nw.Statistics("J2")
	assert.InDelta(t, 12., st1.LateralInflowVolume, 1e-9)
	flood := st1.FloodingVolume + st2.FloodingVolume
	assert.InDelta(t, v0+12., nw.Volume()+nw.OutfallVolume()+flood, 1e-9)
	assert.Greater(t, nw.OutfallVolume(), 0.)
}

func TestWithdrawalLimitedToStorage(t *testing.T) {
	nw := line(t)
	nw.GeneratedInflow("J1", -1.)
	_, err := nw.Advance(10.)
	require.NoError(t, err)
	st := nw.Statistics("J1")
	assert.GreaterOrEqual(t, st.LateralInflowVolume, -2.)
	assert.Less(t, st.LateralInflowVolume, 0.)
	assert.GreaterOrEqual(t, nw.Volume(), 0.)
}

func TestFloodingAboveRimAndPond(t *testing.T) {
	nw := line(t)
	nw.GeneratedInflow("J2", 10.)
	_, err := nw.Advance(5.)
	require.NoError(t, err)
	assert.InDelta(t, 7.+2.5, nw.Head("J2"), 1e-9)
	assert.InDelta(t, .5, nw.SurchargeDepth("J2"), 1e-9)
	assert.Greater(t, nw.Statistics("J2").FloodingVolume, 0.)
}

func TestStrideYieldsEarly(t *testing.T) {
	nw := line(t, WithStride(.4))
	tt, err := nw.Advance(1.)
	require.NoError(t, err)
	assert.InDelta(t, .4, tt, 1e-12)
	tt, err = nw.Advance(.6)
	require.NoError(t, err)
	assert.InDelta(t, .8, tt, 1e-12)
}

func TestUnknownJunction(t *testing.T) {
	nw := line(t)
	nw.GeneratedInflow("nope", 1.)
	assert.Zero(t, nw.Statistics("nope").LateralInflowVolume)
	assert.Zero(t, nw.SurchargeDepth("nope"))
}
