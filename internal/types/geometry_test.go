package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGeometry() Geometry {
	return Geometry{
		NrPools:               2,
		NrBlksPerPool:         4,
		NrPagesPerBlk:         16,
		NrApsPerPool:          1,
		HostPagesPerFlashPage: 1,
	}
}

func TestGeometryDerived(t *testing.T) {
	g := testGeometry()
	require.NoError(t, g.Validate())

	assert.Equal(t, 2, g.NrAPs())
	assert.Equal(t, 8, g.NrBlocks())
	assert.Equal(t, 16, g.HostPagesPerBlk())
	assert.Equal(t, int64(128), g.TotalPages())
}

func TestGeometryAddressMath(t *testing.T) {
	g := testGeometry()

	assert.Equal(t, Addr(48), g.BlockToAddr(3))
	assert.Equal(t, 3, g.AddrToBlock(Addr(50)))
	assert.Equal(t, 2, g.PageOffset(Addr(50)))
	assert.Equal(t, 0, g.PoolOfAddr(Addr(50)))
	assert.Equal(t, 1, g.PoolOfAddr(Addr(64)))

	// With one host page per flash page the slot is the page offset.
	assert.Equal(t, 2, g.PhysicalToSlot(Addr(50)))
}

func TestGeometryAddressMathSubdivided(t *testing.T) {
	g := testGeometry()
	g.HostPagesPerFlashPage = 2

	assert.Equal(t, 32, g.HostPagesPerBlk())
	assert.Equal(t, Addr(96), g.BlockToAddr(3))
	assert.Equal(t, 1, g.PhysicalToSlot(Addr(3)))
	assert.Equal(t, 0, g.PhysicalToSlot(Addr(1)))
}

func TestPageIsFast(t *testing.T) {
	g := testGeometry()

	// First four pages fast, then S S F F repeating, last four slow.
	fast := []int{0, 1, 2, 3, 6, 7, 10, 11}
	slow := []int{4, 5, 8, 9, 12, 13, 14, 15}
	for _, p := range fast {
		assert.True(t, g.PageIsFast(p), "page %d", p)
	}
	for _, p := range slow {
		assert.False(t, g.PageIsFast(p), "page %d", p)
	}
}

func TestGeometryValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Geometry)
	}{
		{"no pools", func(g *Geometry) { g.NrPools = 0 }},
		{"no blocks", func(g *Geometry) { g.NrBlksPerPool = 0 }},
		{"pages not power of two", func(g *Geometry) { g.NrPagesPerBlk = 12 }},
		{"no aps", func(g *Geometry) { g.NrApsPerPool = 0 }},
		{"more aps than blocks", func(g *Geometry) { g.NrApsPerPool = 5 }},
		{"bad subdivision", func(g *Geometry) { g.HostPagesPerFlashPage = 3 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := testGeometry()
			tc.mutate(&g)
			assert.Error(t, g.Validate())
		})
	}
}
