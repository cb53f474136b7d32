package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvmlab/go-ftl/internal/types"
)

func testGeometry() types.Geometry {
	return types.Geometry{
		NrPools:               2,
		NrBlksPerPool:         4,
		NrPagesPerBlk:         16,
		NrApsPerPool:          1,
		HostPagesPerFlashPage: 1,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(testGeometry())
	require.NoError(t, err)
	return s
}

func TestStoreLayout(t *testing.T) {
	s := newTestStore(t)

	require.Len(t, s.Pools(), 2)
	require.Len(t, s.APs(), 2)

	// Each AP starts with the oldest free block of its pool.
	assert.Equal(t, 0, s.AP(0).Current().ID)
	assert.Equal(t, 4, s.AP(1).Current().ID)
	assert.Equal(t, 3, s.Pool(0).NrFree())
	assert.Equal(t, 3, s.Pool(1).NrFree())

	assert.Same(t, s.Pool(1), s.PoolOf(types.Addr(64)))
	assert.Same(t, s.Block(3), s.BlockOf(types.Addr(50)))
	assert.True(t, s.Pool(0).Owns(types.Addr(63)))
	assert.False(t, s.Pool(0).Owns(types.Addr(64)))
}

func TestStoreNextAPRoundRobin(t *testing.T) {
	s := newTestStore(t)
	first := s.NextAP()
	second := s.NextAP()
	third := s.NextAP()
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.ID, third.ID)
}

func TestPoolFreeListFIFO(t *testing.T) {
	p := NewPool(0, testGeometry())

	a := p.GetBlock(false)
	b := p.GetBlock(false)
	require.Equal(t, 0, a.ID)
	require.Equal(t, 1, b.ID)

	// Returned blocks recycle after the remaining free blocks.
	p.PutBlock(a)
	assert.Equal(t, 2, p.GetBlock(false).ID)
	assert.Equal(t, 3, p.GetBlock(false).ID)

	// The last free block is held back for collection.
	assert.Nil(t, p.GetBlock(false))
	assert.Equal(t, 0, p.GetBlock(true).ID)
	assert.Nil(t, p.GetBlock(true))
}

func TestPoolMaxInvalidPrio(t *testing.T) {
	p := NewPool(0, testGeometry())
	a, b, c := p.GetBlock(false), p.GetBlock(false), p.GetBlock(false)
	p.AddPrio(a)
	p.AddPrio(b)
	p.AddPrio(c)

	// No candidate has invalid pages yet.
	assert.Nil(t, p.MaxInvalidPrio())

	b.Invalidate(0)
	b.Invalidate(1)
	a.Invalidate(0)
	assert.Same(t, b, p.MaxInvalidPrio())

	// Ties go to the lower block id.
	a.Invalidate(1)
	assert.Same(t, a, p.MaxInvalidPrio())

	p.RemovePrio(a)
	assert.Same(t, b, p.MaxInvalidPrio())
}

func TestPoolQuarantine(t *testing.T) {
	p := NewPool(0, testGeometry())
	b := p.GetBlock(false)
	p.Quarantine(b)
	assert.Equal(t, 1, p.NrQuarantined())
	assert.Equal(t, 3, p.NrFree())
}

func TestPoolGCLimit(t *testing.T) {
	geo := testGeometry()
	geo.NrBlksPerPool = 20
	p := NewPool(0, geo)

	assert.False(t, p.BelowGCLimit())
	var got []*Block
	for i := 0; i < 19; i++ {
		got = append(got, p.GetBlock(false))
	}
	assert.True(t, p.BelowGCLimit())
	_ = got
}

func TestBlockAllocSequential(t *testing.T) {
	p := NewPool(0, testGeometry())
	b := p.GetBlock(false)

	for i := 0; i < 16; i++ {
		addr, ok := b.Alloc()
		require.True(t, ok)
		assert.Equal(t, types.Addr(i), addr)
	}
	_, ok := b.Alloc()
	assert.False(t, ok)
	assert.True(t, b.Full())
}

func TestBlockAllocSubdivided(t *testing.T) {
	geo := testGeometry()
	geo.HostPagesPerFlashPage = 2
	p := NewPool(0, geo)
	b := p.GetBlock(false)

	// Host pages fill a flash page before the slot advances.
	a0, _ := b.Alloc()
	a1, _ := b.Alloc()
	assert.Equal(t, types.Addr(0), a0)
	assert.Equal(t, types.Addr(1), a1)
	assert.Equal(t, 1, b.NextSlot())
}

func TestBlockInvalidateCounts(t *testing.T) {
	p := NewPool(0, testGeometry())
	b := p.GetBlock(false)

	assert.True(t, b.Invalidate(3))
	assert.False(t, b.Invalidate(3), "double invalidation must not count twice")
	assert.True(t, b.Invalidate(7))
	assert.Equal(t, 2, b.NrInvalid())
	assert.Equal(t, b.NrInvalid(), b.CountInvalid())
	assert.True(t, b.PageInvalid(3))
	assert.False(t, b.PageInvalid(4))
}

func TestBlockReleaseHook(t *testing.T) {
	p := NewPool(0, testGeometry())
	b := p.GetBlock(false)

	var mu sync.Mutex
	fired := 0
	b.SetRelease(func(*Block) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	b.Take()
	b.Put()
	mu.Lock()
	assert.Equal(t, 0, fired, "hook must wait for the construction reference")
	mu.Unlock()

	b.Put()
	mu.Lock()
	assert.Equal(t, 1, fired)
	mu.Unlock()
}

func TestBlockResetClearsState(t *testing.T) {
	p := NewPool(0, testGeometry())
	b := p.GetBlock(false)
	b.Alloc()
	b.Invalidate(0)
	require.True(t, b.ClaimGC())

	b.Reset()
	assert.Equal(t, 0, b.NrInvalid())
	assert.False(t, b.GCRunning())
	assert.Equal(t, int32(1), b.Refs())
	addr, ok := b.Alloc()
	require.True(t, ok)
	assert.Equal(t, types.Addr(0), addr)
}

func TestAPAllocPageRetiresFullBlocks(t *testing.T) {
	s := newTestStore(t)
	ap := s.AP(0)
	pool := s.Pool(0)

	// Drain everything the host may take: all blocks but the reserve.
	hostBlocks := pool.geo.NrBlksPerPool - GCReserveBlocks
	total := hostBlocks * pool.geo.HostPagesPerBlk()
	seen := make(map[types.Addr]bool)
	for i := 0; i < total; i++ {
		addr, b, ok := ap.AllocPage(false)
		require.True(t, ok, "alloc %d", i)
		require.NotNil(t, b)
		assert.False(t, seen[addr], "address %d handed out twice", addr)
		seen[addr] = true
		b.Put()
	}

	// Host allocation stops at the collection reserve.
	_, _, ok := ap.AllocPage(false)
	assert.False(t, ok)
	assert.Equal(t, GCReserveBlocks, pool.NrFree())
	assert.Equal(t, hostBlocks, pool.NrPrio())

	// Collection may drain the reserve completely.
	for i := 0; i < pool.geo.HostPagesPerBlk(); i++ {
		addr, b, ok := ap.AllocPage(true)
		require.True(t, ok, "gc alloc %d", i)
		assert.False(t, seen[addr], "address %d handed out twice", addr)
		seen[addr] = true
		b.Put()
	}
	_, _, ok = ap.AllocPage(true)
	assert.False(t, ok)
	assert.Equal(t, 0, pool.NrFree())
	assert.Equal(t, pool.geo.NrBlksPerPool, pool.NrPrio())
}

func TestAPNextIsFast(t *testing.T) {
	s := newTestStore(t)
	ap := s.AP(0)

	assert.True(t, ap.NextIsFast(), "fresh block starts on a fast page")
	for i := 0; i < 4; i++ {
		_, b, ok := ap.AllocPage(false)
		require.True(t, ok)
		b.Put()
	}
	assert.False(t, ap.NextIsFast(), "page 4 is a slow page")
}

func TestAPInodeAssociation(t *testing.T) {
	s := newTestStore(t)
	ap := s.AP(0)
	now := time.Now()

	assert.False(t, ap.Stale(now, time.Second))
	ap.Bind(42, now)
	assert.Equal(t, uint64(42), ap.Ino())
	assert.False(t, ap.Stale(now, time.Second))
	assert.True(t, ap.Stale(now.Add(2*time.Second), time.Second))

	ap.Touch(now.Add(2 * time.Second))
	assert.False(t, ap.Stale(now.Add(2*time.Second), time.Second))

	ap.Unbind()
	assert.Equal(t, uint64(0), ap.Ino())
}

func TestAPAccounting(t *testing.T) {
	s := newTestStore(t)
	ap := s.AP(0)

	ap.Account(true, 0)
	ap.Account(true, time.Millisecond)
	ap.Account(false, 0)
	assert.Equal(t, int64(2), ap.IOWrites.Load())
	assert.Equal(t, int64(1), ap.IOReads.Load())
	assert.Equal(t, int64(1), ap.IODelayed.Load())
	assert.Equal(t, int64(time.Millisecond), ap.IOWait.Load())
}
