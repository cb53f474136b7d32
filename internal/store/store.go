package store

import (
	"sync/atomic"

	"github.com/nvmlab/go-ftl/internal/types"
)

// Store holds the full physical inventory: every pool, every block, and
// every append point, indexed for O(1) address resolution.
type Store struct {
	geo    types.Geometry
	pools  []*Pool
	blocks []*Block
	aps    []*AP

	nextAP atomic.Uint32
}

// New builds the store for a validated geometry. Every AP starts with a
// block taken from its pool's free list.
func New(geo types.Geometry) (*Store, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		geo:    geo,
		pools:  make([]*Pool, geo.NrPools),
		blocks: make([]*Block, 0, geo.NrBlocks()),
		aps:    make([]*AP, 0, geo.NrAPs()),
	}
	for i := range s.pools {
		p := NewPool(i, geo)
		s.pools[i] = p
		p.mu.Lock()
		s.blocks = append(s.blocks, p.free...)
		p.mu.Unlock()
	}
	apID := 0
	for _, p := range s.pools {
		for j := 0; j < geo.NrApsPerPool; j++ {
			ap := &AP{ID: apID, Pool: p}
			b := p.GetBlock(true)
			if b == nil {
				return nil, types.Integrityf("pool %d has no free block for append point %d", p.ID, apID)
			}
			ap.SetCurrent(b)
			s.aps = append(s.aps, ap)
			apID++
		}
	}
	return s, nil
}

// Geometry returns the construction geometry.
func (s *Store) Geometry() types.Geometry { return s.geo }

// Pools returns all pools in id order.
func (s *Store) Pools() []*Pool { return s.pools }

// Pool returns one pool by id.
func (s *Store) Pool(id int) *Pool { return s.pools[id] }

// APs returns all append points in id order.
func (s *Store) APs() []*AP { return s.aps }

// AP returns one append point by id.
func (s *Store) AP(id int) *AP { return s.aps[id] }

// PoolAPs returns the append points of one pool.
func (s *Store) PoolAPs(poolID int) []*AP {
	k := s.geo.NrApsPerPool
	return s.aps[poolID*k : (poolID+1)*k]
}

// Block returns one block by global id.
func (s *Store) Block(id int) *Block { return s.blocks[id] }

// BlockOf returns the block owning a physical address.
func (s *Store) BlockOf(p types.Addr) *Block {
	return s.blocks[s.geo.AddrToBlock(p)]
}

// PoolOf returns the pool owning a physical address.
func (s *Store) PoolOf(p types.Addr) *Pool {
	return s.pools[s.geo.PoolOfAddr(p)]
}

// NextAP picks an append point round-robin across the whole device.
func (s *Store) NextAP() *AP {
	n := s.nextAP.Add(1) - 1
	return s.aps[int(n)%len(s.aps)]
}

// TotalFree sums free blocks across all pools.
func (s *Store) TotalFree() int {
	n := 0
	for _, p := range s.pools {
		n += p.NrFree()
	}
	return n
}

// SetRelease installs the zero-reference hook on every block.
func (s *Store) SetRelease(f ReleaseFunc) {
	for _, b := range s.blocks {
		b.SetRelease(f)
	}
}
