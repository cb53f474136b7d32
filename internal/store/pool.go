package store

import (
	"sync"
	"sync/atomic"

	"github.com/nvmlab/go-ftl/internal/types"
)

// Pool is one flash channel's worth of blocks. Free blocks are recycled in
// FIFO order so wear spreads across the channel; blocks whose append point
// has moved on accumulate on the prio list as GC victim candidates.
type Pool struct {
	ID  int
	geo types.Geometry

	PhyAddrStart types.Addr
	PhyAddrEnd   types.Addr // exclusive

	mu          sync.Mutex
	free        []*Block
	prio        []*Block
	quarantined []*Block
	nrFree      int

	// gcMu serializes victim selection per pool.
	gcMu sync.Mutex

	// busy gates command submission when pool access is serialized.
	busy atomic.Bool
}

// NewPool builds a pool and its erased blocks. Block ids are global.
func NewPool(id int, geo types.Geometry) *Pool {
	p := &Pool{
		ID:           id,
		geo:          geo,
		PhyAddrStart: geo.BlockToAddr(id * geo.NrBlksPerPool),
	}
	p.PhyAddrEnd = p.PhyAddrStart + types.Addr(int64(geo.NrBlksPerPool)*int64(geo.HostPagesPerBlk()))
	p.free = make([]*Block, 0, geo.NrBlksPerPool)
	for i := 0; i < geo.NrBlksPerPool; i++ {
		p.free = append(p.free, NewBlock(id*geo.NrBlksPerPool+i, p))
	}
	p.nrFree = geo.NrBlksPerPool
	return p
}

// GCReserveBlocks is the number of free blocks per pool held back for
// collection. Relocation must always have a block to move live pages into.
const GCReserveBlocks = 1

// GetBlock pops the oldest free block. Host allocation stops at the
// collection reserve; only GC may drain the pool completely. It returns
// nil when no block is available to the caller.
func (p *Pool) GetBlock(isGC bool) *Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil
	}
	if !isGC && p.nrFree <= GCReserveBlocks {
		return nil
	}
	b := p.free[0]
	p.free = p.free[1:]
	p.nrFree--
	return b
}

// PutBlock returns an erased block to the tail of the free list.
func (p *Pool) PutBlock(b *Block) {
	b.Reset()
	p.mu.Lock()
	p.free = append(p.free, b)
	p.nrFree++
	p.mu.Unlock()
}

// AddPrio places a retired block on the victim candidate list.
func (p *Pool) AddPrio(b *Block) {
	p.mu.Lock()
	p.prio = append(p.prio, b)
	p.mu.Unlock()
}

// RemovePrio takes a block off the victim candidate list.
func (p *Pool) RemovePrio(b *Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.prio {
		if c == b {
			p.prio = append(p.prio[:i], p.prio[i+1:]...)
			return
		}
	}
}

// MaxInvalidPrio returns the candidate with the most stale pages, favoring
// the lower block id on ties. Candidates with no stale pages are skipped.
// The block stays on the list; the caller removes it once claimed.
func (p *Pool) MaxInvalidPrio() *Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best *Block
	bestInvalid := 0
	for _, b := range p.prio {
		n := b.NrInvalid()
		if n == 0 {
			continue
		}
		if best == nil || n > bestInvalid || (n == bestInvalid && b.ID < best.ID) {
			best = b
			bestInvalid = n
		}
	}
	return best
}

// Quarantine retires a block that failed to erase. It never returns to the
// free list.
func (p *Pool) Quarantine(b *Block) {
	p.mu.Lock()
	p.quarantined = append(p.quarantined, b)
	p.mu.Unlock()
}

// NrFree returns the free block count.
func (p *Pool) NrFree() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nrFree
}

// NrPrio returns the victim candidate count.
func (p *Pool) NrPrio() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prio)
}

// NrQuarantined returns the count of blocks retired after erase failure.
func (p *Pool) NrQuarantined() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.quarantined)
}

// BelowGCLimit reports whether the free count has dropped under the
// collection threshold of 1/GCLimitInverse of the pool.
func (p *Pool) BelowGCLimit() bool {
	return p.NrFree() < p.geo.NrBlksPerPool/types.GCLimitInverse
}

// Owns reports whether a physical address falls inside the pool.
func (p *Pool) Owns(addr types.Addr) bool {
	return addr >= p.PhyAddrStart && addr < p.PhyAddrEnd
}

// TryAcquire claims the pool's serialization gate. It reports false when a
// command is already in flight.
func (p *Pool) TryAcquire() bool { return p.busy.CompareAndSwap(false, true) }

// Release opens the serialization gate.
func (p *Pool) Release() { p.busy.Store(false) }

// Busy reports whether a command currently holds the gate.
func (p *Pool) Busy() bool { return p.busy.Load() }

// LockGC takes the per-pool victim selection lock.
func (p *Pool) LockGC() { p.gcMu.Lock() }

// UnlockGC drops the per-pool victim selection lock.
func (p *Pool) UnlockGC() { p.gcMu.Unlock() }
