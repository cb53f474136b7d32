// Package store owns the physical state of the managed flash: blocks with
// their invalid-page accounting, per-channel pools with free and victim
// lists, and the append points that cursor new writes into blocks.
package store

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/nvmlab/go-ftl/internal/types"
)

// ReleaseFunc runs when the last reference to a GC-claimed block is dropped.
type ReleaseFunc func(b *Block)

// Block is one erase unit. Pages are claimed strictly in order through
// Alloc; invalidation flips bits in the invalid bitmap until the block
// becomes a GC victim.
type Block struct {
	ID   int
	Pool *Pool

	mu         sync.Mutex
	nextPage   int // next flash page slot to claim
	nextOffset int // host pages handed out inside the current flash page
	nrInvalid  int
	invalid    []uint64 // one bit per host page

	// data buffers host pages of a partially filled flash page until the
	// flash page is complete and can be committed in one device write.
	data     [][]byte
	dataSize atomic.Int32
	dataCmnt atomic.Int32

	ap atomic.Pointer[AP]

	gcRunning atomic.Bool
	refs      atomic.Int32
	onRelease ReleaseFunc
}

// NewBlock returns a block in the erased state.
func NewBlock(id int, pool *Pool) *Block {
	b := &Block{ID: id, Pool: pool}
	b.invalid = make([]uint64, (pool.geo.HostPagesPerBlk()+63)/64)
	if pool.geo.HostPagesPerFlashPage > 1 {
		b.data = make([][]byte, pool.geo.HostPagesPerFlashPage)
	}
	b.refs.Store(1)
	return b
}

// Reset returns the block to the erased state and re-arms its reference
// count. Called after a successful erase.
func (b *Block) Reset() {
	b.mu.Lock()
	b.nextPage = 0
	b.nextOffset = 0
	b.nrInvalid = 0
	for i := range b.invalid {
		b.invalid[i] = 0
	}
	for i := range b.data {
		b.data[i] = nil
	}
	b.mu.Unlock()
	b.dataSize.Store(0)
	b.dataCmnt.Store(0)
	b.ap.Store(nil)
	b.gcRunning.Store(false)
	b.refs.Store(1)
}

// Alloc claims the next host page of the block. It returns the physical
// address and false when the block is full.
func (b *Block) Alloc() (types.Addr, bool) {
	geo := b.Pool.geo
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nextPage >= geo.NrPagesPerBlk {
		return types.AddrEmpty, false
	}
	p := geo.BlockToAddr(b.ID) +
		types.Addr(b.nextPage*geo.HostPagesPerFlashPage+b.nextOffset)
	b.nextOffset++
	if b.nextOffset == geo.HostPagesPerFlashPage {
		b.nextOffset = 0
		b.nextPage++
	}
	return p, true
}

// NextSlot returns the flash page slot the next Alloc would land in.
func (b *Block) NextSlot() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextPage
}

// Full reports whether every host page of the block has been claimed.
func (b *Block) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextPage >= b.Pool.geo.NrPagesPerBlk && b.nextOffset == 0
}

// Invalidate marks the host page at the given in-block offset stale.
// It reports whether the bit was newly set.
func (b *Block) Invalidate(offset int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	word, bit := offset/64, uint(offset%64)
	if b.invalid[word]&(1<<bit) != 0 {
		return false
	}
	b.invalid[word] |= 1 << bit
	b.nrInvalid++
	return true
}

// PageInvalid reports whether the host page at the offset is stale.
func (b *Block) PageInvalid(offset int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.invalid[offset/64]&(1<<uint(offset%64)) != 0
}

// NrInvalid returns the stale-page count.
func (b *Block) NrInvalid() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nrInvalid
}

// CountInvalid recomputes the stale-page count from the bitmap.
func (b *Block) CountInvalid() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, w := range b.invalid {
		n += bits.OnesCount64(w)
	}
	return n
}

// AP returns the append point currently writing into the block, if any.
func (b *Block) AP() *AP { return b.ap.Load() }

// SetAP records the append point that owns the block.
func (b *Block) SetAP(ap *AP) { b.ap.Store(ap) }

// GCRunning reports whether the block has been claimed as a GC victim.
func (b *Block) GCRunning() bool { return b.gcRunning.Load() }

// ClaimGC atomically claims the block for garbage collection. It reports
// false when another collector already holds the block.
func (b *Block) ClaimGC() bool { return b.gcRunning.CompareAndSwap(false, true) }

// ReleaseGC clears the GC claim, used when collection is abandoned.
func (b *Block) ReleaseGC() { b.gcRunning.Store(false) }

// Take adds a reference to the block, pinning it against erase.
func (b *Block) Take() { b.refs.Add(1) }

// Put drops one reference. When the count reaches zero the release hook
// fires exactly once.
func (b *Block) Put() {
	if b.refs.Add(-1) == 0 {
		if f := b.onRelease; f != nil {
			f(b)
		}
	}
}

// Refs returns the current reference count.
func (b *Block) Refs() int32 { return b.refs.Load() }

// SetRelease installs the zero-reference hook.
func (b *Block) SetRelease(f ReleaseFunc) { b.onRelease = f }

// BufferPage stashes one host page of a partially filled flash page and
// reports whether the flash page is now complete. Only meaningful when the
// geometry packs several host pages into one flash page.
func (b *Block) BufferPage(off int, data []byte) bool {
	b.mu.Lock()
	b.data[off%b.Pool.geo.HostPagesPerFlashPage] = data
	b.mu.Unlock()
	return int(b.dataSize.Add(1))%b.Pool.geo.HostPagesPerFlashPage == 0
}

// BufferedPage returns the stashed contents for an in-flash-page offset, or
// nil if nothing is buffered there.
func (b *Block) BufferedPage(off int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil
	}
	return b.data[off%b.Pool.geo.HostPagesPerFlashPage]
}
