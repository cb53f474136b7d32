package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nvmlab/go-ftl/internal/types"
)

// AP is an append point: a write cursor into one block of one pool. An AP
// always tries to keep a current block; when the block fills it is retired
// to the pool's victim candidate list and a fresh one is pulled from the
// free list.
type AP struct {
	ID   int
	Pool *Pool

	mu  sync.Mutex
	cur *Block

	// io accounting, sampled by the status surface.
	IOReads   atomic.Int64
	IOWrites  atomic.Int64
	IODelayed atomic.Int64
	IOWait    atomic.Int64 // nanoseconds spent in simulated service delays

	// Inode association for packed placement. Zero means unbound.
	ino     atomic.Uint64
	lastUse atomic.Int64 // unix nanoseconds of the last packed write
}

// Current returns the block the AP is writing into, nil when the pool ran
// dry at the last retirement.
func (ap *AP) Current() *Block {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return ap.cur
}

// SetCurrent installs a current block and tags it with the AP. It returns
// the displaced block.
func (ap *AP) SetCurrent(b *Block) *Block {
	ap.mu.Lock()
	old := ap.cur
	ap.cur = b
	ap.mu.Unlock()
	if old != nil {
		old.SetAP(nil)
	}
	if b != nil {
		b.SetAP(ap)
	}
	return old
}

// AllocPage claims the next host page through the AP. A full current block
// is retired to the pool's victim list and replaced from the free list;
// only GC allocation may pull from the pool's collection reserve.
// The returned block carries one reference for the caller. ok is false
// when no free block could be pulled; the retired block, if any, still
// lands on the victim list so collection can refill the pool.
func (ap *AP) AllocPage(isGC bool) (types.Addr, *Block, bool) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	for {
		if ap.cur == nil {
			nb := ap.Pool.GetBlock(isGC)
			if nb == nil {
				return types.AddrEmpty, nil, false
			}
			ap.cur = nb
			nb.SetAP(ap)
		}
		if p, ok := ap.cur.Alloc(); ok {
			ap.cur.Take()
			return p, ap.cur, true
		}
		old := ap.cur
		ap.cur = nil
		old.SetAP(nil)
		ap.Pool.AddPrio(old)
	}
}

// NextIsFast reports whether the AP's next allocation would land in a fast
// flash page.
func (ap *AP) NextIsFast() bool {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	if ap.cur == nil {
		return false
	}
	return ap.Pool.geo.PageIsFast(ap.cur.NextSlot())
}

// Ino returns the inode bound to the AP, or zero when unbound.
func (ap *AP) Ino() uint64 { return ap.ino.Load() }

// Bind associates the AP with an inode and stamps the use time.
func (ap *AP) Bind(ino uint64, now time.Time) {
	ap.ino.Store(ino)
	ap.lastUse.Store(now.UnixNano())
}

// Touch refreshes the association timestamp.
func (ap *AP) Touch(now time.Time) { ap.lastUse.Store(now.UnixNano()) }

// Unbind clears the inode association.
func (ap *AP) Unbind() { ap.ino.Store(0) }

// Stale reports whether the association has been idle longer than the
// given timeout.
func (ap *AP) Stale(now time.Time, timeout time.Duration) bool {
	if ap.ino.Load() == 0 {
		return false
	}
	return now.UnixNano()-ap.lastUse.Load() > int64(timeout)
}

// Account records one serviced command and its simulated delay.
func (ap *AP) Account(write bool, wait time.Duration) {
	if write {
		ap.IOWrites.Add(1)
	} else {
		ap.IOReads.Add(1)
	}
	if wait > 0 {
		ap.IODelayed.Add(1)
		ap.IOWait.Add(int64(wait))
	}
}
