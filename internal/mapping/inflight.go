package mapping

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nvmlab/go-ftl/internal/types"
)

type inflightRange struct {
	start types.Addr
	count int
	tag   uuid.UUID
}

// Inflight serializes overlapping logical address ranges. A request locks
// its range before translation and unlocks after completion, so two
// requests touching the same pages never interleave mid-update.
type Inflight struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ranges []inflightRange
}

// NewInflight returns an empty range lock set.
func NewInflight() *Inflight {
	f := &Inflight{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Lock blocks until no held range overlaps [start, start+count) and then
// claims it. The returned tag releases the claim.
func (f *Inflight) Lock(start types.Addr, count int) uuid.UUID {
	tag := uuid.New()
	f.mu.Lock()
	for f.overlaps(start, count) {
		f.cond.Wait()
	}
	f.ranges = append(f.ranges, inflightRange{start: start, count: count, tag: tag})
	f.mu.Unlock()
	return tag
}

// TryLock claims the range if it is free and reports whether it did.
func (f *Inflight) TryLock(start types.Addr, count int) (uuid.UUID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.overlaps(start, count) {
		return uuid.UUID{}, false
	}
	tag := uuid.New()
	f.ranges = append(f.ranges, inflightRange{start: start, count: count, tag: tag})
	return tag, true
}

// Unlock releases a claim and wakes waiters.
func (f *Inflight) Unlock(tag uuid.UUID) {
	f.mu.Lock()
	for i, r := range f.ranges {
		if r.tag == tag {
			f.ranges = append(f.ranges[:i], f.ranges[i+1:]...)
			break
		}
	}
	f.mu.Unlock()
	f.cond.Broadcast()
}

// Held returns the number of claimed ranges.
func (f *Inflight) Held() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ranges)
}

func (f *Inflight) overlaps(start types.Addr, count int) bool {
	end := start + types.Addr(count)
	for _, r := range f.ranges {
		if start < r.start+types.Addr(r.count) && r.start < end {
			return true
		}
	}
	return false
}
