package ftl

import (
	"time"

	"github.com/nvmlab/go-ftl/internal/types"
)

// APStatus is one append point's accounting snapshot.
type APStatus struct {
	ID      int
	Pool    int
	Reads   int64
	Writes  int64
	Delayed int64
	Wait    time.Duration
	Ino     uint64
}

// PoolStatus is one pool's block accounting snapshot.
type PoolStatus struct {
	ID          int
	Free        int
	Victims     int
	Quarantined int
}

// Status is a point-in-time snapshot of the engine.
type Status struct {
	Flags          types.TargetFlags
	APs            []APStatus
	Pools          []PoolStatus
	GCCycles       int64
	PagesRelocated int64
	PendingHints   int
	InflightRanges int
}

// Status samples the engine's counters.
func (e *Engine) Status() Status {
	s := Status{
		Flags:          e.flags,
		GCCycles:       e.gc.Cycles(),
		PagesRelocated: e.gc.Relocated(),
		PendingHints:   e.hints.Pending(),
		InflightRanges: e.inflight.Held(),
	}
	for _, ap := range e.store.APs() {
		s.APs = append(s.APs, APStatus{
			ID:      ap.ID,
			Pool:    ap.Pool.ID,
			Reads:   ap.IOReads.Load(),
			Writes:  ap.IOWrites.Load(),
			Delayed: ap.IODelayed.Load(),
			Wait:    time.Duration(ap.IOWait.Load()),
			Ino:     ap.Ino(),
		})
	}
	for _, p := range e.store.Pools() {
		s.Pools = append(s.Pools, PoolStatus{
			ID:          p.ID,
			Free:        p.NrFree(),
			Victims:     p.NrPrio(),
			Quarantined: p.NrQuarantined(),
		})
	}
	return s
}
