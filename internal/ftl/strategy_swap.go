package ftl

import (
	"context"

	"github.com/golang/glog"

	"github.com/nvmlab/go-ftl/internal/store"
	"github.com/nvmlab/go-ftl/internal/types"
)

// swapStrategy steers hinted writes onto fast flash pages. Swap traffic is
// latency sensitive on the write side, so hinted pages probe the append
// points for one whose next page is fast; everything else round-robins.
type swapStrategy struct {
	baseStrategy
}

func (s *swapStrategy) Write(ctx context.Context, l types.Addr, data []byte, gp *GCPrivate) error {
	pick := s.e.pickRR(gp != nil)
	if gp == nil {
		if _, ok := s.e.hints.Find(l, true, types.EngineSwap); ok {
			glog.V(2).Infof("swap-hinted write laddr %d, probing for fast page", l)
			pick = s.pickFastest(false)
		}
	} else if s.e.geo.PageIsFast(s.e.geo.PhysicalToSlot(gp.OldP)) {
		// Relocated pages keep their placement where possible: a page that
		// earned a fast slot is steered to an append point offering one.
		pick = s.pickFastest(true)
	}
	p, b, ap, err := s.e.allocRetry(pick)
	if err != nil {
		return err
	}
	flags := types.MapPrimary
	if gp != nil {
		flags = gp.Flags
	}
	return s.e.writePhys(ctx, l, p, b, ap, data, flags, gp)
}

// pickFastest returns a pick that probes every append point once,
// round-robin, and takes the first whose next page is fast. When no AP
// offers a fast page the probe start wins, matching plain round-robin.
func (s *swapStrategy) pickFastest(isGC bool) func() (types.Addr, *store.Block, *store.AP, bool) {
	return func() (types.Addr, *store.Block, *store.AP, bool) {
		aps := s.e.store.APs()
		first := s.e.store.NextAP()
		if first.NextIsFast() {
			p, b, ok := first.AllocPage(isGC)
			return p, b, first, ok
		}
		for i := 1; i < len(aps); i++ {
			ap := aps[(first.ID+i)%len(aps)]
			if ap.NextIsFast() {
				p, b, ok := ap.AllocPage(isGC)
				if ok {
					return p, b, ap, true
				}
			}
		}
		p, b, ok := first.AllocPage(isGC)
		return p, b, first, ok
	}
}

func (s *swapStrategy) Read(ctx context.Context, l types.Addr) ([]byte, error) {
	p, b, err := s.e.table.LookupPrimary(l)
	if err != nil {
		return nil, err
	}
	if p == types.AddrEmpty {
		return make([]byte, types.ExposedPageSize), nil
	}
	return s.e.readPhys(ctx, p, b)
}
