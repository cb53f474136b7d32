package ftl

import (
	"context"

	"github.com/golang/glog"

	"github.com/nvmlab/go-ftl/internal/store"
	"github.com/nvmlab/go-ftl/internal/types"
)

// latencyStrategy duplicates hinted writes into a shadow mapping so a read
// can fall back to the copy in an idle pool when the primary's pool is
// busy. Unhinted overwrites drop the shadow copy to keep the duplicate
// from going stale.
type latencyStrategy struct {
	baseStrategy
}

func (s *latencyStrategy) Init(e *Engine) error {
	if err := s.baseStrategy.Init(e); err != nil {
		return err
	}
	if !e.table.HasShadow() {
		return types.Integrityf("latency placement requires a shadow map")
	}
	return nil
}

func (s *latencyStrategy) Write(ctx context.Context, l types.Addr, data []byte, gp *GCPrivate) error {
	if gp != nil {
		p, b, ap, err := s.e.allocRetry(s.e.pickRR(true))
		if err != nil {
			return err
		}
		return s.e.writePhys(ctx, l, p, b, ap, data, gp.Flags, gp)
	}

	_, hinted := s.e.hints.Find(l, true, types.EngineLatency)

	p, b, ap, err := s.e.allocRetry(s.e.pickRR(false))
	if err != nil {
		return err
	}
	if err := s.e.writePhys(ctx, l, p, b, ap, data, types.MapPrimary, nil); err != nil {
		return err
	}

	if !hinted {
		if s.e.table.ShadowEntry(l).PAddr != types.AddrEmpty {
			return s.e.table.Update(l, types.AddrEmpty, nil, types.MapTrimShadow)
		}
		return nil
	}

	glog.V(2).Infof("duplicating hinted write laddr %d into shadow map", l)
	sp, sb, sap, err := s.e.allocRetry(s.pickOtherPool(p))
	if err != nil {
		return err
	}
	return s.e.writePhys(ctx, l, sp, sb, sap, data, types.MapShadow, nil)
}

// pickOtherPool prefers an append point outside the primary copy's pool so
// the two copies never share a channel. With a single pool it degrades to
// plain round-robin.
func (s *latencyStrategy) pickOtherPool(primary types.Addr) func() (types.Addr, *store.Block, *store.AP, bool) {
	avoid := s.e.geo.PoolOfAddr(primary)
	return func() (types.Addr, *store.Block, *store.AP, bool) {
		aps := s.e.store.APs()
		first := s.e.store.NextAP()
		for i := 0; i < len(aps); i++ {
			ap := aps[(first.ID+i)%len(aps)]
			if ap.Pool.ID == avoid && s.e.geo.NrPools > 1 {
				continue
			}
			if p, b, ok := ap.AllocPage(false); ok {
				return p, b, ap, true
			}
		}
		return types.AddrEmpty, nil, nil, false
	}
}

func (s *latencyStrategy) Read(ctx context.Context, l types.Addr) ([]byte, error) {
	p, b, err := s.e.table.LookupPrimary(l)
	if err != nil {
		return nil, err
	}
	if p == types.AddrEmpty {
		return make([]byte, types.ExposedPageSize), nil
	}
	if s.e.store.PoolOf(p).Busy() {
		sp, sb, serr := s.e.table.LookupShadow(l)
		if serr == nil && sp != types.AddrEmpty {
			glog.V(2).Infof("read laddr %d redirected to shadow page %d", l, sp)
			b.Put()
			p, b = sp, sb
		}
	}
	return s.e.readPhys(ctx, p, b)
}
