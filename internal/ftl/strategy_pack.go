package ftl

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/nvmlab/go-ftl/internal/hints"
	"github.com/nvmlab/go-ftl/internal/store"
	"github.com/nvmlab/go-ftl/internal/types"
)

// packStrategy groups the writes of one inode onto a dedicated append
// point, so a file's pages land contiguously and erase together. The last
// append point of each pool is reserved for packing; unhinted traffic
// round-robins over the rest. An inode binding expires after
// APDisassociateTime of silence.
type packStrategy struct {
	baseStrategy
	packAPs []*store.AP
	restAPs []*store.AP
}

func (s *packStrategy) Init(e *Engine) error {
	if err := s.baseStrategy.Init(e); err != nil {
		return err
	}
	if e.geo.NrApsPerPool < 2 {
		glog.Warning("packed placement without spare append points, all traffic shares the pack APs")
	}
	for _, ap := range e.store.APs() {
		if e.geo.NrApsPerPool >= 2 && ap.ID%e.geo.NrApsPerPool == e.geo.NrApsPerPool-1 {
			s.packAPs = append(s.packAPs, ap)
		} else {
			s.restAPs = append(s.restAPs, ap)
		}
	}
	if len(s.packAPs) == 0 {
		s.packAPs = s.restAPs
	}
	return nil
}

func (s *packStrategy) Write(ctx context.Context, l types.Addr, data []byte, gp *GCPrivate) error {
	pick := s.pickRest(gp != nil)
	if gp == nil {
		if h, ok := s.e.hints.Find(l, true, types.EnginePack); ok && h.Ino != 0 {
			if h.Class == types.ClassEmpty || h.Class == types.ClassUnknown {
				if c := hints.Classify(data); c != types.ClassUnknown {
					s.e.hints.Learn(h.Ino, c)
				}
			}
			if ap := s.apForIno(h.Ino); ap != nil {
				glog.V(2).Infof("packing laddr %d onto ap %d for ino %d", l, ap.ID, h.Ino)
				pick = func() (types.Addr, *store.Block, *store.AP, bool) {
					p, b, ok := ap.AllocPage(false)
					if ok {
						ap.Touch(time.Now())
					}
					return p, b, ap, ok
				}
			}
		}
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

// pickRest returns a pick that round-robins over the append points not
// reserved for packing.
func (s *packStrategy) pickRest(isGC bool) func() (types.Addr, *store.Block, *store.AP, bool) {
	return func() (types.Addr, *store.Block, *store.AP, bool) {
		first := s.e.store.NextAP()
		for i := 0; i < len(s.restAPs); i++ {
			ap := s.restAPs[(first.ID+i)%len(s.restAPs)]
			if p, b, ok := ap.AllocPage(isGC); ok {
				return p, b, ap, true
			}
		}
		return types.AddrEmpty, nil, nil, false
	}
}

// apForIno returns the pack AP bound to the inode, binding a free or
// expired one on a miss. Expired bindings are dropped on the way through.
func (s *packStrategy) apForIno(ino uint64) *store.AP {
	now := time.Now()
	var spare *store.AP
	for _, ap := range s.packAPs {
		if ap.Stale(now, types.APDisassociateTime) {
			glog.V(1).Infof("pack ap %d disassociated from ino %d", ap.ID, ap.Ino())
			ap.Unbind()
		}
		switch {
		case ap.Ino() == ino:
			return ap
		case ap.Ino() == 0 && spare == nil:
			spare = ap
		}
	}
	if spare != nil {
		spare.Bind(ino, now)
		glog.V(1).Infof("pack ap %d bound to ino %d", spare.ID, ino)
	}
	return spare
}

func (s *packStrategy) Read(ctx context.Context, l types.Addr) ([]byte, error) {
	p, b, err := s.e.table.LookupPrimary(l)
	if err != nil {
		return nil, err
	}
	if p == types.AddrEmpty {
		return make([]byte, types.ExposedPageSize), nil
	}
	return s.e.readPhys(ctx, p, b)
}
