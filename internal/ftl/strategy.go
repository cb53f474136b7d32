package ftl

import (
	"context"

	"github.com/nvmlab/go-ftl/internal/types"
)

// GCPrivate carries the relocation context of one moved page: where it
// lived, which table mapped it, and how to commit the move.
type GCPrivate struct {
	OldP  types.Addr
	Flags types.MapFlags
}

// Strategy decides where writes land and which copy serves a read. The set
// is closed: default round-robin, swap, latency and pack placement.
type Strategy interface {
	Init(e *Engine) error
	Exit()

	// Write places one host page. gp is nil for host writes and carries
	// the relocation context for collector writes.
	Write(ctx context.Context, l types.Addr, data []byte, gp *GCPrivate) error

	// Read resolves and fetches one host page. Unmapped pages read as
	// zeroes.
	Read(ctx context.Context, l types.Addr) ([]byte, error)

	// BeginGC builds the relocation context for a victim page, or nil
	// when the page went stale since selection.
	BeginGC(l, oldP types.Addr) *GCPrivate

	// EndGC releases the relocation context.
	EndGC(gp *GCPrivate)
}

// baseStrategy supplies the hooks shared by all placement strategies.
type baseStrategy struct {
	e *Engine
}

func (s *baseStrategy) Init(e *Engine) error { s.e = e; return nil }

func (s *baseStrategy) Exit() {}

func (s *baseStrategy) BeginGC(l, oldP types.Addr) *GCPrivate {
	t := s.e.table
	t.Lock()
	primary, shadow := t.MappedTo(l, oldP)
	t.Unlock()
	switch {
	case primary:
		return &GCPrivate{OldP: oldP, Flags: types.MapPrimary}
	case shadow:
		return &GCPrivate{OldP: oldP, Flags: types.MapShadow}
	default:
		return nil
	}
}

func (s *baseStrategy) EndGC(*GCPrivate) {}

// rrStrategy spreads writes round-robin over every append point.
type rrStrategy struct {
	baseStrategy
}

func (s *rrStrategy) Write(ctx context.Context, l types.Addr, data []byte, gp *GCPrivate) error {
	p, b, ap, err := s.e.allocRetry(s.e.pickRR(gp != nil))
	if err != nil {
		return err
	}
	flags := types.MapPrimary
	if gp != nil {
		flags = gp.Flags
	}
	return s.e.writePhys(ctx, l, p, b, ap, data, flags, gp)
}

func (s *rrStrategy) Read(ctx context.Context, l types.Addr) ([]byte, error) {
	p, b, err := s.e.table.LookupPrimary(l)
	if err != nil {
		return nil, err
	}
	if p == types.AddrEmpty {
		return make([]byte, types.ExposedPageSize), nil
	}
	return s.e.readPhys(ctx, p, b)
}
