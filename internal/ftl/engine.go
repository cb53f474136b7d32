package ftl

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"go.uber.org/multierr"

	"github.com/nvmlab/go-ftl/internal/device"
	"github.com/nvmlab/go-ftl/internal/hints"
	"github.com/nvmlab/go-ftl/internal/mapping"
	"github.com/nvmlab/go-ftl/internal/store"
	"github.com/nvmlab/go-ftl/internal/types"
)

// Engine is one FTL target bound to a device. Submit is safe for
// concurrent use; overlapping ranges are ordered by the inflight lock.
type Engine struct {
	cfg      *types.Config
	flags    types.TargetFlags
	geo      types.Geometry
	dev      device.Device
	store    *store.Store
	table    *mapping.Table
	inflight *mapping.Inflight
	hints    *hints.Manager
	strategy Strategy
	gc       *Collector

	// gates serialize device access per pool when PoolSerialize is set.
	gates []chan struct{}

	closed atomic.Bool
	fatal  atomic.Pointer[error]
}

// New builds an engine over the device per the config. The background
// collector starts immediately.
func New(cfg *types.Config, dev device.Device) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to configure engine: %w", err)
	}
	flags, err := cfg.Flags()
	if err != nil {
		return nil, err
	}
	geo := cfg.Geometry()
	st, err := store.New(geo)
	if err != nil {
		return nil, fmt.Errorf("failed to build block store: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		flags:    flags,
		geo:      geo,
		dev:      dev,
		store:    st,
		table:    mapping.NewTable(geo, flags.Has(types.EngineLatency)),
		inflight: mapping.NewInflight(),
		hints:    hints.NewManager(),
	}
	e.gates = make([]chan struct{}, geo.NrPools)
	for i := range e.gates {
		e.gates[i] = make(chan struct{}, 1)
	}

	switch {
	case flags.Has(types.EnginePack):
		e.strategy = &packStrategy{}
	case flags.Has(types.EngineLatency):
		e.strategy = &latencyStrategy{}
	case flags.Has(types.EngineSwap):
		e.strategy = &swapStrategy{}
	default:
		e.strategy = &rrStrategy{}
	}
	if err := e.strategy.Init(e); err != nil {
		return nil, fmt.Errorf("failed to initialize placement strategy: %w", err)
	}

	e.gc = newCollector(e)
	st.SetRelease(e.gc.blockReleased)
	e.gc.Start()

	glog.V(1).Infof("engine up: %d pools, %d blocks/pool, %d pages/blk, %d aps/pool, flags %#x",
		geo.NrPools, geo.NrBlksPerPool, geo.NrPagesPerBlk, geo.NrApsPerPool, flags)
	return e, nil
}

// Submit runs one host request to completion. Read results land in
// r.Data.
func (e *Engine) Submit(ctx context.Context, r *Request) error {
	if e.closed.Load() {
		return fmt.Errorf("%w: engine closed", types.ErrTransient)
	}
	if p := e.fatal.Load(); p != nil {
		return *p
	}
	l, err := r.laddr(e.geo)
	if err != nil {
		return err
	}
	tag := e.inflight.Lock(l, 1)
	defer e.inflight.Unlock(tag)

	switch r.Op {
	case OpWrite:
		glog.V(2).Infof("write laddr %d req %s", l, r.ID)
		return e.strategy.Write(ctx, l, r.Data, nil)
	default:
		glog.V(2).Infof("read laddr %d req %s", l, r.ID)
		data, err := e.strategy.Read(ctx, l)
		if err != nil {
			return err
		}
		r.Data = data
		return nil
	}
}

// SubmitHint decodes and ingests one binary hint payload.
func (e *Engine) SubmitHint(payload []byte) error {
	var p types.HintPayload
	if err := p.UnmarshalBinary(payload); err != nil {
		return fmt.Errorf("%w: %v", types.ErrBadAddress, err)
	}
	return e.SubmitHintPayload(&p)
}

// SubmitHintPayload ingests a decoded hint payload.
func (e *Engine) SubmitHintPayload(p *types.HintPayload) error {
	if e.closed.Load() {
		return fmt.Errorf("%w: engine closed", types.ErrTransient)
	}
	if !e.flags.Has(types.EngineIoctl) {
		return fmt.Errorf("%w: target accepts no hints", types.ErrTransient)
	}
	e.hints.Submit(p)
	glog.V(1).Infof("hint ingested: lba %d count %d write %t ranges %d",
		p.LBA, p.SectorsCount, p.IsWrite, len(p.Hints))
	return nil
}

// Close stops the collector and releases the device.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	err = multierr.Append(err, e.gc.Stop())
	e.strategy.Exit()
	err = multierr.Append(err, e.dev.Close())
	return err
}

// fail latches a fatal condition; all later submissions return it.
func (e *Engine) fail(err error) {
	glog.Errorf("engine entering fatal state: %v", err)
	e.fatal.CompareAndSwap(nil, &err)
}

// acquirePool claims the pool's command slot when serialization is on and
// returns the release hook.
func (e *Engine) acquirePool(poolID int) func() {
	if !e.flags.Has(types.PoolSerialize) {
		return func() {}
	}
	gate := e.gates[poolID]
	gate <- struct{}{}
	p := e.store.Pool(poolID)
	p.TryAcquire()
	return func() {
		p.Release()
		<-gate
	}
}

// simulate busy-delays until the simulated service time of the command has
// elapsed, then accounts the command on its append point.
func (e *Engine) simulate(ap *store.AP, write bool, start time.Time, target time.Duration) {
	if ap == nil {
		return
	}
	if e.flags.Has(types.NoWaits) || target <= 0 {
		ap.Account(write, 0)
		return
	}
	rem := target - time.Since(start)
	if rem < types.MinBusyWait {
		ap.Account(write, 0)
		return
	}
	for time.Since(start) < target {
	}
	ap.Account(write, rem)
}

// writeTarget returns the simulated service time of a write to the page.
// With fast/slow pages enabled, fast pages finish in half the nominal time
// and slow pages take double.
func (e *Engine) writeTarget(p types.Addr) time.Duration {
	t := e.cfg.TWrite()
	if !e.flags.Has(types.FastSlowPages) {
		return t
	}
	if e.geo.PageIsFast(e.geo.PhysicalToSlot(p)) {
		return t / 2
	}
	return t * 2
}

// pickRR returns a pick that allocates from the next append point in
// global round-robin order. GC picks may drain the collection reserve.
func (e *Engine) pickRR(isGC bool) func() (types.Addr, *store.Block, *store.AP, bool) {
	return func() (types.Addr, *store.Block, *store.AP, bool) {
		ap := e.store.NextAP()
		p, b, ok := ap.AllocPage(isGC)
		return p, b, ap, ok
	}
}

// allocRetry drives an allocation pick with collection kicks between
// attempts. Exhausting the retries means no pool can yield a block.
func (e *Engine) allocRetry(pick func() (types.Addr, *store.Block, *store.AP, bool)) (types.Addr, *store.Block, *store.AP, error) {
	const attempts = 3
	for i := 0; ; i++ {
		p, b, ap, ok := pick()
		if ok {
			if e.store.PoolOf(p).BelowGCLimit() {
				e.gc.Kick()
			}
			return p, b, ap, nil
		}
		if i == attempts-1 {
			break
		}
		glog.V(1).Infof("allocation attempt %d failed, kicking collection", i+1)
		e.gc.Kick()
		time.Sleep(2 * time.Millisecond)
	}
	return types.AddrEmpty, nil, nil, fmt.Errorf("%w: no free block after %d attempts", types.ErrOutOfSpace, attempts)
}

// devWrite issues the device write for one host page. When several host
// pages share a flash page, pages buffer in the block until the flash page
// is complete and then flush together.
func (e *Engine) devWrite(ctx context.Context, b *store.Block, p types.Addr, data []byte) error {
	h := e.geo.HostPagesPerFlashPage
	if h == 1 {
		return e.dev.WritePage(ctx, p, data)
	}
	off := e.geo.PageOffset(p)
	if !b.BufferPage(off, data) {
		return nil
	}
	first := p - types.Addr(off%h)
	firstOff := off - off%h
	for i := 0; i < h; i++ {
		if err := e.dev.WritePage(ctx, first+types.Addr(i), b.BufferedPage(firstOff+i)); err != nil {
			return err
		}
	}
	return nil
}

// writePhys commits the translation and issues the device write for one
// placed page. Host writes map first and write second under the range
// lock; relocation writes the data first and commits conditionally so a
// racing host write wins.
func (e *Engine) writePhys(ctx context.Context, l, p types.Addr, b *store.Block, ap *store.AP, data []byte, flags types.MapFlags, gp *GCPrivate) error {
	if gp == nil {
		if err := e.table.Update(l, p, b, flags); err != nil {
			b.Put()
			return err
		}
	}
	release := e.acquirePool(e.geo.PoolOfAddr(p))
	start := time.Now()
	err := e.devWrite(ctx, b, p, data)
	release()
	if err != nil {
		b.Put()
		return fmt.Errorf("failed to write page %d: %w", p, err)
	}
	e.simulate(ap, true, start, e.writeTarget(p))
	if gp != nil {
		applied, uerr := e.table.UpdateIfCurrent(l, gp.OldP, p, b, flags)
		if uerr != nil {
			b.Put()
			return uerr
		}
		if !applied {
			b.Invalidate(e.geo.PageOffset(p))
			glog.V(2).Infof("relocation of laddr %d superseded, dropping page %d", l, p)
		}
	}
	b.Put()
	return nil
}

// readPhys fetches one mapped page, serving it from the block's open
// flash-page buffer when it has not flushed yet. The block reference taken
// at lookup is dropped here.
func (e *Engine) readPhys(ctx context.Context, p types.Addr, b *store.Block) ([]byte, error) {
	defer b.Put()
	ap := e.apFor(b, p)
	if e.geo.HostPagesPerFlashPage > 1 {
		if buf := b.BufferedPage(e.geo.PageOffset(p)); buf != nil {
			out := make([]byte, types.ExposedPageSize)
			copy(out, buf)
			if ap != nil {
				ap.Account(false, 0)
			}
			return out, nil
		}
	}
	release := e.acquirePool(e.geo.PoolOfAddr(p))
	start := time.Now()
	data, err := e.dev.ReadPage(ctx, p)
	release()
	if err != nil {
		return nil, fmt.Errorf("failed to read page %d: %w", p, err)
	}
	e.simulate(ap, false, start, e.cfg.TRead())
	return data, nil
}

// apFor picks the append point a device command is accounted on: the
// block's owner while open, the pool's first AP after retirement.
func (e *Engine) apFor(b *store.Block, p types.Addr) *store.AP {
	if ap := b.AP(); ap != nil {
		return ap
	}
	return e.store.PoolAPs(e.geo.PoolOfAddr(p))[0]
}
