package ftl

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/nvmlab/go-ftl/internal/store"
	"github.com/nvmlab/go-ftl/internal/types"
)

// Collector reclaims blocks in the background. A timer sweep and explicit
// kicks select victims; reclamation waits for a victim's references to
// drain, relocates its live pages through the normal write path, erases
// it, and returns it to the free list.
type Collector struct {
	e      *Engine
	cancel context.CancelFunc
	group  *errgroup.Group

	kick chan struct{}
	work chan *store.Block

	cycles    atomic.Int64
	relocated atomic.Int64
}

func newCollector(e *Engine) *Collector {
	return &Collector{
		e:    e,
		kick: make(chan struct{}, 1),
		work: make(chan *store.Block, e.geo.NrBlocks()),
	}
}

// Start launches the sweep and reclamation loops.
func (c *Collector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	c.cancel = cancel
	c.group = group
	group.Go(func() error { return c.sweepLoop(ctx) })
	group.Go(func() error { return c.reclaimLoop(ctx) })
}

// Stop cancels both loops and waits them out.
func (c *Collector) Stop() error {
	c.cancel()
	if err := c.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Kick requests an immediate sweep of every pool.
func (c *Collector) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Cycles returns the number of blocks reclaimed so far.
func (c *Collector) Cycles() int64 { return c.cycles.Load() }

// Relocated returns the number of live pages moved so far.
func (c *Collector) Relocated() int64 { return c.relocated.Load() }

// blockReleased is the zero-reference hook: a claimed victim whose
// references drained is ready for relocation.
func (c *Collector) blockReleased(b *store.Block) {
	if !b.GCRunning() {
		return
	}
	c.work <- b
}

func (c *Collector) sweepLoop(ctx context.Context) error {
	t := time.NewTicker(c.e.cfg.GCTime())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.sweep(false)
		case <-c.kick:
			c.sweep(true)
		}
	}
}

// sweep selects victims. The timer sweep only touches pools under the
// free-block threshold; a kicked sweep tries every pool.
func (c *Collector) sweep(force bool) {
	for _, p := range c.e.store.Pools() {
		if !force && !p.BelowGCLimit() {
			continue
		}
		c.collectPool(p)
	}
}

// collectPool claims the pool's best victim and drops its construction
// reference. The reclaim loop takes over once all remaining references
// drain.
func (c *Collector) collectPool(p *store.Pool) {
	p.LockGC()
	victim := p.MaxInvalidPrio()
	if victim == nil {
		p.UnlockGC()
		return
	}
	if !victim.Full() {
		p.UnlockGC()
		types.Integrityf("victim block %d selected while not full", victim.ID)
		return
	}
	if !victim.ClaimGC() {
		p.UnlockGC()
		return
	}
	p.RemovePrio(victim)
	p.UnlockGC()
	glog.V(1).Infof("pool %d: block %d claimed for collection, %d invalid pages",
		p.ID, victim.ID, victim.NrInvalid())
	victim.Put()
}

func (c *Collector) reclaimLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-c.work:
			if err := c.reclaim(ctx, b); err != nil {
				glog.Errorf("reclaim of block %d failed: %v", b.ID, err)
			}
		}
	}
}

// reclaim moves the victim's live pages, erases it, and recycles it. A
// read failure abandons the attempt and requeues the block as a victim
// candidate; an erase failure quarantines it.
func (c *Collector) reclaim(ctx context.Context, b *store.Block) error {
	if err := c.relocate(ctx, b); err != nil {
		b.Take()
		b.ReleaseGC()
		b.Pool.AddPrio(b)
		return err
	}

	release := c.e.acquirePool(b.Pool.ID)
	start := time.Now()
	err := c.e.dev.EraseBlock(ctx, b.ID)
	release()
	if err != nil {
		glog.Errorf("erase of block %d failed, quarantining: %v", b.ID, err)
		b.Pool.Quarantine(b)
		return nil
	}
	c.e.simulate(c.e.store.PoolAPs(b.Pool.ID)[0], true, start, c.e.cfg.TErase())

	b.Pool.PutBlock(b)
	c.cycles.Add(1)
	glog.V(1).Infof("block %d erased and recycled, pool %d now has %d free",
		b.ID, b.Pool.ID, b.Pool.NrFree())
	return nil
}

// relocate rewrites every live page of the victim through the placement
// strategy. A host write that remaps a page mid-move wins; the
// conditional map commit drops the stale copy.
func (c *Collector) relocate(ctx context.Context, b *store.Block) error {
	geo := c.e.geo
	base := geo.BlockToAddr(b.ID)
	for off := 0; off < geo.HostPagesPerBlk(); off++ {
		if b.PageInvalid(off) {
			continue
		}
		p := base + types.Addr(off)
		l := c.e.table.Reverse(p)
		if l < 0 {
			continue
		}
		gp := c.e.strategy.BeginGC(l, p)
		if gp == nil {
			continue
		}
		data, err := c.readVictimPage(ctx, p, b)
		if err != nil {
			c.e.strategy.EndGC(gp)
			return fmt.Errorf("failed to read live page %d: %w", p, err)
		}
		err = c.e.strategy.Write(ctx, l, data, gp)
		c.e.strategy.EndGC(gp)
		if err != nil {
			if errors.Is(err, types.ErrOutOfSpace) {
				c.e.fail(fmt.Errorf("%w: collection cannot relocate page %d", types.ErrOutOfSpace, p))
			}
			return fmt.Errorf("failed to relocate page %d: %w", p, err)
		}
		c.relocated.Add(1)
	}
	return nil
}

// readVictimPage reads a live page of a claimed victim. The victim holds
// no references, so the usual lookup pinning does not apply.
func (c *Collector) readVictimPage(ctx context.Context, p types.Addr, b *store.Block) ([]byte, error) {
	if c.e.geo.HostPagesPerFlashPage > 1 {
		if buf := b.BufferedPage(c.e.geo.PageOffset(p)); buf != nil {
			out := make([]byte, types.ExposedPageSize)
			copy(out, buf)
			return out, nil
		}
	}
	release := c.e.acquirePool(b.Pool.ID)
	start := time.Now()
	data, err := c.e.dev.ReadPage(ctx, p)
	release()
	if err != nil {
		return nil, err
	}
	c.e.simulate(c.e.store.PoolAPs(b.Pool.ID)[0], false, start, c.e.cfg.TRead())
	return data, nil
}
