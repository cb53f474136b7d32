// Package mapping maintains the logical-to-physical translation state and
// the inflight range locks that order overlapping host requests.
package mapping

import (
	"runtime"
	"sync"

	"github.com/nvmlab/go-ftl/internal/store"
	"github.com/nvmlab/go-ftl/internal/types"
)

// Entry is one logical slot of a translation table.
type Entry struct {
	PAddr types.Addr
	Block *store.Block
}

// Table is the translation state: a primary L to P map, a reverse P to L
// map for relocation, and an optional shadow map for duplicated writes.
// One lock covers all three so cross-table updates stay atomic.
type Table struct {
	mu      sync.Mutex
	primary []Entry
	shadow  []Entry
	reverse []types.Addr
	geo     types.Geometry
}

// NewTable builds an empty translation table. withShadow reserves the
// duplicate map used by latency-sensitive placement.
func NewTable(geo types.Geometry, withShadow bool) *Table {
	n := geo.TotalPages()
	t := &Table{geo: geo}
	t.primary = make([]Entry, n)
	t.reverse = make([]types.Addr, n)
	for i := range t.primary {
		t.primary[i] = Entry{PAddr: types.AddrEmpty}
		t.reverse[i] = types.AddrEmpty
	}
	if withShadow {
		t.shadow = make([]Entry, n)
		for i := range t.shadow {
			t.shadow[i] = Entry{PAddr: types.AddrEmpty}
		}
	}
	return t
}

// HasShadow reports whether the shadow map exists.
func (t *Table) HasShadow() bool { return t.shadow != nil }

// Update applies a translation change. For MapPrimary and MapShadow the
// logical slot is pointed at the new physical page and the displaced page,
// if any, is invalidated in its block with its reverse slot poisoned.
// MapTrimShadow invalidates and clears the shadow slot without a new page.
func (t *Table) Update(l, p types.Addr, b *store.Block, flags types.MapFlags) error {
	if l < 0 || int64(l) >= t.geo.TotalPages() {
		return types.Integrityf("map update for out-of-range logical address %d", l)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case flags.Has(types.MapPrimary):
		t.retire(t.primary[l])
		t.primary[l] = Entry{PAddr: p, Block: b}
		t.reverse[p] = l
	case flags.Has(types.MapShadow):
		if t.shadow == nil {
			return types.Integrityf("shadow map update without a shadow map")
		}
		t.retire(t.shadow[l])
		t.shadow[l] = Entry{PAddr: p, Block: b}
		t.reverse[p] = l
	case flags.Has(types.MapTrimShadow):
		if t.shadow == nil {
			return types.Integrityf("shadow map trim without a shadow map")
		}
		t.retire(t.shadow[l])
		t.shadow[l] = Entry{PAddr: types.AddrEmpty}
	default:
		return types.Integrityf("map update with no table selected, flags %#x", flags)
	}
	return nil
}

// UpdateIfCurrent applies a translation change only while the logical slot
// still points at oldP, and reports whether it applied. Relocation uses it
// to commit a moved page without clobbering a host write that remapped the
// slot mid-move.
func (t *Table) UpdateIfCurrent(l, oldP, p types.Addr, b *store.Block, flags types.MapFlags) (bool, error) {
	if l < 0 || int64(l) >= t.geo.TotalPages() {
		return false, types.Integrityf("map update for out-of-range logical address %d", l)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case flags.Has(types.MapPrimary):
		if t.primary[l].PAddr != oldP {
			return false, nil
		}
		t.retire(t.primary[l])
		t.primary[l] = Entry{PAddr: p, Block: b}
		t.reverse[p] = l
	case flags.Has(types.MapShadow):
		if t.shadow == nil {
			return false, types.Integrityf("shadow map update without a shadow map")
		}
		if t.shadow[l].PAddr != oldP {
			return false, nil
		}
		t.retire(t.shadow[l])
		t.shadow[l] = Entry{PAddr: p, Block: b}
		t.reverse[p] = l
	default:
		return false, types.Integrityf("conditional map update with no table selected, flags %#x", flags)
	}
	return true, nil
}

// retire invalidates the physical page behind a displaced entry. Caller
// holds t.mu.
func (t *Table) retire(e Entry) {
	if e.PAddr == types.AddrEmpty || e.Block == nil {
		return
	}
	if !e.Block.Invalidate(t.geo.PageOffset(e.PAddr)) {
		types.Integrityf("page %d invalidated twice", e.PAddr)
	}
	t.reverse[e.PAddr] = types.AddrPoison
}

// LookupPrimary resolves a logical address through the primary map. When
// the backing block is being collected the lookup waits for relocation to
// finish and retries, so the caller never reads a page mid-move. On a hit
// the block's reference count is raised; the caller must Put it after the
// device access completes.
func (t *Table) LookupPrimary(l types.Addr) (types.Addr, *store.Block, error) {
	return t.lookup(l, false)
}

// LookupShadow resolves a logical address through the shadow map with the
// same waiting and pinning rules as LookupPrimary.
func (t *Table) LookupShadow(l types.Addr) (types.Addr, *store.Block, error) {
	return t.lookup(l, true)
}

func (t *Table) lookup(l types.Addr, useShadow bool) (types.Addr, *store.Block, error) {
	if l < 0 || int64(l) >= t.geo.TotalPages() {
		return types.AddrEmpty, nil, types.Integrityf("lookup of out-of-range logical address %d", l)
	}
	for {
		t.mu.Lock()
		var e Entry
		if useShadow {
			if t.shadow == nil {
				t.mu.Unlock()
				return types.AddrEmpty, nil, types.Integrityf("shadow lookup without a shadow map")
			}
			e = t.shadow[l]
		} else {
			e = t.primary[l]
		}
		if e.PAddr == types.AddrEmpty {
			t.mu.Unlock()
			return types.AddrEmpty, nil, nil
		}
		if !e.Block.GCRunning() {
			e.Block.Take()
			t.mu.Unlock()
			return e.PAddr, e.Block, nil
		}
		t.mu.Unlock()
		runtime.Gosched()
	}
}

// Reverse returns the logical address mapped to a physical page, or
// AddrPoison when the page is stale, or AddrEmpty when never mapped.
func (t *Table) Reverse(p types.Addr) types.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reverse[p]
}

// PrimaryEntry returns the raw primary slot without waiting or pinning.
func (t *Table) PrimaryEntry(l types.Addr) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.primary[l]
}

// ShadowEntry returns the raw shadow slot without waiting or pinning.
func (t *Table) ShadowEntry(l types.Addr) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shadow == nil {
		return Entry{PAddr: types.AddrEmpty}
	}
	return t.shadow[l]
}

// Lock takes the table lock for a multi-step read of translation state.
func (t *Table) Lock() { t.mu.Lock() }

// Unlock releases the table lock.
func (t *Table) Unlock() { t.mu.Unlock() }

// ReverseLocked reads a reverse slot. Caller holds the table lock.
func (t *Table) ReverseLocked(p types.Addr) types.Addr { return t.reverse[p] }

// MappedTo reports which table, if any, maps the logical address to the
// physical page. Caller holds the table lock.
func (t *Table) MappedTo(l, p types.Addr) (primary, shadow bool) {
	primary = t.primary[l].PAddr == p
	if t.shadow != nil {
		shadow = t.shadow[l].PAddr == p
	}
	return primary, shadow
}

// Check verifies the forward and reverse maps agree. Every mapped slot
// must round-trip through the reverse map and every live reverse slot
// must point back at a slot mapping it. Only call while no requests or
// collection are in flight.
func (t *Table) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for l, e := range t.primary {
		if e.PAddr == types.AddrEmpty {
			continue
		}
		if t.reverse[e.PAddr] != types.Addr(l) {
			return types.Integrityf("primary slot %d maps page %d but reverse slot holds %d",
				l, e.PAddr, t.reverse[e.PAddr])
		}
	}
	for l, e := range t.shadow {
		if e.PAddr == types.AddrEmpty {
			continue
		}
		if t.reverse[e.PAddr] != types.Addr(l) {
			return types.Integrityf("shadow slot %d maps page %d but reverse slot holds %d",
				l, e.PAddr, t.reverse[e.PAddr])
		}
	}
	for p, l := range t.reverse {
		if l < 0 {
			continue
		}
		primary, shadow := t.MappedTo(l, types.Addr(p))
		if !primary && !shadow {
			return types.Integrityf("reverse slot %d claims logical %d but no table maps it", p, l)
		}
	}
	return nil
}
